// Package janitor runs scheduled maintenance sweeps over the package
// queue.
package janitor

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/advisory-platform/advisory-server/internal/repository"
)

// Janitor periodically deletes completed queue entries older than the
// retention window. Clients that still care about a completed entry
// have long since seen its terminal status event.
type Janitor struct {
	repo      repository.Repository
	logger    zerolog.Logger
	schedule  string
	retention time.Duration
	cron      *cron.Cron
}

// New creates a janitor with a cron schedule expression such as
// "@hourly" or "0 3 * * *".
func New(repo repository.Repository, logger zerolog.Logger, schedule string, retention time.Duration) *Janitor {
	return &Janitor{
		repo:      repo,
		logger:    logger,
		schedule:  schedule,
		retention: retention,
		cron:      cron.New(),
	}
}

// Start registers the sweep and begins the scheduler
func (j *Janitor) Start() error {
	if _, err := j.cron.AddFunc(j.schedule, j.sweep); err != nil {
		return err
	}
	j.cron.Start()
	j.logger.Info().Str("schedule", j.schedule).Dur("retention", j.retention).Msg("janitor started")
	return nil
}

// Stop halts the scheduler and waits for a running sweep to finish
func (j *Janitor) Stop() {
	ctx := j.cron.Stop()
	<-ctx.Done()
}

func (j *Janitor) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	cutoff := time.Now().UTC().Add(-j.retention)
	purged, err := j.repo.PurgeCompletedBefore(ctx, cutoff)
	if err != nil {
		j.logger.Error().Err(err).Msg("janitor sweep failed")
		return
	}
	if purged > 0 {
		j.logger.Info().Int64("purged", purged).Time("cutoff", cutoff).Msg("swept completed queue entries")
	}
}
