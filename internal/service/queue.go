package service

import (
	"context"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/advisory-platform/advisory-server/internal/models"
	"github.com/advisory-platform/advisory-server/internal/realtime"
	"github.com/advisory-platform/advisory-server/internal/repository"
)

// QueueService defines the package-generation queue operations
type QueueService interface {
	Enqueue(ctx context.Context, ownerID string, req models.EnqueuePackageRequest) (*models.QueueEntry, error)
	TransitionStatus(ctx context.Context, ownerID, entryID string, newStatus models.QueueStatus) (*models.QueueEntry, error)
	ListActive(ctx context.Context, ownerID string) ([]models.ActiveQueueEntry, error)
	PurgeCompleted(ctx context.Context, ownerID, reportID string) (int64, error)
}

// DefaultQueueService implements QueueService
type DefaultQueueService struct {
	repo                    repository.Repository
	hub                     *realtime.Hub
	notifier                Notifier
	defaultEstimatedMinutes int
}

// NewDefaultQueueService creates a new DefaultQueueService
func NewDefaultQueueService(repo repository.Repository, hub *realtime.Hub, notifier Notifier, defaultEstimatedMinutes int) *DefaultQueueService {
	if defaultEstimatedMinutes <= 0 {
		defaultEstimatedMinutes = 10
	}
	return &DefaultQueueService{
		repo:                    repo,
		hub:                     hub,
		notifier:                notifier,
		defaultEstimatedMinutes: defaultEstimatedMinutes,
	}
}

// Enqueue inserts a queued entry with an estimated completion of
// now + estimatedMinutes. Credit gating is the caller's job; the queue
// itself never touches the ledger.
func (s *DefaultQueueService) Enqueue(ctx context.Context, ownerID string, req models.EnqueuePackageRequest) (*models.QueueEntry, error) {
	if ownerID == "" {
		return nil, models.ErrNotAuthenticated
	}
	if req.ReportID == "" || req.PackageName == "" {
		return nil, fmt.Errorf("reportId and packageName are required")
	}

	minutes := req.EstimatedMinutes
	if minutes <= 0 {
		minutes = s.defaultEstimatedMinutes
	}

	now := time.Now().UTC()
	entry := &models.QueueEntry{
		OwnerID:             ownerID,
		ReportID:            req.ReportID,
		PackageName:         req.PackageName,
		DocumentIDs:         pq.StringArray(req.DocumentIDs),
		Status:              models.StatusQueued,
		EstimatedCompletion: now.Add(time.Duration(minutes) * time.Minute),
		RequestedAt:         now,
	}

	if err := s.repo.CreateQueueEntry(ctx, entry); err != nil {
		return nil, fmt.Errorf("error creating queue entry: %w", err)
	}

	s.hub.Publish(realtime.Event{
		Table:   realtime.TableQueue,
		Action:  realtime.ActionInsert,
		OwnerID: ownerID,
		Record:  entry,
	})

	return entry, nil
}

// TransitionStatus moves an entry forward through the status machine.
// This is the contract the external generation worker calls. A non-empty
// ownerID scopes the lookup; an entry belonging to someone else reads as
// not found. Completed and failed transitions also raise a notification
// for the owner.
func (s *DefaultQueueService) TransitionStatus(ctx context.Context, ownerID, entryID string, newStatus models.QueueStatus) (*models.QueueEntry, error) {
	if !newStatus.Valid() {
		return nil, fmt.Errorf("unknown status %q", newStatus)
	}
	if ownerID != "" {
		existing, err := s.repo.GetQueueEntry(ctx, entryID)
		if err != nil {
			return nil, fmt.Errorf("error getting queue entry: %w", err)
		}
		if existing == nil || existing.OwnerID != ownerID {
			return nil, models.ErrNotFound
		}
	}

	entry, err := s.repo.TransitionQueueStatus(ctx, entryID, newStatus)
	if err != nil {
		// The repository returns the current entry alongside
		// ErrInvalidTransition so callers can re-sync their view.
		return entry, err
	}

	s.hub.Publish(realtime.Event{
		Table:   realtime.TableQueue,
		Action:  realtime.ActionUpdate,
		OwnerID: entry.OwnerID,
		Record:  entry,
	})

	if s.notifier != nil {
		switch newStatus {
		case models.StatusCompleted:
			s.notifier.Notify(ctx, entry.OwnerID, "Package ready",
				fmt.Sprintf("Your package %q is ready to download.", entry.PackageName),
				models.NotificationSuccess)
		case models.StatusFailed:
			s.notifier.Notify(ctx, entry.OwnerID, "Package generation failed",
				fmt.Sprintf("Generating %q did not finish. Please try again.", entry.PackageName),
				models.NotificationError)
		}
	}

	return entry, nil
}

// ListActive returns queued and processing entries newest first, each
// paired with its current display countdown.
func (s *DefaultQueueService) ListActive(ctx context.Context, ownerID string) ([]models.ActiveQueueEntry, error) {
	if ownerID == "" {
		return nil, models.ErrNotAuthenticated
	}

	entries, err := s.repo.ListActiveQueueEntries(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("error listing active entries: %w", err)
	}

	now := time.Now().UTC()
	active := make([]models.ActiveQueueEntry, 0, len(entries))
	for _, entry := range entries {
		active = append(active, models.ActiveQueueEntry{
			QueueEntry:       entry,
			RemainingSeconds: entry.RemainingSeconds(now),
		})
	}

	return active, nil
}

// PurgeCompleted removes completed entries for a report and publishes a
// delete event per removed entry. Idempotent.
func (s *DefaultQueueService) PurgeCompleted(ctx context.Context, ownerID, reportID string) (int64, error) {
	if ownerID == "" {
		return 0, models.ErrNotAuthenticated
	}

	ids, err := s.repo.PurgeCompleted(ctx, ownerID, reportID)
	if err != nil {
		return 0, fmt.Errorf("error purging completed entries: %w", err)
	}

	for _, id := range ids {
		s.hub.Publish(realtime.Event{
			Table:   realtime.TableQueue,
			Action:  realtime.ActionDelete,
			OwnerID: ownerID,
			Record:  realtime.DeletedRecord{ID: id},
		})
	}

	return int64(len(ids)), nil
}
