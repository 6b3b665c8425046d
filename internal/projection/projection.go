// Package projection maintains a client-held mirror of one owner's
// server state: credit balances, active queue entries, and
// notifications. The mirror is disposable; it is rebuilt from a full
// fetch whenever the change feed cannot be trusted to be gapless.
package projection

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/advisory-platform/advisory-server/internal/models"
	"github.com/advisory-platform/advisory-server/internal/realtime"
)

// Fetcher loads the authoritative current state for the owner. The hub
// only delivers increments; anything missed must come from here.
type Fetcher interface {
	FetchBalance(ctx context.Context) (*models.CreditBalance, error)
	FetchActiveQueue(ctx context.Context) ([]models.QueueEntry, error)
	FetchNotifications(ctx context.Context) ([]models.Notification, error)
}

// Projection mirrors one owner's state. All accessors are safe for
// concurrent use with the event loop.
type Projection struct {
	ownerID string
	fetcher Fetcher
	hub     *realtime.Hub
	logger  zerolog.Logger

	mu            sync.RWMutex
	balance       models.CreditBalance
	activeQueue   []models.QueueEntry
	notifications []models.Notification

	subMu sync.Mutex
	sub   *realtime.Subscription
	done  chan struct{}
	once  sync.Once
}

// New creates a projection for the owner. Call Start to populate it and
// begin applying change events.
func New(ownerID string, fetcher Fetcher, hub *realtime.Hub, logger zerolog.Logger) *Projection {
	return &Projection{
		ownerID: ownerID,
		fetcher: fetcher,
		hub:     hub,
		logger:  logger,
		done:    make(chan struct{}),
	}
}

// Start subscribes to the change feed, performs the initial full fetch,
// and launches the event loop. Subscribing before fetching means events
// that commit during the fetch are applied on top of it, not lost.
func (p *Projection) Start(ctx context.Context) error {
	sub := p.hub.Subscribe(p.ownerID)
	p.subMu.Lock()
	p.sub = sub
	p.subMu.Unlock()

	if err := p.Refresh(ctx); err != nil {
		p.hub.Unsubscribe(sub)
		return err
	}

	go p.loop(ctx)
	return nil
}

// Stop tears the projection down. Idempotent; pending events are
// discarded and the countdown owner is expected to stop its own ticker.
func (p *Projection) Stop() {
	p.once.Do(func() {
		close(p.done)
		p.subMu.Lock()
		sub := p.sub
		p.subMu.Unlock()
		if sub != nil {
			p.hub.Unsubscribe(sub)
		}
	})
}

// Refresh replaces the whole mirror with freshly fetched state
func (p *Projection) Refresh(ctx context.Context) error {
	balance, err := p.fetcher.FetchBalance(ctx)
	if err != nil {
		return err
	}
	queue, err := p.fetcher.FetchActiveQueue(ctx)
	if err != nil {
		return err
	}
	notifications, err := p.fetcher.FetchNotifications(ctx)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.balance = *balance
	p.activeQueue = queue
	p.notifications = notifications
	return nil
}

func (p *Projection) loop(ctx context.Context) {
	for {
		sub := p.subscription()
		select {
		case <-p.done:
			return
		case <-ctx.Done():
			p.Stop()
			return
		case event, ok := <-sub.C:
			if !ok {
				if !sub.Dropped() {
					return // clean Stop
				}
				// The hub dropped us; the gap is unknowable, so
				// resubscribe and rebuild instead of guessing.
				p.logger.Warn().Str("ownerId", p.ownerID).Msg("change feed gap, refetching")
				if !p.resubscribe(ctx) {
					return
				}
				continue
			}
			p.Apply(event)
		}
	}
}

func (p *Projection) subscription() *realtime.Subscription {
	p.subMu.Lock()
	defer p.subMu.Unlock()
	return p.sub
}

// resubscribe opens a fresh subscription and refetches over it. Returns
// false when the projection was stopped in the meantime.
func (p *Projection) resubscribe(ctx context.Context) bool {
	sub := p.hub.Subscribe(p.ownerID)

	p.subMu.Lock()
	select {
	case <-p.done:
		p.subMu.Unlock()
		p.hub.Unsubscribe(sub)
		return false
	default:
	}
	p.sub = sub
	p.subMu.Unlock()

	// Events that commit during the fetch queue up on the new
	// subscription and are applied on top of it.
	if err := p.Refresh(ctx); err != nil {
		p.logger.Error().Err(err).Msg("projection refresh failed")
	}
	return true
}

// Apply merges one change event into the mirror using the entity id as
// the merge key.
func (p *Projection) Apply(event realtime.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch event.Table {
	case realtime.TableNotifications:
		p.applyNotification(event)
	case realtime.TableQueue:
		p.applyQueue(event)
	case realtime.TableTransactions:
		p.applyTransaction(event)
	}
}

func (p *Projection) applyNotification(event realtime.Event) {
	switch event.Action {
	case realtime.ActionInsert:
		if n, ok := notificationRecord(event.Record); ok {
			p.notifications = append([]models.Notification{n}, p.notifications...)
		}
	case realtime.ActionUpdate:
		if n, ok := notificationRecord(event.Record); ok {
			for i := range p.notifications {
				if p.notifications[i].ID == n.ID {
					p.notifications[i] = n
					return
				}
			}
			// Unknown id: the row predates our fetch window, ignore.
		}
	case realtime.ActionDelete:
		if id, ok := deletedID(event.Record); ok {
			for i := range p.notifications {
				if p.notifications[i].ID == id {
					p.notifications = append(p.notifications[:i], p.notifications[i+1:]...)
					return
				}
			}
		}
	}
}

func (p *Projection) applyQueue(event realtime.Event) {
	switch event.Action {
	case realtime.ActionInsert:
		if e, ok := queueRecord(event.Record); ok {
			p.activeQueue = append([]models.QueueEntry{e}, p.activeQueue...)
		}
	case realtime.ActionUpdate:
		if e, ok := queueRecord(event.Record); ok {
			for i := range p.activeQueue {
				if p.activeQueue[i].ID == e.ID {
					if e.Status.Terminal() {
						p.activeQueue = append(p.activeQueue[:i], p.activeQueue[i+1:]...)
					} else {
						p.activeQueue[i] = e
					}
					return
				}
			}
		}
	case realtime.ActionDelete:
		if id, ok := deletedID(event.Record); ok {
			for i := range p.activeQueue {
				if p.activeQueue[i].ID == id {
					p.activeQueue = append(p.activeQueue[:i], p.activeQueue[i+1:]...)
					return
				}
			}
		}
	}
}

func (p *Projection) applyTransaction(event realtime.Event) {
	if event.Action != realtime.ActionInsert {
		return // the transaction log is append-only
	}
	txn, ok := transactionRecord(event.Record)
	if !ok {
		return
	}

	// Transaction amounts are signed, so the mirror balance follows the
	// ledger by simple addition.
	switch txn.Currency {
	case models.CurrencyHealthScore:
		p.balance.HealthScoreCredits += txn.Amount
	default:
		p.balance.GeneralCredits += txn.Amount
	}
}

// Balance returns the mirrored balance
func (p *Projection) Balance() models.CreditBalance {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.balance
}

// ActiveQueue returns a copy of the mirrored active queue entries
func (p *Projection) ActiveQueue() []models.QueueEntry {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]models.QueueEntry, len(p.activeQueue))
	copy(out, p.activeQueue)
	return out
}

// Notifications returns a copy of the mirrored notifications
func (p *Projection) Notifications() []models.Notification {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]models.Notification, len(p.notifications))
	copy(out, p.notifications)
	return out
}

// UnreadCount recounts unread notifications from the mirror. It is
// always a fresh count, never an incrementally adjusted number, so it
// cannot drift from the mirrored rows.
func (p *Projection) UnreadCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	count := 0
	for i := range p.notifications {
		if !p.notifications[i].Read {
			count++
		}
	}
	return count
}

// Record coercion helpers. In-process events carry typed pointers;
// events replayed from JSON arrive as values.

func notificationRecord(record interface{}) (models.Notification, bool) {
	switch v := record.(type) {
	case *models.Notification:
		return *v, true
	case models.Notification:
		return v, true
	}
	return models.Notification{}, false
}

func queueRecord(record interface{}) (models.QueueEntry, bool) {
	switch v := record.(type) {
	case *models.QueueEntry:
		return *v, true
	case models.QueueEntry:
		return v, true
	}
	return models.QueueEntry{}, false
}

func transactionRecord(record interface{}) (models.CreditTransaction, bool) {
	switch v := record.(type) {
	case *models.CreditTransaction:
		return *v, true
	case models.CreditTransaction:
		return v, true
	}
	return models.CreditTransaction{}, false
}

func deletedID(record interface{}) (string, bool) {
	switch v := record.(type) {
	case realtime.DeletedRecord:
		return v.ID, true
	case *realtime.DeletedRecord:
		return v.ID, true
	}
	return "", false
}
