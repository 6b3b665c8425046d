package projection

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/advisory-platform/advisory-server/internal/logging"
	"github.com/advisory-platform/advisory-server/internal/models"
	"github.com/advisory-platform/advisory-server/internal/realtime"
)

type stubFetcher struct {
	mu            sync.Mutex
	balance       models.CreditBalance
	queue         []models.QueueEntry
	notifications []models.Notification
	fetches       int
}

func (f *stubFetcher) FetchBalance(ctx context.Context) (*models.CreditBalance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	b := f.balance
	return &b, nil
}

func (f *stubFetcher) fetchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches
}

func (f *stubFetcher) FetchActiveQueue(ctx context.Context) ([]models.QueueEntry, error) {
	return append([]models.QueueEntry(nil), f.queue...), nil
}

func (f *stubFetcher) FetchNotifications(ctx context.Context) ([]models.Notification, error) {
	return append([]models.Notification(nil), f.notifications...), nil
}

func newTestProjection(t *testing.T, fetcher *stubFetcher) (*Projection, *realtime.Hub) {
	hub := realtime.NewHub(32)
	p := New("owner-a", fetcher, hub, logging.New("projection-test"))
	require.NoError(t, p.Start(context.Background()))
	t.Cleanup(p.Stop)
	return p, hub
}

// eventually polls until the condition holds; the event loop applies
// events asynchronously.
func eventually(t *testing.T, condition func() bool, message string) {
	t.Helper()
	assert.Eventually(t, condition, time.Second, 5*time.Millisecond, message)
}

func TestInitialFetch(t *testing.T) {
	fetcher := &stubFetcher{
		balance: models.CreditBalance{OwnerID: "owner-a", GeneralCredits: 50},
		notifications: []models.Notification{
			{ID: "n1", Read: false},
			{ID: "n2", Read: true},
		},
	}
	p, _ := newTestProjection(t, fetcher)

	assert.Equal(t, int64(50), p.Balance().GeneralCredits)
	assert.Len(t, p.Notifications(), 2)
	assert.Equal(t, 1, p.UnreadCount())
}

func TestNotificationEvents(t *testing.T) {
	fetcher := &stubFetcher{
		notifications: []models.Notification{{ID: "n1", Read: false}},
	}
	p, hub := newTestProjection(t, fetcher)

	// Insert prepends
	hub.Publish(realtime.Event{
		Table:   realtime.TableNotifications,
		Action:  realtime.ActionInsert,
		OwnerID: "owner-a",
		Record:  &models.Notification{ID: "n2", Read: false},
	})
	eventually(t, func() bool { return len(p.Notifications()) == 2 }, "insert should be applied")
	assert.Equal(t, "n2", p.Notifications()[0].ID)
	assert.Equal(t, 2, p.UnreadCount())

	// Update replaces by id; the unread count is a recount, so it
	// follows the mirror exactly
	hub.Publish(realtime.Event{
		Table:   realtime.TableNotifications,
		Action:  realtime.ActionUpdate,
		OwnerID: "owner-a",
		Record:  &models.Notification{ID: "n1", Read: true},
	})
	eventually(t, func() bool { return p.UnreadCount() == 1 }, "update should be applied")

	// Delete removes by id
	hub.Publish(realtime.Event{
		Table:   realtime.TableNotifications,
		Action:  realtime.ActionDelete,
		OwnerID: "owner-a",
		Record:  realtime.DeletedRecord{ID: "n2"},
	})
	eventually(t, func() bool { return len(p.Notifications()) == 1 }, "delete should be applied")
	assert.Equal(t, 0, p.UnreadCount())
}

func TestUnreadCountNeverNegative(t *testing.T) {
	fetcher := &stubFetcher{}
	p, hub := newTestProjection(t, fetcher)

	assert.Equal(t, 0, p.UnreadCount())

	// Redundant read-updates for unknown ids must not drive the count
	// below zero; a recount cannot go negative by construction
	hub.Publish(realtime.Event{
		Table:   realtime.TableNotifications,
		Action:  realtime.ActionUpdate,
		OwnerID: "owner-a",
		Record:  &models.Notification{ID: "ghost", Read: true},
	})
	hub.Publish(realtime.Event{
		Table:   realtime.TableNotifications,
		Action:  realtime.ActionDelete,
		OwnerID: "owner-a",
		Record:  realtime.DeletedRecord{ID: "ghost"},
	})

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, p.UnreadCount())
}

func TestQueueEvents(t *testing.T) {
	fetcher := &stubFetcher{}
	p, hub := newTestProjection(t, fetcher)

	entry := models.QueueEntry{ID: "q1", Status: models.StatusQueued}
	hub.Publish(realtime.Event{
		Table:   realtime.TableQueue,
		Action:  realtime.ActionInsert,
		OwnerID: "owner-a",
		Record:  &entry,
	})
	eventually(t, func() bool { return len(p.ActiveQueue()) == 1 }, "insert should be applied")

	// A non-terminal update replaces in place
	entry.Status = models.StatusProcessing
	hub.Publish(realtime.Event{
		Table:   realtime.TableQueue,
		Action:  realtime.ActionUpdate,
		OwnerID: "owner-a",
		Record:  &entry,
	})
	eventually(t, func() bool {
		q := p.ActiveQueue()
		return len(q) == 1 && q[0].Status == models.StatusProcessing
	}, "update should be applied")

	// A terminal update removes the entry from the active mirror
	entry.Status = models.StatusCompleted
	hub.Publish(realtime.Event{
		Table:   realtime.TableQueue,
		Action:  realtime.ActionUpdate,
		OwnerID: "owner-a",
		Record:  &entry,
	})
	eventually(t, func() bool { return len(p.ActiveQueue()) == 0 }, "terminal update should remove the entry")
}

func TestBalanceFollowsTransactions(t *testing.T) {
	fetcher := &stubFetcher{
		balance: models.CreditBalance{OwnerID: "owner-a", GeneralCredits: 50},
	}
	p, hub := newTestProjection(t, fetcher)

	hub.Publish(realtime.Event{
		Table:   realtime.TableTransactions,
		Action:  realtime.ActionInsert,
		OwnerID: "owner-a",
		Record:  &models.CreditTransaction{Currency: models.CurrencyGeneral, Amount: -30, Kind: models.TransactionDeduct},
	})
	eventually(t, func() bool { return p.Balance().GeneralCredits == 20 }, "deduct should lower the mirror balance")

	hub.Publish(realtime.Event{
		Table:   realtime.TableTransactions,
		Action:  realtime.ActionInsert,
		OwnerID: "owner-a",
		Record:  &models.CreditTransaction{Currency: models.CurrencyHealthScore, Amount: 5, Kind: models.TransactionAdd},
	})
	eventually(t, func() bool { return p.Balance().HealthScoreCredits == 5 }, "ledgers stay independent")
	assert.Equal(t, int64(20), p.Balance().GeneralCredits)
}

func TestStopIsIdempotent(t *testing.T) {
	fetcher := &stubFetcher{}
	hub := realtime.NewHub(8)
	p := New("owner-a", fetcher, hub, logging.New("projection-test"))
	require.NoError(t, p.Start(context.Background()))

	p.Stop()
	p.Stop() // must not panic

	// Events published after teardown are ignored, not applied
	hub.Publish(realtime.Event{
		Table:   realtime.TableNotifications,
		Action:  realtime.ActionInsert,
		OwnerID: "owner-a",
		Record:  &models.Notification{ID: "late"},
	})
	time.Sleep(10 * time.Millisecond)
	assert.Empty(t, p.Notifications())
}

func TestDroppedSubscriptionTriggersRefetch(t *testing.T) {
	fetcher := &stubFetcher{
		balance: models.CreditBalance{OwnerID: "owner-a", GeneralCredits: 7},
	}
	hub := realtime.NewHub(1)
	p := New("owner-a", fetcher, hub, logging.New("projection-test"))
	require.NoError(t, p.Start(context.Background()))
	defer p.Stop()

	initialFetches := fetcher.fetchCount()

	// Overflow the one-slot buffer faster than the loop can drain it.
	// Eventually the hub drops the subscription and the projection
	// rebuilds from a full fetch.
	assert.Eventually(t, func() bool {
		for i := 0; i < 100; i++ {
			hub.Publish(realtime.Event{
				Table:   realtime.TableTransactions,
				Action:  realtime.ActionInsert,
				OwnerID: "owner-a",
				Record:  &models.CreditTransaction{Currency: models.CurrencyGeneral, Amount: 1},
			})
		}
		return fetcher.fetchCount() > initialFetches
	}, 2*time.Second, 5*time.Millisecond, "a feed gap must force a full refetch")

	// The loop resubscribes after the gap, so later events still land
	assert.Eventually(t, func() bool {
		hub.Publish(realtime.Event{
			Table:   realtime.TableNotifications,
			Action:  realtime.ActionInsert,
			OwnerID: "owner-a",
			Record:  &models.Notification{ID: "after-gap"},
		})
		for _, n := range p.Notifications() {
			if n.ID == "after-gap" {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond, "the projection must stay live after a feed gap")
}
