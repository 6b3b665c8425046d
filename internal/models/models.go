package models

import (
	"time"

	"github.com/lib/pq"
)

// User represents a user in the system
type User struct {
	ID        string    `db:"id" json:"id"`
	Email     string    `db:"email" json:"email"`
	Name      string    `db:"name" json:"name"`
	Password  string    `db:"password" json:"-"` // Password hash, not returned in JSON
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}

// Currency identifies one of the two independent credit ledgers
type Currency string

const (
	CurrencyGeneral     Currency = "general"
	CurrencyHealthScore Currency = "health_score"
)

// Valid reports whether c is a known currency
func (c Currency) Valid() bool {
	return c == CurrencyGeneral || c == CurrencyHealthScore
}

// CreditBalance holds an owner's current balance in both currencies.
// A missing row reads as zero in both; balances never go negative.
type CreditBalance struct {
	OwnerID            string    `db:"owner_id" json:"ownerId"`
	GeneralCredits     int64     `db:"general_credits" json:"generalCredits"`
	HealthScoreCredits int64     `db:"health_score_credits" json:"healthScoreCredits"`
	UpdatedAt          time.Time `db:"updated_at" json:"updatedAt"`
}

// Amount returns the balance for the given currency
func (b *CreditBalance) Amount(currency Currency) int64 {
	if currency == CurrencyHealthScore {
		return b.HealthScoreCredits
	}
	return b.GeneralCredits
}

// TransactionKind distinguishes credit additions from deductions
type TransactionKind string

const (
	TransactionAdd    TransactionKind = "add"
	TransactionDeduct TransactionKind = "deduct"
)

// CreditTransaction is one append-only ledger entry. Amount is signed:
// negative for deductions, positive for additions. Rows are never
// updated or deleted, so the log reconciles against the balance.
type CreditTransaction struct {
	ID          string          `db:"id" json:"id"`
	OwnerID     string          `db:"owner_id" json:"ownerId"`
	Currency    Currency        `db:"currency" json:"currency"`
	Amount      int64           `db:"amount" json:"amount"`
	Kind        TransactionKind `db:"kind" json:"kind"`
	Description string          `db:"description" json:"description"`
	FeatureType string          `db:"feature_type" json:"featureType"`
	CreatedAt   time.Time       `db:"created_at" json:"createdAt"`
}

// QueueStatus is the package-generation job state. Transitions only move
// forward: queued -> processing -> {completed, failed}, with queued -> failed
// allowed for jobs rejected before pickup.
type QueueStatus string

const (
	StatusQueued     QueueStatus = "queued"
	StatusProcessing QueueStatus = "processing"
	StatusCompleted  QueueStatus = "completed"
	StatusFailed     QueueStatus = "failed"
)

// Valid reports whether s is a known queue status
func (s QueueStatus) Valid() bool {
	switch s {
	case StatusQueued, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// CanTransitionTo reports whether moving from s to next is a legal
// forward transition
func (s QueueStatus) CanTransitionTo(next QueueStatus) bool {
	switch s {
	case StatusQueued:
		return next == StatusProcessing || next == StatusFailed
	case StatusProcessing:
		return next == StatusCompleted || next == StatusFailed
	default:
		return false
	}
}

// Terminal reports whether no further transitions are possible from s
func (s QueueStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// QueueEntry is one package-generation job. EstimatedCompletion is a
// display hint only; the authoritative completion signal is the status
// transition driven by the external worker.
type QueueEntry struct {
	ID                  string         `db:"id" json:"id"`
	OwnerID             string         `db:"owner_id" json:"ownerId"`
	ReportID            string         `db:"report_id" json:"reportId"`
	PackageName         string         `db:"package_name" json:"packageName"`
	DocumentIDs         pq.StringArray `db:"document_ids" json:"documentIds"`
	Status              QueueStatus    `db:"status" json:"status"`
	EstimatedCompletion time.Time      `db:"estimated_completion" json:"estimatedCompletion"`
	RequestedAt         time.Time      `db:"requested_at" json:"requestedAt"`
	CompletedAt         *time.Time     `db:"completed_at" json:"completedAt,omitempty"`
}

// RemainingSeconds returns whole seconds until the estimated completion,
// clamped at zero. A stale entry (estimate elapsed, still queued) reads 0.
func (e *QueueEntry) RemainingSeconds(now time.Time) int64 {
	remaining := int64(e.EstimatedCompletion.Sub(now) / time.Second)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// NotificationKind classifies a notification for display
type NotificationKind string

const (
	NotificationInfo    NotificationKind = "info"
	NotificationSuccess NotificationKind = "success"
	NotificationWarning NotificationKind = "warning"
	NotificationError   NotificationKind = "error"
)

// Valid reports whether k is a known notification kind
func (k NotificationKind) Valid() bool {
	switch k {
	case NotificationInfo, NotificationSuccess, NotificationWarning, NotificationError:
		return true
	}
	return false
}

// Notification is a per-owner message. Read only ever flips false -> true.
type Notification struct {
	ID        string           `db:"id" json:"id"`
	OwnerID   string           `db:"owner_id" json:"ownerId"`
	Title     string           `db:"title" json:"title"`
	Message   string           `db:"message" json:"message"`
	Kind      NotificationKind `db:"kind" json:"kind"`
	Read      bool             `db:"read" json:"read"`
	CreatedAt time.Time        `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time        `db:"updated_at" json:"updatedAt"`
}
