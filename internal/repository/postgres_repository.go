package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/advisory-platform/advisory-server/internal/models"
)

// Repository interface defines the methods that any repository implementation must satisfy
type Repository interface {
	// User operations
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUserByID(ctx context.Context, id string) (*models.User, error)

	// Credit ledger operations
	GetBalance(ctx context.Context, ownerID string) (*models.CreditBalance, error)
	DeductCredits(ctx context.Context, txn *models.CreditTransaction) (int64, error)
	AddCredits(ctx context.Context, txn *models.CreditTransaction) (int64, error)
	ListTransactions(ctx context.Context, ownerID string, limit int, before time.Time) ([]models.CreditTransaction, error)
	SumTransactions(ctx context.Context, ownerID string, currency models.Currency) (int64, error)

	// Package queue operations
	CreateQueueEntry(ctx context.Context, entry *models.QueueEntry) error
	GetQueueEntry(ctx context.Context, entryID string) (*models.QueueEntry, error)
	TransitionQueueStatus(ctx context.Context, entryID string, newStatus models.QueueStatus) (*models.QueueEntry, error)
	ListActiveQueueEntries(ctx context.Context, ownerID string) ([]models.QueueEntry, error)
	PurgeCompleted(ctx context.Context, ownerID, reportID string) ([]string, error)
	PurgeCompletedBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// Notification operations
	CreateNotification(ctx context.Context, n *models.Notification) error
	ListNotifications(ctx context.Context, ownerID string) ([]models.Notification, error)
	CountUnreadNotifications(ctx context.Context, ownerID string) (int, error)
	MarkNotificationRead(ctx context.Context, ownerID, notificationID string) (*models.Notification, error)
	MarkAllNotificationsRead(ctx context.Context, ownerID string) ([]models.Notification, error)
	DeleteNotification(ctx context.Context, ownerID, notificationID string) error
	DeleteAllNotifications(ctx context.Context, ownerID string) ([]string, error)
}

// PostgresRepository implements the Repository interface using PostgreSQL
type PostgresRepository struct {
	db *sqlx.DB
}

// NewPostgresRepository creates a new PostgreSQL repository
func NewPostgresRepository(db *sqlx.DB) *PostgresRepository {
	return &PostgresRepository{
		db: db,
	}
}

// GetDB returns the underlying database connection
func (r *PostgresRepository) GetDB() *sqlx.DB {
	return r.db
}

// balanceColumn maps a currency onto its balance column. The result is
// interpolated into SQL, so it must come from this whitelist only.
func balanceColumn(currency models.Currency) string {
	if currency == models.CurrencyHealthScore {
		return "health_score_credits"
	}
	return "general_credits"
}

// User repository methods
func (r *PostgresRepository) CreateUser(ctx context.Context, user *models.User) error {
	query := `
		INSERT INTO users (id, email, name, password, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	// Generate a new UUID if not provided
	if user.ID == "" {
		user.ID = uuid.New().String()
	}

	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, query,
		user.ID, user.Email, user.Name, user.Password, user.CreatedAt, user.UpdatedAt)

	return err
}

func (r *PostgresRepository) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `SELECT * FROM users WHERE email = $1`

	var user models.User
	err := r.db.GetContext(ctx, &user, query, email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // User not found
		}
		return nil, err
	}

	return &user, nil
}

func (r *PostgresRepository) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	query := `SELECT * FROM users WHERE id = $1`

	var user models.User
	err := r.db.GetContext(ctx, &user, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // User not found
		}
		return nil, err
	}

	return &user, nil
}

// Credit ledger repository methods

// GetBalance returns the owner's balance row, treating absence as zero
// in both currencies.
func (r *PostgresRepository) GetBalance(ctx context.Context, ownerID string) (*models.CreditBalance, error) {
	query := `SELECT * FROM credit_balances WHERE owner_id = $1`

	var balance models.CreditBalance
	err := r.db.GetContext(ctx, &balance, query, ownerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &models.CreditBalance{OwnerID: ownerID}, nil
		}
		return nil, err
	}

	return &balance, nil
}

// DeductCredits atomically decrements the balance and appends the ledger
// entry. The decrement is a single conditional UPDATE guarded by the
// current balance, so concurrent deductions for the same owner serialize
// on the row and can never drive it negative. txn.Amount must be the
// positive deduction amount; it is stored negated. Returns the new
// balance, or models.ErrInsufficientBalance with the balance untouched.
func (r *PostgresRepository) DeductCredits(ctx context.Context, txn *models.CreditTransaction) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}

	defer func() {
		if err != nil {
			tx.Rollback()
			return
		}
	}()

	now := time.Now().UTC()

	// Make sure the balance row exists so the conditional UPDATE below
	// can distinguish "insufficient" from "never seen this owner".
	_, err = tx.ExecContext(ctx,
		`INSERT INTO credit_balances (owner_id, updated_at) VALUES ($1, $2)
		ON CONFLICT (owner_id) DO NOTHING`,
		txn.OwnerID, now)
	if err != nil {
		return 0, err
	}

	column := balanceColumn(txn.Currency)

	var newBalance int64
	err = tx.QueryRowContext(ctx, fmt.Sprintf(
		`UPDATE credit_balances
		SET %s = %s - $1, updated_at = $2
		WHERE owner_id = $3 AND %s >= $1
		RETURNING %s`,
		column, column, column, column),
		txn.Amount, now, txn.OwnerID).Scan(&newBalance)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = models.ErrInsufficientBalance
		}
		return 0, err
	}

	if txn.ID == "" {
		txn.ID = uuid.New().String()
	}
	txn.Kind = models.TransactionDeduct
	txn.CreatedAt = now

	_, err = tx.ExecContext(ctx,
		`INSERT INTO credit_transactions (id, owner_id, currency, amount, kind, description, feature_type, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		txn.ID, txn.OwnerID, txn.Currency, -txn.Amount, txn.Kind,
		txn.Description, txn.FeatureType, txn.CreatedAt)
	if err != nil {
		return 0, err
	}

	txn.Amount = -txn.Amount

	if err = tx.Commit(); err != nil {
		return 0, err
	}

	return newBalance, nil
}

// AddCredits increments the balance and appends the ledger entry.
// txn.Amount must be the positive amount to add.
func (r *PostgresRepository) AddCredits(ctx context.Context, txn *models.CreditTransaction) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}

	defer func() {
		if err != nil {
			tx.Rollback()
			return
		}
	}()

	now := time.Now().UTC()
	column := balanceColumn(txn.Currency)

	var newBalance int64
	err = tx.QueryRowContext(ctx, fmt.Sprintf(
		`INSERT INTO credit_balances (owner_id, %s, updated_at) VALUES ($1, $2, $3)
		ON CONFLICT (owner_id) DO UPDATE
		SET %s = credit_balances.%s + $2, updated_at = $3
		RETURNING %s`,
		column, column, column, column),
		txn.OwnerID, txn.Amount, now).Scan(&newBalance)
	if err != nil {
		return 0, err
	}

	if txn.ID == "" {
		txn.ID = uuid.New().String()
	}
	txn.Kind = models.TransactionAdd
	txn.CreatedAt = now

	_, err = tx.ExecContext(ctx,
		`INSERT INTO credit_transactions (id, owner_id, currency, amount, kind, description, feature_type, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		txn.ID, txn.OwnerID, txn.Currency, txn.Amount, txn.Kind,
		txn.Description, txn.FeatureType, txn.CreatedAt)
	if err != nil {
		return 0, err
	}

	if err = tx.Commit(); err != nil {
		return 0, err
	}

	return newBalance, nil
}

func (r *PostgresRepository) ListTransactions(
	ctx context.Context,
	ownerID string,
	limit int,
	before time.Time,
) ([]models.CreditTransaction, error) {
	query := `SELECT * FROM credit_transactions WHERE owner_id = $1`
	args := []interface{}{ownerID}

	if !before.IsZero() {
		query += ` AND created_at < $2`
		args = append(args, before)
	}

	query += fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT %d`, limit)

	var transactions []models.CreditTransaction
	err := r.db.SelectContext(ctx, &transactions, query, args...)
	if err != nil {
		return nil, err
	}

	return transactions, nil
}

// SumTransactions returns the signed sum of the owner's ledger entries
// for one currency. Used to reconcile the log against the balance row.
func (r *PostgresRepository) SumTransactions(ctx context.Context, ownerID string, currency models.Currency) (int64, error) {
	query := `SELECT COALESCE(SUM(amount), 0) FROM credit_transactions WHERE owner_id = $1 AND currency = $2`

	var sum int64
	err := r.db.GetContext(ctx, &sum, query, ownerID, currency)
	if err != nil {
		return 0, err
	}

	return sum, nil
}

// Package queue repository methods
func (r *PostgresRepository) CreateQueueEntry(ctx context.Context, entry *models.QueueEntry) error {
	query := `
		INSERT INTO package_queue (id, owner_id, report_id, package_name, document_ids, status, estimated_completion, requested_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}

	if entry.DocumentIDs == nil {
		entry.DocumentIDs = pq.StringArray{}
	}

	_, err := r.db.ExecContext(ctx, query,
		entry.ID, entry.OwnerID, entry.ReportID, entry.PackageName,
		entry.DocumentIDs, entry.Status, entry.EstimatedCompletion, entry.RequestedAt)

	return err
}

func (r *PostgresRepository) GetQueueEntry(ctx context.Context, entryID string) (*models.QueueEntry, error) {
	query := `SELECT * FROM package_queue WHERE id = $1`

	var entry models.QueueEntry
	err := r.db.GetContext(ctx, &entry, query, entryID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Entry not found
		}
		return nil, err
	}

	return &entry, nil
}

// TransitionQueueStatus applies a forward-only status change as a single
// guarded UPDATE: the WHERE clause names the statuses the new status may
// legally follow, so a stale or backward request changes nothing.
// completed_at is stamped when the entry enters the completed status.
func (r *PostgresRepository) TransitionQueueStatus(
	ctx context.Context,
	entryID string,
	newStatus models.QueueStatus,
) (*models.QueueEntry, error) {
	var allowedFrom pq.StringArray
	switch newStatus {
	case models.StatusProcessing:
		allowedFrom = pq.StringArray{string(models.StatusQueued)}
	case models.StatusCompleted:
		allowedFrom = pq.StringArray{string(models.StatusProcessing)}
	case models.StatusFailed:
		allowedFrom = pq.StringArray{string(models.StatusQueued), string(models.StatusProcessing)}
	default:
		return nil, models.ErrInvalidTransition
	}

	now := time.Now().UTC()

	query := `
		UPDATE package_queue
		SET status = $1::text,
			completed_at = CASE WHEN $1::text = 'completed' THEN $2 ELSE completed_at END
		WHERE id = $3 AND status = ANY($4)
		RETURNING *
	`

	var entry models.QueueEntry
	err := r.db.GetContext(ctx, &entry, query, newStatus, now, entryID, allowedFrom)
	if err == nil {
		return &entry, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	// Nothing matched: either the entry is missing or the transition is
	// backward. Look the entry up to tell the two apart.
	existing, err := r.GetQueueEntry(ctx, entryID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, models.ErrNotFound
	}
	return existing, models.ErrInvalidTransition
}

func (r *PostgresRepository) ListActiveQueueEntries(ctx context.Context, ownerID string) ([]models.QueueEntry, error) {
	query := `
		SELECT * FROM package_queue
		WHERE owner_id = $1 AND status IN ('queued', 'processing')
		ORDER BY requested_at DESC
	`

	var entries []models.QueueEntry
	err := r.db.SelectContext(ctx, &entries, query, ownerID)
	if err != nil {
		return nil, err
	}

	return entries, nil
}

// PurgeCompleted deletes completed entries for the given report and
// returns the deleted entry ids. Safe to call repeatedly; deleting
// nothing is not an error.
func (r *PostgresRepository) PurgeCompleted(ctx context.Context, ownerID, reportID string) ([]string, error) {
	var ids []string
	err := r.db.SelectContext(ctx, &ids,
		`DELETE FROM package_queue WHERE owner_id = $1 AND report_id = $2 AND status = 'completed' RETURNING id`,
		ownerID, reportID)
	if err != nil {
		return nil, err
	}

	return ids, nil
}

// PurgeCompletedBefore deletes completed entries whose completion is
// older than the cutoff. Used by the scheduled janitor sweep.
func (r *PostgresRepository) PurgeCompletedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM package_queue WHERE status = 'completed' AND completed_at < $1`,
		cutoff)
	if err != nil {
		return 0, err
	}

	return result.RowsAffected()
}

// Notification repository methods
func (r *PostgresRepository) CreateNotification(ctx context.Context, n *models.Notification) error {
	query := `
		INSERT INTO notifications (id, owner_id, title, message, kind, read, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	if n.ID == "" {
		n.ID = uuid.New().String()
	}

	now := time.Now().UTC()
	n.CreatedAt = now
	n.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, query,
		n.ID, n.OwnerID, n.Title, n.Message, n.Kind, n.Read, n.CreatedAt, n.UpdatedAt)

	return err
}

func (r *PostgresRepository) ListNotifications(ctx context.Context, ownerID string) ([]models.Notification, error) {
	query := `SELECT * FROM notifications WHERE owner_id = $1 ORDER BY created_at DESC, id DESC`

	var notifications []models.Notification
	err := r.db.SelectContext(ctx, &notifications, query, ownerID)
	if err != nil {
		return nil, err
	}

	return notifications, nil
}

func (r *PostgresRepository) CountUnreadNotifications(ctx context.Context, ownerID string) (int, error) {
	query := `SELECT COUNT(*) FROM notifications WHERE owner_id = $1 AND read = FALSE`

	var count int
	err := r.db.GetContext(ctx, &count, query, ownerID)
	if err != nil {
		return 0, err
	}

	return count, nil
}

// MarkNotificationRead flips the read flag to true. The flag never
// reverts, so re-marking an already-read notification is a no-op that
// still returns the row.
func (r *PostgresRepository) MarkNotificationRead(ctx context.Context, ownerID, notificationID string) (*models.Notification, error) {
	query := `
		UPDATE notifications
		SET read = TRUE, updated_at = $1
		WHERE id = $2 AND owner_id = $3
		RETURNING *
	`

	var n models.Notification
	err := r.db.GetContext(ctx, &n, query, time.Now().UTC(), notificationID, ownerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, err
	}

	return &n, nil
}

// MarkAllNotificationsRead flips every unread notification for the
// owner and returns the updated rows.
func (r *PostgresRepository) MarkAllNotificationsRead(ctx context.Context, ownerID string) ([]models.Notification, error) {
	var updated []models.Notification
	err := r.db.SelectContext(ctx, &updated,
		`UPDATE notifications SET read = TRUE, updated_at = $1 WHERE owner_id = $2 AND read = FALSE RETURNING *`,
		time.Now().UTC(), ownerID)
	if err != nil {
		return nil, err
	}

	return updated, nil
}

func (r *PostgresRepository) DeleteNotification(ctx context.Context, ownerID, notificationID string) error {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM notifications WHERE id = $1 AND owner_id = $2`,
		notificationID, ownerID)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return models.ErrNotFound
	}

	return nil
}

func (r *PostgresRepository) DeleteAllNotifications(ctx context.Context, ownerID string) ([]string, error) {
	var ids []string
	err := r.db.SelectContext(ctx, &ids,
		`DELETE FROM notifications WHERE owner_id = $1 RETURNING id`,
		ownerID)
	if err != nil {
		return nil, err
	}

	return ids, nil
}
