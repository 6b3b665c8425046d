package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/advisory-platform/advisory-server/internal/models"
	"github.com/advisory-platform/advisory-server/internal/realtime"
	"github.com/advisory-platform/advisory-server/internal/repository"
)

// LedgerService defines the credit ledger operations
type LedgerService interface {
	GetBalance(ctx context.Context, ownerID string) (*models.CreditBalance, error)
	HasSufficientBalance(ctx context.Context, ownerID string, currency models.Currency, amount int64) (bool, error)
	Deduct(ctx context.Context, ownerID string, req models.DeductRequest) (int64, error)
	Add(ctx context.Context, ownerID string, req models.AddCreditsRequest) (int64, error)
	ListTransactions(ctx context.Context, ownerID string, limit int, before time.Time) ([]models.CreditTransaction, bool, error)
	Reconcile(ctx context.Context, ownerID string, currency models.Currency) (bool, error)
}

const defaultTransactionPageSize = 50

// DefaultLedgerService implements LedgerService
type DefaultLedgerService struct {
	repo                repository.Repository
	hub                 *realtime.Hub
	notifier            Notifier
	lowBalanceThreshold int64
}

// NewDefaultLedgerService creates a new DefaultLedgerService. notifier
// may be nil when low-balance warnings are not wanted.
func NewDefaultLedgerService(repo repository.Repository, hub *realtime.Hub, notifier Notifier, lowBalanceThreshold int64) *DefaultLedgerService {
	return &DefaultLedgerService{
		repo:                repo,
		hub:                 hub,
		notifier:            notifier,
		lowBalanceThreshold: lowBalanceThreshold,
	}
}

func (s *DefaultLedgerService) GetBalance(ctx context.Context, ownerID string) (*models.CreditBalance, error) {
	if ownerID == "" {
		return nil, models.ErrNotAuthenticated
	}

	balance, err := s.repo.GetBalance(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("error getting balance: %w", err)
	}

	return balance, nil
}

// HasSufficientBalance is a pure comparison against the current balance;
// it never mutates. A passing check does not reserve credits, so Deduct
// can still fail under concurrent spending.
func (s *DefaultLedgerService) HasSufficientBalance(ctx context.Context, ownerID string, currency models.Currency, amount int64) (bool, error) {
	balance, err := s.GetBalance(ctx, ownerID)
	if err != nil {
		return false, err
	}

	return balance.Amount(currency) >= amount, nil
}

// Deduct atomically removes amount credits and records the transaction.
// On success it publishes the ledger entry to the owner's change feed
// and raises a low-balance warning when the new balance drops below the
// configured threshold.
func (s *DefaultLedgerService) Deduct(ctx context.Context, ownerID string, req models.DeductRequest) (int64, error) {
	if ownerID == "" {
		return 0, models.ErrNotAuthenticated
	}
	if !req.Currency.Valid() {
		return 0, fmt.Errorf("unknown currency %q", req.Currency)
	}
	if req.Amount <= 0 {
		return 0, fmt.Errorf("deduction amount must be positive, got %d", req.Amount)
	}

	txn := &models.CreditTransaction{
		OwnerID:     ownerID,
		Currency:    req.Currency,
		Amount:      req.Amount,
		Description: req.Description,
		FeatureType: req.FeatureType,
	}

	newBalance, err := s.repo.DeductCredits(ctx, txn)
	if err != nil {
		if errors.Is(err, models.ErrInsufficientBalance) {
			return 0, err
		}
		return 0, fmt.Errorf("error deducting credits: %w", err)
	}

	s.hub.Publish(realtime.Event{
		Table:   realtime.TableTransactions,
		Action:  realtime.ActionInsert,
		OwnerID: ownerID,
		Record:  txn,
	})

	if s.notifier != nil && s.lowBalanceThreshold > 0 &&
		req.Currency == models.CurrencyGeneral && newBalance < s.lowBalanceThreshold {
		s.notifier.Notify(ctx, ownerID, "Credits running low",
			fmt.Sprintf("You have %d general credits left. Top up to keep using premium features.", newBalance),
			models.NotificationWarning)
	}

	return newBalance, nil
}

// Add credits the owner's balance and records the transaction. This is
// the contract the billing webhook calls on successful payment.
func (s *DefaultLedgerService) Add(ctx context.Context, ownerID string, req models.AddCreditsRequest) (int64, error) {
	if ownerID == "" {
		return 0, models.ErrNotAuthenticated
	}
	if !req.Currency.Valid() {
		return 0, fmt.Errorf("unknown currency %q", req.Currency)
	}
	if req.Amount <= 0 {
		return 0, fmt.Errorf("credit amount must be positive, got %d", req.Amount)
	}

	txn := &models.CreditTransaction{
		OwnerID:     ownerID,
		Currency:    req.Currency,
		Amount:      req.Amount,
		Description: req.Description,
		FeatureType: req.FeatureType,
	}

	newBalance, err := s.repo.AddCredits(ctx, txn)
	if err != nil {
		return 0, fmt.Errorf("error adding credits: %w", err)
	}

	s.hub.Publish(realtime.Event{
		Table:   realtime.TableTransactions,
		Action:  realtime.ActionInsert,
		OwnerID: ownerID,
		Record:  txn,
	})

	return newBalance, nil
}

// ListTransactions returns the owner's ledger entries newest first. The
// second return value reports whether older entries remain beyond the
// returned page.
func (s *DefaultLedgerService) ListTransactions(ctx context.Context, ownerID string, limit int, before time.Time) ([]models.CreditTransaction, bool, error) {
	if ownerID == "" {
		return nil, false, models.ErrNotAuthenticated
	}
	if limit <= 0 {
		limit = defaultTransactionPageSize
	}

	// Fetch one extra row to detect another page
	transactions, err := s.repo.ListTransactions(ctx, ownerID, limit+1, before)
	if err != nil {
		return nil, false, fmt.Errorf("error listing transactions: %w", err)
	}

	hasMore := false
	if len(transactions) > limit {
		transactions = transactions[:limit]
		hasMore = true
	}

	return transactions, hasMore, nil
}

// Reconcile checks the audit law: the balance must equal the signed sum
// of the owner's transactions for the currency.
func (s *DefaultLedgerService) Reconcile(ctx context.Context, ownerID string, currency models.Currency) (bool, error) {
	if ownerID == "" {
		return false, models.ErrNotAuthenticated
	}

	balance, err := s.repo.GetBalance(ctx, ownerID)
	if err != nil {
		return false, fmt.Errorf("error getting balance: %w", err)
	}

	sum, err := s.repo.SumTransactions(ctx, ownerID, currency)
	if err != nil {
		return false, fmt.Errorf("error summing transactions: %w", err)
	}

	return balance.Amount(currency) == sum, nil
}
