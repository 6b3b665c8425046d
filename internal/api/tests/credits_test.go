package api_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/advisory-platform/advisory-server/internal/api/testutils"
	"github.com/advisory-platform/advisory-server/internal/models"
)

func TestGetBalanceDefaultsToZero(t *testing.T) {
	testCtx := testutils.SetupTestContext(t)
	defer testutils.CleanupTestContext(testCtx)

	// A user with no balance row reads as zero, not as an error
	w := testutils.PerformRequest(
		testCtx.Router,
		http.MethodGet,
		"/api/credits/balance",
		nil,
		testutils.AuthHeaders(testCtx.TestUserJWT),
	)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp models.BalanceResponse
	assert.NoError(t, unmarshalBody(w, &resp))
	assert.Equal(t, int64(0), resp.GeneralCredits)
	assert.Equal(t, int64(0), resp.HealthScoreCredits)

	// Unauthenticated requests never degrade to a default owner
	w = testutils.PerformRequest(testCtx.Router, http.MethodGet, "/api/credits/balance", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestDeductCredits(t *testing.T) {
	testCtx := testutils.SetupTestContext(t)
	defer testutils.CleanupTestContext(testCtx)

	testutils.SeedCredits(t, testCtx, models.CurrencyGeneral, 50)

	// Test case 1: Deduct 30 from 50
	deductReq := models.DeductRequest{
		Currency:    models.CurrencyGeneral,
		Amount:      30,
		Description: "Business health report",
		FeatureType: "report_generation",
	}

	w := testutils.PerformRequest(
		testCtx.Router,
		http.MethodPost,
		"/api/credits/deduct",
		deductReq,
		testutils.AuthHeaders(testCtx.TestUserJWT),
	)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp models.DeductResponse
	assert.NoError(t, unmarshalBody(w, &resp))
	assert.Equal(t, int64(20), resp.NewBalance)

	// Test case 2: Second deduction of 30 exceeds the remaining 20
	w = testutils.PerformRequest(
		testCtx.Router,
		http.MethodPost,
		"/api/credits/deduct",
		deductReq,
		testutils.AuthHeaders(testCtx.TestUserJWT),
	)

	assert.Equal(t, http.StatusPaymentRequired, w.Code)

	var errResp models.ErrorResponse
	assert.NoError(t, unmarshalBody(w, &errResp))
	assert.Equal(t, "INSUFFICIENT_BALANCE", errResp.Code)
	assert.Contains(t, errResp.Message, "short by 10")

	// Balance is unchanged after the failed deduction
	balance, err := testCtx.Repository.GetBalance(context.Background(), testCtx.TestUserID)
	assert.NoError(t, err)
	assert.Equal(t, int64(20), balance.GeneralCredits)

	// Test case 3: Exactly one deduct transaction was recorded
	transactions, err := testCtx.Repository.ListTransactions(context.Background(), testCtx.TestUserID, 10, balance.UpdatedAt.AddDate(1, 0, 0))
	assert.NoError(t, err)

	deducts := 0
	for _, txn := range transactions {
		if txn.Kind == models.TransactionDeduct {
			deducts++
			assert.Equal(t, int64(-30), txn.Amount)
			assert.Equal(t, "report_generation", txn.FeatureType)
		}
	}
	assert.Equal(t, 1, deducts)
}

func TestHasSufficientBalanceDoesNotMutate(t *testing.T) {
	testCtx := testutils.SetupTestContext(t)
	defer testutils.CleanupTestContext(testCtx)

	testutils.SeedCredits(t, testCtx, models.CurrencyGeneral, 20)

	ctx := context.Background()
	owner := testCtx.TestUserID

	ok, err := testCtx.Ledger.HasSufficientBalance(ctx, owner, models.CurrencyGeneral, 20)
	assert.NoError(t, err)
	assert.True(t, ok, "an exact match is sufficient")

	ok, err = testCtx.Ledger.HasSufficientBalance(ctx, owner, models.CurrencyGeneral, 21)
	assert.NoError(t, err)
	assert.False(t, ok)

	// The other ledger is consulted, not the general one
	ok, err = testCtx.Ledger.HasSufficientBalance(ctx, owner, models.CurrencyHealthScore, 1)
	assert.NoError(t, err)
	assert.False(t, ok)

	// A check is a pure comparison: no reservation, no ledger entry
	balance, err := testCtx.Repository.GetBalance(ctx, owner)
	assert.NoError(t, err)
	assert.Equal(t, int64(20), balance.GeneralCredits)

	transactions, err := testCtx.Repository.ListTransactions(ctx, owner, 10, time.Time{})
	assert.NoError(t, err)
	assert.Len(t, transactions, 1, "only the seed transaction exists")
}

func TestLedgersAreIndependent(t *testing.T) {
	testCtx := testutils.SetupTestContext(t)
	defer testutils.CleanupTestContext(testCtx)

	testutils.SeedCredits(t, testCtx, models.CurrencyGeneral, 40)
	testutils.SeedCredits(t, testCtx, models.CurrencyHealthScore, 15)

	// Deducting health-score credits must not touch the general balance
	deductReq := models.DeductRequest{
		Currency: models.CurrencyHealthScore,
		Amount:   5,
	}

	w := testutils.PerformRequest(
		testCtx.Router,
		http.MethodPost,
		"/api/credits/deduct",
		deductReq,
		testutils.AuthHeaders(testCtx.TestUserJWT),
	)
	assert.Equal(t, http.StatusOK, w.Code)

	var balance models.BalanceResponse
	w = testutils.PerformRequest(
		testCtx.Router,
		http.MethodGet,
		"/api/credits/balance",
		nil,
		testutils.AuthHeaders(testCtx.TestUserJWT),
	)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NoError(t, unmarshalBody(w, &balance))
	assert.Equal(t, int64(40), balance.GeneralCredits)
	assert.Equal(t, int64(10), balance.HealthScoreCredits)
}

func TestLedgerReconciliation(t *testing.T) {
	testCtx := testutils.SetupTestContext(t)
	defer testutils.CleanupTestContext(testCtx)

	ctx := context.Background()
	owner := testCtx.TestUserID

	// Arbitrary add/deduct sequence
	steps := []struct {
		add    bool
		amount int64
	}{
		{add: true, amount: 100},
		{add: false, amount: 30},
		{add: true, amount: 7},
		{add: false, amount: 50},
		{add: false, amount: 2},
	}

	for _, step := range steps {
		var err error
		if step.add {
			_, err = testCtx.Ledger.Add(ctx, owner, models.AddCreditsRequest{
				Currency: models.CurrencyGeneral,
				Amount:   step.amount,
			})
		} else {
			_, err = testCtx.Ledger.Deduct(ctx, owner, models.DeductRequest{
				Currency: models.CurrencyGeneral,
				Amount:   step.amount,
			})
		}
		assert.NoError(t, err)
	}

	// The balance must equal the signed sum of the transaction log
	ok, err := testCtx.Ledger.Reconcile(ctx, owner, models.CurrencyGeneral)
	assert.NoError(t, err)
	assert.True(t, ok, "balance must reconcile with the transaction log")

	balance, err := testCtx.Repository.GetBalance(ctx, owner)
	assert.NoError(t, err)
	assert.Equal(t, int64(25), balance.GeneralCredits)
}

func TestListTransactionsPagination(t *testing.T) {
	testCtx := testutils.SetupTestContext(t)
	defer testutils.CleanupTestContext(testCtx)

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := testCtx.Ledger.Add(ctx, testCtx.TestUserID, models.AddCreditsRequest{
			Currency: models.CurrencyGeneral,
			Amount:   10,
		})
		assert.NoError(t, err)
	}

	w := testutils.PerformRequest(
		testCtx.Router,
		http.MethodGet,
		"/api/credits/transactions?limit=3",
		nil,
		testutils.AuthHeaders(testCtx.TestUserJWT),
	)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp models.TransactionsResponse
	assert.NoError(t, unmarshalBody(w, &resp))
	assert.Len(t, resp.Transactions, 3)
	assert.True(t, resp.HasMore)

	// Newest first
	for i := 0; i < len(resp.Transactions)-1; i++ {
		assert.False(t, resp.Transactions[i].CreatedAt.Before(resp.Transactions[i+1].CreatedAt))
	}
}

func TestLowBalanceWarningNotification(t *testing.T) {
	testCtx := testutils.SetupTestContext(t)
	defer testutils.CleanupTestContext(testCtx)

	// Default threshold is 10; dropping from 12 to 3 should warn
	testutils.SeedCredits(t, testCtx, models.CurrencyGeneral, 12)

	deductReq := models.DeductRequest{
		Currency: models.CurrencyGeneral,
		Amount:   9,
	}
	w := testutils.PerformRequest(
		testCtx.Router,
		http.MethodPost,
		"/api/credits/deduct",
		deductReq,
		testutils.AuthHeaders(testCtx.TestUserJWT),
	)
	assert.Equal(t, http.StatusOK, w.Code)

	notifications, _, err := testCtx.Notifications.List(context.Background(), testCtx.TestUserID)
	assert.NoError(t, err)

	found := false
	for _, n := range notifications {
		if n.Kind == models.NotificationWarning {
			found = true
		}
	}
	assert.True(t, found, "expected a low-balance warning notification")
}
