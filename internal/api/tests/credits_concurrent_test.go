package api_test

import (
	"context"
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/advisory-platform/advisory-server/internal/api/testutils"
	"github.com/advisory-platform/advisory-server/internal/models"
)

// TestConcurrentDeductions hammers one owner's balance from many
// goroutines. The conditional-update guard must serialize them: exactly
// balance/amount deductions may succeed and the balance can never go
// negative or lose an update.
func TestConcurrentDeductions(t *testing.T) {
	testCtx := testutils.SetupTestContext(t)
	defer testutils.CleanupTestContext(testCtx)

	const (
		startingBalance = 100
		deductAmount    = 30
		numGoroutines   = 10
	)

	testutils.SeedCredits(t, testCtx, models.CurrencyGeneral, startingBalance)

	deductReq := models.DeductRequest{
		Currency:    models.CurrencyGeneral,
		Amount:      deductAmount,
		Description: "concurrent deduction",
		FeatureType: "stress_test",
	}

	codes := make(chan int, numGoroutines)
	var wg sync.WaitGroup

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			w := testutils.PerformRequest(
				testCtx.Router,
				http.MethodPost,
				"/api/credits/deduct",
				deductReq,
				testutils.AuthHeaders(testCtx.TestUserJWT),
			)
			codes <- w.Code
		}()
	}

	wg.Wait()
	close(codes)

	successes, failures := 0, 0
	for code := range codes {
		switch code {
		case http.StatusOK:
			successes++
		case http.StatusPaymentRequired:
			failures++
		default:
			t.Errorf("unexpected status code %d", code)
		}
	}

	// 100 credits allow exactly three deductions of 30
	assert.Equal(t, 3, successes, "exactly balance/amount deductions may succeed")
	assert.Equal(t, numGoroutines-3, failures)

	ctx := context.Background()
	balance, err := testCtx.Repository.GetBalance(ctx, testCtx.TestUserID)
	assert.NoError(t, err)
	assert.Equal(t, int64(startingBalance-3*deductAmount), balance.GeneralCredits)

	// The transaction log agrees with the balance
	ok, err := testCtx.Ledger.Reconcile(ctx, testCtx.TestUserID, models.CurrencyGeneral)
	assert.NoError(t, err)
	assert.True(t, ok)
}
