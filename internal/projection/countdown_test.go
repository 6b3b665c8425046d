package projection

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCountdownClampsAtZero(t *testing.T) {
	// An estimate already in the past must tick zero, never negative
	var (
		mu    sync.Mutex
		ticks []int64
	)

	c := StartCountdown(time.Now().Add(-time.Minute), func(remaining int64) {
		mu.Lock()
		defer mu.Unlock()
		ticks = append(ticks, remaining)
	})
	defer c.Stop()

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(ticks) > 0
	}, 3*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int64{0}, ticks, "a stale countdown holds at zero and stops ticking")
}

func TestCountdownIsNonIncreasing(t *testing.T) {
	var (
		mu    sync.Mutex
		ticks []int64
	)

	c := StartCountdown(time.Now().Add(3*time.Second), func(remaining int64) {
		mu.Lock()
		defer mu.Unlock()
		ticks = append(ticks, remaining)
	})
	defer c.Stop()

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(ticks) >= 2
	}, 5*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	for i := 0; i < len(ticks)-1; i++ {
		assert.GreaterOrEqual(t, ticks[i], ticks[i+1], "remaining seconds never increase")
	}
	for _, tick := range ticks {
		assert.GreaterOrEqual(t, tick, int64(0))
	}
}

func TestCountdownStopIsIdempotent(t *testing.T) {
	c := StartCountdown(time.Now().Add(time.Hour), func(int64) {})
	c.Stop()
	c.Stop() // must not panic
}
