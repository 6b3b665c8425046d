package projection

import (
	"sync"
	"time"
)

// Countdown ticks once per second with the whole seconds remaining
// until a fixed estimated-completion timestamp, clamped at zero. It is
// display state only: reaching zero says nothing about the job, whose
// status comes solely from the change feed or a fetch.
type Countdown struct {
	estimated time.Time
	interval  time.Duration

	stopOnce sync.Once
	stop     chan struct{}
}

// StartCountdown begins ticking immediately and invokes onTick with the
// clamped remaining seconds, including a final tick at zero. The caller
// must call Stop when the owning view is torn down.
func StartCountdown(estimated time.Time, onTick func(remainingSeconds int64)) *Countdown {
	c := &Countdown{
		estimated: estimated,
		interval:  time.Second,
		stop:      make(chan struct{}),
	}
	go c.run(onTick)
	return c
}

func (c *Countdown) run(onTick func(int64)) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case now := <-ticker.C:
			remaining := int64(c.estimated.Sub(now) / time.Second)
			if remaining <= 0 {
				// Hold at zero and stop ticking; the display stays
				// at 0:00 until a status event resolves the job.
				onTick(0)
				return
			}
			onTick(remaining)
		}
	}
}

// Stop halts the ticker. Idempotent; safe to call after the countdown
// reached zero on its own.
func (c *Countdown) Stop() {
	c.stopOnce.Do(func() {
		close(c.stop)
	})
}
