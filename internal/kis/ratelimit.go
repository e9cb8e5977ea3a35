package kis

import (
	"context"
	"sync"
	"time"
)

const rateLimitWindow = time.Second

// rateLimiter grants request slots under a sliding one-second window. A
// caller that cannot get an immediate slot sleeps until the oldest
// timestamp exits the window and tries again.
type rateLimiter struct {
	mu         sync.Mutex
	timestamps []time.Time
	maxPerSec  int

	now   func() time.Time
	sleep func(context.Context, time.Duration) error
}

func newRateLimiter(maxPerSec int) *rateLimiter {
	return &rateLimiter{
		maxPerSec: maxPerSec,
		now:       time.Now,
		sleep:     sleepCtx,
	}
}

// Wait blocks until a slot is available or ctx is done. A limiter with
// maxPerSec <= 0 is disabled and returns immediately.
func (rl *rateLimiter) Wait(ctx context.Context) error {
	if rl.maxPerSec <= 0 {
		return nil
	}

	for {
		var sleepFor time.Duration

		rl.mu.Lock()
		now := rl.now()
		cutoff := now.Add(-rateLimitWindow)
		for len(rl.timestamps) > 0 && !rl.timestamps[0].After(cutoff) {
			rl.timestamps = rl.timestamps[1:]
		}

		if len(rl.timestamps) < rl.maxPerSec {
			rl.timestamps = append(rl.timestamps, now)
			rl.mu.Unlock()
			return nil
		}

		oldest := rl.timestamps[0]
		sleepFor = oldest.Add(rateLimitWindow).Sub(now)
		if sleepFor < time.Millisecond {
			sleepFor = time.Millisecond
		}
		rl.mu.Unlock()

		if err := rl.sleep(ctx, sleepFor); err != nil {
			return err
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
