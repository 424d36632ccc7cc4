package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"
)

// Backoff bounds a Retry. Zero values mean 3 attempts, a 100ms base delay
// and a 5s cap.
type Backoff struct {
	Attempts int
	Base     time.Duration
	Max      time.Duration
}

func (b Backoff) withDefaults() Backoff {
	if b.Attempts <= 0 {
		b.Attempts = 3
	}
	if b.Base <= 0 {
		b.Base = 100 * time.Millisecond
	}
	if b.Max <= 0 {
		b.Max = 5 * time.Second
	}
	return b
}

// delay is the wait after failed attempt n (1-based): uniformly random in
// [ceiling/2, ceiling] where ceiling doubles from Base up to Max.
func (b Backoff) delay(n int) time.Duration {
	ceiling := b.Base
	for i := 1; i < n && ceiling < b.Max; i++ {
		ceiling *= 2
	}
	ceiling = min(ceiling, b.Max)
	half := ceiling / 2
	return half + rand.N(half+1)
}

// Retry calls fn until it succeeds, the attempts run out or ctx is done.
// An error wrapped with Permanent stops the loop at once.
func Retry(ctx context.Context, name string, b Backoff, fn func() error) error {
	b = b.withDefaults()
	var err error
	for n := 1; ; n++ {
		err = fn()
		if err == nil {
			if n > 1 {
				slog.Info("retry succeeded", "operation", name, "attempt", n)
			}
			return nil
		}
		var perm permanent
		if errors.As(err, &perm) {
			return perm.err
		}
		if n == b.Attempts {
			return fmt.Errorf("%s failed after %d attempts: %w", name, n, err)
		}
		wait := b.delay(n)
		slog.Warn("retrying", "operation", name, "attempt", n, "wait", wait, "error", err)
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return fmt.Errorf("%s: %w (last error: %v)", name, ctx.Err(), err)
		}
	}
}

type permanent struct{ err error }

func (p permanent) Error() string { return p.err.Error() }
func (p permanent) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanent{err}
}
