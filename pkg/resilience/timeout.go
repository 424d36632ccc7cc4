package resilience

import (
	"context"
	"fmt"
	"time"

	apperrors "github.com/BScong/text-indexing/pkg/errors"
)

// WithTimeout gives fn at most d. If fn has not returned by then the caller
// gets an error wrapping errors.ErrTimeout and context.DeadlineExceeded and
// fn is left to observe its cancelled context. A non-positive d runs fn
// inline.
func WithTimeout(ctx context.Context, d time.Duration, name string, fn func(ctx context.Context) error) error {
	if d <= 0 {
		return fn(ctx)
	}
	ctx, cancel := context.WithTimeoutCause(ctx, d, apperrors.ErrTimeout)
	defer cancel()

	result := make(chan error, 1)
	go func() { result <- fn(ctx) }()

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
	}
	if cause := context.Cause(ctx); cause != apperrors.ErrTimeout {
		return fmt.Errorf("%s: %w", name, cause)
	}
	return fmt.Errorf("%s: %w after %v: %w", name, apperrors.ErrTimeout, d, context.DeadlineExceeded)
}
