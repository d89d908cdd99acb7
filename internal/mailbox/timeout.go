package mailbox

import (
	"context"
	"time"
)

// withTimeout executes fn with a deadline derived from ctx. The IMAP
// client's command API does not take a context, so blocking calls are
// run on a goroutine and abandoned on expiry.
func withTimeout(ctx context.Context, timeout time.Duration, fn func() error) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- fn()
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// acquireWithTimeout runs acquire with a deadline derived from ctx.
// If the deadline fires first, the call returns the context error and
// the abandoned goroutine releases whatever acquire eventually
// produced, so a slow-but-successful acquisition never leaks.
func acquireWithTimeout[T any](
	ctx context.Context,
	timeout time.Duration,
	acquire func() (T, error),
	release func(T),
) (T, error) {
	var zero T
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		value T
		err   error
	}
	done := make(chan result, 1)
	go func() {
		value, err := acquire()
		done <- result{value: value, err: err}
	}()

	select {
	case res := <-done:
		return res.value, res.err
	case <-ctx.Done():
		go func() {
			if res := <-done; res.err == nil {
				release(res.value)
			}
		}()
		return zero, ctx.Err()
	}
}
