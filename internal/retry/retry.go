// internal/retry/retry.go

// Package retry holds context-aware waiting helpers.
package retry

import (
	"context"
	"time"
)

// Sleep waits for d or until ctx is done, whichever comes first. It returns
// ctx.Err() in the latter case.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Poll calls fn every interval until it reports done, ctx ends, or timeout
// elapses. fn runs once immediately. It returns true when fn reported done.
func Poll(ctx context.Context, interval, timeout time.Duration, fn func() bool) (bool, error) {
	deadline := time.Now().Add(timeout)
	for {
		if fn() {
			return true, nil
		}
		if err := ctx.Err(); err != nil {
			return false, err
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false, nil
		}
		if err := Sleep(ctx, min(interval, remaining)); err != nil {
			return false, err
		}
	}
}
