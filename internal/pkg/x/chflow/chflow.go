// Package chflow holds context-aware channel helpers.
package chflow

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
)

// Receive waits for a value on ch or the end of ctx. The boolean is false
// when ctx ended first or ch was closed.
func Receive[T any](ctx context.Context, ch <-chan T) (T, bool) {
	var data T
	select {
	case <-ctx.Done():
		return data, false
	case data, ok := <-ch:
		return data, ok
	}
}

// Sleep waits d on clock. It returns false when ctx ended first. A
// non-positive d returns immediately unless ctx is already done.
func Sleep(ctx context.Context, clock clockwork.Clock, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}

	_, ok := Receive(ctx, clock.After(d))
	return ok
}
