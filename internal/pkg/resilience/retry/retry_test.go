package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTransient = errors.New("transient")

func TestRetry_Execute(t *testing.T) {
	t.Run("successful operation", func(t *testing.T) {
		callCount := 0

		err := New().Execute(t.Context(), func() error {
			callCount++
			return nil
		})

		assert.NoError(t, err)
		assert.Equal(t, 1, callCount)
	})

	t.Run("retry until success", func(t *testing.T) {
		var retried []uint
		r := New(
			WithAttempts(3),
			WithDelay(time.Millisecond),
			WithOnRetry(func(n uint, _ error) { retried = append(retried, n) }),
		)
		callCount := 0

		err := r.Execute(t.Context(), func() error {
			callCount++
			if callCount < 2 {
				return errTransient
			}
			return nil
		})

		assert.NoError(t, err)
		assert.Equal(t, 2, callCount)
		assert.Equal(t, []uint{0}, retried)
	})

	t.Run("retry exhausted returns the last error", func(t *testing.T) {
		r := New(
			WithAttempts(3),
			WithDelay(time.Millisecond),
			WithMaxDelay(5*time.Millisecond),
		)
		callCount := 0

		err := r.Execute(t.Context(), func() error {
			callCount++
			return errTransient
		})

		assert.ErrorIs(t, err, errTransient)
		assert.Equal(t, 3, callCount)
	})

	t.Run("errors rejected by RetryIf are not retried", func(t *testing.T) {
		permanent := errors.New("permanent")
		r := New(
			WithAttempts(5),
			WithDelay(time.Millisecond),
			WithRetryIf(func(err error) bool { return errors.Is(err, errTransient) }),
		)
		callCount := 0

		err := r.Execute(t.Context(), func() error {
			callCount++
			return permanent
		})

		assert.ErrorIs(t, err, permanent)
		assert.Equal(t, 1, callCount)
	})

	t.Run("context cancellation stops retrying", func(t *testing.T) {
		r := New(
			WithAttempts(5),
			WithDelay(time.Second),
		)
		callCount := 0

		ctx, cancel := context.WithCancel(t.Context())
		go func() {
			time.Sleep(10 * time.Millisecond)
			cancel()
		}()

		err := r.Execute(ctx, func() error {
			callCount++
			return errTransient
		})

		assert.Error(t, err)
		assert.Equal(t, 1, callCount)
	})
}

func TestRetry_Options(t *testing.T) {
	t.Run("default options", func(t *testing.T) {
		r, ok := New().(*retrier)
		require.True(t, ok)

		assert.Equal(t, uint(3), r.cfg.attempts)
		assert.Equal(t, 1*time.Second, r.cfg.delay)
		assert.Equal(t, 5*time.Second, r.cfg.maxDelay)
		assert.True(t, r.cfg.retryIf(errTransient))
	})

	t.Run("custom options", func(t *testing.T) {
		r, ok := New(
			WithAttempts(2),
			WithDelay(200*time.Millisecond),
			WithMaxDelay(time.Second),
			WithLastErrorOnly(false),
		).(*retrier)
		require.True(t, ok)

		assert.Equal(t, uint(2), r.cfg.attempts)
		assert.Equal(t, 200*time.Millisecond, r.cfg.delay)
		assert.Equal(t, time.Second, r.cfg.maxDelay)
		assert.False(t, r.cfg.lastErrOnly)
	})
}

type countingTimer struct {
	waits []time.Duration
}

func (c *countingTimer) After(d time.Duration) <-chan time.Time {
	c.waits = append(c.waits, d)
	ch := make(chan time.Time, 1)
	ch <- time.Time{}
	return ch
}

func TestRetry_WithTimer(t *testing.T) {
	timer := &countingTimer{}
	r := New(WithAttempts(3), WithDelay(time.Hour), WithMaxDelay(time.Hour), WithTimer(timer))

	err := r.Execute(t.Context(), func() error { return errTransient })

	assert.ErrorIs(t, err, errTransient)
	assert.Len(t, timer.waits, 2)
}
