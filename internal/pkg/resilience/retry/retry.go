// Package retry wraps avast/retry-go behind a small interface with functional
// options. Attempts back off exponentially between delay and maxDelay.
//
//	r := retry.New(
//	    retry.WithAttempts(2),
//	    retry.WithDelay(200*time.Millisecond),
//	    retry.WithRetryIf(isTransient),
//	)
//	err := r.Execute(ctx, func() error { return recheck(ctx) })
package retry

import (
	"context"
	"time"

	retry "github.com/avast/retry-go/v4"
)

// Retry executes an operation until it succeeds, the attempts run out or the
// context is done.
type Retry interface {
	// Execute runs operation with the configured retry policy. operation must
	// be safe to call more than once.
	Execute(ctx context.Context, operation func() error) error
}

type config struct {
	attempts    uint
	delay       time.Duration
	maxDelay    time.Duration
	lastErrOnly bool
	retryIf     func(error) bool
	onRetry     func(attempt uint, err error)
	timer       retry.Timer
}

type Option func(*config)

type retrier struct {
	cfg config
}

var _ Retry = (*retrier)(nil)

// New returns a Retry. Defaults: 3 attempts, 1s base delay capped at 5s, only
// the last error returned, every error retried.
func New(opts ...Option) Retry {
	cfg := config{
		attempts:    3,
		delay:       1 * time.Second,
		maxDelay:    5 * time.Second,
		lastErrOnly: true,
		retryIf:     retry.IsRecoverable,
		onRetry:     func(uint, error) {},
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	return &retrier{
		cfg: cfg,
	}
}

// Execute implements Retry.
func (r *retrier) Execute(ctx context.Context, operation func() error) error {
	options := []retry.Option{
		retry.Attempts(r.cfg.attempts),
		retry.Delay(r.cfg.delay),
		retry.MaxDelay(r.cfg.maxDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(r.cfg.lastErrOnly),
		retry.RetryIf(r.cfg.retryIf),
		retry.OnRetry(r.cfg.onRetry),
		retry.Context(ctx),
	}
	if r.cfg.timer != nil {
		options = append(options, retry.WithTimer(r.cfg.timer))
	}

	return retry.Do(operation, options...)
}

// WithAttempts sets the total number of attempts, the first one included.
func WithAttempts(n uint) Option {
	return func(c *config) {
		c.attempts = n
	}
}

// WithDelay sets the base delay before the first retry.
func WithDelay(d time.Duration) Option {
	return func(c *config) {
		c.delay = d
	}
}

// WithMaxDelay caps the backoff between attempts.
func WithMaxDelay(d time.Duration) Option {
	return func(c *config) {
		c.maxDelay = d
	}
}

// WithLastErrorOnly sets whether only the final error is returned instead of
// all attempt errors combined.
func WithLastErrorOnly(b bool) Option {
	return func(c *config) {
		c.lastErrOnly = b
	}
}

// WithRetryIf restricts retries to errors for which f returns true.
func WithRetryIf(f func(error) bool) Option {
	return func(c *config) {
		c.retryIf = f
	}
}

// WithOnRetry registers a callback invoked after each failed attempt that is
// going to be retried.
func WithOnRetry(f func(attempt uint, err error)) Option {
	return func(c *config) {
		c.onRetry = f
	}
}

// WithTimer sets the source of the waits between attempts, e.g. a
// clockwork.Clock in tests.
func WithTimer(t retry.Timer) Option {
	return func(c *config) {
		c.timer = t
	}
}
