// Package recovery runs the mismatch lifecycle: every detected mismatch is
// re-checked against the reference backend after a delay and classified as
// recovered or persistent.
package recovery

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/gabapcia/rpcparity/internal/backend"
	"github.com/gabapcia/rpcparity/internal/compare"
	"github.com/gabapcia/rpcparity/internal/pkg/logger"
	"github.com/gabapcia/rpcparity/internal/pkg/resilience/retry"
	"github.com/gabapcia/rpcparity/internal/pkg/transport/jsonrpc"
	"github.com/gabapcia/rpcparity/internal/pkg/x/chflow"
	"github.com/gabapcia/rpcparity/internal/record"

	"github.com/jonboulle/clockwork"
)

var (
	// ErrTooManyPending is returned by Schedule when the number of in-flight
	// re-checks reached the configured bound.
	ErrTooManyPending = errors.New("too many pending re-checks")

	// ErrAlreadyScheduled is returned when a re-check for the same mismatch is in flight.
	ErrAlreadyScheduled = errors.New("re-check already scheduled")

	// ErrServiceClosed is returned by Schedule after Close.
	ErrServiceClosed = errors.New("recovery service closed")
)

const (
	defaultDelay      = 5 * time.Second
	defaultMaxPending = 1000
	defaultAttempts   = 2
)

type Service interface {
	// Schedule registers a re-check of c. It never waits for the re-check.
	Schedule(ctx context.Context, c Check) error

	// Pending returns the mismatch ids whose re-check has not completed, in
	// scheduling order.
	Pending() []string

	// Drain waits until every scheduled re-check completed or ctx is done.
	Drain(ctx context.Context) error

	// Close cancels the outstanding re-checks. Cancelled re-checks write no record.
	Close()
}

type recoveryHandler func(ctx context.Context, r record.Recovery)

type task struct {
	seq    uint64
	check  Check
	cancel context.CancelFunc
}

type service struct {
	mu     sync.Mutex
	closed bool
	seq    uint64
	tasks  map[string]task
	wg     sync.WaitGroup

	reference       backend.Client
	storage         RecordStorage
	clock           clockwork.Clock
	delay           time.Duration
	maxPending      int
	attempts        uint
	recoveryHandler recoveryHandler
}

var _ Service = (*service)(nil)

func (s *service) Schedule(ctx context.Context, c Check) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrServiceClosed
	}

	key := c.key()
	if _, ok := s.tasks[key]; ok {
		return ErrAlreadyScheduled
	}

	if len(s.tasks) >= s.maxPending {
		return ErrTooManyPending
	}

	taskCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	taskCtx = logger.Derive(taskCtx, "mismatch.id", c.MismatchID, "mismatch.run_id", c.RunID, "mismatch.kind", c.Kind)

	s.seq++
	s.tasks[key] = task{seq: s.seq, check: c, cancel: cancel}

	s.wg.Add(1)
	go s.run(taskCtx, c)

	return nil
}

func (s *service) Pending() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	tasks := make([]task, 0, len(s.tasks))
	for _, t := range s.tasks {
		tasks = append(tasks, t)
	}
	slices.SortFunc(tasks, func(a, b task) int { return cmp.Compare(a.seq, b.seq) })

	ids := make([]string, len(tasks))
	for i, t := range tasks {
		ids[i] = t.check.MismatchID
	}
	return ids
}

func (s *service) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	if _, ok := chflow.Receive(ctx, done); !ok && ctx.Err() != nil {
		return ctx.Err()
	}
	return nil
}

func (s *service) Close() {
	s.mu.Lock()
	s.closed = true
	for _, t := range s.tasks {
		t.cancel()
	}
	s.mu.Unlock()

	s.wg.Wait()
}

func (s *service) remove(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.tasks[key]; ok {
		t.cancel()
		delete(s.tasks, key)
	}
}

// run waits until the delay after detection elapsed, re-checks and stores the
// outcome. A cancelled task returns without writing anything.
func (s *service) run(ctx context.Context, c Check) {
	defer s.wg.Done()
	defer s.remove(c.key())

	if !chflow.Sleep(ctx, s.clock, c.DetectedAt.Add(s.delay).Sub(s.clock.Now())) {
		logger.Warn(ctx, "re-check abandoned before running")
		return
	}

	rec := s.recheck(ctx, c)
	if ctx.Err() != nil {
		logger.Warn(ctx, "re-check abandoned while running")
		return
	}

	if err := s.storage.Append(ctx, rec); err != nil {
		logger.Error(ctx, "could not store recovery record", "error", err)
		return
	}

	s.recoveryHandler(ctx, rec)
}

// recheck queries the reference again and compares the fresh value with the
// original primary value.
func (s *service) recheck(ctx context.Context, c Check) record.Recovery {
	r := retry.New(
		retry.WithAttempts(s.attempts),
		retry.WithDelay(200*time.Millisecond),
		retry.WithMaxDelay(time.Second),
		retry.WithLastErrorOnly(true),
		retry.WithRetryIf(retryable),
		retry.WithTimer(s.clock),
		retry.WithOnRetry(func(attempt uint, err error) {
			logger.Warn(ctx, "re-check attempt failed", "recovery.attempt", attempt+1, "error", err)
		}),
	)

	var res backend.Result
	err := r.Execute(ctx, func() error {
		res = s.reference.Call(ctx, c.Request)
		return res.Err
	})

	if err != nil {
		return record.NewRecovery(c.MismatchID, c.RunID, s.clock.Now(), false, nil, err.Error())
	}

	value := res.Value
	return record.NewRecovery(c.MismatchID, c.RunID, s.clock.Now(), compare.Values(value, c.PrimaryValue), &value, "")
}

// retryable reports whether a failed re-check is worth repeating. Errors the
// provider answered with are final.
func retryable(err error) bool {
	return !errors.Is(err, jsonrpc.ErrProviderReturnedError)
}

func defaultOnRecovery(ctx context.Context, r record.Recovery) {
	if r.Recovered {
		logger.Info(ctx, "mismatch recovered")
		return
	}

	logger.Warn(ctx, "mismatch persistent", "recovery.error", r.Error)
}

type config struct {
	clock           clockwork.Clock
	delay           time.Duration
	maxPending      int
	attempts        uint
	recoveryHandler recoveryHandler
}

type Option func(*config)

// New returns a Service re-checking mismatches against reference and writing
// the outcome to storage.
func New(reference backend.Client, storage RecordStorage, opts ...Option) *service {
	cfg := config{
		clock:           clockwork.NewRealClock(),
		delay:           defaultDelay,
		maxPending:      defaultMaxPending,
		attempts:        defaultAttempts,
		recoveryHandler: defaultOnRecovery,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	return &service{
		tasks:           make(map[string]task),
		reference:       reference,
		storage:         storage,
		clock:           cfg.clock,
		delay:           cfg.delay,
		maxPending:      cfg.maxPending,
		attempts:        cfg.attempts,
		recoveryHandler: cfg.recoveryHandler,
	}
}

func WithClock(clock clockwork.Clock) Option {
	return func(c *config) {
		c.clock = clock
	}
}

// WithDelay sets how long after detection a mismatch is re-checked.
func WithDelay(d time.Duration) Option {
	return func(c *config) {
		c.delay = d
	}
}

// WithMaxPending bounds the number of in-flight re-checks.
func WithMaxPending(n int) Option {
	return func(c *config) {
		c.maxPending = n
	}
}

// WithAttempts sets how many times the reference is queried per re-check
// before the re-check counts as failed. Values below 1 are ignored.
func WithAttempts(n uint) Option {
	return func(c *config) {
		if n > 0 {
			c.attempts = n
		}
	}
}

// WithRecoveryHandler replaces the callback invoked after each stored recovery record.
func WithRecoveryHandler(f recoveryHandler) Option {
	return func(c *config) {
		c.recoveryHandler = f
	}
}
