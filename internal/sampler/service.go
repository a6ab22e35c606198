// Package sampler drives the comparison loop: on every iteration it reads the
// head of both backends, runs the planned reads at the lower of the two heights,
// stores a sample with the mismatches and errors it found and hands mismatches
// to the recovery lifecycle.
package sampler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gabapcia/rpcparity/internal/backend"
	"github.com/gabapcia/rpcparity/internal/pkg/logger"
	"github.com/gabapcia/rpcparity/internal/pkg/memprobe"
	"github.com/gabapcia/rpcparity/internal/pkg/x/chflow"
	"github.com/gabapcia/rpcparity/internal/record"
	"github.com/gabapcia/rpcparity/internal/recovery"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

var ErrServiceAlreadyStarted = errors.New("service already started")

const tracerName = "github.com/gabapcia/rpcparity/internal/sampler"

// RecordStorage persists the records produced by an iteration.
type RecordStorage interface {
	Append(ctx context.Context, r record.Record) error
}

// Observer is notified of every record an iteration produces.
type Observer interface {
	ObserveSample(ctx context.Context, s record.Sample)
	ObserveMismatch(ctx context.Context, m record.Mismatch)
	ObserveError(ctx context.Context, e record.ErrorRecord)
}

type nopObserver struct{}

func (nopObserver) ObserveSample(context.Context, record.Sample)     {}
func (nopObserver) ObserveMismatch(context.Context, record.Mismatch) {}
func (nopObserver) ObserveError(context.Context, record.ErrorRecord) {}

type Service interface {
	// Start runs the loop in the background until Close is called or ctx ends.
	Start(ctx context.Context) error

	// Close stops the loop once the running iteration completed, then waits
	// for pending re-checks up to the drain timeout and abandons the rest.
	Close()
}

type closeFunc func()

type service struct {
	mu        sync.Mutex
	isStarted bool
	closeFunc closeFunc

	primary   backend.Client
	reference backend.Client
	storage   RecordStorage
	recovery  recovery.Service
	plan      Plan

	clock        clockwork.Clock
	tracer       trace.Tracer
	observer     Observer
	probe        memprobe.Probe
	runID        string
	interval     time.Duration
	errorBackoff time.Duration
	drainTimeout time.Duration
	memoryEvery  int
	strictLogs   bool

	// Owned by the loop goroutine.
	iterations    uint64
	mismatchSeq   uint64
	primaryHead   blockTracker
	referenceHead blockTracker
}

var _ Service = (*service)(nil)

func (s *service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isStarted {
		return ErrServiceAlreadyStarted
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	s.closeFunc = func() {
		cancel()
		<-done
		s.shutdownRecovery(context.WithoutCancel(ctx))
	}

	go s.loop(ctx, done)

	s.isStarted = true
	return nil
}

func (s *service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closeFunc != nil {
		s.closeFunc()
	}
	s.isStarted = false
	s.closeFunc = nil
}

func (s *service) shutdownRecovery(ctx context.Context) {
	if s.drainTimeout > 0 {
		drainCtx, cancel := context.WithTimeout(ctx, s.drainTimeout)
		defer cancel()

		if err := s.recovery.Drain(drainCtx); err != nil {
			logger.Warn(ctx, "abandoning pending re-checks", "recovery.pending", len(s.recovery.Pending()))
		}
	}

	s.recovery.Close()
}

// loop runs iterations until ctx ends. A running iteration is never
// interrupted: its calls are only bounded by the backend call timeout.
func (s *service) loop(ctx context.Context, done chan<- struct{}) {
	defer close(done)

	ctx = logger.Derive(ctx, "run.id", s.runID)
	logger.Info(ctx, "sampler started", "sampler.interval", s.interval.String())

	for ctx.Err() == nil {
		wait := s.interval
		if err := s.iterate(context.WithoutCancel(ctx)); err != nil {
			logger.Error(ctx, "iteration failed", "error", err, "sampler.backoff", s.errorBackoff.String())
			wait = s.errorBackoff
		}

		if !chflow.Sleep(ctx, s.clock, wait) {
			break
		}
	}

	logger.Info(ctx, "sampler stopped", "sampler.iterations", s.iterations)
}

type config struct {
	clock        clockwork.Clock
	tracer       trace.Tracer
	observer     Observer
	probe        memprobe.Probe
	runID        string
	interval     time.Duration
	errorBackoff time.Duration
	drainTimeout time.Duration
	memoryEvery  int
	strictLogs   bool
}

type Option func(*config)

// New returns a sampler comparing primary against reference according to plan.
func New(primary, reference backend.Client, storage RecordStorage, recoverySvc recovery.Service, plan Plan, opts ...Option) *service {
	cfg := config{
		clock:        clockwork.NewRealClock(),
		tracer:       otel.Tracer(tracerName),
		observer:     nopObserver{},
		probe:        memprobe.New(),
		runID:        uuid.Must(uuid.NewV7()).String(),
		interval:     2 * time.Second,
		errorBackoff: 10 * time.Second,
		drainTimeout: 10 * time.Second,
		memoryEvery:  10,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	return &service{
		primary:      primary,
		reference:    reference,
		storage:      storage,
		recovery:     recoverySvc,
		plan:         plan,
		clock:        cfg.clock,
		tracer:       cfg.tracer,
		observer:     cfg.observer,
		probe:        cfg.probe,
		runID:        cfg.runID,
		interval:     cfg.interval,
		errorBackoff: cfg.errorBackoff,
		drainTimeout: cfg.drainTimeout,
		memoryEvery:  cfg.memoryEvery,
		strictLogs:   cfg.strictLogs,
	}
}

// RunID returns the identifier stamped on the mismatches of this process.
func (s *service) RunID() string {
	return s.runID
}

func WithClock(clock clockwork.Clock) Option {
	return func(c *config) {
		c.clock = clock
	}
}

func WithObserver(o Observer) Option {
	return func(c *config) {
		c.observer = o
	}
}

// WithMemoryProbe replaces the probe and takes a snapshot every n iterations.
// n <= 0 disables snapshots.
func WithMemoryProbe(p memprobe.Probe, every int) Option {
	return func(c *config) {
		c.probe = p
		c.memoryEvery = every
	}
}

func WithRunID(id string) Option {
	return func(c *config) {
		c.runID = id
	}
}

// WithInterval sets the pause between two successful iterations.
func WithInterval(d time.Duration) Option {
	return func(c *config) {
		c.interval = d
	}
}

// WithErrorBackoff sets the pause after a failed iteration.
func WithErrorBackoff(d time.Duration) Option {
	return func(c *config) {
		c.errorBackoff = d
	}
}

// WithDrainTimeout bounds how long Close waits for pending re-checks. Zero
// abandons them at once.
func WithDrainTimeout(d time.Duration) Option {
	return func(c *config) {
		c.drainTimeout = d
	}
}

// WithStrictLogs also flags logs returned only by the primary.
func WithStrictLogs(strict bool) Option {
	return func(c *config) {
		c.strictLogs = strict
	}
}
