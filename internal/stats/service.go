// Package stats aggregates the record streams into the statistics served to the
// dashboard. Aggregation is a pure function of the streams; nothing is cached.
package stats

import (
	"context"
	"fmt"
	"time"

	"github.com/gabapcia/rpcparity/internal/pkg/types"
	"github.com/gabapcia/rpcparity/internal/record"

	"github.com/jonboulle/clockwork"
)

const (
	defaultSampleWindow = 500
	defaultRecentLimit  = 20
)

// RecordReader reads the four record streams. Missing streams are empty.
type RecordReader interface {
	ReadAll(ctx context.Context) (record.Streams, error)
}

// Summary is the answer of the query surface.
type Summary struct {
	GeneratedAt      time.Time            `json:"generatedAt"`
	Stats            Aggregate            `json:"stats"`
	Samples          []record.Sample      `json:"samples"`
	RecentMismatches []ClassifiedMismatch `json:"recentMismatches"`
	RecentRecoveries []record.Recovery    `json:"recentRecoveries"`
	RecentErrors     []record.ErrorRecord `json:"recentErrors"`
	Malformed        map[record.Type]int  `json:"malformed"`
}

type Service interface {
	Summary(ctx context.Context) (Summary, error)
}

type service struct {
	reader       RecordReader
	clock        clockwork.Clock
	sampleWindow int
	recentLimit  int
}

var _ Service = (*service)(nil)

// last returns the last n items of s, newest first.
func last[T any](s []T, n int) []T {
	if n > len(s) {
		n = len(s)
	}

	out := make([]T, n)
	for i := range out {
		out[i] = s[len(s)-1-i]
	}
	return out
}

// tail returns the last n items of s in their original order.
func tail[T any](s []T, n int) []T {
	if n >= len(s) {
		return s
	}
	return s[len(s)-n:]
}

func (s *service) Summary(ctx context.Context) (Summary, error) {
	streams, err := s.reader.ReadAll(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("read record streams: %w", err)
	}

	malformed := types.NewDefaultMap[record.Type](func() int { return 0 })
	for _, m := range streams.Malformed {
		malformed.Update(m.Stream, func(n int) int { return n + 1 })
	}

	samples := streams.Samples
	if samples == nil {
		samples = []record.Sample{}
	}

	return Summary{
		GeneratedAt:      s.clock.Now().UTC(),
		Stats:            Compute(streams),
		Samples:          tail(samples, s.sampleWindow),
		RecentMismatches: last(Classify(streams.Mismatches, streams.Recoveries), s.recentLimit),
		RecentRecoveries: last(streams.Recoveries, s.recentLimit),
		RecentErrors:     last(streams.Errors, s.recentLimit),
		Malformed:        malformed.ToMap(),
	}, nil
}

type config struct {
	clock        clockwork.Clock
	sampleWindow int
	recentLimit  int
}

type Option func(*config)

// New returns a Service summarising the streams read by reader.
func New(reader RecordReader, opts ...Option) *service {
	cfg := config{
		clock:        clockwork.NewRealClock(),
		sampleWindow: defaultSampleWindow,
		recentLimit:  defaultRecentLimit,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	return &service{
		reader:       reader,
		clock:        cfg.clock,
		sampleWindow: cfg.sampleWindow,
		recentLimit:  cfg.recentLimit,
	}
}

func WithClock(clock clockwork.Clock) Option {
	return func(c *config) {
		c.clock = clock
	}
}

// WithSampleWindow sets how many of the latest samples a Summary carries.
func WithSampleWindow(n int) Option {
	return func(c *config) {
		c.sampleWindow = n
	}
}

// WithRecentLimit sets how many of the latest mismatches, recoveries and errors
// a Summary carries.
func WithRecentLimit(n int) Option {
	return func(c *config) {
		c.recentLimit = n
	}
}
