package sampler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gabapcia/rpcparity/internal/backend"
	"github.com/gabapcia/rpcparity/internal/compare"
	"github.com/gabapcia/rpcparity/internal/pkg/logger"
	"github.com/gabapcia/rpcparity/internal/record"
	"github.com/gabapcia/rpcparity/internal/recovery"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrHeightUnavailable is returned when the head of either backend could not be read.
	ErrHeightUnavailable = errors.New("block height unavailable")

	// ErrStorage is returned when the records of an iteration could not be stored.
	ErrStorage = errors.New("record storage failed")
)

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func meanMs(ds []time.Duration) *float64 {
	if len(ds) == 0 {
		return nil
	}

	var total time.Duration
	for _, d := range ds {
		total += d
	}

	v := ms(total) / float64(len(ds))
	return &v
}

// detected is a mismatch together with the request to repeat for its re-check.
type detected struct {
	mismatch record.Mismatch
	request  backend.Request
}

// iteration accumulates the outcome of one pass over the plan.
type iteration struct {
	at     time.Time
	block  uint64
	sample record.Sample

	primaryLatencies   []time.Duration
	referenceLatencies []time.Duration

	errors     []record.ErrorRecord
	mismatches []detected
	incomplete bool
}

// fail records a backend call that failed outright.
func (it *iteration) fail(kind record.Kind, side record.Side, err error) {
	it.incomplete = true
	it.errors = append(it.errors, record.NewError(it.at, it.block, kind, side, err.Error()))

	switch side {
	case record.SidePrimary:
		it.sample.PrimaryErrors++
	case record.SideReference:
		it.sample.ReferenceErrors++
	}
}

// pairResults records the failures of either side and reports whether both
// sides answered.
func (it *iteration) pairResults(kind record.Kind, primary, reference error) bool {
	if primary != nil {
		it.fail(kind, record.SidePrimary, primary)
	}
	if reference != nil {
		it.fail(kind, record.SideReference, reference)
	}
	return primary == nil && reference == nil
}

// both runs primary and reference concurrently and waits for the two.
func both(primary, reference func()) {
	var g errgroup.Group
	g.Go(func() error { primary(); return nil })
	g.Go(func() error { reference(); return nil })
	_ = g.Wait()
}

func (s *service) fetchHeights(ctx context.Context) (primary, reference backend.HeightResult) {
	both(
		func() { primary = s.primary.BlockNumber(ctx) },
		func() { reference = s.reference.BlockNumber(ctx) },
	)
	return primary, reference
}

func (s *service) nextMismatch(it *iteration, req backend.Request, label, primary, reference string) {
	s.mismatchSeq++
	m := record.NewMismatch(record.FormatMismatchID(s.mismatchSeq), s.runID, it.at, it.block, req.Kind, label, primary, reference)
	it.mismatches = append(it.mismatches, detected{mismatch: m, request: req})
	it.incomplete = true
}

func (s *service) compareSingle(ctx context.Context, it *iteration, req backend.Request) {
	var p, r backend.Result
	both(
		func() { p = s.primary.Call(ctx, req) },
		func() { r = s.reference.Call(ctx, req) },
	)

	it.sample.Comparisons++
	if p.Err == nil {
		it.primaryLatencies = append(it.primaryLatencies, p.Latency)
	}
	if r.Err == nil {
		it.referenceLatencies = append(it.referenceLatencies, r.Latency)
	}

	if !it.pairResults(req.Kind, p.Err, r.Err) {
		return
	}

	if !compare.Values(p.Value, r.Value) {
		s.nextMismatch(it, req, req.Context, p.Value, r.Value)
	}
}

func (s *service) compareLogs(ctx context.Context, it *iteration, req backend.Request) {
	var p, r backend.Result
	both(
		func() { p = s.primary.Call(ctx, req) },
		func() { r = s.reference.Call(ctx, req) },
	)

	it.sample.Comparisons++
	metrics := &record.LogMetrics{
		PrimaryLatencyMs:   ms(p.Latency),
		ReferenceLatencyMs: ms(r.Latency),
	}
	it.sample.Logs = metrics

	if !it.pairResults(req.Kind, p.Err, r.Err) {
		return
	}

	res := compare.Logs(p.Logs, r.Logs, s.strictLogs)
	metrics.Matched = res.Matched
	metrics.PrimaryCount = res.PrimaryCount
	metrics.ReferenceCount = res.ReferenceCount

	if !res.Matched {
		s.nextMismatch(it, req, req.Context, p.Value, r.Value)
	}
}

// batchEntryErrors summarises the failed entries of an otherwise answered batch.
func batchEntryErrors(res backend.BatchResult) error {
	var (
		failed int
		first  error
	)
	for _, e := range res.Entries {
		if e.Err != nil {
			failed++
			if first == nil {
				first = e.Err
			}
		}
	}

	if failed == 0 {
		return nil
	}
	return fmt.Errorf("%d of %d batch entries failed: %w", failed, len(res.Entries), first)
}

func (s *service) compareBatch(ctx context.Context, it *iteration, reqs []backend.Request) {
	var p, r backend.BatchResult
	both(
		func() { p = s.primary.BatchCall(ctx, reqs) },
		func() { r = s.reference.BatchCall(ctx, reqs) },
	)

	it.sample.Comparisons++
	sides := []struct {
		side record.Side
		res  backend.BatchResult
	}{
		{record.SidePrimary, p},
		{record.SideReference, r},
	}
	for _, sd := range sides {
		if sd.res.Err != nil {
			it.fail(record.KindBatch, sd.side, sd.res.Err)
		} else if err := batchEntryErrors(sd.res); err != nil {
			it.fail(record.KindBatch, sd.side, err)
		}
	}

	res := compare.Batch(len(reqs), p, r)
	it.sample.Batch = &record.BatchMetrics{
		Size:               len(reqs),
		PrimaryLatencyMs:   ms(p.Latency),
		ReferenceLatencyMs: ms(r.Latency),
		PrimaryOrdered:     res.PrimaryOrdered,
		ReferenceOrdered:   res.ReferenceOrdered,
		Matched:            res.Matched,
		Compared:           res.Compared,
		Disagreements:      len(res.Disagreements),
		Speedup: compare.Speedup(
			meanMs(it.primaryLatencies),
			meanMs(it.referenceLatencies),
			len(reqs),
			ms(p.Latency),
		),
	}

	if res.Matched {
		if len(res.Disagreements) > 0 {
			ids := make([]int, 0, len(res.Disagreements))
			for _, d := range res.Disagreements {
				ids = append(ids, d.ID)
			}
			logger.Warn(ctx, "batch disagreements within tolerance",
				"batch.ids", ids,
				"batch.compared", res.Compared,
				"batch.block", it.block,
			)
		}
		return
	}

	it.incomplete = true
	for _, d := range res.Disagreements {
		req := reqs[d.ID-1]
		s.nextMismatch(it, req, req.Context, d.Primary, d.Reference)
	}
}

// persist stores the records of it. A mismatch is only handed to the recovery
// lifecycle once it has been stored.
func (s *service) persist(ctx context.Context, it *iteration, withSample bool) error {
	var errs []error

	for _, e := range it.errors {
		s.observer.ObserveError(ctx, e)
		if err := s.storage.Append(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}

	for _, d := range it.mismatches {
		s.observer.ObserveMismatch(ctx, d.mismatch)
		if err := s.storage.Append(ctx, d.mismatch); err != nil {
			errs = append(errs, err)
			continue
		}

		mctx := logger.Derive(ctx, "mismatch.id", d.mismatch.ID, "mismatch.kind", d.mismatch.Kind, "mismatch.block", d.mismatch.Block)
		logger.Warn(mctx, "value mismatch detected",
			"mismatch.context", d.mismatch.Context,
			"mismatch.primary", d.mismatch.PrimaryValue,
			"mismatch.reference", d.mismatch.ReferenceValue,
		)

		if err := s.recovery.Schedule(mctx, recovery.CheckFromMismatch(d.mismatch, d.request)); err != nil {
			logger.Error(mctx, "could not schedule re-check", "error", err)
		}
	}

	if withSample {
		s.observer.ObserveSample(ctx, it.sample)
		if err := s.storage.Append(ctx, it.sample); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrStorage, errors.Join(errs...))
	}
	return nil
}

// iterate runs one pass: heights, comparable block, comparisons and records.
func (s *service) iterate(ctx context.Context) (err error) {
	ctx, span := s.tracer.Start(ctx, "sampler.iteration")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	s.iterations++
	it := &iteration{at: s.clock.Now()}

	primary, reference := s.fetchHeights(ctx)
	if !it.pairResults(record.KindBlockNumber, primary.Err, reference.Err) {
		heightErr := errors.Join(ErrHeightUnavailable, primary.Err, reference.Err)
		return errors.Join(heightErr, s.persist(ctx, it, false))
	}

	it.block = min(primary.Height, reference.Height)
	it.sample = record.NewSample(it.at, primary.Height, reference.Height)
	it.sample.PrimaryJump = s.primaryHead.observe(primary.Height, it.at)
	it.sample.ReferenceJump = s.referenceHead.observe(reference.Height, it.at)

	span.SetAttributes(
		attribute.Int64("block.comparable", int64(it.block)),
		attribute.Int64("block.drift", it.sample.Drift),
	)

	for _, req := range s.plan.singleRequests(it.block) {
		s.compareSingle(ctx, it, req)
	}

	if s.plan.Logs != nil {
		s.compareLogs(ctx, it, logRequest(*s.plan.Logs, it.block))
	}

	if reqs := s.plan.batchRequests(it.block); len(reqs) > 0 {
		s.compareBatch(ctx, it, reqs)
	}

	if s.memoryEvery > 0 && s.iterations%uint64(s.memoryEvery) == 0 {
		snap := s.probe.Snapshot()
		it.sample.Memory = &snap
	}

	it.sample.PrimaryLatencyMs = meanMs(it.primaryLatencies)
	it.sample.ReferenceLatencyMs = meanMs(it.referenceLatencies)
	it.sample.Matched = !it.incomplete

	span.SetAttributes(
		attribute.Bool("sample.matched", it.sample.Matched),
		attribute.Int("sample.mismatches", len(it.mismatches)),
	)

	return s.persist(ctx, it, true)
}
