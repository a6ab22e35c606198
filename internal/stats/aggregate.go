package stats

import (
	"github.com/gabapcia/rpcparity/internal/pkg/types"
	"github.com/gabapcia/rpcparity/internal/record"
)

// MinMemorySamples is the number of memory readings required before a trend is reported.
const MinMemorySamples = 20

type Latency struct {
	PrimaryAvgMs   *float64 `json:"primaryAvgMs"`
	ReferenceAvgMs *float64 `json:"referenceAvgMs"`

	// Speedup is referenceAvg / primaryAvg.
	Speedup *float64 `json:"speedup"`
}

type Outcomes struct {
	Passed int `json:"passed"`
	Failed int `json:"failed"`
}

type BatchStats struct {
	Samples               int      `json:"samples"`
	OrderedRate           *float64 `json:"orderedRate"`
	MatchRate             *float64 `json:"matchRate"`
	PrimaryAvgLatencyMs   *float64 `json:"primaryAvgLatencyMs"`
	ReferenceAvgLatencyMs *float64 `json:"referenceAvgLatencyMs"`
	AvgSpeedup            *float64 `json:"avgSpeedup"`
}

type LogStats struct {
	Samples               int      `json:"samples"`
	MatchRate             *float64 `json:"matchRate"`
	PrimaryAvgLatencyMs   *float64 `json:"primaryAvgLatencyMs"`
	ReferenceAvgLatencyMs *float64 `json:"referenceAvgLatencyMs"`
}

// MemoryTrend compares the mean heap usage of the first and last tenth of the
// memory readings.
type MemoryTrend struct {
	Samples    int      `json:"samples"`
	FirstAvgMB *float64 `json:"firstAvgMB"`
	LastAvgMB  *float64 `json:"lastAvgMB"`
	DeltaMB    *float64 `json:"deltaMB"`
}

// BlockIntervals is the average time between two blocks, per side, measured
// from the block jumps of the samples.
type BlockIntervals struct {
	PrimaryAvgMs   *float64 `json:"primaryAvgMs"`
	ReferenceAvgMs *float64 `json:"referenceAvgMs"`
}

type MismatchCounts struct {
	Total      int                 `json:"total"`
	Recovered  int                 `json:"recovered"`
	Persistent int                 `json:"persistent"`
	Pending    int                 `json:"pending"`
	ByKind     map[record.Kind]int `json:"byKind"`
}

type ErrorCounts struct {
	Total  int                 `json:"total"`
	BySide map[record.Side]int `json:"bySide"`
	ByKind map[record.Kind]int `json:"byKind"`
}

// Aggregate is derived from the record streams on every request and never stored.
type Aggregate struct {
	Samples        int            `json:"samples"`
	Drift          Distribution   `json:"drift"`
	Latency        Latency        `json:"latency"`
	Outcomes       Outcomes       `json:"outcomes"`
	Batch          BatchStats     `json:"batch"`
	Logs           LogStats       `json:"logs"`
	Memory         MemoryTrend    `json:"memory"`
	BlockIntervals BlockIntervals `json:"blockIntervals"`
	Mismatches     MismatchCounts `json:"mismatches"`
	Errors         ErrorCounts    `json:"errors"`
}

func driftStats(samples []record.Sample) Distribution {
	drifts := make([]float64, len(samples))
	for i, s := range samples {
		drifts[i] = float64(s.Drift)
	}
	return Describe(drifts)
}

func latencyStats(samples []record.Sample) Latency {
	var primary, reference []float64
	for _, s := range samples {
		if s.PrimaryLatencyMs != nil {
			primary = append(primary, *s.PrimaryLatencyMs)
		}
		if s.ReferenceLatencyMs != nil {
			reference = append(reference, *s.ReferenceLatencyMs)
		}
	}

	l := Latency{PrimaryAvgMs: mean(primary), ReferenceAvgMs: mean(reference)}
	if l.PrimaryAvgMs != nil && l.ReferenceAvgMs != nil && *l.PrimaryAvgMs > 0 {
		l.Speedup = ptr(*l.ReferenceAvgMs / *l.PrimaryAvgMs)
	}
	return l
}

func outcomes(samples []record.Sample) Outcomes {
	var o Outcomes
	for _, s := range samples {
		if s.Matched {
			o.Passed++
		} else {
			o.Failed++
		}
	}
	return o
}

func batchStats(samples []record.Sample) BatchStats {
	var (
		b                            BatchStats
		ordered, matched             int
		primary, reference, speedups []float64
	)

	for _, s := range samples {
		if s.Batch == nil {
			continue
		}

		b.Samples++
		if s.Batch.Ordered() {
			ordered++
		}
		if s.Batch.Matched {
			matched++
		}
		primary = append(primary, s.Batch.PrimaryLatencyMs)
		reference = append(reference, s.Batch.ReferenceLatencyMs)
		if s.Batch.Speedup != nil {
			speedups = append(speedups, *s.Batch.Speedup)
		}
	}

	b.OrderedRate = rate(ordered, b.Samples)
	b.MatchRate = rate(matched, b.Samples)
	b.PrimaryAvgLatencyMs = mean(primary)
	b.ReferenceAvgLatencyMs = mean(reference)
	b.AvgSpeedup = mean(speedups)
	return b
}

func logStats(samples []record.Sample) LogStats {
	var (
		l                  LogStats
		matched            int
		primary, reference []float64
	)

	for _, s := range samples {
		if s.Logs == nil {
			continue
		}

		l.Samples++
		if s.Logs.Matched {
			matched++
		}
		primary = append(primary, s.Logs.PrimaryLatencyMs)
		reference = append(reference, s.Logs.ReferenceLatencyMs)
	}

	l.MatchRate = rate(matched, l.Samples)
	l.PrimaryAvgLatencyMs = mean(primary)
	l.ReferenceAvgLatencyMs = mean(reference)
	return l
}

// memoryTrend needs at least MinMemorySamples readings; the compared windows
// hold max(1, n/10) readings each.
func memoryTrend(samples []record.Sample) MemoryTrend {
	var heap []float64
	for _, s := range samples {
		if s.Memory != nil {
			heap = append(heap, s.Memory.HeapUsedMB)
		}
	}

	t := MemoryTrend{Samples: len(heap)}
	if len(heap) < MinMemorySamples {
		return t
	}

	k := max(1, len(heap)/10)
	t.FirstAvgMB = mean(heap[:k])
	t.LastAvgMB = mean(heap[len(heap)-k:])
	t.DeltaMB = ptr(*t.LastAvgMB - *t.FirstAvgMB)
	return t
}

func blockIntervals(samples []record.Sample) BlockIntervals {
	avg := func(jump func(record.Sample) record.BlockJump) *float64 {
		var blocks uint64
		var elapsed int64
		for _, s := range samples {
			j := jump(s)
			blocks += j.Blocks
			elapsed += j.ElapsedMs
		}

		if blocks == 0 {
			return nil
		}
		return ptr(float64(elapsed) / float64(blocks))
	}

	return BlockIntervals{
		PrimaryAvgMs:   avg(func(s record.Sample) record.BlockJump { return s.PrimaryJump }),
		ReferenceAvgMs: avg(func(s record.Sample) record.BlockJump { return s.ReferenceJump }),
	}
}

func mismatchCounts(classified []ClassifiedMismatch) MismatchCounts {
	byKind := types.NewDefaultMap[record.Kind](func() int { return 0 })
	c := MismatchCounts{Total: len(classified)}

	for _, m := range classified {
		byKind.Update(m.Kind, func(n int) int { return n + 1 })
		switch m.Status {
		case StatusRecovered:
			c.Recovered++
		case StatusPersistent:
			c.Persistent++
		default:
			c.Pending++
		}
	}

	c.ByKind = byKind.ToMap()
	return c
}

func errorCounts(errs []record.ErrorRecord) ErrorCounts {
	bySide := types.NewDefaultMap[record.Side](func() int { return 0 })
	byKind := types.NewDefaultMap[record.Kind](func() int { return 0 })
	inc := func(n int) int { return n + 1 }

	for _, e := range errs {
		bySide.Update(e.Side, inc)
		byKind.Update(e.Kind, inc)
	}

	return ErrorCounts{
		Total:  len(errs),
		BySide: bySide.ToMap(),
		ByKind: byKind.ToMap(),
	}
}

// Compute derives the aggregate statistics of streams. It is a pure function
// of its input.
func Compute(streams record.Streams) Aggregate {
	samples := streams.Samples

	return Aggregate{
		Samples:        len(samples),
		Drift:          driftStats(samples),
		Latency:        latencyStats(samples),
		Outcomes:       outcomes(samples),
		Batch:          batchStats(samples),
		Logs:           logStats(samples),
		Memory:         memoryTrend(samples),
		BlockIntervals: blockIntervals(samples),
		Mismatches:     mismatchCounts(Classify(streams.Mismatches, streams.Recoveries)),
		Errors:         errorCounts(streams.Errors),
	}
}
