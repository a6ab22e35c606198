// Package compare decides whether the answers of the two backends for the
// same read at the same block are equivalent.
package compare

import (
	"math"
	"slices"

	"github.com/gabapcia/rpcparity/internal/backend"
	"github.com/gabapcia/rpcparity/internal/pkg/types"
)

// BatchTolerance is the fraction of compared batch ids allowed to disagree
// before a batch stops matching.
const BatchTolerance = 0.1

// Values reports whether two canonical values are equal. No tolerance is applied.
func Values(primary, reference string) bool {
	return primary == reference
}

// LogResult is the outcome of comparing the results of one log query.
type LogResult struct {
	Matched        bool
	PrimaryCount   int
	ReferenceCount int

	// Missing holds reference keys absent on the primary.
	Missing []backend.LogKey

	// Extra holds primary keys absent on the reference. It is only filled in
	// strict mode.
	Extra []backend.LogKey
}

// Logs compares two log query results. Counts are compared first; then every
// reference key must exist on the primary. In strict mode primary-only keys are
// a mismatch too.
func Logs(primary, reference []backend.LogKey, strict bool) LogResult {
	res := LogResult{
		PrimaryCount:   len(primary),
		ReferenceCount: len(reference),
	}

	primaryKeys := types.NewSet(primary...)
	for _, k := range reference {
		if !primaryKeys.Has(k) {
			res.Missing = append(res.Missing, k)
		}
	}

	if strict {
		referenceKeys := types.NewSet(reference...)
		for _, k := range primary {
			if !referenceKeys.Has(k) {
				res.Extra = append(res.Extra, k)
			}
		}
	}

	res.Matched = res.PrimaryCount == res.ReferenceCount && len(res.Missing) == 0 && len(res.Extra) == 0
	return res
}

// Disagreement is a batch id whose values differ between the two sides.
type Disagreement struct {
	ID        int
	Primary   string
	Reference string
}

// BatchResult is the outcome of comparing one batch sent to both sides.
type BatchResult struct {
	PrimaryOrdered   bool
	ReferenceOrdered bool
	Compared         int
	Disagreements    []Disagreement
	Matched          bool
}

// Ordered reports whether entry i of res carries id i+1 for every requested id.
// A batch that failed as a whole is not ordered.
func Ordered(size int, res backend.BatchResult) bool {
	if res.Err != nil || len(res.Entries) != size {
		return false
	}

	for i, e := range res.Entries {
		if e.ID != i+1 {
			return false
		}
	}

	return true
}

// failedTotally reports whether a side produced no usable entry at all.
func failedTotally(res backend.BatchResult) bool {
	if res.Err != nil {
		return true
	}

	return !slices.ContainsFunc(res.Entries, func(e backend.BatchEntry) bool { return e.Err == nil })
}

// values maps each id to the first non-error value the side returned for it.
func values(res backend.BatchResult) map[int]string {
	m := make(map[int]string, len(res.Entries))
	for _, e := range res.Entries {
		if e.Err != nil {
			continue
		}

		if _, ok := m[e.ID]; !ok {
			m[e.ID] = e.Value
		}
	}
	return m
}

// MaxDisagreements is the number of disagreements tolerated among compared ids.
func MaxDisagreements(compared int) int {
	return int(math.Ceil(float64(compared) * BatchTolerance))
}

// Batch compares the two answers to a batch of size requests. Ordering and
// values are checked independently. Values are compared only on ids answered
// without error by both sides, and the batch matches while the disagreements
// stay within MaxDisagreements. When nothing could be compared the batch
// matches only if one side failed totally.
func Batch(size int, primary, reference backend.BatchResult) BatchResult {
	res := BatchResult{
		PrimaryOrdered:   Ordered(size, primary),
		ReferenceOrdered: Ordered(size, reference),
	}

	primaryValues, referenceValues := values(primary), values(reference)
	for id := 1; id <= size; id++ {
		p, okP := primaryValues[id]
		r, okR := referenceValues[id]
		if !okP || !okR {
			continue
		}

		res.Compared++
		if !Values(p, r) {
			res.Disagreements = append(res.Disagreements, Disagreement{ID: id, Primary: p, Reference: r})
		}
	}

	if res.Compared == 0 {
		res.Matched = failedTotally(primary) || failedTotally(reference)
		return res
	}

	res.Matched = len(res.Disagreements) <= MaxDisagreements(res.Compared)
	return res
}

// Speedup estimates how much faster the primary answered a batch than the same
// reads sent one by one: the mean of both sides' average single-call latency,
// times the batch size, over the primary's batch latency. It returns nil when
// an input is missing or the batch latency is not positive.
func Speedup(primarySingleAvgMs, referenceSingleAvgMs *float64, size int, primaryBatchMs float64) *float64 {
	if primarySingleAvgMs == nil || referenceSingleAvgMs == nil || size <= 0 || primaryBatchMs <= 0 {
		return nil
	}

	v := (*primarySingleAvgMs + *referenceSingleAvgMs) / 2 * float64(size) / primaryBatchMs
	return &v
}
