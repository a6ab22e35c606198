package prometheus

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gabapcia/rpcparity/internal/pkg/logger"
	"github.com/gabapcia/rpcparity/internal/record"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var at = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestObserver(t *testing.T) {
	_ = logger.Init("error")

	t.Run("tracks samples", func(t *testing.T) {
		o := NewObserver(prometheus.NewRegistry(), nil)

		latency, speedup := 12.0, 3.5
		s := record.NewSample(at, 105, 100)
		s.Matched = true
		s.Comparisons = 4
		s.PrimaryLatencyMs = &latency
		s.Batch = &record.BatchMetrics{Speedup: &speedup}
		s.Memory = &record.MemorySnapshot{HeapUsedMB: 2}

		o.ObserveSample(t.Context(), s)
		o.ObserveSample(t.Context(), record.NewSample(at, 100, 101))

		assert.Equal(t, 1.0, testutil.ToFloat64(o.samples.WithLabelValues("true")))
		assert.Equal(t, 1.0, testutil.ToFloat64(o.samples.WithLabelValues("false")))
		assert.Equal(t, 4.0, testutil.ToFloat64(o.comparisons))
		assert.Equal(t, -1.0, testutil.ToFloat64(o.drift))
		assert.Equal(t, 101.0, testutil.ToFloat64(o.heights.WithLabelValues("reference")))
		assert.Equal(t, 3.5, testutil.ToFloat64(o.batchSpeedup))
		assert.Equal(t, 2.0*1024*1024, testutil.ToFloat64(o.heapUsedBytes))
		assert.Equal(t, 1, testutil.CollectAndCount(o.latency))
	})

	t.Run("counts mismatches, errors and re-checks", func(t *testing.T) {
		o := NewObserver(prometheus.NewRegistry(), nil)

		o.ObserveMismatch(t.Context(), record.NewMismatch("M1", "run", at, 1, record.KindCall, "", "a", "b"))
		o.ObserveMismatch(t.Context(), record.NewMismatch("M2", "run", at, 1, record.KindCall, "", "a", "b"))
		o.ObserveError(t.Context(), record.NewError(at, 1, record.KindBatch, record.SideReference, "x"))
		o.ObserveRecovery(t.Context(), record.NewRecovery("M1", "run", at, true, nil, ""))
		o.ObserveRecovery(t.Context(), record.NewRecovery("M2", "run", at, false, nil, "timeout"))

		assert.Equal(t, 2.0, testutil.ToFloat64(o.mismatches.WithLabelValues("call")))
		assert.Equal(t, 1.0, testutil.ToFloat64(o.backendErrors.WithLabelValues("reference", "batch")))
		assert.Equal(t, 1.0, testutil.ToFloat64(o.recoveries.WithLabelValues(outcomeRecovered)))
		assert.Equal(t, 1.0, testutil.ToFloat64(o.recoveries.WithLabelValues(outcomePersistent)))
	})

	t.Run("serves the registry with the pending gauge", func(t *testing.T) {
		o := NewObserver(prometheus.NewRegistry(), func() int { return 3 })
		o.ObserveMismatch(t.Context(), record.NewMismatch("M1", "run", at, 1, record.KindLogQuery, "", "a", "b"))

		server := httptest.NewServer(o.Handler())
		defer server.Close()

		res, err := http.Get(server.URL)
		require.NoError(t, err)
		defer res.Body.Close()

		body, err := io.ReadAll(res.Body)
		require.NoError(t, err)
		assert.Contains(t, string(body), "rpcparity_pending_rechecks 3")
		assert.Contains(t, string(body), `rpcparity_mismatches_total{kind="log-query"} 1`)
	})
}
