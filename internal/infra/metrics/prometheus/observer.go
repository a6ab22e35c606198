// Package prometheus exposes the live state of the comparison as Prometheus
// metrics. It is fed by the sampler and the recovery lifecycle.
package prometheus

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gabapcia/rpcparity/internal/pkg/logger"
	"github.com/gabapcia/rpcparity/internal/record"
	"github.com/gabapcia/rpcparity/internal/sampler"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "rpcparity"

const (
	outcomeRecovered  = "recovered"
	outcomePersistent = "persistent"
)

type observer struct {
	gatherer prometheus.Gatherer

	samples       *prometheus.CounterVec
	comparisons   prometheus.Counter
	drift         prometheus.Gauge
	heights       *prometheus.GaugeVec
	latency       *prometheus.HistogramVec
	batchSpeedup  prometheus.Gauge
	mismatches    *prometheus.CounterVec
	recoveries    *prometheus.CounterVec
	backendErrors *prometheus.CounterVec
	heapUsedBytes prometheus.Gauge
	residentBytes prometheus.Gauge
}

var _ sampler.Observer = (*observer)(nil)

func (o *observer) ObserveSample(_ context.Context, s record.Sample) {
	o.samples.WithLabelValues(strconv.FormatBool(s.Matched)).Inc()
	o.comparisons.Add(float64(s.Comparisons))
	o.drift.Set(float64(s.Drift))
	o.heights.WithLabelValues(string(record.SidePrimary)).Set(float64(s.PrimaryHeight))
	o.heights.WithLabelValues(string(record.SideReference)).Set(float64(s.ReferenceHeight))

	if s.PrimaryLatencyMs != nil {
		o.latency.WithLabelValues(string(record.SidePrimary)).Observe(*s.PrimaryLatencyMs / 1000)
	}
	if s.ReferenceLatencyMs != nil {
		o.latency.WithLabelValues(string(record.SideReference)).Observe(*s.ReferenceLatencyMs / 1000)
	}

	if s.Batch != nil && s.Batch.Speedup != nil {
		o.batchSpeedup.Set(*s.Batch.Speedup)
	}

	if s.Memory != nil {
		o.heapUsedBytes.Set(s.Memory.HeapUsedMB * 1024 * 1024)
		o.residentBytes.Set(s.Memory.RSSMB * 1024 * 1024)
	}
}

func (o *observer) ObserveMismatch(_ context.Context, m record.Mismatch) {
	o.mismatches.WithLabelValues(string(m.Kind)).Inc()
}

func (o *observer) ObserveError(_ context.Context, e record.ErrorRecord) {
	o.backendErrors.WithLabelValues(string(e.Side), string(e.Kind)).Inc()
}

// ObserveRecovery counts a completed re-check and logs its outcome. It has the
// signature of a recovery handler.
func (o *observer) ObserveRecovery(ctx context.Context, r record.Recovery) {
	outcome := outcomePersistent
	if r.Recovered {
		outcome = outcomeRecovered
	}
	o.recoveries.WithLabelValues(outcome).Inc()

	logger.Info(ctx, "re-check completed", "recovery.outcome", outcome, "recovery.error", r.Error)
}

// Handler serves the registered metrics in the Prometheus exposition format.
func (o *observer) Handler() http.Handler {
	return promhttp.HandlerFor(o.gatherer, promhttp.HandlerOpts{})
}

// NewObserver registers the metrics on reg. pending, when set, reports the
// number of in-flight re-checks at scrape time.
func NewObserver(reg *prometheus.Registry, pending func() int) *observer {
	factory := promauto.With(reg)

	o := &observer{
		gatherer: reg,
		samples: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "samples_total",
			Help:      "Sampler iterations that produced a sample, by match outcome.",
		}, []string{"matched"}),
		comparisons: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "comparisons_total",
			Help:      "Comparisons attempted across all samples.",
		}),
		drift: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "block_drift",
			Help:      "Primary head height minus reference head height at the last sample.",
		}),
		heights: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "block_height",
			Help:      "Head height observed at the last sample.",
		}, []string{"side"}),
		latency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "call_latency_seconds",
			Help:      "Average single-call latency of a sample.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		}, []string{"side"}),
		batchSpeedup: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "batch_speedup",
			Help:      "Estimated speedup of the last primary batch over single calls.",
		}),
		mismatches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mismatches_total",
			Help:      "Value mismatches detected, by request kind.",
		}, []string{"kind"}),
		recoveries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rechecks_total",
			Help:      "Completed mismatch re-checks, by outcome.",
		}, []string{"outcome"}),
		backendErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_errors_total",
			Help:      "Backend calls that failed outright, by side and request kind.",
		}, []string{"side", "kind"}),
		heapUsedBytes: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "heap_used_bytes",
			Help:      "Heap in use at the last memory snapshot.",
		}),
		residentBytes: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "resident_memory_bytes",
			Help:      "Resident set size at the last memory snapshot.",
		}),
	}

	if pending != nil {
		factory.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_rechecks",
			Help:      "Mismatch re-checks scheduled and not yet completed.",
		}, func() float64 { return float64(pending()) })
	}

	return o
}
