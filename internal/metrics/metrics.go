// Package metrics exposes live counters for an otherwise invisible
// long-running traversal: iterations run, verdicts seen by kind, and the
// target's most recently observed RSS, served over HTTP for Prometheus to
// scrape.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/VividCortex/gohistogram"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"dbusfuzz/internal/busmodel"
)

// latencyBins is the bucket count for the streaming call-latency histogram;
// enough resolution for the p50/p95 gauges without unbounded memory.
const latencyBins = 50

// Registry owns every metric this run exports plus the HTTP server serving
// them, so a single Close call tears down both.
type Registry struct {
	reg *prometheus.Registry
	srv *http.Server

	iterations prometheus.Counter
	verdicts   *prometheus.CounterVec
	rssKiB     prometheus.Gauge

	mu      sync.Mutex
	latency *gohistogram.NumericHistogram
}

// New creates a Registry and, if addr is non-empty, starts serving /metrics
// on it in the background. An empty addr disables the HTTP server but
// leaves the counters usable (tests exercise them directly).
func New(addr string) (*Registry, error) {
	reg := prometheus.NewRegistry()
	r := &Registry{
		reg: reg,
		iterations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dbusfuzz_iterations_total",
			Help: "Total number of method-call iterations attempted.",
		}),
		verdicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dbusfuzz_verdicts_total",
			Help: "Count of iterations ending in each verdict.",
		}, []string{"verdict"}),
		rssKiB: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dbusfuzz_target_rss_kib",
			Help: "Most recently observed resident set size of the target process, in KiB.",
		}),
		latency: gohistogram.NewHistogram(latencyBins),
	}
	reg.MustRegister(r.iterations, r.verdicts, r.rssKiB)
	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "dbusfuzz_call_latency_p50_seconds",
		Help: "Median method-call latency, estimated from a streaming histogram.",
	}, func() float64 { return r.LatencyQuantile(0.5) }))
	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "dbusfuzz_call_latency_p95_seconds",
		Help: "95th-percentile method-call latency, estimated from a streaming histogram.",
	}, func() float64 { return r.LatencyQuantile(0.95) }))

	if addr == "" {
		return r, nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	r.srv = &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := r.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fmt.Fprintf(os.Stderr, "metrics: server on %s exited: %v\n", addr, err)
		}
	}()
	return r, nil
}

// RecordIteration increments the iteration and per-verdict counters.
func (r *Registry) RecordIteration(v busmodel.Verdict) {
	r.iterations.Inc()
	r.verdicts.WithLabelValues(v.String()).Inc()
}

// RecordRSS updates the target RSS gauge to the most recent observation.
func (r *Registry) RecordRSS(kib int64) {
	r.rssKiB.Set(float64(kib))
}

// RecordLatency folds one call's wall-clock duration into the streaming
// latency histogram. The lock is because Prometheus scrapes the quantile
// gauges from the HTTP server's goroutine.
func (r *Registry) RecordLatency(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.latency.Add(d.Seconds())
}

// LatencyQuantile estimates the q'th latency quantile in seconds, or 0
// before any call has been recorded.
func (r *Registry) LatencyQuantile(q float64) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.latency.Count() == 0 {
		return 0
	}
	return r.latency.Quantile(q)
}

// Close shuts down the background HTTP server, if one was started.
func (r *Registry) Close(ctx context.Context) error {
	if r.srv == nil {
		return nil
	}
	return r.srv.Shutdown(ctx)
}
