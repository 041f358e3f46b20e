/*
Copyright © 2025 Redis Performance Group  <performance <at> redis <dot> com>
*/
package cmd

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/redis-performance/mako-benchmark/workload"
)

// promSink exposes interval and population figures on /metrics.
type promSink struct {
	registry *prometheus.Registry

	tps        prometheus.Gauge
	ops        prometheus.Gauge
	latency    *prometheus.GaugeVec
	totals     *prometheus.CounterVec
	perKind    *prometheus.CounterVec
	rowsLoaded prometheus.Counter
	batchLat   prometheus.Histogram

	mu   sync.Mutex
	last workload.Totals
}

func newPromSink(runID string) *promSink {
	labels := prometheus.Labels{"run_id": runID}
	s := &promSink{
		registry: prometheus.NewRegistry(),
		tps: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "mako_transactions_per_second",
			Help:        "Committed transactions per second over the last interval.",
			ConstLabels: labels,
		}),
		ops: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "mako_operations_per_second",
			Help:        "Executed operations per second over the last interval.",
			ConstLabels: labels,
		}),
		latency: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name:        "mako_latency_seconds",
			Help:        "Interval latency statistics of sampled operations.",
			ConstLabels: labels,
		}, []string{"kind", "stat"}),
		totals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "mako_events_total",
			Help:        "Transactions, operations, conflicts and retries.",
			ConstLabels: labels,
		}, []string{"event"}),
		perKind: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "mako_operations_total",
			Help:        "Executed operations by kind.",
			ConstLabels: labels,
		}, []string{"kind"}),
		rowsLoaded: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "mako_populated_rows_total",
			Help:        "Rows committed by the population phase.",
			ConstLabels: labels,
		}),
		batchLat: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:        "mako_populate_batch_seconds",
			Help:        "Commit latency of population batches.",
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(0.0001, 2, 16),
		}),
	}
	s.registry.MustRegister(s.tps, s.ops, s.latency, s.totals, s.perKind, s.rowsLoaded, s.batchLat)
	return s
}

// observeInterval records one benchmark interval.
func (s *promSink) observeInterval(snap workload.IntervalSnapshot) {
	s.tps.Set(snap.TransactionsPerSec)
	s.ops.Set(snap.OperationsPerSec)
	for kind, q := range map[string]workload.LatencyQuantiles{"commit": snap.Commit, "grv": snap.GRV} {
		s.latency.WithLabelValues(kind, "mean").Set(q.Mean)
		s.latency.WithLabelValues(kind, "median").Set(q.Median)
		s.latency.WithLabelValues(kind, "p5").Set(q.P5)
		s.latency.WithLabelValues(kind, "p95").Set(q.P95)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	cur := snap.Totals
	s.totals.WithLabelValues("transactions").Add(float64(cur.Transactions - s.last.Transactions))
	s.totals.WithLabelValues("operations").Add(float64(cur.Operations - s.last.Operations))
	s.totals.WithLabelValues("conflicts").Add(float64(cur.Conflicts - s.last.Conflicts))
	s.totals.WithLabelValues("retries").Add(float64(cur.Retries - s.last.Retries))
	for k := workload.OperationKind(0); int(k) < workload.NumKinds; k++ {
		if d := cur.PerKind[k] - s.last.PerKind[k]; d > 0 {
			s.perKind.WithLabelValues(k.String()).Add(float64(d))
		}
	}
	s.last = cur
}

// observeBatch records one population batch.
func (s *promSink) observeBatch(b workload.BatchResult) {
	s.rowsLoaded.Add(float64(b.Rows))
	s.batchLat.Observe(b.Latency.Seconds())
}

// serve runs the /metrics endpoint until ctx is done.
func (s *promSink) serve(ctx context.Context, addr string, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("MetricsEndpoint", zap.String("addr", "http://"+addr+"/metrics"))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Warn("MetricsEndpointFailed", zap.Error(err))
	}
}
