/*
Copyright © 2025 Redis Performance Group  <performance <at> redis <dot> com>
*/
package workload

import (
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
	"github.com/montanaflynn/stats"
)

// Histogram bounds in microseconds.
const (
	histMinMicros = 1
	histMaxMicros = 60 * 1000 * 1000
	histSigFigs   = 3
)

// LatencyKinds are the kinds whose latency is reported. The remaining kinds
// only buffer mutations and have no latency of their own.
var LatencyKinds = []OperationKind{GetReadVersion, Get, GetRange, SnapshotGet, SnapshotGetRange, Commit}

// Counters belong to one worker. Only that worker writes them; the atomics let
// the periodic reporter read them while the run is live.
type Counters struct {
	Transactions atomic.Int64
	Retries      atomic.Int64
	Conflicts    atomic.Int64
	Operations   atomic.Int64
	PerKind      [NumKinds]atomic.Int64
}

// Totals is a plain copy of Counters.
type Totals struct {
	Transactions int64
	Retries      int64
	Conflicts    int64
	Operations   int64
	PerKind      [NumKinds]int64
}

func (c *Counters) Snapshot() Totals {
	t := Totals{
		Transactions: c.Transactions.Load(),
		Retries:      c.Retries.Load(),
		Conflicts:    c.Conflicts.Load(),
		Operations:   c.Operations.Load(),
	}
	for k := range c.PerKind {
		t.PerKind[k] = c.PerKind[k].Load()
	}
	return t
}

// Add merges o into t.
func (t *Totals) Add(o Totals) {
	t.Transactions += o.Transactions
	t.Retries += o.Retries
	t.Conflicts += o.Conflicts
	t.Operations += o.Operations
	for k := range t.PerKind {
		t.PerKind[k] += o.PerKind[k]
	}
}

// WorkerStats is everything one worker measures.
type WorkerStats struct {
	ID       int
	Counters Counters
	Latency  [NumKinds]*Sampler
}

// NewWorkerStats allocates one reservoir per kind.
func NewWorkerStats(id, capacity int, rng *rand.Rand) *WorkerStats {
	ws := &WorkerStats{ID: id}
	for k := range ws.Latency {
		ws.Latency[k] = NewSampler(capacity, rand.New(rand.NewSource(rng.Int63())))
	}
	return ws
}

// LatencySummary holds latency statistics in seconds.
type LatencySummary struct {
	Count int64
	Mean  float64
	Min   float64
	Max   float64
}

// Percentiles are cross-worker quantiles in seconds.
type Percentiles struct {
	P50 float64
	P95 float64
	P99 float64
}

// LatencyQuantiles is the periodic latency report of one kind.
type LatencyQuantiles struct {
	Mean   float64
	Median float64
	P5     float64
	P95    float64
	Count  int64
}

// IntervalSnapshot is what the periodic reporter measured over one interval.
type IntervalSnapshot struct {
	Elapsed            time.Duration
	Interval           time.Duration
	TransactionsPerSec float64
	OperationsPerSec   float64
	Commit             LatencyQuantiles
	GRV                LatencyQuantiles
	Totals             Totals
}

// KeyCountRate is the population import rate measured once a key count was
// reached.
type KeyCountRate struct {
	Keys        int64
	BytesPerSec float64
}

// PopulateResult summarises a population phase.
type PopulateResult struct {
	Rows             int64
	Bytes            int64
	LoadTime         time.Duration
	RatesAtKeyCounts []KeyCountRate
}

// Report is the aggregated outcome of a run.
type Report struct {
	Duration    time.Duration
	Workers     int
	Totals      Totals
	PerWorker   [][NumKinds]LatencySummary
	Latency     [NumKinds]LatencySummary
	Percentiles [NumKinds]Percentiles
	Intervals   []IntervalSnapshot
	Population  *PopulateResult
}

// Metric is one named figure of the final report. Averaged metrics are
// meaningful to average across clients; the rest are summed.
type Metric struct {
	Name     string
	Value    float64
	Averaged bool
}

// Aggregate reduces per-worker stats after every worker has stopped.
func Aggregate(workers []*WorkerStats, elapsed time.Duration, intervals []IntervalSnapshot) *Report {
	r := &Report{
		Duration:  elapsed,
		Workers:   len(workers),
		PerWorker: make([][NumKinds]LatencySummary, len(workers)),
		Intervals: intervals,
	}
	for i, w := range workers {
		r.Totals.Add(w.Counters.Snapshot())
		for k, s := range w.Latency {
			r.PerWorker[i][k] = LatencySummary{Count: s.Count(), Mean: s.Mean(), Min: s.Min(), Max: s.Max()}
		}
	}
	for k := 0; k < NumKinds; k++ {
		r.Latency[k] = averageLatency(r.PerWorker, OperationKind(k))
		r.Percentiles[k] = mergedPercentiles(workers, OperationKind(k))
	}
	return r
}

// averageLatency averages per-worker statistics over workers that recorded
// at least one sample.
func averageLatency(perWorker [][NumKinds]LatencySummary, kind OperationKind) LatencySummary {
	var out LatencySummary
	n := 0
	for _, w := range perWorker {
		s := w[kind]
		if s.Count == 0 {
			continue
		}
		out.Count += s.Count
		out.Mean += s.Mean
		out.Min += s.Min
		out.Max += s.Max
		n++
	}
	if n > 0 {
		out.Mean /= float64(n)
		out.Min /= float64(n)
		out.Max /= float64(n)
	}
	return out
}

func mergedPercentiles(workers []*WorkerStats, kind OperationKind) Percentiles {
	h := hdrhistogram.New(histMinMicros, histMaxMicros, histSigFigs)
	for _, w := range workers {
		for _, v := range w.Latency[kind].Samples() {
			_ = h.RecordValue(toMicros(v))
		}
	}
	if h.TotalCount() == 0 {
		return Percentiles{}
	}
	return Percentiles{
		P50: float64(h.ValueAtQuantile(50)) / 1e6,
		P95: float64(h.ValueAtQuantile(95)) / 1e6,
		P99: float64(h.ValueAtQuantile(99)) / 1e6,
	}
}

func toMicros(seconds float64) int64 {
	us := int64(seconds * 1e6)
	if us < histMinMicros {
		return histMinMicros
	}
	if us > histMaxMicros {
		return histMaxMicros
	}
	return us
}

// mergedQuantiles pools the reservoirs of kind across workers.
func mergedQuantiles(workers []*WorkerStats, kind OperationKind, count int64) LatencyQuantiles {
	var pooled stats.Float64Data
	var sum float64
	var n int64
	for _, w := range workers {
		s := w.Latency[kind]
		c := s.Count()
		sum += s.Mean() * float64(c)
		n += c
		pooled = append(pooled, s.Samples()...)
	}
	q := LatencyQuantiles{Count: count}
	if n > 0 {
		q.Mean = sum / float64(n)
	}
	if len(pooled) == 0 {
		return q
	}
	q.Median, _ = pooled.Median()
	q.P5, _ = pooled.PercentileNearestRank(5)
	q.P95, _ = pooled.PercentileNearestRank(95)
	return q
}

func perSecond(n int64, d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(n) / d.Seconds()
}

func (r *Report) TransactionsPerSec() float64 { return perSecond(r.Totals.Transactions, r.Duration) }
func (r *Report) OperationsPerSec() float64   { return perSecond(r.Totals.Operations, r.Duration) }
func (r *Report) ConflictsPerSec() float64    { return perSecond(r.Totals.Conflicts, r.Duration) }

// Metrics flattens the report into named figures.
func (r *Report) Metrics() []Metric {
	var m []Metric
	if p := r.Population; p != nil {
		m = append(m, Metric{"Mean load time (seconds)", p.LoadTime.Seconds(), true})
		for _, kr := range p.RatesAtKeyCounts {
			m = append(m, Metric{fmt.Sprintf("%d keys imported bytes/sec", kr.Keys), kr.BytesPerSec, false})
		}
	}
	if r.Workers == 0 {
		return m
	}
	m = append(m,
		Metric{"Measured Duration", r.Duration.Seconds(), true},
		Metric{"Transactions", float64(r.Totals.Transactions), false},
		Metric{"Transactions/sec", r.TransactionsPerSec(), true},
		Metric{"Operations", float64(r.Totals.Operations), false},
		Metric{"Operations/sec", r.OperationsPerSec(), true},
		Metric{"Conflicts", float64(r.Totals.Conflicts), false},
		Metric{"Conflicts/sec", r.ConflictsPerSec(), true},
		Metric{"Retries", float64(r.Totals.Retries), false},
	)
	for k := 0; k < NumKinds; k++ {
		m = append(m, Metric{OperationKind(k).String(), float64(r.Totals.PerKind[k]), false})
	}
	for _, k := range LatencyKinds {
		l := r.Latency[k]
		m = append(m,
			Metric{"Mean " + k.String() + " Latency (ms)", 1000 * l.Mean, true},
			Metric{"Max " + k.String() + " Latency (ms, averaged)", 1000 * l.Max, true},
			Metric{"Min " + k.String() + " Latency (ms, averaged)", 1000 * l.Min, true},
		)
	}
	// Per-worker figures keep worker skew visible behind the averages.
	for i, w := range r.PerWorker {
		for _, k := range LatencyKinds {
			l := w[k]
			if l.Count == 0 {
				continue
			}
			prefix := fmt.Sprintf("W%02d ", i)
			m = append(m,
				Metric{prefix + "Mean " + k.String() + " Latency (ms)", 1000 * l.Mean, true},
				Metric{prefix + "Max " + k.String() + " Latency (ms)", 1000 * l.Max, true},
				Metric{prefix + "Min " + k.String() + " Latency (ms)", 1000 * l.Min, true},
			)
		}
	}
	for _, k := range LatencyKinds {
		p := r.Percentiles[k]
		m = append(m,
			Metric{"P50 " + k.String() + " Latency (ms)", 1000 * p.P50, true},
			Metric{"P95 " + k.String() + " Latency (ms)", 1000 * p.P95, true},
			Metric{"P99 " + k.String() + " Latency (ms)", 1000 * p.P99, true},
		)
	}
	for _, iv := range r.Intervals {
		ts := fmt.Sprintf("T=%04.0fs: ", iv.Elapsed.Seconds())
		m = append(m,
			Metric{ts + "Transactions/sec", iv.TransactionsPerSec, false},
			Metric{ts + "Operations/sec", iv.OperationsPerSec, false},
		)
	}
	return m
}
