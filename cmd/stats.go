/*
Copyright © 2025 Redis Performance Group  <performance <at> redis <dot> com>
*/
package cmd

import (
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"

	"github.com/redis-performance/mako-benchmark/workload"
)

// Histogram range: 1 microsecond to 1 minute, 3 significant digits.
const (
	histMinMicros = 1
	histMaxMicros = 60 * 1000 * 1000
	histSigFigs   = 3
)

func newHistogram() *hdrhistogram.Histogram {
	return hdrhistogram.New(histMinMicros, histMaxMicros, histSigFigs)
}

// PerformanceStats collects population batch results on a dedicated
// goroutine so that populating workers never contend on the histograms.
type PerformanceStats struct {
	StartTime time.Time

	batches chan workload.BatchResult
	done    chan struct{}
	stopped chan struct{}

	mu      sync.Mutex
	rows    int64
	bytes   int64
	count   int64
	retries int64
	overall *hdrhistogram.Histogram
	window  *hdrhistogram.Histogram
}

// BatchWindow is a summary of the batches committed since the previous
// TakeWindow call.
type BatchWindow struct {
	Batches  int64
	P50, P95 int64 // microseconds
	P99, Max int64
	Mean     float64
}

func NewPerformanceStats() *PerformanceStats {
	ps := &PerformanceStats{
		StartTime: time.Now(),
		batches:   make(chan workload.BatchResult, 65536),
		done:      make(chan struct{}),
		stopped:   make(chan struct{}),
		overall:   newHistogram(),
		window:    newHistogram(),
	}
	go ps.collect()
	return ps
}

func (ps *PerformanceStats) collect() {
	defer close(ps.stopped)
	for {
		select {
		case b := <-ps.batches:
			ps.apply(b)
		case <-ps.done:
			// Drain what was queued before Close.
			for {
				select {
				case b := <-ps.batches:
					ps.apply(b)
				default:
					return
				}
			}
		}
	}
}

func (ps *PerformanceStats) apply(b workload.BatchResult) {
	us := b.Latency.Microseconds()
	if us < histMinMicros {
		us = histMinMicros
	}
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.rows += int64(b.Rows)
	ps.bytes += b.Bytes
	ps.count++
	ps.retries += int64(b.Retries)
	ps.overall.RecordValue(us)
	ps.window.RecordValue(us)
}

// RecordBatch queues a committed batch. It blocks only when the collector
// falls far behind.
func (ps *PerformanceStats) RecordBatch(b workload.BatchResult) {
	ps.batches <- b
}

// Totals returns rows, bytes, batches and retries recorded so far.
func (ps *PerformanceStats) Totals() (rows, bytes, batches, retries int64) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.rows, ps.bytes, ps.count, ps.retries
}

// TakeWindow returns the batch latencies of the current window and starts a
// new one.
func (ps *PerformanceStats) TakeWindow() BatchWindow {
	ps.mu.Lock()
	h := ps.window
	ps.window = newHistogram()
	ps.mu.Unlock()
	return summarize(h)
}

// Overall returns the batch latencies of the whole run.
func (ps *PerformanceStats) Overall() BatchWindow {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return summarize(ps.overall)
}

func summarize(h *hdrhistogram.Histogram) BatchWindow {
	if h.TotalCount() == 0 {
		return BatchWindow{}
	}
	return BatchWindow{
		Batches: h.TotalCount(),
		P50:     h.ValueAtQuantile(50),
		P95:     h.ValueAtQuantile(95),
		P99:     h.ValueAtQuantile(99),
		Max:     h.Max(),
		Mean:    h.Mean(),
	}
}

// Close stops the collector after draining queued batches.
func (ps *PerformanceStats) Close() {
	close(ps.done)
	<-ps.stopped
}
