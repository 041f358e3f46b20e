/*
Copyright © 2025 Redis Performance Group  <performance <at> redis <dot> com>
*/

// Package workload drives a mix of transactional key-value operations against
// a kvstore.DB and measures throughput and latency.
package workload

import (
	"context"
	"math/rand"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/redis-performance/mako-benchmark/kvstore"
)

// IntervalFunc receives every periodic snapshot. It runs on the reporter
// goroutine.
type IntervalFunc func(IntervalSnapshot)

// Run executes the benchmark phase for cfg.TestDuration.
//
// Workers stop when the deadline or ctx expires. A worker failing with an
// error the store will not retry cancels the others; Run then returns the
// report gathered so far together with that error.
func Run(ctx context.Context, db kvstore.DB, cfg Config, logger *zap.Logger, onInterval IntervalFunc) (*Report, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	p, err := cfg.prepare(logger)
	if err != nil {
		return nil, err
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	seeder := rand.New(rand.NewSource(seed))

	workers := make([]*Worker, cfg.ActorCountPerClient)
	stats := make([]*WorkerStats, len(workers))
	for i := range workers {
		rng := rand.New(rand.NewSource(seeder.Int63()))
		workers[i] = newWorker(i, cfg, p, db, rng, logger)
		stats[i] = workers[i].Stats()
	}

	runCtx, cancel := context.WithTimeout(ctx, cfg.TestDuration)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	start := time.Now()
	for _, w := range workers {
		g.Go(func() error {
			return w.Run(gctx)
		})
	}

	var intervals []IntervalSnapshot
	if cfg.EnableLogging {
		rep := &reporter{
			start:      start,
			interval:   cfg.PeriodicLoggingInterval,
			workers:    stats,
			logger:     logger,
			onInterval: onInterval,
		}
		g.Go(func() error {
			intervals = rep.run(gctx)
			return nil
		})
	}

	err = g.Wait()
	elapsed := time.Since(start)
	if elapsed > cfg.TestDuration {
		elapsed = cfg.TestDuration
	}
	return Aggregate(stats, elapsed, intervals), err
}

// reporter emits interval throughput and Commit/GRV latency quantiles.
type reporter struct {
	start      time.Time
	interval   time.Duration
	workers    []*WorkerStats
	logger     *zap.Logger
	onInterval IntervalFunc
}

func (r *reporter) totals() Totals {
	var t Totals
	for _, w := range r.workers {
		t.Add(w.Counters.Snapshot())
	}
	return t
}

func (r *reporter) run(ctx context.Context) []IntervalSnapshot {
	var out []IntervalSnapshot
	var last Totals
	timer := time.NewTimer(r.interval)
	defer timer.Stop()
	for n := 1; ; n++ {
		elapsed := time.Duration(n) * r.interval
		timer.Reset(time.Until(r.start.Add(elapsed)))
		select {
		case <-ctx.Done():
			return out
		case <-timer.C:
		}

		cur := r.totals()
		snap := IntervalSnapshot{
			Elapsed:            elapsed,
			Interval:           r.interval,
			TransactionsPerSec: perSecond(cur.Transactions-last.Transactions, r.interval),
			OperationsPerSec:   perSecond(cur.Operations-last.Operations, r.interval),
			Commit:             mergedQuantiles(r.workers, Commit, cur.PerKind[Commit]),
			GRV:                mergedQuantiles(r.workers, GetReadVersion, cur.PerKind[GetReadVersion]),
			Totals:             cur,
		}
		last = cur

		r.logger.Info("CommitLatency", latencyFields(snap.Commit, zap.Duration("elapsed", elapsed))...)
		r.logger.Info("GRVLatency", latencyFields(snap.GRV)...)
		out = append(out, snap)
		if r.onInterval != nil {
			r.onInterval(snap)
		}
	}
}

func latencyFields(q LatencyQuantiles, extra ...zap.Field) []zap.Field {
	return append([]zap.Field{
		zap.Float64("mean", q.Mean),
		zap.Float64("median", q.Median),
		zap.Float64("percentile5", q.P5),
		zap.Float64("percentile95", q.P95),
		zap.Int64("count", q.Count),
	}, extra...)
}
