/*
Copyright © 2025 Redis Performance Group  <performance <at> redis <dot> com>
*/
package workload

import (
	"context"
	"math/rand"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/redis-performance/mako-benchmark/kvstore"
)

// Worker runs transaction attempts back to back against one transaction
// handle. A Worker is not safe for concurrent use.
type Worker struct {
	id        int
	clientID  int
	actors    int
	tr        kvstore.Transaction
	codec     KeyCodec
	steps     []step
	pacer     *Pacer
	rng       *rand.Rand
	commitGet bool
	stats     *WorkerStats
	logger    *zap.Logger

	// Per-attempt state.
	doCommit bool
	perOp    [NumKinds]int64
}

func newWorker(id int, cfg Config, p *plan, db kvstore.DB, rng *rand.Rand, logger *zap.Logger) *Worker {
	return &Worker{
		id:        id,
		clientID:  cfg.ClientID,
		actors:    cfg.ActorCountPerClient,
		tr:        db.NewTransaction(),
		codec:     p.codec,
		steps:     buildSteps(p.ops),
		pacer:     NewPacer(p.interval, rand.New(rand.NewSource(rng.Int63()))),
		rng:       rng,
		commitGet: cfg.CommitGet,
		stats:     NewWorkerStats(id, p.capacity, rng),
		logger:    logger,
	}
}

// Stats exposes the worker's counters and reservoirs.
func (w *Worker) Stats() *WorkerStats {
	return w.stats
}

// Run loops until ctx is done or an attempt fails with an error the store
// refuses to retry. Cancellation by ctx is not an error.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("ClientStarting",
		zap.Int("actorIndex", w.id),
		zap.Int("clientIndex", w.clientID),
		zap.Int("numActors", w.actors))

	for {
		if err := w.pacer.Wait(ctx); err != nil {
			return nil
		}
		err := w.attempt(ctx)
		if err == nil {
			w.recordSuccess()
		} else if ferr := w.handleFailure(ctx, err); ferr != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrapf(ferr, "worker %d", w.id)
		}
		w.perOp = [NumKinds]int64{}
		w.tr.Reset()
	}
}

// attempt executes the whole mix once.
func (w *Worker) attempt(ctx context.Context) error {
	w.doCommit = w.commitGet
	for i := range w.steps {
		s := &w.steps[i]
		for c := 0; c < s.count; c++ {
			if err := s.fn(ctx, w, s); err != nil {
				return err
			}
			w.perOp[s.kind]++
		}
	}
	if w.doCommit {
		return w.commit(ctx)
	}
	return nil
}

// commit commits the current transaction and accounts for it under Commit.
func (w *Worker) commit(ctx context.Context) error {
	start := time.Now()
	if err := w.tr.Commit(ctx); err != nil {
		return err
	}
	w.stats.Latency[Commit].Add(time.Since(start).Seconds())
	w.perOp[Commit]++
	return nil
}

// timed runs op and records its latency under kind when it succeeds.
func (w *Worker) timed(kind OperationKind, op func() error) error {
	start := time.Now()
	if err := op(); err != nil {
		return err
	}
	w.stats.Latency[kind].Add(time.Since(start).Seconds())
	return nil
}

func (w *Worker) recordSuccess() {
	c := &w.stats.Counters
	c.Transactions.Add(1)
	var total int64
	for k, n := range w.perOp {
		if n == 0 {
			continue
		}
		c.PerKind[k].Add(n)
		total += n
	}
	c.Operations.Add(total)
}

// handleFailure classifies a failed attempt. It returns nil when the attempt may be
// retried.
func (w *Worker) handleFailure(ctx context.Context, err error) error {
	kind := kvstore.Classify(err)
	if ce := w.logger.Check(zap.DebugLevel, "FailedToExecOperations"); ce != nil {
		ce.Write(zap.Int("actorIndex", w.id), zap.Stringer("kind", kind), zap.Error(err))
	}
	switch kind {
	case kvstore.Cancelled:
		return err
	case kvstore.Conflict:
		w.stats.Counters.Conflicts.Add(1)
	}
	if rerr := w.tr.OnError(ctx, err); rerr != nil {
		return rerr
	}
	w.stats.Counters.Retries.Add(1)
	return nil
}
