/*
Copyright © 2025 Redis Performance Group  <performance <at> redis <dot> com>
*/
package workload

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/redis-performance/mako-benchmark/kvstore"
)

// BatchResult describes one committed population transaction.
type BatchResult struct {
	Worker  int
	Rows    int
	Bytes   int64
	Latency time.Duration
	Retries int
}

// BatchFunc observes committed batches. It is called from every populating
// worker concurrently.
type BatchFunc func(BatchResult)

// ClientRows returns the half-open row interval loaded by client id out of
// count clients.
func ClientRows(rows int64, id, count int) (begin, end int64) {
	if count <= 1 {
		return 0, rows
	}
	return rows * int64(id) / int64(count), rows * int64(id+1) / int64(count)
}

// Populate loads this client's share of rows [0, Rows) with random values.
//
// Rows are split across ActorCountPerClient workers and written in batches of
// PopulateBatchSize per transaction, throttled to MaxInsertRate rows per
// second. Loading starts after WarmingDelay.
func Populate(ctx context.Context, db kvstore.DB, cfg Config, logger *zap.Logger, onBatch BatchFunc) (*PopulateResult, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	p, err := cfg.prepare(logger)
	if err != nil {
		return nil, err
	}
	if err := kvstore.Sleep(ctx, cfg.WarmingDelay); err != nil {
		return nil, err
	}

	batchSize := cfg.PopulateBatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	limit := rate.Inf
	if cfg.MaxInsertRate > 0 && cfg.MaxInsertRate < UnlimitedInsertRate {
		limit = rate.Limit(cfg.MaxInsertRate)
	}
	limiter := rate.NewLimiter(limit, batchSize)

	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	seeder := rand.New(rand.NewSource(seed))

	begin, end := ClientRows(cfg.Rows, cfg.ClientID, cfg.ClientCount)
	track := newCheckpoints(cfg.checkpoints())
	start := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	workers := int64(cfg.ActorCountPerClient)
	for i := int64(0); i < workers; i++ {
		lo := begin + (end-begin)*i/workers
		hi := begin + (end-begin)*(i+1)/workers
		if lo == hi {
			continue
		}
		pw := &populator{
			id:      int(i),
			tr:      db.NewTransaction(),
			codec:   p.codec,
			rng:     rand.New(rand.NewSource(seeder.Int63())),
			limiter: limiter,
			batch:   batchSize,
			track:   track,
			start:   start,
			logger:  logger,
			onBatch: onBatch,
		}
		g.Go(func() error {
			return pw.load(gctx, lo, hi)
		})
	}
	err = g.Wait()

	res := &PopulateResult{
		Rows:             track.rows.Load(),
		Bytes:            track.bytes.Load(),
		LoadTime:         time.Since(start),
		RatesAtKeyCounts: track.rates(),
	}
	if err != nil {
		return res, errors.Wrap(err, "populating rows")
	}
	return res, nil
}

type populator struct {
	id      int
	tr      kvstore.Transaction
	codec   KeyCodec
	rng     *rand.Rand
	limiter *rate.Limiter
	batch   int
	track   *checkpoints
	start   time.Time
	logger  *zap.Logger
	onBatch BatchFunc
}

func (pw *populator) load(ctx context.Context, lo, hi int64) error {
	defer pw.tr.Reset()
	for next := lo; next < hi; {
		n := int64(pw.batch)
		if hi-next < n {
			n = hi - next
		}
		if err := pw.limiter.WaitN(ctx, int(n)); err != nil {
			return err
		}
		res, err := pw.commitBatch(ctx, next, next+n)
		if err != nil {
			return err
		}
		next += n
		pw.track.observe(int64(res.Rows), res.Bytes, time.Since(pw.start), pw.logger)
		if pw.onBatch != nil {
			pw.onBatch(res)
		}
	}
	return nil
}

// commitBatch writes rows [lo, hi) in one transaction, retrying through
// OnError.
func (pw *populator) commitBatch(ctx context.Context, lo, hi int64) (BatchResult, error) {
	res := BatchResult{Worker: pw.id, Rows: int(hi - lo)}
	for {
		res.Bytes = 0
		for i := lo; i < hi; i++ {
			key := pw.codec.Key(i)
			val := pw.codec.RandomValue(pw.rng)
			pw.tr.Set(key, val)
			res.Bytes += int64(len(key) + len(val))
		}
		start := time.Now()
		err := pw.tr.Commit(ctx)
		if err == nil {
			res.Latency = time.Since(start)
			pw.tr.Reset()
			return res, nil
		}
		if err := pw.tr.OnError(ctx, err); err != nil {
			return res, err
		}
		res.Retries++
	}
}

// checkpoints records the import rate when the loaded key count first
// reaches each requested value.
type checkpoints struct {
	rows  atomic.Int64
	bytes atomic.Int64

	mu      sync.Mutex
	pending []int64
	reached []KeyCountRate
}

func newCheckpoints(counts []int64) *checkpoints {
	return &checkpoints{pending: counts}
}

func (c *checkpoints) observe(rows, bytes int64, elapsed time.Duration, logger *zap.Logger) {
	total := c.rows.Add(rows)
	totalBytes := c.bytes.Add(bytes)

	c.mu.Lock()
	defer c.mu.Unlock()
	for len(c.pending) > 0 && total >= c.pending[0] {
		kr := KeyCountRate{Keys: c.pending[0], BytesPerSec: perSecond(totalBytes, elapsed)}
		c.reached = append(c.reached, kr)
		c.pending = c.pending[1:]
		logger.Info("PopulateProgress",
			zap.Int64("keys", kr.Keys),
			zap.Int64("loaded", total),
			zap.Float64("bytesPerSec", kr.BytesPerSec),
			zap.Duration("elapsed", elapsed))
	}
}

func (c *checkpoints) rates() []KeyCountRate {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]KeyCountRate, len(c.reached))
	copy(out, c.reached)
	return out
}
