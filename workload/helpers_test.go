/*
Copyright © 2025 Redis Performance Group  <performance <at> redis <dot> com>
*/
package workload

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/redis-performance/mako-benchmark/kvstore"
)

// countingDB counts Commit calls that reach the wrapped store.
type countingDB struct {
	kvstore.DB
	commits atomic.Int64
}

func (c *countingDB) NewTransaction() kvstore.Transaction {
	return &countingTxn{Transaction: c.DB.NewTransaction(), db: c}
}

type countingTxn struct {
	kvstore.Transaction
	db *countingDB
}

func (t *countingTxn) Commit(ctx context.Context) error {
	t.db.commits.Add(1)
	return t.Transaction.Commit(ctx)
}

// scriptedDB hands out transactions whose reads and commits fail with the
// queued errors, in order, then succeed.
type scriptedDB struct {
	mu      sync.Mutex
	script  []error
	always  error
	commits int
	onError int
	resets  int
}

func (s *scriptedDB) next() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.script) > 0 {
		err := s.script[0]
		s.script = s.script[1:]
		return err
	}
	return s.always
}

func (s *scriptedDB) NewTransaction() kvstore.Transaction { return &scriptedTxn{db: s} }
func (s *scriptedDB) Name() string { return "Scripted" }
func (s *scriptedDB) Close() error { return nil }

type scriptedTxn struct {
	db *scriptedDB
}

func (t *scriptedTxn) GetReadVersion(ctx context.Context) (int64, error) {
	return 1, t.db.next()
}

func (t *scriptedTxn) Get(ctx context.Context, key []byte, snapshot bool) ([]byte, error) {
	return nil, t.db.next()
}

func (t *scriptedTxn) GetRange(ctx context.Context, r kvstore.KeyRange, limit int, snapshot bool) ([]kvstore.KeyValue, error) {
	return nil, t.db.next()
}

func (t *scriptedTxn) Set(key, value []byte) {}
func (t *scriptedTxn) Clear(key []byte) {}
func (t *scriptedTxn) ClearRange(kvstore.KeyRange) {}

func (t *scriptedTxn) Commit(ctx context.Context) error {
	t.db.mu.Lock()
	t.db.commits++
	t.db.mu.Unlock()
	return t.db.next()
}

func (t *scriptedTxn) Reset() {
	t.db.mu.Lock()
	t.db.resets++
	t.db.mu.Unlock()
}

func (t *scriptedTxn) OnError(ctx context.Context, err error) error {
	t.db.mu.Lock()
	t.db.onError++
	t.db.mu.Unlock()
	if kvstore.IsRetryable(err) {
		return nil
	}
	return err
}

func testConfig(ops string) Config {
	cfg := DefaultConfig()
	cfg.Rows = 1000
	cfg.Operations = ops
	cfg.ActorCountPerClient = 1
	cfg.TestDuration = time.Second
	cfg.Seed = 1
	return cfg
}

// newTestWorker builds a worker without pacing for driving attempts by hand.
func newTestWorker(t *testing.T, cfg Config, db kvstore.DB) *Worker {
	t.Helper()
	p, err := cfg.prepare(zap.NewNop())
	require.NoError(t, err)
	p.interval = 0
	return newWorker(0, cfg, p, db, rand.New(rand.NewSource(cfg.Seed)), zap.NewNop())
}

// runAttempts drives n successful attempts through w.
func runAttempts(t *testing.T, w *Worker, n int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < n; i++ {
		require.NoError(t, w.attempt(ctx))
		w.recordSuccess()
		w.perOp = [NumKinds]int64{}
		w.tr.Reset()
	}
}
