/*
Copyright © 2025 Redis Performance Group  <performance <at> redis <dot> com>
*/
package workload

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/redis-performance/mako-benchmark/kvstore"
)

func TestRunInsertOnly(t *testing.T) {
	db := kvstore.NewMemDB(kvstore.MemOptions{})
	cfg := testConfig("i1")
	cfg.TransactionsPerSecond = 2000

	report, err := Run(context.Background(), db, cfg, zap.NewNop(), nil)
	require.NoError(t, err)
	require.NotNil(t, report)

	tot := report.Totals
	require.Greater(t, tot.Transactions, int64(0))
	require.Equal(t, tot.Transactions, tot.PerKind[Insert])
	require.Equal(t, tot.Transactions, tot.PerKind[Commit])
	require.Equal(t, 2*tot.Transactions, tot.Operations)
	require.Zero(t, tot.Retries)
	require.Equal(t, int(tot.Transactions), db.Len())
	require.LessOrEqual(t, report.Duration, cfg.TestDuration)
	require.Greater(t, report.Latency[Commit].Count, int64(0))

	// Paced at 2000 tx/s for one second.
	require.Less(t, tot.Transactions, int64(4000))

	require.NoError(t, Cleanup(context.Background(), db, zap.NewNop()))
	tr := db.NewTransaction()
	rows, err := tr.GetRange(context.Background(), kvstore.PrefixRange([]byte(KeyPrefix)), 0, true)
	require.NoError(t, err)
	require.Empty(t, rows)
}

func TestRunMixedWorkloadWithPopulatedRows(t *testing.T) {
	db := kvstore.NewMemDB(kvstore.MemOptions{})
	cfg := testConfig("grv1g4gr1:10sg1sgr1:5u1i1ir1:3c1sc1cr1:2scr1:3")
	cfg.ActorCountPerClient = 4
	cfg.TestDuration = 500 * time.Millisecond
	cfg.TransactionsPerSecond = 4000

	_, err := Populate(context.Background(), db, cfg, zap.NewNop(), nil)
	require.NoError(t, err)

	report, err := Run(context.Background(), db, cfg, zap.NewNop(), nil)
	require.NoError(t, err)
	tot := report.Totals
	require.Greater(t, tot.Transactions, int64(0))
	for _, k := range []OperationKind{GetReadVersion, SnapshotGet, SnapshotGetRange, Update, Insert, Clear, SetThenClear} {
		require.Equal(t, tot.Transactions, tot.PerKind[k], "kind %s", k)
	}
	require.Equal(t, 4*tot.Transactions, tot.PerKind[Get])
	// One outer commit plus the two inner ones.
	require.Equal(t, 3*tot.Transactions, tot.PerKind[Commit])
	require.Equal(t, 4, report.Workers)
	require.Len(t, report.PerWorker, 4)
}

func TestRunPeriodicReporter(t *testing.T) {
	db := kvstore.NewMemDB(kvstore.MemOptions{})
	cfg := testConfig("grv1i1")
	cfg.TestDuration = 550 * time.Millisecond
	cfg.EnableLogging = true
	cfg.PeriodicLoggingInterval = 100 * time.Millisecond
	cfg.TransactionsPerSecond = 1000

	var calls atomic.Int32
	report, err := Run(context.Background(), db, cfg, zap.NewNop(), func(s IntervalSnapshot) {
		calls.Add(1)
	})
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(report.Intervals), 4)
	require.Equal(t, int(calls.Load()), len(report.Intervals))

	first := report.Intervals[0]
	require.Equal(t, 100*time.Millisecond, first.Elapsed)
	require.Greater(t, first.TransactionsPerSec, 0.0)
	require.Greater(t, first.Commit.Count, int64(0))
	require.Greater(t, first.GRV.Mean, 0.0)

	var interval []string
	for _, m := range report.Metrics() {
		if strings.HasPrefix(m.Name, "T=") {
			interval = append(interval, m.Name)
		}
	}
	require.Equal(t, 2*len(report.Intervals), len(interval))
	require.Equal(t, "T=0000s: Transactions/sec", interval[0])
	require.Equal(t, "T=0000s: Operations/sec", interval[1])
}

func TestRunFatalErrorReturnsPartialReport(t *testing.T) {
	db := &scriptedDB{script: make([]error, 50), always: errors.New("unrecoverable")}
	cfg := testConfig("g1")
	cfg.ActorCountPerClient = 4
	cfg.TestDuration = 10 * time.Second
	cfg.TransactionsPerSecond = 0

	start := time.Now()
	report, err := Run(context.Background(), db, cfg, zap.NewNop(), nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "unrecoverable")
	require.Less(t, time.Since(start), 5*time.Second)
	require.NotNil(t, report)
	require.Equal(t, int64(50), report.Totals.Transactions)
}

func TestRunRejectsInvalidOperations(t *testing.T) {
	cfg := testConfig("gr10")
	report, err := Run(context.Background(), kvstore.NewMemDB(kvstore.MemOptions{}), cfg, nil, nil)
	require.Nil(t, report)
	require.True(t, IsParseError(err))
}

func TestRunStopsWithParentContext(t *testing.T) {
	cfg := testConfig("g1")
	cfg.TestDuration = time.Minute
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	start := time.Now()
	report, err := Run(ctx, kvstore.NewMemDB(kvstore.MemOptions{}), cfg, nil, nil)
	require.NoError(t, err)
	require.NotNil(t, report)
	require.Less(t, time.Since(start), 10*time.Second)
}

func TestCleanupRetriesConflicts(t *testing.T) {
	db := &scriptedDB{script: []error{kvstore.ErrNotCommitted, kvstore.ErrNotCommitted}}
	require.NoError(t, Cleanup(context.Background(), db, zap.NewNop()))
	require.Equal(t, 3, db.commits)
	require.Equal(t, 2, db.onError)
}

func TestCleanupFatal(t *testing.T) {
	db := &scriptedDB{always: errors.New("read only")}
	err := Cleanup(context.Background(), db, zap.NewNop())
	require.Error(t, err)
	require.Contains(t, err.Error(), "read only")
	require.Equal(t, 1, db.commits)
}

func TestCleanupOnlyTouchesPrefix(t *testing.T) {
	db := kvstore.NewMemDB(kvstore.MemOptions{})
	tr := db.NewTransaction()
	tr.Set([]byte("mak"), []byte("1"))
	tr.Set([]byte("mako0001xxxxxxxx"), []byte("2"))
	tr.Set([]byte("makp"), []byte("3"))
	require.NoError(t, tr.Commit(context.Background()))

	require.NoError(t, Cleanup(context.Background(), db, nil))
	require.Equal(t, 2, db.Len())
}
