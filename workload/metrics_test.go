/*
Copyright © 2025 Redis Performance Group  <performance <at> redis <dot> com>
*/
package workload

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func fakeWorker(id int, tx int64, commitLatencies ...float64) *WorkerStats {
	ws := NewWorkerStats(id, 100, rand.New(rand.NewSource(int64(id))))
	ws.Counters.Transactions.Store(tx)
	ws.Counters.Retries.Store(1)
	ws.Counters.Conflicts.Store(2)
	ws.Counters.Operations.Store(2 * tx)
	ws.Counters.PerKind[Insert].Store(tx)
	ws.Counters.PerKind[Commit].Store(tx)
	for _, l := range commitLatencies {
		ws.Latency[Commit].Add(l)
	}
	return ws
}

func TestAggregate(t *testing.T) {
	workers := []*WorkerStats{
		fakeWorker(0, 10, 0.001, 0.003),
		fakeWorker(1, 30, 0.010),
		fakeWorker(2, 0),
	}
	r := Aggregate(workers, 2*time.Second, nil)

	require.Equal(t, int64(40), r.Totals.Transactions)
	require.Equal(t, int64(3), r.Totals.Retries)
	require.Equal(t, int64(6), r.Totals.Conflicts)
	require.Equal(t, int64(80), r.Totals.Operations)
	require.Equal(t, int64(40), r.Totals.PerKind[Insert])
	require.Equal(t, 20.0, r.TransactionsPerSec())
	require.Equal(t, 40.0, r.OperationsPerSec())
	require.Equal(t, 3.0, r.ConflictsPerSec())

	// Worker 2 has no samples and is left out of the averages.
	c := r.Latency[Commit]
	require.Equal(t, int64(3), c.Count)
	require.InDelta(t, (0.002+0.010)/2, c.Mean, 1e-12)
	require.InDelta(t, (0.001+0.010)/2, c.Min, 1e-12)
	require.InDelta(t, (0.003+0.010)/2, c.Max, 1e-12)
	require.InDelta(t, 0.003, r.PerWorker[0][Commit].Max, 1e-12)

	p := r.Percentiles[Commit]
	require.InDelta(t, 0.003, p.P50, 0.00001)
	require.InDelta(t, 0.010, p.P99, 0.00001)
	require.Zero(t, r.Percentiles[Get].P50)
}

func TestReportMetrics(t *testing.T) {
	r := Aggregate([]*WorkerStats{fakeWorker(0, 10, 0.002)}, time.Second, []IntervalSnapshot{
		{Elapsed: 5 * time.Second, TransactionsPerSec: 7, OperationsPerSec: 14},
	})
	r.Population = &PopulateResult{
		LoadTime:         1500 * time.Millisecond,
		RatesAtKeyCounts: []KeyCountRate{{Keys: 1000, BytesPerSec: 320}},
	}

	m := r.Metrics()
	byName := map[string]Metric{}
	for _, x := range m {
		byName[x.Name] = x
	}
	require.Equal(t, "Mean load time (seconds)", m[0].Name)
	require.Equal(t, "1000 keys imported bytes/sec", m[1].Name)
	require.Equal(t, "Measured Duration", m[2].Name)
	require.Equal(t, "Transactions", m[3].Name)

	require.Equal(t, 10.0, byName["Transactions"].Value)
	require.False(t, byName["Transactions"].Averaged)
	require.Equal(t, 10.0, byName["Transactions/sec"].Value)
	require.True(t, byName["Transactions/sec"].Averaged)
	require.Equal(t, 10.0, byName["INSERT"].Value)
	require.Equal(t, 1.0, byName["Retries"].Value)
	require.InDelta(t, 2.0, byName["Mean COMMIT Latency (ms)"].Value, 1e-9)
	require.InDelta(t, 2.0, byName["Max COMMIT Latency (ms, averaged)"].Value, 1e-9)
	require.Contains(t, byName, "Min GRV Latency (ms, averaged)")
	require.Contains(t, byName, "P95 SGETRANGE Latency (ms)")
	require.Equal(t, 7.0, byName["T=0005s: Transactions/sec"].Value)
	require.Equal(t, 14.0, byName["T=0005s: Operations/sec"].Value)
	require.Equal(t, "T=0005s: Operations/sec", m[len(m)-1].Name)
}

func TestReportMetricsPerWorker(t *testing.T) {
	r := Aggregate([]*WorkerStats{
		fakeWorker(0, 10, 0.001, 0.003),
		fakeWorker(1, 10),
		fakeWorker(2, 10, 0.020),
	}, time.Second, nil)

	byName := map[string]Metric{}
	for _, x := range r.Metrics() {
		byName[x.Name] = x
	}
	require.InDelta(t, 2.0, byName["W00 Mean COMMIT Latency (ms)"].Value, 1e-9)
	require.InDelta(t, 1.0, byName["W00 Min COMMIT Latency (ms)"].Value, 1e-9)
	require.InDelta(t, 3.0, byName["W00 Max COMMIT Latency (ms)"].Value, 1e-9)
	require.InDelta(t, 20.0, byName["W02 Max COMMIT Latency (ms)"].Value, 1e-9)
	require.True(t, byName["W02 Max COMMIT Latency (ms)"].Averaged)
	// The averaged max hides the slow worker.
	require.InDelta(t, 11.5, byName["Max COMMIT Latency (ms, averaged)"].Value, 1e-9)

	// Workers without samples of a kind get no rows for it.
	require.NotContains(t, byName, "W01 Mean COMMIT Latency (ms)")
	require.NotContains(t, byName, "W00 Mean GET Latency (ms)")
}

func TestReportMetricsPopulateOnly(t *testing.T) {
	r := &Report{Population: &PopulateResult{LoadTime: time.Second}}
	require.Len(t, r.Metrics(), 1)
}

func TestTotalsAdd(t *testing.T) {
	var a Totals
	a.Add(Totals{Transactions: 1, PerKind: [NumKinds]int64{Get: 3}})
	a.Add(Totals{Transactions: 2, PerKind: [NumKinds]int64{Get: 1, Commit: 2}})
	require.Equal(t, int64(3), a.Transactions)
	require.Equal(t, int64(4), a.PerKind[Get])
	require.Equal(t, int64(2), a.PerKind[Commit])
}
