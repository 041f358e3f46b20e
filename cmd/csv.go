/*
Copyright © 2025 Redis Performance Group  <performance <at> redis <dot> com>
*/
package cmd

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/redis-performance/mako-benchmark/workload"
)

// MetricsSnapshot is one CSV row: a population progress tick or a benchmark
// interval, plus the host statistics sampled with it.
type MetricsSnapshot struct {
	Timestamp      time.Time
	Phase          string
	ElapsedSeconds float64
	Actors         int
	TargetTPS      float64 // 0 means unlimited

	TransactionsPerSec float64
	OperationsPerSec   float64
	Transactions       int64
	Operations         int64
	Conflicts          int64
	Retries            int64

	// Latencies in milliseconds. Population reports batch commits here.
	CommitMeanMs   float64
	CommitMedianMs float64
	CommitP95Ms    float64
	GRVMeanMs      float64
	GRVP95Ms       float64

	System SystemStats
}

// intervalSnapshot converts a benchmark interval into a CSV row.
func intervalSnapshot(s workload.IntervalSnapshot, actors int, targetTPS float64, sys SystemStats) MetricsSnapshot {
	return MetricsSnapshot{
		Timestamp:          time.Now(),
		Phase:              "run",
		ElapsedSeconds:     s.Elapsed.Seconds(),
		Actors:             actors,
		TargetTPS:          targetTPS,
		TransactionsPerSec: s.TransactionsPerSec,
		OperationsPerSec:   s.OperationsPerSec,
		Transactions:       s.Totals.Transactions,
		Operations:         s.Totals.Operations,
		Conflicts:          s.Totals.Conflicts,
		Retries:            s.Totals.Retries,
		CommitMeanMs:       s.Commit.Mean * 1000,
		CommitMedianMs:     s.Commit.Median * 1000,
		CommitP95Ms:        s.Commit.P95 * 1000,
		GRVMeanMs:          s.GRV.Mean * 1000,
		GRVP95Ms:           s.GRV.P95 * 1000,
		System:             sys,
	}
}

// CSVLogger appends metrics snapshots to a CSV file.
type CSVLogger struct {
	file   *os.File
	writer *csv.Writer
	runID  string
	mutex  sync.Mutex
}

var csvHeader = []string{
	"timestamp", "run_id", "phase", "elapsed_seconds", "actors", "target_tps",
	"transactions_per_sec", "operations_per_sec",
	"transactions", "operations", "conflicts", "retries",
	"commit_latency_mean_ms", "commit_latency_median_ms", "commit_latency_p95_ms",
	"grv_latency_mean_ms", "grv_latency_p95_ms",
	"network_rx_mbps", "network_tx_mbps", "network_rx_pps", "network_tx_pps",
	"memory_used_gb", "memory_total_gb", "cpu_percent", "process_memory_gb",
	"store_conns", "store_conn_delta",
}

// NewCSVLogger creates filename and writes the header row.
func NewCSVLogger(filename, runID string) (*CSVLogger, error) {
	file, err := os.Create(filename)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create CSV file")
	}

	writer := csv.NewWriter(file)
	if err := writer.Write(csvHeader); err != nil {
		file.Close()
		return nil, errors.Wrap(err, "failed to write CSV header")
	}
	writer.Flush()

	return &CSVLogger{file: file, writer: writer, runID: runID}, nil
}

// LogMetrics writes a metrics snapshot to the CSV file
func (cl *CSVLogger) LogMetrics(s MetricsSnapshot) error {
	cl.mutex.Lock()
	defer cl.mutex.Unlock()

	target := "unlimited"
	if s.TargetTPS > 0 {
		target = fmt.Sprintf("%.2f", s.TargetTPS)
	}

	sys := s.System
	record := []string{
		s.Timestamp.Format(time.RFC3339),
		cl.runID,
		s.Phase,
		fmt.Sprintf("%.3f", s.ElapsedSeconds),
		strconv.Itoa(s.Actors),
		target,
		fmt.Sprintf("%.2f", s.TransactionsPerSec),
		fmt.Sprintf("%.2f", s.OperationsPerSec),
		strconv.FormatInt(s.Transactions, 10),
		strconv.FormatInt(s.Operations, 10),
		strconv.FormatInt(s.Conflicts, 10),
		strconv.FormatInt(s.Retries, 10),
		fmt.Sprintf("%.3f", s.CommitMeanMs),
		fmt.Sprintf("%.3f", s.CommitMedianMs),
		fmt.Sprintf("%.3f", s.CommitP95Ms),
		fmt.Sprintf("%.3f", s.GRVMeanMs),
		fmt.Sprintf("%.3f", s.GRVP95Ms),
		fmt.Sprintf("%.3f", sys.NetworkRxMBps),
		fmt.Sprintf("%.3f", sys.NetworkTxMBps),
		fmt.Sprintf("%.0f", sys.NetworkRxPPS),
		fmt.Sprintf("%.0f", sys.NetworkTxPPS),
		fmt.Sprintf("%.2f", sys.MemoryUsedMB/1024),
		fmt.Sprintf("%.2f", sys.MemoryTotalMB/1024),
		fmt.Sprintf("%.1f", sys.CPUPercent),
		fmt.Sprintf("%.3f", sys.ProcessMemoryMB/1024),
		strconv.Itoa(sys.StoreConns),
		strconv.Itoa(sys.StoreConnDelta),
	}

	if err := cl.writer.Write(record); err != nil {
		return errors.Wrap(err, "failed to write CSV record")
	}
	cl.writer.Flush()
	return cl.writer.Error()
}

// Close closes the CSV logger
func (cl *CSVLogger) Close() error {
	cl.mutex.Lock()
	defer cl.mutex.Unlock()

	if cl.writer != nil {
		cl.writer.Flush()
	}
	if cl.file != nil {
		return cl.file.Close()
	}
	return nil
}
