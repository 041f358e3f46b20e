/*
Copyright © 2025 Redis Performance Group  <performance <at> redis <dot> com>
*/
package cmd

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/redis-performance/mako-benchmark/workload"
)

// addReportFlags registers the output sinks.
func addReportFlags(fs *pflag.FlagSet) {
	fs.String("csv-output", "", "CSV file to log progress metrics (default: auto-generated filename, \"none\" disables)")
	fs.String("metrics-addr", "", "Serve Prometheus metrics on address (e.g., localhost:9100)")
	fs.Bool("quiet", false, "Suppress the progress output")

	// CloudWatch Options
	fs.Bool("cloudwatch-enabled", false, "Enable CloudWatch metrics emission")
	fs.String("cloudwatch-region", "us-east-2", "AWS region for CloudWatch metrics")
	fs.String("cloudwatch-namespace", "MakoBenchmark", "CloudWatch namespace for metrics")
}

// reportSinks fans progress out to the console, CSV, CloudWatch and
// Prometheus.
type reportSinks struct {
	runID      string
	cfg        workload.Config
	quiet      bool
	csv        *CSVLogger
	cloudwatch *CloudWatchConfig
	prom       *promSink
	sys        *sysMonitor
	logger     *zap.Logger
}

func newReportSinks(ctx context.Context, phase string, cfg workload.Config, logger *zap.Logger) (*reportSinks, error) {
	s := &reportSinks{
		runID: uuid.NewString(),
		cfg:   cfg,
		quiet: viper.GetBool("quiet"),
		sys:   newSysMonitor(storePorts()),
	}
	s.logger = logger.With(zap.String("runID", s.runID))
	go s.sys.watch(ctx)

	if csvOutput := viper.GetString("csv-output"); csvOutput != "none" {
		if csvOutput == "" {
			timestamp := time.Now().Format("20060102-150405")
			csvOutput = fmt.Sprintf("mako-%s-%s.csv", phase, timestamp)
		}
		csvLogger, err := NewCSVLogger(csvOutput, s.runID)
		if err != nil {
			return nil, err
		}
		s.csv = csvLogger
		fmt.Printf("Logging metrics to: %s\n", csvOutput)
	}

	cw, err := NewCloudWatchConfig(ctx, viper.GetBool("cloudwatch-enabled"),
		viper.GetString("cloudwatch-region"), viper.GetString("cloudwatch-namespace"), s.runID, s.logger)
	if err != nil {
		s.logger.Warn("CloudWatchDisabled", zap.Error(err))
		cw = &CloudWatchConfig{Enabled: false}
	} else if cw.Enabled {
		fmt.Printf("CloudWatch metrics enabled: region=%s, namespace=%s, host=%s\n", cw.Region, cw.Namespace, cw.Hostname)
	}
	s.cloudwatch = cw

	if addr := viper.GetString("metrics-addr"); addr != "" {
		s.prom = newPromSink(s.runID)
		go s.prom.serve(ctx, addr, s.logger)
	}
	return s, nil
}

func (s *reportSinks) Close() {
	if s.csv != nil {
		if err := s.csv.Close(); err != nil {
			s.logger.Warn("CSVCloseFailed", zap.Error(err))
		}
	}
}

func (s *reportSinks) record(row MetricsSnapshot) {
	if s.csv != nil {
		if err := s.csv.LogMetrics(row); err != nil {
			s.logger.Warn("CSVWriteFailed", zap.Error(err))
		}
	}
	s.cloudwatch.emit(row)
}

// onInterval is the workload.IntervalFunc of the benchmark phase.
func (s *reportSinks) onInterval(snap workload.IntervalSnapshot) {
	sys := s.sys.Sample()
	s.record(intervalSnapshot(snap, s.cfg.ActorCountPerClient, s.cfg.TransactionsPerSecondPerClient(), sys))
	if s.prom != nil {
		s.prom.observeInterval(snap)
	}
	if !s.quiet {
		printIntervalProgress(snap, sys, s.cfg)
	}
}

// onBatch is the workload.BatchFunc of the population phase.
func (s *reportSinks) onBatch(stats *PerformanceStats) workload.BatchFunc {
	return func(b workload.BatchResult) {
		stats.RecordBatch(b)
		if s.prom != nil {
			s.prom.observeBatch(b)
		}
	}
}

// reportPopulateProgress prints and logs population progress every second.
func (s *reportSinks) reportPopulateProgress(ctx context.Context, stats *PerformanceStats, totalRows int64) {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	var lastRows, lastBatches int64
	last := stats.StartTime
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			rows, _, batches, retries := stats.Totals()
			window := stats.TakeWindow()
			dt := now.Sub(last).Seconds()
			rowsPerSec := float64(rows-lastRows) / dt
			batchesPerSec := float64(batches-lastBatches) / dt
			lastRows, lastBatches, last = rows, batches, now

			sys := s.sys.Sample()
			s.record(MetricsSnapshot{
				Timestamp:          now,
				Phase:              "populate",
				ElapsedSeconds:     now.Sub(stats.StartTime).Seconds(),
				Actors:             s.cfg.ActorCountPerClient,
				TargetTPS:          insertRateLimit(s.cfg),
				TransactionsPerSec: batchesPerSec,
				OperationsPerSec:   rowsPerSec,
				Transactions:       batches,
				Operations:         rows,
				Retries:            retries,
				CommitMeanMs:       window.Mean / 1000,
				CommitMedianMs:     float64(window.P50) / 1000,
				CommitP95Ms:        float64(window.P95) / 1000,
				System:             sys,
			})

			if s.quiet {
				continue
			}
			progress := 1.0
			if totalRows > 0 {
				progress = float64(rows) / float64(totalRows)
			}
			line := fmt.Sprintf("\r%s | %s rows/s | Rows: %s | Retries: %d | Batch p50 %.2f ms p99 %.2f ms | Mem: %.1fGB/%.1fGB | CPU: %.0f%% | Net: %.1f/%.1f MB/s",
				createPopulateProgressBar(progress, now.Sub(stats.StartTime)),
				humanize.Comma(int64(rowsPerSec)), humanize.Comma(rows), retries,
				float64(window.P50)/1000, float64(window.P99)/1000,
				sys.MemoryUsedMB/1024, sys.MemoryTotalMB/1024, sys.CPUPercent,
				sys.NetworkRxMBps, sys.NetworkTxMBps)
			if len(line) > 150 {
				line = line[:147] + "..."
			}
			fmt.Print(line)
		}
	}
}

func insertRateLimit(cfg workload.Config) float64 {
	if cfg.MaxInsertRate >= workload.UnlimitedInsertRate {
		return 0
	}
	return cfg.MaxInsertRate
}

func clearLine() {
	fmt.Print("\r" + strings.Repeat(" ", 150) + "\r")
}

// createPopulateProgressBar creates a progress bar for populate operations
func createPopulateProgressBar(progress float64, elapsed time.Duration) string {
	if progress > 1.0 {
		progress = 1.0
	}
	return fmt.Sprintf("%s %s (%.1f%%)", progressBar(progress, 20), clock(elapsed), progress*100)
}

// createRunProgressBar creates a progress bar against the test duration.
func createRunProgressBar(elapsed, total time.Duration) string {
	progress := float64(elapsed) / float64(total)
	if progress > 1.0 {
		progress = 1.0
	}
	return fmt.Sprintf("%s %s/%s", progressBar(progress, 10), clock(elapsed), clock(total))
}

func progressBar(progress float64, width int) string {
	filled := int(progress * float64(width))
	var b strings.Builder
	b.WriteByte('[')
	for i := 0; i < width; i++ {
		switch {
		case i < filled:
			b.WriteByte('=')
		case i == filled && progress < 1.0:
			b.WriteByte('>')
		default:
			b.WriteByte('-')
		}
	}
	b.WriteByte(']')
	return b.String()
}

func clock(d time.Duration) string {
	return fmt.Sprintf("%02d:%02d", int(d.Minutes()), int(d.Seconds())%60)
}

func printIntervalProgress(snap workload.IntervalSnapshot, sys SystemStats, cfg workload.Config) {
	fmt.Printf("\n%s\n"+
		"Workers : %d\n"+
		"\n"+
		"Throughput\n"+
		"  Tx/s    : %s  |  Ops/s: %s\n"+
		"  Totals  : %s tx | %s conflicts | %s retries\n"+
		"\n"+
		"Latency\n"+
		"  COMMIT  : mean %.2f ms | p50 %.2f ms | p95 %.2f ms\n"+
		"  GRV     : mean %.2f ms | p50 %.2f ms | p95 %.2f ms\n"+
		"\n"+
		"System\n"+
		"  Memory  : %.1fGB / %.1fGB\n"+
		"  CPU     : %.0f%%\n"+
		"  ProcMem : %.1fGB\n"+
		"  Network : Rx %.1f MB/s | Tx %.1f MB/s\n"+
		"  Store Conns: %d (Δ%+d)\n",
		createRunProgressBar(snap.Elapsed, cfg.TestDuration),
		cfg.ActorCountPerClient,
		humanize.CommafWithDigits(snap.TransactionsPerSec, 0), humanize.CommafWithDigits(snap.OperationsPerSec, 0),
		humanize.Comma(snap.Totals.Transactions), humanize.Comma(snap.Totals.Conflicts), humanize.Comma(snap.Totals.Retries),
		snap.Commit.Mean*1000, snap.Commit.Median*1000, snap.Commit.P95*1000,
		snap.GRV.Mean*1000, snap.GRV.Median*1000, snap.GRV.P95*1000,
		sys.MemoryUsedMB/1024, sys.MemoryTotalMB/1024,
		sys.CPUPercent,
		sys.ProcessMemoryMB/1024,
		sys.NetworkRxMBps, sys.NetworkTxMBps,
		sys.StoreConns, sys.StoreConnDelta,
	)
}

// printPopulateResults prints the population summary.
func printPopulateResults(res *workload.PopulateResult, stats *PerformanceStats) {
	if res == nil {
		return
	}
	_, _, batches, retries := stats.Totals()
	lat := stats.Overall()

	fmt.Println("\n" + strings.Repeat("=", 60))
	fmt.Println("POPULATE RESULTS")
	fmt.Println(strings.Repeat("=", 60))
	fmt.Printf("Rows: %s (%s)\n", humanize.Comma(res.Rows), humanize.Bytes(uint64(res.Bytes)))
	fmt.Printf("Load Time: %.3f seconds\n", res.LoadTime.Seconds())
	if secs := res.LoadTime.Seconds(); secs > 0 {
		fmt.Printf("Rows/sec: %s\n", humanize.CommafWithDigits(float64(res.Rows)/secs, 0))
		fmt.Printf("Import Rate: %s/s\n", humanize.Bytes(uint64(float64(res.Bytes)/secs)))
	}
	fmt.Printf("Batches: %s (%d retries)\n", humanize.Comma(batches), retries)
	if lat.Batches > 0 {
		fmt.Printf("Batch Latency - P50: %d μs, P95: %d μs, P99: %d μs, Max: %d μs\n", lat.P50, lat.P95, lat.P99, lat.Max)
	}
	for _, r := range res.RatesAtKeyCounts {
		fmt.Printf("%s keys imported: %s/s\n", humanize.Comma(r.Keys), humanize.Bytes(uint64(r.BytesPerSec)))
	}
	fmt.Println(strings.Repeat("=", 60))
}

// printFinalResults prints every metric of the report, one per line.
func printFinalResults(report *workload.Report) {
	fmt.Println("\n" + strings.Repeat("=", 60))
	fmt.Println("WORKLOAD RESULTS")
	fmt.Println(strings.Repeat("=", 60))

	for _, m := range report.Metrics() {
		fmt.Printf("%-48s %s\n", m.Name+":", formatMetric(m.Value))
	}
	fmt.Println(strings.Repeat("=", 60))
}

func formatMetric(v float64) string {
	if v == float64(int64(v)) && v < 1e15 && v > -1e15 {
		return humanize.Comma(int64(v))
	}
	return humanize.CommafWithDigits(v, 3)
}

// printSystemSummary prints CPU and system resource summary
func printSystemSummary(sys SystemStats) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	fmt.Printf("\n=== System Resource Summary ===\n")
	fmt.Printf("CPU Information:\n")
	fmt.Printf("  CPU Cores: %d\n", runtime.NumCPU())
	fmt.Printf("  Current CPU Usage: %.1f%%\n", sys.CPUPercent)
	fmt.Println()

	fmt.Printf("Memory Information:\n")
	if sys.MemoryTotalMB > 0 {
		fmt.Printf("  System Memory: %.2f GB used / %.2f GB total (%.1f%% used)\n",
			sys.MemoryUsedMB/1024, sys.MemoryTotalMB/1024, sys.MemoryUsedMB/sys.MemoryTotalMB*100)
	}
	fmt.Printf("  Process Memory: %.2f GB\n", sys.ProcessMemoryMB/1024)
	fmt.Println()

	fmt.Printf("Go Runtime Information:\n")
	fmt.Printf("  Goroutines: %d\n", runtime.NumGoroutine())
	fmt.Printf("  Heap Allocated: %s\n", humanize.IBytes(memStats.Alloc))
	fmt.Printf("  Heap System: %s\n", humanize.IBytes(memStats.HeapSys))
	fmt.Printf("  GC Cycles: %d\n", memStats.NumGC)
	fmt.Println()
}
