/*
Copyright © 2025 Redis Performance Group  <performance <at> redis <dot> com>
*/
package cmd

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/redis-performance/mako-benchmark/kvstore"
	"github.com/redis-performance/mako-benchmark/workload"
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Populate the keyspace and run a paced transactional workload",
	Long: `Run populates rows [0, rows) of the benchmark keyspace, runs transactions built from
the operation mix for the test duration, then optionally clears the keyspace.

The mix is a sequence of opcodes with counts and, for range operations, a range
length: grv (read version), g/gr (get, get range), sg/sgr (snapshot get, snapshot get
range), u (update), i/ir (insert, insert range), c/cr (clear, clear range),
sc/scr (set then clear, set then clear range).

Examples:
  # 90% point reads, 10% updates against the in-memory store
  mako-benchmark run --operations g9u1 --test-duration 60s

  # Range reads against Redis at 5000 tx/s with a periodic report every 2 seconds
  mako-benchmark run --store redis --redis-uri redis://localhost:6379 \
      --operations grv1gr2:100 --transactions-per-second 5000 \
      --enable-logging --periodic-logging-interval 2s

  # Second of two clients splitting the target rate, keeping the data
  mako-benchmark run --client-count 2 --client-id 1 --populate-data=false`,
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return bindFlags(cmd)
	},
	RunE: runBenchmark,
}

func runBenchmark(cmd *cobra.Command, args []string) error {
	printVersion("run")
	fmt.Println()

	stopProfiling := startProfiling()
	defer stopProfiling()

	logger, err := newLogger()
	if err != nil {
		log.Fatalf("Invalid logging options: %v", err)
	}
	defer logger.Sync()

	cfg, err := workloadConfig()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	ctx, cancel := signalContext("Stopping workload and printing summary...")
	defer cancel()

	sinks, err := newReportSinks(ctx, "run", cfg, logger)
	if err != nil {
		log.Fatalf("Failed to set up metric sinks: %v", err)
	}
	defer sinks.Close()
	logger = sinks.logger

	db, err := openStore(ctx, logger, cfg.ActorCountPerClient)
	if err != nil {
		return err
	}
	defer db.Close()

	printRunBanner(cfg, db)

	report := &workload.Report{}
	if cfg.PopulateData {
		pop, err := populatePhase(ctx, db, cfg, logger, sinks)
		report.Population = pop
		if err != nil && ctx.Err() == nil {
			return errors.Wrap(err, "population failed")
		}
	}

	var runErr error
	if cfg.RunBenchmark && ctx.Err() == nil {
		fmt.Printf("\nRunning %s for %s with %d workers...\n", cfg.Operations, cfg.TestDuration, cfg.ActorCountPerClient)
		var r *workload.Report
		r, runErr = workload.Run(ctx, db, cfg, logger, sinks.onInterval)
		if r != nil {
			r.Population = report.Population
			report = r
		}
	}

	// An interrupted run still cleans up.
	if cfg.ClientID == 0 && !cfg.PreserveData {
		if err := cleanupPhase(context.Background(), db, logger); err != nil && runErr == nil {
			runErr = err
		}
	}

	clearLine()
	printFinalResults(report)
	printSystemSummary(sinks.sys.Sample())

	if runErr != nil {
		return errors.Wrap(runErr, "benchmark aborted")
	}
	return nil
}

// populatePhase loads this client's share of the keyspace with progress
// reporting.
func populatePhase(ctx context.Context, db kvstore.DB, cfg workload.Config, logger *zap.Logger, sinks *reportSinks) (*workload.PopulateResult, error) {
	begin, end := workload.ClientRows(cfg.Rows, cfg.ClientID, cfg.ClientCount)
	fmt.Printf("Populating rows %s to %s with %d workers...\n", humanize.Comma(begin), humanize.Comma(end), cfg.ActorCountPerClient)
	if cfg.WarmingDelay > 0 {
		fmt.Printf("Waiting %s before population\n", cfg.WarmingDelay)
	}

	stats := NewPerformanceStats()
	progressCtx, stopProgress := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		sinks.reportPopulateProgress(progressCtx, stats, end-begin)
	}()

	res, err := workload.Populate(ctx, db, cfg, logger, sinks.onBatch(stats))
	stopProgress()
	<-done
	stats.Close()

	clearLine()
	printPopulateResults(res, stats)
	return res, err
}

// cleanupPhase clears the benchmark keyspace within five minutes.
func cleanupPhase(parent context.Context, db kvstore.DB, logger *zap.Logger) error {
	ctx, cancel := context.WithTimeout(parent, 5*time.Minute)
	defer cancel()

	fmt.Printf("\nClearing benchmark keys...\n")
	start := time.Now()
	if err := workload.Cleanup(ctx, db, logger); err != nil {
		return err
	}
	fmt.Printf("Cleanup completed in %.2f seconds\n", time.Since(start).Seconds())
	return nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(message string) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigChan:
			clearLine()
			fmt.Println("\nReceived interrupt signal. " + message)
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigChan)
	}()
	return ctx, cancel
}

func printRunBanner(cfg workload.Config, db kvstore.DB) {
	fmt.Printf("Store: %s\n", db.Name())
	fmt.Printf("Client: %d of %d\n", cfg.ClientID, cfg.ClientCount)
	fmt.Printf("Workers: %d\n", cfg.ActorCountPerClient)
	fmt.Printf("Rows: %s (key %d bytes, value %d-%d bytes)\n",
		humanize.Comma(cfg.Rows), cfg.KeyBytes, cfg.EffectiveMinValueBytes(), cfg.ValueBytes)
	if ops, err := cfg.ParsedOperations(); err == nil {
		fmt.Printf("Operations: %s\n", ops)
	}
	if cfg.RunBenchmark {
		fmt.Printf("Test duration: %s\n", cfg.TestDuration)
		if tps := cfg.TransactionsPerSecondPerClient(); tps > 0 {
			fmt.Printf("Rate limit: %s tx/s for this client (%.2f tx/s per worker)\n",
				humanize.CommafWithDigits(tps, 2), tps/float64(cfg.ActorCountPerClient))
		} else {
			fmt.Printf("Rate limit: unlimited\n")
		}
	}
	fmt.Printf("Phases: populate=%t run=%t preserve=%t\n", cfg.PopulateData, cfg.RunBenchmark, cfg.PreserveData)
	fmt.Println()
}

func init() {
	rootCmd.AddCommand(runCmd)

	fs := runCmd.Flags()
	addWorkloadFlags(fs)
	addStoreFlags(fs)
	addReportFlags(fs)
	addProfilingFlags(fs)
}
