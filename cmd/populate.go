/*
Copyright © 2025 Redis Performance Group  <performance <at> redis <dot> com>
*/
package cmd

import (
	"fmt"
	"log"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
)

// populateCmd represents the populate command
var populateCmd = &cobra.Command{
	Use:   "populate",
	Short: "Load the benchmark keyspace without running the workload",
	Long: `Populate loads this client's share of rows [0, rows) in batched transactions using
the configured number of workers, optionally throttled by --max-insert-rate, and
reports the load time and the import rate at each --insertion-counts-to-measure key
count. The data is always preserved.

Examples:
  # Load one million rows into Redis with 32 workers
  mako-benchmark populate --store redis --redis-uri redis://localhost:6379 --rows 1000000 -c 32

  # Throttle to 20000 rows/s and record import rates at 100k and 500k keys
  mako-benchmark populate --store redis --rows 1000000 --max-insert-rate 20000 \
      --insertion-counts-to-measure 100000,500000`,
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return bindFlags(cmd)
	},
	RunE: runPopulate,
}

func runPopulate(cmd *cobra.Command, args []string) error {
	printVersion("populate")
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
	cfg.PopulateData = true
	cfg.RunBenchmark = false
	cfg.PreserveData = true

	ctx, cancel := signalContext("Stopping workers and printing summary...")
	defer cancel()

	sinks, err := newReportSinks(ctx, "populate", cfg, logger)
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

	_, err = populatePhase(ctx, db, cfg, logger, sinks)
	printSystemSummary(sinks.sys.Sample())
	if err != nil && ctx.Err() == nil {
		return errors.Wrap(err, "population failed")
	}
	return nil
}

func init() {
	rootCmd.AddCommand(populateCmd)

	fs := populateCmd.Flags()
	addWorkloadFlags(fs)
	addStoreFlags(fs)
	addReportFlags(fs)
	addProfilingFlags(fs)
}
