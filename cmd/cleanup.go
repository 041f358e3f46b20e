/*
Copyright © 2025 Redis Performance Group  <performance <at> redis <dot> com>
*/
package cmd

import (
	"fmt"
	"log"

	"github.com/spf13/cobra"
)

// cleanupCmd clears the benchmark keyspace left behind by preserved runs.
var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Clear every benchmark key from the store",
	Long: `Cleanup clears the whole benchmark key prefix in one transaction, retrying on
conflicts. Use it after runs made with --preserve-data.

Example:
  mako-benchmark cleanup --store redis --redis-uri redis://localhost:6379`,
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return bindFlags(cmd)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		printVersion("cleanup")
		fmt.Println()

		logger, err := newLogger()
		if err != nil {
			log.Fatalf("Invalid logging options: %v", err)
		}
		defer logger.Sync()

		ctx, cancel := signalContext("Aborting cleanup...")
		defer cancel()

		db, err := openStore(ctx, logger, 1)
		if err != nil {
			return err
		}
		defer db.Close()

		fmt.Printf("Store: %s\n", db.Name())
		return cleanupPhase(ctx, db, logger)
	},
}

func init() {
	rootCmd.AddCommand(cleanupCmd)
	addStoreFlags(cleanupCmd.Flags())
}
