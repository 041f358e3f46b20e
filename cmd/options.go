/*
Copyright © 2025 Redis Performance Group  <performance <at> redis <dot> com>
*/
package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/redis-performance/mako-benchmark/workload"
)

// addWorkloadFlags registers the benchmark options shared by run and populate.
func addWorkloadFlags(fs *pflag.FlagSet) {
	def := workload.DefaultConfig()

	// Keyspace Options
	fs.Int64("rows", def.Rows, "Number of rows in the populated keyspace")
	fs.Int("key-bytes", def.KeyBytes, "Key size in bytes (minimum 16)")
	fs.Int("value-bytes", def.ValueBytes, "Maximum value size in bytes")
	fs.Int("min-value-bytes", def.MinValueBytes, "Minimum value size in bytes (-1 = value-bytes)")

	// Transaction Options
	fs.StringP("operations", "o", def.Operations, `Operation mix per transaction, e.g. "g9u1" or "grv1gr2:100i1"`)
	fs.Duration("test-duration", def.TestDuration, "Benchmark duration")
	fs.Float64P("transactions-per-second", "r", def.TransactionsPerSecond, "Target transactions per second across all clients (0 = unlimited)")
	fs.IntP("actor-count-per-client", "c", def.ActorCountPerClient, "Number of concurrent transaction workers per client")
	fs.Int("sample-size", def.SampleSize, "Latency reservoir capacity divisor (0 = rows/100)")
	fs.Bool("commit-get", def.CommitGet, "Commit read-only transactions too")
	fs.Int64("seed", def.Seed, "Random seed (0 = time based)")

	// Phase Options
	fs.Bool("populate-data", def.PopulateData, "Load the keyspace before benchmarking")
	fs.Bool("run-benchmark", def.RunBenchmark, "Run the timed benchmark")
	fs.Bool("preserve-data", def.PreserveData, "Keep the benchmark keys after the run")

	// Reporting Options
	fs.Bool("enable-logging", def.EnableLogging, "Report throughput and latency every periodic interval")
	fs.Duration("periodic-logging-interval", def.PeriodicLoggingInterval, "Interval of the periodic report")

	// Population Options
	fs.Duration("warming-delay", def.WarmingDelay, "Delay before population starts")
	fs.Float64("max-insert-rate", 0, "Maximum population rate in rows per second (0 = unlimited)")
	fs.IntSlice("insertion-counts-to-measure", nil, "Key counts at which to record the population import rate")
	fs.Int("populate-batch-size", def.PopulateBatchSize, "Rows per population transaction")

	// Multi-client Options
	fs.Int("client-count", def.ClientCount, "Number of benchmark clients sharing the target rate")
	fs.Int("client-id", def.ClientID, "Index of this client (client 0 cleans up)")
}

// workloadConfig reads the workload options bound through viper.
func workloadConfig() (workload.Config, error) {
	cfg := workload.DefaultConfig()
	cfg.Rows = viper.GetInt64("rows")
	cfg.KeyBytes = viper.GetInt("key-bytes")
	cfg.ValueBytes = viper.GetInt("value-bytes")
	cfg.MinValueBytes = viper.GetInt("min-value-bytes")

	cfg.Operations = viper.GetString("operations")
	cfg.TestDuration = viper.GetDuration("test-duration")
	cfg.TransactionsPerSecond = viper.GetFloat64("transactions-per-second")
	cfg.ActorCountPerClient = viper.GetInt("actor-count-per-client")
	cfg.SampleSize = viper.GetInt("sample-size")
	cfg.CommitGet = viper.GetBool("commit-get")
	cfg.Seed = viper.GetInt64("seed")

	cfg.PopulateData = viper.GetBool("populate-data")
	cfg.RunBenchmark = viper.GetBool("run-benchmark")
	cfg.PreserveData = viper.GetBool("preserve-data")

	cfg.EnableLogging = viper.GetBool("enable-logging")
	cfg.PeriodicLoggingInterval = viper.GetDuration("periodic-logging-interval")

	cfg.WarmingDelay = viper.GetDuration("warming-delay")
	if rate := viper.GetFloat64("max-insert-rate"); rate > 0 {
		cfg.MaxInsertRate = rate
	} else if rate < 0 {
		return cfg, errors.Newf("max-insert-rate must not be negative, got %g", rate)
	}
	counts, err := int64Slice("insertion-counts-to-measure")
	if err != nil {
		return cfg, err
	}
	cfg.InsertionCountsToMeasure = counts
	cfg.PopulateBatchSize = viper.GetInt("populate-batch-size")

	cfg.ClientCount = viper.GetInt("client-count")
	cfg.ClientID = viper.GetInt("client-id")

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// int64Slice reads a list option that may come from a flag, a config file
// list or a comma separated environment value.
func int64Slice(key string) ([]int64, error) {
	var items []string
	switch v := viper.Get(key).(type) {
	case nil:
		return nil, nil
	case []int:
		out := make([]int64, len(v))
		for i, n := range v {
			out[i] = int64(n)
		}
		return out, nil
	case []interface{}:
		for _, x := range v {
			items = append(items, fmt.Sprint(x))
		}
	case []string:
		items = v
	case string:
		items = strings.FieldsFunc(strings.Trim(v, "[]"), func(r rune) bool {
			return r == ',' || r == ' '
		})
	default:
		items = []string{fmt.Sprint(v)}
	}

	out := make([]int64, 0, len(items))
	for _, s := range items {
		n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "%s: invalid key count %q", key, s)
		}
		out = append(out, n)
	}
	return out, nil
}
