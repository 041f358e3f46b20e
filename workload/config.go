/*
Copyright © 2025 Redis Performance Group  <performance <at> redis <dot> com>
*/
package workload

import (
	"sort"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

// UnlimitedInsertRate disables population throttling.
const UnlimitedInsertRate = 1e12

// Config is the full set of benchmark options.
type Config struct {
	// Rows is the size of the populated keyspace.
	Rows         int64
	TestDuration time.Duration
	// Operations is the per-transaction mix, e.g. "g9u1".
	Operations string
	// TransactionsPerSecond is the target across all clients.
	TransactionsPerSecond float64
	ActorCountPerClient   int
	// SampleSize sets reservoir capacity to Rows/SampleSize.
	SampleSize    int
	KeyBytes      int
	ValueBytes    int
	MinValueBytes int
	// CommitGet commits read-only transactions too.
	CommitGet bool

	PopulateData bool
	RunBenchmark bool
	PreserveData bool

	EnableLogging           bool
	PeriodicLoggingInterval time.Duration

	WarmingDelay             time.Duration
	MaxInsertRate            float64
	InsertionCountsToMeasure []int64
	PopulateBatchSize        int

	ClientCount int
	ClientID    int

	// Seed seeds the worker random sources. Zero picks one from the clock.
	Seed int64
}

// DefaultConfig returns the stock option values.
func DefaultConfig() Config {
	return Config{
		Rows:                    10000,
		TestDuration:            30 * time.Second,
		Operations:              "g100",
		TransactionsPerSecond:   100000,
		ActorCountPerClient:     16,
		KeyBytes:                MinKeyBytes,
		ValueBytes:              16,
		MinValueBytes:           -1,
		PopulateData:            true,
		RunBenchmark:            true,
		PreserveData:            true,
		PeriodicLoggingInterval: 5 * time.Second,
		MaxInsertRate:           UnlimitedInsertRate,
		PopulateBatchSize:       100,
		ClientCount:             1,
	}
}

// plan is a validated Config ready to drive workers.
type plan struct {
	ops      Operations
	codec    KeyCodec
	capacity int
	interval time.Duration
}

// EffectiveSampleSize resolves a zero SampleSize to Rows/100.
func (c Config) EffectiveSampleSize() int {
	if c.SampleSize > 0 {
		return c.SampleSize
	}
	if s := int(c.Rows / 100); s > 0 {
		return s
	}
	return 1
}

// EffectiveMinValueBytes resolves a negative MinValueBytes to ValueBytes.
func (c Config) EffectiveMinValueBytes() int {
	if c.MinValueBytes < 0 {
		return c.ValueBytes
	}
	return c.MinValueBytes
}

// TransactionsPerSecondPerClient splits the target evenly across clients.
func (c Config) TransactionsPerSecondPerClient() float64 {
	if c.ClientCount <= 1 {
		return c.TransactionsPerSecond
	}
	return c.TransactionsPerSecond / float64(c.ClientCount)
}

// Validate checks every option and the operations string.
func (c Config) Validate() error {
	_, err := c.prepare(zap.NewNop())
	return err
}

// ParsedOperations returns the parsed mix or the parse error.
func (c Config) ParsedOperations() (Operations, error) {
	return ParseOperations(c.Operations)
}

func (c Config) prepare(logger *zap.Logger) (*plan, error) {
	switch {
	case c.Rows <= 0:
		return nil, errors.Newf("rows must be positive, got %d", c.Rows)
	case c.RunBenchmark && c.TestDuration <= 0:
		return nil, errors.Newf("test-duration must be positive, got %s", c.TestDuration)
	case c.ActorCountPerClient <= 0:
		return nil, errors.Newf("actor-count-per-client must be positive, got %d", c.ActorCountPerClient)
	case c.TransactionsPerSecond < 0:
		return nil, errors.Newf("transactions-per-second must not be negative, got %g", c.TransactionsPerSecond)
	case c.SampleSize < 0:
		return nil, errors.Newf("sample-size must not be negative, got %d", c.SampleSize)
	case c.ClientCount <= 0:
		return nil, errors.Newf("client-count must be positive, got %d", c.ClientCount)
	case c.ClientID < 0 || c.ClientID >= c.ClientCount:
		return nil, errors.Newf("client-id %d is outside [0, %d)", c.ClientID, c.ClientCount)
	case c.EnableLogging && c.PeriodicLoggingInterval <= 0:
		return nil, errors.Newf("periodic-logging-interval must be positive, got %s", c.PeriodicLoggingInterval)
	case c.MaxInsertRate < 0:
		return nil, errors.Newf("max-insert-rate must not be negative, got %g", c.MaxInsertRate)
	case c.WarmingDelay < 0:
		return nil, errors.Newf("warming-delay must not be negative, got %s", c.WarmingDelay)
	case c.ValueBytes < 0:
		return nil, errors.Newf("value-bytes must not be negative, got %d", c.ValueBytes)
	}

	codec, err := NewKeyCodec(c.Rows, c.KeyBytes, c.EffectiveMinValueBytes(), c.ValueBytes)
	if err != nil {
		return nil, err
	}

	ops, err := ParseOperations(c.Operations)
	if err != nil {
		logger.Error("InvalidTransactionSpecification", zap.String("operations", c.Operations), zap.Error(err))
		return nil, err
	}
	for _, k := range ops.ExceedsRangeLimit() {
		logger.Warn("RangeExceedLimit",
			zap.Stringer("operation", k),
			zap.Int("rangeLimit", RangeLimit),
			zap.Int("range", ops[k].Range))
	}
	if ops.Empty() {
		logger.Warn("EmptyOperations", zap.String("operations", c.Operations))
	}

	return &plan{
		ops:      ops,
		codec:    codec,
		capacity: ReservoirCapacity(c.Rows, c.EffectiveSampleSize()),
		interval: MeanInterval(c.ActorCountPerClient, c.TransactionsPerSecondPerClient()),
	}, nil
}

// checkpoints returns the sorted, de-duplicated positive key counts.
func (c Config) checkpoints() []int64 {
	out := make([]int64, 0, len(c.InsertionCountsToMeasure))
	for _, n := range c.InsertionCountsToMeasure {
		if n > 0 {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	j := 0
	for i := range out {
		if i == 0 || out[i] != out[i-1] {
			out[j] = out[i]
			j++
		}
	}
	return out[:j]
}
