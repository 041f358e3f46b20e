/*
Copyright © 2025 Redis Performance Group  <performance <at> redis <dot> com>
*/
package cmd

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

// CloudWatchConfig holds CloudWatch configuration
type CloudWatchConfig struct {
	Enabled   bool
	Region    string
	Namespace string
	Client    *cloudwatch.Client
	Hostname  string
	RunID     string
	logger    *zap.Logger

	// Conflicts and retries are cumulative within a phase; CloudWatch gets
	// the increase since the previous snapshot of the same phase.
	mu   sync.Mutex
	last map[string]eventCounts
}

type eventCounts struct {
	conflicts, retries int64
}

// NewCloudWatchConfig creates a new CloudWatch configuration. A disabled
// config is returned as is and emits nothing.
func NewCloudWatchConfig(ctx context.Context, enabled bool, region, namespace, runID string, logger *zap.Logger) (*CloudWatchConfig, error) {
	cw := &CloudWatchConfig{
		Enabled:   enabled,
		Region:    region,
		Namespace: namespace,
		RunID:     runID,
		logger:    logger,
	}
	if !enabled {
		return cw, nil
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
		logger.Warn("HostnameUnavailable", zap.Error(err))
	}
	cw.Hostname = hostname

	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, errors.Wrap(err, "failed to load AWS config")
	}
	cw.Client = cloudwatch.NewFromConfig(awsCfg)
	return cw, nil
}

func (cw *CloudWatchConfig) datum(name string, value float64, unit types.StandardUnit, at time.Time) types.MetricDatum {
	return types.MetricDatum{
		MetricName: aws.String(name),
		Value:      aws.Float64(value),
		Unit:       unit,
		Dimensions: []types.Dimension{
			{Name: aws.String("Host"), Value: aws.String(cw.Hostname)},
			{Name: aws.String("LoadTest"), Value: aws.String("Mako")},
			{Name: aws.String("RunID"), Value: aws.String(cw.RunID)},
		},
		Timestamp:         aws.Time(at),
		StorageResolution: aws.Int32(1),
	}
}

// metricData converts a snapshot into datapoints.
func (cw *CloudWatchConfig) metricData(s MetricsSnapshot, now time.Time) []types.MetricDatum {
	cw.mu.Lock()
	if cw.last == nil {
		cw.last = make(map[string]eventCounts)
	}
	prev := cw.last[s.Phase]
	cw.last[s.Phase] = eventCounts{conflicts: s.Conflicts, retries: s.Retries}
	cw.mu.Unlock()

	return []types.MetricDatum{
		cw.datum("TransactionsPerSecond", s.TransactionsPerSec, types.StandardUnitCountSecond, now),
		cw.datum("OperationsPerSecond", s.OperationsPerSec, types.StandardUnitCountSecond, now),
		cw.datum("Conflicts", float64(max(s.Conflicts-prev.conflicts, 0)), types.StandardUnitCount, now),
		cw.datum("Retries", float64(max(s.Retries-prev.retries, 0)), types.StandardUnitCount, now),
		cw.datum("CommitLatencyMedian", s.CommitMedianMs*1000, types.StandardUnitMicroseconds, now),
		cw.datum("CommitLatencyP95", s.CommitP95Ms*1000, types.StandardUnitMicroseconds, now),
		cw.datum("GRVLatencyP95", s.GRVP95Ms*1000, types.StandardUnitMicroseconds, now),
		cw.datum("StoreConnections", float64(s.System.StoreConns), types.StandardUnitCount, now),
	}
}

// emit publishes one snapshot asynchronously.
func (cw *CloudWatchConfig) emit(s MetricsSnapshot) {
	if !cw.Enabled || cw.Client == nil {
		return
	}
	data := cw.metricData(s, time.Now())

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		_, err := cw.Client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
			Namespace:  aws.String(cw.Namespace),
			MetricData: data,
		})
		if err != nil {
			cw.logger.Warn("CloudWatchEmitFailed", zap.Error(err))
		}
	}()
}
