/*
Copyright © 2025 Redis Performance Group  <performance <at> redis <dot> com>
*/
package cmd

import (
	"context"
	"net/url"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/redis-performance/mako-benchmark/kvstore"
)

// addStoreFlags registers the backend selection and Redis connection options.
func addStoreFlags(fs *pflag.FlagSet) {
	fs.StringP("store", "t", "memory", "Store backend: memory or redis")
	fs.Duration("memory-latency", 0, "Simulated round trip of the memory store")

	// Redis Options
	fs.StringP("redis-uri", "u", "redis://localhost:6379", "Redis URI (redis://[username[:password]@]host[:port][/db-number] or rediss:// for TLS)")
	fs.String("redis-namespace", "mako-bench", "Prefix of every Redis key the store writes")
	fs.Int("redis-dial-timeout", 60, "Redis dial timeout in seconds")
	fs.Int("redis-read-timeout", 60, "Redis read timeout in seconds")
	fs.Int("redis-write-timeout", 60, "Redis write timeout in seconds")
	fs.Int("redis-pool-timeout", 120, "Redis connection pool timeout in seconds")
	fs.Int("redis-conn-max-idle-time", 120, "Redis connection max idle time in seconds")
	fs.Int("redis-max-retries", 3, "Redis maximum number of retries")
	fs.Int("redis-min-retry-backoff", 1000, "Redis minimum retry backoff in milliseconds")
	fs.Int("redis-max-retry-backoff", 10000, "Redis maximum retry backoff in milliseconds")
	fs.Int("redis-pool-size", 0, "Redis connection pool size (0 = one per worker)")
	fs.Int("connection-timeout", 30, "Timeout in seconds for the initial store ping")
}

// openStore creates the selected backend and checks it is reachable.
func openStore(ctx context.Context, logger *zap.Logger, workers int) (kvstore.DB, error) {
	switch storeType := viper.GetString("store"); storeType {
	case "memory":
		return kvstore.NewMemDB(kvstore.MemOptions{
			Latency: viper.GetDuration("memory-latency"),
		}), nil

	case "redis":
		uri := viper.GetString("redis-uri")
		poolSize := viper.GetInt("redis-pool-size")
		if poolSize <= 0 {
			poolSize = workers + 1
		}
		config := kvstore.RedisConfig{
			DialTimeout:     time.Duration(viper.GetInt("redis-dial-timeout")) * time.Second,
			ReadTimeout:     time.Duration(viper.GetInt("redis-read-timeout")) * time.Second,
			WriteTimeout:    time.Duration(viper.GetInt("redis-write-timeout")) * time.Second,
			PoolTimeout:     time.Duration(viper.GetInt("redis-pool-timeout")) * time.Second,
			ConnMaxIdleTime: time.Duration(viper.GetInt("redis-conn-max-idle-time")) * time.Second,
			MaxRetries:      viper.GetInt("redis-max-retries"),
			MinRetryBackoff: time.Duration(viper.GetInt("redis-min-retry-backoff")) * time.Millisecond,
			MaxRetryBackoff: time.Duration(viper.GetInt("redis-max-retry-backoff")) * time.Millisecond,
			PoolSize:        poolSize,
			Namespace:       viper.GetString("redis-namespace"),
		}
		db, err := kvstore.NewRedisDBFromURI(uri, config)
		if err != nil {
			return nil, err
		}

		pingCtx, cancel := context.WithTimeout(ctx, time.Duration(viper.GetInt("connection-timeout"))*time.Second)
		defer cancel()
		if err := db.Ping(pingCtx); err != nil {
			db.Close()
			return nil, errors.Wrapf(err, "pinging redis at %s", redactURI(uri))
		}
		logger.Info("StoreConnected", zap.String("store", db.Name()), zap.String("uri", redactURI(uri)), zap.Int("poolSize", poolSize))
		return db, nil

	default:
		return nil, errors.Newf("invalid store type: %s. Must be 'memory' or 'redis'", storeType)
	}
}

// redactURI drops the password from a connection URI.
func redactURI(uri string) string {
	u, err := url.Parse(uri)
	if err != nil {
		return "<invalid uri>"
	}
	return u.Redacted()
}

// storePorts returns the server ports the TCP monitor filters on. The memory
// store has no connections, so nothing is filtered.
func storePorts() []int {
	if viper.GetString("store") != "redis" {
		return nil
	}
	u, err := url.Parse(viper.GetString("redis-uri"))
	if err != nil {
		return nil
	}
	if p := u.Port(); p != "" {
		if port, err := strconv.Atoi(p); err == nil {
			return []int{port}
		}
		return nil
	}
	return []int{6379}
}
