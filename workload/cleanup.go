/*
Copyright © 2025 Redis Performance Group  <performance <at> redis <dot> com>
*/
package workload

import (
	"context"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/redis-performance/mako-benchmark/kvstore"
)

// Cleanup removes every key under KeyPrefix in a single transaction, retrying
// until the store accepts it or refuses to retry.
func Cleanup(ctx context.Context, db kvstore.DB, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	tr := db.NewTransaction()
	defer tr.Reset()
	r := kvstore.PrefixRange([]byte(KeyPrefix))
	for {
		tr.ClearRange(r)
		err := tr.Commit(ctx)
		if err == nil {
			return nil
		}
		logger.Warn("FailedToCleanData", zap.Error(err))
		if err := tr.OnError(ctx, err); err != nil {
			return errors.Wrap(err, "clearing benchmark keys")
		}
	}
}
