/*
Copyright © 2025 Redis Performance Group  <performance <at> redis <dot> com>
*/

// Package kvstore defines the transactional key-value contract the benchmark
// drives, plus the backends it ships with.
package kvstore

import (
	"bytes"
	"context"
	"math/rand"
	"sort"
	"time"
)

// KeyValue is a single row returned by a range read.
type KeyValue struct {
	Key   []byte
	Value []byte
}

// KeyRange is the half-open interval [Begin, End).
type KeyRange struct {
	Begin []byte
	End   []byte
}

// Contains reports whether key falls inside the range.
func (r KeyRange) Contains(key []byte) bool {
	return bytes.Compare(key, r.Begin) >= 0 && bytes.Compare(key, r.End) < 0
}

// Overlaps reports whether the two ranges share at least one key.
func (r KeyRange) Overlaps(o KeyRange) bool {
	return bytes.Compare(r.Begin, o.End) < 0 && bytes.Compare(o.Begin, r.End) < 0
}

// Empty reports whether the range contains no keys.
func (r KeyRange) Empty() bool {
	return bytes.Compare(r.Begin, r.End) >= 0
}

// KeyAfter returns the smallest key that sorts after key.
func KeyAfter(key []byte) []byte {
	out := make([]byte, len(key)+1)
	copy(out, key)
	return out
}

// PrefixRange returns the range of every key starting with prefix.
func PrefixRange(prefix []byte) KeyRange {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return KeyRange{Begin: append([]byte(nil), prefix...), End: end[:i+1]}
		}
	}
	return KeyRange{Begin: append([]byte(nil), prefix...), End: []byte{0xff}}
}

// DB is a handle to a transactional store.
type DB interface {
	// NewTransaction starts a new transaction. Transactions are not safe for
	// concurrent use; every worker owns its own.
	NewTransaction() Transaction
	Name() string
	Close() error
}

// Transaction is a read-your-writes transaction with optimistic concurrency.
//
// Reads are round trips and honour ctx. Mutations are buffered client side
// until Commit.
type Transaction interface {
	GetReadVersion(ctx context.Context) (int64, error)
	Get(ctx context.Context, key []byte, snapshot bool) ([]byte, error)
	GetRange(ctx context.Context, r KeyRange, limit int, snapshot bool) ([]KeyValue, error)
	Set(key, value []byte)
	Clear(key []byte)
	ClearRange(r KeyRange)
	Commit(ctx context.Context) error
	// Reset discards buffered mutations and the read version.
	Reset()
	// OnError decides whether err can be retried. For retryable errors it
	// waits out a backoff, resets the transaction and returns nil. Any other
	// error is returned unchanged.
	OnError(ctx context.Context, err error) error
}

const (
	minBackoff = 10 * time.Millisecond
	maxBackoff = time.Second
)

// backoff is the retry cadence shared by the bundled backends.
type backoff struct {
	attempt int
}

func (b *backoff) next() time.Duration {
	d := minBackoff << uint(b.attempt)
	if d <= 0 || d > maxBackoff {
		d = maxBackoff
	} else {
		b.attempt++
	}
	// Jitter over the upper half of the step.
	return d/2 + time.Duration(rand.Int63n(int64(d/2)+1))
}

func (b *backoff) reset() {
	b.attempt = 0
}

// Sleep waits for d or until ctx is done, returning ctx.Err() in the latter
// case. A non-positive d only checks ctx.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// handleError is the OnError policy shared by the bundled backends.
func handleError(ctx context.Context, b *backoff, err error, reset func()) error {
	switch Classify(err) {
	case Conflict, Transient:
		if serr := Sleep(ctx, b.next()); serr != nil {
			return serr
		}
		reset()
		return nil
	default:
		return err
	}
}

// sortedRows orders a merged row set by key and applies limit.
func sortedRows(rows map[string][]byte, limit int) []KeyValue {
	keys := make([]string, 0, len(rows))
	for k := range rows {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if limit > 0 && len(keys) > limit {
		keys = keys[:limit]
	}
	out := make([]KeyValue, len(keys))
	for i, k := range keys {
		out[i] = KeyValue{Key: []byte(k), Value: cloneBytes(rows[k])}
	}
	return out
}
