/*
Copyright © 2025 Redis Performance Group  <performance <at> redis <dot> com>
*/
package kvstore

import (
	"bytes"
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/btree"
)

const (
	defaultConflictWindow = 5 * time.Second
	btreeDegree           = 32
)

// MemOptions configures the in-memory store.
type MemOptions struct {
	// Latency is added to every round trip (reads, read versions and commits
	// with mutations).
	Latency time.Duration
	// ConflictWindow bounds how long a read version stays valid.
	ConflictWindow time.Duration
}

type memItem struct {
	key   []byte
	value []byte
}

func (a memItem) Less(b btree.Item) bool {
	return bytes.Compare(a.key, b.(memItem).key) < 0
}

type commitRecord struct {
	version int64
	at      time.Time
	keys    [][]byte
	ranges  []KeyRange
}

func (c *commitRecord) conflictsWith(reads []KeyRange) bool {
	for _, r := range reads {
		for _, k := range c.keys {
			if r.Contains(k) {
				return true
			}
		}
		for _, cr := range c.ranges {
			if r.Overlaps(cr) {
				return true
			}
		}
	}
	return false
}

// MemDB is an ordered in-memory store with optimistic concurrency control.
// Commits validate the transaction's read-conflict ranges against every
// commit that happened after its read version.
type MemDB struct {
	opts MemOptions

	mu      sync.Mutex
	data    *btree.BTree
	version int64
	log     []commitRecord
}

var _ DB = (*MemDB)(nil)

// NewMemDB returns an empty in-memory store.
func NewMemDB(opts MemOptions) *MemDB {
	if opts.ConflictWindow <= 0 {
		opts.ConflictWindow = defaultConflictWindow
	}
	return &MemDB{
		opts: opts,
		data: btree.New(btreeDegree),
	}
}

func (db *MemDB) NewTransaction() Transaction {
	return &memTxn{db: db}
}

func (db *MemDB) Name() string {
	return "Memory"
}

func (db *MemDB) Close() error {
	return nil
}

// Len returns the number of keys currently stored.
func (db *MemDB) Len() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.data.Len()
}

// Version returns the version of the latest commit.
func (db *MemDB) Version() int64 {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.version
}

func (db *MemDB) roundTrip(ctx context.Context) error {
	if db.opts.Latency > 0 {
		return Sleep(ctx, db.opts.Latency)
	}
	return ctx.Err()
}

// trimLog drops commit records that no live read version can still need.
// Callers hold db.mu.
func (db *MemDB) trimLog(now time.Time) {
	cutoff := now.Add(-db.opts.ConflictWindow)
	i := 0
	for i < len(db.log) && db.log[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		db.log = append(db.log[:0], db.log[i:]...)
	}
}

type mutationType int

const (
	mutationSet mutationType = iota
	mutationClear
	mutationClearRange
)

type mutation struct {
	typ   mutationType
	key   []byte
	value []byte
	r     KeyRange
}

type memTxn struct {
	db *MemDB

	hasReadVersion bool
	readVersion    int64
	readAt         time.Time

	reads   []KeyRange
	writes  []mutation
	backoff backoff
}

func (t *memTxn) ensureReadVersion() {
	if t.hasReadVersion {
		return
	}
	t.db.mu.Lock()
	t.readVersion = t.db.version
	t.db.mu.Unlock()
	t.readAt = time.Now()
	t.hasReadVersion = true
}

func (t *memTxn) checkAge(now time.Time) error {
	if t.hasReadVersion && now.Sub(t.readAt) > t.db.opts.ConflictWindow {
		return ErrTransactionTooOld
	}
	return nil
}

func (t *memTxn) GetReadVersion(ctx context.Context) (int64, error) {
	if err := t.db.roundTrip(ctx); err != nil {
		return 0, err
	}
	t.ensureReadVersion()
	return t.readVersion, nil
}

func (t *memTxn) Get(ctx context.Context, key []byte, snapshot bool) ([]byte, error) {
	if err := t.db.roundTrip(ctx); err != nil {
		return nil, err
	}
	t.ensureReadVersion()
	if err := t.checkAge(time.Now()); err != nil {
		return nil, err
	}
	if !snapshot {
		t.reads = append(t.reads, KeyRange{Begin: cloneBytes(key), End: KeyAfter(key)})
	}
	for i := len(t.writes) - 1; i >= 0; i-- {
		m := &t.writes[i]
		switch m.typ {
		case mutationSet:
			if bytes.Equal(m.key, key) {
				return cloneBytes(m.value), nil
			}
		case mutationClear:
			if bytes.Equal(m.key, key) {
				return nil, nil
			}
		case mutationClearRange:
			if m.r.Contains(key) {
				return nil, nil
			}
		}
	}

	t.db.mu.Lock()
	defer t.db.mu.Unlock()
	item := t.db.data.Get(memItem{key: key})
	if item == nil {
		return nil, nil
	}
	return cloneBytes(item.(memItem).value), nil
}

func (t *memTxn) GetRange(
	ctx context.Context, r KeyRange, limit int, snapshot bool,
) ([]KeyValue, error) {
	if err := t.db.roundTrip(ctx); err != nil {
		return nil, err
	}
	t.ensureReadVersion()
	if err := t.checkAge(time.Now()); err != nil {
		return nil, err
	}
	if !snapshot {
		t.reads = append(t.reads, KeyRange{Begin: cloneBytes(r.Begin), End: cloneBytes(r.End)})
	}
	if r.Empty() {
		return nil, nil
	}

	rows := make(map[string][]byte)
	t.db.mu.Lock()
	t.db.data.AscendRange(memItem{key: r.Begin}, memItem{key: r.End}, func(i btree.Item) bool {
		it := i.(memItem)
		rows[string(it.key)] = it.value
		return true
	})
	t.db.mu.Unlock()

	for i := range t.writes {
		m := &t.writes[i]
		switch m.typ {
		case mutationSet:
			if r.Contains(m.key) {
				rows[string(m.key)] = m.value
			}
		case mutationClear:
			delete(rows, string(m.key))
		case mutationClearRange:
			for k := range rows {
				if m.r.Contains([]byte(k)) {
					delete(rows, k)
				}
			}
		}
	}

	return sortedRows(rows, limit), nil
}

func (t *memTxn) Set(key, value []byte) {
	t.writes = append(t.writes, mutation{typ: mutationSet, key: cloneBytes(key), value: cloneBytes(value)})
}

func (t *memTxn) Clear(key []byte) {
	t.writes = append(t.writes, mutation{typ: mutationClear, key: cloneBytes(key)})
}

func (t *memTxn) ClearRange(r KeyRange) {
	t.writes = append(t.writes, mutation{
		typ: mutationClearRange,
		r:   KeyRange{Begin: cloneBytes(r.Begin), End: cloneBytes(r.End)},
	})
}

func (t *memTxn) Commit(ctx context.Context) error {
	if len(t.writes) == 0 {
		// Read-only commits never leave the client.
		return ctx.Err()
	}
	if err := t.db.roundTrip(ctx); err != nil {
		return err
	}

	db := t.db
	now := time.Now()
	if err := t.checkAge(now); err != nil {
		return err
	}

	db.mu.Lock()
	defer db.mu.Unlock()
	db.trimLog(now)
	if t.hasReadVersion && len(t.reads) > 0 {
		// The log is ordered by version; only newer commits can conflict.
		idx := sort.Search(len(db.log), func(i int) bool { return db.log[i].version > t.readVersion })
		for i := idx; i < len(db.log); i++ {
			if db.log[i].conflictsWith(t.reads) {
				return ErrNotCommitted
			}
		}
	}

	rec := commitRecord{at: now}
	for i := range t.writes {
		m := &t.writes[i]
		switch m.typ {
		case mutationSet:
			db.data.ReplaceOrInsert(memItem{key: m.key, value: m.value})
			rec.keys = append(rec.keys, m.key)
		case mutationClear:
			db.data.Delete(memItem{key: m.key})
			rec.keys = append(rec.keys, m.key)
		case mutationClearRange:
			var doomed []btree.Item
			db.data.AscendRange(memItem{key: m.r.Begin}, memItem{key: m.r.End}, func(i btree.Item) bool {
				doomed = append(doomed, i)
				return true
			})
			for _, it := range doomed {
				db.data.Delete(it)
			}
			rec.ranges = append(rec.ranges, m.r)
		}
	}
	db.version++
	rec.version = db.version
	db.log = append(db.log, rec)
	t.backoff.reset()
	return nil
}

func (t *memTxn) Reset() {
	t.hasReadVersion = false
	t.readVersion = 0
	t.reads = nil
	t.writes = nil
}

func (t *memTxn) OnError(ctx context.Context, err error) error {
	return handleError(ctx, &t.backoff, err, t.Reset)
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
