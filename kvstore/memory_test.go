/*
Copyright © 2025 Redis Performance Group  <performance <at> redis <dot> com>
*/
package kvstore

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
)

func commitKV(t *testing.T, db DB, kvs ...string) {
	t.Helper()
	tr := db.NewTransaction()
	for i := 0; i+1 < len(kvs); i += 2 {
		tr.Set([]byte(kvs[i]), []byte(kvs[i+1]))
	}
	require.NoError(t, tr.Commit(context.Background()))
}

func TestMemDBSetGetCommit(t *testing.T) {
	ctx := context.Background()
	db := NewMemDB(MemOptions{})
	commitKV(t, db, "a", "1", "b", "2")
	require.Equal(t, 2, db.Len())
	require.Equal(t, int64(1), db.Version())

	tr := db.NewTransaction()
	v, err := tr.Get(ctx, []byte("a"), false)
	require.NoError(t, err)
	require.Equal(t, "1", string(v))

	v, err = tr.Get(ctx, []byte("missing"), false)
	require.NoError(t, err)
	require.Nil(t, v)

	rv, err := tr.GetReadVersion(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), rv)
}

func TestMemDBReadYourWrites(t *testing.T) {
	ctx := context.Background()
	db := NewMemDB(MemOptions{})
	commitKV(t, db, "k1", "old", "k2", "v2", "k3", "v3")

	tr := db.NewTransaction()
	tr.Set([]byte("k1"), []byte("new"))
	tr.Clear([]byte("k2"))
	tr.Set([]byte("k4"), []byte("v4"))

	v, err := tr.Get(ctx, []byte("k1"), false)
	require.NoError(t, err)
	require.Equal(t, "new", string(v))
	v, err = tr.Get(ctx, []byte("k2"), false)
	require.NoError(t, err)
	require.Nil(t, v)

	rows, err := tr.GetRange(ctx, KeyRange{Begin: []byte("k"), End: []byte("l")}, 0, false)
	require.NoError(t, err)
	var keys []string
	for _, kv := range rows {
		keys = append(keys, string(kv.Key))
	}
	require.Equal(t, []string{"k1", "k3", "k4"}, keys)

	tr.ClearRange(KeyRange{Begin: []byte("k3"), End: []byte("k5")})
	rows, err = tr.GetRange(ctx, KeyRange{Begin: []byte("k"), End: []byte("l")}, 0, false)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "k1", string(rows[0].Key))

	// Nothing is visible to others before commit.
	require.Equal(t, 3, db.Len())
	require.NoError(t, tr.Commit(ctx))
	require.Equal(t, 1, db.Len())
}

func TestMemDBGetRangeLimit(t *testing.T) {
	ctx := context.Background()
	db := NewMemDB(MemOptions{})
	commitKV(t, db, "r0", "0", "r1", "1", "r2", "2", "r3", "3")

	tr := db.NewTransaction()
	rows, err := tr.GetRange(ctx, KeyRange{Begin: []byte("r1"), End: []byte("r9")}, 2, true)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, "r1", string(rows[0].Key))
	require.Equal(t, "r2", string(rows[1].Key))

	rows, err = tr.GetRange(ctx, KeyRange{Begin: []byte("r2"), End: []byte("r2")}, 0, true)
	require.NoError(t, err)
	require.Empty(t, rows)
}

func TestMemDBConflict(t *testing.T) {
	ctx := context.Background()
	db := NewMemDB(MemOptions{})
	commitKV(t, db, "x", "0")

	t1 := db.NewTransaction()
	_, err := t1.Get(ctx, []byte("x"), false)
	require.NoError(t, err)

	commitKV(t, db, "x", "1")

	t1.Set([]byte("y"), []byte("from-t1"))
	err = t1.Commit(ctx)
	require.ErrorIs(t, err, ErrNotCommitted)
	require.Equal(t, Conflict, Classify(err))

	// The retry path resets the transaction and lets it succeed.
	require.NoError(t, t1.OnError(ctx, err))
	_, err = t1.Get(ctx, []byte("x"), false)
	require.NoError(t, err)
	t1.Set([]byte("y"), []byte("from-t1"))
	require.NoError(t, t1.Commit(ctx))
}

func TestMemDBRangeConflict(t *testing.T) {
	ctx := context.Background()
	db := NewMemDB(MemOptions{})

	t1 := db.NewTransaction()
	_, err := t1.GetRange(ctx, KeyRange{Begin: []byte("a"), End: []byte("m")}, 0, false)
	require.NoError(t, err)

	t2 := db.NewTransaction()
	t2.ClearRange(KeyRange{Begin: []byte("c"), End: []byte("z")})
	require.NoError(t, t2.Commit(ctx))

	t1.Set([]byte("q"), []byte("v"))
	require.ErrorIs(t, t1.Commit(ctx), ErrNotCommitted)
}

func TestMemDBSnapshotReadsDoNotConflict(t *testing.T) {
	ctx := context.Background()
	db := NewMemDB(MemOptions{})
	commitKV(t, db, "x", "0")

	t1 := db.NewTransaction()
	_, err := t1.Get(ctx, []byte("x"), true)
	require.NoError(t, err)
	_, err = t1.GetRange(ctx, KeyRange{Begin: []byte("a"), End: []byte("z")}, 0, true)
	require.NoError(t, err)

	commitKV(t, db, "x", "1")

	t1.Set([]byte("y"), []byte("v"))
	require.NoError(t, t1.Commit(ctx))
}

func TestMemDBReadOnlyCommitIsLocal(t *testing.T) {
	db := NewMemDB(MemOptions{Latency: time.Hour})
	tr := db.NewTransaction()
	start := time.Now()
	require.NoError(t, tr.Commit(context.Background()))
	require.Less(t, time.Since(start), time.Second)
	require.Equal(t, int64(0), db.Version())
}

func TestMemDBTransactionTooOld(t *testing.T) {
	ctx := context.Background()
	db := NewMemDB(MemOptions{ConflictWindow: 20 * time.Millisecond})
	tr := db.NewTransaction()
	_, err := tr.GetReadVersion(ctx)
	require.NoError(t, err)
	time.Sleep(40 * time.Millisecond)

	_, err = tr.Get(ctx, []byte("k"), false)
	require.ErrorIs(t, err, ErrTransactionTooOld)
	require.Equal(t, Transient, Classify(err))
	require.NoError(t, tr.OnError(ctx, err))

	_, err = tr.Get(ctx, []byte("k"), false)
	require.NoError(t, err)
}

func TestMemDBCancellation(t *testing.T) {
	db := NewMemDB(MemOptions{Latency: time.Hour})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	tr := db.NewTransaction()
	_, err := tr.Get(ctx, []byte("k"), false)
	require.Error(t, err)
	require.Equal(t, Cancelled, Classify(err))
	// Cancellation is never retried.
	require.Equal(t, err, tr.OnError(ctx, err))
}

func TestMemDBOnErrorRethrowsFatal(t *testing.T) {
	db := NewMemDB(MemOptions{})
	tr := db.NewTransaction()
	fatal := errors.New("disk on fire")
	require.Equal(t, fatal, tr.OnError(context.Background(), fatal))
}
