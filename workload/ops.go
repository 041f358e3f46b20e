/*
Copyright © 2025 Redis Performance Group  <performance <at> redis <dot> com>
*/
package workload

import (
	"context"

	"github.com/redis-performance/mako-benchmark/kvstore"
)

// opFunc performs one repetition of a step.
type opFunc func(ctx context.Context, w *Worker, s *step) error

type step struct {
	kind  OperationKind
	count int
	// rangeLen is already clamped to RangeLimit.
	rangeLen int
	// width is the number of trailing key bytes rewritten by range inserts.
	width int
	fn    opFunc
}

var dispatch = [NumKinds]opFunc{
	GetReadVersion:    opGetReadVersion,
	Get:               opGet,
	GetRange:          opGetRange,
	SnapshotGet:       opSnapshotGet,
	SnapshotGetRange:  opSnapshotGetRange,
	Update:            opUpdate,
	Insert:            opInsert,
	InsertRange:       opInsertRange,
	Clear:             opClear,
	SetThenClear:      opSetThenClear,
	ClearRange:        opClearRange,
	SetThenClearRange: opSetThenClearRange,
}

// buildSteps turns the parsed mix into the ordered list of steps executed by
// every attempt.
func buildSteps(ops Operations) []step {
	var steps []step
	for k := 0; k < NumKinds; k++ {
		kind := OperationKind(k)
		if kind == Commit || ops[k].Count <= 0 {
			continue
		}
		r := ops[k].Range
		if r > RangeLimit {
			r = RangeLimit
		}
		steps = append(steps, step{
			kind:     kind,
			count:    ops[k].Count,
			rangeLen: r,
			width:    Digits(int64(r)),
			fn:       dispatch[k],
		})
	}
	return steps
}

// randomRange picks a row and spans rangeLen rows from it, capped at the end
// of the keyspace.
func (w *Worker) randomRange(rangeLen int) kvstore.KeyRange {
	begin := w.codec.RandomIndex(w.rng)
	end := begin + int64(rangeLen)
	if end > w.codec.Rows() {
		end = w.codec.Rows()
	}
	return kvstore.KeyRange{Begin: w.codec.Key(begin), End: w.codec.Key(end)}
}

func (w *Worker) randomRowKey() []byte {
	return w.codec.Key(w.codec.RandomIndex(w.rng))
}

func opGetReadVersion(ctx context.Context, w *Worker, _ *step) error {
	return w.timed(GetReadVersion, func() error {
		_, err := w.tr.GetReadVersion(ctx)
		return err
	})
}

func opGet(ctx context.Context, w *Worker, _ *step) error {
	key := w.randomRowKey()
	return w.timed(Get, func() error {
		_, err := w.tr.Get(ctx, key, false)
		return err
	})
}

func opSnapshotGet(ctx context.Context, w *Worker, _ *step) error {
	key := w.randomRowKey()
	return w.timed(SnapshotGet, func() error {
		_, err := w.tr.Get(ctx, key, true)
		return err
	})
}

func opGetRange(ctx context.Context, w *Worker, s *step) error {
	r := w.randomRange(s.rangeLen)
	return w.timed(GetRange, func() error {
		_, err := w.tr.GetRange(ctx, r, RangeLimit, false)
		return err
	})
}

func opSnapshotGetRange(ctx context.Context, w *Worker, s *step) error {
	r := w.randomRange(s.rangeLen)
	return w.timed(SnapshotGetRange, func() error {
		_, err := w.tr.GetRange(ctx, r, RangeLimit, true)
		return err
	})
}

// opUpdate reads a row and overwrites it. The read is timed as a Get.
func opUpdate(ctx context.Context, w *Worker, _ *step) error {
	key := w.randomRowKey()
	if err := w.timed(Get, func() error {
		_, err := w.tr.Get(ctx, key, false)
		return err
	}); err != nil {
		return err
	}
	w.tr.Set(key, w.codec.RandomValue(w.rng))
	w.doCommit = true
	return nil
}

func opInsert(_ context.Context, w *Worker, _ *step) error {
	w.tr.Set(w.codec.RandomKey(w.rng), w.codec.RandomValue(w.rng))
	w.doCommit = true
	return nil
}

// insertRange buffers rangeLen sequential keys under one random prefix and
// returns the first and last key written.
func (w *Worker) insertRange(s *step) (first, last []byte) {
	base := w.codec.RandomKey(w.rng)
	first, last = base, base
	for i := 0; i < s.rangeLen; i++ {
		key := w.codec.RangeKey(base, i, s.width)
		w.tr.Set(key, w.codec.RandomValue(w.rng))
		if i == 0 {
			first = key
		}
		last = key
	}
	return first, last
}

func opInsertRange(_ context.Context, w *Worker, s *step) error {
	w.insertRange(s)
	w.doCommit = true
	return nil
}

func opClear(_ context.Context, w *Worker, _ *step) error {
	w.tr.Clear(w.randomRowKey())
	w.doCommit = true
	return nil
}

func opClearRange(_ context.Context, w *Worker, s *step) error {
	w.tr.ClearRange(w.randomRange(s.rangeLen))
	w.doCommit = true
	return nil
}

// opSetThenClear writes a fresh key, commits it on its own, then buffers its
// deletion in a reset transaction.
func opSetThenClear(ctx context.Context, w *Worker, _ *step) error {
	key := w.codec.RandomKey(w.rng)
	w.tr.Set(key, w.codec.RandomValue(w.rng))
	if err := w.commit(ctx); err != nil {
		return err
	}
	w.tr.Reset()
	w.tr.Clear(key)
	w.doCommit = true
	return nil
}

// opSetThenClearRange is the range form of opSetThenClear. The clear covers
// the last written key as well.
func opSetThenClearRange(ctx context.Context, w *Worker, s *step) error {
	first, last := w.insertRange(s)
	if err := w.commit(ctx); err != nil {
		return err
	}
	w.tr.Reset()
	w.tr.ClearRange(kvstore.KeyRange{Begin: first, End: kvstore.KeyAfter(last)})
	w.doCommit = true
	return nil
}
