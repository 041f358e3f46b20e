/*
Copyright © 2025 Redis Performance Group  <performance <at> redis <dot> com>
*/
package workload

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
)

func TestParseOperations(t *testing.T) {
	tests := []struct {
		spec string
		want map[OperationKind]Operation
	}{
		{"g100", map[OperationKind]Operation{Get: {Count: 100}}},
		{"gr10:5", map[OperationKind]Operation{GetRange: {Count: 10, Range: 5}}},
		{"g9u1", map[OperationKind]Operation{Get: {Count: 9}, Update: {Count: 1}}},
		{"grv", map[OperationKind]Operation{GetReadVersion: {Count: 1}}},
		{"g", map[OperationKind]Operation{Get: {Count: 1}}},
		{"g0", map[OperationKind]Operation{}},
		{"", map[OperationKind]Operation{}},
		{"g5g7", map[OperationKind]Operation{Get: {Count: 7}}},
		{"sgr3:2sg4", map[OperationKind]Operation{SnapshotGetRange: {Count: 3, Range: 2}, SnapshotGet: {Count: 4}}},
		{"scr1:4sc2", map[OperationKind]Operation{SetThenClearRange: {Count: 1, Range: 4}, SetThenClear: {Count: 2}}},
		{"ir2:10i3", map[OperationKind]Operation{InsertRange: {Count: 2, Range: 10}, Insert: {Count: 3}}},
		{"cr1:0c", map[OperationKind]Operation{ClearRange: {Count: 1, Range: 0}, Clear: {Count: 1}}},
		{"grv2gr3:7g4", map[OperationKind]Operation{
			GetReadVersion: {Count: 2}, GetRange: {Count: 3, Range: 7}, Get: {Count: 4},
		}},
		{"gr1:20000", map[OperationKind]Operation{GetRange: {Count: 1, Range: 20000}}},
	}
	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			ops, err := ParseOperations(tt.spec)
			require.NoError(t, err)
			for k := 0; k < NumKinds; k++ {
				require.Equal(t, tt.want[OperationKind(k)], ops[k], "kind %s", OperationKind(k))
			}
		})
	}
}

func TestParseOperationsErrors(t *testing.T) {
	tests := []struct {
		spec   string
		offset int
		// prefix holds what must survive from before the error.
		prefix map[OperationKind]Operation
	}{
		{"gr10", 4, map[OperationKind]Operation{GetRange: {Count: 10}}},
		{"zz5", 0, nil},
		{"g2zz5", 2, map[OperationKind]Operation{Get: {Count: 2}}},
		{"gr1:", 4, map[OperationKind]Operation{GetRange: {Count: 1}}},
		{"gr1:x", 4, map[OperationKind]Operation{GetRange: {Count: 1}}},
		{"g:5", 1, map[OperationKind]Operation{Get: {Count: 1}}},
		{"u1ir", 4, map[OperationKind]Operation{Update: {Count: 1}, InsertRange: {Count: 1}}},
		{"G1", 0, nil},
	}
	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			ops, err := ParseOperations(tt.spec)
			require.Error(t, err)
			var pe *ParseError
			require.True(t, errors.As(err, &pe))
			require.True(t, IsParseError(err))
			require.Equal(t, tt.offset, pe.Offset)
			require.Contains(t, err.Error(), tt.spec)
			for k := 0; k < NumKinds; k++ {
				require.Equal(t, tt.prefix[OperationKind(k)], ops[k], "kind %s", OperationKind(k))
			}
		})
	}
}

func TestParseOperationsCommitIsNotAToken(t *testing.T) {
	for _, spec := range []string{"commit", "C1", "x"} {
		_, err := ParseOperations(spec)
		require.Error(t, err, spec)
	}
}

func TestOperationsExceedsRangeLimit(t *testing.T) {
	ops, err := ParseOperations("gr1:10000cr1:10001scr2:99999")
	require.NoError(t, err)
	require.Equal(t, []OperationKind{ClearRange, SetThenClearRange}, ops.ExceedsRangeLimit())
	require.Equal(t, 99999, ops[SetThenClearRange].Range)

	steps := buildSteps(ops)
	require.Len(t, steps, 3)
	for _, s := range steps {
		require.LessOrEqual(t, s.rangeLen, RangeLimit)
	}
}

func TestOperationsString(t *testing.T) {
	ops, err := ParseOperations("u2grv3gr1:5")
	require.NoError(t, err)
	require.Equal(t, "grv3gr1:5u2", ops.String())

	again, err := ParseOperations(ops.String())
	require.NoError(t, err)
	require.Equal(t, ops, again)
	require.False(t, ops.Empty())
	require.True(t, Operations{}.Empty())
}

func TestOperationKind(t *testing.T) {
	require.Equal(t, "GRV", GetReadVersion.String())
	require.Equal(t, "SETCLEARRANGE", SetThenClearRange.String())
	require.Equal(t, "COMMIT", Commit.String())
	require.Equal(t, 13, NumKinds)
	require.True(t, InsertRange.RangeCapable())
	require.False(t, Insert.RangeCapable())
	require.True(t, Update.Buffers())
	require.False(t, SnapshotGetRange.Buffers())
	require.False(t, Commit.Buffers())
}
