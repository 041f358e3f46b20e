/*
Copyright © 2025 Redis Performance Group  <performance <at> redis <dot> com>
*/
package workload

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
)

// OperationKind identifies one transactional primitive of the mix.
// Kinds execute inside an attempt in declaration order.
type OperationKind int

const (
	GetReadVersion OperationKind = iota
	Get
	GetRange
	SnapshotGet
	SnapshotGetRange
	Update
	Insert
	InsertRange
	Clear
	SetThenClear
	ClearRange
	SetThenClearRange
	// Commit is synthesized by the executor and cannot be requested in a mix.
	Commit

	NumKinds = int(Commit) + 1
)

// RangeLimit caps the range of a single range operation at execution time.
const RangeLimit = 10000

var kindNames = [NumKinds]string{
	"GRV", "GET", "GETRANGE", "SGET", "SGETRANGE", "UPDATE", "INSERT",
	"INSERTRANGE", "CLEAR", "SETCLEAR", "CLEARRANGE", "SETCLEARRANGE", "COMMIT",
}

// String returns the short name used in reports.
func (k OperationKind) String() string {
	if k < 0 || int(k) >= NumKinds {
		return fmt.Sprintf("OperationKind(%d)", int(k))
	}
	return kindNames[k]
}

// RangeCapable reports whether the kind takes a ":range" argument.
func (k OperationKind) RangeCapable() bool {
	switch k {
	case GetRange, SnapshotGetRange, InsertRange, ClearRange, SetThenClearRange:
		return true
	}
	return false
}

// Buffers reports whether the kind buffers a mutation and so forces a commit.
func (k OperationKind) Buffers() bool {
	return k >= Update && k < Commit
}

// Operation is the per-attempt request for one kind.
type Operation struct {
	Count int
	Range int
}

// Operations is the parsed mix, indexed by OperationKind.
type Operations [NumKinds]Operation

// opcodes is ordered so that the first prefix match is also the longest.
var opcodes = []struct {
	token string
	kind  OperationKind
}{
	{"grv", GetReadVersion},
	{"gr", GetRange},
	{"g", Get},
	{"sgr", SnapshotGetRange},
	{"sg", SnapshotGet},
	{"scr", SetThenClearRange},
	{"sc", SetThenClear},
	{"u", Update},
	{"ir", InsertRange},
	{"i", Insert},
	{"cr", ClearRange},
	{"c", Clear},
}

// ParseError reports a malformed mix string.
type ParseError struct {
	Spec   string
	Offset int
	Reason string
}

func (e *ParseError) Error() string {
	rest := e.Spec[e.Offset:]
	if rest == "" {
		rest = "<end of input>"
	}
	return fmt.Sprintf("invalid operations %q at offset %d (%q): %s", e.Spec, e.Offset, rest, e.Reason)
}

// ParseOperations parses a mix such as "g9u1" or "gr10:5".
//
// Each token is an opcode, an optional count (default 1) and, for range
// operations, a mandatory ":<range>". A repeated opcode overwrites the earlier
// one. On error the returned table still holds every token parsed before the
// offending one, and the error is a *ParseError.
func ParseOperations(spec string) (Operations, error) {
	var ops Operations
	pos := 0
	for pos < len(spec) {
		kind, n := matchOpcode(spec[pos:])
		if n == 0 {
			return ops, &ParseError{Spec: spec, Offset: pos, Reason: "unknown operation"}
		}
		pos += n

		count, digits := readNumber(spec[pos:])
		pos += digits
		if digits == 0 {
			count = 1
		}
		ops[kind].Count = count

		if !kind.RangeCapable() {
			continue
		}
		if pos >= len(spec) || spec[pos] != ':' {
			return ops, &ParseError{Spec: spec, Offset: pos, Reason: fmt.Sprintf("%s requires :<range>", kind)}
		}
		pos++
		rng, digits := readNumber(spec[pos:])
		if digits == 0 {
			return ops, &ParseError{Spec: spec, Offset: pos, Reason: fmt.Sprintf("%s range is not a number", kind)}
		}
		pos += digits
		ops[kind].Range = rng
	}
	return ops, nil
}

func matchOpcode(s string) (OperationKind, int) {
	for _, op := range opcodes {
		if strings.HasPrefix(s, op.token) {
			return op.kind, len(op.token)
		}
	}
	return 0, 0
}

// readNumber consumes a run of decimal digits. Values saturate instead of
// overflowing.
func readNumber(s string) (int, int) {
	const maxValue = 1<<31 - 1
	n, i := 0, 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		if n <= (maxValue-9)/10 {
			n = n*10 + int(s[i]-'0')
		} else {
			n = maxValue
		}
		i++
	}
	return n, i
}

// ExceedsRangeLimit lists the kinds whose range is above RangeLimit.
func (o Operations) ExceedsRangeLimit() []OperationKind {
	var out []OperationKind
	for k := range o {
		if o[k].Range > RangeLimit {
			out = append(out, OperationKind(k))
		}
	}
	return out
}

// Empty reports whether no operation has a positive count.
func (o Operations) Empty() bool {
	for k := range o {
		if o[k].Count > 0 {
			return false
		}
	}
	return true
}

// String renders the table back into mix syntax.
func (o Operations) String() string {
	var b strings.Builder
	for k := range o {
		if o[k].Count == 0 {
			continue
		}
		kind := OperationKind(k)
		b.WriteString(tokenFor(kind))
		fmt.Fprintf(&b, "%d", o[k].Count)
		if kind.RangeCapable() {
			fmt.Fprintf(&b, ":%d", o[k].Range)
		}
	}
	return b.String()
}

func tokenFor(k OperationKind) string {
	for _, op := range opcodes {
		if op.kind == k {
			return op.token
		}
	}
	return "?"
}

// IsParseError reports whether err carries a *ParseError.
func IsParseError(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}
