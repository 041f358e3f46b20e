/*
Copyright © 2025 Redis Performance Group  <performance <at> redis <dot> com>
*/
package kvstore

import (
	"context"

	"github.com/cockroachdb/errors"
)

// ErrorKind is the coarse classification the benchmark loop acts on.
type ErrorKind int

const (
	// Cancelled errors stop the caller immediately.
	Cancelled ErrorKind = iota
	// Conflict errors are counted and retried.
	Conflict
	// Transient errors are retried through Transaction.OnError.
	Transient
	// Fatal errors are not recoverable.
	Fatal
)

func (k ErrorKind) String() string {
	switch k {
	case Cancelled:
		return "cancelled"
	case Conflict:
		return "conflict"
	case Transient:
		return "transient"
	default:
		return "fatal"
	}
}

var (
	// ErrNotCommitted is returned by Commit when a concurrent transaction wrote
	// to something this transaction read.
	ErrNotCommitted = errors.New("transaction not committed due to conflict with another transaction")
	// ErrTransactionTooOld is returned when the read version fell out of the
	// store's conflict window.
	ErrTransactionTooOld = MarkRetryable(errors.New("transaction is too old to perform reads or be committed"))
	// ErrCommitUnknownResult is returned when the outcome of a commit could not
	// be determined.
	ErrCommitUnknownResult = MarkRetryable(errors.New("transaction may or may not have committed"))
	// ErrOperationCancelled is returned when an operation was abandoned.
	ErrOperationCancelled = errors.New("asynchronous operation cancelled")

	errRetryable = errors.New("retryable")
)

// MarkRetryable marks err as transient so that Classify reports it as such.
func MarkRetryable(err error) error {
	if err == nil {
		return nil
	}
	return errors.Mark(err, errRetryable)
}

// Classify maps an error returned by a store operation to an ErrorKind.
func Classify(err error) ErrorKind {
	switch {
	case err == nil:
		return Fatal
	case errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, ErrOperationCancelled):
		return Cancelled
	case errors.Is(err, ErrNotCommitted):
		return Conflict
	case errors.Is(err, errRetryable):
		return Transient
	default:
		return Fatal
	}
}

// IsRetryable reports whether OnError would retry err.
func IsRetryable(err error) bool {
	kind := Classify(err)
	return kind == Conflict || kind == Transient
}
