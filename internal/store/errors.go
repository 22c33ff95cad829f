package store

import "errors"

var (
	// ErrStructural marks persisted state the daemon must refuse to run on:
	// a failed integrity check, a failed migration or a schema newer than
	// this binary.
	ErrStructural = errors.New("structural store error")

	// ErrWriteTimeout is returned when a tick commit does not finish within
	// the write timeout.
	ErrWriteTimeout = errors.New("store write timed out")

	// ErrNonMonotonic rejects a snapshot whose timestamp does not advance.
	ErrNonMonotonic = errors.New("snapshot timestamp does not advance")

	// ErrBaselineSealed rejects replacing the baseline of a past day.
	ErrBaselineSealed = errors.New("baseline for a past day is immutable")

	// ErrNotFound is returned by readers when no row matches.
	ErrNotFound = errors.New("not found")
)
