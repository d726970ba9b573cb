package tkvdb

import "errors"

var (
	// ErrIO covers short or failed file reads and writes, and seeks
	// outside the file.
	ErrIO = errors.New("tkvdb: i/o error")
	// ErrLocked is reserved and currently never raised by the engine.
	ErrLocked = errors.New("tkvdb: database locked")
	// ErrEmpty is returned for operations that need a root when neither
	// the transaction nor the database file has one.
	ErrEmpty = errors.New("tkvdb: database empty")
	// ErrNotFound is returned for absent keys and for cursor moves past
	// either end of the key range.
	ErrNotFound = errors.New("tkvdb: key not found")
	// ErrNoMem is returned when an arena or buffer ceiling is hit, or a
	// fixed slab is exhausted.
	ErrNoMem = errors.New("tkvdb: allocation limit exceeded")
	// ErrCorrupted is returned for bad signatures, impossible footer
	// values and disk nodes whose structure contradicts their size.
	ErrCorrupted = errors.New("tkvdb: database corrupted")
	// ErrNotStarted is returned for mutations and queries on a
	// transaction that has not been begun.
	ErrNotStarted = errors.New("tkvdb: transaction not started")
	// ErrModified is returned by commit when the file footer changed
	// between begin and commit in a way a single monotonic writer could
	// not have produced.
	ErrModified = errors.New("tkvdb: database modified since begin")
)
