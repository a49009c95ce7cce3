// Package storeerr defines the sentinel error kinds shared by every layer
// of the storage core. Callers use errors.Is against these sentinels;
// layers wrap them with fmt.Errorf("...: %w", ...) for context the same
// way the teacher wraps I/O errors in pager.go.
package storeerr

import "errors"

var (
	// ErrDuplicateKey is returned when inserting a key that already exists
	// in a leaf or internal node.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrRecordNotFound is returned by update/delete of a non-existent key.
	ErrRecordNotFound = errors.New("record not found")

	// ErrBufferPoolFull is returned when no frame is free and none is
	// evictable (every frame is pinned).
	ErrBufferPoolFull = errors.New("buffer pool full")

	// ErrCouldNotLoad wraps a disk-manager read failure during fetch.
	ErrCouldNotLoad = errors.New("could not load page from disk")

	// ErrCouldNotFlush wraps a disk-manager write failure during eviction
	// or shutdown.
	ErrCouldNotFlush = errors.New("could not flush page to disk")

	// ErrInvalidData marks a malformed page header, malformed serialized
	// record, or a primary-key column stored with its null bit set.
	ErrInvalidData = errors.New("invalid data")

	// ErrInvalidOperation marks a precondition violation: merging into a
	// full sibling, a record too large for an empty page, unpinning a
	// frame with pin count zero, or unpinning an unknown page.
	ErrInvalidOperation = errors.New("invalid operation")

	// ErrInvariantViolation marks detected B+Tree structural corruption.
	// It is fatal; callers should not attempt to continue using the tree.
	ErrInvariantViolation = errors.New("btree invariant violation")

	// ErrFileNotFound marks a disk-manager read against a table file that
	// does not exist.
	ErrFileNotFound = errors.New("table file not found")
)
