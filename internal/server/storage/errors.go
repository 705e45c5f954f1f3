package storage

import (
	"errors"
	"fmt"
)

// Common storage errors
var (
	// ErrNotFound is matched by every not-found error of this package
	ErrNotFound = errors.New("not found")

	// ErrSnapshotNotFound indicates that the user has no live snapshot yet
	ErrSnapshotNotFound = fmt.Errorf("snapshot %w", ErrNotFound)

	// ErrRevisionNotFound indicates that the revision was never written for the user
	ErrRevisionNotFound = fmt.Errorf("revision %w", ErrNotFound)

	// ErrRecordNotFound indicates that the sync record doesn't exist
	ErrRecordNotFound = fmt.Errorf("sync record %w", ErrNotFound)

	// ErrStorageBusy indicates lock contention or a timed out transaction; the call may be retried
	ErrStorageBusy = errors.New("storage busy")

	// ErrRevisionConflict indicates that the live revision changed after the write was decided
	ErrRevisionConflict = errors.New("revision conflict")

	// ErrStorageCorrupt indicates that a persisted payload could not be decoded
	ErrStorageCorrupt = errors.New("storage corrupt")
)
