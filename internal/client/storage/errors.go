package storage

import "errors"

// Common client storage errors
var (
	// ErrStateNotFound indicates that the user has never synced from this device
	ErrStateNotFound = errors.New("sync state not found")

	// ErrSnapshotNotCached indicates that no server snapshot is cached locally
	ErrSnapshotNotCached = errors.New("server snapshot not cached")

	// ErrStorageClosed indicates that storage is closed
	ErrStorageClosed = errors.New("storage is closed")
)
