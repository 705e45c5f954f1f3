// Package storage describes the local state a sync client keeps between runs.
package storage

import "context"

// SyncState is what the device remembers about its last successful sync.
type SyncState struct {
	LastDecision       string
	LastServerRevision int64
	LastServerTimeMs   int64
	LastSyncedAtMs     int64 // локальное время клиента
}

// CachedSnapshot is the last server snapshot the device has seen.
type CachedSnapshot struct {
	ToolsData      []byte
	ServerRevision int64
}

// StateStorage defines interface for storing per-user sync state
type StateStorage interface {
	// SaveSyncState replaces the sync state of the user
	SaveSyncState(ctx context.Context, userID string, state SyncState) error

	// GetSyncState returns ErrStateNotFound if the user never synced
	GetSyncState(ctx context.Context, userID string) (*SyncState, error)

	// SaveServerSnapshot caches the canonical server snapshot
	SaveServerSnapshot(ctx context.Context, userID string, snap CachedSnapshot) error

	// GetServerSnapshot returns ErrSnapshotNotCached if nothing is cached
	GetServerSnapshot(ctx context.Context, userID string) (*CachedSnapshot, error)
}
