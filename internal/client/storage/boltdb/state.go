package boltdb

import (
	"context"
	"encoding/binary"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/iudanet/toolsync/internal/client/storage"
)

const (
	keyLastServerRevision = "last_server_revision"
	keyLastServerTime     = "last_server_time"
	keyLastSyncedAt       = "last_synced_at"
	keyLastDecision       = "last_decision"
	keySnapshot           = "snapshot"
	keySnapshotRevision   = "snapshot_revision"
)

var _ storage.StateStorage = (*Storage)(nil)

// SaveSyncState replaces the sync state of the user
func (s *Storage) SaveSyncState(ctx context.Context, userID string, state storage.SyncState) error {
	if s.db == nil {
		return storage.ErrStorageClosed
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket, err := userBucketForWrite(tx, userID)
		if err != nil {
			return err
		}

		if err := putInt64(bucket, keyLastServerRevision, state.LastServerRevision); err != nil {
			return err
		}
		if err := putInt64(bucket, keyLastServerTime, state.LastServerTimeMs); err != nil {
			return err
		}
		if err := putInt64(bucket, keyLastSyncedAt, state.LastSyncedAtMs); err != nil {
			return err
		}
		if err := bucket.Put([]byte(keyLastDecision), []byte(state.LastDecision)); err != nil {
			return fmt.Errorf("failed to save last decision: %w", err)
		}
		return nil
	})
}

// GetSyncState returns ErrStateNotFound if the user never synced
func (s *Storage) GetSyncState(ctx context.Context, userID string) (*storage.SyncState, error) {
	if s.db == nil {
		return nil, storage.ErrStorageClosed
	}

	var state *storage.SyncState
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket, err := userBucket(tx, userID)
		if err != nil {
			return err
		}
		// пользователь есть, но синхронизации еще не было (только кеш снимка)
		if bucket == nil || bucket.Get([]byte(keyLastServerRevision)) == nil {
			return storage.ErrStateNotFound
		}

		state = &storage.SyncState{
			LastServerRevision: getInt64(bucket, keyLastServerRevision),
			LastServerTimeMs:   getInt64(bucket, keyLastServerTime),
			LastSyncedAtMs:     getInt64(bucket, keyLastSyncedAt),
			LastDecision:       string(bucket.Get([]byte(keyLastDecision))),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return state, nil
}

// SaveServerSnapshot caches the canonical server snapshot
func (s *Storage) SaveServerSnapshot(ctx context.Context, userID string, snap storage.CachedSnapshot) error {
	if s.db == nil {
		return storage.ErrStorageClosed
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket, err := userBucketForWrite(tx, userID)
		if err != nil {
			return err
		}

		if err := bucket.Put([]byte(keySnapshot), snap.ToolsData); err != nil {
			return fmt.Errorf("failed to save snapshot: %w", err)
		}
		return putInt64(bucket, keySnapshotRevision, snap.ServerRevision)
	})
}

// GetServerSnapshot returns ErrSnapshotNotCached if nothing is cached
func (s *Storage) GetServerSnapshot(ctx context.Context, userID string) (*storage.CachedSnapshot, error) {
	if s.db == nil {
		return nil, storage.ErrStorageClosed
	}

	var snap *storage.CachedSnapshot
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket, err := userBucket(tx, userID)
		if err != nil {
			return err
		}
		if bucket == nil {
			return storage.ErrSnapshotNotCached
		}

		data := bucket.Get([]byte(keySnapshot))
		if data == nil {
			return storage.ErrSnapshotNotCached
		}

		// значения bbolt живут только внутри транзакции
		snap = &storage.CachedSnapshot{
			ToolsData:      append([]byte(nil), data...),
			ServerRevision: getInt64(bucket, keySnapshotRevision),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return snap, nil
}

func userBucket(tx *bbolt.Tx, userID string) (*bbolt.Bucket, error) {
	users := tx.Bucket(bucketUsers)
	if users == nil {
		return nil, fmt.Errorf("users bucket not found")
	}
	return users.Bucket([]byte(userID)), nil
}

func userBucketForWrite(tx *bbolt.Tx, userID string) (*bbolt.Bucket, error) {
	users := tx.Bucket(bucketUsers)
	if users == nil {
		return nil, fmt.Errorf("users bucket not found")
	}
	bucket, err := users.CreateBucketIfNotExists([]byte(userID))
	if err != nil {
		return nil, fmt.Errorf("failed to create user bucket: %w", err)
	}
	return bucket, nil
}

func putInt64(bucket *bbolt.Bucket, key string, v int64) error {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(v))
	if err := bucket.Put([]byte(key), buf); err != nil {
		return fmt.Errorf("failed to save %s: %w", key, err)
	}
	return nil
}

func getInt64(bucket *bbolt.Bucket, key string) int64 {
	raw := bucket.Get([]byte(key))
	if len(raw) != 8 {
		return 0
	}
	return int64(binary.BigEndian.Uint64(raw))
}
