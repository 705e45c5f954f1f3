package storage

import (
	"context"

	"github.com/iudanet/toolsync/internal/models"
	"github.com/iudanet/toolsync/internal/snapshot"
)

// Pagination bounds for ListSyncRecords.
const (
	MinRecordsLimit = 1
	MaxRecordsLimit = 200
)

// SaveParams describes one accepted write.
type SaveParams struct {
	ToolsData    snapshot.Snapshot
	ClientTimeMs *int64
	// ExpectedRevision, when set, is the live revision the write was decided
	// against (0 for a user without a snapshot). Save fails with
	// ErrRevisionConflict if the live revision differs.
	ExpectedRevision *int64
	// Record, when set, is appended in the same transaction. Save fills its
	// revision and server updated_at fields and, on success, its ID.
	Record       *models.SyncRecord
	UserID       string
	UpdatedAtMs  int64
	ServerTimeMs int64
}

// SnapshotStorage persists the live snapshot of every user together with its
// immutable revision history.
type SnapshotStorage interface {
	// GetCurrent returns the live snapshot of a user.
	// Returns ErrSnapshotNotFound if the user never saved anything.
	GetCurrent(ctx context.Context, userID string) (*models.UserSnapshot, error)

	// GetAtRevision returns the history entry for the given revision.
	// When history has no such row but the live row carries exactly this
	// revision, the live row is returned (databases created before history
	// existed). Returns ErrRevisionNotFound otherwise.
	GetAtRevision(ctx context.Context, userID string, revision int64) (*models.UserSnapshot, error)

	// Save writes a new revision atomically: history row at current+1, the
	// live row updated to match and the optional audit record. Returns the
	// new revision.
	Save(ctx context.Context, params SaveParams) (int64, error)
}

// RecordStorage persists the audit log of sync decisions.
type RecordStorage interface {
	// AppendSyncRecord stores a new record and returns its id.
	AppendSyncRecord(ctx context.Context, record *models.SyncRecord) (int64, error)

	// ListSyncRecords returns the records of a user ordered by id descending.
	// limit is clamped to [MinRecordsLimit, MaxRecordsLimit]; beforeID, when
	// set, keeps only records with a strictly smaller id.
	ListSyncRecords(ctx context.Context, userID string, limit int, beforeID *int64) ([]*models.SyncRecord, error)

	// GetSyncRecord returns a record by id.
	// Returns ErrRecordNotFound if it doesn't exist.
	GetSyncRecord(ctx context.Context, id int64) (*models.SyncRecord, error)
}

// Storage is everything the sync service needs.
type Storage interface {
	SnapshotStorage
	RecordStorage
	Ping(ctx context.Context) error
}

// ClampLimit bounds a page size to [MinRecordsLimit, MaxRecordsLimit].
func ClampLimit(limit int) int {
	return max(MinRecordsLimit, min(limit, MaxRecordsLimit))
}
