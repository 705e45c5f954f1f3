package sqlite

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/toolsync/internal/diff"
	"github.com/iudanet/toolsync/internal/models"
	"github.com/iudanet/toolsync/internal/server/storage"
	"github.com/iudanet/toolsync/internal/snapshot"
)

func newTestRecord(userID string, revBefore int64) *models.SyncRecord {
	return &models.SyncRecord{
		UserID:                  userID,
		ProtocolVersion:         models.ProtocolV2,
		Decision:                models.DecisionUseClient,
		ServerTimeMs:            1000 + revBefore,
		ClientTimeMs:            int64Ptr(999),
		ClientUpdatedAtMs:       200,
		ServerUpdatedAtMsBefore: 100,
		ServerUpdatedAtMsAfter:  200,
		ServerRevisionBefore:    revBefore,
		ServerRevisionAfter:     revBefore + 1,
		Diff: diff.Result{
			Summary: diff.Summary{ChangedTools: 1, DiffItems: 1},
			Tools: map[string]diff.ToolDiff{
				"notes": {DiffItems: []diff.Item{{Path: "data.title", Change: diff.ChangeValueChanged}}},
			},
		},
	}
}

func TestRecordStorage_AppendAndGet(t *testing.T) {
	ctx := context.Background()
	s, cleanup := setupTestStorage(t)
	defer cleanup()

	record := newTestRecord("u1", 0)
	id, err := s.AppendSyncRecord(ctx, record)
	require.NoError(t, err)
	assert.Positive(t, id)
	assert.Equal(t, id, record.ID)

	got, err := s.GetSyncRecord(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, record, got)
}

func TestRecordStorage_GetSyncRecord_NotFound(t *testing.T) {
	s, cleanup := setupTestStorage(t)
	defer cleanup()

	record, err := s.GetSyncRecord(context.Background(), 42)
	assert.Nil(t, record)
	assert.ErrorIs(t, err, storage.ErrRecordNotFound)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestRecordStorage_NullClientTime(t *testing.T) {
	ctx := context.Background()
	s, cleanup := setupTestStorage(t)
	defer cleanup()

	record := newTestRecord("u1", 0)
	record.ClientTimeMs = nil
	record.ProtocolVersion = models.ProtocolV1

	id, err := s.AppendSyncRecord(ctx, record)
	require.NoError(t, err)

	got, err := s.GetSyncRecord(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, got.ClientTimeMs)
	assert.Equal(t, models.ProtocolV1, got.ProtocolVersion)
}

func TestRecordStorage_ListSyncRecords(t *testing.T) {
	ctx := context.Background()
	s, cleanup := setupTestStorage(t)
	defer cleanup()

	var ids []int64
	for i := 0; i < 5; i++ {
		id, err := s.AppendSyncRecord(ctx, newTestRecord("u1", int64(i)))
		require.NoError(t, err)
		ids = append(ids, id)
	}
	_, err := s.AppendSyncRecord(ctx, newTestRecord("u2", 0))
	require.NoError(t, err)

	tests := []struct {
		beforeID *int64
		name     string
		wantIDs  []int64
		limit    int
	}{
		{name: "all newest first", limit: 50, wantIDs: []int64{ids[4], ids[3], ids[2], ids[1], ids[0]}},
		{name: "limited", limit: 2, wantIDs: []int64{ids[4], ids[3]}},
		{name: "before id", limit: 2, beforeID: &ids[3], wantIDs: []int64{ids[2], ids[1]}},
		{name: "before first", limit: 10, beforeID: &ids[0], wantIDs: []int64{}},
		{name: "zero limit clamps to one", limit: 0, wantIDs: []int64{ids[4]}},
		{name: "negative limit clamps to one", limit: -5, wantIDs: []int64{ids[4]}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records, err := s.ListSyncRecords(ctx, "u1", tt.limit, tt.beforeID)
			require.NoError(t, err)

			got := make([]int64, 0, len(records))
			for _, r := range records {
				assert.Equal(t, "u1", r.UserID)
				got = append(got, r.ID)
			}
			assert.Equal(t, tt.wantIDs, got)
		})
	}
}

func TestRecordStorage_ListSyncRecords_MaxLimit(t *testing.T) {
	ctx := context.Background()
	s, cleanup := setupTestStorage(t)
	defer cleanup()

	for i := 0; i < storage.MaxRecordsLimit+5; i++ {
		_, err := s.AppendSyncRecord(ctx, newTestRecord("u1", int64(i)))
		require.NoError(t, err, fmt.Sprintf("record %d", i))
	}

	records, err := s.ListSyncRecords(ctx, "u1", 1000, nil)
	require.NoError(t, err)
	assert.Len(t, records, storage.MaxRecordsLimit)
}

func TestRecordStorage_CorruptDiff(t *testing.T) {
	ctx := context.Background()
	s, cleanup := setupTestStorage(t)
	defer cleanup()

	res, err := s.DB().ExecContext(ctx, `
		INSERT INTO sync_records (
			user_id, protocol_version, decision, server_time_ms, client_time_ms,
			client_updated_at_ms, server_updated_at_ms_before, server_updated_at_ms_after,
			server_revision_before, server_revision_after, diff_json
		) VALUES ('u1', 2, 'use_client', 1, NULL, 0, 0, 0, 0, 1, '{broken')
	`)
	require.NoError(t, err)
	id, err := res.LastInsertId()
	require.NoError(t, err)

	_, err = s.GetSyncRecord(ctx, id)
	assert.ErrorIs(t, err, storage.ErrStorageCorrupt)

	_, err = s.ListSyncRecords(ctx, "u1", 10, nil)
	assert.ErrorIs(t, err, storage.ErrStorageCorrupt)
}

func TestRecordStorage_EmptyDiffColumn(t *testing.T) {
	ctx := context.Background()
	s, cleanup := setupTestStorage(t)
	defer cleanup()

	res, err := s.DB().ExecContext(ctx, `
		INSERT INTO sync_records (
			user_id, protocol_version, decision, server_time_ms, client_time_ms,
			client_updated_at_ms, server_updated_at_ms_before, server_updated_at_ms_after,
			server_revision_before, server_revision_after, diff_json
		) VALUES ('u1', 1, 'use_client', 1, NULL, 0, 0, 0, 0, 1, '')
	`)
	require.NoError(t, err)
	id, err := res.LastInsertId()
	require.NoError(t, err)

	record, err := s.GetSyncRecord(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, record.Diff.Tools)
	assert.Equal(t, diff.Summary{}, record.Diff.Summary)
}

func TestRecordStorage_SaveWritesRecordInSameTransaction(t *testing.T) {
	ctx := context.Background()
	s, cleanup := setupTestStorage(t)
	defer cleanup()

	_, err := s.Save(ctx, storage.SaveParams{UserID: "u1", ToolsData: snapshot.Snapshot{}, UpdatedAtMs: 100, ServerTimeMs: 1})
	require.NoError(t, err)

	record := newTestRecord("u1", 0)
	// поля ревизий заполняет Save
	record.ServerRevisionBefore, record.ServerRevisionAfter = 0, 0
	record.ServerUpdatedAtMsBefore, record.ServerUpdatedAtMsAfter = 0, 0

	rev, err := s.Save(ctx, storage.SaveParams{
		UserID:           "u1",
		ToolsData:        snapshot.Snapshot{},
		UpdatedAtMs:      250,
		ServerTimeMs:     2,
		ExpectedRevision: int64Ptr(1),
		Record:           record,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), rev)
	require.Positive(t, record.ID)

	got, err := s.GetSyncRecord(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.ServerRevisionBefore)
	assert.Equal(t, int64(2), got.ServerRevisionAfter)
	assert.Equal(t, int64(100), got.ServerUpdatedAtMsBefore)
	assert.Equal(t, int64(250), got.ServerUpdatedAtMsAfter)
}

func TestRecordStorage_FailedRecordLeavesNoRevision(t *testing.T) {
	ctx := context.Background()
	s, cleanup := setupTestStorage(t)
	defer cleanup()

	_, err := s.DB().Exec(`DROP TABLE sync_records`)
	require.NoError(t, err)

	_, err = s.Save(ctx, storage.SaveParams{
		UserID:       "u1",
		ToolsData:    snapshot.Snapshot{},
		ServerTimeMs: 1,
		Record:       newTestRecord("u1", 0),
	})
	require.Error(t, err)

	_, err = s.GetCurrent(ctx, "u1")
	assert.ErrorIs(t, err, storage.ErrSnapshotNotFound)
	_, err = s.GetAtRevision(ctx, "u1", 1)
	assert.ErrorIs(t, err, storage.ErrRevisionNotFound)
}

func TestRecordStorage_SaveRejectsStaleRevision(t *testing.T) {
	ctx := context.Background()
	s, cleanup := setupTestStorage(t)
	defer cleanup()

	_, err := s.Save(ctx, storage.SaveParams{UserID: "u1", ToolsData: snapshot.Snapshot{}, ServerTimeMs: 1})
	require.NoError(t, err)

	record := newTestRecord("u1", 0)
	_, err = s.Save(ctx, storage.SaveParams{
		UserID:           "u1",
		ToolsData:        snapshot.Snapshot{},
		ServerTimeMs:     2,
		ExpectedRevision: int64Ptr(0),
		Record:           record,
	})
	assert.ErrorIs(t, err, storage.ErrRevisionConflict)
	assert.Zero(t, record.ID)

	current, err := s.GetCurrent(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), current.ServerRevision)

	records, err := s.ListSyncRecords(ctx, "u1", 10, nil)
	require.NoError(t, err)
	assert.Empty(t, records)
}
