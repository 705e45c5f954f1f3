package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/iudanet/toolsync/internal/diff"
	"github.com/iudanet/toolsync/internal/models"
	"github.com/iudanet/toolsync/internal/server/storage"
)

const recordColumns = `
	id, user_id, protocol_version, decision,
	server_time_ms, client_time_ms, client_updated_at_ms,
	server_updated_at_ms_before, server_updated_at_ms_after,
	server_revision_before, server_revision_after, diff_json
`

// AppendSyncRecord stores a new audit record and returns its id
// Busy databases are retried like Save
func (s *Storage) AppendSyncRecord(ctx context.Context, record *models.SyncRecord) (int64, error) {
	diffJSON, err := json.Marshal(record.Diff)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal diff: %w", err)
	}

	var id int64
	err = s.retryBusy(ctx, "append sync record", record.UserID, func(ctx context.Context) error {
		var err error
		id, err = insertRecord(ctx, s.db, record, string(diffJSON))
		return err
	})
	if err != nil {
		return 0, err
	}
	record.ID = id

	return id, nil
}

// insertRecord пишет запись аудита через db или внутри транзакции
func insertRecord(ctx context.Context, db dbtx, record *models.SyncRecord, diffJSON string) (int64, error) {
	query := `
		INSERT INTO sync_records (
			user_id, protocol_version, decision,
			server_time_ms, client_time_ms, client_updated_at_ms,
			server_updated_at_ms_before, server_updated_at_ms_after,
			server_revision_before, server_revision_after, diff_json
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	res, err := db.ExecContext(ctx, query,
		record.UserID,
		record.ProtocolVersion,
		record.Decision,
		record.ServerTimeMs,
		nullInt64(record.ClientTimeMs),
		record.ClientUpdatedAtMs,
		record.ServerUpdatedAtMsBefore,
		record.ServerUpdatedAtMsAfter,
		record.ServerRevisionBefore,
		record.ServerRevisionAfter,
		diffJSON,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert sync record: %w", mapError(err))
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get sync record id: %w", err)
	}

	return id, nil
}

// ListSyncRecords returns records of a user, newest first
// limit is clamped to [1, 200]; beforeID keeps only smaller ids
func (s *Storage) ListSyncRecords(ctx context.Context, userID string, limit int, beforeID *int64) (records []*models.SyncRecord, err error) {
	var query strings.Builder
	query.WriteString(`SELECT ` + recordColumns + ` FROM sync_records WHERE user_id = ?`)
	args := []any{userID}

	if beforeID != nil {
		query.WriteString(` AND id < ?`)
		args = append(args, *beforeID)
	}
	query.WriteString(` ORDER BY id DESC LIMIT ?`)
	args = append(args, storage.ClampLimit(limit))

	rows, err := s.db.QueryContext(ctx, query.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync records: %w", mapError(err))
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	records = make([]*models.SyncRecord, 0)
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sync records: %w", mapError(err))
	}

	return records, nil
}

// GetSyncRecord returns a record by id
// Returns ErrRecordNotFound if it doesn't exist
func (s *Storage) GetSyncRecord(ctx context.Context, id int64) (*models.SyncRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM sync_records WHERE id = ?`, id)

	record, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrRecordNotFound
		}
		return nil, err
	}

	return record, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*models.SyncRecord, error) {
	record := &models.SyncRecord{}
	var clientTime sql.NullInt64
	var diffJSON string

	err := row.Scan(
		&record.ID,
		&record.UserID,
		&record.ProtocolVersion,
		&record.Decision,
		&record.ServerTimeMs,
		&clientTime,
		&record.ClientUpdatedAtMs,
		&record.ServerUpdatedAtMsBefore,
		&record.ServerUpdatedAtMsAfter,
		&record.ServerRevisionBefore,
		&record.ServerRevisionAfter,
		&diffJSON,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan sync record: %w", mapError(err))
	}

	if clientTime.Valid {
		v := clientTime.Int64
		record.ClientTimeMs = &v
	}

	record.Diff = diff.Result{Tools: map[string]diff.ToolDiff{}}
	if diffJSON != "" {
		if err := json.Unmarshal([]byte(diffJSON), &record.Diff); err != nil {
			return nil, fmt.Errorf("sync record %d: %w: %w", record.ID, storage.ErrStorageCorrupt, err)
		}
	}

	return record, nil
}
