package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/iudanet/toolsync/internal/models"
	"github.com/iudanet/toolsync/internal/server/storage"
	"github.com/iudanet/toolsync/internal/snapshot"
)

// GetCurrent returns the live snapshot of a user
// Returns ErrSnapshotNotFound if the user has none
func (s *Storage) GetCurrent(ctx context.Context, userID string) (*models.UserSnapshot, error) {
	query := `
		SELECT user_id, server_revision, updated_at_ms, tools_data_json,
		       updated_server_time_ms, last_client_time_ms
		FROM sync_snapshots
		WHERE user_id = ?
	`

	snap, err := scanSnapshot(s.db.QueryRowContext(ctx, query, userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrSnapshotNotFound
		}
		return nil, fmt.Errorf("failed to get snapshot: %w", mapError(err))
	}

	return snap, nil
}

// GetAtRevision returns the history entry of a user at the given revision
// Returns ErrRevisionNotFound if it was never written
func (s *Storage) GetAtRevision(ctx context.Context, userID string, revision int64) (*models.UserSnapshot, error) {
	query := `
		SELECT user_id, server_revision, updated_at_ms, tools_data_json,
		       updated_server_time_ms, last_client_time_ms
		FROM sync_snapshot_history
		WHERE user_id = ? AND server_revision = ?
	`

	snap, err := scanSnapshot(s.db.QueryRowContext(ctx, query, userID, revision))
	if err == nil {
		return snap, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to get snapshot revision: %w", mapError(err))
	}

	// Базы, созданные до появления истории, хранят только текущую строку
	current, err := s.GetCurrent(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrSnapshotNotFound) {
			return nil, storage.ErrRevisionNotFound
		}
		return nil, err
	}
	if current.ServerRevision != revision {
		return nil, storage.ErrRevisionNotFound
	}

	return current, nil
}

// Save writes a new revision for the user and returns its number.
// Busy databases are retried with exponential backoff.
func (s *Storage) Save(ctx context.Context, params storage.SaveParams) (int64, error) {
	payload := string(snapshot.CanonicalSnapshot(params.ToolsData))

	var diffJSON string
	if params.Record != nil {
		raw, err := json.Marshal(params.Record.Diff)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal diff: %w", err)
		}
		diffJSON = string(raw)
	}

	var revision, recordID int64
	err := s.retryBusy(ctx, "save snapshot", params.UserID, func(ctx context.Context) error {
		rev, id, err := s.saveOnce(ctx, params, payload, diffJSON)
		if err != nil {
			return err
		}
		revision, recordID = rev, id
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to save snapshot: %w", err)
	}

	if params.Record != nil {
		params.Record.ID = recordID
	}
	return revision, nil
}

func (s *Storage) saveOnce(ctx context.Context, params storage.SaveParams, payload, diffJSON string) (int64, int64, error) {
	var revision, recordID int64

	err := withTx(ctx, s.db, func(ctx context.Context, tx dbtx) error {
		var current, currentUpdatedAtMs int64
		err := tx.QueryRowContext(ctx,
			`SELECT server_revision, updated_at_ms FROM sync_snapshots WHERE user_id = ?`,
			params.UserID,
		).Scan(&current, &currentUpdatedAtMs)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("failed to read current revision: %w", err)
		}
		if params.ExpectedRevision != nil && *params.ExpectedRevision != current {
			return fmt.Errorf("%w: expected revision %d, live revision is %d",
				storage.ErrRevisionConflict, *params.ExpectedRevision, current)
		}
		revision = current + 1

		// История неизменяема: конфликт ключа означает ошибку и откатывает транзакцию
		_, err = tx.ExecContext(ctx, `
			INSERT INTO sync_snapshot_history (
				user_id, server_revision, updated_at_ms, tools_data_json,
				updated_server_time_ms, last_client_time_ms
			) VALUES (?, ?, ?, ?, ?, ?)
		`,
			params.UserID,
			revision,
			params.UpdatedAtMs,
			payload,
			params.ServerTimeMs,
			nullInt64(params.ClientTimeMs),
		)
		if err != nil {
			return fmt.Errorf("failed to insert snapshot history: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO sync_snapshots (
				user_id, server_revision, updated_at_ms, tools_data_json,
				updated_server_time_ms, last_client_time_ms
			) VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(user_id) DO UPDATE SET
				server_revision = excluded.server_revision,
				updated_at_ms = excluded.updated_at_ms,
				tools_data_json = excluded.tools_data_json,
				updated_server_time_ms = excluded.updated_server_time_ms,
				last_client_time_ms = excluded.last_client_time_ms
		`,
			params.UserID,
			revision,
			params.UpdatedAtMs,
			payload,
			params.ServerTimeMs,
			nullInt64(params.ClientTimeMs),
		)
		if err != nil {
			return fmt.Errorf("failed to upsert snapshot: %w", err)
		}

		if params.Record == nil {
			return nil
		}

		// запись аудита описывает ровно ту ревизию, которую заменила эта запись
		params.Record.ServerRevisionBefore = current
		params.Record.ServerRevisionAfter = revision
		params.Record.ServerUpdatedAtMsBefore = currentUpdatedAtMs
		params.Record.ServerUpdatedAtMsAfter = params.UpdatedAtMs

		recordID, err = insertRecord(ctx, tx, params.Record, diffJSON)
		return err
	})
	if err != nil {
		return 0, 0, err
	}

	return revision, recordID, nil
}

// scanSnapshot reads one snapshot row and decodes its payload.
func scanSnapshot(row *sql.Row) (*models.UserSnapshot, error) {
	snap := &models.UserSnapshot{}
	var payload string
	var clientTime sql.NullInt64

	err := row.Scan(
		&snap.UserID,
		&snap.ServerRevision,
		&snap.UpdatedAtMs,
		&payload,
		&snap.ServerTimeMs,
		&clientTime,
	)
	if err != nil {
		return nil, err
	}

	toolsData, err := snapshot.ParseSnapshot([]byte(payload))
	if err != nil {
		return nil, fmt.Errorf("user %q revision %d: %w: %w",
			snap.UserID, snap.ServerRevision, storage.ErrStorageCorrupt, err)
	}
	snap.ToolsData = toolsData

	if clientTime.Valid {
		v := clientTime.Int64
		snap.ClientTimeMs = &v
	}

	return snap, nil
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}
