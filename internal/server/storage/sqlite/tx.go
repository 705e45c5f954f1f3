package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/sethvargo/go-retry"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/iudanet/toolsync/internal/server/storage"
)

// dbtx is the subset of database/sql shared by *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// withTx runs fn inside a transaction. Commits when fn succeeds, rolls back
// on error or panic; panics are rethrown.
func withTx(ctx context.Context, db *sql.DB, fn func(ctx context.Context, tx dbtx) error) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		if cerr := tx.Commit(); cerr != nil {
			err = fmt.Errorf("failed to commit transaction: %w", cerr)
		}
	}()

	return fn(ctx, tx)
}

// coder is implemented by driver errors that carry an SQLite result code.
type coder interface {
	Code() int
}

// mapError переводит блокировки SQLite и истёкший дедлайн в ErrStorageBusy.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, storage.ErrStorageBusy) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", storage.ErrStorageBusy, err)
	}

	var coded coder
	if errors.As(err, &coded) {
		// расширенные коды (SQLITE_BUSY_SNAPSHOT и т.п.) несут основной код в младшем байте
		switch coded.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return fmt.Errorf("%w: %w", storage.ErrStorageBusy, err)
		}
	}
	return err
}

// retryBusy повторяет fn с экспоненциальной задержкой, пока база занята.
// Остальные ошибки возвращаются сразу.
func (s *Storage) retryBusy(ctx context.Context, op, userID string, fn func(ctx context.Context) error) error {
	backoff := retry.WithMaxRetries(s.opts.saveRetries, retry.NewExponential(s.opts.retryBase))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := mapError(fn(ctx))
		if errors.Is(err, storage.ErrStorageBusy) && ctx.Err() == nil {
			s.logger.Warn("Database is busy, retrying",
				"op", op,
				"user_id", userID,
				"error", err,
			)
			return retry.RetryableError(err)
		}
		return err
	})
}
