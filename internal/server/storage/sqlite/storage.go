package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // SQLite driver
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

const (
	defaultBusyTimeout  = 5 * time.Second
	defaultMaxOpenConns = 4
	defaultSaveRetries  = 3
	defaultRetryBase    = 50 * time.Millisecond
)

// Storage represents SQLite storage implementation
type Storage struct {
	db     *sql.DB
	logger *slog.Logger
	opts   options
}

type options struct {
	logger         *slog.Logger
	busyTimeout    time.Duration
	retryBase      time.Duration
	maxOpenConns   int
	saveRetries    uint64
	skipMigrations bool
}

// Option configures Storage.
type Option func(*options)

// WithBusyTimeout sets how long a connection waits for a lock before
// reporting SQLITE_BUSY.
func WithBusyTimeout(d time.Duration) Option {
	return func(o *options) { o.busyTimeout = d }
}

// WithMaxOpenConns limits the connection pool.
func WithMaxOpenConns(n int) Option {
	return func(o *options) { o.maxOpenConns = n }
}

// WithSaveRetries sets how many times a busy Save is retried.
func WithSaveRetries(n uint64) Option {
	return func(o *options) { o.saveRetries = n }
}

// WithRetryBase sets the first backoff interval of Save retries.
func WithRetryBase(d time.Duration) Option {
	return func(o *options) { o.retryBase = d }
}

// WithLogger sets the logger used for storage diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithoutMigrations opens the database without applying migrations.
// Used by the migrate command which drives goose itself.
func WithoutMigrations() Option {
	return func(o *options) { o.skipMigrations = true }
}

// New creates a new SQLite storage instance
// dbPath is the path to the SQLite database file; its parent directory is
// created when missing. Use ":memory:" for an in-memory database.
func New(ctx context.Context, dbPath string, opts ...Option) (*Storage, error) {
	o := options{
		busyTimeout:  defaultBusyTimeout,
		maxOpenConns: defaultMaxOpenConns,
		saveRetries:  defaultSaveRetries,
		retryBase:    defaultRetryBase,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.New(slog.DiscardHandler)
	}

	inMemory := dbPath == ":memory:"
	if !inMemory {
		if err := ensureParentDir(dbPath); err != nil {
			return nil, err
		}
	}

	// Открываем соединение с БД
	db, err := sql.Open("sqlite", buildDSN(dbPath, o.busyTimeout))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Проверяем соединение
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// В памяти каждое соединение видит свою БД, поэтому держим ровно одно
	maxConns := o.maxOpenConns
	if inMemory || maxConns < 1 {
		maxConns = 1
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxConns)

	storage := newStorage(db, o)

	if !o.skipMigrations {
		if err := storage.Migrate(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	return storage, nil
}

func newStorage(db *sql.DB, o options) *Storage {
	if o.logger == nil {
		o.logger = slog.New(slog.DiscardHandler)
	}
	return &Storage{db: db, logger: o.logger, opts: o}
}

// buildDSN включает WAL, busy_timeout и BEGIN IMMEDIATE для всех транзакций
// на каждом соединении пула.
func buildDSN(dbPath string, busyTimeout time.Duration) string {
	params := url.Values{}
	params.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busyTimeout.Milliseconds()))
	params.Add("_pragma", "foreign_keys(1)")
	if dbPath != ":memory:" {
		params.Add("_pragma", "journal_mode(WAL)")
		params.Add("_pragma", "synchronous(NORMAL)")
	}
	params.Set("_txlock", "immediate")

	return "file:" + dbPath + "?" + params.Encode()
}

func ensureParentDir(dbPath string) error {
	abs, err := filepath.Abs(dbPath)
	if err != nil {
		return fmt.Errorf("failed to resolve database path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return fmt.Errorf("failed to create database directory: %w", err)
	}
	return nil
}

// Close closes the database connection
func (s *Storage) Close() error {
	return s.db.Close()
}

// Ping checks that the database is reachable.
func (s *Storage) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", mapError(err))
	}
	return nil
}

// Migrations returns a goose provider over the embedded migrations.
func (s *Storage) Migrations() (*goose.Provider, error) {
	migrations, err := fs.Sub(embedMigrations, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to open embedded migrations: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, s.db, migrations)
	if err != nil {
		return nil, fmt.Errorf("failed to create migration provider: %w", err)
	}
	return provider, nil
}

// Migrate applies all pending migrations.
func (s *Storage) Migrate(ctx context.Context) error {
	provider, err := s.Migrations()
	if err != nil {
		return err
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("goose up failed: %w", err)
	}
	for _, r := range results {
		s.logger.Info("Migration applied",
			"version", r.Source.Version,
			"source", r.Source.Path,
			"duration", r.Duration,
		)
	}
	return nil
}

// DB returns the underlying database connection for testing purposes
func (s *Storage) DB() *sql.DB {
	return s.db
}
