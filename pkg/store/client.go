package store

import (
	"context"
	stdsql "database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/mattn/go-sqlite3" // registers the "sqlite3" database/sql driver
)

//go:embed migrations
var migrationsFS embed.FS

// Config holds SQLite connection settings.
type Config struct {
	// Path is the database file path (or ":memory:" for an ephemeral store
	// used by tests — note that ":memory:" loses WAL's cross-connection
	// durability guarantee, which is fine for a test-only single connection).
	Path string
	// MaxOpenConns should stay at 1: SQLite under WAL still serializes
	// writers, and the Conversation Store's single-writer invariant (spec
	// §4.2) is simplest to uphold by never handing out a second connection.
	MaxOpenConns int
	// BusyTimeoutMS bounds how long a connection waits on SQLITE_BUSY
	// before giving up, covering the brief window during WAL checkpoints.
	BusyTimeoutMS int
}

// Store wraps a *sql.DB configured for SQLite WAL mode with migrations
// applied, implementing the Conversation Store contract (spec §4.2).
type Store struct {
	db *stdsql.DB
}

// Open creates (or reuses) the SQLite database at cfg.Path, enables WAL mode
// per spec §4.2 ("local SQL database in write-ahead-log mode"), and applies
// any pending migrations.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=%d&_foreign_keys=on", cfg.Path, cfg.BusyTimeoutMS)

	db, err := stdsql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}

	maxOpen := cfg.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 1
	}
	db.SetMaxOpenConns(maxOpen)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging sqlite database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db}, nil
}

// NewFromDB wraps an already-open, already-migrated *sql.DB — used by tests
// that want an in-memory database without re-running Open's DSN logic.
func NewFromDB(db *stdsql.DB) *Store {
	return &Store{db: db}
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying connection for health checks and direct queries.
func (s *Store) DB() *stdsql.DB {
	return s.db
}

func runMigrations(db *stdsql.DB) error {
	hasMigrations, err := hasEmbeddedMigrations()
	if err != nil {
		return fmt.Errorf("checking embedded migrations: %w", err)
	}
	if !hasMigrations {
		return fmt.Errorf("no embedded migration files found")
	}

	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("creating sqlite3 migrate driver: %w", err)
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("creating migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "overseer", driver)
	if err != nil {
		return fmt.Errorf("creating migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("applying migrations: %w", err)
	}

	// Do not call m.Close(): it would close the shared *sql.DB via the
	// sqlite3 driver. Close only the source side.
	return sourceDriver.Close()
}

func hasEmbeddedMigrations() (bool, error) {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("reading embedded migrations: %w", err)
	}
	for _, entry := range entries {
		if !entry.IsDir() && len(entry.Name()) > 4 && entry.Name()[len(entry.Name())-4:] == ".sql" {
			return true, nil
		}
	}
	return false, nil
}
