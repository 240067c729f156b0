// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Owns the single database handle, schema creation and migrations

package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger

	// roomLocks serializes read-modify-write room updates per room name.
	// Single-statement operations (guarded decrement, insert-or-ignore,
	// delete) don't need it; SQLite serializes writers.
	roomLocks keyedLock
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Single connection: SQLite allows one writer anyway, and the pragmas
	// below are per-connection
	db.SetMaxOpenConns(1)

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS rooms (
			name           TEXT PRIMARY KEY,
			owner_password TEXT NOT NULL DEFAULT '',
			privacy        TEXT NOT NULL DEFAULT 'public',
			is_live        INTEGER NOT NULL DEFAULT 0,
			vip_required   INTEGER NOT NULL DEFAULT 0,
			title          TEXT NOT NULL DEFAULT '',
			viewers        INTEGER NOT NULL DEFAULT 0,
			pay_enabled    INTEGER NOT NULL DEFAULT 0,
			pay_label      TEXT NOT NULL DEFAULT '',
			pay_url        TEXT NOT NULL DEFAULT '',
			relay_enabled  INTEGER NOT NULL DEFAULT 0,
			relay_host     TEXT NOT NULL DEFAULT '',
			relay_port     INTEGER NOT NULL DEFAULT 0,
			relay_tls_port INTEGER NOT NULL DEFAULT 0,
			relay_username TEXT NOT NULL DEFAULT '',
			relay_password TEXT NOT NULL DEFAULT '',
			created_at     TEXT NOT NULL,

			CHECK (privacy IN ('public', 'private')),
			CHECK (viewers >= 0)
		);

		CREATE INDEX IF NOT EXISTS idx_rooms_privacy_live ON rooms(privacy, is_live);

		CREATE TABLE IF NOT EXISTS vip_codes (
			code       TEXT PRIMARY KEY,
			room_name  TEXT NOT NULL REFERENCES rooms(name) ON DELETE CASCADE,
			max_uses   INTEGER NOT NULL,
			uses_left  INTEGER NOT NULL,
			created_at TEXT NOT NULL,

			CHECK (max_uses > 0),
			CHECK (uses_left >= 0)
		);

		CREATE INDEX IF NOT EXISTS idx_vip_codes_room ON vip_codes(room_name);

		CREATE TABLE IF NOT EXISTS vip_users (
			room_name TEXT NOT NULL REFERENCES rooms(name) ON DELETE CASCADE,
			user_name TEXT NOT NULL,
			added_at  TEXT NOT NULL,

			PRIMARY KEY (room_name, user_name)
		);
	`

	_, err := s.db.Exec(schema)
	return err
}

// runMigrations applies schema migrations for existing databases.
// These are idempotent - safe to run multiple times.
func (s *SQLiteStore) runMigrations() error {
	// SQLite doesn't support ADD COLUMN IF NOT EXISTS, so we check first
	migrations := []struct {
		check  string // Query to check if migration is needed
		apply  string // Query to apply the migration
		column string // Column name for logging
	}{
		{
			check:  `SELECT 1 FROM pragma_table_info('rooms') WHERE name = 'relay_tls_port'`,
			apply:  `ALTER TABLE rooms ADD COLUMN relay_tls_port INTEGER NOT NULL DEFAULT 0`,
			column: "relay_tls_port",
		},
		{
			check:  `SELECT 1 FROM pragma_table_info('rooms') WHERE name = 'vip_required'`,
			apply:  `ALTER TABLE rooms ADD COLUMN vip_required INTEGER NOT NULL DEFAULT 0`,
			column: "vip_required",
		},
	}

	for _, m := range migrations {
		var exists int
		err := s.db.QueryRow(m.check).Scan(&exists)
		if err == nil {
			// Column already exists, skip
			continue
		}
		// Column doesn't exist, apply migration
		if _, err := s.db.Exec(m.apply); err != nil {
			return fmt.Errorf("adding %s column to rooms: %w", m.column, err)
		}
		s.logger.Info("applied migration", "column", m.column, "table", "rooms")
	}

	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// isUniqueViolation checks if the error is a SQLite UNIQUE constraint violation
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// isForeignKeyViolation checks if the error is a SQLite foreign key violation,
// which here always means the referenced room does not exist
func isForeignKeyViolation(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}

// keyedLock hands out one mutex per key. Entries are refcounted and removed
// once the last holder releases, so the table stays bounded by the number of
// concurrent updates rather than the number of rooms ever seen.
type keyedLock struct {
	mu    sync.Mutex
	locks map[string]*keyedLockEntry
}

type keyedLockEntry struct {
	mu   sync.Mutex
	refs int
}

// lock acquires the mutex for key and returns the release func
func (k *keyedLock) lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*keyedLockEntry)
	}
	e := k.locks[key]
	if e == nil {
		e = &keyedLockEntry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

// Ensure SQLiteStore implements Store interface
var _ Store = (*SQLiteStore)(nil)
