package database

import (
	"database/sql"
	_ "embed"
	"fmt"
	"strings"

	"github.com/bhandras/huddle/internal/database/migrations"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations/001_initial.sql
var initialSchema string

type DB struct {
	*sql.DB
}

// Open opens a connection to the SQLite database and runs migrations.
//
// ":memory:" opens a private in-memory database pinned to one connection, used
// by tests.
func Open(dbPath string) (*DB, error) {
	dsn := dbPath + "?_foreign_keys=on&_busy_timeout=5000"
	inMemory := dbPath == ":memory:" || strings.HasPrefix(dbPath, "file::memory:")
	if !inMemory {
		dsn += "&_journal_mode=WAL"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if inMemory {
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &DB{db}, nil
}

// runMigrations applies the SQL schema and data migrations once each.
func runMigrations(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	steps := []struct {
		version string
		apply   func(*sql.DB) error
	}{
		{"001_initial", func(db *sql.DB) error {
			_, err := db.Exec(initialSchema)
			return err
		}},
		{"002_backfill_last_message", migrations.BackfillRoomLastMessage},
	}

	for _, step := range steps {
		var count int
		err := db.QueryRow("SELECT COUNT(*) FROM schema_migrations WHERE version = ?", step.version).Scan(&count)
		if err != nil {
			return fmt.Errorf("failed to check migration status: %w", err)
		}
		if count > 0 {
			continue
		}
		if err := step.apply(db); err != nil {
			return fmt.Errorf("migration %s: %w", step.version, err)
		}
		if _, err := db.Exec("INSERT INTO schema_migrations (version) VALUES (?)", step.version); err != nil {
			return fmt.Errorf("failed to record migration: %w", err)
		}
	}
	return nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.DB.Close()
}
