package database

import (
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/stemsi/psytest-backend/internal/config"

	_ "modernc.org/sqlite"
)

// NewSQLiteDB opens the embedded store at cfg.SQLitePath.
func NewSQLiteDB(cfg *config.Config, log zerolog.Logger) (*sql.DB, error) {
	db, err := OpenSQLite(cfg.SQLitePath)
	if err != nil {
		return nil, err
	}
	log.Info().
		Str("path", cfg.SQLitePath).
		Msg("SQLite opened")
	return db, nil
}

// OpenSQLite opens a SQLite database with foreign keys enforced. A single
// connection serializes writers; ":memory:" is supported for tests.
func OpenSQLite(path string) (*sql.DB, error) {
	dsn := "file:" + path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	if path == ":memory:" {
		dsn = "file::memory:?_pragma=foreign_keys(1)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	return db, nil
}
