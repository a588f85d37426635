package storage

import (
	"database/sql"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/pendergraft/matchstore/internal/config"
)

// SQLiteStore implements Backend using SQLite
type SQLiteStore struct {
	*sqlStore
}

// NewSQLiteStore creates a new SQLite store
func NewSQLiteStore(cfg config.SQLiteConfig, opts Options, logger *slog.Logger) (*SQLiteStore, error) {
	// Ensure directory exists
	dir := filepath.Dir(cfg.Path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	db, err := sql.Open("sqlite", sqliteDSN(cfg.Path))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if cfg.MaxConns > 0 {
		db.SetMaxOpenConns(cfg.MaxConns)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return &SQLiteStore{
		sqlStore: &sqlStore{
			id:     BackendSQLite,
			db:     newSQLDatabase(db, logger),
			schema: sqliteSchema,
			opts:   opts,
			logger: logger,
		},
	}, nil
}

// sqliteDSN sets the pragmas on every pooled connection. Transactions are
// IMMEDIATE so concurrent ledgers wait on busy_timeout for the write lock.
func sqliteDSN(path string) string {
	q := url.Values{}
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "busy_timeout(10000)")
	q.Set("_txlock", "immediate")
	return "file:" + path + "?" + q.Encode()
}
