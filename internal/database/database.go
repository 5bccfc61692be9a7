// Package database is the SQL safety core of nlsql. It owns the SQLite
// handle and every path by which SQL reaches it: identifier validation and
// quoting, statement classification, the serialized executor and schema
// introspection.
package database

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/nlsql/nlsql/internal/errors"
)

// Options controls how the database file is opened.
type Options struct {
	BusyTimeout time.Duration
	JournalMode string // WAL, DELETE, MEMORY...
}

// DefaultOptions returns the options used when none are configured.
func DefaultOptions() Options {
	return Options{BusyTimeout: 5 * time.Second, JournalMode: "WAL"}
}

// DB wraps the SQL database connection.
// The pool is pinned to a single connection: SQLite serializes writers anyway
// and in-memory databases only exist for the connection that created them.
type DB struct {
	*sqlx.DB
	path string
}

// Open creates and configures the database connection.
func Open(path string, opts Options) (*DB, error) {
	const op errors.Op = "database.Open"

	if path == "" {
		return nil, errors.E(op, errors.KindConfig, "database path is empty")
	}
	if opts.BusyTimeout <= 0 {
		opts.BusyTimeout = DefaultOptions().BusyTimeout
	}
	if opts.JournalMode == "" {
		opts.JournalMode = DefaultOptions().JournalMode
	}

	db, err := sqlx.Open("sqlite3", dsn(path, opts))
	if err != nil {
		return nil, errors.E(op, errors.KindIO, err, "failed to open database")
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA foreign_keys = ON",
		fmt.Sprintf("PRAGMA busy_timeout = %d", opts.BusyTimeout.Milliseconds()),
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, errors.E(op, errors.KindIO, err, fmt.Sprintf("failed to set pragma %s", pragma))
		}
	}

	return &DB{DB: db, path: path}, nil
}

func dsn(path string, opts Options) string {
	q := url.Values{}
	q.Set("_journal", strings.ToUpper(opts.JournalMode))
	q.Set("_timeout", fmt.Sprint(opts.BusyTimeout.Milliseconds()))
	q.Set("_sync", "NORMAL")
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + q.Encode()
}

// Path returns the file the database was opened from.
func (db *DB) Path() string {
	return db.path
}

// Ping verifies the connection is usable.
func (db *DB) Ping(ctx context.Context) error {
	if err := db.DB.PingContext(ctx); err != nil {
		return errors.E(errors.Op("database.Ping"), errors.KindIO, err)
	}
	return nil
}
