// Package db provides SQLite connection management and schema migrations.
package db

import (
	"database/sql"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/hirewire/hirewire/errors"
)

// isMemoryPath reports whether path names an in-memory database rather
// than a file on disk.
func isMemoryPath(path string) bool {
	return path == ":memory:" ||
		strings.HasPrefix(path, "file::memory:") ||
		strings.Contains(path, "mode=memory")
}

// Open returns a configured *sql.DB for the SQLite database at path.
// A nil logger is accepted and suppresses open/ready log lines.
//
// In-memory paths get special handling: the driver gives every pool
// connection its own independent database, so a bare ":memory:" is
// rewritten to file::memory:?cache=shared and every memory pool is
// pinned to a single connection. WAL is a file-backed journal mode and
// is skipped for memory databases.
func Open(path string, logger *zap.SugaredLogger) (*sql.DB, error) {
	memory := isMemoryPath(path)
	dsn := path
	if path == ":memory:" {
		dsn = "file::memory:?cache=shared"
	}

	if logger != nil {
		logger.Debugw("Connecting to SQLite", "path", path, "in_memory", memory)
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}

	if memory {
		// One connection keeps the shared-cache database alive and
		// serializes access to it.
		db.SetMaxOpenConns(1)
	} else {
		// Concurrent readers alongside the writer.
		if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
			db.Close()
			return nil, errors.Wrap(err, "failed to enable WAL mode")
		}
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to enable foreign keys")
	}

	// Wait up to 5s on a locked database before giving up.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to set busy timeout")
	}

	if logger != nil {
		logger.Infow("SQLite ready",
			"path", path,
			"in_memory", memory,
			"wal_mode", !memory,
		)
	}

	return db, nil
}
