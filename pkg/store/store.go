// Package store provides SQLite-backed persistence for the chain, the job
// directory, and the agent registry. All stores share one *sql.DB and use
// portable SQL, so a single node can run entirely from one file.
package store

import (
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

// Open opens (or creates) the node database at path. WAL keeps readers off
// the writer's lock; the busy timeout covers writer contention instead of
// surfacing SQLITE_BUSY to callers.
func Open(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite %s: %w", path, err)
	}
	return db, nil
}

// isUniqueViolation matches SQLite's constraint error text. modernc's driver
// wraps SQLITE_CONSTRAINT without a typed sentinel.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint")
}
