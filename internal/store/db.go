package store

import (
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// busyTimeout bounds how long a writer waits for the lock. Event handlers,
// the media queue and API calls all write to the same file.
const busyTimeout = 5 * time.Second

// DB wraps the app-owned wamon.db: the local buffer of WhatsApp history the
// message source pages from, plus queue and checkpoint tables.
type DB struct {
	*sql.DB
	path string
}

// Open opens or creates the database at path, creating its directory.
// Every pooled connection runs in WAL mode with foreign keys enforced and
// takes the write lock when a transaction begins.
func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	sqlDB, err := sql.Open("sqlite3", path+"?"+pragmas().Encode())
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db := &DB{DB: sqlDB, path: path}
	if err := db.checkJournal(); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return db, nil
}

func pragmas() url.Values {
	q := url.Values{}
	q.Set("_journal_mode", "WAL")
	q.Set("_synchronous", "NORMAL")
	q.Set("_busy_timeout", strconv.FormatInt(busyTimeout.Milliseconds(), 10))
	q.Set("_foreign_keys", "on")
	q.Set("_txlock", "immediate")
	return q
}

// checkJournal also serves as the connectivity check.
func (db *DB) checkJournal() error {
	var mode string
	if err := db.QueryRow(`PRAGMA journal_mode`).Scan(&mode); err != nil {
		return fmt.Errorf("read journal mode: %w", err)
	}
	if !strings.EqualFold(mode, "wal") {
		return fmt.Errorf("journal mode is %q, want wal", mode)
	}
	return nil
}

// Path returns the database file.
func (db *DB) Path() string { return db.path }

// Close folds the write-ahead log into the main file and closes the pool.
func (db *DB) Close() error {
	_, ckErr := db.Exec(`PRAGMA wal_checkpoint(TRUNCATE)`)
	if err := db.DB.Close(); err != nil {
		return err
	}
	if ckErr != nil {
		return fmt.Errorf("checkpoint wal: %w", ckErr)
	}
	return nil
}
