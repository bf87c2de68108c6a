// Package storage provides the SQLite-backed persistence layer for the
// device registry (C2's pluggable DeviceStore). It exists so paired
// devices survive a relay restart; the registry's in-memory map remains
// authoritative at runtime.
package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"sync"

	// modernc.org/sqlite is a pure-Go driver (no cgo), which keeps
	// cross-compilation and testing simple — imported for its side effect
	// of registering the "sqlite" database/sql driver.
	_ "modernc.org/sqlite"
)

// ErrDeviceNotFound is returned when an operation targets a device id that
// does not exist in the store.
var ErrDeviceNotFound = errors.New("device not found")

// SQLiteStore implements devices.Store using SQLite for persistence. It
// creates the database and tables on first use and supports concurrent
// access through internal locking.
type SQLiteStore struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewSQLiteStore opens or creates the device credential database at path,
// initializing its schema if needed. Use ":memory:" for an in-memory
// database (tests). A 5s busy_timeout absorbs contention between a running
// relay and a concurrent "arcsrelay device" CLI invocation against the same
// file.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	log.Printf("devicestore: opening %s", path)

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	log.Printf("devicestore: ready, %d device(s) on record (schema v%d)", store.deviceCountUnlocked(), currentSchemaVersion)
	return store, nil
}

// deviceCountUnlocked reports how many device rows exist. Called only from
// NewSQLiteStore before store is shared across goroutines, so it skips mu.
func (s *SQLiteStore) deviceCountUnlocked() int {
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM devices").Scan(&n); err != nil {
		return 0
	}
	return n
}

// Close releases the database connection.
func (s *SQLiteStore) Close() error {
	log.Printf("devicestore: closing database")
	return s.db.Close()
}
