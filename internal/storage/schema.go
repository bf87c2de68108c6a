package storage

import (
	"fmt"
	"log"
	"time"
)

// currentSchemaVersion is the current database schema version. Increment
// this when making schema changes and add a migration function.
const currentSchemaVersion = 1

// initSchema creates the required tables if they don't exist. Version
// tracking makes the operation idempotent across restarts.
func (s *SQLiteStore) initSchema() error {
	const schemaVersionTable = `
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at TEXT NOT NULL
		);
	`
	if _, err := s.db.Exec(schemaVersionTable); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var version int
	err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version)
	if err != nil {
		return fmt.Errorf("check schema version: %w", err)
	}

	if version < 1 {
		if err := s.migrateToV1(); err != nil {
			return fmt.Errorf("migrate to v1: %w", err)
		}
	}

	return nil
}

// migrateToV1 creates the devices table: the durable backing store for the
// device registry's entries. SecretHash is always a bcrypt hash — the
// registry never writes a cleartext secret here.
func (s *SQLiteStore) migrateToV1() error {
	log.Printf("devicestore: creating devices table (schema v1)")

	const devicesTable = `
		CREATE TABLE IF NOT EXISTS devices (
			device_id     TEXT PRIMARY KEY,
			secret_hash   TEXT NOT NULL,
			model         TEXT NOT NULL,
			registered_at TEXT NOT NULL,
			is_active     INTEGER NOT NULL
		);
	`
	if _, err := s.db.Exec(devicesTable); err != nil {
		return fmt.Errorf("create devices table: %w", err)
	}

	_, err := s.db.Exec(
		"INSERT INTO schema_version (version, applied_at) VALUES (?, ?)",
		1,
		time.Now().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("record migration: %w", err)
	}
	return nil
}
