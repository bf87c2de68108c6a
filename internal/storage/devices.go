package storage

// devices.go implements devices.Store against the SQLite devices table,
// plus a Get lookup by device id.

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/arcs-project/relay/internal/devices"
)

// Load returns every persisted device entry, active or not, ordered by
// registration time. It satisfies devices.Store.
func (s *SQLiteStore) Load() ([]devices.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	const query = `
		SELECT device_id, secret_hash, model, registered_at, is_active
		FROM devices
		ORDER BY registered_at ASC
	`

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("query devices: %w", err)
	}
	defer rows.Close()

	var entries []devices.Entry
	for rows.Next() {
		entry, err := scanDeviceRow(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate device rows: %w", err)
	}

	log.Printf("devicestore: loaded %d devices", len(entries))
	return entries, nil
}

// Save persists entry, replacing any existing row with the same DeviceID.
// It satisfies devices.Store.
func (s *SQLiteStore) Save(entry devices.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	log.Printf("devicestore: saving device %s", entry.DeviceID)

	const query = `
		INSERT OR REPLACE INTO devices
			(device_id, secret_hash, model, registered_at, is_active)
		VALUES (?, ?, ?, ?, ?)
	`
	_, err := s.db.Exec(query,
		entry.DeviceID,
		entry.SecretHash,
		entry.Model,
		entry.RegisteredAt.Format(time.RFC3339Nano),
		boolToInt(entry.IsActive),
	)
	if err != nil {
		return fmt.Errorf("save device: %w", err)
	}
	return nil
}

// Delete removes a device from storage. It is idempotent: deleting an
// unknown device id is not an error. It satisfies devices.Store.
func (s *SQLiteStore) Delete(deviceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	log.Printf("devicestore: deleting device %s", deviceID)

	_, err := s.db.Exec("DELETE FROM devices WHERE device_id = ?", deviceID)
	if err != nil {
		return fmt.Errorf("delete device: %w", err)
	}
	return nil
}

// Get returns the persisted entry for deviceID. Returns ErrDeviceNotFound
// if it does not exist.
func (s *SQLiteStore) Get(deviceID string) (devices.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	const query = `
		SELECT device_id, secret_hash, model, registered_at, is_active
		FROM devices
		WHERE device_id = ?
	`
	entry, err := scanDeviceRow(s.db.QueryRow(query, deviceID))
	if errors.Is(err, sql.ErrNoRows) {
		return devices.Entry{}, ErrDeviceNotFound
	}
	if err != nil {
		return devices.Entry{}, fmt.Errorf("get device: %w", err)
	}
	return entry, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDeviceRow(row rowScanner) (devices.Entry, error) {
	var (
		entry        devices.Entry
		registeredAt string
		isActive     int
	)

	if err := row.Scan(&entry.DeviceID, &entry.SecretHash, &entry.Model, &registeredAt, &isActive); err != nil {
		return devices.Entry{}, err
	}

	t, err := time.Parse(time.RFC3339Nano, registeredAt)
	if err != nil {
		return devices.Entry{}, fmt.Errorf("parse registered_at: %w", err)
	}
	entry.RegisteredAt = t
	entry.IsActive = isActive != 0

	return entry, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
