package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/gtdsync/gtdsync/internal/exchange"
)

// DeviceIDKey is the conf key holding this installation's device id.
const DeviceIDKey = "deviceId"

// ErrDeviceIDNotFound is returned by DeviceID when no id has been generated.
// It matches exchange.ErrNoDeviceID with errors.Is.
var ErrDeviceIDNotFound = fmt.Errorf("%w in conf table", exchange.ErrNoDeviceID)

// GetConf returns a conf value or ErrNotFound.
func (db *DB) GetConf(ctx context.Context, key string) (string, error) {
	var val string
	err := db.conn.QueryRowContext(ctx, `SELECT val FROM conf WHERE key = ?`, key).Scan(&val)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("conf %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read conf %s: %w", key, err)
	}
	return val, nil
}

// SetConf inserts or replaces a conf value.
func (db *DB) SetConf(ctx context.Context, key, val string) error {
	_, err := db.conn.ExecContext(ctx, `
	INSERT INTO conf (key, val) VALUES (?, ?)
	ON CONFLICT(key) DO UPDATE SET val = excluded.val
	`, key, val)
	if err != nil {
		return fmt.Errorf("failed to set conf %s: %w", key, err)
	}
	return nil
}

// ConfEntries returns every conf entry.
func (db *DB) ConfEntries(ctx context.Context) (map[string]string, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT key, val FROM conf`)
	if err != nil {
		return nil, fmt.Errorf("failed to query conf: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("failed to scan conf: %w", err)
		}
		out[k] = v
	}
	return out, rows.Err()
}

// DeviceID returns the local device id, or ErrDeviceIDNotFound.
func (db *DB) DeviceID(ctx context.Context) (string, error) {
	id, err := db.GetConf(ctx, DeviceIDKey)
	if errors.Is(err, ErrNotFound) || (err == nil && id == "") {
		return "", ErrDeviceIDNotFound
	}
	return id, err
}

// EnsureDeviceID returns the device id, generating and storing one on first use.
func (db *DB) EnsureDeviceID(ctx context.Context) (string, error) {
	id, err := db.DeviceID(ctx)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, ErrDeviceIDNotFound) {
		return "", err
	}
	id = uuid.NewString()
	if err := db.SetConf(ctx, DeviceIDKey, id); err != nil {
		return "", err
	}
	db.logger.Info("generated device id", "device", id)
	return id, nil
}
