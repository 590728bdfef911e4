package store

import (
	"context"
	"database/sql"
	"errors"
)

// GetSyncState retrieves a sync state value by key.
// Returns empty string if key doesn't exist.
func (db *DB) GetSyncState(ctx context.Context, key string) (string, error) {
	var value string
	err := db.GetContext(ctx, &value, `SELECT value FROM sync_state WHERE key = ?`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, err
}

// SetSyncState sets a sync state value
func (db *DB) SetSyncState(ctx context.Context, key, value string) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO sync_state (key, value, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = CURRENT_TIMESTAMP
	`, key, value)
	return err
}
