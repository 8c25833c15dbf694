package credential

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SQLiteStore keeps credentials in the credentials table created by the
// bridge migrations.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a store on an open, migrated database.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Get returns the credential for deviceID.
func (s *SQLiteStore) Get(ctx context.Context, deviceID string) (Credential, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM credentials WHERE device_id = ?`, deviceID,
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return Credential{}, ErrNotFound
	}
	if err != nil {
		return Credential{}, fmt.Errorf("querying credential: %w", err)
	}
	return Unmarshal([]byte(payload))
}

// Set upserts the credential for deviceID.
func (s *SQLiteStore) Set(ctx context.Context, deviceID string, c Credential) error {
	if deviceID == "" {
		return ErrInvalidDeviceID
	}
	payload, err := c.Marshal()
	if err != nil {
		return fmt.Errorf("encoding credential: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO credentials (device_id, payload, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(device_id) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`,
		deviceID, string(payload), time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("storing credential: %w", err)
	}
	return nil
}

// Remove deletes the record for deviceID.
func (s *SQLiteStore) Remove(ctx context.Context, deviceID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM credentials WHERE device_id = ?`, deviceID); err != nil {
		return fmt.Errorf("removing credential: %w", err)
	}
	return nil
}
