package credential

import (
	"context"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

// credentialsBucket holds one key per device id.
const credentialsBucket = "credentials"

// BoltStore is a bbolt implementation of Store.
type BoltStore struct {
	db *bbolt.DB
}

// NewBoltStore opens (or creates) the bbolt file at path.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(credentialsBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create credentials bucket: %w", err)
	}

	return &BoltStore{db: db}, nil
}

// Get returns the credential for deviceID.
func (s *BoltStore) Get(_ context.Context, deviceID string) (Credential, error) {
	var data []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket([]byte(credentialsBucket)).Get([]byte(deviceID))
		if v == nil {
			return ErrNotFound
		}
		// v is only valid inside the transaction.
		data = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return Credential{}, err
	}
	return Unmarshal(data)
}

// Set stores c for deviceID.
func (s *BoltStore) Set(_ context.Context, deviceID string, c Credential) error {
	if deviceID == "" {
		return ErrInvalidDeviceID
	}
	data, err := c.Marshal()
	if err != nil {
		return fmt.Errorf("encoding credential: %w", err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(credentialsBucket)).Put([]byte(deviceID), data)
	})
}

// Remove deletes the record for deviceID.
func (s *BoltStore) Remove(_ context.Context, deviceID string) error {
	if deviceID == "" {
		return nil
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(credentialsBucket)).Delete([]byte(deviceID))
	})
}

// Close closes the underlying bbolt file.
func (s *BoltStore) Close() error {
	return s.db.Close()
}
