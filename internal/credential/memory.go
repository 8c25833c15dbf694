package credential

import (
	"context"
	"sync"
)

// MemoryStore keeps encoded credentials in a map. Records are stored
// encoded so corrupt payloads can be injected in tests.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string][]byte
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string][]byte)}
}

// Get returns the credential for deviceID.
func (s *MemoryStore) Get(_ context.Context, deviceID string) (Credential, error) {
	s.mu.RLock()
	data, ok := s.records[deviceID]
	s.mu.RUnlock()
	if !ok {
		return Credential{}, ErrNotFound
	}
	return Unmarshal(data)
}

// Set stores c for deviceID, replacing any previous record.
func (s *MemoryStore) Set(_ context.Context, deviceID string, c Credential) error {
	if deviceID == "" {
		return ErrInvalidDeviceID
	}
	data, err := c.Marshal()
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.records[deviceID] = data
	s.mu.Unlock()
	return nil
}

// Remove deletes the record for deviceID.
func (s *MemoryStore) Remove(_ context.Context, deviceID string) error {
	s.mu.Lock()
	delete(s.records, deviceID)
	s.mu.Unlock()
	return nil
}

// SetRaw stores an arbitrary payload, bypassing encoding.
func (s *MemoryStore) SetRaw(deviceID string, data []byte) {
	s.mu.Lock()
	s.records[deviceID] = append([]byte(nil), data...)
	s.mu.Unlock()
}
