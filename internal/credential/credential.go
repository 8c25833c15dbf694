package credential

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Domain errors for the credential package.
var (
	// ErrNotFound is returned when no record exists for the device.
	ErrNotFound = errors.New("credential: not found")

	// ErrCorrupt is returned when a stored record cannot be decoded.
	ErrCorrupt = errors.New("credential: corrupt record")

	// ErrInvalidDeviceID is returned for an empty device id.
	ErrInvalidDeviceID = errors.New("credential: invalid device id")
)

// Credential is the persisted pairing result for one device.
type Credential struct {
	APIKey string `json:"apiKey"`
}

// Marshal encodes the credential as {"apiKey":"..."}.
func (c Credential) Marshal() ([]byte, error) {
	return json.Marshal(c)
}

// Unmarshal decodes a stored record. Invalid JSON and an empty apiKey both
// yield ErrCorrupt.
func Unmarshal(data []byte) (Credential, error) {
	var c Credential
	if err := json.Unmarshal(data, &c); err != nil {
		return Credential{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if c.APIKey == "" {
		return Credential{}, fmt.Errorf("%w: empty apiKey", ErrCorrupt)
	}
	return c, nil
}

// Store persists one credential per device id.
//
// Remove on a missing key is not an error.
type Store interface {
	Get(ctx context.Context, deviceID string) (Credential, error)
	Set(ctx context.Context, deviceID string, c Credential) error
	Remove(ctx context.Context, deviceID string) error
}
