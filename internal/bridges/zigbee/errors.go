package zigbee

import "errors"

// Domain errors for the zigbee dispatcher.
var (
	// ErrInvalidOptions is returned by New when a required option is missing.
	ErrInvalidOptions = errors.New("zigbee: invalid options")

	// ErrMalformedPayload is returned when a zigbee2mqtt message cannot be
	// decoded. The message is dropped.
	ErrMalformedPayload = errors.New("zigbee: malformed payload")

	// ErrNotStarted is returned when gateway traffic arrives before Start.
	ErrNotStarted = errors.New("zigbee: dispatcher not started")
)
