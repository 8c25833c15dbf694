package platform

import "errors"

// Domain errors for the platform package.
var (
	// ErrBadCredentials is returned by a SessionFactory (or reported through
	// SessionOptions.OnError) when the broker rejects the identity or secret.
	ErrBadCredentials = errors.New("platform: bad credentials")

	// ErrNoSession is returned when a publish is attempted without a live session.
	ErrNoSession = errors.New("platform: no active session")

	// ErrPropertyNotFound is returned when no node owns the requested property id.
	ErrPropertyNotFound = errors.New("platform: property not found")

	// ErrDuplicateProperty is returned when two nodes share a property id.
	ErrDuplicateProperty = errors.New("platform: duplicate property id")

	// ErrDuplicateNode is returned when a node id is reused.
	ErrDuplicateNode = errors.New("platform: duplicate node id")

	// ErrInvalidID is returned for empty ids or ids containing topic separators.
	ErrInvalidID = errors.New("platform: invalid id")

	// ErrInvalidValue is returned for unknown status or command payloads.
	ErrInvalidValue = errors.New("platform: invalid value")

	// ErrInvalidOptions is returned by New for incomplete options.
	ErrInvalidOptions = errors.New("platform: invalid options")
)
