// Package credential persists the apiKey each virtual device receives when
// it is paired with the platform.
//
// A device has at most one Credential, keyed by its device id. Absence of a
// record means the device is unpaired. Readers distinguish a missing record
// (ErrNotFound) from one that exists but cannot be decoded (ErrCorrupt).
//
// Backends:
//   - SQLiteStore: default, shares the bridge database
//   - BoltStore:   standalone bbolt file
//   - MemoryStore: process lifetime only, used in tests
package credential
