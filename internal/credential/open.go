package credential

import (
	"database/sql"
	"fmt"
	"io"

	"github.com/founek2/IOT-Platforma-zigbee/internal/infrastructure/config"
)

// Open builds the store selected by cfg.Backend. db is required for the
// sqlite backend and ignored otherwise. The returned closer releases
// backend-owned resources and is never nil.
func Open(cfg config.CredentialsConfig, db *sql.DB) (Store, io.Closer, error) {
	switch cfg.Backend {
	case "sqlite", "":
		if db == nil {
			return nil, nil, fmt.Errorf("credential: sqlite backend requires a database")
		}
		return NewSQLiteStore(db), nopCloser{}, nil
	case "bolt":
		s, err := NewBoltStore(cfg.BoltPath)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	case "memory":
		return NewMemoryStore(), nopCloser{}, nil
	default:
		return nil, nil, fmt.Errorf("credential: unknown backend %q", cfg.Backend)
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
