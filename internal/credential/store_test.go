package credential

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/founek2/IOT-Platforma-zigbee/internal/infrastructure/config"
	"github.com/founek2/IOT-Platforma-zigbee/internal/infrastructure/database"
	_ "github.com/founek2/IOT-Platforma-zigbee/migrations"
)

// storeFactories returns one fresh instance of every backend.
func storeFactories(t *testing.T) map[string]func(t *testing.T) Store {
	t.Helper()
	return map[string]func(t *testing.T) Store{
		"memory": func(_ *testing.T) Store { return NewMemoryStore() },
		"sqlite": func(t *testing.T) Store {
			db, err := database.Open(config.DatabaseConfig{Path: filepath.Join(t.TempDir(), "bridge.db"), BusyTimeout: 1})
			if err != nil {
				t.Fatalf("database.Open: %v", err)
			}
			t.Cleanup(func() { db.Close() })
			if err := db.Migrate(context.Background()); err != nil {
				t.Fatalf("Migrate: %v", err)
			}
			return NewSQLiteStore(db.DB)
		},
		"bolt": func(t *testing.T) Store {
			s, err := NewBoltStore(filepath.Join(t.TempDir(), "creds.bolt"))
			if err != nil {
				t.Fatalf("NewBoltStore: %v", err)
			}
			t.Cleanup(func() { s.Close() })
			return s
		},
	}
}

func TestStore_Contract(t *testing.T) {
	ctx := context.Background()

	for name, newStore := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := newStore(t)

			t.Run("absent record", func(t *testing.T) {
				if _, err := s.Get(ctx, "0x0001"); !errors.Is(err, ErrNotFound) {
					t.Errorf("Get() error = %v, want ErrNotFound", err)
				}
			})

			t.Run("round trip", func(t *testing.T) {
				if err := s.Set(ctx, "0x0001", Credential{APIKey: "secret123"}); err != nil {
					t.Fatalf("Set() error = %v", err)
				}
				got, err := s.Get(ctx, "0x0001")
				if err != nil {
					t.Fatalf("Get() error = %v", err)
				}
				if got.APIKey != "secret123" {
					t.Errorf("APIKey = %q, want %q", got.APIKey, "secret123")
				}
			})

			t.Run("overwrite", func(t *testing.T) {
				if err := s.Set(ctx, "0x0001", Credential{APIKey: "rotated"}); err != nil {
					t.Fatalf("Set() error = %v", err)
				}
				got, _ := s.Get(ctx, "0x0001")
				if got.APIKey != "rotated" {
					t.Errorf("APIKey = %q, want rotated", got.APIKey)
				}
			})

			t.Run("keys are independent", func(t *testing.T) {
				if _, err := s.Get(ctx, "0x0002"); !errors.Is(err, ErrNotFound) {
					t.Errorf("Get(other) error = %v, want ErrNotFound", err)
				}
			})

			t.Run("remove is idempotent", func(t *testing.T) {
				for i := 0; i < 3; i++ {
					if err := s.Remove(ctx, "0x0001"); err != nil {
						t.Fatalf("Remove() #%d error = %v", i, err)
					}
					if _, err := s.Get(ctx, "0x0001"); !errors.Is(err, ErrNotFound) {
						t.Errorf("Get() after Remove #%d error = %v, want ErrNotFound", i, err)
					}
				}
			})

			t.Run("empty device id", func(t *testing.T) {
				if err := s.Set(ctx, "", Credential{APIKey: "x"}); !errors.Is(err, ErrInvalidDeviceID) {
					t.Errorf("Set(\"\") error = %v, want ErrInvalidDeviceID", err)
				}
			})
		})
	}
}

func TestUnmarshal(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		want    string
		wantErr error
	}{
		{"valid", `{"apiKey":"abc"}`, "abc", nil},
		{"extra fields ignored", `{"apiKey":"abc","other":1}`, "abc", nil},
		{"invalid json", `{apiKey`, "", ErrCorrupt},
		{"empty key", `{"apiKey":""}`, "", ErrCorrupt},
		{"missing key", `{}`, "", ErrCorrupt},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Unmarshal([]byte(tt.data))
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Unmarshal() error = %v, want %v", err, tt.wantErr)
			}
			if got.APIKey != tt.want {
				t.Errorf("APIKey = %q, want %q", got.APIKey, tt.want)
			}
		})
	}
}

func TestMarshal_Format(t *testing.T) {
	data, err := Credential{APIKey: "secret123"}.Marshal()
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if string(data) != `{"apiKey":"secret123"}` {
		t.Errorf("Marshal() = %s", data)
	}
}

func TestMemoryStore_Corrupt(t *testing.T) {
	s := NewMemoryStore()
	s.SetRaw("0x0001", []byte("not json"))

	_, err := s.Get(context.Background(), "0x0001")
	if !errors.Is(err, ErrCorrupt) {
		t.Errorf("Get() error = %v, want ErrCorrupt", err)
	}
	if errors.Is(err, ErrNotFound) {
		t.Error("corrupt record must not report ErrNotFound")
	}
}

func TestSQLiteStore_Corrupt(t *testing.T) {
	newStore := storeFactories(t)["sqlite"]
	s := newStore(t).(*SQLiteStore)
	ctx := context.Background()

	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO credentials (device_id, payload, updated_at) VALUES ('0x0001', '{broken', '2026-01-01T00:00:00Z')`,
	); err != nil {
		t.Fatalf("seeding corrupt row: %v", err)
	}

	if _, err := s.Get(ctx, "0x0001"); !errors.Is(err, ErrCorrupt) {
		t.Errorf("Get() error = %v, want ErrCorrupt", err)
	}
}

func TestBoltStore_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "creds.bolt")
	ctx := context.Background()

	s, err := NewBoltStore(path)
	if err != nil {
		t.Fatalf("NewBoltStore() error = %v", err)
	}
	if err := s.Set(ctx, "0x0001", Credential{APIKey: "persisted"}); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	s.Close()

	s, err = NewBoltStore(path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer s.Close()
	got, err := s.Get(ctx, "0x0001")
	if err != nil || got.APIKey != "persisted" {
		t.Errorf("Get() after reopen = %+v, %v", got, err)
	}
}

func TestOpen(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.CredentialsConfig
		wantErr bool
	}{
		{"memory", config.CredentialsConfig{Backend: "memory"}, false},
		{"bolt", config.CredentialsConfig{Backend: "bolt", BoltPath: filepath.Join(t.TempDir(), "c.bolt")}, false},
		{"sqlite without db", config.CredentialsConfig{Backend: "sqlite"}, true},
		{"unknown", config.CredentialsConfig{Backend: "etcd"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, closer, err := Open(tt.cfg, nil)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Open() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			defer closer.Close()
			if store == nil {
				t.Error("Open() returned nil store")
			}
		})
	}
}
