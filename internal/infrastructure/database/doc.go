// Package database provides SQLite connectivity for the zigbee bridge.
//
// The bridge stores one credential row per paired device. The schema is
// created by embedded migrations (see the top-level migrations package).
//
// Usage:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    log.Fatal(err)
//	}
package database
