// Package database provides SQLite connectivity for the BLE link manager.
//
// The database holds the key-value table that backs the persisted saved
// list, plus the schema_migrations bookkeeping table.
//
// This package manages:
//   - Connection setup with WAL mode and a busy timeout
//   - Forward and reverse schema migrations
//   - A single-writer connection pool
//
// Usage:
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// Migration files live in the top-level migrations package, which embeds
// them and registers the filesystem with MigrationsFS at init.
package database
