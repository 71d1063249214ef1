// Package database provides SQLite connectivity for fleetwatch.
//
// This package manages:
//   - The connection, with WAL mode so API reads run alongside ingestion writes
//   - Embedded schema migrations with per-migration transactions
//   - The fixed-width UTC timestamp format shared by every repository
//
// All queries in the repositories use parameterised statements. The database
// file is created with 0600 permissions.
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{
//	    Path:        cfg.Database.Path,
//	    WALMode:     cfg.Database.WALMode,
//	    BusyTimeout: cfg.Database.BusyTimeout,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    log.Fatal(err)
//	}
package database
