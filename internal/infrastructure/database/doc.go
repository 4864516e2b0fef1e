// Package database provides SQLite connection management and schema
// migrations for the device identity store.
//
// # Connection Management
//
// The DB type wraps database/sql with SQLite-specific configuration:
// WAL journal mode for concurrent reads, busy timeout handling, and a
// single writer connection (SQLite serialises writes anyway; a pool of
// one avoids SQLITE_BUSY churn).
//
// # Migrations
//
// Schema migrations are embedded in the binary via the migrations
// package and applied at startup. Each migration runs in its own
// transaction; a failed migration rolls back and stops the run, so a
// re-run after fixing the problem continues where it left off. Applied
// versions are tracked in the schema_migrations table.
//
// Migration files follow the naming convention
// YYYYMMDD_HHMMSS_description.up.sql (with an optional matching
// .down.sql for rollback).
//
// # Usage
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path, WALMode: true, BusyTimeout: 5000})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
package database
