// Package database provides SQLite connectivity for the bridged journal.
//
// This package manages:
//   - Opening the database file with WAL mode and a busy timeout
//   - Applying versioned migrations from an fs.FS
//   - Single-writer connection pooling
//
// All queries use parameterised statements. The database file is created
// with 0600 permissions.
//
// Usage:
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    log.Fatal(err)
//	}
//
// Migration files are named YYYYMMDD_HHMMSS_description.up.sql with an
// optional matching .down.sql, and are additive-only.
package database
