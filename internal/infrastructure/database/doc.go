// Package database provides the SQLite connection for the daemon's local state.
//
// The database is local to the device and holds:
//   - the persisted sharing intent and radius selection (package localstate)
//   - the sharing transition journal (package audit)
//
// Migrations are embedded into the binary by the top-level migrations
// package and applied in version order at startup:
//
//	db, err := database.Open(ctx, database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
package database
