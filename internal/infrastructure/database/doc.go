// Package database provides SQLite persistence for Tile Core.
//
// It wraps database/sql with lifecycle management, health checks, and an
// embedded migration runner. The database stores the entity registry:
// the mapping between registered tracker entities and their unique IDs.
//
// # Usage
//
//	db, err := database.Open(database.Config{
//	    Path:        "./data/tilecore.db",
//	    WALMode:     true,
//	    BusyTimeout: 5,
//	})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// # Concurrency
//
// SQLite supports one writer at a time. The connection pool is limited to
// a single connection; WAL mode allows concurrent reads during writes.
package database
