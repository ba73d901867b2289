// Package database provides SQLite connectivity for SmartAC Core.
//
// It wraps database/sql with connection configuration (WAL mode, busy
// timeout, single-writer pool sizing), health checks, and a versioned
// migration runner driven by SQL files embedded via the migrations
// package.
//
// # Usage
//
//	db, err := database.Open(ctx, database.Config{Path: "data/smartac.db", WALMode: true, BusyTimeout: 5})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
package database
