// Package database provides SQLite connectivity for growrack-core.
//
// One file holds rules, racks, the automation event audit trail and
// dispatch failures. Schema changes are versioned migrations read from any
// fs.FS, normally the embedded migrations package.
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//
// Migration files are additive: new columns must be nullable or carry a
// default, and every .up.sql has a matching .down.sql.
package database
