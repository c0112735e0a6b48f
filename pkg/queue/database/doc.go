// Package database implements queue.Driver on a relational table through
// database/sql. PostgreSQL is reached through pgx (pgxpool bridged with
// stdlib.OpenDBFromPool) and MySQL through go-sql-driver/mysql.
//
// Pop runs in a transaction: it selects the oldest available pending row with
// FOR UPDATE SKIP LOCKED, then flips it to processing with an UPDATE guarded on
// the pending status. Zero affected rows means another worker won and Pop
// returns nil. MarkFailed updates the row and inserts the failed_jobs archive
// record in one transaction.
//
// Usage:
//
//	conn, err := database.Open(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer conn.Close()
//
//	if err := database.Migrate(ctx, conn.DB, conn.Dialect, cfg.MigrationsTable, slog.Default()); err != nil {
//		return err
//	}
//
//	opts, _ := database.FromConfig(cfg)
//	driver, _ := database.New(conn.DB, opts...)
//	q, _ := queue.New(driver)
//
// MySQL needs version 8.0 or newer for SKIP LOCKED.
package database
