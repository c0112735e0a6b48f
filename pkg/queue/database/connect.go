package database

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
)

// Connection is an open database handle plus the pool behind it, if any
type Connection struct {
	DB      *sql.DB
	Dialect Dialect

	pool *pgxpool.Pool
}

// Close closes the handle and the underlying pool
func (c *Connection) Close() error {
	err := c.DB.Close()
	if c.pool != nil {
		c.pool.Close()
	}
	return err
}

// Open connects to the database described by cfg, retrying with a linearly
// growing pause so workers survive a database that starts after them.
func Open(ctx context.Context, cfg Config) (*Connection, error) {
	if cfg.DSN == "" {
		return nil, ErrEmptyDSN
	}

	dialect, err := ParseDialect(cfg.Dialect)
	if err != nil {
		return nil, err
	}

	switch dialect {
	case DialectMySQL:
		return openMySQL(ctx, cfg)
	default:
		return openPostgres(ctx, cfg)
	}
}

func openPostgres(ctx context.Context, cfg Config) (*Connection, error) {
	connConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, errors.Join(ErrFailedToParseDBConfig, err)
	}
	connConfig.MaxConns = cfg.MaxOpenConns
	connConfig.MinConns = cfg.MaxIdleConns
	connConfig.HealthCheckPeriod = cfg.HealthCheckPeriod
	connConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	connConfig.MaxConnLifetime = cfg.MaxConnLifetime

	var lastErr error
	for i := range attempts(cfg) {
		pool, err := pgxpool.NewWithConfig(ctx, connConfig)
		if err != nil {
			lastErr = err
			if !pause(ctx, i, cfg.RetryInterval) {
				break
			}
			continue
		}

		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			lastErr = err
			if !pause(ctx, i, cfg.RetryInterval) {
				break
			}
			continue
		}

		return &Connection{
			DB:      stdlib.OpenDBFromPool(pool),
			Dialect: DialectPostgres,
			pool:    pool,
		}, nil
	}

	return nil, errors.Join(ErrFailedToOpenDBConnection, lastErr)
}

func openMySQL(ctx context.Context, cfg Config) (*Connection, error) {
	mycfg, err := mysql.ParseDSN(cfg.DSN)
	if err != nil {
		return nil, errors.Join(ErrFailedToParseDBConfig, err)
	}
	mycfg.ParseTime = true
	mycfg.Loc = time.UTC

	connector, err := mysql.NewConnector(mycfg)
	if err != nil {
		return nil, errors.Join(ErrFailedToParseDBConfig, err)
	}

	db := sql.OpenDB(connector)
	db.SetMaxOpenConns(int(cfg.MaxOpenConns))
	db.SetMaxIdleConns(int(cfg.MaxIdleConns))
	db.SetConnMaxIdleTime(cfg.MaxConnIdleTime)
	db.SetConnMaxLifetime(cfg.MaxConnLifetime)

	var lastErr error
	for i := range attempts(cfg) {
		if lastErr = db.PingContext(ctx); lastErr == nil {
			return &Connection{DB: db, Dialect: DialectMySQL}, nil
		}
		if !pause(ctx, i, cfg.RetryInterval) {
			break
		}
	}

	_ = db.Close()
	return nil, errors.Join(ErrFailedToOpenDBConnection, lastErr)
}

func attempts(cfg Config) int {
	if cfg.RetryAttempts < 1 {
		return 1
	}
	return cfg.RetryAttempts
}

// pause waits (i+1)*interval. Returns false if ctx ended first.
func pause(ctx context.Context, i int, interval time.Duration) bool {
	t := time.NewTimer(time.Duration(i+1) * interval)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
