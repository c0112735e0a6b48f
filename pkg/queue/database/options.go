package database

import "time"

// Option is a functional option for configuring the driver
type Option func(*options)

type options struct {
	dialect     Dialect
	table       string
	failedTable string
	now         func() time.Time
	newID       func() string
}

// WithDialect sets the SQL dialect (postgres by default)
func WithDialect(d Dialect) Option {
	return func(o *options) {
		if d != "" {
			o.dialect = d
		}
	}
}

// WithTables overrides the envelope and failure archive table names
func WithTables(table, failedTable string) Option {
	return func(o *options) {
		if table != "" {
			o.table = table
		}
		if failedTable != "" {
			o.failedTable = failedTable
		}
	}
}

// WithClock overrides time.Now, mostly for tests
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithIDGenerator overrides archive record id generation
func WithIDGenerator(fn func() string) Option {
	return func(o *options) {
		if fn != nil {
			o.newID = fn
		}
	}
}

// FromConfig returns the options described by cfg
func FromConfig(cfg Config) ([]Option, error) {
	dialect, err := ParseDialect(cfg.Dialect)
	if err != nil {
		return nil, err
	}
	return []Option{
		WithDialect(dialect),
		WithTables(cfg.Table, cfg.FailedTable),
	}, nil
}
