package database

import "errors"

var (
	ErrDBNil                    = errors.New("database handle cannot be nil")
	ErrEmptyDSN                 = errors.New("empty database connection string, use QUEUE_DB_DSN env var")
	ErrUnknownDialect           = errors.New("unknown sql dialect")
	ErrInvalidTableName         = errors.New("invalid table name")
	ErrFailedToParseDBConfig    = errors.New("failed to parse db config")
	ErrFailedToOpenDBConnection = errors.New("failed to open db connection")
	ErrHealthcheckFailed        = errors.New("healthcheck failed, connection is not available")
	ErrFailedToApplyMigrations  = errors.New("failed to apply migrations")
	ErrJobNotFound              = errors.New("job not found")
)
