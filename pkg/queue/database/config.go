package database

import "time"

// Config holds connection and schema settings for the database driver.
// MySQL DSNs get parseTime=true forced on, so timestamps scan into time.Time.
type Config struct {
	Dialect     string `env:"QUEUE_DB_DIALECT" envDefault:"postgres"`         // Dialect is either "postgres" or "mysql".
	DSN         string `env:"QUEUE_DB_DSN"`                                   // DSN is the connection string to the database.
	Table       string `env:"QUEUE_DB_TABLE" envDefault:"jobs"`               // Table stores envelopes.
	FailedTable string `env:"QUEUE_DB_FAILED_TABLE" envDefault:"failed_jobs"` // FailedTable stores the failure archive.

	MaxOpenConns      int32         `env:"QUEUE_DB_MAX_OPEN_CONNS" envDefault:"10"`      // MaxOpenConns is the maximum number of open connections to the database.
	MaxIdleConns      int32         `env:"QUEUE_DB_MAX_IDLE_CONNS" envDefault:"2"`       // MaxIdleConns is the maximum number of idle connections to the database.
	HealthCheckPeriod time.Duration `env:"QUEUE_DB_HEALTHCHECK_PERIOD" envDefault:"1m"`  // HealthCheckPeriod is the period between health checks (postgres only).
	MaxConnIdleTime   time.Duration `env:"QUEUE_DB_MAX_CONN_IDLE_TIME" envDefault:"10m"` // MaxConnIdleTime is the maximum amount of time a connection may be idle to be reused.
	MaxConnLifetime   time.Duration `env:"QUEUE_DB_MAX_CONN_LIFETIME" envDefault:"30m"`  // MaxConnLifetime is the maximum amount of time a connection may be reused.

	RetryAttempts int           `env:"QUEUE_DB_RETRY_ATTEMPTS" envDefault:"3"`  // RetryAttempts is the number of attempts to connect to the database.
	RetryInterval time.Duration `env:"QUEUE_DB_RETRY_INTERVAL" envDefault:"5s"` // RetryInterval is the base interval between connection attempts.

	AutoMigrate     bool   `env:"QUEUE_DB_AUTO_MIGRATE" envDefault:"false"`                   // AutoMigrate applies the embedded migrations on startup.
	MigrationsTable string `env:"QUEUE_DB_MIGRATIONS_TABLE" envDefault:"jobqueue_migrations"` // MigrationsTable is the name of the goose version table.
}
