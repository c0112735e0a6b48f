package jobqueue

import (
	"time"

	"github.com/dmitrymomot/jobqueue/pkg/queue"
	"github.com/dmitrymomot/jobqueue/pkg/queue/database"
	"github.com/dmitrymomot/jobqueue/pkg/queue/redisstream"
)

// Driver names accepted by Config.Driver
const (
	DriverDatabase = "database"
	DriverRedis    = "redis"
	DriverMemory   = "memory"
)

// Config selects and configures the driver behind Jobs. Nested structs are
// parsed from their own QUEUE_DB_* and QUEUE_REDIS_* variables.
type Config struct {
	Driver     string        `env:"QUEUE_DRIVER" envDefault:"database"` // Driver is one of database, redis or memory.
	StaleAfter time.Duration `env:"QUEUE_STALE_AFTER" envDefault:"0"`   // StaleAfter releases reservations older than this on startup; zero disables it.

	Queue    queue.Config
	Database database.Config
	Redis    redisstream.Config
}
