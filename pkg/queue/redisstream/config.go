package redisstream

import "time"

// Config holds connection and consumer settings for the Redis Streams driver
type Config struct {
	ConnectionURL  string        `env:"QUEUE_REDIS_URL" envDefault:"redis://localhost:6379/0"` // ConnectionURL is the URL of the server, e.g. "redis://:password@localhost:6379/0".
	RetryAttempts  int           `env:"QUEUE_REDIS_RETRY_ATTEMPTS" envDefault:"3"`             // RetryAttempts is the number of attempts to connect.
	RetryInterval  time.Duration `env:"QUEUE_REDIS_RETRY_INTERVAL" envDefault:"5s"`            // RetryInterval is the pause between connection attempts.
	ConnectTimeout time.Duration `env:"QUEUE_REDIS_CONNECT_TIMEOUT" envDefault:"30s"`          // ConnectTimeout bounds the whole connection phase.

	GroupID         string        `env:"QUEUE_REDIS_GROUP_ID" envDefault:"jobqueue"`          // GroupID is the consumer group shared by all workers.
	TopicPrefix     string        `env:"QUEUE_REDIS_TOPIC_PREFIX" envDefault:"jobqueue:"`     // TopicPrefix is prepended to the queue name to form the stream key.
	AutoOffsetReset string        `env:"QUEUE_REDIS_AUTO_OFFSET_RESET" envDefault:"earliest"` // AutoOffsetReset is "earliest" or "latest" for newly created groups.
	TimeoutMS       int           `env:"QUEUE_REDIS_TIMEOUT_MS" envDefault:"1000"`            // TimeoutMS is how long Pop blocks waiting for new messages.
	ClaimIdle       time.Duration `env:"QUEUE_REDIS_CLAIM_IDLE" envDefault:"5m"`              // ClaimIdle is the idle time after which messages of other consumers are claimed.
	DeadLetter      string        `env:"QUEUE_REDIS_DEAD_LETTER" envDefault:"dead-letter"`    // DeadLetter is the stream suffix exhausted jobs are published to. Empty disables it.
}
