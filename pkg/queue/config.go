package queue

import "time"

// Config holds the configuration for the queue manager and scheduler
type Config struct {
	DefaultQueue      string        `env:"QUEUE_DEFAULT" envDefault:"default"`
	MaxWorkers        int           `env:"QUEUE_MAX_WORKERS" envDefault:"1"`
	MemoryLimitMB     int           `env:"QUEUE_MEMORY_LIMIT" envDefault:"128"`
	Timeout           time.Duration `env:"QUEUE_TIMEOUT" envDefault:"300s"`
	Sleep             time.Duration `env:"QUEUE_SLEEP" envDefault:"3s"`
	MaxTries          int           `env:"QUEUE_MAX_TRIES" envDefault:"3"`
	RetryDelay        time.Duration `env:"QUEUE_RETRY_DELAY" envDefault:"60s"`
	SchedulerInterval time.Duration `env:"QUEUE_SCHEDULER_INTERVAL" envDefault:"30s"`
}

// Options converts the config into JobQueue options. Zero values are skipped.
func (c Config) Options() []Option {
	opts := make([]Option, 0, 4)
	if c.DefaultQueue != "" {
		opts = append(opts, WithDefaultQueue(c.DefaultQueue))
	}
	if c.Sleep > 0 {
		opts = append(opts, WithSleep(c.Sleep))
	}
	if c.MemoryLimitMB > 0 {
		opts = append(opts, WithMemoryLimit(c.MemoryLimitMB))
	}
	opts = append(opts, WithJobDefaults(JobDefaults{
		MaxRetries: c.MaxTries,
		RetryDelay: c.RetryDelay,
		Timeout:    c.Timeout,
	}))
	return opts
}
