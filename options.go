package jobqueue

import (
	"database/sql"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/dmitrymomot/jobqueue/pkg/queue"
)

// Option is a functional option for configuring Jobs
type Option func(*Jobs)

// WithDB makes the database driver use an existing handle instead of opening
// one from Config.Database. The handle is not closed by Jobs.
func WithDB(db *sql.DB) Option {
	return func(j *Jobs) {
		j.db = db
	}
}

// WithRedis makes the redis driver use an existing client. The client is not
// closed by Jobs.
func WithRedis(client redis.UniversalClient) Option {
	return func(j *Jobs) {
		j.redis = client
	}
}

// WithDriver bypasses Config.Driver and uses d directly
func WithDriver(d queue.Driver) Option {
	return func(j *Jobs) {
		j.driver = d
	}
}

// WithLogger sets the logger shared by the queue, the scheduler and the driver
func WithLogger(logger *slog.Logger) Option {
	return func(j *Jobs) {
		if logger != nil {
			j.logger = logger
		}
	}
}

// WithJobs registers job factories when the queue is built
func WithJobs(factories ...queue.JobFactory) Option {
	return func(j *Jobs) {
		j.factories = append(j.factories, factories...)
	}
}

// WithQueueOptions passes extra options to queue.New
func WithQueueOptions(opts ...queue.Option) Option {
	return func(j *Jobs) {
		j.queueOpts = append(j.queueOpts, opts...)
	}
}

// WithSchedulerOptions passes extra options to queue.NewScheduler
func WithSchedulerOptions(opts ...queue.SchedulerOption) Option {
	return func(j *Jobs) {
		j.schedulerOpts = append(j.schedulerOpts, opts...)
	}
}
