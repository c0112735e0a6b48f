package jobqueue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dmitrymomot/jobqueue/pkg/logger"
	"github.com/dmitrymomot/jobqueue/pkg/queue"
	"github.com/dmitrymomot/jobqueue/pkg/queue/database"
	"github.com/dmitrymomot/jobqueue/pkg/queue/redisstream"
)

// Jobs is the application entry point. It builds the configured driver, one
// JobQueue and one Scheduler on first use and shares them between callers.
type Jobs struct {
	cfg    Config
	logger *slog.Logger

	db            *sql.DB
	redis         redis.UniversalClient
	driver        queue.Driver
	factories     []queue.JobFactory
	queueOpts     []queue.Option
	schedulerOpts []queue.SchedulerOption

	registry *queue.Registry
	events   *queue.Events

	mu        sync.Mutex
	built     bool
	stopped   bool
	queue     *queue.JobQueue
	scheduler *queue.Scheduler
	health    func(context.Context) error
	closers   []func() error
	closed    atomic.Bool
}

// New creates a Jobs facade. Nothing is connected until the first call that
// needs the driver; a failed build is retried by the next call.
func New(cfg Config, opts ...Option) *Jobs {
	j := &Jobs{
		cfg:      cfg,
		logger:   slog.Default(),
		registry: queue.NewRegistry(),
	}
	for _, opt := range opts {
		opt(j)
	}
	j.events = queue.NewEvents(j.logger)
	return j
}

// Config returns the configuration Jobs was created with
func (j *Jobs) Config() Config { return j.cfg }

// Register makes job types known to the queue
func (j *Jobs) Register(factories ...queue.JobFactory) error {
	return j.registry.Register(factories...)
}

// Listen registers a listener for a lifecycle event
func (j *Jobs) Listen(name queue.EventName, fn queue.Listener) {
	j.events.Listen(name, fn)
}

// Queue returns the underlying queue, building it if needed
func (j *Jobs) Queue(ctx context.Context) (*queue.JobQueue, error) {
	if err := j.init(ctx); err != nil {
		return nil, err
	}
	return j.queue, nil
}

// Scheduler returns the underlying scheduler, building it if needed
func (j *Jobs) Scheduler(ctx context.Context) (*queue.Scheduler, error) {
	if err := j.init(ctx); err != nil {
		return nil, err
	}
	return j.scheduler, nil
}

// Dispatch pushes job for immediate execution and returns the envelope id
func (j *Jobs) Dispatch(ctx context.Context, job queue.Job, data any, opts ...queue.PushOption) (string, error) {
	if err := j.init(ctx); err != nil {
		return "", err
	}
	return j.queue.Push(ctx, job, data, opts...)
}

// DispatchLater pushes job so that it becomes available after delay
func (j *Jobs) DispatchLater(ctx context.Context, delay time.Duration, job queue.Job, data any, opts ...queue.PushOption) (string, error) {
	if err := j.init(ctx); err != nil {
		return "", err
	}
	return j.queue.Later(ctx, delay, job, data, opts...)
}

// ScheduleAt registers a one-shot entry due at at
func (j *Jobs) ScheduleAt(ctx context.Context, job queue.Job, at time.Time, data any, queueName string) (*queue.ScheduledJob, error) {
	if err := j.init(ctx); err != nil {
		return nil, err
	}
	return j.scheduler.At(job, at, data, queueName)
}

// ScheduleIn registers a one-shot entry due after d
func (j *Jobs) ScheduleIn(ctx context.Context, job queue.Job, d time.Duration, data any, queueName string) (*queue.ScheduledJob, error) {
	if err := j.init(ctx); err != nil {
		return nil, err
	}
	return j.scheduler.In(job, d, data, queueName)
}

// ScheduleEvery registers an entry repeating every d
func (j *Jobs) ScheduleEvery(ctx context.Context, job queue.Job, d time.Duration, data any, queueName string) (*queue.ScheduledJob, error) {
	if err := j.init(ctx); err != nil {
		return nil, err
	}
	return j.scheduler.Every(job, d, data, queueName)
}

// ScheduleDaily registers an entry repeating every day at clock ("HH:MM")
func (j *Jobs) ScheduleDaily(ctx context.Context, job queue.Job, clock string, data any, queueName string) (*queue.ScheduledJob, error) {
	if err := j.init(ctx); err != nil {
		return nil, err
	}
	return j.scheduler.Daily(job, clock, data, queueName)
}

// ScheduleWeekly registers an entry repeating every week on weekday at clock
func (j *Jobs) ScheduleWeekly(ctx context.Context, job queue.Job, weekday time.Weekday, clock string, data any, queueName string) (*queue.ScheduledJob, error) {
	if err := j.init(ctx); err != nil {
		return nil, err
	}
	return j.scheduler.Weekly(job, weekday, clock, data, queueName)
}

// ScheduleCron registers an entry following a standard cron expression
func (j *Jobs) ScheduleCron(ctx context.Context, job queue.Job, expr string, data any, queueName string) (*queue.ScheduledJob, error) {
	if err := j.init(ctx); err != nil {
		return nil, err
	}
	return j.scheduler.Cron(job, expr, data, queueName)
}

// Tick pushes every due scheduled entry once and returns how many were pushed
func (j *Jobs) Tick(ctx context.Context) (int, error) {
	if err := j.init(ctx); err != nil {
		return 0, err
	}
	return j.scheduler.Tick(ctx), nil
}

// RunScheduler ticks on the configured interval until ctx is done
func (j *Jobs) RunScheduler(ctx context.Context) error {
	if err := j.init(ctx); err != nil {
		return err
	}
	return j.scheduler.Run(ctx)
}

// Stats returns a snapshot of queueName; empty means all queues
func (j *Jobs) Stats(ctx context.Context, queueName string) (queue.Stats, error) {
	if err := j.init(ctx); err != nil {
		return queue.Stats{}, err
	}
	return j.queue.Stats(ctx, queueName)
}

// Clear removes every envelope of queueName
func (j *Jobs) Clear(ctx context.Context, queueName string) error {
	if err := j.init(ctx); err != nil {
		return err
	}
	return j.queue.Clear(ctx, queueName)
}

// FailedJobs lists archived failures, newest first
func (j *Jobs) FailedJobs(ctx context.Context, limit, offset int) ([]queue.FailedJob, error) {
	if err := j.init(ctx); err != nil {
		return nil, err
	}
	return j.queue.FailedJobs(ctx, limit, offset)
}

// Retry re-queues an archived failure and returns the new envelope id
func (j *Jobs) Retry(ctx context.Context, failedID string) (string, error) {
	if err := j.init(ctx); err != nil {
		return "", err
	}
	return j.queue.RetryFailed(ctx, failedID)
}

// Cleanup removes completed jobs and failure records older than days
func (j *Jobs) Cleanup(ctx context.Context, days int) (completed, failed int64, err error) {
	if err := j.init(ctx); err != nil {
		return 0, 0, err
	}
	return j.queue.Cleanup(ctx, days)
}

// Work runs a worker loop on queueName. See queue.JobQueue.Work.
// When StaleAfter is set, reservations older than it are released first.
func (j *Jobs) Work(ctx context.Context, queueName string, maxJobs int) error {
	if err := j.init(ctx); err != nil {
		return err
	}

	if j.cfg.StaleAfter > 0 {
		n, err := j.queue.ReleaseStale(ctx, j.cfg.StaleAfter)
		switch {
		case errors.Is(err, queue.ErrNotSupported):
		case err != nil:
			j.logger.WarnContext(ctx, "failed to release stale jobs", logger.Error(err))
		case n > 0:
			j.logger.InfoContext(ctx, "released stale jobs", slog.Int64("count", n))
		}
	}

	return j.queue.Work(ctx, queueName, maxJobs)
}

// Stop asks running worker loops to exit before their next job.
// A Stop issued before the queue is built applies once it is.
func (j *Jobs) Stop() {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.stopped = true
	if j.queue != nil {
		j.queue.Stop()
	}
}

// Resume clears a previous Stop so that Work can run again
func (j *Jobs) Resume() {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.stopped = false
	if j.queue != nil {
		j.queue.Resume()
	}
}

// Health checks the connection behind the driver
func (j *Jobs) Health(ctx context.Context) error {
	if err := j.init(ctx); err != nil {
		return err
	}
	j.mu.Lock()
	health := j.health
	j.mu.Unlock()

	if health == nil {
		return nil
	}
	return health(ctx)
}

// Close releases the driver and every connection Jobs opened itself
func (j *Jobs) Close() error {
	if !j.closed.CompareAndSwap(false, true) {
		return nil
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	var errs []error
	if j.queue != nil {
		errs = append(errs, j.queue.Close())
	}
	errs = append(errs, j.release())
	return errors.Join(errs...)
}

func (j *Jobs) init(ctx context.Context) error {
	if j.closed.Load() {
		return ErrClosed
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed.Load() {
		return ErrClosed
	}
	if j.built {
		return nil
	}
	if err := j.build(ctx); err != nil {
		if relErr := j.release(); relErr != nil {
			j.logger.WarnContext(ctx, "failed to release connections after build error", logger.Error(relErr))
		}
		return err
	}
	j.built = true
	return nil
}

// release closes every connection Jobs opened itself, newest first
func (j *Jobs) release() error {
	var errs []error
	for i := len(j.closers) - 1; i >= 0; i-- {
		errs = append(errs, j.closers[i]())
	}
	j.closers = nil
	j.health = nil
	return errors.Join(errs...)
}

func (j *Jobs) build(ctx context.Context) error {
	driver := j.driver
	if driver == nil {
		var err error
		if driver, err = j.buildDriver(ctx); err != nil {
			return err
		}
	}

	opts := append(j.cfg.Queue.Options(),
		queue.WithLogger(j.logger),
		queue.WithRegistry(j.registry),
		queue.WithEvents(j.events))
	q, err := queue.New(driver, append(opts, j.queueOpts...)...)
	if err != nil {
		return err
	}
	if err := q.Register(j.factories...); err != nil {
		return err
	}

	schedOpts := []queue.SchedulerOption{queue.WithSchedulerLogger(j.logger)}
	if j.cfg.Queue.SchedulerInterval > 0 {
		schedOpts = append(schedOpts, queue.WithCheckInterval(j.cfg.Queue.SchedulerInterval))
	}
	s, err := queue.NewScheduler(q, append(schedOpts, j.schedulerOpts...)...)
	if err != nil {
		return err
	}

	if j.stopped {
		q.Stop()
	}
	j.queue = q
	j.scheduler = s
	return nil
}

func (j *Jobs) buildDriver(ctx context.Context) (queue.Driver, error) {
	switch strings.ToLower(strings.TrimSpace(j.cfg.Driver)) {
	case DriverMemory:
		return queue.NewMemoryDriver(), nil
	case DriverDatabase, "":
		return j.databaseDriver(ctx)
	case DriverRedis:
		return j.redisDriver(ctx)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, j.cfg.Driver)
}

func (j *Jobs) databaseDriver(ctx context.Context) (queue.Driver, error) {
	cfg := j.cfg.Database
	if cfg.Dialect == "" {
		cfg.Dialect = string(database.DialectPostgres)
	}

	dialect, err := database.ParseDialect(cfg.Dialect)
	if err != nil {
		return nil, err
	}

	db := j.db
	if db == nil {
		conn, err := database.Open(ctx, cfg)
		if err != nil {
			return nil, err
		}
		j.closers = append(j.closers, conn.Close)
		db = conn.DB
	}

	if cfg.AutoMigrate {
		if err := database.Migrate(ctx, db, dialect, cfg.MigrationsTable, j.logger); err != nil {
			return nil, err
		}
	}

	opts, err := database.FromConfig(cfg)
	if err != nil {
		return nil, err
	}
	j.health = database.Healthcheck(db)
	return database.New(db, opts...)
}

func (j *Jobs) redisDriver(ctx context.Context) (queue.Driver, error) {
	cfg := j.cfg.Redis

	client := j.redis
	if client == nil {
		c, err := redisstream.Connect(ctx, cfg)
		if err != nil {
			return nil, err
		}
		j.closers = append(j.closers, c.Close)
		client = c
	}

	opts, err := redisstream.FromConfig(cfg)
	if err != nil {
		return nil, err
	}
	j.health = redisstream.Healthcheck(client)
	return redisstream.New(client, append(opts, redisstream.WithLogger(j.logger))...)
}
