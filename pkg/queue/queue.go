package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/jobqueue/pkg/logger"
)

// JobQueue owns a driver and runs the push / pop / execute / retry / fail cycle
type JobQueue struct {
	driver   Driver
	registry *Registry
	events   *Events
	logger   *slog.Logger

	defaultQueue  string
	sleep         time.Duration
	memoryLimitMB int
	jobDefaults   JobDefaults

	now         func() time.Time
	memoryUsage func() uint64
	newID       func() string

	stopping atomic.Bool
}

// New creates a new JobQueue backed by driver
func New(driver Driver, opts ...Option) (*JobQueue, error) {
	if driver == nil {
		return nil, ErrDriverNil
	}

	options := &options{
		defaultQueue:  DefaultQueueName,
		sleep:         3 * time.Second,
		memoryLimitMB: 128,
		logger:        slog.Default(),
		now:           time.Now,
		memoryUsage:   heapInUse,
		newID:         uuid.NewString,
	}

	for _, opt := range opts {
		opt(options)
	}

	if options.registry == nil {
		options.registry = NewRegistry()
	}
	if options.events == nil {
		options.events = NewEvents(options.logger)
	}
	if options.jobDefaults.Queue == "" {
		options.jobDefaults.Queue = options.defaultQueue
	}

	return &JobQueue{
		driver:        driver,
		registry:      options.registry,
		events:        options.events,
		logger:        options.logger,
		defaultQueue:  options.defaultQueue,
		sleep:         options.sleep,
		memoryLimitMB: options.memoryLimitMB,
		jobDefaults:   options.jobDefaults,
		now:           options.now,
		memoryUsage:   options.memoryUsage,
		newID:         options.newID,
	}, nil
}

// Register makes job types known to this queue so they can be pushed and reconstructed
func (q *JobQueue) Register(factories ...JobFactory) error {
	return q.registry.Register(factories...)
}

// Registry returns the job registry used by the queue
func (q *JobQueue) Registry() *Registry { return q.registry }

// Driver returns the underlying driver
func (q *JobQueue) Driver() Driver { return q.driver }

// DefaultQueue returns the queue used when nothing else names one
func (q *JobQueue) DefaultQueue() string { return q.defaultQueue }

// Listen registers a listener for a lifecycle event
func (q *JobQueue) Listen(name EventName, fn Listener) {
	q.events.Listen(name, fn)
}

// Push stores a new envelope for job and returns its id.
// Jobs whose type is not registered are rejected before the driver is touched.
func (q *JobQueue) Push(ctx context.Context, job Job, data any, opts ...PushOption) (string, error) {
	if job == nil {
		return "", ErrJobNil
	}

	jobType := TypeOf(job)
	if !q.registry.Has(jobType) {
		return "", fmt.Errorf("%w: %s", ErrJobNotRegistered, jobType)
	}
	q.prepare(job)

	options := &pushOptions{queue: job.Queue()}
	for _, opt := range opts {
		opt(options)
	}
	if options.queue == "" {
		options.queue = q.defaultQueue
	}

	payload, err := marshalData(data)
	if err != nil {
		return "", err
	}

	now := q.now()
	env := &Envelope{
		ID:          q.newID(),
		Queue:       options.queue,
		JobType:     jobType,
		JobName:     JobName(job),
		Data:        payload,
		Attempts:    0,
		MaxRetries:  job.MaxRetries(),
		Timeout:     int(job.Timeout() / time.Second),
		Status:      StatusPending,
		CreatedAt:   now,
		AvailableAt: now.Add(options.delay),
	}

	q.events.Emit(ctx, Event{Name: EventJobQueuing, Envelope: env, Queue: env.Queue})

	if err := q.driver.Push(ctx, env); err != nil {
		q.logger.ErrorContext(ctx, "failed to push job",
			logger.JobID(env.ID),
			logger.JobType(env.JobType),
			logger.Queue(env.Queue),
			logger.Error(err))
		return "", fmt.Errorf("%w %q to queue %q: %w", ErrPushFailed, env.JobName, env.Queue, err)
	}

	q.events.Emit(ctx, Event{Name: EventJobQueued, Envelope: env, Queue: env.Queue})

	q.logger.DebugContext(ctx, "job queued",
		logger.JobID(env.ID),
		logger.JobName(env.JobName),
		logger.Queue(env.Queue),
		slog.Time("available_at", env.AvailableAt))

	return env.ID, nil
}

// Later pushes job so that it becomes available after delay
func (q *JobQueue) Later(ctx context.Context, delay time.Duration, job Job, data any, opts ...PushOption) (string, error) {
	return q.Push(ctx, job, data, append(opts, WithDelay(delay))...)
}

// Pop reserves the next available envelope of queue. Eligibility is the driver's call.
func (q *JobQueue) Pop(ctx context.Context, queue string) (*Envelope, error) {
	if queue == "" {
		queue = q.defaultQueue
	}
	env, err := q.driver.Pop(ctx, queue)
	if err != nil {
		return nil, fmt.Errorf("%w from queue %q: %w", ErrPopFailed, queue, err)
	}
	return env, nil
}

// Stats returns a fresh snapshot of queue; empty means all queues
func (q *JobQueue) Stats(ctx context.Context, queue string) (Stats, error) {
	return q.driver.Stats(ctx, queue)
}

// Clear removes every envelope of queue
func (q *JobQueue) Clear(ctx context.Context, queue string) error {
	if queue == "" {
		queue = q.defaultQueue
	}
	return q.driver.Clear(ctx, queue)
}

// FailedJobs lists archived failures, newest first
func (q *JobQueue) FailedJobs(ctx context.Context, limit, offset int) ([]FailedJob, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return q.driver.FailedJobs(ctx, limit, offset)
}

// RetryFailed re-queues an archived failure as a brand new envelope and removes
// the archive entry. Returns the id of the new envelope.
func (q *JobQueue) RetryFailed(ctx context.Context, id string) (string, error) {
	failed, err := q.driver.FailedJob(ctx, id)
	if err != nil {
		return "", err
	}

	job, err := q.registry.New(failed.JobType)
	if err != nil {
		return "", err
	}
	q.prepare(job)

	env := failed.Requeue(q.newID(), job.MaxRetries(), int(job.Timeout()/time.Second), q.now())
	if err := q.driver.Requeue(ctx, failed.ID, env); err != nil {
		return "", fmt.Errorf("%w: requeue of failed job %s: %w", ErrPushFailed, failed.ID, err)
	}

	q.events.Emit(ctx, Event{Name: EventJobQueued, Envelope: env, Queue: env.Queue})

	q.logger.InfoContext(ctx, "failed job re-queued",
		slog.String("failed_id", failed.ID),
		logger.JobID(env.ID),
		logger.Queue(env.Queue))

	return env.ID, nil
}

// Cleanup removes completed and archived failed jobs older than days.
// Returns ErrNotSupported when the driver keeps no history.
func (q *JobQueue) Cleanup(ctx context.Context, days int) (completed, failed int64, err error) {
	c, ok := q.driver.(Cleaner)
	if !ok {
		return 0, 0, ErrNotSupported
	}
	if completed, err = c.CleanupCompletedJobs(ctx, days); err != nil {
		return 0, 0, err
	}
	if failed, err = c.CleanupFailedJobs(ctx, days); err != nil {
		return completed, 0, err
	}
	return completed, failed, nil
}

// ReleaseStale hands reservations older than olderThan back to the pending pool
func (q *JobQueue) ReleaseStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	r, ok := q.driver.(StaleReleaser)
	if !ok {
		return 0, ErrNotSupported
	}
	return r.ReleaseStale(ctx, olderThan)
}

// Close releases the driver
func (q *JobQueue) Close() error {
	return q.driver.Close()
}

// prepare applies queue defaults to jobs embedding BaseJob
func (q *JobQueue) prepare(job Job) {
	if b, ok := job.(baseJob); ok {
		b.applyDefaults(q.jobDefaults)
	}
}

func marshalData(data any) (json.RawMessage, error) {
	switch v := data.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return v, nil
	}

	b, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %T: %w", ErrDataMarshal, data, err)
	}
	return b, nil
}
