package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Defaults applied to jobs that do not configure their own values
const (
	DefaultMaxRetries = 3
	DefaultRetryDelay = 60 * time.Second
	DefaultTimeout    = 300 * time.Second
)

// Job is a unit of work. A new instance is created by its registered factory
// for every execution attempt, so implementations must not keep attempt state.
type Job interface {
	Name() string
	MaxRetries() int
	RetryDelay() time.Duration
	Timeout() time.Duration
	Queue() string

	// Handle executes the job. Any returned error (or panic) is routed
	// through the queue's failure handling.
	Handle(ctx context.Context, data json.RawMessage) (any, error)
}

// RetryPolicy lets a job override the default retry decision,
// e.g. to never retry validation errors.
type RetryPolicy interface {
	ShouldRetry(attempts int, err error) bool
}

// FailureHandler is invoked once after retries are exhausted.
// Its error is logged and never propagated to the worker loop.
type FailureHandler interface {
	Failed(ctx context.Context, err error, data json.RawMessage) error
}

// JobDefaults are queue-wide fallbacks for BaseJob fields left unset.
// Zero fields keep the package defaults.
type JobDefaults struct {
	Queue      string
	MaxRetries int
	RetryDelay time.Duration
	Timeout    time.Duration
}

// BaseJob carries the job metadata with sensible defaults and fluent setters.
// Embed it by value and use the job through a pointer:
//
//	type SendEmail struct{ queue.BaseJob }
//
//	func (j *SendEmail) Handle(ctx context.Context, data json.RawMessage) (any, error) { ... }
type BaseJob struct {
	name       string
	maxRetries *int
	retryDelay time.Duration
	timeout    time.Duration
	queue      string
}

// Name returns the configured name; empty means "use the type name"
func (j *BaseJob) Name() string { return j.name }

func (j *BaseJob) MaxRetries() int {
	if j.maxRetries == nil {
		return DefaultMaxRetries
	}
	return *j.maxRetries
}

func (j *BaseJob) RetryDelay() time.Duration {
	if j.retryDelay <= 0 {
		return DefaultRetryDelay
	}
	return j.retryDelay
}

func (j *BaseJob) Timeout() time.Duration {
	if j.timeout <= 0 {
		return DefaultTimeout
	}
	return j.timeout
}

func (j *BaseJob) Queue() string {
	if j.queue == "" {
		return DefaultQueueName
	}
	return j.queue
}

func (j *BaseJob) SetName(name string) *BaseJob {
	j.name = name
	return j
}

// SetMaxRetries sets how many retries follow the first attempt. Negative values are ignored.
func (j *BaseJob) SetMaxRetries(n int) *BaseJob {
	if n >= 0 {
		j.maxRetries = &n
	}
	return j
}

// SetRetryDelay sets the backoff unit; the delay before retry k is d*k.
func (j *BaseJob) SetRetryDelay(d time.Duration) *BaseJob {
	if d > 0 {
		j.retryDelay = d
	}
	return j
}

func (j *BaseJob) SetTimeout(d time.Duration) *BaseJob {
	if d > 0 {
		j.timeout = d
	}
	return j
}

func (j *BaseJob) SetQueue(queue string) *BaseJob {
	j.queue = queue
	return j
}

// applyDefaults fills unset fields from queue-wide defaults
func (j *BaseJob) applyDefaults(d JobDefaults) {
	if j.queue == "" && d.Queue != "" {
		j.queue = d.Queue
	}
	if j.maxRetries == nil && d.MaxRetries > 0 {
		n := d.MaxRetries
		j.maxRetries = &n
	}
	if j.retryDelay <= 0 && d.RetryDelay > 0 {
		j.retryDelay = d.RetryDelay
	}
	if j.timeout <= 0 && d.Timeout > 0 {
		j.timeout = d.Timeout
	}
}

// restoreFrom copies the metadata persisted at push time back onto a freshly
// built instance, so per-push settings survive reconstruction
func (j *BaseJob) restoreFrom(env *Envelope) {
	n := env.MaxRetries
	j.maxRetries = &n
	if env.Timeout > 0 {
		j.timeout = time.Duration(env.Timeout) * time.Second
	}
	if env.Queue != "" {
		j.queue = env.Queue
	}
	if j.name == "" {
		j.name = env.JobName
	}
}

// baseJob is satisfied by every job embedding BaseJob
type baseJob interface {
	applyDefaults(JobDefaults)
	restoreFrom(*Envelope)
}

// JobName returns the display name of a job, falling back to its short type name
func JobName(job Job) string {
	if name := job.Name(); name != "" {
		return name
	}
	return shortTypeName(job)
}

// ShouldRetry applies the job's retry policy. Without a custom policy a job is
// retried while attempts <= MaxRetries, so MaxRetries counts retries after the
// first attempt.
func ShouldRetry(job Job, attempts int, err error) bool {
	if p, ok := job.(RetryPolicy); ok {
		return p.ShouldRetry(attempts, err)
	}
	return attempts <= job.MaxRetries()
}

// BackoffDelay returns the delay before retry number attempts: retryDelay * attempts
func BackoffDelay(job Job, attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	return job.RetryDelay() * time.Duration(attempts)
}

// Decode unmarshals job data into T. Convenience for Handle implementations.
func Decode[T any](data json.RawMessage) (T, error) {
	var v T
	if len(data) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("failed to decode job data into %T: %w", v, err)
	}
	return v, nil
}
