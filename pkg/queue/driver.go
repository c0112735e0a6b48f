package queue

import (
	"context"
	"time"
)

// Driver abstracts the storage or broker behind a JobQueue.
// Implementations own the physical representation of envelopes and the
// reservation mechanism that keeps two consumers from running the same job.
type Driver interface {
	// Push stores a new pending envelope
	Push(ctx context.Context, env *Envelope) error

	// Pop reserves the next available envelope of the queue.
	// Returns nil, nil when nothing is available.
	Pop(ctx context.Context, queue string) (*Envelope, error)

	// MarkCompleted finishes a reserved envelope. Repeating it is a no-op.
	MarkCompleted(ctx context.Context, id string) error

	// MarkFailed terminally fails the envelope and archives it exactly once
	MarkFailed(ctx context.Context, id string, attempts int, errMsg string) error

	// Retry puts a reserved envelope back to pending after delay
	Retry(ctx context.Context, id string, attempts int, delay time.Duration) error

	// Stats counts envelopes; an empty queue name means all queues
	Stats(ctx context.Context, queue string) (Stats, error)

	// Clear removes every envelope of the queue
	Clear(ctx context.Context, queue string) error

	// FailedJobs lists archived failures, newest first
	FailedJobs(ctx context.Context, limit, offset int) ([]FailedJob, error)

	// FailedJob looks up one archived failure by archive id or original job id.
	// Returns ErrFailedJobNotFound when there is none.
	FailedJob(ctx context.Context, id string) (*FailedJob, error)

	// Requeue atomically stores env as a new pending envelope and removes the
	// archive entry failedID
	Requeue(ctx context.Context, failedID string, env *Envelope) error

	Close() error
}

// Cleaner is implemented by drivers that support retention sweeps
type Cleaner interface {
	CleanupCompletedJobs(ctx context.Context, days int) (int64, error)
	CleanupFailedJobs(ctx context.Context, days int) (int64, error)
}

// StaleReleaser is implemented by drivers that can hand reservations of crashed
// workers back to the pending pool
type StaleReleaser interface {
	ReleaseStale(ctx context.Context, olderThan time.Duration) (int64, error)
}
