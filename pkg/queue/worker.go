package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dmitrymomot/jobqueue/pkg/logger"
)

// Work runs the worker loop for queue until Stop is called, ctx is cancelled,
// maxJobs jobs were processed (0 means unbounded) or the memory limit is hit.
// After Stop, Work returns immediately until Resume is called.
//
// Jobs run one at a time. Only configuration errors such as an unknown job type
// are returned; storage hiccups are logged and followed by the idle sleep.
func (q *JobQueue) Work(ctx context.Context, queue string, maxJobs int) error {
	if queue == "" {
		queue = q.defaultQueue
	}

	q.events.Emit(ctx, Event{Name: EventWorkerStarting, Queue: queue})
	q.logger.InfoContext(ctx, "worker starting",
		logger.Queue(queue),
		slog.Int("max_jobs", maxJobs),
		slog.Int("memory_limit_mb", q.memoryLimitMB))

	processed := 0
	defer func() {
		q.events.Emit(context.WithoutCancel(ctx), Event{Name: EventWorkerStopped, Queue: queue})
		q.logger.InfoContext(ctx, "worker stopped",
			logger.Queue(queue),
			slog.Int("processed", processed))
	}()

	for {
		if q.stopping.Load() || ctx.Err() != nil {
			return nil
		}

		env, err := q.Pop(ctx, queue)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			q.logger.ErrorContext(ctx, "failed to pop job",
				logger.Queue(queue),
				logger.Error(err))
			if !q.idle(ctx) {
				return nil
			}
			continue
		}

		if env == nil {
			if !q.idle(ctx) {
				return nil
			}
			continue
		}

		if err := q.ProcessJob(ctx, env); err != nil {
			if errors.Is(err, ErrUnknownJobType) {
				return err
			}
			q.logger.ErrorContext(ctx, "failed to record job outcome",
				logger.JobID(env.ID),
				logger.Queue(queue),
				logger.Error(err))
		}

		processed++
		if maxJobs > 0 && processed >= maxJobs {
			return nil
		}

		if q.memoryExceeded(ctx, queue) {
			return nil
		}
	}
}

// Stop asks the worker loop to exit before the next job.
// A job that is already running is allowed to finish.
func (q *JobQueue) Stop() {
	q.stopping.Store(true)
}

// Resume clears a previous Stop so that Work can run again
func (q *JobQueue) Resume() {
	q.stopping.Store(false)
}

// Stopping reports whether Stop was called and not yet resumed
func (q *JobQueue) Stopping() bool {
	return q.stopping.Load()
}

// ProcessJob executes one reserved envelope and records the outcome with the driver
func (q *JobQueue) ProcessJob(ctx context.Context, env *Envelope) error {
	// Outcome transitions must land even if the worker is shutting down.
	bg := context.WithoutCancel(ctx)

	job, err := q.reconstruct(env)
	if err != nil {
		q.logger.ErrorContext(ctx, "cannot reconstruct job",
			logger.JobID(env.ID),
			logger.JobType(env.JobType),
			logger.Error(err))

		q.events.Emit(ctx, Event{Name: EventJobFailed, Envelope: env, Queue: env.Queue, Err: err, Attempts: env.Attempts + 1})
		if markErr := q.driver.MarkFailed(bg, env.ID, env.Attempts+1, err.Error()); markErr != nil {
			return errors.Join(err, fmt.Errorf("%w: %s: %w", ErrFailedToMarkFailed, env.ID, markErr))
		}
		return err
	}

	q.events.Emit(ctx, Event{Name: EventJobProcessing, Envelope: env, Queue: env.Queue})

	start := q.now()
	result, execErr := q.execute(ctx, job, env)
	duration := q.now().Sub(start)

	if execErr != nil {
		return q.handleJobFailure(ctx, env, job, execErr, duration)
	}

	if err := q.driver.MarkCompleted(bg, env.ID); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrFailedToMarkCompleted, env.ID, err)
	}

	q.events.Emit(ctx, Event{
		Name:     EventJobProcessed,
		Envelope: env,
		Queue:    env.Queue,
		Result:   result,
		Duration: duration,
	})

	q.logger.InfoContext(ctx, "job processed",
		logger.JobID(env.ID),
		logger.JobName(env.JobName),
		logger.Queue(env.Queue),
		slog.Int("attempts", env.Attempts),
		logger.Duration(duration))

	return nil
}

// execute runs the handler with the job's timeout as a context deadline.
// The deadline is advisory: a handler that ignores ctx is not killed.
func (q *JobQueue) execute(ctx context.Context, job Job, env *Envelope) (result any, err error) {
	budget := env.TimeoutDuration()
	if budget <= 0 {
		budget = job.Timeout()
	}

	// Detached from the worker context: stopping the worker never cancels a running job.
	execCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), budget)
	defer cancel()
	execCtx = logger.WithAttrs(execCtx,
		logger.JobID(env.ID),
		logger.Queue(env.Queue),
		logger.Attempt(env.Attempts+1))

	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("%w: %v", ErrJobPanicked, r)
		}
	}()

	result, err = job.Handle(execCtx, env.Data)
	if err != nil && errors.Is(err, context.DeadlineExceeded) && execCtx.Err() != nil {
		err = fmt.Errorf("%w after %s: %w", ErrJobTimeout, budget, err)
	}
	if err == nil && execCtx.Err() != nil {
		q.logger.WarnContext(ctx, "job finished after its timeout",
			logger.JobID(env.ID),
			logger.JobName(env.JobName),
			slog.Duration("timeout", budget))
	}
	return result, err
}

// handleJobFailure turns any job error into either a delayed retry or a
// terminal failure. job.failed is emitted first in both cases.
func (q *JobQueue) handleJobFailure(ctx context.Context, env *Envelope, job Job, execErr error, duration time.Duration) error {
	bg := context.WithoutCancel(ctx)
	attempts := env.Attempts + 1

	q.events.Emit(ctx, Event{
		Name:     EventJobFailed,
		Envelope: env,
		Queue:    env.Queue,
		Err:      execErr,
		Attempts: attempts,
		Duration: duration,
	})

	if ShouldRetry(job, attempts, execErr) {
		delay := BackoffDelay(job, attempts)
		if err := q.driver.Retry(bg, env.ID, attempts, delay); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrFailedToRetry, env.ID, err)
		}

		q.logger.WarnContext(ctx, "job failed, retry scheduled",
			logger.JobID(env.ID),
			logger.JobName(env.JobName),
			logger.Queue(env.Queue),
			slog.Int("attempts", attempts),
			slog.Duration("delay", delay),
			logger.Error(execErr))
		return nil
	}

	if err := q.driver.MarkFailed(bg, env.ID, attempts, execErr.Error()); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrFailedToMarkFailed, env.ID, err)
	}

	q.logger.ErrorContext(ctx, "job failed permanently",
		logger.JobID(env.ID),
		logger.JobName(env.JobName),
		logger.Queue(env.Queue),
		slog.Int("attempts", attempts),
		logger.Error(execErr))

	q.callFailedHook(bg, job, env, execErr)
	return nil
}

// callFailedHook runs the job's terminal hook; errors and panics are only logged
func (q *JobQueue) callFailedHook(ctx context.Context, job Job, env *Envelope, execErr error) {
	h, ok := job.(FailureHandler)
	if !ok {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			q.logger.ErrorContext(ctx, "failed hook panicked",
				logger.JobID(env.ID),
				slog.Any("panic", r))
		}
	}()

	if err := h.Failed(ctx, execErr, env.Data); err != nil {
		q.logger.ErrorContext(ctx, "failed hook returned error",
			logger.JobID(env.ID),
			logger.Error(err))
	}
}

// reconstruct builds a fresh job instance for the envelope
func (q *JobQueue) reconstruct(env *Envelope) (Job, error) {
	job, err := q.registry.New(env.JobType)
	if err != nil {
		return nil, err
	}
	if b, ok := job.(baseJob); ok {
		b.applyDefaults(q.jobDefaults)
		b.restoreFrom(env)
	}
	return job, nil
}

// idle sleeps for the configured interval. Returns false when ctx ends or Stop was called.
func (q *JobQueue) idle(ctx context.Context) bool {
	t := time.NewTimer(q.sleep)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return !q.stopping.Load()
	}
}

// memoryExceeded signals the supervisor to restart a fresh worker
func (q *JobQueue) memoryExceeded(ctx context.Context, queue string) bool {
	if q.memoryLimitMB <= 0 {
		return false
	}

	usedMB := bytesToMB(q.memoryUsage())
	if usedMB <= uint64(q.memoryLimitMB) {
		return false
	}

	q.events.Emit(ctx, Event{Name: EventWorkerMemoryExceeded, Queue: queue, MemoryMB: usedMB})
	q.logger.WarnContext(ctx, "worker memory limit exceeded, stopping",
		logger.Queue(queue),
		slog.Uint64("memory_mb", usedMB),
		slog.Int("limit_mb", q.memoryLimitMB))
	return true
}
