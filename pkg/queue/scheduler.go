package queue

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/dmitrymomot/jobqueue/pkg/logger"
)

// Pusher is the part of JobQueue the scheduler needs
type Pusher interface {
	Push(ctx context.Context, job Job, data any, opts ...PushOption) (string, error)
}

// Scheduler keeps an in-memory list of one-shot and recurring entries and
// pushes the due ones to the queue on every tick.
type Scheduler struct {
	pusher   Pusher
	entries  []*ScheduledJob
	mu       sync.Mutex
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// NewScheduler creates a new job scheduler
func NewScheduler(pusher Pusher, opts ...SchedulerOption) (*Scheduler, error) {
	if pusher == nil {
		return nil, ErrPusherNil
	}

	options := &schedulerOptions{
		checkInterval: 30 * time.Second,
		logger:        slog.Default(),
		now:           time.Now,
	}

	for _, opt := range opts {
		opt(options)
	}

	return &Scheduler{
		pusher:   pusher,
		interval: options.checkInterval,
		logger:   options.logger,
		now:      options.now,
	}, nil
}

// At schedules a single run at t. A time in the past runs on the next tick.
func (s *Scheduler) At(job Job, t time.Time, data any, queue string) (*ScheduledJob, error) {
	now := s.now()
	if t.Before(now) {
		t = now
	}
	return s.add(job, data, queue, t, nil)
}

// AtExpr schedules a single run at a time expression, see ParseTimeExpr
func (s *Scheduler) AtExpr(job Job, expr string, data any, queue string) (*ScheduledJob, error) {
	t, err := ParseTimeExpr(expr, s.now())
	if err != nil {
		return nil, err
	}
	return s.At(job, t, data, queue)
}

// In schedules a single run after d
func (s *Scheduler) In(job Job, d time.Duration, data any, queue string) (*ScheduledJob, error) {
	return s.At(job, s.now().Add(d), data, queue)
}

// Every schedules a recurring run every d. The first run is d from now.
func (s *Scheduler) Every(job Job, d time.Duration, data any, queue string) (*ScheduledJob, error) {
	if d <= 0 {
		return nil, fmt.Errorf("%w: interval must be positive, got %s", ErrInvalidSchedule, d)
	}
	return s.add(job, data, queue, s.now().Add(d), EveryInterval(d))
}

// EveryMinute is Every with a one minute interval
func (s *Scheduler) EveryMinute(job Job, data any, queue string) (*ScheduledJob, error) {
	return s.Every(job, time.Minute, data, queue)
}

// EveryFiveMinutes is Every with a five minute interval
func (s *Scheduler) EveryFiveMinutes(job Job, data any, queue string) (*ScheduledJob, error) {
	return s.Every(job, 5*time.Minute, data, queue)
}

// Hourly is Every with a one hour interval
func (s *Scheduler) Hourly(job Job, data any, queue string) (*ScheduledJob, error) {
	return s.Every(job, time.Hour, data, queue)
}

// Daily runs job every day at clock ("HH:MM"). The first run is today if that
// time is still ahead, tomorrow otherwise.
func (s *Scheduler) Daily(job Job, clock string, data any, queue string) (*ScheduledJob, error) {
	hour, minute, err := ParseClock(clock)
	if err != nil {
		return nil, err
	}
	sched := DailyAt(hour, minute)
	return s.add(job, data, queue, sched.Next(s.now()), sched)
}

// Weekly runs job every week on weekday at clock ("HH:MM")
func (s *Scheduler) Weekly(job Job, weekday time.Weekday, clock string, data any, queue string) (*ScheduledJob, error) {
	hour, minute, err := ParseClock(clock)
	if err != nil {
		return nil, err
	}
	sched := WeeklyOn(weekday, hour, minute)
	return s.add(job, data, queue, sched.Next(s.now()), sched)
}

// Cron runs job on a standard cron expression
func (s *Scheduler) Cron(job Job, expr string, data any, queue string) (*ScheduledJob, error) {
	sched, err := CronSpec(expr)
	if err != nil {
		return nil, err
	}
	return s.add(job, data, queue, sched.Next(s.now()), sched)
}

// Schedule adds an entry with a custom schedule
func (s *Scheduler) Schedule(job Job, sched Schedule, data any, queue string) (*ScheduledJob, error) {
	if sched == nil {
		return nil, fmt.Errorf("%w: nil schedule", ErrInvalidSchedule)
	}
	return s.add(job, data, queue, sched.Next(s.now()), sched)
}

func (s *Scheduler) add(job Job, data any, queue string, nextRun time.Time, sched Schedule) (*ScheduledJob, error) {
	if job == nil {
		return nil, ErrJobNil
	}

	entry := &ScheduledJob{
		Job:      job,
		Data:     data,
		Queue:    queue,
		NextRun:  nextRun,
		Schedule: sched,
	}

	s.mu.Lock()
	s.entries = append(s.entries, entry)
	s.mu.Unlock()

	attrs := []any{
		logger.JobName(JobName(job)),
		slog.Time("next_run", nextRun),
	}
	if sched != nil {
		attrs = append(attrs, slog.String("schedule", sched.String()))
	}
	s.logger.Info("scheduled job", attrs...)

	return entry, nil
}

// Tick pushes every due entry and returns how many were pushed. One-shot
// entries are removed after a successful push; recurring entries advance.
// An entry whose push fails stays due and is tried again on the next tick.
func (s *Scheduler) Tick(ctx context.Context) int {
	now := s.now()

	s.mu.Lock()
	due := make([]*ScheduledJob, 0, len(s.entries))
	for _, e := range s.entries {
		if e.IsDue(now) {
			due = append(due, e)
		}
	}
	s.mu.Unlock()

	pushed := 0
	for _, e := range due {
		if ctx.Err() != nil {
			break
		}

		id, err := s.pusher.Push(ctx, e.Job, e.Data, OnQueue(e.Queue))
		if err != nil {
			s.logger.ErrorContext(ctx, "failed to push scheduled job",
				logger.JobName(JobName(e.Job)),
				logger.Error(err))
			continue
		}
		pushed++

		s.mu.Lock()
		if e.Recurring() {
			e.ScheduleNext(now)
		} else {
			s.entries = slices.DeleteFunc(s.entries, func(v *ScheduledJob) bool { return v == e })
		}
		next := e.NextRun
		s.mu.Unlock()

		s.logger.DebugContext(ctx, "pushed scheduled job",
			logger.JobID(id),
			logger.JobName(JobName(e.Job)),
			slog.Bool("recurring", e.Recurring()),
			slog.Time("next_run", next))
	}

	return pushed
}

// Run ticks immediately and then every check interval until ctx is done
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.Tick(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler shutting down")
			return ctx.Err()
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Entries returns a snapshot of the scheduled entries in insertion order
func (s *Scheduler) Entries() []ScheduledJob {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]ScheduledJob, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, *e)
	}
	return out
}

// Remove drops an entry. Returns false if it was not scheduled.
func (s *Scheduler) Remove(entry *ScheduledJob) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	before := len(s.entries)
	s.entries = slices.DeleteFunc(s.entries, func(v *ScheduledJob) bool { return v == entry })
	return len(s.entries) != before
}

// Len returns the number of scheduled entries
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
