package queue

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryDriver implements Driver in process memory for tests and local development.
// Nothing survives a restart.
type MemoryDriver struct {
	mu     sync.Mutex
	jobs   map[string]*Envelope
	failed map[string]*FailedJob

	// Index for efficient queries
	byQueue map[string][]string

	now func() time.Time
}

// NewMemoryDriver creates a new in-memory driver
func NewMemoryDriver() *MemoryDriver {
	return &MemoryDriver{
		jobs:    make(map[string]*Envelope),
		failed:  make(map[string]*FailedJob),
		byQueue: make(map[string][]string),
		now:     time.Now,
	}
}

// SetClock overrides time.Now for availability checks
func (md *MemoryDriver) SetClock(now func() time.Time) {
	md.mu.Lock()
	defer md.mu.Unlock()

	if now != nil {
		md.now = now
	}
}

// Push implements Driver
func (md *MemoryDriver) Push(ctx context.Context, env *Envelope) error {
	if env == nil {
		return errors.New("envelope cannot be nil")
	}

	md.mu.Lock()
	defer md.mu.Unlock()

	if _, exists := md.jobs[env.ID]; exists {
		return fmt.Errorf("job with ID %s already exists", env.ID)
	}

	// Clone to prevent external modifications
	md.jobs[env.ID] = env.Clone()
	md.byQueue[env.Queue] = append(md.byQueue[env.Queue], env.ID)

	return nil
}

// Pop implements Driver. Oldest available envelope first.
func (md *MemoryDriver) Pop(ctx context.Context, queue string) (*Envelope, error) {
	md.mu.Lock()
	defer md.mu.Unlock()

	now := md.now()
	var best *Envelope

	for _, id := range md.byQueue[queue] {
		env := md.jobs[id]
		if env.Status != StatusPending || !env.IsAvailable(now) {
			continue
		}
		if best == nil || olderThan(env, best) {
			best = env
		}
	}

	if best == nil {
		return nil, nil
	}

	best.Status = StatusProcessing
	best.ReservedAt = &now

	return best.Clone(), nil
}

func olderThan(a, b *Envelope) bool {
	if c := a.AvailableAt.Compare(b.AvailableAt); c != 0 {
		return c < 0
	}
	return a.CreatedAt.Before(b.CreatedAt)
}

// MarkCompleted implements Driver
func (md *MemoryDriver) MarkCompleted(ctx context.Context, id string) error {
	md.mu.Lock()
	defer md.mu.Unlock()

	env, exists := md.jobs[id]
	if !exists {
		return fmt.Errorf("job %s not found", id)
	}
	if env.Status == StatusCompleted {
		return nil
	}

	now := md.now()
	env.Status = StatusCompleted
	env.ReservedAt = nil
	env.ProcessedAt = &now

	return nil
}

// MarkFailed implements Driver
func (md *MemoryDriver) MarkFailed(ctx context.Context, id string, attempts int, errMsg string) error {
	md.mu.Lock()
	defer md.mu.Unlock()

	env, exists := md.jobs[id]
	if !exists {
		return fmt.Errorf("job %s not found", id)
	}
	if env.Status == StatusFailed {
		return nil
	}

	now := md.now()
	env.Status = StatusFailed
	env.Attempts = attempts
	env.ReservedAt = nil
	env.ProcessedAt = &now

	record := &FailedJob{
		ID:       uuid.NewString(),
		JobID:    env.ID,
		Queue:    env.Queue,
		JobType:  env.JobType,
		JobName:  env.JobName,
		Data:     env.Data,
		Attempts: attempts,
		Error:    errMsg,
		FailedAt: now,
	}
	md.failed[record.ID] = record

	return nil
}

// Retry implements Driver
func (md *MemoryDriver) Retry(ctx context.Context, id string, attempts int, delay time.Duration) error {
	md.mu.Lock()
	defer md.mu.Unlock()

	env, exists := md.jobs[id]
	if !exists {
		return fmt.Errorf("job %s not found", id)
	}

	env.Status = StatusPending
	env.Attempts = attempts
	env.AvailableAt = md.now().Add(delay)
	env.ReservedAt = nil
	env.ProcessedAt = nil

	return nil
}

// Stats implements Driver
func (md *MemoryDriver) Stats(ctx context.Context, queue string) (Stats, error) {
	md.mu.Lock()
	defer md.mu.Unlock()

	var s Stats
	for _, env := range md.jobs {
		if queue == "" || env.Queue == queue {
			s.Add(env.Status, 1)
		}
	}
	for _, f := range md.failed {
		if queue == "" || f.Queue == queue {
			s.FailedTotal++
		}
	}
	return s, nil
}

// Clear implements Driver
func (md *MemoryDriver) Clear(ctx context.Context, queue string) error {
	md.mu.Lock()
	defer md.mu.Unlock()

	for _, id := range md.byQueue[queue] {
		delete(md.jobs, id)
	}
	delete(md.byQueue, queue)

	return nil
}

// FailedJobs implements Driver
func (md *MemoryDriver) FailedJobs(ctx context.Context, limit, offset int) ([]FailedJob, error) {
	md.mu.Lock()
	defer md.mu.Unlock()

	return pageFailed(md.failed, limit, offset), nil
}

// FailedJob implements Driver
func (md *MemoryDriver) FailedJob(ctx context.Context, id string) (*FailedJob, error) {
	md.mu.Lock()
	defer md.mu.Unlock()

	if f := findFailed(md.failed, id); f != nil {
		c := *f
		return &c, nil
	}
	return nil, ErrFailedJobNotFound
}

// Requeue implements Driver
func (md *MemoryDriver) Requeue(ctx context.Context, failedID string, env *Envelope) error {
	md.mu.Lock()
	defer md.mu.Unlock()

	if _, ok := md.failed[failedID]; !ok {
		return ErrFailedJobNotFound
	}
	if _, exists := md.jobs[env.ID]; exists {
		return fmt.Errorf("job with ID %s already exists", env.ID)
	}

	md.jobs[env.ID] = env.Clone()
	md.byQueue[env.Queue] = append(md.byQueue[env.Queue], env.ID)
	delete(md.failed, failedID)

	return nil
}

// CleanupCompletedJobs implements Cleaner
func (md *MemoryDriver) CleanupCompletedJobs(ctx context.Context, days int) (int64, error) {
	md.mu.Lock()
	defer md.mu.Unlock()

	cutoff := md.now().AddDate(0, 0, -days)
	var removed int64
	for id, env := range md.jobs {
		if env.Status == StatusCompleted && env.ProcessedAt != nil && env.ProcessedAt.Before(cutoff) {
			md.removeFromQueueIndex(id, env.Queue)
			delete(md.jobs, id)
			removed++
		}
	}
	return removed, nil
}

// CleanupFailedJobs implements Cleaner
func (md *MemoryDriver) CleanupFailedJobs(ctx context.Context, days int) (int64, error) {
	md.mu.Lock()
	defer md.mu.Unlock()

	cutoff := md.now().AddDate(0, 0, -days)
	var removed int64
	for id, f := range md.failed {
		if f.FailedAt.Before(cutoff) {
			delete(md.failed, id)
			removed++
		}
	}
	return removed, nil
}

// ReleaseStale implements StaleReleaser.
// Without it, envelopes reserved by a crashed worker would stay in processing forever.
func (md *MemoryDriver) ReleaseStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	md.mu.Lock()
	defer md.mu.Unlock()

	cutoff := md.now().Add(-olderThan)
	var released int64
	for _, env := range md.jobs {
		if env.Status == StatusProcessing && env.ReservedAt != nil && env.ReservedAt.Before(cutoff) {
			env.Status = StatusPending
			env.ReservedAt = nil
			released++
		}
	}
	return released, nil
}

// Close implements Driver
func (md *MemoryDriver) Close() error {
	return nil
}

func (md *MemoryDriver) removeFromQueueIndex(id, queue string) {
	md.byQueue[queue] = slices.DeleteFunc(md.byQueue[queue], func(v string) bool {
		return v == id
	})
}

// findFailed matches either the archive id or the original job id
func findFailed(records map[string]*FailedJob, id string) *FailedJob {
	if f, ok := records[id]; ok {
		return f
	}
	for _, f := range records {
		if f.JobID == id {
			return f
		}
	}
	return nil
}

// pageFailed returns copies of the records, newest first
func pageFailed(records map[string]*FailedJob, limit, offset int) []FailedJob {
	all := make([]FailedJob, 0, len(records))
	for _, f := range records {
		all = append(all, *f)
	}
	slices.SortFunc(all, func(a, b FailedJob) int {
		if c := b.FailedAt.Compare(a.FailedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})

	if offset >= len(all) {
		return []FailedJob{}
	}
	end := len(all)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return all[offset:end]
}
