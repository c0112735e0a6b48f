package queue

import (
	"encoding/json"
	"time"
)

// DefaultQueueName is the default queue name used when no queue is specified
const DefaultQueueName = "default"

// Status represents the lifecycle state of an envelope
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Valid reports whether s is one of the known statuses
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Envelope is the persisted unit of work: one job invocation plus its bookkeeping.
// Drivers own the physical representation; status transitions are decided by JobQueue.
type Envelope struct {
	ID          string          `json:"id"`
	Queue       string          `json:"queue"`
	JobType     string          `json:"job_type"`
	JobName     string          `json:"job_name"`
	Data        json.RawMessage `json:"data,omitempty"`
	Attempts    int             `json:"attempts"`
	MaxRetries  int             `json:"max_retries"`
	Timeout     int             `json:"timeout"` // seconds
	Status      Status          `json:"status"`
	CreatedAt   time.Time       `json:"created_at"`
	AvailableAt time.Time       `json:"available_at"`
	ReservedAt  *time.Time      `json:"reserved_at,omitempty"`
	ProcessedAt *time.Time      `json:"processed_at,omitempty"`
}

// TimeoutDuration returns the execution budget stored on the envelope
func (e *Envelope) TimeoutDuration() time.Duration {
	return time.Duration(e.Timeout) * time.Second
}

// IsAvailable reports whether the envelope may be reserved at the given time
func (e *Envelope) IsAvailable(now time.Time) bool {
	return !e.AvailableAt.After(now)
}

// Clone returns a deep copy so drivers never share mutable state with callers
func (e *Envelope) Clone() *Envelope {
	c := *e
	if e.Data != nil {
		c.Data = append(json.RawMessage(nil), e.Data...)
	}
	if e.ReservedAt != nil {
		t := *e.ReservedAt
		c.ReservedAt = &t
	}
	if e.ProcessedAt != nil {
		t := *e.ProcessedAt
		c.ProcessedAt = &t
	}
	return &c
}

// FailedJob is the permanent archive entry of an envelope that exhausted its retries
type FailedJob struct {
	ID       string          `json:"id"`
	JobID    string          `json:"job_id"`
	Queue    string          `json:"queue"`
	JobType  string          `json:"job_type"`
	JobName  string          `json:"job_name"`
	Data     json.RawMessage `json:"data,omitempty"`
	Attempts int             `json:"attempts"`
	Error    string          `json:"error"`
	FailedAt time.Time       `json:"failed_at"`
}

// Requeue builds a fresh pending envelope from the archived record.
// The new envelope gets a new id and starts over at zero attempts.
func (f *FailedJob) Requeue(id string, maxRetries, timeout int, now time.Time) *Envelope {
	return &Envelope{
		ID:          id,
		Queue:       f.Queue,
		JobType:     f.JobType,
		JobName:     f.JobName,
		Data:        f.Data,
		Attempts:    0,
		MaxRetries:  maxRetries,
		Timeout:     timeout,
		Status:      StatusPending,
		CreatedAt:   now,
		AvailableAt: now,
	}
}

// Stats is a point-in-time snapshot of a queue. Never cached.
// Approximate is set by drivers that cannot count exactly (log-based brokers).
type Stats struct {
	Pending     int64 `json:"pending"`
	Processing  int64 `json:"processing"`
	Completed   int64 `json:"completed"`
	Failed      int64 `json:"failed"`
	Total       int64 `json:"total"`
	FailedTotal int64 `json:"failed_total"`
	Approximate bool  `json:"approximate,omitempty"`
}

// Add records count rows of the given status and keeps Total in sync
func (s *Stats) Add(status Status, count int64) {
	switch status {
	case StatusPending:
		s.Pending += count
	case StatusProcessing:
		s.Processing += count
	case StatusCompleted:
		s.Completed += count
	case StatusFailed:
		s.Failed += count
	default:
		return
	}
	s.Total += count
}
