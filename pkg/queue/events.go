package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dmitrymomot/jobqueue/pkg/logger"
)

// EventName identifies a lifecycle event
type EventName string

const (
	EventJobQueuing           EventName = "job.queuing"
	EventJobQueued            EventName = "job.queued"
	EventJobProcessing        EventName = "job.processing"
	EventJobProcessed         EventName = "job.processed"
	EventJobFailed            EventName = "job.failed"
	EventWorkerStarting       EventName = "worker.starting"
	EventWorkerMemoryExceeded EventName = "worker.memory_exceeded"
	EventWorkerStopped        EventName = "worker.stopped"
)

// Event is delivered to listeners. Envelope is nil for worker events.
type Event struct {
	Name     EventName
	Envelope *Envelope
	Queue    string

	// job.processed
	Result   any
	Duration time.Duration

	// job.failed
	Err      error
	Attempts int

	// worker.memory_exceeded
	MemoryMB uint64
}

// Listener handles one event synchronously on the emitting goroutine
type Listener func(ctx context.Context, e Event)

// Events is a synchronous, process-local pub/sub.
// It is not a durability mechanism: events without listeners are dropped.
type Events struct {
	mu        sync.RWMutex
	listeners map[EventName][]Listener
	logger    *slog.Logger
}

// NewEvents creates an empty event bus
func NewEvents(logger *slog.Logger) *Events {
	if logger == nil {
		logger = slog.Default()
	}
	return &Events{
		listeners: make(map[EventName][]Listener),
		logger:    logger,
	}
}

// Listen registers fn for the named event
func (ev *Events) Listen(name EventName, fn Listener) {
	if fn == nil {
		return
	}
	ev.mu.Lock()
	defer ev.mu.Unlock()

	ev.listeners[name] = append(ev.listeners[name], fn)
}

// Emit calls every listener of e.Name in registration order.
// A panicking listener is logged and does not stop the others.
func (ev *Events) Emit(ctx context.Context, e Event) {
	ev.mu.RLock()
	listeners := ev.listeners[e.Name]
	ev.mu.RUnlock()

	for _, fn := range listeners {
		ev.call(ctx, fn, e)
	}
}

func (ev *Events) call(ctx context.Context, fn Listener, e Event) {
	defer func() {
		if r := recover(); r != nil {
			ev.logger.ErrorContext(ctx, "event listener panicked",
				logger.Event(string(e.Name)),
				slog.String("panic", fmt.Sprint(r)))
		}
	}()
	fn(ctx, e)
}
