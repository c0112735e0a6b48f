package queue

import (
	"log/slog"
	"time"
)

// Option is a functional option for configuring a JobQueue
type Option func(*options)

type options struct {
	defaultQueue  string
	sleep         time.Duration
	memoryLimitMB int
	jobDefaults   JobDefaults
	registry      *Registry
	events        *Events
	logger        *slog.Logger
	now           func() time.Time
	memoryUsage   func() uint64
	newID         func() string
}

// WithDefaultQueue sets the queue used when neither the job nor the push names one
func WithDefaultQueue(queue string) Option {
	return func(o *options) {
		if queue != "" {
			o.defaultQueue = queue
		}
	}
}

// WithSleep sets how long the worker loop idles when the queue is empty
func WithSleep(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.sleep = d
		}
	}
}

// WithMemoryLimit sets the heap size in megabytes after which Work stops
// so a supervisor can start a fresh process
func WithMemoryLimit(mb int) Option {
	return func(o *options) {
		if mb > 0 {
			o.memoryLimitMB = mb
		}
	}
}

// WithJobDefaults sets queue-wide fallbacks for jobs embedding BaseJob
func WithJobDefaults(d JobDefaults) Option {
	return func(o *options) {
		o.jobDefaults = d
	}
}

// WithRegistry shares a job registry between queues
func WithRegistry(r *Registry) Option {
	return func(o *options) {
		if r != nil {
			o.registry = r
		}
	}
}

// WithEvents shares an event bus between queues
func WithEvents(ev *Events) Option {
	return func(o *options) {
		if ev != nil {
			o.events = ev
		}
	}
}

// WithLogger sets the logger for the queue
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithClock overrides time.Now, mostly for tests
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithMemoryUsage overrides how the worker measures memory in bytes
func WithMemoryUsage(fn func() uint64) Option {
	return func(o *options) {
		if fn != nil {
			o.memoryUsage = fn
		}
	}
}

// WithIDGenerator overrides envelope id generation
func WithIDGenerator(fn func() string) Option {
	return func(o *options) {
		if fn != nil {
			o.newID = fn
		}
	}
}

// PushOption is a functional option for Push
type PushOption func(*pushOptions)

type pushOptions struct {
	queue string
	delay time.Duration
}

// OnQueue overrides the job's queue
func OnQueue(queue string) PushOption {
	return func(o *pushOptions) {
		if queue != "" {
			o.queue = queue
		}
	}
}

// WithDelay makes the job available only after d
func WithDelay(d time.Duration) PushOption {
	return func(o *pushOptions) {
		if d > 0 {
			o.delay = d
		}
	}
}
