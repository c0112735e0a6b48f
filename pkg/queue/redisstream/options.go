package redisstream

import (
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Option is a functional option for configuring the driver
type Option func(*options)

type options struct {
	group      string
	prefix     string
	consumer   string
	startID    string
	block      time.Duration
	claimIdle  time.Duration
	deadLetter string
	logger     *slog.Logger
	now        func() time.Time
	newID      func() string
}

// WithGroup sets the consumer group name
func WithGroup(group string) Option {
	return func(o *options) {
		if group != "" {
			o.group = group
		}
	}
}

// WithPrefix sets the prefix that turns a queue name into a stream key
func WithPrefix(prefix string) Option {
	return func(o *options) {
		o.prefix = prefix
	}
}

// WithConsumer overrides the consumer name (hostname-pid by default)
func WithConsumer(name string) Option {
	return func(o *options) {
		if name != "" {
			o.consumer = name
		}
	}
}

// WithBlock sets how long Pop waits for new messages. Zero or less does not block.
func WithBlock(d time.Duration) Option {
	return func(o *options) {
		o.block = d
	}
}

// WithClaimIdle sets the idle time after which messages held by other
// consumers are claimed
func WithClaimIdle(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.claimIdle = d
		}
	}
}

// WithDeadLetter sets the stream suffix exhausted jobs are published to.
// An empty name disables publishing.
func WithDeadLetter(name string) Option {
	return func(o *options) {
		o.deadLetter = name
	}
}

// WithStartFromLatest makes newly created groups skip messages published
// before the group existed
func WithStartFromLatest() Option {
	return func(o *options) {
		o.startID = "$"
	}
}

// WithLogger sets the logger for the driver
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

// WithIDGenerator overrides failed record id generation
func WithIDGenerator(fn func() string) Option {
	return func(o *options) {
		if fn != nil {
			o.newID = fn
		}
	}
}

// FromConfig returns the options described by cfg
func FromConfig(cfg Config) ([]Option, error) {
	opts := []Option{
		WithGroup(cfg.GroupID),
		WithPrefix(cfg.TopicPrefix),
		WithBlock(time.Duration(cfg.TimeoutMS) * time.Millisecond),
		WithClaimIdle(cfg.ClaimIdle),
		WithDeadLetter(cfg.DeadLetter),
	}

	switch strings.ToLower(cfg.AutoOffsetReset) {
	case "", "earliest":
	case "latest":
		opts = append(opts, WithStartFromLatest())
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidOffsetReset, cfg.AutoOffsetReset)
	}

	return opts, nil
}
