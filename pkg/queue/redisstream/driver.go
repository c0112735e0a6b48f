package redisstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/dmitrymomot/jobqueue/pkg/logger"
	"github.com/dmitrymomot/jobqueue/pkg/queue"
)

const (
	payloadField = "job"
	historyBatch = 100
	claimBatch   = 10
)

// Driver runs queues on Redis Streams. Every queue is one stream read by a
// single consumer group, so each message is delivered to one consumer.
//
// Reservation is the consumer group's pending entries list: a popped message
// stays un-acked until the job completes, fails or is retried. Failed records
// and completion counters live in process memory and are lost on restart.
type Driver struct {
	client redis.UniversalClient

	group      string
	prefix     string
	consumer   string
	startID    string
	block      time.Duration
	claimIdle  time.Duration
	deadLetter string

	logger *slog.Logger
	now    func() time.Time
	newID  func() string

	mu         sync.Mutex
	groups     map[string]bool
	queues     map[string]struct{}
	processing map[string]*handle
	inFlight   map[string]struct{}
	failed     []queue.FailedJob
	completed  map[string]int64
}

type handle struct {
	queue  string
	stream string
	msgID  string
	env    *queue.Envelope
}

// New creates a Redis Streams driver over client
func New(client redis.UniversalClient, opts ...Option) (*Driver, error) {
	if client == nil {
		return nil, ErrClientNil
	}

	options := &options{
		group:      "jobqueue",
		prefix:     "jobqueue:",
		consumer:   consumerName(),
		startID:    "0",
		block:      time.Second,
		claimIdle:  5 * time.Minute,
		deadLetter: "dead-letter",
		logger:     slog.Default(),
		now:        time.Now,
		newID:      uuid.NewString,
	}
	for _, opt := range opts {
		opt(options)
	}

	return &Driver{
		client:     client,
		group:      options.group,
		prefix:     options.prefix,
		consumer:   options.consumer,
		startID:    options.startID,
		block:      options.block,
		claimIdle:  options.claimIdle,
		deadLetter: options.deadLetter,
		logger:     options.logger,
		now:        options.now,
		newID:      options.newID,
		groups:     make(map[string]bool),
		queues:     make(map[string]struct{}),
		processing: make(map[string]*handle),
		inFlight:   make(map[string]struct{}),
		completed:  make(map[string]int64),
	}, nil
}

func consumerName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "consumer"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}

// Stream returns the stream key of a queue
func (d *Driver) Stream(queueName string) string {
	return d.prefix + queueName
}

// DeadLetterStream returns the stream exhausted jobs are published to, or an
// empty string when publishing is disabled
func (d *Driver) DeadLetterStream() string {
	if d.deadLetter == "" {
		return ""
	}
	return d.prefix + d.deadLetter
}

// Push implements queue.Driver
func (d *Driver) Push(ctx context.Context, env *queue.Envelope) error {
	if env == nil {
		return errors.New("envelope cannot be nil")
	}
	if err := d.publish(ctx, d.Stream(env.Queue), env); err != nil {
		return fmt.Errorf("publish job %s: %w", env.ID, err)
	}
	d.track(env.Queue)
	return nil
}

// Pop implements queue.Driver. Candidates are taken in order from this
// consumer's own un-acked history, then from messages other consumers left
// idle for longer than the claim timeout, then from new messages. A message
// that is not due yet stays un-acked and is picked up from history later.
func (d *Driver) Pop(ctx context.Context, queueName string) (*queue.Envelope, error) {
	stream := d.Stream(queueName)
	if err := d.ensureGroup(ctx, stream); err != nil {
		return nil, err
	}
	d.track(queueName)

	history, err := d.read(ctx, stream, "0", historyBatch, -1)
	if err != nil {
		return nil, err
	}
	if env, err := d.take(ctx, queueName, stream, history); env != nil || err != nil {
		return env, err
	}

	claimed, err := d.claim(ctx, stream)
	if err != nil {
		return nil, err
	}
	if env, err := d.take(ctx, queueName, stream, claimed); env != nil || err != nil {
		return env, err
	}

	block := d.block
	if block <= 0 {
		block = -1
	}
	fresh, err := d.read(ctx, stream, ">", 1, block)
	if err != nil {
		return nil, err
	}
	return d.take(ctx, queueName, stream, fresh)
}

// MarkCompleted implements queue.Driver. Unknown ids are ignored.
func (d *Driver) MarkCompleted(ctx context.Context, id string) error {
	h := d.handle(id)
	if h == nil {
		return nil
	}
	if err := d.ack(ctx, h.stream, h.msgID); err != nil {
		return fmt.Errorf("ack job %s: %w", id, err)
	}

	d.mu.Lock()
	if d.release(id) {
		d.completed[h.queue]++
	}
	d.mu.Unlock()
	return nil
}

// MarkFailed implements queue.Driver. The message is acked, a failed record
// is kept in memory and the envelope is published to the dead-letter stream.
// Publishing is best effort: the job has already failed either way.
func (d *Driver) MarkFailed(ctx context.Context, id string, attempts int, errMsg string) error {
	h := d.handle(id)
	if h == nil {
		return nil
	}
	if err := d.ack(ctx, h.stream, h.msgID); err != nil {
		return fmt.Errorf("ack failed job %s: %w", id, err)
	}

	now := d.now()
	env := h.env.Clone()
	env.Attempts = attempts
	env.Status = queue.StatusFailed
	env.ReservedAt = nil
	env.ProcessedAt = &now

	d.mu.Lock()
	archived := d.release(id)
	if archived {
		d.failed = append(d.failed, queue.FailedJob{
			ID:       d.newID(),
			JobID:    env.ID,
			Queue:    env.Queue,
			JobType:  env.JobType,
			JobName:  env.JobName,
			Data:     env.Data,
			Attempts: attempts,
			Error:    errMsg,
			FailedAt: now,
		})
	}
	d.mu.Unlock()

	if archived && d.deadLetter != "" {
		if err := d.publish(ctx, d.DeadLetterStream(), env, "error", errMsg); err != nil {
			d.logger.WarnContext(ctx, "failed to publish to dead-letter stream",
				logger.JobID(id),
				slog.String("stream", d.DeadLetterStream()),
				logger.Error(err))
		}
	}
	return nil
}

// Retry implements queue.Driver. The updated envelope is published as a new
// message before the old one is acked, so a crash in between duplicates the
// job rather than losing it.
func (d *Driver) Retry(ctx context.Context, id string, attempts int, delay time.Duration) error {
	h := d.handle(id)
	if h == nil {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}

	env := h.env.Clone()
	env.Attempts = attempts
	env.Status = queue.StatusPending
	env.AvailableAt = d.now().Add(delay)
	env.ReservedAt = nil
	env.ProcessedAt = nil

	if err := d.publish(ctx, h.stream, env); err != nil {
		return fmt.Errorf("republish job %s: %w", id, err)
	}
	if err := d.ack(ctx, h.stream, h.msgID); err != nil {
		return fmt.Errorf("ack retried job %s: %w", id, err)
	}

	d.mu.Lock()
	d.release(id)
	d.mu.Unlock()
	return nil
}

// Stats implements queue.Driver. Counts are approximate: pending is the
// stream length minus what this process holds, completed and failed only
// cover jobs finished by this process.
func (d *Driver) Stats(ctx context.Context, queueName string) (queue.Stats, error) {
	stats := queue.Stats{Approximate: true}

	d.mu.Lock()
	var names []string
	if queueName != "" {
		names = []string{queueName}
	} else {
		for name := range d.queues {
			names = append(names, name)
		}
	}
	processing := make(map[string]int64, len(names))
	for _, h := range d.processing {
		processing[h.queue]++
	}
	failed := make(map[string]int64, len(names))
	for _, f := range d.failed {
		failed[f.Queue]++
	}
	completed := make(map[string]int64, len(names))
	for _, name := range names {
		completed[name] = d.completed[name]
	}
	d.mu.Unlock()

	for _, name := range names {
		length, err := d.client.XLen(ctx, d.Stream(name)).Result()
		if err != nil {
			return stats, fmt.Errorf("stream length of %s: %w", name, err)
		}
		stats.Add(queue.StatusPending, max(length-processing[name], 0))
		stats.Add(queue.StatusProcessing, processing[name])
		stats.Add(queue.StatusCompleted, completed[name])
		stats.Add(queue.StatusFailed, failed[name])
		stats.FailedTotal += failed[name]
	}
	return stats, nil
}

// Clear implements queue.Driver by deleting the stream together with its group
func (d *Driver) Clear(ctx context.Context, queueName string) error {
	stream := d.Stream(queueName)
	if err := d.client.Del(ctx, stream).Err(); err != nil {
		return fmt.Errorf("delete stream %s: %w", stream, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.groups, stream)
	for id, h := range d.processing {
		if h.queue == queueName {
			d.release(id)
		}
	}
	return nil
}

// FailedJobs implements queue.Driver
func (d *Driver) FailedJobs(ctx context.Context, limit, offset int) ([]queue.FailedJob, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]queue.FailedJob, 0, limit)
	for i := len(d.failed) - 1 - offset; i >= 0 && len(out) < limit; i-- {
		out = append(out, d.failed[i])
	}
	return out, nil
}

// FailedJob implements queue.Driver
func (d *Driver) FailedJob(ctx context.Context, id string) (*queue.FailedJob, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for i := len(d.failed) - 1; i >= 0; i-- {
		if d.failed[i].ID == id || d.failed[i].JobID == id {
			f := d.failed[i]
			return &f, nil
		}
	}
	return nil, queue.ErrFailedJobNotFound
}

// Requeue implements queue.Driver
func (d *Driver) Requeue(ctx context.Context, failedID string, env *queue.Envelope) error {
	d.mu.Lock()
	idx := slices.IndexFunc(d.failed, func(f queue.FailedJob) bool { return f.ID == failedID })
	d.mu.Unlock()
	if idx < 0 {
		return queue.ErrFailedJobNotFound
	}

	if err := d.Push(ctx, env); err != nil {
		return err
	}

	d.mu.Lock()
	d.failed = slices.DeleteFunc(d.failed, func(f queue.FailedJob) bool { return f.ID == failedID })
	d.mu.Unlock()
	return nil
}

// CleanupCompletedJobs implements queue.Cleaner. Completed messages are
// deleted when acked, so there is never anything to remove.
func (d *Driver) CleanupCompletedJobs(ctx context.Context, days int) (int64, error) {
	return 0, nil
}

// CleanupFailedJobs implements queue.Cleaner for the in-memory failed records
func (d *Driver) CleanupFailedJobs(ctx context.Context, days int) (int64, error) {
	cutoff := d.now().AddDate(0, 0, -days)

	d.mu.Lock()
	defer d.mu.Unlock()

	before := len(d.failed)
	d.failed = slices.DeleteFunc(d.failed, func(f queue.FailedJob) bool { return f.FailedAt.Before(cutoff) })
	return int64(before - len(d.failed)), nil
}

// Close implements queue.Driver. The client belongs to the caller.
func (d *Driver) Close() error {
	return nil
}

func (d *Driver) ensureGroup(ctx context.Context, stream string) error {
	d.mu.Lock()
	ready := d.groups[stream]
	d.mu.Unlock()
	if ready {
		return nil
	}

	err := d.client.XGroupCreateMkStream(ctx, stream, d.group, d.startID).Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group %s on %s: %w", d.group, stream, err)
	}

	d.mu.Lock()
	d.groups[stream] = true
	d.mu.Unlock()
	return nil
}

func (d *Driver) read(ctx context.Context, stream, id string, count int64, block time.Duration) ([]redis.XMessage, error) {
	res, err := d.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    d.group,
		Consumer: d.consumer,
		Streams:  []string{stream, id},
		Count:    count,
		Block:    block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		if strings.HasPrefix(err.Error(), "NOGROUP") {
			// The stream was deleted behind our back.
			d.mu.Lock()
			delete(d.groups, stream)
			d.mu.Unlock()
			return nil, nil
		}
		return nil, fmt.Errorf("read %s from %s: %w", id, stream, err)
	}

	var out []redis.XMessage
	for _, s := range res {
		out = append(out, s.Messages...)
	}
	return out, nil
}

func (d *Driver) claim(ctx context.Context, stream string) ([]redis.XMessage, error) {
	msgs, _, err := d.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   stream,
		Group:    d.group,
		Consumer: d.consumer,
		MinIdle:  d.claimIdle,
		Start:    "0-0",
		Count:    claimBatch,
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("claim idle messages of %s: %w", stream, err)
	}
	return msgs, nil
}

// take reserves the first due message of msgs that is not already held by
// this process. Undecodable messages are acked and dropped.
func (d *Driver) take(ctx context.Context, queueName, stream string, msgs []redis.XMessage) (*queue.Envelope, error) {
	now := d.now()
	for _, msg := range msgs {
		env, err := decode(msg)
		if err != nil {
			d.logger.WarnContext(ctx, "dropping malformed message",
				slog.String("stream", stream),
				slog.String("message_id", msg.ID),
				logger.Error(err))
			if err := d.ack(ctx, stream, msg.ID); err != nil {
				return nil, fmt.Errorf("ack malformed message %s: %w", msg.ID, err)
			}
			continue
		}
		if !env.IsAvailable(now) {
			continue
		}

		env.Queue = queueName
		env.Status = queue.StatusProcessing
		env.ReservedAt = &now

		if d.reserve(&handle{queue: queueName, stream: stream, msgID: msg.ID, env: env}) {
			return env.Clone(), nil
		}
	}
	return nil, nil
}

func (d *Driver) reserve(h *handle) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, busy := d.inFlight[h.msgID]; busy {
		return false
	}
	if _, busy := d.processing[h.env.ID]; busy {
		return false
	}
	d.inFlight[h.msgID] = struct{}{}
	d.processing[h.env.ID] = h
	return true
}

func (d *Driver) handle(id string) *handle {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.processing[id]
}

// release forgets a reservation; callers hold d.mu
func (d *Driver) release(id string) bool {
	h, ok := d.processing[id]
	if !ok {
		return false
	}
	delete(d.processing, id)
	delete(d.inFlight, h.msgID)
	return true
}

func (d *Driver) track(queueName string) {
	d.mu.Lock()
	d.queues[queueName] = struct{}{}
	d.mu.Unlock()
}

// ack acknowledges and deletes a message so finished work does not pile up
// in the stream
func (d *Driver) ack(ctx context.Context, stream, msgID string) error {
	_, err := d.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.XAck(ctx, stream, d.group, msgID)
		p.XDel(ctx, stream, msgID)
		return nil
	})
	return err
}

func (d *Driver) publish(ctx context.Context, stream string, env *queue.Envelope, extra ...string) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	values := map[string]any{payloadField: string(payload)}
	for i := 0; i+1 < len(extra); i += 2 {
		values[extra[i]] = extra[i+1]
	}

	return d.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: values,
	}).Err()
}

func decode(msg redis.XMessage) (*queue.Envelope, error) {
	raw, ok := msg.Values[payloadField].(string)
	if !ok {
		return nil, fmt.Errorf("%w: missing %q field", ErrMalformedMessage, payloadField)
	}

	var env queue.Envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return nil, errors.Join(ErrMalformedMessage, err)
	}
	if env.ID == "" || env.JobType == "" {
		return nil, fmt.Errorf("%w: envelope without id or type", ErrMalformedMessage)
	}
	return &env, nil
}
