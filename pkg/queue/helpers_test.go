package queue_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/dmitrymomot/jobqueue/pkg/queue"
)

// MockDriver is a mock implementation of queue.Driver
type MockDriver struct {
	mock.Mock
}

func (m *MockDriver) Push(ctx context.Context, env *queue.Envelope) error {
	args := m.Called(ctx, env)
	return args.Error(0)
}

func (m *MockDriver) Pop(ctx context.Context, q string) (*queue.Envelope, error) {
	args := m.Called(ctx, q)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*queue.Envelope), args.Error(1)
}

func (m *MockDriver) MarkCompleted(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockDriver) MarkFailed(ctx context.Context, id string, attempts int, errMsg string) error {
	args := m.Called(ctx, id, attempts, errMsg)
	return args.Error(0)
}

func (m *MockDriver) Retry(ctx context.Context, id string, attempts int, delay time.Duration) error {
	args := m.Called(ctx, id, attempts, delay)
	return args.Error(0)
}

func (m *MockDriver) Stats(ctx context.Context, q string) (queue.Stats, error) {
	args := m.Called(ctx, q)
	return args.Get(0).(queue.Stats), args.Error(1)
}

func (m *MockDriver) Clear(ctx context.Context, q string) error {
	args := m.Called(ctx, q)
	return args.Error(0)
}

func (m *MockDriver) FailedJobs(ctx context.Context, limit, offset int) ([]queue.FailedJob, error) {
	args := m.Called(ctx, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]queue.FailedJob), args.Error(1)
}

func (m *MockDriver) FailedJob(ctx context.Context, id string) (*queue.FailedJob, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*queue.FailedJob), args.Error(1)
}

func (m *MockDriver) Requeue(ctx context.Context, failedID string, env *queue.Envelope) error {
	args := m.Called(ctx, failedID, env)
	return args.Error(0)
}

func (m *MockDriver) Close() error {
	args := m.Called()
	return args.Error(0)
}

// funcJob delegates Handle to a closure shared through its factory
type funcJob struct {
	queue.BaseJob
	fn func(ctx context.Context, data json.RawMessage) (any, error)
}

func (j *funcJob) Handle(ctx context.Context, data json.RawMessage) (any, error) {
	if j.fn == nil {
		return nil, nil
	}
	return j.fn(ctx, data)
}

func funcJobFactory(fn func(ctx context.Context, data json.RawMessage) (any, error)) queue.JobFactory {
	return func() queue.Job { return &funcJob{fn: fn} }
}

// otherJob is a second type for registry tests
type otherJob struct {
	queue.BaseJob
}

func (j *otherJob) Handle(ctx context.Context, data json.RawMessage) (any, error) {
	return "ok", nil
}

// hookJob records its terminal failure hook
type hookJob struct {
	queue.BaseJob
	failed chan error
}

func (j *hookJob) Handle(ctx context.Context, data json.RawMessage) (any, error) {
	return nil, errTestJob
}

func (j *hookJob) Failed(ctx context.Context, err error, data json.RawMessage) error {
	j.failed <- err
	return nil
}

// noRetryJob never retries, whatever its MaxRetries says
type noRetryJob struct {
	queue.BaseJob
}

func (j *noRetryJob) Handle(ctx context.Context, data json.RawMessage) (any, error) {
	return nil, errTestJob
}

func (j *noRetryJob) ShouldRetry(attempts int, err error) bool { return false }

type testError string

func (e testError) Error() string { return string(e) }

const errTestJob = testError("job failed")

// testClock is a manually advanced clock
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock(t time.Time) *testClock {
	return &testClock{t: t}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newMemoryQueue builds a queue over a memory driver sharing one clock
func newMemoryQueue(clock *testClock, opts ...queue.Option) (*queue.JobQueue, *queue.MemoryDriver, error) {
	driver := queue.NewMemoryDriver()
	driver.SetClock(clock.Now)

	base := []queue.Option{
		queue.WithLogger(discardLogger()),
		queue.WithClock(clock.Now),
		queue.WithSleep(5 * time.Millisecond),
		queue.WithMemoryUsage(func() uint64 { return 0 }),
	}
	q, err := queue.New(driver, append(base, opts...)...)
	return q, driver, err
}
