package jobqueue_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/jobqueue"
	"github.com/dmitrymomot/jobqueue/pkg/config"
	"github.com/dmitrymomot/jobqueue/pkg/queue"
	"github.com/dmitrymomot/jobqueue/pkg/queue/redisstream"
)

type welcomeJob struct {
	queue.BaseJob
}

func (j *welcomeJob) Handle(ctx context.Context, data json.RawMessage) (any, error) {
	in, err := queue.Decode[struct {
		UserID int `json:"user_id"`
	}](data)
	if err != nil {
		return nil, err
	}
	if in.UserID == 0 {
		return nil, errors.New("missing user")
	}
	return in.UserID, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newMemoryJobs(t *testing.T, opts ...jobqueue.Option) *jobqueue.Jobs {
	t.Helper()

	cfg := jobqueue.Config{Driver: jobqueue.DriverMemory}
	cfg.Queue.Sleep = time.Millisecond

	base := []jobqueue.Option{
		jobqueue.WithLogger(discardLogger()),
		jobqueue.WithJobs(func() queue.Job { return &welcomeJob{} }),
		jobqueue.WithQueueOptions(queue.WithMemoryUsage(func() uint64 { return 0 })),
	}
	jobs := jobqueue.New(cfg, append(base, opts...)...)
	t.Cleanup(func() { jobs.Close() })
	return jobs
}

func TestJobs_UnknownDriver(t *testing.T) {
	t.Parallel()

	jobs := jobqueue.New(jobqueue.Config{Driver: "kafka"}, jobqueue.WithLogger(discardLogger()))

	_, err := jobs.Dispatch(context.Background(), &welcomeJob{}, nil)
	assert.ErrorIs(t, err, jobqueue.ErrUnknownDriver)

	_, err = jobs.Stats(context.Background(), "")
	assert.ErrorIs(t, err, jobqueue.ErrUnknownDriver)
}

func TestJobs_DispatchAndWork(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	jobs := newMemoryJobs(t)

	var results []any
	jobs.Listen(queue.EventJobProcessed, func(ctx context.Context, e queue.Event) {
		results = append(results, e.Result)
	})

	id, err := jobs.Dispatch(ctx, &welcomeJob{}, map[string]int{"user_id": 42})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	stats, err := jobs.Stats(ctx, "default")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Pending)

	require.NoError(t, jobs.Work(ctx, "default", 1))
	assert.Equal(t, []any{42}, results)

	stats, err = jobs.Stats(ctx, "default")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Completed)
	assert.NoError(t, jobs.Health(ctx))
}

func TestJobs_DispatchLater(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	jobs := newMemoryJobs(t)

	_, err := jobs.DispatchLater(ctx, time.Hour, &welcomeJob{}, map[string]int{"user_id": 1})
	require.NoError(t, err)

	q, err := jobs.Queue(ctx)
	require.NoError(t, err)
	env, err := q.Pop(ctx, "default")
	require.NoError(t, err)
	assert.Nil(t, env)
}

func TestJobs_RetryFailed(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	jobs := newMemoryJobs(t)

	job := &welcomeJob{}
	job.SetMaxRetries(0)
	_, err := jobs.Dispatch(ctx, job, map[string]int{})
	require.NoError(t, err)
	require.NoError(t, jobs.Work(ctx, "default", 1))

	failed, err := jobs.FailedJobs(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "missing user", failed[0].Error)

	newID, err := jobs.Retry(ctx, failed[0].ID)
	require.NoError(t, err)
	assert.NotEqual(t, failed[0].JobID, newID)

	failed, err = jobs.FailedJobs(ctx, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, failed)

	completed, purged, err := jobs.Cleanup(ctx, 30)
	require.NoError(t, err)
	assert.Equal(t, int64(0), completed)
	assert.Equal(t, int64(0), purged)

	require.NoError(t, jobs.Clear(ctx, "default"))
	stats, err := jobs.Stats(ctx, "default")
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.Pending)
}

func TestJobs_Schedule(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	jobs := newMemoryJobs(t)

	_, err := jobs.ScheduleIn(ctx, &welcomeJob{}, 0, map[string]int{"user_id": 1}, "reports")
	require.NoError(t, err)
	_, err = jobs.ScheduleDaily(ctx, &welcomeJob{}, "03:00", nil, "")
	require.NoError(t, err)
	_, err = jobs.ScheduleWeekly(ctx, &welcomeJob{}, time.Monday, "09:00", nil, "")
	require.NoError(t, err)
	_, err = jobs.ScheduleCron(ctx, &welcomeJob{}, "0 * * * *", nil, "")
	require.NoError(t, err)
	_, err = jobs.ScheduleEvery(ctx, &welcomeJob{}, time.Hour, nil, "")
	require.NoError(t, err)
	_, err = jobs.ScheduleAt(ctx, &welcomeJob{}, time.Now().Add(time.Hour), nil, "")
	require.NoError(t, err)

	_, err = jobs.ScheduleCron(ctx, &welcomeJob{}, "not cron", nil, "")
	assert.ErrorIs(t, err, queue.ErrInvalidSchedule)

	pushed, err := jobs.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, pushed)

	stats, err := jobs.Stats(ctx, "reports")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Pending)

	s, err := jobs.Scheduler(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, s.Len())
}

func TestJobs_Close(t *testing.T) {
	t.Parallel()

	jobs := newMemoryJobs(t)
	require.NoError(t, jobs.Close())
	require.NoError(t, jobs.Close())

	_, err := jobs.Dispatch(context.Background(), &welcomeJob{}, nil)
	assert.ErrorIs(t, err, jobqueue.ErrClosed)
}

func TestJobs_BuildRetriedAfterFailure(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	cfg := jobqueue.Config{Driver: jobqueue.DriverRedis}
	cfg.Redis = redisstream.Config{
		ConnectionURL:  "redis://" + addr + "/0",
		RetryAttempts:  1,
		ConnectTimeout: time.Second,
		GroupID:        "jobqueue",
		TopicPrefix:    "jobqueue:",
	}
	jobs := jobqueue.New(cfg,
		jobqueue.WithLogger(discardLogger()),
		jobqueue.WithJobs(func() queue.Job { return &welcomeJob{} }))
	t.Cleanup(func() { jobs.Close() })

	ctx := context.Background()
	_, err := jobs.Dispatch(ctx, &welcomeJob{}, map[string]int{"user_id": 1})
	require.ErrorIs(t, err, redisstream.ErrRedisNotReady)

	require.NoError(t, mr.Restart())

	id, err := jobs.Dispatch(ctx, &welcomeJob{}, map[string]int{"user_id": 1})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.NoError(t, jobs.Health(ctx))
}

func TestJobs_StopBeforeBuild(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	jobs := newMemoryJobs(t)
	jobs.Stop()

	_, err := jobs.Dispatch(ctx, &welcomeJob{}, map[string]int{"user_id": 7})
	require.NoError(t, err)
	require.NoError(t, jobs.Work(ctx, "default", 0))

	stats, err := jobs.Stats(ctx, "default")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Pending)

	jobs.Resume()
	require.NoError(t, jobs.Work(ctx, "default", 1))

	stats, err = jobs.Stats(ctx, "default")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Completed)
}

func TestJobs_StopConcurrentWithBuild(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	jobs := newMemoryJobs(t)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := jobs.Stats(ctx, "")
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			jobs.Stop()
		}()
	}
	wg.Wait()

	q, err := jobs.Queue(ctx)
	require.NoError(t, err)
	assert.True(t, q.Stopping())
}

func TestJobs_WithDB(t *testing.T) {
	t.Parallel()

	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()

	jobs := jobqueue.New(jobqueue.Config{Driver: jobqueue.DriverDatabase},
		jobqueue.WithDB(db),
		jobqueue.WithLogger(discardLogger()),
		jobqueue.WithJobs(func() queue.Job { return &welcomeJob{} }))

	mock.ExpectExec(`INSERT INTO jobs`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectPing()

	ctx := context.Background()
	_, err = jobs.Dispatch(ctx, &welcomeJob{}, map[string]int{"user_id": 1})
	require.NoError(t, err)
	require.NoError(t, jobs.Health(ctx))

	require.NoError(t, jobs.Close())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConfig_FromEnvironment(t *testing.T) {
	t.Parallel()

	cfg, err := config.Parse[jobqueue.Config](config.WithEnvironment(map[string]string{
		"QUEUE_DRIVER":           "redis",
		"QUEUE_DEFAULT":          "mail",
		"QUEUE_MAX_TRIES":        "5",
		"QUEUE_REDIS_URL":        "redis://cache:6379/1",
		"QUEUE_REDIS_CLAIM_IDLE": "1m",
		"QUEUE_DB_TABLE":         "queue_jobs",
	}))
	require.NoError(t, err)

	assert.Equal(t, jobqueue.DriverRedis, cfg.Driver)
	assert.Equal(t, "mail", cfg.Queue.DefaultQueue)
	assert.Equal(t, 5, cfg.Queue.MaxTries)
	assert.Equal(t, 30*time.Second, cfg.Queue.SchedulerInterval)
	assert.Equal(t, "redis://cache:6379/1", cfg.Redis.ConnectionURL)
	assert.Equal(t, time.Minute, cfg.Redis.ClaimIdle)
	assert.Equal(t, "jobqueue", cfg.Redis.GroupID)
	assert.Equal(t, "queue_jobs", cfg.Database.Table)
	assert.Equal(t, "postgres", cfg.Database.Dialect)
}
