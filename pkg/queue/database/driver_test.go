package database_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/jobqueue/pkg/queue"
	"github.com/dmitrymomot/jobqueue/pkg/queue/database"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

var envelopeColumns = []string{
	"id", "queue", "job_type", "job_name", "data", "attempts", "max_retries", "timeout",
	"status", "created_at", "available_at", "reserved_at", "processed_at",
}

var failedColumns = []string{
	"id", "job_id", "queue", "job_type", "job_name", "data", "attempts", "error", "failed_at",
}

func newTestDriver(t *testing.T, opts ...database.Option) (*database.Driver, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	base := []database.Option{
		database.WithClock(func() time.Time { return testNow }),
		database.WithIDGenerator(func() string { return "archive-1" }),
	}
	driver, err := database.New(db, append(base, opts...)...)
	require.NoError(t, err)
	return driver, mock
}

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("nil db", func(t *testing.T) {
		t.Parallel()

		_, err := database.New(nil)
		assert.ErrorIs(t, err, database.ErrDBNil)
	})

	t.Run("invalid table name", func(t *testing.T) {
		t.Parallel()

		db, _, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		_, err = database.New(db, database.WithTables("jobs; DROP TABLE users", ""))
		assert.ErrorIs(t, err, database.ErrInvalidTableName)
	})
}

func TestDriver_Push(t *testing.T) {
	t.Parallel()

	driver, mock := newTestDriver(t)

	env := &queue.Envelope{
		ID:          "job-1",
		Queue:       "default",
		JobType:     "mail.Welcome",
		JobName:     "Welcome",
		Data:        json.RawMessage(`{"user_id":42}`),
		MaxRetries:  3,
		Timeout:     300,
		Status:      queue.StatusPending,
		CreatedAt:   testNow,
		AvailableAt: testNow.Add(time.Minute),
	}

	mock.ExpectExec(`INSERT INTO jobs \(id, queue, job_type`).
		WithArgs("job-1", "default", "mail.Welcome", "Welcome", `{"user_id":42}`, 0, 3, 300,
			"pending", testNow, testNow.Add(time.Minute), nil, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, driver.Push(context.Background(), env))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDriver_Pop(t *testing.T) {
	t.Parallel()

	t.Run("reserves the oldest available row", func(t *testing.T) {
		t.Parallel()

		driver, mock := newTestDriver(t)

		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT (.+) FROM jobs WHERE queue = \$1 AND status = \$2 AND available_at <= \$3 ORDER BY available_at, created_at LIMIT 1 FOR UPDATE SKIP LOCKED`).
			WithArgs("default", "pending", testNow).
			WillReturnRows(sqlmock.NewRows(envelopeColumns).AddRow(
				"job-1", "default", "mail.Welcome", "Welcome", `{"user_id":42}`, 1, 3, 300,
				"pending", testNow.Add(-time.Hour), testNow.Add(-time.Minute), nil, nil))
		mock.ExpectExec(`UPDATE jobs SET status = \$1, reserved_at = \$2 WHERE id = \$3 AND status = \$4`).
			WithArgs("processing", testNow, "job-1", "pending").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		env, err := driver.Pop(context.Background(), "default")
		require.NoError(t, err)
		require.NotNil(t, env)

		assert.Equal(t, "job-1", env.ID)
		assert.Equal(t, queue.StatusProcessing, env.Status)
		assert.Equal(t, 1, env.Attempts)
		assert.JSONEq(t, `{"user_id":42}`, string(env.Data))
		require.NotNil(t, env.ReservedAt)
		assert.Equal(t, testNow, *env.ReservedAt)
		assert.Nil(t, env.ProcessedAt)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("empty queue", func(t *testing.T) {
		t.Parallel()

		driver, mock := newTestDriver(t)

		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT (.+) FROM jobs`).
			WillReturnRows(sqlmock.NewRows(envelopeColumns))
		mock.ExpectRollback()

		env, err := driver.Pop(context.Background(), "default")
		require.NoError(t, err)
		assert.Nil(t, env)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("lost race returns nil", func(t *testing.T) {
		t.Parallel()

		driver, mock := newTestDriver(t)

		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT (.+) FROM jobs`).
			WillReturnRows(sqlmock.NewRows(envelopeColumns).AddRow(
				"job-1", "default", "mail.Welcome", "Welcome", nil, 0, 3, 300,
				"pending", testNow, testNow, nil, nil))
		mock.ExpectExec(`UPDATE jobs SET status`).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		env, err := driver.Pop(context.Background(), "default")
		require.NoError(t, err)
		assert.Nil(t, env)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("update error rolls back", func(t *testing.T) {
		t.Parallel()

		driver, mock := newTestDriver(t)
		dbErr := errors.New("deadlock detected")

		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT (.+) FROM jobs`).
			WillReturnRows(sqlmock.NewRows(envelopeColumns).AddRow(
				"job-1", "default", "mail.Welcome", "Welcome", nil, 0, 3, 300,
				"pending", testNow, testNow, nil, nil))
		mock.ExpectExec(`UPDATE jobs SET status`).WillReturnError(dbErr)
		mock.ExpectRollback()

		env, err := driver.Pop(context.Background(), "default")
		assert.Nil(t, env)
		assert.ErrorIs(t, err, dbErr)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("mysql placeholders", func(t *testing.T) {
		t.Parallel()

		driver, mock := newTestDriver(t, database.WithDialect(database.DialectMySQL))

		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT (.+) FROM jobs WHERE queue = \? AND status = \? AND available_at <= \?`).
			WithArgs("default", "pending", testNow).
			WillReturnRows(sqlmock.NewRows(envelopeColumns))
		mock.ExpectRollback()

		env, err := driver.Pop(context.Background(), "default")
		require.NoError(t, err)
		assert.Nil(t, env)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestDriver_MarkCompleted(t *testing.T) {
	t.Parallel()

	driver, mock := newTestDriver(t)

	// The second call matches no row and is still a success.
	mock.ExpectExec(`UPDATE jobs SET status = \$1, reserved_at = NULL, processed_at = \$2 WHERE id = \$3 AND status <> \$4`).
		WithArgs("completed", testNow, "job-1", "completed").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE jobs SET status = \$1, reserved_at = NULL`).
		WithArgs("completed", testNow, "job-1", "completed").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, driver.MarkCompleted(context.Background(), "job-1"))
	require.NoError(t, driver.MarkCompleted(context.Background(), "job-1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDriver_MarkFailed(t *testing.T) {
	t.Parallel()

	t.Run("updates and archives in one transaction", func(t *testing.T) {
		t.Parallel()

		driver, mock := newTestDriver(t)

		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE jobs SET status = \$1, attempts = \$2`).
			WithArgs("failed", 4, testNow, "job-1", "failed").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery(`SELECT queue, job_type, job_name, data FROM jobs WHERE id = \$1`).
			WithArgs("job-1").
			WillReturnRows(sqlmock.NewRows([]string{"queue", "job_type", "job_name", "data"}).
				AddRow("default", "mail.Welcome", "Welcome", `{"user_id":42}`))
		mock.ExpectExec(`INSERT INTO failed_jobs \(id, job_id, queue`).
			WithArgs("archive-1", "job-1", "default", "mail.Welcome", "Welcome", `{"user_id":42}`, 4, "smtp down", testNow).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		require.NoError(t, driver.MarkFailed(context.Background(), "job-1", 4, "smtp down"))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("repeat does not archive twice", func(t *testing.T) {
		t.Parallel()

		driver, mock := newTestDriver(t)

		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE jobs SET status = \$1, attempts = \$2`).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectCommit()

		require.NoError(t, driver.MarkFailed(context.Background(), "job-1", 4, "smtp down"))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("archive failure rolls back the status update", func(t *testing.T) {
		t.Parallel()

		driver, mock := newTestDriver(t)
		dbErr := errors.New("disk full")

		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE jobs SET status = \$1, attempts = \$2`).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery(`SELECT queue, job_type, job_name, data FROM jobs`).
			WillReturnRows(sqlmock.NewRows([]string{"queue", "job_type", "job_name", "data"}).
				AddRow("default", "mail.Welcome", "Welcome", nil))
		mock.ExpectExec(`INSERT INTO failed_jobs`).WillReturnError(dbErr)
		mock.ExpectRollback()

		err := driver.MarkFailed(context.Background(), "job-1", 4, "smtp down")
		assert.ErrorIs(t, err, dbErr)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestDriver_Retry(t *testing.T) {
	t.Parallel()

	t.Run("resets to pending with new availability", func(t *testing.T) {
		t.Parallel()

		driver, mock := newTestDriver(t)

		mock.ExpectExec(`UPDATE jobs SET status = \$1, attempts = \$2, available_at = \$3, reserved_at = NULL, processed_at = NULL WHERE id = \$4`).
			WithArgs("pending", 2, testNow.Add(2*time.Minute), "job-1").
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, driver.Retry(context.Background(), "job-1", 2, 2*time.Minute))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing row", func(t *testing.T) {
		t.Parallel()

		driver, mock := newTestDriver(t)
		mock.ExpectExec(`UPDATE jobs SET status`).WillReturnResult(sqlmock.NewResult(0, 0))

		err := driver.Retry(context.Background(), "job-1", 2, time.Minute)
		assert.ErrorIs(t, err, database.ErrJobNotFound)
	})
}

func TestDriver_Stats(t *testing.T) {
	t.Parallel()

	t.Run("single queue", func(t *testing.T) {
		t.Parallel()

		driver, mock := newTestDriver(t)

		mock.ExpectQuery(`SELECT status, COUNT\(\*\) FROM jobs WHERE queue = \$1 GROUP BY status`).
			WithArgs("default").
			WillReturnRows(sqlmock.NewRows([]string{"status", "count"}).
				AddRow("pending", 5).
				AddRow("processing", 1).
				AddRow("completed", 10).
				AddRow("failed", 2))
		mock.ExpectQuery(`SELECT COUNT\(\*\) FROM failed_jobs WHERE queue = \$1`).
			WithArgs("default").
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

		stats, err := driver.Stats(context.Background(), "default")
		require.NoError(t, err)
		assert.Equal(t, queue.Stats{
			Pending:     5,
			Processing:  1,
			Completed:   10,
			Failed:      2,
			Total:       18,
			FailedTotal: 2,
		}, stats)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("all queues", func(t *testing.T) {
		t.Parallel()

		driver, mock := newTestDriver(t)

		mock.ExpectQuery(`SELECT status, COUNT\(\*\) FROM jobs GROUP BY status`).
			WillReturnRows(sqlmock.NewRows([]string{"status", "count"}).AddRow("pending", 3))
		mock.ExpectQuery(`SELECT COUNT\(\*\) FROM failed_jobs`).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

		stats, err := driver.Stats(context.Background(), "")
		require.NoError(t, err)
		assert.Equal(t, int64(3), stats.Pending)
		assert.Equal(t, int64(3), stats.Total)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestDriver_FailedJobs(t *testing.T) {
	t.Parallel()

	t.Run("list", func(t *testing.T) {
		t.Parallel()

		driver, mock := newTestDriver(t)

		mock.ExpectQuery(`SELECT (.+) FROM failed_jobs ORDER BY failed_at DESC, id LIMIT \$1 OFFSET \$2`).
			WithArgs(10, 0).
			WillReturnRows(sqlmock.NewRows(failedColumns).
				AddRow("f-2", "job-2", "default", "mail.Welcome", "Welcome", nil, 4, "boom", testNow).
				AddRow("f-1", "job-1", "default", "mail.Welcome", "Welcome", `{"a":1}`, 4, "boom", testNow.Add(-time.Hour)))

		failed, err := driver.FailedJobs(context.Background(), 10, 0)
		require.NoError(t, err)
		require.Len(t, failed, 2)
		assert.Equal(t, "f-2", failed[0].ID)
		assert.Nil(t, failed[0].Data)
		assert.JSONEq(t, `{"a":1}`, string(failed[1].Data))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("get by id or job id", func(t *testing.T) {
		t.Parallel()

		driver, mock := newTestDriver(t)

		mock.ExpectQuery(`SELECT (.+) FROM failed_jobs WHERE id = \$1 OR job_id = \$2`).
			WithArgs("job-1", "job-1").
			WillReturnRows(sqlmock.NewRows(failedColumns).
				AddRow("f-1", "job-1", "default", "mail.Welcome", "Welcome", nil, 4, "boom", testNow))

		f, err := driver.FailedJob(context.Background(), "job-1")
		require.NoError(t, err)
		assert.Equal(t, "f-1", f.ID)
		assert.Equal(t, 4, f.Attempts)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("get missing", func(t *testing.T) {
		t.Parallel()

		driver, mock := newTestDriver(t)
		mock.ExpectQuery(`SELECT (.+) FROM failed_jobs WHERE id`).
			WillReturnRows(sqlmock.NewRows(failedColumns))

		_, err := driver.FailedJob(context.Background(), "nope")
		assert.ErrorIs(t, err, queue.ErrFailedJobNotFound)
	})
}

func TestDriver_Requeue(t *testing.T) {
	t.Parallel()

	env := &queue.Envelope{
		ID:          "job-2",
		Queue:       "default",
		JobType:     "mail.Welcome",
		JobName:     "Welcome",
		MaxRetries:  3,
		Timeout:     300,
		Status:      queue.StatusPending,
		CreatedAt:   testNow,
		AvailableAt: testNow,
	}

	t.Run("deletes archive and inserts envelope", func(t *testing.T) {
		t.Parallel()

		driver, mock := newTestDriver(t)

		mock.ExpectBegin()
		mock.ExpectExec(`DELETE FROM failed_jobs WHERE id = \$1`).
			WithArgs("f-1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`INSERT INTO jobs`).
			WithArgs("job-2", "default", "mail.Welcome", "Welcome", nil, 0, 3, 300,
				"pending", testNow, testNow, nil, nil).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		require.NoError(t, driver.Requeue(context.Background(), "f-1", env))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing archive entry", func(t *testing.T) {
		t.Parallel()

		driver, mock := newTestDriver(t)

		mock.ExpectBegin()
		mock.ExpectExec(`DELETE FROM failed_jobs`).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		err := driver.Requeue(context.Background(), "f-1", env)
		assert.ErrorIs(t, err, queue.ErrFailedJobNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestDriver_Cleanup(t *testing.T) {
	t.Parallel()

	cutoff := testNow.AddDate(0, 0, -7)

	t.Run("completed jobs", func(t *testing.T) {
		t.Parallel()

		driver, mock := newTestDriver(t)

		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT COUNT\(\*\) FROM jobs WHERE status = \$1 AND processed_at < \$2`).
			WithArgs("completed", cutoff).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(12))
		mock.ExpectExec(`DELETE FROM jobs WHERE status = \$1 AND processed_at < \$2`).
			WithArgs("completed", cutoff).
			WillReturnResult(sqlmock.NewResult(0, 12))
		mock.ExpectCommit()

		n, err := driver.CleanupCompletedJobs(context.Background(), 7)
		require.NoError(t, err)
		assert.Equal(t, int64(12), n)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("nothing to delete", func(t *testing.T) {
		t.Parallel()

		driver, mock := newTestDriver(t)

		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT COUNT\(\*\) FROM failed_jobs WHERE failed_at < \$1`).
			WithArgs(cutoff).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
		mock.ExpectCommit()

		n, err := driver.CleanupFailedJobs(context.Background(), 7)
		require.NoError(t, err)
		assert.Equal(t, int64(0), n)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestDriver_ReleaseStale(t *testing.T) {
	t.Parallel()

	driver, mock := newTestDriver(t)

	mock.ExpectExec(`UPDATE jobs SET status = \$1, reserved_at = NULL WHERE status = \$2 AND reserved_at < \$3`).
		WithArgs("pending", "processing", testNow.Add(-time.Hour)).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := driver.ReleaseStale(context.Background(), time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDriver_Clear(t *testing.T) {
	t.Parallel()

	driver, mock := newTestDriver(t, database.WithTables("queue_jobs", "queue_failed_jobs"))

	mock.ExpectExec(`DELETE FROM queue_jobs WHERE queue = \$1`).
		WithArgs("mail").
		WillReturnResult(sqlmock.NewResult(0, 4))

	require.NoError(t, driver.Clear(context.Background(), "mail"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDriver_WithQueue(t *testing.T) {
	t.Parallel()

	driver, mock := newTestDriver(t)

	q, err := queue.New(driver,
		queue.WithClock(func() time.Time { return testNow }),
		queue.WithIDGenerator(func() string { return "job-1" }))
	require.NoError(t, err)
	require.NoError(t, q.Register(func() queue.Job { return &welcomeJob{} }))

	mock.ExpectExec(`INSERT INTO jobs`).
		WithArgs("job-1", "default", "database_test.welcomeJob", "welcomeJob", `{"user_id":7}`, 0, 3, 300,
			"pending", testNow, testNow, nil, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))

	id, err := q.Push(context.Background(), &welcomeJob{}, map[string]int{"user_id": 7})
	require.NoError(t, err)
	assert.Equal(t, "job-1", id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

type welcomeJob struct {
	queue.BaseJob
}

func (j *welcomeJob) Handle(ctx context.Context, data json.RawMessage) (any, error) {
	return nil, nil
}

func TestHealthcheck(t *testing.T) {
	t.Parallel()

	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectPing()
	mock.ExpectPing().WillReturnError(sql.ErrConnDone)

	check := database.Healthcheck(db)
	require.NoError(t, check(context.Background()))
	assert.ErrorIs(t, check(context.Background()), database.ErrHealthcheckFailed)
}
