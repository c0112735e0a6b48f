package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/jobqueue/pkg/queue"
)

// DB is the subset of *sql.DB the driver needs
type DB interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const (
	jobColumns    = "id, queue, job_type, job_name, data, attempts, max_retries, timeout, status, created_at, available_at, reserved_at, processed_at"
	failedColumns = "id, job_id, queue, job_type, job_name, data, attempts, error, failed_at"
)

// Driver stores envelopes in a relational table. Reservation is a
// transaction: the candidate row is locked with FOR UPDATE SKIP LOCKED and
// flipped to processing by a status-guarded UPDATE.
type Driver struct {
	db      DB
	dialect Dialect

	table       string
	failedTable string

	now   func() time.Time
	newID func() string

	q queries
}

type queries struct {
	push           string
	popSelect      string
	popReserve     string
	markCompleted  string
	markFailed     string
	archiveSource  string
	archive        string
	retry          string
	statsAll       string
	statsQueue     string
	failedAll      string
	failedQueue    string
	clear          string
	failedList     string
	failedGet      string
	failedDelete   string
	completedCount string
	completedPurge string
	failedCount    string
	failedPurge    string
	releaseStale   string
}

// New creates a database driver over db
func New(db DB, opts ...Option) (*Driver, error) {
	if db == nil {
		return nil, ErrDBNil
	}

	options := &options{
		dialect:     DialectPostgres,
		table:       "jobs",
		failedTable: "failed_jobs",
		now:         time.Now,
		newID:       uuid.NewString,
	}
	for _, opt := range opts {
		opt(options)
	}

	if err := validTableName(options.table); err != nil {
		return nil, err
	}
	if err := validTableName(options.failedTable); err != nil {
		return nil, err
	}

	d := &Driver{
		db:          db,
		dialect:     options.dialect,
		table:       options.table,
		failedTable: options.failedTable,
		now:         options.now,
		newID:       options.newID,
	}
	d.q = buildQueries(d.dialect, d.table, d.failedTable)

	return d, nil
}

func buildQueries(d Dialect, table, failed string) queries {
	f := func(format string, args ...any) string {
		return d.rebind(fmt.Sprintf(format, args...))
	}

	return queries{
		push: f("INSERT INTO %s (%s) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)", table, jobColumns),
		popSelect: f("SELECT %s FROM %s WHERE queue = ? AND status = ? AND available_at <= ? "+
			"ORDER BY available_at, created_at LIMIT 1 FOR UPDATE SKIP LOCKED", jobColumns, table),
		popReserve:    f("UPDATE %s SET status = ?, reserved_at = ? WHERE id = ? AND status = ?", table),
		markCompleted: f("UPDATE %s SET status = ?, reserved_at = NULL, processed_at = ? WHERE id = ? AND status <> ?", table),
		markFailed:    f("UPDATE %s SET status = ?, attempts = ?, reserved_at = NULL, processed_at = ? WHERE id = ? AND status <> ?", table),
		archiveSource: f("SELECT queue, job_type, job_name, data FROM %s WHERE id = ?", table),
		archive:       f("INSERT INTO %s (%s) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)", failed, failedColumns),
		retry:         f("UPDATE %s SET status = ?, attempts = ?, available_at = ?, reserved_at = NULL, processed_at = NULL WHERE id = ?", table),

		statsAll:    f("SELECT status, COUNT(*) FROM %s GROUP BY status", table),
		statsQueue:  f("SELECT status, COUNT(*) FROM %s WHERE queue = ? GROUP BY status", table),
		failedAll:   f("SELECT COUNT(*) FROM %s", failed),
		failedQueue: f("SELECT COUNT(*) FROM %s WHERE queue = ?", failed),
		clear:       f("DELETE FROM %s WHERE queue = ?", table),

		failedList:   f("SELECT %s FROM %s ORDER BY failed_at DESC, id LIMIT ? OFFSET ?", failedColumns, failed),
		failedGet:    f("SELECT %s FROM %s WHERE id = ? OR job_id = ? ORDER BY failed_at DESC LIMIT 1", failedColumns, failed),
		failedDelete: f("DELETE FROM %s WHERE id = ?", failed),

		completedCount: f("SELECT COUNT(*) FROM %s WHERE status = ? AND processed_at < ?", table),
		completedPurge: f("DELETE FROM %s WHERE status = ? AND processed_at < ?", table),
		failedCount:    f("SELECT COUNT(*) FROM %s WHERE failed_at < ?", failed),
		failedPurge:    f("DELETE FROM %s WHERE failed_at < ?", failed),
		releaseStale:   f("UPDATE %s SET status = ?, reserved_at = NULL WHERE status = ? AND reserved_at < ?", table),
	}
}

// Push implements queue.Driver
func (d *Driver) Push(ctx context.Context, env *queue.Envelope) error {
	if env == nil {
		return errors.New("envelope cannot be nil")
	}

	_, err := d.db.ExecContext(ctx, d.q.push,
		env.ID,
		env.Queue,
		env.JobType,
		env.JobName,
		nullData(env.Data),
		env.Attempts,
		env.MaxRetries,
		env.Timeout,
		string(env.Status),
		env.CreatedAt.UTC(),
		env.AvailableAt.UTC(),
		nullTime(env.ReservedAt),
		nullTime(env.ProcessedAt),
	)
	if err != nil {
		return fmt.Errorf("insert job %s: %w", env.ID, err)
	}
	return nil
}

// Pop implements queue.Driver. Two workers racing for the same row never both
// win: the loser either skips the locked row or sees zero rows updated.
func (d *Driver) Pop(ctx context.Context, queueName string) (env *queue.Envelope, err error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil || env == nil {
			_ = tx.Rollback()
		}
	}()

	now := d.now().UTC()

	env, err = scanEnvelope(tx.QueryRowContext(ctx, d.q.popSelect, queueName, string(queue.StatusPending), now))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select next job: %w", err)
	}

	res, err := tx.ExecContext(ctx, d.q.popReserve,
		string(queue.StatusProcessing), now, env.ID, string(queue.StatusPending))
	if err != nil {
		return nil, fmt.Errorf("reserve job %s: %w", env.ID, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return nil, fmt.Errorf("reserve job %s: %w", env.ID, err)
	} else if n == 0 {
		// Another worker committed first.
		return nil, nil
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit reservation of job %s: %w", env.ID, err)
	}

	env.Status = queue.StatusProcessing
	env.ReservedAt = &now
	return env, nil
}

// MarkCompleted implements queue.Driver
func (d *Driver) MarkCompleted(ctx context.Context, id string) error {
	_, err := d.db.ExecContext(ctx, d.q.markCompleted,
		string(queue.StatusCompleted), d.now().UTC(), id, string(queue.StatusCompleted))
	if err != nil {
		return fmt.Errorf("mark job %s completed: %w", id, err)
	}
	return nil
}

// MarkFailed implements queue.Driver. The status update and the archive insert
// share one transaction; a repeated call finds the row already failed and
// archives nothing.
func (d *Driver) MarkFailed(ctx context.Context, id string, attempts int, errMsg string) error {
	return d.inTx(ctx, func(tx *sql.Tx) error {
		now := d.now().UTC()

		res, err := tx.ExecContext(ctx, d.q.markFailed,
			string(queue.StatusFailed), attempts, now, id, string(queue.StatusFailed))
		if err != nil {
			return fmt.Errorf("mark job %s failed: %w", id, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("mark job %s failed: %w", id, err)
		}
		if n == 0 {
			return nil
		}

		var (
			queueName, jobType, jobName string
			data                        sql.NullString
		)
		if err := tx.QueryRowContext(ctx, d.q.archiveSource, id).Scan(&queueName, &jobType, &jobName, &data); err != nil {
			return fmt.Errorf("load failed job %s: %w", id, err)
		}

		_, err = tx.ExecContext(ctx, d.q.archive,
			d.newID(), id, queueName, jobType, jobName, data, attempts, errMsg, now)
		if err != nil {
			return fmt.Errorf("archive failed job %s: %w", id, err)
		}
		return nil
	})
}

// Retry implements queue.Driver
func (d *Driver) Retry(ctx context.Context, id string, attempts int, delay time.Duration) error {
	res, err := d.db.ExecContext(ctx, d.q.retry,
		string(queue.StatusPending), attempts, d.now().UTC().Add(delay), id)
	if err != nil {
		return fmt.Errorf("retry job %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return nil
}

// Stats implements queue.Driver
func (d *Driver) Stats(ctx context.Context, queueName string) (queue.Stats, error) {
	stats, err := d.countByStatus(ctx, queueName)
	if err != nil {
		return stats, err
	}

	var row *sql.Row
	if queueName == "" {
		row = d.db.QueryRowContext(ctx, d.q.failedAll)
	} else {
		row = d.db.QueryRowContext(ctx, d.q.failedQueue, queueName)
	}
	if err := row.Scan(&stats.FailedTotal); err != nil {
		return stats, fmt.Errorf("count failed jobs: %w", err)
	}

	return stats, nil
}

// Clear implements queue.Driver
func (d *Driver) Clear(ctx context.Context, queueName string) error {
	if _, err := d.db.ExecContext(ctx, d.q.clear, queueName); err != nil {
		return fmt.Errorf("clear queue %s: %w", queueName, err)
	}
	return nil
}

// FailedJobs implements queue.Driver
func (d *Driver) FailedJobs(ctx context.Context, limit, offset int) ([]queue.FailedJob, error) {
	rows, err := d.db.QueryContext(ctx, d.q.failedList, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list failed jobs: %w", err)
	}
	defer rows.Close()

	out := make([]queue.FailedJob, 0, limit)
	for rows.Next() {
		f, err := scanFailed(rows)
		if err != nil {
			return nil, fmt.Errorf("scan failed job: %w", err)
		}
		out = append(out, *f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list failed jobs: %w", err)
	}
	return out, nil
}

// FailedJob implements queue.Driver
func (d *Driver) FailedJob(ctx context.Context, id string) (*queue.FailedJob, error) {
	f, err := scanFailed(d.db.QueryRowContext(ctx, d.q.failedGet, id, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, queue.ErrFailedJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get failed job %s: %w", id, err)
	}
	return f, nil
}

// Requeue implements queue.Driver
func (d *Driver) Requeue(ctx context.Context, failedID string, env *queue.Envelope) error {
	return d.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, d.q.failedDelete, failedID)
		if err != nil {
			return fmt.Errorf("delete failed job %s: %w", failedID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("delete failed job %s: %w", failedID, err)
		}
		if n == 0 {
			return queue.ErrFailedJobNotFound
		}

		_, err = tx.ExecContext(ctx, d.q.push,
			env.ID,
			env.Queue,
			env.JobType,
			env.JobName,
			nullData(env.Data),
			env.Attempts,
			env.MaxRetries,
			env.Timeout,
			string(env.Status),
			env.CreatedAt.UTC(),
			env.AvailableAt.UTC(),
			nullTime(env.ReservedAt),
			nullTime(env.ProcessedAt),
		)
		if err != nil {
			return fmt.Errorf("insert re-queued job %s: %w", env.ID, err)
		}
		return nil
	})
}

// CleanupCompletedJobs implements queue.Cleaner
func (d *Driver) CleanupCompletedJobs(ctx context.Context, days int) (int64, error) {
	cutoff := d.now().UTC().AddDate(0, 0, -days)
	return d.countAndDelete(ctx, d.q.completedCount, d.q.completedPurge, string(queue.StatusCompleted), cutoff)
}

// CleanupFailedJobs implements queue.Cleaner
func (d *Driver) CleanupFailedJobs(ctx context.Context, days int) (int64, error) {
	cutoff := d.now().UTC().AddDate(0, 0, -days)
	return d.countAndDelete(ctx, d.q.failedCount, d.q.failedPurge, cutoff)
}

// ReleaseStale implements queue.StaleReleaser
func (d *Driver) ReleaseStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	res, err := d.db.ExecContext(ctx, d.q.releaseStale,
		string(queue.StatusPending), string(queue.StatusProcessing), d.now().UTC().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("release stale jobs: %w", err)
	}
	return res.RowsAffected()
}

// Close implements queue.Driver. The database handle belongs to the caller.
func (d *Driver) Close() error {
	return nil
}

func (d *Driver) countByStatus(ctx context.Context, queueName string) (queue.Stats, error) {
	var (
		stats queue.Stats
		rows  *sql.Rows
		err   error
	)

	if queueName == "" {
		rows, err = d.db.QueryContext(ctx, d.q.statsAll)
	} else {
		rows, err = d.db.QueryContext(ctx, d.q.statsQueue, queueName)
	}
	if err != nil {
		return stats, fmt.Errorf("count jobs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			status string
			count  int64
		)
		if err := rows.Scan(&status, &count); err != nil {
			return stats, fmt.Errorf("scan job counts: %w", err)
		}
		stats.Add(queue.Status(status), count)
	}
	if err := rows.Err(); err != nil {
		return stats, fmt.Errorf("count jobs: %w", err)
	}
	return stats, nil
}

func (d *Driver) countAndDelete(ctx context.Context, countQuery, deleteQuery string, args ...any) (int64, error) {
	var count int64
	err := d.inTx(ctx, func(tx *sql.Tx) error {
		if err := tx.QueryRowContext(ctx, countQuery, args...).Scan(&count); err != nil {
			return fmt.Errorf("count rows to clean up: %w", err)
		}
		if count == 0 {
			return nil
		}
		if _, err := tx.ExecContext(ctx, deleteQuery, args...); err != nil {
			return fmt.Errorf("clean up rows: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// inTx runs fn in a transaction, rolling back on any error
func (d *Driver) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return errors.Join(err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEnvelope(s scanner) (*queue.Envelope, error) {
	var (
		env         queue.Envelope
		data        sql.NullString
		status      string
		reservedAt  sql.NullTime
		processedAt sql.NullTime
	)

	err := s.Scan(
		&env.ID,
		&env.Queue,
		&env.JobType,
		&env.JobName,
		&data,
		&env.Attempts,
		&env.MaxRetries,
		&env.Timeout,
		&status,
		&env.CreatedAt,
		&env.AvailableAt,
		&reservedAt,
		&processedAt,
	)
	if err != nil {
		return nil, err
	}

	env.Status = queue.Status(status)
	if data.Valid {
		env.Data = json.RawMessage(data.String)
	}
	if reservedAt.Valid {
		t := reservedAt.Time
		env.ReservedAt = &t
	}
	if processedAt.Valid {
		t := processedAt.Time
		env.ProcessedAt = &t
	}
	return &env, nil
}

func scanFailed(s scanner) (*queue.FailedJob, error) {
	var (
		f    queue.FailedJob
		data sql.NullString
	)

	err := s.Scan(
		&f.ID,
		&f.JobID,
		&f.Queue,
		&f.JobType,
		&f.JobName,
		&data,
		&f.Attempts,
		&f.Error,
		&f.FailedAt,
	)
	if err != nil {
		return nil, err
	}
	if data.Valid {
		f.Data = json.RawMessage(data.String)
	}
	return &f, nil
}

func nullData(data json.RawMessage) sql.NullString {
	s := strings.TrimSpace(string(data))
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
