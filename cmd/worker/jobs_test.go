package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/jobqueue/pkg/queue"
	"github.com/dmitrymomot/jobqueue/pkg/webhook"
)

func TestWebhookJob(t *testing.T) {
	t.Parallel()

	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		switch r.URL.Path {
		case "/gone":
			w.WriteHeader(http.StatusGone)
		case "/down":
			w.WriteHeader(http.StatusBadGateway)
		default:
			assert.Equal(t, http.MethodPut, r.Method)
			w.WriteHeader(http.StatusNoContent)
		}
	}))
	defer srv.Close()

	_, factories := newTestJobs(t)
	job := factories["webhook"]()
	ctx := context.Background()

	data, err := json.Marshal(map[string]any{
		"url":    srv.URL + "/ok",
		"method": "put",
		"body":   map[string]int{"id": 1},
	})
	require.NoError(t, err)

	res, err := job.Handle(ctx, data)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, res)
	assert.JSONEq(t, `{"id":1}`, gotBody)

	policy, ok := job.(queue.RetryPolicy)
	require.True(t, ok)

	_, err = job.Handle(ctx, json.RawMessage(`{"url":"`+srv.URL+`/gone"}`))
	assert.ErrorIs(t, err, webhook.ErrPermanentFailure)
	assert.False(t, policy.ShouldRetry(1, err))

	_, err = job.Handle(ctx, json.RawMessage(`{"url":"`+srv.URL+`/down"}`))
	assert.ErrorIs(t, err, webhook.ErrTemporaryFailure)
	assert.True(t, policy.ShouldRetry(1, err))
	assert.False(t, policy.ShouldRetry(job.MaxRetries()+1, err))

	_, err = job.Handle(ctx, json.RawMessage(`{}`))
	assert.ErrorIs(t, err, webhook.ErrInvalidURL)
}

func TestWebhookJob_ThroughQueue(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	var delivery atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		delivery.Store(r.Header.Get(webhook.HeaderDelivery))
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	ctx := context.Background()
	jobs, _ := newTestJobs(t)
	sender := webhook.New(webhook.WithSecret("k"))
	factory := builtinJobs(jobs, sender, discard())["webhook"]

	id, err := jobs.Dispatch(ctx, factory(), webhook.Request{URL: srv.URL, Body: []byte(`{"a":1}`)})
	require.NoError(t, err)
	require.NoError(t, jobs.Work(ctx, "default", 1))

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, id, delivery.Load())

	failed, err := jobs.FailedJobs(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, id, failed[0].JobID)
	assert.Contains(t, failed[0].Error, "status 401")
}

func TestCleanupJob(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	jobs, factories := newTestJobs(t)

	_, err := jobs.Dispatch(ctx, factories["cleanup"](), map[string]int{"days": 1})
	require.NoError(t, err)
	require.NoError(t, jobs.Work(ctx, "", 1))

	stats, err := jobs.Stats(ctx, "default")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Completed)

	res, err := factories["cleanup"]().Handle(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"completed": 0, "failed": 0}, res)
}

func TestParseFlags(t *testing.T) {
	t.Parallel()

	f, err := parseFlags([]string{"-queue", "mail", "-workers", "3", "-max-jobs", "10", "-schedule", "s.yaml", "-admin", ":9000"})
	require.NoError(t, err)
	assert.Equal(t, flags{queue: "mail", workers: 3, maxJobs: 10, schedule: "s.yaml", adminAddr: ":9000"}, f)

	_, err = parseFlags([]string{"-workers", "-1"})
	assert.Error(t, err)

	_, err = parseFlags([]string{"-unknown"})
	assert.Error(t, err)
}
