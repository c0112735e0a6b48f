package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/dmitrymomot/jobqueue"
	"github.com/dmitrymomot/jobqueue/pkg/logger"
	"github.com/dmitrymomot/jobqueue/pkg/queue"
	"github.com/dmitrymomot/jobqueue/pkg/webhook"
)

// cleanupJob prunes completed jobs and archived failures
type cleanupJob struct {
	queue.BaseJob
	jobs *jobqueue.Jobs
}

type cleanupInput struct {
	Days int `json:"days"`
}

func (j *cleanupJob) Handle(ctx context.Context, data json.RawMessage) (any, error) {
	in, err := queue.Decode[cleanupInput](data)
	if err != nil {
		return nil, err
	}
	if in.Days <= 0 {
		in.Days = 7
	}

	completed, failed, err := j.jobs.Cleanup(ctx, in.Days)
	if errors.Is(err, queue.ErrNotSupported) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return map[string]int64{"completed": completed, "failed": failed}, nil
}

// webhookJob delivers a JSON body to an HTTP endpoint. Rejections that
// cannot succeed later (most 4xx) are not retried.
type webhookJob struct {
	queue.BaseJob
	sender *webhook.Sender
	logger *slog.Logger
}

func (j *webhookJob) Handle(ctx context.Context, data json.RawMessage) (any, error) {
	req, err := queue.Decode[webhook.Request](data)
	if err != nil {
		return nil, err
	}
	for _, a := range logger.AttrsFromContext(ctx) {
		if a.Key == logger.JobID("").Key {
			req.DeliveryID = a.Value.String()
		}
	}

	res, err := j.sender.Deliver(ctx, req)
	if err != nil {
		return nil, err
	}

	j.logger.DebugContext(ctx, "webhook delivered",
		slog.String("url", req.URL),
		slog.Int("status", res.StatusCode),
		logger.Duration(res.Duration))
	return res.StatusCode, nil
}

func (j *webhookJob) ShouldRetry(attempts int, err error) bool {
	return !webhook.IsPermanent(err) && attempts <= j.MaxRetries()
}

func (j *webhookJob) Failed(ctx context.Context, err error, data json.RawMessage) error {
	j.logger.ErrorContext(ctx, "webhook gave up", logger.Error(err))
	return nil
}

// builtinJobs maps the names used in schedule files to job factories
func builtinJobs(jobs *jobqueue.Jobs, sender *webhook.Sender, log *slog.Logger) map[string]queue.JobFactory {
	return map[string]queue.JobFactory{
		"cleanup": func() queue.Job {
			return &cleanupJob{jobs: jobs}
		},
		"webhook": func() queue.Job {
			j := &webhookJob{sender: sender, logger: log}
			j.SetRetryDelay(30 * time.Second)
			return j
		},
	}
}
