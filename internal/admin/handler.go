package admin

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dmitrymomot/jobqueue/pkg/logger"
	"github.com/dmitrymomot/jobqueue/pkg/queue"
)

// Queue is the subset of jobqueue.Jobs the admin endpoints need
type Queue interface {
	Health(ctx context.Context) error
	Stats(ctx context.Context, queueName string) (queue.Stats, error)
	FailedJobs(ctx context.Context, limit, offset int) ([]queue.FailedJob, error)
	Retry(ctx context.Context, failedID string) (string, error)
	Clear(ctx context.Context, queueName string) error
}

type handler struct {
	q      Queue
	logger *slog.Logger
}

// NewHandler returns the admin router:
//
//	GET    /health                  READY or NOT_READY
//	GET    /stats?queue=name        queue.Stats as JSON; no queue means all queues
//	GET    /failed?limit=&offset=   archived failures, newest first
//	POST   /failed/{id}/retry       re-queue a failure, returns the new job id
//	DELETE /queues/{queue}          drop every job of a queue
func NewHandler(q Queue, log *slog.Logger) http.Handler {
	if log == nil {
		log = slog.Default()
	}
	h := &handler{q: q, logger: log}

	r := chi.NewRouter()
	r.Use(withRequestID, middleware.Recoverer)

	r.Get("/health", h.health)
	r.Get("/stats", h.stats)
	r.Route("/failed", func(r chi.Router) {
		r.Get("/", h.failed)
		r.Post("/{id}/retry", h.retry)
	})
	r.Delete("/queues/{queue}", h.clear)

	return r
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	if err := h.q.Health(r.Context()); err != nil {
		h.logger.ErrorContext(r.Context(), "readiness check failed", logger.Error(err))
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("NOT_READY"))
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("READY"))
}

func (h *handler) stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.q.Stats(r.Context(), r.URL.Query().Get("queue"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, stats)
}

func (h *handler) failed(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", 50)
	if err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	offset, err := intParam(r, "offset", 0)
	if err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}

	jobs, err := h.q.FailedJobs(r.Context(), limit, offset)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if jobs == nil {
		jobs = []queue.FailedJob{}
	}
	h.writeJSON(w, http.StatusOK, jobs)
}

func (h *handler) retry(w http.ResponseWriter, r *http.Request) {
	id, err := h.q.Retry(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusAccepted, map[string]string{"job_id": id})
}

func (h *handler) clear(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "queue")
	if err := h.q.Clear(r.Context(), name); err != nil {
		h.fail(w, r, err)
		return
	}
	h.logger.InfoContext(r.Context(), "queue cleared via admin endpoint", logger.Queue(name))
	w.WriteHeader(http.StatusNoContent)
}

type errorBody struct {
	Error string `json:"error"`
}

func (h *handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, queue.ErrFailedJobNotFound):
		status = http.StatusNotFound
	case errors.Is(err, queue.ErrUnknownJobType), errors.Is(err, queue.ErrJobNotRegistered):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, queue.ErrNotSupported):
		status = http.StatusNotImplemented
	}
	if status == http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "admin request failed",
			slog.String("path", r.URL.Path),
			logger.Error(err))
	}
	h.writeJSON(w, status, errorBody{Error: err.Error()})
}

func (h *handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode admin response", logger.Error(err))
	}
}

func intParam(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.New("invalid " + name + " parameter")
	}
	return n, nil
}
