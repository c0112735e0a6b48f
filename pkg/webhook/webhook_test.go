package webhook_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/jobqueue/pkg/webhook"
)

func TestSender_Deliver(t *testing.T) {
	t.Parallel()

	t.Run("signed post", func(t *testing.T) {
		t.Parallel()

		var received atomic.Bool
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, _ := io.ReadAll(r.Body)
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
			assert.Equal(t, "job-1", r.Header.Get(webhook.HeaderDelivery))
			assert.Equal(t, "yes", r.Header.Get("X-Custom"))
			assert.NoError(t, webhook.Verify("s3cret", body, r.Header, time.Minute, time.Now()))
			received.Store(true)
			w.WriteHeader(http.StatusAccepted)
		}))
		defer srv.Close()

		s := webhook.New(webhook.WithSecret("s3cret"))
		res, err := s.Deliver(context.Background(), webhook.Request{
			URL:        srv.URL,
			Body:       []byte(`{"event":"user.created"}`),
			Headers:    map[string]string{"X-Custom": "yes"},
			DeliveryID: "job-1",
		})
		require.NoError(t, err)
		assert.Equal(t, http.StatusAccepted, res.StatusCode)
		assert.True(t, received.Load())
	})

	t.Run("request secret wins and method is honoured", func(t *testing.T) {
		t.Parallel()

		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPut, r.Method)
			assert.NoError(t, webhook.Verify("per-request", nil, r.Header, 0, time.Now()))
			assert.Empty(t, r.Header.Get("Content-Type"))
		}))
		defer srv.Close()

		s := webhook.New(webhook.WithSecret("sender"))
		_, err := s.Deliver(context.Background(), webhook.Request{URL: srv.URL, Method: "put", Secret: "per-request"})
		require.NoError(t, err)
	})

	t.Run("status classification", func(t *testing.T) {
		t.Parallel()

		tests := []struct {
			status    int
			permanent bool
		}{
			{http.StatusBadRequest, true},
			{http.StatusNotFound, true},
			{http.StatusRequestTimeout, false},
			{http.StatusTooManyRequests, false},
			{http.StatusInternalServerError, false},
			{http.StatusBadGateway, false},
		}

		for _, tt := range tests {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte("nope\nreally"))
			}))

			res, err := webhook.New().Deliver(context.Background(), webhook.Request{URL: srv.URL})
			srv.Close()

			require.Error(t, err, tt.status)
			assert.Equal(t, tt.status, res.StatusCode)
			assert.Contains(t, err.Error(), "nope really")
			assert.Equal(t, tt.permanent, webhook.IsPermanent(err), tt.status)
			if tt.permanent {
				assert.ErrorIs(t, err, webhook.ErrPermanentFailure)
			} else {
				assert.ErrorIs(t, err, webhook.ErrTemporaryFailure)
			}
		}
	})

	t.Run("invalid urls are permanent", func(t *testing.T) {
		t.Parallel()

		s := webhook.New()
		for _, raw := range []string{"", "ftp://example.com", "http://", "://bad"} {
			_, err := s.Deliver(context.Background(), webhook.Request{URL: raw})
			assert.ErrorIs(t, err, webhook.ErrInvalidURL, raw)
			assert.True(t, webhook.IsPermanent(err), raw)
		}
	})

	t.Run("timeout", func(t *testing.T) {
		t.Parallel()

		release := make(chan struct{})
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-release:
			case <-r.Context().Done():
			}
		}))
		defer srv.Close()
		defer close(release)

		s := webhook.New(webhook.WithTimeout(20 * time.Millisecond))
		_, err := s.Deliver(context.Background(), webhook.Request{URL: srv.URL})
		assert.ErrorIs(t, err, webhook.ErrTimeout)
		assert.False(t, webhook.IsPermanent(err))
	})

	t.Run("circuit opens per host", func(t *testing.T) {
		t.Parallel()

		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer srv.Close()
		u, err := url.Parse(srv.URL)
		require.NoError(t, err)

		now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		s := webhook.New(
			webhook.WithCircuitBreaker(2, 1, time.Minute),
			webhook.WithClock(func() time.Time { return now }),
		)

		for range 2 {
			_, err := s.Deliver(context.Background(), webhook.Request{URL: srv.URL})
			assert.ErrorIs(t, err, webhook.ErrTemporaryFailure)
		}
		assert.Equal(t, webhook.CircuitOpen, s.Breaker(u.Host))

		_, err = s.Deliver(context.Background(), webhook.Request{URL: srv.URL})
		assert.ErrorIs(t, err, webhook.ErrCircuitOpen)
		assert.Equal(t, int32(2), calls.Load())
		assert.Equal(t, webhook.CircuitClosed, s.Breaker("other.example.com"))
	})
}

func TestNewFromConfig(t *testing.T) {
	t.Parallel()

	var sig string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sig = r.Header.Get(webhook.HeaderSignature)
		assert.Equal(t, "tester/2", r.Header.Get("User-Agent"))
	}))
	defer srv.Close()

	s := webhook.NewFromConfig(webhook.Config{
		Secret:           "abc",
		Timeout:          time.Second,
		FailureThreshold: 3,
		UserAgent:        "tester/2",
	})
	_, err := s.Deliver(context.Background(), webhook.Request{URL: srv.URL, Body: []byte(`{}`)})
	require.NoError(t, err)
	assert.NotEmpty(t, sig)
}
