package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Request is one delivery. Body is sent as is with a JSON content type.
type Request struct {
	URL        string            `json:"url"`
	Method     string            `json:"method,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
	Body       json.RawMessage   `json:"body,omitempty"`
	Secret     string            `json:"secret,omitempty"` // Secret overrides the sender secret for this request.
	DeliveryID string            `json:"-"`                // DeliveryID is echoed in the delivery header, usually the job id.
}

// Result describes a completed attempt
type Result struct {
	StatusCode int
	Duration   time.Duration
}

// Sender makes single delivery attempts. Retrying is left to the caller,
// IsPermanent tells whether it is worth it.
type Sender struct {
	client    *http.Client
	timeout   time.Duration
	secret    string
	userAgent string
	breakers  *breakers
	now       func() time.Time
}

// New creates a Sender with a pooled HTTP client
func New(opts ...Option) *Sender {
	s := &Sender{
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		timeout:   10 * time.Second,
		userAgent: "jobqueue/1",
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Deliver sends req once. Non-2xx responses are errors: 4xx other than 408,
// 425 and 429 wrap ErrPermanentFailure, everything else ErrTemporaryFailure
// or ErrTimeout.
func (s *Sender) Deliver(ctx context.Context, req Request) (Result, error) {
	u, err := validateURL(req.URL)
	if err != nil {
		return Result{}, err
	}

	var cb *CircuitBreaker
	if s.breakers != nil {
		cb = s.breakers.get(u.Host)
		if !cb.Allow() {
			return Result{}, fmt.Errorf("%w: %s", ErrCircuitOpen, u.Host)
		}
	}

	res, err := s.attempt(ctx, req)
	if cb != nil {
		// Permanent failures are the caller's fault, not the endpoint's.
		switch {
		case err == nil:
			cb.RecordSuccess()
		case !errors.Is(err, ErrPermanentFailure):
			cb.RecordFailure()
		}
	}
	return res, err
}

// Breaker returns the circuit state for host; closed when breaking is disabled
func (s *Sender) Breaker(host string) CircuitState {
	if s.breakers == nil {
		return CircuitClosed
	}
	return s.breakers.get(host).State()
}

func (s *Sender) attempt(ctx context.Context, req Request) (Result, error) {
	start := s.now()
	var res Result

	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodPost
	}

	reqCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(reqCtx, method, req.URL, body)
	if err != nil {
		return res, fmt.Errorf("%w: %w", ErrInvalidConfiguration, err)
	}

	httpReq.Header.Set("User-Agent", s.userAgent)
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	if req.DeliveryID != "" {
		httpReq.Header.Set(HeaderDelivery, req.DeliveryID)
	}

	secret := req.Secret
	if secret == "" {
		secret = s.secret
	}
	if secret != "" {
		sig, err := Sign(secret, req.Body, s.now(), req.DeliveryID)
		if err != nil {
			return res, err
		}
		sig.Apply(httpReq.Header)
	}

	resp, err := s.client.Do(httpReq)
	res.Duration = s.now().Sub(start)
	if err != nil {
		if errors.Is(reqCtx.Err(), context.DeadlineExceeded) {
			return res, fmt.Errorf("%w after %s: %w", ErrTimeout, s.timeout, err)
		}
		return res, fmt.Errorf("%w: %w", ErrTemporaryFailure, err)
	}
	defer resp.Body.Close()

	res.StatusCode = resp.StatusCode
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
		return res, nil
	}

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	msg := strings.ReplaceAll(strings.TrimSpace(string(snippet)), "\n", " ")
	if len(msg) > 200 {
		msg = msg[:200] + "..."
	}

	kind := ErrTemporaryFailure
	if isPermanentStatus(resp.StatusCode) {
		kind = ErrPermanentFailure
	}
	if msg == "" {
		return res, fmt.Errorf("%w: status %d", kind, resp.StatusCode)
	}
	return res, fmt.Errorf("%w: status %d: %s", kind, resp.StatusCode, msg)
}

func validateURL(raw string) (*url.URL, error) {
	if raw == "" {
		return nil, fmt.Errorf("%w: URL is required", ErrInvalidURL)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: only http and https schemes are supported", ErrInvalidURL)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: host is required", ErrInvalidURL)
	}
	return u, nil
}

// isPermanentStatus reports 4xx codes that will not change on retry
func isPermanentStatus(code int) bool {
	if code < 400 || code >= 500 {
		return false
	}
	switch code {
	case http.StatusRequestTimeout, http.StatusTooEarly, http.StatusTooManyRequests:
		return false
	}
	return true
}
