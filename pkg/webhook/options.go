package webhook

import (
	"net/http"
	"time"
)

// Option configures a Sender
type Option func(*Sender)

// WithHTTPClient replaces the default client, e.g. for custom transports or tests
func WithHTTPClient(client *http.Client) Option {
	return func(s *Sender) {
		if client != nil {
			s.client = client
		}
	}
}

// WithTimeout bounds a single delivery attempt. Default is 10 seconds.
func WithTimeout(d time.Duration) Option {
	return func(s *Sender) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithSecret signs every request with HMAC-SHA256 unless the request carries its own secret
func WithSecret(secret string) Option {
	return func(s *Sender) {
		s.secret = secret
	}
}

// WithUserAgent overrides the User-Agent header
func WithUserAgent(ua string) Option {
	return func(s *Sender) {
		if ua != "" {
			s.userAgent = ua
		}
	}
}

// WithCircuitBreaker enables one breaker per endpoint host.
// Non-positive values fall back to the breaker defaults.
func WithCircuitBreaker(failureThreshold, successThreshold int, recovery time.Duration) Option {
	return func(s *Sender) {
		s.breakers = newBreakers(failureThreshold, successThreshold, recovery, s.now)
	}
}

// WithClock overrides time.Now for signatures and breakers
func WithClock(now func() time.Time) Option {
	return func(s *Sender) {
		if now != nil {
			s.now = now
			if s.breakers != nil {
				s.breakers.now = now
			}
		}
	}
}
