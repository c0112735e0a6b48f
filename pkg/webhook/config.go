package webhook

import "time"

// Config holds sender settings for webhook jobs
type Config struct {
	Secret           string        `env:"WEBHOOK_SECRET"`                             // Secret signs every request when set.
	Timeout          time.Duration `env:"WEBHOOK_TIMEOUT" envDefault:"10s"`           // Timeout bounds a single delivery attempt.
	FailureThreshold int           `env:"WEBHOOK_FAILURE_THRESHOLD" envDefault:"5"`   // FailureThreshold opens an endpoint's circuit after this many consecutive failures. Zero disables circuit breaking.
	RecoveryTimeout  time.Duration `env:"WEBHOOK_RECOVERY_TIMEOUT" envDefault:"30s"`  // RecoveryTimeout is how long an open circuit waits before a probe request.
	UserAgent        string        `env:"WEBHOOK_USER_AGENT" envDefault:"jobqueue/1"` // UserAgent is sent with every request.
}

// NewFromConfig builds a Sender from cfg. Zero values keep the defaults.
func NewFromConfig(cfg Config, opts ...Option) *Sender {
	configOpts := make([]Option, 0, 4)
	if cfg.Secret != "" {
		configOpts = append(configOpts, WithSecret(cfg.Secret))
	}
	if cfg.Timeout > 0 {
		configOpts = append(configOpts, WithTimeout(cfg.Timeout))
	}
	if cfg.FailureThreshold > 0 {
		configOpts = append(configOpts, WithCircuitBreaker(cfg.FailureThreshold, 0, cfg.RecoveryTimeout))
	}
	if cfg.UserAgent != "" {
		configOpts = append(configOpts, WithUserAgent(cfg.UserAgent))
	}
	return New(append(configOpts, opts...)...)
}
