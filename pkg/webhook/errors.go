package webhook

import "errors"

var (
	ErrInvalidConfiguration = errors.New("invalid webhook configuration")
	ErrInvalidURL           = errors.New("invalid webhook URL")
	ErrInvalidSignature     = errors.New("invalid webhook signature")
	ErrPermanentFailure     = errors.New("permanent webhook failure")
	ErrTemporaryFailure     = errors.New("temporary webhook failure")
	ErrTimeout              = errors.New("webhook request timeout")
	ErrCircuitOpen          = errors.New("webhook circuit breaker is open")
)

// IsPermanent reports whether retrying the delivery cannot help
func IsPermanent(err error) bool {
	return errors.Is(err, ErrPermanentFailure) || errors.Is(err, ErrInvalidURL) || errors.Is(err, ErrInvalidConfiguration)
}
