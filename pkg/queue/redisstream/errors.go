package redisstream

import "errors"

var (
	ErrClientNil                    = errors.New("redis client cannot be nil")
	ErrFailedToParseRedisConnString = errors.New("failed to parse redis connection string")
	ErrRedisNotReady                = errors.New("redis did not become ready within the given time period")
	ErrEmptyConnectionURL           = errors.New("empty redis connection URL, use QUEUE_REDIS_URL env var")
	ErrHealthcheckFailed            = errors.New("redis healthcheck failed")
	ErrInvalidOffsetReset           = errors.New("auto offset reset must be earliest or latest")
	ErrJobNotFound                  = errors.New("job is not reserved by this consumer")
	ErrMalformedMessage             = errors.New("malformed stream message")
)
