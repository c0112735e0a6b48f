package queue

import "errors"

// Common errors
var (
	// ErrDriverNil is returned when a nil driver is provided
	ErrDriverNil = errors.New("driver cannot be nil")

	// ErrJobNil is returned when attempting to push a nil job
	ErrJobNil = errors.New("job cannot be nil")

	// ErrFactoryNil is returned when registering a nil job factory
	ErrFactoryNil = errors.New("job factory cannot be nil")

	// ErrJobNotRegistered is returned when pushing a job whose type has no factory.
	// Such a job could never be reconstructed by a worker, so it is rejected up front.
	ErrJobNotRegistered = errors.New("job type is not registered")

	// ErrJobAlreadyRegistered is returned when two factories produce the same job type
	ErrJobAlreadyRegistered = errors.New("job type already registered")

	// ErrUnknownJobType is returned when a stored job type cannot be resolved.
	// Indicates a deployment/code mismatch and is never retried.
	ErrUnknownJobType = errors.New("unknown job type")

	// ErrDataMarshal is returned when job data cannot be encoded to JSON
	ErrDataMarshal = errors.New("failed to marshal job data to JSON")

	// ErrPushFailed is returned when the driver could not store the envelope
	ErrPushFailed = errors.New("failed to push job")

	// ErrPopFailed is returned when the driver could not reserve an envelope
	ErrPopFailed = errors.New("failed to pop job")

	// ErrJobTimeout is reported when a job overran its execution budget
	ErrJobTimeout = errors.New("job exceeded its timeout")

	// ErrJobPanicked wraps a recovered panic from a job handler
	ErrJobPanicked = errors.New("job panicked")

	// ErrFailedToMarkCompleted is returned when the completion transition fails
	ErrFailedToMarkCompleted = errors.New("failed to mark job as completed")

	// ErrFailedToMarkFailed is returned when the terminal failure transition fails
	ErrFailedToMarkFailed = errors.New("failed to mark job as failed")

	// ErrFailedToRetry is returned when a retry could not be scheduled
	ErrFailedToRetry = errors.New("failed to schedule job retry")

	// ErrFailedJobNotFound is returned when a failed-job record does not exist
	ErrFailedJobNotFound = errors.New("failed job not found")

	// ErrNotSupported is returned when the driver lacks an optional capability
	ErrNotSupported = errors.New("operation not supported by driver")

	// ErrInvalidSchedule is returned when a schedule expression cannot be parsed
	ErrInvalidSchedule = errors.New("invalid schedule format")

	// ErrInvalidTime is returned when a time expression cannot be parsed
	ErrInvalidTime = errors.New("invalid time expression")

	// ErrPusherNil is returned when a scheduler is created without a pusher
	ErrPusherNil = errors.New("pusher cannot be nil")
)
