package jobqueue

import "errors"

var (
	// ErrUnknownDriver is returned when Config.Driver names no known driver
	ErrUnknownDriver = errors.New("unknown queue driver")

	// ErrClosed is returned by calls made after Close
	ErrClosed = errors.New("jobs facade is closed")
)
