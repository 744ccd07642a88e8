package device

import "errors"

var (
	// ErrTransportFailure wraps an error returned by the bus transport.
	ErrTransportFailure = errors.New("transport failure")
	// ErrVerificationFailed is returned when a verified write never read
	// back the written value within the attempt budget.
	ErrVerificationFailed = errors.New("write verification failed")
	// ErrUnsupportedOperation is returned for operations the bus binding
	// cannot perform.
	ErrUnsupportedOperation = errors.New("unsupported operation")
	// ErrNotStarted is returned by register operations on a stopped device.
	ErrNotStarted = errors.New("device not started")
	// ErrAlreadyStarted is returned by Start on a started device.
	ErrAlreadyStarted = errors.New("device already started")
	// ErrInvalidArgument is returned for out of range addresses, lengths
	// and frequencies.
	ErrInvalidArgument = errors.New("invalid argument")
)
