package reactor

import "errors"

// Domain-specific errors for the reactor.
var (
	// ErrAlreadyRunning is returned when Run is called while the reactor is running.
	ErrAlreadyRunning = errors.New("reactor: already running")

	// ErrDuplicateWatch is returned when an (owner, fd) pair is already watched.
	ErrDuplicateWatch = errors.New("reactor: fd already watched by this owner")

	// ErrUnknownWatch is returned when updating a watch that does not exist.
	ErrUnknownWatch = errors.New("reactor: no watch for owner and fd")

	// ErrInvalidFD is returned for negative descriptors and reported to
	// error handlers when poll flags a descriptor as not open.
	ErrInvalidFD = errors.New("reactor: invalid file descriptor")

	// ErrHangUp is reported to error handlers when the peer hung up.
	ErrHangUp = errors.New("reactor: hang-up on file descriptor")

	// ErrFDError is reported to error handlers for POLLERR conditions.
	ErrFDError = errors.New("reactor: error condition on file descriptor")

	// ErrPoll wraps a failure of the poll system call itself.
	ErrPoll = errors.New("reactor: poll failed")

	// ErrCallbackPanic wraps a panic recovered from work started with Go.
	ErrCallbackPanic = errors.New("reactor: callback panicked")
)
