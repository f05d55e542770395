package transport

import "errors"

// Domain-specific errors for transports.
var (
	// ErrSerialOpen is returned when a serial device cannot be opened or configured.
	ErrSerialOpen = errors.New("transport: cannot open serial device")

	// ErrSocketOpen is returned when no resolved address accepts a connection.
	ErrSocketOpen = errors.New("transport: cannot open socket")

	// ErrUnknownBaudRate is returned for baud rates outside the supported set.
	ErrUnknownBaudRate = errors.New("transport: unknown baud rate")

	// ErrHostResolution is returned when a host name does not resolve.
	ErrHostResolution = errors.New("transport: host resolution failed")

	// ErrNoEndpoint is returned by Open before Configure supplied an endpoint.
	ErrNoEndpoint = errors.New("transport: no endpoint configured")

	// ErrInvalidSpec is returned by ParseSpec for malformed connection strings.
	ErrInvalidSpec = errors.New("transport: invalid connection specification")

	// ErrNotOpen is returned by Send when the connection is not open.
	ErrNotOpen = errors.New("transport: connection not open")

	// ErrClosed is passed to close hooks when the connection was closed locally.
	ErrClosed = errors.New("transport: connection closed")

	// ErrHungUp is reported when the peer closed its end.
	ErrHungUp = errors.New("transport: peer hung up")

	// ErrRead wraps receive failures.
	ErrRead = errors.New("transport: read failed")

	// ErrWrite wraps send failures.
	ErrWrite = errors.New("transport: write failed")

	// ErrUnsupported is returned for endpoint kinds this platform cannot open.
	ErrUnsupported = errors.New("transport: unsupported on this platform")
)
