package transport

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// State is the connection state of a Transport.
type State int

// Connection states. Opening and Error are transient: a failed open or a
// runtime failure reports the error and then settles in StateClosed.
const (
	StateClosed State = iota
	StateOpening
	StateOpen
	StateError
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpening:
		return "opening"
	case StateOpen:
		return "open"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// ReceiveFunc receives bytes read from the connection. The slice is only
// valid for the duration of the call.
type ReceiveFunc func(data []byte)

// StatusFunc is told about connection status changes: nil after a
// successful open, the cause after a failed open or a runtime failure.
type StatusFunc func(err error)

// Transport is a byte-stream connection driven by a reactor.
//
// All methods must be called on the reactor goroutine.
type Transport interface {
	// Configure sets the endpoint, closing any existing connection first.
	// A path starting with "/" names a serial device opened at baudRate;
	// anything else is a host name or address connected on port.
	Configure(path string, port uint16, baudRate int)

	// Open connects to the configured endpoint.
	Open() error

	// Close tears the connection down. It is a no-op when already closed.
	Close()

	// Send writes as much of p as the connection accepts right now.
	Send(p []byte) (int, error)

	// OnReceive sets the callback for incoming bytes.
	OnReceive(fn ReceiveFunc)

	// OnWritable sets a callback for write readiness; nil removes interest.
	OnWritable(fn func())

	// SetConnectionStatusHandler sets the status callback.
	SetConnectionStatusHandler(fn StatusFunc)

	// OnClosed adds a hook run whenever an open connection goes away.
	OnClosed(fn func(reason error))

	// State returns the current connection state.
	State() State

	// TakeUnhandledError returns and clears the last runtime I/O error.
	TakeUnhandledError() error
}

// Endpoint describes where a Transport connects.
type Endpoint struct {
	Path     string
	Port     uint16
	BaudRate int
}

// IsSerial reports whether the endpoint names a serial device.
func (e Endpoint) IsSerial() bool {
	return strings.HasPrefix(e.Path, "/")
}

func (e Endpoint) String() string {
	if e.IsSerial() {
		return fmt.Sprintf("%s:%d", e.Path, e.BaudRate)
	}
	return net.JoinHostPort(e.Path, strconv.Itoa(int(e.Port)))
}

// ParseSpec parses a connection specification.
//
// Accepted forms:
//   - "/dev/ttyUSB0" or "/dev/ttyUSB0:115200" (serial device, optional baud rate)
//   - "host", "host:port", "[::1]:port" (network host, optional port)
func ParseSpec(spec string, defaultPort uint16, defaultBaudRate int) (Endpoint, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return Endpoint{}, fmt.Errorf("%w: empty", ErrInvalidSpec)
	}

	if strings.HasPrefix(spec, "/") {
		ep := Endpoint{Path: spec, BaudRate: defaultBaudRate}
		if i := strings.LastIndexByte(spec, ':'); i > 0 {
			baud, err := strconv.Atoi(spec[i+1:])
			if err != nil || baud <= 0 {
				return Endpoint{}, fmt.Errorf("%w: bad baud rate in %q", ErrInvalidSpec, spec)
			}
			ep.Path = spec[:i]
			ep.BaudRate = baud
		}
		return ep, nil
	}

	host, portStr, err := net.SplitHostPort(spec)
	if err != nil {
		// No port given; a bracketed IPv6 literal still needs unwrapping.
		host = strings.TrimSuffix(strings.TrimPrefix(spec, "["), "]")
		if host == "" {
			return Endpoint{}, fmt.Errorf("%w: %q", ErrInvalidSpec, spec)
		}
		return Endpoint{Path: host, Port: defaultPort}, nil
	}
	if host == "" {
		return Endpoint{}, fmt.Errorf("%w: missing host in %q", ErrInvalidSpec, spec)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil || port == 0 {
		return Endpoint{}, fmt.Errorf("%w: bad port in %q", ErrInvalidSpec, spec)
	}
	return Endpoint{Path: host, Port: uint16(port)}, nil
}
