package transport

import (
	"errors"
	"fmt"
	"time"

	"golang.org/x/sys/unix"

	"github.com/nerrad567/gray-logic-bridged/internal/reactor"
)

// DefaultReadBufferSize bounds a single read from the descriptor.
const DefaultReadBufferSize = 4096

// Logger defines the logging interface used by transports.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Config holds transport tuning.
type Config struct {
	// ReadBufferSize bounds a single read. Default 4096.
	ReadBufferSize int

	// ResolveTimeout bounds host name resolution. Default 5s.
	ResolveTimeout time.Duration
}

// Stats holds connection counters.
type Stats struct {
	BytesReceived    uint64
	BytesSent        uint64
	Opens            uint64
	OpenFailures     uint64
	ConnectionErrors uint64
}

// endpointOpener is implemented by the serial and network variants.
type endpointOpener interface {
	open() (fd int, restore func() error, err error)
}

// Comm is the reactor-driven Transport for serial devices and TCP hosts.
// The endpoint kind is chosen at Open from the configured path.
//
// Thread Safety:
//   - Not safe for concurrent use; all calls belong on the reactor goroutine.
type Comm struct {
	r      *reactor.Reactor
	owner  reactor.Owner
	cfg    Config
	logger Logger

	endpoint   Endpoint
	state      State
	fd         int
	restore    func() error
	generation uint64
	readBuf    []byte

	onReceive   ReceiveFunc
	onWritable  func()
	status      StatusFunc
	closedHooks []func(reason error)
	unhandled   error

	stats Stats
}

var _ Transport = (*Comm)(nil)

// NewComm creates an unconfigured, closed transport on r.
func NewComm(r *reactor.Reactor, cfg Config, logger Logger) *Comm {
	if cfg.ReadBufferSize <= 0 {
		cfg.ReadBufferSize = DefaultReadBufferSize
	}
	if cfg.ResolveTimeout <= 0 {
		cfg.ResolveTimeout = DefaultResolveTimeout
	}
	if logger == nil {
		logger = noopLogger{}
	}
	return &Comm{
		r:       r,
		owner:   r.NewOwner(),
		cfg:     cfg,
		logger:  logger,
		fd:      -1,
		readBuf: make([]byte, cfg.ReadBufferSize),
	}
}

// Configure implements Transport.
func (c *Comm) Configure(path string, port uint16, baudRate int) {
	c.Close()
	c.endpoint = Endpoint{Path: path, Port: port, BaudRate: baudRate}
}

// ConfigureEndpoint is Configure for an already parsed Endpoint.
func (c *Comm) ConfigureEndpoint(ep Endpoint) {
	c.Configure(ep.Path, ep.Port, ep.BaudRate)
}

// Endpoint returns the configured endpoint.
func (c *Comm) Endpoint() Endpoint {
	return c.endpoint
}

// Open implements Transport. Opening an open connection is a no-op.
//
// Returns:
//   - error: ErrNoEndpoint, or one of ErrUnknownBaudRate, ErrSerialOpen,
//     ErrHostResolution, ErrSocketOpen wrapping the cause
func (c *Comm) Open() error {
	if c.fd >= 0 {
		return nil
	}
	if c.endpoint.Path == "" {
		return ErrNoEndpoint
	}

	c.state = StateOpening
	fd, restore, err := c.opener().open()
	if err != nil {
		c.openFailed(err)
		return err
	}

	c.fd = fd
	c.restore = restore
	c.generation++
	if err := c.r.RegisterFDWatch(c.owner, fd, c.watch()); err != nil {
		c.teardown()
		err = fmt.Errorf("registering fd watch: %w", err)
		c.openFailed(err)
		return err
	}

	c.state = StateOpen
	c.stats.Opens++
	c.logger.Info("connection opened", "endpoint", c.endpoint.String())
	if c.status != nil {
		c.status(nil)
	}
	return nil
}

func (c *Comm) opener() endpointOpener {
	if c.endpoint.IsSerial() {
		return serialEndpoint{path: c.endpoint.Path, baudRate: c.endpoint.BaudRate}
	}
	return networkEndpoint{host: c.endpoint.Path, port: c.endpoint.Port, timeout: c.cfg.ResolveTimeout}
}

func (c *Comm) openFailed(err error) {
	c.state = StateError
	c.stats.OpenFailures++
	c.logger.Warn("connection open failed", "endpoint", c.endpoint.String(), "error", err)
	if c.status != nil {
		c.status(err)
	}
	if c.state == StateError {
		c.state = StateClosed
	}
}

// Close implements Transport.
func (c *Comm) Close() {
	if c.fd < 0 {
		c.state = StateClosed
		return
	}
	c.teardown()
	c.state = StateClosed
	c.logger.Debug("connection closed", "endpoint", c.endpoint.String())
	c.fireClosed(ErrClosed)
}

// Send implements Transport. EAGAIN yields (0, nil); a write failure is
// returned and the connection is torn down in the next cycle.
func (c *Comm) Send(p []byte) (int, error) {
	if c.state != StateOpen {
		return 0, ErrNotOpen
	}
	if len(p) == 0 {
		return 0, nil
	}

	n, err := unix.Write(c.fd, p)
	if err != nil {
		if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
			return 0, nil
		}
		werr := fmt.Errorf("%w: %w", ErrWrite, err)
		c.unhandled = werr
		gen := c.generation
		c.r.RunOnceAfter(0, func(int64) {
			if c.generation == gen {
				c.connectionFailed(werr)
			}
		})
		return 0, werr
	}
	if n > 0 {
		c.stats.BytesSent += uint64(n)
	}
	return n, nil
}

// OnReceive implements Transport.
func (c *Comm) OnReceive(fn ReceiveFunc) {
	c.onReceive = fn
}

// OnWritable implements Transport.
func (c *Comm) OnWritable(fn func()) {
	c.onWritable = fn
	if c.fd >= 0 {
		if err := c.r.UpdateFDWatch(c.owner, c.fd, c.watch()); err != nil {
			c.logger.Warn("updating fd watch failed", "error", err)
		}
	}
}

// SetConnectionStatusHandler implements Transport.
func (c *Comm) SetConnectionStatusHandler(fn StatusFunc) {
	c.status = fn
}

// OnClosed implements Transport.
func (c *Comm) OnClosed(fn func(reason error)) {
	if fn != nil {
		c.closedHooks = append(c.closedHooks, fn)
	}
}

// State implements Transport.
func (c *Comm) State() State {
	return c.state
}

// TakeUnhandledError implements Transport.
func (c *Comm) TakeUnhandledError() error {
	err := c.unhandled
	c.unhandled = nil
	return err
}

// Stats returns a copy of the connection counters.
func (c *Comm) Stats() Stats {
	return c.stats
}

func (c *Comm) watch() reactor.FDWatch {
	w := reactor.FDWatch{
		OnReadable: c.handleReadable,
		OnError:    c.handleError,
	}
	if fn := c.onWritable; fn != nil {
		w.OnWritable = func(int) { fn() }
	}
	return w
}

func (c *Comm) handleReadable(fd int) {
	avail, err := unix.IoctlGetInt(fd, ioctlInQueue)
	if err != nil {
		c.connectionFailed(fmt.Errorf("%w: %w", ErrRead, err))
		return
	}
	if avail == 0 {
		c.connectionFailed(ErrHungUp)
		return
	}

	n := min(avail, len(c.readBuf))
	n, err = unix.Read(fd, c.readBuf[:n])
	if err != nil {
		if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
			return
		}
		c.connectionFailed(fmt.Errorf("%w: %w", ErrRead, err))
		return
	}
	if n == 0 {
		c.connectionFailed(ErrHungUp)
		return
	}

	c.stats.BytesReceived += uint64(n)
	if c.onReceive != nil {
		c.onReceive(c.readBuf[:n])
	}
}

func (c *Comm) handleError(_ int, err error) {
	if errors.Is(err, reactor.ErrHangUp) {
		c.connectionFailed(ErrHungUp)
		return
	}
	c.connectionFailed(fmt.Errorf("%w: %w", ErrRead, err))
}

// connectionFailed records a runtime failure, tears down, runs close hooks,
// then informs the status handler. The state reads StateError until the
// handler returns.
func (c *Comm) connectionFailed(err error) {
	if c.fd < 0 {
		return
	}
	c.unhandled = err
	c.stats.ConnectionErrors++
	c.teardown()
	c.state = StateError
	c.logger.Warn("connection failed", "endpoint", c.endpoint.String(), "error", err)

	c.fireClosed(err)
	if c.status != nil {
		c.status(err)
	}
	if c.state == StateError {
		c.state = StateClosed
	}
}

func (c *Comm) teardown() {
	if c.fd < 0 {
		return
	}
	c.r.UnregisterFDWatch(c.owner, c.fd)
	if c.restore != nil {
		if err := c.restore(); err != nil {
			c.logger.Warn("restoring serial settings failed", "endpoint", c.endpoint.String(), "error", err)
		}
		c.restore = nil
	}
	if err := unix.Close(c.fd); err != nil {
		c.logger.Debug("closing descriptor failed", "fd", c.fd, "error", err)
	}
	c.fd = -1
}

func (c *Comm) fireClosed(reason error) {
	for _, fn := range c.closedHooks {
		fn(reason)
	}
}
