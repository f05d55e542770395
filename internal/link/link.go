// Package link manages one long-lived JSON-RPC connection to a peer.
//
// A Link stacks transport, framer and engine on a reactor and keeps them
// connected: when opening fails or an established connection breaks, it
// logs the cause, closes, and tries again after a fixed interval.
package link

import (
	"time"

	"github.com/nerrad567/gray-logic-bridged/internal/framing"
	"github.com/nerrad567/gray-logic-bridged/internal/jsonrpc"
	"github.com/nerrad567/gray-logic-bridged/internal/reactor"
	"github.com/nerrad567/gray-logic-bridged/internal/transport"
)

// The engine talks to the peer through the framer.
var _ jsonrpc.MessageConn = (*framing.Framer)(nil)

// DefaultReconnectInterval is the delay before reconnecting after a failure.
const DefaultReconnectInterval = 30 * time.Second

// Logger defines the logging interface used by links.
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

// Config holds the settings of one peer link.
type Config struct {
	// Name identifies the peer in logs, topics and metrics.
	Name string

	// Endpoint is the serial device or network host to connect to.
	Endpoint transport.Endpoint

	// ReconnectInterval is the fixed delay between attempts. Default: 30s.
	ReconnectInterval time.Duration

	// SkipBanner discards incoming lines after each connect until the
	// first empty line, for peers that print a greeting first.
	SkipBanner bool

	// ReportAllErrors sends error replies even for messages that are not
	// requests with an id.
	ReportAllErrors bool

	Framing   framing.Config
	Transport transport.Config
}

// Status describes a connection change.
type Status struct {
	Peer      string
	Connected bool
	Err       error
}

// Stats holds the counters of every layer of a link.
type Stats struct {
	Peer       string
	Connected  bool
	Reconnects uint64
	LastError  string
	Transport  transport.Stats
	Framing    framing.Stats
	RPC        jsonrpc.Stats
}

// Link is a self-healing peer connection.
//
// Thread Safety:
//   - Not safe for concurrent use; it runs on the reactor goroutine.
type Link struct {
	r      *reactor.Reactor
	cfg    Config
	logger Logger

	comm   *transport.Comm
	framer *framing.Framer
	engine *jsonrpc.Engine

	running          bool
	reconnectPending bool
	timers           reactor.Owner
	awaitingBanner   bool
	everConnected    bool
	reconnects       uint64
	lastErr          error

	listeners []func(Status)
}

// New builds a link on r. Nothing connects until Start.
func New(r *reactor.Reactor, cfg Config, logger Logger) *Link {
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = DefaultReconnectInterval
	}
	if logger == nil {
		logger = noopLogger{}
	}

	l := &Link{
		r:      r,
		cfg:    cfg,
		logger: logger,
		timers: r.NewOwner(),
	}
	l.comm = transport.NewComm(r, cfg.Transport, logger)
	l.comm.ConfigureEndpoint(cfg.Endpoint)
	l.framer = framing.New(l.comm, cfg.Framing)
	l.engine = jsonrpc.New(l.framer, logger)
	l.engine.SetReportAllErrors(cfg.ReportAllErrors)

	// Sits between framer and engine for banner handling.
	l.framer.SetMessageHandler(l.gotMessage)
	l.comm.SetConnectionStatusHandler(l.connectionStatus)
	return l
}

// Name returns the peer name.
func (l *Link) Name() string {
	return l.cfg.Name
}

// Engine returns the JSON-RPC engine of the link.
func (l *Link) Engine() *jsonrpc.Engine {
	return l.engine
}

// Framer returns the framer of the link.
func (l *Link) Framer() *framing.Framer {
	return l.framer
}

// Connected reports whether the connection is open.
func (l *Link) Connected() bool {
	return l.comm.State() == transport.StateOpen
}

// OnStatus adds a listener for connection changes.
func (l *Link) OnStatus(fn func(Status)) {
	if fn != nil {
		l.listeners = append(l.listeners, fn)
	}
}

// Start connects and keeps reconnecting until Stop. A failed first attempt
// is not an error; it is retried like any later failure.
func (l *Link) Start() {
	if l.running {
		return
	}
	l.running = true
	l.logger.Info("starting link", "peer", l.cfg.Name, "endpoint", l.cfg.Endpoint.String())
	l.connect()
}

// Stop cancels any pending reconnect and closes the connection.
func (l *Link) Stop() {
	if !l.running {
		return
	}
	l.running = false
	l.r.CancelTimers(l.timers)
	l.reconnectPending = false

	wasOpen := l.Connected()
	l.comm.Close()
	if wasOpen {
		l.notify(Status{Peer: l.cfg.Name, Connected: false, Err: transport.ErrClosed})
	}
	l.logger.Info("link stopped", "peer", l.cfg.Name)
}

// Stats returns a snapshot of all counters.
func (l *Link) Stats() Stats {
	s := Stats{
		Peer:       l.cfg.Name,
		Connected:  l.Connected(),
		Reconnects: l.reconnects,
		Transport:  l.comm.Stats(),
		Framing:    l.framer.Stats(),
		RPC:        l.engine.Stats(),
	}
	if l.lastErr != nil {
		s.LastError = l.lastErr.Error()
	}
	return s
}

func (l *Link) connect() {
	l.reconnectPending = false
	if !l.running {
		return
	}
	// Failures arrive through connectionStatus.
	_ = l.comm.Open()
}

func (l *Link) connectionStatus(err error) {
	if err == nil {
		l.awaitingBanner = l.cfg.SkipBanner
		if l.everConnected {
			l.reconnects++
		}
		l.everConnected = true
		l.lastErr = nil
		l.logger.Info("peer connected", "peer", l.cfg.Name)
		l.notify(Status{Peer: l.cfg.Name, Connected: true})
		return
	}

	l.lastErr = err
	l.logger.Warn("peer connection error, will reconnect",
		"peer", l.cfg.Name,
		"error", err,
		"retry_in", l.cfg.ReconnectInterval.String(),
	)
	l.comm.Close()
	l.notify(Status{Peer: l.cfg.Name, Connected: false, Err: err})
	l.scheduleReconnect()
}

func (l *Link) scheduleReconnect() {
	if !l.running || l.reconnectPending {
		return
	}
	l.reconnectPending = true
	l.r.RunOnceAfterFor(l.timers, l.cfg.ReconnectInterval, func(int64) { l.connect() })
}

func (l *Link) gotMessage(msg []byte, err error) {
	if err == nil && l.awaitingBanner {
		if len(msg) == 0 {
			l.awaitingBanner = false
			l.logger.Debug("peer banner skipped", "peer", l.cfg.Name)
		}
		return
	}
	l.engine.HandleMessage(msg, err)
}

func (l *Link) notify(s Status) {
	for _, fn := range l.listeners {
		fn(s)
	}
}
