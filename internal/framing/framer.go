// Package framing splits a transport byte stream into discrete messages and
// queues outgoing bytes the transport could not take immediately.
//
// Two framing modes exist. Delimiter mode cuts the stream at a delimiter
// byte (newline by default) and delivers empty lines as zero-length
// messages. Structural mode tracks bracket depth of top-level JSON values,
// ignoring brackets inside string literals, and needs no delimiter at all.
package framing

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/nerrad567/gray-logic-bridged/internal/transport"
)

// Default limits.
const (
	DefaultMaxMessageSize = 64 * 1024
	DefaultMaxQueuedBytes = 1024 * 1024
)

var (
	// ErrFrameOverflow is reported when a message exceeds MaxMessageSize
	// before its boundary arrives. Input is discarded up to the next boundary.
	ErrFrameOverflow = errors.New("framing: message exceeds maximum size")

	// ErrMalformedFrame is reported in structural mode for bytes outside
	// any value and for a closing bracket that does not match its opener.
	ErrMalformedFrame = errors.New("framing: malformed structural framing")

	// ErrSendQueueFull is returned when the outgoing queue limit is reached.
	ErrSendQueueFull = errors.New("framing: send queue full")
)

// Mode selects how message boundaries are found.
type Mode int

const (
	ModeDelimiter Mode = iota
	ModeStructural
)

// ParseMode converts a configuration string into a Mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "", "delimiter", "line":
		return ModeDelimiter, nil
	case "structural", "json":
		return ModeStructural, nil
	default:
		return ModeDelimiter, fmt.Errorf("framing: unknown mode %q", s)
	}
}

func (m Mode) String() string {
	if m == ModeStructural {
		return "structural"
	}
	return "delimiter"
}

// Config holds framing settings. Zero values select the defaults.
type Config struct {
	Mode Mode

	// Delimiter ends messages in delimiter mode and is appended to every
	// outgoing message. Default '\n'.
	Delimiter byte

	// TrimCR drops a carriage return preceding the delimiter.
	TrimCR bool

	// MaxMessageSize bounds an incoming message.
	MaxMessageSize int

	// MaxQueuedBytes bounds outgoing bytes waiting for write readiness.
	MaxQueuedBytes int
}

func (c *Config) applyDefaults() {
	if c.Delimiter == 0 {
		c.Delimiter = '\n'
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = DefaultMaxMessageSize
	}
	if c.MaxQueuedBytes <= 0 {
		c.MaxQueuedBytes = DefaultMaxQueuedBytes
	}
}

// MessageFunc receives either a complete message or a framing error.
type MessageFunc = func(msg []byte, err error)

// Stats holds framing counters.
type Stats struct {
	MessagesReceived uint64
	MessagesSent     uint64
	FramingErrors    uint64
	QueuedBytes      int
}

// Framer turns a Transport into a message connection.
//
// Thread Safety:
//   - Not safe for concurrent use; it runs on the reactor goroutine.
type Framer struct {
	t   transport.Transport
	cfg Config

	onMessage MessageFunc

	buf   []byte
	scan  int
	epoch uint64

	// Delimiter mode: dropping input until the next delimiter.
	// Structural mode: dropping the value currently being scanned.
	discarding bool

	// Structural scanner state. open holds the expected closers of the
	// value being scanned; it is not kept while discarding, depth is.
	depth    int
	open     []byte
	start    int
	inString bool
	escaped  bool
	junk     bool

	queue         []byte
	closeWhenSent bool

	stats Stats
}

// New attaches a Framer to t. It takes over t's receive callback and adds a
// close hook that resets all buffered state.
func New(t transport.Transport, cfg Config) *Framer {
	cfg.applyDefaults()
	f := &Framer{
		t:     t,
		cfg:   cfg,
		start: -1,
	}
	t.OnReceive(f.receive)
	t.OnClosed(f.reset)
	return f
}

// Transport returns the underlying transport.
func (f *Framer) Transport() transport.Transport {
	return f.t
}

// Config returns the effective configuration.
func (f *Framer) Config() Config {
	return f.cfg
}

// SetMessageHandler sets the receiver of messages and framing errors.
// Delivered slices are owned by the receiver.
func (f *Framer) SetMessageHandler(fn MessageFunc) {
	f.onMessage = fn
}

// OnClosed registers a hook for transport teardown.
func (f *Framer) OnClosed(fn func(reason error)) {
	f.t.OnClosed(fn)
}

// Stats returns a copy of the framing counters.
func (f *Framer) Stats() Stats {
	s := f.stats
	s.QueuedBytes = len(f.queue)
	return s
}

// Queued returns the number of bytes waiting to be written.
func (f *Framer) Queued() int {
	return len(f.queue)
}

// Send writes msg followed by the delimiter.
func (f *Framer) Send(msg []byte) error {
	out := make([]byte, 0, len(msg)+1)
	out = append(out, msg...)
	out = append(out, f.cfg.Delimiter)
	if err := f.write(out); err != nil {
		return err
	}
	f.stats.MessagesSent++
	return nil
}

// SendRaw writes p without a delimiter.
func (f *Framer) SendRaw(p []byte) error {
	return f.write(p)
}

// CloseAfterSend closes the transport once queued bytes have been written,
// or immediately when nothing is queued.
func (f *Framer) CloseAfterSend() {
	if len(f.queue) == 0 {
		f.t.Close()
		return
	}
	f.closeWhenSent = true
}

// write sends p, queueing whatever the transport does not accept. The queue
// limit applies to bytes appended behind an already waiting queue.
func (f *Framer) write(p []byte) error {
	if len(p) == 0 {
		return nil
	}
	if len(f.queue) > 0 {
		if len(f.queue)+len(p) > f.cfg.MaxQueuedBytes {
			return fmt.Errorf("%w: %d bytes waiting", ErrSendQueueFull, len(f.queue))
		}
		f.queue = append(f.queue, p...)
		return nil
	}

	n, err := f.t.Send(p)
	if err != nil {
		return err
	}
	if n < len(p) {
		f.queue = append(f.queue[:0], p[n:]...)
		f.t.OnWritable(f.flush)
	}
	return nil
}

func (f *Framer) flush() {
	n, err := f.t.Send(f.queue)
	if err != nil {
		f.queue = f.queue[:0]
		f.t.OnWritable(nil)
		return
	}
	rest := copy(f.queue, f.queue[n:])
	f.queue = f.queue[:rest]
	if len(f.queue) > 0 {
		return
	}

	f.t.OnWritable(nil)
	if f.closeWhenSent {
		f.closeWhenSent = false
		f.t.Close()
	}
}

func (f *Framer) reset(error) {
	f.epoch++
	f.buf = f.buf[:0]
	f.scan = 0
	f.discarding = false
	f.depth = 0
	f.open = f.open[:0]
	f.start = -1
	f.inString = false
	f.escaped = false
	f.junk = false
	f.queue = f.queue[:0]
	f.closeWhenSent = false
	f.t.OnWritable(nil)
}

func (f *Framer) receive(data []byte) {
	f.buf = append(f.buf, data...)
	if f.cfg.Mode == ModeStructural {
		f.splitStructural()
	} else {
		f.splitDelimited()
	}
}

// emit delivers msg and reports whether framing may continue, which is not
// the case when the handler closed the transport.
func (f *Framer) emit(msg []byte) bool {
	epoch := f.epoch
	f.stats.MessagesReceived++
	if f.onMessage != nil {
		f.onMessage(bytes.Clone(msg), nil)
	}
	return f.epoch == epoch
}

func (f *Framer) emitError(err error) bool {
	epoch := f.epoch
	f.stats.FramingErrors++
	if f.onMessage != nil {
		f.onMessage(nil, err)
	}
	return f.epoch == epoch
}

// consume drops the first n buffered bytes.
func (f *Framer) consume(n int) {
	if n <= 0 {
		return
	}
	rest := copy(f.buf, f.buf[n:])
	f.buf = f.buf[:rest]
	f.scan -= n
	if f.start >= 0 {
		f.start -= n
	}
}

func (f *Framer) splitDelimited() {
	limit := f.cfg.MaxMessageSize
	pos := 0
	for {
		i := bytes.IndexByte(f.buf[f.scan:], f.cfg.Delimiter)
		if i < 0 {
			break
		}
		end := f.scan + i
		line := f.buf[pos:end]
		f.scan = end + 1
		pos = end + 1

		if f.discarding {
			f.discarding = false
			continue
		}
		if len(line) > limit {
			if !f.emitError(ErrFrameOverflow) {
				return
			}
			continue
		}
		if f.cfg.TrimCR && len(line) > 0 && line[len(line)-1] == '\r' {
			line = line[:len(line)-1]
		}
		if !f.emit(line) {
			return
		}
	}

	f.consume(pos)
	f.scan = len(f.buf)
	if f.discarding {
		f.buf = f.buf[:0]
		f.scan = 0
		return
	}
	if len(f.buf) > limit {
		f.buf = f.buf[:0]
		f.scan = 0
		f.discarding = true
		f.emitError(ErrFrameOverflow)
	}
}

func (f *Framer) splitStructural() {
	limit := f.cfg.MaxMessageSize
	pos := 0
	for i := f.scan; i < len(f.buf); i++ {
		b := f.buf[i]

		if f.depth == 0 {
			switch {
			case b == '{' || b == '[':
				f.junk = false
				f.depth = 1
				f.open = append(f.open[:0], closerFor(b))
				f.start = i
				f.inString = false
				f.escaped = false
			case isSpace(b):
				pos = i + 1
			default:
				pos = i + 1
				if !f.junk {
					f.junk = true
					if !f.emitError(ErrMalformedFrame) {
						return
					}
				}
			}
			continue
		}

		if f.inString {
			switch {
			case f.escaped:
				f.escaped = false
			case b == '\\':
				f.escaped = true
			case b == '"':
				f.inString = false
			}
			continue
		}

		switch b {
		case '"':
			f.inString = true
		case '{', '[':
			f.depth++
			if !f.discarding {
				f.open = append(f.open, closerFor(b))
			}
		case '}', ']':
			if !f.discarding {
				want := f.open[len(f.open)-1]
				f.open = f.open[:len(f.open)-1]
				if b != want {
					// Drop the value and anything up to the next opener.
					pos = i + 1
					f.depth = 0
					f.open = f.open[:0]
					f.start = -1
					f.junk = true
					if !f.emitError(ErrMalformedFrame) {
						return
					}
					continue
				}
			}
			f.depth--
			if f.depth > 0 {
				continue
			}
			pos = i + 1
			ok := true
			switch {
			case f.discarding:
				f.discarding = false
			case i+1-f.start > limit:
				ok = f.emitError(ErrFrameOverflow)
			default:
				ok = f.emit(f.buf[f.start : i+1])
			}
			f.start = -1
			if !ok {
				return
			}
		}
	}

	f.scan = len(f.buf)
	if f.depth > 0 && !f.discarding && len(f.buf)-f.start > limit {
		f.discarding = true
		f.open = f.open[:0]
		if !f.emitError(ErrFrameOverflow) {
			return
		}
	}
	if f.discarding {
		// Keep scanning state but none of the oversized value's bytes.
		pos = len(f.buf)
		f.start = -1
	}
	f.consume(pos)
}

func closerFor(opener byte) byte {
	if opener == '{' {
		return '}'
	}
	return ']'
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}
