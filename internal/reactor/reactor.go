package reactor

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultCycleInterval is the cycle length used when none is configured.
const DefaultCycleInterval = 100 * time.Millisecond

// Logger defines the logging interface used by the reactor.
// This allows the reactor to use any logger that implements these methods.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// noopLogger discards all log output.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Owner identifies the component a registration belongs to. Owners are
// issued by NewOwner and never reused for the lifetime of a Reactor.
type Owner uint64

// Handle identifies a single scheduled timer or idle callback.
type Handle uint64

// IdleFunc is invoked once per cycle. The return value is reserved and
// currently ignored; an idle callback stays registered until unregistered.
type IdleFunc func(now int64) bool

// TimerFunc is invoked once when a timer becomes due.
type TimerFunc func(now int64)

// Option configures a Reactor.
type Option func(*Reactor)

// WithClock replaces the monotonic clock, typically with a FakeClock.
func WithClock(c Clock) Option {
	return func(r *Reactor) { r.clock = c }
}

// WithCycleInterval sets the cycle length.
func WithCycleInterval(d time.Duration) Option {
	return func(r *Reactor) { r.cycleInterval = d }
}

// WithLogger sets the logger used to report recovered callback panics.
func WithLogger(l Logger) Option {
	return func(r *Reactor) {
		if l != nil {
			r.logger = l
		}
	}
}

// Reactor is a single-threaded cooperative scheduler.
//
// Thread Safety:
//   - Only Post, Go and Terminate may be called from other goroutines.
//   - Everything else must run on the goroutine that calls Run.
type Reactor struct {
	clock         Clock
	cycleInterval time.Duration
	logger        Logger

	nextOwner  Owner
	nextHandle Handle

	idle            []*idleEntry
	idleDispatching bool
	idleDirty       bool

	timers     timerHeap
	timerSeq   uint64
	timerIndex map[Handle]*timerEntry

	watches          map[watchKey]*watchEntry
	watchList        []*watchEntry
	watchDispatching bool
	watchDirty       bool

	cycleStart int64
	running    bool
	terminated atomic.Bool
	cleanups   []func()

	wake   *wakeup
	postMu sync.Mutex
	posted []func()
}

// New creates a Reactor.
//
// The returned Reactor owns a wakeup pipe; call Close when done with it.
func New(opts ...Option) (*Reactor, error) {
	r := &Reactor{
		clock:         newMonotonicClock(),
		cycleInterval: DefaultCycleInterval,
		logger:        noopLogger{},
		timerIndex:    make(map[Handle]*timerEntry),
		watches:       make(map[watchKey]*watchEntry),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.cycleInterval <= 0 {
		r.cycleInterval = DefaultCycleInterval
	}

	wake, err := newWakeup()
	if err != nil {
		return nil, fmt.Errorf("creating wakeup pipe: %w", err)
	}
	r.wake = wake
	r.cycleStart = r.Now()

	return r, nil
}

// Close releases the wakeup pipe. The Reactor must not be used afterwards.
func (r *Reactor) Close() error {
	if r.wake == nil {
		return nil
	}
	err := r.wake.close()
	r.wake = nil
	return err
}

// NewOwner issues a fresh owner token.
func (r *Reactor) NewOwner() Owner {
	r.nextOwner++
	return r.nextOwner
}

// Now returns monotonic time in milliseconds.
func (r *Reactor) Now() int64 {
	return r.clock.Now().Milliseconds()
}

// CycleInterval returns the configured cycle length.
func (r *Reactor) CycleInterval() time.Duration {
	return r.cycleInterval
}

// SetCycleInterval changes the cycle length. It takes effect from the next
// I/O wait. Non-positive values restore the default.
func (r *Reactor) SetCycleInterval(d time.Duration) {
	if d <= 0 {
		d = DefaultCycleInterval
	}
	r.cycleInterval = d
}

// RemainingCycleTime returns how much of the current cycle is left.
func (r *Reactor) RemainingCycleTime() time.Duration {
	remaining := time.Duration(r.cycleStart-r.Now())*time.Millisecond + r.cycleInterval
	if remaining < 0 {
		return 0
	}
	return remaining
}

// OnTerminate registers a cleanup callback that runs, in registration order,
// before Run returns.
func (r *Reactor) OnTerminate(fn func()) {
	if fn != nil {
		r.cleanups = append(r.cleanups, fn)
	}
}

// Terminate asks Run to return once the current cycle completes.
// Calling Terminate before Run makes the next Run return without cycling.
//
// Terminate is safe for concurrent use.
func (r *Reactor) Terminate() {
	r.terminated.Store(true)
	if r.wake != nil {
		r.wake.notify()
	}
}

// Terminated reports whether termination has been requested.
func (r *Reactor) Terminated() bool {
	return r.terminated.Load()
}

// Run executes cycles until Terminate is called or poll fails.
//
// Returns:
//   - error: ErrAlreadyRunning, or a wrapped ErrPoll if the I/O wait failed
func (r *Reactor) Run() error {
	if r.running {
		return ErrAlreadyRunning
	}
	r.running = true

	var err error
	for !r.terminated.Load() {
		if err = r.RunCycle(); err != nil {
			break
		}
	}

	cleanups := r.cleanups
	r.cleanups = nil
	for _, fn := range cleanups {
		r.safeCall("cleanup", fn)
	}

	r.running = false
	r.terminated.Store(false)
	return err
}

// RunCycle executes exactly one cycle: due timers, idle callbacks, the I/O
// wait with fd dispatch, then posted work.
func (r *Reactor) RunCycle() error {
	r.cycleStart = r.Now()

	r.runTimers(r.cycleStart)
	r.runIdle()

	if err := r.pollIO(); err != nil {
		return err
	}

	r.runPosted()
	return nil
}

// pollTimeout returns the I/O wait limit in milliseconds.
func (r *Reactor) pollTimeout() int {
	if r.terminated.Load() || r.hasPosted() {
		return 0
	}

	timeout := r.RemainingCycleTime().Milliseconds()
	if next, ok := r.nextTimerAt(); ok {
		until := next - r.Now()
		if until < 0 {
			until = 0
		}
		if until < timeout {
			timeout = until
		}
	}
	return int(timeout)
}

// safeCall runs fn and logs a recovered panic instead of unwinding the loop.
func (r *Reactor) safeCall(kind string, fn func()) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("reactor callback panicked", "kind", kind, "panic", p)
		}
	}()
	fn()
}
