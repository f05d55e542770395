package reactor

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// wakeup is a self-pipe used to interrupt the I/O wait from other goroutines.
type wakeup struct {
	r, w int
}

func newWakeup() (*wakeup, error) {
	var p [2]int
	if err := unix.Pipe2(p[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		return nil, err
	}
	return &wakeup{r: p[0], w: p[1]}, nil
}

func (w *wakeup) readFD() int { return w.r }

func (w *wakeup) notify() {
	// A full pipe already guarantees a wakeup.
	_, _ = unix.Write(w.w, []byte{1})
}

func (w *wakeup) drain() {
	var buf [64]byte
	for {
		n, err := unix.Read(w.r, buf[:])
		if n <= 0 || err != nil {
			return
		}
	}
}

func (w *wakeup) close() error {
	return errors.Join(unix.Close(w.r), unix.Close(w.w))
}

// Post queues fn to run on the reactor goroutine at the end of the current
// or next cycle and interrupts the I/O wait.
//
// Post is safe for concurrent use.
func (r *Reactor) Post(fn func()) {
	if fn == nil {
		return
	}
	r.postMu.Lock()
	r.posted = append(r.posted, fn)
	r.postMu.Unlock()

	if r.wake != nil {
		r.wake.notify()
	}
}

// Go runs work on a new goroutine and delivers its result to done on the
// reactor goroutine. A panic in work is reported to done as ErrCallbackPanic.
//
// Go is safe for concurrent use.
func (r *Reactor) Go(work func() error, done func(error)) {
	go func() {
		var err error
		func() {
			defer func() {
				if p := recover(); p != nil {
					err = fmt.Errorf("%w: %v", ErrCallbackPanic, p)
				}
			}()
			err = work()
		}()
		if done != nil {
			r.Post(func() { done(err) })
		}
	}()
}

func (r *Reactor) hasPosted() bool {
	r.postMu.Lock()
	defer r.postMu.Unlock()
	return len(r.posted) > 0
}

func (r *Reactor) runPosted() {
	r.postMu.Lock()
	work := r.posted
	r.posted = nil
	r.postMu.Unlock()

	for _, fn := range work {
		r.safeCall("posted", fn)
	}
}
