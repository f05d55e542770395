package reactor

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// FDWatch holds the readiness callbacks for one descriptor. A nil callback
// means no interest in that condition; error conditions are always polled
// and delivered to OnError when it is set.
type FDWatch struct {
	OnReadable func(fd int)
	OnWritable func(fd int)
	OnError    func(fd int, err error)
}

func (w FDWatch) events() int16 {
	var ev int16
	if w.OnReadable != nil {
		ev |= unix.POLLIN
	}
	if w.OnWritable != nil {
		ev |= unix.POLLOUT
	}
	return ev
}

type watchKey struct {
	owner Owner
	fd    int
}

type watchEntry struct {
	key     watchKey
	watch   FDWatch
	removed bool
}

// RegisterFDWatch starts watching fd on behalf of owner.
//
// Returns:
//   - error: ErrInvalidFD for negative descriptors, ErrDuplicateWatch if
//     owner already watches fd
func (r *Reactor) RegisterFDWatch(owner Owner, fd int, w FDWatch) error {
	if fd < 0 {
		return ErrInvalidFD
	}
	key := watchKey{owner: owner, fd: fd}
	if _, exists := r.watches[key]; exists {
		return fmt.Errorf("%w: fd %d", ErrDuplicateWatch, fd)
	}
	e := &watchEntry{key: key, watch: w}
	r.watches[key] = e
	r.watchList = append(r.watchList, e)
	return nil
}

// UpdateFDWatch replaces the callbacks of an existing watch. The new
// interest set applies from the next I/O wait.
func (r *Reactor) UpdateFDWatch(owner Owner, fd int, w FDWatch) error {
	e, ok := r.watches[watchKey{owner: owner, fd: fd}]
	if !ok {
		return ErrUnknownWatch
	}
	e.watch = w
	return nil
}

// UnregisterFDWatch stops watching fd for owner. A watch removed during
// dispatch receives no further callbacks, including in the current cycle.
func (r *Reactor) UnregisterFDWatch(owner Owner, fd int) {
	key := watchKey{owner: owner, fd: fd}
	e, ok := r.watches[key]
	if !ok {
		return
	}
	delete(r.watches, key)
	e.removed = true
	r.watchDirty = true
	if !r.watchDispatching {
		r.sweepWatches()
	}
}

// UnregisterFDWatches removes every watch held by owner.
func (r *Reactor) UnregisterFDWatches(owner Owner) {
	for key, e := range r.watches {
		if key.owner != owner {
			continue
		}
		delete(r.watches, key)
		e.removed = true
		r.watchDirty = true
	}
	if !r.watchDispatching {
		r.sweepWatches()
	}
}

// Watching reports whether owner currently watches fd.
func (r *Reactor) Watching(owner Owner, fd int) bool {
	_, ok := r.watches[watchKey{owner: owner, fd: fd}]
	return ok
}

func (r *Reactor) sweepWatches() {
	if !r.watchDirty {
		return
	}
	kept := r.watchList[:0]
	for _, e := range r.watchList {
		if !e.removed {
			kept = append(kept, e)
		}
	}
	for i := len(kept); i < len(r.watchList); i++ {
		r.watchList[i] = nil
	}
	r.watchList = kept
	r.watchDirty = false
}

// pollIO waits for readiness on every watched descriptor plus the wakeup
// pipe and dispatches what became ready.
func (r *Reactor) pollIO() error {
	fds := make([]unix.PollFd, 0, len(r.watchList)+1)
	fds = append(fds, unix.PollFd{Fd: int32(r.wake.readFD()), Events: unix.POLLIN})

	entries := make([]*watchEntry, 0, len(r.watchList))
	for _, e := range r.watchList {
		if e.removed {
			continue
		}
		fds = append(fds, unix.PollFd{Fd: int32(e.key.fd), Events: e.watch.events()})
		entries = append(entries, e)
	}

	n, err := unix.Poll(fds, r.pollTimeout())
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return nil
		}
		return fmt.Errorf("%w: %w", ErrPoll, err)
	}
	if n == 0 {
		return nil
	}

	if fds[0].Revents != 0 {
		r.wake.drain()
	}

	r.watchDispatching = true
	for i, e := range entries {
		revents := fds[i+1].Revents
		if revents == 0 || e.removed {
			continue
		}
		r.dispatchFD(e, revents)
	}
	r.watchDispatching = false
	r.sweepWatches()

	return nil
}

// dispatchFD maps poll flags to callbacks. Readable data is delivered before
// a hang-up so pending bytes are not lost.
func (r *Reactor) dispatchFD(e *watchEntry, revents int16) {
	fd := e.key.fd

	switch {
	case revents&unix.POLLIN != 0 && e.watch.OnReadable != nil:
		cb := e.watch.OnReadable
		r.safeCall("fd read", func() { cb(fd) })
	case revents&unix.POLLHUP != 0:
		r.deliverFDError(e, ErrHangUp)
		return
	}

	if e.removed {
		return
	}
	if revents&unix.POLLOUT != 0 && e.watch.OnWritable != nil {
		cb := e.watch.OnWritable
		r.safeCall("fd write", func() { cb(fd) })
	}

	if e.removed {
		return
	}
	switch {
	case revents&unix.POLLNVAL != 0:
		r.deliverFDError(e, ErrInvalidFD)
	case revents&unix.POLLERR != 0:
		r.deliverFDError(e, ErrFDError)
	}
}

func (r *Reactor) deliverFDError(e *watchEntry, err error) {
	fd := e.key.fd
	if cb := e.watch.OnError; cb != nil {
		r.safeCall("fd error", func() { cb(fd, err) })
		return
	}
	if cb := e.watch.OnReadable; cb != nil && err == ErrHangUp {
		// Readers detect hang-up themselves from a zero-byte read.
		r.safeCall("fd read", func() { cb(fd) })
		return
	}
	r.logger.Warn("unhandled fd condition", "fd", fd, "error", err)
}
