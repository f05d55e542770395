package reactor

import (
	"container/heap"
	"time"
)

type timerEntry struct {
	handle    Handle
	owner     Owner
	at        int64
	seq       uint64
	fn        TimerFunc
	index     int
	cancelled bool
}

// timerHeap orders timers by due time, then by scheduling order.
type timerHeap []*timerEntry

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	if h[i].at != h[j].at {
		return h[i].at < h[j].at
	}
	return h[i].seq < h[j].seq
}

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x any) {
	t := x.(*timerEntry)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}

// RunOnceAt schedules fn to run once at the absolute monotonic time at
// (milliseconds, as returned by Now). A time in the past fires in the next
// cycle.
func (r *Reactor) RunOnceAt(at int64, fn TimerFunc) Handle {
	return r.RunOnceAtFor(0, at, fn)
}

// RunOnceAtFor is RunOnceAt with the timer attributed to owner, so that
// CancelTimers(owner) can drop it.
func (r *Reactor) RunOnceAtFor(owner Owner, at int64, fn TimerFunc) Handle {
	r.nextHandle++
	r.timerSeq++
	t := &timerEntry{
		handle: r.nextHandle,
		owner:  owner,
		at:     at,
		seq:    r.timerSeq,
		fn:     fn,
	}
	heap.Push(&r.timers, t)
	r.timerIndex[t.handle] = t
	return t.handle
}

// RunOnceAfter schedules fn to run once after delay. The timer never fires
// before delay has elapsed on the reactor clock.
func (r *Reactor) RunOnceAfter(delay time.Duration, fn TimerFunc) Handle {
	return r.RunOnceAfterFor(0, delay, fn)
}

// RunOnceAfterFor is RunOnceAfter with the timer attributed to owner.
func (r *Reactor) RunOnceAfterFor(owner Owner, delay time.Duration, fn TimerFunc) Handle {
	if delay <= 0 {
		return r.RunOnceAtFor(owner, r.Now(), fn)
	}
	return r.RunOnceAtFor(owner, ceilMillis(r.clock.Now()+delay), fn)
}

// ceilMillis rounds d up to whole milliseconds. Now truncates, so a deadline
// rounded up is never reached early.
func ceilMillis(d time.Duration) int64 {
	ms := d.Milliseconds()
	if d%time.Millisecond > 0 {
		ms++
	}
	return ms
}

// CancelTimer cancels a pending timer. It reports false if the timer already
// fired, was already cancelled, or never existed.
func (r *Reactor) CancelTimer(h Handle) bool {
	t, ok := r.timerIndex[h]
	if !ok {
		return false
	}
	delete(r.timerIndex, h)
	t.cancelled = true
	if t.index >= 0 {
		heap.Remove(&r.timers, t.index)
	}
	return true
}

// CancelTimers cancels every pending timer scheduled for owner and returns
// how many were dropped. Owner zero, used by RunOnceAt and RunOnceAfter,
// is never matched.
func (r *Reactor) CancelTimers(owner Owner) int {
	if owner == 0 {
		return 0
	}
	var handles []Handle
	for h, t := range r.timerIndex {
		if t.owner == owner {
			handles = append(handles, h)
		}
	}
	for _, h := range handles {
		r.CancelTimer(h)
	}
	return len(handles)
}

// PendingTimers returns the number of scheduled timers.
func (r *Reactor) PendingTimers() int {
	return len(r.timerIndex)
}

func (r *Reactor) nextTimerAt() (int64, bool) {
	if len(r.timers) == 0 {
		return 0, false
	}
	return r.timers[0].at, true
}

// runTimers fires every timer due at now. Timers scheduled by these
// callbacks wait for the next cycle even when already due.
func (r *Reactor) runTimers(now int64) {
	var due []*timerEntry
	for len(r.timers) > 0 && r.timers[0].at <= now {
		due = append(due, heap.Pop(&r.timers).(*timerEntry))
	}

	for _, t := range due {
		if t.cancelled {
			continue
		}
		delete(r.timerIndex, t.handle)
		fn := t.fn
		if fn == nil {
			continue
		}
		fired := r.Now()
		r.safeCall("timer", func() { fn(fired) })
	}
}
