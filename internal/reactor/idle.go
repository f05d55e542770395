package reactor

type idleEntry struct {
	handle  Handle
	owner   Owner
	fn      IdleFunc
	removed bool
}

// RegisterIdle adds a persistent callback invoked once per cycle, after due
// timers and before the I/O wait. Callbacks registered during dispatch first
// run in the next cycle. A nil fn registers nothing and returns zero.
func (r *Reactor) RegisterIdle(owner Owner, fn IdleFunc) Handle {
	if fn == nil {
		return 0
	}
	r.nextHandle++
	r.idle = append(r.idle, &idleEntry{handle: r.nextHandle, owner: owner, fn: fn})
	return r.nextHandle
}

// UnregisterIdleHandle removes the single idle callback registered under h.
// It reports false if h is unknown or already removed.
func (r *Reactor) UnregisterIdleHandle(h Handle) bool {
	found := false
	for _, e := range r.idle {
		if e.handle == h && !e.removed {
			e.removed = true
			r.idleDirty = true
			found = true
			break
		}
	}
	if !r.idleDispatching {
		r.sweepIdle()
	}
	return found
}

// UnregisterIdle removes every idle callback registered by owner.
//
// It is safe to call from inside any idle callback, including one belonging
// to owner. Removed entries are skipped for the rest of the cycle and swept
// when dispatch completes.
func (r *Reactor) UnregisterIdle(owner Owner) {
	for _, e := range r.idle {
		if e.owner == owner && !e.removed {
			e.removed = true
			r.idleDirty = true
		}
	}
	if !r.idleDispatching {
		r.sweepIdle()
	}
}

// IdleCount returns the number of registered idle callbacks.
func (r *Reactor) IdleCount() int {
	n := 0
	for _, e := range r.idle {
		if !e.removed {
			n++
		}
	}
	return n
}

func (r *Reactor) runIdle() {
	r.idleDispatching = true
	n := len(r.idle)
	for i := 0; i < n; i++ {
		e := r.idle[i]
		if e.removed {
			continue
		}
		now := r.Now()
		r.safeCall("idle", func() { e.fn(now) })
	}
	r.idleDispatching = false
	r.sweepIdle()
}

func (r *Reactor) sweepIdle() {
	if !r.idleDirty {
		return
	}
	kept := r.idle[:0]
	for _, e := range r.idle {
		if !e.removed {
			kept = append(kept, e)
		}
	}
	for i := len(kept); i < len(r.idle); i++ {
		r.idle[i] = nil
	}
	r.idle = kept
	r.idleDirty = false
}
