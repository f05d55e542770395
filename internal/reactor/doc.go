// Package reactor provides the single-threaded cooperative scheduler that
// drives every connection in the bridge daemon.
//
// A Reactor multiplexes three kinds of work onto one goroutine:
//
//   - Idle callbacks: persistent, invoked once per cycle in registration order.
//   - One-shot timers: fire once, in timestamp order, never before their time.
//   - File descriptor watches: read, write and error readiness via poll(2).
//
// # Cycle
//
// Each cycle fires the timers that were due when the cycle started, then
// runs the idle callbacks, then waits for fd readiness for at most the
// remainder of the cycle interval (100 ms by default) or until the next
// timer is due, whichever is sooner. Ready descriptors are dispatched in the
// order poll reported them. Work posted from other goroutines runs last.
//
// # Threading
//
// Nothing in a Reactor is locked. Every registration and every callback
// happens on the goroutine that calls Run. The only entry points that are
// safe from other goroutines are Post, Go and Terminate.
//
// # Usage
//
//	r, err := reactor.New()
//	if err != nil {
//	    return err
//	}
//	defer r.Close()
//
//	owner := r.NewOwner()
//	r.RegisterIdle(owner, func(now int64) bool { return true })
//	r.RunOnceAfter(5*time.Second, func(now int64) { r.Terminate() })
//	return r.Run()
package reactor
