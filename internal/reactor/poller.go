// Package reactor is the thin portability layer over the OS readiness
// multiplexer described in spec.md §4.A: register/modify/deregister a file
// descriptor for read and/or write readiness, then wait with a deadline for
// a batch of events. Two platform-specific implementations back the same
// Poller interface — epoll on Linux (poller_linux.go), kqueue on
// Darwin/BSD (poller_darwin.go) — selected at compile time via Go build
// tags, matching the "readiness-based I/O multiplexer" spec.md names.
package reactor

import "time"

// Interest is the pair of readiness flags a registration cares about.
type Interest struct {
	Read  bool
	Write bool
}

// Event reports one fd's readiness, per spec.md §4.A.
type Event struct {
	FD       int
	Readable bool
	Writable bool
	HangUp   bool
}

// Poller is the readiness driver interface every connection/listener fd is
// registered with. Implementations are level-triggered (spec.md §4.A: "the
// reference design uses level-triggered for simplicity"), so a fd stays
// reported as ready until the caller actually drains it or narrows its
// interest.
type Poller interface {
	// Add registers fd for the given interest. A registration error is
	// fatal at startup (spec.md §4.A).
	Add(fd int, interest Interest) error

	// Modify changes fd's interest set.
	Modify(fd int, interest Interest) error

	// Remove deregisters fd. It is safe to call after the fd has already
	// been closed.
	Remove(fd int) error

	// Wait blocks until at least one registered fd is ready, timeout
	// elapses, or the call is interrupted (treated as a zero-event
	// return per spec.md §4.A). A negative timeout blocks indefinitely; a
	// zero timeout polls without blocking.
	Wait(timeout time.Duration) ([]Event, error)

	// Close releases the underlying kernel object.
	Close() error
}
