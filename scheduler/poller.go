package scheduler

import "time"

// Poll events, as defined by poll(2).
const (
	EventRead  int16 = 0x0001
	EventWrite int16 = 0x0004
)

// PollFd is a descriptor and the events a job waits for.
type PollFd struct {
	Fd     int
	Events int16
}

// Poller blocks the event loop until I/O is possible.
type Poller interface {
	// Poll waits for any of fds, a Wakeup call or the timeout.
	// A negative timeout waits forever.
	Poll(fds []PollFd, timeout time.Duration) error
	// Wakeup interrupts a Poll in progress. It may be called from any goroutine.
	Wakeup()
}
