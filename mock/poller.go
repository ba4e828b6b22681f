// Package mock provides in-memory sockets and a poller for driving the
// event loop in tests.
package mock

import (
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/nonamed-dns/nonamed/scheduler"
)

// Poller advances a fake clock by the poll timeout instead of blocking.
type Poller struct {
	Clock *clockwork.FakeClock

	Calls    int
	Wakeups  int
	LastFds  []scheduler.PollFd
	Timeouts []time.Duration

	// OnPoll runs on every Poll before the clock moves.
	OnPoll func()
}

// NewPoller returns a poller over clock.
func NewPoller(clock *clockwork.FakeClock) *Poller {
	return &Poller{Clock: clock}
}

// Poll implements scheduler.Poller.
func (p *Poller) Poll(fds []scheduler.PollFd, timeout time.Duration) error {
	p.Calls++
	p.LastFds = append(p.LastFds[:0], fds...)
	p.Timeouts = append(p.Timeouts, timeout)
	if p.OnPoll != nil {
		p.OnPoll()
	}
	if timeout > 0 && p.Clock != nil {
		p.Clock.Advance(timeout)
	}
	return nil
}

// Wakeup implements scheduler.Poller.
func (p *Poller) Wakeup() { p.Wakeups++ }
