//go:build unix

package scheduler

import (
	"errors"
	"time"

	"golang.org/x/sys/unix"
)

// UnixPoller waits with poll(2) on the job descriptors and a self pipe.
type UnixPoller struct {
	r, w int
	fds  []unix.PollFd
}

// NewPoller creates the wake pipe.
func NewPoller() (*UnixPoller, error) {
	var p [2]int
	if err := unix.Pipe(p[:]); err != nil {
		return nil, err
	}
	for _, fd := range p {
		unix.CloseOnExec(fd)
		if err := unix.SetNonblock(fd, true); err != nil {
			unix.Close(p[0])
			unix.Close(p[1])
			return nil, err
		}
	}
	return &UnixPoller{r: p[0], w: p[1]}, nil
}

// Poll implements Poller.
func (p *UnixPoller) Poll(fds []PollFd, timeout time.Duration) error {
	p.fds = p.fds[:0]
	p.fds = append(p.fds, unix.PollFd{Fd: int32(p.r), Events: unix.POLLIN})
	for _, fd := range fds {
		p.fds = append(p.fds, unix.PollFd{Fd: int32(fd.Fd), Events: fd.Events})
	}

	ms := -1
	if timeout >= 0 {
		// round up so a job is not woken just before its time
		ms = int((timeout + time.Millisecond - 1) / time.Millisecond)
	}

	_, err := unix.Poll(p.fds, ms)
	if err != nil && !errors.Is(err, unix.EINTR) {
		return err
	}

	if p.fds[0].Revents&unix.POLLIN != 0 {
		var buf [64]byte
		for {
			n, err := unix.Read(p.r, buf[:])
			if n <= 0 || err != nil {
				break
			}
		}
	}
	return nil
}

// Wakeup implements Poller.
func (p *UnixPoller) Wakeup() {
	_, _ = unix.Write(p.w, []byte{0})
}

// Close releases the wake pipe.
func (p *UnixPoller) Close() error {
	return errors.Join(unix.Close(p.r), unix.Close(p.w))
}
