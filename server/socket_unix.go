//go:build unix

package server

import (
	"errors"
	"io"
	"net/netip"

	"golang.org/x/net/ipv4"
	"golang.org/x/sys/unix"

	"github.com/nonamed-dns/nonamed/scheduler"
)

func sockErr(err error) error {
	switch {
	case errors.Is(err, unix.EAGAIN), errors.Is(err, unix.EWOULDBLOCK),
		errors.Is(err, unix.EINTR), errors.Is(err, unix.EINPROGRESS):
		return scheduler.ErrWouldBlock
	}
	return err
}

func sockaddr(addr netip.AddrPort) *unix.SockaddrInet4 {
	return &unix.SockaddrInet4{Port: int(addr.Port()), Addr: addr.Addr().Unmap().As4()}
}

func addrPort(sa unix.Sockaddr) netip.AddrPort {
	if sa4, ok := sa.(*unix.SockaddrInet4); ok {
		return netip.AddrPortFrom(netip.AddrFrom4(sa4.Addr), uint16(sa4.Port))
	}
	return netip.AddrPort{}
}

func socket(typ int) (int, error) {
	fd, err := unix.Socket(unix.AF_INET, typ, 0)
	if err != nil {
		return -1, err
	}
	unix.CloseOnExec(fd)
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return -1, err
	}
	return fd, nil
}

type udpSocket struct {
	fd  int
	oob []byte
}

// ListenUDP opens the daemon UDP socket on addr.
func ListenUDP(addr netip.AddrPort) (PacketConn, error) {
	fd, err := socket(unix.SOCK_DGRAM)
	if err != nil {
		return nil, err
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return nil, err
	}
	if err := setPktinfo(fd); err != nil {
		unix.Close(fd)
		return nil, err
	}
	if err := unix.Bind(fd, sockaddr(addr)); err != nil {
		unix.Close(fd)
		return nil, err
	}
	return &udpSocket{fd: fd, oob: make([]byte, 128)}, nil
}

func (s *udpSocket) ReadFrom(b []byte) (int, netip.AddrPort, netip.Addr, error) {
	n, oobn, _, sa, err := unix.Recvmsg(s.fd, b, s.oob, 0)
	if err != nil {
		return 0, netip.AddrPort{}, netip.Addr{}, sockErr(err)
	}

	var to netip.Addr
	var cm ipv4.ControlMessage
	if oobn > 0 && cm.Parse(s.oob[:oobn]) == nil && cm.Dst != nil {
		to, _ = netip.AddrFromSlice(cm.Dst.To4())
	}

	return n, addrPort(sa), to, nil
}

func (s *udpSocket) WriteTo(b []byte, to netip.AddrPort) error {
	return sockErr(unix.Sendto(s.fd, b, 0, sockaddr(to)))
}

func (s *udpSocket) Fd() int { return s.fd }

func (s *udpSocket) Close() error { return unix.Close(s.fd) }

type tcpListener struct {
	fd int
}

// ListenTCP opens a listening TCP socket on addr.
func ListenTCP(addr netip.AddrPort) (Listener, error) {
	fd, err := socket(unix.SOCK_STREAM)
	if err != nil {
		return nil, err
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return nil, err
	}
	if err := unix.Bind(fd, sockaddr(addr)); err != nil {
		unix.Close(fd)
		return nil, err
	}
	if err := unix.Listen(fd, listenBacklog); err != nil {
		unix.Close(fd)
		return nil, err
	}
	return &tcpListener{fd: fd}, nil
}

func (l *tcpListener) Accept() (Stream, netip.AddrPort, error) {
	nfd, sa, err := unix.Accept(l.fd)
	if err != nil {
		return nil, netip.AddrPort{}, sockErr(err)
	}
	unix.CloseOnExec(nfd)
	if err := unix.SetNonblock(nfd, true); err != nil {
		unix.Close(nfd)
		return nil, netip.AddrPort{}, err
	}
	return &tcpStream{fd: nfd}, addrPort(sa), nil
}

func (l *tcpListener) Fd() int { return l.fd }

func (l *tcpListener) Close() error { return unix.Close(l.fd) }

type tcpStream struct {
	fd int
}

// DialTCP starts a non-blocking connect to addr.
func DialTCP(addr netip.AddrPort) (Stream, error) {
	fd, err := socket(unix.SOCK_STREAM)
	if err != nil {
		return nil, err
	}
	err = unix.Connect(fd, sockaddr(addr))
	if err != nil && !errors.Is(err, unix.EINPROGRESS) {
		unix.Close(fd)
		return nil, err
	}
	return &tcpStream{fd: fd}, nil
}

func (c *tcpStream) Read(b []byte) (int, error) {
	n, err := unix.Read(c.fd, b)
	if err != nil {
		return 0, sockErr(err)
	}
	if n == 0 && len(b) > 0 {
		return 0, io.EOF
	}
	return n, nil
}

func (c *tcpStream) Write(b []byte) (int, error) {
	n, err := unix.Write(c.fd, b)
	if err != nil {
		return 0, sockErr(err)
	}
	return n, nil
}

func (c *tcpStream) Connected() error {
	fds := []unix.PollFd{{Fd: int32(c.fd), Events: unix.POLLOUT}}
	n, err := unix.Poll(fds, 0)
	if err != nil {
		return sockErr(err)
	}
	if n == 0 {
		return scheduler.ErrWouldBlock
	}
	soerr, err := unix.GetsockoptInt(c.fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return err
	}
	if soerr != 0 {
		return unix.Errno(soerr)
	}
	return nil
}

func (c *tcpStream) CloseWrite() error { return unix.Shutdown(c.fd, unix.SHUT_WR) }

func (c *tcpStream) Close() error { return unix.Close(c.fd) }

func (c *tcpStream) Fd() int { return c.fd }

const listenBacklog = 16
