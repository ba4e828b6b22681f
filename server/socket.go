package server

import "net/netip"

// PacketConn is a non-blocking UDP socket. ReadFrom also reports the
// local address the packet was sent to, when known.
type PacketConn interface {
	ReadFrom(b []byte) (n int, from netip.AddrPort, to netip.Addr, err error)
	WriteTo(b []byte, to netip.AddrPort) error
	Fd() int
	Close() error
}

// Stream is a non-blocking TCP connection.
type Stream interface {
	Read(b []byte) (int, error)
	Write(b []byte) (int, error)
	// Connected reports the outcome of a connect in progress.
	Connected() error
	CloseWrite() error
	Close() error
	Fd() int
}

// Listener accepts TCP connections without blocking.
type Listener interface {
	Accept() (Stream, netip.AddrPort, error)
	Fd() int
	Close() error
}
