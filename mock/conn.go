package mock

import (
	"errors"
	"io"
	"net/netip"

	"github.com/nonamed-dns/nonamed/scheduler"
)

// Datagram is one UDP packet with its addresses.
type Datagram struct {
	Data []byte
	From netip.AddrPort
	To   netip.AddrPort
}

// PacketConn is an in-memory UDP socket.
type PacketConn struct {
	Local netip.AddrPort

	Inbound []Datagram
	Sent    []Datagram

	Closed bool
	// WriteErr fails every write when set.
	WriteErr error
}

// NewPacketConn returns a socket bound to local.
func NewPacketConn(local string) *PacketConn {
	return &PacketConn{Local: netip.MustParseAddrPort(local)}
}

// Push queues an inbound packet.
func (c *PacketConn) Push(data []byte, from string) {
	c.Inbound = append(c.Inbound, Datagram{
		Data: append([]byte(nil), data...),
		From: netip.MustParseAddrPort(from),
		To:   c.Local,
	})
}

// ReadFrom pops the next inbound packet.
func (c *PacketConn) ReadFrom(b []byte) (int, netip.AddrPort, netip.Addr, error) {
	if c.Closed {
		return 0, netip.AddrPort{}, netip.Addr{}, io.ErrClosedPipe
	}
	if len(c.Inbound) == 0 {
		return 0, netip.AddrPort{}, netip.Addr{}, scheduler.ErrWouldBlock
	}
	d := c.Inbound[0]
	c.Inbound = c.Inbound[1:]
	n := copy(b, d.Data)
	return n, d.From, d.To.Addr(), nil
}

// WriteTo records an outbound packet.
func (c *PacketConn) WriteTo(b []byte, to netip.AddrPort) error {
	if c.Closed {
		return io.ErrClosedPipe
	}
	if c.WriteErr != nil {
		return c.WriteErr
	}
	c.Sent = append(c.Sent, Datagram{Data: append([]byte(nil), b...), From: c.Local, To: to})
	return nil
}

// Take returns and clears the recorded outbound packets.
func (c *PacketConn) Take() []Datagram {
	sent := c.Sent
	c.Sent = nil
	return sent
}

// Fd returns an invalid descriptor.
func (c *PacketConn) Fd() int { return -1 }

// Close marks the socket closed.
func (c *PacketConn) Close() error {
	if c.Closed {
		return errors.New("already closed")
	}
	c.Closed = true
	return nil
}
