package mock

import (
	"bytes"
	"io"
	"net/netip"

	"github.com/nonamed-dns/nonamed/scheduler"
)

// Stream is an in-memory TCP connection. Reads are served from Chunks in
// order; a nil chunk makes one read return ErrWouldBlock.
type Stream struct {
	Chunks [][]byte
	// EOF ends the stream once Chunks is drained.
	EOF bool

	Written bytes.Buffer
	// WriteLimit caps the bytes accepted per write when positive.
	WriteLimit int

	// ConnectErr is the outcome of a pending connect.
	ConnectErr error
	// ConnectWait makes Connected report ErrWouldBlock that many times.
	ConnectWait int

	HalfClosed bool
	Closed     bool
}

// NewStream returns a stream that will read the given chunks.
func NewStream(chunks ...[]byte) *Stream {
	return &Stream{Chunks: chunks}
}

// Read implements the stream read side.
func (s *Stream) Read(b []byte) (int, error) {
	if s.Closed {
		return 0, io.ErrClosedPipe
	}
	if len(s.Chunks) == 0 {
		if s.EOF {
			return 0, io.EOF
		}
		return 0, scheduler.ErrWouldBlock
	}
	chunk := s.Chunks[0]
	if chunk == nil {
		s.Chunks = s.Chunks[1:]
		return 0, scheduler.ErrWouldBlock
	}
	n := copy(b, chunk)
	if n < len(chunk) {
		s.Chunks[0] = chunk[n:]
	} else {
		s.Chunks = s.Chunks[1:]
	}
	return n, nil
}

// Write implements the stream write side.
func (s *Stream) Write(b []byte) (int, error) {
	if s.Closed || s.HalfClosed {
		return 0, io.ErrClosedPipe
	}
	if s.WriteLimit > 0 && len(b) > s.WriteLimit {
		b = b[:s.WriteLimit]
	}
	return s.Written.Write(b)
}

// Connected reports the outcome of a non-blocking connect.
func (s *Stream) Connected() error {
	if s.ConnectWait > 0 {
		s.ConnectWait--
		return scheduler.ErrWouldBlock
	}
	return s.ConnectErr
}

// CloseWrite half-closes the stream.
func (s *Stream) CloseWrite() error {
	s.HalfClosed = true
	return nil
}

// Close closes the stream.
func (s *Stream) Close() error {
	s.Closed = true
	return nil
}

// Fd returns an invalid descriptor.
func (s *Stream) Fd() int { return -1 }

// Accepted is a connection waiting on a Listener.
type Accepted struct {
	Stream *Stream
	From   netip.AddrPort
}

// Listener hands out queued connections.
type Listener struct {
	Pending []Accepted
	Closed  bool
}

// Push queues a connection from addr.
func (l *Listener) Push(s *Stream, from string) {
	l.Pending = append(l.Pending, Accepted{Stream: s, From: netip.MustParseAddrPort(from)})
}

// Accept pops the next queued connection.
func (l *Listener) Accept() (*Stream, netip.AddrPort, error) {
	if len(l.Pending) == 0 {
		return nil, netip.AddrPort{}, scheduler.ErrWouldBlock
	}
	a := l.Pending[0]
	l.Pending = l.Pending[1:]
	return a.Stream, a.From, nil
}

// Fd returns an invalid descriptor.
func (l *Listener) Fd() int { return -1 }

// Close marks the listener closed.
func (l *Listener) Close() error {
	l.Closed = true
	return nil
}
