package middleware

import (
	"errors"
	"net/netip"

	"github.com/nonamed-dns/nonamed/dnsutil"
)

// ResponseWriter captures the reply a handler produced.
type ResponseWriter interface {
	Write(reply []byte) (int, error)
	Reply() dnsutil.Packet
	Rcode() int
	Written() bool
	Drop()
	Dropped() bool
	Reset(src netip.AddrPort, proto string)
	Proto() string
	RemoteAddr() netip.AddrPort
}

type responseWriter struct {
	reply   dnsutil.Packet
	dropped bool
	proto   string
	remote  netip.AddrPort
}

var _ ResponseWriter = &responseWriter{}

var (
	errAlreadyWritten = errors.New("reply already written")
	errShortReply     = errors.New("reply shorter than a header")
)

func (w *responseWriter) Reset(src netip.AddrPort, proto string) {
	w.reply = nil
	w.dropped = false
	w.remote = src
	w.proto = proto
}

func (w *responseWriter) Write(b []byte) (int, error) {
	if w.Written() || w.dropped {
		return 0, errAlreadyWritten
	}
	if len(b) < dnsutil.HeaderSize {
		return 0, errShortReply
	}
	w.reply = dnsutil.Packet(b).Clone()
	return len(b), nil
}

func (w *responseWriter) Reply() dnsutil.Packet { return w.reply }

func (w *responseWriter) Rcode() int {
	if w.reply == nil {
		return -1
	}
	return w.reply.Rcode()
}

func (w *responseWriter) Written() bool { return w.reply != nil }

func (w *responseWriter) Drop() { w.dropped = true }

func (w *responseWriter) Dropped() bool { return w.dropped }

func (w *responseWriter) Proto() string { return w.proto }

func (w *responseWriter) RemoteAddr() netip.AddrPort { return w.remote }
