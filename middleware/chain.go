package middleware

import (
	"net/netip"

	"github.com/miekg/dns"

	"github.com/nonamed-dns/nonamed/dnsutil"
)

// Chain type.
type Chain struct {
	Writer  ResponseWriter
	Request *Request

	handlers []Handler

	head  int
	count int
}

// NewChain return new fresh chain.
func NewChain(handlers []Handler) *Chain {
	return &Chain{
		Writer:   &responseWriter{},
		handlers: handlers,
		count:    len(handlers),
	}
}

// Handlers returns the handlers in order.
func (ch *Chain) Handlers() []Handler { return ch.handlers }

// Next calls the next handler in the chain.
func (ch *Chain) Next() {
	if ch.count == 0 {
		return
	}

	handler := ch.handlers[ch.head]
	ch.head++
	ch.count--

	handler.ServeDNS(ch)
}

// Cancel stops the chain.
func (ch *Chain) Cancel() {
	ch.count = 0
}

// CancelWithRcode answers with the query turned into a reply carrying
// rcode, and stops the chain.
func (ch *Chain) CancelWithRcode(rcode int, authoritative bool) {
	reply := ch.Request.Packet.Clone()
	dnsutil.SetReply(reply, rcode, authoritative)

	_, _ = ch.Writer.Write(reply)

	ch.count = 0
}

// Drop discards the query without a reply and stops the chain.
func (ch *Chain) Drop() {
	ch.Writer.Drop()
	ch.count = 0
}

// Reset prepares the chain for a new request.
func (ch *Chain) Reset(req *Request) {
	ch.Writer.Reset(req.Source, req.Proto)
	ch.Request = req
	ch.count = len(ch.handlers)
	ch.head = 0
}

// Serve routes one client query. A query whose question does not decode
// is answered with FORMERR before any handler runs. Answers carry the
// id and RD bit of the query.
func (ch *Chain) Serve(pkt dnsutil.Packet, src netip.AddrPort, proto string) (Verdict, dnsutil.Packet) {
	q, err := dnsutil.FirstQuestion(pkt)
	if err != nil || pkt.Count(dnsutil.SectionQuestion) != 1 {
		reply := pkt.Clone()
		if !reply.Valid() {
			return Drop, nil
		}
		dnsutil.SetReply(reply, dns.RcodeFormatError, true)
		return Answer, reply
	}

	ch.Reset(&Request{Packet: pkt, Question: q, Source: src, Proto: proto})
	ch.Next()

	switch {
	case ch.Writer.Dropped():
		return Drop, nil
	case ch.Writer.Written():
		reply := ch.Writer.Reply()
		dnsutil.CopyQueryHeader(reply, pkt)
		return Answer, reply
	}
	return Relay, nil
}
