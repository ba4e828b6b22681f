// Package middleware routes a client query through an ordered list of
// handlers. A handler either writes a reply, drops the query or passes it
// on; a query no handler answered is relayed upstream.
package middleware

import (
	"net/netip"

	"github.com/nonamed-dns/nonamed/dnsutil"
)

// Handler is one step of the query chain.
type Handler interface {
	Name() string
	ServeDNS(ch *Chain)
}

// Request is a decoded client query.
type Request struct {
	Packet   dnsutil.Packet
	Question dnsutil.Question
	Source   netip.AddrPort
	Proto    string
}

// Verdict is the outcome of routing a query.
type Verdict int

// Verdicts.
const (
	Answer Verdict = iota
	Relay
	Drop
)

func (v Verdict) String() string {
	switch v {
	case Answer:
		return "answer"
	case Relay:
		return "relay"
	case Drop:
		return "drop"
	}
	return "unknown"
}

// HandlerFunc adapts a function to a Handler.
type HandlerFunc struct {
	Label string
	Fn    func(ch *Chain)
}

// Name implements Handler.
func (h HandlerFunc) Name() string { return h.Label }

// ServeDNS implements Handler.
func (h HandlerFunc) ServeDNS(ch *Chain) { h.Fn(ch) }
