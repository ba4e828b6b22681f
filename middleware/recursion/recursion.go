package recursion

import (
	"github.com/miekg/dns"

	"github.com/nonamed-dns/nonamed/middleware"
)

// Recursion answers queries that do not ask for recursion with an empty
// NOERROR reply instead of relaying them.
type Recursion struct{}

// New return recursion
func New() *Recursion {
	return &Recursion{}
}

// Name return middleware name
func (r *Recursion) Name() string { return name }

// ServeDNS implements the Handle interface.
func (r *Recursion) ServeDNS(ch *middleware.Chain) {
	if !ch.Request.Packet.RD() {
		ch.CancelWithRcode(dns.RcodeSuccess, false)
		return
	}

	ch.Next()
}

const name = "recursion"
