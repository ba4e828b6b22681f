package chaos

import (
	"fmt"
	"net"
	"net/netip"
	"os"
	"strings"

	"github.com/miekg/dns"

	"github.com/nonamed-dns/nonamed/config"
	"github.com/nonamed-dns/nonamed/dnsutil"
	"github.com/nonamed-dns/nonamed/middleware"
	"github.com/nonamed-dns/nonamed/upstream"
)

// Chaos type
type Chaos struct {
	version string
	servers *upstream.Set

	self netip.AddrPort
}

// New return chaos. servers may be nil.
func New(cfg *config.Config, servers *upstream.Set) *Chaos {
	return &Chaos{
		version: cfg.ServerVersion(),
		servers: servers,
	}
}

// Name return middleware name
func (c *Chaos) Name() string { return name }

// SetSelf records the address the daemon answers on.
func (c *Chaos) SetSelf(addr netip.AddrPort) { c.self = addr }

// ServeDNS implements the Handle interface.
func (c *Chaos) ServeDNS(ch *middleware.Chain) {
	q := ch.Request.Question

	if q.Class != dns.ClassCHAOS || q.Type != dns.TypeTXT {
		ch.Next()
		return
	}

	var (
		txt   string
		extra []dns.RR
	)

	switch strings.ToLower(dns.Fqdn(q.Name)) {
	case "version.bind.", "version.server.":
		txt = fmt.Sprintf("nonamed %s at %s", c.version, c.self)
		extra = c.nameservers()
	case "hostname.bind.", "id.server.":
		hostname, err := os.Hostname()
		if err != nil {
			hostname = "unknown"
		}
		txt = hostname
	default:
		ch.Next()
		return
	}

	answer := []dns.RR{
		&dns.TXT{
			Hdr: dns.RR_Header{
				Name:   dns.Fqdn(q.Name),
				Rrtype: dns.TypeTXT,
				Class:  dns.ClassCHAOS,
			},
			Txt: []string{limitTXTLength(txt)},
		}}

	reply, err := dnsutil.NewAnswer(q, answer, extra)
	if err != nil {
		ch.Next()
		return
	}

	_, _ = ch.Writer.Write(reply)
	ch.Cancel()
}

// nameservers lists the upstream servers starting at the current one.
func (c *Chaos) nameservers() []dns.RR {
	if c.servers == nil {
		return nil
	}

	var rrs []dns.RR
	for _, addr := range c.servers.Nameservers() {
		rrs = append(rrs, &dns.A{
			Hdr: dns.RR_Header{
				Name:   "%nameserver.",
				Rrtype: dns.TypeA,
				Class:  dns.ClassINET,
			},
			A: net.IP(addr.AsSlice()),
		})
	}
	return rrs
}

func limitTXTLength(s string) string {
	if len(s) < 256 {
		return s
	}
	return s[:255]
}

const name = "chaos"
