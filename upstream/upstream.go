// Package upstream tracks the recursive name servers nonamed relays to:
// which one is current, whether a search for a responsive one is in
// progress, and the transaction ids of queries in flight.
package upstream

import (
	"net/netip"
	"slices"

	"github.com/miekg/dns"
	"github.com/semihalev/zlog/v2"
)

// MaxServers is the most upstream servers kept.
const MaxServers = 8

// Set is the ordered list of upstream servers and the search state.
type Set struct {
	servers []netip.Addr
	port    uint16

	current int
	// searchCt is -1 when the next search round starts afresh, 0 when
	// idle and positive while candidates remain.
	searchCt int
	expect   bool
}

// NewSet returns an empty set whose servers listen on port.
func NewSet(port uint16) *Set {
	return &Set{port: port, searchCt: -1}
}

// Reset replaces the server list and returns to the first server.
func (s *Set) Reset(servers []netip.Addr) {
	if len(servers) > MaxServers {
		servers = servers[:MaxServers]
	}
	s.servers = slices.Clone(servers)
	s.current = 0
}

// Len returns the number of servers.
func (s *Set) Len() int { return len(s.servers) }

// Port returns the upstream port.
func (s *Set) Port() uint16 { return s.port }

// Index returns the position of the current server.
func (s *Set) Index() int { return s.current }

// Current returns the address of the current server. It is invalid when
// the set is empty.
func (s *Set) Current() netip.AddrPort {
	if len(s.servers) == 0 || s.current < 0 {
		return netip.AddrPort{}
	}
	return netip.AddrPortFrom(s.servers[s.current], s.port)
}

// Nameservers returns the servers starting at the current one.
func (s *Set) Nameservers() []netip.Addr {
	if len(s.servers) == 0 {
		return nil
	}
	start := max(s.current, 0)
	out := make([]netip.Addr, 0, len(s.servers))
	for i := range s.servers {
		out = append(out, s.servers[(start+i)%len(s.servers)])
	}
	return out
}

// Select makes addr current if it is in the list.
func (s *Set) Select(addr netip.Addr) bool {
	i := slices.Index(s.servers, addr.Unmap())
	if i < 0 {
		return false
	}
	s.current = i
	return true
}

// Rotated reports whether the current server is not the first one.
func (s *Set) Rotated() bool { return s.current > 0 }

// Searching reports whether a search round is in progress.
func (s *Set) Searching() bool { return s.searchCt > 0 }

// StartSearching arms a new search round.
func (s *Set) StartSearching() { s.searchCt = -1 }

// StopSearching ends the search round at its next step.
func (s *Set) StopSearching() { s.searchCt = 0 }

// Expecting reports whether a relayed query awaits any upstream reply.
func (s *Set) Expecting() bool { return s.expect }

// StartExpecting notes that a reply is awaited.
func (s *Set) StartExpecting() { s.expect = true }

// StopExpecting notes that an upstream replied.
func (s *Set) StopExpecting() { s.expect = false }

// Advance moves the search to the next candidate and returns it. It
// returns false when the round has tried every server, after which the
// next call starts a new round.
func (s *Set) Advance() (netip.AddrPort, bool) {
	if s.searchCt < 0 {
		s.searchCt = len(s.servers)
		s.current = -1
	}
	s.searchCt--
	if s.searchCt < 0 {
		if s.current < 0 {
			s.current = 0
		}
		return netip.AddrPort{}, false
	}
	s.current = (s.current + 1) % len(s.servers)
	return s.Current(), true
}

// Filter drops unspecified addresses, the daemon's own address and
// duplicates, and caps the list.
func Filter(servers []netip.Addr, self netip.Addr) []netip.Addr {
	var out []netip.Addr
	for _, a := range servers {
		a = a.Unmap()
		if !a.IsValid() || a.IsUnspecified() || a == self || slices.Contains(out, a) {
			continue
		}
		if len(out) == MaxServers {
			break
		}
		out = append(out, a)
	}
	return out
}

// ParseServers parses textual addresses, logging the ones that do not parse.
func ParseServers(list []string) []netip.Addr {
	var out []netip.Addr
	for _, s := range list {
		a, err := netip.ParseAddr(s)
		if err != nil {
			zlog.Error("Upstream server is not an address", "server", s, "error", err.Error())
			continue
		}
		out = append(out, a)
	}
	return out
}

// FromResolvConf returns the IPv4 name servers of a resolv.conf file.
func FromResolvConf(path string) ([]netip.Addr, error) {
	cfg, err := dns.ClientConfigFromFile(path)
	if err != nil {
		return nil, err
	}

	var out []netip.Addr
	for _, s := range ParseServers(cfg.Servers) {
		if s.Is4() || s.Is4In6() {
			out = append(out, s.Unmap())
		}
	}
	return out, nil
}
