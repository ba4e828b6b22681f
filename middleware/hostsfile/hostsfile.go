// Package hostsfile answers A, CNAME and PTR queries from the local hosts
// database. Pseudo host names starting with '%' carry daemon settings in
// their address field instead of naming a host.
package hostsfile

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"io"
	"net"
	"net/netip"
	"os"
	"strings"
	"time"

	"github.com/miekg/dns"
	"github.com/semihalev/zlog/v2"

	"github.com/nonamed-dns/nonamed/config"
	"github.com/nonamed-dns/nonamed/dnsutil"
	"github.com/nonamed-dns/nonamed/middleware"
	"github.com/nonamed-dns/nonamed/upstream"
)

// DefaultTTL is used for hosts answers when neither %ttl nor the
// configuration sets one.
const DefaultTTL = 3600

// Entry is one hosts line: an address, its canonical name and aliases.
type Entry struct {
	Addr    netip.Addr
	Name    string
	Aliases []string
}

// Settings holds the values of the pseudo hosts.
type Settings struct {
	TTL    uint32
	Stale  uint32
	Memory uint32

	HasTTL    bool
	HasStale  bool
	HasMemory bool

	Nameservers []netip.Addr
}

// Hostsfile contains known host entries.
type Hostsfile struct {
	// path to the hosts file, empty when disabled
	path string
	ttl  uint32

	entries  []Entry
	settings Settings

	mtime time.Time
	size  int64
}

// New return new hostsfile. The file is not consulted in single mode.
func New(cfg *config.Config) *Hostsfile {
	h := &Hostsfile{ttl: cfg.TTL}
	if h.ttl == 0 {
		h.ttl = DefaultTTL
	}

	if !cfg.Single {
		h.path = cfg.Hostsfile
	}

	if _, err := h.Reload(); err != nil && !os.IsNotExist(err) {
		zlog.Warn("Hosts file read failed", "path", h.path, "error", err.Error())
	}

	return h
}

// Name return middleware name
func (h *Hostsfile) Name() string { return name }

// Enabled reports whether local answers are composed at all.
func (h *Hostsfile) Enabled() bool { return h.path != "" }

// Path returns the hosts file path.
func (h *Hostsfile) Path() string { return h.path }

// ModTime returns the modification time of the file last parsed.
func (h *Hostsfile) ModTime() time.Time { return h.mtime }

// Settings returns the pseudo host values of the file last parsed.
func (h *Hostsfile) Settings() Settings { return h.settings }

// Entries returns the host entries of the file last parsed.
func (h *Hostsfile) Entries() []Entry { return h.entries }

// TTL returns the TTL given to hosts answers.
func (h *Hostsfile) TTL() uint32 {
	if h.settings.HasTTL {
		return h.settings.TTL
	}
	return h.ttl
}

// Reload parses the hosts file again if its size or modification time
// changed and reports whether it did. A missing file empties the database.
func (h *Hostsfile) Reload() (bool, error) {
	if h.path == "" {
		return false, nil
	}

	file, err := os.Open(h.path)
	if err != nil {
		if os.IsNotExist(err) && (len(h.entries) > 0 || !h.mtime.IsZero()) {
			h.entries, h.settings = nil, Settings{}
			h.mtime, h.size = time.Time{}, 0
			return true, err
		}
		return false, err
	}

	defer func() {
		err := file.Close()
		if err != nil {
			zlog.Warn("Hosts file close failed", "error", err.Error())
		}
	}()

	stat, err := file.Stat()
	if err != nil {
		return false, err
	}
	if h.mtime.Equal(stat.ModTime()) && h.size == stat.Size() {
		return false, nil
	}

	h.entries, h.settings = parse(file)
	h.mtime = stat.ModTime()
	h.size = stat.Size()

	zlog.Debug("Parsed hosts file into", "entries", len(h.entries), "nameservers", len(h.settings.Nameservers))

	return true, nil
}

// parse reads hosts lines. Only IPv4 addresses are kept.
func parse(r io.Reader) ([]Entry, Settings) {
	var (
		entries  []Entry
		settings Settings
	)

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Bytes()
		if i := bytes.IndexByte(line, '#'); i >= 0 {
			// Discard comments.
			line = line[0:i]
		}
		f := bytes.Fields(line)
		if len(f) < 2 {
			continue
		}

		addr, err := netip.ParseAddr(string(f[0]))
		if err != nil || !addr.Is4() {
			continue
		}

		e := Entry{Addr: addr, Name: string(f[1])}
		for i := 2; i < len(f); i++ {
			e.Aliases = append(e.Aliases, string(f[i]))
		}

		if strings.HasPrefix(e.Name, "%") {
			setting(&settings, e)
		}

		entries = append(entries, e)
	}

	return entries, settings
}

func setting(s *Settings, e Entry) {
	b := e.Addr.As4()
	v := binary.BigEndian.Uint32(b[:])

	switch strings.ToLower(e.Name) {
	case "%ttl":
		s.TTL, s.HasTTL = v, true
	case "%stale":
		s.Stale, s.HasStale = v, true
	case "%memory":
		s.Memory, s.HasMemory = v, true
	case "%nameserver":
		if len(s.Nameservers) < upstream.MaxServers {
			s.Nameservers = append(s.Nameservers, e.Addr)
		}
	}
}

// Compose builds an authoritative answer for q from the hosts entries and
// a localhost entry bound to 127.0.0.1. It reports false when nothing
// matches or the answer does not fit a UDP packet.
func (h *Hostsfile) Compose(q dnsutil.Question) (dnsutil.Packet, bool) {
	if !h.Enabled() || q.Class != dns.ClassINET {
		return nil, false
	}

	switch q.Type {
	case dns.TypeA, dns.TypeCNAME, dns.TypePTR:
	default:
		return nil, false
	}

	localhost := Entry{Addr: netip.AddrFrom4([4]byte{127, 0, 0, 1}), Name: "localhost"}
	if dnsutil.HasPrefixFold(q.Name, "localhost.") {
		localhost.Name = q.Name
	}

	ttl := h.TTL()

	var answer []dns.RR
	for i := -1; i < len(h.entries); i++ {
		e := localhost
		if i >= 0 {
			e = h.entries[i]
		}
		if strings.HasPrefix(e.Name, "%") {
			continue
		}

		switch q.Type {
		case dns.TypeA:
			if dnsutil.EqualNames(q.Name, e.Name) {
				answer = append(answer, a(e, ttl))
				continue
			}
			if alias, ok := matchAlias(q.Name, e); ok {
				answer = append(answer, cname(alias, e, ttl), a(e, ttl))
			}
		case dns.TypeCNAME:
			if alias, ok := matchAlias(q.Name, e); ok {
				answer = append(answer, cname(alias, e, ttl))
			}
		case dns.TypePTR:
			if len(answer) > 0 {
				continue
			}
			if reverse, err := dns.ReverseAddr(e.Addr.String()); err == nil && dnsutil.EqualNames(q.Name, reverse) {
				answer = append(answer, ptr(q.Name, e, ttl))
			}
		}
	}

	if len(answer) == 0 {
		return nil, false
	}

	reply, err := dnsutil.NewAnswer(q, answer, nil)
	if err != nil {
		zlog.Debug("Hosts answer dropped", "query", q.Name, "error", err.Error())
		return nil, false
	}

	return reply, true
}

// matchAlias finds the alias of e equal to qname. An alias without a dot
// lives in the domain of the canonical name.
func matchAlias(qname string, e Entry) (string, bool) {
	domain := ""
	if i := strings.IndexByte(e.Name, '.'); i >= 0 {
		domain = e.Name[i:]
	}

	for _, alias := range e.Aliases {
		if domain != "" && !strings.Contains(alias, ".") {
			alias += domain
		}
		if dnsutil.EqualNames(qname, alias) {
			return alias, true
		}
	}

	return "", false
}

func a(e Entry, ttl uint32) dns.RR {
	r := new(dns.A)
	r.Hdr = dns.RR_Header{Name: dns.Fqdn(e.Name), Rrtype: dns.TypeA,
		Class: dns.ClassINET, Ttl: ttl}
	r.A = net.IP(e.Addr.AsSlice())
	return r
}

func cname(alias string, e Entry, ttl uint32) dns.RR {
	r := new(dns.CNAME)
	r.Hdr = dns.RR_Header{Name: dns.Fqdn(alias), Rrtype: dns.TypeCNAME,
		Class: dns.ClassINET, Ttl: ttl}
	r.Target = dns.Fqdn(e.Name)
	return r
}

func ptr(zone string, e Entry, ttl uint32) dns.RR {
	r := new(dns.PTR)
	r.Hdr = dns.RR_Header{Name: dns.Fqdn(zone), Rrtype: dns.TypePTR,
		Class: dns.ClassINET, Ttl: ttl}
	r.Ptr = dns.Fqdn(e.Name)
	return r
}

// ServeDNS implements the Handle interface.
func (h *Hostsfile) ServeDNS(ch *middleware.Chain) {
	reply, ok := h.Compose(ch.Request.Question)
	if !ok {
		ch.Next()
		return
	}

	_, _ = ch.Writer.Write(reply)

	ch.Cancel()
}

const name = "hostsfile"
