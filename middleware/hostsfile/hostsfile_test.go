package hostsfile

import (
	"net/netip"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nonamed-dns/nonamed/config"
	"github.com/nonamed-dns/nonamed/dnsutil"
	"github.com/nonamed-dns/nonamed/middleware"
)

const hostsContent = `
# local network
192.168.1.1    router.home.test router
10.0.0.1       server.example.com server www.example.org
10.0.0.2       server.example.com
0.0.14.16      %ttl
0.0.0.60       %stale
0.1.0.0        %memory
192.0.2.53     %nameserver
192.0.2.54     %nameserver
::1            ip6-localhost
bogus          nothing
`

func createTempHostsFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hosts")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func newHosts(t *testing.T, content string) *Hostsfile {
	t.Helper()
	cfg := new(config.Config)
	cfg.Hostsfile = createTempHostsFile(t, content)
	cfg.TTL = 600
	return New(cfg)
}

func compose(t *testing.T, h *Hostsfile, qname string, qtype uint16) *dns.Msg {
	t.Helper()
	reply, ok := h.Compose(dnsutil.Question{Name: qname, Type: qtype, Class: dns.ClassINET})
	if !ok {
		return nil
	}
	m := new(dns.Msg)
	require.NoError(t, m.Unpack(reply))
	return m
}

func TestNew(t *testing.T) {
	cfg := new(config.Config)
	cfg.Hostsfile = "/non/existent/file"
	h := New(cfg)
	require.NotNil(t, h)
	assert.Equal(t, "hostsfile", h.Name())
	assert.True(t, h.Enabled())
	assert.Equal(t, uint32(DefaultTTL), h.TTL())
	assert.Empty(t, h.Entries())

	cfg.Single = true
	h = New(cfg)
	assert.False(t, h.Enabled())
	assert.Nil(t, compose(t, h, "localhost.", dns.TypeA))
}

func TestParseSettings(t *testing.T) {
	h := newHosts(t, hostsContent)

	s := h.Settings()
	assert.True(t, s.HasTTL)
	assert.Equal(t, uint32(3600), s.TTL)
	assert.True(t, s.HasStale)
	assert.Equal(t, uint32(60), s.Stale)
	assert.True(t, s.HasMemory)
	assert.Equal(t, uint32(65536), s.Memory)
	assert.Equal(t, []netip.Addr{
		netip.MustParseAddr("192.0.2.53"),
		netip.MustParseAddr("192.0.2.54"),
	}, s.Nameservers)

	assert.Equal(t, uint32(3600), h.TTL())
	// ipv6 and unparsable lines are skipped
	assert.Len(t, h.Entries(), 8)
}

func TestComposeA(t *testing.T) {
	h := newHosts(t, hostsContent)

	m := compose(t, h, "Router.Home.Test.", dns.TypeA)
	require.NotNil(t, m)
	assert.True(t, m.Response)
	assert.True(t, m.Authoritative)
	assert.True(t, m.RecursionAvailable)
	require.Len(t, m.Answer, 1)
	rr := m.Answer[0].(*dns.A)
	assert.Equal(t, "192.168.1.1", rr.A.String())
	assert.Equal(t, uint32(3600), rr.Hdr.Ttl)

	// every entry with the name contributes
	m = compose(t, h, "server.example.com.", dns.TypeA)
	require.NotNil(t, m)
	require.Len(t, m.Answer, 2)
	assert.Equal(t, "10.0.0.1", m.Answer[0].(*dns.A).A.String())
	assert.Equal(t, "10.0.0.2", m.Answer[1].(*dns.A).A.String())

	assert.Nil(t, compose(t, h, "unknown.test.", dns.TypeA))
	assert.Nil(t, compose(t, h, "router.home.test.", dns.TypeMX))
	assert.Nil(t, compose(t, h, "%ttl.", dns.TypeA))
}

func TestComposeAliasChase(t *testing.T) {
	h := newHosts(t, "10.0.0.5 files.example.com fs mirror.example.org\n")

	// short alias lives in the domain of the canonical name
	m := compose(t, h, "fs.example.com.", dns.TypeCNAME)
	require.NotNil(t, m)
	require.Len(t, m.Answer, 1)
	c := m.Answer[0].(*dns.CNAME)
	assert.Equal(t, "fs.example.com.", c.Hdr.Name)
	assert.Equal(t, "files.example.com.", c.Target)

	assert.Nil(t, compose(t, h, "fs.", dns.TypeCNAME))
	assert.Nil(t, compose(t, h, "files.example.com.", dns.TypeCNAME))

	m = compose(t, h, "mirror.example.org.", dns.TypeA)
	require.NotNil(t, m)
	require.Len(t, m.Answer, 2)
	c = m.Answer[0].(*dns.CNAME)
	assert.Equal(t, "mirror.example.org.", c.Hdr.Name)
	assert.Equal(t, "files.example.com.", c.Target)
	a := m.Answer[1].(*dns.A)
	assert.Equal(t, "files.example.com.", a.Hdr.Name)
	assert.Equal(t, "10.0.0.5", a.A.String())
}

func TestComposePTR(t *testing.T) {
	h := newHosts(t, hostsContent)

	m := compose(t, h, "1.1.168.192.in-addr.arpa.", dns.TypePTR)
	require.NotNil(t, m)
	require.Len(t, m.Answer, 1)
	assert.Equal(t, "router.home.test.", m.Answer[0].(*dns.PTR).Ptr)

	// first match only
	m = compose(t, h, "1.0.0.10.in-addr.arpa.", dns.TypePTR)
	require.NotNil(t, m)
	require.Len(t, m.Answer, 1)
	assert.Equal(t, "server.example.com.", m.Answer[0].(*dns.PTR).Ptr)

	// pseudo hosts never answer
	assert.Nil(t, compose(t, h, "53.2.0.192.in-addr.arpa.", dns.TypePTR))

	m = compose(t, h, "1.0.0.127.in-addr.arpa.", dns.TypePTR)
	require.NotNil(t, m)
	assert.Equal(t, "localhost.", m.Answer[0].(*dns.PTR).Ptr)
}

func TestComposeLocalhost(t *testing.T) {
	h := newHosts(t, "")

	for _, qname := range []string{"localhost.", "LOCALHOST.", "localhost.example.com."} {
		m := compose(t, h, qname, dns.TypeA)
		require.NotNil(t, m, qname)
		require.Len(t, m.Answer, 1)
		rr := m.Answer[0].(*dns.A)
		assert.Equal(t, "127.0.0.1", rr.A.String())
		assert.Equal(t, qname, rr.Hdr.Name)
		assert.Equal(t, uint32(600), rr.Hdr.Ttl)
	}

	assert.Nil(t, compose(t, h, "notlocalhost.", dns.TypeA))

	reply, ok := h.Compose(dnsutil.Question{Name: "localhost.", Type: dns.TypeA, Class: dns.ClassCHAOS})
	assert.False(t, ok)
	assert.Nil(t, reply)
}

func TestReload(t *testing.T) {
	h := newHosts(t, "192.168.1.1 router\n")
	require.Len(t, h.Entries(), 1)

	changed, err := h.Reload()
	require.NoError(t, err)
	assert.False(t, changed)

	require.NoError(t, os.WriteFile(h.Path(), []byte("192.168.1.1 router\n192.168.1.2 printer\n"), 0o644))
	later := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(h.Path(), later, later))

	changed, err = h.Reload()
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Len(t, h.Entries(), 2)
	assert.Equal(t, later.Unix(), h.ModTime().Unix())

	require.NoError(t, os.Remove(h.Path()))
	changed, _ = h.Reload()
	assert.True(t, changed)
	assert.Empty(t, h.Entries())
}

func TestServeDNS(t *testing.T) {
	h := newHosts(t, hostsContent)
	ch := middleware.NewChain([]middleware.Handler{h})
	src := netip.MustParseAddrPort("127.0.0.1:5300")

	q, err := dnsutil.NewQuery(0x1234, "router.home.test.", dns.TypeA, true)
	require.NoError(t, err)

	v, reply := ch.Serve(q, src, "udp")
	require.Equal(t, middleware.Answer, v)
	assert.Equal(t, uint16(0x1234), reply.ID())
	assert.True(t, reply.RD())
	assert.True(t, reply.AA())
	assert.Equal(t, uint16(1), reply.Count(dnsutil.SectionAnswer))

	q, err = dnsutil.NewQuery(0x1235, "elsewhere.test.", dns.TypeA, false)
	require.NoError(t, err)
	v, _ = ch.Serve(q, src, "udp")
	assert.Equal(t, middleware.Relay, v)
}
