package cache

import (
	"net/netip"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nonamed-dns/nonamed/cache"
	"github.com/nonamed-dns/nonamed/dnsutil"
	"github.com/nonamed-dns/nonamed/middleware"
)

func makeReply(t *testing.T, rr string) dnsutil.Packet {
	t.Helper()
	r, err := dns.NewRR(rr)
	require.NoError(t, err)
	h := r.Header()
	p, err := dnsutil.NewAnswer(dnsutil.Question{Name: h.Name, Type: h.Rrtype, Class: dns.ClassINET}, []dns.RR{r}, nil)
	require.NoError(t, err)
	p.SetAA(false)
	return p
}

func serve(t *testing.T, ch *middleware.Chain, id uint16, qname string, qtype uint16, rd bool) (middleware.Verdict, dnsutil.Packet) {
	t.Helper()
	q, err := dnsutil.NewQuery(id, qname, qtype, rd)
	require.NoError(t, err)
	return ch.Serve(q, netip.MustParseAddrPort("127.0.0.1:5300"), "udp")
}

func Test_CacheHit(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Unix(1700000000, 0))
	store := cache.New(cache.DefaultBudget, clock)
	require.True(t, store.Insert(makeReply(t, "example.test. 3600 IN A 192.0.2.1")))

	c := New(store)
	assert.Equal(t, "cache", c.Name())
	ch := middleware.NewChain([]middleware.Handler{c})

	clock.Advance(10 * time.Second)

	v, reply := serve(t, ch, 0xbeef, "example.test.", dns.TypeA, true)
	require.Equal(t, middleware.Answer, v)
	assert.Equal(t, uint16(0xbeef), reply.ID())
	assert.True(t, reply.AA())
	assert.True(t, reply.RD())
	assert.Equal(t, dns.RcodeSuccess, reply.Rcode())
	assert.Equal(t, uint16(1), reply.Count(dnsutil.SectionAnswer))

	m := new(dns.Msg)
	require.NoError(t, m.Unpack(reply))
	require.Len(t, m.Answer, 1)
	assert.Equal(t, uint32(3590), m.Answer[0].Header().Ttl)

	// the stored copy keeps its original TTLs
	e := store.Lookup("example.test.", dns.TypeA)
	require.NotNil(t, e)
	assert.Equal(t, uint32(3600), dnsutil.MinimumTTL(e.Packet, 0))
	assert.False(t, e.Packet.AA())
	assert.Equal(t, uint16(2), e.Usage)
	assert.Zero(t, e.Flags&cache.FlagRefresh)
	store.Put(e)
}

func Test_CacheMiss(t *testing.T) {
	store := cache.New(cache.DefaultBudget, clockwork.NewFakeClock())
	ch := middleware.NewChain([]middleware.Handler{New(store)})

	v, _ := serve(t, ch, 1, "missing.test.", dns.TypeA, true)
	assert.Equal(t, middleware.Relay, v)

	require.True(t, store.Insert(makeReply(t, "example.test. 3600 IN A 192.0.2.1")))
	v, _ = serve(t, ch, 2, "example.test.", dns.TypeAAAA, true)
	assert.Equal(t, middleware.Relay, v)
}

func Test_CacheStaleRefresh(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Unix(1700000000, 0))
	store := cache.New(cache.DefaultBudget, clock)
	store.SetStaleGrace(30 * time.Second)
	require.True(t, store.Insert(makeReply(t, "stale.test. 60 IN A 192.0.2.7")))

	ch := middleware.NewChain([]middleware.Handler{New(store)})

	clock.Advance(70 * time.Second)

	// a non recursive query neither flags nor counts
	v, reply := serve(t, ch, 3, "stale.test.", dns.TypeA, false)
	require.Equal(t, middleware.Answer, v)
	assert.False(t, reply.RD())
	assert.False(t, store.RefreshPending())

	v, _ = serve(t, ch, 4, "stale.test.", dns.TypeA, true)
	require.Equal(t, middleware.Answer, v)
	assert.True(t, store.RefreshPending())

	e := store.NextRefresh()
	require.NotNil(t, e)
	assert.Equal(t, "stale.test.", e.Name)
	assert.Equal(t, uint16(2), e.Usage)

	clock.Advance(30 * time.Second)
	v, _ = serve(t, ch, 5, "stale.test.", dns.TypeA, true)
	assert.Equal(t, middleware.Relay, v)
}
