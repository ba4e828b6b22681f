package recursion

import (
	"net/netip"
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nonamed-dns/nonamed/dnsutil"
	"github.com/nonamed-dns/nonamed/middleware"
)

func Test_Recursion(t *testing.T) {
	r := New()
	assert.Equal(t, "recursion", r.Name())

	ch := middleware.NewChain([]middleware.Handler{r})
	src := netip.MustParseAddrPort("127.0.0.1:5300")

	q, err := dnsutil.NewQuery(3, "example.test.", dns.TypeA, false)
	require.NoError(t, err)

	v, reply := ch.Serve(q, src, "udp")
	require.Equal(t, middleware.Answer, v)
	assert.Equal(t, dns.RcodeSuccess, reply.Rcode())
	assert.True(t, reply.QR())
	assert.False(t, reply.AA())
	assert.False(t, reply.RD())
	assert.Equal(t, uint16(0), reply.Count(dnsutil.SectionAnswer))

	q, err = dnsutil.NewQuery(4, "example.test.", dns.TypeA, true)
	require.NoError(t, err)
	v, _ = ch.Serve(q, src, "udp")
	assert.Equal(t, middleware.Relay, v)
}
