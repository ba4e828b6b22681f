package recovery

import (
	"net/netip"
	"os"
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nonamed-dns/nonamed/dnsutil"
	"github.com/nonamed-dns/nonamed/middleware"
)

func Test_recoveryDNS(t *testing.T) {
	stderr := os.Stderr
	os.Stderr, _ = os.Open(os.DevNull)
	defer func() { os.Stderr = stderr }()

	r := New()
	assert.Equal(t, "recovery", r.Name())

	boom := middleware.HandlerFunc{Label: "boom", Fn: func(ch *middleware.Chain) {
		panic("boom")
	}}

	ch := middleware.NewChain([]middleware.Handler{r, boom})

	q, err := dnsutil.NewQuery(5, "test.com.", dns.TypeA, true)
	require.NoError(t, err)

	v, reply := ch.Serve(q, netip.MustParseAddrPort("127.0.0.1:5300"), "udp")
	require.Equal(t, middleware.Answer, v)
	assert.Equal(t, dns.RcodeServerFailure, reply.Rcode())
	assert.Equal(t, uint16(5), reply.ID())

	ch = middleware.NewChain([]middleware.Handler{r})
	v, _ = ch.Serve(q, netip.MustParseAddrPort("127.0.0.1:5300"), "udp")
	assert.Equal(t, middleware.Relay, v)
}
