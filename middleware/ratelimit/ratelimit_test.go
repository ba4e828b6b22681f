package ratelimit

import (
	"net/netip"
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/nonamed-dns/nonamed/config"
	"github.com/nonamed-dns/nonamed/dnsutil"
	"github.com/nonamed-dns/nonamed/middleware"
)

func serve(t *testing.T, ch *middleware.Chain, from string) (middleware.Verdict, dnsutil.Packet) {
	t.Helper()
	q, err := dnsutil.NewQuery(7, "example.test.", dns.TypeA, true)
	require.NoError(t, err)
	return ch.Serve(q, netip.MustParseAddrPort(from), "udp")
}

func Test_RateLimit(t *testing.T) {
	cfg := new(config.Config)
	cfg.RateLimit = 2

	r := New(cfg)
	defer r.Close()
	assert.Equal(t, "ratelimit", r.Name())

	ch := middleware.NewChain([]middleware.Handler{r})

	v, _ := serve(t, ch, "192.0.2.1:4000")
	assert.Equal(t, middleware.Relay, v)
	v, _ = serve(t, ch, "192.0.2.1:4001")
	assert.Equal(t, middleware.Relay, v)

	v, reply := serve(t, ch, "192.0.2.1:4002")
	require.Equal(t, middleware.Answer, v)
	assert.Equal(t, dns.RcodeRefused, reply.Rcode())
	assert.Equal(t, uint16(7), reply.ID())
	assert.False(t, reply.AA())

	// other clients have their own budget
	v, _ = serve(t, ch, "192.0.2.2:4000")
	assert.Equal(t, middleware.Relay, v)

	for i := 0; i < 10; i++ {
		v, _ = serve(t, ch, "127.0.0.1:4000")
		assert.Equal(t, middleware.Relay, v)
	}
}

func Test_RateLimitDisabled(t *testing.T) {
	r := New(new(config.Config))
	defer r.Close()

	ch := middleware.NewChain([]middleware.Handler{r})
	for i := 0; i < 10; i++ {
		v, _ := serve(t, ch, "192.0.2.1:4000")
		assert.Equal(t, middleware.Relay, v)
	}
}

// rejectStore admits nothing, like a full ristretto cache.
type rejectStore struct{ sets int }

func (s *rejectStore) Get(uint64) (*rate.Limiter, bool) { return nil, false }
func (s *rejectStore) Set(uint64, *rate.Limiter, int64) bool {
	s.sets++
	return false
}
func (s *rejectStore) Wait() {}
func (s *rejectStore) Close() {}

func Test_RateLimitRejectedAdmission(t *testing.T) {
	cfg := new(config.Config)
	cfg.RateLimit = 2

	r := New(cfg)
	r.Close()

	rs := new(rejectStore)
	r.limiters = rs

	ch := middleware.NewChain([]middleware.Handler{r})

	v, _ := serve(t, ch, "192.0.2.1:4000")
	assert.Equal(t, middleware.Relay, v)
	v, _ = serve(t, ch, "192.0.2.1:4001")
	assert.Equal(t, middleware.Relay, v)

	v, reply := serve(t, ch, "192.0.2.1:4002")
	require.Equal(t, middleware.Answer, v)
	assert.Equal(t, dns.RcodeRefused, reply.Rcode())

	assert.Equal(t, 1, rs.sets)
	assert.Len(t, r.overflow, 1)
}

func Test_RateLimitOverflowBounded(t *testing.T) {
	cfg := new(config.Config)
	cfg.RateLimit = 2

	r := New(cfg)
	r.Close()
	r.limiters = new(rejectStore)

	for i := 0; i < overflowSize+10; i++ {
		r.limiter([]byte{192, 0, byte(i >> 8), byte(i)})
	}
	assert.LessOrEqual(t, len(r.overflow), overflowSize)
}
