package accesslog

import (
	"net/netip"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nonamed-dns/nonamed/config"
	"github.com/nonamed-dns/nonamed/dnsutil"
	"github.com/nonamed-dns/nonamed/middleware"
)

func Test_AccessLog(t *testing.T) {
	cfg := config.Default("test")
	cfg.AccessLog = filepath.Join(t.TempDir(), "access.log")

	a := New(cfg)
	assert.Equal(t, "accesslog", a.Name())
	require.NotNil(t, a.logFile)
	a.now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }

	refuse := middleware.HandlerFunc{Label: "refuse", Fn: func(ch *middleware.Chain) {
		if ch.Request.Question.Type == dns.TypeMX {
			ch.CancelWithRcode(dns.RcodeRefused, false)
			return
		}
		ch.Next()
	}}
	ch := middleware.NewChain([]middleware.Handler{a, refuse})
	src := netip.MustParseAddrPort("192.0.2.9:1000")

	q, err := dnsutil.NewQuery(1, "Test.com.", dns.TypeA, true)
	require.NoError(t, err)
	v, _ := ch.Serve(q, src, "udp")
	assert.Equal(t, middleware.Relay, v)

	mx, err := dnsutil.NewQuery(2, "test.com.", dns.TypeMX, true)
	require.NoError(t, err)
	v, reply := ch.Serve(mx, src, "tcp")
	assert.Equal(t, middleware.Answer, v)

	require.NoError(t, a.Close())
	assert.NoError(t, a.Close())

	// closed logs are skipped
	_, _ = ch.Serve(q, src, "udp")

	data, err := os.ReadFile(cfg.AccessLog)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, `192.0.2.9 - [01/Jan/2024:00:00:00 +0000] "test.com. IN A" udp relay - -`, lines[0])
	assert.Equal(t, `192.0.2.9 - [01/Jan/2024:00:00:00 +0000] "test.com. IN MX" tcp answer REFUSED `+
		strconv.Itoa(len(reply)), lines[1])
}

func Test_AccessLogDisabled(t *testing.T) {
	cfg := config.Default("test")
	cfg.AccessLog = filepath.Join(t.TempDir(), "access.log")
	cfg.Single = true

	a := New(cfg)
	assert.Nil(t, a.logFile)
	assert.NoError(t, a.Close())

	_, err := os.Stat(cfg.AccessLog)
	assert.True(t, os.IsNotExist(err))
}
