//go:build unix

package server

import (
	"net/netip"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_SignalHangup(t *testing.T) {
	ts := newTestServer(t, "192.0.2.53 %nameserver\n", nil)
	ts.settle()

	require.NoError(t, os.WriteFile(ts.hosts.Path(), []byte("192.0.2.77 %nameserver\n"), 0o644))
	later := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(ts.hosts.Path(), later, later))

	ts.sigs <- syscall.SIGHUP
	assert.True(t, ts.after())
	assert.Equal(t, []netip.Addr{netip.MustParseAddr("192.0.2.77")}, ts.servers.Nameservers())

	// a new search starts at once
	ts.run(1)
	sent := ts.conn.Take()
	require.Len(t, sent, 1)
	assert.Equal(t, "192.0.2.77:53", sent[0].To.String())
}

func Test_SignalVerbosityAndStop(t *testing.T) {
	ts := newTestServer(t, "", nil)

	ts.sigs <- syscall.SIGUSR1
	ts.sigs <- syscall.SIGUSR1
	assert.True(t, ts.after())
	assert.Equal(t, 2, ts.Verbosity())

	ts.sigs <- syscall.SIGUSR2
	assert.True(t, ts.after())
	assert.Equal(t, 0, ts.Verbosity())

	ts.sigs <- syscall.SIGTERM
	assert.False(t, ts.after())
}
