package upstream

import (
	"net/netip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func addrs(list ...string) []netip.Addr {
	var out []netip.Addr
	for _, s := range list {
		out = append(out, netip.MustParseAddr(s))
	}
	return out
}

func Test_SetSearchRound(t *testing.T) {
	s := NewSet(53)
	s.Reset(addrs("192.0.2.1", "192.0.2.2", "192.0.2.3"))

	assert.Equal(t, netip.MustParseAddrPort("192.0.2.1:53"), s.Current())
	assert.False(t, s.Searching())

	var probed []netip.AddrPort
	for {
		c, ok := s.Advance()
		if !ok {
			break
		}
		assert.True(t, s.Searching() || len(probed) == 2)
		probed = append(probed, c)
	}
	assert.Equal(t, []netip.AddrPort{
		netip.MustParseAddrPort("192.0.2.1:53"),
		netip.MustParseAddrPort("192.0.2.2:53"),
		netip.MustParseAddrPort("192.0.2.3:53"),
	}, probed)
	assert.True(t, s.Rotated())
	assert.False(t, s.Searching())

	// the next call starts a new round
	c, ok := s.Advance()
	assert.True(t, ok)
	assert.Equal(t, netip.MustParseAddrPort("192.0.2.1:53"), c)
}

func Test_SetSelectStopsSearch(t *testing.T) {
	s := NewSet(53)
	s.Reset(addrs("192.0.2.1", "192.0.2.2"))

	_, ok := s.Advance()
	require.True(t, ok)
	_, ok = s.Advance()
	require.True(t, ok)

	assert.True(t, s.Select(netip.MustParseAddr("192.0.2.2")))
	assert.False(t, s.Select(netip.MustParseAddr("198.51.100.1")))
	s.StopSearching()
	assert.False(t, s.Searching())

	_, ok = s.Advance()
	assert.False(t, ok)
	assert.Equal(t, 1, s.Index())
	assert.Equal(t, addrs("192.0.2.2", "192.0.2.1"), s.Nameservers())
}

func Test_SetEmpty(t *testing.T) {
	s := NewSet(53)
	assert.Equal(t, 0, s.Len())
	assert.False(t, s.Current().IsValid())
	_, ok := s.Advance()
	assert.False(t, ok)
	assert.False(t, s.Rotated())
	assert.Nil(t, s.Nameservers())
}

func Test_SetExpect(t *testing.T) {
	s := NewSet(53)
	assert.False(t, s.Expecting())
	s.StartExpecting()
	assert.True(t, s.Expecting())
	s.StopExpecting()
	assert.False(t, s.Expecting())
}

func Test_Filter(t *testing.T) {
	self := netip.MustParseAddr("192.0.2.53")
	got := Filter(addrs("0.0.0.0", "192.0.2.53", "192.0.2.1", "192.0.2.1", "::ffff:192.0.2.2"), self)
	assert.Equal(t, addrs("192.0.2.1", "192.0.2.2"), got)

	var many []netip.Addr
	for i := range 12 {
		many = append(many, netip.AddrFrom4([4]byte{10, 0, 0, byte(i + 1)}))
	}
	assert.Len(t, Filter(many, self), MaxServers)

	s := NewSet(53)
	s.Reset(many)
	assert.Equal(t, MaxServers, s.Len())
}

func Test_ParseServers(t *testing.T) {
	assert.Equal(t, addrs("192.0.2.1"), ParseServers([]string{"192.0.2.1", "not-an-ip"}))
}

func Test_FromResolvConf(t *testing.T) {
	path := filepath.Join(t.TempDir(), "resolv.conf")
	require.NoError(t, os.WriteFile(path, []byte("# test\nnameserver 192.0.2.10\nnameserver 2001:db8::1\nnameserver 192.0.2.11\nsearch example.test\n"), 0o644))

	got, err := FromResolvConf(path)
	require.NoError(t, err)
	assert.Equal(t, addrs("192.0.2.10", "192.0.2.11"), got)

	_, err = FromResolvConf(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func Test_IDMap(t *testing.T) {
	m := NewIDMap(65530)
	client := netip.MustParseAddrPort("192.0.2.99:3456")

	id := m.New(Origin{ID: 0x1234, Addr: client})
	assert.Equal(t, uint16(65530), id)

	o, ok := m.Resolve(id)
	require.True(t, ok)
	assert.Equal(t, uint16(0x1234), o.ID)
	assert.Equal(t, client, o.Addr)
	assert.False(t, o.Self)

	// each id resolves once
	_, ok = m.Resolve(id)
	assert.False(t, ok)

	// ids never handed out are rejected
	_, ok = m.Resolve(id + 1)
	assert.False(t, ok)
	_, ok = m.Resolve(id - 1)
	assert.False(t, ok)

	probe := m.New(Origin{ID: ProbeID, Self: true})
	o, ok = m.Resolve(probe)
	require.True(t, ok)
	assert.True(t, o.Self)
	assert.Equal(t, ProbeID, o.ID)
}

func Test_IDMapWindow(t *testing.T) {
	m := NewIDMap(0)

	old := m.New(Origin{ID: 1})
	for range IDTableSize - 1 {
		m.New(Origin{ID: 2})
	}
	// still inside the window
	o, ok := m.Resolve(old)
	require.True(t, ok)
	assert.Equal(t, uint16(1), o.ID)

	stale := m.New(Origin{ID: 3})
	for range IDTableSize {
		m.New(Origin{ID: 4})
	}
	_, ok = m.Resolve(stale)
	assert.False(t, ok)
}
