package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nonamed-dns/nonamed/cache"
)

func writeConfig(t *testing.T, extra string) (string, string) {
	t.Helper()

	dir := t.TempDir()
	cachefile := filepath.Join(dir, "nonamed.cache")
	path := filepath.Join(dir, "nonamed.toml")

	data := fmt.Sprintf("version = %q\nport = 53\ncachestore = \"file\"\ncachefile = %q\nloglevel = \"error\"\n%s",
		"1.0.0", cachefile, extra)
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	return path, cachefile
}

func Test_DebugArgs(t *testing.T) {
	assert.Equal(t,
		[]string{"--debug=2", "-q", "-d", "-p", "5353", "-dx"},
		debugArgs([]string{"-d2", "-q", "-d", "-p", "5353", "-dx"}))
}

func Test_LoadConfigFlags(t *testing.T) {
	path, _ := writeConfig(t, "")

	cases := []struct {
		args   []string
		debug  int
		port   int
		single bool
		local  bool
		dump   bool
	}{
		{args: nil, port: 53},
		{args: []string{"-d"}, debug: 1, port: 53},
		{args: []string{"-d3", "-s"}, debug: 3, port: 53, single: true},
		{args: []string{"-qL", "-p", "5353"}, port: 5353, local: true, dump: true},
	}

	for _, tc := range cases {
		cmd := newCommand(new(bytes.Buffer))
		require.NoError(t, cmd.ParseFlags(debugArgs(append([]string{"--config", path}, tc.args...))))

		f := new(flags)
		f.config = path
		f.debug, _ = cmd.Flags().GetInt("debug")
		f.port, _ = cmd.Flags().GetInt("port")
		f.dump, _ = cmd.Flags().GetBool("dump")
		f.single, _ = cmd.Flags().GetBool("single")
		f.local, _ = cmd.Flags().GetBool("local")

		cfg, err := loadConfig(cmd, f)
		require.NoError(t, err, tc.args)

		assert.Equal(t, tc.debug, cfg.Debug, tc.args)
		assert.Equal(t, tc.port, cfg.Port, tc.args)
		assert.Equal(t, tc.single, cfg.Single, tc.args)
		assert.Equal(t, tc.local, cfg.LocalOnly, tc.args)
		assert.Equal(t, tc.dump, cfg.Dump, tc.args)
	}
}

func Test_UsageErrors(t *testing.T) {
	path, _ := writeConfig(t, "")

	assert.Equal(t, 1, execute([]string{"--bogus"}, new(bytes.Buffer)))
	assert.Equal(t, 1, execute([]string{"--config", path, "extra"}, new(bytes.Buffer)))
	assert.Equal(t, 1, execute([]string{"--config", path, "-q", "-p", "0"}, new(bytes.Buffer)))
	assert.Equal(t, 1, execute([]string{"--config", path, "-q", "-s"}, new(bytes.Buffer)))
}

func Test_Dump(t *testing.T) {
	path, cachefile := writeConfig(t, "")

	m := new(dns.Msg)
	m.SetQuestion("example.org.", dns.TypeA)
	m.Response = true
	rr, err := dns.NewRR("example.org. 600 IN A 192.0.2.7")
	require.NoError(t, err)
	m.Answer = append(m.Answer, rr)
	reply, err := m.Pack()
	require.NoError(t, err)

	c := cache.New(cache.DefaultBudget, nil)
	require.True(t, c.Insert(reply))
	require.NoError(t, c.Save(&cache.FileStore{Path: cachefile}))

	var out bytes.Buffer
	assert.Equal(t, 0, execute([]string{"--config", path, "-q"}, &out))

	assert.Contains(t, out.String(), "1 entries")
	assert.Contains(t, out.String(), "example.org")
	assert.Contains(t, out.String(), "usage 1")
	assert.Contains(t, out.String(), "192.0.2.7")
}

func Test_DumpEmpty(t *testing.T) {
	path, _ := writeConfig(t, "")

	var out bytes.Buffer
	assert.Equal(t, 0, execute([]string{"--config", path, "-q"}, &out))
	assert.Contains(t, out.String(), "0 entries")
}

func Test_DumpCorrupt(t *testing.T) {
	path, cachefile := writeConfig(t, "")
	require.NoError(t, os.WriteFile(cachefile, []byte("junk"), 0o644))

	assert.Equal(t, 1, execute([]string{"--config", path, "-q"}, new(bytes.Buffer)))
}
