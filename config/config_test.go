package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_config(t *testing.T) {
	configFile := filepath.Join(t.TempDir(), "nonamed.conf")

	err := generateConfig(configFile)
	assert.NoError(t, err)

	cfg, err := Load(configFile, "0.0.0")
	require.NoError(t, err)

	assert.Equal(t, configver, cfg.Version)
	assert.Equal(t, "0.0.0", cfg.ServerVersion())
	assert.Equal(t, "0.0.0.0", cfg.Bind)
	assert.Equal(t, 53, cfg.Port)
	assert.True(t, cfg.TCP)
	assert.Equal(t, "/etc/hosts", cfg.Hostsfile)
	assert.Equal(t, uint32(3600), cfg.TTL)
	assert.Equal(t, "file", cfg.Cachestore)
	assert.Equal(t, "nonamed:cache", cfg.Redis.Key)
	assert.Equal(t, []string{"0.0.0.0/0", "::0/0"}, cfg.AccessList)
	assert.Empty(t, cfg.Nameservers)
}

func Test_configGenerateMissing(t *testing.T) {
	configFile := filepath.Join(t.TempDir(), "missing.conf")

	cfg, err := Load(configFile, "1.2.3")
	require.NoError(t, err)
	assert.Equal(t, 53, cfg.Port)

	_, err = os.Stat(configFile)
	assert.NoError(t, err)
}

func Test_configDefault(t *testing.T) {
	cfg := Default("1.2.3")
	assert.Equal(t, "1.2.3", cfg.ServerVersion())
	assert.Equal(t, "/var/cache/nonamed.cache", cfg.Cachefile)
	assert.Equal(t, "127.0.0.1:6379", cfg.Redis.Addr)
	assert.Equal(t, 0, cfg.Debug)
}

func Test_configError(t *testing.T) {
	const configFile = ""

	_, err := Load(configFile, "0.0.0")
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.conf")
	require.NoError(t, os.WriteFile(bad, []byte("port = \"x\""), 0o644))
	_, err = Load(bad, "0.0.0")
	assert.Error(t, err)
}
