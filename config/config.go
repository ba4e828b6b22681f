package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/semihalev/zlog/v2"
)

const configver = "1.0.0"

// Config type
type Config struct {
	Version     string
	Bind        string
	Port        int
	TCP         bool
	Hostsfile   string
	Resolvconf  string
	Cachestore  string
	Cachefile   string
	Pidfile     string
	Redis       Redis
	Memory      int
	TTL         uint32
	Stale       uint32
	Nameservers []string
	AccessList  []string
	RateLimit   int
	API         string
	AccessLog   string
	LogLevel    string

	// Command line switches.
	Debug     int  `toml:"-"`
	Single    bool `toml:"-"`
	LocalOnly bool `toml:"-"`
	Dump      bool `toml:"-"`

	sVersion string
}

// Redis type
type Redis struct {
	Addr     string
	Password string
	DB       int
	Key      string
}

// ServerVersion return current server version
func (c *Config) ServerVersion() string {
	return c.sVersion
}

var defaultConfig = `
# Config version, config and build versions can be different.
version = "%s"

# Address the daemon answers on. Queries arriving on loopback are answered
# as if sent to this address.
bind = "0.0.0.0"

# Port to serve DNS on, upstream servers are always asked on port 53
port = 53

# Relay and answer DNS over TCP too
tcp = true

# Hosts file consulted before the cache. Pseudo host names starting with
# '%%' tune the daemon, the address holds the value:
#   0.0.14.16    %%ttl          TTL of hosts file answers (3600)
#   0.0.0.60     %%stale        seconds expired cache entries are still served
#   0.0.128.0    %%memory       cache memory budget in bytes
#   192.0.2.1    %%nameserver   upstream name server, up to 8 entries
hostsfile = "/etc/hosts"

# Name servers are taken from here when neither the hosts file nor the
# nameservers option names any.
resolvconf = "/etc/resolv.conf"

# Upstream name servers, used when the hosts file names none
nameservers = [
]

# Process id file
pidfile = "/var/run/nonamed.pid"

# Cache memory budget in bytes, 0 for the built-in default
memory = 0

# TTL of hosts file answers in seconds
ttl = 3600

# Seconds an expired cache entry may still be served
stale = 0

# Which clients allowed to make queries
accesslist = [
"0.0.0.0/0",
"::0/0"
]

# Client ip address based ratelimit per minute on relayed queries, 0 for disabled
ratelimit = 0

# Address to bind to for the http metrics server, left blank for disabled
api = ""

# Query log file in common log format, left blank for disabled
accesslog = ""

# What kind of information should be logged, Log verbosity level [error,warn,info,debug]
loglevel = "info"

# Where the cache is saved between runs: "file" or "redis"
cachestore = "file"

# Cache snapshot file for the file store
cachefile = "/var/cache/nonamed.cache"

# Redis server for the redis store
[redis]
addr = "127.0.0.1:6379"
password = ""
db = 0
key = "nonamed:cache"
`

func template() string {
	return fmt.Sprintf(defaultConfig, configver)
}

// Default returns the built-in configuration.
func Default(version string) *Config {
	config := new(Config)
	if _, err := toml.Decode(template(), config); err != nil {
		panic(err)
	}
	config.sVersion = version
	return config
}

// Load loads the given config file, generating it first when missing.
func Load(cfgfile, version string) (*Config, error) {
	config := new(Config)

	if _, err := os.Stat(cfgfile); os.IsNotExist(err) {
		if err := generateConfig(cfgfile); err != nil {
			return nil, err
		}
	}

	zlog.Info("Loading config file", "path", cfgfile)

	if _, err := toml.DecodeFile(cfgfile, config); err != nil {
		return nil, fmt.Errorf("could not load config: %s", err)
	}

	if config.Version != configver {
		zlog.Warn("Config file is out of version, you can generate new one and check the changes.")
	}

	config.sVersion = version

	return config, nil
}

func generateConfig(path string) error {
	output, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("could not generate config: %s", err)
	}

	defer func() {
		err := output.Close()
		if err != nil {
			zlog.Warn("Config generation failed while file closing", "error", err.Error())
		}
	}()

	r := strings.NewReader(template())
	if _, err := io.Copy(output, r); err != nil {
		return fmt.Errorf("could not copy default config: %s", err)
	}

	if abs, err := filepath.Abs(path); err == nil {
		zlog.Info("Default config file generated", "config", abs)
	}

	return nil
}
