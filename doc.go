/*
Package main implements nonamed - a small caching DNS relay daemon.

nonamed answers queries from a hosts file and from its own cache, and relays
everything else to one upstream name server that it picks by probing:

  - Hosts file answers for A and PTR, with pseudo hosts tuning the daemon
  - Byte budgeted LRU cache of whole upstream replies with TTL aging
  - Stale serving with background refresh of expired entries
  - Upstream search and failover across up to 8 name servers
  - DNS over TCP relay, answered locally when no upstream is reachable
  - Cache snapshot kept in a file or in redis between runs
  - Access list, rate limiting and Prometheus metrics

Architecture:

Everything runs on one goroutine driven by a poll(2) based scheduler. Each
socket operation and timer is a job. Queries pass a middleware chain, in
this order:

 1. Recovery - Panic recovery, SERVFAIL on panic
 2. Metrics - Prometheus query counters
 3. AccessList - IP based access control, local only mode
 4. AccessLog - Query log in common log format
 5. HostsFile - Answers from the hosts file
 6. Cache - Answers from the reply cache
 7. Chaos - version.bind and hostname.bind answers
 8. Loop - NXDOMAIN for names with no upstream to ask
 9. Recursion - Relay when recursion is desired
 10. RateLimit - Relay rate limiting per client

Configuration:

nonamed uses a TOML configuration file (default: nonamed.toml), generated
with commented defaults when missing.

Usage:

	nonamed [-qsL] [-d[level]] [-p port] [--config file]

Flags:

	    --config string   Location of the config file (default "nonamed.toml")
	-d, --debug[=level]   Debug level, -d alone is 1
	-p, --port int        Port to listen on (default 53)
	-q, --dump            Dump the cache and quit
	-s, --single          Single mode, no hosts, cache or pid file
	-L, --local           Answer local queries only

Signals:

	SIGHUP    reread the configuration and search for an upstream
	SIGUSR1   raise the debug level
	SIGUSR2   reset the debug level
	SIGINT    save the cache and exit
*/
package main // import "github.com/nonamed-dns/nonamed"
