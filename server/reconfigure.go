package server

import (
	"errors"
	"net/netip"
	"os"
	"time"

	"github.com/semihalev/zlog/v2"

	"github.com/nonamed-dns/nonamed/cache"
	"github.com/nonamed-dns/nonamed/upstream"
)

// reconfigure rereads the hosts file and the resolver configuration when
// either changed or the daemon learned a new local address. force
// rebuilds the configuration regardless.
func (s *Server) reconfigure(local netip.Addr, force bool) {
	local = local.Unmap()
	if !local.IsValid() || local.IsLoopback() || local.IsUnspecified() {
		local = s.local
	}

	hostsChanged, err := s.hosts.Reload()
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		zlog.Warn("Hosts file read failed", "path", s.hosts.Path(), "error", err.Error())
	}

	resolvMtime := s.resolvModTime()

	if !force && s.configured && local == s.local && !hostsChanged && resolvMtime.Equal(s.resolvMtime) {
		return
	}

	s.local = local
	s.resolvMtime = resolvMtime
	s.configured = true

	settings := s.hosts.Settings()

	grace := s.cfg.Stale
	if settings.HasStale {
		grace = settings.Stale
	}
	s.cache.SetStaleGrace(time.Duration(grace) * time.Second)

	if !s.cfg.Dump {
		budget := s.cfg.Memory
		if settings.HasMemory {
			budget = int(settings.Memory)
		}
		if budget <= 0 {
			budget = cache.DefaultBudget
		}
		s.cache.SetBudget(budget)
	}

	servers := settings.Nameservers
	if len(servers) == 0 {
		servers = upstream.ParseServers(s.cfg.Nameservers)
	}
	if len(servers) == 0 && s.resolvconf() != "" {
		servers, err = upstream.FromResolvConf(s.resolvconf())
		if err != nil {
			zlog.Debug("Resolver configuration read failed", "path", s.resolvconf(), "error", err.Error())
		}
	}

	// our own address is only a loop when we also listen on the upstream port
	self := netip.Addr{}
	if s.port == UpstreamPort {
		self = local
	}
	servers = upstream.Filter(servers, self)

	s.servers.Reset(servers)
	s.chaos.SetSelf(netip.AddrPortFrom(local, s.port))

	zlog.Info("Configured", "local", local.String(), "nameservers", len(servers),
		"stale", grace, "memory", s.cache.Budget())
}

func (s *Server) resolvconf() string {
	if s.cfg.Single {
		return ""
	}
	return s.cfg.Resolvconf
}

func (s *Server) resolvModTime() time.Time {
	path := s.resolvconf()
	if path == "" {
		return time.Time{}
	}
	stat, err := os.Stat(path)
	if err != nil {
		return time.Time{}
	}
	return stat.ModTime()
}
