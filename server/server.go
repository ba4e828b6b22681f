// Package server runs the nonamed event loop. The UDP relay, the TCP
// relay, the upstream search and the delayed cache save are all jobs of a
// single scheduler; nothing here is safe for concurrent use except the
// wakeups delivered by signals and file notifications.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"os"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/miekg/dns"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/semihalev/zlog/v2"

	"github.com/nonamed-dns/nonamed/cache"
	"github.com/nonamed-dns/nonamed/config"
	"github.com/nonamed-dns/nonamed/middleware"
	"github.com/nonamed-dns/nonamed/middleware/accesslist"
	"github.com/nonamed-dns/nonamed/middleware/accesslog"
	mwcache "github.com/nonamed-dns/nonamed/middleware/cache"
	"github.com/nonamed-dns/nonamed/middleware/chaos"
	"github.com/nonamed-dns/nonamed/middleware/hostsfile"
	"github.com/nonamed-dns/nonamed/middleware/loop"
	"github.com/nonamed-dns/nonamed/middleware/metrics"
	"github.com/nonamed-dns/nonamed/middleware/ratelimit"
	"github.com/nonamed-dns/nonamed/middleware/recovery"
	"github.com/nonamed-dns/nonamed/middleware/recursion"
	"github.com/nonamed-dns/nonamed/scheduler"
	"github.com/nonamed-dns/nonamed/upstream"
)

// UpstreamPort is where upstream name servers are asked.
const UpstreamPort = 53

const (
	shortTimeout  = 2 * time.Second
	mediumTimeout = 4 * time.Second
	longTimeout   = 300 * time.Second
)

// Options carries the sockets and collaborators of a Server.
type Options struct {
	Clock  clockwork.Clock
	Poller scheduler.Poller

	UDP PacketConn
	// Listen and Dial are nil when TCP is disabled.
	Listen func(netip.AddrPort) (Listener, error)
	Dial   func(netip.AddrPort) (Stream, error)

	// Store is nil in single mode.
	Store    cache.Store
	Registry prometheus.Registerer

	// Verbosity is told about every debug level change.
	Verbosity func(level int)

	Signals bool
	Watch   bool
}

// Server is the daemon context.
type Server struct {
	cfg  *config.Config
	opts Options

	bind netip.Addr
	port uint16
	// local is the last non loopback address a packet was sent to.
	local netip.Addr

	clock clockwork.Clock
	sched *scheduler.Scheduler

	udp      PacketConn
	listener Listener
	buf      []byte

	cache   *cache.Cache
	servers *upstream.Set
	ids     *upstream.IDMap

	chain   *middleware.Chain
	hosts   *hostsfile.Hostsfile
	chaos   *chaos.Chaos
	access  *accesslist.AccessList
	qlog    *accesslog.AccessLog
	limiter *ratelimit.RateLimit
	metrics *metrics.Metrics

	configured  bool
	resolvMtime time.Time

	dirty     bool
	verbosity int
	done      bool
	fatal     error

	sigs    chan os.Signal
	changed atomic.Bool
}

// New builds the daemon context around the given sockets.
func New(cfg *config.Config, opts Options) (*Server, error) {
	if opts.Poller == nil || opts.UDP == nil {
		return nil, errors.New("server needs a poller and an udp socket")
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("invalid port %d", cfg.Port)
	}

	bind := netip.IPv4Unspecified()
	if cfg.Bind != "" {
		addr, err := netip.ParseAddr(cfg.Bind)
		if err != nil {
			return nil, fmt.Errorf("invalid bind address: %w", err)
		}
		bind = addr.Unmap()
	}

	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if !cfg.TCP {
		opts.Listen, opts.Dial = nil, nil
	}

	s := &Server{
		cfg:       cfg,
		opts:      opts,
		bind:      bind,
		port:      uint16(cfg.Port),
		local:     bind,
		clock:     opts.Clock,
		sched:     scheduler.New(opts.Clock, opts.Poller),
		udp:       opts.UDP,
		buf:       make([]byte, dns.MaxMsgSize),
		cache:     cache.New(cache.DefaultBudget, opts.Clock),
		servers:   upstream.NewSet(UpstreamPort),
		ids:       upstream.NewIDMap(uint16(opts.Clock.Now().UnixNano())),
		verbosity: cfg.Debug,
		sigs:      make(chan os.Signal, 8),
	}

	s.hosts = hostsfile.New(cfg)
	s.chaos = chaos.New(cfg, s.servers)
	s.access = accesslist.New(cfg)
	s.qlog = accesslog.New(cfg)
	s.limiter = ratelimit.New(cfg)
	s.metrics = metrics.New(opts.Registry, s.cache)

	s.chain = middleware.NewChain([]middleware.Handler{
		recovery.New(),
		s.metrics,
		s.access,
		s.qlog,
		s.hosts,
		mwcache.New(s.cache),
		s.chaos,
		loop.New(s.servers),
		recursion.New(),
		s.limiter,
	})

	return s, nil
}

// Cache returns the response cache.
func (s *Server) Cache() *cache.Cache { return s.cache }

// Upstreams returns the upstream server set.
func (s *Server) Upstreams() *upstream.Set { return s.servers }

// Verbosity returns the current debug level.
func (s *Server) Verbosity() int { return s.verbosity }

// SetVerbosity changes the debug level.
func (s *Server) SetVerbosity(level int) {
	s.verbosity = max(level, 0)
	if s.opts.Verbosity != nil {
		s.opts.Verbosity(s.verbosity)
	}
	zlog.Info("Debug level changed", "level", s.verbosity)
}

// Start reads the configuration, restores the cache under the configured
// budget and queues the initial jobs.
func (s *Server) Start() {
	s.reconfigure(s.local, true)

	if s.opts.Store != nil {
		if err := s.cache.Restore(s.opts.Store); err != nil {
			zlog.Warn("Cache restore failed", "error", err.Error())
		} else {
			zlog.Info("Cache restored", "entries", s.cache.Len())
		}
	}

	s.sched.Schedule(&udpJob{s: s}, scheduler.Never)
	if s.opts.Listen != nil {
		s.sched.Schedule(&listenJob{s: s, kind: kindSetupListen}, scheduler.Immediate)
	}
	s.sched.Schedule(&timerJob{s: s, kind: kindFindUpstream}, scheduler.Immediate)
}

// Run serves until ctx is done, a terminating signal arrives or a socket
// fails. The cache is saved on the way out.
func (s *Server) Run(ctx context.Context) error {
	s.Start()

	if s.opts.Watch {
		stop := s.watch()
		defer stop()
	}
	if s.opts.Signals {
		stop := s.notify()
		defer stop()
	}

	zlog.Info("DNS server listening...", "net", "udp", "addr", netip.AddrPortFrom(s.bind, s.port).String())

	err := s.sched.Run(ctx, s.after)
	if err == nil {
		err = s.fatal
	}

	s.save()

	return err
}

// Close releases the sockets.
func (s *Server) Close() error {
	var errs []error
	errs = append(errs, s.udp.Close())
	if s.listener != nil {
		errs = append(errs, s.listener.Close())
	}
	s.limiter.Close()
	errs = append(errs, s.qlog.Close())
	return errors.Join(errs...)
}

// after runs between scheduler passes and reports whether to go on.
func (s *Server) after() bool {
	for drained := false; !drained; {
		select {
		case sig := <-s.sigs:
			s.handleSignal(sig)
		default:
			drained = true
		}
	}

	if s.changed.Swap(false) {
		s.reconfigure(s.local, false)
	}

	return !s.done && s.fatal == nil
}

// save writes the cache to the store, if any.
func (s *Server) save() {
	if s.opts.Store == nil {
		return
	}

	if err := s.cache.Save(s.opts.Store); err != nil {
		zlog.Error("Cache save failed", "error", err.Error())
		return
	}
	s.dirty = false

	zlog.Debug("Cache saved", "entries", s.cache.Len())
}

// cacheReply stores an upstream reply and arranges a delayed save.
func (s *Server) cacheReply(now time.Time, p []byte) {
	if !s.cache.Insert(p) {
		return
	}
	if s.opts.Store != nil && !s.dirty {
		s.dirty = true
		s.sched.Schedule(&timerJob{s: s, kind: kindSaveCache}, now.Add(longTimeout))
	}
}
