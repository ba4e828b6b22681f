package server

import (
	"errors"
	"net/netip"
	"time"

	"github.com/semihalev/zlog/v2"

	"github.com/nonamed-dns/nonamed/dnsutil"
	"github.com/nonamed-dns/nonamed/middleware"
	"github.com/nonamed-dns/nonamed/scheduler"
	"github.com/nonamed-dns/nonamed/upstream"
)

// udpJob reads one datagram per step, forever.
type udpJob struct {
	s *Server
}

func (j *udpJob) Kind() scheduler.Kind { return kindReadUDP }

func (j *udpJob) WaitFd() (int, int16) { return j.s.udp.Fd(), scheduler.EventRead }

func (j *udpJob) Step(now time.Time, expired bool) scheduler.Result {
	s := j.s

	n, from, to, err := s.udp.ReadFrom(s.buf)
	if errors.Is(err, scheduler.ErrWouldBlock) {
		if expired {
			return scheduler.Suspend(scheduler.Never)
		}
		return scheduler.Pending()
	}
	if err != nil {
		zlog.Error("UDP read failed", "error", err.Error())
		s.fatal = err
		return scheduler.Fail(err)
	}

	s.handlePacket(now, dnsutil.Packet(s.buf[:n]), from, to)

	return scheduler.Suspend(scheduler.Never)
}

// handlePacket routes a datagram by its QR bit.
func (s *Server) handlePacket(now time.Time, p dnsutil.Packet, from netip.AddrPort, to netip.Addr) {
	if !p.Valid() {
		return
	}

	if s.verbosity >= 1 {
		zlog.Debug("UDP packet", "from", from.String(), "packet", dnsutil.Tell(p, 0))
	}

	s.reconfigure(to, false)

	if p.QR() {
		s.handleReply(now, p, from)
		return
	}

	s.handleQuery(now, p, from)
}

// handleReply matches an upstream reply to the query it answers, caches
// it and passes it on to the client.
func (s *Server) handleReply(now time.Time, p dnsutil.Packet, from netip.AddrPort) {
	origin, ok := s.ids.Resolve(p.ID())
	if !ok {
		zlog.Debug("Unsolicited reply dropped", "from", from.String(), "id", p.ID())
		return
	}

	if origin.Self && origin.ID == upstream.ProbeID && s.servers.Searching() {
		if s.servers.Select(from.Addr()) {
			zlog.Info("Upstream selected", "upstream", s.servers.Current().String())
			s.servers.StopSearching()
			s.sched.ForceExpire(kindFindUpstream)
		}
	}

	if s.servers.Expecting() {
		s.servers.StopExpecting()
		s.sched.ForceExpire(kindExpectUpstream)
	}

	s.cacheReply(now, p)

	s.refreshCache()

	if origin.Self {
		return
	}

	p.SetID(origin.ID)
	s.send(p, origin.Addr)
}

// handleQuery answers a client query locally or relays it.
func (s *Server) handleQuery(now time.Time, p dnsutil.Packet, from netip.AddrPort) {
	verdict, reply := s.chain.Serve(p, from, "udp")

	switch verdict {
	case middleware.Answer:
		if s.verbosity >= 1 {
			zlog.Debug("UDP reply", "to", from.String(), "packet", dnsutil.Tell(reply, 0))
		}
		s.send(reply, from)
	case middleware.Relay:
		s.relay(now, p, from)
	}
}

// relay forwards a client query to the current upstream under a fresh id.
func (s *Server) relay(now time.Time, p dnsutil.Packet, from netip.AddrPort) {
	to := s.servers.Current()
	if !to.IsValid() {
		return
	}

	q := p.Clone()
	q.SetID(s.ids.New(upstream.Origin{ID: p.ID(), Addr: from}))

	if !s.servers.Expecting() {
		s.servers.StartExpecting()
		s.sched.Schedule(&timerJob{s: s, kind: kindExpectUpstream}, now.Add(mediumTimeout))
	}

	if s.verbosity >= 1 {
		zlog.Debug("Relay", "to", to.String())
	}
	s.send(q, to)
}

func (s *Server) send(p []byte, to netip.AddrPort) {
	if err := s.udp.WriteTo(p, to); err != nil {
		zlog.Warn("UDP write failed", "to", to.String(), "error", err.Error())
	}
}
