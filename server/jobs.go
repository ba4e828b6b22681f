package server

import (
	"errors"
	"time"

	"github.com/miekg/dns"
	"github.com/semihalev/zlog/v2"

	"github.com/nonamed-dns/nonamed/dnsutil"
	"github.com/nonamed-dns/nonamed/scheduler"
	"github.com/nonamed-dns/nonamed/upstream"
)

// Job kinds.
const (
	kindReadUDP scheduler.Kind = iota + 1
	kindSetupListen
	kindListen
	kindSetupConnect
	kindConnect
	kindReadQuery
	kindWriteQuery
	kindReadReply
	kindWriteReply
	kindFindUpstream
	kindExpectUpstream
	kindSaveCache
)

var kindNames = map[scheduler.Kind]string{
	kindReadUDP:        "read udp",
	kindSetupListen:    "setup listen",
	kindListen:         "listen",
	kindSetupConnect:   "setup connect",
	kindConnect:        "connect",
	kindReadQuery:      "read query",
	kindWriteQuery:     "write query",
	kindReadReply:      "read reply",
	kindWriteReply:     "write reply",
	kindFindUpstream:   "find upstream",
	kindExpectUpstream: "expect upstream",
	kindSaveCache:      "save cache",
}

var errTimeout = errors.New("timed out")

// trace logs job activity at debug level 2 and up.
func (s *Server) trace(kind scheduler.Kind, msg string, kv ...any) {
	if s.verbosity < 2 {
		return
	}
	zlog.Debug(msg, append([]any{"job", kindNames[kind]}, kv...)...)
}

// timerJob runs only when its time comes.
type timerJob struct {
	s    *Server
	kind scheduler.Kind
}

func (j *timerJob) Kind() scheduler.Kind { return j.kind }

func (j *timerJob) Step(now time.Time, expired bool) scheduler.Result {
	if !expired {
		return scheduler.Pending()
	}

	j.s.trace(j.kind, "Timer expired")

	switch j.kind {
	case kindFindUpstream:
		return j.s.findUpstream(now)
	case kindExpectUpstream:
		j.s.expectUpstream()
	case kindSaveCache:
		j.s.save()
	}

	return scheduler.Complete()
}

// findUpstream probes the next candidate of a search round. When the
// round is over it waits a long time if there is reason to believe a
// better server may come back, and otherwise until woken.
func (s *Server) findUpstream(now time.Time) scheduler.Result {
	if s.servers.Len() == 0 {
		s.servers.StopSearching()
		s.sched.ForceExpire(kindSetupConnect)
		return scheduler.Suspend(scheduler.Never)
	}

	addr, ok := s.servers.Advance()
	if !ok {
		wake := scheduler.Never
		if s.cache.StaleGrace() > 0 || s.servers.Rotated() {
			wake = now.Add(longTimeout)
		}
		s.sched.ForceExpire(kindSetupConnect)
		return scheduler.Suspend(wake)
	}

	id := s.ids.New(upstream.Origin{ID: upstream.ProbeID, Self: true})
	probe, err := dnsutil.NewQuery(id, ".", dns.TypeNS, false)
	if err != nil {
		return scheduler.Fail(err)
	}

	if s.verbosity >= 1 {
		zlog.Debug("Probe", "to", addr.String(), "packet", dnsutil.Tell(probe, 0))
	}
	s.send(probe, addr)

	return scheduler.Suspend(now.Add(shortTimeout))
}

// expectUpstream starts a search when a relayed query went unanswered.
func (s *Server) expectUpstream() {
	if s.servers.Expecting() && !s.servers.Searching() {
		zlog.Info("Upstream not answering, searching", "upstream", s.servers.Current().String())
		s.servers.StartSearching()
		s.sched.ForceExpire(kindFindUpstream)
	}
}

// refreshCache asks upstream again for one entry served while stale.
func (s *Server) refreshCache() {
	if !s.cache.RefreshPending() || s.servers.Len() == 0 {
		return
	}

	e := s.cache.NextRefresh()
	if e == nil {
		return
	}

	id := s.ids.New(upstream.Origin{ID: upstream.RefreshID, Self: true})
	q, err := dnsutil.NewQuery(id, e.Name, e.Type, true)
	if err != nil {
		zlog.Debug("Refresh query failed", "name", e.Name, "error", err.Error())
		return
	}

	if s.verbosity >= 1 {
		zlog.Debug("Refresh", "to", s.servers.Current().String(), "packet", dnsutil.Tell(q, 0))
	}
	s.send(q, s.servers.Current())
}
