package server

import (
	"encoding/binary"
	"errors"
	"io"
	"net/netip"
	"time"

	"github.com/semihalev/zlog/v2"

	"github.com/nonamed-dns/nonamed/dnsutil"
	"github.com/nonamed-dns/nonamed/middleware"
	"github.com/nonamed-dns/nonamed/scheduler"
)

// lenSize is the size of the DNS over TCP length prefix.
const lenSize = 2

// maxConnectRetries bounds the upstream connects tried per client.
const maxConnectRetries = 5

// listenJob opens the TCP socket and accepts clients on it.
type listenJob struct {
	s    *Server
	kind scheduler.Kind
	ln   Listener
}

func (j *listenJob) Kind() scheduler.Kind { return j.kind }

func (j *listenJob) WaitFd() (int, int16) {
	if j.kind != kindListen || j.ln == nil {
		return -1, 0
	}
	return j.ln.Fd(), scheduler.EventRead
}

func (j *listenJob) Step(now time.Time, expired bool) scheduler.Result {
	s := j.s

	if j.kind == kindSetupListen {
		if !expired {
			return scheduler.Pending()
		}
		if j.ln == nil {
			addr := netip.AddrPortFrom(s.bind, s.port)
			ln, err := s.opts.Listen(addr)
			if err != nil {
				zlog.Error("TCP listen failed", "addr", addr.String(), "error", err.Error())
				return scheduler.Suspend(now.Add(shortTimeout))
			}
			j.ln, s.listener = ln, ln
			zlog.Info("DNS server listening...", "net", "tcp", "addr", addr.String())
		}
		j.kind = kindListen
		return scheduler.Suspend(scheduler.Never)
	}

	conn, from, err := j.ln.Accept()
	if errors.Is(err, scheduler.ErrWouldBlock) {
		if expired {
			return scheduler.Suspend(scheduler.Never)
		}
		return scheduler.Pending()
	}
	if err != nil {
		zlog.Warn("TCP accept failed", "error", err.Error())
		j.kind = kindSetupListen
		return scheduler.Suspend(now.Add(shortTimeout))
	}

	if !s.access.Allowed(from.Addr()) {
		zlog.Warn("TCP connection dropped", "from", from.String())
		_ = conn.Close()
		return scheduler.Suspend(scheduler.Never)
	}

	s.trace(kindListen, "Accepted", "from", from.String())
	s.sched.Schedule(&connectJob{s: s, kind: kindSetupConnect, client: conn, from: from}, scheduler.Immediate)

	return scheduler.Suspend(scheduler.Never)
}

// connectJob opens the upstream side of a client connection.
type connectJob struct {
	s        *Server
	kind     scheduler.Kind
	client   Stream
	from     netip.AddrPort
	upstream Stream
	retry    int
}

func (j *connectJob) Kind() scheduler.Kind { return j.kind }

func (j *connectJob) WaitFd() (int, int16) {
	if j.kind != kindConnect || j.upstream == nil {
		return -1, 0
	}
	return j.upstream.Fd(), scheduler.EventWrite
}

func (j *connectJob) Step(now time.Time, expired bool) scheduler.Result {
	if j.kind == kindSetupConnect {
		return j.setup(now, expired)
	}
	return j.connect(now, expired)
}

func (j *connectJob) setup(now time.Time, expired bool) scheduler.Result {
	s := j.s

	if !expired {
		return scheduler.Pending()
	}

	if s.servers.Len() == 0 || s.opts.Dial == nil {
		s.startRelay(now, j.client, nil, j.from)
		return scheduler.Complete()
	}

	to := s.servers.Current()
	up, err := s.opts.Dial(to)
	if err != nil {
		zlog.Warn("TCP connect failed", "upstream", to.String(), "error", err.Error())
		j.retry++
		if j.retry < maxConnectRetries {
			return scheduler.Suspend(now.Add(shortTimeout))
		}
		s.startRelay(now, j.client, nil, j.from)
		return scheduler.Complete()
	}

	s.trace(kindSetupConnect, "Connecting", "upstream", to.String())

	j.upstream = up
	j.kind = kindConnect
	return scheduler.Suspend(now.Add(longTimeout))
}

func (j *connectJob) connect(now time.Time, expired bool) scheduler.Result {
	s := j.s

	err := j.upstream.Connected()
	if errors.Is(err, scheduler.ErrWouldBlock) {
		if !expired {
			return scheduler.Pending()
		}
		err = errTimeout
	}

	if err != nil {
		s.trace(kindConnect, "Connect failed", "error", err.Error())
		_ = j.upstream.Close()
		j.upstream = nil

		j.retry++
		if j.retry < maxConnectRetries {
			if !s.servers.Searching() {
				s.servers.StartSearching()
				s.sched.ForceExpire(kindFindUpstream)
			}
			j.kind = kindSetupConnect
			return scheduler.Suspend(scheduler.Never)
		}

		s.startRelay(now, j.client, nil, j.from)
		return scheduler.Complete()
	}

	s.trace(kindConnect, "Connected")
	s.startRelay(now, j.client, j.upstream, j.from)

	return scheduler.Complete()
}

// relay is one direction of a TCP connection. In answer mode r and w are
// the same client stream and there is no reverse direction.
type relay struct {
	r, w Stream
	rev  *relay
	from netip.AddrPort

	buf  []byte
	off  int
	size int
}

func newRelay(r, w Stream, from netip.AddrPort) *relay {
	return &relay{r: r, w: w, from: from, buf: make([]byte, lenSize), size: lenSize}
}

func (rl *relay) answering() bool { return rl.r == rl.w }

func (rl *relay) grow(n int) {
	if len(rl.buf) < n {
		buf := make([]byte, n)
		copy(buf, rl.buf[:rl.off])
		rl.buf = buf
	}
}

// startRelay queues the read jobs of a client connection. Without an
// upstream stream the client is answered locally.
func (s *Server) startRelay(now time.Time, client, up Stream, from netip.AddrPort) {
	query := newRelay(client, client, from)

	if up != nil {
		reply := newRelay(up, client, from)
		reply.rev = query
		query.w = up
		query.rev = reply
		s.sched.Schedule(&streamJob{s: s, kind: kindReadReply, rl: reply}, now.Add(longTimeout))
	}

	s.sched.Schedule(&streamJob{s: s, kind: kindReadQuery, rl: query}, now.Add(longTimeout))
}

// closeRelay ends one direction. While the other direction lives the
// peer only sees end of stream; the last one closes both streams.
func (s *Server) closeRelay(rl *relay) {
	if rl.rev != nil {
		_ = rl.w.CloseWrite()
		rl.rev.rev = nil
		return
	}

	_ = rl.r.Close()
	if rl.w != rl.r {
		_ = rl.w.Close()
	}
}

// streamJob moves length prefixed messages through a relay.
type streamJob struct {
	s    *Server
	kind scheduler.Kind
	rl   *relay
}

func (j *streamJob) Kind() scheduler.Kind { return j.kind }

func (j *streamJob) WaitFd() (int, int16) {
	switch j.kind {
	case kindWriteQuery, kindWriteReply:
		return j.rl.w.Fd(), scheduler.EventWrite
	}
	return j.rl.r.Fd(), scheduler.EventRead
}

func (j *streamJob) Step(now time.Time, expired bool) scheduler.Result {
	switch j.kind {
	case kindWriteQuery, kindWriteReply:
		return j.write(now, expired)
	}
	return j.read(now, expired)
}

func (j *streamJob) read(now time.Time, expired bool) scheduler.Result {
	s, rl := j.s, j.rl

	n, err := rl.r.Read(rl.buf[rl.off:rl.size])
	if errors.Is(err, scheduler.ErrWouldBlock) {
		if !expired {
			return scheduler.Pending()
		}
		err = errTimeout
	}
	if err != nil {
		if !errors.Is(err, io.EOF) {
			s.trace(j.kind, "TCP read failed", "error", err.Error())
		}
		s.closeRelay(rl)
		return scheduler.Complete()
	}

	rl.off += n
	s.trace(j.kind, "TCP read", "bytes", rl.off, "size", rl.size)

	if rl.off == lenSize && rl.size == lenSize {
		rl.size = lenSize + int(binary.BigEndian.Uint16(rl.buf))
		rl.grow(rl.size)
	}
	if rl.off < rl.size {
		return scheduler.Suspend(now.Add(longTimeout))
	}

	msg := dnsutil.Packet(rl.buf[lenSize:rl.size])

	if j.kind == kindReadReply {
		rl.off = 0
		j.kind = kindWriteReply
		return scheduler.Suspend(now.Add(longTimeout))
	}

	if !msg.Valid() {
		s.closeRelay(rl)
		return scheduler.Complete()
	}

	if s.verbosity >= 1 {
		zlog.Debug("TCP packet", "from", rl.from.String(), "packet", dnsutil.Tell(msg, 0))
	}

	if !rl.answering() {
		rl.off = 0
		j.kind = kindWriteQuery
		return scheduler.Suspend(now.Add(longTimeout))
	}

	verdict, reply := s.chain.Serve(msg, rl.from, "tcp")
	if verdict != middleware.Answer {
		s.closeRelay(rl)
		return scheduler.Complete()
	}

	rl.off = 0
	rl.size = lenSize + len(reply)
	rl.grow(rl.size)
	binary.BigEndian.PutUint16(rl.buf, uint16(len(reply)))
	copy(rl.buf[lenSize:], reply)

	j.kind = kindWriteReply
	return scheduler.Suspend(now.Add(longTimeout))
}

func (j *streamJob) write(now time.Time, expired bool) scheduler.Result {
	s, rl := j.s, j.rl

	n, err := rl.w.Write(rl.buf[rl.off:rl.size])
	if errors.Is(err, scheduler.ErrWouldBlock) {
		if !expired {
			return scheduler.Pending()
		}
		err = errTimeout
	}
	if err == nil && n <= 0 {
		err = io.ErrShortWrite
	}
	if err != nil {
		s.trace(j.kind, "TCP write failed", "error", err.Error())
		s.closeRelay(rl)
		return scheduler.Complete()
	}

	rl.off += n
	s.trace(j.kind, "TCP write", "bytes", rl.off, "size", rl.size)

	if rl.off < rl.size {
		return scheduler.Suspend(now.Add(longTimeout))
	}

	rl.off, rl.size = 0, lenSize

	switch {
	case j.kind == kindWriteQuery, rl.answering():
		j.kind = kindReadQuery
	default:
		j.kind = kindReadReply
	}

	return scheduler.Suspend(now.Add(longTimeout))
}
