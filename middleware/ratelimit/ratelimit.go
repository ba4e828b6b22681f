package ratelimit

import (
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/dgraph-io/ristretto/v2"
	"github.com/miekg/dns"
	"github.com/semihalev/zlog/v2"
	"golang.org/x/time/rate"

	"github.com/nonamed-dns/nonamed/config"
	"github.com/nonamed-dns/nonamed/middleware"
)

// store holds the limiters of recent clients. It is satisfied by
// *ristretto.Cache.
type store interface {
	Get(key uint64) (*rate.Limiter, bool)
	Set(key uint64, value *rate.Limiter, cost int64) bool
	Wait()
	Close()
}

// RateLimit type
type RateLimit struct {
	limiters store
	// overflow keeps the limiters the store refused to admit.
	overflow map[uint64]*rate.Limiter
	rate     int
}

// New return ratelimit. A zero rate disables the handler.
func New(cfg *config.Config) *RateLimit {
	r := &RateLimit{rate: cfg.RateLimit}
	if r.rate <= 0 {
		return r
	}

	limiters, err := ristretto.NewCache(&ristretto.Config[uint64, *rate.Limiter]{
		NumCounters: cacheSize * 10,
		MaxCost:     cacheSize,
		BufferItems: 64,
	})
	if err != nil {
		zlog.Error("Rate limiter store failed, rate limit disabled", "error", err.Error())
		r.rate = 0
		return r
	}
	r.limiters = limiters
	r.overflow = make(map[uint64]*rate.Limiter)

	return r
}

// Name return middleware name
func (r *RateLimit) Name() string { return name }

// ServeDNS implements the Handle interface.
func (r *RateLimit) ServeDNS(ch *middleware.Chain) {
	if r.rate == 0 {
		ch.Next()
		return
	}

	client := ch.Request.Source.Addr().Unmap()
	if !client.IsValid() || client.IsLoopback() {
		ch.Next()
		return
	}

	if !r.limiter(client.AsSlice()).Allow() {
		zlog.Debug("Client rate limited", "client", client.String())
		ch.CancelWithRcode(dns.RcodeRefused, false)
		return
	}

	ch.Next()
}

func (r *RateLimit) limiter(ip []byte) *rate.Limiter {
	key := xxhash.Sum64(ip)

	if l, ok := r.limiters.Get(key); ok {
		return l
	}
	if l, ok := r.overflow[key]; ok {
		return l
	}

	l := rate.NewLimiter(rate.Every(time.Minute/time.Duration(r.rate)), r.rate)

	if r.limiters.Set(key, l, 1) {
		r.limiters.Wait()
		if _, ok := r.limiters.Get(key); ok {
			return l
		}
	}

	if len(r.overflow) >= overflowSize {
		clear(r.overflow)
	}
	r.overflow[key] = l

	return l
}

// Close releases the limiter store.
func (r *RateLimit) Close() {
	if r.limiters != nil {
		r.limiters.Close()
	}
}

const (
	cacheSize    = 256 * 100
	overflowSize = 1024

	name = "ratelimit"
)
