package cache

import (
	"math"

	"github.com/miekg/dns"

	"github.com/nonamed-dns/nonamed/cache"
	"github.com/nonamed-dns/nonamed/dnsutil"
	"github.com/nonamed-dns/nonamed/middleware"
)

// Cache type
type Cache struct {
	cache *cache.Cache
}

// New return cache handler serving from c.
func New(c *cache.Cache) *Cache {
	return &Cache{cache: c}
}

// Name return middleware name
func (c *Cache) Name() string { return name }

// ServeDNS implements the Handle interface.
func (c *Cache) ServeDNS(ch *middleware.Chain) {
	req := ch.Request

	msg := c.handle(req)
	if msg == nil {
		ch.Next()
		return
	}

	_, _ = ch.Writer.Write(msg)

	ch.Cancel()
}

// handle answers req from the cache with the TTLs lowered by the age of
// the entry. A recursive query for an entry past its stale time flags it
// for a refresh.
func (c *Cache) handle(req *middleware.Request) dnsutil.Packet {
	q := req.Question
	if q.Class != dns.ClassINET {
		return nil
	}

	e := c.cache.Lookup(q.Name, q.Type)
	if e == nil {
		return nil
	}

	now := c.cache.Now()

	msg := e.Packet.Clone()
	msg.SetAA(true)
	dnsutil.MinimumTTL(msg, e.Age(now))

	if req.Packet.RD() {
		if !e.Stale.After(now) {
			c.cache.MarkRefresh(e)
		}
		if e.Usage < math.MaxUint16 {
			e.Usage++
		}
	}

	c.cache.Put(e)

	return msg
}

const name = "cache"
