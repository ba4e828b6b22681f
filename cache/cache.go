// Package cache holds DNS replies in a memory bounded LRU list with a
// second chance usage counter, and persists them between runs.
//
// The cache is not safe for concurrent use. It is owned by the event
// loop of the daemon.
package cache

import (
	"container/list"
	"time"
	"unsafe"

	"github.com/jonboulle/clockwork"
	"github.com/miekg/dns"

	"github.com/nonamed-dns/nonamed/dnsutil"
)

const (
	// EntryOverhead is the bookkeeping cost charged per entry.
	EntryOverhead = int(unsafe.Sizeof(Entry{}) + unsafe.Sizeof(list.Element{}))

	// DefaultBudget is the default memory budget in bytes.
	DefaultBudget = 4096 * int(unsafe.Sizeof(uintptr(0)))

	// FlagRefresh marks an entry for refreshing from upstream.
	FlagRefresh uint8 = 0x01

	usageShift = 1
)

// Entry is one cached reply.
type Entry struct {
	Packet   dnsutil.Packet
	Inserted time.Time
	Stale    time.Time
	Usage    uint16
	Flags    uint8

	Name string
	Type uint16

	key  uint64
	elem *list.Element
}

// Size returns the bytes an entry is charged against the budget.
func (e *Entry) Size() int {
	return EntryOverhead + len(e.Packet)
}

// Age returns the whole seconds since the entry was inserted.
func (e *Entry) Age(now time.Time) uint32 {
	d := now.Unix() - e.Inserted.Unix()
	if d < 0 {
		return 0
	}
	return uint32(d)
}

// Cache is an LRU list of replies bounded by a byte budget.
type Cache struct {
	lru   *list.List // front is most recently used
	bytes int

	budget int
	grace  time.Duration
	clock  clockwork.Clock

	refresh bool
}

// New returns an empty cache with the given budget in bytes.
func New(budget int, clock clockwork.Clock) *Cache {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Cache{
		lru:    list.New(),
		budget: budget,
		clock:  clock,
	}
}

// Len returns the number of entries.
func (c *Cache) Len() int { return c.lru.Len() }

// Bytes returns the charged size of all entries.
func (c *Cache) Bytes() int { return c.bytes }

// Budget returns the memory budget in bytes.
func (c *Cache) Budget() int { return c.budget }

// SetBudget changes the memory budget. Entries are evicted on the next insert.
func (c *Cache) SetBudget(n int) { c.budget = n }

// SetStaleGrace sets how long past its stale time an entry may still be served.
func (c *Cache) SetStaleGrace(d time.Duration) { c.grace = d }

// StaleGrace returns the stale grace period.
func (c *Cache) StaleGrace() time.Duration { return c.grace }

// Now returns the current time in whole seconds.
func (c *Cache) Now() time.Time {
	return time.Unix(c.clock.Now().Unix(), 0)
}

// Expired reports whether e is past its stale time plus grace.
func (c *Cache) Expired(e *Entry, now time.Time) bool {
	return !e.Stale.After(now.Add(-c.grace))
}

// find scans from the most recent entry and frees expired entries on the way.
func (c *Cache) find(name string, qtype uint16, now time.Time) *list.Element {
	key := Key(name, qtype)
	for el := c.lru.Front(); el != nil; {
		next := el.Next()
		e := el.Value.(*Entry)
		if c.Expired(e, now) {
			c.remove(el)
		} else if e.key == key && e.Type == qtype && dnsutil.EqualNames(e.Name, name) {
			return el
		}
		el = next
	}
	return nil
}

// Lookup finds the entry for a question and detaches it from the cache.
// The caller hands it back with Put.
func (c *Cache) Lookup(name string, qtype uint16) *Entry {
	el := c.find(name, qtype, c.Now())
	if el == nil {
		return nil
	}
	e := el.Value.(*Entry)
	c.remove(el)
	return e
}

// Put inserts a detached entry as the most recently used and evicts
// entries while over budget.
func (c *Cache) Put(e *Entry) {
	e.elem = c.lru.PushFront(e)
	c.bytes += e.Size()
	c.evict(c.Now())
}

func (c *Cache) remove(el *list.Element) {
	e := c.lru.Remove(el).(*Entry)
	e.elem = nil
	c.bytes -= e.Size()
}

// evict halves the usage of the least recently used entry and frees it
// once the counter reaches zero or the entry expired; survivors move to
// the front.
func (c *Cache) evict(now time.Time) {
	for c.bytes > c.budget && c.lru.Len() > 0 {
		el := c.lru.Back()
		e := el.Value.(*Entry)
		e.Usage >>= usageShift
		if e.Usage == 0 || c.Expired(e, now) {
			c.remove(el)
			continue
		}
		c.lru.MoveToFront(el)
	}
}

// Insert caches a reply. Replies that are truncated, do not carry
// exactly one IN question, or have a zero minimum TTL are not cached;
// the latter also drops an existing entry for the question. An existing
// entry is overwritten in place and keeps its position and usage.
func (c *Cache) Insert(p dnsutil.Packet) bool {
	if !p.Valid() || p.TC() || p.Count(dnsutil.SectionQuestion) != 1 {
		return false
	}
	q, err := dnsutil.FirstQuestion(p)
	if err != nil || q.Class != dns.ClassINET {
		return false
	}

	now := c.Now()
	el := c.find(q.Name, q.Type, now)

	minttl := dnsutil.MinimumTTL(p, 0)
	if minttl == 0 {
		if el != nil {
			c.remove(el)
		}
		return false
	}

	pkt := p.Clone()
	if el != nil {
		e := el.Value.(*Entry)
		c.bytes -= e.Size()
		e.Packet = pkt
		e.Inserted = now
		e.Stale = now.Add(time.Duration(minttl) * time.Second)
		e.Flags = 0
		c.bytes += e.Size()
		c.evict(now)
		return true
	}

	c.Put(&Entry{
		Packet:   pkt,
		Inserted: now,
		Stale:    now.Add(time.Duration(minttl) * time.Second),
		Usage:    1,
		Name:     q.Name,
		Type:     q.Type,
		key:      Key(q.Name, q.Type),
	})
	return true
}

// MarkRefresh flags e for refreshing and raises the cache wide flag.
func (c *Cache) MarkRefresh(e *Entry) {
	e.Flags |= FlagRefresh
	c.refresh = true
}

// RefreshPending reports whether some entry may be flagged for refresh.
func (c *Cache) RefreshPending() bool { return c.refresh }

// NextRefresh returns the least recently used flagged entry that is not
// expired and clears its flag. It clears the cache wide flag when no
// such entry remains.
func (c *Cache) NextRefresh() *Entry {
	if !c.refresh {
		return nil
	}
	now := c.Now()
	for el := c.lru.Back(); el != nil; el = el.Prev() {
		e := el.Value.(*Entry)
		if e.Flags&FlagRefresh != 0 && !c.Expired(e, now) {
			e.Flags &^= FlagRefresh
			return e
		}
	}
	c.refresh = false
	return nil
}

// Each calls fn for every entry from least to most recently used.
func (c *Cache) Each(fn func(*Entry)) {
	for el := c.lru.Back(); el != nil; el = el.Prev() {
		fn(el.Value.(*Entry))
	}
}

// Clear frees every entry.
func (c *Cache) Clear() {
	c.lru.Init()
	c.bytes = 0
	c.refresh = false
}
