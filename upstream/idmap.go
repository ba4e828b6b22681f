package upstream

import "net/netip"

// IDTableSize is the number of relayed queries that can be in flight.
const IDTableSize = 256

// Ids used for queries the daemon sends on its own behalf.
const (
	ProbeID   uint16 = 0
	RefreshID uint16 = 1
)

// Origin is where a relayed query came from.
type Origin struct {
	ID   uint16
	Addr netip.AddrPort
	// Self marks probes and refresh queries; their replies are not forwarded.
	Self bool
}

type slot struct {
	origin Origin
	id     uint16
	used   bool
}

// IDMap hands out upstream transaction ids and maps replies back to the
// client query. Ids come from a wrapping counter; only the last
// IDTableSize ids are recognized and each is recognized once.
type IDMap struct {
	slots   [IDTableSize]slot
	counter uint16
}

// NewIDMap returns a map whose counter starts at seed.
func NewIDMap(seed uint16) *IDMap {
	return &IDMap{counter: seed}
}

// New records o and returns the id to send upstream.
func (m *IDMap) New(o Origin) uint16 {
	id := m.counter
	m.counter++
	m.slots[id%IDTableSize] = slot{origin: o, id: id, used: true}
	return id
}

// Resolve returns and forgets the origin of a reply id.
func (m *IDMap) Resolve(id uint16) (Origin, bool) {
	d := m.counter - id
	if d == 0 || d > IDTableSize {
		return Origin{}, false
	}
	s := &m.slots[id%IDTableSize]
	if !s.used || s.id != id {
		return Origin{}, false
	}
	o := s.origin
	*s = slot{}
	return o, true
}
