package dnsutil

import (
	"encoding/binary"
	"time"

	"github.com/miekg/dns"
)

// MaxTTL bounds every TTL computation to one year.
const MaxTTL = uint32(365 * 24 * time.Hour / time.Second)

// MinimumTTL returns the smallest TTL of the records in p, or 0 when the
// message may not be cached: a malformed message, a NOERROR reply without
// records or an NXDOMAIN reply without an authority SOA.
//
// For NXDOMAIN the SOA contributes min(TTL, SOA minimum). When delta is
// non-zero every TTL in p is lowered by delta in place, clamping at zero.
// OPT pseudo-records carry no TTL and are skipped.
func MinimumTTL(p Packet, delta uint32) uint32 {
	if !p.Valid() {
		return 0
	}

	rcode := p.Rcode()
	minttl := MaxTTL
	hasttl, hassoa := false, false

	off := HeaderSize
	for i := 0; i < int(p.Count(SectionQuestion)); i++ {
		n, err := SkipName(p, off)
		if err != nil {
			return 0
		}
		off += n + 4
		if off > len(p) {
			return 0
		}
	}

	for s := SectionAnswer; s <= SectionAdditional; s++ {
		for i := 0; i < int(p.Count(s)); i++ {
			rr, n, err := skipRR(p, off)
			if err != nil {
				return 0
			}
			off += n

			if rr.Type == dns.TypeOPT {
				continue
			}

			ttl := rr.TTL
			if ttl&(1<<31) != 0 {
				ttl = 0
			}
			if ttl < delta {
				ttl = 0
			} else {
				ttl -= delta
			}
			if delta != 0 {
				binary.BigEndian.PutUint32(p[rr.ttlOffset:], ttl)
			}

			if rcode == dns.RcodeNameError && s == SectionAuthority && rr.Type == dns.TypeSOA {
				minimum, ok := soaMinimum(p, rr.DataOffset)
				if !ok {
					return 0
				}
				if ttl > minimum {
					ttl = minimum
				}
				hassoa = true
			}

			if ttl < minttl {
				minttl = ttl
			}
			hasttl = true
		}
	}

	if (rcode == dns.RcodeSuccess && hasttl) || (rcode == dns.RcodeNameError && hassoa) {
		return minttl
	}
	return 0
}

// soaMinimum reads the MINIMUM field of the SOA rdata at off.
func soaMinimum(msg []byte, off int) (uint32, bool) {
	for range 2 {
		n, err := SkipName(msg, off)
		if err != nil {
			return 0, false
		}
		off += n
	}
	off += 4 * 4
	if off+4 > len(msg) {
		return 0, false
	}
	return binary.BigEndian.Uint32(msg[off:]), true
}
