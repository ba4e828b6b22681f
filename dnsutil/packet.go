// Package dnsutil provides the wire level view of DNS messages used by
// nonamed: header accessors, name expansion, record decoding and TTL
// rebasing over raw packets.
package dnsutil

import (
	"encoding/binary"
	"errors"
)

const (
	// HeaderSize is the size of the fixed DNS header.
	HeaderSize = 12
	// PacketSize is the classic UDP payload limit.
	PacketSize = 512
	// MaxMessageSize is the largest message a TCP length prefix can carry.
	MaxMessageSize = 65535
	// MaxNameLen is the largest wire length of a domain name.
	MaxNameLen = 255
)

var (
	// ErrTruncated is returned when a record or name runs past the message.
	ErrTruncated = errors.New("dns message truncated")
	// ErrCompression is returned for forward, looping or reserved label pointers.
	ErrCompression = errors.New("bad compression pointer")
	// ErrNameTooLong is returned when an expanded name exceeds 255 octets.
	ErrNameTooLong = errors.New("domain name too long")
	// ErrTooLarge is returned when a composed answer does not fit a UDP packet.
	ErrTooLarge = errors.New("dns message too large")
)

// Section identifies one of the four record counts of the header.
type Section int

// Sections in wire order.
const (
	SectionQuestion Section = iota
	SectionAnswer
	SectionAuthority
	SectionAdditional
)

const (
	flagQR    = 1 << 15
	flagAA    = 1 << 10
	flagTC    = 1 << 9
	flagRD    = 1 << 8
	flagRA    = 1 << 7
	flagZ     = 1 << 6
	flagAD    = 1 << 5
	flagCD    = 1 << 4
	rcodeMask = 0x000f
)

// Packet is a raw DNS message. Header accessors assume Valid reports true.
type Packet []byte

// Valid reports whether the packet is long enough to hold a header.
func (p Packet) Valid() bool { return len(p) >= HeaderSize }

// ID returns the transaction id.
func (p Packet) ID() uint16 { return binary.BigEndian.Uint16(p[0:2]) }

// SetID replaces the transaction id.
func (p Packet) SetID(id uint16) { binary.BigEndian.PutUint16(p[0:2], id) }

func (p Packet) flags() uint16 { return binary.BigEndian.Uint16(p[2:4]) }

func (p Packet) setFlag(bit uint16, on bool) {
	f := p.flags()
	if on {
		f |= bit
	} else {
		f &^= bit
	}
	binary.BigEndian.PutUint16(p[2:4], f)
}

// QR reports whether the message is a response.
func (p Packet) QR() bool { return p.flags()&flagQR != 0 }

// SetQR sets the response bit.
func (p Packet) SetQR(on bool) { p.setFlag(flagQR, on) }

// Opcode returns the operation code.
func (p Packet) Opcode() int { return int(p.flags()>>11) & 0x0f }

// AA reports the authoritative answer bit.
func (p Packet) AA() bool { return p.flags()&flagAA != 0 }

// SetAA sets the authoritative answer bit.
func (p Packet) SetAA(on bool) { p.setFlag(flagAA, on) }

// TC reports the truncation bit.
func (p Packet) TC() bool { return p.flags()&flagTC != 0 }

// SetTC sets the truncation bit.
func (p Packet) SetTC(on bool) { p.setFlag(flagTC, on) }

// RD reports the recursion desired bit.
func (p Packet) RD() bool { return p.flags()&flagRD != 0 }

// SetRD sets the recursion desired bit.
func (p Packet) SetRD(on bool) { p.setFlag(flagRD, on) }

// RA reports the recursion available bit.
func (p Packet) RA() bool { return p.flags()&flagRA != 0 }

// SetRA sets the recursion available bit.
func (p Packet) SetRA(on bool) { p.setFlag(flagRA, on) }

// AD reports the authentic data bit.
func (p Packet) AD() bool { return p.flags()&flagAD != 0 }

// CD reports the checking disabled bit.
func (p Packet) CD() bool { return p.flags()&flagCD != 0 }

// Rcode returns the response code.
func (p Packet) Rcode() int { return int(p.flags() & rcodeMask) }

// SetRcode replaces the response code.
func (p Packet) SetRcode(rcode int) {
	f := p.flags()&^rcodeMask | uint16(rcode)&rcodeMask
	binary.BigEndian.PutUint16(p[2:4], f)
}

// Count returns the record count of a section.
func (p Packet) Count(s Section) uint16 {
	return binary.BigEndian.Uint16(p[4+2*int(s):])
}

// SetCount replaces the record count of a section.
func (p Packet) SetCount(s Section, n uint16) {
	binary.BigEndian.PutUint16(p[4+2*int(s):], n)
}

// SetReply turns a query into a header-only style reply carrying rcode.
// The question and any records are left as they are; id and RD are kept.
func SetReply(p Packet, rcode int, authoritative bool) {
	p.SetQR(true)
	if authoritative {
		p.SetAA(true)
	}
	p.SetTC(false)
	p.setFlag(flagZ, false)
	p.SetRA(true)
	p.SetRcode(rcode)
}

// Clone returns an owned copy of the packet.
func (p Packet) Clone() Packet {
	c := make(Packet, len(p))
	copy(c, p)
	return c
}
