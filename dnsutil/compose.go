package dnsutil

import (
	"github.com/miekg/dns"
)

// NewAnswer packs an authoritative answer for q. The caller copies the
// query id and RD bit into the result.
func NewAnswer(q Question, answer, extra []dns.RR) (Packet, error) {
	m := new(dns.Msg)
	m.Response = true
	m.Authoritative = true
	m.RecursionAvailable = true
	m.Compress = true
	m.Question = []dns.Question{{Name: dns.Fqdn(q.Name), Qtype: q.Type, Qclass: q.Class}}
	m.Answer = answer
	m.Extra = extra

	buf, err := m.PackBuffer(make([]byte, PacketSize))
	if err != nil {
		return nil, err
	}
	if len(buf) > PacketSize {
		return nil, ErrTooLarge
	}
	return Packet(buf), nil
}

// NewQuery packs a single question query with the given id.
func NewQuery(id uint16, name string, qtype uint16, rd bool) (Packet, error) {
	m := new(dns.Msg)
	m.Id = id
	m.RecursionDesired = rd
	m.Question = []dns.Question{{Name: dns.Fqdn(name), Qtype: qtype, Qclass: dns.ClassINET}}

	buf, err := m.Pack()
	if err != nil {
		return nil, err
	}
	return Packet(buf), nil
}

// CopyQueryHeader copies the id and RD bit of query into reply.
func CopyQueryHeader(reply, query Packet) {
	reply.SetID(query.ID())
	reply.SetRD(query.RD())
}
