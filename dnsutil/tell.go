package dnsutil

import (
	"fmt"
	"strings"

	"github.com/miekg/dns"
)

var sectionLabels = [4]string{"QD:", "AN:", "NS:", "AR:"}

// Tell renders a packet for debug output: a header line with the rcode
// and flags, then one line per question and record. Lines are prefixed
// with indent spaces. Decoding stops at the first malformed entry.
func Tell(p Packet, indent int) string {
	if !p.Valid() {
		return ""
	}

	pad := strings.Repeat(" ", indent)

	var sb strings.Builder
	sb.WriteString(pad)
	if p.QR() {
		sb.WriteString("DNS reply: ")
	} else {
		sb.WriteString("DNS query: ")
	}
	if s, ok := dns.RcodeToString[p.Rcode()]; ok {
		sb.WriteString(s)
	} else {
		fmt.Fprintf(&sb, "ERR_%d", p.Rcode())
	}
	for _, f := range []struct {
		on   bool
		name string
	}{{p.AA(), "AA"}, {p.TC(), "TC"}, {p.RD(), "RD"}, {p.RA(), "RA"}, {p.AD(), "AD"}, {p.CD(), "CD"}} {
		if f.on {
			sb.WriteString(" ")
			sb.WriteString(f.name)
		}
	}
	sb.WriteString("\n")

	off := HeaderSize
	for s := SectionQuestion; s <= SectionAdditional; s++ {
		for i := 0; i < int(p.Count(s)); i++ {
			sb.WriteString(pad)
			sb.WriteString(" ")
			sb.WriteString(sectionLabels[s])
			sb.WriteString(" ")

			var (
				n   int
				err error
			)
			if s == SectionQuestion {
				var q Question
				q, n, err = DecodeQuestion(p, off)
				if err == nil {
					fmt.Fprintf(&sb, "%s %s %s", q.Name, className(q.Class), typeName(q.Type))
				}
			} else {
				var rr RR
				rr, n, err = DecodeRR(p, off)
				if err == nil {
					fmt.Fprintf(&sb, "%s %d %s %s %s", rr.Name, rr.TTL, className(rr.Class), typeName(rr.Type), rdataString(p, rr))
				}
			}
			if err != nil {
				fmt.Fprintf(&sb, "<%v>\n", err)
				return sb.String()
			}
			sb.WriteString("\n")
			off += n
		}
	}

	return sb.String()
}

func typeName(t uint16) string {
	if s, ok := dns.TypeToString[t]; ok {
		return s
	}
	return fmt.Sprintf("TYPE%d", t)
}

func className(c uint16) string {
	if s, ok := dns.ClassToString[c]; ok {
		return s
	}
	return fmt.Sprintf("CLASS%d", c)
}

func rdataString(msg []byte, rr RR) string {
	hdr := dns.RR_Header{Name: ".", Rrtype: rr.Type, Class: rr.Class, Ttl: rr.TTL, Rdlength: uint16(len(rr.Data))}
	r, _, err := dns.UnpackRRWithHeader(hdr, msg, rr.DataOffset)
	if err != nil || r == nil {
		return fmt.Sprintf("\\# %d %x", len(rr.Data), rr.Data)
	}
	return strings.TrimPrefix(r.String(), r.Header().String())
}
