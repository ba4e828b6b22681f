package loop

import (
	"strings"

	"github.com/miekg/dns"
	"github.com/semihalev/zlog/v2"

	"github.com/nonamed-dns/nonamed/dnsutil"
	"github.com/nonamed-dns/nonamed/middleware"
	"github.com/nonamed-dns/nonamed/upstream"
)

// Loop answers NXDOMAIN when there is nobody to relay to, or when the
// name looks like a resolver search list appended to an already fully
// qualified name.
type Loop struct {
	servers *upstream.Set
}

// New returns a new Loop
func New(servers *upstream.Set) *Loop {
	return &Loop{servers: servers}
}

// Name return middleware name
func (l *Loop) Name() string { return name }

// ServeDNS implements the Handle interface.
func (l *Loop) ServeDNS(ch *middleware.Chain) {
	q := ch.Request.Question

	if l.servers.Len() == 0 || Repeated(q.Name) {
		zlog.Debug("No such domain", "query", formatQuestion(q))

		ch.CancelWithRcode(dns.RcodeNameError, true)
		return
	}

	ch.Next()
}

// Repeated reports whether the two top level labels of qname occur again
// earlier in the name, or in-addr.arpa appears inside it. Such names come
// from searching for a name that was already fully qualified, like
// flotsam.cs.vu.nl.cs.vu.nl.
func Repeated(qname string) bool {
	name := strings.TrimSuffix(qname, ".")

	top := 0
	if i := strings.LastIndexByte(name, '.'); i > 0 {
		top = max(strings.LastIndexByte(name[:i], '.'), 0)
	}
	suffix := name[top:]
	n := len(suffix)

	for p := top - 1; p >= 0; p-- {
		if name[p] != '.' {
			continue
		}
		if p+n < len(name) && name[p+n] == '.' && dnsutil.EqualFold(name[p:p+n], suffix) {
			return true
		}
		if dnsutil.HasPrefixFold(name[p:], ".in-addr.arpa.") {
			return true
		}
	}

	return false
}

func formatQuestion(q dnsutil.Question) string {
	return strings.ToLower(q.Name) + " " + dns.ClassToString[q.Class] + " " + dns.TypeToString[q.Type]
}

const name = "loop"
