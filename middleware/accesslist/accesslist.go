package accesslist

import (
	"net"
	"net/netip"

	"github.com/semihalev/zlog/v2"
	"github.com/yl2chen/cidranger"

	"github.com/nonamed-dns/nonamed/config"
	"github.com/nonamed-dns/nonamed/middleware"
)

// AccessList type
type AccessList struct {
	ranger    cidranger.Ranger
	localOnly bool
}

var loopback = []string{"127.0.0.0/8", "::1/128"}

// New return accesslist. In local-only mode every client outside the
// loopback ranges is refused regardless of the configured list.
func New(cfg *config.Config) *AccessList {
	a := new(AccessList)
	a.ranger = cidranger.NewPCTrieRanger()
	a.localOnly = cfg.LocalOnly

	list := cfg.AccessList
	if cfg.LocalOnly {
		list = loopback
	}

	for _, cidr := range list {
		_, ipnet, err := net.ParseCIDR(cidr)
		if err != nil {
			zlog.Error("Access list parse cidr failed", "error", err.Error())
			continue
		}

		_ = a.ranger.Insert(cidranger.NewBasicRangerEntry(*ipnet))
	}

	return a
}

// Name return middleware name
func (a *AccessList) Name() string { return name }

// Allowed reports whether addr may send queries.
func (a *AccessList) Allowed(addr netip.Addr) bool {
	allowed, _ := a.ranger.Contains(net.IP(addr.Unmap().AsSlice()))
	return allowed
}

// ServeDNS implements the Handle interface.
func (a *AccessList) ServeDNS(ch *middleware.Chain) {
	client := ch.Request.Source.Addr()

	if !a.Allowed(client) {
		if a.localOnly {
			zlog.Warn("Dropped query from non-local client", "client", client.String())
		} else {
			zlog.Debug("Dropped query by access list", "client", client.String())
		}
		// no reply to client
		ch.Drop()
		return
	}

	ch.Next()
}

const name = "accesslist"
