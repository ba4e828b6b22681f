package recovery

import (
	"fmt"
	"os"
	"runtime/debug"

	"github.com/miekg/dns"
	"github.com/semihalev/zlog/v2"

	"github.com/nonamed-dns/nonamed/middleware"
)

// Recovery dummy type.
type Recovery struct{}

// New return recovery.
func New() *Recovery {
	return &Recovery{}
}

// (*Recovery).Name name return middleware name.
func (r *Recovery) Name() string { return name }

// (*Recovery).ServeDNS serveDNS implements the Handle interface.
func (r *Recovery) ServeDNS(ch *middleware.Chain) {
	defer func() {
		if r := recover(); r != nil {
			if !ch.Writer.Written() && !ch.Writer.Dropped() {
				ch.CancelWithRcode(dns.RcodeServerFailure, false)
			}
			ch.Cancel()

			zlog.Error("Recovered in ServeDNS", "recover", fmt.Sprint(r))

			_, _ = os.Stderr.WriteString(fmt.Sprintf("panic: %v\n\n", r))
			debug.PrintStack()
		}
	}()

	ch.Next()
}

const name = "recovery"
