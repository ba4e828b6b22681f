package accesslog

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/miekg/dns"
	"github.com/semihalev/zlog/v2"

	"github.com/nonamed-dns/nonamed/config"
	"github.com/nonamed-dns/nonamed/dnsutil"
	"github.com/nonamed-dns/nonamed/middleware"
)

// AccessLog type
type AccessLog struct {
	logFile *os.File
	now     func() time.Time
}

// New returns a new AccessLog. Nothing is logged when no file is configured.
func New(cfg *config.Config) *AccessLog {
	a := &AccessLog{now: time.Now}

	if cfg.AccessLog != "" && !cfg.Single {
		logFile, err := os.OpenFile(cfg.AccessLog, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o600)
		if err != nil {
			zlog.Error("Access log file open failed", "error", strings.Trim(err.Error(), "\n"))
		}
		a.logFile = logFile
	}

	return a
}

// Name return middleware name
func (a *AccessLog) Name() string { return name }

// ServeDNS implements the Handle interface.
func (a *AccessLog) ServeDNS(ch *middleware.Chain) {
	ch.Next()

	if a.logFile == nil {
		return
	}

	w := ch.Writer

	outcome, rcode, size := middleware.Relay, "-", "-"
	switch {
	case w.Dropped():
		outcome = middleware.Drop
	case w.Written():
		outcome = middleware.Answer
		rcode = dns.RcodeToString[w.Rcode()]
		size = strconv.Itoa(len(w.Reply()))
	}

	record := []string{
		w.RemoteAddr().Addr().String() + " -",
		"[" + a.now().Format("02/Jan/2006:15:04:05 -0700") + "]",
		formatQuestion(ch.Request.Question),
		w.Proto(),
		outcome.String(),
		rcode,
		size,
	}

	_, err := a.logFile.WriteString(strings.Join(record, " ") + "\n")
	if err != nil {
		zlog.Error("Access log write failed", "error", strings.Trim(err.Error(), "\n"))
	}
}

// Close closes the log file.
func (a *AccessLog) Close() error {
	if a.logFile == nil {
		return nil
	}
	err := a.logFile.Close()
	a.logFile = nil
	return err
}

func formatQuestion(q dnsutil.Question) string {
	return "\"" + strings.ToLower(q.Name) + " " + dns.ClassToString[q.Class] + " " + dns.TypeToString[q.Type] + "\""
}

const name = "accesslog"
