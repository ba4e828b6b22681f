//go:build unix

package server

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/semihalev/zlog/v2"
)

// notify forwards process signals to the event loop and wakes it.
func (s *Server) notify() func() {
	in := make(chan os.Signal, 8)
	signal.Notify(in, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP, syscall.SIGUSR1, syscall.SIGUSR2)
	signal.Ignore(syscall.SIGPIPE)

	done := make(chan struct{})
	go func() {
		for {
			select {
			case sig := <-in:
				select {
				case s.sigs <- sig:
				default:
				}
				s.opts.Poller.Wakeup()
			case <-done:
				return
			}
		}
	}()

	return func() {
		signal.Stop(in)
		close(done)
	}
}

func (s *Server) handleSignal(sig os.Signal) {
	switch sig {
	case syscall.SIGINT, syscall.SIGTERM:
		zlog.Info("Stopping server", "signal", sig.String())
		s.done = true
	case syscall.SIGHUP:
		s.reconfigure(s.local, true)
		s.servers.StartSearching()
		s.sched.ForceExpire(kindFindUpstream)
	case syscall.SIGUSR1:
		s.SetVerbosity(s.verbosity + 1)
	case syscall.SIGUSR2:
		s.SetVerbosity(0)
	}
}
