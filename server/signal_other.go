//go:build !unix

package server

import (
	"os"
	"os/signal"
)

func (s *Server) notify() func() {
	in := make(chan os.Signal, 1)
	signal.Notify(in, os.Interrupt)

	done := make(chan struct{})
	go func() {
		select {
		case sig := <-in:
			s.sigs <- sig
			s.opts.Poller.Wakeup()
		case <-done:
		}
	}()

	return func() {
		signal.Stop(in)
		close(done)
	}
}

func (s *Server) handleSignal(sig os.Signal) {
	if sig == os.Interrupt {
		s.done = true
	}
}
