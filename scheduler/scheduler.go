// Package scheduler runs the cooperative jobs of the daemon on a single
// goroutine. Jobs are kept in wake time order; a pass first runs every
// job whose time has come and then tries the rest speculatively until
// one of them makes progress.
package scheduler

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/semihalev/zlog/v2"
)

// ErrWouldBlock is returned by non-blocking I/O that is not ready.
var ErrWouldBlock = errors.New("operation would block")

var (
	// Immediate wakes a job on the next pass.
	Immediate = time.Time{}
	// Never leaves a job to I/O readiness or ForceExpire.
	Never = time.Date(9999, time.December, 31, 0, 0, 0, 0, time.UTC)
)

// Kind identifies the type of a job for ForceExpire.
type Kind uint8

// Job is one resumable unit of work.
type Job interface {
	Kind() Kind
	// Step runs the job. expired is set when the wake time has passed,
	// in which case the job must not return Pending.
	Step(now time.Time, expired bool) Result
}

// Waiter is implemented by jobs blocked on a file descriptor.
type Waiter interface {
	WaitFd() (fd int, events int16)
}

type outcome uint8

const (
	pending outcome = iota
	suspended
	completed
	failed
)

// Result is the outcome of a Step.
type Result struct {
	outcome outcome
	wake    time.Time
	err     error
}

// Pending reports that the job could not progress and changed nothing.
func Pending() Result { return Result{outcome: pending} }

// Suspend reports progress and asks to run again at wake.
func Suspend(wake time.Time) Result { return Result{outcome: suspended, wake: wake} }

// Complete reports that the job is finished.
func Complete() Result { return Result{outcome: completed} }

// Fail reports that the job is finished with an error.
func Fail(err error) Result { return Result{outcome: failed, err: err} }

type entry struct {
	job  Job
	wake time.Time
	seq  uint64
}

// Scheduler is the job queue. It is not safe for concurrent use.
type Scheduler struct {
	queue  []*entry
	seq    uint64
	clock  clockwork.Clock
	poller Poller
}

// New returns an empty scheduler.
func New(clock clockwork.Clock, poller Poller) *Scheduler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Scheduler{clock: clock, poller: poller}
}

// Clock returns the scheduler clock.
func (s *Scheduler) Clock() clockwork.Clock { return s.clock }

// Len returns the number of queued jobs.
func (s *Scheduler) Len() int { return len(s.queue) }

// Next returns the earliest wake time, or Never for an empty queue.
func (s *Scheduler) Next() time.Time {
	if len(s.queue) == 0 {
		return Never
	}
	return s.queue[0].wake
}

// Count returns the number of queued jobs of a kind.
func (s *Scheduler) Count(kind Kind) int {
	n := 0
	for _, e := range s.queue {
		if e.job.Kind() == kind {
			n++
		}
	}
	return n
}

// Schedule queues a job after every job with the same or earlier wake time.
func (s *Scheduler) Schedule(job Job, wake time.Time) {
	s.seq++
	s.insert(&entry{job: job, wake: wake, seq: s.seq})
}

func (s *Scheduler) insert(e *entry) {
	i := sort.Search(len(s.queue), func(i int) bool {
		q := s.queue[i]
		if q.wake.Equal(e.wake) {
			return q.seq > e.seq
		}
		return q.wake.After(e.wake)
	})
	s.queue = append(s.queue, nil)
	copy(s.queue[i+1:], s.queue[i:])
	s.queue[i] = e
}

func (s *Scheduler) remove(e *entry) {
	for i, q := range s.queue {
		if q == e {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			return
		}
	}
}

// ForceExpire moves every job of kind that is not already immediate to
// the immediate group, keeping their relative order.
func (s *Scheduler) ForceExpire(kind Kind) {
	var moved []*entry
	kept := s.queue[:0]
	for _, e := range s.queue {
		if e.job.Kind() == kind && !e.wake.Equal(Immediate) {
			moved = append(moved, e)
			continue
		}
		kept = append(kept, e)
	}
	s.queue = kept
	for _, e := range moved {
		s.Schedule(e.job, Immediate)
	}
}

// RunOnce runs every expired job, then tries the remaining jobs in order
// and stops at the first one that does more than return Pending.
func (s *Scheduler) RunOnce(now time.Time) {
	for len(s.queue) > 0 && !s.queue[0].wake.After(now) {
		s.step(s.queue[0], now, true)
	}

	for i := 0; i < len(s.queue); i++ {
		if s.step(s.queue[i], now, false) {
			break
		}
	}
}

// step runs one job and reports whether it made progress.
func (s *Scheduler) step(e *entry, now time.Time, expired bool) bool {
	s.remove(e)
	res := e.job.Step(now, expired)

	switch res.outcome {
	case pending:
		if expired {
			zlog.Error("Expired job did not progress", "kind", int(e.job.Kind()))
			return true
		}
		s.insert(e)
		return false
	case suspended:
		s.Schedule(e.job, res.wake)
	case failed:
		if res.err != nil {
			zlog.Debug("Job failed", "kind", int(e.job.Kind()), "error", res.err.Error())
		}
	}
	return true
}

// Wait blocks until a waited-on descriptor is ready, the poller is woken
// or the earliest wake time arrives.
func (s *Scheduler) Wait(now time.Time) error {
	next := s.Next()

	timeout := time.Duration(-1)
	if !next.Equal(Never) {
		timeout = max(next.Sub(now), 0)
	}

	var fds []PollFd
	for _, e := range s.queue {
		if w, ok := e.job.(Waiter); ok {
			fd, events := w.WaitFd()
			if fd >= 0 {
				fds = append(fds, PollFd{Fd: fd, Events: events})
			}
		}
	}

	return s.poller.Poll(fds, timeout)
}

// Run alternates passes and waits until ctx is done. after is called
// after every wait to let the owner react to out-of-band events; when it
// returns false the loop ends.
func (s *Scheduler) Run(ctx context.Context, after func() bool) error {
	stop := context.AfterFunc(ctx, s.poller.Wakeup)
	defer stop()

	for {
		s.RunOnce(s.clock.Now())

		if ctx.Err() != nil {
			return nil
		}
		if !s.Next().Equal(Immediate) {
			if err := s.Wait(s.clock.Now()); err != nil {
				return err
			}
		}
		if ctx.Err() != nil {
			return nil
		}
		if after != nil && !after() {
			return nil
		}
	}
}
