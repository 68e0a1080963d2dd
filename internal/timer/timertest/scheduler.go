// Package timertest provides a virtual-time Scheduler. Callbacks run synchronously on
// the goroutine calling Advance.
package timertest

import (
	"sync"
	"time"

	"github.com/2beens/stridewatch/internal/timer"
)

var _ timer.Scheduler = (*Scheduler)(nil)

type Scheduler struct {
	mu     sync.Mutex
	now    time.Time
	seq    int
	timers []*fakeTimer
}

type fakeTimer struct {
	s       *Scheduler
	id      int
	due     time.Time
	period  time.Duration
	f       func()
	stopped bool
}

func (t *fakeTimer) Stop() {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	t.stopped = true
}

func NewScheduler(start time.Time) *Scheduler {
	return &Scheduler{now: start}
}

func (s *Scheduler) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

func (s *Scheduler) AfterFunc(d time.Duration, f func()) timer.Timer {
	return s.add(d, 0, f)
}

func (s *Scheduler) Every(d time.Duration, f func()) timer.Timer {
	return s.add(d, d, f)
}

func (s *Scheduler) add(d, period time.Duration, f func()) *fakeTimer {
	s.mu.Lock()
	defer s.mu.Unlock()

	active := s.timers[:0]
	for _, t := range s.timers {
		if !t.stopped {
			active = append(active, t)
		}
	}
	s.timers = active

	s.seq++
	t := &fakeTimer{
		s:      s,
		id:     s.seq,
		due:    s.now.Add(d),
		period: period,
		f:      f,
	}
	s.timers = append(s.timers, t)
	return t
}

// Advance moves the virtual clock forward by d, firing every timer that falls due, in
// deadline order.
func (s *Scheduler) Advance(d time.Duration) {
	s.mu.Lock()
	target := s.now.Add(d)
	s.mu.Unlock()

	for {
		s.mu.Lock()
		var next *fakeTimer
		for _, t := range s.timers {
			if t.stopped || t.due.After(target) {
				continue
			}
			if next == nil || t.due.Before(next.due) || (t.due.Equal(next.due) && t.id < next.id) {
				next = t
			}
		}
		if next == nil {
			s.now = target
			s.mu.Unlock()
			return
		}

		s.now = next.due
		if next.period > 0 {
			next.due = next.due.Add(next.period)
		} else {
			next.stopped = true
		}
		f := next.f
		s.mu.Unlock()

		f()
	}
}

// Pending returns the number of armed (not stopped, not fired) timers.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, t := range s.timers {
		if !t.stopped {
			n++
		}
	}
	return n
}
