// Package timer provides cancellable timer handles owned by the component that armed them.
package timer

import (
	"sync"
	"time"
)

// Timer is a handle to a scheduled callback. Stop is idempotent.
type Timer interface {
	Stop()
}

type Scheduler interface {
	Now() time.Time
	// AfterFunc calls f once, after d, on its own goroutine.
	AfterFunc(d time.Duration, f func()) Timer
	// Every calls f every d until the returned timer is stopped.
	Every(d time.Duration, f func()) Timer
}

var _ Scheduler = (*RealScheduler)(nil)

type RealScheduler struct{}

func NewRealScheduler() *RealScheduler {
	return &RealScheduler{}
}

func (s *RealScheduler) Now() time.Time {
	return time.Now()
}

func (s *RealScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return &oneShot{t: time.AfterFunc(d, f)}
}

func (s *RealScheduler) Every(d time.Duration, f func()) Timer {
	t := &ticker{
		stopCh: make(chan struct{}),
	}
	go t.loop(d, f)
	return t
}

type oneShot struct {
	t *time.Timer
}

func (o *oneShot) Stop() {
	o.t.Stop()
}

type ticker struct {
	once   sync.Once
	stopCh chan struct{}
}

func (t *ticker) loop(d time.Duration, f func()) {
	tick := time.NewTicker(d)
	defer tick.Stop()

	for {
		select {
		case <-t.stopCh:
			return
		case <-tick.C:
			// stop may race with a pending tick
			select {
			case <-t.stopCh:
				return
			default:
			}
			f()
		}
	}
}

func (t *ticker) Stop() {
	t.once.Do(func() {
		close(t.stopCh)
	})
}

// StopAll stops every non-nil timer.
func StopAll(timers ...Timer) {
	for _, t := range timers {
		if t != nil {
			t.Stop()
		}
	}
}
