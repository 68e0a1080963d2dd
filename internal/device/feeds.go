// Package device holds the in-process provider feeds. Samples posted by the device over the
// ingestion API are fanned out to whichever component subscribed.
package device

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/2beens/stridewatch/internal/providers"
	"github.com/2beens/stridewatch/internal/workout"
)

var ErrUnavailable = errors.New("sensor not available on this device")

var (
	_ providers.LocationSource = (*PositionFeed)(nil)
	_ providers.MotionSensor   = (*MotionFeed)(nil)
	_ providers.Pedometer      = (*StepFeed)(nil)
)

type positionSubscriber struct {
	id      int
	handler func([]workout.LocationSample)
}

// PositionFeed keeps subscribers in subscription order.
type PositionFeed struct {
	mu          sync.Mutex
	nextID      int
	subscribers []positionSubscriber
}

func NewPositionFeed() *PositionFeed {
	return &PositionFeed{}
}

func (f *PositionFeed) Subscribe(handler func([]workout.LocationSample)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.nextID++
	id := f.nextID
	f.subscribers = append(f.subscribers, positionSubscriber{id: id, handler: handler})

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.subscribers = slices.DeleteFunc(f.subscribers, func(s positionSubscriber) bool {
				return s.id == id
			})
		})
	}
}

// Publish delivers the batch to every subscriber in subscription order. Returns the number of
// subscribers reached.
func (f *PositionFeed) Publish(samples []workout.LocationSample) int {
	handlers := f.snapshot()
	for _, h := range handlers {
		h(samples)
	}
	return len(handlers)
}

func (f *PositionFeed) Subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subscribers)
}

func (f *PositionFeed) snapshot() []func([]workout.LocationSample) {
	f.mu.Lock()
	defer f.mu.Unlock()

	handlers := make([]func([]workout.LocationSample), len(f.subscribers))
	for i, s := range f.subscribers {
		handlers[i] = s.handler
	}
	return handlers
}

type MotionFeed struct {
	available bool

	mu      sync.Mutex
	handler func(workout.ActivitySignal)
	last    *workout.ActivitySignal
}

func NewMotionFeed(available bool) *MotionFeed {
	return &MotionFeed{available: available}
}

func (f *MotionFeed) Available() bool {
	return f.available
}

func (f *MotionFeed) StartActivityUpdates(handler func(workout.ActivitySignal)) error {
	if !f.available {
		return ErrUnavailable
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = handler
	return nil
}

func (f *MotionFeed) StopActivityUpdates() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = nil
}

// Publish forwards the signal to the active listener, if any. Reports whether it was delivered.
func (f *MotionFeed) Publish(signal workout.ActivitySignal) bool {
	f.mu.Lock()
	f.last = &signal
	h := f.handler
	f.mu.Unlock()

	if h == nil {
		return false
	}
	h(signal)
	return true
}

func (f *MotionFeed) Last() (workout.ActivitySignal, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.last == nil {
		return workout.ActivitySignal{}, false
	}
	return *f.last, true
}

type stepSubscriber struct {
	id      int
	handler func(int)
}

// StepFeed tracks the cumulative step count reported by the device pedometer.
type StepFeed struct {
	available bool

	mu          sync.Mutex
	total       int
	nextID      int
	subscribers []stepSubscriber
}

func NewStepFeed(available bool) *StepFeed {
	return &StepFeed{available: available}
}

func (f *StepFeed) Available() bool {
	return f.available
}

func (f *StepFeed) CurrentCount(_ context.Context) (int, error) {
	if !f.available {
		return 0, ErrUnavailable
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.total, nil
}

func (f *StepFeed) Subscribe(handler func(total int)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.nextID++
	id := f.nextID
	f.subscribers = append(f.subscribers, stepSubscriber{id: id, handler: handler})

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.subscribers = slices.DeleteFunc(f.subscribers, func(s stepSubscriber) bool {
				return s.id == id
			})
		})
	}
}

// Publish records a new cumulative total. Totals lower than the last one are ignored, the
// pedometer never counts backwards within a day.
func (f *StepFeed) Publish(total int) bool {
	f.mu.Lock()
	if !f.available || total < f.total {
		f.mu.Unlock()
		return false
	}
	f.total = total
	handlers := make([]func(int), len(f.subscribers))
	for i, s := range f.subscribers {
		handlers[i] = s.handler
	}
	f.mu.Unlock()

	for _, h := range handlers {
		h(total)
	}
	return true
}
