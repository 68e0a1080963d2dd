package api

import (
	"context"
	"sync"

	"github.com/2beens/stridewatch/internal/gate"
	"github.com/2beens/stridewatch/internal/providers"
	"github.com/2beens/stridewatch/internal/session"
	"github.com/2beens/stridewatch/internal/workout"
)

type fakeController struct {
	mu        sync.Mutex
	status    workout.Status
	summary   *workout.Summary
	altitudes []workout.AltitudeDataPoint
	kind      workout.ActivityKind
	calls     []string
	err       error
}

func (c *fakeController) record(call string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, call)
	return c.err
}

func (c *fakeController) Start(context.Context) error {
	if err := c.record("start"); err != nil {
		return err
	}
	c.mu.Lock()
	c.status.State = workout.StateRunning
	c.mu.Unlock()
	return nil
}

func (c *fakeController) Stop(context.Context) error {
	if err := c.record("stop"); err != nil {
		return err
	}
	c.mu.Lock()
	c.status.State = workout.StateEnded
	c.status.SavingInProgress = true
	c.mu.Unlock()
	return nil
}

func (c *fakeController) Pause() error                           { return c.record("pause") }
func (c *fakeController) Resume() error                          { return c.record("resume") }
func (c *fakeController) DrivingEnd(context.Context) error       { return c.record("driving-end") }
func (c *fakeController) DrivingIgnore() error                   { return c.record("driving-ignore") }
func (c *fakeController) Altitudes() []workout.AltitudeDataPoint { return c.altitudes }

func (c *fakeController) SetActivityKind(kind workout.ActivityKind) error {
	c.kind = kind
	return c.record("kind")
}

func (c *fakeController) Status() workout.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *fakeController) LastSummary() (workout.Summary, bool) {
	if c.summary == nil {
		return workout.Summary{}, false
	}
	return *c.summary, true
}

type fakeGate struct {
	mu         sync.Mutex
	snapshot   gate.Snapshot
	confirmErr error
	declined   int
}

func (g *fakeGate) Confirm(context.Context) error {
	return g.confirmErr
}

func (g *fakeGate) Decline(context.Context) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.declined++
}

func (g *fakeGate) SetEnabled(_ context.Context, enabled bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.snapshot.Enabled = enabled
}

func (g *fakeGate) Snapshot() gate.Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.snapshot
}

type fakeHistory struct {
	workouts   []workout.CommittedWorkout
	routes     map[string][]workout.LocationSample
	lastLimit  int
	routeCalls int
	err        error
}

func (h *fakeHistory) List(_ context.Context, limit int) ([]workout.CommittedWorkout, error) {
	h.lastLimit = limit
	return h.workouts, h.err
}

func (h *fakeHistory) Route(_ context.Context, workoutID string) ([]workout.LocationSample, error) {
	h.routeCalls++
	return h.routes[workoutID], h.err
}

type fakeStatistics struct {
	pushed []providers.Statistics
	err    error
}

func (s *fakeStatistics) PushStatistics(stats providers.Statistics) error {
	if s.err != nil {
		return s.err
	}
	s.pushed = append(s.pushed, stats)
	return nil
}

type fakeLog struct {
	entries []string
	cleared bool
	err     error
}

func (l *fakeLog) Entries(context.Context) ([]string, error) {
	return l.entries, l.err
}

func (l *fakeLog) Clear(context.Context) error {
	l.cleared = true
	l.entries = nil
	return l.err
}

var _ WorkoutController = (*session.Controller)(nil)
var _ TriggerGate = (*gate.Gate)(nil)
