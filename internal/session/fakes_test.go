package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/2beens/stridewatch/internal/providers"
	"github.com/2beens/stridewatch/internal/workout"
)

type fakeRecording struct {
	mu        sync.Mutex
	available bool
	createErr error
	// deliverEnd makes End report the ended state right away, like a healthy recording service
	deliverEnd bool
	// asyncEnd delivers the ended state on its own goroutine
	asyncEnd bool
	builder  func() *fakeBuilder
	sessions []*fakeRecSession
}

func newFakeRecording() *fakeRecording {
	return &fakeRecording{
		available:  true,
		deliverEnd: true,
	}
}

func (f *fakeRecording) Available() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.available
}

func (f *fakeRecording) CreateSession(_ context.Context, kind workout.ActivityKind) (providers.RecordingSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}

	b := &fakeBuilder{}
	if f.builder != nil {
		b = f.builder()
	}
	s := &fakeRecSession{
		id:         fmt.Sprintf("workout-%d", len(f.sessions)+1),
		kind:       kind,
		deliverEnd: f.deliverEnd,
		asyncEnd:   f.asyncEnd,
		builder:    b,
		route:      &fakeRoute{},
	}
	b.id = s.id
	f.sessions = append(f.sessions, s)
	return s, nil
}

func (f *fakeRecording) last() *fakeRecSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sessions) == 0 {
		return nil
	}
	return f.sessions[len(f.sessions)-1]
}

func (f *fakeRecording) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sessions)
}

type fakeRecSession struct {
	id         string
	kind       workout.ActivityKind
	deliverEnd bool
	asyncEnd   bool
	builder    *fakeBuilder
	route      *fakeRoute

	mu           sync.Mutex
	state        workout.SessionState
	calls        []string
	stateHandler providers.StateHandler
	statsHandler providers.StatisticsHandler
}

func (s *fakeRecSession) transition(to workout.SessionState, call string) (providers.StateHandler, workout.SessionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	from := s.state
	s.state = to
	s.calls = append(s.calls, call)
	return s.stateHandler, from
}

func (s *fakeRecSession) Start(time.Time) {
	s.transition(workout.StateRunning, "start")
}

func (s *fakeRecSession) Pause() {
	s.transition(workout.StatePaused, "pause")
}

func (s *fakeRecSession) Resume() {
	s.transition(workout.StateRunning, "resume")
}

func (s *fakeRecSession) End() {
	h, from := s.transition(workout.StateEnded, "end")
	if !s.deliverEnd || h == nil {
		return
	}
	if s.asyncEnd {
		go h(from, workout.StateEnded, time.Now())
		return
	}
	h(from, workout.StateEnded, time.Now())
}

// reportEnded delivers the ended state late, like a slow recording service.
func (s *fakeRecSession) reportEnded() {
	s.mu.Lock()
	h := s.stateHandler
	s.mu.Unlock()
	h(workout.StateRunning, workout.StateEnded, time.Now())
}

func (s *fakeRecSession) SetStateHandler(h providers.StateHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stateHandler = h
}

func (s *fakeRecSession) SetStatisticsHandler(h providers.StatisticsHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statsHandler = h
}

func (s *fakeRecSession) pushStatistics(stats providers.Statistics) {
	s.mu.Lock()
	h := s.statsHandler
	s.mu.Unlock()
	h(stats)
}

func (s *fakeRecSession) Builder() providers.WorkoutBuilder {
	return s.builder
}

func (s *fakeRecSession) Route() providers.RouteBuilder {
	return s.route
}

func (s *fakeRecSession) callLog() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

type fakeBuilder struct {
	id string

	// endCollectionGate, when set, blocks EndCollection until closed or the context ends
	endCollectionGate chan struct{}
	endCollectionErr  error
	addMetadataErr    error
	finishErr         error

	mu              sync.Mutex
	began           int
	endedCollection int
	metadata        map[string]string
	finished        int
}

func (b *fakeBuilder) BeginCollection(context.Context, time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.began++
	return nil
}

func (b *fakeBuilder) EndCollection(ctx context.Context, _ time.Time) error {
	if b.endCollectionGate != nil {
		select {
		case <-b.endCollectionGate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.endedCollection++
	return b.endCollectionErr
}

func (b *fakeBuilder) AddMetadata(_ context.Context, metadata map[string]string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.addMetadataErr != nil {
		return b.addMetadataErr
	}
	b.metadata = metadata
	return nil
}

func (b *fakeBuilder) Finish(context.Context) (*workout.CommittedWorkout, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.finished++
	if b.finishErr != nil {
		return nil, b.finishErr
	}
	return &workout.CommittedWorkout{
		ID:       b.id,
		Metadata: b.metadata,
	}, nil
}

func (b *fakeBuilder) finishCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.finished
}

func (b *fakeBuilder) metadataSnapshot() map[string]string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.metadata
}

type fakeRoute struct {
	insertErr error
	finishErr error

	mu       sync.Mutex
	inserted [][]workout.LocationSample
	finished []*workout.CommittedWorkout
}

func (r *fakeRoute) InsertSamples(_ context.Context, samples []workout.LocationSample) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.insertErr != nil {
		return r.insertErr
	}
	r.inserted = append(r.inserted, samples)
	return nil
}

func (r *fakeRoute) Finish(_ context.Context, committed *workout.CommittedWorkout) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finishErr != nil {
		return r.finishErr
	}
	r.finished = append(r.finished, committed)
	return nil
}

func (r *fakeRoute) insertedBatches() [][]workout.LocationSample {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]workout.LocationSample(nil), r.inserted...)
}

func (r *fakeRoute) finishedWorkouts() []*workout.CommittedWorkout {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*workout.CommittedWorkout(nil), r.finished...)
}

type fakeObserver struct {
	mu             sync.Mutex
	miles          []int
	drivingPrompts []workout.Status
	summaries      []workout.Summary
}

func (o *fakeObserver) MileCrossed(mile int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.miles = append(o.miles, mile)
}

func (o *fakeObserver) DrivingPromptRaised(status workout.Status) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.drivingPrompts = append(o.drivingPrompts, status)
}

func (o *fakeObserver) EndAndShowSummary(summary workout.Summary) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.summaries = append(o.summaries, summary)
}

func (o *fakeObserver) summaryCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.summaries)
}

func (o *fakeObserver) mileEvents() []int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]int(nil), o.miles...)
}

type fakeGate struct {
	mu           sync.Mutex
	markDeclined int
	rearmed      int
}

func (g *fakeGate) MarkDeclined() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.markDeclined++
}

func (g *fakeGate) Rearm() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rearmed++
}

func (g *fakeGate) rearmCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rearmed
}

func (g *fakeGate) declinedCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.markDeclined
}
