// Package recording is the workout recording service. It owns the recording-session
// state machine and persists finished workouts and their routes to Postgres.
package recording

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/2beens/stridewatch/internal/providers"
	"github.com/2beens/stridewatch/internal/workout"
)

var ErrNoActiveSession = errors.New("no active recording session")

type Service struct {
	store *Store

	mu     sync.Mutex
	active *Session
}

func NewService(store *Store) *Service {
	return &Service{store: store}
}

func (s *Service) Available() bool {
	return s.store != nil && s.store.db != nil
}

func (s *Service) CreateSession(_ context.Context, kind workout.ActivityKind) (providers.RecordingSession, error) {
	if !s.Available() {
		return nil, errors.New("recording store not configured")
	}
	if !kind.IsValid() {
		return nil, errors.New("invalid activity kind")
	}

	session := &Session{
		id:      uuid.NewString(),
		kind:    kind,
		state:   workout.StateNotStarted,
		store:   s.store,
		service: s,
	}

	s.mu.Lock()
	s.active = session
	s.mu.Unlock()

	log.Debugf("recording: session %s created (%s)", session.id, kind)
	return session, nil
}

// PushStatistics forwards live statistics, e.g. from a heart-rate strap, to the active session.
func (s *Service) PushStatistics(stats providers.Statistics) error {
	s.mu.Lock()
	active := s.active
	s.mu.Unlock()

	if active == nil {
		return ErrNoActiveSession
	}
	active.deliverStatistics(stats)
	return nil
}

func (s *Service) List(ctx context.Context, limit int) ([]workout.CommittedWorkout, error) {
	return s.store.List(ctx, limit)
}

func (s *Service) Route(ctx context.Context, workoutID string) ([]workout.LocationSample, error) {
	return s.store.Route(ctx, workoutID)
}

func (s *Service) release(session *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == session {
		s.active = nil
	}
}

// event is either a state change or, when stats is set, a statistics update.
type event struct {
	from, to workout.SessionState
	at       time.Time
	stats    *providers.Statistics
}

// Session is a single recording session. State changes and statistics are delivered to their
// handlers on a separate goroutine, one at a time and in the order they happened.
type Session struct {
	id      string
	kind    workout.ActivityKind
	store   *Store
	service *Service

	mu           sync.Mutex
	state        workout.SessionState
	startedAt    time.Time
	endedAt      time.Time
	metadata     map[string]string
	routePoints  int
	nextSeq      int
	queue        []event
	delivering   bool
	stateHandler providers.StateHandler
	statsHandler providers.StatisticsHandler
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) Start(at time.Time) {
	s.mu.Lock()
	if s.state != workout.StateNotStarted {
		s.mu.Unlock()
		return
	}
	s.startedAt = at
	s.transitionLocked(workout.StateRunning, at)
	s.mu.Unlock()
}

func (s *Session) Pause() {
	s.mu.Lock()
	if s.state == workout.StateRunning {
		s.transitionLocked(workout.StatePaused, time.Now())
	}
	s.mu.Unlock()
}

func (s *Session) Resume() {
	s.mu.Lock()
	if s.state == workout.StatePaused {
		s.transitionLocked(workout.StateRunning, time.Now())
	}
	s.mu.Unlock()
}

func (s *Session) End() {
	s.mu.Lock()
	if s.state == workout.StateEnded {
		s.mu.Unlock()
		return
	}
	now := time.Now()
	if s.endedAt.IsZero() {
		s.endedAt = now
	}
	s.transitionLocked(workout.StateEnded, now)
	s.mu.Unlock()

	s.service.release(s)
}

func (s *Session) State() workout.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) SetStateHandler(h providers.StateHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stateHandler = h
}

func (s *Session) SetStatisticsHandler(h providers.StatisticsHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statsHandler = h
}

func (s *Session) Builder() providers.WorkoutBuilder {
	return &builder{session: s}
}

func (s *Session) Route() providers.RouteBuilder {
	return &route{session: s}
}

func (s *Session) transitionLocked(to workout.SessionState, at time.Time) {
	from := s.state
	s.state = to
	log.Debugf("recording: session %s %s -> %s", s.id, from, to)

	s.enqueueLocked(event{from: from, to: to, at: at})
}

func (s *Session) deliverStatistics(stats providers.Statistics) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enqueueLocked(event{stats: &stats})
}

func (s *Session) enqueueLocked(e event) {
	s.queue = append(s.queue, e)
	if s.delivering {
		return
	}
	s.delivering = true
	go s.deliverEvents()
}

func (s *Session) deliverEvents() {
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.delivering = false
			s.mu.Unlock()
			return
		}
		e := s.queue[0]
		s.queue = s.queue[1:]
		stateHandler, statsHandler := s.stateHandler, s.statsHandler
		s.mu.Unlock()

		switch {
		case e.stats != nil:
			if statsHandler != nil {
				statsHandler(*e.stats)
			}
		case stateHandler != nil:
			stateHandler(e.from, e.to, e.at)
		}
	}
}

type builder struct {
	session *Session
}

func (b *builder) BeginCollection(ctx context.Context, start time.Time) error {
	s := b.session
	s.mu.Lock()
	if s.startedAt.IsZero() {
		s.startedAt = start
	}
	s.mu.Unlock()

	return s.store.CreateWorkout(ctx, s.id, s.kind, start)
}

func (b *builder) EndCollection(ctx context.Context, end time.Time) error {
	s := b.session
	s.mu.Lock()
	s.endedAt = end
	s.mu.Unlock()

	return s.store.EndWorkout(ctx, s.id, end)
}

func (b *builder) AddMetadata(_ context.Context, metadata map[string]string) error {
	s := b.session
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.metadata == nil {
		s.metadata = make(map[string]string, len(metadata))
	}
	for k, v := range metadata {
		s.metadata[k] = v
	}
	return nil
}

func (b *builder) Finish(ctx context.Context) (*workout.CommittedWorkout, error) {
	s := b.session
	s.mu.Lock()
	committed := workout.CommittedWorkout{
		ID:           s.id,
		ActivityKind: s.kind,
		StartedAt:    s.startedAt,
		EndedAt:      s.endedAt,
		Metadata:     make(map[string]string, len(s.metadata)),
	}
	for k, v := range s.metadata {
		committed.Metadata[k] = v
	}
	s.mu.Unlock()

	if committed.EndedAt.IsZero() {
		committed.EndedAt = time.Now()
	}

	if err := s.store.CommitWorkout(ctx, committed); err != nil {
		return nil, err
	}
	return &committed, nil
}

type route struct {
	session *Session
}

func (r *route) InsertSamples(ctx context.Context, samples []workout.LocationSample) error {
	if len(samples) == 0 {
		return nil
	}

	s := r.session
	s.mu.Lock()
	first := s.nextSeq
	s.nextSeq += len(samples)
	s.mu.Unlock()

	if err := s.store.InsertRoutePoints(ctx, s.id, first, samples); err != nil {
		return err
	}

	s.mu.Lock()
	s.routePoints += len(samples)
	s.mu.Unlock()
	return nil
}

func (r *route) Finish(ctx context.Context, committed *workout.CommittedWorkout) error {
	s := r.session
	s.mu.Lock()
	points := s.routePoints
	s.mu.Unlock()

	if err := s.store.FinishRoute(ctx, committed.ID, points); err != nil {
		return err
	}
	committed.RoutePoints = points
	return nil
}
