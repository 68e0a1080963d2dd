// Package session drives a recording session from start to a persisted workout.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/2beens/stridewatch/internal/location"
	"github.com/2beens/stridewatch/internal/providers"
	"github.com/2beens/stridewatch/internal/telemetry/metrics"
	"github.com/2beens/stridewatch/internal/timer"
	"github.com/2beens/stridewatch/internal/workout"
)

var (
	ErrRecordingUnavailable = errors.New("recording service unavailable")
	ErrSessionInProgress    = errors.New("workout session already in progress")
	ErrNoActiveSession      = errors.New("no active workout session")
	ErrNoDrivingPrompt      = errors.New("no driving prompt raised")
)

//go:generate mockgen -destination=mocks_test.go -package=session github.com/2beens/stridewatch/internal/providers WeatherService,ReverseGeocoder

// EpisodeGate is the activity gate as seen by the controller.
type EpisodeGate interface {
	MarkDeclined()
	Rearm()
}

// Observer receives the events the presentation layer reacts to. Calls are made without any
// controller lock held.
type Observer interface {
	MileCrossed(mile int)
	DrivingPromptRaised(status workout.Status)
	EndAndShowSummary(summary workout.Summary)
}

type Params struct {
	ActivityKind workout.ActivityKind
	// MaxSpeeds in meters per second, per activity kind
	MaxSpeeds         map[workout.ActivityKind]float64
	HighSpeedSamples  int
	SafetyTimeout     time.Duration
	FinalizeTimeout   time.Duration
	ClockInterval     time.Duration
	ResolvePlaceEarly bool
}

func DefaultParams() Params {
	return Params{
		ActivityKind: workout.ActivityWalking,
		MaxSpeeds: map[workout.ActivityKind]float64{
			workout.ActivityWalking: 4.0,
			workout.ActivityRunning: 8.0,
		},
		HighSpeedSamples:  2,
		SafetyTimeout:     5 * time.Second,
		FinalizeTimeout:   30 * time.Second,
		ClockInterval:     time.Second,
		ResolvePlaceEarly: true,
	}
}

func (p Params) maxSpeed(kind workout.ActivityKind) float64 {
	if v, ok := p.MaxSpeeds[kind]; ok {
		return v
	}
	return DefaultParams().MaxSpeeds[kind]
}

type Controller struct {
	recording  providers.RecordingService
	positions  providers.LocationSource
	pedometer  providers.Pedometer
	weather    providers.WeatherService
	geocoder   providers.ReverseGeocoder
	observer   Observer
	scheduler  timer.Scheduler
	metrics    *metrics.Manager
	params     Params
	aggregator *location.Aggregator

	// opMu serializes the lifecycle operations, which call providers without holding mu
	opMu sync.Mutex

	mu   sync.Mutex
	gate EpisodeGate
	// generation changes on every start; callbacks carrying an older one are dropped
	generation     uint64
	session        workout.Session
	recSession     providers.RecordingSession
	routeSamples   []workout.LocationSample
	seeded         map[workout.LocationSample]struct{}
	endedAt        time.Time
	stepBaseline   int
	highSpeedCount int
	drivingPrompt  bool
	placeResolving bool
	city           string
	conditions     *workout.Conditions

	finalizeRequested bool
	alreadyFinalized  bool
	saving            bool
	fullySaved        bool
	endSignaled       bool
	lastSummary       *workout.Summary

	clock          timer.Timer
	safetyTimer    timer.Timer
	unsubPositions func()
	unsubSteps     func()
}

func NewController(
	recording providers.RecordingService,
	positions providers.LocationSource,
	pedometer providers.Pedometer,
	weather providers.WeatherService,
	geocoder providers.ReverseGeocoder,
	observer Observer,
	scheduler timer.Scheduler,
	metricsManager *metrics.Manager,
	params Params,
) *Controller {
	return &Controller{
		recording:  recording,
		positions:  positions,
		pedometer:  pedometer,
		weather:    weather,
		geocoder:   geocoder,
		observer:   observer,
		scheduler:  scheduler,
		metrics:    metricsManager,
		params:     params,
		aggregator: location.NewAggregator(),
		session: workout.Session{
			State:        workout.StateNotStarted,
			ActivityKind: params.ActivityKind,
		},
	}
}

// AttachGate wires the activity gate after both sides are constructed.
func (c *Controller) AttachGate(g EpisodeGate) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gate = g
}

func (c *Controller) SetActivityKind(kind workout.ActivityKind) error {
	if !kind.IsValid() {
		return fmt.Errorf("unknown activity kind: %s", kind)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.params.ActivityKind = kind
	return nil
}

// Idle reports whether a new session could be started right now.
func (c *Controller) Idle() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.session.State.Active() && !c.saving
}

func (c *Controller) State() workout.SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.State
}

// Start opens a new recording session. A previous, finished session is reset first.
func (c *Controller) Start(ctx context.Context) error {
	return c.start(ctx, nil)
}

// StartWithBuffer opens a new recording session seeded with samples collected before it was
// confirmed. take is called once the live position subscription is in place; the samples it
// returns are counted before any live sample and uploaded to the route ahead of them.
func (c *Controller) StartWithBuffer(ctx context.Context, take func() []workout.LocationSample) error {
	return c.start(ctx, take)
}

func (c *Controller) start(ctx context.Context, take func() []workout.LocationSample) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if !c.recording.Available() {
		log.Errorln("session: recording service unavailable, workout not started")
		return ErrRecordingUnavailable
	}

	c.mu.Lock()
	if c.session.State.Active() || c.saving {
		c.mu.Unlock()
		return ErrSessionInProgress
	}
	c.resetLocked()
	c.generation++
	gen := c.generation
	kind := c.params.ActivityKind
	c.mu.Unlock()

	recSession, err := c.recording.CreateSession(ctx, kind)
	if err != nil {
		log.Errorf("session: create recording session: %s", err)
		return fmt.Errorf("%w: %s", ErrRecordingUnavailable, err)
	}
	recSession.SetStateHandler(func(from, to workout.SessionState, at time.Time) {
		c.onRecordingState(gen, from, to, at)
	})
	recSession.SetStatisticsHandler(func(stats providers.Statistics) {
		c.onStatistics(gen, stats)
	})

	stepBaseline := 0
	if c.pedometer.Available() {
		if stepBaseline, err = c.pedometer.CurrentCount(ctx); err != nil {
			log.Warnf("session: query step count baseline: %s", err)
			stepBaseline = 0
		}
	}

	now := c.scheduler.Now()
	recSession.Start(now)
	if err := recSession.Builder().BeginCollection(ctx, now); err != nil {
		log.Errorf("session: begin collection: %s", err)
	}

	c.mu.Lock()
	c.recSession = recSession
	c.session = workout.Session{
		State:           workout.StateRunning,
		StartedAt:       now,
		ActivityKind:    kind,
		MaxAllowedSpeed: c.params.maxSpeed(kind),
	}
	c.stepBaseline = stepBaseline
	c.clock = c.scheduler.Every(c.params.ClockInterval, func() {
		c.tick(gen)
	})
	if c.pedometer.Available() {
		c.unsubSteps = c.pedometer.Subscribe(func(total int) {
			c.onSteps(gen, total)
		})
	}
	// live batches block on mu until the buffer below is folded in
	c.unsubPositions = c.positions.Subscribe(func(samples []workout.LocationSample) {
		c.onLocations(gen, samples)
	})
	var buffered []workout.LocationSample
	if take != nil {
		buffered = take()
	}
	miles := c.seedLocked(buffered)
	resolveFrom := c.placeResolveStartLocked(buffered)
	g := c.gate
	c.mu.Unlock()

	c.relayMiles(miles)
	if resolveFrom != nil {
		go c.resolvePlaceEarly(gen, *resolveFrom)
	}
	if g != nil {
		g.MarkDeclined()
	}
	if c.metrics != nil {
		c.metrics.CounterSessionsStarted.Inc()
	}
	log.Infof("session: %s workout started (step baseline %d, %d buffered samples)", kind, stepBaseline, len(buffered))

	if len(buffered) == 0 {
		return nil
	}
	if err := recSession.Route().InsertSamples(ctx, buffered); err != nil {
		return fmt.Errorf("insert buffered samples: %w", err)
	}
	return nil
}

// seedLocked counts samples collected before the session started. Live batches that were also
// buffered are remembered so they are not counted twice.
func (c *Controller) seedLocked(buffered []workout.LocationSample) []int {
	if len(buffered) == 0 {
		return nil
	}
	c.seeded = make(map[workout.LocationSample]struct{}, len(buffered))
	for _, s := range buffered {
		c.seeded[s] = struct{}{}
	}
	miles := c.aggregator.Ingest(buffered)
	c.session.DistanceMeters = c.aggregator.Distance()
	return miles
}

// dropSeededLocked filters out samples already counted from the start buffer. The overlap can
// only be the first live batches, so the set is discarded at the first unseen sample.
func (c *Controller) dropSeededLocked(samples []workout.LocationSample) []workout.LocationSample {
	if c.seeded == nil {
		return samples
	}
	fresh := make([]workout.LocationSample, 0, len(samples))
	for _, s := range samples {
		if _, ok := c.seeded[s]; ok {
			continue
		}
		fresh = append(fresh, s)
	}
	if len(fresh) > 0 {
		c.seeded = nil
	}
	return fresh
}

// resetLocked destroys the previous session. Subscriptions and timers were released by stop.
func (c *Controller) resetLocked() {
	timer.StopAll(c.clock, c.safetyTimer)
	c.clock = nil
	c.safetyTimer = nil

	c.session = workout.Session{
		State:        workout.StateNotStarted,
		ActivityKind: c.params.ActivityKind,
	}
	c.recSession = nil
	c.routeSamples = nil
	c.seeded = nil
	c.endedAt = time.Time{}
	c.stepBaseline = 0
	c.highSpeedCount = 0
	c.drivingPrompt = false
	c.placeResolving = false
	c.city = ""
	c.conditions = nil
	c.finalizeRequested = false
	c.alreadyFinalized = false
	c.saving = false
	c.fullySaved = false
	c.endSignaled = false
	c.aggregator.Reset()
}

func (c *Controller) tick(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation || c.session.State != workout.StateRunning || c.drivingPrompt {
		return
	}
	c.session.ElapsedSeconds++
}

func (c *Controller) onLocations(gen uint64, samples []workout.LocationSample) {
	if len(samples) == 0 {
		return
	}

	c.mu.Lock()
	if gen != c.generation || !c.session.State.Active() {
		c.mu.Unlock()
		return
	}
	if samples = c.dropSeededLocked(samples); len(samples) == 0 {
		c.mu.Unlock()
		return
	}

	c.routeSamples = append(c.routeSamples, samples...)

	var miles []int
	raised := false
	for _, s := range samples {
		counting := c.session.State == workout.StateRunning && !c.drivingPrompt
		if !counting {
			// keep the reference point fresh so resume does not add a jump
			c.aggregator.Anchor([]workout.LocationSample{s})
			continue
		}

		if s.Speed > c.session.MaxAllowedSpeed {
			c.highSpeedCount++
		} else {
			c.highSpeedCount = 0
		}
		if c.highSpeedCount >= c.params.HighSpeedSamples {
			c.drivingPrompt = true
			raised = true
			c.aggregator.Anchor([]workout.LocationSample{s})
			continue
		}

		miles = append(miles, c.aggregator.Ingest([]workout.LocationSample{s})...)
	}
	c.session.DistanceMeters = c.aggregator.Distance()

	var rec providers.RecordingSession
	var status workout.Status
	maxSpeed := c.session.MaxAllowedSpeed
	if raised {
		rec = c.recSession
		status = c.statusLocked()
	}
	resolveFrom := c.placeResolveStartLocked(samples)
	c.mu.Unlock()

	c.relayMiles(miles)

	if raised {
		log.Warnf("session: %d consecutive samples above %.1f m/s, asking if driving", c.params.HighSpeedSamples, maxSpeed)
		rec.Pause()
		if c.metrics != nil {
			c.metrics.CounterDrivingPrompts.Inc()
		}
		if c.observer != nil {
			c.observer.DrivingPromptRaised(status)
		}
	}

	if resolveFrom != nil {
		go c.resolvePlaceEarly(gen, *resolveFrom)
	}
}

func (c *Controller) relayMiles(miles []int) {
	for _, m := range miles {
		log.Debugf("session: mile %d crossed", m)
		if c.metrics != nil {
			c.metrics.CounterMilesCrossed.Inc()
		}
		if c.observer != nil {
			c.observer.MileCrossed(m)
		}
	}
}

func (c *Controller) onSteps(gen uint64, total int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation || !c.session.State.Active() {
		return
	}
	steps := total - c.stepBaseline
	if steps < 0 {
		steps = 0
	}
	c.session.StepCount = steps
}

func (c *Controller) onStatistics(gen uint64, stats providers.Statistics) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation || c.session.State == workout.StateNotStarted {
		return
	}
	if stats.HeartRate != nil && *stats.HeartRate >= 0 {
		c.session.HeartRateSamples = append(c.session.HeartRateSamples, *stats.HeartRate)
	}
	if stats.EnergyBurnedKcal != nil && *stats.EnergyBurnedKcal >= 0 {
		c.session.EnergyBurnedKcal = *stats.EnergyBurnedKcal
	}
}

func (c *Controller) onRecordingState(gen uint64, from, to workout.SessionState, at time.Time) {
	log.Debugf("session: recording state %s -> %s at %s", from, to, at.Format(time.RFC3339))
	if to != workout.StateEnded {
		return
	}

	c.mu.Lock()
	requested := gen == c.generation && c.finalizeRequested
	c.mu.Unlock()
	if !requested {
		log.Warnln("session: recording session ended without a stop request")
		return
	}

	c.runFinalize(gen)
}

func (c *Controller) Pause() error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	switch c.session.State {
	case workout.StatePaused:
		c.mu.Unlock()
		return nil
	case workout.StateRunning:
	default:
		c.mu.Unlock()
		return ErrNoActiveSession
	}
	c.session.State = workout.StatePaused
	rec := c.recSession
	c.mu.Unlock()

	rec.Pause()
	log.Infoln("session: workout paused")
	return nil
}

func (c *Controller) Resume() error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	switch c.session.State {
	case workout.StateRunning:
		c.mu.Unlock()
		return nil
	case workout.StatePaused:
	default:
		c.mu.Unlock()
		return ErrNoActiveSession
	}
	c.session.State = workout.StateRunning
	resumeRecording := !c.drivingPrompt
	rec := c.recSession
	c.mu.Unlock()

	if resumeRecording {
		rec.Resume()
	}
	log.Infoln("session: workout resumed")
	return nil
}

// DrivingIgnore dismisses the driving prompt and carries on with the workout.
func (c *Controller) DrivingIgnore() error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	if !c.drivingPrompt {
		c.mu.Unlock()
		return ErrNoDrivingPrompt
	}
	c.drivingPrompt = false
	c.highSpeedCount = 0
	resumeRecording := c.session.State == workout.StateRunning
	rec := c.recSession
	c.mu.Unlock()

	if resumeRecording {
		rec.Resume()
	}
	log.Infoln("session: driving prompt ignored, workout continues")
	return nil
}

// DrivingEnd answers the driving prompt by ending the workout.
func (c *Controller) DrivingEnd(ctx context.Context) error {
	c.mu.Lock()
	raised := c.drivingPrompt
	c.mu.Unlock()
	if !raised {
		return ErrNoDrivingPrompt
	}
	return c.Stop(ctx)
}

// Stop ends the recording session. Finalize is triggered by the recording service reporting
// the ended state; if that does not happen within the safety timeout the session is
// terminated anyway.
func (c *Controller) Stop(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	if !c.session.State.Active() || c.recSession == nil {
		c.mu.Unlock()
		return ErrNoActiveSession
	}
	c.finalizeRequested = true
	c.saving = true
	c.drivingPrompt = false
	c.session.State = workout.StateEnded
	c.endedAt = c.scheduler.Now()

	timer.StopAll(c.clock)
	c.clock = nil
	unsubSteps, unsubPositions := c.unsubSteps, c.unsubPositions
	c.unsubSteps, c.unsubPositions = nil, nil

	gen := c.generation
	c.safetyTimer = c.scheduler.AfterFunc(c.params.SafetyTimeout, func() {
		c.onSafetyTimeout(gen)
	})
	rec := c.recSession
	elapsed := c.session.ElapsedSeconds
	distance := c.session.DistanceMeters
	c.mu.Unlock()

	if unsubSteps != nil {
		unsubSteps()
	}
	if unsubPositions != nil {
		unsubPositions()
	}
	rec.End()

	log.Infof("session: workout stopped after %s, %.0f m", workout.FormatElapsed(elapsed), distance)
	return nil
}

func (c *Controller) onSafetyTimeout(gen uint64) {
	c.mu.Lock()
	if gen != c.generation || c.endSignaled {
		c.mu.Unlock()
		return
	}
	c.safetyTimer = nil
	c.endSignaled = true
	c.fullySaved = true
	c.saving = false
	summary := c.summaryLocked(nil, workout.NewFinalizeMetadata(c.session, c.city, c.conditions), true, nil)
	c.lastSummary = &summary
	c.mu.Unlock()

	log.Warnf("session: finalize not completed within %s, terminating session", c.params.SafetyTimeout)
	if c.metrics != nil {
		c.metrics.CounterSafetyTimeouts.Inc()
	}

	// no-op when the recording callback already started it
	go c.runFinalize(gen)

	if c.observer != nil {
		c.observer.EndAndShowSummary(summary)
	}
}

func (c *Controller) Status() workout.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statusLocked()
}

func (c *Controller) statusLocked() workout.Status {
	heartRate := 0.0
	if n := len(c.session.HeartRateSamples); n > 0 {
		heartRate = c.session.HeartRateSamples[n-1]
	}
	return workout.Status{
		State:              c.session.State,
		ActivityKind:       c.session.ActivityKind,
		StartedAt:          c.session.StartedAt,
		ElapsedSeconds:     c.session.ElapsedSeconds,
		Elapsed:            workout.FormatElapsed(c.session.ElapsedSeconds),
		DistanceMeters:     c.session.DistanceMeters,
		DistanceMiles:      c.session.DistanceMeters / workout.MileInMeters,
		StepCount:          c.session.StepCount,
		HeartRate:          heartRate,
		EnergyBurnedKcal:   c.session.EnergyBurnedKcal,
		HorizontalAccuracy: c.aggregator.Accuracy(),
		SavingInProgress:   c.saving,
		FullySaved:         c.fullySaved,
		DrivingPrompt:      c.drivingPrompt,
	}
}

func (c *Controller) Altitudes() []workout.AltitudeDataPoint {
	return c.aggregator.Altitudes()
}

// LastSummary returns the summary of the most recently ended session.
func (c *Controller) LastSummary() (workout.Summary, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastSummary == nil {
		return workout.Summary{}, false
	}
	s := *c.lastSummary
	s.Metadata = make(map[string]string, len(c.lastSummary.Metadata))
	for k, v := range c.lastSummary.Metadata {
		s.Metadata[k] = v
	}
	return s, true
}

func (c *Controller) summaryLocked(
	committed *workout.CommittedWorkout,
	metadata workout.FinalizeMetadata,
	forced bool,
	finalizeErr error,
) workout.Summary {
	s := workout.Summary{
		ActivityKind:   c.session.ActivityKind,
		StartedAt:      c.session.StartedAt,
		ElapsedSeconds: c.session.ElapsedSeconds,
		DistanceMeters: c.session.DistanceMeters,
		StepCount:      c.session.StepCount,
		Metadata:       metadata.Map(),
		FullySaved:     c.fullySaved,
		Forced:         forced,
	}
	if committed != nil {
		s.WorkoutID = committed.ID
	}
	if finalizeErr != nil {
		s.Error = finalizeErr.Error()
	}
	return s
}
