// Package gate decides when ambient motion looks like the start of a workout. While the user
// has not answered, position samples are buffered so that a confirmed session starts with the
// distance already covered.
package gate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/2beens/stridewatch/internal/providers"
	"github.com/2beens/stridewatch/internal/telemetry/metrics"
	"github.com/2beens/stridewatch/internal/timer"
	"github.com/2beens/stridewatch/internal/workout"
)

var (
	ErrSensorUnavailable = errors.New("motion sensor unavailable")
	ErrNothingPending    = errors.New("no workout pending confirmation")
)

type State int

const (
	StateIdle State = iota
	StateBuffering
	StatePrompting
	// StateConfirming keeps buffering until the starting session takes the buffer over.
	StateConfirming
)

func (s State) String() string {
	switch s {
	case StateBuffering:
		return "buffering"
	case StatePrompting:
		return "prompting"
	case StateConfirming:
		return "confirming"
	default:
		return "idle"
	}
}

// outcomes of a buffering cycle, used as metric labels
const (
	outcomeConfirmed = "confirmed"
	outcomeDeclined  = "declined"
	outcomeDismissed = "dismissed"
	outcomeExpired   = "expired"
	outcomeCleared   = "cleared"
)

// SessionStarter is the part of the session controller the gate hands a confirmed workout to.
type SessionStarter interface {
	// Idle reports whether no session is running, paused or being finalized.
	Idle() bool
	// StartWithBuffer starts a session and calls take once it receives live samples itself.
	StartWithBuffer(ctx context.Context, take func() []workout.LocationSample) error
}

type Params struct {
	DetectionThreshold time.Duration
	MaxBuffering       time.Duration
	AutoDismiss        time.Duration
}

func DefaultParams() Params {
	return Params{
		DetectionThreshold: 120 * time.Second,
		MaxBuffering:       300 * time.Second,
		AutoDismiss:        120 * time.Second,
	}
}

type Snapshot struct {
	State           string                 `json:"state"`
	Enabled         bool                   `json:"enabled"`
	Available       bool                   `json:"available"`
	Declined        bool                   `json:"declined"`
	BufferedSamples int                    `json:"buffered_samples"`
	Prompt          *workout.PendingPrompt `json:"prompt,omitempty"`
}

type Gate struct {
	motion    providers.MotionSensor
	positions providers.LocationSource
	notifier  providers.Notifier
	starter   SessionStarter
	scheduler timer.Scheduler
	metrics   *metrics.Manager
	params    Params

	mu          sync.Mutex
	state       State
	enabled     bool
	unavailable bool
	monitoring  bool
	declined    bool
	activity    workout.ActivitySignal
	buffer      []workout.LocationSample
	unsubscribe func()
	prompt      *workout.PendingPrompt
	// cycle identifies the current buffering cycle; timers and subscriptions of an older cycle are ignored
	cycle          uint64
	bufferExpiry   time.Time
	detectionTimer timer.Timer
	maxBufferTimer timer.Timer
	dismissTimer   timer.Timer
}

func NewGate(
	motion providers.MotionSensor,
	positions providers.LocationSource,
	notifier providers.Notifier,
	starter SessionStarter,
	scheduler timer.Scheduler,
	metricsManager *metrics.Manager,
	params Params,
) *Gate {
	return &Gate{
		motion:    motion,
		positions: positions,
		notifier:  notifier,
		starter:   starter,
		scheduler: scheduler,
		metrics:   metricsManager,
		params:    params,
		enabled:   true,
	}
}

// Monitor subscribes to motion activity updates. If the sensor is missing the gate is disabled
// for the lifetime of the process.
func (g *Gate) Monitor() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.monitorLocked()
}

func (g *Gate) monitorLocked() error {
	if g.unavailable {
		return ErrSensorUnavailable
	}
	if g.monitoring {
		return nil
	}

	if !g.motion.Available() {
		g.unavailable = true
		log.Warnln("activity-gate: motion sensor unavailable, automatic workout detection disabled")
		return ErrSensorUnavailable
	}

	if err := g.motion.StartActivityUpdates(g.HandleActivity); err != nil {
		g.unavailable = true
		log.Errorf("activity-gate: start activity updates: %s", err)
		return fmt.Errorf("%w: %s", ErrSensorUnavailable, err)
	}

	g.monitoring = true
	log.Debugln("activity-gate: monitoring motion activity")
	return nil
}

// Rearm makes sure the gate is listening for the next activity episode. The decline flag is
// left untouched; only a stationary signal opens a new episode.
func (g *Gate) Rearm() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.enabled || g.unavailable {
		return
	}
	if err := g.monitorLocked(); err != nil {
		log.Debugf("activity-gate: rearm: %s", err)
	}
}

func (g *Gate) HandleActivity(signal workout.ActivitySignal) {
	// read before locking, the starter takes its own lock
	sessionIdle := g.starter.Idle()

	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.enabled || g.unavailable {
		return
	}

	if signal.Stationary && g.declined {
		log.Debugln("activity-gate: stationary, new activity episode")
		g.declined = false
	}

	if !signal.Moving() || g.state != StateIdle || g.declined || !sessionIdle {
		return
	}

	g.beginBufferingLocked(signal)
}

func (g *Gate) beginBufferingLocked(signal workout.ActivitySignal) {
	// a cycle never outlives its replacement
	if g.unsubscribe != nil {
		g.unsubscribe()
		g.unsubscribe = nil
	}
	timer.StopAll(g.detectionTimer, g.maxBufferTimer, g.dismissTimer)

	g.cycle++
	cycle := g.cycle
	g.state = StateBuffering
	g.activity = signal
	g.buffer = nil
	g.prompt = nil
	g.bufferExpiry = g.scheduler.Now().Add(g.params.MaxBuffering)

	g.unsubscribe = g.positions.Subscribe(func(samples []workout.LocationSample) {
		g.onSamples(cycle, samples)
	})
	g.detectionTimer = g.scheduler.AfterFunc(g.params.DetectionThreshold, func() {
		g.onDetectionThreshold(cycle)
	})
	g.maxBufferTimer = g.scheduler.AfterFunc(g.params.MaxBuffering, func() {
		g.onMaxBuffering(cycle)
	})
	g.dismissTimer = nil

	log.Debugf("activity-gate: buffering started (cycle %d)", cycle)
}

func (g *Gate) onSamples(cycle uint64, samples []workout.LocationSample) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cycle != cycle || g.state == StateIdle {
		return
	}
	g.buffer = append(g.buffer, samples...)
	if g.metrics != nil {
		g.metrics.GaugeBufferedSamples.Set(float64(len(g.buffer)))
	}
}

func (g *Gate) onDetectionThreshold(cycle uint64) {
	sessionIdle := g.starter.Idle()

	g.mu.Lock()
	if g.cycle != cycle || g.state != StateBuffering {
		g.mu.Unlock()
		return
	}
	g.detectionTimer = nil

	if !sessionIdle || g.declined {
		c := g.clearLocked()
		g.mu.Unlock()
		g.release(context.Background(), c, outcomeCleared)
		return
	}

	now := g.scheduler.Now()
	activityName := "walking"
	if g.activity.Running {
		activityName = "running"
	}
	prompt := workout.PendingPrompt{
		ID:                     uuid.NewString(),
		Title:                  "Workout detected",
		Body:                   fmt.Sprintf("Are you %s now?", activityName),
		Actions:                []string{workout.PromptActionStart, workout.PromptActionIgnore},
		ScheduledAutoDismissAt: now.Add(g.params.AutoDismiss),
		ScheduledBufferExpiry:  g.bufferExpiry,
	}
	g.state = StatePrompting
	g.prompt = &prompt
	g.dismissTimer = g.scheduler.AfterFunc(g.params.AutoDismiss, func() {
		g.onAutoDismiss(cycle)
	})
	buffered := len(g.buffer)
	g.mu.Unlock()

	log.Infof("activity-gate: workout detected, prompting user (%d samples buffered)", buffered)
	if g.metrics != nil {
		g.metrics.CounterPromptsShown.Inc()
	}

	if err := g.notifier.Schedule(context.Background(), prompt); err != nil {
		// buffered samples stay, the user can still confirm
		log.Errorf("activity-gate: schedule prompt notification: %s", err)
	}
}

func (g *Gate) onMaxBuffering(cycle uint64) {
	g.mu.Lock()
	if g.cycle != cycle || g.state == StateIdle || g.state == StateConfirming {
		g.mu.Unlock()
		return
	}
	g.maxBufferTimer = nil
	c := g.clearLocked()
	g.mu.Unlock()

	log.Infof("activity-gate: max buffering time reached, %d samples dropped", c.samples)
	g.release(context.Background(), c, outcomeExpired)
}

func (g *Gate) onAutoDismiss(cycle uint64) {
	g.mu.Lock()
	if g.cycle != cycle || g.state != StatePrompting {
		g.mu.Unlock()
		return
	}
	g.dismissTimer = nil
	c := g.clearLocked()
	g.mu.Unlock()

	log.Infoln("activity-gate: prompt not answered, dismissed")
	g.release(context.Background(), c, outcomeDismissed)
}

// Confirm starts a session and hands it every sample buffered so far. Samples keep being
// buffered until the session is subscribed to the live feed itself, then the buffer moves over.
func (g *Gate) Confirm(ctx context.Context) error {
	g.mu.Lock()
	if g.state != StateBuffering && g.state != StatePrompting {
		g.mu.Unlock()
		return ErrNothingPending
	}
	timer.StopAll(g.detectionTimer, g.maxBufferTimer, g.dismissTimer)
	g.detectionTimer = nil
	g.maxBufferTimer = nil
	g.dismissTimer = nil
	g.state = StateConfirming
	cycle := g.cycle
	g.mu.Unlock()

	var (
		handed    cleared
		taken     bool
		delivered int
	)
	take := func() []workout.LocationSample {
		g.mu.Lock()
		defer g.mu.Unlock()
		if taken || g.cycle != cycle || g.state != StateConfirming {
			return nil
		}
		taken = true
		samples := g.buffer
		delivered = len(samples)
		handed = g.clearLocked()
		return samples
	}

	err := g.starter.StartWithBuffer(ctx, take)

	g.mu.Lock()
	outcome := outcomeConfirmed
	if !taken {
		outcome = ""
		if g.cycle == cycle && g.state == StateConfirming {
			handed = g.clearLocked()
			outcome = outcomeCleared
		}
	}
	g.mu.Unlock()
	g.release(ctx, handed, outcome)

	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	log.Infof("activity-gate: workout confirmed with %d buffered samples", delivered)
	return nil
}

// Decline marks the current episode as declined and drops whatever was buffered.
func (g *Gate) Decline(ctx context.Context) {
	g.mu.Lock()
	g.declined = true
	if g.state == StateIdle {
		g.mu.Unlock()
		return
	}
	c := g.clearLocked()
	g.mu.Unlock()

	log.Infof("activity-gate: workout declined, %d samples dropped", c.samples)
	g.release(ctx, c, outcomeDeclined)
}

// MarkDeclined is called when a session starts so the gate stays quiet for the rest of the episode.
func (g *Gate) MarkDeclined() {
	g.mu.Lock()
	g.declined = true
	if g.state == StateIdle {
		g.mu.Unlock()
		return
	}
	c := g.clearLocked()
	g.mu.Unlock()

	g.release(context.Background(), c, outcomeCleared)
}

func (g *Gate) SetEnabled(ctx context.Context, enabled bool) {
	g.mu.Lock()
	g.enabled = enabled
	if enabled {
		if err := g.monitorLocked(); err != nil {
			log.Warnf("activity-gate: enable: %s", err)
		}
		g.mu.Unlock()
		log.Infoln("activity-gate: walking trigger enabled")
		return
	}

	var c cleared
	outcome := ""
	if g.state != StateIdle {
		c = g.clearLocked()
		outcome = outcomeCleared
	}
	g.mu.Unlock()

	log.Infoln("activity-gate: walking trigger disabled")
	g.release(ctx, c, outcome)
}

func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

func (g *Gate) BufferedCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.buffer)
}

func (g *Gate) Snapshot() Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()

	s := Snapshot{
		State:           g.state.String(),
		Enabled:         g.enabled,
		Available:       !g.unavailable,
		Declined:        g.declined,
		BufferedSamples: len(g.buffer),
	}
	if g.prompt != nil {
		p := *g.prompt
		s.Prompt = &p
	}
	return s
}

type cleared struct {
	unsubscribe func()
	promptID    string
	samples     int
}

// clearLocked drops the buffer, stops every timer and returns what has to be released outside the lock.
func (g *Gate) clearLocked() cleared {
	timer.StopAll(g.detectionTimer, g.maxBufferTimer, g.dismissTimer)
	g.detectionTimer = nil
	g.maxBufferTimer = nil
	g.dismissTimer = nil

	c := cleared{
		unsubscribe: g.unsubscribe,
		samples:     len(g.buffer),
	}
	if g.prompt != nil {
		c.promptID = g.prompt.ID
	}

	g.unsubscribe = nil
	g.prompt = nil
	g.buffer = nil
	g.state = StateIdle
	g.cycle++
	return c
}

func (g *Gate) release(ctx context.Context, c cleared, outcome string) {
	if c.unsubscribe != nil {
		c.unsubscribe()
	}
	if c.promptID != "" {
		if err := g.notifier.Withdraw(ctx, c.promptID); err != nil {
			log.Warnf("activity-gate: withdraw prompt %s: %s", c.promptID, err)
		}
	}
	if g.metrics == nil {
		return
	}
	g.metrics.GaugeBufferedSamples.Set(0)
	if outcome != "" {
		g.metrics.CounterPromptOutcomes.WithLabelValues(outcome).Inc()
	}
}
