// Package providers holds the narrow contracts of the platform services the workout
// controller depends on. Each interface is implemented by the adapter that owns the
// relationship and consumed only by the component that needs it.
package providers

import (
	"context"
	"time"

	"github.com/2beens/stridewatch/internal/workout"
)

// StateHandler receives recording-session state changes. Implementations deliver it
// off the caller's goroutine.
type StateHandler func(from, to workout.SessionState, at time.Time)

// Statistics is a push update of live session statistics. Nil fields were not updated.
type Statistics struct {
	HeartRate        *float64 `json:"heart_rate,omitempty"`
	EnergyBurnedKcal *float64 `json:"energy_burned_kcal,omitempty"`
}

type StatisticsHandler func(Statistics)

type RecordingService interface {
	Available() bool
	CreateSession(ctx context.Context, kind workout.ActivityKind) (RecordingSession, error)
}

type RecordingSession interface {
	Start(at time.Time)
	Pause()
	Resume()
	End()
	SetStateHandler(h StateHandler)
	SetStatisticsHandler(h StatisticsHandler)
	Builder() WorkoutBuilder
	Route() RouteBuilder
}

type WorkoutBuilder interface {
	BeginCollection(ctx context.Context, start time.Time) error
	EndCollection(ctx context.Context, end time.Time) error
	AddMetadata(ctx context.Context, metadata map[string]string) error
	Finish(ctx context.Context) (*workout.CommittedWorkout, error)
}

type RouteBuilder interface {
	InsertSamples(ctx context.Context, samples []workout.LocationSample) error
	Finish(ctx context.Context, committed *workout.CommittedWorkout) error
}

// LocationSource delivers batches of position samples to subscribers.
type LocationSource interface {
	Subscribe(handler func([]workout.LocationSample)) (unsubscribe func())
}

type MotionSensor interface {
	Available() bool
	StartActivityUpdates(handler func(workout.ActivitySignal)) error
	StopActivityUpdates()
}

// Pedometer reports cumulative step counts.
type Pedometer interface {
	Available() bool
	CurrentCount(ctx context.Context) (int, error)
	Subscribe(handler func(total int)) (unsubscribe func())
}

type Notifier interface {
	Schedule(ctx context.Context, prompt workout.PendingPrompt) error
	Withdraw(ctx context.Context, promptID string) error
}

type WeatherService interface {
	Current(ctx context.Context, lat, lon float64) (*workout.Conditions, error)
}

type ReverseGeocoder interface {
	City(ctx context.Context, lat, lon float64) (string, error)
}
