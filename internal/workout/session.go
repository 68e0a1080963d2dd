package workout

import (
	"fmt"
	"strings"
	"time"
)

// SessionState can be one of:
//   - not_started
//   - running
//   - paused
//   - ended
type SessionState string

const (
	StateNotStarted SessionState = "not_started"
	StateRunning    SessionState = "running"
	StatePaused     SessionState = "paused"
	StateEnded      SessionState = "ended"
)

func (s SessionState) String() string {
	return string(s)
}

// Active reports whether a recording session is live (running or paused).
func (s SessionState) Active() bool {
	return s == StateRunning || s == StatePaused
}

// ActivityKind is the kind of workout being recorded.
type ActivityKind string

const (
	ActivityWalking ActivityKind = "walking"
	ActivityRunning ActivityKind = "running"
)

func (k ActivityKind) String() string {
	return string(k)
}

func (k ActivityKind) IsValid() bool {
	switch k {
	case ActivityWalking, ActivityRunning:
		return true
	default:
		return false
	}
}

func ParseActivityKind(kind string) (ActivityKind, error) {
	k := ActivityKind(strings.ToLower(strings.TrimSpace(kind)))
	if !k.IsValid() {
		return "", fmt.Errorf("unknown activity kind: %s", kind)
	}
	return k, nil
}

// Session is the live workout owned by the session controller.
type Session struct {
	State            SessionState
	StartedAt        time.Time
	ElapsedSeconds   int
	DistanceMeters   float64
	StepCount        int
	HeartRateSamples []float64
	EnergyBurnedKcal float64
	ActivityKind     ActivityKind
	MaxAllowedSpeed  float64
}

// Status holds the observable fields exposed to the presentation layer.
type Status struct {
	State              SessionState `json:"state"`
	ActivityKind       ActivityKind `json:"activity_kind"`
	StartedAt          time.Time    `json:"started_at"`
	ElapsedSeconds     int          `json:"elapsed_seconds"`
	Elapsed            string       `json:"elapsed"`
	DistanceMeters     float64      `json:"distance_meters"`
	DistanceMiles      float64      `json:"distance_miles"`
	StepCount          int          `json:"step_count"`
	HeartRate          float64      `json:"heart_rate"`
	EnergyBurnedKcal   float64      `json:"energy_burned_kcal"`
	HorizontalAccuracy float64      `json:"horizontal_accuracy"`
	SavingInProgress   bool         `json:"saving_in_progress"`
	FullySaved         bool         `json:"fully_saved"`
	DrivingPrompt      bool         `json:"driving_prompt"`
}

// Summary is handed to the presentation layer once a session has ended.
type Summary struct {
	WorkoutID      string            `json:"workout_id,omitempty"`
	ActivityKind   ActivityKind      `json:"activity_kind"`
	StartedAt      time.Time         `json:"started_at"`
	ElapsedSeconds int               `json:"elapsed_seconds"`
	DistanceMeters float64           `json:"distance_meters"`
	StepCount      int               `json:"step_count"`
	Metadata       map[string]string `json:"metadata"`
	FullySaved     bool              `json:"fully_saved"`
	Forced         bool              `json:"forced"`
	Error          string            `json:"error,omitempty"`
}

// CommittedWorkout is a workout persisted by the recording service.
type CommittedWorkout struct {
	ID           string            `json:"id"`
	ActivityKind ActivityKind      `json:"activity_kind"`
	StartedAt    time.Time         `json:"started_at"`
	EndedAt      time.Time         `json:"ended_at"`
	Metadata     map[string]string `json:"metadata"`
	RoutePoints  int               `json:"route_points"`
}

// FormatElapsed renders seconds as HH:MM:SS.
func FormatElapsed(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d:%02d", seconds/3600, (seconds%3600)/60, seconds%60)
}
