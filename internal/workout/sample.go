package workout

import "time"

// LocationSample is a single position fix as delivered by the positioning provider.
type LocationSample struct {
	Latitude           float64   `json:"latitude"`
	Longitude          float64   `json:"longitude"`
	Altitude           float64   `json:"altitude"`
	HorizontalAccuracy float64   `json:"horizontal_accuracy"`
	Speed              float64   `json:"speed"`  // meters per second, negative when unknown
	Course             float64   `json:"course"` // degrees, negative when unknown
	Timestamp          time.Time `json:"timestamp"`
}

// ActivitySignal is the debounced summary reported by the motion sensor.
type ActivitySignal struct {
	Walking    bool `json:"walking"`
	Running    bool `json:"running"`
	Stationary bool `json:"stationary"`
}

func (s ActivitySignal) Moving() bool {
	return s.Walking || s.Running
}

// AltitudeDataPoint is kept for charting elevation against distance.
type AltitudeDataPoint struct {
	Value            float64 `json:"value"`
	DistanceAtSample float64 `json:"distance_at_sample"`
}

// PendingPrompt exists only between "prompt shown" and "prompt resolved or expired".
type PendingPrompt struct {
	ID                     string    `json:"id"`
	Title                  string    `json:"title"`
	Body                   string    `json:"body"`
	Actions                []string  `json:"actions"`
	ScheduledAutoDismissAt time.Time `json:"scheduled_auto_dismiss_at"`
	ScheduledBufferExpiry  time.Time `json:"scheduled_buffer_expiry_at"`
}

const (
	PromptActionStart  = "start"
	PromptActionIgnore = "ignore"
)
