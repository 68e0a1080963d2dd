package workout

import (
	"fmt"
	"math"
)

const MileInMeters = 1609.344

// metadata keys attached to a committed workout
const (
	MetaDistance      = "finalDistance"
	MetaDuration      = "finalDuration"
	MetaAverageSpeed  = "averageSpeed"
	MetaStepCount     = "stepCount"
	MetaCity          = "city"
	MetaWeatherTemp   = "weatherTemp"
	MetaWeatherSymbol = "weatherSymbol"
	MetaEnergyBurned  = "energyBurned"
)

// Conditions are the resolved weather values for a workout location.
type Conditions struct {
	Temperature float64 `json:"temperature"`
	Symbol      string  `json:"symbol"`
	Description string  `json:"description"`
}

// FinalizeMetadata is built once per session at finalize time. It is never mutated after
// construction; Map returns a copy.
type FinalizeMetadata struct {
	values map[string]string
}

// NewFinalizeMetadata builds the metadata from the session and the resolved city/weather.
// A nil weather or empty city leaves the matching fields blank.
func NewFinalizeMetadata(s Session, city string, weather *Conditions) FinalizeMetadata {
	miles := s.DistanceMeters / MileInMeters
	avgSpeed := 0.0
	if s.ElapsedSeconds > 0 {
		avgSpeed = miles / (float64(s.ElapsedSeconds) / 3600)
	}

	values := map[string]string{
		MetaDistance:      fmt.Sprintf("%.3f", miles),
		MetaDuration:      FormatElapsed(s.ElapsedSeconds),
		MetaAverageSpeed:  fmt.Sprintf("%.2f", avgSpeed),
		MetaStepCount:     fmt.Sprintf("%d", s.StepCount),
		MetaCity:          city,
		MetaWeatherTemp:   "",
		MetaWeatherSymbol: "",
		MetaEnergyBurned:  fmt.Sprintf("%.0f", math.Max(0, s.EnergyBurnedKcal)),
	}
	if weather != nil {
		values[MetaWeatherTemp] = fmt.Sprintf("%.0f", weather.Temperature)
		values[MetaWeatherSymbol] = weather.Symbol
	}

	return FinalizeMetadata{values: values}
}

func (m FinalizeMetadata) Get(key string) string {
	return m.values[key]
}

func (m FinalizeMetadata) Map() map[string]string {
	out := make(map[string]string, len(m.values))
	for k, v := range m.values {
		out[k] = v
	}
	return out
}
