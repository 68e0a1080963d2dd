package location

import (
	"math"
	"sync"

	"github.com/2beens/stridewatch/internal/workout"
)

// Aggregator accumulates position samples into a cumulative distance and reports integer
// mile boundaries as they are crossed. Samples are not filtered: low-accuracy fixes and
// jumps count toward the distance exactly as delivered.
type Aggregator struct {
	mu        sync.Mutex
	last      *workout.LocationSample
	distance  float64
	mileFloor int
	accuracy  float64
	altitudes []workout.AltitudeDataPoint
}

func NewAggregator() *Aggregator {
	return &Aggregator{}
}

// Ingest folds samples, in arrival order, into the cumulative distance. It returns the
// mile boundaries crossed by this batch, ascending, one entry per boundary.
func (a *Aggregator) Ingest(samples []workout.LocationSample) []int {
	if len(samples) == 0 {
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	for i := range samples {
		s := samples[i]
		if a.last != nil {
			a.distance += DistanceMeters(*a.last, s)
		}
		a.last = &s
		a.accuracy = s.HorizontalAccuracy
		a.altitudes = append(a.altitudes, workout.AltitudeDataPoint{
			Value:            s.Altitude,
			DistanceAtSample: a.distance,
		})
	}

	newFloor := int(math.Floor(a.distance / workout.MileInMeters))
	var crossed []int
	for m := a.mileFloor + 1; m <= newFloor; m++ {
		crossed = append(crossed, m)
	}
	if newFloor > a.mileFloor {
		a.mileFloor = newFloor
	}

	return crossed
}

// Anchor moves the reference point to the last of samples without adding distance.
func (a *Aggregator) Anchor(samples []workout.LocationSample) {
	if len(samples) == 0 {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	s := samples[len(samples)-1]
	a.last = &s
	a.accuracy = s.HorizontalAccuracy
}

func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.last = nil
	a.distance = 0
	a.mileFloor = 0
	a.accuracy = 0
	a.altitudes = nil
}

func (a *Aggregator) Distance() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.distance
}

// Accuracy is the horizontal accuracy of the last sample seen, for display only.
func (a *Aggregator) Accuracy() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.accuracy
}

func (a *Aggregator) LastSample() (workout.LocationSample, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.last == nil {
		return workout.LocationSample{}, false
	}
	return *a.last, true
}

func (a *Aggregator) Altitudes() []workout.AltitudeDataPoint {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]workout.AltitudeDataPoint, len(a.altitudes))
	copy(out, a.altitudes)
	return out
}
