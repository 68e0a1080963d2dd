package location

import (
	"testing"
	"time"

	"github.com/2beens/stridewatch/internal/workout"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// metersPerDegreeLat is the haversine length of one degree of latitude
var metersPerDegreeLat = DistanceMeters(
	workout.LocationSample{Latitude: 0, Longitude: 0},
	workout.LocationSample{Latitude: 1, Longitude: 0},
)

// northOf returns a sample the given number of meters north of the equator origin.
func northOf(meters float64) workout.LocationSample {
	return workout.LocationSample{
		Latitude:           meters / metersPerDegreeLat,
		Longitude:          0,
		HorizontalAccuracy: 5,
		Timestamp:          time.Now(),
	}
}

func TestDistanceMeters(t *testing.T) {
	// Jakarta to Bandung is roughly 115-120 km
	d := DistanceMeters(
		workout.LocationSample{Latitude: -6.2, Longitude: 106.816},
		workout.LocationSample{Latitude: -6.9175, Longitude: 107.6191},
	)
	assert.InDelta(t, 117000, d, 5000)

	same := workout.LocationSample{Latitude: 52.52, Longitude: 13.405}
	assert.Equal(t, 0.0, DistanceMeters(same, same))
}

func TestAggregator_SumOfConsecutiveDeltas(t *testing.T) {
	gofakeit.Seed(42)
	agg := NewAggregator()

	var all []workout.LocationSample
	prevDistance := 0.0
	for batch := 0; batch < 20; batch++ {
		var samples []workout.LocationSample
		n := gofakeit.Number(0, 6)
		for i := 0; i < n; i++ {
			samples = append(samples, workout.LocationSample{
				Latitude:  gofakeit.Float64Range(52.50, 52.52),
				Longitude: gofakeit.Float64Range(13.40, 13.42),
			})
		}
		agg.Ingest(samples)
		all = append(all, samples...)

		assert.GreaterOrEqual(t, agg.Distance(), prevDistance)
		prevDistance = agg.Distance()
	}

	expected := 0.0
	for i := 1; i < len(all); i++ {
		expected += DistanceMeters(all[i-1], all[i])
	}
	assert.InDelta(t, expected, agg.Distance(), 1e-6)
}

func TestAggregator_MileCrossingsSingleBatch(t *testing.T) {
	agg := NewAggregator()

	crossed := agg.Ingest([]workout.LocationSample{northOf(0), northOf(0.9 * workout.MileInMeters)})
	assert.Empty(t, crossed)

	// 0.9 -> 3.2 miles in one batch: miles 1, 2, 3, in order
	crossed = agg.Ingest([]workout.LocationSample{northOf(3.2 * workout.MileInMeters)})
	assert.Equal(t, []int{1, 2, 3}, crossed)

	// no retroactive or repeated events
	crossed = agg.Ingest([]workout.LocationSample{northOf(3.5 * workout.MileInMeters)})
	assert.Empty(t, crossed)

	crossed = agg.Ingest([]workout.LocationSample{northOf(4.01 * workout.MileInMeters)})
	assert.Equal(t, []int{4}, crossed)
}

func TestAggregator_AccuracyAndAltitude(t *testing.T) {
	agg := NewAggregator()

	s1 := northOf(0)
	s1.Altitude = 30
	s2 := northOf(100)
	s2.Altitude = 32
	s2.HorizontalAccuracy = 65

	agg.Ingest([]workout.LocationSample{s1, s2})
	assert.Equal(t, 65.0, agg.Accuracy())

	alts := agg.Altitudes()
	require.Len(t, alts, 2)
	assert.Equal(t, 30.0, alts[0].Value)
	assert.Equal(t, 0.0, alts[0].DistanceAtSample)
	assert.Equal(t, 32.0, alts[1].Value)
	assert.InDelta(t, 100, alts[1].DistanceAtSample, 0.01)

	last, ok := agg.LastSample()
	require.True(t, ok)
	assert.Equal(t, s2.Latitude, last.Latitude)
}

func TestAggregator_AnchorAddsNoDistance(t *testing.T) {
	agg := NewAggregator()
	agg.Ingest([]workout.LocationSample{northOf(0), northOf(100)})

	agg.Anchor([]workout.LocationSample{northOf(500), northOf(900)})
	assert.InDelta(t, 100, agg.Distance(), 0.01)

	agg.Ingest([]workout.LocationSample{northOf(1000)})
	assert.InDelta(t, 200, agg.Distance(), 0.01)
}

func TestAggregator_Reset(t *testing.T) {
	agg := NewAggregator()
	agg.Ingest([]workout.LocationSample{northOf(0), northOf(2 * workout.MileInMeters)})
	require.Greater(t, agg.Distance(), 0.0)

	agg.Reset()
	assert.Equal(t, 0.0, agg.Distance())
	assert.Empty(t, agg.Altitudes())
	_, ok := agg.LastSample()
	assert.False(t, ok)

	// mile floor is reset as well
	crossed := agg.Ingest([]workout.LocationSample{northOf(0), northOf(1.1 * workout.MileInMeters)})
	assert.Equal(t, []int{1}, crossed)
}
