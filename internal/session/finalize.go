package session

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/multierr"

	"github.com/2beens/stridewatch/internal/providers"
	"github.com/2beens/stridewatch/internal/telemetry/tracing"
	"github.com/2beens/stridewatch/internal/workout"
)

const placeResolveTimeout = 10 * time.Second

// finalizeJob is everything the workflow needs, captured once at entry.
type finalizeJob struct {
	generation uint64
	recSession providers.RecordingSession
	session    workout.Session
	samples    []workout.LocationSample
	endedAt    time.Time
	city       string
	conditions *workout.Conditions
	lastSample *workout.LocationSample
}

// Finalize persists the ended session. Only the first call per session does any work, later
// calls return nil right away.
func (c *Controller) Finalize(ctx context.Context) error {
	c.mu.Lock()
	if c.alreadyFinalized {
		c.mu.Unlock()
		return nil
	}
	if c.session.State != workout.StateEnded || c.recSession == nil {
		c.mu.Unlock()
		return ErrNoActiveSession
	}
	c.alreadyFinalized = true

	job := finalizeJob{
		generation: c.generation,
		recSession: c.recSession,
		session:    c.session,
		samples:    append([]workout.LocationSample(nil), c.routeSamples...),
		endedAt:    c.endedAt,
		city:       c.city,
		conditions: c.conditions,
	}
	job.session.HeartRateSamples = append([]float64(nil), c.session.HeartRateSamples...)
	if last, ok := c.aggregator.LastSample(); ok {
		job.lastSample = &last
	}
	c.mu.Unlock()

	return c.finalize(ctx, job)
}

func (c *Controller) runFinalize(gen uint64) {
	c.mu.Lock()
	current := gen == c.generation
	c.mu.Unlock()
	if !current {
		return
	}

	if err := c.Finalize(context.Background()); err != nil {
		log.Errorf("session: finalize: %s", err)
	}
}

func (c *Controller) finalize(ctx context.Context, job finalizeJob) (err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "session.finalize")
	defer tracing.EndSpanWithErrCheck(span, &err)
	span.SetAttributes(
		attribute.String("activity_kind", job.session.ActivityKind.String()),
		attribute.Int("route_samples", len(job.samples)),
	)

	ctx, cancel := context.WithTimeout(ctx, c.params.FinalizeTimeout)
	defer cancel()

	began := time.Now()
	builder := job.recSession.Builder()
	route := job.recSession.Route()

	if endErr := builder.EndCollection(ctx, job.endedAt); endErr != nil {
		err = multierr.Append(err, fmt.Errorf("end collection: %w", endErr))
	}

	city, conditions := job.city, job.conditions
	if (city == "" || conditions == nil) && job.lastSample != nil {
		city, conditions = c.resolvePlace(ctx, *job.lastSample, city, conditions)
	}

	metadata := workout.NewFinalizeMetadata(job.session, city, conditions)

	if metaErr := builder.AddMetadata(ctx, metadata.Map()); metaErr != nil {
		err = multierr.Append(err, fmt.Errorf("add metadata: %w", metaErr))
	}
	committed, finishErr := builder.Finish(ctx)
	if finishErr != nil {
		err = multierr.Append(err, fmt.Errorf("finish workout: %w", finishErr))
	}

	if len(job.samples) > 0 {
		if insertErr := route.InsertSamples(ctx, job.samples); insertErr != nil {
			err = multierr.Append(err, fmt.Errorf("insert route samples: %w", insertErr))
		}
	}

	if committed != nil {
		if routeErr := route.Finish(ctx, committed); routeErr != nil {
			err = multierr.Append(err, fmt.Errorf("finish route: %w", routeErr))
		}
	}

	c.completeFinalize(job, committed, metadata, err)

	if c.metrics != nil {
		c.metrics.HistFinalizeDuration.Observe(time.Since(began).Seconds())
		if err != nil {
			c.metrics.CounterFinalizeFailures.Inc()
		}
	}

	c.mu.Lock()
	g := c.gate
	c.mu.Unlock()
	if g != nil {
		g.Rearm()
	}

	return err
}

// completeFinalize marks the session saved and fires the terminal signal, unless the safety
// timeout already did.
func (c *Controller) completeFinalize(
	job finalizeJob,
	committed *workout.CommittedWorkout,
	metadata workout.FinalizeMetadata,
	finalizeErr error,
) {
	c.mu.Lock()
	if job.generation != c.generation {
		c.mu.Unlock()
		log.Debugln("session: finalize completed for a superseded session")
		return
	}

	if c.safetyTimer != nil {
		c.safetyTimer.Stop()
		c.safetyTimer = nil
	}
	c.fullySaved = true
	c.saving = false
	forced := c.endSignaled
	summary := c.summaryLocked(committed, metadata, forced, finalizeErr)
	c.lastSummary = &summary
	signal := !c.endSignaled
	c.endSignaled = true
	c.mu.Unlock()

	if finalizeErr != nil {
		log.Errorf("session: finalize finished with errors: %s", finalizeErr)
	} else {
		log.Infof("session: workout %s saved (%s miles)", summary.WorkoutID, metadata.Get(workout.MetaDistance))
	}

	if signal && c.observer != nil {
		c.observer.EndAndShowSummary(summary)
	}
}

// resolvePlace fills in whatever of city and weather is still missing. Failures leave the
// values blank.
func (c *Controller) resolvePlace(
	ctx context.Context,
	at workout.LocationSample,
	city string,
	conditions *workout.Conditions,
) (string, *workout.Conditions) {
	if city == "" && c.geocoder != nil {
		resolved, err := c.geocoder.City(ctx, at.Latitude, at.Longitude)
		if err != nil {
			log.Warnf("session: reverse geocode %.4f,%.4f: %s", at.Latitude, at.Longitude, err)
		} else {
			city = resolved
		}
	}

	if conditions == nil && c.weather != nil {
		resolved, err := c.weather.Current(ctx, at.Latitude, at.Longitude)
		if err != nil {
			log.Warnf("session: current weather: %s", err)
		} else {
			conditions = resolved
		}
	}

	return city, conditions
}

// placeResolveStartLocked returns the sample to resolve city and weather from, once per session.
func (c *Controller) placeResolveStartLocked(samples []workout.LocationSample) *workout.LocationSample {
	if !c.params.ResolvePlaceEarly || c.placeResolving || len(samples) == 0 {
		return nil
	}
	c.placeResolving = true
	s := samples[len(samples)-1]
	return &s
}

func (c *Controller) resolvePlaceEarly(gen uint64, at workout.LocationSample) {
	ctx, cancel := context.WithTimeout(context.Background(), placeResolveTimeout)
	defer cancel()

	city, conditions := c.resolvePlace(ctx, at, "", nil)

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation {
		return
	}
	if c.city == "" {
		c.city = city
	}
	if c.conditions == nil {
		c.conditions = conditions
	}
}
