package recording

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"go.opentelemetry.io/otel/attribute"

	"github.com/2beens/stridewatch/internal/telemetry/tracing"
	"github.com/2beens/stridewatch/internal/workout"
)

var ErrWorkoutNotFound = errors.New("workout not found")

// Schema creates the tables the store works with.
const Schema = `
CREATE TABLE IF NOT EXISTS public.workout
(
    id            uuid PRIMARY KEY,
    activity_kind text NOT NULL,
    started_at    timestamptz NOT NULL,
    ended_at      timestamptz,
    metadata      jsonb NOT NULL DEFAULT '{}'::jsonb,
    route_points  integer NOT NULL DEFAULT 0,
    finished      boolean NOT NULL DEFAULT false
);

CREATE TABLE IF NOT EXISTS public.route_point
(
    workout_id          uuid NOT NULL REFERENCES public.workout (id) ON DELETE CASCADE,
    seq                 integer NOT NULL,
    latitude            double precision NOT NULL,
    longitude           double precision NOT NULL,
    altitude            double precision NOT NULL,
    horizontal_accuracy double precision NOT NULL,
    speed               double precision NOT NULL,
    course              double precision NOT NULL,
    recorded_at         timestamptz NOT NULL,
    PRIMARY KEY (workout_id, seq)
);
`

var routePointColumns = []string{
	"workout_id", "seq", "latitude", "longitude", "altitude",
	"horizontal_accuracy", "speed", "course", "recorded_at",
}

// Querier is the subset of pgxpool.Pool the store uses.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

type Store struct {
	db Querier
}

func NewStore(db Querier) *Store {
	return &Store{db: db}
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

func (s *Store) CreateWorkout(ctx context.Context, id string, kind workout.ActivityKind, startedAt time.Time) (err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "recording.store.create")
	defer tracing.EndSpanWithErrCheck(span, &err)
	span.SetAttributes(attribute.String("workout_id", id))

	_, err = s.db.Exec(
		ctx,
		`INSERT INTO workout (id, activity_kind, started_at) VALUES ($1, $2, $3);`,
		id, kind.String(), startedAt,
	)
	return err
}

func (s *Store) EndWorkout(ctx context.Context, id string, endedAt time.Time) (err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "recording.store.end")
	defer tracing.EndSpanWithErrCheck(span, &err)
	span.SetAttributes(attribute.String("workout_id", id))

	tag, err := s.db.Exec(
		ctx,
		`UPDATE workout SET ended_at = $2 WHERE id = $1;`,
		id, endedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrWorkoutNotFound
	}
	return nil
}

// CommitWorkout marks the workout finished with its metadata. The row is created if the
// initial insert never made it.
func (s *Store) CommitWorkout(ctx context.Context, committed workout.CommittedWorkout) (err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "recording.store.commit")
	defer tracing.EndSpanWithErrCheck(span, &err)
	span.SetAttributes(attribute.String("workout_id", committed.ID))

	_, err = s.db.Exec(
		ctx,
		`
			INSERT INTO workout (id, activity_kind, started_at, ended_at, metadata, finished)
			VALUES ($1, $2, $3, $4, $5, true)
			ON CONFLICT (id) DO UPDATE
			SET ended_at = EXCLUDED.ended_at, metadata = EXCLUDED.metadata, finished = true;`,
		committed.ID,
		committed.ActivityKind.String(),
		committed.StartedAt,
		committed.EndedAt,
		committed.Metadata,
	)
	return err
}

// InsertRoutePoints copies the samples in a single transaction, numbering them from firstSeq.
func (s *Store) InsertRoutePoints(
	ctx context.Context,
	workoutID string,
	firstSeq int,
	samples []workout.LocationSample,
) (err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "recording.store.route.insert")
	defer tracing.EndSpanWithErrCheck(span, &err)
	span.SetAttributes(
		attribute.String("workout_id", workoutID),
		attribute.Int("samples", len(samples)),
	)

	parsedID, err := uuid.Parse(workoutID)
	if err != nil {
		return fmt.Errorf("invalid workout id %q: %w", workoutID, err)
	}
	// copy uses the binary protocol, which needs a real uuid value
	id := pgtype.UUID{Bytes: parsedID, Valid: true}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			if rollbackErr := tx.Rollback(ctx); rollbackErr != nil {
				err = fmt.Errorf("failed to rollback transaction: %w: %w", rollbackErr, err)
			}
		} else {
			err = tx.Commit(ctx)
		}
	}()

	rows := make([][]any, 0, len(samples))
	for i, sample := range samples {
		rows = append(rows, []any{
			id,
			firstSeq + i,
			sample.Latitude,
			sample.Longitude,
			sample.Altitude,
			sample.HorizontalAccuracy,
			sample.Speed,
			sample.Course,
			sample.Timestamp,
		})
	}

	copied, err := tx.CopyFrom(ctx, pgx.Identifier{"route_point"}, routePointColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return err
	}
	if copied != int64(len(samples)) {
		return fmt.Errorf("copied %d route points, expected %d", copied, len(samples))
	}
	return nil
}

func (s *Store) FinishRoute(ctx context.Context, workoutID string, points int) (err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "recording.store.route.finish")
	defer tracing.EndSpanWithErrCheck(span, &err)

	tag, err := s.db.Exec(
		ctx,
		`UPDATE workout SET route_points = $2 WHERE id = $1 AND finished;`,
		workoutID, points,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrWorkoutNotFound
	}
	return nil
}

// List returns finished workouts, most recent first.
func (s *Store) List(ctx context.Context, limit int) (_ []workout.CommittedWorkout, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "recording.store.list")
	defer tracing.EndSpanWithErrCheck(span, &err)

	rows, err := s.db.Query(
		ctx,
		`
			SELECT
				id, activity_kind, started_at, ended_at, metadata, route_points
			FROM workout
			WHERE finished
			ORDER BY started_at DESC
			LIMIT $1;`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var workouts []workout.CommittedWorkout
	for rows.Next() {
		var w workout.CommittedWorkout
		var kind string
		if err := rows.Scan(&w.ID, &kind, &w.StartedAt, &w.EndedAt, &w.Metadata, &w.RoutePoints); err != nil {
			return nil, fmt.Errorf("rows scan: %w", err)
		}
		w.ActivityKind = workout.ActivityKind(kind)
		workouts = append(workouts, w)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return workouts, nil
}

// Route returns the stored route of a workout in recording order.
func (s *Store) Route(ctx context.Context, workoutID string) (_ []workout.LocationSample, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "recording.store.route.get")
	defer tracing.EndSpanWithErrCheck(span, &err)

	rows, err := s.db.Query(
		ctx,
		`
			SELECT
				latitude, longitude, altitude, horizontal_accuracy, speed, course, recorded_at
			FROM route_point
			WHERE workout_id = $1
			ORDER BY seq;`,
		workoutID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var samples []workout.LocationSample
	for rows.Next() {
		var p workout.LocationSample
		if err := rows.Scan(
			&p.Latitude, &p.Longitude, &p.Altitude, &p.HorizontalAccuracy, &p.Speed, &p.Course, &p.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("rows scan: %w", err)
		}
		samples = append(samples, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return samples, nil
}
