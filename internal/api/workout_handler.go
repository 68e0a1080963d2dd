package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"github.com/2beens/stridewatch/internal/gate"
	"github.com/2beens/stridewatch/internal/workout"
	"github.com/2beens/stridewatch/pkg"
)

const defaultHistoryLimit = 50

type WorkoutController interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Pause() error
	Resume() error
	DrivingEnd(ctx context.Context) error
	DrivingIgnore() error
	SetActivityKind(kind workout.ActivityKind) error
	Status() workout.Status
	Altitudes() []workout.AltitudeDataPoint
	LastSummary() (workout.Summary, bool)
}

type TriggerGate interface {
	Confirm(ctx context.Context) error
	Decline(ctx context.Context)
	SetEnabled(ctx context.Context, enabled bool)
	Snapshot() gate.Snapshot
}

type WorkoutHistory interface {
	List(ctx context.Context, limit int) ([]workout.CommittedWorkout, error)
	Route(ctx context.Context, workoutID string) ([]workout.LocationSample, error)
}

type WorkoutStatusResponse struct {
	Workout workout.Status `json:"workout"`
	Trigger gate.Snapshot  `json:"trigger"`
}

type WorkoutHandler struct {
	controller WorkoutController
	gate       TriggerGate
	history    WorkoutHistory
}

func NewWorkoutHandler(
	router *mux.Router,
	controller WorkoutController,
	triggerGate TriggerGate,
	history WorkoutHistory,
) *WorkoutHandler {
	handler := &WorkoutHandler{
		controller: controller,
		gate:       triggerGate,
		history:    history,
	}

	router.HandleFunc("/workout", options("GET", handler.handleStatus)).Methods("GET", "OPTIONS").Name("workout-status")
	router.HandleFunc("/workout/summary", options("GET", handler.handleSummary)).Methods("GET", "OPTIONS").Name("workout-summary")
	router.HandleFunc("/workout/altitudes", options("GET", handler.handleAltitudes)).Methods("GET", "OPTIONS").Name("workout-altitudes")
	router.HandleFunc("/workout/start", options("POST", handler.handleStart)).Methods("POST", "OPTIONS").Name("workout-start")
	router.HandleFunc("/workout/stop", options("POST", handler.handleStop)).Methods("POST", "OPTIONS").Name("workout-stop")
	router.HandleFunc("/workout/pause", options("POST", handler.handlePause)).Methods("POST", "OPTIONS").Name("workout-pause")
	router.HandleFunc("/workout/resume", options("POST", handler.handleResume)).Methods("POST", "OPTIONS").Name("workout-resume")
	router.HandleFunc("/workout/confirm", options("POST", handler.handleConfirm)).Methods("POST", "OPTIONS").Name("workout-confirm")
	router.HandleFunc("/workout/decline", options("POST", handler.handleDecline)).Methods("POST", "OPTIONS").Name("workout-decline")
	router.HandleFunc("/workout/driving/end", options("POST", handler.handleDrivingEnd)).Methods("POST", "OPTIONS").Name("workout-driving-end")
	router.HandleFunc("/workout/driving/ignore", options("POST", handler.handleDrivingIgnore)).Methods("POST", "OPTIONS").Name("workout-driving-ignore")
	router.HandleFunc("/workout/trigger", options("PUT", handler.handleTrigger)).Methods("PUT", "OPTIONS").Name("workout-trigger")
	router.HandleFunc("/workout/kind", options("PUT", handler.handleKind)).Methods("PUT", "OPTIONS").Name("workout-kind")
	router.HandleFunc("/workouts", options("GET", handler.handleHistory)).Methods("GET", "OPTIONS").Name("workouts")
	router.HandleFunc("/workouts/{id}/route", options("GET", handler.handleRoute)).Methods("GET", "OPTIONS").Name("workout-route")

	return handler
}

func (handler *WorkoutHandler) handleStatus(w http.ResponseWriter, _ *http.Request) {
	pkg.WriteJSON(w, http.StatusOK, WorkoutStatusResponse{
		Workout: handler.controller.Status(),
		Trigger: handler.gate.Snapshot(),
	})
}

func (handler *WorkoutHandler) handleSummary(w http.ResponseWriter, _ *http.Request) {
	summary, ok := handler.controller.LastSummary()
	if !ok {
		http.Error(w, "no workout summary yet", http.StatusNotFound)
		return
	}
	pkg.WriteJSON(w, http.StatusOK, summary)
}

func (handler *WorkoutHandler) handleAltitudes(w http.ResponseWriter, _ *http.Request) {
	altitudes := handler.controller.Altitudes()
	if altitudes == nil {
		altitudes = []workout.AltitudeDataPoint{}
	}
	pkg.WriteJSON(w, http.StatusOK, altitudes)
}

func (handler *WorkoutHandler) handleStart(w http.ResponseWriter, r *http.Request) {
	if err := handler.controller.Start(r.Context()); err != nil {
		writeError(w, "start workout", err)
		return
	}
	handler.writeStatus(w, http.StatusCreated)
}

func (handler *WorkoutHandler) handleStop(w http.ResponseWriter, r *http.Request) {
	if err := handler.controller.Stop(r.Context()); err != nil {
		writeError(w, "stop workout", err)
		return
	}
	handler.writeStatus(w, http.StatusOK)
}

func (handler *WorkoutHandler) handlePause(w http.ResponseWriter, _ *http.Request) {
	if err := handler.controller.Pause(); err != nil {
		writeError(w, "pause workout", err)
		return
	}
	handler.writeStatus(w, http.StatusOK)
}

func (handler *WorkoutHandler) handleResume(w http.ResponseWriter, _ *http.Request) {
	if err := handler.controller.Resume(); err != nil {
		writeError(w, "resume workout", err)
		return
	}
	handler.writeStatus(w, http.StatusOK)
}

func (handler *WorkoutHandler) handleConfirm(w http.ResponseWriter, r *http.Request) {
	if err := handler.gate.Confirm(r.Context()); err != nil {
		writeError(w, "confirm workout", err)
		return
	}
	handler.writeStatus(w, http.StatusCreated)
}

func (handler *WorkoutHandler) handleDecline(w http.ResponseWriter, r *http.Request) {
	handler.gate.Decline(r.Context())
	handler.writeStatus(w, http.StatusOK)
}

func (handler *WorkoutHandler) handleDrivingEnd(w http.ResponseWriter, r *http.Request) {
	if err := handler.controller.DrivingEnd(r.Context()); err != nil {
		writeError(w, "end driving workout", err)
		return
	}
	handler.writeStatus(w, http.StatusOK)
}

func (handler *WorkoutHandler) handleDrivingIgnore(w http.ResponseWriter, _ *http.Request) {
	if err := handler.controller.DrivingIgnore(); err != nil {
		writeError(w, "ignore driving prompt", err)
		return
	}
	handler.writeStatus(w, http.StatusOK)
}

type triggerRequest struct {
	Enabled *bool `json:"enabled"`
}

func (handler *WorkoutHandler) handleTrigger(w http.ResponseWriter, r *http.Request) {
	var req triggerRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		http.Error(w, "invalid trigger request", http.StatusBadRequest)
		return
	}
	if req.Enabled == nil {
		http.Error(w, "enabled flag missing", http.StatusBadRequest)
		return
	}

	handler.gate.SetEnabled(r.Context(), *req.Enabled)
	pkg.WriteJSON(w, http.StatusOK, handler.gate.Snapshot())
}

type kindRequest struct {
	ActivityKind string `json:"activity_kind"`
}

func (handler *WorkoutHandler) handleKind(w http.ResponseWriter, r *http.Request) {
	var req kindRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		http.Error(w, "invalid activity kind request", http.StatusBadRequest)
		return
	}
	kind, err := workout.ParseActivityKind(req.ActivityKind)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := handler.controller.SetActivityKind(kind); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	log.Infof("api: activity kind for next workouts set to %s", kind)
	w.WriteHeader(http.StatusNoContent)
}

func (handler *WorkoutHandler) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		var err error
		limit, err = strconv.Atoi(limitStr)
		if err != nil || limit <= 0 {
			http.Error(w, "invalid limit provided", http.StatusBadRequest)
			return
		}
	}

	workouts, err := handler.history.List(r.Context(), limit)
	if err != nil {
		writeError(w, "list workouts", err)
		return
	}
	if workouts == nil {
		workouts = []workout.CommittedWorkout{}
	}
	pkg.WriteJSON(w, http.StatusOK, workouts)
}

func (handler *WorkoutHandler) handleRoute(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if id == "" {
		http.Error(w, "workout id missing", http.StatusBadRequest)
		return
	}
	// workout ids are uuids, anything else cannot name a stored workout
	if _, err := uuid.Parse(id); err != nil {
		http.Error(w, "route not found", http.StatusNotFound)
		return
	}

	samples, err := handler.history.Route(r.Context(), id)
	if err != nil {
		writeError(w, "get workout route", err)
		return
	}
	if len(samples) == 0 {
		http.Error(w, "route not found", http.StatusNotFound)
		return
	}
	pkg.WriteJSON(w, http.StatusOK, samples)
}

func (handler *WorkoutHandler) writeStatus(w http.ResponseWriter, statusCode int) {
	pkg.WriteJSON(w, statusCode, WorkoutStatusResponse{
		Workout: handler.controller.Status(),
		Trigger: handler.gate.Snapshot(),
	})
}
