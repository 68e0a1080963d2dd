package api

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"github.com/2beens/stridewatch/internal/device"
	"github.com/2beens/stridewatch/internal/providers"
	"github.com/2beens/stridewatch/internal/telemetry/metrics"
	"github.com/2beens/stridewatch/internal/workout"
	"github.com/2beens/stridewatch/pkg"
)

type PositionPublisher interface {
	Publish(samples []workout.LocationSample) int
}

type MotionPublisher interface {
	Available() bool
	Publish(signal workout.ActivitySignal) bool
}

type StepPublisher interface {
	Available() bool
	Publish(total int) bool
}

type StatisticsPusher interface {
	PushStatistics(stats providers.Statistics) error
}

type LocationsRequest struct {
	Samples []workout.LocationSample `json:"samples"`
}

type StepsRequest struct {
	Total *int `json:"total"`
}

type DeliveryResponse struct {
	Accepted  int  `json:"accepted"`
	Delivered bool `json:"delivered"`
}

// DeviceHandler takes sensor readings pushed by the device and fans them out to the feeds.
type DeviceHandler struct {
	positions      PositionPublisher
	motion         MotionPublisher
	steps          StepPublisher
	statistics     StatisticsPusher
	metricsManager *metrics.Manager
}

func NewDeviceHandler(
	router *mux.Router,
	positions PositionPublisher,
	motion MotionPublisher,
	steps StepPublisher,
	statistics StatisticsPusher,
	metricsManager *metrics.Manager,
) *DeviceHandler {
	handler := &DeviceHandler{
		positions:      positions,
		motion:         motion,
		steps:          steps,
		statistics:     statistics,
		metricsManager: metricsManager,
	}

	router.HandleFunc("/locations", options("POST", handler.handleLocations)).Methods("POST", "OPTIONS").Name("device-locations")
	router.HandleFunc("/motion", options("POST", handler.handleMotion)).Methods("POST", "OPTIONS").Name("device-motion")
	router.HandleFunc("/steps", options("POST", handler.handleSteps)).Methods("POST", "OPTIONS").Name("device-steps")
	router.HandleFunc("/statistics", options("POST", handler.handleStatistics)).Methods("POST", "OPTIONS").Name("device-statistics")

	return handler
}

func (handler *DeviceHandler) handleLocations(w http.ResponseWriter, r *http.Request) {
	var req LocationsRequest
	if err := decodeBody(w, r, &req); err != nil {
		http.Error(w, "invalid locations payload", http.StatusBadRequest)
		return
	}
	if len(req.Samples) == 0 {
		http.Error(w, "error, samples empty", http.StatusBadRequest)
		return
	}

	subscribers := handler.positions.Publish(req.Samples)
	handler.countSamples("location", len(req.Samples))
	log.Tracef("api: %d location samples delivered to %d subscribers", len(req.Samples), subscribers)

	pkg.WriteJSON(w, http.StatusAccepted, DeliveryResponse{
		Accepted:  len(req.Samples),
		Delivered: subscribers > 0,
	})
}

func (handler *DeviceHandler) handleMotion(w http.ResponseWriter, r *http.Request) {
	if !handler.motion.Available() {
		writeError(w, "motion update", device.ErrUnavailable)
		return
	}

	var signal workout.ActivitySignal
	if err := decodeBody(w, r, &signal); err != nil {
		http.Error(w, "invalid motion payload", http.StatusBadRequest)
		return
	}

	delivered := handler.motion.Publish(signal)
	handler.countSamples("motion", 1)

	pkg.WriteJSON(w, http.StatusAccepted, DeliveryResponse{Accepted: 1, Delivered: delivered})
}

func (handler *DeviceHandler) handleSteps(w http.ResponseWriter, r *http.Request) {
	if !handler.steps.Available() {
		writeError(w, "steps update", device.ErrUnavailable)
		return
	}

	var req StepsRequest
	if err := decodeBody(w, r, &req); err != nil {
		http.Error(w, "invalid steps payload", http.StatusBadRequest)
		return
	}
	if req.Total == nil || *req.Total < 0 {
		http.Error(w, "error, total missing or negative", http.StatusBadRequest)
		return
	}

	accepted := handler.steps.Publish(*req.Total)
	handler.countSamples("steps", 1)
	if !accepted {
		log.Debugf("api: step total %d ignored", *req.Total)
	}

	pkg.WriteJSON(w, http.StatusAccepted, DeliveryResponse{Accepted: 1, Delivered: accepted})
}

func (handler *DeviceHandler) handleStatistics(w http.ResponseWriter, r *http.Request) {
	var stats providers.Statistics
	if err := decodeBody(w, r, &stats); err != nil {
		http.Error(w, "invalid statistics payload", http.StatusBadRequest)
		return
	}
	if stats.HeartRate == nil && stats.EnergyBurnedKcal == nil {
		http.Error(w, "error, statistics empty", http.StatusBadRequest)
		return
	}

	if err := handler.statistics.PushStatistics(stats); err != nil {
		writeError(w, "push statistics", err)
		return
	}
	handler.countSamples("statistics", 1)

	pkg.WriteJSON(w, http.StatusAccepted, DeliveryResponse{Accepted: 1, Delivered: true})
}

func (handler *DeviceHandler) countSamples(kind string, n int) {
	if handler.metricsManager == nil {
		return
	}
	handler.metricsManager.CounterDeviceSamples.WithLabelValues(kind).Add(float64(n))
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
}
