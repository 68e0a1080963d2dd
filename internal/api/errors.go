// Package api is the HTTP surface of the service: workout control and status for the
// presentation layer, and the ingestion endpoints the device feeds its sensors through.
package api

import (
	"errors"
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/2beens/stridewatch/internal/device"
	"github.com/2beens/stridewatch/internal/gate"
	"github.com/2beens/stridewatch/internal/recording"
	"github.com/2beens/stridewatch/internal/session"
)

const maxBodyBytes = 1 << 20

func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrSessionInProgress),
		errors.Is(err, session.ErrNoActiveSession),
		errors.Is(err, session.ErrNoDrivingPrompt),
		errors.Is(err, gate.ErrNothingPending),
		errors.Is(err, recording.ErrNoActiveSession):
		return http.StatusConflict
	case errors.Is(err, session.ErrRecordingUnavailable),
		errors.Is(err, gate.ErrSensorUnavailable),
		errors.Is(err, device.ErrUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, recording.ErrWorkoutNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, op string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		log.Errorf("api: %s: %s", op, err)
		http.Error(w, op+" failed", status)
		return
	}
	log.Debugf("api: %s: %s", op, err)
	http.Error(w, err.Error(), status)
}

// options answers preflight requests on routes that also accept OPTIONS.
func options(allow string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			w.Header().Set("Allow", allow+", OPTIONS")
			w.WriteHeader(http.StatusOK)
			return
		}
		next(w, r)
	}
}
