package middleware

import (
	"crypto/subtle"
	"net/http"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/codes"

	"github.com/2beens/stridewatch/internal/telemetry/tracing"
	"github.com/2beens/stridewatch/pkg"
)

const DeviceSecretHeader = "X-Device-Secret"

// DeviceAuth guards the device ingestion routes: requests must carry the shared device secret.
func DeviceAuth(deviceSecret string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, span := tracing.GlobalTracer.Start(r.Context(), "middleware.device-auth")
			defer span.End()

			// preflight requests carry no secret, the route answers them
			if r.Method == http.MethodOptions {
				span.SetStatus(codes.Ok, "options-ok")
				next.ServeHTTP(w, r)
				return
			}

			token := r.Header.Get(DeviceSecretHeader)
			if token == "" {
				log.Tracef("[missing token] [device auth] unauthorized => %s", r.URL.Path)
				http.Error(w, "no can do", http.StatusUnauthorized)
				span.SetStatus(codes.Error, "missing-device-secret")
				return
			}

			if deviceSecret == "" || subtle.ConstantTimeCompare([]byte(token), []byte(deviceSecret)) != 1 {
				reqIp, _ := pkg.ClientIP(r)
				log.Warnf("device auth: invalid device secret for %s from %s", r.URL.Path, reqIp)
				http.Error(w, "no can do", http.StatusUnauthorized)
				span.SetStatus(codes.Error, "invalid-device-secret")
				return
			}

			span.SetStatus(codes.Ok, "ok")
			next.ServeHTTP(w, r)
		})
	}
}
