package middleware

import (
	"io"
	"net/http"
)

// leftovers beyond this are not worth reading, the connection is dropped instead
const maxDrainBytes = 64 << 10

// DrainAndCloseRequest reads what a handler left of the request body so the keep-alive
// connection can serve the device's next upload.
func DrainAndCloseRequest() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r)
			if r.Body == nil || r.Body == http.NoBody {
				return
			}
			_, _ = io.CopyN(io.Discard, r.Body, maxDrainBytes)
			_ = r.Body.Close()
		})
	}
}
