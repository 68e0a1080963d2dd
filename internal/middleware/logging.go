package middleware

import (
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/2beens/stridewatch/pkg"
)

func LogRequest() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if log.IsLevelEnabled(log.TraceLevel) {
				client, _ := pkg.ClientIP(r)
				log.WithFields(log.Fields{
					"client": client,
					"ua":     r.Header.Get("User-Agent"),
				}).Tracef("http: %s %s", r.Method, r.URL.Path)
			}
			next.ServeHTTP(w, r)
		})
	}
}
