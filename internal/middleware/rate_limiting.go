package middleware

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"

	"github.com/go-redis/redis_rate/v9"
	log "github.com/sirupsen/logrus"

	"github.com/2beens/stridewatch/pkg"
)

type RequestRateLimiter interface {
	Allow(ctx context.Context, key string, limit redis_rate.Limit) (*redis_rate.Result, error)
}

// RateLimit allows allowedPerMin requests per client address on the named route group.
func RateLimit(rateLimiter RequestRateLimiter, group string, allowedPerMin int) func(next http.Handler) http.Handler {
	limit := redis_rate.PerMinute(allowedPerMin)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := rateLimitKey(group, r)
			res, err := rateLimiter.Allow(r.Context(), key, limit)
			if err != nil {
				log.Errorf("rate limit: %s: %s", key, err)
				http.Error(w, "rate limit internal error", http.StatusInternalServerError)
				return
			}

			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
			if res.Allowed > 0 {
				next.ServeHTTP(w, r)
				return
			}

			retryAfter := int(math.Ceil(res.RetryAfter.Seconds()))
			log.Debugf("rate limit: %s exceeded, retry after %ds", key, retryAfter)
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			http.Error(w, fmt.Sprintf("retry after %d seconds", retryAfter), http.StatusTooManyRequests)
		})
	}
}

func rateLimitKey(group string, r *http.Request) string {
	ip, err := pkg.ClientIP(r)
	if err != nil {
		return group
	}
	return group + ":" + ip
}
