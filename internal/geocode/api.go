// Package geocode resolves coordinates to a city name using a Nominatim reverse geocoding endpoint.
package geocode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/go-redis/redis_rate/v9"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/2beens/stridewatch/internal/telemetry/tracing"
)

const (
	cacheTTL        = 30 * 24 * time.Hour
	rateLimiterKey  = "nominatim"
	defaultAgent    = "stridewatch/1.0"
	maxRateAttempts = 5
)

var ErrNotFound = errors.New("no city found for location")

// RateLimiter spaces out calls to the upstream endpoint. Nominatim allows one request per second.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit redis_rate.Limit) (*redis_rate.Result, error)
}

type Api struct {
	nominatimUrl string
	userAgent    string
	httpClient   *http.Client
	redisClient  *redis.Client
	limiter      RateLimiter
}

func NewApi(
	nominatimUrl, userAgent string,
	httpClient *http.Client,
	redisClient *redis.Client,
	limiter RateLimiter,
) *Api {
	if userAgent == "" {
		userAgent = defaultAgent
	}
	return &Api{
		nominatimUrl: nominatimUrl,
		userAgent:    userAgent,
		httpClient:   httpClient,
		redisClient:  redisClient,
		limiter:      limiter,
	}
}

// City returns the city, town or village at the given coordinate. Results are cached in redis
// at roughly 100m resolution.
func (a *Api) City(ctx context.Context, lat, lon float64) (city string, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "geocode.city")
	defer tracing.EndSpanWithErrCheck(span, &err)

	cacheKey := fmt.Sprintf("geocode::%.3f:%.3f", lat, lon)
	if a.redisClient != nil {
		cached, err := a.redisClient.Get(ctx, cacheKey).Result()
		switch {
		case err == nil && cached != "":
			span.SetAttributes(attribute.Bool("geocode.from-cache", true))
			return cached, nil
		case err != nil && !errors.Is(err, redis.Nil):
			log.Errorf("geocode: get cached city for [%s]: %s", cacheKey, err)
		}
	}
	span.SetAttributes(attribute.Bool("geocode.from-cache", false))

	if err := a.waitTurn(ctx); err != nil {
		return "", err
	}

	query := url.Values{}
	query.Set("format", "jsonv2")
	query.Set("lat", fmt.Sprintf("%.6f", lat))
	query.Set("lon", fmt.Sprintf("%.6f", lon))
	query.Set("zoom", "10")
	reverseUrl := fmt.Sprintf("%s/reverse?%s", a.nominatimUrl, query.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reverseUrl, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", a.userAgent)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("http client do: %w", err)
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read reverse geocode response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("reverse geocode returned status %d", resp.StatusCode)
	}

	reverse := &ReverseResponse{}
	if err := json.Unmarshal(respBytes, reverse); err != nil {
		return "", fmt.Errorf("unmarshal reverse geocode response: %w", err)
	}

	city = reverse.City()
	if city == "" {
		return "", ErrNotFound
	}

	if a.redisClient != nil {
		if err := a.redisClient.Set(ctx, cacheKey, city, cacheTTL).Err(); err != nil {
			log.Errorf("geocode: cache city for [%s]: %s", cacheKey, err)
		}
	}

	return city, nil
}

func (a *Api) waitTurn(ctx context.Context) error {
	if a.limiter == nil {
		return nil
	}

	for attempt := 0; attempt < maxRateAttempts; attempt++ {
		res, err := a.limiter.Allow(ctx, rateLimiterKey, redis_rate.PerSecond(1))
		if err != nil {
			// limiter errors do not block the lookup
			log.Warnf("geocode: rate limiter: %s", err)
			return nil
		}
		if res.Allowed > 0 {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(res.RetryAfter):
		}
	}

	return errors.New("geocode: rate limited")
}

type Address struct {
	City         string `json:"city"`
	Town         string `json:"town"`
	Village      string `json:"village"`
	Municipality string `json:"municipality"`
	County       string `json:"county"`
	State        string `json:"state"`
	Country      string `json:"country"`
	CountryCode  string `json:"country_code"`
}

type ReverseResponse struct {
	PlaceID     int     `json:"place_id"`
	DisplayName string  `json:"display_name"`
	Address     Address `json:"address"`
	Error       string  `json:"error"`
}

func (r *ReverseResponse) City() string {
	if r.Error != "" {
		return ""
	}
	for _, name := range []string{r.Address.City, r.Address.Town, r.Address.Village, r.Address.Municipality} {
		if name != "" {
			return name
		}
	}
	return ""
}
