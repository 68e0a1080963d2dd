package weather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/coocood/freecache"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/2beens/stridewatch/internal/telemetry/tracing"
	"github.com/2beens/stridewatch/internal/workout"
)

// example API call
// https://api.openweathermap.org/data/2.5/weather?lat=5.6037&lon=-0.1870&units=metric&appid={api_key}

const (
	oneHour            = 60 * 60
	weatherCacheExpire = oneHour / 2
)

var ErrNoData = errors.New("no weather data")

type Api struct {
	cache             *freecache.Cache
	openWeatherApiUrl string // https://api.openweathermap.org/data/2.5
	openWeatherApiKey string
	units             string
	httpClient        *http.Client
}

func NewApi(openWeatherApiUrl, openWeatherApiKey, units string, httpClient *http.Client) *Api {
	megabyte := 1024 * 1024
	cacheSize := 10 * megabyte

	if units == "" {
		units = "metric"
	}

	return &Api{
		openWeatherApiUrl: openWeatherApiUrl,
		openWeatherApiKey: openWeatherApiKey,
		units:             units,
		cache:             freecache.NewCache(cacheSize),
		httpClient:        httpClient,
	}
}

// Current returns the current conditions at the given coordinate. Coordinates are rounded to
// two decimals (roughly one kilometer) for caching.
func (w *Api) Current(ctx context.Context, lat, lon float64) (_ *workout.Conditions, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "weatherApi.current")
	defer tracing.EndSpanWithErrCheck(span, &err)
	span.SetAttributes(attribute.Float64("lat", lat), attribute.Float64("lon", lon))

	// must initialize it, otherwise json.Unmarshal(...) below fails
	weatherApiResponse := &ApiResponse{}

	cacheKey := fmt.Sprintf("current::%.2f:%.2f", lat, lon)
	if cachedBytes, cacheErr := w.cache.Get([]byte(cacheKey)); cacheErr == nil {
		if err := json.Unmarshal(cachedBytes, weatherApiResponse); err == nil {
			log.Tracef("weather-api: found current weather for %s in cache", cacheKey)
			return weatherApiResponse.Conditions()
		} else {
			log.Errorf("weather-api: unmarshal cached weather for %s: %s", cacheKey, err)
		}
	}

	query := url.Values{}
	query.Set("lat", fmt.Sprintf("%.4f", lat))
	query.Set("lon", fmt.Sprintf("%.4f", lon))
	query.Set("units", w.units)
	query.Set("appid", w.openWeatherApiKey)
	weatherApiUrl := fmt.Sprintf("%s/weather?%s", w.openWeatherApiUrl, query.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, weatherApiUrl, nil)
	if err != nil {
		return nil, err
	}

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http client do: %w", err)
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read weather api response bytes: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("weather api returned status %d", resp.StatusCode)
	}

	if err := json.Unmarshal(respBytes, weatherApiResponse); err != nil {
		return nil, fmt.Errorf("failed to unmarshal weather api response bytes: %w", err)
	}

	conditions, err := weatherApiResponse.Conditions()
	if err != nil {
		return nil, err
	}

	if err = w.cache.Set([]byte(cacheKey), respBytes, weatherCacheExpire); err != nil {
		log.Errorf("weather-api: failed to write current weather cache for %s: %s", cacheKey, err)
	}

	return conditions, nil
}
