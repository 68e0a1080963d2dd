package weather

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const accraResponse = `{
  "coord": {"lon": -0.187, "lat": 5.6037},
  "weather": [{"id": 801, "main": "Clouds", "description": "few clouds", "icon": "02d"}],
  "main": {"temp": 28.4, "feels_like": 32.1, "temp_min": 28.4, "temp_max": 28.4, "pressure": 1011, "humidity": 78},
  "wind": {"speed": 4.1, "deg": 200},
  "dt": 1777608000,
  "timezone": 0,
  "id": 2306104,
  "name": "Accra",
  "cod": 200
}`

func TestApi_Current(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/weather", r.URL.Path)
		assert.Equal(t, "5.6037", r.URL.Query().Get("lat"))
		assert.Equal(t, "-0.1870", r.URL.Query().Get("lon"))
		assert.Equal(t, "metric", r.URL.Query().Get("units"))
		assert.Equal(t, "test-key", r.URL.Query().Get("appid"))
		_, _ = w.Write([]byte(accraResponse))
	}))
	defer server.Close()

	api := NewApi(server.URL, "test-key", "", server.Client())

	conditions, err := api.Current(context.Background(), 5.6037, -0.1870)
	require.NoError(t, err)
	assert.Equal(t, 28.4, conditions.Temperature)
	assert.Equal(t, "02d", conditions.Symbol)
	assert.Equal(t, "few clouds", conditions.Description)

	// served from cache
	conditions, err = api.Current(context.Background(), 5.6041, -0.1869)
	require.NoError(t, err)
	assert.Equal(t, "02d", conditions.Symbol)
	assert.Equal(t, int32(1), calls.Load())
}

func TestApi_CurrentErrors(t *testing.T) {
	t.Run("status not ok", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"cod":401,"message":"Invalid API key"}`))
		}))
		defer server.Close()

		_, err := NewApi(server.URL, "bad", "metric", server.Client()).Current(context.Background(), 1, 1)
		assert.Error(t, err)
	})

	t.Run("no weather descriptions", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			_, _ = w.Write([]byte(`{"main":{"temp":10},"weather":[]}`))
		}))
		defer server.Close()

		api := NewApi(server.URL, "key", "metric", server.Client())
		_, err := api.Current(context.Background(), 1, 1)
		assert.ErrorIs(t, err, ErrNoData)
		_, err = api.Current(context.Background(), 1, 1)
		assert.ErrorIs(t, err, ErrNoData)
		assert.Equal(t, int32(2), calls.Load(), "empty responses are not cached")
	})

	t.Run("malformed body", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{not json`))
		}))
		defer server.Close()

		_, err := NewApi(server.URL, "key", "metric", server.Client()).Current(context.Background(), 1, 1)
		assert.Error(t, err)
	})
}
