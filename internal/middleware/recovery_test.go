package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/2beens/stridewatch/internal/telemetry/metrics"
)

func TestPanicRecovery(t *testing.T) {
	for caseName, tc := range map[string]struct {
		panicWith      any
		expectedCode   int
		expectedPanics float64
	}{
		"no panic":      {expectedCode: http.StatusOK},
		"string panic":  {panicWith: "nil aggregator", expectedCode: http.StatusInternalServerError, expectedPanics: 1},
		"runtime error": {panicWith: assert.AnError, expectedCode: http.StatusInternalServerError, expectedPanics: 1},
	} {
		t.Run(caseName, func(t *testing.T) {
			metricsManager := metrics.NewTestManager()
			called := false
			next := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
				called = true
				if tc.panicWith != nil {
					panic(tc.panicWith)
				}
			})

			rr := httptest.NewRecorder()
			PanicRecovery(metricsManager)(next).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/workout/stop", nil))

			assert.True(t, called)
			assert.Equal(t, tc.expectedCode, rr.Code)
			assert.Equal(t, tc.expectedPanics, testutil.ToFloat64(metricsManager.CounterHandleRequestPanic))
		})
	}
}

func TestPanicRecovery_AbortHandlerPropagates(t *testing.T) {
	next := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic(http.ErrAbortHandler)
	})

	assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
		PanicRecovery(nil)(next).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/workout", nil))
	})
}
