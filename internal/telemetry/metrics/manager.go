package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Manager struct {
	// counters
	CounterRequests           *prometheus.CounterVec
	CounterHandleRequestPanic prometheus.Counter
	CounterSessionsStarted    prometheus.Counter
	CounterPromptsShown       prometheus.Counter
	CounterPromptOutcomes     *prometheus.CounterVec
	CounterDrivingPrompts     prometheus.Counter
	CounterMilesCrossed       prometheus.Counter
	CounterFinalizeFailures   prometheus.Counter
	CounterSafetyTimeouts     prometheus.Counter
	CounterDeviceSamples      *prometheus.CounterVec

	// gauges
	GaugeRequests        prometheus.Gauge
	GaugeLifeSignal      prometheus.Gauge
	GaugeBufferedSamples prometheus.Gauge

	// histograms
	HistFinalizeDuration     prometheus.Histogram
	HistogramRequestDuration *prometheus.HistogramVec
}

func NewTestManager() *Manager {
	return NewManager("stridewatch", "test_server", prometheus.NewRegistry())
}

func NewTestManagerAndRegistry() (*Manager, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	return NewManager("stridewatch", "test_server", reg), reg
}

func NewManager(namespace, subsystem string, reg prometheus.Registerer) *Manager {
	factory := promauto.With(reg)

	counterRequests := factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "request",
		Help:      "The total number of incoming requests",
	}, []string{"method", "status"})
	counterHandleRequestPanic := factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "handle_request_panic",
		Help:      "The total number of serve request panics",
	})
	counterSessionsStarted := factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "sessions_started",
		Help:      "The total number of started workout sessions",
	})
	counterPromptsShown := factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "workout_prompts_shown",
		Help:      "The total number of workout-detected prompts shown",
	})
	counterPromptOutcomes := factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "workout_prompt_outcomes",
		Help:      "Resolutions of buffering cycles: confirmed, declined, dismissed, expired, cleared",
	}, []string{"outcome"})
	counterDrivingPrompts := factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "driving_prompts",
		Help:      "The total number of are-you-driving prompts raised",
	})
	counterMilesCrossed := factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "miles_crossed",
		Help:      "The total number of mile boundaries crossed during sessions",
	})
	counterFinalizeFailures := factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "finalize_failures",
		Help:      "The total number of finalize runs with at least one failed step",
	})
	counterSafetyTimeouts := factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "finalize_safety_timeouts",
		Help:      "The total number of sessions terminated by the stop safety timeout",
	})
	counterDeviceSamples := factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "device_samples",
		Help:      "Samples received from the device, per kind",
	}, []string{"kind"})

	gaugeRequests := factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "current_requests",
		Help:      "Current number of requests served",
	})
	gaugeLifeSignal := factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "life_signal",
		Help:      "Shows whether the service is alive",
	})
	gaugeBufferedSamples := factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "buffered_location_samples",
		Help:      "Location samples buffered while awaiting workout confirmation",
	})

	histFinalizeDuration := factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			Name:      "finalize_duration_seconds",
			Help:      "Duration of a single finalize run in seconds",
		},
	)

	histogramRequestDuration := factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "request_duration_seconds",
		Help:      "Histogram of response time for requests in seconds",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
	}, []string{"route", "method", "status_code"})

	return &Manager{
		CounterRequests:           counterRequests,
		CounterHandleRequestPanic: counterHandleRequestPanic,
		CounterSessionsStarted:    counterSessionsStarted,
		CounterPromptsShown:       counterPromptsShown,
		CounterPromptOutcomes:     counterPromptOutcomes,
		CounterDrivingPrompts:     counterDrivingPrompts,
		CounterMilesCrossed:       counterMilesCrossed,
		CounterFinalizeFailures:   counterFinalizeFailures,
		CounterSafetyTimeouts:     counterSafetyTimeouts,
		CounterDeviceSamples:      counterDeviceSamples,
		GaugeRequests:             gaugeRequests,
		GaugeLifeSignal:           gaugeLifeSignal,
		GaugeBufferedSamples:      gaugeBufferedSamples,
		HistFinalizeDuration:      histFinalizeDuration,
		HistogramRequestDuration:  histogramRequestDuration,
	}
}
