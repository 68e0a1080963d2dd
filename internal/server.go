package internal

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/IBM/pgxpoolprometheus"
	"github.com/getsentry/sentry-go"
	"github.com/go-redis/redis/v8"
	"github.com/go-redis/redis_rate/v9"
	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gorilla/mux/otelmux"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/2beens/stridewatch/internal/api"
	"github.com/2beens/stridewatch/internal/config"
	"github.com/2beens/stridewatch/internal/db"
	"github.com/2beens/stridewatch/internal/device"
	"github.com/2beens/stridewatch/internal/eventlog"
	"github.com/2beens/stridewatch/internal/gate"
	"github.com/2beens/stridewatch/internal/geocode"
	"github.com/2beens/stridewatch/internal/middleware"
	"github.com/2beens/stridewatch/internal/notify"
	"github.com/2beens/stridewatch/internal/providers"
	"github.com/2beens/stridewatch/internal/recording"
	"github.com/2beens/stridewatch/internal/session"
	"github.com/2beens/stridewatch/internal/telemetry/metrics"
	"github.com/2beens/stridewatch/internal/telemetry/tracing"
	"github.com/2beens/stridewatch/internal/timer"
	"github.com/2beens/stridewatch/internal/weather"
	"github.com/2beens/stridewatch/internal/workout"
)

type Server struct {
	httpServer        *http.Server
	metricsHttpServer *http.Server
	deviceSecret      string // shared with the companion app, sent in X-Device-Secret

	config      *config.Config
	dbPool      *pgxpool.Pool
	redisClient *redis.Client
	recording   *recording.Service
	eventLog    *eventlog.Log
	workout     *workoutComponents

	// metrics
	metricsManager *metrics.Manager
	promRegistry   *prometheus.Registry
	otelShutdown   func()
}

type NewServerParams struct {
	Config                  *config.Config
	RedisClient             *redis.Client
	EventLog                *eventlog.Log
	OpenWeatherApiKey       string
	DeviceSecret            string
	PostgresUser            string
	PostgresPassword        string
	HoneycombTracingEnabled bool
}

// workoutComponents are the device feeds and the two state machines built on top of them.
type workoutComponents struct {
	positions  *device.PositionFeed
	motion     *device.MotionFeed
	steps      *device.StepFeed
	controller *session.Controller
	gate       *gate.Gate
}

func NewRedisClient(cfg *config.Config, password string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     net.JoinHostPort(cfg.RedisHost, cfg.RedisPort),
		Password: password,
		DB:       0, // use default DB
	})
}

func NewServer(
	ctx context.Context,
	params NewServerParams,
) (*Server, error) {
	cfg := params.Config
	dbPool, err := db.NewDBPool(ctx, db.NewDBPoolParams{
		DBHost:         cfg.PostgresHost,
		DBPort:         cfg.PostgresPort,
		DBName:         cfg.PostgresDBName,
		DBUser:         params.PostgresUser,
		DBPassword:     params.PostgresPassword,
		TracingEnabled: params.HoneycombTracingEnabled,
	})
	if err != nil {
		return nil, fmt.Errorf("new db pool: %w", err)
	}

	if err := dbPool.Ping(ctx); err != nil {
		log.Warnf("failed to ping db: %s", err)
	}

	pgxpoolCollector := pgxpoolprometheus.NewCollector(
		dbPool,
		map[string]string{"db_name": cfg.PostgresDBName},
	)
	promRegistry := metrics.SetupPrometheus(pgxpoolCollector)
	metricsManager := metrics.NewManager("stridewatch", "main", promRegistry)
	metricsManager.GaugeLifeSignal.Set(0)

	store := recording.NewStore(dbPool)
	if err := store.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure recording schema: %w", err)
	}

	rdb := params.RedisClient
	if rdb == nil {
		return nil, errors.New("redis client not provided")
	}
	rdbStatus := rdb.Ping(ctx)
	if err := rdbStatus.Err(); err != nil {
		log.Errorf("--> failed to ping redis: %s", err)
	} else {
		log.Debugf("redis ping: %s", rdbStatus.Val())
	}

	// use honeycomb distro to setup OpenTelemetry SDK
	otelShutdown, err := tracing.HoneycombSetup(params.HoneycombTracingEnabled, "stridewatch", rdb)
	if err != nil {
		return nil, err
	}

	tracedHttpClient := &http.Client{
		Transport: otelhttp.NewTransport(http.DefaultTransport),
		Timeout:   10 * time.Second,
	}

	recordingService := recording.NewService(store)
	components := newWorkoutComponents(
		cfg,
		recordingService,
		weather.NewApi(cfg.OpenWeatherApiUrl, params.OpenWeatherApiKey, cfg.OpenWeatherUnits, tracedHttpClient),
		geocode.NewApi(cfg.NominatimUrl, cfg.NominatimUserAgent, tracedHttpClient, rdb, redis_rate.NewLimiter(rdb)),
		notify.NewPublisher(rdb),
		timer.NewRealScheduler(),
		metricsManager,
	)
	if err := components.gate.Monitor(); err != nil {
		log.Warnf("automatic workout detection off: %s", err)
	}

	eventLog := params.EventLog
	if eventLog == nil {
		eventLog = eventlog.NewLog(rdb, eventlog.DefaultKey, cfg.EventLogMaxEntries)
	}

	return &Server{
		config:       cfg,
		dbPool:       dbPool,
		redisClient:  rdb,
		deviceSecret: params.DeviceSecret,
		recording:    recordingService,
		eventLog:     eventLog,
		workout:      components,

		// telemetry
		metricsManager: metricsManager,
		promRegistry:   promRegistry,
		otelShutdown:   otelShutdown,
	}, nil
}

func newWorkoutComponents(
	cfg *config.Config,
	recordingService providers.RecordingService,
	weatherService providers.WeatherService,
	geocoder providers.ReverseGeocoder,
	publisher *notify.Publisher,
	scheduler timer.Scheduler,
	metricsManager *metrics.Manager,
) *workoutComponents {
	c := &workoutComponents{
		positions: device.NewPositionFeed(),
		motion:    device.NewMotionFeed(cfg.MotionAvailable),
		steps:     device.NewStepFeed(cfg.PedometerAvailable),
	}

	c.controller = session.NewController(
		recordingService,
		c.positions,
		c.steps,
		weatherService,
		geocoder,
		publisher,
		scheduler,
		metricsManager,
		SessionParams(cfg),
	)
	c.gate = gate.NewGate(
		c.motion,
		c.positions,
		publisher,
		c.controller,
		scheduler,
		metricsManager,
		GateParams(cfg),
	)
	c.controller.AttachGate(c.gate)

	return c
}

// SessionParams maps the config onto the session controller parameters.
func SessionParams(cfg *config.Config) session.Params {
	params := session.DefaultParams()
	if kind, err := workout.ParseActivityKind(cfg.ActivityKind); err == nil {
		params.ActivityKind = kind
	}
	params.MaxSpeeds = map[workout.ActivityKind]float64{
		workout.ActivityWalking: cfg.MaxWalkingSpeedMps,
		workout.ActivityRunning: cfg.MaxRunningSpeedMps,
	}
	params.HighSpeedSamples = cfg.HighSpeedSamples
	params.SafetyTimeout = time.Duration(cfg.SafetyTimeoutSec) * time.Second
	params.FinalizeTimeout = time.Duration(cfg.FinalizeTimeoutSec) * time.Second
	params.ResolvePlaceEarly = cfg.ResolvePlaceEarly
	return params
}

func GateParams(cfg *config.Config) gate.Params {
	return gate.Params{
		DetectionThreshold: time.Duration(cfg.DetectionThresholdSec) * time.Second,
		MaxBuffering:       time.Duration(cfg.MaxBufferingSec) * time.Second,
		AutoDismiss:        time.Duration(cfg.AutoDismissSec) * time.Second,
	}
}

func (s *Server) routerSetup(rateLimiter middleware.RequestRateLimiter) *mux.Router {
	r := mux.NewRouter()
	r.Use(otelmux.Middleware("main-router"))

	deviceRouter := r.PathPrefix("/device").Subrouter()
	api.NewDeviceHandler(
		deviceRouter,
		s.workout.positions,
		s.workout.motion,
		s.workout.steps,
		s.recording,
		s.metricsManager,
	)
	deviceRouter.Use(middleware.DeviceAuth(s.deviceSecret))
	deviceRouter.Use(middleware.RateLimit(rateLimiter, "device", s.config.DeviceRequestsPerMin))

	appRouter := r.NewRoute().Subrouter()
	api.NewWorkoutHandler(appRouter, s.workout.controller, s.workout.gate, s.recording)
	api.NewLogHandler(appRouter, s.eventLog)
	appRouter.Use(middleware.DeviceAuth(s.deviceSecret))

	// all the rest - unhandled paths
	r.HandleFunc("/{unknown}", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}).Methods("GET", "POST", "PUT", "OPTIONS").Name("unknown")

	r.Use(middleware.PanicRecovery(s.metricsManager))
	r.Use(middleware.LogRequest())
	r.Use(middleware.RequestMetrics(s.metricsManager))
	r.Use(middleware.Cors(s.config.AllowedOrigins...))
	r.Use(middleware.DrainAndCloseRequest())

	return r
}

func (s *Server) Serve(host string, port int) {
	router := s.routerSetup(redis_rate.NewLimiter(s.redisClient))

	ipAndPort := net.JoinHostPort(host, strconv.Itoa(port))
	s.httpServer = &http.Server{
		Handler:      router,
		Addr:         ipAndPort,
		WriteTimeout: time.Minute,
		ReadTimeout:  time.Minute,
		ConnState:    s.connStateMetrics,
	}

	metricsRouter := mux.NewRouter()
	metricsRouter.Handle("/metrics", promhttp.InstrumentMetricHandler(
		s.promRegistry,
		promhttp.HandlerFor(s.promRegistry, promhttp.HandlerOpts{}),
	))
	metricsAddr := net.JoinHostPort(s.config.PrometheusMetricsHost, s.config.PrometheusMetricsPort)
	s.metricsHttpServer = &http.Server{
		Addr:    metricsAddr,
		Handler: metricsRouter,
	}

	go func() {
		log.Infof(" > server listening on: [%s]", ipAndPort)
		err := s.httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("main service, listen and serve: %s", err)
		}
	}()

	go func() {
		log.Debugf(" > metrics listening on: [%s]", metricsAddr)
		err := s.metricsHttpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("metrics service, listen and serve: %s", err)
		}
	}()

	s.metricsManager.GaugeLifeSignal.Set(1)
}

// GracefulShutdown stops an in-flight workout so it gets persisted, then closes everything down.
func (s *Server) GracefulShutdown() {
	log.Debug("graceful shutdown initiated ...")

	s.metricsManager.GaugeLifeSignal.Set(0)

	if s.workout != nil {
		s.stopActiveWorkout()
	}

	maxWaitDuration := time.Second * 15
	ctx, timeoutCancel := context.WithTimeout(context.Background(), maxWaitDuration)
	defer timeoutCancel()

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			log.Error(" >>> failed to gracefully shutdown http server")
		}
		log.Warnln("server shut down")
	}

	if s.metricsHttpServer != nil {
		if err := s.metricsHttpServer.Shutdown(ctx); err != nil {
			log.Error(" >>> failed to gracefully shutdown metrics http server")
		}
		log.Warnln("metrics server shut down")
	}

	s.otelShutdown()
	log.Trace("otel shut down ...")

	if s.redisClient != nil {
		if err := s.redisClient.Close(); err != nil {
			log.Errorf("failed to close redis client conn: %s", err)
		}
	}

	if s.dbPool != nil {
		log.Debugln("closing db pool ...")
		s.dbPool.Close() // blocking operation
		log.Debugln("db pool closed")
	}

	if ok := sentry.Flush(5 * time.Second); ok {
		log.Debugf("sentry flush ok: %t", ok)
	}
}

func (s *Server) stopActiveWorkout() {
	err := s.workout.controller.Stop(context.Background())
	switch {
	case errors.Is(err, session.ErrNoActiveSession):
		return
	case err != nil:
		log.Errorf("failed to stop active workout on shutdown: %s", err)
		return
	}

	deadline := time.Now().Add(SessionParams(s.config).SafetyTimeout + time.Second)
	for time.Now().Before(deadline) {
		if !s.workout.controller.Status().SavingInProgress {
			log.Infoln("active workout saved on shutdown")
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	log.Warnln("active workout not saved before shutdown")
}

func (s *Server) connStateMetrics(_ net.Conn, state http.ConnState) {
	switch state {
	case http.StateNew:
		s.metricsManager.GaugeRequests.Add(1)
	case http.StateClosed:
		s.metricsManager.GaugeRequests.Add(-1)
	default:
		// do nothing
	}
}
