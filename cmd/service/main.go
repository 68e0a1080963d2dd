package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/2beens/stridewatch/internal"
	"github.com/2beens/stridewatch/internal/config"
	"github.com/2beens/stridewatch/internal/eventlog"
	"github.com/2beens/stridewatch/internal/logging"
)

func main() {
	fmt.Println("starting ...")

	env := flag.String("env", "development", "environment [prod | production | dev | development]")
	configPath := flag.String("config", "./config.toml", "path for the TOML config file")
	flag.Parse()

	log.Warnf("---->> running in [%s] environment", *env)

	cfg, err := config.Load(*env, *configPath)
	if err != nil {
		panic(err)
	}

	redisPassword := os.Getenv("STRIDEWATCH_REDIS_PASS")
	rdb := internal.NewRedisClient(cfg, redisPassword)
	eventLog := eventlog.NewLog(rdb, eventlog.DefaultKey, cfg.EventLogMaxEntries)

	sentryDSN := os.Getenv("SENTRY_DSN")
	logging.Setup(logging.LoggerSetupParams{
		LogFileName:      cfg.LogsPath,
		LogToStdout:      cfg.LogToStdout,
		LogLevel:         cfg.LogLevel,
		LogFormatJSON:    false,
		Environment:      cfg.Environment,
		SentryEnabled:    cfg.SentryEnabled,
		SentryDSN:        sentryDSN,
		SentryServerName: "stridewatch",
		ExtraHooks:       []log.Hook{eventlog.NewHook(eventLog)},
	})

	log.Debugf("using port: %d", cfg.Port)
	log.Debugf("using server logs path: [%s]", cfg.LogsPath)

	if redisPassword == "" {
		log.Errorf("redis password not set. use STRIDEWATCH_REDIS_PASS")
	}

	openWeatherApiKey := os.Getenv("OPEN_WEATHER_API_KEY")
	if openWeatherApiKey == "" {
		log.Errorf("open weather API key not set, use OPEN_WEATHER_API_KEY env var to set it")
	}

	deviceSecret := os.Getenv("STRIDEWATCH_DEVICE_SECRET")
	if deviceSecret == "" {
		log.Errorf("device secret not set, all API requests will be rejected. use STRIDEWATCH_DEVICE_SECRET")
	}

	postgresUser := os.Getenv("STRIDEWATCH_POSTGRES_USER")
	postgresPassword := os.Getenv("STRIDEWATCH_POSTGRES_PASS")
	if postgresUser == "" {
		log.Warnln("postgres user not set, using the default one. use STRIDEWATCH_POSTGRES_USER")
	}

	if otelServiceName := os.Getenv("OTEL_SERVICE_NAME"); otelServiceName == "" {
		log.Warnln("OTEL_SERVICE_NAME env var not set")
	}

	honeycombEnabled := os.Getenv("HONEYCOMB_ENABLED") == "true"
	if honeycombEnabled {
		if honeycombApiKey := os.Getenv("HONEYCOMB_API_KEY"); honeycombApiKey == "" {
			log.Warnln("HONEYCOMB_API_KEY env var not set")
		}
	} else {
		log.Debugln("honeycomb tracing disabled")
	}

	chOsInterrupt := make(chan os.Signal, 1)
	signal.Notify(chOsInterrupt, os.Interrupt, syscall.SIGTERM)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	server, err := internal.NewServer(
		ctx,
		internal.NewServerParams{
			Config:                  cfg,
			RedisClient:             rdb,
			EventLog:                eventLog,
			OpenWeatherApiKey:       openWeatherApiKey,
			DeviceSecret:            deviceSecret,
			PostgresUser:            postgresUser,
			PostgresPassword:        postgresPassword,
			HoneycombTracingEnabled: honeycombEnabled,
		},
	)
	if err != nil {
		log.Fatalf("new server: %s", err)
	}

	server.Serve(cfg.Host, cfg.Port)

	receivedSig := <-chOsInterrupt
	log.Warnf("signal [%s] received, shutting down ...", receivedSig)
	cancel()

	server.GracefulShutdown()
}
