package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Environment string `toml:"environment"`
	Host        string `toml:"host"`
	Port        int    `toml:"port"`
	// prometheus metrics
	PrometheusMetricsHost string `toml:"prometheus_metrics_host"`
	PrometheusMetricsPort string `toml:"prometheus_metrics_port"`
	// logging
	LogLevel      string `toml:"log_level"`
	LogsPath      string `toml:"logs_path"`
	LogToStdout   bool   `toml:"log_to_stdout"`
	SentryEnabled bool   `toml:"sentry_enabled"`
	// redis
	RedisHost string `toml:"redis_host"`
	RedisPort string `toml:"redis_port"`
	// postgres
	PostgresHost   string `toml:"postgres_host"`
	PostgresPort   string `toml:"postgres_port"`
	PostgresDBName string `toml:"postgres_db_name"`
	// external services
	OpenWeatherApiUrl  string `toml:"open_weather_api_url"`
	OpenWeatherUnits   string `toml:"open_weather_units"`
	NominatimUrl       string `toml:"nominatim_url"`
	NominatimUserAgent string `toml:"nominatim_user_agent"`
	// http api
	AllowedOrigins       []string `toml:"allowed_origins"`
	DeviceRequestsPerMin int      `toml:"device_requests_per_min"`
	EventLogMaxEntries   int      `toml:"event_log_max_entries"`
	// device capabilities
	MotionAvailable    bool `toml:"motion_available"`
	PedometerAvailable bool `toml:"pedometer_available"`
	// activity gate
	DetectionThresholdSec int `toml:"detection_threshold_sec"`
	MaxBufferingSec       int `toml:"max_buffering_sec"`
	AutoDismissSec        int `toml:"auto_dismiss_sec"`
	// session
	ActivityKind       string  `toml:"activity_kind"`
	SafetyTimeoutSec   int     `toml:"safety_timeout_sec"`
	HighSpeedSamples   int     `toml:"high_speed_samples"`
	FinalizeTimeoutSec int     `toml:"finalize_timeout_sec"`
	ResolvePlaceEarly  bool    `toml:"resolve_place_early"`
	MaxWalkingSpeedMps float64 `toml:"max_walking_speed_mps"`
	MaxRunningSpeedMps float64 `toml:"max_running_speed_mps"`
}

type Toml struct {
	Development *Config
	Production  *Config
}

func (t *Toml) Get(env string) (*Config, error) {
	switch strings.ToLower(env) {
	case "dev", "development":
		return t.Development, nil
	case "prod", "production":
		return t.Production, nil
	default:
		return nil, fmt.Errorf("unknown env: %s", env)
	}
}

// Load reads the TOML file and returns the config of the given environment, with unset
// timing values defaulted.
func Load(env, path string) (*Config, error) {
	var t Toml
	if _, err := toml.DecodeFile(path, &t); err != nil {
		return nil, fmt.Errorf("decode config file %s: %w", path, err)
	}

	cfg, err := t.Get(env)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return nil, fmt.Errorf("no config for env: %s", env)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s config: %w", env, err)
	}

	return cfg, nil
}

func (c *Config) applyDefaults() {
	defaultInt := func(v *int, d int) {
		if *v <= 0 {
			*v = d
		}
	}
	defaultFloat := func(v *float64, d float64) {
		if *v <= 0 {
			*v = d
		}
	}

	defaultInt(&c.DetectionThresholdSec, 120)
	defaultInt(&c.MaxBufferingSec, 300)
	defaultInt(&c.AutoDismissSec, 120)
	defaultInt(&c.SafetyTimeoutSec, 5)
	defaultInt(&c.HighSpeedSamples, 2)
	defaultInt(&c.FinalizeTimeoutSec, 30)
	defaultInt(&c.DeviceRequestsPerMin, 600)
	defaultInt(&c.EventLogMaxEntries, 250)
	defaultFloat(&c.MaxWalkingSpeedMps, 4.0)
	defaultFloat(&c.MaxRunningSpeedMps, 8.0)
	if c.ActivityKind == "" {
		c.ActivityKind = "walking"
	}
	if c.OpenWeatherUnits == "" {
		c.OpenWeatherUnits = "metric"
	}
}

func (c *Config) Validate() error {
	var errs []error
	if c.Port <= 0 {
		errs = append(errs, errors.New("port not set"))
	}
	if c.PostgresHost == "" || c.PostgresDBName == "" {
		errs = append(errs, errors.New("postgres host or db name not set"))
	}
	if c.RedisHost == "" {
		errs = append(errs, errors.New("redis host not set"))
	}
	if c.MaxBufferingSec < c.DetectionThresholdSec {
		errs = append(errs, errors.New("max buffering shorter than the detection threshold"))
	}
	switch strings.ToLower(c.ActivityKind) {
	case "walking", "running":
	default:
		errs = append(errs, fmt.Errorf("unknown activity kind: %s", c.ActivityKind))
	}
	return errors.Join(errs...)
}
