package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all service settings, populated from environment
// variables (with optional .env file support for local development).
type Config struct {
	// Models lists the enabled model ids, e.g. ["gfs","hrrr","aifs"].
	Models []string
	// Variables lists the output variables each cycle should produce.
	Variables []string

	// Region is the geographic crop in degrees.
	RegionNorth float64
	RegionSouth float64
	RegionWest  float64
	RegionEast  float64

	ArtifactDir   string
	NOMADSBaseURL string
	FetchTimeout  time.Duration

	// Scheduler knobs.
	WorkerPoolOverride   int
	MaxDurationMinutes   int
	CheckIntervalSeconds int
	RetainRuns           int
	ParallelModels       bool
	Progressive          bool
	CycleIntervalMinutes int

	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// Artifact event publishing (enabled when brokers are set).
	KafkaBrokers   []string
	KafkaSinkTopic string
	EventsEnabled  bool
}

// Load reads configuration from environment variables, applying
// defaults where unset.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Debug("no .env file loaded", "error", err)
	}

	shutdownTimeout, err := parseDuration("SHUTDOWN_TIMEOUT", "10s")
	if err != nil {
		return nil, err
	}
	fetchTimeout, err := parseDuration("FETCH_TIMEOUT", "90s")
	if err != nil {
		return nil, err
	}

	north, err := parseFloat("REGION_NORTH", 50.0)
	if err != nil {
		return nil, err
	}
	south, err := parseFloat("REGION_SOUTH", 24.0)
	if err != nil {
		return nil, err
	}
	west, err := parseFloat("REGION_WEST", -125.0)
	if err != nil {
		return nil, err
	}
	east, err := parseFloat("REGION_EAST", -66.0)
	if err != nil {
		return nil, err
	}

	brokers := splitList(os.Getenv("KAFKA_BROKERS"))
	eventsEnabled := len(brokers) > 0
	if v := os.Getenv("EVENTS_ENABLED"); v != "" {
		eventsEnabled = v == "true"
	}

	cfg := &Config{
		Models:    splitList(envOrDefault("MODELS", "gfs,hrrr,aifs")),
		Variables: splitList(envOrDefault("VARIABLES", "precip_total,snow_total,precip_rate_6h,temperature_2m,wind_10m,reflectivity")),

		RegionNorth: north,
		RegionSouth: south,
		RegionWest:  west,
		RegionEast:  east,

		ArtifactDir:   envOrDefault("ARTIFACT_DIR", "artifacts"),
		NOMADSBaseURL: envOrDefault("NOMADS_BASE_URL", "https://nomads.ncep.noaa.gov"),
		FetchTimeout:  fetchTimeout,

		WorkerPoolOverride:   envInt("WORKER_POOL_SIZE", 0),
		MaxDurationMinutes:   envInt("MAX_DURATION_MINUTES", 120),
		CheckIntervalSeconds: envInt("CHECK_INTERVAL_SECONDS", 60),
		RetainRuns:           envInt("RETAIN_RUNS", 4),
		ParallelModels:       envOrDefault("PARALLEL_MODELS", "true") == "true",
		Progressive:          envOrDefault("PROGRESSIVE", "true") == "true",
		CycleIntervalMinutes: envInt("CYCLE_INTERVAL_MINUTES", 30),

		HTTPAddr:        envOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        envOrDefault("LOG_LEVEL", "info"),
		LogFormat:       envOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		KafkaBrokers:   brokers,
		KafkaSinkTopic: envOrDefault("KAFKA_SINK_TOPIC", "generated-artifacts"),
		EventsEnabled:  eventsEnabled,
	}

	if len(cfg.Models) == 0 {
		return nil, errors.New("MODELS is required")
	}
	if len(cfg.Variables) == 0 {
		return nil, errors.New("VARIABLES is required")
	}
	if cfg.RegionNorth <= cfg.RegionSouth {
		return nil, errors.New("REGION_NORTH must be greater than REGION_SOUTH")
	}
	if cfg.MaxDurationMinutes <= 0 {
		return nil, errors.New("MAX_DURATION_MINUTES must be positive")
	}
	if cfg.CheckIntervalSeconds <= 0 {
		return nil, errors.New("CHECK_INTERVAL_SECONDS must be positive")
	}
	if cfg.EventsEnabled && len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("EVENTS_ENABLED is true but KAFKA_BROKERS is not set")
	}

	return cfg, nil
}

// MaxDuration returns the polling-loop time budget.
func (c *Config) MaxDuration() time.Duration {
	return time.Duration(c.MaxDurationMinutes) * time.Minute
}

// CheckInterval returns the availability polling interval.
func (c *Config) CheckInterval() time.Duration {
	return time.Duration(c.CheckIntervalSeconds) * time.Second
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if s := os.Getenv(key); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
	}
	return def
}

func parseDuration(key, def string) (time.Duration, error) {
	s := envOrDefault(key, def)
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, s)
	}
	return d, nil
}

func parseFloat(key string, def float64) (float64, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", key, s)
	}
	return v, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
