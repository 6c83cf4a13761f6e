// Package config loads runtime settings from the environment. Command-line
// flags in cmd/osmscene override what is read here.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/NERVsystems/osmscene/pkg/cache"
	"github.com/NERVsystems/osmscene/pkg/classify"
	"github.com/NERVsystems/osmscene/pkg/elevation"
	"github.com/NERVsystems/osmscene/pkg/osm"
)

// Config holds all settings, populated from environment variables.
type Config struct {
	CacheDir    string
	CacheMaxAge time.Duration // 0 keeps cached payloads forever

	OSMURL       string
	ElevationURL string
	UserAgent    string
	FetchTimeout time.Duration

	OSMRequestsPerSecond       float64
	ElevationRequestsPerSecond float64
	ElevationCacheSize         int

	Preset string
	Policy classify.Policy

	OTLPEndpoint string
	LogLevel     string
}

// Load reads configuration from environment variables, applying defaults
// where unset.
func Load() (*Config, error) {
	cacheDir := os.Getenv("OSMSCENE_CACHE_DIR")
	if cacheDir == "" {
		dir, err := cache.DefaultDir()
		if err != nil {
			return nil, err
		}
		cacheDir = dir
	}

	fetchTimeout, err := parseDuration("OSMSCENE_FETCH_TIMEOUT", osm.DefaultTimeout)
	if err != nil {
		return nil, err
	}
	if fetchTimeout <= 0 {
		return nil, fmt.Errorf("OSMSCENE_FETCH_TIMEOUT must be positive")
	}

	maxAge, err := parseDuration("OSMSCENE_CACHE_MAX_AGE", 0)
	if err != nil {
		return nil, err
	}
	if maxAge < 0 {
		return nil, fmt.Errorf("OSMSCENE_CACHE_MAX_AGE must not be negative")
	}

	osmRPS, err := parseRate("OSMSCENE_OSM_RPS", 1)
	if err != nil {
		return nil, err
	}
	elevationRPS, err := parseRate("OSMSCENE_ELEVATION_RPS", 4)
	if err != nil {
		return nil, err
	}

	preset := envOrDefault("OSMSCENE_PRESET", classify.PolicyGIS.Name)
	policy, err := classify.PolicyByName(preset)
	if err != nil {
		return nil, fmt.Errorf("OSMSCENE_PRESET: %w", err)
	}

	return &Config{
		CacheDir:                   cacheDir,
		CacheMaxAge:                maxAge,
		OSMURL:                     envOrDefault("OSMSCENE_OSM_URL", osm.DefaultMapAPIURL),
		ElevationURL:               envOrDefault("OSMSCENE_ELEVATION_URL", elevation.DefaultBaseURL),
		UserAgent:                  envOrDefault("OSMSCENE_USER_AGENT", osm.DefaultUserAgent),
		FetchTimeout:               fetchTimeout,
		OSMRequestsPerSecond:       osmRPS,
		ElevationRequestsPerSecond: elevationRPS,
		ElevationCacheSize:         parseCacheSize("OSMSCENE_ELEVATION_CACHE_SIZE", elevation.DefaultCacheSize),
		Preset:                     policy.Name,
		Policy:                     policy,
		OTLPEndpoint:               os.Getenv("OTLP_ENDPOINT"),
		LogLevel:                   envOrDefault("LOG_LEVEL", "info"),
	}, nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseDuration(key string, def time.Duration) (time.Duration, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func parseRate(key string, def float64) (float64, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("invalid %s: %q must be a positive number", key, s)
	}
	return v, nil
}

// parseCacheSize ignores unusable values rather than failing startup.
func parseCacheSize(key string, def int) int {
	if s := os.Getenv(key); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			return n
		}
	}
	return def
}
