package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NERVsystems/osmscene/pkg/classify"
	"github.com/NERVsystems/osmscene/pkg/elevation"
	"github.com/NERVsystems/osmscene/pkg/osm"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"OSMSCENE_CACHE_DIR", "OSMSCENE_CACHE_MAX_AGE", "OSMSCENE_OSM_URL",
		"OSMSCENE_ELEVATION_URL", "OSMSCENE_USER_AGENT", "OSMSCENE_FETCH_TIMEOUT",
		"OSMSCENE_OSM_RPS", "OSMSCENE_ELEVATION_RPS", "OSMSCENE_ELEVATION_CACHE_SIZE",
		"OSMSCENE_PRESET", "OTLP_ENDPOINT", "LOG_LEVEL",
	} {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("XDG_CACHE_HOME", t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "geodat_osm", filepath.Base(cfg.CacheDir))
	assert.Zero(t, cfg.CacheMaxAge)
	assert.Equal(t, osm.DefaultMapAPIURL, cfg.OSMURL)
	assert.Equal(t, elevation.DefaultBaseURL, cfg.ElevationURL)
	assert.Equal(t, osm.DefaultUserAgent, cfg.UserAgent)
	assert.Equal(t, 60*time.Second, cfg.FetchTimeout)
	assert.Equal(t, 1.0, cfg.OSMRequestsPerSecond)
	assert.Equal(t, 4.0, cfg.ElevationRequestsPerSecond)
	assert.Equal(t, elevation.DefaultCacheSize, cfg.ElevationCacheSize)
	assert.Equal(t, "gis", cfg.Preset)
	assert.Equal(t, classify.PolicyGIS, cfg.Policy)
	assert.Empty(t, cfg.OTLPEndpoint)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoad_CustomEnv(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	t.Setenv("OSMSCENE_CACHE_DIR", dir)
	t.Setenv("OSMSCENE_CACHE_MAX_AGE", "72h")
	t.Setenv("OSMSCENE_OSM_URL", "http://localhost:3000/api/0.6")
	t.Setenv("OSMSCENE_ELEVATION_URL", "http://localhost:8080")
	t.Setenv("OSMSCENE_USER_AGENT", "scene-test/1.0")
	t.Setenv("OSMSCENE_FETCH_TIMEOUT", "15s")
	t.Setenv("OSMSCENE_OSM_RPS", "2.5")
	t.Setenv("OSMSCENE_ELEVATION_RPS", "10")
	t.Setenv("OSMSCENE_ELEVATION_CACHE_SIZE", "500")
	t.Setenv("OSMSCENE_PRESET", "Geodata")
	t.Setenv("OTLP_ENDPOINT", "localhost:4317")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, dir, cfg.CacheDir)
	assert.Equal(t, 72*time.Hour, cfg.CacheMaxAge)
	assert.Equal(t, "http://localhost:3000/api/0.6", cfg.OSMURL)
	assert.Equal(t, "http://localhost:8080", cfg.ElevationURL)
	assert.Equal(t, "scene-test/1.0", cfg.UserAgent)
	assert.Equal(t, 15*time.Second, cfg.FetchTimeout)
	assert.Equal(t, 2.5, cfg.OSMRequestsPerSecond)
	assert.Equal(t, 10.0, cfg.ElevationRequestsPerSecond)
	assert.Equal(t, 500, cfg.ElevationCacheSize)
	assert.Equal(t, "geodata", cfg.Preset)
	assert.Equal(t, 3000, cfg.Policy.DefaultBuildingHeightMM)
	assert.Equal(t, "localhost:4317", cfg.OTLPEndpoint)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"bad timeout", "OSMSCENE_FETCH_TIMEOUT", "soon"},
		{"zero timeout", "OSMSCENE_FETCH_TIMEOUT", "0s"},
		{"negative max age", "OSMSCENE_CACHE_MAX_AGE", "-1h"},
		{"bad max age", "OSMSCENE_CACHE_MAX_AGE", "a week"},
		{"zero osm rate", "OSMSCENE_OSM_RPS", "0"},
		{"bad elevation rate", "OSMSCENE_ELEVATION_RPS", "fast"},
		{"unknown preset", "OSMSCENE_PRESET", "cadastre"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv("OSMSCENE_CACHE_DIR", t.TempDir())
			t.Setenv(tt.key, tt.val)

			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.key)
		})
	}
}

func TestLoad_IgnoresBadCacheSize(t *testing.T) {
	clearEnv(t)
	t.Setenv("OSMSCENE_CACHE_DIR", t.TempDir())
	t.Setenv("OSMSCENE_ELEVATION_CACHE_SIZE", "-3")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, elevation.DefaultCacheSize, cfg.ElevationCacheSize)
}
