package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/NERVsystems/osmscene/pkg/cache"
	"github.com/NERVsystems/osmscene/pkg/classify"
	"github.com/NERVsystems/osmscene/pkg/config"
	"github.com/NERVsystems/osmscene/pkg/coords"
	"github.com/NERVsystems/osmscene/pkg/core"
	"github.com/NERVsystems/osmscene/pkg/elevation"
	"github.com/NERVsystems/osmscene/pkg/export"
	"github.com/NERVsystems/osmscene/pkg/monitoring"
	"github.com/NERVsystems/osmscene/pkg/osm"
	"github.com/NERVsystems/osmscene/pkg/registration"
	"github.com/NERVsystems/osmscene/pkg/scene"
	"github.com/NERVsystems/osmscene/pkg/server"
	"github.com/NERVsystems/osmscene/pkg/tools"
	"github.com/NERVsystems/osmscene/pkg/tracing"
	ver "github.com/NERVsystems/osmscene/pkg/version"
)

var (
	showVersionFlag bool
	debug           bool

	// Import flags
	lat       float64
	lon       float64
	location  string
	lengthKm  float64
	slider    int
	withElev  bool
	preset    string
	outPath   string
	outFormat string
	noCache   bool
	flatElev  float64

	// Server flags
	serveMCP      bool
	enableHTTP    bool
	httpOnly      bool
	httpAddr      string
	httpBaseURL   string
	httpAuthToken string
	outputDir     string
	healthEvery   time.Duration
)

func init() {
	flag.BoolVar(&showVersionFlag, "version", false, "Display version information")
	flag.BoolVar(&debug, "debug", false, "Enable debug logging")

	flag.Float64Var(&lat, "lat", 0, "Latitude of the area centre in decimal degrees")
	flag.Float64Var(&lon, "lon", 0, "Longitude of the area centre in decimal degrees")
	flag.StringVar(&location, "location", "", "Area centre in any notation (decimal, DMS, UTM, MGRS) or a web map link")
	flag.Float64Var(&lengthKm, "length", 1, "Edge length of the square area in km (max 10)")
	flag.IntVar(&slider, "slider", 0, "Edge length as slider position in tenths of a km; overrides -length")
	flag.BoolVar(&withElev, "elevation", false, "Sample terrain heights and build an elevation surface")
	flag.StringVar(&preset, "preset", "", "Building height preset: "+strings.Join(classify.PresetNames(), ", "))
	flag.StringVar(&outPath, "out", "", "Write the scene to this file")
	flag.StringVar(&outFormat, "format", "", "Export format: geojson or obj (default from -out extension)")
	flag.BoolVar(&noCache, "no-cache", false, "Do not read or write the on-disk map data cache")
	flag.Float64Var(&flatElev, "flat-elevation", -1, "Use this constant terrain height in mm instead of the elevation service (negative disables)")

	flag.BoolVar(&serveMCP, "mcp", false, "Serve the import tools over MCP instead of running one import")
	flag.BoolVar(&enableHTTP, "enable-http", false, "Enable HTTP+SSE transport (in addition to stdio)")
	flag.BoolVar(&httpOnly, "http-only", false, "Run HTTP transport only, skip stdio (requires -enable-http)")
	flag.StringVar(&httpAddr, "http-addr", ":7082", "HTTP server address")
	flag.StringVar(&httpBaseURL, "http-base-url", "", "Base URL for HTTP transport (auto-detected if empty)")
	flag.StringVar(&httpAuthToken, "http-auth-token", os.Getenv("OSMSCENE_AUTH_TOKEN"), "Bearer token required by the HTTP API")
	flag.StringVar(&outputDir, "output-dir", "", "Directory the import_scene tool writes exports to")
	flag.DurationVar(&healthEvery, "health-interval", 30*time.Second, "Upstream health check interval")
}

func main() {
	flag.Parse()

	if showVersionFlag {
		fmt.Println(ver.String())
		return
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(2)
	}

	logLevel := parseLevel(cfg.LogLevel)
	if debug {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	traceOpts := tracing.OptionsFromEnv(ver.BuildVersion)
	traceOpts.Endpoint = cfg.OTLPEndpoint
	shutdownTracing, err := tracing.Init(ctx, traceOpts)
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
	} else {
		defer func() {
			if err := shutdownTracing(context.Background()); err != nil {
				logger.Error("error shutting down tracing", "error", err)
			}
		}()
		if cfg.OTLPEndpoint != "" {
			logger.Info("OpenTelemetry tracing enabled", "endpoint", cfg.OTLPEndpoint)
		}
	}

	osm.SetMonitoringHooks(osm.PrometheusHooks())
	monitoring.PublishBuildInfo()
	applyClientSettings(cfg)

	builder, resolver, fetcher, err := newBuilder(cfg, logger)
	if err != nil {
		logger.Error("failed to set up import pipeline", "error", err)
		os.Exit(1)
	}

	if serveMCP || enableHTTP {
		if err := runServer(ctx, cfg, builder, fetcher, resolver, logger); err != nil {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
		return
	}

	if err := runImport(ctx, builder, cfg, logger); err != nil {
		logger.Error("import failed", "error", err)
		os.Exit(exitCode(err))
	}
}

func parseLevel(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return l
}

func burstFor(rps float64) int {
	if rps < 1 {
		return 1
	}
	return int(rps)
}

func applyClientSettings(cfg *config.Config) {
	osm.SetUserAgent(cfg.UserAgent)
	osm.SetTimeout(cfg.FetchTimeout)
	osm.UpdateMapAPIRateLimits(cfg.OSMRequestsPerSecond, burstFor(cfg.OSMRequestsPerSecond))
	osm.UpdateElevationRateLimits(cfg.ElevationRequestsPerSecond, burstFor(cfg.ElevationRequestsPerSecond))
}

func newBuilder(cfg *config.Config, logger *slog.Logger) (*scene.Builder, *elevation.HTTPResolver, *osm.Fetcher, error) {
	var store *cache.Store
	if !noCache {
		s, err := cache.NewStore(cfg.CacheDir, cfg.CacheMaxAge, logger)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("open cache: %w", err)
		}
		logger.Debug("map data cache", "dir", s.Dir(), "max_age", cfg.CacheMaxAge)
		store = s
	}

	fetcher := osm.NewFetcher(osm.FetcherOptions{
		BaseURL: cfg.OSMURL,
		Store:   store,
		MemoTTL: 10 * time.Minute,
		Logger:  logger,
	})
	httpResolver := elevation.NewHTTPResolver(elevation.HTTPOptions{
		BaseURL: cfg.ElevationURL,
		Logger:  logger,
	})
	var resolver elevation.Resolver
	if flatElev >= 0 {
		logger.Info("using constant terrain height", "height_mm", flatElev)
		resolver = elevation.Flat(flatElev)
	} else {
		cached, err := elevation.NewCachedResolver(httpResolver, cfg.ElevationCacheSize)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("elevation cache: %w", err)
		}
		resolver = cached
	}

	builder, err := scene.NewBuilder(scene.Options{
		Fetcher:  fetcher,
		Resolver: resolver,
		Policy:   cfg.Policy,
		Logger:   logger,
	})
	if err != nil {
		return nil, nil, nil, err
	}
	return builder, httpResolver, fetcher, nil
}

// exitCode maps import failures to distinct process exit codes.
func exitCode(err error) int {
	switch core.CodeOf(err) {
	case core.ErrInvalidInput, core.ErrInvalidLatitude, core.ErrInvalidLongitude, core.ErrInvalidLength:
		return 2
	case core.ErrRetrieval:
		return 3
	case core.ErrParse:
		return 4
	}
	if errors.Is(err, context.Canceled) {
		return 130
	}
	return 1
}

func importCenter() (float64, float64, error) {
	if location != "" {
		res, err := coords.Resolve(location)
		if err != nil {
			return 0, 0, err
		}
		return res.Location.Latitude, res.Location.Longitude, nil
	}
	set := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	if !set["lat"] || !set["lon"] {
		return 0, 0, core.NewError(core.ErrInvalidInput, "no area centre given").
			WithGuidance("pass -lat and -lon, or -location")
	}
	return lat, lon, nil
}

func exportFormat() (string, error) {
	f := strings.ToLower(outFormat)
	if f == "" {
		f = strings.TrimPrefix(strings.ToLower(filepath.Ext(outPath)), ".")
	}
	switch f {
	case tools.FormatGeoJSON, "json":
		return tools.FormatGeoJSON, nil
	case tools.FormatOBJ:
		return tools.FormatOBJ, nil
	}
	return "", core.NewError(core.ErrInvalidInput, fmt.Sprintf("unknown export format %q", f)).
		WithGuidance("use -format geojson or -format obj")
}

func runImport(ctx context.Context, builder *scene.Builder, cfg *config.Config, logger *slog.Logger) error {
	centerLat, centerLon, err := importCenter()
	if err != nil {
		return err
	}
	if slider > 0 {
		lengthKm = coords.SliderLengthKm(slider)
	}
	var format string
	if outPath != "" {
		if format, err = exportFormat(); err != nil {
			return err
		}
	}

	policy := cfg.Policy
	if preset != "" {
		if policy, err = classify.PolicyByName(preset); err != nil {
			return core.Wrap(core.ErrInvalidInput, "invalid preset", err)
		}
	}

	logger.Info("importing area",
		"lat", centerLat,
		"lon", centerLon,
		"length_km", lengthKm,
		"elevation", withElev,
		"preset", policy.Name,
		"preview", coords.OSMWebURL(centerLat, centerLon))

	lastReported := -10
	doc := scene.NewDocument("OSM")
	res, err := builder.Import(ctx, doc, scene.Request{
		Lat:       centerLat,
		Lon:       centerLon,
		LengthKm:  lengthKm,
		Elevation: withElev,
		Policy:    policy,
		Progress: func(p int) {
			if p >= lastReported+10 || p == 100 {
				lastReported = p
				logger.Info("progress", "percent", p)
			}
		},
		Status: func(msg string) { logger.Info(msg) },
	})
	if err != nil {
		return err
	}

	logger.Info("import summary",
		"ways", res.Ways,
		"emitted", res.EmittedTotal(),
		"skipped", res.Skipped,
		"tag_warnings", res.TagWarnings,
		"elevation_misses", res.ElevationMisses,
		"objects", doc.Len(),
		"duration", res.Duration)

	if outPath == "" {
		return nil
	}
	return writeExport(doc, format, logger)
}

func writeExport(doc *scene.Document, format string, logger *slog.Logger) error {
	f, err := os.Create(outPath)
	if err != nil {
		return core.Wrap(core.ErrInternalError, "could not create output file", err)
	}

	switch format {
	case tools.FormatOBJ:
		err = export.WriteOBJ(f, doc)
	default:
		err = export.WriteGeoJSON(f, doc)
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return core.Wrap(core.ErrInternalError, "export failed", err)
	}
	logger.Info("scene exported", "path", outPath, "format", format)
	return nil
}

func runServer(ctx context.Context, cfg *config.Config, builder *scene.Builder, fetcher *osm.Fetcher, resolver *elevation.HTTPResolver, logger *slog.Logger) error {
	health := monitoring.NewHealthChecker(monitoring.ServiceName, ver.BuildVersion, tracing.ServiceMapAPI)
	health.Monitor(ctx, tracing.ServiceMapAPI, healthEvery, fetcher.CheckHealth)
	health.Monitor(ctx, tracing.ServiceElevation, healthEvery, resolver.CheckHealth)

	if outputDir != "" {
		if err := os.MkdirAll(outputDir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}

	s, err := server.NewServer(tools.Deps{Builder: builder, Health: health, OutputDir: outputDir}, logger)
	if err != nil {
		return err
	}

	logger.Info("starting scene import server",
		"version", ver.BuildVersion,
		"user_agent", cfg.UserAgent,
		"osm_url", cfg.OSMURL,
		"elevation_url", cfg.ElevationURL,
		"preset", cfg.Preset,
		"http_enabled", enableHTTP)

	if enableHTTP {
		httpCfg := server.DefaultHTTPTransportConfig()
		httpCfg.Addr = httpAddr
		httpCfg.BaseURL = httpBaseURL
		httpCfg.AuthToken = httpAuthToken

		transport := server.NewHTTPTransport(s, httpCfg, logger)
		transport.SetHealthChecker(health)
		logger.Info("HTTP transport configured",
			"addr", transport.GetConfig().Addr,
			"auth", transport.GetConfig().AuthToken != "")

		go func() {
			if err := transport.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("HTTP transport error", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := transport.Shutdown(shutdownCtx); err != nil {
				logger.Error("failed to shutdown HTTP transport", "error", err)
			}
		}()

		regCfg := registration.ConfigFromEnv(server.ServerName, ver.BuildVersion)
		if regCfg.ServiceURL == "" {
			regCfg.ServiceURL = "http://localhost" + httpAddr
			regCfg.HealthURL = regCfg.ServiceURL + "/health"
		}
		regCfg.Tools = s.Registry().GetToolNames()
		regCfg.Metadata = map[string]any{"presets": classify.PresetNames()}
		reg := registration.NewClient(regCfg, logger)
		reg.Start(ctx)
		defer reg.Stop()
	}

	if enableHTTP && httpOnly {
		logger.Info("server ready", "transports", []string{"http"})
		<-ctx.Done()
		logger.Info("shutdown signal received")
		return nil
	}

	if !enableHTTP {
		return s.RunWithContext(ctx)
	}

	go func() {
		if err := s.RunWithContext(ctx); err != nil {
			logger.Error("stdio transport error", "error", err)
		}
	}()
	logger.Info("server ready", "transports", []string{"stdio", "http"})
	<-ctx.Done()
	logger.Info("shutdown signal received")
	return nil
}
