package tracing

import "go.opentelemetry.io/otel/attribute"

// Attribute keys
const (
	// Import run
	AttrImportLat       = "osmscene.import.lat"
	AttrImportLon       = "osmscene.import.lon"
	AttrImportLengthKm  = "osmscene.import.length_km"
	AttrImportElevation = "osmscene.import.elevation"
	AttrImportWays      = "osmscene.import.ways"
	AttrImportSkipped   = "osmscene.import.skipped"

	// External services
	AttrServiceName      = "osmscene.service.name"
	AttrServiceOperation = "osmscene.service.operation"
	AttrServiceURL       = "osmscene.service.url"
	AttrServiceStatus    = "osmscene.service.status"

	// Cache
	AttrCacheType = "osmscene.cache.type"
	AttrCacheHit  = "osmscene.cache.hit"
	AttrCacheKey  = "osmscene.cache.key"

	// Elevation
	AttrElevationPoints = "osmscene.elevation.points"
	AttrElevationMissed = "osmscene.elevation.missed"

	// Rate limiting
	AttrRateLimitService = "osmscene.ratelimit.service"
	AttrRateLimitWaitMs  = "osmscene.ratelimit.wait_ms"

	// HTTP
	AttrHTTPMethod     = "http.method"
	AttrHTTPPath       = "http.path"
	AttrHTTPStatusCode = "http.status_code"
	AttrHTTPSessionID  = "http.session_id"

	// MCP tools
	AttrMCPToolName     = "mcp.tool.name"
	AttrMCPToolStatus   = "mcp.tool.status"
	AttrMCPToolDuration = "mcp.tool.duration_ms"
	AttrMCPResultSize   = "mcp.result.size"

	// Errors
	AttrErrorType    = "error.type"
	AttrErrorMessage = "error.message"
)

// Service names
const (
	ServiceMapAPI    = "osm_api"
	ServiceElevation = "elevation"
)

// Tool outcomes
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Cache types
const (
	CacheTypeDisk      = "disk"
	CacheTypeMemory    = "memory"
	CacheTypeElevation = "elevation"
)

// ImportAttributes describes an import request.
func ImportAttributes(lat, lon, lengthKm float64, elevation bool) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Float64(AttrImportLat, lat),
		attribute.Float64(AttrImportLon, lon),
		attribute.Float64(AttrImportLengthKm, lengthKm),
		attribute.Bool(AttrImportElevation, elevation),
	}
}

// ServiceAttributes describes an external service call.
func ServiceAttributes(service, operation, url string, status int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrServiceName, service),
		attribute.String(AttrServiceOperation, operation),
		attribute.String(AttrServiceURL, url),
		attribute.Int(AttrServiceStatus, status),
	}
}

// CacheAttributes describes a cache lookup.
func CacheAttributes(cacheType string, hit bool, key string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrCacheType, cacheType),
		attribute.Bool(AttrCacheHit, hit),
		attribute.String(AttrCacheKey, key),
	}
}

// ErrorAttributes returns attributes for err, or nil.
func ErrorAttributes(err error) []attribute.KeyValue {
	if err == nil {
		return nil
	}
	return []attribute.KeyValue{
		attribute.String(AttrErrorType, "error"),
		attribute.String(AttrErrorMessage, err.Error()),
	}
}
