package config

import "time"

// Application constants - all hardcoded values for the ImFCS Pulse system
const (
	// Application Info
	AppName    = "ImFCS Pulse"
	AppVersion = "1.2.0"
	AppVendor  = "ImFCS Project"
	AppRepoURL = "https://github.com/imfcs-project/ImFCSPulse"

	// Acquisition File Naming
	// An acquisition run is an evaluation workbook plus an optional
	// average-intensity TIFF sharing the same grouping key.
	EvaluationWorkbookPattern = `.*_\d+\.xlsx$`
	AverageIntensityPattern   = `.*_AVR\.tiff?$`
	AverageIntensitySuffix    = "_AVR"

	// Rate Limiting
	DefaultRateLimit = 100 // requests per minute
	DefaultBurstSize = 50

	// Network Timeouts
	DefaultHTTPTimeout  = 30 * time.Second
	VersionCheckTimeout = 10 * time.Second
	WebSocketPingPeriod = 30 * time.Second
	WebSocketPongWait   = 60 * time.Second

	// File Paths (relative to executable)
	DefaultDataDir    = "data"
	DefaultLogsDir    = "logs"
	DefaultWebDir     = "web"
	DefaultReportsDir = "data/reports"
	DefaultExportsDir = "data/exports"
	DefaultCacheDir   = "data/cache"

	// Cache Settings
	DataCacheDuration   = 15 * time.Minute
	ReportCacheDuration = 1 * time.Hour

	// Operation Timeouts
	DefaultOperationTimeout = 1 * time.Hour
	LoadStageTimeout        = 30 * time.Minute
	ScreenStageTimeout      = 15 * time.Minute
	ReportGenerationTimeout = 15 * time.Minute

	// WebSocket Buffer Sizes
	WebSocketReadBufferSize  = 1024
	WebSocketWriteBufferSize = 1024

	// Log Settings
	DefaultLogLevel   = "info"
	DefaultLogFormat  = "json"
	MaxLogFileSize    = 100 * 1024 * 1024 // 100MB
	MaxLogFileAge     = 30                // days
	MaxLogFileBackups = 10
)

// Feature Flags - compile-time configuration
const (
	// Core Features
	FeatureWebSocketEnabled   = true
	FeatureMetricsEnabled     = true
	FeatureHealthCheckEnabled = true

	// Security Features
	FeatureRateLimitingEnabled = true

	// Development Features
	FeatureDebugLoggingEnabled = false
	FeatureMockDataEnabled     = false
)

// URLs and Endpoints
const (
	// API Endpoints (internal)
	APIBasePath        = "/api"
	OperationsEndpoint = "/api/operations"
	BatchEndpoint      = "/api/batch"
	HealthEndpoint     = "/api/health"
	MetricsEndpoint    = "/metrics"

	// WebSocket Endpoints
	WebSocketEndpoint = "/ws"
)

// GetFeatureFlag returns the value of a feature flag
func GetFeatureFlag(flag string) bool {
	switch flag {
	case "websocket":
		return FeatureWebSocketEnabled
	case "metrics":
		return FeatureMetricsEnabled
	case "health_check":
		return FeatureHealthCheckEnabled
	case "rate_limiting":
		return FeatureRateLimitingEnabled
	case "debug_logging":
		return FeatureDebugLoggingEnabled
	case "mock_data":
		return FeatureMockDataEnabled
	default:
		return false
	}
}
