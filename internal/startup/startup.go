package startup

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"golang.org/x/crypto/bcrypt"

	"ffmpeg-api/internal/logging"
	"ffmpeg-api/internal/memory"
	"ffmpeg-api/internal/workers"
)

// Build-time variables (injected via -ldflags)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
	GoVersion = runtime.Version()
)

// ServiceName is reported by the status route and the healthcheck.
const ServiceName = "FFmpeg API"

// BuildInfo contains version and build information
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"buildTime"`
	GoVersion string `json:"goVersion"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
}

// GetBuildInfo returns the current build information
func GetBuildInfo() BuildInfo {
	return BuildInfo{
		Version:   Version,
		Commit:    Commit,
		BuildTime: BuildTime,
		GoVersion: GoVersion,
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
	}
}

// RouteInfo contains information about a registered route
type RouteInfo struct {
	Method string
	Path   string
	Name   string
}

// Defaults for values that are not plain strings.
const (
	DefaultJobTimeout         = 10 * time.Minute
	DefaultFetchTimeout       = 2 * time.Minute
	DefaultMaxBodyBytes       = 200 << 20
	DefaultMaxDownloadBytes   = 2 << 30
	DefaultTempMaxAge         = time.Hour
	DefaultRateLimitWindow    = time.Minute
	DefaultHealthcheckDelay   = 1500 * time.Millisecond
	DefaultHealthcheckTimeout = 5 * time.Minute
	DefaultStreamWriteTimeout = 30 * time.Second
	DefaultStreamIdleTimeout  = 60 * time.Second
	maxJobsCap                = 64
)

// Config holds all application configuration
type Config struct {
	Port           string
	MetricsPort    string
	MetricsEnabled bool

	// Authentication
	APIKey        string
	APIKeyHash    string
	RequireAPIKey bool

	// Subprocesses
	FFmpegPath        string
	FFprobePath       string
	MaxConcurrentJobs int
	JobTimeout        time.Duration

	// Temp artifacts
	TempDir    string
	TempMaxAge time.Duration

	// Inputs
	FetchTimeout     time.Duration
	MaxBodyBytes     int64
	MaxDownloadBytes int64

	// Streaming mode
	StreamWriteTimeout time.Duration
	StreamIdleTimeout  time.Duration

	// Edge protection
	RateLimitRequests int
	RateLimitWindow   time.Duration
	RedisAddr         string
	RedisPassword     string
	CORSOrigins       []string
	BlockedPaths      []string
	TrustedProxies    []string

	// Self-healthcheck
	HealthcheckMode       string
	HealthcheckBatchSize  int
	HealthcheckDelay      time.Duration
	HealthcheckSampleURLs []string
	HealthcheckTimeout    time.Duration

	LogHealthChecks bool
}

// AuthEnabled reports whether requests must carry an API key.
func (c *Config) AuthEnabled() bool {
	return c.APIKey != "" || c.APIKeyHash != ""
}

// LoadConfig loads and validates configuration from a .env file and the
// environment. Real environment variables win over the file.
func LoadConfig() (*Config, error) {
	envErr := loadEnvFile(".env")

	printBanner()
	logSystemInfo()

	logging.Info("------------------------------------------------------------")
	logging.Info("CONFIGURATION")
	logging.Info("------------------------------------------------------------")

	if envErr != nil {
		logging.Warn("  Failed to load .env: %v", envErr)
	}

	config := &Config{
		Port:           getEnv("PORT", "8080"),
		MetricsPort:    getEnv("METRICS_PORT", "9090"),
		MetricsEnabled: getEnvBool("METRICS_ENABLED", true),

		APIKey:        os.Getenv("API_KEY"),
		APIKeyHash:    os.Getenv("API_KEY_HASH"),
		RequireAPIKey: getEnvBool("REQUIRE_API_KEY", false),

		FFmpegPath:        getEnv("FFMPEG_PATH", "ffmpeg"),
		FFprobePath:       getEnv("FFPROBE_PATH", "ffprobe"),
		MaxConcurrentJobs: workers.ForJobs(maxJobsCap),
		JobTimeout:        getEnvDuration("JOB_TIMEOUT", DefaultJobTimeout),

		TempDir:    os.Getenv("TEMP_DIR"),
		TempMaxAge: getEnvDuration("TEMP_MAX_AGE", DefaultTempMaxAge),

		FetchTimeout:     getEnvDuration("FETCH_TIMEOUT", DefaultFetchTimeout),
		MaxBodyBytes:     getEnvInt64("MAX_BODY_BYTES", DefaultMaxBodyBytes),
		MaxDownloadBytes: getEnvInt64("MAX_DOWNLOAD_BYTES", DefaultMaxDownloadBytes),

		StreamWriteTimeout: getEnvDuration("STREAM_WRITE_TIMEOUT", DefaultStreamWriteTimeout),
		StreamIdleTimeout:  getEnvDuration("STREAM_IDLE_TIMEOUT", DefaultStreamIdleTimeout),

		RateLimitRequests: getEnvInt("RATE_LIMIT_REQUESTS", 0),
		RateLimitWindow:   getEnvDuration("RATE_LIMIT_WINDOW", DefaultRateLimitWindow),
		RedisAddr:         os.Getenv("REDIS_ADDR"),
		RedisPassword:     os.Getenv("REDIS_PASSWORD"),
		CORSOrigins:       getEnvList("CORS_ORIGINS", []string{"*"}),
		BlockedPaths:      getEnvList("BLOCKED_PATHS", []string{"/.env", "/.git", "/wp-admin", "/wp-login.php", "/phpmyadmin"}),
		TrustedProxies:    getEnvList("TRUSTED_PROXIES", nil),

		HealthcheckMode:       getEnv("HEALTHCHECK_MODE", "batched"),
		HealthcheckBatchSize:  getEnvInt("HEALTHCHECK_BATCH_SIZE", 4),
		HealthcheckDelay:      getEnvDuration("HEALTHCHECK_DELAY", DefaultHealthcheckDelay),
		HealthcheckSampleURLs: getEnvList("HEALTHCHECK_SAMPLE_URLS", nil),
		HealthcheckTimeout:    getEnvDuration("HEALTHCHECK_TIMEOUT", DefaultHealthcheckTimeout),

		LogHealthChecks: getEnvBool("LOG_HEALTH_CHECKS", true),
	}

	logConfig(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	logging.Info("")
	logging.Info("  Feature availability:")
	logging.Info("    API key auth:  %s", enabledString(config.AuthEnabled()))
	logging.Info("    Rate limiting: %s", enabledString(config.RateLimitRequests > 0))
	logging.Info("    Metrics:       %s", enabledString(config.MetricsEnabled))
	if !config.AuthEnabled() {
		logging.Warn("  No API_KEY or API_KEY_HASH configured: the API is open to anyone who can reach it")
	}

	return config, nil
}

// Validate checks values that cannot be defaulted.
func (c *Config) Validate() error {
	if c.RequireAPIKey && !c.AuthEnabled() {
		return errors.New("REQUIRE_API_KEY is set but neither API_KEY nor API_KEY_HASH is configured")
	}
	if c.APIKeyHash != "" {
		if _, err := bcrypt.Cost([]byte(c.APIKeyHash)); err != nil {
			return fmt.Errorf("API_KEY_HASH is not a valid bcrypt hash: %w", err)
		}
	}
	if c.MaxBodyBytes <= 0 {
		return fmt.Errorf("MAX_BODY_BYTES must be positive, got %d", c.MaxBodyBytes)
	}
	if c.MaxDownloadBytes <= 0 {
		return fmt.Errorf("MAX_DOWNLOAD_BYTES must be positive, got %d", c.MaxDownloadBytes)
	}
	if c.RateLimitRequests < 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS must not be negative, got %d", c.RateLimitRequests)
	}
	return nil
}

func logConfig(c *Config) {
	logging.Info("  PORT:                   %s", c.Port)
	logging.Info("  METRICS_PORT:           %s", c.MetricsPort)
	logging.Info("  METRICS_ENABLED:        %v", c.MetricsEnabled)
	logging.Info("  API_KEY:                %s", maskSecret(c.APIKey))
	logging.Info("  API_KEY_HASH:           %s", maskSecret(c.APIKeyHash))
	logging.Info("  REQUIRE_API_KEY:        %v", c.RequireAPIKey)
	logging.Info("  FFMPEG_PATH:            %s", c.FFmpegPath)
	logging.Info("  FFPROBE_PATH:           %s", c.FFprobePath)
	logging.Info("  MAX_CONCURRENT_JOBS:    %d", c.MaxConcurrentJobs)
	logging.Info("  JOB_TIMEOUT:            %v", c.JobTimeout)
	logging.Info("  TEMP_DIR:               %s", orDefault(c.TempDir, "(system temp)"))
	logging.Info("  TEMP_MAX_AGE:           %v", c.TempMaxAge)
	logging.Info("  FETCH_TIMEOUT:          %v", c.FetchTimeout)
	logging.Info("  MAX_BODY_BYTES:         %s", memory.FormatBytes(c.MaxBodyBytes))
	logging.Info("  MAX_DOWNLOAD_BYTES:     %s", memory.FormatBytes(c.MaxDownloadBytes))
	logging.Info("  STREAM_WRITE_TIMEOUT:   %v", c.StreamWriteTimeout)
	logging.Info("  STREAM_IDLE_TIMEOUT:    %v", c.StreamIdleTimeout)
	logging.Info("  RATE_LIMIT_REQUESTS:    %d", c.RateLimitRequests)
	logging.Info("  RATE_LIMIT_WINDOW:      %v", c.RateLimitWindow)
	logging.Info("  REDIS_ADDR:             %s", orDefault(c.RedisAddr, "(in-memory counters)"))
	logging.Info("  REDIS_PASSWORD:         %s", maskSecret(c.RedisPassword))
	logging.Info("  CORS_ORIGINS:           %s", strings.Join(c.CORSOrigins, ","))
	logging.Info("  BLOCKED_PATHS:          %s", strings.Join(c.BlockedPaths, ","))
	logging.Info("  TRUSTED_PROXIES:        %s", orDefault(strings.Join(c.TrustedProxies, ","), "(none, forwarding headers ignored)"))
	logging.Info("  HEALTHCHECK_MODE:       %s", c.HealthcheckMode)
	logging.Info("  HEALTHCHECK_BATCH_SIZE: %d", c.HealthcheckBatchSize)
	logging.Info("  HEALTHCHECK_DELAY:      %v", c.HealthcheckDelay)
	logging.Info("  HEALTHCHECK_TIMEOUT:    %v", c.HealthcheckTimeout)
	logging.Info("  LOG_HEALTH_CHECKS:      %v", c.LogHealthChecks)
	logging.Info("  LOG_LEVEL:              %s", logging.GetLevel())
}

// maskSecret never prints a configured secret.
func maskSecret(s string) string {
	if s == "" {
		return "(not set)"
	}
	return "********"
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func enabledString(enabled bool) string {
	if enabled {
		return "ENABLED"
	}
	return "DISABLED"
}

// loadEnvFile loads KEY=value pairs from path without overriding variables
// already set. A missing file is not an error.
func loadEnvFile(path string) error {
	err := godotenv.Load(path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// BinaryChecker is what LogTranscoderInit needs from the subprocess runner.
type BinaryChecker interface {
	CheckBinaries() error
	Version(ctx context.Context) (string, error)
	Slots() int
}

// LogTranscoderInit logs transcoder initialization and checks FFmpeg
func LogTranscoderInit(t BinaryChecker) {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("TRANSCODER INITIALIZATION")
	logging.Info("------------------------------------------------------------")
	logging.Info("  Concurrent jobs: %d", t.Slots())

	if err := t.CheckBinaries(); err != nil {
		logging.Warn("  FFmpeg check failed: %v", err)
		logging.Warn("  Every media endpoint will fail until ffmpeg is installed")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	version, err := t.Version(ctx)
	if err != nil {
		logging.Warn("  Failed to get ffmpeg version: %v", err)
		return
	}
	logging.Info("  [OK] FFmpeg is available")
	logging.Debug("  FFmpeg version: %s", version)
}

// LogTempStoreInit logs the temp directory and the startup sweep.
func LogTempStoreInit(dir string, swept int, err error) {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("TEMP STORAGE")
	logging.Info("------------------------------------------------------------")
	logging.Info("  Directory: %s", dir)
	if err != nil {
		logging.Warn("  Sweep of stale artifacts failed: %v", err)
		return
	}
	if swept > 0 {
		logging.Info("  Removed %d stale artifacts", swept)
	}
}

// GetRoutes extracts all registered routes from a mux.Router
func GetRoutes(router *mux.Router) ([]RouteInfo, error) {
	var routes []RouteInfo

	err := router.Walk(func(route *mux.Route, _ *mux.Router, _ []*mux.Route) error {
		pathTemplate, err := route.GetPathTemplate()
		if err != nil {
			return err
		}

		methods, err := route.GetMethods()
		if err != nil {
			methods = []string{"*"}
		}

		name := route.GetName()

		for _, method := range methods {
			routes = append(routes, RouteInfo{
				Method: method,
				Path:   pathTemplate,
				Name:   name,
			})
		}

		return nil
	})

	return routes, err
}

// LogHTTPRoutes logs all registered HTTP routes dynamically
func LogHTTPRoutes(router *mux.Router, logHealthChecks bool) {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("HTTP SERVER SETUP")
	logging.Info("------------------------------------------------------------")

	routes, err := GetRoutes(router)
	if err != nil {
		logging.Warn("error walking routes: %v", err)
	}
	logging.Info("  Registered routes: %d", len(routes))

	if logging.IsDebugEnabled() {
		logging.Debug("")

		groups := make(map[string][]RouteInfo)
		for _, route := range routes {
			prefix := getRouteGroup(route.Path)
			groups[prefix] = append(groups[prefix], route)
		}

		groupKeys := make([]string, 0, len(groups))
		for k := range groups {
			groupKeys = append(groupKeys, k)
		}
		sort.Strings(groupKeys)

		for _, group := range groupKeys {
			if group != "" {
				logging.Debug("  [%s]", group)
			} else {
				logging.Debug("  [root]")
			}

			for _, route := range groups[group] {
				methodPadded := fmt.Sprintf("%-6s", route.Method)
				logging.Debug("    %s %s", methodPadded, route.Path)
			}
			logging.Debug("")
		}
	}

	logging.Info("  HTTP logging enabled")
	if logHealthChecks {
		logging.Info("    Health check logging: ON")
	} else {
		logging.Info("    Health check logging: OFF (set LOG_HEALTH_CHECKS=true to enable)")
	}
}

// getRouteGroup names the route family: probes, the status page, or the
// media kind an operation works on.
func getRouteGroup(path string) string {
	path = strings.TrimPrefix(path, "/")
	first, _, _ := strings.Cut(path, "/")

	switch {
	case first == "":
		return ""
	case first == "livez" || first == "readyz" || first == "version":
		return "probes"
	case strings.HasSuffix(first, "-audio") || first == "fade" || first == "waveform":
		return "audio"
	default:
		return "video"
	}
}

// ServerConfig holds configuration for the server startup log
type ServerConfig struct {
	Port            string
	MetricsPort     string
	MetricsEnabled  bool
	StartupDuration time.Duration
}

// LogServerStarted logs successful server start with all endpoint information
func LogServerStarted(config ServerConfig) {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("SERVER STARTED")
	logging.Info("------------------------------------------------------------")
	logging.Info("  Startup time:    %v", config.StartupDuration)
	logging.Info("")
	logging.Info("  Endpoints:")
	logging.Info("    Application:   http://0.0.0.0:%s", config.Port)
	if config.MetricsEnabled {
		logging.Info("    Metrics:       http://0.0.0.0:%s/metrics", config.MetricsPort)
	} else {
		logging.Info("    Metrics:       DISABLED")
	}
	logging.Info("")
	logging.Info("  Local access:")
	logging.Info("    Application:   http://localhost:%s", config.Port)
	logging.Info("    Healthcheck:   http://localhost:%s/?check=1&format=html", config.Port)
	if config.MetricsEnabled {
		logging.Info("    Metrics:       http://localhost:%s/metrics", config.MetricsPort)
	}
	logging.Info("")
	logging.Info("  Press Ctrl+C to stop the server")
	logging.Info("------------------------------------------------------------")
	logging.Info("")
}

// LogShutdownInitiated logs shutdown start
func LogShutdownInitiated(signal string) {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("SHUTDOWN INITIATED (received %s)", signal)
	logging.Info("------------------------------------------------------------")
}

// LogShutdownStep logs a shutdown step
func LogShutdownStep(step string) {
	logging.Debug("  %s...", step)
}

// LogShutdownStepComplete logs a completed shutdown step
func LogShutdownStepComplete(step string) {
	logging.Info("  [OK] %s", step)
}

// LogShutdownComplete logs shutdown completion
func LogShutdownComplete() {
	logging.Info("  [OK] Shutdown complete")
}

// LogFatal logs a fatal error and exits
func LogFatal(format string, args ...interface{}) {
	logging.Fatal(format, args...)
}

// Helper functions

func printBanner() {
	banner := `
------------------------------------------------------------
    ______________                           ___    ____  ____
   / ____/ ____/ /___ ___  ____  ___  ____ _/   |  / __ \/  _/
  / /_  / /_  / / __ '__ \/ __ \/ _ \/ __ '/ /| | / /_/ // /
 / __/ / __/ / / / / / / / /_/ /  __/ /_/ / ___ |/ ____// /
/_/   /_/   /_/_/ /_/ /_/ .___/\___/\__, /_/  |_/_/   /___/
                       /_/         /____/
------------------------------------------------------------`
	fmt.Println(banner)
	logging.Info("  Version:    %s", Version)
	logging.Info("  Commit:     %s", Commit)
	logging.Info("  Build Time: %s", BuildTime)
	logging.Info("  Started:    %s", time.Now().Format(time.RFC1123))
	logging.Info("")
}

func logSystemInfo() {
	logging.Info("------------------------------------------------------------")
	logging.Info("SYSTEM INFORMATION")
	logging.Info("------------------------------------------------------------")
	logging.Info("  Go version:      %s", runtime.Version())
	logging.Info("  OS/Arch:         %s/%s", runtime.GOOS, runtime.GOARCH)
	logging.Info("  CPUs available:  %d", runtime.NumCPU())
	logging.Info("  GOMAXPROCS:      %d", runtime.GOMAXPROCS(0))

	if runtime.GOMAXPROCS(0) < runtime.NumCPU() {
		logging.Info("  (Container CPU limit detected)")
	}

	if logging.IsDebugEnabled() {
		logging.Debug("  Goroutines:      %d", runtime.NumGoroutine())

		if wd, err := os.Getwd(); err == nil {
			logging.Debug("  Working dir:     %s", wd)
		}

		if hostname, err := os.Hostname(); err == nil {
			logging.Debug("  Hostname:        %s", hostname)
		}
	}

	logging.Info("")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		logging.Warn("Invalid boolean value for %s: %q, using default: %v", key, value, defaultValue)
		return defaultValue
	}
	return parsed
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		logging.Warn("Invalid integer value for %s: %q, using default: %d", key, value, defaultValue)
		return defaultValue
	}
	return parsed
}

func getEnvInt64(key string, defaultValue int64) int64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil {
		logging.Warn("Invalid integer value for %s: %q, using default: %d", key, value, defaultValue)
		return defaultValue
	}
	return parsed
}

// getEnvDuration accepts Go durations ("90s", "1m30s") and bare numbers of
// milliseconds.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	if ms, err := strconv.ParseInt(value, 10, 64); err == nil && ms >= 0 {
		return time.Duration(ms) * time.Millisecond
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed < 0 {
		logging.Warn("Invalid duration value for %s: %q, using default: %v", key, value, defaultValue)
		return defaultValue
	}
	return parsed
}

// getEnvList splits a comma-separated value, dropping empty entries.
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var list []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			list = append(list, item)
		}
	}
	if len(list) == 0 {
		return defaultValue
	}
	return list
}
