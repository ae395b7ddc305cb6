package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ffmpeg-api/internal/fetcher"
	"ffmpeg-api/internal/handlers"
	"ffmpeg-api/internal/healthcheck"
	"ffmpeg-api/internal/logging"
	"ffmpeg-api/internal/memory"
	"ffmpeg-api/internal/metrics"
	"ffmpeg-api/internal/middleware"
	"ffmpeg-api/internal/operations"
	"ffmpeg-api/internal/startup"
	"ffmpeg-api/internal/streaming"
	"ffmpeg-api/internal/tempstore"
	"ffmpeg-api/internal/transcoder"
	"ffmpeg-api/internal/workers"
)

// publicPaths answer GET without an API key and are not rate limited,
// except the status page which can trigger a healthcheck run.
var (
	publicPaths = []string{"/", "/livez", "/readyz", "/version"}
	probePaths  = []string{"/livez", "/readyz", "/version"}
)

func main() {
	startTime := time.Now()

	// Load configuration
	config, err := startup.LoadConfig()
	if err != nil {
		startup.LogFatal("Configuration error: %v", err)
	}

	memory.ConfigureFromEnv()

	metrics.InitializeMetrics()
	metrics.SetAppInfo(startup.Version, startup.Commit, startup.GoVersion)

	// Temp storage, with leftovers from a previous crash removed
	store, err := tempstore.New(config.TempDir)
	if err != nil {
		startup.LogFatal("Failed to initialize temp storage: %v", err)
	}
	swept, sweepErr := store.Sweep(config.TempMaxAge)
	startup.LogTempStoreInit(store.Dir(), swept, sweepErr)

	// Initialize transcoder
	streamConfig := streaming.DefaultTimeoutWriterConfig()
	streamConfig.WriteTimeout = config.StreamWriteTimeout
	streamConfig.IdleTimeout = config.StreamIdleTimeout
	trans := transcoder.New(transcoder.Config{
		FFmpegPath:    config.FFmpegPath,
		FFprobePath:   config.FFprobePath,
		MaxConcurrent: config.MaxConcurrentJobs,
		Timeout:       config.JobTimeout,
		Stream:        streamConfig,
	})
	startup.LogTranscoderInit(trans)

	fetch := fetcher.New(fetcher.Config{
		Timeout:  config.FetchTimeout,
		MaxBytes: config.MaxDownloadBytes,
	})

	authConfig, probeKey := newAuthConfig(config)

	h := handlers.New(trans, fetch, store, handlers.Config{
		MaxBodyBytes: config.MaxBodyBytes,
		FetchWorkers: workers.ForFetch(16),
		Healthcheck: healthcheck.Config{
			BaseURL:    "http://127.0.0.1:" + config.Port,
			Mode:       healthcheck.ParseMode(config.HealthcheckMode),
			BatchSize:  config.HealthcheckBatchSize,
			Delay:      config.HealthcheckDelay,
			SampleURLs: config.HealthcheckSampleURLs,
			APIKey:     probeKey,
			Timeout:    config.HealthcheckTimeout,
		},
	})

	// Setup router
	router := setupRouter(h)

	// Log routes dynamically
	startup.LogHTTPRoutes(router, config.LogHealthChecks)

	rateStore, closeRateStore := newRateStore(config)

	handler, err := buildHandler(router, config, authConfig, rateStore)
	if err != nil {
		startup.LogFatal("Middleware error: %v", err)
	}

	// Create server
	srv := &http.Server{
		Addr:              ":" + config.Port,
		Handler:           handler,
		ReadHeaderTimeout: 15 * time.Second,
		// uploads and outputs can be large; jobs are bounded by JOB_TIMEOUT
		ReadTimeout:  0,
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	var metricsSrv *http.Server
	if config.MetricsEnabled {
		metricsSrv = startMetricsServer(config.MetricsPort)
	}

	collector := metrics.NewCollector(newStatsProvider(trans, store), 15*time.Second)
	collector.Start()

	// Start graceful shutdown handler
	done := make(chan struct{})
	go handleShutdown(shutdownDeps{
		srv:        srv,
		metricsSrv: metricsSrv,
		collector:  collector,
		trans:      trans,
		store:      store,
		rateStore:  closeRateStore,
	}, done)

	// Start server
	startup.LogServerStarted(startup.ServerConfig{
		Port:            config.Port,
		MetricsPort:     config.MetricsPort,
		MetricsEnabled:  config.MetricsEnabled,
		StartupDuration: time.Since(startTime),
	})
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		startup.LogFatal("Server error: %v", err)
	}
	<-done
}

func setupRouter(h *handlers.Handlers) *mux.Router {
	r := mux.NewRouter()

	// Status, health check and version routes (no auth required)
	r.HandleFunc("/", h.Status).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/livez", h.LivenessCheck).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/readyz", h.ReadinessCheck).Methods(http.MethodGet)
	r.HandleFunc("/version", h.GetVersion).Methods(http.MethodGet)

	// One route per operation, in declaration order
	for _, op := range operations.All() {
		r.Handle(op.Path(), h.Dispatch(op)).Methods(http.MethodPost).Name(op.Name)
	}

	r.NotFoundHandler = http.HandlerFunc(h.NotFound)
	r.MethodNotAllowedHandler = http.HandlerFunc(h.MethodNotAllowed)

	return r
}

// newAuthConfig returns the auth settings and the key the self-healthcheck
// sends. With only a hash configured the plain key is unknown, so probes
// use a random key generated for this process.
func newAuthConfig(config *startup.Config) (middleware.AuthConfig, string) {
	authConfig := middleware.AuthConfig{
		APIKey:      config.APIKey,
		APIKeyHash:  config.APIKeyHash,
		ExemptPaths: publicPaths,
		// the self-healthcheck starts one ffmpeg job per operation
		GuardedParams: []string{handlers.CheckParam},
	}

	probeKey := config.APIKey
	if probeKey == "" && config.APIKeyHash != "" {
		authConfig.ProbeKey = uuid.NewString()
		probeKey = authConfig.ProbeKey
	}
	return authConfig, probeKey
}

// newRateStore picks the shared Redis store when REDIS_ADDR is set and
// reachable, and in-memory counters otherwise.
func newRateStore(config *startup.Config) (middleware.RateStore, io.Closer) {
	if config.RateLimitRequests <= 0 || config.RedisAddr == "" {
		return nil, nil
	}

	store, client := middleware.NewRedisRateStore(config.RedisAddr, config.RedisPassword)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logging.Warn("Redis at %s unreachable, using in-memory rate limit counters: %v", config.RedisAddr, err)
		_ = client.Close()
		return nil, nil
	}

	logging.Info("  [OK] Rate limit counters shared via Redis at %s", config.RedisAddr)
	return store, client
}

// buildHandler wraps the router in the middleware chain, outermost first:
// recover, request id, access log, path block, CORS, metrics, auth, rate
// limit, compression.
func buildHandler(router *mux.Router, config *startup.Config, authConfig middleware.AuthConfig, rateStore middleware.RateStore) (http.Handler, error) {
	cors, err := middleware.CORS(middleware.CORSConfig{AllowedOrigins: config.CORSOrigins})
	if err != nil {
		return nil, err
	}

	proxies, err := middleware.ParseTrustedProxies(config.TrustedProxies)
	if err != nil {
		return nil, err
	}
	middleware.SetTrustedProxies(proxies)

	limiter := middleware.NewRateLimiter(middleware.RateLimitConfig{
		Requests:    config.RateLimitRequests,
		Window:      config.RateLimitWindow,
		ExemptPaths: probePaths,
		ProbeHeader: healthcheck.SelfCheckHeader,
	}, rateStore)

	metricsConfig := middleware.DefaultMetricsConfig()
	metricsConfig.PathLabel = middleware.RouteLabel(router)

	loggingConfig := middleware.DefaultLoggingConfig()
	loggingConfig.LogHealthChecks = config.LogHealthChecks

	var handler http.Handler = router
	handler = middleware.Compression(middleware.DefaultCompressionConfig())(handler)
	handler = limiter.Middleware(handler)
	handler = middleware.Auth(authConfig)(handler)
	handler = middleware.Metrics(metricsConfig)(handler)
	handler = cors(handler)
	handler = middleware.PathBlock(config.BlockedPaths)(handler)
	handler = middleware.Logger(loggingConfig)(handler)
	handler = middleware.RequestID(handler)
	handler = middleware.Recover(handler)

	return handler, nil
}

func startMetricsServer(port string) *http.Server {
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           metricsMux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logging.Error("Metrics server error: %v", err)
		}
	}()

	return srv
}

// newStatsProvider feeds the periodic metrics collector.
func newStatsProvider(trans *transcoder.Transcoder, store *tempstore.Store) metrics.StatsProvider {
	return metrics.StatsFunc(func() metrics.Stats {
		return metrics.Stats{
			ActiveJobs:    trans.Active(),
			LiveArtifacts: int(store.Stats().Live),
			Slots:         trans.Slots(),
		}
	})
}

type shutdownDeps struct {
	srv        *http.Server
	metricsSrv *http.Server
	collector  *metrics.Collector
	trans      *transcoder.Transcoder
	store      *tempstore.Store
	rateStore  io.Closer
}

func handleShutdown(deps shutdownDeps, done chan<- struct{}) {
	defer close(done)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan

	startup.LogShutdownInitiated(sig.String())
	shutdown(deps, 30*time.Second)
}

func shutdown(deps shutdownDeps, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	startup.LogShutdownStep("Stopping metrics collector")
	deps.collector.Stop()
	startup.LogShutdownStepComplete("Metrics collector stopped")

	startup.LogShutdownStep("Killing running ffmpeg processes")
	deps.trans.Cleanup()
	startup.LogShutdownStepComplete("Transcoder cleanup complete")

	startup.LogShutdownStep("Shutting down HTTP server")
	if err := deps.srv.Shutdown(ctx); err != nil {
		logging.Warn("Server shutdown error: %v", err)
	} else {
		startup.LogShutdownStepComplete("HTTP server stopped")
	}

	if deps.metricsSrv != nil {
		startup.LogShutdownStep("Shutting down metrics server")
		if err := deps.metricsSrv.Shutdown(ctx); err != nil {
			logging.Warn("Metrics server shutdown error: %v", err)
		} else {
			startup.LogShutdownStepComplete("Metrics server stopped")
		}
	}

	if deps.rateStore != nil {
		if err := deps.rateStore.Close(); err != nil {
			logging.Warn("Failed to close Redis client: %v", err)
		}
	}

	// no request is running any more, so every remaining artifact is stale
	startup.LogShutdownStep("Removing temp artifacts")
	if n, err := deps.store.Sweep(0); err != nil {
		logging.Warn("Temp sweep failed: %v", err)
	} else {
		startup.LogShutdownStepComplete(fmt.Sprintf("Removed %d temp artifacts", n))
	}

	startup.LogShutdownComplete()
}
