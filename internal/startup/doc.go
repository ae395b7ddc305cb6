// Package startup handles application initialization, configuration loading,
// and startup/shutdown logging.
//
// # Configuration
//
// [LoadConfig] reads a .env file from the working directory, if present, and
// then the environment. Variables already set in the environment are never
// overridden by the file.
//
//   - PORT: HTTP server port (default: 8080)
//   - METRICS_PORT, METRICS_ENABLED: Prometheus server (default: 9090, true)
//   - API_KEY: plain API key, compared in constant time
//   - API_KEY_HASH: bcrypt hash of an API key (see cmd/hashkey)
//   - REQUIRE_API_KEY: refuse to start without a key (default: false)
//   - FFMPEG_PATH, FFPROBE_PATH: binaries (default: ffmpeg, ffprobe from PATH)
//   - MAX_CONCURRENT_JOBS: subprocess cap (default: GOMAXPROCS, at most 64)
//   - JOB_TIMEOUT: per-subprocess limit (default: 10m)
//   - TEMP_DIR, TEMP_MAX_AGE: artifact directory and stale-file cutoff
//   - FETCH_TIMEOUT, MAX_DOWNLOAD_BYTES: input download limits (default: 2m, 2 GiB)
//   - MAX_BODY_BYTES: request body limit (default: 200 MiB)
//   - STREAM_WRITE_TIMEOUT, STREAM_IDLE_TIMEOUT: streaming mode limits
//   - RATE_LIMIT_REQUESTS, RATE_LIMIT_WINDOW: per-client budget (0 disables)
//   - REDIS_ADDR, REDIS_PASSWORD: shared rate limit counters
//   - CORS_ORIGINS: comma-separated origins (default: *)
//   - BLOCKED_PATHS: comma-separated denylist answered with 403
//   - TRUSTED_PROXIES: CIDRs or IPs whose X-Forwarded-For is believed
//   - HEALTHCHECK_MODE: sequential or batched (default: batched)
//   - HEALTHCHECK_BATCH_SIZE, HEALTHCHECK_DELAY, HEALTHCHECK_TIMEOUT
//   - HEALTHCHECK_SAMPLE_URLS: comma-separated probe inputs
//   - LOG_LEVEL, LOG_HEALTH_CHECKS
//
// Durations accept Go syntax ("90s") or a bare number of milliseconds.
//
// # Build Information
//
// Version, Commit and BuildTime are set at build time:
//
//	go build -ldflags "-X ffmpeg-api/internal/startup.Version=1.0.0 \
//	  -X ffmpeg-api/internal/startup.Commit=$(git rev-parse HEAD)"
package startup
