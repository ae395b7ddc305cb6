// Package main is the entry point of the ffmpeg API service.
//
// The service accepts a media URL (http, https or s3) or an inline base64
// payload, runs ffmpeg or ffprobe with a fixed argument vector per
// endpoint, and returns the result.
//
// # Application Lifecycle
//
//  1. Configuration: .env file and environment (see package startup)
//  2. Memory: GOMEMLIMIT from the container limit
//  3. Temp storage: directory created, stale artifacts swept
//  4. Transcoder: ffmpeg/ffprobe resolved, concurrency cap applied
//  5. HTTP server: one POST route per operation, plus /, /livez, /readyz
//     and /version, wrapped in the middleware chain
//  6. Metrics server on METRICS_PORT (if enabled)
//  7. Graceful shutdown on SIGINT/SIGTERM: running ffmpeg processes are
//     killed, servers drained and the temp directory swept
//
// # Middleware
//
// From the outside in: panic recovery, request IDs, W3C access log, path
// denylist, CORS, Prometheus metrics, API key auth, rate limiting and gzip
// compression for JSON and HTML responses.
//
// # Self-healthcheck
//
// GET /?check=1 probes every operation endpoint over loopback with sample
// inputs and reports the outcome per endpoint; add &format=html for a
// table.
package main
