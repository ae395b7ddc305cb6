package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ffmpeg_api_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ffmpeg_api_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"method", "path"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ffmpeg_api_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	HTTPRejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ffmpeg_api_http_rejections_total",
			Help: "Requests rejected by middleware before reaching a handler",
		},
		[]string{"reason"}, // "auth", "rate_limit", "forbidden_path", "cors", "panic"
	)
)

// Transcoder metrics
var (
	TranscoderJobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ffmpeg_api_transcoder_jobs_total",
			Help: "Total number of subprocess jobs",
		},
		[]string{"mode", "status"}, // mode: file/stream/probe; status: success/failure/timeout
	)

	TranscoderJobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ffmpeg_api_transcoder_job_duration_seconds",
			Help:    "Subprocess job duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"mode"},
	)

	TranscoderJobsInProgress = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ffmpeg_api_transcoder_jobs_in_progress",
			Help: "Number of subprocesses currently running",
		},
	)

	TranscoderQueueWait = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ffmpeg_api_transcoder_queue_wait_seconds",
			Help:    "Time spent waiting for a free subprocess slot",
			Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 15, 60},
		},
	)

	TranscoderSlots = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ffmpeg_api_transcoder_slots",
			Help: "Configured maximum number of concurrent subprocesses",
		},
	)
)

// Fetcher metrics
var (
	FetchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ffmpeg_api_fetch_total",
			Help: "Total number of input acquisitions",
		},
		[]string{"source", "status"}, // source: http/s3/inline
	)

	FetchBytes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ffmpeg_api_fetch_bytes_total",
			Help: "Bytes written to local artifacts by the fetcher",
		},
		[]string{"source"},
	)

	FetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ffmpeg_api_fetch_duration_seconds",
			Help:    "Input acquisition duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 120},
		},
		[]string{"source"},
	)
)

// Temp artifact metrics
var (
	ArtifactsAllocated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ffmpeg_api_artifacts_allocated_total",
			Help: "Total number of temp artifact paths allocated",
		},
	)

	ArtifactsReleased = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ffmpeg_api_artifacts_released_total",
			Help: "Total number of temp artifact releases",
		},
		[]string{"status"}, // "removed", "absent", "error"
	)

	ArtifactsLive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ffmpeg_api_artifacts_live",
			Help: "Artifacts allocated but not yet released",
		},
	)

	ArtifactsSwept = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ffmpeg_api_artifacts_swept_total",
			Help: "Stale artifacts removed by the temp directory sweep",
		},
	)
)

// Filesystem retry metrics
var (
	FilesystemStaleErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ffmpeg_api_filesystem_stale_errors_total",
			Help: "Stale file handle errors seen on temp artifacts",
		},
		[]string{"operation"}, // "stat", "open"
	)

	FilesystemRetryTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ffmpeg_api_filesystem_retry_total",
			Help: "Outcomes of filesystem operations that needed a retry",
		},
		[]string{"operation", "status"},
	)

	FilesystemRetryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ffmpeg_api_filesystem_operation_duration_seconds",
			Help:    "Duration of retried filesystem operations including backoff",
			Buckets: []float64{0.0001, 0.001, 0.01, 0.05, 0.1, 0.5, 1},
		},
		[]string{"operation"},
	)
)

// Streaming metrics
var (
	StreamBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ffmpeg_api_stream_bytes_total",
			Help: "Bytes streamed to clients in streaming mode",
		},
	)

	StreamAbortsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ffmpeg_api_stream_aborts_total",
			Help: "Streams terminated early",
		},
		[]string{"reason"}, // "client_gone", "write_timeout", "idle_timeout"
	)
)

// Healthcheck metrics
var (
	HealthcheckRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ffmpeg_api_healthcheck_runs_total",
			Help: "Self-healthcheck runs by execution mode",
		},
		[]string{"mode"},
	)

	HealthcheckProbesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ffmpeg_api_healthcheck_probes_total",
			Help: "Self-healthcheck probe outcomes",
		},
		[]string{"endpoint", "outcome"},
	)

	HealthcheckLastDuration = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ffmpeg_api_healthcheck_last_duration_seconds",
			Help: "Duration of the last self-healthcheck run in seconds",
		},
	)
)

// Application info metric
var (
	AppInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ffmpeg_api_app_info",
			Help: "Application information",
		},
		[]string{"version", "commit", "go_version"},
	)
)

// SetAppInfo sets the application info metric
func SetAppInfo(version, commit, goVersion string) {
	AppInfo.WithLabelValues(version, commit, goVersion).Set(1)
}

// InitializeMetrics pre-populates the expected label combinations so that
// every series is exported from the first scrape.
func InitializeMetrics() {
	for _, mode := range []string{"file", "stream", "probe"} {
		for _, status := range []string{"success", "failure", "timeout"} {
			TranscoderJobsTotal.WithLabelValues(mode, status)
		}
		TranscoderJobDuration.WithLabelValues(mode)
	}

	for _, source := range []string{"http", "s3", "inline"} {
		FetchTotal.WithLabelValues(source, "success")
		FetchTotal.WithLabelValues(source, "error")
		FetchBytes.WithLabelValues(source)
		FetchDuration.WithLabelValues(source)
	}

	for _, status := range []string{"removed", "absent", "error"} {
		ArtifactsReleased.WithLabelValues(status)
	}

	for _, reason := range []string{"auth", "rate_limit", "forbidden_path", "cors", "panic"} {
		HTTPRejectionsTotal.WithLabelValues(reason)
	}

	for _, op := range []string{"stat", "open"} {
		FilesystemStaleErrors.WithLabelValues(op)
		FilesystemRetryDuration.WithLabelValues(op)
	}

	for _, reason := range []string{"client_gone", "write_timeout", "idle_timeout"} {
		StreamAbortsTotal.WithLabelValues(reason)
	}
}
