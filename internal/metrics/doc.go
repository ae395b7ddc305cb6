// Package metrics provides Prometheus instrumentation for the ffmpeg API service.
//
// All metrics are registered with the default registry through promauto and
// are prefixed with "ffmpeg_api_".
//
// # Metric Categories
//
// ## HTTP Metrics
//
//   - HTTPRequestsTotal: Counter of total requests by method, path, and status
//   - HTTPRequestDuration: Histogram of request duration by method and path
//   - HTTPRequestsInFlight: Gauge of currently processing requests
//   - HTTPRejectionsTotal: Counter of requests refused by middleware, by reason
//
// ## Transcoder Metrics
//
//   - TranscoderJobsTotal: Counter by mode (file/stream/probe) and status
//   - TranscoderJobDuration: Histogram of job duration by mode
//   - TranscoderJobsInProgress: Gauge of running subprocesses
//   - TranscoderQueueWait: Histogram of time spent waiting for a slot
//   - TranscoderSlots: Gauge of the configured concurrency cap
//
// ## Fetcher Metrics
//
//   - FetchTotal: Counter by source (http/s3/inline) and status
//   - FetchBytes: Counter of bytes written to temp artifacts
//   - FetchDuration: Histogram of acquisition time by source
//
// ## Temp Artifact Metrics
//
//   - ArtifactsAllocated, ArtifactsReleased, ArtifactsLive, ArtifactsSwept
//
// ## Streaming and Healthcheck Metrics
//
//   - StreamBytesTotal, StreamAbortsTotal
//   - HealthcheckRunsTotal, HealthcheckProbesTotal, HealthcheckLastDuration
//
// # Collector
//
// [Collector] periodically samples a [StatsProvider] and updates the gauges
// that describe current state rather than events:
//
//	collector := metrics.NewCollector(metrics.StatsFunc(func() metrics.Stats {
//		return metrics.Stats{ActiveJobs: tc.Active(), LiveArtifacts: store.Stats().Live}
//	}), 15*time.Second)
//	collector.Start()
//	defer collector.Stop()
//
// # Prometheus Queries
//
// Failed jobs per minute:
//
//	sum(rate(ffmpeg_api_transcoder_jobs_total{status!="success"}[5m])) * 60
//
// P95 job duration in file mode:
//
//	histogram_quantile(0.95, sum(rate(ffmpeg_api_transcoder_job_duration_seconds_bucket{mode="file"}[5m])) by (le))
//
// Slot saturation:
//
//	ffmpeg_api_transcoder_jobs_in_progress / ffmpeg_api_transcoder_slots
package metrics
