/*
Package workers sizes the service's concurrency limits from the CPU budget
the process actually has.

GOMAXPROCS follows container CPU limits (Go 1.19+), while runtime.NumCPU
reports the host. Every helper here starts from GOMAXPROCS:

	// Concurrent ffmpeg subprocesses: one per CPU, at most 8.
	slots := workers.ForJobs(8)

	// Parallel downloads for multi-input jobs: two per CPU, at most 8.
	fetchers := workers.ForFetch(8)

# Environment Variable Override

Each pool can be forced by an environment variable:

	MAX_CONCURRENT_JOBS=4   # subprocess slots
	FETCH_WORKERS=2         # parallel input downloads

The limit passed by the caller still caps an override. Invalid or
non-positive values are logged and ignored.
*/
package workers
