package workers

import (
	"os"
	"runtime"
	"strconv"

	"ffmpeg-api/internal/logging"
)

// Environment variables that override the computed pool sizes.
const (
	JobsEnv  = "MAX_CONCURRENT_JOBS"
	FetchEnv = "FETCH_WORKERS"
)

// Count returns the number of workers for a pool whose size may be forced by
// the environment variable envVar. Without an override the count is
// GOMAXPROCS scaled by multiplier, at least 1 and at most limit (0 = no cap).
//
// An override is honoured as-is, except that it is still capped by limit
// when limit > 0.
func Count(envVar string, multiplier float64, limit int) int {
	if envVar != "" {
		if override := os.Getenv(envVar); override != "" {
			count, err := strconv.Atoi(override)
			if err == nil && count > 0 {
				if limit > 0 && count > limit {
					logging.Warn("%s=%d exceeds the cap of %d, using %d", envVar, count, limit, limit)
					return limit
				}
				return count
			}
			logging.Warn("Ignoring invalid %s value %q", envVar, override)
		}
	}

	// GOMAXPROCS follows the container CPU limit
	available := runtime.GOMAXPROCS(0)

	workers := int(float64(available) * multiplier)

	if workers < 1 {
		workers = 1
	}
	if limit > 0 && workers > limit {
		workers = limit
	}

	return workers
}

// ForJobs returns the subprocess concurrency cap: one ffmpeg per CPU,
// overridable with MAX_CONCURRENT_JOBS.
func ForJobs(limit int) int {
	return Count(JobsEnv, 1.0, limit)
}

// ForFetch returns how many inputs of a multi-input job are downloaded in
// parallel: two per CPU, overridable with FETCH_WORKERS.
func ForFetch(limit int) int {
	return Count(FetchEnv, 2.0, limit)
}
