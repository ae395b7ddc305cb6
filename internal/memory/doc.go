// Package memory configures the Go runtime's soft memory limit in
// containers.
//
// GOMAXPROCS follows cgroup CPU limits automatically but GOMEMLIMIT does
// not. ConfigureFromEnv derives it from MEMORY_LIMIT, usually injected with
// the Kubernetes Downward API:
//
//	env:
//	- name: MEMORY_LIMIT
//	  valueFrom:
//	    resourceFieldRef:
//	      resource: limits.memory
//	- name: MEMORY_RATIO
//	  value: "0.4"
//
// Only half of the limit goes to the Go heap by default: every job runs an
// ffmpeg process whose memory counts against the same container limit.
// Lower MEMORY_RATIO when MAX_CONCURRENT_JOBS is high.
package memory
