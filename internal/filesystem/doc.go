/*
Package filesystem wraps os.Stat and os.Open with retries for stale file
handle errors (ESTALE).

TEMP_DIR is often a shared volume (NFS, or a network-backed emptyDir). An
output ffmpeg just wrote can briefly return ESTALE when the handler opens it
to send the response. Only ESTALE is retried; every other error, including
fs.ErrNotExist, is returned immediately.

	f, err := filesystem.OpenWithRetry(output, filesystem.DefaultRetryConfig())

# Retry Behavior

Defaults:
  - MaxRetries: 3
  - InitialBackoff: 50ms
  - MaxBackoff: 500ms

Backoff doubles after every attempt (50ms, 100ms, 200ms) up to MaxBackoff.
Attempts and outcomes are exported as ffmpeg_api_filesystem_* metrics.
*/
package filesystem
