/*
Package streaming delivers ffmpeg output to HTTP clients without letting a
slow or vanished client hold a subprocess slot indefinitely.

# TimeoutWriter

TimeoutWriter wraps an http.ResponseWriter and enforces:

  - WriteTimeout: the longest a single Write may block
  - IdleTimeout: the longest the stream may go without a successful write
  - MaxDuration: an absolute cap on the stream (0 = unlimited)

Writes larger than ChunkSize are split and flushed per chunk so the client
sees data as ffmpeg produces it. Writes from several goroutines are
serialized.

When the stream stops, Err reports why:

	ErrWriteTimeout   // a write blocked too long, or MaxDuration elapsed
	ErrIdleTimeout    // no output for IdleTimeout
	ErrClientGone     // the request context ended
	ErrStreamCanceled // Close was called

Done exposes the stop signal so a producer (the ffmpeg stdout pump) can
abandon its work as soon as delivery is impossible.

# Copy

Copy is the one-call form used by the streaming endpoints:

	w.Header().Set("Content-Type", "audio/mpeg")
	n, err := streaming.Copy(r.Context(), w, stdout, streaming.DefaultTimeoutWriterConfig())

It sets X-Content-Type-Options, copies until EOF or failure, and records
streamed bytes and abort reasons in the metrics package.
*/
package streaming
