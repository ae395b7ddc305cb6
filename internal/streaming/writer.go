package streaming

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"ffmpeg-api/internal/logging"
	"ffmpeg-api/internal/metrics"
)

// Sentinel errors for streaming operations.
var (
	// ErrWriteTimeout indicates that a single write to the client took longer
	// than WriteTimeout, or the stream outlived MaxDuration.
	ErrWriteTimeout = errors.New("write timeout exceeded")

	// ErrIdleTimeout indicates that nothing was written for IdleTimeout.
	// A stalled ffmpeg produces this.
	ErrIdleTimeout = errors.New("stream idle timeout exceeded")

	// ErrClientGone indicates that the request context ended before the
	// stream completed.
	ErrClientGone = errors.New("client disconnected")

	// ErrStreamCanceled indicates that the writer was closed.
	ErrStreamCanceled = errors.New("stream canceled")
)

// TimeoutWriterConfig configures the timeout writer behavior
type TimeoutWriterConfig struct {
	// WriteTimeout is the maximum time to wait for a single write operation
	WriteTimeout time.Duration
	// IdleTimeout is the maximum time between successful writes
	IdleTimeout time.Duration
	// MaxDuration is the absolute maximum streaming duration (0 = unlimited)
	MaxDuration time.Duration
	// ChunkSize is the size of chunks to write (0 = write as received)
	ChunkSize int
	// OnProgress is called each time another MiB has been written
	OnProgress func(bytesWritten int64, duration time.Duration)
}

// DefaultTimeoutWriterConfig returns the defaults used for ffmpeg output.
func DefaultTimeoutWriterConfig() TimeoutWriterConfig {
	return TimeoutWriterConfig{
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
		MaxDuration:  0,
		ChunkSize:    64 * 1024,
		OnProgress:   nil,
	}
}

const progressStep = 1024 * 1024

// TimeoutWriter wraps an http.ResponseWriter so that a slow or vanished
// client cannot pin an ffmpeg process forever. Writes are serialized.
type TimeoutWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	ctx     context.Context
	cancel  context.CancelCauseFunc
	config  TimeoutWriterConfig

	writeMu sync.Mutex

	mu           sync.Mutex
	startTime    time.Time
	lastWrite    time.Time
	bytesWritten int64
	nextProgress int64
	closed       bool
}

// NewTimeoutWriter creates a new timeout-protected writer. Close must be
// called to stop the idle checker.
func NewTimeoutWriter(ctx context.Context, w http.ResponseWriter, config TimeoutWriterConfig) *TimeoutWriter {
	writerCtx, cancel := context.WithCancelCause(ctx)

	now := time.Now()
	tw := &TimeoutWriter{
		w:            w,
		ctx:          writerCtx,
		cancel:       cancel,
		config:       config,
		startTime:    now,
		lastWrite:    now,
		nextProgress: progressStep,
	}

	if flusher, ok := w.(http.Flusher); ok {
		tw.flusher = flusher
	}

	go tw.idleChecker()

	return tw
}

// Write implements io.Writer with timeout protection
func (tw *TimeoutWriter) Write(p []byte) (int, error) {
	tw.writeMu.Lock()
	defer tw.writeMu.Unlock()

	tw.mu.Lock()
	closed := tw.closed
	tw.mu.Unlock()
	if closed {
		return 0, ErrStreamCanceled
	}

	if err := tw.Err(); err != nil {
		return 0, err
	}

	if tw.config.MaxDuration > 0 && time.Since(tw.startTime) > tw.config.MaxDuration {
		tw.cancel(ErrWriteTimeout)
		return 0, ErrWriteTimeout
	}

	if tw.config.ChunkSize > 0 && len(p) > tw.config.ChunkSize {
		return tw.writeChunked(p)
	}

	n, err := tw.writeWithTimeout(p)
	if err == nil && tw.flusher != nil {
		tw.flusher.Flush()
	}
	return n, err
}

func (tw *TimeoutWriter) writeChunked(p []byte) (int, error) {
	totalWritten := 0

	for len(p) > 0 {
		if err := tw.Err(); err != nil {
			return totalWritten, err
		}

		chunkSize := tw.config.ChunkSize
		if len(p) < chunkSize {
			chunkSize = len(p)
		}

		n, err := tw.writeWithTimeout(p[:chunkSize])
		totalWritten += n
		if err != nil {
			return totalWritten, err
		}

		p = p[chunkSize:]

		if tw.flusher != nil {
			tw.flusher.Flush()
		}
	}

	return totalWritten, nil
}

func (tw *TimeoutWriter) writeWithTimeout(p []byte) (int, error) {
	type writeResult struct {
		n   int
		err error
	}
	resultCh := make(chan writeResult, 1)

	go func() {
		n, err := tw.w.Write(p)
		resultCh <- writeResult{n, err}
	}()

	var timeout <-chan time.Time
	if tw.config.WriteTimeout > 0 {
		timer := time.NewTimer(tw.config.WriteTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case result := <-resultCh:
		if result.err == nil {
			tw.recordWrite(result.n)
		}
		return result.n, result.err

	case <-timeout:
		tw.cancel(ErrWriteTimeout)
		return 0, ErrWriteTimeout

	case <-tw.ctx.Done():
		return 0, tw.Err()
	}
}

func (tw *TimeoutWriter) recordWrite(n int) {
	tw.mu.Lock()
	tw.lastWrite = time.Now()
	tw.bytesWritten += int64(n)
	written := tw.bytesWritten
	report := tw.config.OnProgress != nil && written >= tw.nextProgress
	if report {
		tw.nextProgress = (written/progressStep + 1) * progressStep
	}
	tw.mu.Unlock()

	metrics.StreamBytesTotal.Add(float64(n))

	if report {
		tw.config.OnProgress(written, time.Since(tw.startTime))
	}
}

func (tw *TimeoutWriter) idleChecker() {
	if tw.config.IdleTimeout <= 0 {
		return
	}

	ticker := time.NewTicker(tw.config.IdleTimeout / 4)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			tw.mu.Lock()
			idle := time.Since(tw.lastWrite)
			closed := tw.closed
			tw.mu.Unlock()

			if closed {
				return
			}

			if idle > tw.config.IdleTimeout {
				logging.Warn("Stream idle timeout exceeded: %v", idle)
				tw.cancel(ErrIdleTimeout)
				return
			}

		case <-tw.ctx.Done():
			return
		}
	}
}

// Err returns nil while the stream is healthy, otherwise the reason it
// stopped: ErrWriteTimeout, ErrIdleTimeout, ErrStreamCanceled or
// ErrClientGone when the parent context ended.
func (tw *TimeoutWriter) Err() error {
	if tw.ctx.Err() == nil {
		return nil
	}
	cause := context.Cause(tw.ctx)
	switch {
	case errors.Is(cause, ErrWriteTimeout), errors.Is(cause, ErrIdleTimeout), errors.Is(cause, ErrStreamCanceled):
		return cause
	default:
		return ErrClientGone
	}
}

// Done is closed when the stream stops for any reason.
func (tw *TimeoutWriter) Done() <-chan struct{} {
	return tw.ctx.Done()
}

// Close marks the writer as closed
func (tw *TimeoutWriter) Close() error {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	if tw.closed {
		return nil
	}

	tw.closed = true
	tw.cancel(ErrStreamCanceled)

	return nil
}

// Stats returns streaming statistics
func (tw *TimeoutWriter) Stats() (bytesWritten int64, duration time.Duration) {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	return tw.bytesWritten, time.Since(tw.startTime)
}

// Copy streams r to the response through a TimeoutWriter and returns the
// number of bytes delivered. The caller sets Content-Type beforehand.
func Copy(ctx context.Context, w http.ResponseWriter, r io.Reader, config TimeoutWriterConfig) (int64, error) {
	tw := NewTimeoutWriter(ctx, w, config)
	defer func() {
		if err := tw.Close(); err != nil {
			logging.Warn("Failed to close timeout writer: %v", err)
		}
	}()

	w.Header().Set("X-Content-Type-Options", "nosniff")

	_, err := io.Copy(tw, r)

	bytesWritten, duration := tw.Stats()
	if err != nil {
		RecordAbort(err)
		logging.Debug("Stream aborted after %d bytes in %v: %v", bytesWritten, duration, err)
	} else {
		logging.Debug("Stream completed: %d bytes in %v", bytesWritten, duration)
	}

	return bytesWritten, err
}

// RecordAbort counts a stream that ended early with err.
func RecordAbort(err error) {
	switch {
	case errors.Is(err, ErrClientGone):
		metrics.StreamAbortsTotal.WithLabelValues("client_gone").Inc()
	case errors.Is(err, ErrWriteTimeout):
		metrics.StreamAbortsTotal.WithLabelValues("write_timeout").Inc()
	case errors.Is(err, ErrIdleTimeout):
		metrics.StreamAbortsTotal.WithLabelValues("idle_timeout").Inc()
	}
}
