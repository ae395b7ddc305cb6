package transcoder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"ffmpeg-api/internal/apierr"
	"ffmpeg-api/internal/logging"
	"ffmpeg-api/internal/metrics"
	"ffmpeg-api/internal/streaming"
)

// Job modes, used as metric labels.
const (
	ModeFile   = "file"
	ModeStream = "stream"
	ModeProbe  = "probe"
)

const (
	defaultStderrLines = 20
	// waitDelay bounds how long Wait blocks on I/O after the process is killed.
	waitDelay = 5 * time.Second
)

// Config configures a Transcoder.
type Config struct {
	// FFmpegPath and FFprobePath name the binaries; bare names are looked
	// up in PATH.
	FFmpegPath  string
	FFprobePath string
	// MaxConcurrent caps the number of subprocesses running at once.
	MaxConcurrent int
	// Timeout bounds a single subprocess. 0 disables it.
	Timeout time.Duration
	// Stream configures delivery of streaming-mode output to HTTP clients.
	Stream streaming.TimeoutWriterConfig
	// StderrLines is how many trailing stderr lines are kept for failures.
	StderrLines int
}

// Invocation is one subprocess run.
type Invocation struct {
	// Label identifies the job in logs, usually the operation name.
	Label string
	// Args excludes the binary itself.
	Args []string
	// Stdin feeds the process in streaming mode (pipe:0). Optional.
	Stdin io.Reader
	// Stdout receives the process output in streaming mode (pipe:1), or the
	// raw output of a probe.
	Stdout io.Writer
	// Verbose logs stderr as it arrives. Healthcheck probes run quiet.
	Verbose bool
}

// Transcoder runs ffmpeg and ffprobe subprocesses under a global
// concurrency cap and a per-job timeout.
type Transcoder struct {
	ffmpeg      string
	ffprobe     string
	sem         *semaphore.Weighted
	slots       int
	timeout     time.Duration
	stderrLines int

	processes map[uint64]*process
	processMu sync.Mutex
	nextID    atomic.Uint64

	// Streaming configuration
	streamConfig streaming.TimeoutWriterConfig
}

type process struct {
	label string
	cmd   *exec.Cmd
	start time.Time
}

// New creates a new Transcoder instance.
func New(config Config) *Transcoder {
	if config.FFmpegPath == "" {
		config.FFmpegPath = "ffmpeg"
	}
	if config.FFprobePath == "" {
		config.FFprobePath = "ffprobe"
	}
	if config.MaxConcurrent < 1 {
		config.MaxConcurrent = 1
	}
	if config.StderrLines <= 0 {
		config.StderrLines = defaultStderrLines
	}
	if config.Stream.WriteTimeout == 0 && config.Stream.IdleTimeout == 0 && config.Stream.ChunkSize == 0 {
		config.Stream = streaming.DefaultTimeoutWriterConfig()
		config.Stream.ChunkSize = 256 * 1024
	}

	metrics.TranscoderSlots.Set(float64(config.MaxConcurrent))

	return &Transcoder{
		ffmpeg:       config.FFmpegPath,
		ffprobe:      config.FFprobePath,
		sem:          semaphore.NewWeighted(int64(config.MaxConcurrent)),
		slots:        config.MaxConcurrent,
		timeout:      config.Timeout,
		stderrLines:  config.StderrLines,
		processes:    make(map[uint64]*process),
		streamConfig: config.Stream,
	}
}

// Slots returns the concurrency cap.
func (t *Transcoder) Slots() int {
	return t.slots
}

// Active returns the number of running subprocesses.
func (t *Transcoder) Active() int {
	t.processMu.Lock()
	defer t.processMu.Unlock()
	return len(t.processes)
}

// CheckBinaries reports whether ffmpeg and ffprobe can be resolved.
func (t *Transcoder) CheckBinaries() error {
	for _, bin := range []string{t.ffmpeg, t.ffprobe} {
		if _, err := exec.LookPath(bin); err != nil {
			return fmt.Errorf("%s not found: %w", bin, err)
		}
	}
	return nil
}

// Version returns the first line of `ffmpeg -version`. It does not take a
// slot.
func (t *Transcoder) Version(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	out, err := exec.CommandContext(ctx, t.ffmpeg, "-version").Output()
	if err != nil {
		return "", fmt.Errorf("running %s -version: %w", t.ffmpeg, err)
	}

	line, _, _ := strings.Cut(string(out), "\n")
	return strings.TrimSpace(line), nil
}

// acquire waits for a free slot and returns its release function.
func (t *Transcoder) acquire(ctx context.Context, label string) (func(), error) {
	start := time.Now()
	if err := t.sem.Acquire(ctx, 1); err != nil {
		return nil, apierr.Processing(apierr.NoExitCode, err, "%s canceled while waiting for a free ffmpeg slot", label)
	}

	wait := time.Since(start)
	metrics.TranscoderQueueWait.Observe(wait.Seconds())
	if wait > time.Second {
		logging.Debug("%s waited %v for an ffmpeg slot", label, wait)
	}

	return func() { t.sem.Release(1) }, nil
}

func (t *Transcoder) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if t.timeout > 0 {
		return context.WithTimeout(ctx, t.timeout)
	}
	return context.WithCancel(ctx)
}

func (t *Transcoder) track(label string, cmd *exec.Cmd) func() {
	id := t.nextID.Add(1)

	t.processMu.Lock()
	t.processes[id] = &process{label: label, cmd: cmd, start: time.Now()}
	active := len(t.processes)
	t.processMu.Unlock()
	metrics.TranscoderJobsInProgress.Set(float64(active))

	return func() {
		t.processMu.Lock()
		delete(t.processes, id)
		active := len(t.processes)
		t.processMu.Unlock()
		metrics.TranscoderJobsInProgress.Set(float64(active))
	}
}

func (t *Transcoder) newCommand(ctx context.Context, bin string, inv Invocation) (*exec.Cmd, *logging.LineWriter) {
	cmd := exec.CommandContext(ctx, bin, inv.Args...)
	cmd.WaitDelay = waitDelay

	stderr := logging.NewLineWriter(logging.LevelInfo, "["+inv.Label+"] ", inv.Verbose, t.stderrLines)
	cmd.Stderr = stderr
	return cmd, stderr
}

// Run executes ffmpeg in file mode: inputs and outputs are paths in Args.
// Exit code 0 is success; anything else is a processing error that carries
// the exit code. A timeout kills the process and reports exit code -1.
func (t *Transcoder) Run(ctx context.Context, inv Invocation) error {
	return t.run(ctx, ModeFile, t.ffmpeg, inv)
}

func (t *Transcoder) run(ctx context.Context, mode, bin string, inv Invocation) error {
	if inv.Label == "" {
		inv.Label = mode
	}

	release, err := t.acquire(ctx, inv.Label)
	if err != nil {
		return err
	}
	defer release()

	jobCtx, cancel := t.withTimeout(ctx)
	defer cancel()

	cmd, stderr := t.newCommand(jobCtx, bin, inv)
	cmd.Stdin = inv.Stdin
	cmd.Stdout = inv.Stdout

	logging.Debug("[%s] %s %s", inv.Label, bin, strings.Join(inv.Args, " "))

	start := time.Now()
	if err := cmd.Start(); err != nil {
		t.record(mode, "failure", start)
		return apierr.Processing(apierr.NoExitCode, err, "failed to start %s", bin)
	}

	untrack := t.track(inv.Label, cmd)
	waitErr := cmd.Wait()
	untrack()
	_ = stderr.Close()

	return t.classify(ctx, jobCtx, mode, bin, inv, start, waitErr, stderr)
}

// classify turns the outcome of Wait into the job error and records metrics.
func (t *Transcoder) classify(ctx, jobCtx context.Context, mode, bin string, inv Invocation, start time.Time, waitErr error, stderr *logging.LineWriter) error {
	if waitErr == nil {
		t.record(mode, "success", start)
		logging.Debug("[%s] %s finished in %v", inv.Label, bin, time.Since(start))
		return nil
	}

	tail := strings.Join(stderr.Tail(), "\n")

	if errors.Is(jobCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		t.record(mode, "timeout", start)
		logging.Warn("[%s] %s killed after %v timeout", inv.Label, bin, t.timeout)
		return apierr.Processing(apierr.NoExitCode, fmt.Errorf("%w: %s", waitErr, tail),
			"%s timed out after %v", bin, t.timeout)
	}

	if ctx.Err() != nil {
		t.record(mode, "failure", start)
		logging.Debug("[%s] %s stopped: %v", inv.Label, bin, ctx.Err())
		return apierr.Processing(apierr.NoExitCode, ctx.Err(), "%s canceled", bin)
	}

	code := apierr.NoExitCode
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		code = exitErr.ExitCode()
	}

	t.record(mode, "failure", start)
	if inv.Verbose {
		logging.Error("[%s] %s exited with code %d:\n%s", inv.Label, bin, code, tail)
	} else {
		logging.Debug("[%s] %s exited with code %d", inv.Label, bin, code)
	}

	return apierr.Processing(code, fmt.Errorf("%w: %s", waitErr, tail), "%s failed with exit code %d", bin, code)
}

func (t *Transcoder) record(mode, status string, start time.Time) {
	metrics.TranscoderJobsTotal.WithLabelValues(mode, status).Inc()
	metrics.TranscoderJobDuration.WithLabelValues(mode).Observe(time.Since(start).Seconds())
}

// Stream executes ffmpeg with pipe:0 / pipe:1 in Args. Stdin is copied into
// the process by one task and stdout is delivered to inv.Stdout by another;
// if either fails the process is killed. When inv.Stdout is an
// http.ResponseWriter, delivery goes through a streaming.TimeoutWriter.
func (t *Transcoder) Stream(ctx context.Context, inv Invocation) error {
	if inv.Label == "" {
		inv.Label = ModeStream
	}
	if inv.Stdout == nil {
		return apierr.Internal(nil, "stream %s has no output", inv.Label)
	}

	release, err := t.acquire(ctx, inv.Label)
	if err != nil {
		return err
	}
	defer release()

	jobCtx, cancel := t.withTimeout(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(jobCtx)

	cmd, stderr := t.newCommand(gctx, t.ffmpeg, inv)

	var stdin io.WriteCloser
	if inv.Stdin != nil {
		stdin, err = cmd.StdinPipe()
		if err != nil {
			return apierr.Internal(err, "failed to create stdin pipe")
		}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return apierr.Internal(err, "failed to create stdout pipe")
	}

	logging.Debug("[%s] streaming: %s %s", inv.Label, t.ffmpeg, strings.Join(inv.Args, " "))

	start := time.Now()
	if err := cmd.Start(); err != nil {
		t.record(ModeStream, "failure", start)
		return apierr.Processing(apierr.NoExitCode, err, "failed to start %s", t.ffmpeg)
	}
	untrack := t.track(inv.Label, cmd)
	defer untrack()

	if stdin != nil {
		// a blocked source read must not outlive the job
		if closer, ok := inv.Stdin.(io.Closer); ok {
			stop := context.AfterFunc(gctx, func() { _ = closer.Close() })
			defer stop()
		}

		g.Go(func() error {
			defer stdin.Close()
			_, err := io.Copy(stdin, inv.Stdin)
			if err == nil || isPipeClosed(err) {
				return nil
			}
			if gctx.Err() != nil {
				return nil
			}
			return apierr.Fetch(err, "input stream failed")
		})
	}

	var delivered atomic.Int64
	g.Go(func() error {
		if hw, ok := inv.Stdout.(http.ResponseWriter); ok {
			n, err := streaming.Copy(gctx, hw, stdout, t.streamConfig)
			delivered.Store(n)
			return err
		}
		n, err := io.Copy(inv.Stdout, stdout)
		delivered.Store(n)
		return err
	})

	copyErr := g.Wait()
	waitErr := cmd.Wait()
	_ = stderr.Close()

	timedOut := errors.Is(jobCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil
	if timedOut && waitErr == nil {
		waitErr = copyErr
	}

	if copyErr != nil && !timedOut {
		if errors.Is(copyErr, streaming.ErrClientGone) || errors.Is(copyErr, streaming.ErrWriteTimeout) ||
			errors.Is(copyErr, streaming.ErrIdleTimeout) {
			t.record(ModeStream, "failure", start)
			logging.Debug("[%s] stream ended after %d bytes: %v", inv.Label, delivered.Load(), copyErr)
			return apierr.Processing(apierr.NoExitCode, copyErr, "stream aborted")
		}
		var apiErr *apierr.Error
		if errors.As(copyErr, &apiErr) {
			t.record(ModeStream, "failure", start)
			return copyErr
		}
		if waitErr == nil {
			t.record(ModeStream, "failure", start)
			return apierr.Processing(apierr.NoExitCode, copyErr, "failed to deliver %s output", t.ffmpeg)
		}
	}

	return t.classify(ctx, jobCtx, ModeStream, t.ffmpeg, inv, start, waitErr, stderr)
}

func isPipeClosed(err error) bool {
	return errors.Is(err, syscall.EPIPE) || errors.Is(err, os.ErrClosed) || errors.Is(err, io.ErrClosedPipe)
}

// ProbeStream is the subset of an ffprobe stream entry the service reads.
type ProbeStream struct {
	Index     int    `json:"index"`
	CodecName string `json:"codec_name"`
	CodecType string `json:"codec_type"`
	Width     int    `json:"width,omitempty"`
	Height    int    `json:"height,omitempty"`
	Duration  string `json:"duration,omitempty"`
}

// ProbeFormat is the subset of the ffprobe format section the service reads.
type ProbeFormat struct {
	Filename   string `json:"filename"`
	FormatName string `json:"format_name"`
	Duration   string `json:"duration"`
	Size       string `json:"size"`
	BitRate    string `json:"bit_rate"`
	NbStreams  int    `json:"nb_streams"`
}

// ProbeResult holds decoded ffprobe output. Raw is the unmodified JSON.
type ProbeResult struct {
	Streams []ProbeStream   `json:"streams"`
	Format  ProbeFormat     `json:"format"`
	Raw     json.RawMessage `json:"-"`
}

// Probe runs ffprobe on path and decodes its JSON report.
func (t *Transcoder) Probe(ctx context.Context, path string, verbose bool) (*ProbeResult, error) {
	var stdout bytes.Buffer
	inv := Invocation{
		Label: "analyze",
		Args: []string{
			"-v", "error",
			"-print_format", "json",
			"-show_format",
			"-show_streams",
			path,
		},
		Stdout:  &stdout,
		Verbose: verbose,
	}

	if err := t.run(ctx, ModeProbe, t.ffprobe, inv); err != nil {
		return nil, err
	}

	raw := bytes.TrimSpace(stdout.Bytes())
	result := &ProbeResult{Raw: json.RawMessage(raw)}
	if err := json.Unmarshal(raw, result); err != nil {
		return nil, apierr.Processing(apierr.NoExitCode, err, "%s returned invalid JSON", t.ffprobe)
	}

	return result, nil
}

// Cleanup kills every running subprocess.
func (t *Transcoder) Cleanup() {
	t.processMu.Lock()
	defer t.processMu.Unlock()

	for _, p := range t.processes {
		if p.cmd.Process != nil {
			logging.Info("Killing %s process (running %v)", p.label, time.Since(p.start).Round(time.Millisecond))
			if err := p.cmd.Process.Kill(); err != nil {
				logging.Warn("failed to kill %s process: %v", p.label, err)
			}
		}
	}
}
