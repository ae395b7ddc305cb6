package healthcheck

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"ffmpeg-api/internal/logging"
	"ffmpeg-api/internal/metrics"
	"ffmpeg-api/internal/operations"
)

// SelfCheckHeader marks a request issued by the healthcheck itself. The
// dispatcher runs such requests without logging subprocess stderr, but only
// when they arrive over loopback.
const SelfCheckHeader = "X-Healthcheck-Probe"

// IsSelfCheck reports whether r carries SelfCheckHeader and comes from a
// loopback peer.
func IsSelfCheck(r *http.Request) bool {
	if r.Header.Get(SelfCheckHeader) == "" {
		return false
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return false
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// Mode selects how probes are scheduled.
type Mode string

const (
	ModeSequential Mode = "sequential"
	ModeBatched    Mode = "batched"
)

// ParseMode maps a config value to a Mode, defaulting to batched.
func ParseMode(s string) Mode {
	if strings.EqualFold(strings.TrimSpace(s), string(ModeSequential)) {
		return ModeSequential
	}
	return ModeBatched
}

// Outcome classifies a single probe.
type Outcome string

const (
	OutcomeSuccess            Outcome = "success"
	OutcomeExpectedValidation Outcome = "expected-validation"
	OutcomeFault              Outcome = "fault"
)

// Probe messages.
const (
	MessageOK         = "OK"
	MessageValidation = "invalid request (input probably missing)"
	MessageError      = "error"
	MessageNoResponse = "no response"
)

// DefaultSampleURLs are small public sample videos used as probe inputs.
var DefaultSampleURLs = []string{
	"http://commondatastorage.googleapis.com/gtv-videos-bucket/sample/ForBiggerFun.mp4",
	"http://commondatastorage.googleapis.com/gtv-videos-bucket/sample/ForBiggerJoyrides.mp4",
}

// Doer sends HTTP requests. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config holds orchestrator settings.
type Config struct {
	// BaseURL is the service's own address, e.g. http://127.0.0.1:8080.
	BaseURL    string
	Mode       Mode
	BatchSize  int
	Delay      time.Duration
	SampleURLs []string
	APIKey     string
	// Timeout bounds each probe.
	Timeout time.Duration

	Service string
	Version string
}

// DefaultConfig returns the orchestrator defaults.
func DefaultConfig() Config {
	return Config{
		Mode:       ModeBatched,
		BatchSize:  4,
		Delay:      1500 * time.Millisecond,
		SampleURLs: DefaultSampleURLs,
		Timeout:    5 * time.Minute,
		Service:    "FFmpeg API",
	}
}

// ProbeResult is the recorded outcome of one endpoint probe.
type ProbeResult struct {
	Endpoint string  `json:"endpoint"`
	Status   int     `json:"status"`
	Outcome  Outcome `json:"outcome"`
	Message  string  `json:"message"`
	Duration string  `json:"duration"`
}

// Report is built fresh for every run.
type Report struct {
	Service   string        `json:"service"`
	Version   string        `json:"version"`
	Mode      Mode          `json:"mode"`
	StartedAt time.Time     `json:"startedAt"`
	Duration  string        `json:"duration"`
	Summary   Summary       `json:"summary"`
	Endpoints []ProbeResult `json:"endpoints"`
}

// Summary counts probe outcomes.
type Summary struct {
	Success            int `json:"success"`
	ExpectedValidation int `json:"expectedValidation"`
	Fault              int `json:"fault"`
}

// Orchestrator probes every endpoint of the running service.
type Orchestrator struct {
	config Config
	client Doer
}

// New creates an Orchestrator. A nil client uses http.DefaultClient.
func New(config Config, client Doer) *Orchestrator {
	defaults := DefaultConfig()
	if config.Mode != ModeSequential {
		config.Mode = ModeBatched
	}
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	if config.Delay < 0 {
		config.Delay = 0
	}
	if len(config.SampleURLs) == 0 {
		config.SampleURLs = defaults.SampleURLs
	}
	if len(config.SampleURLs) == 1 {
		config.SampleURLs = []string{config.SampleURLs[0], config.SampleURLs[0]}
	}
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}
	if config.Service == "" {
		config.Service = defaults.Service
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	if client == nil {
		client = http.DefaultClient
	}
	return &Orchestrator{config: config, client: client}
}

// Run probes ops and returns a report with results in the order of ops.
func (o *Orchestrator) Run(ctx context.Context, ops []*operations.Operation) Report {
	start := time.Now()
	results := make([]ProbeResult, len(ops))

	logging.Info("Healthcheck started: %d endpoints, mode=%s", len(ops), o.config.Mode)
	metrics.HealthcheckRunsTotal.WithLabelValues(string(o.config.Mode)).Inc()

	switch o.config.Mode {
	case ModeSequential:
		for i, op := range ops {
			if i > 0 && !sleep(ctx, o.config.Delay) {
				o.markCanceled(results[i:], ops[i:])
				break
			}
			results[i] = o.probe(ctx, op)
		}
	default:
		for first := 0; first < len(ops); first += o.config.BatchSize {
			if first > 0 && !sleep(ctx, o.config.Delay) {
				o.markCanceled(results[first:], ops[first:])
				break
			}
			last := min(first+o.config.BatchSize, len(ops))

			var g errgroup.Group
			for i := first; i < last; i++ {
				g.Go(func() error {
					results[i] = o.probe(ctx, ops[i])
					return nil
				})
			}
			_ = g.Wait()
		}
	}

	elapsed := time.Since(start)
	metrics.HealthcheckLastDuration.Set(elapsed.Seconds())

	report := Report{
		Service:   o.config.Service,
		Version:   o.config.Version,
		Mode:      o.config.Mode,
		StartedAt: start.UTC(),
		Duration:  elapsed.Round(time.Millisecond).String(),
		Endpoints: results,
	}
	for _, r := range results {
		switch r.Outcome {
		case OutcomeSuccess:
			report.Summary.Success++
		case OutcomeExpectedValidation:
			report.Summary.ExpectedValidation++
		default:
			report.Summary.Fault++
		}
	}

	logging.Info("Healthcheck finished in %v: %d ok, %d validation, %d fault",
		elapsed.Round(time.Millisecond), report.Summary.Success, report.Summary.ExpectedValidation, report.Summary.Fault)

	return report
}

func (o *Orchestrator) markCanceled(results []ProbeResult, ops []*operations.Operation) {
	for i := range results {
		results[i] = ProbeResult{
			Endpoint: ops[i].Name,
			Outcome:  OutcomeFault,
			Message:  MessageNoResponse,
			Duration: "0s",
		}
	}
}

// Body returns the JSON body sent to op during a probe.
func (o *Orchestrator) Body(op *operations.Operation) map[string]interface{} {
	samples := o.config.SampleURLs

	switch {
	case op.Input == operations.InputMulti:
		return map[string]interface{}{
			"urls":     []string{samples[0], samples[1]},
			"format":   "mp4",
			"filename": "merge_test",
		}
	case op.SecondaryInput != "":
		return map[string]interface{}{
			"url":             samples[0],
			op.SecondaryInput: samples[1],
		}
	default:
		return map[string]interface{}{"url": samples[0]}
	}
}

func (o *Orchestrator) probe(ctx context.Context, op *operations.Operation) ProbeResult {
	start := time.Now()
	result := ProbeResult{Endpoint: op.Name}

	status, err := o.send(ctx, op)
	result.Status = status
	result.Outcome, result.Message = Classify(status, err)
	result.Duration = time.Since(start).Round(time.Millisecond).String()

	if err != nil {
		logging.Warn("Healthcheck probe %s: %v", op.Name, err)
	} else {
		logging.Debug("Healthcheck probe %s: %d (%s)", op.Name, status, result.Outcome)
	}
	metrics.HealthcheckProbesTotal.WithLabelValues(op.Name, string(result.Outcome)).Inc()

	return result
}

func (o *Orchestrator) send(ctx context.Context, op *operations.Operation) (int, error) {
	payload, err := json.Marshal(o.Body(op))
	if err != nil {
		return 0, err
	}

	ctx, cancel := context.WithTimeout(ctx, o.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.config.BaseURL+op.Path(), bytes.NewReader(payload))
	if err != nil {
		return 0, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SelfCheckHeader, "1")
	if o.config.APIKey != "" {
		req.Header.Set("x-api-key", o.config.APIKey)
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	return resp.StatusCode, nil
}

// Classify maps a probe's status code, or its transport error, to an
// outcome and message.
func Classify(status int, err error) (Outcome, string) {
	switch {
	case err != nil:
		return OutcomeFault, MessageNoResponse
	case status == http.StatusOK:
		return OutcomeSuccess, MessageOK
	case status == http.StatusBadRequest:
		return OutcomeExpectedValidation, MessageValidation
	default:
		return OutcomeFault, MessageError
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
