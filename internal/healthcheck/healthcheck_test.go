package healthcheck

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"ffmpeg-api/internal/operations"
)

type recordedProbe struct {
	path   string
	header http.Header
	body   map[string]interface{}
}

// probeServer answers each path with the configured status and records
// what it received.
type probeServer struct {
	mu       sync.Mutex
	statuses map[string]int
	probes   []recordedProbe
	inFlight atomic.Int32
	maxSeen  atomic.Int32
	hold     time.Duration
}

func (s *probeServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	n := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		seen := s.maxSeen.Load()
		if n <= seen || s.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}
	if s.hold > 0 {
		time.Sleep(s.hold)
	}

	var body map[string]interface{}
	_ = json.NewDecoder(r.Body).Decode(&body)

	s.mu.Lock()
	s.probes = append(s.probes, recordedProbe{path: r.URL.Path, header: r.Header.Clone(), body: body})
	status, ok := s.statuses[r.URL.Path]
	s.mu.Unlock()

	if !ok {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{}`))
}

func (s *probeServer) find(path string) (recordedProbe, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.probes {
		if p.path == path {
			return p, true
		}
	}
	return recordedProbe{}, false
}

// failingDoer fails for one path and delegates the rest.
type failingDoer struct {
	next Doer
	path string
}

func (d failingDoer) Do(req *http.Request) (*http.Response, error) {
	if req.URL.Path == d.path {
		return nil, errors.New("connection refused")
	}
	return d.next.Do(req)
}

func testConfig(baseURL string, mode Mode) Config {
	return Config{
		BaseURL:    baseURL,
		Mode:       mode,
		BatchSize:  4,
		Delay:      0,
		SampleURLs: []string{"http://samples/one.mp4", "http://samples/two.mp4"},
		APIKey:     "secret",
		Timeout:    5 * time.Second,
		Version:    "test",
	}
}

func TestRunClassifiesAndKeepsOrder(t *testing.T) {
	for _, mode := range []Mode{ModeSequential, ModeBatched} {
		t.Run(string(mode), func(t *testing.T) {
			srv := &probeServer{statuses: map[string]int{
				"/equalize":      http.StatusNotImplemented,
				"/cut-audio":     http.StatusBadRequest,
				"/convert-video": http.StatusInternalServerError,
			}}
			ts := httptest.NewServer(srv)
			defer ts.Close()

			client := failingDoer{next: ts.Client(), path: "/analyze"}
			o := New(testConfig(ts.URL, mode), client)

			ops := operations.All()
			report := o.Run(context.Background(), ops)

			if len(report.Endpoints) != len(ops) {
				t.Fatalf("Expected %d results, got %d", len(ops), len(report.Endpoints))
			}
			for i, op := range ops {
				if report.Endpoints[i].Endpoint != op.Name {
					t.Errorf("result %d = %s, want %s", i, report.Endpoints[i].Endpoint, op.Name)
				}
			}

			byName := make(map[string]ProbeResult)
			for _, r := range report.Endpoints {
				byName[r.Endpoint] = r
			}

			checks := []struct {
				name    string
				status  int
				outcome Outcome
				message string
			}{
				{"convert-audio", 200, OutcomeSuccess, MessageOK},
				{"cut-audio", 400, OutcomeExpectedValidation, MessageValidation},
				{"equalize", 501, OutcomeFault, MessageError},
				{"convert-video", 500, OutcomeFault, MessageError},
				{"analyze", 0, OutcomeFault, MessageNoResponse},
			}
			for _, c := range checks {
				got := byName[c.name]
				if got.Status != c.status || got.Outcome != c.outcome || got.Message != c.message {
					t.Errorf("%s = %+v, want status=%d outcome=%s message=%q", c.name, got, c.status, c.outcome, c.message)
				}
			}

			if report.Summary.Fault != 3 || report.Summary.ExpectedValidation != 1 {
				t.Errorf("Unexpected summary: %+v", report.Summary)
			}
			if report.Service != "FFmpeg API" || report.Mode != mode {
				t.Errorf("Unexpected report header: %+v", report)
			}
		})
	}
}

func TestProbeRequests(t *testing.T) {
	srv := &probeServer{}
	ts := httptest.NewServer(srv)
	defer ts.Close()

	o := New(testConfig(ts.URL+"/", ModeBatched), ts.Client())
	o.Run(context.Background(), operations.All())

	merge, ok := srv.find("/merge")
	if !ok {
		t.Fatal("merge was not probed")
	}
	if merge.header.Get(SelfCheckHeader) != "1" {
		t.Errorf("Expected %s header", SelfCheckHeader)
	}
	if merge.header.Get("x-api-key") != "secret" {
		t.Errorf("Expected api key header, got %q", merge.header.Get("x-api-key"))
	}
	urls, _ := merge.body["urls"].([]interface{})
	if len(urls) != 2 || merge.body["format"] != "mp4" || merge.body["filename"] != "merge_test" {
		t.Errorf("Unexpected merge body: %v", merge.body)
	}

	watermark, ok := srv.find("/watermark")
	if !ok {
		t.Fatal("watermark was not probed")
	}
	if watermark.body["url"] != "http://samples/one.mp4" || watermark.body["watermark"] != "http://samples/two.mp4" {
		t.Errorf("Unexpected watermark body: %v", watermark.body)
	}

	gif, _ := srv.find("/gif")
	if len(gif.body) != 1 || gif.body["url"] != "http://samples/one.mp4" {
		t.Errorf("Unexpected gif body: %v", gif.body)
	}
}

func TestBatchedRespectsBatchSize(t *testing.T) {
	srv := &probeServer{hold: 20 * time.Millisecond}
	ts := httptest.NewServer(srv)
	defer ts.Close()

	cfg := testConfig(ts.URL, ModeBatched)
	cfg.BatchSize = 3
	New(cfg, ts.Client()).Run(context.Background(), operations.All())

	if got := srv.maxSeen.Load(); got > 3 {
		t.Errorf("Expected at most 3 concurrent probes, saw %d", got)
	}
	if got := srv.maxSeen.Load(); got < 2 {
		t.Errorf("Expected probes to overlap within a batch, saw %d", got)
	}
}

func TestSequentialRunsOneAtATime(t *testing.T) {
	srv := &probeServer{hold: 5 * time.Millisecond}
	ts := httptest.NewServer(srv)
	defer ts.Close()

	ops := operations.All()[:5]
	New(testConfig(ts.URL, ModeSequential), ts.Client()).Run(context.Background(), ops)

	if got := srv.maxSeen.Load(); got != 1 {
		t.Errorf("Expected 1 concurrent probe, saw %d", got)
	}
}

func TestRunCanceledDuringDelay(t *testing.T) {
	srv := &probeServer{}
	ts := httptest.NewServer(srv)
	defer ts.Close()

	cfg := testConfig(ts.URL, ModeBatched)
	cfg.Delay = time.Hour

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	ops := operations.All()
	report := New(cfg, ts.Client()).Run(ctx, ops)

	if len(report.Endpoints) != len(ops) {
		t.Fatalf("Expected %d results, got %d", len(ops), len(report.Endpoints))
	}
	last := report.Endpoints[len(ops)-1]
	if last.Endpoint != ops[len(ops)-1].Name || last.Message != MessageNoResponse {
		t.Errorf("Expected unprobed endpoints to be reported, got %+v", last)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		status  int
		err     error
		outcome Outcome
	}{
		{200, nil, OutcomeSuccess},
		{400, nil, OutcomeExpectedValidation},
		{401, nil, OutcomeFault},
		{501, nil, OutcomeFault},
		{0, errors.New("timeout"), OutcomeFault},
	}
	for _, tt := range tests {
		if got, _ := Classify(tt.status, tt.err); got != tt.outcome {
			t.Errorf("Classify(%d, %v) = %s, want %s", tt.status, tt.err, got, tt.outcome)
		}
	}
}

func TestNewDefaults(t *testing.T) {
	o := New(Config{Mode: "weird", SampleURLs: []string{"http://only"}}, nil)

	if o.config.Mode != ModeBatched {
		t.Errorf("Mode = %s, want batched", o.config.Mode)
	}
	if o.config.BatchSize != 4 {
		t.Errorf("BatchSize = %d, want 4", o.config.BatchSize)
	}
	if len(o.config.SampleURLs) != 2 {
		t.Errorf("Expected a single sample to be reused, got %v", o.config.SampleURLs)
	}
	if o.client != http.DefaultClient {
		t.Error("Expected default client")
	}
}

func TestParseMode(t *testing.T) {
	if ParseMode(" Sequential ") != ModeSequential {
		t.Error("Expected sequential")
	}
	if ParseMode("") != ModeBatched || ParseMode("parallel") != ModeBatched {
		t.Error("Expected batched default")
	}
}

func TestRenderHTML(t *testing.T) {
	report := Report{
		Service: "FFmpeg API",
		Version: "1.0.0",
		Mode:    ModeBatched,
		Endpoints: []ProbeResult{
			{Endpoint: "convert-audio", Status: 200, Outcome: OutcomeSuccess, Message: MessageOK},
			{Endpoint: "<script>", Status: 0, Outcome: OutcomeFault, Message: MessageNoResponse},
		},
	}

	var buf bytes.Buffer
	if err := RenderHTML(&buf, report); err != nil {
		t.Fatalf("RenderHTML failed: %v", err)
	}
	html := buf.String()

	for _, want := range []string{"/convert-audio", `class="success"`, MessageNoResponse, "&lt;script&gt;"} {
		if !strings.Contains(html, want) {
			t.Errorf("HTML missing %q", want)
		}
	}
	if strings.Contains(html, "<script>") {
		t.Error("HTML must escape endpoint names")
	}
}

func TestIsSelfCheck(t *testing.T) {
	tests := []struct {
		name   string
		remote string
		header bool
		want   bool
	}{
		{"loopback with header", "127.0.0.1:5000", true, true},
		{"ipv6 loopback with header", "[::1]:5000", true, true},
		{"loopback without header", "127.0.0.1:5000", false, false},
		{"remote with header", "203.0.113.5:5000", true, false},
		{"malformed remote", "garbage", true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/merge", nil)
			req.RemoteAddr = tt.remote
			if tt.header {
				req.Header.Set(SelfCheckHeader, "1")
			}
			if got := IsSelfCheck(req); got != tt.want {
				t.Errorf("IsSelfCheck() = %v, want %v", got, tt.want)
			}
		})
	}
}
