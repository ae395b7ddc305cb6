package middleware

import (
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"ffmpeg-api/internal/metrics"
)

func TestResponseWriterWriteHeader(t *testing.T) {
	w := httptest.NewRecorder()
	rw := newResponseWriter(w)

	rw.WriteHeader(http.StatusNotFound)
	rw.WriteHeader(http.StatusInternalServerError)

	if rw.statusCode != http.StatusNotFound {
		t.Errorf("Expected status code 404, got %d", rw.statusCode)
	}
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected recorder code 404, got %d", w.Code)
	}
}

func TestResponseWriterCountsBytes(t *testing.T) {
	rw := newResponseWriter(httptest.NewRecorder())

	_, _ = rw.Write([]byte("hello "))
	_, _ = rw.Write([]byte("world"))

	if rw.bytesWritten != 11 {
		t.Errorf("Expected 11 bytes, got %d", rw.bytesWritten)
	}
	if !rw.wroteHeader {
		t.Error("Expected wroteHeader after Write")
	}
}

func TestWrappersImplementFlusher(t *testing.T) {
	rec := httptest.NewRecorder()
	writers := map[string]http.ResponseWriter{
		"logging":     newResponseWriter(rec),
		"metrics":     newMetricsResponseWriter(rec),
		"compression": newGzipResponseWriter(rec, DefaultCompressionConfig()),
	}
	for name, w := range writers {
		f, ok := w.(http.Flusher)
		if !ok {
			t.Errorf("%s writer does not implement http.Flusher", name)
			continue
		}
		f.Flush()
	}
	if !rec.Flushed {
		t.Error("Expected Flush to reach the recorder")
	}
}

func TestLoggerFormatsW3CLine(t *testing.T) {
	var lines []string
	logger := NewW3CLogger(DefaultLoggingConfig())
	logger.output = func(line string) { lines = append(lines, line) }

	handler := logger.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("12345"))
	}))

	req := httptest.NewRequest(http.MethodPost, "/convert-audio?stream=true", nil)
	req.Header.Set("User-Agent", "curl/8.0 (x)")
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	req = req.WithContext(ContextWithRequestID(req.Context(), "req-1"))
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if len(lines) != 1 {
		t.Fatalf("Expected 1 log line, got %d", len(lines))
	}
	fields := []string{"203.0.113.7", "POST", "/convert-audio", "stream=true", " 201 5 ", `"curl/8.0 (x)"`, "req-1", "FFmpegAPI/1.0"}
	for _, f := range fields {
		if !strings.Contains(lines[0], f) {
			t.Errorf("Log line %q missing %q", lines[0], f)
		}
	}
}

func TestLoggerSkipsHealthChecks(t *testing.T) {
	var lines []string
	cfg := DefaultLoggingConfig()
	cfg.LogHealthChecks = false
	logger := NewW3CLogger(cfg)
	logger.output = func(line string) { lines = append(lines, line) }

	handler := logger.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/livez", nil))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	if len(lines) != 1 {
		t.Errorf("Expected only the status request to be logged, got %d lines", len(lines))
	}
}

func TestSanitizeLogField(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"normal", "normal"},
		{"line\nbreak", "line break"},
		{"cr\rlf", "cr lf"},
		{"nul\x00byte", "nulbyte"},
		{"ansi\x1b[31mred", "ansi[31mred"},
		{"tab\tok", "tab\tok"},
	}
	for _, tt := range tests {
		if got := sanitizeLogField(tt.in); got != tt.want {
			t.Errorf("sanitizeLogField(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestClientIP(t *testing.T) {
	proxies, err := ParseTrustedProxies([]string{"10.0.0.0/8", "192.0.2.7"})
	if err != nil {
		t.Fatalf("ParseTrustedProxies: %v", err)
	}

	tests := []struct {
		name    string
		proxies *TrustedProxies
		headers map[string]string
		remote  string
		want    string
	}{
		{"untrusted peer ignores forwarded", proxies, map[string]string{"X-Forwarded-For": "1.1.1.1"}, "9.9.9.9:1", "9.9.9.9"},
		{"untrusted peer ignores real ip", proxies, map[string]string{"X-Real-IP": "3.3.3.3"}, "9.9.9.9:1", "9.9.9.9"},
		{"no proxies configured", nil, map[string]string{"X-Forwarded-For": "1.1.1.1"}, "10.1.2.3:1", "10.1.2.3"},
		{"trusted peer", proxies, map[string]string{"X-Forwarded-For": "1.1.1.1"}, "10.1.2.3:1", "1.1.1.1"},
		{"rightmost untrusted hop wins", proxies, map[string]string{"X-Forwarded-For": "6.6.6.6, 1.1.1.1, 10.0.0.2"}, "10.1.2.3:1", "1.1.1.1"},
		{"bare ip proxy", proxies, map[string]string{"X-Real-IP": "3.3.3.3"}, "192.0.2.7:1", "3.3.3.3"},
		{"garbage header", proxies, map[string]string{"X-Forwarded-For": "not-an-ip"}, "10.1.2.3:1", "10.1.2.3"},
		{"remote addr", nil, nil, "9.9.9.9:1234", "9.9.9.9"},
		{"ipv6 remote", nil, nil, "[::1]:8080", "::1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			if got := tt.proxies.ClientIP(req); got != tt.want {
				t.Errorf("ClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseTrustedProxies(t *testing.T) {
	tp, err := ParseTrustedProxies([]string{" 10.0.0.0/8 ", "", "::1", "203.0.113.9"})
	if err != nil {
		t.Fatalf("ParseTrustedProxies: %v", err)
	}
	if tp.Len() != 3 {
		t.Errorf("Len() = %d, want 3", tp.Len())
	}

	for _, bad := range []string{"10.0.0.0/99", "proxy.internal"} {
		if _, err := ParseTrustedProxies([]string{bad}); err == nil {
			t.Errorf("Expected error for %q", bad)
		}
	}
}

func TestPackageClientIPUsesTrustedProxies(t *testing.T) {
	t.Cleanup(func() { SetTrustedProxies(nil) })

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.5:80"
	req.Header.Set("X-Forwarded-For", "1.1.1.1")

	if got := ClientIP(req); got != "10.0.0.5" {
		t.Errorf("ClientIP() without proxies = %q, want peer", got)
	}

	tp, _ := ParseTrustedProxies([]string{"10.0.0.0/8"})
	SetTrustedProxies(tp)
	if got := ClientIP(req); got != "1.1.1.1" {
		t.Errorf("ClientIP() behind trusted proxy = %q, want 1.1.1.1", got)
	}
}

func TestCompressionMiddleware(t *testing.T) {
	tests := []struct {
		name              string
		responseBody      string
		contentType       string
		contentLength     bool
		acceptEncoding    string
		expectCompression bool
	}{
		{"compresses large JSON", strings.Repeat(`{"key":"value"}`, 200), "application/json", false, "gzip", true},
		{"compresses large HTML", strings.Repeat("<td>ok</td>", 200), "text/html; charset=utf-8", false, "gzip", true},
		{"skips small responses", `{"status":"ok"}`, "application/json", false, "gzip", false},
		{"skips media", strings.Repeat("data", 1000), "video/mp4", true, "gzip", false},
		{"skips media without length", strings.Repeat("data", 1000), "audio/mpeg", false, "gzip", false},
		{"respects client without gzip", strings.Repeat("data", 1000), "application/json", false, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := Compression(DefaultCompressionConfig())(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", tt.contentType)
				if tt.contentLength {
					w.Header().Set("Content-Length", "4000")
				}
				w.WriteHeader(http.StatusOK)
				_, _ = w.Write([]byte(tt.responseBody))
			}))

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.acceptEncoding != "" {
				req.Header.Set("Accept-Encoding", tt.acceptEncoding)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			compressed := rec.Header().Get("Content-Encoding") == "gzip"
			if compressed != tt.expectCompression {
				t.Fatalf("compressed = %v, want %v", compressed, tt.expectCompression)
			}

			body := rec.Body.Bytes()
			if compressed {
				gr, err := gzip.NewReader(bytes.NewReader(body))
				if err != nil {
					t.Fatalf("Failed to create gzip reader: %v", err)
				}
				body, err = io.ReadAll(gr)
				if err != nil {
					t.Fatalf("Failed to decompress: %v", err)
				}
			}
			if string(body) != tt.responseBody {
				t.Errorf("Body mismatch: got %d bytes, want %d", len(body), len(tt.responseBody))
			}
		})
	}
}

func TestCompressionKeepsErrorStatus(t *testing.T) {
	handler := Compression(DefaultCompressionConfig())(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"url is required"}`))
	}))

	req := httptest.NewRequest(http.MethodPost, "/cut-audio", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", rec.Code)
	}
	if rec.Body.String() != `{"error":"url is required"}` {
		t.Errorf("Unexpected body %q", rec.Body.String())
	}
}

func TestCompressionMultipleWrites(t *testing.T) {
	chunk := strings.Repeat("a", 300)
	handler := Compression(DefaultCompressionConfig())(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		for i := 0; i < 10; i++ {
			_, _ = w.Write([]byte(chunk))
		}
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	gr, err := gzip.NewReader(rec.Body)
	if err != nil {
		t.Fatalf("Expected gzip body: %v", err)
	}
	body, _ := io.ReadAll(gr)
	if len(body) != 3000 {
		t.Errorf("Expected 3000 bytes, got %d", len(body))
	}
}

func TestMetricsMiddlewareRecordsRouteLabel(t *testing.T) {
	router := mux.NewRouter()
	router.HandleFunc("/convert-audio", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}).Methods(http.MethodPost)

	cfg := DefaultMetricsConfig()
	cfg.PathLabel = RouteLabel(router)
	handler := Metrics(cfg)(router)

	counter := metrics.HTTPRequestsTotal.WithLabelValues("POST", "/convert-audio", "400")
	before := testutil.ToFloat64(counter)
	unmatched := metrics.HTTPRequestsTotal.WithLabelValues("GET", "unmatched", "404")
	beforeUnmatched := testutil.ToFloat64(unmatched)

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/convert-audio", nil))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/random/path/123", nil))

	if got := testutil.ToFloat64(counter); got != before+1 {
		t.Errorf("Expected route counter %v, got %v", before+1, got)
	}
	if got := testutil.ToFloat64(unmatched); got != beforeUnmatched+1 {
		t.Errorf("Expected unmatched counter %v, got %v", beforeUnmatched+1, got)
	}
}

func TestMetricsMiddlewareSkipPaths(t *testing.T) {
	called := false
	handler := Metrics(DefaultMetricsConfig())(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		called = true
	}))

	counter := metrics.HTTPRequestsTotal.WithLabelValues("GET", "/livez", "200")
	before := testutil.ToFloat64(counter)

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/livez", nil))

	if !called {
		t.Error("Expected handler to be called")
	}
	if got := testutil.ToFloat64(counter); got != before {
		t.Errorf("Expected skipped path not to be counted")
	}
}

func TestNormalizePath(t *testing.T) {
	tests := map[string]string{
		"":                 "/",
		"/":                "/",
		"/merge":           "/merge",
		"/a/b/c/d/e":       "/a/{path}",
		"/convert-audio/x": "/convert-audio/{path}",
	}
	for in, want := range tests {
		if got := normalizePath(in); got != want {
			t.Errorf("normalizePath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRequestID(t *testing.T) {
	var seen string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if len(seen) != 36 || rec.Header().Get(RequestIDHeader) != seen {
		t.Errorf("Expected generated uuid, got %q / %q", seen, rec.Header().Get(RequestIDHeader))
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	handler.ServeHTTP(httptest.NewRecorder(), req)
	if seen != "abc-123" {
		t.Errorf("Expected inbound id to be reused, got %q", seen)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "bad id\nwith newline")
	handler.ServeHTTP(httptest.NewRecorder(), req)
	if seen == "bad id\nwith newline" {
		t.Error("Expected malformed inbound id to be replaced")
	}

	if RequestIDFromContext(context.Background()) != "" {
		t.Error("Expected empty id for bare context")
	}
}

func TestRecover(t *testing.T) {
	handler := Recover(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/merge", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("Expected 500, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"error"`) {
		t.Errorf("Expected JSON error body, got %q", rec.Body.String())
	}
	if strings.Contains(rec.Body.String(), "boom") {
		t.Error("Panic value must not reach the client")
	}
}

func TestRecoverRepanicsAbortHandler(t *testing.T) {
	handler := Recover(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		panic(http.ErrAbortHandler)
	}))

	defer func() {
		if r := recover(); r != http.ErrAbortHandler {
			t.Errorf("Expected ErrAbortHandler to propagate, got %v", r)
		}
	}()
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
}

func TestPathBlock(t *testing.T) {
	handler := PathBlock(DefaultBlockedPaths)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	tests := []struct {
		path string
		want int
	}{
		{"/.env", http.StatusForbidden},
		{"/.ENV", http.StatusForbidden},
		{"/.git/config", http.StatusForbidden},
		{"/wp-login.php", http.StatusForbidden},
		{"/.envelope", http.StatusTeapot},
		{"/convert-audio", http.StatusTeapot},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
		if rec.Code != tt.want {
			t.Errorf("%s: got %d, want %d", tt.path, rec.Code, tt.want)
		}
		if tt.want == http.StatusForbidden && rec.Body.String() != "Forbidden: "+tt.path {
			t.Errorf("%s: unexpected body %q", tt.path, rec.Body.String())
		}
	}
}

func TestPathBlockEmptyList(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {})
	handler := PathBlock([]string{" ", ""})(next)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/.env", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("Expected pass-through, got %d", rec.Code)
	}
}

func TestCORSWildcard(t *testing.T) {
	mw, err := CORS(CORSConfig{AllowedOrigins: []string{"*"}})
	if err != nil {
		t.Fatalf("CORS failed: %v", err)
	}
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}))

	req := httptest.NewRequest(http.MethodOptions, "/merge", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Errorf("Expected 204 preflight, got %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Errorf("Unexpected allow origin %q", rec.Header().Get("Access-Control-Allow-Origin"))
	}
	if !strings.Contains(rec.Header().Get("Access-Control-Allow-Headers"), "X-API-Key") {
		t.Errorf("Expected api key header to be allowed")
	}
}

func TestCORSAllowList(t *testing.T) {
	mw, err := CORS(CORSConfig{AllowedOrigins: []string{"https://App.Example.com"}})
	if err != nil {
		t.Fatalf("CORS failed: %v", err)
	}
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/merge", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Header().Get("Access-Control-Allow-Origin") != "https://app.example.com" {
		t.Errorf("Expected origin to be echoed, got %q", rec.Header().Get("Access-Control-Allow-Origin"))
	}

	req = httptest.NewRequest(http.MethodPost, "/merge", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("Expected 403 for unknown origin, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/merge", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("Expected same-origin request to pass, got %d", rec.Code)
	}
}

func TestCORSInvalidOrigin(t *testing.T) {
	if _, err := CORS(CORSConfig{AllowedOrigins: []string{"not-a-url"}}); err == nil {
		t.Error("Expected error for origin without scheme")
	}
}

// slowFlushRecorder is used to check that flushes pass through the chain
// while the handler is still running.
type slowFlushRecorder struct {
	*httptest.ResponseRecorder
	flushedAt []time.Time
}

func (r *slowFlushRecorder) Flush() {
	r.flushedAt = append(r.flushedAt, time.Now())
	r.ResponseRecorder.Flush()
}

func TestChainPassesFlushes(t *testing.T) {
	handler := Metrics(DefaultMetricsConfig())(
		Compression(DefaultCompressionConfig())(
			Logger(DefaultLoggingConfig())(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "audio/mpeg")
				for i := 0; i < 3; i++ {
					_, _ = w.Write([]byte("chunk"))
					w.(http.Flusher).Flush()
				}
			}))))

	req := httptest.NewRequest(http.MethodPost, "/convert-audio?stream=true", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	rec := &slowFlushRecorder{ResponseRecorder: httptest.NewRecorder()}
	handler.ServeHTTP(rec, req)

	if len(rec.flushedAt) != 3 {
		t.Errorf("Expected 3 flushes, got %d", len(rec.flushedAt))
	}
	if rec.Body.String() != "chunkchunkchunk" {
		t.Errorf("Unexpected body %q", rec.Body.String())
	}
}
