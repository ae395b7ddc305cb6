package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthOpenModeWhenNoKey(t *testing.T) {
	handler := Auth(AuthConfig{})(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/merge", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("Expected open mode to allow request, got %d", rec.Code)
	}
}

func TestAuthPlainKey(t *testing.T) {
	handler := Auth(AuthConfig{
		APIKey:        "s3cret",
		ExemptPaths:   []string{"/", "/livez"},
		GuardedParams: []string{"check"},
	})(okHandler())

	tests := []struct {
		name    string
		method  string
		path    string
		headers map[string]string
		want    int
	}{
		{"missing key", http.MethodPost, "/merge", nil, http.StatusUnauthorized},
		{"wrong key", http.MethodPost, "/merge", map[string]string{"x-api-key": "nope"}, http.StatusUnauthorized},
		{"header key", http.MethodPost, "/merge", map[string]string{"x-api-key": "s3cret"}, http.StatusOK},
		{"bearer token", http.MethodPost, "/merge", map[string]string{"Authorization": "Bearer s3cret"}, http.StatusOK},
		{"lowercase bearer", http.MethodPost, "/merge", map[string]string{"Authorization": "bearer s3cret"}, http.StatusOK},
		{"basic auth ignored", http.MethodPost, "/merge", map[string]string{"Authorization": "Basic s3cret"}, http.StatusUnauthorized},
		{"status exempt", http.MethodGet, "/", nil, http.StatusOK},
		{"liveness exempt", http.MethodGet, "/livez", nil, http.StatusOK},
		{"exempt path only for GET", http.MethodPost, "/", nil, http.StatusUnauthorized},
		{"guarded param needs key", http.MethodGet, "/?check=1", nil, http.StatusUnauthorized},
		{"guarded param with html format", http.MethodGet, "/?check=true&format=html", nil, http.StatusUnauthorized},
		{"guarded param with key", http.MethodGet, "/?check=1", map[string]string{"x-api-key": "s3cret"}, http.StatusOK},
		{"other params stay exempt", http.MethodGet, "/?format=html", nil, http.StatusOK},
		{"preflight", http.MethodOptions, "/merge", nil, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("got %d, want %d", rec.Code, tt.want)
			}
			if tt.want == http.StatusUnauthorized && rec.Header().Get("Content-Type") != "application/json" {
				t.Errorf("Expected JSON error, got %q", rec.Header().Get("Content-Type"))
			}
		})
	}
}

func TestAuthHashedKey(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("hashed-key"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("GenerateFromPassword failed: %v", err)
	}

	a := NewAuthenticator(AuthConfig{APIKeyHash: string(hash), ProbeKey: "probe"})

	if !a.Valid("hashed-key") {
		t.Error("Expected hashed key to be valid")
	}
	if !a.Valid("hashed-key") {
		t.Error("Expected cached hashed key to stay valid")
	}
	if a.Valid("other") {
		t.Error("Expected other key to be rejected")
	}
	if !a.Valid("probe") {
		t.Error("Expected probe key to be valid")
	}
}

func TestAuthProbeKeyAloneDoesNotEnable(t *testing.T) {
	cfg := AuthConfig{ProbeKey: "probe"}
	if cfg.Enabled() {
		t.Error("A probe key alone must not enable authentication")
	}
}

func TestExtractAPIKey(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("X-API-Key", " key1 ")
	req.Header.Set("Authorization", "Bearer key2")
	if got := ExtractAPIKey(req); got != "key1" {
		t.Errorf("Expected header to win, got %q", got)
	}

	req = httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("Authorization", "Bearer ")
	if got := ExtractAPIKey(req); got != "" {
		t.Errorf("Expected empty key, got %q", got)
	}
}
