package middleware

import (
	"crypto/sha256"
	"crypto/subtle"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"

	"ffmpeg-api/internal/apierr"
	"ffmpeg-api/internal/logging"
	"ffmpeg-api/internal/metrics"
)

// APIKeyHeader is the primary credential header.
const APIKeyHeader = "X-API-Key"

// AuthConfig configures API key checks.
type AuthConfig struct {
	// APIKey is compared in constant time.
	APIKey string
	// APIKeyHash is a bcrypt hash of an accepted key.
	APIKeyHash string
	// ProbeKey is an internal key accepted in addition to the configured
	// ones, used by the self-healthcheck when only a hash is configured.
	ProbeKey string
	// ExemptPaths skip the check for GET and HEAD requests.
	ExemptPaths []string
	// GuardedParams are query parameters that trigger expensive work on an
	// exempt path. A request carrying any of them needs a key.
	GuardedParams []string
}

// Enabled reports whether any key is configured.
func (c AuthConfig) Enabled() bool {
	return c.APIKey != "" || c.APIKeyHash != ""
}

// Authenticator validates request credentials.
type Authenticator struct {
	config AuthConfig
	exempt map[string]bool

	// bcrypt is slow, so keys that matched the hash once are remembered by
	// digest.
	verified sync.Map
}

// NewAuthenticator creates an Authenticator.
func NewAuthenticator(config AuthConfig) *Authenticator {
	exempt := make(map[string]bool, len(config.ExemptPaths))
	for _, p := range config.ExemptPaths {
		exempt[p] = true
	}
	return &Authenticator{config: config, exempt: exempt}
}

// Auth returns middleware that rejects requests without a valid API key.
// With no key configured every request passes.
func Auth(config AuthConfig) func(http.Handler) http.Handler {
	return NewAuthenticator(config).Middleware
}

// Middleware implements the check.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	if !a.config.Enabled() {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || a.isExempt(r) {
			next.ServeHTTP(w, r)
			return
		}

		key := ExtractAPIKey(r)
		if key == "" || !a.Valid(key) {
			logging.Debug("Rejected request to %s from %s: bad or missing API key",
				sanitizeLogField(r.URL.Path), sanitizeLogField(ClientIP(r)))
			metrics.HTTPRejectionsTotal.WithLabelValues("auth").Inc()
			apierr.Write(w, apierr.Auth("Invalid or missing API key"))
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (a *Authenticator) isExempt(r *http.Request) bool {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		return false
	}
	if !a.exempt[r.URL.Path] {
		return false
	}
	if len(a.config.GuardedParams) == 0 {
		return true
	}
	query := r.URL.Query()
	for _, p := range a.config.GuardedParams {
		if query.Has(p) {
			return false
		}
	}
	return true
}

// Valid reports whether key matches the plain key, the hash or the probe key.
func (a *Authenticator) Valid(key string) bool {
	if a.config.APIKey != "" && constantTimeEqual(key, a.config.APIKey) {
		return true
	}
	if a.config.ProbeKey != "" && constantTimeEqual(key, a.config.ProbeKey) {
		return true
	}
	if a.config.APIKeyHash == "" {
		return false
	}

	digest := sha256.Sum256([]byte(key))
	if _, ok := a.verified.Load(digest); ok {
		return true
	}
	if bcrypt.CompareHashAndPassword([]byte(a.config.APIKeyHash), []byte(key)) != nil {
		return false
	}
	a.verified.Store(digest, struct{}{})
	return true
}

func constantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// ExtractAPIKey reads the key from X-API-Key or an Authorization bearer token.
func ExtractAPIKey(r *http.Request) string {
	if key := strings.TrimSpace(r.Header.Get(APIKeyHeader)); key != "" {
		return key
	}
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}
