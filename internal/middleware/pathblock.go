package middleware

import (
	"net/http"
	"strings"

	"ffmpeg-api/internal/apierr"
	"ffmpeg-api/internal/logging"
	"ffmpeg-api/internal/metrics"
)

// DefaultBlockedPaths are probed by scanners and never served.
var DefaultBlockedPaths = []string{"/.env", "/.git", "/wp-admin", "/wp-login.php", "/phpmyadmin"}

// PathBlock answers 403 for denylisted paths and everything below them.
// Matching is case-insensitive.
func PathBlock(paths []string) func(http.Handler) http.Handler {
	blocked := make([]string, 0, len(paths))
	for _, p := range paths {
		p = strings.ToLower(strings.TrimRight(strings.TrimSpace(p), "/"))
		if p == "" {
			continue
		}
		if !strings.HasPrefix(p, "/") {
			p = "/" + p
		}
		blocked = append(blocked, p)
	}

	return func(next http.Handler) http.Handler {
		if len(blocked) == 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isBlocked(r.URL.Path, blocked) {
				logging.Warn("Blocked request for %s from %s", sanitizeLogField(r.URL.Path), sanitizeLogField(ClientIP(r)))
				metrics.HTTPRejectionsTotal.WithLabelValues("forbidden_path").Inc()
				apierr.Write(w, apierr.ForbiddenPath(r.URL.Path))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func isBlocked(path string, blocked []string) bool {
	path = strings.ToLower(path)
	for _, b := range blocked {
		if path == b || strings.HasPrefix(path, b+"/") {
			return true
		}
	}
	return false
}
