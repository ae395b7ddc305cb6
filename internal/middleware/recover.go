package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"

	"ffmpeg-api/internal/apierr"
	"ffmpeg-api/internal/logging"
	"ffmpeg-api/internal/metrics"
)

// Recover turns a handler panic into a 500 JSON error.
func Recover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if err, ok := rec.(error); ok && errors.Is(err, http.ErrAbortHandler) {
				panic(rec)
			}

			logging.Error("panic recovered: %v [%s %s request_id=%s]\n%s",
				rec, r.Method, sanitizeLogField(r.URL.Path), RequestIDFromContext(r.Context()), debug.Stack())
			metrics.HTTPRejectionsTotal.WithLabelValues("panic").Inc()

			apierr.Write(w, apierr.Internal(fmt.Errorf("panic: %v", rec), "Internal server error"))
		}()

		next.ServeHTTP(w, r)
	})
}
