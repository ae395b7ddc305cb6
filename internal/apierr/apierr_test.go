package apierr

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestKindStatus(t *testing.T) {
	tests := []struct {
		kind   Kind
		status int
	}{
		{KindValidation, http.StatusBadRequest},
		{KindFetch, http.StatusInternalServerError},
		{KindProcessing, http.StatusInternalServerError},
		{KindAuth, http.StatusUnauthorized},
		{KindRateLimit, http.StatusTooManyRequests},
		{KindForbiddenPath, http.StatusForbidden},
		{KindNotImplemented, http.StatusNotImplemented},
		{KindInternal, http.StatusInternalServerError},
		{Kind("SOMETHING_ELSE"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			if got := tt.kind.Status(); got != tt.status {
				t.Errorf("Status() = %d, want %d", got, tt.status)
			}
		})
	}
}

func TestProcessingCarriesExitCode(t *testing.T) {
	cause := errors.New("exit status 1")
	err := Processing(1, cause, "ffmpeg failed with exit code %d", 1)

	if got := ExitCode(err); got != 1 {
		t.Errorf("ExitCode() = %d, want 1", got)
	}
	if !errors.Is(err, cause) {
		t.Error("Expected errors.Is to find the underlying cause")
	}
	if !Is(err, KindProcessing) {
		t.Error("Expected Is(err, KindProcessing) to be true")
	}
	if StatusCode(err) != http.StatusInternalServerError {
		t.Errorf("StatusCode() = %d, want 500", StatusCode(err))
	}
}

func TestWrappedErrorsKeepKind(t *testing.T) {
	err := fmt.Errorf("fetching input: %w", Fetch(nil, "failed to download %s", "http://x"))

	if KindOf(err) != KindFetch {
		t.Errorf("KindOf() = %s, want %s", KindOf(err), KindFetch)
	}
	if ExitCode(err) != NoExitCode {
		t.Errorf("ExitCode() = %d, want %d", ExitCode(err), NoExitCode)
	}
	if !errors.Is(err, &Error{Kind: KindFetch}) {
		t.Error("Expected errors.Is to match a bare kind template")
	}
	if errors.Is(err, &Error{Kind: KindValidation}) {
		t.Error("Expected errors.Is not to match a different kind")
	}
}

func TestForeignErrorsAreInternal(t *testing.T) {
	err := errors.New("boom")

	if KindOf(err) != KindInternal {
		t.Errorf("KindOf() = %s, want %s", KindOf(err), KindInternal)
	}
	if Message(err) != "Internal server error" {
		t.Errorf("Message() = %q, must not leak internal error text", Message(err))
	}
}

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()
	Write(w, Validation("Send at least %d URLs to merge", 2))

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Expected Content-Type application/json, got %s", ct)
	}

	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode body: %v", err)
	}
	if body["error"] != "Send at least 2 URLs to merge" {
		t.Errorf("Unexpected error message: %q", body["error"])
	}
}

func TestWriteForbiddenPathIsPlainText(t *testing.T) {
	w := httptest.NewRecorder()
	Write(w, ForbiddenPath("/.env"))

	if w.Code != http.StatusForbidden {
		t.Errorf("Expected status 403, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("Expected text/plain, got %s", ct)
	}
	if w.Body.String() != "Forbidden: /.env" {
		t.Errorf("Unexpected body: %q", w.Body.String())
	}
}

func TestWriteHidesCause(t *testing.T) {
	w := httptest.NewRecorder()
	Write(w, Fetch(errors.New("dial tcp 10.0.0.1:80: secret detail"), "failed to download input"))

	if strings.Contains(w.Body.String(), "secret detail") {
		t.Errorf("Response body leaked the underlying error: %s", w.Body.String())
	}
}
