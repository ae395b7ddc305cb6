package handlers

import (
	"bytes"
	"net/http"
	"strconv"
	"time"

	"ffmpeg-api/internal/healthcheck"
	"ffmpeg-api/internal/logging"
	"ffmpeg-api/internal/operations"
	"ffmpeg-api/internal/startup"
)

const (
	statusOK       = "ok"
	statusAlive    = "alive"
	statusReady    = "ready"
	statusNotReady = "not_ready"
)

// StatusResponse is the body of GET /.
type StatusResponse struct {
	Service     string              `json:"service"`
	Version     string              `json:"version"`
	Status      string              `json:"status"`
	Uptime      string              `json:"uptime"`
	ActiveJobs  int                 `json:"activeJobs"`
	Slots       int                 `json:"slots"`
	Endpoints   []string            `json:"endpoints"`
	Healthcheck *healthcheck.Report `json:"healthcheck,omitempty"`
}

// CheckParam is the query parameter on / that runs the self-healthcheck.
const CheckParam = "check"

// Status reports service information. With ?check=1 it also probes every
// endpoint; &format=html renders that report as a table.
func (h *Handlers) Status(w http.ResponseWriter, r *http.Request) {
	response := StatusResponse{
		Service:    startup.ServiceName,
		Version:    startup.Version,
		Status:     statusOK,
		Uptime:     time.Since(h.startTime).Round(time.Second).String(),
		ActiveJobs: h.transcoder.Active(),
		Slots:      h.transcoder.Slots(),
		Endpoints:  operations.Names(),
	}

	query := r.URL.Query()
	if check, _ := strconv.ParseBool(query.Get(CheckParam)); check {
		config := h.config.Healthcheck
		config.Service = startup.ServiceName
		config.Version = startup.Version

		report := healthcheck.New(config, h.config.HealthcheckClient).Run(r.Context(), operations.All())
		logging.Info("Healthcheck finished in %s: %d ok, %d validation, %d fault",
			report.Duration, report.Summary.Success, report.Summary.ExpectedValidation, report.Summary.Fault)

		if query.Get("format") == "html" {
			var buf bytes.Buffer
			if err := healthcheck.RenderHTML(&buf, report); err != nil {
				logging.Error("failed to render healthcheck report: %v", err)
				writeJSONError(w, "failed to render report", http.StatusInternalServerError)
				return
			}
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			w.Header().Set("Cache-Control", "no-cache")
			_, _ = w.Write(buf.Bytes())
			return
		}

		response.Healthcheck = &report
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	writeJSON(w, response)
}

// LivenessCheck is a simple liveness probe (always returns 200 if server is running)
func (h *Handlers) LivenessCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	// For HEAD requests, only send headers (no body)
	if r.Method != http.MethodHead {
		writeJSON(w, map[string]string{
			"status": statusAlive,
		})
	}
}

// ReadinessCheck returns 200 only when ffmpeg and ffprobe can be resolved
func (h *Handlers) ReadinessCheck(w http.ResponseWriter, _ *http.Request) {
	if err := h.transcoder.CheckBinaries(); err != nil {
		logging.Debug("Readiness check failed: %v", err)
		writeJSONStatus(w, statusNotReady, http.StatusServiceUnavailable)
		return
	}
	writeJSONStatus(w, statusReady, http.StatusOK)
}
