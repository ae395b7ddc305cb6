package handlers

import (
	"net/http"
	"time"

	"ffmpeg-api/internal/fetcher"
	"ffmpeg-api/internal/healthcheck"
	"ffmpeg-api/internal/tempstore"
	"ffmpeg-api/internal/transcoder"
)

// Config holds the request-level limits and the self-healthcheck settings.
type Config struct {
	// MaxBodyBytes caps the JSON request body.
	MaxBodyBytes int64
	// FetchWorkers bounds parallel downloads within one request.
	FetchWorkers int
	// Healthcheck configures GET /?check=1.
	Healthcheck healthcheck.Config
	// HealthcheckClient sends the probes. Nil uses http.DefaultClient.
	HealthcheckClient healthcheck.Doer
	// Now is the clock used for default filenames.
	Now func() time.Time
}

type Handlers struct {
	transcoder *transcoder.Transcoder
	fetcher    *fetcher.Fetcher
	store      *tempstore.Store
	config     Config
	startTime  time.Time
}

func New(trans *transcoder.Transcoder, fetch *fetcher.Fetcher, store *tempstore.Store, config Config) *Handlers {
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = 200 << 20
	}
	if config.FetchWorkers <= 0 {
		config.FetchWorkers = 1
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &Handlers{
		transcoder: trans,
		fetcher:    fetch,
		store:      store,
		config:     config,
		startTime:  time.Now(),
	}
}

// NotFound answers unknown routes with a JSON error.
func (h *Handlers) NotFound(w http.ResponseWriter, r *http.Request) {
	writeJSONError(w, "Not found: "+r.URL.Path, http.StatusNotFound)
}

// MethodNotAllowed answers known routes called with the wrong method.
func (h *Handlers) MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeJSONError(w, "Method not allowed: "+r.Method, http.StatusMethodNotAllowed)
}
