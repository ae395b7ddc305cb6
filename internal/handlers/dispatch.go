package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"strconv"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"ffmpeg-api/internal/apierr"
	"ffmpeg-api/internal/fetcher"
	"ffmpeg-api/internal/filesystem"
	"ffmpeg-api/internal/healthcheck"
	"ffmpeg-api/internal/logging"
	"ffmpeg-api/internal/operations"
	"ffmpeg-api/internal/tempstore"
	"ffmpeg-api/internal/transcoder"
)

// Dispatch returns the handler for one operation. Every endpoint runs the
// same sequence: decode, validate, fetch, run, serve. Temp artifacts are
// removed on every exit path.
func (h *Handlers) Dispatch(op *operations.Operation) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := h.decode(w, r)
		if err != nil {
			apierr.Write(w, err)
			return
		}

		if op.Kind == operations.KindUnimplemented {
			apierr.Write(w, apierr.NotImplemented(op.Name))
			return
		}

		job, err := op.Resolve(req, h.config.Now())
		if err != nil {
			apierr.Write(w, err)
			return
		}
		if err := validateSources(job); err != nil {
			apierr.Write(w, err)
			return
		}

		verbose := !healthcheck.IsSelfCheck(r)

		if wantsStream(r) && canStream(job) {
			h.stream(w, r, job, verbose)
			return
		}

		scope := h.store.NewScope()
		defer scope.Release()

		if err := h.execute(r.Context(), w, job, scope, verbose); err != nil {
			scope.Release()
			apierr.Write(w, err)
		}
	}
}

func (h *Handlers) decode(w http.ResponseWriter, r *http.Request) (*operations.Request, error) {
	r.Body = http.MaxBytesReader(w, r.Body, h.config.MaxBodyBytes)

	req := &operations.Request{}
	err := json.NewDecoder(r.Body).Decode(req)
	switch {
	case err == nil:
		return req, nil
	case errors.Is(err, io.EOF):
		// an empty body resolves like {}
		return req, nil
	default:
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, apierr.Validation("request body exceeds %d bytes", tooLarge.Limit)
		}
		return nil, apierr.Validation("invalid JSON body: %v", err)
	}
}

// validateSources rejects unsupported URLs before anything is downloaded.
func validateSources(job *operations.Job) error {
	for _, src := range job.Sources {
		if src.IsInline() {
			continue
		}
		if _, _, err := fetcher.ParseSource(src.URL); err != nil {
			return err
		}
	}
	if job.Extra.URL != "" {
		if _, _, err := fetcher.ParseSource(job.Extra.URL); err != nil {
			return err
		}
	}
	return nil
}

func wantsStream(r *http.Request) bool {
	v, _ := strconv.ParseBool(r.URL.Query().Get("stream"))
	return v
}

func canStream(job *operations.Job) bool {
	return job.Op.Streamable &&
		len(job.Sources) == 1 &&
		!job.Sources[0].IsInline() &&
		!job.HasExtra()
}

// execute runs a job in file mode and writes the response on success.
func (h *Handlers) execute(ctx context.Context, w http.ResponseWriter, job *operations.Job, scope *tempstore.Scope, verbose bool) error {
	inputs, extra, err := h.acquireInputs(ctx, job, scope)
	if err != nil {
		return err
	}

	if job.Op.Kind == operations.KindProbe {
		result, err := h.transcoder.Probe(ctx, inputs[0], verbose)
		if err != nil {
			return err
		}
		w.Header().Set("Content-Type", job.ContentType())
		w.Header().Set("Content-Length", strconv.Itoa(len(result.Raw)))
		_, _ = w.Write(result.Raw)
		return nil
	}

	output := scope.Allocate("output", job.Format)
	args, err := job.Op.Args(&operations.ArgContext{
		Job:     job,
		Inputs:  inputs,
		Extra:   extra,
		Output:  output,
		Scratch: scope.Allocate,
	})
	if err != nil {
		return err
	}

	err = h.transcoder.Run(ctx, transcoder.Invocation{
		Label:   job.Op.Name,
		Args:    args,
		Verbose: verbose,
	})
	if err != nil {
		return err
	}

	return serveFile(w, job, output)
}

// acquireInputs downloads or decodes every input into the scope. Inputs
// are fetched in parallel, bounded by FetchWorkers.
func (h *Handlers) acquireInputs(ctx context.Context, job *operations.Job, scope *tempstore.Scope) ([]string, string, error) {
	inputs := make([]string, len(job.Sources))
	var extra string

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(h.config.FetchWorkers)

	for i, src := range job.Sources {
		g.Go(func() error {
			p, err := h.acquire(gctx, src, scope, fmt.Sprintf("input%d", i))
			inputs[i] = p
			return err
		})
	}
	if job.HasExtra() {
		g.Go(func() error {
			p, err := h.acquire(gctx, job.Extra, scope, "extra")
			extra = p
			return err
		})
	}

	if err := g.Wait(); err != nil {
		return nil, "", err
	}
	return inputs, extra, nil
}

func (h *Handlers) acquire(ctx context.Context, src operations.Source, scope *tempstore.Scope, prefix string) (string, error) {
	if src.IsInline() {
		return h.fetcher.DecodeInlineToFile(src.Base64, scope, prefix, "bin")
	}
	return h.fetcher.FetchToFile(ctx, src.URL, scope, prefix, inputExt(src.URL))
}

// inputExt keeps the source's extension when it looks like one, so the
// artifact is recognisable when debugging. ffmpeg probes content anyway.
func inputExt(rawURL string) string {
	u := rawURL
	if i := strings.IndexAny(u, "?#"); i >= 0 {
		u = u[:i]
	}
	ext := strings.TrimPrefix(path.Ext(u), ".")
	if ext == "" || len(ext) > 5 {
		return "bin"
	}
	return strings.ToLower(ext)
}

// serveFile writes a finished output. A missing or empty file is a
// processing error even when ffmpeg exited 0.
func serveFile(w http.ResponseWriter, job *operations.Job, output string) error {
	f, err := filesystem.OpenWithRetry(output, filesystem.DefaultRetryConfig())
	if err != nil {
		return apierr.Processing(apierr.NoExitCode, err, "%s produced no output", job.Op.Name)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.Size() == 0 {
		return apierr.Processing(apierr.NoExitCode, err, "%s produced no output", job.Op.Name)
	}

	setOutputHeaders(w, job)
	w.Header().Set("Content-Length", strconv.FormatInt(info.Size(), 10))
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, f); err != nil {
		logging.Debug("[%s] response copy ended early: %v", job.Op.Name, err)
	}
	return nil
}

func setOutputHeaders(w http.ResponseWriter, job *operations.Job) {
	w.Header().Set("Content-Type", job.ContentType())
	if job.Op.Output.Attachment {
		w.Header().Set("Content-Disposition",
			mime.FormatMediaType("attachment", map[string]string{"filename": job.DownloadName()}))
	}
}

// stream pipes a url input through ffmpeg straight into the response.
func (h *Handlers) stream(w http.ResponseWriter, r *http.Request, job *operations.Job, verbose bool) {
	ctx := r.Context()

	body, err := h.fetcher.Open(ctx, job.Sources[0].URL)
	if err != nil {
		apierr.Write(w, err)
		return
	}
	defer body.Close()

	scope := h.store.NewScope()
	defer scope.Release()

	args, err := job.Op.Args(&operations.ArgContext{
		Job:       job,
		Inputs:    []string{"pipe:0"},
		Output:    "pipe:1",
		Streaming: true,
		Scratch:   scope.Allocate,
	})
	if err != nil {
		apierr.Write(w, err)
		return
	}

	setOutputHeaders(w, job)
	out := &firstByteWriter{ResponseWriter: w}

	err = h.transcoder.Stream(ctx, transcoder.Invocation{
		Label:   job.Op.Name,
		Args:    args,
		Stdin:   body,
		Stdout:  out,
		Verbose: verbose,
	})
	if err == nil {
		return
	}

	if !out.wrote.Load() {
		w.Header().Del("Content-Disposition")
		apierr.Write(w, err)
		return
	}
	// headers are gone, the truncated body is all the client gets
	logging.Warn("[%s] stream failed after %d bytes: %v", job.Op.Name, out.n.Load(), err)
}

// firstByteWriter records whether the response has started.
type firstByteWriter struct {
	http.ResponseWriter
	wrote atomic.Bool
	n     atomic.Int64
}

func (fw *firstByteWriter) WriteHeader(code int) {
	fw.wrote.Store(true)
	fw.ResponseWriter.WriteHeader(code)
}

func (fw *firstByteWriter) Write(p []byte) (int, error) {
	if len(p) > 0 {
		fw.wrote.Store(true)
	}
	n, err := fw.ResponseWriter.Write(p)
	fw.n.Add(int64(n))
	return n, err
}

func (fw *firstByteWriter) Flush() {
	if f, ok := fw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (fw *firstByteWriter) Unwrap() http.ResponseWriter {
	return fw.ResponseWriter
}
