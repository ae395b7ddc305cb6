package fetcher

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"ffmpeg-api/internal/apierr"
	"ffmpeg-api/internal/logging"
	"ffmpeg-api/internal/metrics"
	"ffmpeg-api/internal/tempstore"
)

// Source labels used in metrics and logs.
const (
	SourceHTTP   = "http"
	SourceS3     = "s3"
	SourceInline = "inline"
)

// ErrTooLarge is wrapped when an input exceeds MaxBytes.
var ErrTooLarge = errors.New("input exceeds size limit")

// S3API is the subset of the S3 client the fetcher needs.
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Config controls how inputs are acquired.
type Config struct {
	// Timeout bounds a single download. 0 disables it.
	Timeout time.Duration
	// MaxBytes caps a single input. 0 disables the cap.
	MaxBytes int64
	// HTTPClient is used for http(s) inputs. nil uses a default client.
	HTTPClient *http.Client
	// S3 overrides the lazily built client for s3:// inputs.
	S3 S3API
	// UserAgent is sent with http(s) requests.
	UserAgent string
}

// Fetcher turns a job's input reference into a local file or a stream.
type Fetcher struct {
	config Config
	client *http.Client

	s3Once sync.Once
	s3     S3API
	s3Err  error
	newS3  func(ctx context.Context) (S3API, error)
}

// New creates a Fetcher.
func New(config Config) *Fetcher {
	client := config.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	if config.UserAgent == "" {
		config.UserAgent = "ffmpeg-api"
	}

	f := &Fetcher{
		config: config,
		client: client,
		newS3:  defaultS3Client,
	}
	if config.S3 != nil {
		f.s3 = config.S3
		f.s3Once.Do(func() {})
	}
	return f
}

func defaultS3Client(ctx context.Context) (S3API, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	return s3.NewFromConfig(cfg), nil
}

func (f *Fetcher) s3Client(ctx context.Context) (S3API, error) {
	f.s3Once.Do(func() {
		f.s3, f.s3Err = f.newS3(ctx)
		if f.s3Err == nil {
			logging.Info("S3 client initialized for s3:// inputs")
		}
	})
	return f.s3, f.s3Err
}

// ParseSource validates rawURL and returns it with its source label.
// Anything other than http, https or s3 is a validation error.
func ParseSource(rawURL string) (*url.URL, string, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return nil, "", apierr.Validation("url is required")
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, "", apierr.Validation("invalid url %q", rawURL)
	}

	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		if u.Host == "" {
			return nil, "", apierr.Validation("invalid url %q: missing host", rawURL)
		}
		return u, SourceHTTP, nil
	case "s3":
		if u.Host == "" || strings.Trim(u.Path, "/") == "" {
			return nil, "", apierr.Validation("invalid url %q: expected s3://bucket/key", rawURL)
		}
		return u, SourceS3, nil
	default:
		return nil, "", apierr.Validation("unsupported url scheme %q", u.Scheme)
	}
}

// Open returns the live body of rawURL without buffering it. The caller
// closes the reader; closing it also ends the download.
func (f *Fetcher) Open(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	u, source, err := ParseSource(rawURL)
	if err != nil {
		return nil, err
	}

	var body io.ReadCloser
	switch source {
	case SourceS3:
		body, err = f.openS3(ctx, u)
	default:
		body, err = f.openHTTP(ctx, u)
	}
	if err != nil {
		metrics.FetchTotal.WithLabelValues(source, "error").Inc()
		return nil, err
	}

	metrics.FetchTotal.WithLabelValues(source, "success").Inc()
	return limitReadCloser(body, f.config.MaxBytes), nil
}

func (f *Fetcher) openHTTP(ctx context.Context, u *url.URL) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, apierr.Validation("invalid url %q", u.String())
	}
	req.Header.Set("User-Agent", f.config.UserAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, apierr.Fetch(err, "failed to download %s", u.Redacted())
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
		return nil, apierr.Fetch(nil, "failed to download %s: status %d", u.Redacted(), resp.StatusCode)
	}

	if f.config.MaxBytes > 0 && resp.ContentLength > f.config.MaxBytes {
		_ = resp.Body.Close()
		return nil, apierr.Fetch(ErrTooLarge, "failed to download %s: %d bytes exceeds limit of %d",
			u.Redacted(), resp.ContentLength, f.config.MaxBytes)
	}

	return resp.Body, nil
}

func (f *Fetcher) openS3(ctx context.Context, u *url.URL) (io.ReadCloser, error) {
	client, err := f.s3Client(ctx)
	if err != nil {
		return nil, apierr.Fetch(err, "failed to download %s: S3 is not configured", u.String())
	}

	bucket := u.Host
	key := strings.TrimPrefix(u.Path, "/")

	out, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, apierr.Fetch(err, "failed to download %s", u.String())
	}

	if f.config.MaxBytes > 0 && out.ContentLength != nil && *out.ContentLength > f.config.MaxBytes {
		_ = out.Body.Close()
		return nil, apierr.Fetch(ErrTooLarge, "failed to download %s: %d bytes exceeds limit of %d",
			u.String(), *out.ContentLength, f.config.MaxBytes)
	}

	return out.Body, nil
}

// FetchToFile downloads rawURL into a path allocated from scope and
// returns that path. The scope owns the file on success and on failure.
func (f *Fetcher) FetchToFile(ctx context.Context, rawURL string, scope *tempstore.Scope, prefix, ext string) (string, error) {
	_, source, err := ParseSource(rawURL)
	if err != nil {
		return "", err
	}

	if f.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.config.Timeout)
		defer cancel()
	}

	start := time.Now()
	defer func() {
		metrics.FetchDuration.WithLabelValues(source).Observe(time.Since(start).Seconds())
	}()

	body, err := f.Open(ctx, rawURL)
	if err != nil {
		return "", err
	}
	defer body.Close()

	path := scope.Allocate(prefix, ext)
	n, err := writeFile(path, body)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded {
			return "", apierr.Fetch(err, "failed to download %s: timed out after %v", redact(rawURL), f.config.Timeout)
		}
		return "", apierr.Fetch(err, "failed to download %s", redact(rawURL))
	}

	metrics.FetchBytes.WithLabelValues(source).Add(float64(n))
	logging.Debug("Fetched %s (%d bytes) to %s in %v", redact(rawURL), n, path, time.Since(start))

	return path, nil
}

// DecodeInlineToFile decodes a base64 payload, optionally wrapped in a
// data URI, into a path allocated from scope.
func (f *Fetcher) DecodeInlineToFile(payload string, scope *tempstore.Scope, prefix, ext string) (string, error) {
	data, err := DecodeInline(payload)
	if err != nil {
		metrics.FetchTotal.WithLabelValues(SourceInline, "error").Inc()
		return "", err
	}

	if f.config.MaxBytes > 0 && int64(len(data)) > f.config.MaxBytes {
		metrics.FetchTotal.WithLabelValues(SourceInline, "error").Inc()
		return "", apierr.Validation("base64 payload exceeds limit of %d bytes", f.config.MaxBytes)
	}

	path := scope.Allocate(prefix, ext)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		metrics.FetchTotal.WithLabelValues(SourceInline, "error").Inc()
		return "", apierr.Internal(err, "failed to store base64 payload")
	}

	metrics.FetchTotal.WithLabelValues(SourceInline, "success").Inc()
	metrics.FetchBytes.WithLabelValues(SourceInline).Add(float64(len(data)))

	return path, nil
}

// DecodeInline strips an optional "data:<mime>;base64," prefix and decodes
// standard or URL-safe base64, padded or not.
func DecodeInline(payload string) ([]byte, error) {
	payload = strings.TrimSpace(payload)
	if strings.HasPrefix(payload, "data:") {
		idx := strings.Index(payload, ",")
		if idx < 0 {
			return nil, apierr.Validation("invalid data URI")
		}
		payload = payload[idx+1:]
	}

	payload = strings.Map(func(r rune) rune {
		switch r {
		case '\n', '\r', ' ', '\t':
			return -1
		}
		return r
	}, payload)

	if payload == "" {
		return nil, apierr.Validation("base64 payload is empty")
	}

	payload = strings.TrimRight(payload, "=")
	encoding := base64.RawStdEncoding
	if strings.ContainsAny(payload, "-_") {
		encoding = base64.RawURLEncoding
	}

	data, err := encoding.DecodeString(payload)
	if err != nil {
		return nil, apierr.Validation("invalid base64 payload")
	}
	return data, nil
}

func writeFile(path string, r io.Reader) (int64, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return 0, err
	}

	n, copyErr := io.Copy(file, r)
	closeErr := file.Close()
	if copyErr != nil {
		return n, copyErr
	}
	return n, closeErr
}

func redact(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return u.Redacted()
}

// limitedBody fails with ErrTooLarge once more than max bytes were read.
type limitedBody struct {
	io.ReadCloser
	remaining int64
}

func limitReadCloser(rc io.ReadCloser, max int64) io.ReadCloser {
	if max <= 0 {
		return rc
	}
	return &limitedBody{ReadCloser: rc, remaining: max}
}

func (l *limitedBody) Read(p []byte) (int, error) {
	if l.remaining < 0 {
		return 0, ErrTooLarge
	}
	// allow one byte past the limit to detect overflow
	if int64(len(p)) > l.remaining+1 {
		p = p[:l.remaining+1]
	}
	n, err := l.ReadCloser.Read(p)
	l.remaining -= int64(n)
	if l.remaining < 0 {
		return n, ErrTooLarge
	}
	return n, err
}
