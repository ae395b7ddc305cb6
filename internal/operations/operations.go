package operations

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"ffmpeg-api/internal/apierr"
	"ffmpeg-api/internal/mediatypes"
)

// InputKind describes which request fields carry an operation's inputs.
type InputKind int

const (
	// InputNone takes no media input.
	InputNone InputKind = iota
	// InputSingle takes exactly one of url or base64.
	InputSingle
	// InputURLOnly takes a url.
	InputURLOnly
	// InputMulti takes urls, at least two.
	InputMulti
)

// MinMultiInputs is the minimum number of urls for InputMulti.
const MinMultiInputs = 2

// Kind selects what the dispatcher does with a resolved job.
type Kind int

const (
	// KindTranscode runs ffmpeg and serves the output file.
	KindTranscode Kind = iota
	// KindProbe runs ffprobe and serves its JSON report.
	KindProbe
	// KindUnimplemented answers 501 without fetching or running anything.
	KindUnimplemented
)

// Operation is the declarative description of one endpoint.
type Operation struct {
	Name  string
	Input InputKind
	Kind  Kind

	// DefaultFormat is the output format when the request has none.
	DefaultFormat string
	// FixedFormat ignores the request's format field.
	FixedFormat bool

	Params []Param
	// Check validates combinations of resolved params.
	Check func(params map[string]string) error

	// SecondaryInput names a param whose value is an extra URL input,
	// fetched after the primary inputs.
	SecondaryInput string

	Build  func(ac *ArgContext) ([]string, error)
	Output Output

	// Streamable operations can pipe a url input straight through ffmpeg.
	Streamable bool
}

// Output describes how a finished job is served.
type Output struct {
	// ContentType maps the output format to a MIME type.
	ContentType func(format string) string
	// Attachment sets Content-Disposition: attachment with the filename.
	Attachment bool
	// DefaultFilename names the download when the request has no filename.
	DefaultFilename func(now time.Time) string
}

// Path returns the HTTP route of the operation.
func (o *Operation) Path() string {
	return "/" + o.Name
}

// Source is one media input: a URL or an inline base64 payload.
type Source struct {
	URL    string
	Base64 string
}

// IsInline reports whether the source is a base64 payload.
func (s Source) IsInline() bool {
	return s.Base64 != ""
}

// Request is the decoded JSON body of a job request. Fields other than the
// common ones are collected into Params as strings.
type Request struct {
	URL      string
	Base64   string
	URLs     []string
	Format   string
	Filename string
	Params   map[string]string
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *Request) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}

	r.Params = make(map[string]string, len(fields))

	for key, raw := range fields {
		var err error
		switch key {
		case "url":
			r.URL, err = rawString(raw)
		case "base64":
			r.Base64, err = rawString(raw)
		case "format":
			r.Format, err = rawString(raw)
		case "filename":
			r.Filename, err = rawString(raw)
		case "urls":
			if isNull(raw) {
				continue
			}
			if err = json.Unmarshal(raw, &r.URLs); err != nil {
				err = fmt.Errorf("urls must be an array of strings")
			}
		default:
			// objects and arrays are not params of any operation
			if v, scalarErr := rawScalar(raw); scalarErr == nil && v != "" {
				r.Params[key] = v
			}
		}
		if err != nil {
			return fmt.Errorf("field %q: %w", key, err)
		}
	}
	return nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func rawString(raw json.RawMessage) (string, error) {
	if isNull(raw) {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", fmt.Errorf("must be a string")
	}
	return strings.TrimSpace(s), nil
}

// rawScalar renders strings, numbers and booleans as text; other JSON
// values are rejected.
func rawScalar(raw json.RawMessage) (string, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || isNull(trimmed) {
		return "", nil
	}
	switch trimmed[0] {
	case '"':
		return rawString(trimmed)
	case '{', '[':
		return "", fmt.Errorf("must be a scalar")
	default:
		return string(trimmed), nil
	}
}

// Job is a request resolved against an operation: inputs checked, format
// normalized and params defaulted and validated.
type Job struct {
	Op       *Operation
	Sources  []Source
	Extra    Source
	Format   string
	Filename string
	Params   map[string]string
}

// HasExtra reports whether the job carries a secondary input.
func (j *Job) HasExtra() bool {
	return j.Extra.URL != "" || j.Extra.Base64 != ""
}

// ContentType returns the MIME type of the job output.
func (j *Job) ContentType() string {
	if j.Op.Output.ContentType == nil {
		return mediatypes.GetMimeType(j.Format)
	}
	return j.Op.Output.ContentType(j.Format)
}

// DownloadName returns <filename>.<format> for Content-Disposition.
func (j *Job) DownloadName() string {
	return j.Filename + "." + j.Format
}

var unsafeFilename = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// SanitizeFilename strips directories and characters that are unsafe in a
// header or path. Returns "" if nothing usable remains.
func SanitizeFilename(name string) string {
	name = strings.TrimSpace(name)
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	name = unsafeFilename.ReplaceAllString(name, "_")
	name = strings.Trim(name, "._")
	if len(name) > 100 {
		name = name[:100]
	}
	return name
}

// Resolve validates req for the operation and returns the job to run.
// Every failure is a validation error; nothing is fetched here.
func (o *Operation) Resolve(req *Request, now time.Time) (*Job, error) {
	if req == nil {
		req = &Request{}
	}

	job := &Job{Op: o, Params: make(map[string]string, len(o.Params))}

	sources, err := o.resolveInputs(req)
	if err != nil {
		return nil, err
	}
	job.Sources = sources

	job.Format = o.DefaultFormat
	if !o.FixedFormat && req.Format != "" {
		job.Format = mediatypes.Normalize(req.Format)
	}
	if job.Format != "" && !mediatypes.IsValidFormat(job.Format) {
		return nil, apierr.Validation("invalid format %q", req.Format)
	}

	job.Filename = SanitizeFilename(req.Filename)
	if job.Filename == "" {
		if o.Output.DefaultFilename != nil {
			job.Filename = o.Output.DefaultFilename(now)
		} else {
			job.Filename = fmt.Sprintf("%s_%d", strings.ReplaceAll(o.Name, "-", "_"), now.UnixMilli())
		}
	}

	for _, p := range o.Params {
		value, ok := req.Params[p.Name]
		if !ok || value == "" {
			if p.Required {
				return nil, apierr.Validation("%s is required", p.Name)
			}
			value = p.Default
		}
		if value != "" && p.Validate != nil {
			if err := p.Validate(p.Name, value); err != nil {
				return nil, err
			}
		}
		job.Params[p.Name] = value
	}

	if o.Check != nil {
		if err := o.Check(job.Params); err != nil {
			return nil, err
		}
	}

	if o.SecondaryInput != "" {
		job.Extra = Source{URL: job.Params[o.SecondaryInput]}
	}

	return job, nil
}

func (o *Operation) resolveInputs(req *Request) ([]Source, error) {
	switch o.Input {
	case InputSingle:
		switch {
		case req.URL != "" && req.Base64 != "":
			return nil, apierr.Validation("send either url or base64, not both")
		case req.URL != "":
			return []Source{{URL: req.URL}}, nil
		case req.Base64 != "":
			return []Source{{Base64: req.Base64}}, nil
		default:
			return nil, apierr.Validation("url or base64 is required")
		}

	case InputURLOnly:
		if req.URL == "" {
			return nil, apierr.Validation("url is required")
		}
		return []Source{{URL: req.URL}}, nil

	case InputMulti:
		if len(req.URLs) < MinMultiInputs {
			return nil, apierr.Validation("send at least %d urls in \"urls\"", MinMultiInputs)
		}
		sources := make([]Source, 0, len(req.URLs))
		for i, u := range req.URLs {
			u = strings.TrimSpace(u)
			if u == "" {
				return nil, apierr.Validation("urls[%d] is empty", i)
			}
			sources = append(sources, Source{URL: u})
		}
		return sources, nil

	default:
		return nil, nil
	}
}

// ArgContext carries everything a Build function needs.
type ArgContext struct {
	Job *Job
	// Inputs are local paths, or "pipe:0" when streaming.
	Inputs []string
	// Extra is the local path of the secondary input, if any.
	Extra string
	// Output is the local output path, or "pipe:1" when streaming.
	Output string
	// Streaming selects pipe output.
	Streaming bool
	// Scratch allocates an additional temp path owned by the request.
	Scratch func(prefix, ext string) string
}

// Param returns a resolved param value.
func (ac *ArgContext) Param(name string) string {
	return ac.Job.Params[name]
}

// outputArgs ends every argument vector: the output path, or an explicit
// muxer and pipe:1 when streaming.
func (ac *ArgContext) outputArgs() []string {
	if !ac.Streaming {
		return []string{ac.Output}
	}
	args := []string{"-f", mediatypes.Muxer(ac.Job.Format)}
	if ac.Job.Format == "mp4" || ac.Job.Format == "mov" {
		args = append(args, "-movflags", "frag_keyframe+empty_moov")
	}
	return append(args, "pipe:1")
}

// Args builds the ffmpeg argument vector for the job.
func (o *Operation) Args(ac *ArgContext) ([]string, error) {
	if o.Build == nil {
		return nil, apierr.NotImplemented(o.Name)
	}
	return o.Build(ac)
}
