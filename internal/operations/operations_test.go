package operations

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"ffmpeg-api/internal/apierr"
)

var fixedNow = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func mustLookup(t *testing.T, name string) *Operation {
	t.Helper()
	op, ok := Lookup(name)
	if !ok {
		t.Fatalf("operation %q not found", name)
	}
	return op
}

func TestRequestUnmarshalJSON(t *testing.T) {
	body := `{
		"url": " http://example.com/a.mp4 ",
		"format": "MP3",
		"filename": "clip",
		"speed": 1.5,
		"start": "00:00:01",
		"loop": true,
		"nested": {"a": 1},
		"list": [1, 2],
		"empty": null
	}`

	var req Request
	if err := json.Unmarshal([]byte(body), &req); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	if req.URL != "http://example.com/a.mp4" {
		t.Errorf("URL = %q, want trimmed value", req.URL)
	}
	if req.Format != "MP3" || req.Filename != "clip" {
		t.Errorf("Unexpected format/filename: %q %q", req.Format, req.Filename)
	}

	want := map[string]string{"speed": "1.5", "start": "00:00:01", "loop": "true"}
	for k, v := range want {
		if req.Params[k] != v {
			t.Errorf("Params[%q] = %q, want %q", k, req.Params[k], v)
		}
	}
	for _, k := range []string{"nested", "list", "empty"} {
		if _, ok := req.Params[k]; ok {
			t.Errorf("Params should not contain %q", k)
		}
	}
}

func TestRequestUnmarshalErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not an object", `[1,2]`},
		{"url not a string", `{"url": 5}`},
		{"urls not an array", `{"urls": "http://a"}`},
		{"urls wrong element type", `{"urls": [1, 2]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var req Request
			if err := json.Unmarshal([]byte(tt.body), &req); err == nil {
				t.Error("Expected an error")
			}
		})
	}
}

func TestResolveInputs(t *testing.T) {
	tests := []struct {
		name    string
		op      string
		req     Request
		wantErr string
		sources int
	}{
		{"single url", "convert-audio", Request{URL: "http://a"}, "", 1},
		{"single base64", "convert-audio", Request{Base64: "AAAA"}, "", 1},
		{"single both", "convert-audio", Request{URL: "http://a", Base64: "AAAA"}, "not both", 0},
		{"single neither", "convert-audio", Request{}, "url or base64 is required", 0},
		{"url only missing", "extract-audio", Request{Base64: "AAAA"}, "url is required", 0},
		{"multi too few", "merge", Request{URLs: []string{"http://a"}}, "at least 2", 0},
		{"multi blank entry", "merge", Request{URLs: []string{"http://a", "  "}}, "urls[1] is empty", 0},
		{"multi ok", "mix-audio", Request{URLs: []string{"http://a", "http://b", "http://c"}}, "", 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job, err := mustLookup(t, tt.op).Resolve(&tt.req, fixedNow)
			if tt.wantErr != "" {
				if err == nil {
					t.Fatalf("Expected error containing %q", tt.wantErr)
				}
				if !apierr.Is(err, apierr.KindValidation) {
					t.Errorf("Expected validation error, got %v", err)
				}
				if !strings.Contains(apierr.Message(err), tt.wantErr) {
					t.Errorf("Message %q does not contain %q", apierr.Message(err), tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if len(job.Sources) != tt.sources {
				t.Errorf("Expected %d sources, got %d", tt.sources, len(job.Sources))
			}
		})
	}
}

func TestResolveFormat(t *testing.T) {
	tests := []struct {
		name    string
		op      string
		format  string
		want    string
		wantErr bool
	}{
		{"default", "convert-audio", "", "mp3", false},
		{"normalized", "convert-audio", ".WAV", "wav", false},
		{"invalid", "convert-audio", "mp3;rm -rf", "", true},
		{"fixed ignores request", "extract-audio", "wav", "mp3", false},
		{"video default", "convert-video", "", "mp4", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job, err := mustLookup(t, tt.op).Resolve(&Request{URL: "http://a", Format: tt.format}, fixedNow)
			if tt.wantErr {
				if err == nil {
					t.Fatal("Expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if job.Format != tt.want {
				t.Errorf("Format = %q, want %q", job.Format, tt.want)
			}
		})
	}
}

func TestResolveFilename(t *testing.T) {
	merge := mustLookup(t, "merge")
	job, err := merge.Resolve(&Request{URLs: []string{"http://a", "http://b"}}, fixedNow)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	want := "merged_" + "1767323045000"
	if job.Filename != want {
		t.Errorf("Filename = %q, want %q", job.Filename, want)
	}
	if job.DownloadName() != want+".mp4" {
		t.Errorf("DownloadName = %q", job.DownloadName())
	}

	job, err = merge.Resolve(&Request{URLs: []string{"http://a", "http://b"}, Filename: "../../etc/my clip"}, fixedNow)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if job.Filename != "my_clip" {
		t.Errorf("Filename = %q, want my_clip", job.Filename)
	}

	job, err = mustLookup(t, "cut-audio").Resolve(&Request{
		URL:    "http://a",
		Params: map[string]string{"start": "1", "end": "2"},
	}, fixedNow)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if !strings.HasPrefix(job.Filename, "cut_audio_") {
		t.Errorf("Filename = %q, want cut_audio_ prefix", job.Filename)
	}
}

func TestResolveParams(t *testing.T) {
	tests := []struct {
		name    string
		op      string
		params  map[string]string
		wantErr string
		check   map[string]string
	}{
		{"defaults applied", "gif", nil, "", map[string]string{"start": "0", "duration": "5", "width": "480", "fps": "10"}},
		{"required missing", "cut-audio", map[string]string{"start": "1"}, "end is required", nil},
		{"bad time", "cut-video", map[string]string{"start": "abc", "end": "2"}, "start must be", nil},
		{"end before start", "cut-video", map[string]string{"start": "00:00:10", "end": "5"}, "end must be after start", nil},
		{"speed out of range", "speed-audio", map[string]string{"speed": "0.1"}, "speed must be between", nil},
		{"speed NaN", "speed-audio", map[string]string{"speed": "NaN"}, "speed must be a number", nil},
		{"fade duration NaN", "fade", map[string]string{"duration": "NaN"}, "duration must be a number", nil},
		{"gif duration hex", "gif", map[string]string{"duration": "0x1p1"}, "duration must be a number", nil},
		{"bad enum", "rotate", map[string]string{"direction": "sideways"}, "direction must be one of", nil},
		{"crf range", "compress", map[string]string{"crf": "60"}, "crf must be between", nil},
		{"both negative", "resize", map[string]string{"width": "-1", "height": "-2"}, "cannot both be negative", nil},
		{"resize keep aspect", "resize", map[string]string{"width": "640", "height": "-2"}, "", map[string]string{"width": "640", "height": "-2"}},
		{"watermark required", "watermark", nil, "watermark is required", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job, err := mustLookup(t, tt.op).Resolve(&Request{URL: "http://a", Params: tt.params}, fixedNow)
			if tt.wantErr != "" {
				if err == nil {
					t.Fatalf("Expected error containing %q", tt.wantErr)
				}
				if !strings.Contains(apierr.Message(err), tt.wantErr) {
					t.Errorf("Message %q does not contain %q", apierr.Message(err), tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			for k, v := range tt.check {
				if job.Params[k] != v {
					t.Errorf("Params[%q] = %q, want %q", k, job.Params[k], v)
				}
			}
		})
	}
}

func TestResolveSecondaryInput(t *testing.T) {
	job, err := mustLookup(t, "watermark").Resolve(&Request{
		URL:    "http://a/video.mp4",
		Params: map[string]string{"watermark": "http://a/logo.png"},
	}, fixedNow)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if !job.HasExtra() || job.Extra.URL != "http://a/logo.png" {
		t.Errorf("Extra = %+v", job.Extra)
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"clip", "clip"},
		{"  my video  ", "my_video"},
		{"../secret", "secret"},
		{`C:\Users\x\file.name`, "file.name"},
		{"...", ""},
		{"a\"b\r\nc", "a_b_c"},
		{strings.Repeat("x", 150), strings.Repeat("x", 100)},
	}

	for _, tt := range tests {
		if got := SanitizeFilename(tt.in); got != tt.want {
			t.Errorf("SanitizeFilename(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestJobContentType(t *testing.T) {
	op := mustLookup(t, "convert-audio")
	job, err := op.Resolve(&Request{URL: "http://a", Format: "mp3"}, fixedNow)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if job.ContentType() != "audio/mpeg" {
		t.Errorf("ContentType = %q, want audio/mpeg", job.ContentType())
	}

	job.Format = "wav"
	if job.ContentType() != "audio/wav" {
		t.Errorf("ContentType = %q, want audio/wav", job.ContentType())
	}
}

func TestArgsUnimplemented(t *testing.T) {
	op := mustLookup(t, "equalize")
	_, err := op.Args(&ArgContext{Job: &Job{Op: op}})
	if !apierr.Is(err, apierr.KindNotImplemented) {
		t.Errorf("Expected NotImplemented, got %v", err)
	}
}
