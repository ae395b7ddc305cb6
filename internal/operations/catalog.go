package operations

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"ffmpeg-api/internal/apierr"
	"ffmpeg-api/internal/mediatypes"
)

var x264Presets = []string{
	"ultrafast", "superfast", "veryfast", "faster", "fast",
	"medium", "slow", "slower", "veryslow",
}

func fixed(mime string) func(string) string {
	return func(string) string { return mime }
}

// mergeContentType follows the format: mp3 is audio, everything else is
// served as mp4 video.
func mergeContentType(format string) string {
	if format == "mp3" {
		return "audio/mpeg"
	}
	return "video/mp4"
}

func baseArgs() []string {
	return []string{"-y", "-hide_banner"}
}

func withInputs(args []string, inputs ...string) []string {
	for _, in := range inputs {
		args = append(args, "-i", in)
	}
	return args
}

// mp3Tail encodes the audio track as mp3 and drops video.
func mp3Tail(ac *ArgContext, args ...string) []string {
	args = append(args, "-vn", "-acodec", "libmp3lame")
	return append(args, ac.outputArgs()...)
}

// h264Tail encodes video as H.264 with AAC audio.
func h264Tail(ac *ArgContext, args ...string) []string {
	args = append(args, "-c:v", "libx264", "-preset", "veryfast", "-c:a", "aac")
	return append(args, ac.outputArgs()...)
}

// catalog is the declared operation table. Its order is the order of the
// routes and of the healthcheck report.
var catalog = []Operation{
	{
		Name:          "convert-audio",
		Input:         InputSingle,
		Kind:          KindTranscode,
		DefaultFormat: "mp3",
		Build: func(ac *ArgContext) ([]string, error) {
			args := withInputs(baseArgs(), ac.Inputs...)
			args = append(args, "-vn")
			if codec := mediatypes.AudioCodec(ac.Job.Format); codec != "" {
				args = append(args, "-acodec", codec)
			}
			return append(args, ac.outputArgs()...), nil
		},
		Output:     Output{ContentType: mediatypes.AudioMimeType},
		Streamable: true,
	},
	{
		Name:          "convert-video",
		Input:         InputSingle,
		Kind:          KindTranscode,
		DefaultFormat: "mp4",
		Build: func(ac *ArgContext) ([]string, error) {
			args := withInputs(baseArgs(), ac.Inputs...)
			args = append(args, "-c:v", "libx264", "-preset", "ultrafast")
			return append(args, ac.outputArgs()...), nil
		},
		Output:     Output{ContentType: mediatypes.VideoMimeType},
		Streamable: true,
	},
	{
		Name:          "merge",
		Input:         InputMulti,
		Kind:          KindTranscode,
		DefaultFormat: "mp4",
		Build:         buildMerge,
		Output: Output{
			ContentType: mergeContentType,
			Attachment:  true,
			DefaultFilename: func(now time.Time) string {
				return fmt.Sprintf("merged_%d", now.UnixMilli())
			},
		},
	},
	{
		Name:          "extract-audio",
		Input:         InputURLOnly,
		Kind:          KindTranscode,
		DefaultFormat: "mp3",
		FixedFormat:   true,
		Build: func(ac *ArgContext) ([]string, error) {
			return mp3Tail(ac, withInputs(baseArgs(), ac.Inputs...)...), nil
		},
		Output:     Output{ContentType: fixed("audio/mpeg")},
		Streamable: true,
	},
	{
		Name:  "equalize",
		Input: InputURLOnly,
		Kind:  KindUnimplemented,
	},
	{
		Name:          "speed-audio",
		Input:         InputURLOnly,
		Kind:          KindTranscode,
		DefaultFormat: "mp3",
		FixedFormat:   true,
		Params: []Param{
			{Name: "speed", Default: "1.0", Validate: FloatRange(0.5, 100)},
		},
		Build: func(ac *ArgContext) ([]string, error) {
			speed, err := strconv.ParseFloat(ac.Param("speed"), 64)
			if err != nil {
				return nil, apierr.Validation("speed must be a number")
			}
			args := withInputs(baseArgs(), ac.Inputs...)
			args = append(args, "-filter:a", AtempoChain(speed))
			return mp3Tail(ac, args...), nil
		},
		Output: Output{ContentType: fixed("audio/mpeg")},
	},
	{
		Name:          "mix-audio",
		Input:         InputMulti,
		Kind:          KindTranscode,
		DefaultFormat: "mp3",
		FixedFormat:   true,
		Build: func(ac *ArgContext) ([]string, error) {
			args := withInputs(baseArgs(), ac.Inputs...)
			args = append(args, "-filter_complex", fmt.Sprintf("amix=inputs=%d:duration=longest", len(ac.Inputs)))
			return mp3Tail(ac, args...), nil
		},
		Output: Output{ContentType: fixed("audio/mpeg")},
	},
	{
		Name:          "cut-audio",
		Input:         InputURLOnly,
		Kind:          KindTranscode,
		DefaultFormat: "mp3",
		FixedFormat:   true,
		Params: []Param{
			{Name: "start", Required: true, Validate: TimeValue},
			{Name: "end", Required: true, Validate: TimeValue},
		},
		Check: timeOrder,
		Build: func(ac *ArgContext) ([]string, error) {
			args := withInputs(baseArgs(), ac.Inputs...)
			args = append(args, "-ss", ac.Param("start"), "-to", ac.Param("end"))
			return mp3Tail(ac, args...), nil
		},
		Output: Output{ContentType: fixed("audio/mpeg")},
	},
	{
		Name:          "fade",
		Input:         InputURLOnly,
		Kind:          KindTranscode,
		DefaultFormat: "mp3",
		FixedFormat:   true,
		Params: []Param{
			{Name: "type", Default: "in", Validate: OneOf("in", "out")},
			{Name: "duration", Default: "3", Validate: FloatRange(0.1, 600)},
		},
		Build: func(ac *ArgContext) ([]string, error) {
			args := withInputs(baseArgs(), ac.Inputs...)
			args = append(args, "-af", FadeFilter(ac.Param("type"), ac.Param("duration")))
			return mp3Tail(ac, args...), nil
		},
		Output: Output{ContentType: fixed("audio/mpeg")},
	},
	{
		Name:          "waveform",
		Input:         InputURLOnly,
		Kind:          KindTranscode,
		DefaultFormat: "png",
		FixedFormat:   true,
		Params: []Param{
			{Name: "width", Default: "1280", Validate: IntRange(16, 8192)},
			{Name: "height", Default: "240", Validate: IntRange(16, 8192)},
		},
		Build: func(ac *ArgContext) ([]string, error) {
			args := withInputs(baseArgs(), ac.Inputs...)
			args = append(args,
				"-filter_complex", fmt.Sprintf("showwavespic=s=%sx%s", ac.Param("width"), ac.Param("height")),
				"-frames:v", "1",
			)
			return append(args, ac.outputArgs()...), nil
		},
		Output: Output{ContentType: fixed("image/png")},
	},
	{
		Name:          "cut-video",
		Input:         InputURLOnly,
		Kind:          KindTranscode,
		DefaultFormat: "mp4",
		FixedFormat:   true,
		Params: []Param{
			{Name: "start", Required: true, Validate: TimeValue},
			{Name: "end", Required: true, Validate: TimeValue},
		},
		Check: timeOrder,
		Build: func(ac *ArgContext) ([]string, error) {
			args := withInputs(baseArgs(), ac.Inputs...)
			args = append(args, "-ss", ac.Param("start"), "-to", ac.Param("end"))
			return h264Tail(ac, args...), nil
		},
		Output: Output{ContentType: fixed("video/mp4")},
	},
	{
		Name:          "resize",
		Input:         InputURLOnly,
		Kind:          KindTranscode,
		DefaultFormat: "mp4",
		FixedFormat:   true,
		Params: []Param{
			{Name: "width", Required: true, Validate: Dimension},
			{Name: "height", Required: true, Validate: Dimension},
		},
		Check: scaleCheck,
		Build: func(ac *ArgContext) ([]string, error) {
			args := withInputs(baseArgs(), ac.Inputs...)
			args = append(args, "-vf", fmt.Sprintf("scale=%s:%s", ac.Param("width"), ac.Param("height")))
			return h264Tail(ac, args...), nil
		},
		Output: Output{ContentType: fixed("video/mp4")},
	},
	{
		Name:          "rotate",
		Input:         InputURLOnly,
		Kind:          KindTranscode,
		DefaultFormat: "mp4",
		FixedFormat:   true,
		Params: []Param{
			{Name: "direction", Default: "clockwise", Validate: OneOf("clockwise", "counterclockwise", "180")},
		},
		Build: func(ac *ArgContext) ([]string, error) {
			args := withInputs(baseArgs(), ac.Inputs...)
			args = append(args, "-vf", TransposeFilter(ac.Param("direction")))
			return h264Tail(ac, args...), nil
		},
		Output: Output{ContentType: fixed("video/mp4")},
	},
	{
		Name:           "watermark",
		Input:          InputURLOnly,
		Kind:           KindTranscode,
		DefaultFormat:  "mp4",
		FixedFormat:    true,
		SecondaryInput: "watermark",
		Params: []Param{
			{Name: "watermark", Required: true, Validate: NotBlank},
			{Name: "x", Default: "10", Validate: IntRange(0, 8192)},
			{Name: "y", Default: "10", Validate: IntRange(0, 8192)},
		},
		Build: func(ac *ArgContext) ([]string, error) {
			if ac.Extra == "" {
				return nil, apierr.Validation("watermark is required")
			}
			args := withInputs(baseArgs(), append(append([]string{}, ac.Inputs...), ac.Extra)...)
			args = append(args, "-filter_complex", fmt.Sprintf("overlay=%s:%s", ac.Param("x"), ac.Param("y")))
			return h264Tail(ac, args...), nil
		},
		Output: Output{ContentType: fixed("video/mp4")},
	},
	{
		Name:          "gif",
		Input:         InputURLOnly,
		Kind:          KindTranscode,
		DefaultFormat: "gif",
		FixedFormat:   true,
		Params: []Param{
			{Name: "start", Default: "0", Validate: TimeValue},
			{Name: "duration", Default: "5", Validate: FloatRange(0.1, 60)},
			{Name: "width", Default: "480", Validate: IntRange(16, 1920)},
			{Name: "fps", Default: "10", Validate: IntRange(1, 50)},
		},
		Build: func(ac *ArgContext) ([]string, error) {
			args := append(baseArgs(), "-ss", ac.Param("start"), "-t", ac.Param("duration"))
			args = withInputs(args, ac.Inputs...)
			args = append(args,
				"-vf", fmt.Sprintf("fps=%s,scale=%s:-1:flags=lanczos", ac.Param("fps"), ac.Param("width")),
				"-loop", "0",
			)
			return append(args, ac.outputArgs()...), nil
		},
		Output: Output{ContentType: fixed("image/gif")},
	},
	{
		Name:          "thumbnail",
		Input:         InputURLOnly,
		Kind:          KindTranscode,
		DefaultFormat: "jpg",
		FixedFormat:   true,
		Params: []Param{
			{Name: "time", Default: "00:00:01", Validate: TimeValue},
		},
		Build: func(ac *ArgContext) ([]string, error) {
			args := append(baseArgs(), "-ss", ac.Param("time"))
			args = withInputs(args, ac.Inputs...)
			args = append(args, "-frames:v", "1", "-q:v", "2")
			return append(args, ac.outputArgs()...), nil
		},
		Output: Output{ContentType: fixed("image/jpeg")},
	},
	{
		Name:          "compress",
		Input:         InputURLOnly,
		Kind:          KindTranscode,
		DefaultFormat: "mp4",
		FixedFormat:   true,
		Params: []Param{
			{Name: "crf", Default: "28", Validate: IntRange(0, 51)},
			{Name: "preset", Default: "veryfast", Validate: OneOf(x264Presets...)},
		},
		Build: func(ac *ArgContext) ([]string, error) {
			args := withInputs(baseArgs(), ac.Inputs...)
			args = append(args,
				"-c:v", "libx264",
				"-crf", ac.Param("crf"),
				"-preset", ac.Param("preset"),
				"-c:a", "aac",
			)
			return append(args, ac.outputArgs()...), nil
		},
		Output:     Output{ContentType: fixed("video/mp4")},
		Streamable: true,
	},
	{
		Name:          "analyze",
		Input:         InputURLOnly,
		Kind:          KindProbe,
		DefaultFormat: "json",
		FixedFormat:   true,
		Output:        Output{ContentType: fixed("application/json")},
	},
}

// buildMerge writes a concat list into a scratch file and joins the inputs
// without re-encoding.
func buildMerge(ac *ArgContext) ([]string, error) {
	if ac.Scratch == nil {
		return nil, apierr.Internal(nil, "merge needs scratch space")
	}

	listPath := ac.Scratch("list", "txt")
	if err := os.WriteFile(listPath, []byte(ConcatList(ac.Inputs)), 0o600); err != nil {
		return nil, apierr.Internal(err, "failed to write concat list")
	}

	args := append(baseArgs(), "-f", "concat", "-safe", "0", "-i", listPath, "-c", "copy")
	return append(args, ac.outputArgs()...), nil
}

// ConcatList renders paths in the concat demuxer's list format.
func ConcatList(paths []string) string {
	var b strings.Builder
	for _, p := range paths {
		b.WriteString("file '")
		b.WriteString(strings.ReplaceAll(p, "'", `'\''`))
		b.WriteString("'\n")
	}
	return b.String()
}

// AtempoChain expresses speed as a chain of atempo filters, each within the
// 0.5 to 2.0 range every ffmpeg version accepts.
func AtempoChain(speed float64) string {
	var parts []string
	for speed > 2.0 {
		parts = append(parts, "atempo=2.0")
		speed /= 2.0
	}
	for speed < 0.5 {
		parts = append(parts, "atempo=0.5")
		speed /= 0.5
	}
	parts = append(parts, "atempo="+strconv.FormatFloat(speed, 'f', -1, 64))
	return strings.Join(parts, ",")
}

// FadeFilter returns the audio filter for a fade in or out of the given
// duration. A fade out is a fade in applied to the reversed track, so the
// input length need not be known.
func FadeFilter(fadeType, duration string) string {
	fade := "afade=t=in:d=" + duration
	if fadeType == "out" {
		return "areverse," + fade + ",areverse"
	}
	return fade
}

// TransposeFilter maps a rotation direction to transpose filters.
func TransposeFilter(direction string) string {
	switch direction {
	case "counterclockwise":
		return "transpose=2"
	case "180":
		return "transpose=1,transpose=1"
	default:
		return "transpose=1"
	}
}

// All returns the operations in declaration order.
func All() []*Operation {
	out := make([]*Operation, len(catalog))
	for i := range catalog {
		out[i] = &catalog[i]
	}
	return out
}

// Lookup finds an operation by name.
func Lookup(name string) (*Operation, bool) {
	for i := range catalog {
		if catalog[i].Name == name {
			return &catalog[i], true
		}
	}
	return nil, false
}

// Names returns the operation names in declaration order.
func Names() []string {
	names := make([]string, len(catalog))
	for i := range catalog {
		names[i] = catalog[i].Name
	}
	return names
}
