package mediatypes

import (
	"regexp"
	"strings"
)

// DefaultMimeType is served for formats with no known MIME type.
const DefaultMimeType = "application/octet-stream"

// AudioFormats maps output formats to whether they are audio containers.
var AudioFormats = map[string]bool{
	"mp3":  true,
	"aac":  true,
	"m4a":  true,
	"ogg":  true,
	"opus": true,
	"flac": true,
	"wav":  true,
}

// VideoFormats maps output formats to whether they are video containers.
var VideoFormats = map[string]bool{
	"mp4":  true,
	"mkv":  true,
	"mov":  true,
	"webm": true,
	"avi":  true,
	"flv":  true,
	"ts":   true,
}

// MimeTypes maps output formats to their MIME types.
var MimeTypes = map[string]string{
	// Audio
	"mp3":  "audio/mpeg",
	"aac":  "audio/aac",
	"m4a":  "audio/mp4",
	"ogg":  "audio/ogg",
	"opus": "audio/opus",
	"flac": "audio/flac",
	"wav":  "audio/wav",

	// Video
	"mp4":  "video/mp4",
	"mkv":  "video/x-matroska",
	"mov":  "video/quicktime",
	"webm": "video/webm",
	"avi":  "video/x-msvideo",
	"flv":  "video/x-flv",
	"ts":   "video/mp2t",

	// Images
	"png":  "image/png",
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"gif":  "image/gif",
	"webp": "image/webp",

	"json": "application/json",
}

// audioCodecs is the encoder passed to -acodec for each audio format.
var audioCodecs = map[string]string{
	"mp3":  "libmp3lame",
	"aac":  "aac",
	"m4a":  "aac",
	"ogg":  "libvorbis",
	"opus": "libopus",
	"flac": "flac",
	"wav":  "pcm_s16le",
}

// muxers names the -f value for formats whose muxer differs from the
// extension. Needed when writing to a pipe, where ffmpeg cannot guess.
var muxers = map[string]string{
	"aac": "adts",
	"m4a": "ipod",
	"mkv": "matroska",
	"ts":  "mpegts",
	"jpg": "mjpeg",
}

var formatPattern = regexp.MustCompile(`^[a-z0-9]{1,8}$`)

// Normalize lowercases a format and strips a leading dot.
func Normalize(format string) string {
	return strings.TrimPrefix(strings.ToLower(strings.TrimSpace(format)), ".")
}

// IsValidFormat reports whether format is safe to use as a file extension
// and an ffmpeg muxer name.
func IsValidFormat(format string) bool {
	return formatPattern.MatchString(format)
}

// GetMimeType returns the MIME type for a normalized format.
// Returns DefaultMimeType if the format is not recognized.
func GetMimeType(format string) string {
	if mime, ok := MimeTypes[format]; ok {
		return mime
	}
	return DefaultMimeType
}

// AudioMimeType returns the MIME type for an audio output. Unknown formats
// get audio/<format>, mp3 is always audio/mpeg.
func AudioMimeType(format string) string {
	if mime, ok := MimeTypes[format]; ok && AudioFormats[format] {
		return mime
	}
	return "audio/" + format
}

// VideoMimeType returns the MIME type for a video output, falling back to
// video/<format>.
func VideoMimeType(format string) string {
	if mime, ok := MimeTypes[format]; ok && VideoFormats[format] {
		return mime
	}
	return "video/" + format
}

// AudioCodec returns the encoder for an audio format, or "" to let ffmpeg
// choose from the output extension.
func AudioCodec(format string) string {
	return audioCodecs[format]
}

// Muxer returns the ffmpeg -f value for format.
func Muxer(format string) string {
	if m, ok := muxers[format]; ok {
		return m
	}
	return format
}
