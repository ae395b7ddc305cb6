// Package mediatypes maps ffmpeg output formats to the MIME types, audio
// encoders and muxer names the service needs when building command lines
// and response headers.
//
// It has no dependencies beyond the standard library so every other package
// can import it without cycles.
//
// Formats are bare lowercase extensions ("mp3", "mp4"). Use Normalize and
// IsValidFormat on client input before a format reaches a file path or an
// argument vector:
//
//	format := mediatypes.Normalize(req.Format)
//	if !mediatypes.IsValidFormat(format) {
//	    return apierr.Validation("invalid format %q", req.Format)
//	}
//	w.Header().Set("Content-Type", mediatypes.AudioMimeType(format))
package mediatypes
