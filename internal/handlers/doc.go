// Package handlers provides the HTTP handlers of the ffmpeg API.
//
// Every media endpoint is served by [Handlers.Dispatch] applied to an
// operation from the operations catalogue:
//
//  1. decode the JSON body (bounded by MaxBodyBytes)
//  2. answer 501 for operations without an implementation
//  3. validate inputs and parameters before any download
//  4. download or decode inputs into a per-request temp scope
//  5. run ffmpeg (or ffprobe) and serve the output file
//
// The scope is released on every exit path. With ?stream=true, streamable
// operations skip temp files and pipe the source through ffmpeg into the
// response.
//
// The package also serves the status page (GET /, with an optional
// self-healthcheck), liveness and readiness probes, and build information.
package handlers
