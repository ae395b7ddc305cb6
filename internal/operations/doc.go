// Package operations declares the media endpoints as data.
//
// Each Operation names its inputs, its params with defaults and validators,
// the output format and content type, and a Build function that turns a
// resolved Job into an ffmpeg argument vector. The HTTP dispatcher is
// generic; adding an endpoint means adding an entry to the catalog.
//
// Resolve performs all request validation up front so that a bad request
// never triggers a download or a subprocess.
package operations
