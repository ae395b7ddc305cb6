// Package fetcher acquires job inputs.
//
// Three sources are supported:
//
//   - http(s) URLs, downloaded with a GET request
//   - s3://bucket/key objects, read through aws-sdk-go-v2 with the default
//     credential chain; the client is created on first use
//   - inline base64 payloads, optionally wrapped in a data URI
//
// FetchToFile and DecodeInlineToFile write into paths owned by a
// tempstore.Scope, so partial downloads are cleaned up with the rest of the
// request. Open returns the live body for streaming jobs.
//
// Unsupported schemes are validation errors (400). Transport failures,
// non-2xx responses and oversized inputs are fetch errors (500).
package fetcher
