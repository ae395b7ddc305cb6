// Package middleware provides the HTTP middleware chain of the API server.
//
// It includes:
//   - Request logging in W3C Extended Log Format
//   - Prometheus request metrics labelled by route template
//   - gzip compression for JSON, HTML and text responses
//   - API key authentication (plain key or bcrypt hash)
//   - Per-client rate limiting, in memory or shared through Redis
//   - Denylisted path blocking, CORS, panic recovery and request IDs
//
// Every wrapper implements http.Flusher so streamed responses reach the
// client as they are produced.
package middleware
