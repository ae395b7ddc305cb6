// Package logging provides a simple leveled logging interface for the
// ffmpeg API service.
//
// It supports the following log levels:
//   - DEBUG: Verbose debugging information
//   - INFO: General operational messages
//   - WARN: Warning conditions
//   - ERROR: Error conditions
//   - FATAL: Fatal errors that terminate the application
//
// The log level is configured via the LOG_LEVEL environment variable.
//
// LineWriter adapts a byte stream (such as ffmpeg's stderr) into one log
// entry per line and keeps the last few lines for error reporting.
package logging
