// Package transcoder runs the ffmpeg and ffprobe binaries on behalf of the
// HTTP handlers.
//
// It supports:
//   - File mode (Run): inputs and output are paths on disk
//   - Streaming mode (Stream): input on pipe:0, output on pipe:1 delivered
//     to the client as it is produced
//   - Probe mode (Probe): ffprobe JSON decoded into a ProbeResult
//
// All modes share one weighted semaphore sized by Config.MaxConcurrent and
// a per-job timeout. The exit code is the only success signal; stderr is
// kept for diagnostics and logged when the invocation is verbose.
//
// Failures are *apierr.Error values of kind KindProcessing carrying the exit
// code, or apierr.NoExitCode when the process was killed or never started.
package transcoder
