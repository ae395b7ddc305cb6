// Package testutil provides stand-ins for the ffmpeg and ffprobe binaries so
// the subprocess paths can be tested without a real ffmpeg install.
package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

// CopyScript behaves like a successful ffmpeg: it copies the last -i input
// to the output (the last argument), or writes a placeholder when the input
// does not exist. With pipe:1 as output it copies stdin to stdout.
const CopyScript = `
in=""
out=""
prev=""
for arg in "$@"; do
  if [ "$prev" = "-i" ]; then in="$arg"; fi
  prev="$arg"
  out="$arg"
done
echo "fake ffmpeg: $in -> $out" >&2
if [ "$out" = "pipe:1" ] || [ "$out" = "-" ]; then
  cat
  exit 0
fi
if [ -f "$in" ]; then
  cp "$in" "$out"
else
  printf 'fake output' > "$out"
fi
`

// EmptyOutputScript exits 0 without producing the output file.
const EmptyOutputScript = `
echo "fake ffmpeg: no output" >&2
exit 0
`

// FailScript returns a script that prints to stderr and exits with code.
func FailScript(code int) string {
	return fmt.Sprintf(`
echo "Invalid data found when processing input" >&2
exit %d
`, code)
}

// SleepScript returns a script that replaces itself with sleep for the
// given number of seconds (fractions allowed) and then exits 0. Killing the
// script kills the sleep, so no orphan keeps stderr open.
func SleepScript(seconds string) string {
	return "exec sleep " + seconds + "\n"
}

// ProbeScript returns a fake ffprobe printing report.
func ProbeScript(report string) string {
	return "cat <<'JSON'\n" + report + "\nJSON\n"
}

// RecordingScript behaves like CopyScript and appends its arguments, one
// invocation per line, to logPath.
func RecordingScript(logPath string) string {
	return fmt.Sprintf("echo \"$*\" >> %q\n", logPath) + CopyScript
}

// FakeBinary writes an executable shell script named name into a temp
// directory and returns its path. Tests are skipped on Windows.
func FakeBinary(t testing.TB, name, body string) string {
	t.Helper()

	if runtime.GOOS == "windows" {
		t.Skip("fake binaries are shell scripts")
	}

	path := filepath.Join(t.TempDir(), name)
	script := "#!/bin/sh\n" + strings.TrimLeft(body, "\n")
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("writing fake %s: %v", name, err)
	}
	return path
}

// ReadLines returns the non-empty lines of path, or nil if it is missing.
func ReadLines(t testing.TB, path string) []string {
	t.Helper()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		t.Fatalf("reading %s: %v", path, err)
	}

	var lines []string
	for _, line := range strings.Split(string(data), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}
