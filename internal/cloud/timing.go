// timing.go - per-phase timing for upload diagnostics
//
// Set DNDUPLOAD_TIMING=1 to print one line per finished phase:
//
//	[TIMING] reserve photo.png: 45ms
//	[TIMING] upload photo.png: 1.2s (4.0 MB at 3.3 MB/s)
//	[TIMING] task notes.txt: 3ms (failed)
package cloud

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// TimingEnvVar switches timing output on when set to "1".
const TimingEnvVar = "DNDUPLOAD_TIMING"

// TimingEnabled reports whether DNDUPLOAD_TIMING=1.
func TimingEnabled() bool {
	return os.Getenv(TimingEnvVar) == "1"
}

// Timer measures one named phase of a transfer. Only the first stop prints;
// later stops just return the elapsed time.
type Timer struct {
	name  string
	start time.Time
	w     io.Writer
	once  sync.Once
}

// StartTimer begins timing a phase. A nil writer means os.Stderr.
func StartTimer(w io.Writer, name string) *Timer {
	if w == nil {
		w = os.Stderr
	}
	return &Timer{name: name, start: time.Now(), w: w}
}

// Stop ends the phase.
func (t *Timer) Stop() time.Duration {
	return t.finish("")
}

// StopWithThroughput ends the phase and reports the rate for n bytes.
func (t *Timer) StopWithThroughput(n int64) time.Duration {
	elapsed := time.Since(t.start)
	rate := 0.0
	if s := elapsed.Seconds(); s > 0 {
		rate = float64(n) / s
	}
	return t.finish(fmt.Sprintf("%s at %s", FormatBytes(n), FormatSpeed(rate)))
}

// StopWithMessage ends the phase with a short note, e.g. "failed".
func (t *Timer) StopWithMessage(format string, args ...interface{}) time.Duration {
	return t.finish(fmt.Sprintf(format, args...))
}

func (t *Timer) finish(detail string) time.Duration {
	elapsed := time.Since(t.start)
	t.once.Do(func() {
		if !TimingEnabled() {
			return
		}
		if detail == "" {
			fmt.Fprintf(t.w, "[TIMING] %s: %v\n", t.name, elapsed.Round(time.Millisecond))
			return
		}
		fmt.Fprintf(t.w, "[TIMING] %s: %v (%s)\n", t.name, elapsed.Round(time.Millisecond), detail)
	})
	return elapsed
}

// FormatBytes returns a human-readable byte count.
func FormatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

// FormatSpeed returns a human-readable rate in bytes per second.
func FormatSpeed(bytesPerSec float64) string {
	switch {
	case bytesPerSec < 1024:
		return fmt.Sprintf("%.1f B/s", bytesPerSec)
	case bytesPerSec < 1024*1024:
		return fmt.Sprintf("%.1f KB/s", bytesPerSec/1024)
	default:
		return fmt.Sprintf("%.1f MB/s", bytesPerSec/(1024*1024))
	}
}
