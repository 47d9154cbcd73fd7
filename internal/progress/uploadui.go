package progress

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"

	"github.com/rescale/dndupload/internal/cloud"
	"github.com/rescale/dndupload/internal/constants"
	"github.com/rescale/dndupload/internal/events"
	"github.com/rescale/dndupload/internal/models"
)

// UploadUI shows one mpb bar per queued file. Without a terminal it prints
// a start line and a result line per file instead.
type UploadUI struct {
	progress   *mpb.Progress
	out        io.Writer
	isTerminal bool

	mu     sync.Mutex
	bars   map[string]*FileBar
	byFile map[*models.File]*FileBar
	total  int
	done   int
}

// FileBar tracks one file.
type FileBar struct {
	bar        *mpb.Bar
	ui         *UploadUI
	id         string
	index      int
	name       string
	size       int64
	startTime  time.Time
	lastUpdate time.Time
	lastBytes  int64
	finished   bool
}

// NewUploadUI creates the per-file display on out. isTerminal selects bars
// or plain lines.
func NewUploadUI(out io.Writer, isTerminal bool) *UploadUI {
	if out == nil {
		out = os.Stderr
	}

	var p *mpb.Progress
	if isTerminal {
		if f, ok := out.(*os.File); ok {
			enableANSI(f)
		}
		p = mpb.New(
			mpb.WithOutput(out),
			mpb.WithRefreshRate(constants.ProgressRefreshRate),
			mpb.WithWidth(constants.ProgressBarWidth),
		)
	}

	return &UploadUI{
		progress:   p,
		out:        out,
		isTerminal: isTerminal,
		bars:       make(map[string]*FileBar),
		byFile:     make(map[*models.File]*FileBar),
	}
}

// Handle implements Renderer.
func (u *UploadUI) Handle(e *events.Event) {
	if e == nil {
		return
	}
	switch e.Name {
	case events.TaskInitialize:
		u.addFileBar(e.Detail)
	case events.TaskStart:
		if fb := u.lookup(e.Detail); fb != nil {
			fb.start()
		}
	case events.TaskProgress:
		if fb := u.lookup(e.Detail); fb != nil {
			fb.UpdateProgress(e.Detail.Progress)
		}
	case events.TaskEnd:
		if fb := u.lookup(e.Detail); fb != nil {
			fb.Complete(nil)
		}
	case events.TaskError:
		if fb := u.lookup(e.Detail); fb != nil {
			fb.Complete(e.Detail.Error)
		} else if e.Detail.Error != nil {
			u.printf("✗ %s: %v\n", fileLabel(e.Detail.File), e.Detail.Error)
		}
	case events.TaskCancel:
		if fb := u.lookup(e.Detail); fb != nil {
			fb.Cancel()
		}
	case events.FormEnd:
		u.mu.Lock()
		total, done := u.total, u.done
		u.mu.Unlock()
		u.printf("Uploaded %d/%d files\n", done, total)
	}
}

func (u *UploadUI) addFileBar(d events.Detail) {
	size := int64(0)
	if d.File != nil {
		size = d.File.Size
	}

	u.mu.Lock()
	u.total++
	fb := &FileBar{
		ui:         u,
		id:         d.ID,
		index:      u.total,
		name:       fileLabel(d.File),
		size:       size,
		startTime:  time.Now(),
		lastUpdate: time.Now(),
	}
	u.bars[d.ID] = fb
	if d.File != nil {
		u.byFile[d.File] = fb
	}
	u.mu.Unlock()

	if u.isTerminal {
		// mpb treats a zero total as unknown; empty files still need a bar.
		total := size
		if total <= 0 {
			total = 1
		}
		fb.bar = u.progress.New(total,
			mpb.BarStyle().
				Lbound("[").
				Filler("█").
				Tip("█").
				Padding("░").
				Rbound("]"),
			mpb.PrependDecorators(
				decor.Any(func(decor.Statistics) string {
					return fmt.Sprintf("[%d] %s (%s)", fb.index, fb.name, cloud.FormatBytes(size))
				}, decor.WCSyncSpace),
			),
			mpb.AppendDecorators(
				decor.CountersKibiByte("% .1f / % .1f", decor.WCSyncSpace),
				decor.Name("  "),
				decor.Percentage(decor.WCSyncSpace),
				decor.Name("  "),
				decor.EwmaSpeed(decor.SizeB1024(0), "% .1f", 30, decor.WCSyncSpace),
				decor.Name("  "),
				decor.Name("ETA ", decor.WCSyncWidth),
				decor.EwmaETA(decor.ET_STYLE_GO, 30),
			),
			mpb.BarRemoveOnComplete(),
		)
	}
}

// lookup finds the bar for an event. Failures reported by the queue carry
// the file but no id.
func (u *UploadUI) lookup(d events.Detail) *FileBar {
	u.mu.Lock()
	defer u.mu.Unlock()
	if d.ID != "" {
		if fb, ok := u.bars[d.ID]; ok {
			return fb
		}
	}
	if d.File != nil {
		return u.byFile[d.File]
	}
	return nil
}

func (fb *FileBar) start() {
	fb.startTime = time.Now()
	fb.lastUpdate = fb.startTime
	if !fb.ui.isTerminal {
		fb.ui.printf("Uploading [%d/%d]: %s (%s)\n", fb.index, fb.ui.totalFiles(), fb.name, cloud.FormatBytes(fb.size))
	}
}

// UpdateProgress moves the bar to fraction (0.0 to 1.0). Updates closer
// than the refresh rate are folded into the next one.
func (fb *FileBar) UpdateProgress(fraction float64) {
	if fb.bar == nil || fb.finished {
		return
	}

	now := time.Now()
	elapsed := now.Sub(fb.lastUpdate)
	current := int64(fraction * float64(fb.size))

	if elapsed >= constants.ProgressRefreshRate {
		fb.bar.EwmaIncrBy(int(current-fb.lastBytes), elapsed)
		fb.lastBytes = current
		fb.lastUpdate = now
	}
}

// Complete marks the file finished and prints a summary line.
func (fb *FileBar) Complete(err error) {
	if fb.finished {
		return
	}
	fb.finished = true
	elapsed := time.Since(fb.startTime)

	if err == nil {
		if fb.bar != nil {
			total := fb.size
			if total <= 0 {
				total = 1
			}
			fb.bar.SetCurrent(total)
			fb.bar.SetTotal(total, true)
		}
		fb.ui.mu.Lock()
		fb.ui.done++
		fb.ui.mu.Unlock()

		speed := 0.0
		if s := elapsed.Seconds(); s > 0 {
			speed = float64(fb.size) / s
		}
		fb.ui.printf("✓ %s (%s, %s, %s)\n", fb.name, cloud.FormatBytes(fb.size),
			elapsed.Round(time.Millisecond), cloud.FormatSpeed(speed))
		return
	}

	if fb.bar != nil {
		fb.bar.Abort(false)
	}
	fb.ui.printf("✗ %s: %v\n", fb.name, err)
}

// Cancel drops the bar of a file removed from the queue.
func (fb *FileBar) Cancel() {
	if fb.finished {
		return
	}
	fb.finished = true
	if fb.bar != nil {
		fb.bar.Abort(true)
	}
	fb.ui.printf("- %s cancelled\n", fb.name)
}

func (u *UploadUI) totalFiles() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.total
}

// printf writes through mpb when bars are active so lines land above them.
func (u *UploadUI) printf(format string, args ...any) {
	fmt.Fprintf(u.Writer(), format, args...)
}

// Wait blocks until every bar has finished rendering. Bars still running
// are aborted so Wait cannot hang on a drain that stopped early.
func (u *UploadUI) Wait() {
	if u.progress == nil {
		return
	}
	u.mu.Lock()
	for _, fb := range u.bars {
		if !fb.finished && fb.bar != nil {
			fb.finished = true
			fb.bar.Abort(true)
		}
	}
	u.mu.Unlock()
	u.progress.Wait()
}

// Writer implements Renderer.
func (u *UploadUI) Writer() io.Writer {
	if u.progress != nil && u.isTerminal {
		return u.progress
	}
	return u.out
}

// IsTerminal reports whether bars are drawn.
func (u *UploadUI) IsTerminal() bool {
	return u.isTerminal
}

// fileLabel shortens a path to its last two components.
func fileLabel(f *models.File) string {
	if f == nil {
		return "(unknown file)"
	}
	path := f.Path
	if path == "" {
		return f.Name
	}
	parts := strings.Split(filepath.ToSlash(path), "/")
	if len(parts) <= 2 {
		return filepath.Base(path)
	}
	return "…/" + strings.Join(parts[len(parts)-2:], "/")
}
