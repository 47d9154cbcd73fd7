package progress

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/rescale/dndupload/internal/events"
	"github.com/rescale/dndupload/internal/models"
)

// QueueBar shows one progressbar for all bytes in the queue.
type QueueBar struct {
	out io.Writer

	mu       sync.Mutex
	bar      *progressbar.ProgressBar
	sizes    map[string]int64
	sent     map[string]int64
	total    int64
	files    int
	finished int
	failed   map[*models.File]bool
}

// NewQueueBar creates the single-bar display on out.
func NewQueueBar(out io.Writer) *QueueBar {
	if out == nil {
		out = os.Stderr
	}
	return &QueueBar{
		out:    out,
		sizes:  make(map[string]int64),
		sent:   make(map[string]int64),
		failed: make(map[*models.File]bool),
	}
}

// Handle implements Renderer.
func (q *QueueBar) Handle(e *events.Event) {
	if e == nil {
		return
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	d := e.Detail
	switch e.Name {
	case events.TaskInitialize:
		var size int64
		if d.File != nil {
			size = d.File.Size
		}
		q.sizes[d.ID] = size
		q.total += size
		q.files++
		if q.bar != nil {
			q.bar.ChangeMax64(q.total)
		}
	case events.FormStart:
		q.start()
	case events.TaskProgress:
		q.sent[d.ID] = int64(d.Progress * float64(q.sizes[d.ID]))
		q.set()
	case events.TaskEnd:
		q.sent[d.ID] = q.sizes[d.ID]
		q.finished++
		q.set()
	case events.TaskCancel:
		q.total -= q.sizes[d.ID]
		delete(q.sizes, d.ID)
		delete(q.sent, d.ID)
		q.files--
		if q.bar != nil {
			q.bar.ChangeMax64(q.total)
		}
	case events.TaskError:
		// A transfer failure arrives from the task and again from the queue.
		if d.File != nil {
			if q.failed[d.File] {
				return
			}
			q.failed[d.File] = true
		}
		if d.Error != nil {
			if q.bar != nil {
				_ = q.bar.Exit()
			}
			fmt.Fprintf(q.out, "\nError: %v\n", d.Error)
		}
	case events.FormEnd:
		if q.bar != nil {
			_ = q.bar.Finish()
		}
	}
}

func (q *QueueBar) start() {
	if q.bar != nil {
		return
	}
	out := q.out
	q.bar = progressbar.NewOptions64(q.total,
		progressbar.OptionSetDescription(q.description()),
		progressbar.OptionSetWriter(out),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWidth(50),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(out, "\n")
		}),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetRenderBlankState(true),
	)
}

func (q *QueueBar) set() {
	if q.bar == nil {
		return
	}
	var sum int64
	for _, n := range q.sent {
		sum += n
	}
	_ = q.bar.Set64(sum)
	q.bar.Describe(q.description())
}

func (q *QueueBar) description() string {
	return fmt.Sprintf("Uploading %d/%d files", q.finished, q.files)
}

// Sent returns the bytes reported so far and the queue total.
func (q *QueueBar) Sent() (sent, total int64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, n := range q.sent {
		sent += n
	}
	return sent, q.total
}

// Wait implements Renderer.
func (q *QueueBar) Wait() {}

// Writer implements Renderer.
func (q *QueueBar) Writer() io.Writer { return q.out }
