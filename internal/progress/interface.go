// Package progress renders upload progress from the lifecycle events
// published on the event bus: one mpb bar per file on a terminal, a single
// progressbar for the whole queue in simple mode.
package progress

import (
	"io"
	"os"
	"sync"

	"golang.org/x/term"

	"github.com/rescale/dndupload/internal/events"
)

// Renderer consumes task and form lifecycle events.
type Renderer interface {
	// Handle updates the display for one event. Events arrive in order
	// from a single goroutine.
	Handle(e *events.Event)

	// Wait blocks until the display has flushed its final state.
	Wait()

	// Writer returns an io.Writer that prints above the progress display.
	Writer() io.Writer
}

// Modes accepted by New.
const (
	ModeBars   = "bars"
	ModeSimple = "simple"
	ModeNone   = "none"
)

// New returns the renderer for mode writing to out. Bars need a terminal;
// without one, bars mode prints a line per file instead.
func New(mode string, out io.Writer) Renderer {
	switch mode {
	case ModeNone:
		return NewNoOp(out)
	case ModeSimple:
		return NewQueueBar(out)
	default:
		return NewUploadUI(out, IsTerminal(out))
	}
}

// IsTerminal reports whether w is a file attached to a terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// Watch feeds every event published on bus to r until the returned stop
// function is called. stop drains buffered events and waits for r.
func Watch(bus *events.EventBus, r Renderer) (stop func()) {
	ch := bus.SubscribeAll()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for e := range ch {
			r.Handle(e)
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			bus.UnsubscribeAll(ch)
			<-done
			r.Wait()
		})
	}
}

// NoOp discards events.
type NoOp struct {
	out io.Writer
}

// NewNoOp creates a renderer that draws nothing. Writer returns out.
func NewNoOp(out io.Writer) *NoOp {
	if out == nil {
		out = io.Discard
	}
	return &NoOp{out: out}
}

// Handle does nothing.
func (n *NoOp) Handle(*events.Event) {}

// Wait does nothing.
func (n *NoOp) Wait() {}

// Writer returns the wrapped output.
func (n *NoOp) Writer() io.Writer { return n.out }
