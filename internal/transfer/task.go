// Package transfer defines the upload task abstraction and the FIFO that
// holds pending tasks for one form.
package transfer

import (
	"errors"
	"sync"

	"golang.org/x/net/html"

	"github.com/rescale/dndupload/internal/dom"
	"github.com/rescale/dndupload/internal/events"
	"github.com/rescale/dndupload/internal/models"
)

// ErrConstruction marks a task that could not be built from its input and
// file. Factories wrap it so callers can match with errors.Is.
var ErrConstruction = errors.New("cannot build upload task")

// Task is one file's transfer. Start performs the transfer and must call
// onComplete exactly once, with nil on success.
type Task interface {
	// ID returns the id the task assigned itself, or "" before it has one.
	ID() string
	File() *models.File
	IconContainer() *html.Node
	// Dispatch is fixed when the task is built.
	Dispatch() Dispatch
	Start(onComplete func(error))
}

// TaskFactory builds a task for a file selected on input.
// A non-nil error means nothing was built.
type TaskFactory func(input dom.Input, file *models.File) (Task, error)

// Dispatch is a task's optional capability to fire task-scoped events.
// The zero value is WithoutDispatch.
type Dispatch struct {
	fire func(name string) *events.Event
}

// WithDispatch returns a capability that fires events through fn.
// fn receives the short name ("cancel") and may return nil.
func WithDispatch(fn func(name string) *events.Event) Dispatch {
	return Dispatch{fire: fn}
}

// WithoutDispatch returns the absent capability.
func WithoutDispatch() Dispatch {
	return Dispatch{}
}

// Available reports whether the task can fire its own events.
func (d Dispatch) Available() bool {
	return d.fire != nil
}

// Fire emits name through the capability. It returns nil when unavailable.
func (d Dispatch) Fire(name string) *events.Event {
	if d.fire == nil {
		return nil
	}
	return d.fire(name)
}

// Base carries the attributes every task exposes. Implementations embed it
// and supply Start.
type Base struct {
	Input      dom.Input
	Payload    *models.File
	Icons      *html.Node
	Capability Dispatch

	mu sync.RWMutex
	id string
}

// ID returns the assigned id.
func (b *Base) ID() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.id
}

// SetID assigns the task's id.
func (b *Base) SetID(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.id = id
}

// File returns the file being uploaded.
func (b *Base) File() *models.File { return b.Payload }

// IconContainer returns the element holding the input's upload icons.
func (b *Base) IconContainer() *html.Node { return b.Icons }

// Dispatch returns the task-scoped dispatch capability.
func (b *Base) Dispatch() Dispatch { return b.Capability }

// Detail builds the payload for this task's events.
func (b *Base) Detail() events.Detail {
	return events.Detail{
		ID:            b.ID(),
		File:          b.Payload,
		IconContainer: b.Icons,
	}
}

// ScopedDispatch returns a capability that fires dnd-upload:<name> on the
// task's input through d, using detail to build each payload.
func ScopedDispatch(d *events.Dispatcher, input dom.Input, detail func() events.Detail) Dispatch {
	if d == nil {
		return WithoutDispatch()
	}
	return WithDispatch(func(name string) *events.Event {
		return d.Dispatch(input.Node, events.TaskEvent(name), detail())
	})
}
