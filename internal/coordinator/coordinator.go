// Package coordinator serializes the uploads of one form.
//
// A Coordinator owns the form's pending tasks. Start drains them one at a
// time in enqueue order, stops at the first failure, and reports progress
// through a fixed event protocol:
//
//	dnd-uploads:start   form   before any task runs
//	dnd-uploads:end     form   queue drained with no failure
//	dnd-uploads:cancel  form   cancel that no task could handle ({ID: "error"})
//	dnd-upload:cancel   task   cancel routed through the task
//	dnd-upload:error    task   build failure or transfer failure
//
// The coordinator touches the page only through EventSink, ZoneLocator and
// UI, so it runs unchanged against a real document or against test fakes.
package coordinator

import (
	"context"
	"sync"

	"golang.org/x/net/html"

	"github.com/rescale/dndupload/internal/dom"
	"github.com/rescale/dndupload/internal/events"
	"github.com/rescale/dndupload/internal/logging"
	"github.com/rescale/dndupload/internal/models"
	"github.com/rescale/dndupload/internal/transfer"
)

// EventSink fires lifecycle events. *events.Dispatcher implements it.
type EventSink interface {
	Dispatch(target *html.Node, name string, detail events.Detail) *events.Event
}

// ZoneLocator performs the page lookups the coordinator needs.
// *dom.Document implements it.
type ZoneLocator interface {
	// ClearZone removes the pending-upload elements in input's zone and
	// reports whether a zone was found.
	ClearZone(input dom.Input) bool
	ElementByID(id string) *html.Node
}

// UI receives the events the coordinator produces. Every method must
// accept a nil event.
type UI interface {
	End(*events.Event)
	Error(*events.Event)
	Cancel(*events.Event)
}

// Options wires a Coordinator to its collaborators.
type Options struct {
	Sink    EventSink
	Locator ZoneLocator
	NewTask transfer.TaskFactory
	UI      UI
	Logger  *logging.Logger
}

// Coordinator owns the upload queue of one form.
type Coordinator struct {
	form    *html.Node
	queue   *transfer.Queue
	sink    EventSink
	locator ZoneLocator
	newTask transfer.TaskFactory
	ui      UI
	logger  *logging.Logger
}

// New creates a coordinator for form. Sink and NewTask are required;
// Locator, UI and Logger may be nil.
func New(form *html.Node, opts Options) *Coordinator {
	ui := opts.UI
	if ui == nil {
		ui = noUI{}
	}
	return &Coordinator{
		form:    form,
		queue:   transfer.NewQueue(),
		sink:    opts.Sink,
		locator: opts.Locator,
		newTask: opts.NewTask,
		ui:      ui,
		logger:  logging.OrNop(opts.Logger).Child("coordinator"),
	}
}

// Form returns the form this coordinator serves.
func (c *Coordinator) Form() *html.Node {
	return c.form
}

// Pending returns the queued tasks in processing order.
func (c *Coordinator) Pending() []transfer.Task {
	return c.queue.Snapshot()
}

// QueueUpload builds a task for file and appends it. A single-file input
// first discards whatever is pending. Build failures are reported as a
// dnd-upload:error on the input and never returned.
func (c *Coordinator) QueueUpload(input dom.Input, file *models.File) {
	if !input.Multiple() {
		c.UnqueueUploadsPerInput(input)
	}

	task, err := c.newTask(input, file)
	if err != nil {
		c.logger.Warn().Err(err).Str("file", file.String()).Msg("upload rejected")
		c.dispatchErrorWithoutAttachment(input, events.Detail{
			File:          file,
			Error:         err,
			IconContainer: c.elementByID(input.IconContainerID()),
		})
		return
	}

	c.queue.PushBack(task)
	c.logger.Debug().Str("file", file.String()).Int("pending", c.queue.Len()).Msg("upload queued")
}

// UnqueueUploadsPerInput removes the pending-upload markup in input's zone
// and empties the queue. The whole queue is cleared, including tasks queued
// from other inputs of the form. Without a zone nothing happens.
func (c *Coordinator) UnqueueUploadsPerInput(input dom.Input) {
	if c.locator == nil || !c.locator.ClearZone(input) {
		return
	}

	if n := c.queue.ClearAll(); n > 0 {
		c.logger.Debug().Int("dropped", n).Str("input", input.ID()).Msg("pending uploads replaced")
	}
}

// UnqueueUpload removes the pending task with the given id. The cancel is
// announced by the task itself when it can dispatch, otherwise by a
// form-level cancel carrying the "error" id. A task that is already running
// is not in the queue and is not affected.
func (c *Coordinator) UnqueueUpload(id string) {
	task, found := c.queue.RemoveByID(id)

	var event *events.Event
	if found && task.Dispatch().Available() {
		event = task.Dispatch().Fire("cancel")
	} else {
		event = c.dispatch("cancel", events.Detail{ID: events.ErrorID})
	}

	c.logger.Debug().Str("id", id).Bool("found", found).Msg("upload cancelled")
	c.ui.Cancel(event)
}

// Start drains the queue. callback receives the first transfer error, or
// nil once the queue is empty; it is called exactly once per Start. A
// failure drops the tasks still queued without reporting them, so a later
// Start never resumes an abandoned drain; keep it that way. Start returns
// as soon as the first task is running or the drain has finished.
func (c *Coordinator) Start(callback func(error)) {
	if callback == nil {
		callback = func(error) {}
	}

	c.dispatch("start", events.Detail{})
	c.logger.Debug().Int("pending", c.queue.Len()).Msg("drain started")
	c.startNext(callback)
}

// Run is Start for callers that want to block. It returns the drain's
// error, or ctx's error if ctx ends first; the running task is not
// interrupted and the drain carries on in the background.
func (c *Coordinator) Run(ctx context.Context) error {
	done := make(chan error, 1)
	c.Start(func(err error) { done <- err })

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Coordinator) startNext(callback func(error)) {
	task, ok := c.queue.PopFront()
	if !ok {
		callback(nil)
		c.ui.End(c.dispatch("end", events.Detail{}))
		c.logger.Debug().Msg("drain completed")
		return
	}

	var once sync.Once
	task.Start(func(err error) {
		fired := false
		once.Do(func() { fired = true })
		if !fired {
			c.logger.Warn().Str("id", task.ID()).Msg("upload completed more than once")
			return
		}

		if err != nil {
			abandoned := c.queue.ClearAll()
			c.logger.Error().Err(err).Str("id", task.ID()).Str("file", task.File().String()).
				Int("abandoned", abandoned).Msg("upload failed, drain stopped")
			c.dispatchError(err, task)
			callback(err)
			return
		}
		c.startNext(callback)
	})
}

func (c *Coordinator) dispatch(name string, detail events.Detail) *events.Event {
	return c.sink.Dispatch(c.form, events.FormEvent(name), detail)
}

func (c *Coordinator) dispatchError(err error, task transfer.Task) {
	event := c.sink.Dispatch(c.form, events.TaskError, events.Detail{
		Error:         err,
		File:          task.File(),
		IconContainer: task.IconContainer(),
	})
	c.ui.Error(event)
}

func (c *Coordinator) dispatchErrorWithoutAttachment(input dom.Input, detail events.Detail) {
	event := c.sink.Dispatch(input.Node, events.TaskError, detail)
	c.ui.Error(event)
}

func (c *Coordinator) elementByID(id string) *html.Node {
	if c.locator == nil || id == "" {
		return nil
	}
	return c.locator.ElementByID(id)
}

type noUI struct{}

func (noUI) End(*events.Event)    {}
func (noUI) Error(*events.Event)  {}
func (noUI) Cancel(*events.Event) {}
