package events

import (
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/net/html"

	"github.com/rescale/dndupload/internal/constants"
	"github.com/rescale/dndupload/internal/models"
)

// Channel prefixes. The form-level channel is plural, the task-level
// channel singular; listeners depend on the exact spelling.
const (
	FormChannel = "dnd-uploads"
	TaskChannel = "dnd-upload"
)

// Form-level events
const (
	FormStart  = FormChannel + ":start"
	FormEnd    = FormChannel + ":end"
	FormCancel = FormChannel + ":cancel"
)

// Task-level events
const (
	TaskInitialize = TaskChannel + ":initialize"
	TaskStart      = TaskChannel + ":start"
	TaskProgress   = TaskChannel + ":progress"
	TaskEnd        = TaskChannel + ":end"
	TaskError      = TaskChannel + ":error"
	TaskCancel     = TaskChannel + ":cancel"
)

// ErrorID is the marker id carried by a form-level cancel that could not be
// routed to a task.
const ErrorID = "error"

// FormEvent returns the form-level event name for name.
func FormEvent(name string) string { return FormChannel + ":" + name }

// TaskEvent returns the task-level event name for name.
func TaskEvent(name string) string { return TaskChannel + ":" + name }

// Detail is the payload of a lifecycle event. Any field may be zero;
// consumers must not assume a particular shape.
type Detail struct {
	ID            string       // Upload id; empty when none was assigned
	File          *models.File // File concerned, if any
	Error         error        // Failure, for error events
	IconContainer *html.Node   // Element holding the upload icons for the input
	Progress      float64      // 0.0 to 1.0, for progress events
}

// Event is a named signal fired on a node.
type Event struct {
	Name   string
	Target *html.Node
	Detail Detail
	Time   time.Time
}

// Type returns the event name.
func (e *Event) Type() string { return e.Name }

// Timestamp returns when the event was dispatched.
func (e *Event) Timestamp() time.Time { return e.Time }

// EventBus fans dispatched events out to asynchronous observers
// (progress renderers, loggers). Publishing never blocks.
type EventBus struct {
	subscribers map[string][]chan *Event
	all         []chan *Event
	mu          sync.RWMutex
	bufferSize  int
	closed      bool

	droppedEvents atomic.Int64
}

// NewEventBus creates a new event bus
func NewEventBus(bufferSize int) *EventBus {
	if bufferSize <= 0 {
		bufferSize = constants.EventBusDefaultBuffer
	}
	if bufferSize > constants.EventBusMaxBuffer {
		bufferSize = constants.EventBusMaxBuffer
	}
	return &EventBus{
		subscribers: make(map[string][]chan *Event),
		all:         make([]chan *Event, 0),
		bufferSize:  bufferSize,
	}
}

// Subscribe creates a subscription to a single event name
func (eb *EventBus) Subscribe(name string) <-chan *Event {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		ch := make(chan *Event)
		close(ch)
		return ch
	}

	ch := make(chan *Event, eb.bufferSize)
	eb.subscribers[name] = append(eb.subscribers[name], ch)
	return ch
}

// SubscribeAll creates a subscription to all events
func (eb *EventBus) SubscribeAll() <-chan *Event {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		ch := make(chan *Event)
		close(ch)
		return ch
	}

	ch := make(chan *Event, eb.bufferSize)
	eb.all = append(eb.all, ch)
	return ch
}

// Publish sends an event to all subscribers. A full subscriber channel
// drops the event and bumps the dropped counter.
func (eb *EventBus) Publish(event *Event) {
	if event == nil {
		return
	}

	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if eb.closed {
		return
	}

	for _, ch := range eb.subscribers[event.Name] {
		select {
		case ch <- event:
		default:
			eb.droppedEvents.Add(1)
		}
	}

	for _, ch := range eb.all {
		select {
		case ch <- event:
		default:
			eb.droppedEvents.Add(1)
		}
	}
}

// Close closes every subscriber channel. Later publishes are ignored.
func (eb *EventBus) Close() {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		return
	}

	eb.closed = true

	for _, channels := range eb.subscribers {
		for _, ch := range channels {
			close(ch)
		}
	}

	for _, ch := range eb.all {
		close(ch)
	}
}

// Unsubscribe removes a subscription channel for one event name
func (eb *EventBus) Unsubscribe(name string, ch <-chan *Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		return
	}

	subs := eb.subscribers[name]
	for i, sub := range subs {
		if sub == ch {
			close(sub)
			eb.subscribers[name] = append(subs[:i], subs[i+1:]...)
			return
		}
	}
}

// UnsubscribeAll removes a channel created by SubscribeAll
func (eb *EventBus) UnsubscribeAll(ch <-chan *Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		return
	}

	for i, sub := range eb.all {
		if sub == ch {
			close(sub)
			eb.all = append(eb.all[:i], eb.all[i+1:]...)
			return
		}
	}
}

// GetDroppedEventCount returns how many events were dropped on full channels
func (eb *EventBus) GetDroppedEventCount() int64 {
	return eb.droppedEvents.Load()
}

// ResetDroppedEventCount resets the dropped counter and returns the old value
func (eb *EventBus) ResetDroppedEventCount() int64 {
	return eb.droppedEvents.Swap(0)
}
