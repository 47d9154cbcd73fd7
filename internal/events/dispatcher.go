// Package events implements the upload lifecycle event protocol: DOM-style
// synchronous dispatch on document nodes, and an EventBus that mirrors every
// dispatched event to asynchronous subscribers.
package events

import (
	"sync"
	"time"

	"golang.org/x/net/html"
)

// Listener receives a dispatched event.
type Listener func(*Event)

// Dispatcher fires named events on nodes of one document.
//
// Delivery is synchronous: listeners registered on the target run first,
// then listeners on each ancestor up to the root. Dispatching with no
// listeners is not an error. Listeners may dispatch further events.
//
// Dispatcher is safe for concurrent use.
type Dispatcher struct {
	listeners map[*html.Node]map[string][]Listener
	mu        sync.RWMutex
	bus       *EventBus
	now       func() time.Time
}

// NewDispatcher creates a dispatcher. bus may be nil.
func NewDispatcher(bus *EventBus) *Dispatcher {
	return &Dispatcher{
		listeners: make(map[*html.Node]map[string][]Listener),
		bus:       bus,
		now:       time.Now,
	}
}

// Bus returns the bus dispatched events are mirrored to, or nil.
func (d *Dispatcher) Bus() *EventBus {
	return d.bus
}

// AddEventListener registers fn for events named name reaching target.
func (d *Dispatcher) AddEventListener(target *html.Node, name string, fn Listener) {
	if fn == nil {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	byName, ok := d.listeners[target]
	if !ok {
		byName = make(map[string][]Listener)
		d.listeners[target] = byName
	}
	byName[name] = append(byName[name], fn)
}

// RemoveEventListeners drops every listener for name on target.
func (d *Dispatcher) RemoveEventListeners(target *html.Node, name string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if byName, ok := d.listeners[target]; ok {
		delete(byName, name)
		if len(byName) == 0 {
			delete(d.listeners, target)
		}
	}
}

// Dispatch fires name on target carrying detail and returns the event so
// callers can hand it to UI adapters.
func (d *Dispatcher) Dispatch(target *html.Node, name string, detail Detail) *Event {
	event := &Event{
		Name:   name,
		Target: target,
		Detail: detail,
		Time:   d.now(),
	}

	for _, fn := range d.route(target, name) {
		fn(event)
	}

	if d.bus != nil {
		d.bus.Publish(event)
	}

	return event
}

// route snapshots the listeners along the bubbling path so they run
// without holding the lock.
func (d *Dispatcher) route(target *html.Node, name string) []Listener {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var path []Listener
	for n := target; n != nil; n = n.Parent {
		if byName, ok := d.listeners[n]; ok {
			path = append(path, byName[name]...)
		}
	}
	return path
}
