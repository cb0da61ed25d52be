package anythread

import (
	"sync"
	"sync/atomic"
)

// InvokeEventType is the event type used to deliver requests to targets.
const InvokeEventType = "anythread.invoke"

// Target is an object whose redirected methods run on the owner goroutine.
// Implement it by embedding an [*EventTarget], ideally obtained from
// [Bridge.NewTarget].
type Target interface {
	Events() *EventTarget
}

// ListenerFunc is a callback registered via [EventTarget.AddEventListener].
type ListenerFunc func(event *Event)

// ListenerID identifies a listener for removal, since function values cannot
// be compared.
type ListenerID uint64

type listenerEntry struct {
	listener ListenerFunc
	id       ListenerID
}

// EventTarget is the per-object event stream that requests are delivered
// through. It also records which [Bridge], if any, the object is registered
// with. The zero value is ready to use.
//
// EventTarget is safe for concurrent use, but events should only be
// dispatched on the owner goroutine.
type EventTarget struct {
	bridge    atomic.Pointer[Bridge]
	listeners map[string][]listenerEntry
	attach    sync.Once
	attached  atomic.Bool
	nextID    ListenerID
	mu        sync.RWMutex
}

// Event is a message dispatched to an [EventTarget].
//
// Event is not safe for concurrent use; it belongs to the goroutine
// dispatching it.
type Event struct {
	// Target is set by DispatchEvent.
	Target *EventTarget

	detail any

	// Type selects which listeners receive the event.
	Type string

	immediatePropagationStopped bool
}

// NewEventTarget returns an empty, unregistered [EventTarget].
func NewEventTarget() *EventTarget {
	return new(EventTarget)
}

// NewEvent returns an event of the given type, carrying detail.
func NewEvent(eventType string, detail any) *Event {
	return &Event{Type: eventType, detail: detail}
}

// Detail returns the payload of the event.
func (e *Event) Detail() any { return e.detail }

// StopImmediatePropagation prevents any further listeners from being called.
func (e *Event) StopImmediatePropagation() { e.immediatePropagationStopped = true }

// Events implements [Target].
func (et *EventTarget) Events() *EventTarget { return et }

// Bridge returns the bridge this target is registered with, or nil.
func (et *EventTarget) Bridge() *Bridge { return et.bridge.Load() }

// AddEventListener registers a listener for events of the given type,
// returning an ID that may be passed to [EventTarget.RemoveEventListener].
// A nil listener is ignored, and results in an ID of 0.
func (et *EventTarget) AddEventListener(eventType string, listener ListenerFunc) ListenerID {
	if listener == nil {
		return 0
	}
	et.mu.Lock()
	defer et.mu.Unlock()
	if et.listeners == nil {
		et.listeners = make(map[string][]listenerEntry)
	}
	et.nextID++
	et.listeners[eventType] = append(et.listeners[eventType], listenerEntry{listener: listener, id: et.nextID})
	return et.nextID
}

// RemoveEventListener removes a listener by ID, reporting whether it was found.
func (et *EventTarget) RemoveEventListener(eventType string, id ListenerID) bool {
	et.mu.Lock()
	defer et.mu.Unlock()
	entries := et.listeners[eventType]
	for i, entry := range entries {
		if entry.id == id {
			et.listeners[eventType] = append(entries[:i:i], entries[i+1:]...)
			return true
		}
	}
	return false
}

// ListenerCount returns the number of listeners for the event type.
func (et *EventTarget) ListenerCount(eventType string) int {
	et.mu.RLock()
	defer et.mu.RUnlock()
	return len(et.listeners[eventType])
}

// DispatchEvent calls every listener for the event's type, in registration
// order, on the calling goroutine. Panics from listeners propagate.
func (et *EventTarget) DispatchEvent(event *Event) {
	if event == nil {
		return
	}
	event.Target = et

	et.mu.RLock()
	entries := make([]listenerEntry, len(et.listeners[event.Type]))
	copy(entries, et.listeners[event.Type])
	et.mu.RUnlock()

	for _, entry := range entries {
		if event.immediatePropagationStopped {
			break
		}
		entry.listener(event)
	}
}
