package types

import "sync"

// EventType identifies the kind of tool event.
type EventType string

const (
	EventTurnStart EventType = "turn_start"
	EventTurnEnd   EventType = "turn_end"
	EventToolStart EventType = "tool_start"
	EventToolEnd   EventType = "tool_end"
)

// Event is emitted by the router while a turn runs.
type Event struct {
	Type     EventType
	TurnID   string
	CallID   string      // set for ToolStart/ToolEnd
	ToolName string      // set for ToolStart/ToolEnd
	Result   *ToolResult // set for ToolEnd
	Calls    int         // set for TurnStart/TurnEnd
}

// subscriber is an identified event callback.
type subscriber struct {
	id uint64
	fn func(Event)
}

// EventEmitter provides a simple pub-sub mechanism for tool events. Emit may
// be called from many goroutines; subscribers must be safe for that.
type EventEmitter struct {
	mu     sync.RWMutex
	subs   []subscriber
	nextID uint64
}

// NewEventEmitter creates a new EventEmitter.
func NewEventEmitter() *EventEmitter {
	return &EventEmitter{}
}

// Subscribe registers a callback to receive events. Returns an unsubscribe
// function that removes the callback by ID.
func (e *EventEmitter) Subscribe(fn func(Event)) func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := e.nextID
	e.nextID++
	e.subs = append(e.subs, subscriber{id: id, fn: fn})
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		for i, s := range e.subs {
			if s.id == id {
				e.subs = append(e.subs[:i], e.subs[i+1:]...)
				break
			}
		}
	}
}

// Emit sends an event to all subscribers. A nil emitter drops the event.
func (e *EventEmitter) Emit(event Event) {
	if e == nil {
		return
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, s := range e.subs {
		s.fn(event)
	}
}
