package pipeline

import "sync"

// Event names emitted by the sprite compositor. Shader and map plugins emit
// structurally identical events under their own names.
const (
	EventSheetUpdated = "sheet.updated"
	EventSheetRemoved = "sheet.removed"
)

// Event is a domain event emitted during a build or watch session.
type Event struct {
	Name    string
	Payload interface{}
}

// Bus is a minimal synchronous publish/subscribe hub. Subscribers are
// invoked on the emitting goroutine and must not block for long.
type Bus struct {
	mu   sync.RWMutex
	subs []func(Event)
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers a listener for all events.
func (b *Bus) Subscribe(fn func(Event)) {
	b.mu.Lock()
	b.subs = append(b.subs, fn)
	b.mu.Unlock()
}

// Emit delivers the event to every subscriber.
func (b *Bus) Emit(e Event) {
	b.mu.RLock()
	subs := b.subs
	b.mu.RUnlock()
	for _, fn := range subs {
		fn(e)
	}
}
