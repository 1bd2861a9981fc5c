package glass

import "sync"

// Control event kinds. These travel on the extension-internal bus, never
// on the host channel.
const (
	EventResize = "resize"
	EventRemove = "remove"
)

// Event is one overlay control notification, matched to a handle by
// token.
type Event struct {
	Kind   string
	Token  string
	Height int
}

// Bus is a minimal synchronous fan-out for overlay control events.
type Bus struct {
	mu   sync.Mutex
	subs []func(Event)
}

func NewBus() *Bus {
	return &Bus{}
}

func (b *Bus) Subscribe(fn func(Event)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, fn)
}

func (b *Bus) Publish(evt Event) {
	b.mu.Lock()
	subs := make([]func(Event), len(b.subs))
	copy(subs, b.subs)
	b.mu.Unlock()
	for _, fn := range subs {
		fn(evt)
	}
}
