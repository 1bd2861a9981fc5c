package glass

import "sync"

// Registry tracks installed overlays. Read overlays are idempotent per
// target location; compose overlays are indexed by their correlation
// token. Bound to a control bus, it disposes or resizes handles when the
// matching notification arrives.
type Registry struct {
	mu       sync.Mutex
	reads    map[string]Handle // by target location
	composes map[string]Handle // by correlation token
}

func NewRegistry() *Registry {
	return &Registry{
		reads:    make(map[string]Handle),
		composes: make(map[string]Handle),
	}
}

// Bind subscribes the registry to bus for resize and removal
// notifications. Call once per bus.
func (r *Registry) Bind(bus *Bus) {
	bus.Subscribe(r.handleEvent)
}

// InstallRead installs a read overlay at target, or does nothing when one
// is already installed there.
func (r *Registry) InstallRead(renderer ReadRenderer, target, source string) error {
	r.mu.Lock()
	if _, ok := r.reads[target]; ok {
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()

	handle, err := renderer.InstallReadOverlay(target, source)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.reads[target]; ok {
		// Lost the race to a concurrent install; the new handle is
		// surplus.
		handle.Dispose()
		return nil
	}
	r.reads[target] = handle
	return nil
}

// InstallCompose installs a compose overlay bound to token.
func (r *Registry) InstallCompose(renderer ComposeRenderer, target string, draft DraftContent, token string) error {
	handle, err := renderer.InstallComposeOverlay(target, draft, token)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if previous, ok := r.composes[token]; ok {
		previous.Dispose()
	}
	r.composes[token] = handle
	return nil
}

// ReadCount reports how many read overlays are currently installed.
func (r *Registry) ReadCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.reads)
}

// ComposeCount reports how many compose overlays are currently installed.
func (r *Registry) ComposeCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.composes)
}

func (r *Registry) handleEvent(evt Event) {
	switch evt.Kind {
	case EventRemove:
		r.remove(evt.Token)
	case EventResize:
		r.resize(evt.Token, evt.Height)
	}
}

func (r *Registry) remove(token string) {
	r.mu.Lock()
	var victim Handle
	for target, handle := range r.reads {
		if handle.Token() == token {
			victim = handle
			delete(r.reads, target)
			break
		}
	}
	if victim == nil {
		if handle, ok := r.composes[token]; ok {
			victim = handle
			delete(r.composes, token)
		}
	}
	r.mu.Unlock()
	if victim != nil {
		victim.Dispose()
	}
}

func (r *Registry) resize(token string, height int) {
	r.mu.Lock()
	var found Handle
	for _, handle := range r.reads {
		if handle.Token() == token {
			found = handle
			break
		}
	}
	if found == nil {
		found = r.composes[token]
	}
	r.mu.Unlock()
	if resizable, ok := found.(Resizable); ok {
		resizable.Resize(height)
	}
}
