package bridge

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/glasswire/e2ebind/internal/protocol"
)

// PendingRequest is one outbound request awaiting its host reply.
type PendingRequest struct {
	Action   protocol.Action
	Callback func(protocol.Envelope)
}

type pendingSlot struct {
	request  PendingRequest
	queuedAt time.Time
	consumed bool
}

// PendingTable maps correlation tokens to outstanding requests. A
// consumed slot is retained as a tombstone so a duplicate reply carrying
// the same token can never replay the callback. Entries whose reply never
// arrives persist until Reset; there is no timeout, the leak is bounded
// by per-session traffic and surfaced through Live/OldestAge.
type PendingTable struct {
	mu    sync.Mutex
	slots map[string]*pendingSlot
	clock func() time.Time
}

func NewPendingTable() *PendingTable {
	return &PendingTable{
		slots: make(map[string]*pendingSlot),
		clock: time.Now,
	}
}

// Add stores a pending request under a fresh correlation token, drawn at
// random until one is found that does not collide with a live entry.
// Tombstoned slots may be overwritten. Add always succeeds.
func (t *PendingTable) Add(action protocol.Action, callback func(protocol.Envelope)) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var token string
	for {
		token = uuid.NewString()
		slot, ok := t.slots[token]
		if !ok || slot.consumed {
			break
		}
	}
	t.slots[token] = &pendingSlot{
		request:  PendingRequest{Action: action, Callback: callback},
		queuedAt: t.clock(),
	}
	return token
}

// Get consumes the slot for token. The stored request is returned only
// when the slot is live and its action matches; an action mismatch still
// tombstones the slot, so a reply lying about its action burns the token
// without reaching the callback.
func (t *PendingTable) Get(token string, action protocol.Action) (PendingRequest, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	slot, ok := t.slots[token]
	if !ok || slot.consumed {
		return PendingRequest{}, false
	}
	slot.consumed = true
	if slot.request.Action != action {
		return PendingRequest{}, false
	}
	return slot.request, true
}

// Live reports the number of entries still awaiting a reply.
func (t *PendingTable) Live() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	live := 0
	for _, slot := range t.slots {
		if !slot.consumed {
			live++
		}
	}
	return live
}

// OldestAge reports how long the oldest live entry has been waiting, or
// zero when nothing is pending.
func (t *PendingTable) OldestAge() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	var oldest time.Time
	for _, slot := range t.slots {
		if slot.consumed {
			continue
		}
		if oldest.IsZero() || slot.queuedAt.Before(oldest) {
			oldest = slot.queuedAt
		}
	}
	if oldest.IsZero() {
		return 0
	}
	return t.clock().Sub(oldest)
}

// Reset discards every slot, live and tombstoned.
func (t *PendingTable) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.slots = make(map[string]*pendingSlot)
}
