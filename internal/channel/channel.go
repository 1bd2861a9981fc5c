package channel

import (
	"errors"
	"sync"
)

var ErrClosed = errors.New("channel: closed")

// Channel is a broadcast message channel: every subscriber observes every
// posted payload in posting order, including payloads the subscriber's own
// side posted. Other scripts may write to the same channel, so subscribers
// must tolerate arbitrary payloads.
type Channel interface {
	Post(payload []byte) error
	Subscribe(fn func(payload []byte)) (unsubscribe func())
}

type loopbackSub struct {
	id int
	fn func([]byte)
}

// Loopback is an in-process broadcast channel. Delivery is synchronous and
// in subscription order, which keeps interleaving deterministic under the
// single-threaded event model.
type Loopback struct {
	mu     sync.Mutex
	nextID int
	subs   []loopbackSub
	closed bool
}

func NewLoopback() *Loopback {
	return &Loopback{}
}

func (l *Loopback) Post(payload []byte) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	subs := make([]loopbackSub, len(l.subs))
	copy(subs, l.subs)
	l.mu.Unlock()

	// Handlers run outside the lock so they may post or subscribe
	// re-entrantly.
	for _, sub := range subs {
		sub.fn(payload)
	}
	return nil
}

func (l *Loopback) Subscribe(fn func([]byte)) func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextID++
	id := l.nextID
	l.subs = append(l.subs, loopbackSub{id: id, fn: fn})
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		for i, sub := range l.subs {
			if sub.id == id {
				l.subs = append(l.subs[:i], l.subs[i+1:]...)
				return
			}
		}
	}
}

func (l *Loopback) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	l.subs = nil
}
