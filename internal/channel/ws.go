package channel

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const wsHandshakeTimeout = 10 * time.Second

// WS adapts one websocket connection to the Channel interface. The host
// side of the broadcast channel lives at the other end of the socket; the
// socket relays every channel payload in both directions.
type WS struct {
	conn    *websocket.Conn
	writeMu sync.Mutex

	mu     sync.Mutex
	nextID int
	subs   []loopbackSub

	done      chan struct{}
	closeOnce sync.Once
}

// Dial connects to the host channel relay. The origin header is how the
// relay enforces same-origin delivery; passing it here is advisory only,
// the relay owns the actual check.
func Dial(ctx context.Context, url, origin string) (*WS, error) {
	header := http.Header{}
	if origin != "" {
		header.Set("Origin", origin)
	}
	dialer := websocket.Dialer{HandshakeTimeout: wsHandshakeTimeout}
	conn, resp, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, err
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	w := &WS{
		conn: conn,
		done: make(chan struct{}),
	}
	go w.readPump()
	return w, nil
}

func (w *WS) Post(payload []byte) error {
	select {
	case <-w.done:
		return ErrClosed
	default:
	}
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	return w.conn.WriteMessage(websocket.TextMessage, payload)
}

func (w *WS) Subscribe(fn func([]byte)) func() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.nextID++
	id := w.nextID
	w.subs = append(w.subs, loopbackSub{id: id, fn: fn})
	return func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		for i, sub := range w.subs {
			if sub.id == id {
				w.subs = append(w.subs[:i], w.subs[i+1:]...)
				return
			}
		}
	}
}

// Done is closed when the socket is gone, whether by Close or by a read
// failure.
func (w *WS) Done() <-chan struct{} {
	return w.done
}

func (w *WS) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		err = w.conn.Close()
	})
	return err
}

func (w *WS) readPump() {
	for {
		_, payload, err := w.conn.ReadMessage()
		if err != nil {
			w.Close()
			return
		}
		w.mu.Lock()
		subs := make([]loopbackSub, len(w.subs))
		copy(subs, w.subs)
		w.mu.Unlock()
		for _, sub := range subs {
			sub.fn(payload)
		}
	}
}
