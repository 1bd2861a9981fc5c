package glass

import (
	"errors"
	"sync"

	"github.com/google/uuid"
)

var ErrRendererClosed = errors.New("glass: renderer closed")

// MemoryRenderer satisfies both renderer interfaces without touching a
// page. The standalone daemon runs on it, and tests use it to observe
// exactly what the dispatcher asked for.
type MemoryRenderer struct {
	mu       sync.Mutex
	fail     error
	installs []MemoryInstall
}

// MemoryInstall records one install call.
type MemoryInstall struct {
	Kind   string // "read" or "compose"
	Target string
	Source string
	Draft  DraftContent
	Token  string
}

func NewMemoryRenderer() *MemoryRenderer {
	return &MemoryRenderer{}
}

// FailWith makes every subsequent install return err.
func (m *MemoryRenderer) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = err
}

func (m *MemoryRenderer) InstallReadOverlay(target, source string) (Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return nil, m.fail
	}
	m.installs = append(m.installs, MemoryInstall{Kind: "read", Target: target, Source: source})
	return newMemoryHandle(uuid.NewString()), nil
}

func (m *MemoryRenderer) InstallComposeOverlay(target string, draft DraftContent, token string) (Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return nil, m.fail
	}
	m.installs = append(m.installs, MemoryInstall{Kind: "compose", Target: target, Draft: draft, Token: token})
	return newMemoryHandle(token), nil
}

// Installs returns a copy of every recorded install, in order.
func (m *MemoryRenderer) Installs() []MemoryInstall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MemoryInstall, len(m.installs))
	copy(out, m.installs)
	return out
}

type memoryHandle struct {
	token string

	mu       sync.Mutex
	disposed bool
	height   int
}

func newMemoryHandle(token string) *memoryHandle {
	return &memoryHandle{token: token}
}

func (h *memoryHandle) Token() string {
	return h.token
}

func (h *memoryHandle) Dispose() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.disposed = true
}

func (h *memoryHandle) Resize(height int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.height = height
}

func (h *memoryHandle) Disposed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.disposed
}

func (h *memoryHandle) Height() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.height
}
