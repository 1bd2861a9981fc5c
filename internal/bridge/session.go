package bridge

import "sync"

// SessionConfig is the host-provided session state the dispatcher's
// precondition checks consult. It is populated by START, amended by
// SET_SIGNER, and cleared by a bridge stop.
type SessionConfig struct {
	Signer              string
	Version             string
	ReadGlassEnabled    bool
	ComposeGlassEnabled bool
	SignerValid         bool
}

// Session tracks whether the host has completed the start handshake. Only
// START is processed before that; stop is a hard reset back to the
// uninitialized state, not a transition.
type Session struct {
	mu      sync.Mutex
	started bool
	cfg     SessionConfig
}

func NewSession() *Session {
	return &Session{}
}

func (s *Session) Started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// Begin transitions to started and installs cfg. It reports false when
// the session was already started, leaving the existing configuration
// untouched (the duplicate-START no-op signal).
func (s *Session) Begin(cfg SessionConfig) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return false
	}
	s.started = true
	s.cfg = cfg
	return true
}

// Config returns a snapshot of the session configuration.
func (s *Session) Config() SessionConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

func (s *Session) SetSigner(signer string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.Signer = signer
}

func (s *Session) SetSignerValid(valid bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.SignerValid = valid
}

// Reset returns the session to its uninitialized state.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = false
	s.cfg = SessionConfig{}
}
