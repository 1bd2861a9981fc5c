// Package keyring is the local credential store boundary. The bridge only
// ever asks it one question: which identities are known for a scope.
package keyring

import (
	"errors"
	"regexp"
	"strings"
	"sync"
)

// Scope selects which half of the credential store to enumerate. Signer
// checks use the private scope; recipient checks use the public scope.
type Scope string

const (
	ScopePublic  Scope = "public"
	ScopePrivate Scope = "private"
)

var ErrUnavailable = errors.New("keyring: credential store unavailable")

// Identity is one key-holder record. UserID is free-form, commonly
// "Display Name <addr@example.com>" or a bare address.
type Identity struct {
	UserID string
}

// Email returns the normalized address for the identity, or "" when none
// can be extracted.
func (i Identity) Email() string {
	return ExtractEmail(i.UserID)
}

// Store lists known identities for a scope.
type Store interface {
	ListIdentities(scope Scope) ([]Identity, error)
}

var emailPattern = regexp.MustCompile(`[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}`)

// ExtractEmail pulls a plausible address out of a user ID, lowercased.
// Both bare addresses and "Name <addr>" forms are accepted.
func ExtractEmail(uid string) string {
	uid = strings.ToLower(strings.TrimSpace(uid))
	if uid == "" {
		return ""
	}
	if open := strings.LastIndex(uid, "<"); open != -1 {
		if end := strings.Index(uid[open:], ">"); end != -1 {
			uid = uid[open+1 : open+end]
		}
	}
	return emailPattern.FindString(uid)
}

// Static is a fixed in-memory store. The daemon loads one from its TOML
// config; tests build them directly. Remote directory imports land in the
// public scope.
type Static struct {
	mu      sync.RWMutex
	private []Identity
	public  []Identity
}

func NewStatic(private, public []string) *Static {
	s := &Static{}
	for _, uid := range private {
		s.private = append(s.private, Identity{UserID: uid})
	}
	for _, uid := range public {
		s.public = append(s.public, Identity{UserID: uid})
	}
	return s
}

func (s *Static) ListIdentities(scope Scope) ([]Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var src []Identity
	switch scope {
	case ScopePrivate:
		src = s.private
	case ScopePublic:
		src = s.public
	default:
		return nil, ErrUnavailable
	}
	out := make([]Identity, len(src))
	copy(out, src)
	return out, nil
}

// Import adds user IDs to the public scope, skipping ones already present.
func (s *Static) Import(uids []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	known := make(map[string]struct{}, len(s.public))
	for _, id := range s.public {
		known[id.Email()] = struct{}{}
	}
	for _, uid := range uids {
		id := Identity{UserID: uid}
		email := id.Email()
		if email == "" {
			continue
		}
		if _, ok := known[email]; ok {
			continue
		}
		known[email] = struct{}{}
		s.public = append(s.public, id)
	}
}
