package bridge

import (
	"testing"
	"time"

	"github.com/glasswire/e2ebind/internal/protocol"
	"github.com/glasswire/e2ebind/internal/testutil/testlog"
)

func TestPendingTableAddGeneratesUniqueTokens(t *testing.T) {
	testlog.Start(t)
	table := NewPendingTable()

	seen := make(map[string]struct{})
	for i := 0; i < 64; i++ {
		token := table.Add(protocol.ActionHasDraft, nil)
		if token == "" {
			t.Fatalf("empty token at %d", i)
		}
		if _, dup := seen[token]; dup {
			t.Fatalf("duplicate token %q", token)
		}
		seen[token] = struct{}{}
	}
	if got := table.Live(); got != 64 {
		t.Fatalf("live = %d, want 64", got)
	}
}

func TestPendingTableGetConsumesOnce(t *testing.T) {
	testlog.Start(t)
	table := NewPendingTable()
	token := table.Add(protocol.ActionGetActiveDraft, func(protocol.Envelope) {})

	req, ok := table.Get(token, protocol.ActionGetActiveDraft)
	if !ok {
		t.Fatalf("first Get missed")
	}
	if req.Action != protocol.ActionGetActiveDraft {
		t.Fatalf("action = %q", req.Action)
	}
	if _, ok := table.Get(token, protocol.ActionGetActiveDraft); ok {
		t.Fatalf("second Get returned the tombstoned entry")
	}
	if got := table.Live(); got != 0 {
		t.Fatalf("live after consume = %d, want 0", got)
	}
}

func TestPendingTableActionMismatchBurnsToken(t *testing.T) {
	testlog.Start(t)
	table := NewPendingTable()
	token := table.Add(protocol.ActionHasDraft, func(protocol.Envelope) {})

	if _, ok := table.Get(token, protocol.ActionSetActiveDraft); ok {
		t.Fatalf("mismatched action returned the entry")
	}
	// The slot is consumed even though nothing was returned.
	if _, ok := table.Get(token, protocol.ActionHasDraft); ok {
		t.Fatalf("token survived an action mismatch")
	}
}

func TestPendingTableGetUnknownToken(t *testing.T) {
	testlog.Start(t)
	table := NewPendingTable()
	if _, ok := table.Get("no-such-token", protocol.ActionHasDraft); ok {
		t.Fatalf("unknown token resolved")
	}
}

func TestPendingTableOldestAge(t *testing.T) {
	testlog.Start(t)
	table := NewPendingTable()
	now := time.Unix(1700000000, 0)
	table.clock = func() time.Time { return now }

	if got := table.OldestAge(); got != 0 {
		t.Fatalf("empty table oldest age = %v, want 0", got)
	}

	first := table.Add(protocol.ActionHasDraft, nil)
	now = now.Add(3 * time.Second)
	table.Add(protocol.ActionGetCurrentMessage, nil)
	now = now.Add(2 * time.Second)

	if got := table.OldestAge(); got != 5*time.Second {
		t.Fatalf("oldest age = %v, want 5s", got)
	}
	table.Get(first, protocol.ActionHasDraft)
	if got := table.OldestAge(); got != 2*time.Second {
		t.Fatalf("oldest age after consume = %v, want 2s", got)
	}
}

func TestPendingTableReset(t *testing.T) {
	testlog.Start(t)
	table := NewPendingTable()
	token := table.Add(protocol.ActionHasDraft, nil)
	table.Reset()

	if got := table.Live(); got != 0 {
		t.Fatalf("live after reset = %d", got)
	}
	if _, ok := table.Get(token, protocol.ActionHasDraft); ok {
		t.Fatalf("token survived reset")
	}
}
