package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/glasswire/e2ebind/internal/channel"
	"github.com/glasswire/e2ebind/internal/glass"
	"github.com/glasswire/e2ebind/internal/keyring"
	"github.com/glasswire/e2ebind/internal/protocol"
	"github.com/glasswire/e2ebind/internal/testutil/testlog"
)

const hostTag = "host"

// hostHarness plays the host side of the shared channel: it posts
// requests tagged with its own source and records every bridge-tagged
// envelope it observes. Loopback delivery is synchronous, so replies are
// visible as soon as post returns.
type hostHarness struct {
	t  *testing.T
	ch *channel.Loopback

	mu   sync.Mutex
	seen []protocol.Envelope
}

func newHostHarness(t *testing.T, ch *channel.Loopback) *hostHarness {
	t.Helper()
	h := &hostHarness{t: t, ch: ch}
	end := ch.Subscribe(func(raw []byte) {
		env, err := protocol.Decode(raw, hostTag)
		if err != nil {
			return
		}
		h.mu.Lock()
		h.seen = append(h.seen, env)
		h.mu.Unlock()
	})
	t.Cleanup(end)
	return h
}

func (h *hostHarness) post(action string, args any, hash string) {
	h.t.Helper()
	env := protocol.Envelope{
		API:    protocol.ProtocolTag,
		Source: hostTag,
		Action: action,
		Hash:   hash,
	}
	if args != nil {
		raw, err := json.Marshal(args)
		if err != nil {
			h.t.Fatalf("marshal args: %v", err)
		}
		env.Args = raw
	}
	raw, err := json.Marshal(env)
	if err != nil {
		h.t.Fatalf("marshal envelope: %v", err)
	}
	if err := h.ch.Post(raw); err != nil {
		h.t.Fatalf("post: %v", err)
	}
}

func (h *hostHarness) respond(action, hash string, result any, success bool) {
	h.t.Helper()
	env := protocol.Envelope{
		API:     protocol.ProtocolTag,
		Source:  hostTag,
		Action:  action,
		Hash:    hash,
		Success: &success,
	}
	if result != nil {
		raw, err := json.Marshal(result)
		if err != nil {
			h.t.Fatalf("marshal result: %v", err)
		}
		env.Result = raw
	}
	raw, err := json.Marshal(env)
	if err != nil {
		h.t.Fatalf("marshal envelope: %v", err)
	}
	if err := h.ch.Post(raw); err != nil {
		h.t.Fatalf("post: %v", err)
	}
}

func (h *hostHarness) envelopes() []protocol.Envelope {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]protocol.Envelope, len(h.seen))
	copy(out, h.seen)
	return out
}

func (h *hostHarness) last() protocol.Envelope {
	h.t.Helper()
	envs := h.envelopes()
	if len(envs) == 0 {
		h.t.Fatalf("no bridge envelopes observed")
	}
	return envs[len(envs)-1]
}

type fakeDirectory struct {
	mu      sync.Mutex
	results map[string]bool
	err     error
	calls   [][]string
}

func (f *fakeDirectory) FetchAndImport(_ context.Context, recipients []string) (map[string]bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, append([]string(nil), recipients...))
	if f.err != nil {
		return nil, f.err
	}
	return f.results, nil
}

type fakeSendControl struct {
	mu        sync.Mutex
	activated int
}

func (f *fakeSendControl) ActivateSend() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.activated++
}

func (f *fakeSendControl) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.activated
}

type fixture struct {
	bridge   *Bridge
	host     *hostHarness
	ch       *channel.Loopback
	renderer *glass.MemoryRenderer
	dir      *fakeDirectory
	send     *fakeSendControl
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	testlog.Start(t)
	ch := channel.NewLoopback()
	renderer := glass.NewMemoryRenderer()
	dir := &fakeDirectory{results: map[string]bool{}}
	send := &fakeSendControl{}
	b, err := New(Options{
		BridgeID:     "bridge.test",
		Channel:      ch,
		Keyring:      keyring.NewStatic([]string{"Alice <alice@example.com>"}, []string{"bob@example.com"}),
		Directory:    dir,
		ReadGlass:    renderer,
		ComposeGlass: renderer,
		SendControl:  send,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(b.Stop)
	return &fixture{
		bridge:   b,
		host:     newHostHarness(t, ch),
		ch:       ch,
		renderer: renderer,
		dir:      dir,
		send:     send,
	}
}

// start performs the handshake with glass rendering enabled and a signer
// the private keyring knows.
func (f *fixture) start(t *testing.T) {
	t.Helper()
	f.host.post("start", map[string]any{
		"signer":                "alice@example.com",
		"version":               "1.4",
		"read_glass_enabled":    true,
		"compose_glass_enabled": true,
	}, "h-start")
	reply := f.host.last()
	if !reply.Succeeded() {
		t.Fatalf("start handshake failed: %+v", reply)
	}
}

func TestStartHandshake(t *testing.T) {
	f := newFixture(t)
	f.host.post("start", map[string]any{
		"signer":             "Alice <alice@example.com>",
		"version":            "1.4",
		"read_glass_enabled": true,
	}, "h-1")

	reply := f.host.last()
	if reply.Action != "start" || reply.Hash != "h-1" {
		t.Fatalf("reply routing = action %q hash %q", reply.Action, reply.Hash)
	}
	if !reply.Succeeded() {
		t.Fatalf("start reply success = false")
	}
	var res validResult
	if err := json.Unmarshal(reply.Result, &res); err != nil || !res.Valid {
		t.Fatalf("start result = %s (err %v)", reply.Result, err)
	}
	cfg := f.bridge.SessionConfig()
	if !cfg.SignerValid || !cfg.ReadGlassEnabled || cfg.ComposeGlassEnabled {
		t.Fatalf("session config = %+v", cfg)
	}
}

func TestStartUnknownSigner(t *testing.T) {
	f := newFixture(t)
	f.host.post("start", map[string]any{"signer": "mallory@example.com"}, "h-1")

	reply := f.host.last()
	if !reply.Succeeded() {
		t.Fatalf("start with unknown signer should still succeed: %+v", reply)
	}
	var res validResult
	if err := json.Unmarshal(reply.Result, &res); err != nil || res.Valid {
		t.Fatalf("unknown signer marked valid: %s", reply.Result)
	}
	if f.bridge.SessionConfig().SignerValid {
		t.Fatalf("session marked signer valid")
	}
}

func TestDuplicateStartIsRejected(t *testing.T) {
	f := newFixture(t)
	f.start(t)
	f.host.post("start", map[string]any{"signer": "mallory@example.com"}, "h-2")

	reply := f.host.last()
	if reply.Hash != "h-2" || reply.Succeeded() {
		t.Fatalf("duplicate start reply = %+v", reply)
	}
	if len(reply.Result) != 0 {
		t.Fatalf("duplicate start carried result %s", reply.Result)
	}
	if got := f.bridge.SessionConfig().Signer; got != "alice@example.com" {
		t.Fatalf("duplicate start mutated signer to %q", got)
	}
}

func TestRequestsBeforeStartAreSilent(t *testing.T) {
	f := newFixture(t)
	f.host.post("validate_signer", map[string]any{"signer": "alice@example.com"}, "h-1")
	f.host.post("install_read_glass", map[string]any{
		"messages": []map[string]string{{"elem": "msg-1", "text": "cipher"}},
	}, "h-2")

	if got := len(f.host.envelopes()); got != 0 {
		t.Fatalf("pre-start requests produced %d replies", got)
	}
	if got := len(f.renderer.Installs()); got != 0 {
		t.Fatalf("pre-start request installed %d overlays", got)
	}
}

func TestActionNamesMatchCaseInsensitively(t *testing.T) {
	f := newFixture(t)
	f.host.post("START", map[string]any{"signer": "alice@example.com"}, "h-1")
	if !f.host.last().Succeeded() {
		t.Fatalf("uppercase action name not recognized")
	}
}

func TestSetSignerEmptyIsSilent(t *testing.T) {
	f := newFixture(t)
	f.start(t)
	before := len(f.host.envelopes())

	f.host.post("set_signer", map[string]any{"signer": "   "}, "h-2")
	if got := len(f.host.envelopes()); got != before {
		t.Fatalf("empty set_signer produced a reply")
	}
	if got := f.bridge.SessionConfig().Signer; got != "alice@example.com" {
		t.Fatalf("empty set_signer mutated signer to %q", got)
	}
}

func TestSetSignerRevalidates(t *testing.T) {
	f := newFixture(t)
	f.start(t)

	f.host.post("set_signer", map[string]any{"signer": "mallory@example.com"}, "h-2")
	reply := f.host.last()
	if !reply.Succeeded() {
		t.Fatalf("set_signer reply = %+v", reply)
	}
	var res validResult
	if err := json.Unmarshal(reply.Result, &res); err != nil || res.Valid {
		t.Fatalf("unknown signer validated: %s", reply.Result)
	}
	cfg := f.bridge.SessionConfig()
	if cfg.Signer != "mallory@example.com" || cfg.SignerValid {
		t.Fatalf("session config = %+v", cfg)
	}
}

func TestValidateSignerDoesNotMutateSession(t *testing.T) {
	f := newFixture(t)
	f.start(t)

	f.host.post("validate_signer", map[string]any{"signer": "mallory@example.com"}, "h-2")
	reply := f.host.last()
	var res validResult
	if err := json.Unmarshal(reply.Result, &res); err != nil || res.Valid {
		t.Fatalf("validate_signer result = %s", reply.Result)
	}
	cfg := f.bridge.SessionConfig()
	if cfg.Signer != "alice@example.com" || !cfg.SignerValid {
		t.Fatalf("validate_signer mutated session: %+v", cfg)
	}
}

func TestValidateRecipients(t *testing.T) {
	f := newFixture(t)
	f.start(t)
	f.dir.results = map[string]bool{"carol@example.com": true}

	f.host.post("validate_recipients", map[string]any{
		"recipients": []string{"bob@example.com", "carol@example.com", "eve@example.com"},
	}, "h-2")

	reply := f.host.last()
	if !reply.Succeeded() {
		t.Fatalf("validate_recipients reply = %+v", reply)
	}
	var results []recipientResult
	if err := json.Unmarshal(reply.Result, &results); err != nil {
		t.Fatalf("unmarshal results: %v", err)
	}
	want := map[string]bool{
		"bob@example.com":   true, // local keyring
		"carol@example.com": true, // remote directory
		"eve@example.com":   false,
	}
	if len(results) != len(want) {
		t.Fatalf("got %d results, want %d", len(results), len(want))
	}
	for _, r := range results {
		if want[r.Recipient] != r.Valid {
			t.Fatalf("recipient %q valid = %v", r.Recipient, r.Valid)
		}
	}
	if len(f.dir.calls) != 1 || len(f.dir.calls[0]) != 2 {
		t.Fatalf("directory calls = %+v", f.dir.calls)
	}
}

func TestValidateRecipientsDirectoryFailureDegrades(t *testing.T) {
	f := newFixture(t)
	f.start(t)
	f.dir.err = errors.New("directory down")

	f.host.post("validate_recipients", map[string]any{
		"recipients": []string{"bob@example.com", "carol@example.com"},
	}, "h-2")

	reply := f.host.last()
	if !reply.Succeeded() {
		t.Fatalf("directory failure failed the reply: %+v", reply)
	}
	var results []recipientResult
	if err := json.Unmarshal(reply.Result, &results); err != nil {
		t.Fatalf("unmarshal results: %v", err)
	}
	for _, r := range results {
		valid := r.Recipient == "bob@example.com"
		if r.Valid != valid {
			t.Fatalf("recipient %q valid = %v", r.Recipient, r.Valid)
		}
	}
}

func TestValidateRecipientsGates(t *testing.T) {
	f := newFixture(t)
	f.host.post("start", map[string]any{"signer": "mallory@example.com"}, "h-1")
	before := len(f.host.envelopes())

	// Invalid signer: silence.
	f.host.post("validate_recipients", map[string]any{
		"recipients": []string{"bob@example.com"},
	}, "h-2")
	// Empty list: silence.
	f.host.post("validate_recipients", map[string]any{"recipients": []string{}}, "h-3")

	if got := len(f.host.envelopes()); got != before {
		t.Fatalf("gated validate_recipients produced %d replies", got-before)
	}
	if len(f.dir.calls) != 0 {
		t.Fatalf("gated request reached the directory: %+v", f.dir.calls)
	}
}

func TestInstallReadGlass(t *testing.T) {
	f := newFixture(t)
	f.start(t)

	f.host.post("install_read_glass", map[string]any{
		"messages": []map[string]string{
			{"elem": "msg-1", "text": "cipher-1"},
			{"elem": "msg-2", "text": "cipher-2"},
		},
	}, "h-2")

	reply := f.host.last()
	if reply.Hash != "h-2" || !reply.Succeeded() {
		t.Fatalf("install reply = %+v", reply)
	}
	installs := f.renderer.Installs()
	if len(installs) != 2 {
		t.Fatalf("got %d installs, want 2", len(installs))
	}
	if installs[0].Kind != "read" || installs[0].Target != "msg-1" || installs[0].Source != "cipher-1" {
		t.Fatalf("first install = %+v", installs[0])
	}
}

func TestInstallReadGlassIdempotentPerTarget(t *testing.T) {
	f := newFixture(t)
	f.start(t)

	args := map[string]any{
		"messages": []map[string]string{{"elem": "msg-1", "text": "cipher"}},
	}
	f.host.post("install_read_glass", args, "h-2")
	f.host.post("install_read_glass", args, "h-3")

	if got := len(f.renderer.Installs()); got != 1 {
		t.Fatalf("repeat install rendered %d overlays, want 1", got)
	}
}

func TestInstallReadGlassDisabledIsSilent(t *testing.T) {
	f := newFixture(t)
	f.host.post("start", map[string]any{
		"signer":             "alice@example.com",
		"read_glass_enabled": false,
	}, "h-1")
	before := len(f.host.envelopes())

	f.host.post("install_read_glass", map[string]any{
		"messages": []map[string]string{{"elem": "msg-1", "text": "cipher"}},
	}, "h-2")

	if got := len(f.host.envelopes()); got != before {
		t.Fatalf("disabled install produced a reply")
	}
	if got := len(f.renderer.Installs()); got != 0 {
		t.Fatalf("disabled install rendered %d overlays", got)
	}
}

func TestInstallReadGlassRendererFailure(t *testing.T) {
	f := newFixture(t)
	f.start(t)
	f.renderer.FailWith(errors.New("page gone"))

	f.host.post("install_read_glass", map[string]any{
		"messages": []map[string]string{{"elem": "msg-1", "text": "cipher"}},
	}, "h-2")

	reply := f.host.last()
	if reply.Hash != "h-2" || reply.Succeeded() {
		t.Fatalf("renderer failure reply = %+v", reply)
	}
}

func TestInstallComposeGlass(t *testing.T) {
	f := newFixture(t)
	f.start(t)
	before := len(f.host.envelopes())

	f.host.post("install_compose_glass", map[string]any{
		"draft": map[string]any{
			"elem":    "compose-1",
			"to":      []string{"bob@example.com"},
			"subject": "hello",
			"body":    "plaintext",
		},
	}, "h-2")

	// Compose install never replies on the host channel.
	if got := len(f.host.envelopes()); got != before {
		t.Fatalf("compose install produced a reply")
	}
	installs := f.renderer.Installs()
	if len(installs) != 1 {
		t.Fatalf("got %d installs, want 1", len(installs))
	}
	in := installs[0]
	if in.Kind != "compose" || in.Target != "compose-1" || in.Token != "h-2" {
		t.Fatalf("compose install = %+v", in)
	}
	if in.Draft.Subject != "hello" || len(in.Draft.To) != 1 {
		t.Fatalf("compose draft = %+v", in.Draft)
	}
}

func TestInstallComposeGlassGates(t *testing.T) {
	f := newFixture(t)
	f.host.post("start", map[string]any{
		"signer":                "alice@example.com",
		"compose_glass_enabled": false,
	}, "h-1")

	f.host.post("install_compose_glass", map[string]any{
		"draft": map[string]any{"elem": "compose-1"},
	}, "h-2")
	// Missing target element is also silence, even when enabled.
	f.host.post("install_compose_glass", map[string]any{
		"draft": map[string]any{"elem": ""},
	}, "h-3")

	if got := len(f.renderer.Installs()); got != 0 {
		t.Fatalf("gated compose install rendered %d overlays", got)
	}
}

func TestForeignAndMalformedPayloadsAreDropped(t *testing.T) {
	f := newFixture(t)
	f.start(t)
	before := len(f.host.envelopes())

	payloads := [][]byte{
		[]byte(`not json`),
		[]byte(`{"api":"other_protocol","action":"start","hash":"x"}`),
		[]byte(`{"api":"e2ebind","source":"host","action":"no_such_action","hash":"x"}`),
	}
	for _, p := range payloads {
		if err := f.ch.Post(p); err != nil {
			t.Fatalf("post: %v", err)
		}
	}
	if got := len(f.host.envelopes()); got != before {
		t.Fatalf("dropped payloads produced %d replies", got-before)
	}
}

func TestStopResetsSession(t *testing.T) {
	f := newFixture(t)
	f.start(t)
	f.bridge.Stop()

	if f.bridge.Started() {
		t.Fatalf("bridge started after Stop")
	}
	before := len(f.host.envelopes())
	f.host.post("validate_signer", map[string]any{"signer": "alice@example.com"}, "h-9")
	if got := len(f.host.envelopes()); got != before {
		t.Fatalf("detached bridge replied")
	}

	// A fresh attach requires a fresh handshake.
	if err := f.bridge.Start(context.Background()); err != nil {
		t.Fatalf("restart: %v", err)
	}
	f.host.post("start", map[string]any{"signer": "alice@example.com"}, "h-10")
	if !f.host.last().Succeeded() {
		t.Fatalf("handshake after restart failed")
	}
}

func TestStartTwiceWithoutStop(t *testing.T) {
	f := newFixture(t)
	if err := f.bridge.Start(context.Background()); !errors.Is(err, ErrAlreadyAttached) {
		t.Fatalf("second Start = %v, want ErrAlreadyAttached", err)
	}
}
