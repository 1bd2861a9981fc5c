package bridge

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/glasswire/e2ebind/internal/channel"
	"github.com/glasswire/e2ebind/internal/directory"
	"github.com/glasswire/e2ebind/internal/glass"
	"github.com/glasswire/e2ebind/internal/keyring"
	"github.com/glasswire/e2ebind/internal/observability"
	"github.com/glasswire/e2ebind/internal/protocol"
)

var (
	ErrChannelRequired = errors.New("bridge: channel required")
	ErrKeyringRequired = errors.New("bridge: keyring required")
	ErrAlreadyAttached = errors.New("bridge: already attached to channel")
)

// SendControl drives the host compose UI's own send affordance. PushDraft
// activates it once the host acknowledges the pushed draft.
type SendControl interface {
	ActivateSend()
}

// Options wires the bridge to its collaborators. Channel and Keyring are
// required; the rest degrade gracefully when absent.
type Options struct {
	BridgeID     string
	Channel      channel.Channel
	Keyring      keyring.Store
	Directory    directory.Client
	ReadGlass    glass.ReadRenderer
	ComposeGlass glass.ComposeRenderer
	ControlBus   *glass.Bus
	SendControl  SendControl
	Logger       *zerolog.Logger
}

// Bridge mediates between the extension and the host page over a shared
// broadcast channel. All state is owned here; Stop discards it
// unconditionally.
type Bridge struct {
	id           string
	channel      channel.Channel
	keyring      keyring.Store
	directory    directory.Client
	readGlass    glass.ReadRenderer
	composeGlass glass.ComposeRenderer
	registry     *glass.Registry
	sendControl  SendControl
	pending      *PendingTable
	session      *Session
	logger       zerolog.Logger

	mu          sync.Mutex
	ctx         context.Context
	cancel      context.CancelFunc
	unsubscribe func()
}

func New(opts Options) (*Bridge, error) {
	if opts.Channel == nil {
		return nil, ErrChannelRequired
	}
	if opts.Keyring == nil {
		return nil, ErrKeyringRequired
	}
	id := strings.TrimSpace(opts.BridgeID)
	if id == "" {
		id = "bridge.local"
	}
	logger := log.Logger
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	dir := opts.Directory
	if dir == nil {
		dir = directory.Disabled{}
	}
	b := &Bridge{
		id:           id,
		channel:      opts.Channel,
		keyring:      opts.Keyring,
		directory:    dir,
		readGlass:    opts.ReadGlass,
		composeGlass: opts.ComposeGlass,
		registry:     glass.NewRegistry(),
		sendControl:  opts.SendControl,
		pending:      NewPendingTable(),
		session:      NewSession(),
		logger:       logger.With().Str("bridge", id).Logger(),
	}
	if opts.ControlBus != nil {
		b.registry.Bind(opts.ControlBus)
	}
	return b, nil
}

// Start attaches the bridge to the host channel. Nothing but START is
// processed until the host completes the handshake.
func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.unsubscribe != nil {
		return ErrAlreadyAttached
	}
	b.ctx, b.cancel = context.WithCancel(ctx)
	b.unsubscribe = b.channel.Subscribe(b.handleRaw)
	b.logger.Info().Msg("bridge attached")
	return nil
}

// Stop detaches the channel listener and discards the pending table and
// session state unconditionally, so a later Start plus host START
// handshake begins a clean session. Replies to requests sent before Stop
// are unanswerable afterward.
func (b *Bridge) Stop() {
	b.mu.Lock()
	unsubscribe := b.unsubscribe
	cancel := b.cancel
	b.unsubscribe = nil
	b.cancel = nil
	b.ctx = nil
	b.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	if cancel != nil {
		cancel()
	}
	b.pending.Reset()
	b.session.Reset()
	observability.SetPendingStats(b.id, 0, 0)
	b.logger.Info().Msg("bridge detached")
}

// Started reports whether the host has completed the START handshake.
func (b *Bridge) Started() bool {
	return b.session.Started()
}

// SessionConfig returns a snapshot of the current session configuration.
func (b *Bridge) SessionConfig() SessionConfig {
	return b.session.Config()
}

// PendingLive reports how many outbound requests still await a reply.
func (b *Bridge) PendingLive() int {
	return b.pending.Live()
}

// handleRaw is the single entry point for channel traffic. Anything that
// fails to decode or classify is dropped without a reply; the host is
// expected to apply its own timeout policy.
func (b *Bridge) handleRaw(raw []byte) {
	env, err := protocol.Decode(raw, protocol.BridgeOriginTag)
	if err != nil {
		observability.RecordInboundDrop(b.id, dropReason(err))
		b.logger.Debug().Err(err).Msg("dropped payload")
		return
	}
	action, kind := protocol.Classify(env)
	switch kind {
	case protocol.KindRequest:
		b.dispatch(action, env)
	case protocol.KindResponse:
		b.resolve(action, env)
	default:
		observability.RecordInboundDrop(b.id, "unknown_action")
		b.logger.Debug().Str("action", env.Action).Msg("dropped unknown action")
	}
}

// resolve matches a host reply to its pending request by correlation
// token. The callback runs outside any table lock, so it may issue new
// requests re-entrantly.
func (b *Bridge) resolve(action protocol.Action, env protocol.Envelope) {
	request, ok := b.pending.Get(env.Hash, action)
	b.publishPendingStats()
	if !ok {
		observability.RecordInboundDrop(b.id, "unmatched_response")
		b.logger.Debug().Str("action", string(action)).Str("hash", env.Hash).Msg("unmatched response")
		return
	}
	if request.Callback != nil {
		request.Callback(env)
	}
}

// reply answers a host request, copying its action name and correlation
// token unchanged.
func (b *Bridge) reply(original protocol.Envelope, result any, success bool) {
	payload, err := protocol.EncodeResponse(result, success, original)
	if err != nil {
		b.logger.Error().Err(err).Str("action", original.Action).Msg("encode response failed")
		return
	}
	if err := b.channel.Post(payload); err != nil {
		b.logger.Error().Err(err).Str("action", original.Action).Msg("post response failed")
	}
}

func (b *Bridge) publishPendingStats() {
	observability.SetPendingStats(b.id, b.pending.Live(), b.pending.OldestAge())
}

func (b *Bridge) context() context.Context {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ctx != nil {
		return b.ctx
	}
	return context.Background()
}

func dropReason(err error) string {
	switch {
	case errors.Is(err, protocol.ErrSelfOrigin):
		return "self_origin"
	case errors.Is(err, protocol.ErrNotProtocol):
		return "foreign_protocol"
	default:
		return "bad_payload"
	}
}
