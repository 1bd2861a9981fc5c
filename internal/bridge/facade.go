package bridge

import (
	"encoding/json"

	"github.com/glasswire/e2ebind/internal/glass"
	"github.com/glasswire/e2ebind/internal/observability"
	"github.com/glasswire/e2ebind/internal/protocol"
)

// CurrentMessage is the host's answer to a current-message request. A
// host reply with no usable result normalizes to the zero value.
type CurrentMessage struct {
	Elem string `json:"elem"`
	Text string `json:"text"`
}

type hasDraftResult struct {
	HasDraft bool `json:"has_draft"`
}

// RequestCurrentMessage asks the host for the message under focus. The
// callback always receives a value; a malformed or empty host result
// arrives as the zero CurrentMessage.
func (b *Bridge) RequestCurrentMessage(cb func(CurrentMessage)) error {
	return b.send(protocol.ActionGetCurrentMessage, nil, func(env protocol.Envelope) {
		var msg CurrentMessage
		if env.Succeeded() && len(env.Result) > 0 {
			_ = json.Unmarshal(env.Result, &msg)
		}
		if cb != nil {
			cb(msg)
		}
	})
}

// RequestDraft asks the host for the active draft. The raw result is
// handed to the callback untouched because draft shapes vary by host;
// ok reports whether the host marked the reply successful.
func (b *Bridge) RequestDraft(cb func(result json.RawMessage, ok bool)) error {
	return b.send(protocol.ActionGetActiveDraft, nil, func(env protocol.Envelope) {
		if cb != nil {
			cb(env.Result, env.Succeeded())
		}
	})
}

// RequestHasDraft asks whether a compose draft is open. Anything other
// than an affirmative, well-formed reply reads as no draft.
func (b *Bridge) RequestHasDraft(cb func(bool)) error {
	return b.send(protocol.ActionHasDraft, nil, func(env protocol.Envelope) {
		var res hasDraftResult
		if env.Succeeded() && len(env.Result) > 0 {
			_ = json.Unmarshal(env.Result, &res)
		}
		if cb != nil {
			cb(res.HasDraft)
		}
	})
}

// PushDraft writes content back into the host compose window. Address
// lists are never sent as null; absent lists go out empty. When the host
// acknowledges the draft, the send control is activated so the host UI
// can submit it.
func (b *Bridge) PushDraft(draft glass.DraftContent) error {
	if draft.To == nil {
		draft.To = []string{}
	}
	if draft.CC == nil {
		draft.CC = []string{}
	}
	if draft.BCC == nil {
		draft.BCC = []string{}
	}
	return b.send(protocol.ActionSetActiveDraft, draft, func(env protocol.Envelope) {
		if !env.Succeeded() {
			b.logger.Warn().Msg("host rejected pushed draft")
			return
		}
		if b.sendControl != nil {
			b.sendControl.ActivateSend()
		}
	})
}

// send registers the callback, then posts the request carrying the
// fresh correlation token. Registration happens first so a reply on a
// same-goroutine loopback channel still finds its slot.
func (b *Bridge) send(action protocol.Action, args any, callback func(protocol.Envelope)) error {
	token := b.pending.Add(action, callback)
	b.publishPendingStats()
	observability.RecordOutboundRequest(b.id, string(action))
	payload, err := protocol.EncodeRequest(action, args, token)
	if err != nil {
		b.pending.Get(token, action)
		b.publishPendingStats()
		return err
	}
	if err := b.channel.Post(payload); err != nil {
		b.pending.Get(token, action)
		b.publishPendingStats()
		return err
	}
	return nil
}
