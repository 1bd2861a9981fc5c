package protocol

import "strings"

// Action identifies one request kind on the wire.
type Action string

// Inbound request actions (host -> bridge).
const (
	ActionStart               Action = "start"
	ActionInstallReadGlass    Action = "install_read_glass"
	ActionInstallComposeGlass Action = "install_compose_glass"
	ActionSetSigner           Action = "set_signer"
	ActionValidateSigner      Action = "validate_signer"
	ActionValidateRecipients  Action = "validate_recipients"
)

// Outbound request actions (bridge -> host). Host replies carry the same
// action name, so seeing one of these inbound means "response".
const (
	ActionGetCurrentMessage Action = "get_current_message"
	ActionGetActiveDraft    Action = "get_active_draft"
	ActionHasDraft          Action = "has_draft"
	ActionSetActiveDraft    Action = "set_active_draft"
)

// Kind classifies an envelope by which action set its name belongs to.
type Kind int

const (
	KindUnknown Kind = iota
	KindRequest
	KindResponse
)

var inboundActions = map[Action]struct{}{
	ActionStart:               {},
	ActionInstallReadGlass:    {},
	ActionInstallComposeGlass: {},
	ActionSetSigner:           {},
	ActionValidateSigner:      {},
	ActionValidateRecipients:  {},
}

var outboundActions = map[Action]struct{}{
	ActionGetCurrentMessage: {},
	ActionGetActiveDraft:    {},
	ActionHasDraft:          {},
	ActionSetActiveDraft:    {},
}

// Classify matches the envelope's action name, case-insensitively, against
// the two disjoint action sets. Unknown names classify as KindUnknown and
// are dropped by the caller.
func Classify(env Envelope) (Action, Kind) {
	action := Action(strings.ToLower(strings.TrimSpace(env.Action)))
	if _, ok := inboundActions[action]; ok {
		return action, KindRequest
	}
	if _, ok := outboundActions[action]; ok {
		return action, KindResponse
	}
	return action, KindUnknown
}
