package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

const (
	// ProtocolTag marks traffic belonging to this protocol on the shared
	// channel. Anything else on the channel is foreign and ignored.
	ProtocolTag = "e2ebind"

	// BridgeOriginTag is the source tag the bridge stamps on everything it
	// sends. The channel is broadcast, so the bridge sees its own messages
	// echoed back; the tag is how it tells them apart from host traffic.
	BridgeOriginTag = "E2E"
)

var (
	ErrBadPayload  = errors.New("protocol: unparseable envelope")
	ErrNotProtocol = errors.New("protocol: foreign protocol tag")
	ErrSelfOrigin  = errors.New("protocol: self-originated envelope")
)

// Envelope is the wire shape shared by requests and responses. Hash is the
// correlation token matching a reply to its originating request. Requests
// carry Args; responses carry Result and Success.
type Envelope struct {
	API     string          `json:"api"`
	Source  string          `json:"source"`
	Action  string          `json:"action"`
	Args    json.RawMessage `json:"args,omitempty"`
	Hash    string          `json:"hash"`
	Result  json.RawMessage `json:"result,omitempty"`
	Success *bool           `json:"success,omitempty"`
}

// Succeeded reports whether a response envelope carries success=true.
func (e Envelope) Succeeded() bool {
	return e.Success != nil && *e.Success
}

// EncodeRequest builds the wire form of an outbound request. A nil args
// value omits the args field entirely.
func EncodeRequest(action Action, args any, token string) ([]byte, error) {
	env := Envelope{
		API:    ProtocolTag,
		Source: BridgeOriginTag,
		Action: string(action),
		Hash:   token,
	}
	if args != nil {
		raw, err := json.Marshal(args)
		if err != nil {
			return nil, fmt.Errorf("protocol: marshal args: %w", err)
		}
		env.Args = raw
	}
	return json.Marshal(env)
}

// EncodeResponse builds the wire form of a reply to original, copying its
// action name and correlation token unchanged. A nil result encodes as an
// absent (null) result.
func EncodeResponse(result any, success bool, original Envelope) ([]byte, error) {
	env := Envelope{
		API:     ProtocolTag,
		Source:  BridgeOriginTag,
		Action:  original.Action,
		Hash:    original.Hash,
		Success: &success,
	}
	if result != nil {
		raw, err := json.Marshal(result)
		if err != nil {
			return nil, fmt.Errorf("protocol: marshal result: %w", err)
		}
		env.Result = raw
	}
	return json.Marshal(env)
}

// Decode parses one raw channel payload. It rejects unparseable JSON,
// traffic tagged for a different protocol, and envelopes whose source tag
// equals selfTag (broadcast echoes of this side's own sends). Callers drop
// rejected payloads without surfacing the error.
func Decode(raw []byte, selfTag string) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	if env.API != ProtocolTag {
		return Envelope{}, ErrNotProtocol
	}
	if env.Source == selfTag {
		return Envelope{}, ErrSelfOrigin
	}
	return env, nil
}
