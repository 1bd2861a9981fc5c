package bridge

import (
	"encoding/json"
	"strconv"

	"github.com/glasswire/e2ebind/internal/protocol"
)

// The host's argument objects are loosely typed; fields are coerced
// rather than strictly decoded, mirroring how the host itself treats
// them.

func decodeArgs(env protocol.Envelope) map[string]any {
	if len(env.Args) == 0 {
		return map[string]any{}
	}
	var args map[string]any
	if err := json.Unmarshal(env.Args, &args); err != nil || args == nil {
		return map[string]any{}
	}
	return args
}

func argString(args map[string]any, key string) string {
	switch v := args[key].(type) {
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}

// argBool applies truthiness coercion: absent, null, false, 0, and ""
// all read as false.
func argBool(args map[string]any, key string) bool {
	switch v := args[key].(type) {
	case bool:
		return v
	case string:
		return v != ""
	case float64:
		return v != 0
	default:
		return false
	}
}

func argStrings(args map[string]any, key string) ([]string, bool) {
	raw, ok := args[key].([]any)
	if !ok {
		return nil, false
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		s, ok := item.(string)
		if !ok {
			return nil, false
		}
		out = append(out, s)
	}
	return out, true
}
