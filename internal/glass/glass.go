// Package glass is the rendering boundary. The bridge core never touches
// the page; it hands install requests to a renderer and tracks the
// resulting handles so control-bus notifications can find them later.
package glass

// DraftContent is the composed-message payload handed to a compose
// overlay.
type DraftContent struct {
	To      []string `json:"to"`
	CC      []string `json:"cc"`
	BCC     []string `json:"bcc"`
	Subject string   `json:"subject"`
	Body    string   `json:"body"`
}

// Handle is one installed overlay. Dispose must be idempotent.
type Handle interface {
	Token() string
	Dispose()
}

// Resizable is implemented by handles that honor resize notifications.
type Resizable interface {
	Resize(height int)
}

// ReadRenderer installs a read-only overlay over located page content.
// Implementations live outside the bridge core.
type ReadRenderer interface {
	InstallReadOverlay(target, source string) (Handle, error)
}

// ComposeRenderer installs a compose overlay bound to a correlation token;
// the token is how a later removal notification finds the handle.
type ComposeRenderer interface {
	InstallComposeOverlay(target string, draft DraftContent, token string) (Handle, error)
}
