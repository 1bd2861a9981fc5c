package bridge

import (
	"encoding/json"
	"strings"

	"github.com/glasswire/e2ebind/internal/glass"
	"github.com/glasswire/e2ebind/internal/keyring"
	"github.com/glasswire/e2ebind/internal/observability"
	"github.com/glasswire/e2ebind/internal/protocol"
)

// Dispatch outcomes for metrics.
const (
	outcomeOK       = "ok"
	outcomeFailed   = "failed"
	outcomeIgnored  = "ignored"
	outcomeRejected = "rejected"
)

type validResult struct {
	Valid bool `json:"valid"`
}

type recipientResult struct {
	Recipient string `json:"recipient"`
	Valid     bool   `json:"valid"`
}

type readGlassArgs struct {
	Messages []readGlassTarget `json:"messages"`
}

type readGlassTarget struct {
	Elem string `json:"elem"`
	Text string `json:"text"`
}

type composeGlassArgs struct {
	Draft struct {
		Elem string `json:"elem"`
		glass.DraftContent
	} `json:"draft"`
}

// dispatch routes one classified host request. The started gate is
// checked once, here; branch preconditions that fail produce either an
// explicit failure reply or no reply at all, exactly as each branch
// documents — the host relies on that asymmetry and applies its own
// timeout policy to the silent cases.
func (b *Bridge) dispatch(action protocol.Action, env protocol.Envelope) {
	if action != protocol.ActionStart && !b.session.Started() {
		b.count(action, outcomeIgnored)
		b.logger.Debug().Str("action", string(action)).Msg("ignored before start")
		return
	}

	switch action {
	case protocol.ActionStart:
		b.handleStart(env)
	case protocol.ActionSetSigner:
		b.handleSetSigner(env)
	case protocol.ActionValidateSigner:
		b.handleValidateSigner(env)
	case protocol.ActionValidateRecipients:
		b.handleValidateRecipients(env)
	case protocol.ActionInstallReadGlass:
		b.handleInstallReadGlass(env)
	case protocol.ActionInstallComposeGlass:
		b.handleInstallComposeGlass(env)
	}
}

// handleStart performs the session handshake. The transition happens
// before signer validation, so a second START racing the first sees
// started and takes the idempotent no-op path: success=false, null
// result, configuration untouched.
func (b *Bridge) handleStart(env protocol.Envelope) {
	args := decodeArgs(env)
	cfg := SessionConfig{
		Signer:              argString(args, "signer"),
		Version:             argString(args, "version"),
		ReadGlassEnabled:    argBool(args, "read_glass_enabled"),
		ComposeGlassEnabled: argBool(args, "compose_glass_enabled"),
	}
	if !b.session.Begin(cfg) {
		b.count(protocol.ActionStart, outcomeRejected)
		b.reply(env, nil, false)
		return
	}

	valid, err := b.validateSigner(cfg.Signer)
	if err != nil {
		b.count(protocol.ActionStart, outcomeFailed)
		b.logger.Warn().Err(err).Msg("signer validation failed during start")
		b.reply(env, nil, false)
		return
	}
	b.session.SetSignerValid(valid)
	b.count(protocol.ActionStart, outcomeOK)
	b.logger.Info().Str("signer", cfg.Signer).Bool("valid", valid).Msg("session started")
	b.reply(env, validResult{Valid: valid}, true)
}

func (b *Bridge) handleSetSigner(env protocol.Envelope) {
	args := decodeArgs(env)
	signer := argString(args, "signer")
	if strings.TrimSpace(signer) == "" {
		b.count(protocol.ActionSetSigner, outcomeIgnored)
		return
	}
	b.session.SetSigner(signer)
	valid, err := b.validateSigner(signer)
	if err != nil {
		b.count(protocol.ActionSetSigner, outcomeFailed)
		b.reply(env, nil, false)
		return
	}
	b.session.SetSignerValid(valid)
	b.count(protocol.ActionSetSigner, outcomeOK)
	b.reply(env, validResult{Valid: valid}, true)
}

// handleValidateSigner checks a signer without mutating the session.
func (b *Bridge) handleValidateSigner(env protocol.Envelope) {
	args := decodeArgs(env)
	signer := argString(args, "signer")
	if strings.TrimSpace(signer) == "" {
		b.count(protocol.ActionValidateSigner, outcomeIgnored)
		return
	}
	valid, err := b.validateSigner(signer)
	if err != nil {
		b.count(protocol.ActionValidateSigner, outcomeFailed)
		b.reply(env, nil, false)
		return
	}
	b.count(protocol.ActionValidateSigner, outcomeOK)
	b.reply(env, validResult{Valid: valid}, true)
}

// handleValidateRecipients resolves every recipient locally first, then
// asks the directory for the misses. A directory failure degrades the
// answer (misses stay invalid) but never fails the response.
func (b *Bridge) handleValidateRecipients(env protocol.Envelope) {
	args := decodeArgs(env)
	recipients, ok := argStrings(args, "recipients")
	if !ok || len(recipients) == 0 || !b.session.Config().SignerValid {
		b.count(protocol.ActionValidateRecipients, outcomeIgnored)
		return
	}

	identities, err := b.keyring.ListIdentities(keyring.ScopePublic)
	if err != nil {
		b.count(protocol.ActionValidateRecipients, outcomeFailed)
		b.logger.Warn().Err(err).Msg("public keyring unavailable")
		b.reply(env, nil, false)
		return
	}
	known := make(map[string]struct{}, len(identities))
	for _, id := range identities {
		if email := id.Email(); email != "" {
			known[email] = struct{}{}
		}
	}

	valid := make(map[string]bool, len(recipients))
	var missing []string
	for _, recipient := range recipients {
		_, ok := known[keyring.ExtractEmail(recipient)]
		valid[recipient] = ok
		if !ok {
			missing = append(missing, recipient)
		}
	}

	if len(missing) > 0 {
		found, err := b.directory.FetchAndImport(b.context(), missing)
		if err != nil {
			b.logger.Warn().Err(err).Int("missing", len(missing)).Msg("remote recipient lookup failed")
		} else {
			for recipient, ok := range found {
				if ok {
					valid[recipient] = true
				}
			}
		}
	}

	results := make([]recipientResult, 0, len(recipients))
	for _, recipient := range recipients {
		results = append(results, recipientResult{Recipient: recipient, Valid: valid[recipient]})
	}
	b.count(protocol.ActionValidateRecipients, outcomeOK)
	b.reply(env, results, true)
}

// handleInstallReadGlass installs a read overlay per message descriptor.
// Failed preconditions produce no reply at all — unlike the validate
// branches' explicit failure replies. The host depends on that
// difference, so it stays.
func (b *Bridge) handleInstallReadGlass(env protocol.Envelope) {
	cfg := b.session.Config()
	var args readGlassArgs
	if len(env.Args) > 0 {
		_ = json.Unmarshal(env.Args, &args)
	}
	if !cfg.ReadGlassEnabled || len(args.Messages) == 0 || !cfg.SignerValid {
		b.count(protocol.ActionInstallReadGlass, outcomeIgnored)
		return
	}
	if b.readGlass == nil {
		b.count(protocol.ActionInstallReadGlass, outcomeFailed)
		b.reply(env, nil, false)
		return
	}

	for _, message := range args.Messages {
		if err := b.registry.InstallRead(b.readGlass, message.Elem, message.Text); err != nil {
			b.count(protocol.ActionInstallReadGlass, outcomeFailed)
			b.logger.Warn().Err(err).Str("target", message.Elem).Msg("read glass install failed")
			b.reply(env, nil, false)
			return
		}
	}
	b.count(protocol.ActionInstallReadGlass, outcomeOK)
	b.reply(env, nil, true)
}

// handleInstallComposeGlass hands off to the compose workflow. No reply
// travels back on the host channel in any case; the workflow announces
// itself through its own side effects.
func (b *Bridge) handleInstallComposeGlass(env protocol.Envelope) {
	cfg := b.session.Config()
	var args composeGlassArgs
	if len(env.Args) > 0 {
		_ = json.Unmarshal(env.Args, &args)
	}
	if !cfg.ComposeGlassEnabled || !cfg.SignerValid || strings.TrimSpace(args.Draft.Elem) == "" {
		b.count(protocol.ActionInstallComposeGlass, outcomeIgnored)
		return
	}
	if b.composeGlass == nil {
		b.count(protocol.ActionInstallComposeGlass, outcomeFailed)
		return
	}
	if err := b.registry.InstallCompose(b.composeGlass, args.Draft.Elem, args.Draft.DraftContent, env.Hash); err != nil {
		b.count(protocol.ActionInstallComposeGlass, outcomeFailed)
		b.logger.Warn().Err(err).Str("target", args.Draft.Elem).Msg("compose glass install failed")
		return
	}
	b.count(protocol.ActionInstallComposeGlass, outcomeOK)
}

// validateSigner checks the signer against the private half of the
// credential store.
func (b *Bridge) validateSigner(signer string) (bool, error) {
	identities, err := b.keyring.ListIdentities(keyring.ScopePrivate)
	if err != nil {
		return false, err
	}
	want := keyring.ExtractEmail(signer)
	if want == "" {
		return false, nil
	}
	for _, id := range identities {
		if id.Email() == want {
			return true, nil
		}
	}
	return false, nil
}

func (b *Bridge) count(action protocol.Action, outcome string) {
	observability.RecordDispatch(b.id, string(action), outcome)
}
