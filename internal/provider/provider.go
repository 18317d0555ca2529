// Package provider resolves the upstream-access mode for a user and
// materializes the decrypted credentials that mode needs. The resolved
// context lives only for the request that created it and is never
// persisted.
package provider

import (
	"fmt"

	"github.com/sessionrelay/sessionrelay/internal/vault"
	"github.com/sessionrelay/sessionrelay/pkg/models"
)

// Context is the closed set of provider variants. The marker method
// keeps the set closed so mode dispatch is an exhaustive type switch.
type Context interface {
	providerContext()
}

// Hosted uses the relay's own upstream credentials; no user secrets.
type Hosted struct{}

// BYOK carries the user's decrypted API key.
type BYOK struct {
	APIKey string
}

// Debug carries a raw upstream session key and organization UUID;
// endpoints in this mode defer fully to the upstream service.
type Debug struct {
	SessionKey string
	OrgUUID    string
}

func (Hosted) providerContext() {}
func (BYOK) providerContext()   {}
func (Debug) providerContext()  {}

// Stable misconfiguration reasons. These reach clients verbatim and
// never include secret material.
const (
	ReasonBYOKKeyMissing  = "BYOK mode requires an API key"
	ReasonBYOKKeyDecrypt  = "Failed to decrypt API key"
	ReasonDebugKeyMissing = "Debug mode requires a session key"
	ReasonDebugOrgMissing = "Debug mode requires an organization UUID"
	ReasonDebugKeyDecrypt = "Failed to decrypt session key"
)

// MisconfiguredError reports a selected mode whose required secret is
// missing or undecryptable. A configuration error, not a crash.
type MisconfiguredError struct {
	Reason string
}

func (e *MisconfiguredError) Error() string {
	return fmt.Sprintf("provider misconfigured: %s", e.Reason)
}

// Resolve dispatches on the user's stored mode and decrypts whatever
// that mode requires. Pure function of stored state; no side effects.
// For debug mode the session key is checked before the organization id.
func Resolve(user *models.User, v *vault.Vault) (Context, error) {
	switch user.Provider {
	case models.ModeBYOK:
		if user.APIKeyEnc == nil {
			return nil, &MisconfiguredError{Reason: ReasonBYOKKeyMissing}
		}
		apiKey, err := v.Decrypt(*user.APIKeyEnc)
		if err != nil {
			return nil, &MisconfiguredError{Reason: ReasonBYOKKeyDecrypt}
		}
		return BYOK{APIKey: apiKey}, nil

	case models.ModeDebug:
		if user.SessionKeyEnc == nil {
			return nil, &MisconfiguredError{Reason: ReasonDebugKeyMissing}
		}
		if user.OrgUUID == nil {
			return nil, &MisconfiguredError{Reason: ReasonDebugOrgMissing}
		}
		sessionKey, err := v.Decrypt(*user.SessionKeyEnc)
		if err != nil {
			return nil, &MisconfiguredError{Reason: ReasonDebugKeyDecrypt}
		}
		return Debug{SessionKey: sessionKey, OrgUUID: *user.OrgUUID}, nil

	default:
		// ModeHosted, plus anything unrecognized in stored state.
		return Hosted{}, nil
	}
}
