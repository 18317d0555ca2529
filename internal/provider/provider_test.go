package provider_test

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/sessionrelay/sessionrelay/internal/provider"
	"github.com/sessionrelay/sessionrelay/internal/vault"
	"github.com/sessionrelay/sessionrelay/pkg/models"
)

func newVault(t *testing.T) *vault.Vault {
	t.Helper()
	v, err := vault.New("provider-test-secret")
	if err != nil {
		t.Fatalf("vault.New() error = %v", err)
	}
	return v
}

func newUser(mode models.ProviderMode) *models.User {
	return &models.User{
		ID:        uuid.New().String(),
		Provider:  mode,
		CreatedAt: time.Now().UTC(),
	}
}

func encrypt(t *testing.T, v *vault.Vault, plaintext string) *string {
	t.Helper()
	ct, err := v.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	return &ct
}

func misconfiguredReason(t *testing.T, err error) string {
	t.Helper()
	mc, ok := err.(*provider.MisconfiguredError)
	if !ok {
		t.Fatalf("error = %v (%T), want *MisconfiguredError", err, err)
	}
	return mc.Reason
}

func TestResolve_Hosted(t *testing.T) {
	v := newVault(t)

	pc, err := provider.Resolve(newUser(models.ModeHosted), v)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if _, ok := pc.(provider.Hosted); !ok {
		t.Errorf("Resolve() = %T, want Hosted", pc)
	}
}

func TestResolve_UnknownModeBehavesAsHosted(t *testing.T) {
	v := newVault(t)
	user := newUser(models.ProviderMode("experimental"))

	pc, err := provider.Resolve(user, v)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if _, ok := pc.(provider.Hosted); !ok {
		t.Errorf("Resolve() = %T, want Hosted for unknown mode", pc)
	}
}

func TestResolve_BYOK(t *testing.T) {
	v := newVault(t)
	user := newUser(models.ModeBYOK)
	user.APIKeyEnc = encrypt(t, v, "sk-user-key")

	pc, err := provider.Resolve(user, v)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	byok, ok := pc.(provider.BYOK)
	if !ok {
		t.Fatalf("Resolve() = %T, want BYOK", pc)
	}
	if byok.APIKey != "sk-user-key" {
		t.Errorf("APIKey = %q, want decrypted key", byok.APIKey)
	}
}

func TestResolve_BYOK_MissingKey(t *testing.T) {
	v := newVault(t)

	_, err := provider.Resolve(newUser(models.ModeBYOK), v)
	if got := misconfiguredReason(t, err); got != provider.ReasonBYOKKeyMissing {
		t.Errorf("reason = %q, want %q", got, provider.ReasonBYOKKeyMissing)
	}
}

func TestResolve_BYOK_DecryptFailure(t *testing.T) {
	v := newVault(t)
	user := newUser(models.ModeBYOK)
	garbage := "not-a-ciphertext"
	user.APIKeyEnc = &garbage

	_, err := provider.Resolve(user, v)
	if got := misconfiguredReason(t, err); got != provider.ReasonBYOKKeyDecrypt {
		t.Errorf("reason = %q, want %q", got, provider.ReasonBYOKKeyDecrypt)
	}
}

func TestResolve_Debug(t *testing.T) {
	v := newVault(t)
	user := newUser(models.ModeDebug)
	user.SessionKeyEnc = encrypt(t, v, "raw-session-key")
	org := "org-1234"
	user.OrgUUID = &org

	pc, err := provider.Resolve(user, v)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	dbg, ok := pc.(provider.Debug)
	if !ok {
		t.Fatalf("Resolve() = %T, want Debug", pc)
	}
	if dbg.SessionKey != "raw-session-key" || dbg.OrgUUID != "org-1234" {
		t.Errorf("Debug = %+v, want decrypted session key and org uuid", dbg)
	}
}

// Missing fields are reported one at a time, session key first.
func TestResolve_Debug_MissingFieldsOrdered(t *testing.T) {
	v := newVault(t)

	// Both missing: session key named first.
	_, err := provider.Resolve(newUser(models.ModeDebug), v)
	if got := misconfiguredReason(t, err); got != provider.ReasonDebugKeyMissing {
		t.Errorf("reason = %q, want %q", got, provider.ReasonDebugKeyMissing)
	}

	// Only org missing.
	user := newUser(models.ModeDebug)
	user.SessionKeyEnc = encrypt(t, v, "raw-session-key")
	_, err = provider.Resolve(user, v)
	if got := misconfiguredReason(t, err); got != provider.ReasonDebugOrgMissing {
		t.Errorf("reason = %q, want %q", got, provider.ReasonDebugOrgMissing)
	}
}

func TestResolve_Debug_DecryptFailure(t *testing.T) {
	v := newVault(t)
	user := newUser(models.ModeDebug)
	garbage := "@@broken@@"
	user.SessionKeyEnc = &garbage
	org := "org-1234"
	user.OrgUUID = &org

	_, err := provider.Resolve(user, v)
	if got := misconfiguredReason(t, err); got != provider.ReasonDebugKeyDecrypt {
		t.Errorf("reason = %q, want %q", got, provider.ReasonDebugKeyDecrypt)
	}
}
