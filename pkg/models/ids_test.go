package models_test

import (
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/sessionrelay/sessionrelay/pkg/models"
)

func TestSessionIDRoundTrip(t *testing.T) {
	internal := uuid.New().String()
	external := models.ExternalSessionID(internal)

	if !strings.HasPrefix(external, "sess_") {
		t.Fatalf("ExternalSessionID() = %q, want sess_ prefix", external)
	}
	if strings.Contains(external, internal) {
		t.Errorf("external id %q leaks the internal uuid", external)
	}

	got, err := models.InternalSessionID(external)
	if err != nil {
		t.Fatalf("InternalSessionID() error = %v", err)
	}
	if got != internal {
		t.Errorf("InternalSessionID() = %q, want %q", got, internal)
	}
}

func TestEventIDRoundTrip(t *testing.T) {
	internal := uuid.New().String()
	got, err := models.InternalEventID(models.ExternalEventID(internal))
	if err != nil {
		t.Fatalf("InternalEventID() error = %v", err)
	}
	if got != internal {
		t.Errorf("round trip = %q, want %q", got, internal)
	}
}

func TestInternalSessionID_Invalid(t *testing.T) {
	cases := []string{
		"",
		"sess_",
		"sess_!!!not-base64!!!",
		"sess_dG9vc2hvcnQ", // valid base64, wrong byte length
		"evt_" + strings.TrimPrefix(models.ExternalEventID(uuid.New().String()), "evt_"),
		uuid.New().String(), // bare uuid, no prefix
	}
	for _, c := range cases {
		if _, err := models.InternalSessionID(c); err == nil {
			t.Errorf("InternalSessionID(%q) = nil error, want error", c)
		}
	}
}

func TestParseProviderMode(t *testing.T) {
	cases := map[string]models.ProviderMode{
		"hosted":  models.ModeHosted,
		"byok":    models.ModeBYOK,
		"debug":   models.ModeDebug,
		"":        models.ModeHosted,
		"unknown": models.ModeHosted,
	}
	for in, want := range cases {
		if got := models.ParseProviderMode(in); got != want {
			t.Errorf("ParseProviderMode(%q) = %q, want %q", in, got, want)
		}
	}
}
