package models

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// External ids are opaque but decode deterministically: a type prefix
// followed by the base64url encoding of the raw UUID bytes. The prefix
// makes ids self-describing in logs and bug reports; the encoding keeps
// them URL-safe without percent-escaping.

const (
	sessionIDPrefix = "sess_"
	eventIDPrefix   = "evt_"
	messageIDPrefix = "msg_"
)

// ExternalSessionID encodes an internal session UUID as an opaque id.
// An internal id that is not a UUID encodes as-is with the prefix; this
// only happens with hand-seeded fixtures.
func ExternalSessionID(internal string) string {
	return encodeID(sessionIDPrefix, internal)
}

// ExternalEventID encodes an internal event UUID as an opaque id.
func ExternalEventID(internal string) string {
	return encodeID(eventIDPrefix, internal)
}

// ExternalMessageID encodes a client-generated message UUID as an opaque id.
func ExternalMessageID(internal string) string {
	return encodeID(messageIDPrefix, internal)
}

// InternalSessionID decodes an external session id back to the internal UUID.
func InternalSessionID(external string) (string, error) {
	return decodeID(sessionIDPrefix, external)
}

// InternalEventID decodes an external event id back to the internal UUID.
func InternalEventID(external string) (string, error) {
	return decodeID(eventIDPrefix, external)
}

func encodeID(prefix, internal string) string {
	id, err := uuid.Parse(internal)
	if err != nil {
		return prefix + internal
	}
	return prefix + base64.RawURLEncoding.EncodeToString(id[:])
}

func decodeID(prefix, external string) (string, error) {
	raw, ok := strings.CutPrefix(external, prefix)
	if !ok {
		return "", fmt.Errorf("invalid id %q: missing %q prefix", external, prefix)
	}
	b, err := base64.RawURLEncoding.DecodeString(raw)
	if err != nil {
		return "", fmt.Errorf("invalid id %q: %w", external, err)
	}
	id, err := uuid.FromBytes(b)
	if err != nil {
		return "", fmt.Errorf("invalid id %q: %w", external, err)
	}
	return id.String(), nil
}
