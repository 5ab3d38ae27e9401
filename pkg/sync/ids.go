// Copyright 2024-2026 Aiku AI

package sync

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// syntheticIDSuffix replaces the tail of UUIDs generated for entities this
// engine creates on Linear. An incoming Linear event whose entity ID ends in
// this marker originated here and must not be mirrored back.
const syntheticIDSuffix = "decafbad"

// MakeSyntheticID returns a fresh UUID whose final hex group carries the
// synthetic-origin marker.
func MakeSyntheticID() string {
	id := uuid.NewString()
	return id[:len(id)-len(syntheticIDSuffix)] + syntheticIDSuffix
}

// IsSyntheticID reports whether an entity ID was generated by this engine.
func IsSyntheticID(id string) bool {
	return strings.HasSuffix(id, syntheticIDSuffix)
}

// TicketRef renders the human-readable ticket identifier, e.g. "ENG-42".
func TicketRef(teamKey string, number int) string {
	return fmt.Sprintf("%s-%d", teamKey, number)
}
