package dbcapabilities

import (
	"fmt"
	"strings"
)

// Mode selects which backends a process talks to. It is read once at
// startup; changing it requires a restart.
type Mode string

const (
	ModeRelational                Mode = "relational"
	ModeFirestore                 Mode = "firestore"
	ModeMongoDB                   Mode = "mongodb"
	ModeHybridRelationalFirestore Mode = "hybrid-relational-firestore"
	ModeHybridRelationalMongoDB   Mode = "hybrid-relational-mongodb"
)

var modeAliases = map[string]Mode{
	"relational":                  ModeRelational,
	"firestore":                   ModeFirestore,
	"document-a":                  ModeFirestore,
	"mongodb":                     ModeMongoDB,
	"mongo":                       ModeMongoDB,
	"document-b":                  ModeMongoDB,
	"hybrid-relational-firestore": ModeHybridRelationalFirestore,
	"hybrid-relational-a":         ModeHybridRelationalFirestore,
	"hybrid-relational-mongodb":   ModeHybridRelationalMongoDB,
	"hybrid-relational-b":         ModeHybridRelationalMongoDB,
}

// Modes lists the canonical modes.
func Modes() []Mode {
	return []Mode{
		ModeRelational,
		ModeFirestore,
		ModeMongoDB,
		ModeHybridRelationalFirestore,
		ModeHybridRelationalMongoDB,
	}
}

// ParseMode resolves a mode name or alias.
func ParseMode(s string) (Mode, error) {
	m, ok := modeAliases[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return "", fmt.Errorf("unknown mode %q (expected one of %v)", s, Modes())
	}
	return m, nil
}

// IsHybrid reports whether the mode runs a primary and a secondary store.
func (m Mode) IsHybrid() bool {
	return m == ModeHybridRelationalFirestore || m == ModeHybridRelationalMongoDB
}

// Primary is the backend kind that is authoritative for writes and reads.
func (m Mode) Primary() BackendKind {
	switch m {
	case ModeFirestore:
		return KindFirestore
	case ModeMongoDB:
		return KindMongoDB
	}
	return KindRelational
}

// Secondary is the read-fallback backend of a hybrid mode.
func (m Mode) Secondary() (BackendKind, bool) {
	switch m {
	case ModeHybridRelationalFirestore:
		return KindFirestore, true
	case ModeHybridRelationalMongoDB:
		return KindMongoDB, true
	}
	return "", false
}
