package dbcapabilities

import "strings"

// DatabaseType is the canonical identifier of a database technology a
// driver can talk to.
type DatabaseType string

const (
	PostgreSQL DatabaseType = "postgres"
	SQLite     DatabaseType = "sqlite"
	Firestore  DatabaseType = "firestore"
	MongoDB    DatabaseType = "mongodb"
)

// BackendKind groups database types by the driver that serves them.
type BackendKind string

const (
	// KindRelational is served by the database/sql driver.
	KindRelational BackendKind = "relational"
	// KindFirestore is the document store with native push listeners.
	KindFirestore BackendKind = "firestore"
	// KindMongoDB is the document store reached over the wire protocol.
	KindMongoDB BackendKind = "mongodb"
)

// DataParadigm enumerates the primary data storage paradigms a database supports.
type DataParadigm string

const (
	ParadigmRelational DataParadigm = "relational" // Tables, schemas, SQL
	ParadigmDocument   DataParadigm = "document"   // Collections, documents
)

// Capability describes what a database supports in a way drivers and the
// façade can consume uniformly.
type Capability struct {
	// Human-friendly vendor or product name, e.g., "PostgreSQL".
	Name string `json:"name"`

	// Canonical ID (see DatabaseType constants), e.g., "postgres".
	ID DatabaseType `json:"id"`

	// Driver family serving this database.
	Kind BackendKind `json:"kind"`

	// Whether the backend can push change notifications to subscribers.
	SupportsPush   bool     `json:"supportsPush"`
	PushMechanisms []string `json:"pushMechanisms,omitempty"`

	// Whether statements can be sent to the backend verbatim.
	SupportsRawQuery bool `json:"supportsRawQuery"`

	// Whether LIKE patterns other than a literal prefix can be evaluated.
	SupportsPatternMatch bool `json:"supportsPatternMatch"`

	Paradigms []DataParadigm `json:"paradigms"`

	// Common aliases (URL schemes, driver names, env labels) that map to this database.
	Aliases []string `json:"aliases,omitempty"`

	DefaultPort int `json:"defaultPort,omitempty"`
}

// All is a registry of capabilities keyed by the canonical database type.
var All = map[DatabaseType]Capability{
	PostgreSQL: {
		Name:                 "PostgreSQL",
		ID:                   PostgreSQL,
		Kind:                 KindRelational,
		SupportsPush:         false,
		SupportsRawQuery:     true,
		SupportsPatternMatch: true,
		Paradigms:            []DataParadigm{ParadigmRelational},
		Aliases:              []string{"postgresql", "pgsql", "pgx"},
		DefaultPort:          5432,
	},
	SQLite: {
		Name:                 "SQLite",
		ID:                   SQLite,
		Kind:                 KindRelational,
		SupportsPush:         false,
		SupportsRawQuery:     true,
		SupportsPatternMatch: true,
		Paradigms:            []DataParadigm{ParadigmRelational},
		Aliases:              []string{"sqlite3", "file"},
	},
	Firestore: {
		Name:                 "Cloud Firestore",
		ID:                   Firestore,
		Kind:                 KindFirestore,
		SupportsPush:         true,
		PushMechanisms:       []string{"snapshot_listener"},
		SupportsRawQuery:     false,
		SupportsPatternMatch: false,
		Paradigms:            []DataParadigm{ParadigmDocument},
		Aliases:              []string{"document-a", "gcp-firestore"},
		DefaultPort:          443,
	},
	MongoDB: {
		Name:                 "MongoDB",
		ID:                   MongoDB,
		Kind:                 KindMongoDB,
		SupportsPush:         true,
		PushMechanisms:       []string{"change_stream"},
		SupportsRawQuery:     false,
		SupportsPatternMatch: true,
		Paradigms:            []DataParadigm{ParadigmDocument},
		Aliases:              []string{"mongo", "mongodb+srv", "document-b"},
		DefaultPort:          27017,
	},
}

// nameToID is a normalized lookup index from any known name/alias to the canonical DatabaseType.
var nameToID map[string]DatabaseType

func init() {
	nameToID = make(map[string]DatabaseType, len(All)*3)
	for id, c := range All {
		nameToID[strings.ToLower(string(id))] = id
		if c.Name != "" {
			nameToID[strings.ToLower(c.Name)] = id
		}
		for _, a := range c.Aliases {
			if a == "" {
				continue
			}
			nameToID[strings.ToLower(a)] = id
		}
	}
}

// ParseID resolves a canonical id, alias or product name to a DatabaseType.
// Returns false if unknown.
func ParseID(name string) (DatabaseType, bool) {
	n := strings.ToLower(strings.TrimSpace(name))
	if n == "" {
		return "", false
	}
	id, ok := nameToID[n]
	return id, ok
}

// Get returns capabilities for the given ID and a boolean indicating existence.
func Get(id DatabaseType) (Capability, bool) {
	c, ok := All[id]
	return c, ok
}

// MustGet returns capabilities for the given ID and panics if not found.
func MustGet(id DatabaseType) Capability {
	c, ok := Get(id)
	if !ok {
		panic("dbcapabilities: unknown database id: " + string(id))
	}
	return c
}

// SupportsPush reports whether the database can deliver change notifications.
func SupportsPush(id DatabaseType) bool {
	c, ok := Get(id)
	return ok && c.SupportsPush
}

// SupportsParadigm reports whether the database supports a given data paradigm.
func SupportsParadigm(id DatabaseType, p DataParadigm) bool {
	c, ok := Get(id)
	if !ok {
		return false
	}
	for _, dp := range c.Paradigms {
		if dp == p {
			return true
		}
	}
	return false
}
