package adapter

import (
	"time"

	"github.com/redbco/redb-storage/pkg/dbcapabilities"
	"github.com/redbco/redb-storage/pkg/logger"
)

// ConnectionConfig contains the configuration for one backend connection.
// This is a unified configuration that works across all database types;
// each driver reads the fields that apply to it.
type ConnectionConfig struct {
	// Database type, e.g. "postgres", "sqlite", "mongodb", "firestore".
	ConnectionType string `json:"connectionType"`

	// Connection URL or DSN (relational, mongodb).
	ConnectionString string `json:"connectionString,omitempty"`
	DatabaseName     string `json:"databaseName,omitempty"`

	// Relational specific
	IDColumn     string `json:"idColumn,omitempty"`
	MaxOpenConns int    `json:"maxOpenConns,omitempty"`

	// Firestore specific
	ProjectID       string `json:"projectId,omitempty"`
	DatabaseID      string `json:"databaseId,omitempty"`
	CredentialsFile string `json:"credentialsFile,omitempty"`
	CredentialsJSON string `json:"credentialsJson,omitempty"`
	EmulatorHost    string `json:"emulatorHost,omitempty"`

	ConnectTimeout time.Duration `json:"connectTimeout,omitempty"`

	Logger *logger.Logger `json:"-"`
}

// DatabaseType resolves ConnectionType to its canonical form.
func (c ConnectionConfig) DatabaseType() (dbcapabilities.DatabaseType, bool) {
	return dbcapabilities.ParseID(c.ConnectionType)
}

// GetIDColumn returns the configured identifier column, defaulting to "id".
func (c ConnectionConfig) GetIDColumn() string {
	if c.IDColumn == "" {
		return IDField
	}
	return c.IDColumn
}

// GetConnectTimeout returns the connect timeout, defaulting to 10s.
func (c ConnectionConfig) GetConnectTimeout() time.Duration {
	if c.ConnectTimeout <= 0 {
		return 10 * time.Second
	}
	return c.ConnectTimeout
}

// Address returns a printable host:port for error reporting. Secrets are
// never included.
func (c ConnectionConfig) Address() string {
	if c.ConnectionString != "" {
		if details, err := dbcapabilities.ParseConnectionString(c.ConnectionString); err == nil {
			return details.Address()
		}
	}
	if c.ProjectID != "" {
		return c.ProjectID
	}
	return ""
}
