// Package config loads the storage configuration: a YAML file overlaid with
// REDB_STORAGE_* environment variables, defaulted and validated once at
// startup.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/redbco/redb-storage/pkg/adapter"
	"github.com/redbco/redb-storage/pkg/dbcapabilities"
	"github.com/redbco/redb-storage/pkg/encryption"
	"github.com/redbco/redb-storage/pkg/keyring"
	"github.com/redbco/redb-storage/pkg/logger"
)

// EnvPrefix prefixes every environment override, e.g.
// REDB_STORAGE_BACKENDS_RELATIONAL_DSN sets backends.relational.dsn.
const EnvPrefix = "REDB_STORAGE_"

// Config is the complete storage configuration.
type Config struct {
	Mode        string            `yaml:"mode" mapstructure:"mode" json:"mode"`
	Backends    BackendsConfig    `yaml:"backends" mapstructure:"backends" json:"backends"`
	Encryption  EncryptionConfig  `yaml:"encryption" mapstructure:"encryption" json:"encryption"`
	Replication ReplicationConfig `yaml:"replication" mapstructure:"replication" json:"replication"`
	Logging     LoggingConfig     `yaml:"logging" mapstructure:"logging" json:"logging"`
}

type BackendsConfig struct {
	Relational RelationalConfig `yaml:"relational" mapstructure:"relational" json:"relational"`
	MongoDB    MongoDBConfig    `yaml:"mongodb" mapstructure:"mongodb" json:"mongodb"`
	Firestore  FirestoreConfig  `yaml:"firestore" mapstructure:"firestore" json:"firestore"`
}

type RelationalConfig struct {
	// Driver is "postgres" or "sqlite".
	Driver       string `yaml:"driver" mapstructure:"driver" json:"driver"`
	DSN          string `yaml:"dsn" mapstructure:"dsn" json:"-"`
	IDColumn     string `yaml:"idColumn" mapstructure:"idColumn" json:"idColumn"`
	MaxOpenConns int    `yaml:"maxOpenConns" mapstructure:"maxOpenConns" json:"maxOpenConns"`
}

type MongoDBConfig struct {
	URI            string        `yaml:"uri" mapstructure:"uri" json:"-"`
	Database       string        `yaml:"database" mapstructure:"database" json:"database"`
	ConnectTimeout time.Duration `yaml:"connectTimeout" mapstructure:"connectTimeout" json:"connectTimeout"`
}

type FirestoreConfig struct {
	ProjectID       string `yaml:"projectId" mapstructure:"projectId" json:"projectId"`
	DatabaseID      string `yaml:"databaseId" mapstructure:"databaseId" json:"databaseId"`
	CredentialsFile string `yaml:"credentialsFile" mapstructure:"credentialsFile" json:"credentialsFile"`
	EmulatorHost    string `yaml:"emulatorHost" mapstructure:"emulatorHost" json:"emulatorHost"`
}

type EncryptionConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled" json:"enabled"`
	// Key is the secret the field key is derived from. When empty the
	// secret is read from the keyring.
	Key     string        `yaml:"key" mapstructure:"key" json:"-"`
	Keyring KeyringConfig `yaml:"keyring" mapstructure:"keyring" json:"keyring"`
	// Fields lists encrypted fields per collection; "*" applies to all.
	Fields map[string][]string `yaml:"fields" mapstructure:"fields" json:"fields"`
	// DecryptFailure is "open" or "closed".
	DecryptFailure string `yaml:"decryptFailure" mapstructure:"decryptFailure" json:"decryptFailure"`
}

type KeyringConfig struct {
	Backend        string `yaml:"backend" mapstructure:"backend" json:"backend"`
	Service        string `yaml:"service" mapstructure:"service" json:"service"`
	User           string `yaml:"user" mapstructure:"user" json:"user"`
	Path           string `yaml:"path" mapstructure:"path" json:"path"`
	MasterPassword string `yaml:"masterPassword" mapstructure:"masterPassword" json:"-"`
}

type ReplicationConfig struct {
	Workers       int           `yaml:"workers" mapstructure:"workers" json:"workers"`
	Timeout       time.Duration `yaml:"timeout" mapstructure:"timeout" json:"timeout"`
	ShutdownGrace time.Duration `yaml:"shutdownGrace" mapstructure:"shutdownGrace" json:"shutdownGrace"`
	// RingSize bounds the in-memory failure journal.
	RingSize int           `yaml:"ringSize" mapstructure:"ringSize" json:"ringSize"`
	Journal  JournalConfig `yaml:"journal" mapstructure:"journal" json:"journal"`
}

// JournalConfig enables the Redis stream failure journal when RedisAddr is
// set.
type JournalConfig struct {
	RedisAddr     string `yaml:"redisAddr" mapstructure:"redisAddr" json:"redisAddr"`
	RedisPassword string `yaml:"redisPassword" mapstructure:"redisPassword" json:"-"`
	RedisDB       int    `yaml:"redisDb" mapstructure:"redisDb" json:"redisDb"`
	Stream        string `yaml:"stream" mapstructure:"stream" json:"stream"`
	MaxLen        int64  `yaml:"maxLen" mapstructure:"maxLen" json:"maxLen"`
}

type LoggingConfig struct {
	Level string `yaml:"level" mapstructure:"level" json:"level"`
}

// Load reads path (optional), applies environment overrides and defaults
// and validates the result.
func Load(path string) (*Config, error) {
	var config Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}
	return finish(&config, os.Environ())
}

// Parse is Load for an in-memory document without environment overrides.
func Parse(data []byte) (*Config, error) {
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return finish(&config, nil)
}

func finish(config *Config, environ []string) (*Config, error) {
	if err := applyEnv(config, environ); err != nil {
		return nil, err
	}
	config.applyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// applyEnv overlays REDB_STORAGE_* variables. Keys map underscores to
// dots and match struct tags case-insensitively.
func applyEnv(config *Config, environ []string) error {
	v := viper.New()
	found := false
	for _, env := range environ {
		key, value, ok := strings.Cut(env, "=")
		if !ok || !strings.HasPrefix(key, EnvPrefix) {
			continue
		}
		prop := strings.ToLower(strings.ReplaceAll(strings.TrimPrefix(key, EnvPrefix), "_", "."))
		v.Set(prop, value)
		found = true
	}
	if !found {
		return nil
	}
	if err := v.Unmarshal(config); err != nil {
		return fmt.Errorf("failed to apply environment overrides: %w", err)
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Mode == "" {
		c.Mode = string(dbcapabilities.ModeRelational)
	}
	if c.Backends.Relational.Driver == "" {
		c.Backends.Relational.Driver = string(dbcapabilities.PostgreSQL)
	}
	if c.Backends.Relational.IDColumn == "" {
		c.Backends.Relational.IDColumn = adapter.IDField
	}
	if c.Backends.MongoDB.ConnectTimeout == 0 {
		c.Backends.MongoDB.ConnectTimeout = 10 * time.Second
	}
	if c.Encryption.DecryptFailure == "" {
		c.Encryption.DecryptFailure = encryption.FailOpen.String()
	}
	if c.Encryption.Keyring.Backend == "" {
		c.Encryption.Keyring.Backend = "auto"
	}
	if c.Encryption.Keyring.Service == "" {
		c.Encryption.Keyring.Service = keyring.DefaultService
	}
	if c.Encryption.Keyring.User == "" {
		c.Encryption.Keyring.User = keyring.DefaultUser
	}
	if c.Replication.Workers == 0 {
		c.Replication.Workers = 8
	}
	if c.Replication.Timeout == 0 {
		c.Replication.Timeout = 30 * time.Second
	}
	if c.Replication.ShutdownGrace == 0 {
		c.Replication.ShutdownGrace = 5 * time.Second
	}
	if c.Replication.RingSize == 0 {
		c.Replication.RingSize = 256
	}
	if c.Replication.Journal.Stream == "" {
		c.Replication.Journal.Stream = "redb-storage:replication-failures"
	}
	if c.Replication.Journal.MaxLen == 0 {
		c.Replication.Journal.MaxLen = 10000
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Validate reports every problem as a *adapter.ConfigurationError joined
// into one error.
func (c *Config) Validate() error {
	var errs []error
	add := func(dbType dbcapabilities.DatabaseType, field, reason string) {
		errs = append(errs, adapter.NewConfigurationError(dbType, field, reason))
	}

	mode, err := dbcapabilities.ParseMode(c.Mode)
	if err != nil {
		add("", "mode", err.Error())
		return errors.Join(errs...)
	}

	kinds := []dbcapabilities.BackendKind{mode.Primary()}
	if secondary, ok := mode.Secondary(); ok {
		kinds = append(kinds, secondary)
	}
	for _, kind := range kinds {
		switch kind {
		case dbcapabilities.KindRelational:
			r := c.Backends.Relational
			id, ok := dbcapabilities.ParseID(r.Driver)
			if !ok || dbcapabilities.MustGet(id).Kind != dbcapabilities.KindRelational {
				add("", "backends.relational.driver", fmt.Sprintf("unsupported driver %q", r.Driver))
			}
			if r.DSN == "" {
				add(id, "backends.relational.dsn", "is required")
			}
			if r.MaxOpenConns < 0 {
				add(id, "backends.relational.maxOpenConns", "must not be negative")
			}
		case dbcapabilities.KindMongoDB:
			m := c.Backends.MongoDB
			if m.URI == "" {
				add(dbcapabilities.MongoDB, "backends.mongodb.uri", "is required")
			}
			if m.Database == "" {
				if d, err := dbcapabilities.ParseConnectionString(m.URI); err != nil || d.DatabaseName == "" {
					add(dbcapabilities.MongoDB, "backends.mongodb.database", "is required when the URI has no database")
				}
			}
		case dbcapabilities.KindFirestore:
			if c.Backends.Firestore.ProjectID == "" {
				add(dbcapabilities.Firestore, "backends.firestore.projectId", "is required")
			}
		}
	}

	if c.Encryption.Enabled {
		if _, err := encryption.ParseDecryptFailurePolicy(c.Encryption.DecryptFailure); err != nil {
			add("", "encryption.decryptFailure", err.Error())
		}
		if len(c.Encryption.Fields) == 0 {
			add("", "encryption.fields", "at least one encrypted field is required when encryption is enabled")
		}
		switch c.Encryption.Keyring.Backend {
		case "auto", "system", "file":
		default:
			add("", "encryption.keyring.backend", fmt.Sprintf("unknown backend %q", c.Encryption.Keyring.Backend))
		}
	}

	if mode.IsHybrid() {
		r := c.Replication
		if r.Workers < 1 {
			add("", "replication.workers", "must be positive")
		}
		if r.Timeout < 0 || r.ShutdownGrace < 0 {
			add("", "replication.timeout", "durations must not be negative")
		}
		if r.RingSize < 1 {
			add("", "replication.ringSize", "must be positive")
		}
	}

	return errors.Join(errs...)
}

// ParsedMode returns the validated mode.
func (c *Config) ParsedMode() dbcapabilities.Mode {
	m, _ := dbcapabilities.ParseMode(c.Mode)
	return m
}

// ConnectionConfig returns the driver configuration for a backend kind.
func (c *Config) ConnectionConfig(kind dbcapabilities.BackendKind, log *logger.Logger) adapter.ConnectionConfig {
	switch kind {
	case dbcapabilities.KindMongoDB:
		m := c.Backends.MongoDB
		return adapter.ConnectionConfig{
			ConnectionType:   string(dbcapabilities.MongoDB),
			ConnectionString: m.URI,
			DatabaseName:     m.Database,
			ConnectTimeout:   m.ConnectTimeout,
			Logger:           log,
		}
	case dbcapabilities.KindFirestore:
		f := c.Backends.Firestore
		return adapter.ConnectionConfig{
			ConnectionType:  string(dbcapabilities.Firestore),
			ProjectID:       f.ProjectID,
			DatabaseID:      f.DatabaseID,
			CredentialsFile: f.CredentialsFile,
			EmulatorHost:    f.EmulatorHost,
			Logger:          log,
		}
	}
	r := c.Backends.Relational
	return adapter.ConnectionConfig{
		ConnectionType:   r.Driver,
		ConnectionString: r.DSN,
		IDColumn:         r.IDColumn,
		MaxOpenConns:     r.MaxOpenConns,
		Logger:           log,
	}
}

// EncryptionSecret returns the configured key, reading the keyring when no
// key is set inline.
func (c *Config) EncryptionSecret() (string, error) {
	if c.Encryption.Key != "" {
		return c.Encryption.Key, nil
	}
	return keyring.ResolveSecret(c)
}

// GetKeyringBackend implements configprovider.KeyringConfigProvider.
func (c *Config) GetKeyringBackend() string { return c.Encryption.Keyring.Backend }

// GetKeyringPath implements configprovider.KeyringConfigProvider.
func (c *Config) GetKeyringPath() string { return c.Encryption.Keyring.Path }

// GetKeyringMasterKey implements configprovider.KeyringConfigProvider.
func (c *Config) GetKeyringMasterKey() string { return c.Encryption.Keyring.MasterPassword }

// GetKeyringServiceName implements configprovider.KeyringConfigProvider.
func (c *Config) GetKeyringServiceName() string { return c.Encryption.Keyring.Service }

// GetKeyringUser implements configprovider.KeyringConfigProvider.
func (c *Config) GetKeyringUser() string { return c.Encryption.Keyring.User }
