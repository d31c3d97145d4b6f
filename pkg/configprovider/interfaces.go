// Package configprovider defines interfaces for configuration providers
// to avoid import cycles between the config package and its consumers.
package configprovider

// KeyringConfigProvider provides keyring configuration settings
type KeyringConfigProvider interface {
	// GetKeyringBackend returns the keyring backend type ("auto", "system", "file")
	GetKeyringBackend() string

	// GetKeyringPath returns the keyring file path (for file-based keyring)
	GetKeyringPath() string

	// GetKeyringMasterKey returns the master key for keyring encryption
	GetKeyringMasterKey() string

	// GetKeyringServiceName returns the service name of the encryption key entry
	GetKeyringServiceName() string

	// GetKeyringUser returns the user name of the encryption key entry
	GetKeyringUser() string
}
