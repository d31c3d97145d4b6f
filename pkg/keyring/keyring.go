// Package keyring stores the secrets the storage layer needs at runtime,
// such as the field encryption key. The operating system keyring is used
// when it responds; headless hosts fall back to an encrypted JSON file.
package keyring

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/zalando/go-keyring"
	"golang.org/x/crypto/hkdf"

	"github.com/redbco/redb-storage/pkg/configprovider"
)

const (
	// DefaultService is the keyring service secrets are stored under.
	DefaultService = "redb-storage"
	// DefaultUser is the entry holding the field encryption key.
	DefaultUser = "encryption-key"

	checkService = "redb-storage-check"
	checkUser    = "check"
)

var (
	// ErrNotFound is returned when no entry exists for service and user.
	ErrNotFound = errors.New("keyring entry not found")
	// ErrNoMasterPassword is returned by file keyring operations when no
	// master password was configured.
	ErrNoMasterPassword = errors.New("file keyring requires a master password")
)

// Store is a secret store keyed by service and user.
type Store interface {
	Set(service, user, secret string) error
	Get(service, user string) (string, error)
	Delete(service, user string) error
}

// systemKeyring adapts the OS keyring to Store.
type systemKeyring struct{}

func (systemKeyring) Set(service, user, secret string) error {
	return keyring.Set(service, user, secret)
}

func (systemKeyring) Get(service, user string) (string, error) {
	s, err := keyring.Get(service, user)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", ErrNotFound
	}
	return s, err
}

func (systemKeyring) Delete(service, user string) error {
	err := keyring.Delete(service, user)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil
	}
	return err
}

// Options configures a Manager.
type Options struct {
	// Path of the fallback file keyring.
	Path string
	// MasterPassword encrypts the file keyring.
	MasterPassword string
	// DetectTimeout bounds the system keyring availability check.
	DetectTimeout time.Duration
	// FileOnly skips the system keyring.
	FileOnly bool
}

// KeyringManager provides a unified interface over the system and file
// keyrings.
type KeyringManager struct {
	store   Store
	useFile bool
}

// NewKeyringManager checks the system keyring and falls back to the file
// keyring when it fails or does not answer within DetectTimeout.
func NewKeyringManager(opts Options) *KeyringManager {
	if opts.Path == "" {
		opts.Path = GetDefaultKeyringPath()
	}
	if opts.MasterPassword == "" {
		opts.MasterPassword = GetMasterPasswordFromEnv()
	}
	if opts.DetectTimeout <= 0 {
		opts.DetectTimeout = 5 * time.Second
	}

	if !opts.FileOnly && systemKeyringAvailable(opts.DetectTimeout) {
		return &KeyringManager{store: systemKeyring{}}
	}
	return &KeyringManager{
		store:   NewFileKeyring(opts.Path, opts.MasterPassword),
		useFile: true,
	}
}

// systemKeyringAvailable reports whether a round trip through the system
// keyring succeeds in time. Some desktop keyrings block on a prompt.
func systemKeyringAvailable(timeout time.Duration) bool {
	done := make(chan error, 1)
	go func() {
		err := keyring.Set(checkService, checkUser, "ok")
		if err == nil {
			_ = keyring.Delete(checkService, checkUser)
		}
		done <- err
	}()

	select {
	case err := <-done:
		return err == nil
	case <-time.After(timeout):
		return false
	}
}

// UsesFile reports whether the file keyring is in use.
func (km *KeyringManager) UsesFile() bool { return km.useFile }

// Set stores a secret.
func (km *KeyringManager) Set(service, user, secret string) error {
	return km.store.Set(service, user, secret)
}

// Get retrieves a secret. Missing entries yield ErrNotFound.
func (km *KeyringManager) Get(service, user string) (string, error) {
	return km.store.Get(service, user)
}

// Delete removes a secret. Deleting a missing entry is not an error.
func (km *KeyringManager) Delete(service, user string) error {
	return km.store.Delete(service, user)
}

// FileKeyring implements Store in an AES-GCM encrypted JSON file.
type FileKeyring struct {
	mu          sync.Mutex
	keyringPath string
	masterKey   []byte
}

// KeyringEntry represents a stored keyring entry.
type KeyringEntry struct {
	Service string `json:"service"`
	User    string `json:"user"`
	Data    string `json:"data"` // encrypted secret
}

// NewFileKeyring creates a file keyring at keyringPath.
func NewFileKeyring(keyringPath, masterPassword string) *FileKeyring {
	fk := &FileKeyring{keyringPath: keyringPath}
	if masterPassword != "" {
		key := make([]byte, 32)
		r := hkdf.New(sha256.New, []byte(masterPassword), nil, []byte("redb-storage file keyring"))
		if _, err := io.ReadFull(r, key); err == nil {
			fk.masterKey = key
		}
	}
	return fk
}

func (fk *FileKeyring) gcm() (cipher.AEAD, error) {
	if fk.masterKey == nil {
		return nil, ErrNoMasterPassword
	}
	block, err := aes.NewCipher(fk.masterKey)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func (fk *FileKeyring) encrypt(plaintext string) (string, error) {
	gcm, err := fk.gcm()
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err = io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(gcm.Seal(nonce, nonce, []byte(plaintext), nil)), nil
}

func (fk *FileKeyring) decrypt(ciphertext string) (string, error) {
	gcm, err := fk.gcm()
	if err != nil {
		return "", err
	}
	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", err
	}
	if len(data) < gcm.NonceSize() {
		return "", fmt.Errorf("ciphertext too short")
	}
	nonce, sealed := data[:gcm.NonceSize()], data[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt keyring entry: %w", err)
	}
	return string(plaintext), nil
}

func (fk *FileKeyring) load() (map[string]KeyringEntry, error) {
	entries := make(map[string]KeyringEntry)
	data, err := os.ReadFile(fk.keyringPath)
	if errors.Is(err, os.ErrNotExist) {
		return entries, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse keyring file: %w", err)
	}
	return entries, nil
}

func (fk *FileKeyring) save(entries map[string]KeyringEntry) error {
	if err := os.MkdirAll(filepath.Dir(fk.keyringPath), 0700); err != nil {
		return err
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	return os.WriteFile(fk.keyringPath, data, 0600)
}

func entryKey(service, user string) string {
	return service + ":" + user
}

// Set stores an entry in the file keyring.
func (fk *FileKeyring) Set(service, user, secret string) error {
	fk.mu.Lock()
	defer fk.mu.Unlock()

	entries, err := fk.load()
	if err != nil {
		return err
	}
	data, err := fk.encrypt(secret)
	if err != nil {
		return err
	}
	entries[entryKey(service, user)] = KeyringEntry{Service: service, User: user, Data: data}
	return fk.save(entries)
}

// Get retrieves an entry from the file keyring.
func (fk *FileKeyring) Get(service, user string) (string, error) {
	fk.mu.Lock()
	defer fk.mu.Unlock()

	entries, err := fk.load()
	if err != nil {
		return "", err
	}
	entry, ok := entries[entryKey(service, user)]
	if !ok {
		return "", ErrNotFound
	}
	return fk.decrypt(entry.Data)
}

// Delete removes an entry from the file keyring.
func (fk *FileKeyring) Delete(service, user string) error {
	fk.mu.Lock()
	defer fk.mu.Unlock()

	entries, err := fk.load()
	if err != nil {
		return err
	}
	if _, ok := entries[entryKey(service, user)]; !ok {
		return nil
	}
	delete(entries, entryKey(service, user))
	return fk.save(entries)
}

// GetMasterPasswordFromEnv reads REDB_STORAGE_KEYRING_PASSWORD.
func GetMasterPasswordFromEnv() string {
	return os.Getenv("REDB_STORAGE_KEYRING_PASSWORD")
}

// GetDefaultKeyringPath returns REDB_STORAGE_KEYRING_PATH or a path under
// the user's data directory.
func GetDefaultKeyringPath() string {
	if path := os.Getenv("REDB_STORAGE_KEYRING_PATH"); path != "" {
		return path
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "redb-storage-keyring.json")
	}
	return filepath.Join(homeDir, ".local", "share", "redb-storage", "keyring.json")
}

// NewKeyringManagerFromProvider builds a manager from configuration.
// Backend "file" skips the system keyring, "system" never falls back.
func NewKeyringManagerFromProvider(p configprovider.KeyringConfigProvider) *KeyringManager {
	opts := Options{
		Path:           p.GetKeyringPath(),
		MasterPassword: p.GetKeyringMasterKey(),
	}
	switch p.GetKeyringBackend() {
	case "file":
		opts.FileOnly = true
	case "system":
		return &KeyringManager{store: systemKeyring{}}
	}
	return NewKeyringManager(opts)
}

// ResolveSecret reads the configured encryption key entry.
func ResolveSecret(p configprovider.KeyringConfigProvider) (string, error) {
	service, user := p.GetKeyringServiceName(), p.GetKeyringUser()
	if service == "" {
		service = DefaultService
	}
	if user == "" {
		user = DefaultUser
	}
	secret, err := NewKeyringManagerFromProvider(p).Get(service, user)
	if err != nil {
		return "", fmt.Errorf("failed to read %s/%s from keyring: %w", service, user, err)
	}
	return secret, nil
}
