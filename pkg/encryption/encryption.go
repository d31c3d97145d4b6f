// Package encryption implements application level field encryption for
// records stored through any backend.
//
// Values are sealed with AES-256-GCM under a key derived from the configured
// secret and stored as "hex(iv):hex(ciphertext)". A fresh nonce is drawn for
// every call, so equal plaintexts produce different ciphertexts and equality
// filters on encrypted fields never match.
package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/crypto/hkdf"

	"github.com/redbco/redb-storage/pkg/logger"
)

const (
	keySize   = 32
	nonceSize = 12
	// hkdfInfo binds derived keys to this use.
	hkdfInfo = "redb-storage field encryption v1"
)

// Reasons reported to observers when a value cannot be decrypted.
const (
	ReasonMalformed = "malformed"
	ReasonEncoding  = "encoding"
	ReasonAuth      = "authentication"
)

// ErrDecrypt is matched by every DecryptError.
var ErrDecrypt = errors.New("decryption failed")

// DecryptError reports a value that could not be decrypted.
type DecryptError struct {
	Reason string
	Field  string
	Cause  error
}

func (e *DecryptError) Error() string {
	msg := "decrypt: " + e.Reason
	if e.Field != "" {
		msg += " (field " + e.Field + ")"
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *DecryptError) Unwrap() error { return e.Cause }

func (e *DecryptError) Is(target error) bool { return target == ErrDecrypt }

// DecryptFailurePolicy decides what record decryption does with values
// that fail to decrypt.
type DecryptFailurePolicy int

const (
	// FailOpen returns the stored value unchanged.
	FailOpen DecryptFailurePolicy = iota
	// FailClosed surfaces a *DecryptError.
	FailClosed
)

func (p DecryptFailurePolicy) String() string {
	if p == FailClosed {
		return "closed"
	}
	return "open"
}

// ParseDecryptFailurePolicy accepts "open" and "closed". Empty means open.
func ParseDecryptFailurePolicy(s string) (DecryptFailurePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "open", "fail-open", "fail_open":
		return FailOpen, nil
	case "closed", "fail-closed", "fail_closed":
		return FailClosed, nil
	}
	return FailOpen, fmt.Errorf("unknown decrypt failure policy %q", s)
}

// Observer is notified of every failed decryption.
type Observer func(reason string)

// Codec encrypts and decrypts individual values and, through its field
// table, whole records. A nil *Codec passes everything through unchanged.
type Codec struct {
	aead     cipher.AEAD
	fields   FieldTable
	policy   DecryptFailurePolicy
	observer Observer
	log      *logger.Logger
	random   io.Reader
}

// Option configures a Codec.
type Option func(*Codec)

// WithFields sets the per-collection allow-list of encrypted fields.
func WithFields(fields FieldTable) Option {
	return func(c *Codec) { c.fields = fields }
}

// WithPolicy sets the decrypt failure policy for record decryption.
func WithPolicy(p DecryptFailurePolicy) Option {
	return func(c *Codec) { c.policy = p }
}

// WithObserver registers a hook called on decrypt failures.
func WithObserver(fn Observer) Option {
	return func(c *Codec) { c.observer = fn }
}

// WithLogger sets the logger used for decrypt failures.
func WithLogger(l *logger.Logger) Option {
	return func(c *Codec) { c.log = l }
}

// NewCodec derives an AES-256 key from secret with HKDF-SHA256.
func NewCodec(secret []byte, opts ...Option) (*Codec, error) {
	if len(secret) == 0 {
		return nil, errors.New("encryption secret is empty")
	}

	key := make([]byte, keySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(hkdfInfo)), key); err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCMWithNonceSize(block, nonceSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	c := &Codec{aead: aead, random: rand.Reader}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Policy returns the configured decrypt failure policy.
func (c *Codec) Policy() DecryptFailurePolicy {
	if c == nil {
		return FailOpen
	}
	return c.policy
}

// Fields returns the field table.
func (c *Codec) Fields() FieldTable {
	if c == nil {
		return nil
	}
	return c.fields
}

// Encrypt seals plaintext under a fresh nonce.
func (c *Codec) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(c.random, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := c.aead.Seal(nil, nonce, []byte(plaintext), nil)
	return hex.EncodeToString(nonce) + ":" + hex.EncodeToString(sealed), nil
}

// DecryptStrict opens a value produced by Encrypt.
func (c *Codec) DecryptStrict(ciphertext string) (string, error) {
	ivHex, ctHex, ok := strings.Cut(ciphertext, ":")
	if !ok {
		return "", &DecryptError{Reason: ReasonMalformed}
	}
	nonce, err := hex.DecodeString(ivHex)
	if err != nil {
		return "", &DecryptError{Reason: ReasonEncoding, Cause: err}
	}
	if len(nonce) != nonceSize {
		return "", &DecryptError{Reason: ReasonMalformed, Cause: fmt.Errorf("nonce is %d bytes", len(nonce))}
	}
	sealed, err := hex.DecodeString(ctHex)
	if err != nil {
		return "", &DecryptError{Reason: ReasonEncoding, Cause: err}
	}
	plain, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", &DecryptError{Reason: ReasonAuth, Cause: err}
	}
	return string(plain), nil
}

// Decrypt opens ciphertext, returning the input unchanged when it cannot be
// decrypted. Failures are logged and reported to the observer.
func (c *Codec) Decrypt(ciphertext string) string {
	plain, err := c.DecryptStrict(ciphertext)
	if err != nil {
		c.failed("", err)
		return ciphertext
	}
	return plain
}

func (c *Codec) failed(field string, err error) {
	var de *DecryptError
	reason := ReasonMalformed
	if errors.As(err, &de) {
		reason = de.Reason
	}
	if c.observer != nil {
		c.observer(reason)
	}
	if field != "" {
		c.log.Debugf("Decryption of field %s failed: %v", field, err)
		return
	}
	c.log.Debugf("Decryption failed: %v", err)
}

var numericPattern = regexp.MustCompile(`^-?[0-9]+(\.[0-9]+)?([eE][-+]?[0-9]+)?$`)

// Coerce converts decrypted text that looks like a number back into an
// int64 or float64. Other text is returned as is.
func Coerce(s string) any {
	if !numericPattern.MatchString(s) {
		return s
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}
