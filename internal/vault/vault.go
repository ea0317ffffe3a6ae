// Package vault wraps and unwraps opaque credential strings for at-rest
// storage. It knows nothing about token semantics.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/calendarapp/server/internal/apperr"
)

// Wrapped values carry an algorithm tag so the format can evolve without a
// flag day. v1 is AES-256-GCM with the 12-byte nonce prefixed to the
// ciphertext inside a single base64 blob.
const v1Prefix = "v1:"

var errMalformed = errors.New("vault: malformed ciphertext")

// Vault performs symmetric wrap/unwrap with a key derived from the
// deployment secret.
type Vault struct {
	aead cipher.AEAD
}

// New derives a 256-bit key from the deployment secret via SHA-256 and
// prepares the AEAD. The secret must be non-empty.
func New(secret string) (*Vault, error) {
	if secret == "" {
		return nil, errors.New("vault: empty secret")
	}

	key := sha256.Sum256([]byte(secret))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("vault: cipher init: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("vault: gcm init: %w", err)
	}

	return &Vault{aead: aead}, nil
}

// Wrap encrypts plaintext for storage. Output is self-describing:
// "v1:" + base64(nonce || ciphertext || tag).
func (v *Vault) Wrap(plaintext string) (string, error) {
	nonce := make([]byte, v.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", apperr.Wrap(apperr.KindInternal, "credential wrap failed", err)
	}

	sealed := v.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return v1Prefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Unwrap reverses Wrap. Any tampering or key mismatch fails the GCM tag
// check and surfaces as an internal error; plaintext never appears in the
// error.
func (v *Vault) Unwrap(wrapped string) (string, error) {
	payload, ok := strings.CutPrefix(wrapped, v1Prefix)
	if !ok {
		return "", apperr.Wrap(apperr.KindInternal, "credential unwrap failed", errMalformed)
	}

	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", apperr.Wrap(apperr.KindInternal, "credential unwrap failed", errMalformed)
	}

	ns := v.aead.NonceSize()
	if len(raw) < ns+v.aead.Overhead() {
		return "", apperr.Wrap(apperr.KindInternal, "credential unwrap failed", errMalformed)
	}

	plaintext, err := v.aead.Open(nil, raw[:ns], raw[ns:], nil)
	if err != nil {
		return "", apperr.Wrap(apperr.KindInternal, "credential unwrap failed", err)
	}

	return string(plaintext), nil
}
