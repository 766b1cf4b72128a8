// Package cipher provides the payload encryption primitive: an AEAD keyring
// addressed by opaque key ids. Callers only see Decrypt failures as
// ErrDecryption; the underlying cause is kept out of error strings.
package cipher

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const formatV1 byte = 1

var (
	// ErrDecryption is returned for corrupted ciphertext and unknown key ids alike.
	ErrDecryption = errors.New("cipher: decryption failed")
	ErrUnknownKey = errors.New("cipher: unknown key id")
	ErrInvalidKey = errors.New("cipher: invalid key material")
)

// Keyring holds named XChaCha20-Poly1305 keys. The key id is bound into the
// ciphertext as associated data, so a blob cannot be replayed under another key.
type Keyring struct {
	mu      sync.RWMutex
	aeads   map[string]cipher.AEAD
	current string
}

// NewKeyring returns an empty keyring.
func NewKeyring() *Keyring {
	return &Keyring{aeads: make(map[string]cipher.AEAD)}
}

// ParseKeys builds a keyring from base64 encoded 32-byte keys. The first id in
// order becomes the current encryption key.
func ParseKeys(keys map[string]string, order []string) (*Keyring, error) {
	kr := NewKeyring()
	for _, id := range order {
		raw, ok := keys[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownKey, id)
		}
		material, err := base64.StdEncoding.DecodeString(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("%w: key %s is not base64", ErrInvalidKey, id)
		}
		if err := kr.Add(id, material); err != nil {
			return nil, err
		}
	}
	return kr, nil
}

// Add registers key material under id. Material that is not exactly 32 bytes is
// stretched with HKDF-SHA256 so passphrase-style secrets remain usable.
func (k *Keyring) Add(id string, material []byte) error {
	id = strings.TrimSpace(id)
	if id == "" || len(material) == 0 {
		return ErrInvalidKey
	}
	key := material
	if len(key) != chacha20poly1305.KeySize {
		key = make([]byte, chacha20poly1305.KeySize)
		if _, err := io.ReadFull(hkdf.New(sha256.New, material, nil, []byte("dossier-payload:"+id)), key); err != nil {
			return fmt.Errorf("derive key %s: %w", id, err)
		}
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	k.aeads[id] = aead
	if k.current == "" {
		k.current = id
	}
	return nil
}

// Current returns the id new payloads are sealed with.
func (k *Keyring) Current() string {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.current
}

// Encrypt seals plaintext under keyID. Layout: version | nonce | ciphertext+tag.
func (k *Keyring) Encrypt(plaintext []byte, keyID string) ([]byte, error) {
	aead, ok := k.lookup(keyID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKey, keyID)
	}
	out := make([]byte, 1+aead.NonceSize(), 1+aead.NonceSize()+len(plaintext)+aead.Overhead())
	out[0] = formatV1
	if _, err := rand.Read(out[1:]); err != nil {
		return nil, fmt.Errorf("nonce: %w", err)
	}
	nonce := out[1 : 1+aead.NonceSize()]
	return aead.Seal(out, nonce, plaintext, associatedData(keyID)), nil
}

// Decrypt opens a blob produced by Encrypt.
func (k *Keyring) Decrypt(ciphertext []byte, keyID string) ([]byte, error) {
	aead, ok := k.lookup(keyID)
	if !ok {
		return nil, ErrDecryption
	}
	headerLen := 1 + aead.NonceSize()
	if len(ciphertext) < headerLen+aead.Overhead() || ciphertext[0] != formatV1 {
		return nil, ErrDecryption
	}
	plaintext, err := aead.Open(nil, ciphertext[1:headerLen], ciphertext[headerLen:], associatedData(keyID))
	if err != nil {
		return nil, ErrDecryption
	}
	return plaintext, nil
}

func (k *Keyring) lookup(id string) (cipher.AEAD, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	aead, ok := k.aeads[id]
	return aead, ok
}

func associatedData(keyID string) []byte {
	return []byte("dossier-payload/v1/" + keyID)
}
