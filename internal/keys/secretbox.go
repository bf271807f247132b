package keys

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/mr-tron/base58"
	"golang.org/x/crypto/nacl/secretbox"
)

const (
	masterKeySize = 32
	nonceSize     = 24
)

// SecretboxKeyring seals keys with NaCl secretbox under a local master key.
// The stored form is nonce || sealed box.
type SecretboxKeyring struct {
	key [masterKeySize]byte
}

// NewSecretboxKeyring creates a keyring from a 32-byte master key.
func NewSecretboxKeyring(masterKey []byte) (*SecretboxKeyring, error) {
	if len(masterKey) != masterKeySize {
		return nil, fmt.Errorf("master key must be %d bytes, got %d", masterKeySize, len(masterKey))
	}
	k := &SecretboxKeyring{}
	copy(k.key[:], masterKey)
	return k, nil
}

// ParseMasterKey decodes a master key given as hex, base64 or base58.
func ParseMasterKey(s string) ([]byte, error) {
	if b, err := hex.DecodeString(s); err == nil && len(b) == masterKeySize {
		return b, nil
	}
	if b, err := base64.StdEncoding.DecodeString(s); err == nil && len(b) == masterKeySize {
		return b, nil
	}
	if b, err := base58.Decode(s); err == nil && len(b) == masterKeySize {
		return b, nil
	}
	return nil, fmt.Errorf("master key is not a %d-byte hex, base64 or base58 value", masterKeySize)
}

// Encrypt seals secret under a fresh random nonce.
func (k *SecretboxKeyring) Encrypt(_ context.Context, secret []byte) ([]byte, error) {
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return secretbox.Seal(nonce[:], secret, &nonce, &k.key), nil
}

// Decrypt opens ciphertext. Tampered or foreign ciphertext returns ErrAuthentication.
func (k *SecretboxKeyring) Decrypt(_ context.Context, ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < nonceSize+secretbox.Overhead {
		return nil, fmt.Errorf("%w: ciphertext too short", ErrAuthentication)
	}

	var nonce [nonceSize]byte
	copy(nonce[:], ciphertext[:nonceSize])

	secret, ok := secretbox.Open(nil, ciphertext[nonceSize:], &nonce, &k.key)
	if !ok {
		return nil, ErrAuthentication
	}
	return secret, nil
}

var _ Keyring = (*SecretboxKeyring)(nil)
