// Package keys decrypts and encrypts managed wallet private keys.
// Key material only leaves a Keyring as a 64-byte ed25519 secret key.
package keys

import (
	"context"
	"errors"
)

// ErrAuthentication is returned when ciphertext cannot be authenticated
// or the key service rejects the caller.
var ErrAuthentication = errors.New("wallet key authentication failed")

// Keyring is the custody capability for wallet keys.
type Keyring interface {
	// Decrypt returns the secret key sealed in ciphertext.
	Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error)

	// Encrypt seals a secret key for storage.
	Encrypt(ctx context.Context, secret []byte) ([]byte, error)
}
