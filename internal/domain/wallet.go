package domain

import "time"

// Wallet is a managed Solana wallet.
// EncryptedPrivateKey is opaque here; it is only ever handed to the keyring.
type Wallet struct {
	ID                  string
	UserID              string
	Address             string
	EncryptedPrivateKey []byte
	IsActive            bool
	CreatedAt           time.Time
}

// CanSign reports whether the wallet carries key material.
func (w *Wallet) CanSign() bool {
	return len(w.EncryptedPrivateKey) > 0
}
