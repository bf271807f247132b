package solana

import (
	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

// IsOnCurve reports whether a base58 address decodes to a valid ed25519 point.
// Wallet addresses are on-curve; program derived addresses are not.
func IsOnCurve(address string) bool {
	b, err := base58.Decode(address)
	if err != nil || len(b) != 32 {
		return false
	}
	_, err = new(edwards25519.Point).SetBytes(b)
	return err == nil
}
