package solana

import "context"

// Commitment levels accepted by the RPC.
const (
	CommitmentProcessed = "processed"
	CommitmentConfirmed = "confirmed"
	CommitmentFinalized = "finalized"
)

// RPCClient defines the Solana JSON-RPC calls the engine needs.
type RPCClient interface {
	// GetBalance returns the lamport balance of an address.
	GetBalance(ctx context.Context, address string) (uint64, error)

	// GetTokenBalance sums the owner's token accounts for a mint.
	// A wallet without token accounts has a zero balance.
	GetTokenBalance(ctx context.Context, owner, mint string) (*TokenBalance, error)

	// GetLatestBlockhash returns a recent blockhash for transaction building.
	GetLatestBlockhash(ctx context.Context) (*Blockhash, error)

	// GetMinimumBalanceForRentExemption returns the rent-exempt minimum for an account size.
	GetMinimumBalanceForRentExemption(ctx context.Context, dataLen uint64) (uint64, error)

	// SendTransaction broadcasts a signed, serialized transaction and returns its signature.
	SendTransaction(ctx context.Context, tx []byte) (string, error)

	// GetSignatureStatuses returns one entry per signature; unknown signatures map to nil.
	GetSignatureStatuses(ctx context.Context, signatures []string) ([]*SignatureStatus, error)
}

// BundleClient defines the relay bundle API.
type BundleClient interface {
	// SendBundle submits signed, serialized transactions as one all-or-nothing bundle.
	SendBundle(ctx context.Context, txs [][]byte) (string, error)

	// GetBundleStatuses returns one entry per bundle id; unknown bundles map to nil.
	GetBundleStatuses(ctx context.Context, bundleIDs []string) ([]*BundleStatus, error)
}
