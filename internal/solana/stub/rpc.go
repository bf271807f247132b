package stub

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"sync"

	"github.com/mr-tron/base58"

	"solana-volume-engine/internal/solana"
)

// ErrNotFound is returned for a blockhash request when none is configured.
var ErrNotFound = errors.New("not found")

// RPCClient implements solana.RPCClient and solana.BundleClient for testing.
// Sent transactions land immediately at the configured status.
type RPCClient struct {
	mu sync.Mutex

	Balances      map[string]uint64
	TokenBalances map[string]string // key: owner + "/" + mint
	Decimals      uint8
	Rent          uint64
	Blockhash     *solana.Blockhash

	// Statuses overrides the status reported for a signature or bundle id.
	Statuses       map[string]*solana.SignatureStatus
	BundleStatuses map[string]*solana.BundleStatus

	// LandStatus is the confirmation status given to sent transactions without an override.
	LandStatus string
	// LandErr is the on-chain error reported for sent transactions, nil for success.
	LandErr interface{}

	// SendErr, when set, is returned by SendTransaction and SendBundle.
	SendErr error

	Sent    [][]byte
	Bundles [][][]byte
}

// NewRPCClient creates a new stub RPC client.
func NewRPCClient() *RPCClient {
	return &RPCClient{
		Balances:       make(map[string]uint64),
		TokenBalances:  make(map[string]string),
		Rent:           890880,
		Blockhash:      &solana.Blockhash{Hash: "EkSnNWid2cvwEVnVx9aBqawnmiCNiDgp3gUdkDPTKN1N", LastValidBlockHeight: 1000},
		Statuses:       make(map[string]*solana.SignatureStatus),
		BundleStatuses: make(map[string]*solana.BundleStatus),
		LandStatus:     solana.CommitmentConfirmed,
	}
}

// SetTokenBalance sets the aggregated token balance of owner for mint.
func (c *RPCClient) SetTokenBalance(owner, mint, amount string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.TokenBalances[owner+"/"+mint] = amount
}

// SentCount returns the number of transactions broadcast individually.
func (c *RPCClient) SentCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Sent)
}

// BundleCount returns the number of bundles submitted.
func (c *RPCClient) BundleCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Bundles)
}

// GetBalance returns the configured lamport balance, zero when unset.
func (c *RPCClient) GetBalance(_ context.Context, address string) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Balances[address], nil
}

// GetTokenBalance returns the configured token balance, zero when unset.
func (c *RPCClient) GetTokenBalance(_ context.Context, owner, mint string) (*solana.TokenBalance, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	amount, ok := c.TokenBalances[owner+"/"+mint]
	if !ok {
		return &solana.TokenBalance{Amount: "0", Decimals: c.Decimals}, nil
	}
	return &solana.TokenBalance{Amount: amount, Decimals: c.Decimals, Accounts: []string{owner + "-ata"}}, nil
}

// GetLatestBlockhash returns the configured blockhash.
func (c *RPCClient) GetLatestBlockhash(_ context.Context) (*solana.Blockhash, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Blockhash == nil {
		return nil, ErrNotFound
	}
	bh := *c.Blockhash
	return &bh, nil
}

// GetMinimumBalanceForRentExemption returns the configured rent minimum.
func (c *RPCClient) GetMinimumBalanceForRentExemption(_ context.Context, _ uint64) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Rent, nil
}

// SendTransaction records the transaction and returns a signature derived from its bytes.
func (c *RPCClient) SendTransaction(_ context.Context, tx []byte) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.SendErr != nil {
		return "", c.SendErr
	}
	c.Sent = append(c.Sent, tx)
	return Signature(tx), nil
}

// GetSignatureStatuses reports sent transactions as landed at LandStatus.
func (c *RPCClient) GetSignatureStatuses(_ context.Context, signatures []string) ([]*solana.SignatureStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sent := make(map[string]bool, len(c.Sent))
	for _, tx := range c.Sent {
		sent[Signature(tx)] = true
	}

	out := make([]*solana.SignatureStatus, len(signatures))
	for i, sig := range signatures {
		if s, ok := c.Statuses[sig]; ok {
			out[i] = s
			continue
		}
		if sent[sig] {
			out[i] = &solana.SignatureStatus{Slot: 1, ConfirmationStatus: c.LandStatus, Err: c.LandErr}
		}
	}
	return out, nil
}

// SendBundle records the bundle and returns a sequential bundle id.
func (c *RPCClient) SendBundle(_ context.Context, txs [][]byte) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.SendErr != nil {
		return "", c.SendErr
	}
	c.Bundles = append(c.Bundles, txs)
	return fmt.Sprintf("bundle-%d", len(c.Bundles)), nil
}

// GetBundleStatuses reports submitted bundles as landed at LandStatus.
func (c *RPCClient) GetBundleStatuses(_ context.Context, bundleIDs []string) ([]*solana.BundleStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]*solana.BundleStatus, len(bundleIDs))
	for i, id := range bundleIDs {
		if s, ok := c.BundleStatuses[id]; ok {
			out[i] = s
			continue
		}
		var n int
		if _, err := fmt.Sscanf(id, "bundle-%d", &n); err == nil && n >= 1 && n <= len(c.Bundles) {
			out[i] = &solana.BundleStatus{BundleID: id, Slot: 1, ConfirmationStatus: c.LandStatus}
		}
	}
	return out, nil
}

// Signature returns the first signature of a serialized transaction, as the
// RPC would. Payloads too short to carry one get a digest instead.
func Signature(tx []byte) string {
	if len(tx) >= 65 && tx[0] >= 1 {
		return base58.Encode(tx[1:65])
	}
	sum := sha256.Sum256(tx)
	return base58.Encode(sum[:])
}

var (
	_ solana.RPCClient    = (*RPCClient)(nil)
	_ solana.BundleClient = (*RPCClient)(nil)
)
