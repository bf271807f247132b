package solana

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"math/rand/v2"
)

// JitoAuthHeader carries the relay auth credential.
const JitoAuthHeader = "x-jito-auth"

// MaxBundleSize is the relay limit of transactions per bundle.
const MaxBundleSize = 5

// JitoTipAccounts are the relay's published tip payment accounts.
var JitoTipAccounts = []string{
	"96gYZGLnJYVFmbjzopPSU6QiEV5fGqZNyN9nmNhvrZU5",
	"HFqU5x63VTqvQss8hp11i4wVV8bD44PvwucfZ2bU7gRe",
	"Cw8CFyM9FkoMi7K7Crf6HNQqf4uEMzpKw6QNghXLvLkY",
	"ADaUMid9yfUytqMBgopwjb2DTLSokTSzL1zt6iGPaS49",
	"DfXygSm4jCyNCybVYYK6DwvWqjKee8pbDmJGcLWNDXjh",
	"ADuUkR4vqLUMWXxW9gh6D6L8pMSawimctcNZ5pGwDcEt",
	"DttWaMuVvTiduZRnguLF7jNxTgiMBZ1hyAumKUiL2KRL",
	"3AVi9Tg9Uo68tJfuvoKvqKNWKkC5wPdSSdeBnizKZ6jT",
}

// RandomTipAccount picks a tip account; spreading tips avoids write-lock contention on one account.
func RandomTipAccount(r *rand.Rand) string {
	if r == nil {
		return JitoTipAccounts[rand.IntN(len(JitoTipAccounts))]
	}
	return JitoTipAccounts[r.IntN(len(JitoTipAccounts))]
}

// NewJitoClient creates a bundle client for a relay endpoint.
func NewJitoClient(relayURL, authKey string, opts ...ClientOption) *HTTPClient {
	if authKey != "" {
		opts = append([]ClientOption{WithHeader(JitoAuthHeader, authKey)}, opts...)
	}
	return NewHTTPClient(relayURL, opts...)
}

// SendBundle submits signed, serialized transactions as one all-or-nothing bundle.
func (c *HTTPClient) SendBundle(ctx context.Context, txs [][]byte) (string, error) {
	encoded := make([]string, len(txs))
	for i, tx := range txs {
		encoded[i] = base64.StdEncoding.EncodeToString(tx)
	}

	params := []interface{}{
		encoded,
		map[string]interface{}{"encoding": "base64"},
	}

	var bundleID string
	if err := c.call(ctx, "sendBundle", params, &bundleID); err != nil {
		return "", err
	}
	return bundleID, nil
}

// GetBundleStatuses returns one entry per bundle id; unknown bundles map to nil.
func (c *HTTPClient) GetBundleStatuses(ctx context.Context, bundleIDs []string) ([]*BundleStatus, error) {
	var result struct {
		Value []*struct {
			BundleID           string          `json:"bundle_id"`
			Transactions       []string        `json:"transactions"`
			Slot               uint64          `json:"slot"`
			ConfirmationStatus string          `json:"confirmation_status"`
			Err                json.RawMessage `json:"err"`
		} `json:"value"`
	}
	if err := c.call(ctx, "getBundleStatuses", []interface{}{bundleIDs}, &result); err != nil {
		return nil, err
	}

	byID := make(map[string]*BundleStatus, len(result.Value))
	for _, v := range result.Value {
		if v == nil {
			continue
		}
		byID[v.BundleID] = &BundleStatus{
			BundleID:           v.BundleID,
			Transactions:       v.Transactions,
			Slot:               v.Slot,
			ConfirmationStatus: v.ConfirmationStatus,
			Err:                v.Err,
		}
	}

	statuses := make([]*BundleStatus, len(bundleIDs))
	for i, id := range bundleIDs {
		statuses[i] = byID[id]
	}
	return statuses, nil
}

var (
	_ RPCClient    = (*HTTPClient)(nil)
	_ BundleClient = (*HTTPClient)(nil)
)
