package solana

import "encoding/json"

// Blockhash is a recent blockhash with its expiry height.
type Blockhash struct {
	Hash                 string
	LastValidBlockHeight uint64
}

// TokenBalance is an owner's aggregated SPL token balance for one mint.
type TokenBalance struct {
	Amount   string // base units, decimal string
	Decimals uint8
	Accounts []string
}

// SignatureStatus from getSignatureStatuses.
type SignatureStatus struct {
	Slot               uint64
	Confirmations      *uint64 // nil once rooted
	Err                interface{}
	ConfirmationStatus string
}

// Failed reports whether the transaction landed with an error.
func (s *SignatureStatus) Failed() bool {
	return s.Err != nil
}

// Reached reports whether the status satisfies the commitment.
func (s *SignatureStatus) Reached(commitment string) bool {
	return commitmentRank(s.ConfirmationStatus) >= commitmentRank(commitment)
}

// BundleStatus from the relay's getBundleStatuses.
type BundleStatus struct {
	BundleID           string
	Transactions       []string
	Slot               uint64
	ConfirmationStatus string
	Err                json.RawMessage
}

// Failed reports whether the relay reported an error for the bundle.
// The relay encodes success as {"Ok":null}.
func (s *BundleStatus) Failed() bool {
	if len(s.Err) == 0 || string(s.Err) == "null" {
		return false
	}
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(s.Err, &probe); err == nil {
		if _, ok := probe["Ok"]; ok {
			return false
		}
	}
	return true
}

// Reached reports whether the status satisfies the commitment.
func (s *BundleStatus) Reached(commitment string) bool {
	return commitmentRank(s.ConfirmationStatus) >= commitmentRank(commitment)
}

func commitmentRank(c string) int {
	switch c {
	case CommitmentProcessed:
		return 1
	case CommitmentConfirmed:
		return 2
	case CommitmentFinalized:
		return 3
	}
	return 0
}
