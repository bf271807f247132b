package solana

import "context"

// WSClient defines Solana WebSocket subscription interface.
type WSClient interface {
	// SignatureSubscribe waits for a transaction to reach the commitment.
	// The channel yields one notification and is then closed.
	SignatureSubscribe(ctx context.Context, signature, commitment string) (<-chan SignatureNotification, error)

	// Close closes the WebSocket connection.
	Close() error
}

// SignatureNotification represents a signatureNotification message.
type SignatureNotification struct {
	Signature string
	Slot      uint64
	Err       interface{}
}
