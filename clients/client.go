package clients

import (
	"context"

	"github.com/silkroad-bazaar/x402/types"
)

// Client is the chain oracle the verifier consults. It never judges whether a
// transfer satisfies a payment requirement; it only reports what the cluster knows.
type Client interface {
	// GetTransactionStatus reports the landing state of signature. An unknown
	// signature is not an error: the returned status has Found == false.
	GetTransactionStatus(ctx context.Context, signature string) (*types.TransactionStatus, error)

	// GetTransaction returns the wire-format bytes of the landed transaction
	// identified by signature, so the transfer it carries can be inspected.
	GetTransaction(ctx context.Context, signature string) ([]byte, error)

	// BroadcastSignedTransfer submits a serialized, fully signed transaction and
	// returns its signature.
	BroadcastSignedTransfer(ctx context.Context, signed []byte) (string, error)

	GetNetwork() types.Network
	Close()
}
