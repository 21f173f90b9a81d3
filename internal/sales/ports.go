package sales

import (
	"context"

	"github.com/gagliardetto/solana-go"

	"icosale/internal/authority"
)

// ValueTransferPort moves fungible token units between token accounts. It
// must reject the transfer if grant is not authority over from or the
// balance of from is insufficient.
type ValueTransferPort interface {
	Transfer(ctx context.Context, from, to solana.PublicKey, grant authority.Grant, amount uint64) error
}

// PaymentPort moves native currency between two parties.
type PaymentPort interface {
	Transfer(ctx context.Context, from, to solana.PublicKey, amount uint64) error
}

// Session is the view of the host environment available to one invocation.
type Session interface {
	Records() Storage
	Tokens() ValueTransferPort
	Payments() PaymentPort
}

// Host runs fn as a single atomic unit against the record keyed by seed.
// Invocations for the same seed are serialized. If fn returns an error,
// nothing it did through the session is applied.
//
// Records returns the committed record store for reads that need no
// invocation.
type Host interface {
	Atomic(ctx context.Context, seed solana.PublicKey, fn func(Session) error) error
	Records() Storage
}

// RecordWrite is a staged record change. A nil Prior creates the record.
type RecordWrite struct {
	Prior *Record
	Next  *Record
}
