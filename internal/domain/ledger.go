package domain

import (
	"context"
	"time"
)

// Ledger is the narrow boundary to the external product registry.
// Anchor blocks until the write is confirmed or the bounded wait expires.
type Ledger interface {
	Anchor(ctx context.Context, productID string, fp Fingerprint) (LedgerReference, error)
	Lookup(ctx context.Context, productID string) (Fingerprint, error)
}

// Reserver serializes issuance per product identifier between the existence
// check and the final commit. The returned release func must always be called.
type Reserver interface {
	Reserve(ctx context.Context, productID string) (release func(), err error)
}

const (
	LedgerProviderEthereum = "ethereum"
	LedgerProviderFabric   = "fabric"
	LedgerProviderMemory   = "memory"
)

// A pending attempt was submitted but not confirmed before the bounded wait
// expired; its reference is the submitted transaction.
const (
	AnchorStatusAnchored = "anchored"
	AnchorStatusFailed   = "failed"
	AnchorStatusPending  = "pending"
)

// AnchorAttempt is the durable record of one ledger submission, kept whether
// or not the submission succeeded.
type AnchorAttempt struct {
	ProductID       string
	Provider        string
	Status          string
	ErrorCode       string
	Fingerprint     Fingerprint
	LedgerReference LedgerReference
	Duration        time.Duration
	CreatedAt       time.Time
}

type AnchorAttemptRecorder interface {
	Append(ctx context.Context, attempt AnchorAttempt) error
}

// AnchorAttemptLister is implemented by recorders that can replay the attempts
// for a product, oldest first.
type AnchorAttemptLister interface {
	ListByProductID(ctx context.Context, productID string) ([]AnchorAttempt, error)
}
