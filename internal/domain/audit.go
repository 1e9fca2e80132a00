package domain

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

type ScanOutcome string

const (
	ScanOutcomeAuthentic ScanOutcome = "authentic"
	ScanOutcomeRejected  ScanOutcome = "rejected"
	ScanOutcomeError     ScanOutcome = "error"
)

// ScanEvent records one verification attempt. SignatureDigest is a truncated
// hash of the presented signature; raw signatures are never recorded.
type ScanEvent struct {
	ID              string
	LedgerReference LedgerReference
	ProductID       string
	Outcome         ScanOutcome
	ErrorCode       string
	SignatureDigest string
	RequestID       string
	CreatedAt       time.Time
}

type ScanEventSink interface {
	Record(ctx context.Context, event ScanEvent) error
}

type ScanEventReader interface {
	ListByReference(ctx context.Context, ref LedgerReference, limit int) ([]ScanEvent, error)
}

// SignatureDigest is the first 16 hex chars of SHA-256 over the signature.
func SignatureDigest(signature []byte) string {
	sum := sha256.Sum256(signature)
	return hex.EncodeToString(sum[:8])
}
