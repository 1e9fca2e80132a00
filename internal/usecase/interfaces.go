package usecase

import (
	"context"

	"qrtrust/internal/domain"
)

// AttestationStore persists issued products with their attestation.
// CreateIssuance must be atomic and report key conflicts as
// domain.ErrDuplicateProduct; lookups report misses as domain.ErrNotFound.
type AttestationStore interface {
	Exists(ctx context.Context, productID string) (bool, error)
	CreateIssuance(ctx context.Context, issuance domain.Issuance) error
	GetByReference(ctx context.Context, ref domain.LedgerReference) (domain.Issuance, error)
	GetByProductID(ctx context.Context, productID string) (domain.Issuance, error)
}

type AttestationSigner interface {
	Sign(ref domain.LedgerReference) ([]byte, error)
}

type SignatureVerifier interface {
	Verify(ref domain.LedgerReference, signature []byte) error
}

type PolicyEngine interface {
	Evaluate(ctx context.Context, input domain.PolicyInput) (domain.PolicyEvaluation, error)
}

type requestIDKey struct{}

// WithRequestID attaches the inbound request ID so audit records can be
// correlated with access logs.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey{}, id)
}

func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
