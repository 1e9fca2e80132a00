package usecase

import (
	"context"
	"errors"
	"strings"
	"time"

	"qrtrust/internal/domain"
	"qrtrust/internal/infra/token"
)

type RegenerateTokenResponse struct {
	ProductID       string
	LedgerReference domain.LedgerReference
	Token           []byte
	IssuedAt        time.Time
}

// RegenerateToken rebuilds the QR payload from the persisted attestation.
// Tokens are never stored.
type RegenerateToken struct {
	Store AttestationStore
}

func (uc *RegenerateToken) Execute(ctx context.Context, productID string) (*RegenerateTokenResponse, error) {
	if uc.Store == nil {
		return nil, errors.New("regenerate token: store is required")
	}
	if strings.TrimSpace(productID) == "" {
		return nil, domain.ErrInvalidRecord
	}
	issuance, err := uc.Store.GetByProductID(ctx, productID)
	if err != nil {
		return nil, err
	}
	tok, err := token.Encode(issuance.Attestation)
	if err != nil {
		return nil, err
	}
	return &RegenerateTokenResponse{
		ProductID:       issuance.Record.ProductID,
		LedgerReference: issuance.Attestation.LedgerReference,
		Token:           tok,
		IssuedAt:        issuance.IssuedAt,
	}, nil
}
