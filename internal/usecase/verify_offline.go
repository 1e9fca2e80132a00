package usecase

import (
	"errors"
	"fmt"

	"qrtrust/internal/domain"
	"qrtrust/internal/infra/token"
)

// VerifyOffline checks only the issuer signature on a token. It needs the
// issuer public key and nothing else, so it cannot detect ledger divergence.
type VerifyOffline struct {
	Verifier SignatureVerifier
}

func (uc *VerifyOffline) Execute(raw []byte) (domain.Attestation, error) {
	if uc.Verifier == nil {
		return domain.Attestation{}, errors.New("verify offline: verifier is required")
	}
	att, err := token.Decode(raw)
	if err != nil {
		return domain.Attestation{}, err
	}
	if err := uc.Verifier.Verify(att.LedgerReference, att.Signature); err != nil {
		if errors.Is(err, domain.ErrInvalidSignature) {
			return domain.Attestation{}, err
		}
		return domain.Attestation{}, fmt.Errorf("%w: %v", domain.ErrInvalidSignature, err)
	}
	return att, nil
}
