package usecase

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"qrtrust/internal/domain"
	"qrtrust/internal/infra/fingerprint"
	"qrtrust/internal/infra/token"
)

const auditTimeout = 5 * time.Second

// VerifyAttestation checks a presented attestation without trusting the
// presenter. The signature is checked before any store or ledger access.
type VerifyAttestation struct {
	Verifier SignatureVerifier
	Store    AttestationStore
	Ledger   domain.Ledger
	Audit    domain.ScanEventSink
	Log      logrus.FieldLogger
}

func (uc *VerifyAttestation) Execute(ctx context.Context, att domain.Attestation) (*domain.ProductRecord, error) {
	record, productID, err := uc.verify(ctx, att)
	uc.audit(ctx, att, productID, err)
	if err != nil {
		return nil, err
	}
	return record, nil
}

// ExecuteToken decodes a scanned payload and verifies it.
func (uc *VerifyAttestation) ExecuteToken(ctx context.Context, raw []byte) (*domain.ProductRecord, error) {
	att, err := token.Decode(raw)
	if err != nil {
		uc.audit(ctx, domain.Attestation{}, "", err)
		return nil, err
	}
	return uc.Execute(ctx, att)
}

// ExecuteFields verifies an attestation presented as a reference and a base64
// signature. Input that does not decode is audited like any other rejection.
func (uc *VerifyAttestation) ExecuteFields(ctx context.Context, ref, signatureB64 string) (*domain.ProductRecord, error) {
	att, err := token.DecodeFields(ref, signatureB64)
	if err != nil {
		uc.audit(ctx, att, "", err)
		return nil, err
	}
	return uc.Execute(ctx, att)
}

func (uc *VerifyAttestation) verify(ctx context.Context, att domain.Attestation) (*domain.ProductRecord, string, error) {
	if uc.Verifier == nil || uc.Store == nil || uc.Ledger == nil {
		return nil, "", errors.New("verify attestation: verifier, store and ledger are required")
	}
	if err := uc.Verifier.Verify(att.LedgerReference, att.Signature); err != nil {
		if errors.Is(err, domain.ErrInvalidSignature) {
			return nil, "", err
		}
		return nil, "", fmt.Errorf("%w: %v", domain.ErrInvalidSignature, err)
	}

	issuance, err := uc.Store.GetByReference(ctx, att.LedgerReference)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, "", fmt.Errorf("%w: %s", domain.ErrUnknownReference, att.LedgerReference)
		}
		return nil, "", err
	}
	productID := issuance.Record.ProductID
	if subtle.ConstantTimeCompare(issuance.Attestation.Signature, att.Signature) != 1 {
		return nil, productID, uc.mismatch(productID, att.LedgerReference, "stored signature differs")
	}

	onLedger, err := uc.Ledger.Lookup(ctx, productID)
	if err != nil {
		if errors.Is(err, domain.ErrLedgerNotFound) {
			return nil, productID, uc.mismatch(productID, att.LedgerReference, "product not on ledger")
		}
		return nil, productID, err
	}
	derived, err := fingerprint.Compute(issuance.Record)
	if err != nil {
		return nil, productID, uc.mismatch(productID, att.LedgerReference, "stored record no longer valid")
	}
	if !fingerprint.Equal(onLedger, issuance.Fingerprint) {
		return nil, productID, uc.mismatch(productID, att.LedgerReference, "ledger fingerprint differs from stored fingerprint")
	}
	if !fingerprint.Equal(onLedger, derived) {
		return nil, productID, uc.mismatch(productID, att.LedgerReference, "ledger fingerprint differs from stored record")
	}

	record := issuance.Record
	return &record, productID, nil
}

func (uc *VerifyAttestation) mismatch(productID string, ref domain.LedgerReference, reason string) error {
	uc.logger().WithFields(logrus.Fields{
		"product_id": productID,
		"reference":  ref.String(),
		"reason":     reason,
	}).Warn("ledger divergence detected")
	return fmt.Errorf("%w: %s", domain.ErrLedgerMismatch, reason)
}

func (uc *VerifyAttestation) audit(ctx context.Context, att domain.Attestation, productID string, err error) {
	if uc.Audit == nil {
		return
	}
	event := domain.ScanEvent{
		LedgerReference: att.LedgerReference,
		ProductID:       productID,
		Outcome:         outcomeOf(err),
		ErrorCode:       domain.ErrorCode(err),
		SignatureDigest: domain.SignatureDigest(att.Signature),
		RequestID:       RequestIDFromContext(ctx),
	}
	auditCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditTimeout)
	defer cancel()
	if recordErr := uc.Audit.Record(auditCtx, event); recordErr != nil {
		uc.logger().WithError(recordErr).WithField("reference", att.LedgerReference.String()).Warn("record scan event")
	}
}

func outcomeOf(err error) domain.ScanOutcome {
	switch {
	case err == nil:
		return domain.ScanOutcomeAuthentic
	case errors.Is(err, domain.ErrInvalidSignature),
		errors.Is(err, domain.ErrUnknownReference),
		errors.Is(err, domain.ErrLedgerMismatch),
		errors.Is(err, domain.ErrMalformedToken):
		return domain.ScanOutcomeRejected
	default:
		return domain.ScanOutcomeError
	}
}

func (uc *VerifyAttestation) logger() logrus.FieldLogger {
	if uc.Log != nil {
		return uc.Log
	}
	return logrus.StandardLogger()
}
