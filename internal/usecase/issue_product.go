package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"qrtrust/internal/domain"
	"qrtrust/internal/infra/fingerprint"
	"qrtrust/internal/infra/token"
)

const persistTimeout = 10 * time.Second

type IssueProductRequest struct {
	ProductID   string
	Temperature float64
	Location    string
	Attributes  map[string]string
}

type IssueProductResponse struct {
	ProductID       string
	LedgerReference domain.LedgerReference
	Signature       string
	Fingerprint     domain.Fingerprint
	Token           []byte
	IssuedAt        time.Time
}

// IssueProduct binds a product record to a ledger entry and signs the
// resulting reference. Any failing step aborts everything after it, so no
// signature exists for an unconfirmed reference and nothing is persisted
// without one.
type IssueProduct struct {
	Store    AttestationStore
	Ledger   domain.Ledger
	Signer   AttestationSigner
	Reserver domain.Reserver
	Policy   PolicyEngine
	Log      logrus.FieldLogger
	Clock    func() time.Time
}

func (uc *IssueProduct) Execute(ctx context.Context, req IssueProductRequest) (*IssueProductResponse, error) {
	if uc.Store == nil || uc.Ledger == nil {
		return nil, errors.New("issue product: store and ledger are required")
	}
	if uc.Signer == nil {
		return nil, domain.ErrSigningUnavailable
	}
	record := domain.ProductRecord{
		ProductID:   req.ProductID,
		Temperature: req.Temperature,
		Location:    req.Location,
		Attributes:  req.Attributes,
	}
	if err := fingerprint.Validate(record); err != nil {
		return nil, err
	}
	if err := uc.admit(ctx, record); err != nil {
		return nil, err
	}

	if uc.Reserver != nil {
		release, err := uc.Reserver.Reserve(ctx, record.ProductID)
		if err != nil {
			return nil, err
		}
		defer release()
	}

	exists, err := uc.Store.Exists(ctx, record.ProductID)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, fmt.Errorf("%w: product %s", domain.ErrDuplicateProduct, record.ProductID)
	}

	fp, err := fingerprint.Compute(record)
	if err != nil {
		return nil, err
	}

	ref, err := uc.Ledger.Anchor(ctx, record.ProductID, fp)
	if err != nil {
		return nil, err
	}

	// From here on the ledger holds an entry; failures leave it orphaned and
	// are logged so it can be reconciled.
	log := uc.logger().WithFields(logrus.Fields{
		"product_id": record.ProductID,
		"reference":  ref.String(),
	})
	signature, err := uc.Signer.Sign(ref)
	if err != nil {
		log.WithError(err).Error("anchored product could not be signed")
		return nil, err
	}
	attestation := domain.Attestation{LedgerReference: ref, Signature: signature}
	tok, err := token.Encode(attestation)
	if err != nil {
		log.WithError(err).Error("anchored product could not be encoded")
		return nil, err
	}

	issuance := domain.Issuance{
		Record:      record,
		Fingerprint: fp,
		Attestation: attestation,
		IssuedAt:    uc.now().UTC(),
	}
	// The anchor is confirmed; a client disconnect must not drop the row.
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	if err := uc.Store.CreateIssuance(persistCtx, issuance); err != nil {
		log.WithError(err).Error("anchored product could not be persisted")
		return nil, err
	}
	log.WithField("fingerprint", fp.String()).Info("product issued")

	return &IssueProductResponse{
		ProductID:       record.ProductID,
		LedgerReference: ref,
		Signature:       attestation.SignatureBase64(),
		Fingerprint:     fp,
		Token:           tok,
		IssuedAt:        issuance.IssuedAt,
	}, nil
}

func (uc *IssueProduct) admit(ctx context.Context, record domain.ProductRecord) error {
	if uc.Policy == nil {
		return nil
	}
	eval, err := uc.Policy.Evaluate(ctx, domain.PolicyInput{
		ProductID:   record.ProductID,
		Temperature: record.Temperature,
		Location:    record.Location,
		Attributes:  record.Attributes,
	})
	if err != nil {
		return fmt.Errorf("evaluate issuance policy: %w", err)
	}
	if eval.Result.Allow && len(eval.Result.Deny) == 0 {
		return nil
	}
	codes := make([]string, 0, len(eval.Result.Deny))
	for _, deny := range eval.Result.Deny {
		codes = append(codes, deny.Code)
	}
	return fmt.Errorf("%w: %s", domain.ErrPolicyDenied, strings.Join(codes, ","))
}

func (uc *IssueProduct) logger() logrus.FieldLogger {
	if uc.Log != nil {
		return uc.Log
	}
	return logrus.StandardLogger()
}

func (uc *IssueProduct) now() time.Time {
	if uc.Clock != nil {
		return uc.Clock()
	}
	return time.Now()
}
