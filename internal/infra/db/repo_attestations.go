package db

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"qrtrust/internal/domain"
)

// AttestationRepository persists issued products together with their
// attestation. Rows are written once and never updated.
type AttestationRepository struct {
	db *gorm.DB
}

func NewAttestationRepository(db *gorm.DB) *AttestationRepository {
	return &AttestationRepository{db: db}
}

func (r *AttestationRepository) Exists(ctx context.Context, productID string) (bool, error) {
	if r.db == nil {
		return false, errDBUnavailable
	}
	var count int64
	if err := r.db.WithContext(ctx).Model(&ProductModel{}).Where("product_id = ?", productID).Count(&count).Error; err != nil {
		return false, errors.Wrap(err, "count products")
	}
	return count > 0, nil
}

// CreateIssuance writes the product and its attestation in one transaction.
// A key conflict on either table is reported as domain.ErrDuplicateProduct.
func (r *AttestationRepository) CreateIssuance(ctx context.Context, issuance domain.Issuance) error {
	if r.db == nil {
		return errDBUnavailable
	}
	product, attestation, err := modelsFromIssuance(issuance)
	if err != nil {
		return err
	}
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&product).Error; err != nil {
			return errors.Wrap(err, "insert product")
		}
		if err := tx.Create(&attestation).Error; err != nil {
			return errors.Wrap(err, "insert attestation")
		}
		return nil
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return errors.Wrapf(domain.ErrDuplicateProduct, "product %s", issuance.Record.ProductID)
	}
	return err
}

func (r *AttestationRepository) GetByReference(ctx context.Context, ref domain.LedgerReference) (domain.Issuance, error) {
	if r.db == nil {
		return domain.Issuance{}, errDBUnavailable
	}
	var attestation AttestationModel
	if err := r.db.WithContext(ctx).Where("ledger_reference = ?", ref.String()).Take(&attestation).Error; err != nil {
		return domain.Issuance{}, translateNotFound(err, "load attestation")
	}
	var product ProductModel
	if err := r.db.WithContext(ctx).Where("product_id = ?", attestation.ProductID).Take(&product).Error; err != nil {
		return domain.Issuance{}, translateNotFound(err, "load product")
	}
	return issuanceFromModels(product, attestation)
}

func (r *AttestationRepository) GetByProductID(ctx context.Context, productID string) (domain.Issuance, error) {
	if r.db == nil {
		return domain.Issuance{}, errDBUnavailable
	}
	var product ProductModel
	if err := r.db.WithContext(ctx).Where("product_id = ?", productID).Take(&product).Error; err != nil {
		return domain.Issuance{}, translateNotFound(err, "load product")
	}
	var attestation AttestationModel
	if err := r.db.WithContext(ctx).Where("product_id = ?", productID).Take(&attestation).Error; err != nil {
		return domain.Issuance{}, translateNotFound(err, "load attestation")
	}
	return issuanceFromModels(product, attestation)
}

func translateNotFound(err error, op string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return errors.Wrap(domain.ErrNotFound, op)
	}
	return errors.Wrap(err, op)
}

func modelsFromIssuance(issuance domain.Issuance) (ProductModel, AttestationModel, error) {
	createdAt := issuance.IssuedAt.UTC()
	if issuance.IssuedAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	createdAt = createdAt.Truncate(time.Microsecond)

	var attrs []byte
	if len(issuance.Record.Attributes) > 0 {
		raw, err := json.Marshal(issuance.Record.Attributes)
		if err != nil {
			return ProductModel{}, AttestationModel{}, errors.Wrap(err, "encode attributes")
		}
		attrs = raw
	}
	product := ProductModel{
		ProductID:   issuance.Record.ProductID,
		Temperature: issuance.Record.Temperature,
		Location:    issuance.Record.Location,
		Attributes:  attrs,
		Fingerprint: issuance.Fingerprint.String(),
		CreatedAt:   createdAt,
	}
	attestation := AttestationModel{
		ProductID:       issuance.Record.ProductID,
		LedgerReference: issuance.Attestation.LedgerReference.String(),
		Signature:       copyBytes(issuance.Attestation.Signature),
		CreatedAt:       createdAt,
	}
	return product, attestation, nil
}

func issuanceFromModels(product ProductModel, attestation AttestationModel) (domain.Issuance, error) {
	record := domain.ProductRecord{
		ProductID:   product.ProductID,
		Temperature: product.Temperature,
		Location:    product.Location,
	}
	if len(product.Attributes) > 0 {
		if err := json.Unmarshal(product.Attributes, &record.Attributes); err != nil {
			return domain.Issuance{}, errors.Wrap(err, "decode attributes")
		}
	}
	return domain.Issuance{
		Record:      record,
		Fingerprint: domain.Fingerprint(product.Fingerprint),
		Attestation: domain.Attestation{
			LedgerReference: domain.LedgerReference(attestation.LedgerReference),
			Signature:       copyBytes(attestation.Signature),
		},
		IssuedAt: attestation.CreatedAt,
	}, nil
}
