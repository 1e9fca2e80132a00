package db

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"qrtrust/internal/domain"
)

type AnchorAttemptRepository struct {
	db *gorm.DB
}

func NewAnchorAttemptRepository(db *gorm.DB) *AnchorAttemptRepository {
	return &AnchorAttemptRepository{db: db}
}

func (r *AnchorAttemptRepository) Append(ctx context.Context, attempt domain.AnchorAttempt) error {
	if r.db == nil {
		return errDBUnavailable
	}
	if attempt.ProductID == "" {
		return errors.New("product_id is required")
	}
	if attempt.Provider == "" {
		return errors.New("provider is required")
	}
	if attempt.Status == "" {
		return errors.New("status is required")
	}
	createdAt := attempt.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	model := AnchorAttemptModel{
		ProductID:       attempt.ProductID,
		Provider:        attempt.Provider,
		Status:          attempt.Status,
		ErrorCode:       stringPtrIfNotEmpty(attempt.ErrorCode),
		Fingerprint:     attempt.Fingerprint.String(),
		LedgerReference: stringPtrIfNotEmpty(attempt.LedgerReference.String()),
		DurationMS:      attempt.Duration.Milliseconds(),
		CreatedAt:       createdAt.UTC(),
	}
	return r.db.WithContext(ctx).Create(&model).Error
}

func (r *AnchorAttemptRepository) ListByProductID(ctx context.Context, productID string) ([]domain.AnchorAttempt, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	if productID == "" {
		return nil, errors.New("product_id is required")
	}
	var models []AnchorAttemptModel
	if err := r.db.WithContext(ctx).
		Where("product_id = ?", productID).
		Order("created_at ASC, id ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]domain.AnchorAttempt, 0, len(models))
	for _, model := range models {
		out = append(out, anchorAttemptFromModel(model))
	}
	return out, nil
}

func anchorAttemptFromModel(model AnchorAttemptModel) domain.AnchorAttempt {
	return domain.AnchorAttempt{
		ProductID:       model.ProductID,
		Provider:        model.Provider,
		Status:          model.Status,
		ErrorCode:       stringValue(model.ErrorCode),
		Fingerprint:     domain.Fingerprint(model.Fingerprint),
		LedgerReference: domain.LedgerReference(stringValue(model.LedgerReference)),
		Duration:        time.Duration(model.DurationMS) * time.Millisecond,
		CreatedAt:       model.CreatedAt,
	}
}
