package usecase

import (
	"context"
	"errors"
	"strings"

	"qrtrust/internal/domain"
)

type ScanHistory struct {
	Reader domain.ScanEventReader
}

func (uc *ScanHistory) Execute(ctx context.Context, ref domain.LedgerReference, limit int) ([]domain.ScanEvent, error) {
	if uc.Reader == nil {
		return nil, errors.New("scan history: reader is required")
	}
	if strings.TrimSpace(ref.String()) == "" {
		return nil, domain.ErrInvalidRecord
	}
	return uc.Reader.ListByReference(ctx, ref, limit)
}
