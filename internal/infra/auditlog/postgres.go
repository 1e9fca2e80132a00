package auditlog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"qrtrust/internal/domain"
)

// PostgresSink appends scan events to the scan_events table through a pgx
// pool, separate from the gorm connection used for issuance.
type PostgresSink struct {
	Pool *pgxpool.Pool
	now  func() time.Time
}

func NewPostgresSink(ctx context.Context, dsn string) (*PostgresSink, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("postgres dsn is required")
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &PostgresSink{Pool: pool, now: time.Now}, nil
}

func (s *PostgresSink) Record(ctx context.Context, event domain.ScanEvent) error {
	if s == nil || s.Pool == nil {
		return errors.New("db not configured")
	}
	event = normalize(event, s.now)
	_, err := s.Pool.Exec(ctx, `
INSERT INTO scan_events (id, ledger_reference, product_id, outcome, error_code, signature_digest, request_id, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		event.ID,
		event.LedgerReference.String(),
		nullable(event.ProductID),
		string(event.Outcome),
		nullable(event.ErrorCode),
		event.SignatureDigest,
		nullable(event.RequestID),
		event.CreatedAt,
	)
	return err
}

func (s *PostgresSink) ListByReference(ctx context.Context, ref domain.LedgerReference, limit int) ([]domain.ScanEvent, error) {
	if s == nil || s.Pool == nil {
		return nil, errors.New("db not configured")
	}
	limit = clampLimit(limit)
	rows, err := s.Pool.Query(ctx, `
SELECT id, ledger_reference, product_id, outcome, error_code, signature_digest, request_id, created_at
FROM scan_events
WHERE ledger_reference = $1
ORDER BY created_at DESC
LIMIT $2`, ref.String(), limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.ScanEvent, error) {
		var event domain.ScanEvent
		var reference, outcome string
		var productID, errorCode, requestID *string
		if err := row.Scan(&event.ID, &reference, &productID, &outcome, &errorCode, &event.SignatureDigest, &requestID, &event.CreatedAt); err != nil {
			return domain.ScanEvent{}, err
		}
		event.LedgerReference = domain.LedgerReference(reference)
		event.Outcome = domain.ScanOutcome(outcome)
		event.ProductID = deref(productID)
		event.ErrorCode = deref(errorCode)
		event.RequestID = deref(requestID)
		return event, nil
	})
}

func (s *PostgresSink) Close() {
	if s == nil || s.Pool == nil {
		return
	}
	s.Pool.Close()
}

func normalize(event domain.ScanEvent, now func() time.Time) domain.ScanEvent {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = now()
	}
	event.CreatedAt = event.CreatedAt.UTC().Truncate(time.Microsecond)
	return event
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > 500 {
		return 100
	}
	return limit
}

func nullable(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
