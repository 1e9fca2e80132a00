// Package memstore is an in-process attestation store for development runs
// without Postgres. Contents are lost on restart.
package memstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"qrtrust/internal/domain"
)

type Store struct {
	mu        sync.RWMutex
	byProduct map[string]domain.Issuance
	byRef     map[domain.LedgerReference]string
	attempts  map[string][]domain.AnchorAttempt
	clock     func() time.Time
}

func New() *Store {
	return &Store{
		byProduct: make(map[string]domain.Issuance),
		byRef:     make(map[domain.LedgerReference]string),
		attempts:  make(map[string][]domain.AnchorAttempt),
		clock:     time.Now,
	}
}

func (s *Store) Exists(ctx context.Context, productID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.byProduct[productID]
	return ok, nil
}

// CreateIssuance stores the issuance if neither its product ID nor its ledger
// reference is already present.
func (s *Store) CreateIssuance(ctx context.Context, issuance domain.Issuance) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	issuance = clone(issuance)
	if issuance.IssuedAt.IsZero() {
		issuance.IssuedAt = s.clock().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	productID := issuance.Record.ProductID
	if _, ok := s.byProduct[productID]; ok {
		return fmt.Errorf("%w: product %s", domain.ErrDuplicateProduct, productID)
	}
	ref := issuance.Attestation.LedgerReference
	if _, ok := s.byRef[ref]; ok {
		return fmt.Errorf("%w: reference %s already bound", domain.ErrDuplicateProduct, ref)
	}
	s.byProduct[productID] = issuance
	s.byRef[ref] = productID
	return nil
}

func (s *Store) GetByReference(ctx context.Context, ref domain.LedgerReference) (domain.Issuance, error) {
	if err := ctx.Err(); err != nil {
		return domain.Issuance{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	productID, ok := s.byRef[ref]
	if !ok {
		return domain.Issuance{}, domain.ErrNotFound
	}
	return clone(s.byProduct[productID]), nil
}

func (s *Store) GetByProductID(ctx context.Context, productID string) (domain.Issuance, error) {
	if err := ctx.Err(); err != nil {
		return domain.Issuance{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	issuance, ok := s.byProduct[productID]
	if !ok {
		return domain.Issuance{}, domain.ErrNotFound
	}
	return clone(issuance), nil
}

// Append records an anchor attempt so a retry in the same process can find
// earlier submissions of the product.
func (s *Store) Append(_ context.Context, attempt domain.AnchorAttempt) error {
	if attempt.ProductID == "" {
		return errors.New("anchor attempt: product_id is required")
	}
	if attempt.CreatedAt.IsZero() {
		attempt.CreatedAt = s.clock().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts[attempt.ProductID] = append(s.attempts[attempt.ProductID], attempt)
	return nil
}

func (s *Store) ListByProductID(_ context.Context, productID string) ([]domain.AnchorAttempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.AnchorAttempt(nil), s.attempts[productID]...), nil
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byProduct)
}

func clone(issuance domain.Issuance) domain.Issuance {
	if issuance.Record.Attributes != nil {
		attrs := make(map[string]string, len(issuance.Record.Attributes))
		for k, v := range issuance.Record.Attributes {
			attrs[k] = v
		}
		issuance.Record.Attributes = attrs
	}
	issuance.Attestation.Signature = append([]byte(nil), issuance.Attestation.Signature...)
	return issuance
}
