package memledger

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sync"

	"qrtrust/internal/domain"
	"qrtrust/internal/infra/anchor"
)

type entry struct {
	fingerprint domain.Fingerprint
	reference   domain.LedgerReference
	block       uint64
}

// Registry is an append-only in-process product registry with the same
// duplicate semantics as the deployed contract.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
	height  uint64
}

func New() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

func (r *Registry) Name() string {
	return domain.LedgerProviderMemory
}

func (r *Registry) StoreProduct(ctx context.Context, productID string, fp domain.Fingerprint) (anchor.TxReceipt, error) {
	if err := ctx.Err(); err != nil {
		return anchor.TxReceipt{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[productID]; exists {
		return anchor.TxReceipt{}, fmt.Errorf("%w: product %q already stored", domain.ErrLedgerRejected, productID)
	}
	r.height++
	e := entry{
		fingerprint: fp,
		reference:   txHash(productID, fp, r.height),
		block:       r.height,
	}
	r.entries[productID] = e
	return anchor.TxReceipt{Reference: e.reference, BlockNumber: e.block}, nil
}

func (r *Registry) GetProduct(ctx context.Context, productID string) (domain.Fingerprint, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[productID]
	if !ok {
		return "", domain.ErrLedgerNotFound
	}
	return e.fingerprint, nil
}

// Overwrite replaces a stored fingerprint. It exists to simulate ledger
// divergence in tests; the deployed contract has no equivalent.
func (r *Registry) Overwrite(productID string, fp domain.Fingerprint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.entries[productID]
	e.fingerprint = fp
	r.entries[productID] = e
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

func txHash(productID string, fp domain.Fingerprint, height uint64) domain.LedgerReference {
	h := sha256.New()
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], height)
	h.Write(buf[:])
	h.Write([]byte(productID))
	h.Write([]byte{0})
	h.Write([]byte(fp))
	return domain.LedgerReference("0x" + hex.EncodeToString(h.Sum(nil)))
}
