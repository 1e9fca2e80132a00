package usecase

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"qrtrust/internal/domain"
	"qrtrust/internal/infra/anchor"
	"qrtrust/internal/infra/anchor/memledger"
	"qrtrust/internal/infra/auditlog"
	"qrtrust/internal/infra/keys"
	"qrtrust/internal/infra/memstore"
	"qrtrust/internal/infra/reservation"
)

// recordingStore wraps memstore with call counting and failure injection.
type recordingStore struct {
	*memstore.Store
	lookups   atomic.Int32
	createErr error
}

func (s *recordingStore) CreateIssuance(ctx context.Context, issuance domain.Issuance) error {
	if s.createErr != nil {
		return s.createErr
	}
	return s.Store.CreateIssuance(ctx, issuance)
}

func (s *recordingStore) GetByReference(ctx context.Context, ref domain.LedgerReference) (domain.Issuance, error) {
	s.lookups.Add(1)
	return s.Store.GetByReference(ctx, ref)
}

// stubRegistry fails or blocks instead of anchoring.
type stubRegistry struct {
	storeErr error
	block    chan struct{}
	stored   atomic.Int32
}

func (r *stubRegistry) Name() string { return "stub" }

func (r *stubRegistry) StoreProduct(ctx context.Context, productID string, fp domain.Fingerprint) (anchor.TxReceipt, error) {
	r.stored.Add(1)
	if r.block != nil {
		select {
		case <-r.block:
		case <-ctx.Done():
			return anchor.TxReceipt{}, ctx.Err()
		}
	}
	if r.storeErr != nil {
		return anchor.TxReceipt{}, r.storeErr
	}
	return anchor.TxReceipt{Reference: "0xstub"}, nil
}

func (r *stubRegistry) GetProduct(ctx context.Context, productID string) (domain.Fingerprint, error) {
	return "", domain.ErrLedgerUnavailable
}

type countingSigner struct {
	inner AttestationSigner
	calls atomic.Int32
}

func (s *countingSigner) Sign(ref domain.LedgerReference) ([]byte, error) {
	s.calls.Add(1)
	return s.inner.Sign(ref)
}

type staticPolicy struct {
	result domain.PolicyResult
	calls  int
	mu     sync.Mutex
}

func (p *staticPolicy) Evaluate(ctx context.Context, input domain.PolicyInput) (domain.PolicyEvaluation, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	return domain.PolicyEvaluation{BundleHash: "test", Result: p.result}, nil
}

type harness struct {
	registry *memledger.Registry
	store    *recordingStore
	pair     *keys.KeyPair
	signer   *countingSigner
	audit    *auditlog.MemorySink
	hook     *test.Hook
	logger   *logrus.Logger
	issue    *IssueProduct
	verify   *VerifyAttestation
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	registry := memledger.New()
	return newHarnessWithRegistry(t, registry, registry, time.Second)
}

func newHarnessWithRegistry(t *testing.T, registry anchor.Registry, mem *memledger.Registry, timeout time.Duration) *harness {
	t.Helper()
	logger, hook := test.NewNullLogger()
	client, err := anchor.NewClient(registry, timeout, anchor.WithLogger(logger))
	if err != nil {
		t.Fatalf("anchor client: %v", err)
	}
	pair, err := keys.NewEd25519KeyPair(bytes.Repeat([]byte{7}, 32))
	if err != nil {
		t.Fatalf("key pair: %v", err)
	}
	h := &harness{
		registry: mem,
		store:    &recordingStore{Store: memstore.New()},
		pair:     pair,
		signer:   &countingSigner{inner: pair.Signer()},
		audit:    auditlog.NewMemorySink(100),
		hook:     hook,
		logger:   logger,
	}
	h.issue = &IssueProduct{
		Store:    h.store,
		Ledger:   client,
		Signer:   h.signer,
		Reserver: reservation.NewMemory(),
		Log:      logger,
		Clock:    func() time.Time { return time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC) },
	}
	h.verify = &VerifyAttestation{
		Verifier: pair.Verifier(),
		Store:    h.store,
		Ledger:   client,
		Audit:    h.audit,
		Log:      logger,
	}
	return h
}

func p100() IssueProductRequest {
	return IssueProductRequest{ProductID: "P100", Temperature: 4.5, Location: "Colombo"}
}

func mustIssue(t *testing.T, h *harness, req IssueProductRequest) *IssueProductResponse {
	t.Helper()
	resp, err := h.issue.Execute(context.Background(), req)
	if err != nil {
		t.Fatalf("issue %s: %v", req.ProductID, err)
	}
	return resp
}

func expectErr(t *testing.T, err, want error) {
	t.Helper()
	if !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
}

// lateRegistry accepts a write immediately but only commits it to the wrapped
// ledger after delay, like a transaction mined after the caller stopped
// waiting. With reportRef unset it behaves like a ledger that hands out no
// reference until commit.
type lateRegistry struct {
	*memledger.Registry
	delay     time.Duration
	reportRef bool
	committed chan struct{}
	stores    atomic.Int32
}

func newLateRegistry(delay time.Duration, reportRef bool) *lateRegistry {
	return &lateRegistry{
		Registry:  memledger.New(),
		delay:     delay,
		reportRef: reportRef,
		committed: make(chan struct{}),
	}
}

func (r *lateRegistry) StoreProduct(ctx context.Context, productID string, fp domain.Fingerprint) (anchor.TxReceipt, error) {
	if r.stores.Add(1) > 1 {
		select {
		case <-r.committed:
			return r.Registry.StoreProduct(ctx, productID, fp)
		case <-ctx.Done():
			return anchor.TxReceipt{}, ctx.Err()
		}
	}
	go func() {
		time.Sleep(r.delay)
		_, _ = r.Registry.StoreProduct(context.Background(), productID, fp)
		close(r.committed)
	}()
	<-ctx.Done()
	if !r.reportRef {
		return anchor.TxReceipt{}, ctx.Err()
	}
	return anchor.TxReceipt{Reference: domain.LedgerReference("0xsubmitted-" + productID), Pending: true}, ctx.Err()
}

func (r *lateRegistry) waitCommitted(t *testing.T) {
	t.Helper()
	select {
	case <-r.committed:
	case <-time.After(2 * time.Second):
		t.Fatal("late write never committed")
	}
}
