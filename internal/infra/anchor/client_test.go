package anchor_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"

	"qrtrust/internal/domain"
	"qrtrust/internal/infra/anchor"
	"qrtrust/internal/infra/anchor/memledger"
)

type stubRegistry struct {
	receipt anchor.TxReceipt
	err     error
	fp      domain.Fingerprint
	block   chan struct{}
}

func (s *stubRegistry) Name() string { return "stub" }

func (s *stubRegistry) StoreProduct(ctx context.Context, productID string, fp domain.Fingerprint) (anchor.TxReceipt, error) {
	if s.block != nil {
		<-s.block
	}
	return s.receipt, s.err
}

func (s *stubRegistry) GetProduct(ctx context.Context, productID string) (domain.Fingerprint, error) {
	if s.block != nil {
		<-s.block
	}
	return s.fp, s.err
}

type stubAttemptStore struct {
	attempts []domain.AnchorAttempt
	err      error
}

func (s *stubAttemptStore) Append(ctx context.Context, attempt domain.AnchorAttempt) error {
	s.attempts = append(s.attempts, attempt)
	return s.err
}

func (s *stubAttemptStore) ListByProductID(ctx context.Context, productID string) ([]domain.AnchorAttempt, error) {
	var out []domain.AnchorAttempt
	for _, a := range s.attempts {
		if a.ProductID == productID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *stubAttemptStore) last(t *testing.T) domain.AnchorAttempt {
	t.Helper()
	if len(s.attempts) == 0 {
		t.Fatal("no anchor attempt recorded")
	}
	return s.attempts[len(s.attempts)-1]
}

// awaitingRegistry leaves its first write pending and confirms it once the
// receipt wait is resumed.
type awaitingRegistry struct {
	stores  int
	awaited []domain.LedgerReference
	result  error
}

func (r *awaitingRegistry) Name() string { return "awaiting" }

func (r *awaitingRegistry) StoreProduct(ctx context.Context, productID string, fp domain.Fingerprint) (anchor.TxReceipt, error) {
	r.stores++
	return anchor.TxReceipt{Reference: "0xabc", Pending: true}, context.DeadlineExceeded
}

func (r *awaitingRegistry) GetProduct(ctx context.Context, productID string) (domain.Fingerprint, error) {
	return "", domain.ErrLedgerNotFound
}

func (r *awaitingRegistry) AwaitReceipt(ctx context.Context, ref domain.LedgerReference) (anchor.TxReceipt, error) {
	r.awaited = append(r.awaited, ref)
	if r.result != nil {
		return anchor.TxReceipt{}, r.result
	}
	return anchor.TxReceipt{Reference: ref, BlockNumber: 7}, nil
}

func newClient(t *testing.T, reg anchor.Registry, timeout time.Duration, attempts domain.AnchorAttemptRecorder) *anchor.Client {
	t.Helper()
	logger, _ := test.NewNullLogger()
	client, err := anchor.NewClient(reg, timeout, anchor.WithLogger(logger), anchor.WithAttemptRecorder(attempts))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func TestAnchorReturnsConfirmedReference(t *testing.T) {
	reg := &stubRegistry{receipt: anchor.TxReceipt{Reference: "0xfeed", BlockNumber: 9}}
	attempts := &stubAttemptStore{}
	client := newClient(t, reg, time.Second, attempts)

	ref, err := client.Anchor(context.Background(), "P100", "abc")
	if err != nil {
		t.Fatalf("anchor: %v", err)
	}
	if ref != "0xfeed" {
		t.Fatalf("unexpected reference %s", ref)
	}
	if len(attempts.attempts) != 1 {
		t.Fatalf("expected 1 attempt, got %d", len(attempts.attempts))
	}
	got := attempts.attempts[0]
	if got.Status != domain.AnchorStatusAnchored || got.LedgerReference != "0xfeed" || got.Provider != "stub" {
		t.Fatalf("unexpected attempt %+v", got)
	}
}

func TestAnchorErrorMapping(t *testing.T) {
	cases := map[string]struct {
		reg  *stubRegistry
		want error
	}{
		"blank reference":   {reg: &stubRegistry{receipt: anchor.TxReceipt{Reference: "  "}}, want: domain.ErrLedgerUnavailable},
		"rejected":          {reg: &stubRegistry{err: domain.ErrLedgerRejected}, want: domain.ErrLedgerRejected},
		"transport error":   {reg: &stubRegistry{err: errors.New("connection refused")}, want: domain.ErrLedgerUnavailable},
		"deadline from rpc": {reg: &stubRegistry{err: context.DeadlineExceeded}, want: domain.ErrLedgerTimeout},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			attempts := &stubAttemptStore{}
			client := newClient(t, tc.reg, time.Second, attempts)
			ref, err := client.Anchor(context.Background(), "P100", "abc")
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if ref != "" {
				t.Fatalf("expected no reference on failure, got %q", ref)
			}
			if len(attempts.attempts) != 1 || attempts.attempts[0].Status != domain.AnchorStatusFailed {
				t.Fatalf("expected failed attempt, got %+v", attempts.attempts)
			}
			if attempts.attempts[0].ErrorCode != domain.ErrorCode(tc.want) {
				t.Fatalf("expected error code %s, got %s", domain.ErrorCode(tc.want), attempts.attempts[0].ErrorCode)
			}
		})
	}
}

func TestAnchorTimesOutWhenRegistryHangs(t *testing.T) {
	reg := &stubRegistry{block: make(chan struct{}), receipt: anchor.TxReceipt{Reference: "0xlate"}}
	defer close(reg.block)
	client := newClient(t, reg, 20*time.Millisecond, nil)

	started := time.Now()
	ref, err := client.Anchor(context.Background(), "P100", "abc")
	if !errors.Is(err, domain.ErrLedgerTimeout) {
		t.Fatalf("expected ErrLedgerTimeout, got %v", err)
	}
	if ref != "" {
		t.Fatalf("expected no reference, got %s", ref)
	}
	if elapsed := time.Since(started); elapsed > time.Second {
		t.Fatalf("timeout not bounded: %s", elapsed)
	}
}

func TestAnchorCancelledByCaller(t *testing.T) {
	reg := &stubRegistry{block: make(chan struct{})}
	defer close(reg.block)
	client := newClient(t, reg, time.Minute, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := client.Anchor(ctx, "P100", "abc"); !errors.Is(err, domain.ErrLedgerUnavailable) {
		t.Fatalf("expected ErrLedgerUnavailable, got %v", err)
	}
}

func TestLookup(t *testing.T) {
	client := newClient(t, &stubRegistry{fp: ""}, time.Second, nil)
	if _, err := client.Lookup(context.Background(), "P100"); !errors.Is(err, domain.ErrLedgerNotFound) {
		t.Fatalf("expected ErrLedgerNotFound for empty result, got %v", err)
	}

	client = newClient(t, &stubRegistry{err: errors.New("dial tcp: refused")}, time.Second, nil)
	if _, err := client.Lookup(context.Background(), "P100"); !errors.Is(err, domain.ErrLedgerUnavailable) {
		t.Fatalf("expected ErrLedgerUnavailable, got %v", err)
	}

	reg := &stubRegistry{block: make(chan struct{})}
	defer close(reg.block)
	client = newClient(t, reg, 20*time.Millisecond, nil)
	if _, err := client.Lookup(context.Background(), "P100"); !errors.Is(err, domain.ErrLedgerTimeout) {
		t.Fatalf("expected ErrLedgerTimeout, got %v", err)
	}
}

func TestClientWithMemoryLedger(t *testing.T) {
	reg := memledger.New()
	client := newClient(t, reg, time.Second, nil)
	ctx := context.Background()

	ref, err := client.Anchor(ctx, "P100", "fp-1")
	if err != nil {
		t.Fatalf("anchor: %v", err)
	}
	if len(ref) != 66 {
		t.Fatalf("expected 0x-prefixed sha256 reference, got %q", ref)
	}
	fp, err := client.Lookup(ctx, "P100")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if fp != "fp-1" {
		t.Fatalf("unexpected fingerprint %s", fp)
	}
	if _, err := client.Anchor(ctx, "P100", "fp-2"); !errors.Is(err, domain.ErrLedgerRejected) {
		t.Fatalf("expected duplicate to be rejected, got %v", err)
	}
	if _, err := client.Lookup(ctx, "P404"); !errors.Is(err, domain.ErrLedgerNotFound) {
		t.Fatalf("expected ErrLedgerNotFound, got %v", err)
	}
}

func TestAnchorTimeoutKeepsSubmittedReference(t *testing.T) {
	reg := &stubRegistry{receipt: anchor.TxReceipt{Reference: "0xabc", Pending: true}, err: context.DeadlineExceeded}
	attempts := &stubAttemptStore{}
	client := newClient(t, reg, time.Second, attempts)

	ref, err := client.Anchor(context.Background(), "P100", "fp-1")
	if !errors.Is(err, domain.ErrLedgerTimeout) {
		t.Fatalf("expected ErrLedgerTimeout, got %v", err)
	}
	if ref != "" {
		t.Fatalf("an unconfirmed reference must not be returned, got %q", ref)
	}
	got := attempts.last(t)
	if got.Status != domain.AnchorStatusPending || got.LedgerReference != "0xabc" || got.ErrorCode != "LEDGER_TIMEOUT" {
		t.Fatalf("unexpected attempt %+v", got)
	}
}

func TestAnchorResumesPendingWriteThroughReceiptWait(t *testing.T) {
	reg := &awaitingRegistry{}
	attempts := &stubAttemptStore{}
	client := newClient(t, reg, time.Second, attempts)
	ctx := context.Background()

	if _, err := client.Anchor(ctx, "P100", "fp-1"); !errors.Is(err, domain.ErrLedgerTimeout) {
		t.Fatalf("expected ErrLedgerTimeout, got %v", err)
	}
	ref, err := client.Anchor(ctx, "P100", "fp-1")
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if ref != "0xabc" || reg.stores != 1 {
		t.Fatalf("expected the pending write to be resumed, got ref %q after %d writes", ref, reg.stores)
	}
	if len(reg.awaited) != 1 || reg.awaited[0] != "0xabc" {
		t.Fatalf("unexpected receipt waits %v", reg.awaited)
	}
	if got := attempts.last(t); got.Status != domain.AnchorStatusAnchored || got.LedgerReference != "0xabc" {
		t.Fatalf("unexpected attempt %+v", got)
	}
}

func TestAnchorResubmitsWhenPendingWriteReverted(t *testing.T) {
	reg := &awaitingRegistry{result: domain.ErrLedgerRejected}
	client := newClient(t, reg, time.Second, nil)
	ctx := context.Background()

	_, _ = client.Anchor(ctx, "P100", "fp-1")
	if _, err := client.Anchor(ctx, "P100", "fp-1"); !errors.Is(err, domain.ErrLedgerTimeout) {
		t.Fatalf("expected the fresh write to time out, got %v", err)
	}
	if reg.stores != 2 {
		t.Fatalf("expected a fresh write after the revert, got %d writes", reg.stores)
	}
}

func TestAnchorResumesFromAttemptLogAfterRestart(t *testing.T) {
	reg := memledger.New()
	ctx := context.Background()
	if _, err := reg.StoreProduct(ctx, "P100", "fp-1"); err != nil {
		t.Fatalf("seed ledger: %v", err)
	}
	attempts := &stubAttemptStore{attempts: []domain.AnchorAttempt{
		{ProductID: "P100", Provider: "memory", Status: domain.AnchorStatusPending, ErrorCode: "LEDGER_TIMEOUT", Fingerprint: "fp-1", LedgerReference: "0xabc"},
	}}
	client := newClient(t, reg, time.Second, attempts)

	if _, err := client.Anchor(ctx, "P100", "fp-2"); !errors.Is(err, domain.ErrLedgerRejected) {
		t.Fatalf("a different fingerprint must stay rejected, got %v", err)
	}
	ref, err := client.Anchor(ctx, "P100", "fp-1")
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if ref != "0xabc" {
		t.Fatalf("expected recorded pending reference, got %q", ref)
	}
	if reg.Len() != 1 {
		t.Fatalf("expected no second ledger entry, got %d", reg.Len())
	}
}

func TestAnchorDuplicateOfSameFingerprintWithoutReference(t *testing.T) {
	reg := memledger.New()
	ctx := context.Background()
	if _, err := reg.StoreProduct(ctx, "P100", "fp-1"); err != nil {
		t.Fatalf("seed ledger: %v", err)
	}
	client := newClient(t, reg, time.Second, nil)

	_, err := client.Anchor(ctx, "P100", "fp-1")
	if !errors.Is(err, domain.ErrLedgerPending) {
		t.Fatalf("expected ErrLedgerPending, got %v", err)
	}
	if domain.Retryable(err) {
		t.Fatal("an unreconciled entry is not retryable")
	}
}
