package memledger

import (
	"context"
	"errors"
	"testing"

	"qrtrust/internal/domain"
)

func TestStoreProductIsWriteOnce(t *testing.T) {
	reg := New()
	ctx := context.Background()

	first, err := reg.StoreProduct(ctx, "P100", "abc")
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	if first.BlockNumber != 1 || len(first.Reference) != 66 {
		t.Fatalf("unexpected receipt %+v", first)
	}
	if _, err := reg.StoreProduct(ctx, "P100", "def"); !errors.Is(err, domain.ErrLedgerRejected) {
		t.Fatalf("expected ErrLedgerRejected, got %v", err)
	}
	fp, err := reg.GetProduct(ctx, "P100")
	if err != nil || fp != "abc" {
		t.Fatalf("expected original fingerprint, got %q, %v", fp, err)
	}

	second, err := reg.StoreProduct(ctx, "P200", "abc")
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	if second.Reference == first.Reference {
		t.Fatal("references must be unique per anchor")
	}
}

func TestGetProductMissingAndCancelled(t *testing.T) {
	reg := New()
	if _, err := reg.GetProduct(context.Background(), "P404"); !errors.Is(err, domain.ErrLedgerNotFound) {
		t.Fatalf("expected ErrLedgerNotFound, got %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := reg.StoreProduct(ctx, "P100", "abc"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if reg.Len() != 0 {
		t.Fatal("cancelled store must not write")
	}
}
