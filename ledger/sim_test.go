package ledger

import (
	"context"
	"math/big"
	"testing"

	"zkescrow/proof"
)

func testCommitment(fill byte) [32]byte {
	var c [32]byte
	for i := range c {
		c[i] = fill
	}
	return c
}

func TestSimLedgerLockSpend(t *testing.T) {
	l := NewSimLedger()
	ctx := context.Background()

	ref, err := l.Lock(ctx, big.NewInt(500), "addr1", testCommitment(0xAA))
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	if ref.TxID == "" || ref.Value.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("unexpected lock ref %+v", ref)
	}
	if got := l.LockedValue(); got.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("locked value = %s, want 500", got)
	}

	att := &proof.Attestation{Proof: []byte("{}"), CircuitID: "escrow-generic-v1"}
	spendRef, err := l.Spend(ctx, ref, att)
	if err != nil {
		t.Fatalf("spend: %v", err)
	}
	if spendRef == "" {
		t.Fatal("empty spend ref")
	}
	if got := l.LockedValue(); got.Sign() != 0 {
		t.Fatalf("locked value after spend = %s, want 0", got)
	}

	if _, err := l.Spend(ctx, ref, att); err == nil {
		t.Fatal("double spend accepted")
	}
	if _, err := l.Refund(ctx, ref); err == nil {
		t.Fatal("refund of spent outpoint accepted")
	}
}

func TestSimLedgerRefund(t *testing.T) {
	l := NewSimLedger()
	ctx := context.Background()

	ref, err := l.Lock(ctx, big.NewInt(21), "addr2", testCommitment(0x01))
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	refundRef, err := l.Refund(ctx, ref)
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	if refundRef == "" {
		t.Fatal("empty refund ref")
	}
	if _, err := l.Refund(ctx, ref); err == nil {
		t.Fatal("double refund accepted")
	}
}

func TestSimLedgerLockValidation(t *testing.T) {
	l := NewSimLedger()
	ctx := context.Background()
	if _, err := l.Lock(ctx, big.NewInt(0), "addr1", testCommitment(1)); err == nil {
		t.Fatal("zero amount accepted")
	}
	if _, err := l.Lock(ctx, nil, "addr1", testCommitment(1)); err == nil {
		t.Fatal("nil amount accepted")
	}
	if _, err := l.Lock(ctx, big.NewInt(5), "  ", testCommitment(1)); err == nil {
		t.Fatal("blank beneficiary accepted")
	}
}

func TestSimLedgerSpendRequiresAttestation(t *testing.T) {
	l := NewSimLedger()
	ctx := context.Background()
	ref, err := l.Lock(ctx, big.NewInt(5), "addr1", testCommitment(2))
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	if _, err := l.Spend(ctx, ref, nil); err == nil {
		t.Fatal("spend without attestation accepted")
	}
	if _, err := l.Spend(ctx, &LockRef{TxID: "missing", Vout: 0}, &proof.Attestation{}); err == nil {
		t.Fatal("spend of unknown outpoint accepted")
	}
}

func TestSimLedgerDistinctRefs(t *testing.T) {
	l := NewSimLedger()
	ctx := context.Background()
	a, err := l.Lock(ctx, big.NewInt(1), "addr1", testCommitment(3))
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	b, err := l.Lock(ctx, big.NewInt(1), "addr1", testCommitment(3))
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	if a.TxID == b.TxID {
		t.Fatal("sequence-derived tx ids collided")
	}
}
