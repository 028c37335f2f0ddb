package core

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"testing"

	"zkescrow/action"
	"zkescrow/condition"
	coreerrors "zkescrow/core/errors"
	"zkescrow/escrow"
	"zkescrow/ledger"
	"zkescrow/proof"
)

const coordTestNow int64 = 1_700_000_000

func newTestCoordinator(t *testing.T) *Coordinator {
	t.Helper()
	prover := proof.NewService()
	prover.SetNowFunc(func() int64 { return coordTestNow })
	coord, err := NewCoordinator(Config{
		Store:  escrow.NewMemStore(),
		Ledger: ledger.NewSimLedger(),
		Prover: prover,
	})
	if err != nil {
		t.Fatalf("new coordinator: %v", err)
	}
	coord.Engine().SetNowFunc(func() int64 { return coordTestNow })
	seq := 0
	coord.Engine().SetIDFunc(func() (string, error) {
		seq++
		return fmt.Sprintf("esc-%d", seq), nil
	})
	coord.Feed().SetNowFunc(func() int64 { return coordTestNow })
	return coord
}

func coordTimeLock(unlockAfter int64) []condition.Condition {
	return []condition.Condition{{
		Kind:     condition.KindTimeLock,
		TimeLock: &condition.TimeLock{UnlockAfter: unlockAfter},
	}}
}

func TestNewCoordinatorRequiresCollaborators(t *testing.T) {
	if _, err := NewCoordinator(Config{Ledger: ledger.NewSimLedger()}); err == nil {
		t.Fatal("expected error without store")
	}
	if _, err := NewCoordinator(Config{Store: escrow.NewMemStore()}); err == nil {
		t.Fatal("expected error without ledger")
	}
	coord, err := NewCoordinator(Config{Store: escrow.NewMemStore(), Ledger: ledger.NewSimLedger()})
	if err != nil {
		t.Fatalf("minimal config rejected: %v", err)
	}
	if coord.Engine() == nil || coord.Feed() == nil {
		t.Fatal("missing engine or feed")
	}
}

func TestCoordinatorReleaseFlow(t *testing.T) {
	coord := newTestCoordinator(t)

	esc, err := coord.CreateEscrow(context.Background(), escrow.CreateParams{
		Amount:      big.NewInt(1_000_000),
		Beneficiary: "zke1beneficiary",
		Conditions:  coordTimeLock(coordTestNow - 10),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	att, err := coord.GenerateProof(esc.ID, map[string]string{
		"timestamp":   fmt.Sprintf("%d", coordTestNow),
		"beneficiary": esc.Beneficiary,
		"amount":      esc.Amount.String(),
	})
	if err != nil {
		t.Fatalf("generate proof: %v", err)
	}
	if att.CircuitID != esc.CircuitID() {
		t.Fatalf("circuit = %s, want %s bound from the stored conditions", att.CircuitID, esc.CircuitID())
	}
	if result := coord.VerifyProof(att); !result.Valid {
		t.Fatalf("verify failed: %s", result.Err)
	}

	receipt, err := coord.ExecuteRelease(context.Background(), escrow.ReleaseParams{
		EscrowID:     esc.ID,
		Proof:        att.Proof,
		PublicInputs: att.PublicInputs,
		CircuitID:    att.CircuitID,
	})
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if receipt.Status != escrow.StatusReleased || receipt.ReleaseRef == "" {
		t.Fatalf("receipt = %+v", receipt)
	}

	got, ok := coord.GetEscrow(esc.ID)
	if !ok || got.Status != escrow.StatusReleased {
		t.Fatalf("escrow after release: ok=%v status=%v", ok, got.Status)
	}

	entries := coord.EventsSince(0, 0)
	if len(entries) != 2 {
		t.Fatalf("len(events) = %d, want 2", len(entries))
	}
	if entries[0].Type != escrow.EventTypeCreated || entries[1].Type != escrow.EventTypeReleased {
		t.Fatalf("event types = %s, %s", entries[0].Type, entries[1].Type)
	}
	if entries[1].Attributes["id"] != esc.ID {
		t.Fatalf("released event id = %s", entries[1].Attributes["id"])
	}
}

func TestCoordinatorRefundGate(t *testing.T) {
	coord := newTestCoordinator(t)

	esc, err := coord.CreateEscrow(context.Background(), escrow.CreateParams{
		Amount:      big.NewInt(250),
		Beneficiary: "zke1beneficiary",
		Conditions:  coordTimeLock(coordTestNow + 3600),
		Timeout:     60,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := coord.RefundEscrow(context.Background(), esc.ID); !errors.Is(err, coreerrors.ErrTimeoutNotElapsed) {
		t.Fatalf("expected ErrTimeoutNotElapsed, got %v", err)
	}

	coord.Engine().SetNowFunc(func() int64 { return coordTestNow + 61 })
	receipt, err := coord.RefundEscrow(context.Background(), esc.ID)
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	if receipt.Status != escrow.StatusRefunded || receipt.RefundRef == "" {
		t.Fatalf("receipt = %+v", receipt)
	}
}

func TestCoordinatorGenerateProofUnknownEscrow(t *testing.T) {
	coord := newTestCoordinator(t)

	att, err := coord.GenerateProof("esc-missing", map[string]string{"timestamp": "1"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if att.CircuitID != condition.CircuitID(nil) {
		t.Fatalf("circuit = %s, want the empty-set identifier", att.CircuitID)
	}
}

func TestCoordinatorBatchEnrichesFromStore(t *testing.T) {
	coord := newTestCoordinator(t)

	esc, err := coord.CreateEscrow(context.Background(), escrow.CreateParams{
		Amount:      big.NewInt(42),
		Beneficiary: "zke1beneficiary",
		Conditions:  coordTimeLock(coordTestNow - 1),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	explicit := coordTimeLock(coordTestNow + 99)

	atts, err := coord.BatchGenerateProofs([]proof.Request{
		{EscrowID: esc.ID, ConditionData: map[string]string{"timestamp": "1"}},
		{EscrowID: "esc-external", ConditionData: map[string]string{"timestamp": "2"}, Conditions: explicit},
	})
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if len(atts) != 2 {
		t.Fatalf("len(atts) = %d, want 2", len(atts))
	}
	if atts[0].CircuitID != esc.CircuitID() {
		t.Fatalf("atts[0] circuit = %s, want stored-set binding", atts[0].CircuitID)
	}
	if atts[1].CircuitID != condition.CircuitID(explicit) {
		t.Fatalf("atts[1] circuit = %s, want explicit-set binding", atts[1].CircuitID)
	}
}

func TestCoordinatorBatchFailsFast(t *testing.T) {
	coord := newTestCoordinator(t)

	atts, err := coord.BatchGenerateProofs([]proof.Request{
		{EscrowID: "esc-1", ConditionData: map[string]string{"timestamp": "1"}},
		{EscrowID: "", ConditionData: map[string]string{"timestamp": "2"}},
	})
	if !errors.Is(err, coreerrors.ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
	if atts != nil {
		t.Fatalf("expected no partial results, got %d", len(atts))
	}
}

func TestCoordinatorActionSurfacesWithoutTrigger(t *testing.T) {
	coord := newTestCoordinator(t)

	_, err := coord.TriggerAction(context.Background(), action.Descriptor{Environment: "polygon", Method: "mint"}, "esc-1", nil)
	if !errors.Is(err, coreerrors.ErrActionDispatchFailed) {
		t.Fatalf("expected ErrActionDispatchFailed, got %v", err)
	}
	if _, ok := coord.ActionStatus("esc-1@1"); ok {
		t.Fatal("unexpected pending result")
	}
	if _, err := coord.ArchivedActionResult("esc-1"); !errors.Is(err, action.ErrResultNotFound) {
		t.Fatalf("expected ErrResultNotFound, got %v", err)
	}
}

func TestCoordinatorSubscribeStreamsReleases(t *testing.T) {
	coord := newTestCoordinator(t)

	updates, cancel, backlog := coord.SubscribeEvents(context.Background(), 0)
	defer cancel()
	if len(backlog) != 0 {
		t.Fatalf("unexpected backlog: %d entries", len(backlog))
	}

	if _, err := coord.CreateEscrow(context.Background(), escrow.CreateParams{
		Amount:      big.NewInt(7),
		Beneficiary: "zke1beneficiary",
		Conditions:  coordTimeLock(coordTestNow - 1),
	}); err != nil {
		t.Fatalf("create: %v", err)
	}

	entry := <-updates
	if entry.Type != escrow.EventTypeCreated || entry.Sequence != 1 {
		t.Fatalf("entry = %+v", entry)
	}
}
