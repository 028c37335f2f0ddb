package escrow

import (
	"errors"
	"math/big"
	"testing"

	"zkescrow/action"
	"zkescrow/condition"
	coreerrors "zkescrow/core/errors"
	"zkescrow/ledger"
	"zkescrow/storage"
)

func sampleEscrow(id string) *Escrow {
	amount, _ := new(big.Int).SetString("500000000000000000", 10)
	conditions := []condition.Condition{
		{Kind: condition.KindTimeLock, TimeLock: &condition.TimeLock{UnlockAfter: 1_700_000_100}},
		{Kind: condition.KindHashLock, HashLock: &condition.HashLock{Algorithm: "sha256", Hash: "ab" + id}},
	}
	return &Escrow{
		ID:          id,
		Amount:      amount,
		Beneficiary: "zke1qtestbeneficiary",
		Conditions:  conditions,
		Timeout:     DefaultTimeout,
		Action: &action.Descriptor{
			Environment: "polygon",
			Contract:    "0xbadge",
			Method:      "mintBadge",
			Params:      map[string]string{"tier": "gold"},
		},
		Lock: &ledger.LockRef{
			TxID:   "lock-tx-" + id,
			Vout:   1,
			Value:  new(big.Int).Set(amount),
			Script: []byte{0x01, 0x02, 0x03},
		},
		Fingerprint: condition.Fingerprint(conditions),
		CreatedAt:   1_700_000_000,
		Status:      StatusActive,
	}
}

func runStoreSuite(t *testing.T, store Store) {
	t.Helper()

	t.Run("missing record", func(t *testing.T) {
		if _, ok, err := store.Get("absent"); err != nil || ok {
			t.Fatalf("get absent = (%v, %v)", ok, err)
		}
	})

	t.Run("round trip", func(t *testing.T) {
		original := sampleEscrow("esc-rt")
		if err := store.Put(original); err != nil {
			t.Fatalf("put: %v", err)
		}
		got, ok, err := store.Get("esc-rt")
		if err != nil || !ok {
			t.Fatalf("get = (%v, %v)", ok, err)
		}
		if got.Amount.Cmp(original.Amount) != 0 {
			t.Fatalf("amount = %s, want %s", got.Amount, original.Amount)
		}
		if got.Beneficiary != original.Beneficiary || got.Timeout != original.Timeout || got.CreatedAt != original.CreatedAt {
			t.Fatalf("scalar fields diverged: %+v", got)
		}
		if got.Fingerprint != original.Fingerprint {
			t.Fatal("fingerprint diverged")
		}
		if len(got.Conditions) != 2 || got.Conditions[0].TimeLock.UnlockAfter != 1_700_000_100 {
			t.Fatalf("conditions diverged: %+v", got.Conditions)
		}
		if got.Action == nil || got.Action.Params["tier"] != "gold" {
			t.Fatalf("action diverged: %+v", got.Action)
		}
		if got.Lock == nil || got.Lock.TxID != "lock-tx-esc-rt" || got.Lock.Vout != 1 {
			t.Fatalf("lock ref diverged: %+v", got.Lock)
		}
	})

	t.Run("snapshots are isolated", func(t *testing.T) {
		original := sampleEscrow("esc-iso")
		if err := store.Put(original); err != nil {
			t.Fatalf("put: %v", err)
		}
		// Mutations on the caller's record and on a returned snapshot must
		// not leak into stored state.
		original.Amount.SetInt64(1)
		first, _, _ := store.Get("esc-iso")
		first.Beneficiary = "mutated"
		first.Conditions[0].TimeLock.UnlockAfter = 0
		second, _, _ := store.Get("esc-iso")
		if second.Beneficiary != "zke1qtestbeneficiary" {
			t.Fatalf("beneficiary leaked: %s", second.Beneficiary)
		}
		if second.Amount.Cmp(big.NewInt(1)) == 0 {
			t.Fatal("amount aliased to caller record")
		}
		if second.Conditions[0].TimeLock.UnlockAfter != 1_700_000_100 {
			t.Fatal("condition mutation leaked")
		}
	})

	t.Run("compare and swap", func(t *testing.T) {
		if err := store.Put(sampleEscrow("esc-cas")); err != nil {
			t.Fatalf("put: %v", err)
		}
		updated, err := store.CompareAndSwapStatus("esc-cas", StatusActive, StatusReleased)
		if err != nil {
			t.Fatalf("cas: %v", err)
		}
		if updated.Status != StatusReleased {
			t.Fatalf("status = %s, want released", updated.Status)
		}
		if _, err := store.CompareAndSwapStatus("esc-cas", StatusActive, StatusRefunded); !errors.Is(err, coreerrors.ErrInvalidState) {
			t.Fatalf("expected ErrInvalidState on lost race, got %v", err)
		}
		if _, err := store.CompareAndSwapStatus("esc-gone", StatusActive, StatusReleased); !errors.Is(err, coreerrors.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("rejects empty id", func(t *testing.T) {
		if err := store.Put(&Escrow{}); err == nil {
			t.Fatal("empty id accepted")
		}
	})
}

func TestMemStore(t *testing.T) {
	runStoreSuite(t, NewMemStore())
}

func TestKVStore(t *testing.T) {
	runStoreSuite(t, NewKVStore(storage.NewMemDB()))
}

func TestKVStoreIDs(t *testing.T) {
	db := storage.NewMemDB()
	store := NewKVStore(db)
	for _, id := range []string{"esc-a", "esc-b"} {
		if err := store.Put(sampleEscrow(id)); err != nil {
			t.Fatalf("put %s: %v", id, err)
		}
	}
	// Unrelated keys must not surface as escrow ids.
	if err := db.Put([]byte("cursor/events"), []byte("42")); err != nil {
		t.Fatalf("put cursor: %v", err)
	}
	ids, err := store.IDs()
	if err != nil {
		t.Fatalf("ids: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("ids = %v, want two escrows", ids)
	}
	seen := map[string]bool{}
	for _, id := range ids {
		seen[id] = true
	}
	if !seen["esc-a"] || !seen["esc-b"] {
		t.Fatalf("ids = %v", ids)
	}
}
