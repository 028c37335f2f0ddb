package proof

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"zkescrow/condition"
	coreerrors "zkescrow/core/errors"
)

func newTestService() *Service {
	svc := NewService()
	svc.SetNowFunc(func() int64 { return 1_700_000_000 })
	svc.SetNonceFunc(func() ([]byte, error) {
		return []byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15}, nil
	})
	return svc
}

func testConditions() []condition.Condition {
	return []condition.Condition{
		{Kind: condition.KindTimeLock, TimeLock: &condition.TimeLock{UnlockAfter: 1_699_999_999}},
		{Kind: condition.KindHashLock, HashLock: &condition.HashLock{Algorithm: "sha256", Hash: "ab"}},
	}
}

func TestGenerateValidatesRequest(t *testing.T) {
	svc := newTestService()
	if _, err := svc.Generate("", map[string]string{"timestamp": "1"}, nil); !errors.Is(err, coreerrors.ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest for empty escrow id, got %v", err)
	}
	if _, err := svc.Generate("esc-1", nil, nil); !errors.Is(err, coreerrors.ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest for empty condition data, got %v", err)
	}
}

func TestGenerateVerifyRoundTrip(t *testing.T) {
	svc := newTestService()
	att, err := svc.Generate("esc-1", map[string]string{"timestamp": "1700000000"}, testConditions())
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if att.CircuitID != "escrow-hashlock-timelock-v1" {
		t.Fatalf("unexpected circuit id %s", att.CircuitID)
	}
	if !att.Verified {
		t.Fatal("generated attestation should self-report verified")
	}
	res := svc.Verify(att)
	if !res.Valid {
		t.Fatalf("round-trip verification failed: %s", res.Err)
	}
	if res.CostEstimate == 0 {
		t.Fatal("expected a non-zero cost estimate")
	}
}

func TestGenerateCircuitIDFallback(t *testing.T) {
	svc := newTestService()
	att, err := svc.Generate("esc-1", map[string]string{"amount": "5"}, nil)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if att.CircuitID != condition.GenericCircuitID {
		t.Fatalf("expected generic circuit id, got %s", att.CircuitID)
	}
}

func TestGenerateDeterministicAcrossOrdering(t *testing.T) {
	svc := newTestService()
	conds := testConditions()
	reversed := []condition.Condition{conds[1], conds[0]}
	a, err := svc.Generate("esc-1", map[string]string{"timestamp": "1"}, conds)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	b, err := svc.Generate("esc-1", map[string]string{"timestamp": "1"}, reversed)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if a.CircuitID != b.CircuitID {
		t.Fatalf("circuit id depends on condition order: %s vs %s", a.CircuitID, b.CircuitID)
	}
}

func TestPublicInputOrdering(t *testing.T) {
	svc := newTestService()
	att, err := svc.Generate("esc-1", map[string]string{
		"amount":      "500000000000000000",
		"timestamp":   "1700000000",
		"beneficiary": "addr1",
	}, nil)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	want := []string{"1700000000", "esc-1", "addr1", "500000000000000000"}
	if len(att.PublicInputs) != len(want) {
		t.Fatalf("public inputs %v, want %v", att.PublicInputs, want)
	}
	for i := range want {
		if att.PublicInputs[i] != want[i] {
			t.Fatalf("public input #%d = %q, want %q", i, att.PublicInputs[i], want[i])
		}
	}

	// Absent fields are omitted, escrow id always present.
	att, err = svc.Generate("esc-2", map[string]string{"oracleValue": "42"}, nil)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(att.PublicInputs) != 1 || att.PublicInputs[0] != "esc-2" {
		t.Fatalf("expected only escrow id in public inputs, got %v", att.PublicInputs)
	}
}

func TestWitnessNeverLeaks(t *testing.T) {
	svc := newTestService()
	att, err := svc.Generate("esc-1", map[string]string{"preimage": "super-secret"}, testConditions())
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if strings.Contains(string(att.Proof), "super-secret") {
		t.Fatal("witness value leaked into proof payload")
	}
	for _, input := range att.PublicInputs {
		if input == "super-secret" {
			t.Fatal("witness value leaked into public inputs")
		}
	}
}

func TestVerifyTamperedCircuitID(t *testing.T) {
	svc := newTestService()
	att, err := svc.Generate("esc-1", map[string]string{"timestamp": "1"}, testConditions())
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	// Tamper the embedded payload identifier but leave the declared one.
	var env map[string]json.RawMessage
	if err := json.Unmarshal(att.Proof, &env); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	env["circuitId"] = json.RawMessage(`"escrow-other-v1"`)
	tampered, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("re-encode payload: %v", err)
	}
	att.Proof = tampered
	if res := svc.Verify(att); res.Valid {
		t.Fatal("verification accepted a tampered embedded circuit id")
	}

	// Tampering the declared identifier must also fail.
	fresh, err := svc.Generate("esc-1", map[string]string{"timestamp": "1"}, testConditions())
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	fresh.CircuitID = "escrow-other-v1"
	if res := svc.Verify(fresh); res.Valid {
		t.Fatal("verification accepted a tampered declared circuit id")
	}
}

func TestVerifyMalformedPayload(t *testing.T) {
	svc := newTestService()
	res := svc.Verify(&Attestation{Proof: []byte("{not json"), CircuitID: "x"})
	if res.Valid {
		t.Fatal("malformed payload verified")
	}
	if res.Err == "" {
		t.Fatal("expected error detail for malformed payload")
	}
	if res := svc.Verify(nil); res.Valid {
		t.Fatal("nil attestation verified")
	}
}

func TestGenerateBatchFailFast(t *testing.T) {
	svc := newTestService()
	reqs := []Request{
		{EscrowID: "esc-1", ConditionData: map[string]string{"timestamp": "1"}},
		{EscrowID: "", ConditionData: map[string]string{"timestamp": "1"}},
		{EscrowID: "esc-3", ConditionData: map[string]string{"timestamp": "1"}},
	}
	atts, err := svc.GenerateBatch(reqs)
	if err == nil {
		t.Fatal("expected batch failure")
	}
	if !errors.Is(err, coreerrors.ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
	if !strings.Contains(err.Error(), "#2") {
		t.Fatalf("error should name the failing request: %v", err)
	}
	if atts != nil {
		t.Fatal("expected no partial results")
	}

	ok, err := svc.GenerateBatch(reqs[:1])
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if len(ok) != 1 {
		t.Fatalf("expected 1 attestation, got %d", len(ok))
	}
}

func TestEstimateCostComposite(t *testing.T) {
	single := EstimateCost("escrow-timelock-v1")
	composite := EstimateCost("escrow-hashlock-timelock-v1")
	if single == 0 || composite == 0 {
		t.Fatal("cost estimates must be non-zero")
	}
	if composite <= single {
		t.Fatal("composite circuit should cost more than a single variant")
	}
	if EstimateCost(condition.GenericCircuitID) != EstimateCost("") {
		t.Fatal("generic fallback estimates disagree")
	}
}
