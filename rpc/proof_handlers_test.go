package rpc

import (
	"encoding/json"
	"net/http/httptest"
	"testing"

	"zkescrow/proof"
)

func TestProofGenerateAndVerify(t *testing.T) {
	env := newTestEnv(t)
	esc := createTestEscrow(t, env, 0)

	req := &RPCRequest{ID: 7, Params: []json.RawMessage{marshalParam(t, map[string]interface{}{
		"escrowId":      esc.ID,
		"conditionData": map[string]string{"timestamp": "1700000000"},
	})}}
	recorder := httptest.NewRecorder()
	env.server.handleProofGenerate(recorder, env.newRequest(), req)
	result, rpcErr := decodeRPCResponse(t, recorder)
	if rpcErr != nil {
		t.Fatalf("generate: %+v", rpcErr)
	}
	var att attestationJSON
	if err := json.Unmarshal(result, &att); err != nil {
		t.Fatalf("decode attestation: %v", err)
	}
	if att.CircuitID != esc.CircuitID {
		t.Fatalf("circuit = %s, want %s", att.CircuitID, esc.CircuitID)
	}
	if att.Proof == "" || len(att.PublicInputs) == 0 {
		t.Fatalf("incomplete attestation: %+v", att)
	}

	verifyReq := &RPCRequest{ID: 8, Params: []json.RawMessage{marshalParam(t, map[string]interface{}{
		"proof":        att.Proof,
		"publicInputs": att.PublicInputs,
		"circuitId":    att.CircuitID,
		"generatedAt":  att.GeneratedAt,
	})}}
	recorder = httptest.NewRecorder()
	env.server.handleProofVerify(recorder, env.newRequest(), verifyReq)
	result, rpcErr = decodeRPCResponse(t, recorder)
	if rpcErr != nil {
		t.Fatalf("verify: %+v", rpcErr)
	}
	var verdict proof.VerificationResult
	if err := json.Unmarshal(result, &verdict); err != nil {
		t.Fatalf("decode verdict: %v", err)
	}
	if !verdict.Valid {
		t.Fatalf("expected valid attestation, got %+v", verdict)
	}
}

func TestProofVerifyRejectsTampered(t *testing.T) {
	env := newTestEnv(t)
	esc := createTestEscrow(t, env, 0)

	verifyReq := &RPCRequest{ID: 3, Params: []json.RawMessage{marshalParam(t, map[string]interface{}{
		"proof":     "0xdeadbeef",
		"circuitId": esc.CircuitID,
	})}}
	recorder := httptest.NewRecorder()
	env.server.handleProofVerify(recorder, env.newRequest(), verifyReq)
	result, rpcErr := decodeRPCResponse(t, recorder)
	if rpcErr != nil {
		t.Fatalf("verify: %+v", rpcErr)
	}
	var verdict proof.VerificationResult
	if err := json.Unmarshal(result, &verdict); err != nil {
		t.Fatalf("decode verdict: %v", err)
	}
	if verdict.Valid {
		t.Fatal("expected tampered attestation to fail")
	}
	if verdict.Err == "" {
		t.Fatal("expected verdict error detail")
	}
}

func TestProofVerifyRejectsBadHex(t *testing.T) {
	env := newTestEnv(t)
	verifyReq := &RPCRequest{ID: 3, Params: []json.RawMessage{marshalParam(t, map[string]interface{}{
		"proof":     "not-hex",
		"circuitId": "zk-unknown",
	})}}
	recorder := httptest.NewRecorder()
	env.server.handleProofVerify(recorder, env.newRequest(), verifyReq)
	_, rpcErr := decodeRPCResponse(t, recorder)
	if rpcErr == nil || rpcErr.Code != codeInvalidParams {
		t.Fatalf("expected code %d, got %+v", codeInvalidParams, rpcErr)
	}
}

func TestProofBatchGenerate(t *testing.T) {
	env := newTestEnv(t)
	first := createTestEscrow(t, env, 0)
	second := createTestEscrow(t, env, 0)

	req := &RPCRequest{ID: 4, Params: []json.RawMessage{marshalParam(t, map[string]interface{}{
		"requests": []map[string]interface{}{
			{"escrowId": first.ID, "conditionData": map[string]string{"timestamp": "1700000000"}},
			{"escrowId": second.ID, "conditionData": map[string]string{"timestamp": "1700000000"}},
		},
	})}}
	recorder := httptest.NewRecorder()
	env.server.handleProofBatchGenerate(recorder, env.newRequest(), req)
	result, rpcErr := decodeRPCResponse(t, recorder)
	if rpcErr != nil {
		t.Fatalf("batch: %+v", rpcErr)
	}
	var atts []attestationJSON
	if err := json.Unmarshal(result, &atts); err != nil {
		t.Fatalf("decode batch: %v", err)
	}
	if len(atts) != 2 {
		t.Fatalf("expected 2 attestations, got %d", len(atts))
	}
	if atts[0].CircuitID != first.CircuitID || atts[1].CircuitID != second.CircuitID {
		t.Fatalf("circuit binding mismatch: %+v", atts)
	}
}

func TestProofBatchGenerateRejectsEmpty(t *testing.T) {
	env := newTestEnv(t)
	req := &RPCRequest{ID: 4, Params: []json.RawMessage{marshalParam(t, map[string]interface{}{
		"requests": []map[string]interface{}{},
	})}}
	recorder := httptest.NewRecorder()
	env.server.handleProofBatchGenerate(recorder, env.newRequest(), req)
	_, rpcErr := decodeRPCResponse(t, recorder)
	if rpcErr == nil || rpcErr.Code != codeInvalidParams {
		t.Fatalf("expected code %d, got %+v", codeInvalidParams, rpcErr)
	}
}

func TestProofBatchGenerateFailsFast(t *testing.T) {
	env := newTestEnv(t)
	esc := createTestEscrow(t, env, 0)

	req := &RPCRequest{ID: 5, Params: []json.RawMessage{marshalParam(t, map[string]interface{}{
		"requests": []map[string]interface{}{
			{"escrowId": esc.ID, "conditionData": map[string]string{"timestamp": "1700000000"}},
			{"escrowId": "", "conditionData": map[string]string{}},
		},
	})}}
	recorder := httptest.NewRecorder()
	env.server.handleProofBatchGenerate(recorder, env.newRequest(), req)
	_, rpcErr := decodeRPCResponse(t, recorder)
	if rpcErr == nil || rpcErr.Code != codeInvalidParams {
		t.Fatalf("expected code %d, got %+v", codeInvalidParams, rpcErr)
	}
}
