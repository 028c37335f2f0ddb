package rpc

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"zkescrow/core"
	"zkescrow/escrow"
	"zkescrow/ledger"
	"zkescrow/proof"
)

const (
	testToken     = "rpc-test-token"
	rpcTestNow    = int64(1_700_000_000)
	testHTTPProto = "http://localhost/"
)

type testEnv struct {
	server      *Server
	coordinator *core.Coordinator
}

func newTestEnv(t testing.TB) *testEnv {
	t.Helper()
	t.Setenv("ZKE_RPC_TOKEN", testToken)

	prover := proof.NewService()
	prover.SetNowFunc(func() int64 { return rpcTestNow })
	coordinator, err := core.NewCoordinator(core.Config{
		Store:  escrow.NewMemStore(),
		Ledger: ledger.NewSimLedger(),
		Prover: prover,
	})
	if err != nil {
		t.Fatalf("new coordinator: %v", err)
	}
	coordinator.Engine().SetNowFunc(func() int64 { return rpcTestNow })
	seq := 0
	coordinator.Engine().SetIDFunc(func() (string, error) {
		seq++
		return fmt.Sprintf("esc-%d", seq), nil
	})

	return &testEnv{
		server:      NewServer(coordinator),
		coordinator: coordinator,
	}
}

func (e *testEnv) newRequest() *http.Request {
	req := httptest.NewRequest(http.MethodPost, testHTTPProto, nil)
	req.Header.Set("Authorization", "Bearer "+testToken)
	return req
}

func marshalParam(t testing.TB, v interface{}) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal param: %v", err)
	}
	return raw
}

func decodeRPCResponse(t testing.TB, recorder *httptest.ResponseRecorder) (json.RawMessage, *RPCError) {
	t.Helper()
	var resp struct {
		Result json.RawMessage `json:"result"`
		Error  *RPCError       `json:"error"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response %q: %v", recorder.Body.String(), err)
	}
	return resp.Result, resp.Error
}

func postRPC(t testing.TB, server *Server, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, testHTTPProto, strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	recorder := httptest.NewRecorder()
	server.handle(recorder, req)
	return recorder
}

// createTestEscrow drives the create handler and returns the decoded snapshot.
func createTestEscrow(t testing.TB, env *testEnv, timeout int64) escrowJSON {
	t.Helper()
	payload := map[string]interface{}{
		"amount":      "1000000",
		"beneficiary": "merchant-7",
		"conditions": []map[string]interface{}{
			{"kind": "timelock", "timeLock": map[string]interface{}{"unlockAfter": rpcTestNow - 10}},
		},
	}
	if timeout > 0 {
		payload["timeout"] = timeout
	}
	req := &RPCRequest{ID: 1, Params: []json.RawMessage{marshalParam(t, payload)}}
	recorder := httptest.NewRecorder()
	env.server.handleEscrowCreate(recorder, env.newRequest(), req)
	result, rpcErr := decodeRPCResponse(t, recorder)
	if rpcErr != nil {
		t.Fatalf("create escrow: %+v", rpcErr)
	}
	var esc escrowJSON
	if err := json.Unmarshal(result, &esc); err != nil {
		t.Fatalf("decode escrow: %v", err)
	}
	return esc
}
