package action

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRPCReceiverDispatch(t *testing.T) {
	var capturedAuth string
	var capturedReq receiverRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capturedAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&capturedReq); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		resp := receiverResponse{
			JSONRPC: "2.0",
			ID:      capturedReq.ID,
			Result:  json.RawMessage(`{"txId":"0xfeed","sequence":7,"status":"confirmed","mintedResourceId":"badge-7"}`),
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	receiver := NewRPCReceiver()
	env := Environment{Name: "polygon", Endpoint: server.URL, AuthToken: "token-1"}
	call := Call{Contract: "0xbadge", Method: "mintBadge", EscrowID: "esc-1", AttestationRef: "ref"}

	result, err := receiver.Dispatch(context.Background(), env, call)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if capturedAuth != "Bearer token-1" {
		t.Fatalf("authorization header = %q", capturedAuth)
	}
	if capturedReq.Method != "env_execute" || len(capturedReq.Params) != 1 {
		t.Fatalf("unexpected request %+v", capturedReq)
	}
	if capturedReq.Params[0].EscrowID != "esc-1" {
		t.Fatalf("call payload %+v", capturedReq.Params[0])
	}
	if result.TxID != "0xfeed" || result.Sequence != 7 || result.Status != StatusConfirmed {
		t.Fatalf("unexpected result %+v", result)
	}
	if result.MintedResourceID != "badge-7" {
		t.Fatalf("minted resource id = %q", result.MintedResourceID)
	}
}

func TestRPCReceiverErrors(t *testing.T) {
	cases := []struct {
		name    string
		handler http.HandlerFunc
		want    string
	}{
		{
			name: "rpc error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				resp := receiverResponse{JSONRPC: "2.0", ID: 1, Error: &receiverRPCError{Code: -32000, Message: "execution reverted"}}
				_ = json.NewEncoder(w).Encode(resp)
			},
			want: "execution reverted",
		},
		{
			name: "http failure",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "upstream down", http.StatusBadGateway)
			},
			want: "status=502",
		},
		{
			name: "unknown status",
			handler: func(w http.ResponseWriter, r *http.Request) {
				resp := receiverResponse{JSONRPC: "2.0", ID: 1, Result: json.RawMessage(`{"txId":"0x1","status":"queued"}`)}
				_ = json.NewEncoder(w).Encode(resp)
			},
			want: "unknown status",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(tc.handler)
			defer server.Close()
			receiver := NewRPCReceiver()
			env := Environment{Name: "polygon", Endpoint: server.URL}
			_, err := receiver.Dispatch(context.Background(), env, Call{EscrowID: "esc-1"})
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}
