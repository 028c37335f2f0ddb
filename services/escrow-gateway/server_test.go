package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

type mockNodeClient struct {
	mu          sync.Mutex
	createResp  *EscrowState
	createErr   error
	getResp     *EscrowState
	getErr      error
	releaseResp *ReleaseReceipt
	releaseErr  error
	refundResp  *RefundReceipt
	refundErr   error

	createCalls  int
	releaseCalls int

	lastCreate  EscrowCreateParams
	lastRelease EscrowReleaseParams
}

func (m *mockNodeClient) EscrowCreate(_ context.Context, req EscrowCreateParams) (*EscrowState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createCalls++
	m.lastCreate = req
	if m.createErr != nil {
		return nil, m.createErr
	}
	return m.createResp, nil
}

func (m *mockNodeClient) EscrowGet(_ context.Context, _ string) (*EscrowState, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	return m.getResp, nil
}

func (m *mockNodeClient) EscrowRelease(_ context.Context, req EscrowReleaseParams) (*ReleaseReceipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.releaseCalls++
	m.lastRelease = req
	if m.releaseErr != nil {
		return nil, m.releaseErr
	}
	return m.releaseResp, nil
}

func (m *mockNodeClient) EscrowRefund(_ context.Context, _ string) (*RefundReceipt, error) {
	if m.refundErr != nil {
		return nil, m.refundErr
	}
	return m.refundResp, nil
}

func (m *mockNodeClient) ProofGenerate(_ context.Context, _ ProofGenerateParams) (*Attestation, error) {
	return &Attestation{Proof: "0xff", CircuitID: "secret_knowledge"}, nil
}

func (m *mockNodeClient) ProofVerify(_ context.Context, _ ProofVerifyParams) (*VerifyResult, error) {
	return &VerifyResult{Valid: true}, nil
}

func (m *mockNodeClient) ActionResult(_ context.Context, escrowID string) (*ActionResult, error) {
	return &ActionResult{EscrowID: escrowID, Status: "confirmed"}, nil
}

func (m *mockNodeClient) FetchEvents(_ context.Context, _ uint64, _ int) (*EventsPage, error) {
	return &EventsPage{}, nil
}

const (
	testAPIKey    = "partner-key"
	testAPISecret = "partner-secret"
)

func newTestServer(t *testing.T, node NodeClient) (*Server, *SQLiteStore) {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "gateway.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	auth := NewAuthenticator(
		[]APIKeyConfig{{Key: testAPIKey, Secret: testAPISecret}},
		2*time.Minute, 4*time.Minute, 128, nil, nil,
	)
	server := NewServer(auth, node, store, NewWebhookQueue(), ServerOptions{
		AdminJWTSecret: "admin-secret",
	})
	return server, store
}

func signedRequest(t *testing.T, method, target string, body []byte, nonce string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)
	req.Header.Set(headerAPIKey, testAPIKey)
	req.Header.Set(headerTimestamp, timestamp)
	req.Header.Set(headerNonce, nonce)
	req.Header.Set(headerSignature, computeSignature(testAPISecret, timestamp, nonce, method, canonicalRequestPath(req), body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func escrowCreateBody(t *testing.T) []byte {
	t.Helper()
	payload := map[string]interface{}{
		"amount":      "1.5",
		"beneficiary": "zke1qqqqsyqcyq5rqwzqfpg9scrgwpugpzysn7hqmuc",
		"conditions":  []map[string]interface{}{{"kind": "secret_knowledge", "params": map[string]string{"commitment": "0xabc"}}},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	return body
}

func TestEscrowCreateRequiresSignature(t *testing.T) {
	server, _ := newTestServer(t, &mockNodeClient{})

	req := httptest.NewRequest(http.MethodPost, "/v1/escrows", bytes.NewReader(escrowCreateBody(t)))
	res := httptest.NewRecorder()
	server.ServeHTTP(res, req)
	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for unsigned request, got %d", res.Code)
	}
}

func TestEscrowCreateRejectsBadSignature(t *testing.T) {
	server, _ := newTestServer(t, &mockNodeClient{})

	req := signedRequest(t, http.MethodPost, "/v1/escrows", escrowCreateBody(t), "nonce-bad-sig")
	req.Header.Set(headerSignature, "deadbeef")
	req.Header.Set(headerIdempotencyKey, "idem-1")
	res := httptest.NewRecorder()
	server.ServeHTTP(res, req)
	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad signature, got %d", res.Code)
	}
}

func TestEscrowCreateRejectsNonceReplay(t *testing.T) {
	node := &mockNodeClient{createResp: &EscrowState{ID: "esc-1", Status: "pending"}}
	server, _ := newTestServer(t, node)
	body := escrowCreateBody(t)

	first := signedRequest(t, http.MethodPost, "/v1/escrows", body, "nonce-replay")
	first.Header.Set(headerIdempotencyKey, "idem-replay-1")
	res := httptest.NewRecorder()
	server.ServeHTTP(res, first)
	if res.Code != http.StatusCreated {
		t.Fatalf("expected 201 on first request, got %d: %s", res.Code, res.Body.String())
	}

	replay := signedRequest(t, http.MethodPost, "/v1/escrows", body, "nonce-replay")
	replay.Header.Set(headerIdempotencyKey, "idem-replay-2")
	res = httptest.NewRecorder()
	server.ServeHTTP(res, replay)
	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for replayed nonce, got %d", res.Code)
	}
}

func TestEscrowCreateConvertsDecimalAmount(t *testing.T) {
	node := &mockNodeClient{createResp: &EscrowState{ID: "esc-1", Status: "pending"}}
	server, _ := newTestServer(t, node)

	req := signedRequest(t, http.MethodPost, "/v1/escrows", escrowCreateBody(t), "nonce-amount")
	req.Header.Set(headerIdempotencyKey, "idem-amount")
	res := httptest.NewRecorder()
	server.ServeHTTP(res, req)
	if res.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", res.Code, res.Body.String())
	}
	if node.lastCreate.Amount != "1500000000000000000" {
		t.Fatalf("expected base-unit amount, got %q", node.lastCreate.Amount)
	}
	if node.lastCreate.Beneficiary != "zke1qqqqsyqcyq5rqwzqfpg9scrgwpugpzysn7hqmuc" {
		t.Fatalf("unexpected beneficiary %q", node.lastCreate.Beneficiary)
	}
}

func TestEscrowCreateIdempotentReplay(t *testing.T) {
	node := &mockNodeClient{createResp: &EscrowState{ID: "esc-1", Status: "pending"}}
	server, _ := newTestServer(t, node)
	body := escrowCreateBody(t)

	first := signedRequest(t, http.MethodPost, "/v1/escrows", body, "nonce-idem-1")
	first.Header.Set(headerIdempotencyKey, "idem-key")
	res := httptest.NewRecorder()
	server.ServeHTTP(res, first)
	if res.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", res.Code, res.Body.String())
	}
	firstBody := res.Body.String()

	second := signedRequest(t, http.MethodPost, "/v1/escrows", body, "nonce-idem-2")
	second.Header.Set(headerIdempotencyKey, "idem-key")
	res = httptest.NewRecorder()
	server.ServeHTTP(res, second)
	if res.Code != http.StatusCreated {
		t.Fatalf("expected cached 201, got %d", res.Code)
	}
	if res.Body.String() != firstBody {
		t.Fatalf("cached body mismatch: %q vs %q", res.Body.String(), firstBody)
	}
	if node.createCalls != 1 {
		t.Fatalf("expected a single node call, got %d", node.createCalls)
	}
}

func TestEscrowCreateIdempotencyKeyConflict(t *testing.T) {
	node := &mockNodeClient{createResp: &EscrowState{ID: "esc-1", Status: "pending"}}
	server, _ := newTestServer(t, node)

	first := signedRequest(t, http.MethodPost, "/v1/escrows", escrowCreateBody(t), "nonce-conflict-1")
	first.Header.Set(headerIdempotencyKey, "conflict-key")
	res := httptest.NewRecorder()
	server.ServeHTTP(res, first)
	if res.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", res.Code)
	}

	other := map[string]interface{}{
		"amount":      "9",
		"beneficiary": "zke1qqqqsyqcyq5rqwzqfpg9scrgwpugpzysn7hqmuc",
		"conditions":  []map[string]interface{}{{"kind": "threshold", "params": map[string]string{"threshold": "5"}}},
	}
	otherBody, err := json.Marshal(other)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	second := signedRequest(t, http.MethodPost, "/v1/escrows", otherBody, "nonce-conflict-2")
	second.Header.Set(headerIdempotencyKey, "conflict-key")
	res = httptest.NewRecorder()
	server.ServeHTTP(res, second)
	if res.Code != http.StatusConflict {
		t.Fatalf("expected 409 for key reuse with different body, got %d", res.Code)
	}
}

func TestReleaseMapsNodeErrors(t *testing.T) {
	cases := []struct {
		name       string
		code       int
		wantStatus int
	}{
		{name: "not found", code: -32022, wantStatus: http.StatusNotFound},
		{name: "wrong state", code: -32023, wantStatus: http.StatusConflict},
		{name: "dispatch failed", code: -32027, wantStatus: http.StatusBadGateway},
	}
	for i, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			node := &mockNodeClient{releaseErr: &NodeError{Code: tc.code, Message: tc.name}}
			server, _ := newTestServer(t, node)

			body, err := json.Marshal(GatewayReleaseRequest{Proof: "0xff", CircuitID: "secret_knowledge"})
			if err != nil {
				t.Fatalf("marshal body: %v", err)
			}
			req := signedRequest(t, http.MethodPost, "/v1/escrows/esc-1/release", body, fmt.Sprintf("nonce-release-%d", i))
			req.Header.Set(headerIdempotencyKey, fmt.Sprintf("release-%d", i))
			res := httptest.NewRecorder()
			server.ServeHTTP(res, req)
			if res.Code != tc.wantStatus {
				t.Fatalf("expected %d, got %d: %s", tc.wantStatus, res.Code, res.Body.String())
			}
		})
	}
}

func TestReleaseForwardsProofMaterial(t *testing.T) {
	node := &mockNodeClient{releaseResp: &ReleaseReceipt{EscrowID: "esc-1", Status: "released"}}
	server, _ := newTestServer(t, node)

	body, err := json.Marshal(GatewayReleaseRequest{
		Proof:        "0xff",
		PublicInputs: []string{"0x01", "0x02"},
		CircuitID:    "secret_knowledge",
	})
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req := signedRequest(t, http.MethodPost, "/v1/escrows/esc-1/release", body, "nonce-release-ok")
	req.Header.Set(headerIdempotencyKey, "release-ok")
	res := httptest.NewRecorder()
	server.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	if node.lastRelease.ID != "esc-1" || node.lastRelease.Proof != "0xff" {
		t.Fatalf("unexpected release params: %+v", node.lastRelease)
	}
	if len(node.lastRelease.PublicInputs) != 2 {
		t.Fatalf("expected 2 public inputs, got %d", len(node.lastRelease.PublicInputs))
	}
}

func TestEventsServedFromMirror(t *testing.T) {
	server, store := newTestServer(t, &mockNodeClient{})
	ctx := context.Background()
	for seq := int64(1); seq <= 3; seq++ {
		err := store.InsertEvent(ctx, StoredEvent{
			Sequence:  seq,
			Type:      "escrow.released",
			EscrowID:  "esc-1",
			Payload:   map[string]string{"id": "esc-1"},
			CreatedAt: time.Now().UTC(),
		})
		if err != nil {
			t.Fatalf("insert event: %v", err)
		}
	}

	req := signedRequest(t, http.MethodGet, "/v1/events?cursor=1&limit=10", nil, "nonce-events")
	res := httptest.NewRecorder()
	server.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	var page struct {
		Events []struct {
			Sequence int64  `json:"sequence"`
			Type     string `json:"type"`
		} `json:"events"`
		NextCursor int64 `json:"nextCursor"`
	}
	if err := json.Unmarshal(res.Body.Bytes(), &page); err != nil {
		t.Fatalf("decode events page: %v", err)
	}
	if len(page.Events) != 2 {
		t.Fatalf("expected 2 events after cursor 1, got %d", len(page.Events))
	}
	if page.NextCursor != 3 {
		t.Fatalf("expected nextCursor 3, got %d", page.NextCursor)
	}
}

func TestWebhookAdminRequiresJWT(t *testing.T) {
	server, _ := newTestServer(t, &mockNodeClient{})

	body, err := json.Marshal(WebhookCreateRequest{
		APIKey:    testAPIKey,
		EventType: "escrow.released",
		URL:       "https://example.com/hook",
		Secret:    "hook-secret",
	})
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/v1/webhooks", bytes.NewReader(body))
	res := httptest.NewRecorder()
	server.ServeHTTP(res, req)
	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without JWT, got %d", res.Code)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"scope": "webhooks:manage",
		"exp":   time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte("admin-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	req = httptest.NewRequest(http.MethodPost, "/v1/webhooks", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+signed)
	res = httptest.NewRecorder()
	server.ServeHTTP(res, req)
	if res.Code != http.StatusCreated {
		t.Fatalf("expected 201 with admin JWT, got %d: %s", res.Code, res.Body.String())
	}
}

func TestParseDecimalAmount(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "1", want: "1000000000000000000"},
		{in: "0.5", want: "500000000000000000"},
		{in: "12.25", want: "12250000000000000000"},
		{in: "0.000000000000000001", want: "1"},
		{in: "0", wantErr: true},
		{in: "-1", wantErr: true},
		{in: "1.", wantErr: true},
		{in: "1.0000000000000000001", wantErr: true},
		{in: "abc", wantErr: true},
	}
	for _, tc := range cases {
		got, err := parseDecimalAmount(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("parseDecimalAmount(%q): expected error, got %q", tc.in, got)
			}
			continue
		}
		if err != nil {
			t.Fatalf("parseDecimalAmount(%q): %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("parseDecimalAmount(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
