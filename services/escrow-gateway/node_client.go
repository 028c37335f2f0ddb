package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

// NodeClient is a thin JSON-RPC client used by the gateway.
type NodeClient interface {
	EscrowCreate(ctx context.Context, req EscrowCreateParams) (*EscrowState, error)
	EscrowGet(ctx context.Context, id string) (*EscrowState, error)
	EscrowRelease(ctx context.Context, req EscrowReleaseParams) (*ReleaseReceipt, error)
	EscrowRefund(ctx context.Context, id string) (*RefundReceipt, error)
	ProofGenerate(ctx context.Context, req ProofGenerateParams) (*Attestation, error)
	ProofVerify(ctx context.Context, req ProofVerifyParams) (*VerifyResult, error)
	ActionResult(ctx context.Context, escrowID string) (*ActionResult, error)
	FetchEvents(ctx context.Context, cursor uint64, limit int) (*EventsPage, error)
}

// RPCNodeClient implements NodeClient against the escrowd JSON-RPC server.
type RPCNodeClient struct {
	baseURL   string
	authToken string
	http      *http.Client
	nextID    atomic.Int64
}

func NewRPCNodeClient(baseURL, authToken string) *RPCNodeClient {
	return &RPCNodeClient{
		baseURL:   baseURL,
		authToken: authToken,
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type jsonRPCRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
	ID      int64       `json:"id"`
}

type jsonRPCResponse struct {
	JSONRPC string           `json:"jsonrpc"`
	ID      int64            `json:"id"`
	Result  json.RawMessage  `json:"result"`
	Error   *jsonRPCErrorObj `json:"error"`
}

type jsonRPCErrorObj struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// NodeError surfaces JSON-RPC error codes so handlers can map them to HTTP
// statuses.
type NodeError struct {
	Code    int
	Message string
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("node rpc error %d: %s", e.Code, e.Message)
}

func (c *RPCNodeClient) EscrowCreate(ctx context.Context, req EscrowCreateParams) (*EscrowState, error) {
	var result EscrowState
	if err := c.call(ctx, "escrow_create", []interface{}{req}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *RPCNodeClient) EscrowGet(ctx context.Context, id string) (*EscrowState, error) {
	var result EscrowState
	if err := c.call(ctx, "escrow_get", []interface{}{map[string]string{"id": id}}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *RPCNodeClient) EscrowRelease(ctx context.Context, req EscrowReleaseParams) (*ReleaseReceipt, error) {
	var result ReleaseReceipt
	if err := c.call(ctx, "escrow_release", []interface{}{req}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *RPCNodeClient) EscrowRefund(ctx context.Context, id string) (*RefundReceipt, error) {
	var result RefundReceipt
	if err := c.call(ctx, "escrow_refund", []interface{}{map[string]string{"id": id}}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *RPCNodeClient) ProofGenerate(ctx context.Context, req ProofGenerateParams) (*Attestation, error) {
	var result Attestation
	if err := c.call(ctx, "proof_generate", []interface{}{req}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *RPCNodeClient) ProofVerify(ctx context.Context, req ProofVerifyParams) (*VerifyResult, error) {
	var result VerifyResult
	if err := c.call(ctx, "proof_verify", []interface{}{req}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *RPCNodeClient) ActionResult(ctx context.Context, escrowID string) (*ActionResult, error) {
	var result ActionResult
	if err := c.call(ctx, "action_result", []interface{}{map[string]string{"id": escrowID}}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *RPCNodeClient) FetchEvents(ctx context.Context, cursor uint64, limit int) (*EventsPage, error) {
	params := map[string]interface{}{
		"cursor": cursor,
	}
	if limit > 0 {
		params["limit"] = limit
	}
	var result EventsPage
	if err := c.call(ctx, "events_since", []interface{}{params}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *RPCNodeClient) call(ctx context.Context, method string, params interface{}, out interface{}) error {
	id := c.nextID.Add(1)
	bodyStruct := jsonRPCRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      id,
	}
	buf, err := json.Marshal(bodyStruct)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if strings.TrimSpace(c.authToken) != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var rpcResp jsonRPCResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&rpcResp); err != nil {
		return fmt.Errorf("node rpc %s failed: status=%d: %w", method, resp.StatusCode, err)
	}
	if rpcResp.Error != nil {
		return &NodeError{Code: rpcResp.Error.Code, Message: rpcResp.Error.Message}
	}
	if out == nil {
		return nil
	}
	if len(rpcResp.Result) == 0 {
		return errors.New("node rpc returned empty result")
	}
	return json.Unmarshal(rpcResp.Result, out)
}

// EscrowCreateParams mirrors the escrow_create RPC parameter object. The
// amount travels as a base-unit decimal string.
type EscrowCreateParams struct {
	Amount      string            `json:"amount"`
	Beneficiary string            `json:"beneficiary"`
	Conditions  []json.RawMessage `json:"conditions"`
	Timeout     int64             `json:"timeout,omitempty"`
	Action      json.RawMessage   `json:"action,omitempty"`
}

// EscrowReleaseParams mirrors the escrow_release RPC parameter object.
type EscrowReleaseParams struct {
	ID           string   `json:"id"`
	Proof        string   `json:"proof"`
	PublicInputs []string `json:"publicInputs,omitempty"`
	CircuitID    string   `json:"circuitId,omitempty"`
}

// ProofGenerateParams mirrors the proof_generate RPC parameter object.
type ProofGenerateParams struct {
	EscrowID      string            `json:"escrowId"`
	ConditionData map[string]string `json:"conditionData"`
}

// ProofVerifyParams mirrors the proof_verify RPC parameter object.
type ProofVerifyParams struct {
	Proof        string   `json:"proof"`
	PublicInputs []string `json:"publicInputs,omitempty"`
	CircuitID    string   `json:"circuitId"`
	GeneratedAt  int64    `json:"generatedAt,omitempty"`
}

// EscrowState mirrors the JSON returned by the node for escrow snapshots.
type EscrowState struct {
	ID          string            `json:"id"`
	Amount      string            `json:"amount"`
	Beneficiary string            `json:"beneficiary"`
	Conditions  []json.RawMessage `json:"conditions"`
	Timeout     int64             `json:"timeout"`
	Action      json.RawMessage   `json:"action,omitempty"`
	LockTx      string            `json:"lockTx,omitempty"`
	Fingerprint string            `json:"fingerprint"`
	CircuitID   string            `json:"circuitId"`
	CreatedAt   int64             `json:"createdAt"`
	Status      string            `json:"status"`
}

// Attestation mirrors the node's proof attestation payload.
type Attestation struct {
	Proof        string   `json:"proof"`
	PublicInputs []string `json:"publicInputs"`
	CircuitID    string   `json:"circuitId"`
	GeneratedAt  int64    `json:"generatedAt"`
	Verified     bool     `json:"verified"`
}

// VerifyResult mirrors the node's proof_verify result.
type VerifyResult struct {
	Valid        bool   `json:"valid"`
	Error        string `json:"error,omitempty"`
	CostEstimate uint64 `json:"costEstimate,omitempty"`
}

// ActionResult mirrors the node's archived action result payload.
type ActionResult struct {
	Ref              string `json:"ref"`
	EscrowID         string `json:"escrowId"`
	TxID             string `json:"txId,omitempty"`
	Sequence         uint64 `json:"sequence,omitempty"`
	Status           string `json:"status"`
	MintedResourceID string `json:"mintedResourceId,omitempty"`
	Error            string `json:"error,omitempty"`
	DispatchedAt     int64  `json:"dispatchedAt"`
}

// ReleaseReceipt mirrors the node's escrow_release result.
type ReleaseReceipt struct {
	EscrowID    string        `json:"escrowId"`
	ReleaseRef  string        `json:"releaseRef"`
	Status      string        `json:"status"`
	Action      *ActionResult `json:"action,omitempty"`
	ActionError string        `json:"actionError,omitempty"`
}

// RefundReceipt mirrors the node's escrow_refund result.
type RefundReceipt struct {
	EscrowID  string `json:"escrowId"`
	RefundRef string `json:"refundRef"`
	Status    string `json:"status"`
}

// NodeEvent is one engine feed event returned by events_since.
type NodeEvent struct {
	Sequence   uint64            `json:"sequence"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
	Timestamp  int64             `json:"timestamp"`
}

// EventsPage is the events_since result envelope.
type EventsPage struct {
	Events     []NodeEvent `json:"events"`
	NextCursor uint64      `json:"nextCursor"`
}
