package action

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

// Receiver dispatches a call to a remote execution environment and awaits its
// confirmation. Tests substitute stubs; production uses the JSON-RPC receiver.
type Receiver interface {
	Dispatch(ctx context.Context, env Environment, call Call) (*Result, error)
}

// RPCReceiver submits env_execute calls to remote receiver endpoints over
// JSON-RPC.
type RPCReceiver struct {
	http   *http.Client
	nextID atomic.Int64
}

// NewRPCReceiver constructs a receiver with a shared HTTP client.
func NewRPCReceiver() *RPCReceiver {
	return &RPCReceiver{
		http: &http.Client{Timeout: 30 * time.Second},
	}
}

type receiverRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  []Call `json:"params"`
	ID      int64  `json:"id"`
}

type receiverResponse struct {
	JSONRPC string            `json:"jsonrpc"`
	ID      int64             `json:"id"`
	Result  json.RawMessage   `json:"result"`
	Error   *receiverRPCError `json:"error"`
}

type receiverRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// receiverResult mirrors the remote receiver's execution receipt.
type receiverResult struct {
	TxID             string `json:"txId"`
	Sequence         uint64 `json:"sequence,omitempty"`
	Status           string `json:"status"`
	MintedResourceID string `json:"mintedResourceId,omitempty"`
	Error            string `json:"error,omitempty"`
}

// Dispatch posts the call to the environment endpoint and maps the receipt
// into a Result.
func (r *RPCReceiver) Dispatch(ctx context.Context, env Environment, call Call) (*Result, error) {
	id := r.nextID.Add(1)
	body := receiverRequest{
		JSONRPC: "2.0",
		Method:  "env_execute",
		Params:  []Call{call},
		ID:      id,
	}
	buf, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, env.Endpoint, bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if strings.TrimSpace(env.AuthToken) != "" {
		req.Header.Set("Authorization", "Bearer "+env.AuthToken)
	}
	resp, err := r.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("receiver %s failed: status=%d body=%s", env.Name, resp.StatusCode, string(payload))
	}
	var rpcResp receiverResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return nil, err
	}
	if rpcResp.Error != nil {
		return nil, fmt.Errorf("receiver error: %s", rpcResp.Error.Message)
	}
	if len(rpcResp.Result) == 0 {
		return nil, errors.New("receiver returned empty result")
	}
	var receipt receiverResult
	if err := json.Unmarshal(rpcResp.Result, &receipt); err != nil {
		return nil, err
	}
	result := &Result{
		TxID:             receipt.TxID,
		Sequence:         receipt.Sequence,
		MintedResourceID: receipt.MintedResourceID,
		Error:            receipt.Error,
	}
	switch strings.ToLower(receipt.Status) {
	case string(StatusConfirmed), "":
		result.Status = StatusConfirmed
	case string(StatusFailed):
		result.Status = StatusFailed
	case string(StatusPending):
		result.Status = StatusPending
	default:
		return nil, fmt.Errorf("receiver returned unknown status %q", receipt.Status)
	}
	return result, nil
}
