package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

var rpcEndpoint = defaultRPCEndpoint()
var rpcAuthToken = os.Getenv("ZKE_RPC_TOKEN")

// nodeRPC is swappable so command tests can stub the transport.
var nodeRPC = callNodeRPC

func main() {
	args := os.Args[1:]
	var err error
	rpcEndpoint = defaultRPCEndpoint()
	args, err = applyGlobalFlags(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if len(args) < 1 {
		printUsage()
		return
	}

	var code int
	switch args[0] {
	case "escrow":
		code = runEscrowCommand(args[1:], os.Stdout, os.Stderr)
	case "proof":
		code = runProofCommand(args[1:], os.Stdout, os.Stderr)
	case "action":
		code = runActionCommand(args[1:], os.Stdout, os.Stderr)
	case "events":
		code = runEventsCommand(args[1:], os.Stdout, os.Stderr)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
		printUsage()
		code = 1
	}
	if code != 0 {
		os.Exit(code)
	}
}

func printUsage() {
	fmt.Println(`Usage: escrow-cli [--rpc <url>] <command> [args]

Commands:
  escrow create --amount <wei> --beneficiary <addr> --conditions <json> [--timeout <seconds>] [--action <json>]
  escrow get --id <escrowId>
  escrow release --id <escrowId> --proof <0xhex> [--public-input <value>]... [--circuit <id>]
  escrow refund --id <escrowId>
  proof generate --escrow <escrowId> --data <key=value>...
  proof verify --proof <0xhex> --circuit <id> [--public-input <value>]...
  proof batch --requests <json>
  action trigger --escrow <escrowId> --action <json>
  action status --ref <actionRef>
  action result --escrow <escrowId>
  events [--cursor <seq>] [--limit <n>]

Environment:
  ZKE_RPC_URL    RPC endpoint (default http://localhost:8080)
  ZKE_RPC_TOKEN  Bearer token for mutating methods`)
}

func defaultRPCEndpoint() string {
	if v := strings.TrimSpace(os.Getenv("ZKE_RPC_URL")); v != "" {
		return v
	}
	return "http://localhost:8080"
}

func applyGlobalFlags(args []string) ([]string, error) {
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--rpc" {
			if i+1 >= len(args) {
				return nil, fmt.Errorf("missing value for --rpc")
			}
			rpcEndpoint = args[i+1]
			i++
			continue
		}
		if strings.HasPrefix(arg, "--rpc=") {
			rpcEndpoint = strings.TrimPrefix(arg, "--rpc=")
			continue
		}
		out = append(out, arg)
	}
	return out, nil
}

type rpcError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *rpcError) String() string {
	if e == nil {
		return ""
	}
	if len(e.Data) > 0 {
		return fmt.Sprintf("%s (code %d): %s", e.Message, e.Code, string(e.Data))
	}
	return fmt.Sprintf("%s (code %d)", e.Message, e.Code)
}

// callNodeRPC posts a single-parameter JSON-RPC request to the configured
// endpoint. Mutating methods attach the bearer token when one is configured.
func callNodeRPC(method string, params interface{}, requireAuth bool) (json.RawMessage, *rpcError, error) {
	payload := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
	}
	if params != nil {
		payload["params"] = []interface{}{params}
	} else {
		payload["params"] = []interface{}{}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, err
	}

	req, err := http.NewRequest(http.MethodPost, rpcEndpoint, bytes.NewReader(body))
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if requireAuth {
		token := strings.TrimSpace(rpcAuthToken)
		if token == "" {
			return nil, nil, fmt.Errorf("ZKE_RPC_TOKEN is required for %s", method)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	var rpcResp struct {
		Result json.RawMessage `json:"result"`
		Error  *rpcError       `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return nil, nil, fmt.Errorf("failed to decode RPC response: %w", err)
	}
	return rpcResp.Result, rpcResp.Error, nil
}

// printResult pretty-prints a JSON-RPC result payload.
func printResult(stdout io.Writer, result json.RawMessage) {
	var buf bytes.Buffer
	if err := json.Indent(&buf, result, "", "  "); err != nil {
		fmt.Fprintln(stdout, string(result))
		return
	}
	fmt.Fprintln(stdout, buf.String())
}
