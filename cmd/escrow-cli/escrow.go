package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"strings"
)

func runEscrowCommand(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		fmt.Fprintln(stderr, "Usage: escrow-cli escrow <create|get|release|refund> [flags]")
		return 1
	}
	switch args[0] {
	case "create":
		return runEscrowCreate(args[1:], stdout, stderr)
	case "get":
		return runEscrowGet(args[1:], stdout, stderr)
	case "release":
		return runEscrowRelease(args[1:], stdout, stderr)
	case "refund":
		return runEscrowRefund(args[1:], stdout, stderr)
	default:
		fmt.Fprintf(stderr, "Unknown escrow subcommand: %s\n", args[0])
		return 1
	}
}

func runEscrowCreate(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("escrow create", flag.ContinueOnError)
	fs.SetOutput(stderr)
	amount := fs.String("amount", "", "Locked amount in wei (base-10)")
	beneficiary := fs.String("beneficiary", "", "Beneficiary address")
	conditionsJSON := fs.String("conditions", "", "Conditions as a JSON array")
	timeout := fs.Int64("timeout", 0, "Refund timeout in seconds (0 uses the daemon default)")
	actionJSON := fs.String("action", "", "Optional action descriptor as JSON")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	if strings.TrimSpace(*amount) == "" || strings.TrimSpace(*beneficiary) == "" {
		fmt.Fprintln(stderr, "--amount and --beneficiary are required")
		return 1
	}
	if strings.TrimSpace(*conditionsJSON) == "" {
		fmt.Fprintln(stderr, "--conditions is required")
		return 1
	}

	var conditions []json.RawMessage
	if err := json.Unmarshal([]byte(*conditionsJSON), &conditions); err != nil {
		fmt.Fprintf(stderr, "invalid --conditions payload: %v\n", err)
		return 1
	}

	params := map[string]interface{}{
		"amount":      strings.TrimSpace(*amount),
		"beneficiary": strings.TrimSpace(*beneficiary),
		"conditions":  conditions,
	}
	if *timeout > 0 {
		params["timeout"] = *timeout
	}
	if strings.TrimSpace(*actionJSON) != "" {
		var descriptor json.RawMessage
		if err := json.Unmarshal([]byte(*actionJSON), &descriptor); err != nil {
			fmt.Fprintf(stderr, "invalid --action payload: %v\n", err)
			return 1
		}
		params["action"] = descriptor
	}

	return dispatchRPC("escrow_create", params, true, stdout, stderr)
}

func runEscrowGet(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("escrow get", flag.ContinueOnError)
	fs.SetOutput(stderr)
	id := fs.String("id", "", "Escrow identifier")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if strings.TrimSpace(*id) == "" {
		fmt.Fprintln(stderr, "--id is required")
		return 1
	}
	return dispatchRPC("escrow_get", map[string]interface{}{"id": strings.TrimSpace(*id)}, false, stdout, stderr)
}

func runEscrowRelease(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("escrow release", flag.ContinueOnError)
	fs.SetOutput(stderr)
	id := fs.String("id", "", "Escrow identifier")
	proofHex := fs.String("proof", "", "Proof payload as hex (0x prefix optional)")
	circuit := fs.String("circuit", "", "Circuit identifier the proof targets")
	var inputs stringList
	fs.Var(&inputs, "public-input", "Public input value (repeatable)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if strings.TrimSpace(*id) == "" || strings.TrimSpace(*proofHex) == "" {
		fmt.Fprintln(stderr, "--id and --proof are required")
		return 1
	}

	params := map[string]interface{}{
		"id":    strings.TrimSpace(*id),
		"proof": strings.TrimSpace(*proofHex),
	}
	if len(inputs) > 0 {
		params["publicInputs"] = []string(inputs)
	}
	if strings.TrimSpace(*circuit) != "" {
		params["circuitId"] = strings.TrimSpace(*circuit)
	}
	return dispatchRPC("escrow_release", params, true, stdout, stderr)
}

func runEscrowRefund(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("escrow refund", flag.ContinueOnError)
	fs.SetOutput(stderr)
	id := fs.String("id", "", "Escrow identifier")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if strings.TrimSpace(*id) == "" {
		fmt.Fprintln(stderr, "--id is required")
		return 1
	}
	return dispatchRPC("escrow_refund", map[string]interface{}{"id": strings.TrimSpace(*id)}, true, stdout, stderr)
}

// dispatchRPC calls the node and renders either the result or the RPC error.
func dispatchRPC(method string, params interface{}, requireAuth bool, stdout, stderr io.Writer) int {
	result, rpcErr, err := nodeRPC(method, params, requireAuth)
	if err != nil {
		fmt.Fprintf(stderr, "%s failed: %v\n", method, err)
		return 1
	}
	if rpcErr != nil {
		fmt.Fprintf(stderr, "%s rejected: %s\n", method, rpcErr.String())
		return 1
	}
	printResult(stdout, result)
	return 0
}

// stringList collects repeated flag values.
type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }

func (s *stringList) Set(value string) error {
	*s = append(*s, value)
	return nil
}
