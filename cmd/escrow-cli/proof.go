package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"strings"
)

func runProofCommand(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		fmt.Fprintln(stderr, "Usage: escrow-cli proof <generate|verify|batch> [flags]")
		return 1
	}
	switch args[0] {
	case "generate":
		return runProofGenerate(args[1:], stdout, stderr)
	case "verify":
		return runProofVerify(args[1:], stdout, stderr)
	case "batch":
		return runProofBatch(args[1:], stdout, stderr)
	default:
		fmt.Fprintf(stderr, "Unknown proof subcommand: %s\n", args[0])
		return 1
	}
}

func runProofGenerate(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("proof generate", flag.ContinueOnError)
	fs.SetOutput(stderr)
	escrowID := fs.String("escrow", "", "Escrow identifier the proof is for")
	var data stringList
	fs.Var(&data, "data", "Condition datum as key=value (repeatable)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if strings.TrimSpace(*escrowID) == "" {
		fmt.Fprintln(stderr, "--escrow is required")
		return 1
	}

	conditionData := make(map[string]string, len(data))
	for _, entry := range data {
		key, value, ok := strings.Cut(entry, "=")
		if !ok {
			fmt.Fprintf(stderr, "invalid --data entry %q: expected key=value\n", entry)
			return 1
		}
		conditionData[strings.TrimSpace(key)] = value
	}

	params := map[string]interface{}{
		"escrowId":      strings.TrimSpace(*escrowID),
		"conditionData": conditionData,
	}
	return dispatchRPC("proof_generate", params, false, stdout, stderr)
}

func runProofVerify(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("proof verify", flag.ContinueOnError)
	fs.SetOutput(stderr)
	proofHex := fs.String("proof", "", "Proof payload as hex (0x prefix optional)")
	circuit := fs.String("circuit", "", "Circuit identifier the proof targets")
	generatedAt := fs.Int64("generated-at", 0, "Unix timestamp the proof was generated at")
	var inputs stringList
	fs.Var(&inputs, "public-input", "Public input value (repeatable)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if strings.TrimSpace(*proofHex) == "" || strings.TrimSpace(*circuit) == "" {
		fmt.Fprintln(stderr, "--proof and --circuit are required")
		return 1
	}

	params := map[string]interface{}{
		"proof":     strings.TrimSpace(*proofHex),
		"circuitId": strings.TrimSpace(*circuit),
	}
	if len(inputs) > 0 {
		params["publicInputs"] = []string(inputs)
	}
	if *generatedAt > 0 {
		params["generatedAt"] = *generatedAt
	}
	return dispatchRPC("proof_verify", params, false, stdout, stderr)
}

func runProofBatch(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("proof batch", flag.ContinueOnError)
	fs.SetOutput(stderr)
	requestsJSON := fs.String("requests", "", "Batch requests as a JSON array")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if strings.TrimSpace(*requestsJSON) == "" {
		fmt.Fprintln(stderr, "--requests is required")
		return 1
	}

	var requests []json.RawMessage
	if err := json.Unmarshal([]byte(*requestsJSON), &requests); err != nil {
		fmt.Fprintf(stderr, "invalid --requests payload: %v\n", err)
		return 1
	}
	return dispatchRPC("proof_batchGenerate", map[string]interface{}{"requests": requests}, false, stdout, stderr)
}
