package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"strings"
)

func runActionCommand(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		fmt.Fprintln(stderr, "Usage: escrow-cli action <trigger|status|result> [flags]")
		return 1
	}
	switch args[0] {
	case "trigger":
		return runActionTrigger(args[1:], stdout, stderr)
	case "status":
		return runActionStatus(args[1:], stdout, stderr)
	case "result":
		return runActionResult(args[1:], stdout, stderr)
	default:
		fmt.Fprintf(stderr, "Unknown action subcommand: %s\n", args[0])
		return 1
	}
}

func runActionTrigger(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("action trigger", flag.ContinueOnError)
	fs.SetOutput(stderr)
	escrowID := fs.String("escrow", "", "Escrow identifier the action belongs to")
	actionJSON := fs.String("action", "", "Action descriptor as JSON")
	attestationJSON := fs.String("attestation", "", "Optional verified attestation as JSON")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if strings.TrimSpace(*escrowID) == "" || strings.TrimSpace(*actionJSON) == "" {
		fmt.Fprintln(stderr, "--escrow and --action are required")
		return 1
	}

	var descriptor json.RawMessage
	if err := json.Unmarshal([]byte(*actionJSON), &descriptor); err != nil {
		fmt.Fprintf(stderr, "invalid --action payload: %v\n", err)
		return 1
	}
	params := map[string]interface{}{
		"escrowId": strings.TrimSpace(*escrowID),
		"action":   descriptor,
	}
	if strings.TrimSpace(*attestationJSON) != "" {
		var attestation json.RawMessage
		if err := json.Unmarshal([]byte(*attestationJSON), &attestation); err != nil {
			fmt.Fprintf(stderr, "invalid --attestation payload: %v\n", err)
			return 1
		}
		params["attestation"] = attestation
	}
	return dispatchRPC("action_trigger", params, true, stdout, stderr)
}

func runActionStatus(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("action status", flag.ContinueOnError)
	fs.SetOutput(stderr)
	ref := fs.String("ref", "", "Action reference returned by trigger or release")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if strings.TrimSpace(*ref) == "" {
		fmt.Fprintln(stderr, "--ref is required")
		return 1
	}
	return dispatchRPC("action_status", map[string]interface{}{"ref": strings.TrimSpace(*ref)}, false, stdout, stderr)
}

func runActionResult(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("action result", flag.ContinueOnError)
	fs.SetOutput(stderr)
	escrowID := fs.String("escrow", "", "Escrow identifier to fetch the archived result for")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if strings.TrimSpace(*escrowID) == "" {
		fmt.Fprintln(stderr, "--escrow is required")
		return 1
	}
	return dispatchRPC("action_result", map[string]interface{}{"id": strings.TrimSpace(*escrowID)}, false, stdout, stderr)
}
