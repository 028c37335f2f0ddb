package main

import (
	"fmt"
	"math/big"
	"strings"
)

const amountDecimals = 18

// parseDecimalAmount converts a human decimal amount ("0.5", "12", "1.25")
// into base units with 18 decimals, returned as a base-10 string for the node
// RPC. Precision beyond 18 fractional digits is rejected rather than rounded.
func parseDecimalAmount(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("amount is required")
	}
	if strings.HasPrefix(trimmed, "-") {
		return "", fmt.Errorf("amount must be positive")
	}
	whole, frac, hasFrac := strings.Cut(trimmed, ".")
	if whole == "" {
		whole = "0"
	}
	if hasFrac && frac == "" {
		return "", fmt.Errorf("invalid amount %q", raw)
	}
	if len(frac) > amountDecimals {
		return "", fmt.Errorf("amount %q exceeds %d decimal places", raw, amountDecimals)
	}
	digits := whole + frac + strings.Repeat("0", amountDecimals-len(frac))
	value, ok := new(big.Int).SetString(digits, 10)
	if !ok {
		return "", fmt.Errorf("invalid amount %q", raw)
	}
	if value.Sign() <= 0 {
		return "", fmt.Errorf("amount must be positive")
	}
	return value.String(), nil
}
