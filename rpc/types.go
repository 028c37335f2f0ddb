package rpc

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"zkescrow/action"
	"zkescrow/condition"
	"zkescrow/escrow"
	"zkescrow/proof"
)

// escrowJSON is the wire form of an escrow snapshot. Amounts travel as
// decimal strings and binary fields as hex.
type escrowJSON struct {
	ID          string                `json:"id"`
	Amount      string                `json:"amount"`
	Beneficiary string                `json:"beneficiary"`
	Conditions  []condition.Condition `json:"conditions"`
	Timeout     int64                 `json:"timeout"`
	Action      *action.Descriptor    `json:"action,omitempty"`
	LockTx      string                `json:"lockTx,omitempty"`
	Fingerprint string                `json:"fingerprint"`
	CircuitID   string                `json:"circuitId"`
	CreatedAt   int64                 `json:"createdAt"`
	Status      string                `json:"status"`
}

func formatEscrowJSON(esc *escrow.Escrow) escrowJSON {
	out := escrowJSON{
		ID:          esc.ID,
		Beneficiary: esc.Beneficiary,
		Conditions:  esc.Conditions,
		Timeout:     esc.Timeout,
		Action:      esc.Action,
		Fingerprint: hex.EncodeToString(esc.Fingerprint[:]),
		CircuitID:   esc.CircuitID(),
		CreatedAt:   esc.CreatedAt,
		Status:      esc.Status.String(),
	}
	amount := big.NewInt(0)
	if esc.Amount != nil {
		amount = esc.Amount
	}
	out.Amount = amount.String()
	if esc.Lock != nil {
		out.LockTx = esc.Lock.TxID
	}
	return out
}

// attestationJSON is the wire form of a proof attestation with a hex proof
// payload.
type attestationJSON struct {
	Proof        string   `json:"proof"`
	PublicInputs []string `json:"publicInputs"`
	CircuitID    string   `json:"circuitId"`
	GeneratedAt  int64    `json:"generatedAt"`
	Verified     bool     `json:"verified"`
}

func formatAttestationJSON(att *proof.Attestation) attestationJSON {
	return attestationJSON{
		Proof:        "0x" + hex.EncodeToString(att.Proof),
		PublicInputs: append([]string(nil), att.PublicInputs...),
		CircuitID:    att.CircuitID,
		GeneratedAt:  att.GeneratedAt,
		Verified:     att.Verified,
	}
}

type actionResultJSON struct {
	Ref              string `json:"ref"`
	EscrowID         string `json:"escrowId"`
	TxID             string `json:"txId,omitempty"`
	Sequence         uint64 `json:"sequence,omitempty"`
	Status           string `json:"status"`
	MintedResourceID string `json:"mintedResourceId,omitempty"`
	Error            string `json:"error,omitempty"`
	DispatchedAt     int64  `json:"dispatchedAt"`
}

func formatActionResultJSON(result *action.Result) *actionResultJSON {
	if result == nil {
		return nil
	}
	return &actionResultJSON{
		Ref:              result.Ref,
		EscrowID:         result.EscrowID,
		TxID:             result.TxID,
		Sequence:         result.Sequence,
		Status:           string(result.Status),
		MintedResourceID: result.MintedResourceID,
		Error:            result.Error,
		DispatchedAt:     result.DispatchedAt,
	}
}

type releaseReceiptJSON struct {
	EscrowID    string            `json:"escrowId"`
	ReleaseRef  string            `json:"releaseRef"`
	Status      string            `json:"status"`
	Action      *actionResultJSON `json:"action,omitempty"`
	ActionError string            `json:"actionError,omitempty"`
}

func formatReleaseReceiptJSON(receipt *escrow.ReleaseReceipt) releaseReceiptJSON {
	out := releaseReceiptJSON{
		EscrowID:   receipt.EscrowID,
		ReleaseRef: receipt.ReleaseRef,
		Status:     receipt.Status.String(),
		Action:     formatActionResultJSON(receipt.Action),
	}
	if receipt.ActionErr != nil {
		out.ActionError = receipt.ActionErr.Error()
	}
	return out
}

type refundReceiptJSON struct {
	EscrowID  string `json:"escrowId"`
	RefundRef string `json:"refundRef"`
	Status    string `json:"status"`
}

func formatRefundReceiptJSON(receipt *escrow.RefundReceipt) refundReceiptJSON {
	return refundReceiptJSON{
		EscrowID:  receipt.EscrowID,
		RefundRef: receipt.RefundRef,
		Status:    receipt.Status.String(),
	}
}

func parsePositiveBigInt(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("amount required")
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("amount must be a base-10 integer")
	}
	if amount.Sign() <= 0 {
		return nil, fmt.Errorf("amount must be positive")
	}
	return amount, nil
}

// parseHexBytes accepts hex payloads with or without a 0x prefix.
func parseHexBytes(value string) ([]byte, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}
	trimmed = strings.TrimPrefix(trimmed, "0x")
	decoded, err := hex.DecodeString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("invalid hex payload: %w", err)
	}
	return decoded, nil
}
