package rpc

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"zkescrow/action"
	"zkescrow/condition"
	coreerrors "zkescrow/core/errors"
	"zkescrow/crypto"
	"zkescrow/escrow"
)

const (
	codeEscrowInvalidParams     = -32021
	codeEscrowNotFound          = -32022
	codeEscrowInvalidProof      = -32023
	codeEscrowConflict          = -32024
	codeEscrowTimeoutNotElapsed = -32025
	codeEscrowUnsupportedEnv    = -32026
	codeEscrowDispatchFailed    = -32027
)

type escrowCreateParams struct {
	Amount      string                `json:"amount"`
	Beneficiary string                `json:"beneficiary"`
	Conditions  []condition.Condition `json:"conditions"`
	Timeout     int64                 `json:"timeout,omitempty"`
	Action      *action.Descriptor    `json:"action,omitempty"`
}

type escrowIDParams struct {
	ID string `json:"id"`
}

type escrowReleaseParams struct {
	ID           string   `json:"id"`
	Proof        string   `json:"proof"`
	PublicInputs []string `json:"publicInputs,omitempty"`
	CircuitID    string   `json:"circuitId,omitempty"`
}

func (s *Server) handleEscrowCreate(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", "exactly one parameter object expected")
		return
	}
	var params escrowCreateParams
	if err := json.Unmarshal(req.Params[0], &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	amount, err := parsePositiveBigInt(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	beneficiary := strings.TrimSpace(params.Beneficiary)
	if s.strict {
		if err := validateBeneficiary(beneficiary); err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
			return
		}
	}

	esc, err := s.coordinator.CreateEscrow(r.Context(), escrow.CreateParams{
		Amount:      amount,
		Beneficiary: beneficiary,
		Conditions:  params.Conditions,
		Timeout:     params.Timeout,
		Action:      params.Action,
	})
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, formatEscrowJSON(esc))
}

func (s *Server) handleEscrowGet(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", "exactly one parameter object expected")
		return
	}
	var params escrowIDParams
	if err := json.Unmarshal(req.Params[0], &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	id := strings.TrimSpace(params.ID)
	if id == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", "escrow id required")
		return
	}
	esc, ok := s.coordinator.GetEscrow(id)
	if !ok {
		writeError(w, http.StatusNotFound, req.ID, codeEscrowNotFound, "not_found", id)
		return
	}
	writeResult(w, req.ID, formatEscrowJSON(esc))
}

func (s *Server) handleEscrowRelease(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", "exactly one parameter object expected")
		return
	}
	var params escrowReleaseParams
	if err := json.Unmarshal(req.Params[0], &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	proofBytes, err := parseHexBytes(params.Proof)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}

	receipt, err := s.coordinator.ExecuteRelease(r.Context(), escrow.ReleaseParams{
		EscrowID:     strings.TrimSpace(params.ID),
		Proof:        proofBytes,
		PublicInputs: params.PublicInputs,
		CircuitID:    strings.TrimSpace(params.CircuitID),
	})
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, formatReleaseReceiptJSON(receipt))
}

func (s *Server) handleEscrowRefund(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", "exactly one parameter object expected")
		return
	}
	var params escrowIDParams
	if err := json.Unmarshal(req.Params[0], &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	receipt, err := s.coordinator.RefundEscrow(r.Context(), strings.TrimSpace(params.ID))
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, formatRefundReceiptJSON(receipt))
}

func validateBeneficiary(beneficiary string) error {
	addr, err := crypto.DecodeAddress(beneficiary)
	if err != nil {
		return err
	}
	if addr.Prefix() != crypto.ZKEPrefix {
		return errors.New("beneficiary must carry the zke prefix")
	}
	return nil
}

// writeEscrowError maps domain failures onto the JSON-RPC code table. The
// default branch keeps unexpected errors opaque behind internal_error.
func writeEscrowError(w http.ResponseWriter, id interface{}, err error) {
	if err == nil {
		return
	}
	status := http.StatusInternalServerError
	code := codeServerError
	message := "internal_error"
	data := err.Error()
	switch {
	case errors.Is(err, coreerrors.ErrInvalidRequest):
		status = http.StatusBadRequest
		code = codeInvalidParams
		message = "invalid_request"
	case errors.Is(err, coreerrors.ErrInvalidEscrowParams):
		status = http.StatusBadRequest
		code = codeEscrowInvalidParams
		message = "invalid_params"
	case errors.Is(err, coreerrors.ErrNotFound):
		status = http.StatusNotFound
		code = codeEscrowNotFound
		message = "not_found"
	case errors.Is(err, coreerrors.ErrInvalidProof):
		status = http.StatusUnprocessableEntity
		code = codeEscrowInvalidProof
		message = "invalid_proof"
	case errors.Is(err, coreerrors.ErrInvalidState):
		status = http.StatusConflict
		code = codeEscrowConflict
		message = "conflict"
	case errors.Is(err, coreerrors.ErrTimeoutNotElapsed):
		status = http.StatusConflict
		code = codeEscrowTimeoutNotElapsed
		message = "timeout_not_elapsed"
	case errors.Is(err, coreerrors.ErrUnsupportedEnvironment):
		status = http.StatusBadRequest
		code = codeEscrowUnsupportedEnv
		message = "unsupported_environment"
	case errors.Is(err, coreerrors.ErrActionDispatchFailed):
		status = http.StatusBadGateway
		code = codeEscrowDispatchFailed
		message = "action_dispatch_failed"
	}
	writeError(w, status, id, code, message, data)
}
