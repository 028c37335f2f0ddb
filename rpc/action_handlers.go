package rpc

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"zkescrow/action"
	"zkescrow/proof"
)

type actionTriggerParams struct {
	EscrowID    string             `json:"escrowId"`
	Action      *action.Descriptor `json:"action"`
	Attestation *proofVerifyParams `json:"attestation,omitempty"`
}

type actionRefParams struct {
	Ref string `json:"ref"`
}

func (s *Server) handleActionTrigger(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", "exactly one parameter object expected")
		return
	}
	var params actionTriggerParams
	if err := json.Unmarshal(req.Params[0], &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	if params.Action == nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", "action descriptor required")
		return
	}
	var att *proof.Attestation
	if params.Attestation != nil {
		proofBytes, err := parseHexBytes(params.Attestation.Proof)
		if err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
			return
		}
		att = &proof.Attestation{
			Proof:        proofBytes,
			PublicInputs: params.Attestation.PublicInputs,
			CircuitID:    strings.TrimSpace(params.Attestation.CircuitID),
			GeneratedAt:  params.Attestation.GeneratedAt,
		}
	}

	result, err := s.coordinator.TriggerAction(r.Context(), *params.Action, strings.TrimSpace(params.EscrowID), att)
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, formatActionResultJSON(result))
}

func (s *Server) handleActionStatus(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", "exactly one parameter object expected")
		return
	}
	var params actionRefParams
	if err := json.Unmarshal(req.Params[0], &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	ref := strings.TrimSpace(params.Ref)
	if ref == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", "action ref required")
		return
	}
	result, ok := s.coordinator.ActionStatus(ref)
	if !ok {
		writeError(w, http.StatusNotFound, req.ID, codeEscrowNotFound, "not_found", ref)
		return
	}
	writeResult(w, req.ID, formatActionResultJSON(result))
}

func (s *Server) handleActionResult(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", "exactly one parameter object expected")
		return
	}
	var params escrowIDParams
	if err := json.Unmarshal(req.Params[0], &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	id := strings.TrimSpace(params.ID)
	if id == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", "escrow id required")
		return
	}
	result, err := s.coordinator.ArchivedActionResult(id)
	if err != nil {
		if errors.Is(err, action.ErrResultNotFound) {
			writeError(w, http.StatusNotFound, req.ID, codeEscrowNotFound, "not_found", id)
			return
		}
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, formatActionResultJSON(result))
}
