package rpc

import (
	"encoding/json"
	"net/http"
	"strings"

	"zkescrow/condition"
	"zkescrow/proof"
)

type proofGenerateParams struct {
	EscrowID      string            `json:"escrowId"`
	ConditionData map[string]string `json:"conditionData"`
}

type proofVerifyParams struct {
	Proof        string   `json:"proof"`
	PublicInputs []string `json:"publicInputs,omitempty"`
	CircuitID    string   `json:"circuitId"`
	GeneratedAt  int64    `json:"generatedAt,omitempty"`
}

type proofBatchParams struct {
	Requests []proofBatchRequest `json:"requests"`
}

type proofBatchRequest struct {
	EscrowID      string                `json:"escrowId"`
	ConditionData map[string]string     `json:"conditionData"`
	Conditions    []condition.Condition `json:"conditions,omitempty"`
}

func (s *Server) handleProofGenerate(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", "exactly one parameter object expected")
		return
	}
	var params proofGenerateParams
	if err := json.Unmarshal(req.Params[0], &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	att, err := s.coordinator.GenerateProof(strings.TrimSpace(params.EscrowID), params.ConditionData)
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, formatAttestationJSON(att))
}

func (s *Server) handleProofVerify(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", "exactly one parameter object expected")
		return
	}
	var params proofVerifyParams
	if err := json.Unmarshal(req.Params[0], &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	proofBytes, err := parseHexBytes(params.Proof)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	result := s.coordinator.VerifyProof(&proof.Attestation{
		Proof:        proofBytes,
		PublicInputs: params.PublicInputs,
		CircuitID:    strings.TrimSpace(params.CircuitID),
		GeneratedAt:  params.GeneratedAt,
	})
	writeResult(w, req.ID, result)
}

func (s *Server) handleProofBatchGenerate(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", "exactly one parameter object expected")
		return
	}
	var params proofBatchParams
	if err := json.Unmarshal(req.Params[0], &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	if len(params.Requests) == 0 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", "at least one request expected")
		return
	}
	reqs := make([]proof.Request, len(params.Requests))
	for i, entry := range params.Requests {
		reqs[i] = proof.Request{
			EscrowID:      strings.TrimSpace(entry.EscrowID),
			ConditionData: entry.ConditionData,
			Conditions:    entry.Conditions,
		}
	}
	atts, err := s.coordinator.BatchGenerateProofs(reqs)
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	results := make([]attestationJSON, len(atts))
	for i, att := range atts {
		results[i] = formatAttestationJSON(att)
	}
	writeResult(w, req.ID, results)
}
