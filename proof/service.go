package proof

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"zkescrow/condition"
	coreerrors "zkescrow/core/errors"
)

// Witness field keys recognised when deriving public inputs. Callers populate
// conditionData with whichever facts they hold; generation promotes these, in
// this conceptual order, into the attestation's public inputs.
const (
	WitnessKeyTimestamp   = "timestamp"
	WitnessKeyBeneficiary = "beneficiary"
	WitnessKeyAmount      = "amount"

	witnessKeyEscrowID    = "escrowId"
	witnessKeyNonce       = "nonce"
	witnessKeyGeneratedAt = "generatedAt"
)

// Request describes one proof-generation job for GenerateBatch.
type Request struct {
	EscrowID      string                `json:"escrowId"`
	ConditionData map[string]string     `json:"conditionData"`
	Conditions    []condition.Condition `json:"conditions,omitempty"`
}

// Service generates attestations and checks their self-consistency. Generation
// is purely functional over its inputs plus the injected nonce and clock
// sources; nothing is persisted.
type Service struct {
	nowFn   func() int64
	nonceFn func() ([]byte, error)
}

// NewService constructs a proof service with crypto/rand nonces and wall-clock
// timestamps.
func NewService() *Service {
	return &Service{
		nowFn:   func() int64 { return time.Now().Unix() },
		nonceFn: randomNonce,
	}
}

// SetNowFunc overrides the timestamp source. Primarily intended for tests.
func (s *Service) SetNowFunc(now func() int64) {
	if now == nil {
		s.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	s.nowFn = now
}

// SetNonceFunc overrides the nonce source. Primarily intended for tests.
func (s *Service) SetNonceFunc(nonce func() ([]byte, error)) {
	if nonce == nil {
		s.nonceFn = randomNonce
		return
	}
	s.nonceFn = nonce
}

func randomNonce() ([]byte, error) {
	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("proof: nonce source failed: %w", err)
	}
	return nonce, nil
}

// Generate builds an attestation for the supplied escrow and condition data.
// The circuit identifier derives deterministically from the condition set (see
// condition.CircuitID); the witness is augmented with a fresh nonce and the
// generation timestamp, and only the derived public inputs leave this function.
func (s *Service) Generate(escrowID string, conditionData map[string]string, conds []condition.Condition) (*Attestation, error) {
	if strings.TrimSpace(escrowID) == "" {
		return nil, fmt.Errorf("%w: escrow id required", coreerrors.ErrInvalidRequest)
	}
	if len(conditionData) == 0 {
		return nil, fmt.Errorf("%w: condition data required", coreerrors.ErrInvalidRequest)
	}

	circuitID := condition.CircuitID(conds)
	generatedAt := s.nowFn()
	nonce, err := s.nonceFn()
	if err != nil {
		return nil, err
	}

	// Witness privacy: the full witness stays local; the payload carries only
	// per-field commitments.
	witness := make(map[string]string, len(conditionData)+3)
	for k, v := range conditionData {
		witness[k] = v
	}
	witness[witnessKeyEscrowID] = escrowID
	witness[witnessKeyNonce] = hex.EncodeToString(nonce)
	witness[witnessKeyGeneratedAt] = fmt.Sprintf("%d", generatedAt)

	commitments := make(map[string]string, len(witness))
	for k, v := range witness {
		commitments[k] = commit(k, v)
	}

	env := &payload{
		CircuitID:       circuitID,
		Commitments:     commitments,
		NonceCommitment: commitNonce(nonce),
		GeneratedAt:     generatedAt,
	}
	raw, err := env.encode()
	if err != nil {
		return nil, fmt.Errorf("proof: encode payload: %w", err)
	}

	return &Attestation{
		Proof:        raw,
		PublicInputs: publicInputs(escrowID, conditionData),
		CircuitID:    circuitID,
		GeneratedAt:  generatedAt,
		Verified:     true,
	}, nil
}

// publicInputs orders the exposed commitments: condition-relevant timestamp,
// escrow identifier, beneficiary, amount — omitting any field absent from the
// supplied condition data.
func publicInputs(escrowID string, conditionData map[string]string) []string {
	inputs := make([]string, 0, 4)
	if ts, ok := conditionData[WitnessKeyTimestamp]; ok && ts != "" {
		inputs = append(inputs, ts)
	}
	inputs = append(inputs, escrowID)
	if beneficiary, ok := conditionData[WitnessKeyBeneficiary]; ok && beneficiary != "" {
		inputs = append(inputs, beneficiary)
	}
	if amount, ok := conditionData[WitnessKeyAmount]; ok && amount != "" {
		inputs = append(inputs, amount)
	}
	return inputs
}

// GenerateBatch produces attestations for every request in order. Requests are
// generated independently with no shared state; the first failure aborts the
// whole batch and no partial results are returned.
func (s *Service) GenerateBatch(reqs []Request) ([]*Attestation, error) {
	results := make([]*Attestation, 0, len(reqs))
	for i, req := range reqs {
		att, err := s.Generate(req.EscrowID, req.ConditionData, req.Conditions)
		if err != nil {
			return nil, fmt.Errorf("batch request #%d: %w", i+1, err)
		}
		results = append(results, att)
	}
	return results, nil
}

// Verify checks structural self-consistency: the proof payload must decode,
// its sealed digest must match, and the embedded circuit identifier must equal
// the attestation's declared one. Decode failures return Valid=false rather
// than an error. This is a stand-in for an external cryptographic verifier and
// deployments replace it via the Verifier interface.
func (s *Service) Verify(att *Attestation) VerificationResult {
	if att == nil {
		return VerificationResult{Valid: false, Err: "attestation required"}
	}
	env, err := decodePayload(att.Proof)
	if err != nil {
		return VerificationResult{Valid: false, Err: err.Error()}
	}
	if !env.digestValid() {
		return VerificationResult{Valid: false, Err: "proof payload digest mismatch"}
	}
	if env.CircuitID != att.CircuitID {
		return VerificationResult{
			Valid: false,
			Err:   fmt.Sprintf("circuit mismatch: payload %q, attestation %q", env.CircuitID, att.CircuitID),
		}
	}
	return VerificationResult{Valid: true, CostEstimate: EstimateCost(att.CircuitID)}
}
