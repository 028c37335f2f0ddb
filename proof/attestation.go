package proof

// Attestation bundles an opaque proof payload with the public commitments a
// release verifier may check on-chain. The Verified flag is self-reported by
// the generator and advisory only; trust requires the verifier role.
type Attestation struct {
	Proof        []byte   `json:"proof"`
	PublicInputs []string `json:"publicInputs"`
	CircuitID    string   `json:"circuitId"`
	GeneratedAt  int64    `json:"generatedAt"`
	Verified     bool     `json:"verified"`
}

// Clone returns a deep copy so callers can safely mutate the copy without
// affecting the stored instance.
func (a *Attestation) Clone() *Attestation {
	if a == nil {
		return nil
	}
	clone := *a
	clone.Proof = append([]byte(nil), a.Proof...)
	clone.PublicInputs = append([]string(nil), a.PublicInputs...)
	return &clone
}

// VerificationResult reports the outcome of attestation verification together
// with an optional on-chain cost estimate for the circuit involved.
type VerificationResult struct {
	Valid        bool   `json:"valid"`
	Err          string `json:"error,omitempty"`
	CostEstimate uint64 `json:"costEstimate,omitempty"`
}

// Verifier checks attestations. The default implementation performs a
// structural self-consistency check only; production deployments substitute a
// sound cryptographic verifier behind this boundary.
type Verifier interface {
	Verify(att *Attestation) VerificationResult
}
