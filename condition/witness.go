package condition

// Witness carries the caller-supplied facts a condition is evaluated against.
// Fields are optional per variant; absent fields use zero values. Callers that
// fetch oracle data, tally live quorums, or verify proofs do so before filling
// the witness — evaluation itself never performs I/O.
type Witness struct {
	// CurrentTime is the caller-observed clock in unix seconds. Zero means
	// the caller supplied no time fact.
	CurrentTime int64 `json:"currentTime,omitempty"`
	// OracleValue is the raw value observed from the oracle source.
	OracleValue string `json:"oracleValue,omitempty"`
	// Signatures collected out-of-band, unioned with the condition's own
	// collected set during evaluation.
	Signatures []string `json:"signatures,omitempty"`
	// Preimage for hash-locked conditions. Equality against the lock hash is
	// the circuit's responsibility.
	Preimage string `json:"preimage,omitempty"`
	// VoteApproved asserts the referenced governance proposal passed.
	VoteApproved bool `json:"voteApproved,omitempty"`
	// ProofVerified asserts a prior custom-circuit proof was verified.
	ProofVerified bool `json:"proofVerified,omitempty"`
}

// Evaluate runs the pure release predicate for a condition against the
// supplied witness. It is a cheap local pre-check: the authoritative check is
// always the proof-service attestation verified before release. Unknown kinds
// and missing payloads evaluate to false.
func Evaluate(c Condition, w Witness) bool {
	switch c.Kind {
	case KindTimeLock:
		if c.TimeLock == nil {
			return false
		}
		return w.CurrentTime >= c.TimeLock.UnlockAfter
	case KindOracle:
		if c.Oracle == nil {
			return false
		}
		return w.OracleValue != ""
	case KindMultiSig:
		if c.MultiSig == nil {
			return false
		}
		return signatureCount(c.MultiSig, w.Signatures) >= c.MultiSig.Required
	case KindHashLock:
		if c.HashLock == nil {
			return false
		}
		if w.Preimage != "" {
			return true
		}
		return c.HashLock.Preimage != ""
	case KindGovernanceVote:
		if c.GovernanceVote == nil {
			return false
		}
		return w.VoteApproved
	case KindCustom:
		if c.Custom == nil {
			return false
		}
		return w.ProofVerified
	default:
		return false
	}
}

// EvaluateAll reports whether every condition in the ordered set passes
// against the shared witness.
func EvaluateAll(conditions []Condition, w Witness) bool {
	for _, c := range conditions {
		if !Evaluate(c, w) {
			return false
		}
	}
	return true
}

// signatureCount sizes the deduplicated union of the condition's collected
// signatures and the witness-supplied ones.
func signatureCount(ms *MultiSig, witnessSigs []string) uint32 {
	seen := make(map[string]struct{}, len(ms.CollectedSignatures)+len(witnessSigs))
	for _, sig := range ms.CollectedSignatures {
		if sig == "" {
			continue
		}
		seen[sig] = struct{}{}
	}
	for _, sig := range witnessSigs {
		if sig == "" {
			continue
		}
		seen[sig] = struct{}{}
	}
	return uint32(len(seen))
}
