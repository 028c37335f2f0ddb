package condition

import (
	"fmt"
	"sort"
	"strings"
)

// Kind identifies the variant of a release condition. The tag doubles as the
// canonical token used when deriving circuit identifiers, so values are
// lowercase and stable.
type Kind string

const (
	KindTimeLock       Kind = "timelock"
	KindOracle         Kind = "oracle"
	KindMultiSig       Kind = "multisig"
	KindHashLock       Kind = "hashlock"
	KindGovernanceVote Kind = "vote"
	KindCustom         Kind = "custom"
)

// Valid reports whether the kind is one of the supported variants.
func (k Kind) Valid() bool {
	switch k {
	case KindTimeLock, KindOracle, KindMultiSig, KindHashLock, KindGovernanceVote, KindCustom:
		return true
	default:
		return false
	}
}

// TimeLock releases once the supplied current time reaches UnlockAfter.
// MinDelay is descriptive metadata for the underlying lock script and is never
// re-checked during evaluation.
type TimeLock struct {
	UnlockAfter int64 `json:"unlockAfter"`
	MinDelay    int64 `json:"minDelay,omitempty"`
}

// Oracle gates release on an external data source. The expression itself is
// evaluated inside the proving circuit; this package only checks that a value
// was supplied.
type Oracle struct {
	Source     string `json:"source"`
	Expression string `json:"expression"`
	FeedID     string `json:"feedId,omitempty"`
	Threshold  string `json:"threshold,omitempty"`
}

// MultiSig requires a quorum of signatures before release.
type MultiSig struct {
	Required            uint32   `json:"required"`
	Signers             []string `json:"signers"`
	CollectedSignatures []string `json:"collectedSignatures,omitempty"`
}

// HashLock requires knowledge of a hash preimage. Hash equality is enforced by
// the proving circuit; evaluation only checks preimage presence.
type HashLock struct {
	Algorithm string `json:"algorithm"`
	Hash      string `json:"hash"`
	Preimage  string `json:"preimage,omitempty"`
}

// GovernanceVote gates release on an approved governance proposal.
type GovernanceVote struct {
	ProposalID string `json:"proposalId"`
	Threshold  string `json:"threshold,omitempty"`
}

// Custom defers entirely to a caller-supplied circuit.
type Custom struct {
	CircuitID string            `json:"circuitId"`
	Inputs    map[string]string `json:"inputs,omitempty"`
}

// Condition is a closed tagged union over the supported release condition
// variants. Exactly one payload field matching Kind must be populated; all
// other payloads must be nil. Conditions attached to an escrow are immutable,
// so consumers always operate on clones.
type Condition struct {
	Kind           Kind            `json:"kind"`
	TimeLock       *TimeLock       `json:"timeLock,omitempty"`
	Oracle         *Oracle         `json:"oracle,omitempty"`
	MultiSig       *MultiSig       `json:"multiSig,omitempty"`
	HashLock       *HashLock       `json:"hashLock,omitempty"`
	GovernanceVote *GovernanceVote `json:"governanceVote,omitempty"`
	Custom         *Custom         `json:"custom,omitempty"`
}

// Clone returns a deep copy of the condition so callers can safely mutate the
// copy without affecting the stored instance.
func (c Condition) Clone() Condition {
	clone := Condition{Kind: c.Kind}
	if c.TimeLock != nil {
		tl := *c.TimeLock
		clone.TimeLock = &tl
	}
	if c.Oracle != nil {
		o := *c.Oracle
		clone.Oracle = &o
	}
	if c.MultiSig != nil {
		ms := MultiSig{Required: c.MultiSig.Required}
		ms.Signers = append([]string(nil), c.MultiSig.Signers...)
		ms.CollectedSignatures = append([]string(nil), c.MultiSig.CollectedSignatures...)
		clone.MultiSig = &ms
	}
	if c.HashLock != nil {
		hl := *c.HashLock
		clone.HashLock = &hl
	}
	if c.GovernanceVote != nil {
		gv := *c.GovernanceVote
		clone.GovernanceVote = &gv
	}
	if c.Custom != nil {
		cu := Custom{CircuitID: c.Custom.CircuitID}
		if c.Custom.Inputs != nil {
			cu.Inputs = make(map[string]string, len(c.Custom.Inputs))
			for k, v := range c.Custom.Inputs {
				cu.Inputs[k] = v
			}
		}
		clone.Custom = &cu
	}
	return clone
}

// CloneSet deep-copies an ordered condition sequence.
func CloneSet(conditions []Condition) []Condition {
	if conditions == nil {
		return nil
	}
	out := make([]Condition, len(conditions))
	for i := range conditions {
		out[i] = conditions[i].Clone()
	}
	return out
}

// Validate checks the structural well-formedness of a condition. Malformed
// conditions are rejected before attachment to an escrow, never silently
// coerced.
func Validate(c Condition) error {
	if !c.Kind.Valid() {
		return fmt.Errorf("condition: unsupported kind %q", c.Kind)
	}
	if err := c.checkSinglePayload(); err != nil {
		return err
	}
	switch c.Kind {
	case KindTimeLock:
		if c.TimeLock.UnlockAfter <= 0 {
			return fmt.Errorf("condition: timelock unlockAfter must be positive")
		}
		if c.TimeLock.MinDelay < 0 {
			return fmt.Errorf("condition: timelock minDelay must not be negative")
		}
	case KindOracle:
		if strings.TrimSpace(c.Oracle.Source) == "" {
			return fmt.Errorf("condition: oracle source required")
		}
		if strings.TrimSpace(c.Oracle.Expression) == "" {
			return fmt.Errorf("condition: oracle expression required")
		}
	case KindMultiSig:
		if c.MultiSig.Required == 0 {
			return fmt.Errorf("condition: multisig required must be positive")
		}
		if uint32(len(c.MultiSig.Signers)) < c.MultiSig.Required {
			return fmt.Errorf("condition: multisig requires %d signers, have %d", c.MultiSig.Required, len(c.MultiSig.Signers))
		}
		for i, signer := range c.MultiSig.Signers {
			if strings.TrimSpace(signer) == "" {
				return fmt.Errorf("condition: multisig signer #%d empty", i+1)
			}
		}
	case KindHashLock:
		if strings.TrimSpace(c.HashLock.Algorithm) == "" {
			return fmt.Errorf("condition: hashlock algorithm required")
		}
		if strings.TrimSpace(c.HashLock.Hash) == "" {
			return fmt.Errorf("condition: hashlock hash required")
		}
	case KindGovernanceVote:
		if strings.TrimSpace(c.GovernanceVote.ProposalID) == "" {
			return fmt.Errorf("condition: governance vote proposalId required")
		}
	case KindCustom:
		if strings.TrimSpace(c.Custom.CircuitID) == "" {
			return fmt.Errorf("condition: custom circuitId required")
		}
	}
	return nil
}

// ValidateSet validates every condition in an ordered sequence and requires at
// least one entry.
func ValidateSet(conditions []Condition) error {
	if len(conditions) == 0 {
		return fmt.Errorf("condition: at least one condition required")
	}
	for i, c := range conditions {
		if err := Validate(c); err != nil {
			return fmt.Errorf("condition #%d: %w", i+1, err)
		}
	}
	return nil
}

func (c Condition) checkSinglePayload() error {
	type payload struct {
		kind Kind
		set  bool
	}
	payloads := []payload{
		{KindTimeLock, c.TimeLock != nil},
		{KindOracle, c.Oracle != nil},
		{KindMultiSig, c.MultiSig != nil},
		{KindHashLock, c.HashLock != nil},
		{KindGovernanceVote, c.GovernanceVote != nil},
		{KindCustom, c.Custom != nil},
	}
	for _, p := range payloads {
		if p.kind == c.Kind && !p.set {
			return fmt.Errorf("condition: %s payload missing", c.Kind)
		}
		if p.kind != c.Kind && p.set {
			return fmt.Errorf("condition: %s payload set on %s condition", p.kind, c.Kind)
		}
	}
	return nil
}

// CircuitID derives the deterministic circuit identifier for an ordered
// condition set. Kind tags are sorted lexically before joining, so equivalent
// sets differing only in ordering map to the same identifier. An empty set
// falls back to the generic release circuit.
func CircuitID(conditions []Condition) string {
	if len(conditions) == 0 {
		return GenericCircuitID
	}
	tags := make([]string, 0, len(conditions))
	for _, c := range conditions {
		tags = append(tags, string(c.Kind))
	}
	sort.Strings(tags)
	return "escrow-" + strings.Join(tags, "-") + "-v1"
}

// GenericCircuitID is the fallback circuit identifier used when proof
// generation receives no conditions.
const GenericCircuitID = "escrow-generic-v1"
