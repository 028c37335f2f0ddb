package escrow

import (
	"math/big"

	"zkescrow/action"
	"zkescrow/condition"
	"zkescrow/ledger"
)

// DefaultTimeout is the refund window applied when creation parameters leave
// the timeout unset: seven days, in seconds.
const DefaultTimeout int64 = 7 * 24 * 60 * 60

// Status represents the lifecycle states of an escrow record. The lattice is
// strictly monotonic: pending precedes lock confirmation, active admits
// exactly one transition to released or refunded, and the terminal states
// admit none.
type Status uint8

const (
	StatusPending Status = iota
	StatusActive
	StatusReleased
	StatusRefunded
)

// Valid reports whether the status value is within the supported range.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusActive, StatusReleased, StatusRefunded:
		return true
	default:
		return false
	}
}

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusReleased || s == StatusRefunded
}

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusActive:
		return "active"
	case StatusReleased:
		return "released"
	case StatusRefunded:
		return "refunded"
	default:
		return "unknown"
	}
}

// Escrow binds locked funds to a beneficiary and an ordered set of release
// conditions. The engine exclusively owns the mutable Status field; every
// other component receives clones.
type Escrow struct {
	ID          string                `json:"id"`
	Amount      *big.Int              `json:"amount"`
	Beneficiary string                `json:"beneficiary"`
	Conditions  []condition.Condition `json:"conditions"`
	Timeout     int64                 `json:"timeout"`
	Action      *action.Descriptor    `json:"action,omitempty"`
	Lock        *ledger.LockRef       `json:"lock,omitempty"`
	Fingerprint [32]byte              `json:"fingerprint"`
	CreatedAt   int64                 `json:"createdAt"`
	Status      Status                `json:"status"`
}

// Clone returns a deep copy of the escrow so callers can safely mutate the
// copy without affecting the stored instance.
func (e *Escrow) Clone() *Escrow {
	if e == nil {
		return nil
	}
	clone := *e
	if e.Amount != nil {
		clone.Amount = new(big.Int).Set(e.Amount)
	} else {
		clone.Amount = big.NewInt(0)
	}
	clone.Conditions = condition.CloneSet(e.Conditions)
	clone.Action = e.Action.Clone()
	clone.Lock = e.Lock.Clone()
	return &clone
}

// CircuitID derives the composite proving-circuit identifier for the escrow's
// condition set.
func (e *Escrow) CircuitID() string {
	if e == nil {
		return condition.GenericCircuitID
	}
	return condition.CircuitID(e.Conditions)
}

// CreateParams carries the caller-supplied definition of a new escrow.
// Timeout is in seconds; zero selects the engine default.
type CreateParams struct {
	Amount      *big.Int
	Beneficiary string
	Conditions  []condition.Condition
	Timeout     int64
	Action      *action.Descriptor
}

// ReleaseParams identifies the escrow to release together with the proof
// artifact gating it. CircuitID is optional; when empty the identifier is
// derived from the escrow's own condition set, binding the attestation to
// this escrow's rules.
type ReleaseParams struct {
	EscrowID     string
	Proof        []byte
	PublicInputs []string
	CircuitID    string
}

// ReleaseReceipt reports a successful release. Action carries the dispatch
// outcome when the escrow had an attached descriptor; ActionErr is set when
// the trigger could not dispatch at all (for example an unrouted
// environment). Neither implies anything about the fund release, which is
// final once the receipt exists.
type ReleaseReceipt struct {
	EscrowID   string
	ReleaseRef string
	Status     Status
	Action     *action.Result
	ActionErr  error
}

// MintedResourceID surfaces the identifier of any resource minted by the
// release action.
func (r *ReleaseReceipt) MintedResourceID() string {
	if r == nil || r.Action == nil {
		return ""
	}
	return r.Action.MintedResourceID
}

// ActionRef surfaces the remote transaction reference of the release action.
func (r *ReleaseReceipt) ActionRef() string {
	if r == nil || r.Action == nil {
		return ""
	}
	return r.Action.TxID
}

// RefundReceipt reports a successful timeout refund.
type RefundReceipt struct {
	EscrowID  string
	RefundRef string
	Status    Status
}
