package action

// Status tracks the lifecycle of a dispatched cross-environment action.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusFailed    Status = "failed"
)

// Valid reports whether the status value is one of the supported states.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusFailed:
		return true
	default:
		return false
	}
}

// Descriptor specifies the side effect to trigger on a remote execution
// environment once an escrow releases. Descriptors are immutable once attached
// to an escrow.
type Descriptor struct {
	Environment string            `json:"environment"`
	Contract    string            `json:"contract"`
	Method      string            `json:"method"`
	Params      map[string]string `json:"params,omitempty"`
	GasLimit    uint64            `json:"gasLimit,omitempty"`
}

// Clone returns a deep copy of the descriptor.
func (d *Descriptor) Clone() *Descriptor {
	if d == nil {
		return nil
	}
	clone := *d
	if d.Params != nil {
		clone.Params = make(map[string]string, len(d.Params))
		for k, v := range d.Params {
			clone.Params[k] = v
		}
	}
	return &clone
}

// Result reports the outcome of one action dispatch. Ref is the registry
// reference (escrow id + dispatch timestamp); TxID is the remote
// transaction/receipt identifier once the receiver confirms.
type Result struct {
	Ref              string `json:"ref"`
	EscrowID         string `json:"escrowId"`
	TxID             string `json:"txId,omitempty"`
	Sequence         uint64 `json:"sequence,omitempty"`
	Status           Status `json:"status"`
	MintedResourceID string `json:"mintedResourceId,omitempty"`
	Error            string `json:"error,omitempty"`
	DispatchedAt     int64  `json:"dispatchedAt"`
}

// Clone returns a copy of the result.
func (r *Result) Clone() *Result {
	if r == nil {
		return nil
	}
	clone := *r
	return &clone
}

// Call is the payload handed to the remote receiver collaborator.
type Call struct {
	Contract       string            `json:"contract"`
	Method         string            `json:"method"`
	Params         map[string]string `json:"params,omitempty"`
	GasLimit       uint64            `json:"gasLimit,omitempty"`
	EscrowID       string            `json:"escrowId"`
	AttestationRef string            `json:"attestationRef"`
}
