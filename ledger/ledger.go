package ledger

import (
	"context"
	"math/big"

	"zkescrow/proof"
)

// LockRef points at the locked-fund record backing an escrow: the source
// transaction, output index, locked value and the locking script commitment.
type LockRef struct {
	TxID   string   `json:"txId"`
	Vout   uint32   `json:"vout"`
	Value  *big.Int `json:"value"`
	Script []byte   `json:"script"`
}

// Clone returns a deep copy of the reference.
func (r *LockRef) Clone() *LockRef {
	if r == nil {
		return nil
	}
	clone := *r
	if r.Value != nil {
		clone.Value = new(big.Int).Set(r.Value)
	} else {
		clone.Value = big.NewInt(0)
	}
	clone.Script = append([]byte(nil), r.Script...)
	return &clone
}

// Ledger is the external fund-movement collaborator. Lock is invoked during
// escrow creation, Spend during release and Refund during refund. Callers are
// responsible for single invocation per outpoint; the escrow engine's state
// gate enforces that.
type Ledger interface {
	Lock(ctx context.Context, amount *big.Int, beneficiary string, commitment [32]byte) (*LockRef, error)
	Spend(ctx context.Context, ref *LockRef, att *proof.Attestation) (string, error)
	Refund(ctx context.Context, ref *LockRef) (string, error)
}
