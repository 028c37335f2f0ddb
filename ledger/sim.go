package ledger

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"sync"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"zkescrow/proof"
)

// SimLedger is a deterministic in-process ledger used by the daemon's
// standalone mode and by tests. It tracks outpoints in memory, rejects double
// spends and derives stable references from its own sequence counter.
// Production deployments substitute a real watcher/broadcaster behind the
// Ledger interface.
type SimLedger struct {
	mu        sync.Mutex
	sequence  uint64
	outpoints map[string]*simOutpoint
}

type simOutpoint struct {
	value       *uint256.Int
	beneficiary string
	commitment  [32]byte
	spent       bool
}

// NewSimLedger constructs an empty simulated ledger.
func NewSimLedger() *SimLedger {
	return &SimLedger{outpoints: make(map[string]*simOutpoint)}
}

func outpointKey(txID string, vout uint32) string {
	return fmt.Sprintf("%s:%d", txID, vout)
}

// Lock records a new locked outpoint for the given amount and commitment and
// returns its reference.
func (l *SimLedger) Lock(ctx context.Context, amount *big.Int, beneficiary string, commitment [32]byte) (*LockRef, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, fmt.Errorf("ledger: lock amount must be positive")
	}
	value, overflow := uint256.FromBig(amount)
	if overflow {
		return nil, fmt.Errorf("ledger: lock amount overflows 256 bits")
	}
	if strings.TrimSpace(beneficiary) == "" {
		return nil, fmt.Errorf("ledger: beneficiary required")
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.sequence++
	var seq [8]byte
	binary.BigEndian.PutUint64(seq[:], l.sequence)
	txHash := ethcrypto.Keccak256Hash(seq[:], []byte(beneficiary), commitment[:])
	txID := hex.EncodeToString(txHash[:])

	l.outpoints[outpointKey(txID, 0)] = &simOutpoint{
		value:       value,
		beneficiary: beneficiary,
		commitment:  commitment,
	}
	return &LockRef{
		TxID:   txID,
		Vout:   0,
		Value:  new(big.Int).Set(amount),
		Script: append([]byte(nil), commitment[:]...),
	}, nil
}

// Spend consumes a locked outpoint in favour of its beneficiary, gated on an
// attestation being supplied. Spending an unknown or already consumed outpoint
// fails.
func (l *SimLedger) Spend(ctx context.Context, ref *LockRef, att *proof.Attestation) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if att == nil {
		return "", fmt.Errorf("ledger: attestation required to spend")
	}
	return l.consume(ref, "spend")
}

// Refund returns a locked outpoint to its originator.
func (l *SimLedger) Refund(ctx context.Context, ref *LockRef) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return l.consume(ref, "refund")
}

func (l *SimLedger) consume(ref *LockRef, direction string) (string, error) {
	if ref == nil {
		return "", fmt.Errorf("ledger: lock reference required")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	out, ok := l.outpoints[outpointKey(ref.TxID, ref.Vout)]
	if !ok {
		return "", fmt.Errorf("ledger: unknown outpoint %s:%d", ref.TxID, ref.Vout)
	}
	if out.spent {
		return "", fmt.Errorf("ledger: outpoint %s:%d already consumed", ref.TxID, ref.Vout)
	}
	out.spent = true
	refHash := ethcrypto.Keccak256Hash([]byte(ref.TxID), []byte(direction))
	return hex.EncodeToString(refHash[:]), nil
}

// LockedValue reports the total value still locked, for diagnostics.
func (l *SimLedger) LockedValue() *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	total := uint256.NewInt(0)
	for _, out := range l.outpoints {
		if !out.spent {
			total = new(uint256.Int).Add(total, out.value)
		}
	}
	return total.ToBig()
}
