package action

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"lukechampine.com/blake3"

	coreerrors "zkescrow/core/errors"
	"zkescrow/proof"
)

// Trigger dispatches release actions to remote execution environments. It
// keeps an in-flight registry so callers can look up pending dispatches; the
// registry is advisory bookkeeping, not a dedup lock — at-most-once dispatch
// is guaranteed by the escrow engine's state gate.
type Trigger struct {
	registry *Registry
	receiver Receiver
	archive  *ResultStore
	nowFn    func() int64
	nanoFn   func() int64

	mu      sync.Mutex
	pending map[string]*Result
}

// NewTrigger wires a trigger to an environment registry and a receiver.
func NewTrigger(registry *Registry, receiver Receiver) *Trigger {
	return &Trigger{
		registry: registry,
		receiver: receiver,
		nowFn:    func() int64 { return time.Now().Unix() },
		nanoFn:   func() int64 { return time.Now().UnixNano() },
		pending:  make(map[string]*Result),
	}
}

// SetArchive installs a durable store for terminal results. Without one, only
// the transient pending registry exists and completed dispatches are
// unqueryable.
func (t *Trigger) SetArchive(archive *ResultStore) { t.archive = archive }

// SetNowFunc overrides the clock sources. Primarily intended for tests.
func (t *Trigger) SetNowFunc(now func() int64) {
	if now == nil {
		t.nowFn = func() int64 { return time.Now().Unix() }
		t.nanoFn = func() int64 { return time.Now().UnixNano() }
		return
	}
	t.nowFn = now
	t.nanoFn = func() int64 { return now() * int64(time.Second) }
}

// Trigger submits the action to its target environment and awaits the
// receiver's confirmation. A missing environment route fails with
// ErrUnsupportedEnvironment; every dispatch or confirmation error is reported
// as a failed Result with a nil error — the escrow engine decides whether that
// is fatal.
func (t *Trigger) Trigger(ctx context.Context, act Descriptor, escrowID string, att *proof.Attestation) (*Result, error) {
	if strings.TrimSpace(escrowID) == "" {
		return nil, fmt.Errorf("%w: escrow id required", coreerrors.ErrInvalidRequest)
	}

	ref := fmt.Sprintf("%s@%d", escrowID, t.nanoFn())
	dispatchedAt := t.nowFn()
	t.register(&Result{
		Ref:          ref,
		EscrowID:     escrowID,
		Status:       StatusPending,
		DispatchedAt: dispatchedAt,
	})

	env, err := t.registry.Resolve(ctx, act.Environment)
	if err != nil {
		t.remove(ref)
		return nil, err
	}
	if !env.AllowsMethod(act.Method) {
		result := t.fail(ref, escrowID, dispatchedAt, fmt.Sprintf("method %s not allowed on %s", act.Method, env.Name))
		return result, nil
	}

	call := Call{
		Contract:       act.Contract,
		Method:         act.Method,
		Params:         act.Params,
		GasLimit:       act.GasLimit,
		EscrowID:       escrowID,
		AttestationRef: attestationRef(att),
	}

	dispatchCtx := ctx
	if env.Timeout > 0 {
		var cancel context.CancelFunc
		dispatchCtx, cancel = context.WithTimeout(ctx, env.Timeout)
		defer cancel()
	}

	remote, err := t.receiver.Dispatch(dispatchCtx, env, call)
	if err != nil {
		result := t.fail(ref, escrowID, dispatchedAt, err.Error())
		return result, nil
	}

	result := &Result{
		Ref:          ref,
		EscrowID:     escrowID,
		Status:       StatusConfirmed,
		DispatchedAt: dispatchedAt,
	}
	if remote != nil {
		result.TxID = remote.TxID
		result.Sequence = remote.Sequence
		result.MintedResourceID = remote.MintedResourceID
		if remote.Status.Valid() && remote.Status != StatusPending {
			result.Status = remote.Status
			result.Error = remote.Error
		}
	}
	t.complete(result)
	return result, nil
}

// Status looks an action up in the pending registry. Once a dispatch reaches a
// terminal state the record is removed and this returns false; durable history
// lives in the archive.
func (t *Trigger) Status(ref string) (*Result, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	result, ok := t.pending[ref]
	if !ok {
		return nil, false
	}
	return result.Clone(), true
}

// ArchivedResult returns the most recent terminal result persisted for an
// escrow, if an archive is configured.
func (t *Trigger) ArchivedResult(escrowID string) (*Result, error) {
	if t.archive == nil {
		return nil, ErrResultNotFound
	}
	return t.archive.Latest(escrowID)
}

func (t *Trigger) register(result *Result) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending[result.Ref] = result
}

func (t *Trigger) remove(ref string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.pending, ref)
}

func (t *Trigger) fail(ref, escrowID string, dispatchedAt int64, detail string) *Result {
	result := &Result{
		Ref:          ref,
		EscrowID:     escrowID,
		Status:       StatusFailed,
		Error:        detail,
		DispatchedAt: dispatchedAt,
	}
	t.complete(result)
	return result
}

// complete archives a terminal result and removes the pending record.
func (t *Trigger) complete(result *Result) {
	if t.archive != nil {
		_ = t.archive.Put(result)
	}
	t.remove(result.Ref)
}

// attestationRef derives the receipt-friendly reference forwarded to remote
// receivers in place of the full attestation.
func attestationRef(att *proof.Attestation) string {
	if att == nil || len(att.Proof) == 0 {
		return ""
	}
	sum := blake3.Sum256(att.Proof)
	return hex.EncodeToString(sum[:])
}
