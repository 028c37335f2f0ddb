package escrow

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"

	"zkescrow/action"
	"zkescrow/condition"
	coreerrors "zkescrow/core/errors"
	"zkescrow/core/events"
	"zkescrow/core/types"
	"zkescrow/ledger"
	"zkescrow/proof"
)

var (
	errNilStore    = errors.New("escrow engine: store not configured")
	errNilLedger   = errors.New("escrow engine: ledger not configured")
	errNilVerifier = errors.New("escrow engine: verifier not configured")
)

// Dispatcher triggers the optional cross-environment action following a
// release. Satisfied by *action.Trigger.
type Dispatcher interface {
	Trigger(ctx context.Context, act action.Descriptor, escrowID string, att *proof.Attestation) (*action.Result, error)
}

type escrowEvent struct {
	evt *types.Event
}

func (e escrowEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e escrowEvent) Event() *types.Event { return e.evt }

// Engine owns the escrow lifecycle state machine: creation, proof-gated
// release and timeout-gated refund. Mutating operations on one escrow are
// serialized through a keyed mutex; the status compare-and-swap in the store
// is the transition itself, so losers of a release race observe InvalidState
// and terminal states admit no further transitions.
type Engine struct {
	store    Store
	ledger   ledger.Ledger
	verifier proof.Verifier
	trigger  Dispatcher
	emitter  events.Emitter

	idFn           func() (string, error)
	nowFn          func() int64
	defaultTimeout int64

	locks *keyedMutex
}

// NewEngine creates an escrow engine with a no-op emitter and the default
// refund timeout. Collaborators are attached via the Set methods.
func NewEngine() *Engine {
	return &Engine{
		emitter:        events.NoopEmitter{},
		idFn:           randomID,
		nowFn:          func() int64 { return time.Now().Unix() },
		defaultTimeout: DefaultTimeout,
		locks:          newKeyedMutex(),
	}
}

func randomID() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// SetStore configures the record store used by the engine.
func (e *Engine) SetStore(store Store) { e.store = store }

// SetLedger configures the fund-movement collaborator.
func (e *Engine) SetLedger(l ledger.Ledger) { e.ledger = l }

// SetVerifier configures the attestation verifier consulted before release.
func (e *Engine) SetVerifier(v proof.Verifier) { e.verifier = v }

// SetTrigger configures the post-release action dispatcher.
func (e *Engine) SetTrigger(t Dispatcher) { e.trigger = t }

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetIDFunc overrides the escrow identifier generator. Passing nil restores
// the random UUID source.
func (e *Engine) SetIDFunc(id func() (string, error)) {
	if id == nil {
		e.idFn = randomID
		return
	}
	e.idFn = id
}

// SetDefaultTimeout overrides the refund window applied when creation
// parameters leave the timeout unset.
func (e *Engine) SetDefaultTimeout(seconds int64) {
	if seconds > 0 {
		e.defaultTimeout = seconds
	}
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(escrowEvent{evt: event})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

// Create validates the parameters, locks the funds and persists the record
// with StatusActive. Nothing is persisted on any validation or lock failure.
func (e *Engine) Create(ctx context.Context, params CreateParams) (*Escrow, error) {
	if e == nil || e.store == nil {
		return nil, errNilStore
	}
	if e.ledger == nil {
		return nil, errNilLedger
	}
	if params.Amount == nil || params.Amount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", coreerrors.ErrInvalidEscrowParams)
	}
	beneficiary := strings.TrimSpace(params.Beneficiary)
	if beneficiary == "" {
		return nil, fmt.Errorf("%w: beneficiary required", coreerrors.ErrInvalidEscrowParams)
	}
	if err := condition.ValidateSet(params.Conditions); err != nil {
		return nil, fmt.Errorf("%w: %v", coreerrors.ErrInvalidEscrowParams, err)
	}
	timeout := params.Timeout
	if timeout == 0 {
		timeout = e.defaultTimeout
	}
	if timeout < 0 {
		return nil, fmt.Errorf("%w: timeout must not be negative", coreerrors.ErrInvalidEscrowParams)
	}
	id, err := e.idFn()
	if err != nil {
		return nil, fmt.Errorf("escrow: generate id: %w", err)
	}
	if _, exists, err := e.store.Get(id); err != nil {
		return nil, err
	} else if exists {
		return nil, fmt.Errorf("escrow: identifier %s already exists", id)
	}
	esc := &Escrow{
		ID:          id,
		Amount:      new(big.Int).Set(params.Amount),
		Beneficiary: beneficiary,
		Conditions:  condition.CloneSet(params.Conditions),
		Timeout:     timeout,
		Action:      params.Action.Clone(),
		Fingerprint: condition.Fingerprint(params.Conditions),
		CreatedAt:   e.now(),
		Status:      StatusPending,
	}
	lockRef, err := e.ledger.Lock(ctx, esc.Amount, beneficiary, esc.Fingerprint)
	if err != nil {
		return nil, fmt.Errorf("escrow: lock funds: %w", err)
	}
	esc.Lock = lockRef
	esc.Status = StatusActive
	if err := e.store.Put(esc); err != nil {
		// No record references the lock at this point; return the funds
		// before surfacing the persist failure.
		if _, refundErr := e.ledger.Refund(ctx, lockRef); refundErr != nil {
			return nil, fmt.Errorf("escrow: persist record: %w (refund of orphaned lock failed: %v)", err, refundErr)
		}
		return nil, fmt.Errorf("escrow: persist record: %w", err)
	}
	e.emit(NewCreatedEvent(esc))
	return esc.Clone(), nil
}

// Get returns a snapshot of the escrow record, if present. Reads proceed
// concurrently with any mutation.
func (e *Engine) Get(id string) (*Escrow, bool) {
	if e == nil || e.store == nil {
		return nil, false
	}
	esc, ok, err := e.store.Get(id)
	if err != nil || !ok {
		return nil, false
	}
	return esc, true
}

// Release verifies the proof and, exactly once per escrow, spends the locked
// funds to the beneficiary. The status gate is the sole release guard: once
// the record leaves StatusActive no further release can succeed. A failure of
// the post-release action never rolls back the fund release; it is surfaced
// in the receipt instead.
func (e *Engine) Release(ctx context.Context, params ReleaseParams) (*ReleaseReceipt, error) {
	if e == nil || e.store == nil {
		return nil, errNilStore
	}
	if e.ledger == nil {
		return nil, errNilLedger
	}
	if e.verifier == nil {
		return nil, errNilVerifier
	}
	id := strings.TrimSpace(params.EscrowID)
	esc, ok, err := e.store.Get(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", coreerrors.ErrNotFound, id)
	}
	if esc.Status != StatusActive {
		return nil, fmt.Errorf("%w: escrow %s is %s", coreerrors.ErrInvalidState, id, esc.Status)
	}

	// Bind the attestation to this escrow's rules: an explicit circuit id
	// must match the one derived from the stored condition set.
	derived := esc.CircuitID()
	declared := strings.TrimSpace(params.CircuitID)
	if declared == "" {
		declared = derived
	} else if declared != derived {
		return nil, fmt.Errorf("%w: circuit %s does not match escrow conditions (%s)", coreerrors.ErrInvalidProof, declared, derived)
	}
	att := &proof.Attestation{
		Proof:        append([]byte(nil), params.Proof...),
		PublicInputs: append([]string(nil), params.PublicInputs...),
		CircuitID:    declared,
	}

	// Verification can be slow; it runs outside the per-escrow lock and the
	// status is re-checked once the lock is held.
	if result := e.verifier.Verify(att); !result.Valid {
		detail := result.Err
		if detail == "" {
			detail = "verification failed"
		}
		return nil, fmt.Errorf("%w: %s", coreerrors.ErrInvalidProof, detail)
	}

	receipt, updated, err := e.settleRelease(ctx, id, att)
	if err != nil {
		return nil, err
	}

	if updated.Action != nil {
		result, dispatchErr := e.dispatchAction(ctx, updated, att)
		receipt.Action = result
		receipt.ActionErr = dispatchErr
	}
	return receipt, nil
}

// settleRelease runs the status-check, ledger spend and transition under the
// escrow's keyed lock. The transition only becomes visible after the spend is
// confirmed, and no interleaved release can occur in between.
func (e *Engine) settleRelease(ctx context.Context, id string, att *proof.Attestation) (*ReleaseReceipt, *Escrow, error) {
	unlock := e.locks.lock(id)
	defer unlock()

	esc, ok, err := e.store.Get(id)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", coreerrors.ErrNotFound, id)
	}
	if esc.Status != StatusActive {
		return nil, nil, fmt.Errorf("%w: escrow %s is %s", coreerrors.ErrInvalidState, id, esc.Status)
	}
	releaseRef, err := e.ledger.Spend(ctx, esc.Lock, att)
	if err != nil {
		return nil, nil, fmt.Errorf("escrow: release funds: %w", err)
	}
	updated, err := e.store.CompareAndSwapStatus(id, StatusActive, StatusReleased)
	if err != nil {
		return nil, nil, err
	}
	e.emit(NewReleasedEvent(updated, releaseRef))
	receipt := &ReleaseReceipt{
		EscrowID:   id,
		ReleaseRef: releaseRef,
		Status:     updated.Status,
	}
	return receipt, updated, nil
}

// dispatchAction fires the attached descriptor after a successful release.
// Best-effort: failures are reported, never propagated, never retried here.
func (e *Engine) dispatchAction(ctx context.Context, esc *Escrow, att *proof.Attestation) (*action.Result, error) {
	if e.trigger == nil {
		err := fmt.Errorf("%w: action trigger not configured", coreerrors.ErrActionDispatchFailed)
		e.emit(NewActionDispatchedEvent(esc, nil, err))
		return nil, err
	}
	result, err := e.trigger.Trigger(ctx, *esc.Action, esc.ID, att)
	e.emit(NewActionDispatchedEvent(esc, result, err))
	return result, err
}

// Refund returns the locked funds once the configured timeout has elapsed.
// The whole check-spend-transition sequence runs under the escrow's keyed
// lock; the checks are cheap and the ledger refund gates the transition.
func (e *Engine) Refund(ctx context.Context, id string) (*RefundReceipt, error) {
	if e == nil || e.store == nil {
		return nil, errNilStore
	}
	if e.ledger == nil {
		return nil, errNilLedger
	}
	id = strings.TrimSpace(id)

	unlock := e.locks.lock(id)
	defer unlock()

	esc, ok, err := e.store.Get(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", coreerrors.ErrNotFound, id)
	}
	if esc.Status != StatusActive {
		return nil, fmt.Errorf("%w: escrow %s is %s", coreerrors.ErrInvalidState, id, esc.Status)
	}
	elapsed := e.now() - esc.CreatedAt
	if elapsed < esc.Timeout {
		return nil, fmt.Errorf("%w: %ds elapsed of %ds", coreerrors.ErrTimeoutNotElapsed, elapsed, esc.Timeout)
	}
	refundRef, err := e.ledger.Refund(ctx, esc.Lock)
	if err != nil {
		return nil, fmt.Errorf("escrow: refund funds: %w", err)
	}
	updated, err := e.store.CompareAndSwapStatus(id, StatusActive, StatusRefunded)
	if err != nil {
		return nil, err
	}
	e.emit(NewRefundedEvent(updated, refundRef))
	return &RefundReceipt{EscrowID: id, RefundRef: refundRef, Status: updated.Status}, nil
}
