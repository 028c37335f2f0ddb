package core

import (
	"context"
	"fmt"

	"zkescrow/action"
	coreerrors "zkescrow/core/errors"
	"zkescrow/escrow"
	"zkescrow/ledger"
	"zkescrow/proof"
)

// Config wires the coordinator's collaborators. Store, Ledger and Prover are
// required; Verifier defaults to the prover's structural check and Trigger is
// optional for deployments without downstream environments.
type Config struct {
	Store          escrow.Store
	Ledger         ledger.Ledger
	Prover         *proof.Service
	Verifier       proof.Verifier
	Trigger        *action.Trigger
	DefaultTimeout int64
}

// Coordinator composes the escrow engine with proof generation, verification
// and action dispatch behind one facade. All RPC handlers and command-line
// surfaces go through it rather than reaching into the engines directly.
type Coordinator struct {
	engine   *escrow.Engine
	store    escrow.Store
	prover   *proof.Service
	verifier proof.Verifier
	trigger  *action.Trigger
	feed     *Feed
}

// NewCoordinator validates the supplied collaborators and assembles the
// escrow engine around them. Engine events flow into an internal feed that
// EventsSince and SubscribeEvents expose.
func NewCoordinator(cfg Config) (*Coordinator, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("core: escrow store required")
	}
	if cfg.Ledger == nil {
		return nil, fmt.Errorf("core: ledger required")
	}
	prover := cfg.Prover
	if prover == nil {
		prover = proof.NewService()
	}
	verifier := cfg.Verifier
	if verifier == nil {
		verifier = prover
	}

	feed := NewFeed()
	engine := escrow.NewEngine()
	engine.SetStore(cfg.Store)
	engine.SetLedger(cfg.Ledger)
	engine.SetVerifier(verifier)
	engine.SetEmitter(feed)
	if cfg.Trigger != nil {
		engine.SetTrigger(cfg.Trigger)
	}
	if cfg.DefaultTimeout > 0 {
		engine.SetDefaultTimeout(cfg.DefaultTimeout)
	}

	return &Coordinator{
		engine:   engine,
		store:    cfg.Store,
		prover:   prover,
		verifier: verifier,
		trigger:  cfg.Trigger,
		feed:     feed,
	}, nil
}

// Engine exposes the underlying escrow engine, mainly so operators and tests
// can pin its clock and identifier sources.
func (c *Coordinator) Engine() *escrow.Engine { return c.engine }

// Feed exposes the event feed backing EventsSince and SubscribeEvents.
func (c *Coordinator) Feed() *Feed { return c.feed }

// CreateEscrow locks funds and registers a new escrow.
func (c *Coordinator) CreateEscrow(ctx context.Context, params escrow.CreateParams) (*escrow.Escrow, error) {
	return c.engine.Create(ctx, params)
}

// GetEscrow returns a snapshot of the escrow with the given identifier.
func (c *Coordinator) GetEscrow(id string) (*escrow.Escrow, bool) {
	return c.engine.Get(id)
}

// ExecuteRelease verifies the supplied proof material and, when it holds,
// settles the escrow and dispatches any attached action.
func (c *Coordinator) ExecuteRelease(ctx context.Context, params escrow.ReleaseParams) (*escrow.ReleaseReceipt, error) {
	return c.engine.Release(ctx, params)
}

// RefundEscrow returns locked funds to the depositor once the escrow timeout
// has elapsed.
func (c *Coordinator) RefundEscrow(ctx context.Context, id string) (*escrow.RefundReceipt, error) {
	return c.engine.Refund(ctx, id)
}

// GenerateProof produces an attestation for the escrow from the caller's
// condition data. When the escrow is known its stored condition set binds the
// circuit identifier; otherwise the attestation is generated against an empty
// set, which lets provers work ahead of escrow creation.
func (c *Coordinator) GenerateProof(escrowID string, conditionData map[string]string) (*proof.Attestation, error) {
	req := proof.Request{EscrowID: escrowID, ConditionData: conditionData}
	if esc, ok := c.engine.Get(escrowID); ok {
		req.Conditions = esc.Conditions
	}
	return c.prover.Generate(req.EscrowID, req.ConditionData, req.Conditions)
}

// VerifyProof checks an attestation with the configured verifier.
func (c *Coordinator) VerifyProof(att *proof.Attestation) proof.VerificationResult {
	return c.verifier.Verify(att)
}

// BatchGenerateProofs generates attestations for every request, failing the
// whole batch on the first error. Requests that do not carry an explicit
// condition set are enriched from the store when the escrow exists.
func (c *Coordinator) BatchGenerateProofs(reqs []proof.Request) ([]*proof.Attestation, error) {
	enriched := make([]proof.Request, len(reqs))
	copy(enriched, reqs)
	for i := range enriched {
		if len(enriched[i].Conditions) != 0 {
			continue
		}
		if esc, ok := c.engine.Get(enriched[i].EscrowID); ok {
			enriched[i].Conditions = esc.Conditions
		}
	}
	return c.prover.GenerateBatch(enriched)
}

// TriggerAction dispatches an environment action outside the release path,
// for operator-driven retries of failed post-release work.
func (c *Coordinator) TriggerAction(ctx context.Context, act action.Descriptor, escrowID string, att *proof.Attestation) (*action.Result, error) {
	if c.trigger == nil {
		return nil, fmt.Errorf("%w: action trigger not configured", coreerrors.ErrActionDispatchFailed)
	}
	return c.trigger.Trigger(ctx, act, escrowID, att)
}

// ActionStatus reports an in-flight dispatch from the pending registry.
func (c *Coordinator) ActionStatus(ref string) (*action.Result, bool) {
	if c.trigger == nil {
		return nil, false
	}
	return c.trigger.Status(ref)
}

// ArchivedActionResult returns the most recent terminal action result
// persisted for the escrow.
func (c *Coordinator) ArchivedActionResult(escrowID string) (*action.Result, error) {
	if c.trigger == nil {
		return nil, action.ErrResultNotFound
	}
	return c.trigger.ArchivedResult(escrowID)
}

// EventsSince returns retained lifecycle events with a sequence past the
// cursor, up to limit.
func (c *Coordinator) EventsSince(cursor uint64, limit int) []FeedEvent {
	return c.feed.EventsSince(cursor, limit)
}

// SubscribeEvents attaches a live event subscriber starting after the cursor.
func (c *Coordinator) SubscribeEvents(ctx context.Context, cursor uint64) (<-chan FeedEvent, func(), []FeedEvent) {
	return c.feed.Subscribe(ctx, cursor)
}
