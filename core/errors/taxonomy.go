package errors

import stderrors "errors"

// Coordination error taxonomy. Every failure path in the escrow, proof and
// action engines wraps one of these sentinels so callers can branch on
// recoverability with errors.Is.
var (
	// ErrInvalidRequest flags malformed input caught before any state mutation.
	ErrInvalidRequest = stderrors.New("proof: invalid request")
	// ErrInvalidProof flags an attestation that failed verification. The
	// escrow stays active and the caller may retry with a corrected proof.
	ErrInvalidProof = stderrors.New("proof: attestation failed verification")
	// ErrInvalidEscrowParams flags creation-time validation failures.
	ErrInvalidEscrowParams = stderrors.New("escrow: invalid parameters")
	// ErrNotFound flags an unknown escrow identifier.
	ErrNotFound = stderrors.New("escrow: not found")
	// ErrInvalidState guards operations illegal in the current status. This is
	// the at-most-once release/refund gate.
	ErrInvalidState = stderrors.New("escrow: invalid state")
	// ErrTimeoutNotElapsed rejects refunds attempted before the configured
	// timeout has passed.
	ErrTimeoutNotElapsed = stderrors.New("escrow: timeout not elapsed")
	// ErrUnsupportedEnvironment means the action trigger has no endpoint for
	// the requested target environment.
	ErrUnsupportedEnvironment = stderrors.New("action: unsupported environment")
	// ErrActionDispatchFailed reports a failed external action attempt. It is
	// surfaced in release receipts and never rolls back a completed release.
	ErrActionDispatchFailed = stderrors.New("action: dispatch failed")
)
