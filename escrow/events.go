package escrow

import (
	"encoding/hex"
	"strconv"
	"strings"

	"zkescrow/action"
	"zkescrow/core/types"
)

const (
	EventTypeCreated          = "escrow.created"
	EventTypeReleased         = "escrow.released"
	EventTypeRefunded         = "escrow.refunded"
	EventTypeActionDispatched = "escrow.action_dispatched"
)

// NewCreatedEvent returns the canonical event payload for a newly created
// escrow.
func NewCreatedEvent(e *Escrow) *types.Event { return newEscrowEvent(EventTypeCreated, e) }

// NewReleasedEvent returns the canonical event payload for a release of the
// locked funds to the beneficiary.
func NewReleasedEvent(e *Escrow, releaseRef string) *types.Event {
	evt := newEscrowEvent(EventTypeReleased, e)
	if releaseRef != "" {
		evt.Attributes["releaseRef"] = releaseRef
	}
	return evt
}

// NewRefundedEvent returns the canonical event payload for a timeout refund.
func NewRefundedEvent(e *Escrow, refundRef string) *types.Event {
	evt := newEscrowEvent(EventTypeRefunded, e)
	if refundRef != "" {
		evt.Attributes["refundRef"] = refundRef
	}
	return evt
}

// NewActionDispatchedEvent returns the event payload describing the terminal
// outcome of the post-release action, whether or not the dispatch reached the
// remote environment.
func NewActionDispatchedEvent(e *Escrow, result *action.Result, dispatchErr error) *types.Event {
	attrs := make(map[string]string)
	if e != nil {
		attrs["id"] = e.ID
	}
	switch {
	case result != nil:
		attrs["ref"] = result.Ref
		attrs["status"] = string(result.Status)
		if result.TxID != "" {
			attrs["txId"] = result.TxID
		}
		if result.MintedResourceID != "" {
			attrs["mintedResourceId"] = result.MintedResourceID
		}
		if result.Error != "" {
			attrs["error"] = result.Error
		}
	case dispatchErr != nil:
		attrs["status"] = string(action.StatusFailed)
		attrs["error"] = dispatchErr.Error()
	}
	return &types.Event{Type: EventTypeActionDispatched, Attributes: attrs}
}

func newEscrowEvent(eventType string, e *Escrow) *types.Event {
	attrs := make(map[string]string)
	if e == nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	attrs["id"] = e.ID
	attrs["beneficiary"] = e.Beneficiary
	if e.Amount != nil {
		attrs["amount"] = e.Amount.String()
	}
	attrs["status"] = e.Status.String()
	attrs["timeout"] = strconv.FormatInt(e.Timeout, 10)
	attrs["createdAt"] = strconv.FormatInt(e.CreatedAt, 10)
	attrs["fingerprint"] = hex.EncodeToString(e.Fingerprint[:])
	if len(e.Conditions) > 0 {
		kinds := make([]string, 0, len(e.Conditions))
		for _, c := range e.Conditions {
			kinds = append(kinds, string(c.Kind))
		}
		attrs["conditions"] = strings.Join(kinds, ",")
	}
	if e.Lock != nil && e.Lock.TxID != "" {
		attrs["lockTx"] = e.Lock.TxID
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}
