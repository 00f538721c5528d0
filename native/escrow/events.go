package escrow

import (
	"encoding/hex"
	"strconv"

	"trustescrow/core/types"
)

const (
	EventTypeTransactionCreated = "escrow.transaction.created"
	EventTypeProtectionAdded    = "escrow.protection.added"
	EventTypeDisputed           = "escrow.disputed"
	EventTypeWithdrawn          = "escrow.withdrawn"
	EventTypeChargebacked       = "escrow.chargebacked"
	EventTypeFeesWithdrawn      = "escrow.fees.withdrawn"
)

// NewTransactionCreatedEvent returns the canonical payload for a new deposit.
func NewTransactionCreatedEvent(t *Transaction) *types.Event {
	return newTransactionEvent(EventTypeTransactionCreated, t)
}

// NewProtectionAddedEvent returns the payload emitted once the buyer has paid
// the protection fee.
func NewProtectionAddedEvent(t *Transaction, fee string) *types.Event {
	evt := newTransactionEvent(EventTypeProtectionAdded, t)
	evt.Attributes["fee"] = fee
	return evt
}

// NewDisputedEvent returns the payload emitted when the buyer raises a dispute.
func NewDisputedEvent(t *Transaction) *types.Event {
	return newTransactionEvent(EventTypeDisputed, t)
}

// NewWithdrawnEvent returns the payload emitted when escrowed funds are
// released to the merchant.
func NewWithdrawnEvent(t *Transaction) *types.Event {
	return newTransactionEvent(EventTypeWithdrawn, t)
}

// NewChargebackedEvent returns the payload emitted when escrowed funds are
// returned to the buyer.
func NewChargebackedEvent(t *Transaction) *types.Event {
	return newTransactionEvent(EventTypeChargebacked, t)
}

// NewFeesWithdrawnEvent returns the payload for a protocol fee sweep.
func NewFeesWithdrawnEvent(controller [20]byte, source, amount string) *types.Event {
	return &types.Event{
		Type: EventTypeFeesWithdrawn,
		Attributes: map[string]string{
			"controller": hex.EncodeToString(controller[:]),
			"source":     source,
			"amount":     amount,
		},
	}
}

func newTransactionEvent(eventType string, t *Transaction) *types.Event {
	attrs := make(map[string]string)
	if t == nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	attrs["id"] = hex.EncodeToString(t.ID[:])
	attrs["buyer"] = hex.EncodeToString(t.Buyer[:])
	attrs["merchant"] = hex.EncodeToString(t.Merchant[:])
	attrs["amount"] = cloneBigInt(t.Amount).String()
	attrs["valueSource"] = t.ValueSource
	attrs["createdAt"] = strconv.FormatInt(t.CreatedAt, 10)
	attrs["status"] = t.Status.String()
	return &types.Event{Type: eventType, Attributes: attrs}
}
