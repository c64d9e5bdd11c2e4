package escrow

import (
	"encoding/hex"
	"strconv"

	"escrowd/core/types"
)

const (
	EventTypeInitialized      = "escrow.initialized"
	EventTypePaymentConfirmed = "escrow.payment_confirmed"
	EventTypeReleased         = "escrow.released"
	EventTypeCancelled        = "escrow.cancelled"
)

// NewInitializedEvent returns the canonical payload emitted when an escrow
// is created and funded.
func NewInitializedEvent(e *Escrow) *types.Event { return newEscrowEvent(EventTypeInitialized, e) }

// NewPaymentConfirmedEvent returns the canonical payload emitted when the
// counterparty records the off-chain payment.
func NewPaymentConfirmedEvent(e *Escrow) *types.Event {
	return newEscrowEvent(EventTypePaymentConfirmed, e)
}

// NewReleasedEvent returns the canonical payload emitted when the vault is
// paid out to the counterparty and the escrow destroyed.
func NewReleasedEvent(e *Escrow) *types.Event { return newEscrowEvent(EventTypeReleased, e) }

// NewCancelledEvent returns the canonical payload emitted when the deposit
// is refunded to the initializer and the escrow destroyed.
func NewCancelledEvent(e *Escrow) *types.Event { return newEscrowEvent(EventTypeCancelled, e) }

func newEscrowEvent(eventType string, e *Escrow) *types.Event {
	attrs := make(map[string]string)
	if e == nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	sanitized, err := Sanitize(e)
	if err != nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	vault := sanitized.Vault()
	attrs["address"] = hex.EncodeToString(sanitized.Address[:])
	attrs["vault"] = hex.EncodeToString(vault[:])
	attrs["seed"] = strconv.FormatUint(sanitized.Seed, 10)
	attrs["initializer"] = hex.EncodeToString(sanitized.Initializer[:])
	attrs["counterparty"] = hex.EncodeToString(sanitized.Counterparty[:])
	attrs["assetPrimary"] = sanitized.AssetPrimary
	attrs["assetSecondary"] = sanitized.AssetSecondary
	attrs["amountDeposited"] = sanitized.AmountDeposited.String()
	attrs["amountRequested"] = sanitized.AmountRequested.String()
	attrs["paymentConfirmed"] = strconv.FormatBool(sanitized.PaymentConfirmed)
	attrs["createdAt"] = strconv.FormatInt(sanitized.CreatedAt, 10)
	return &types.Event{Type: eventType, Attributes: attrs}
}
