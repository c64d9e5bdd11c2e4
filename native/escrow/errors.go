package escrow

import "errors"

// Typed rejection reasons surfaced by the engine. Every operation fails with
// exactly one of these (possibly wrapped with context) before any state
// mutation is committed, so callers can map failures to "wrong party",
// "precondition not met" or "try again" without inspecting internals.
var (
	// Authorization: the caller is not the party allowed to perform the
	// requested transition.
	ErrUnauthorized = errors.New("escrow: unauthorized caller")

	// State preconditions.
	ErrEscrowNotFound          = errors.New("escrow: escrow not found")
	ErrAlreadyConfirmed        = errors.New("escrow: payment already confirmed")
	ErrPaymentNotConfirmed     = errors.New("escrow: payment not confirmed")
	ErrPaymentAlreadyConfirmed = errors.New("escrow: cancel disallowed after confirmation")
	ErrDuplicateSeed           = errors.New("escrow: address already in use")

	// Resources.
	ErrInsufficientFunds         = errors.New("escrow: insufficient balance")
	ErrInvalidAmount             = errors.New("escrow: invalid amount")
	ErrDestinationAccountMissing = errors.New("escrow: destination account missing")
	ErrAddressSpaceExhausted     = errors.New("escrow: address space exhausted")
	ErrInvalidAsset              = errors.New("escrow: unsupported asset")

	// Binding: caller-supplied account identities do not match the stored
	// record.
	ErrAccountMismatch = errors.New("escrow: account mismatch")
)

var (
	errNilState       = errors.New("escrow engine: state not configured")
	errNilPlatform    = errors.New("escrow engine: platform account not configured")
	errVaultImbalance = errors.New("escrow engine: vault balance inconsistent")
)
