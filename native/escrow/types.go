package escrow

import (
	"fmt"
	"math/big"
	"strings"
)

// Escrow is the ledger entry describing one custody agreement. It is
// persisted under its derived address and owned by the protocol from
// Initialize until a terminal transition destroys it together with its
// vault. The disambiguation nonce chosen at creation is stored so later
// lookups recompute the same address without searching.
type Escrow struct {
	Address          [20]byte
	Seed             uint64
	Nonce            uint8
	Initializer      [20]byte
	Counterparty     [20]byte
	AssetPrimary     string
	AssetSecondary   string
	AmountDeposited  *big.Int
	AmountRequested  *big.Int
	PaymentConfirmed bool
	CreatedAt        int64
}

// Vault returns the custodial holding address bound to this escrow.
func (e *Escrow) Vault() [20]byte {
	return VaultAddress(e.Address)
}

// SingleSided reports whether the escrow runs the one-leg flow where no
// counter-asset quantity is expected from the counterparty.
func (e *Escrow) SingleSided() bool {
	return e == nil || e.AmountRequested == nil || e.AmountRequested.Sign() == 0
}

// Clone returns a deep copy of the escrow so callers can safely mutate the
// copy without affecting the stored instance.
func (e *Escrow) Clone() *Escrow {
	if e == nil {
		return nil
	}
	clone := *e
	if e.AmountDeposited != nil {
		clone.AmountDeposited = new(big.Int).Set(e.AmountDeposited)
	} else {
		clone.AmountDeposited = big.NewInt(0)
	}
	if e.AmountRequested != nil {
		clone.AmountRequested = new(big.Int).Set(e.AmountRequested)
	} else {
		clone.AmountRequested = big.NewInt(0)
	}
	return &clone
}

// NormalizeAsset canonicalises an asset symbol to its uppercase form.
// Whether the symbol is actually registered is decided by the state layer.
func NormalizeAsset(symbol string) (string, error) {
	trimmed := strings.ToUpper(strings.TrimSpace(symbol))
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty symbol", ErrInvalidAsset)
	}
	return trimmed, nil
}

// Sanitize validates and normalises the supplied escrow record, returning a
// cloned instance with canonical asset casing and non-nil amount fields. The
// original value is not mutated.
func Sanitize(e *Escrow) (*Escrow, error) {
	if e == nil {
		return nil, fmt.Errorf("nil escrow")
	}
	clone := e.Clone()
	primary, err := NormalizeAsset(clone.AssetPrimary)
	if err != nil {
		return nil, err
	}
	clone.AssetPrimary = primary
	if strings.TrimSpace(clone.AssetSecondary) == "" {
		clone.AssetSecondary = primary
	} else {
		secondary, err := NormalizeAsset(clone.AssetSecondary)
		if err != nil {
			return nil, err
		}
		clone.AssetSecondary = secondary
	}
	if clone.AmountDeposited.Sign() <= 0 {
		return nil, fmt.Errorf("%w: deposited amount must be positive", ErrInvalidAmount)
	}
	if clone.AmountRequested.Sign() < 0 {
		return nil, fmt.Errorf("%w: requested amount must be non-negative", ErrInvalidAmount)
	}
	return clone, nil
}
