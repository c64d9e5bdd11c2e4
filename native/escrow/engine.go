package escrow

import (
	"fmt"
	"math/big"
	"time"

	"escrowd/core/events"
	"escrowd/core/types"
)

type engineState interface {
	EscrowPut(*Escrow) error
	EscrowGet(addr [20]byte) (*Escrow, bool)
	EscrowDelete(addr [20]byte) error
	AssetExists(symbol string) bool
	HasAccount(addr [20]byte, asset string) bool
	Balance(addr [20]byte, asset string) (*big.Int, error)
	SetBalance(addr [20]byte, asset string, amount *big.Int) error
	DeleteAccount(addr [20]byte, asset string) error
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

// Engine implements the escrow state machine over an external state
// backend. All four entry points validate authorization and preconditions
// before mutating anything; the surrounding node applies each call as a
// single atomic unit, so a returned error always means "no effect".
type Engine struct {
	state    engineState
	emitter  events.Emitter
	platform [20]byte
	feeBps   uint32
	nowFn    func() int64
}

// NewEngine creates an escrow engine with a no-op emitter and the default
// platform fee. Callers configure the state backend and platform account
// before use.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		feeBps:  600,
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetPlatformAccount configures the address that receives the release fee.
func (e *Engine) SetPlatformAccount(addr [20]byte) { e.platform = addr }

// SetFeeBps configures the platform fee in basis points. Values above
// MaxFeeBps are rejected.
func (e *Engine) SetFeeBps(bps uint32) error {
	if bps > MaxFeeBps {
		return fmt.Errorf("escrow engine: fee bps out of range: %d", bps)
	}
	e.feeBps = bps
	return nil
}

// SetNowFunc overrides the time source used for record timestamps.
// Primarily intended for tests.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetEmitter configures the event emitter. Passing nil resets it to a
// no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
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

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

func (e *Engine) loadEscrow(addr [20]byte) (*Escrow, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	esc, ok := e.state.EscrowGet(addr)
	if !ok {
		return nil, ErrEscrowNotFound
	}
	return esc, nil
}

func (e *Engine) normalizeRegisteredAsset(symbol string) (string, error) {
	normalized, err := NormalizeAsset(symbol)
	if err != nil {
		return "", err
	}
	if !e.state.AssetExists(normalized) {
		return "", fmt.Errorf("%w: %s", ErrInvalidAsset, symbol)
	}
	return normalized, nil
}

func (e *Engine) transferAsset(from, to [20]byte, asset string, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	amt := cloneBigInt(amount)
	if amt.Sign() == 0 {
		return nil
	}
	if amt.Sign() < 0 {
		return fmt.Errorf("%w: negative transfer", ErrInvalidAmount)
	}
	fromBal, err := e.state.Balance(from, asset)
	if err != nil {
		return err
	}
	if fromBal.Cmp(amt) < 0 {
		return ErrInsufficientFunds
	}
	toBal, err := e.state.Balance(to, asset)
	if err != nil {
		return err
	}
	if err := e.state.SetBalance(from, asset, new(big.Int).Sub(fromBal, amt)); err != nil {
		return err
	}
	return e.state.SetBalance(to, asset, new(big.Int).Add(toBal, amt))
}

// closeVault verifies the vault is exactly empty and removes its balance
// record. A non-zero remainder means the transfer plan was inconsistent and
// the whole operation must abort.
func (e *Engine) closeVault(vault [20]byte, asset string) error {
	remaining, err := e.state.Balance(vault, asset)
	if err != nil {
		return err
	}
	if remaining.Sign() != 0 {
		return fmt.Errorf("%w: %s remaining", errVaultImbalance, remaining)
	}
	return e.state.DeleteAccount(vault, asset)
}

// Initialize creates the escrow record and moves the deposit from the
// caller into the freshly derived vault. The caller must be the
// initializer. Any failure leaves no record, no vault and no balance
// change.
func (e *Engine) Initialize(caller [20]byte, seed uint64, counterparty [20]byte, assetPrimary, assetSecondary string, amountDeposited, amountRequested *big.Int) (*Escrow, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	deposited := cloneBigInt(amountDeposited)
	if deposited.Sign() <= 0 {
		return nil, fmt.Errorf("%w: deposit must be positive", ErrInvalidAmount)
	}
	requested := cloneBigInt(amountRequested)
	if requested.Sign() < 0 {
		return nil, fmt.Errorf("%w: requested amount must be non-negative", ErrInvalidAmount)
	}
	primary, err := e.normalizeRegisteredAsset(assetPrimary)
	if err != nil {
		return nil, err
	}
	secondary := primary
	if assetSecondary != "" {
		secondary, err = e.normalizeRegisteredAsset(assetSecondary)
		if err != nil {
			return nil, err
		}
	}
	addr, nonce, err := Derive(StateNamespace, seed)
	if err != nil {
		return nil, err
	}
	if _, ok := e.state.EscrowGet(addr); ok {
		return nil, fmt.Errorf("%w: seed %d", ErrDuplicateSeed, seed)
	}
	balance, err := e.state.Balance(caller, primary)
	if err != nil {
		return nil, err
	}
	if balance.Cmp(deposited) < 0 {
		return nil, ErrInsufficientFunds
	}
	vault := VaultAddress(addr)
	if err := e.state.SetBalance(vault, primary, big.NewInt(0)); err != nil {
		return nil, err
	}
	if err := e.transferAsset(caller, vault, primary, deposited); err != nil {
		return nil, err
	}
	esc := &Escrow{
		Address:          addr,
		Seed:             seed,
		Nonce:            nonce,
		Initializer:      caller,
		Counterparty:     counterparty,
		AssetPrimary:     primary,
		AssetSecondary:   secondary,
		AmountDeposited:  deposited,
		AmountRequested:  requested,
		PaymentConfirmed: false,
		CreatedAt:        e.now(),
	}
	if err := e.state.EscrowPut(esc); err != nil {
		return nil, err
	}
	e.emit(NewInitializedEvent(esc))
	return esc.Clone(), nil
}

// ConfirmPayment records the counterparty's off-chain payment. Calling it
// again fails with ErrAlreadyConfirmed rather than silently succeeding, so
// client-side double submissions surface.
func (e *Engine) ConfirmPayment(addr [20]byte, caller [20]byte) error {
	esc, err := e.loadEscrow(addr)
	if err != nil {
		return err
	}
	if caller != esc.Counterparty {
		return ErrUnauthorized
	}
	if esc.PaymentConfirmed {
		return ErrAlreadyConfirmed
	}
	esc.PaymentConfirmed = true
	if err := e.state.EscrowPut(esc); err != nil {
		return err
	}
	e.emit(NewPaymentConfirmedEvent(esc))
	return nil
}

// ExchangeAccounts names the account identities the caller believes the
// escrow was created against. Exchange re-derives and compares them instead
// of trusting caller-supplied addresses.
type ExchangeAccounts struct {
	Initializer    [20]byte
	Counterparty   [20]byte
	AssetPrimary   string
	AssetSecondary string
	Vault          [20]byte
}

// Exchange releases the vault to the counterparty, splitting the platform
// fee off the deposit, then destroys the vault and the record together.
// Requires a confirmed payment and the initializer as caller; either both
// transfers and both closures happen or none do.
func (e *Engine) Exchange(addr [20]byte, caller [20]byte, accounts ExchangeAccounts) error {
	esc, err := e.loadEscrow(addr)
	if err != nil {
		return err
	}
	if caller != esc.Initializer {
		return ErrUnauthorized
	}
	if !esc.PaymentConfirmed {
		return ErrPaymentNotConfirmed
	}
	if err := e.checkBinding(esc, accounts); err != nil {
		return err
	}
	if e.platform == ([20]byte{}) {
		return errNilPlatform
	}
	if !e.state.HasAccount(esc.Counterparty, esc.AssetPrimary) {
		return ErrDestinationAccountMissing
	}
	vault := esc.Vault()
	locked, err := e.state.Balance(vault, esc.AssetPrimary)
	if err != nil {
		return err
	}
	if locked.Cmp(esc.AmountDeposited) != 0 {
		return fmt.Errorf("%w: have %s want %s", errVaultImbalance, locked, esc.AmountDeposited)
	}
	fee, net := SplitFee(esc.AmountDeposited, e.feeBps)
	if fee.Sign() > 0 {
		if err := e.transferAsset(vault, e.platform, esc.AssetPrimary, fee); err != nil {
			return err
		}
	}
	if err := e.transferAsset(vault, esc.Counterparty, esc.AssetPrimary, net); err != nil {
		return err
	}
	if err := e.closeVault(vault, esc.AssetPrimary); err != nil {
		return err
	}
	if err := e.state.EscrowDelete(addr); err != nil {
		return err
	}
	e.emit(NewReleasedEvent(esc))
	return nil
}

func (e *Engine) checkBinding(esc *Escrow, accounts ExchangeAccounts) error {
	primary, err := NormalizeAsset(accounts.AssetPrimary)
	if err != nil {
		return fmt.Errorf("%w: asset %q", ErrAccountMismatch, accounts.AssetPrimary)
	}
	secondary := primary
	if accounts.AssetSecondary != "" {
		if secondary, err = NormalizeAsset(accounts.AssetSecondary); err != nil {
			return fmt.Errorf("%w: asset %q", ErrAccountMismatch, accounts.AssetSecondary)
		}
	}
	switch {
	case accounts.Initializer != esc.Initializer:
		return fmt.Errorf("%w: initializer", ErrAccountMismatch)
	case accounts.Counterparty != esc.Counterparty:
		return fmt.Errorf("%w: counterparty", ErrAccountMismatch)
	case primary != esc.AssetPrimary:
		return fmt.Errorf("%w: primary asset", ErrAccountMismatch)
	case secondary != esc.AssetSecondary:
		return fmt.Errorf("%w: secondary asset", ErrAccountMismatch)
	case accounts.Vault != esc.Vault():
		return fmt.Errorf("%w: vault", ErrAccountMismatch)
	}
	// A record stored under an address that does not re-derive from its own
	// seed and nonce is corrupt.
	if AddressAt(StateNamespace, esc.Seed, esc.Nonce) != esc.Address {
		return fmt.Errorf("%w: escrow address", ErrAccountMismatch)
	}
	return nil
}

// Cancel refunds the full deposit to the initializer with no fee, then
// destroys the vault and the record together. Disallowed once the
// counterparty has confirmed payment.
func (e *Engine) Cancel(addr [20]byte, caller [20]byte) error {
	esc, err := e.loadEscrow(addr)
	if err != nil {
		return err
	}
	if caller != esc.Initializer {
		return ErrUnauthorized
	}
	if esc.PaymentConfirmed {
		return ErrPaymentAlreadyConfirmed
	}
	vault := esc.Vault()
	if err := e.transferAsset(vault, esc.Initializer, esc.AssetPrimary, esc.AmountDeposited); err != nil {
		return err
	}
	if err := e.closeVault(vault, esc.AssetPrimary); err != nil {
		return err
	}
	if err := e.state.EscrowDelete(addr); err != nil {
		return err
	}
	e.emit(NewCancelledEvent(esc))
	return nil
}

// Fetch returns a snapshot of the escrow record with no side effects.
func (e *Engine) Fetch(addr [20]byte) (*Escrow, error) {
	esc, err := e.loadEscrow(addr)
	if err != nil {
		return nil, err
	}
	return esc.Clone(), nil
}
