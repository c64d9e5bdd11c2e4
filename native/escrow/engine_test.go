package escrow

import (
	"bytes"
	"errors"
	"math/big"
	"testing"

	"escrowd/core/events"
)

type balanceKey struct {
	addr  [20]byte
	asset string
}

type mockState struct {
	escrows  map[[20]byte]*Escrow
	balances map[balanceKey]*big.Int
	assets   map[string]bool
}

func newMockState() *mockState {
	return &mockState{
		escrows:  make(map[[20]byte]*Escrow),
		balances: make(map[balanceKey]*big.Int),
		assets:   map[string]bool{"USDX": true, "EURX": true},
	}
}

func (m *mockState) EscrowPut(e *Escrow) error {
	sanitized, err := Sanitize(e)
	if err != nil {
		return err
	}
	m.escrows[sanitized.Address] = sanitized
	return nil
}

func (m *mockState) EscrowGet(addr [20]byte) (*Escrow, bool) {
	esc, ok := m.escrows[addr]
	if !ok {
		return nil, false
	}
	return esc.Clone(), true
}

func (m *mockState) EscrowDelete(addr [20]byte) error {
	delete(m.escrows, addr)
	return nil
}

func (m *mockState) AssetExists(symbol string) bool {
	return m.assets[symbol]
}

func (m *mockState) HasAccount(addr [20]byte, asset string) bool {
	_, ok := m.balances[balanceKey{addr, asset}]
	return ok
}

func (m *mockState) Balance(addr [20]byte, asset string) (*big.Int, error) {
	if bal, ok := m.balances[balanceKey{addr, asset}]; ok {
		return new(big.Int).Set(bal), nil
	}
	return big.NewInt(0), nil
}

func (m *mockState) SetBalance(addr [20]byte, asset string, amount *big.Int) error {
	m.balances[balanceKey{addr, asset}] = new(big.Int).Set(amount)
	return nil
}

func (m *mockState) DeleteAccount(addr [20]byte, asset string) error {
	delete(m.balances, balanceKey{addr, asset})
	return nil
}

func (m *mockState) totalSupply(asset string) *big.Int {
	total := big.NewInt(0)
	for key, bal := range m.balances {
		if key.asset == asset {
			total.Add(total, bal)
		}
	}
	return total
}

func newTestAddress(fill byte) [20]byte {
	var addr [20]byte
	copy(addr[:], bytes.Repeat([]byte{fill}, 20))
	return addr
}

func newTestEngine(t *testing.T) (*Engine, *mockState, *events.Collector) {
	t.Helper()
	state := newMockState()
	collector := &events.Collector{}
	eng := NewEngine()
	eng.SetState(state)
	eng.SetPlatformAccount(newTestAddress(0xEE))
	eng.SetEmitter(collector)
	eng.SetNowFunc(func() int64 { return 1_700_000_000 })
	return eng, state, collector
}

func fundedEngine(t *testing.T, initializer, counterparty [20]byte) (*Engine, *mockState, *events.Collector) {
	t.Helper()
	eng, state, collector := newTestEngine(t)
	if err := state.SetBalance(initializer, "USDX", big.NewInt(1_000_000)); err != nil {
		t.Fatalf("fund initializer: %v", err)
	}
	if err := state.SetBalance(counterparty, "USDX", big.NewInt(0)); err != nil {
		t.Fatalf("create counterparty account: %v", err)
	}
	return eng, state, collector
}

func TestInitializeMovesDepositIntoVault(t *testing.T) {
	initializer := newTestAddress(0x01)
	counterparty := newTestAddress(0x02)
	eng, state, collector := fundedEngine(t, initializer, counterparty)

	esc, err := eng.Initialize(initializer, 42, counterparty, "usdx", "", big.NewInt(100_000), big.NewInt(95_000))
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if esc.AssetPrimary != "USDX" || esc.AssetSecondary != "USDX" {
		t.Fatalf("unexpected assets: %q %q", esc.AssetPrimary, esc.AssetSecondary)
	}
	if esc.PaymentConfirmed {
		t.Fatalf("new escrow must not be confirmed")
	}
	if esc.CreatedAt != 1_700_000_000 {
		t.Fatalf("unexpected timestamp: %d", esc.CreatedAt)
	}

	vaultBal, _ := state.Balance(esc.Vault(), "USDX")
	if vaultBal.Cmp(big.NewInt(100_000)) != 0 {
		t.Fatalf("vault holds %s, want 100000", vaultBal)
	}
	initBal, _ := state.Balance(initializer, "USDX")
	if initBal.Cmp(big.NewInt(900_000)) != 0 {
		t.Fatalf("initializer holds %s, want 900000", initBal)
	}
	if !state.HasAccount(esc.Vault(), "USDX") {
		t.Fatalf("vault account missing")
	}
	evts := collector.Events()
	if len(evts) != 1 || evts[0].EventType() != EventTypeInitialized {
		t.Fatalf("unexpected events: %+v", evts)
	}
}

func TestInitializeRejectsDuplicateSeed(t *testing.T) {
	initializer := newTestAddress(0x01)
	counterparty := newTestAddress(0x02)
	eng, _, _ := fundedEngine(t, initializer, counterparty)

	if _, err := eng.Initialize(initializer, 7, counterparty, "USDX", "", big.NewInt(1_000), nil); err != nil {
		t.Fatalf("first initialize: %v", err)
	}
	_, err := eng.Initialize(initializer, 7, counterparty, "USDX", "", big.NewInt(1_000), nil)
	if !errors.Is(err, ErrDuplicateSeed) {
		t.Fatalf("want ErrDuplicateSeed, got %v", err)
	}
}

func TestInitializeRejectsBadInput(t *testing.T) {
	initializer := newTestAddress(0x01)
	counterparty := newTestAddress(0x02)
	eng, _, _ := fundedEngine(t, initializer, counterparty)

	if _, err := eng.Initialize(initializer, 1, counterparty, "USDX", "", big.NewInt(0), nil); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("zero deposit: want ErrInvalidAmount, got %v", err)
	}
	if _, err := eng.Initialize(initializer, 1, counterparty, "USDX", "", big.NewInt(-5), nil); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("negative deposit: want ErrInvalidAmount, got %v", err)
	}
	if _, err := eng.Initialize(initializer, 1, counterparty, "USDX", "", big.NewInt(10), big.NewInt(-1)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("negative requested: want ErrInvalidAmount, got %v", err)
	}
	if _, err := eng.Initialize(initializer, 1, counterparty, "DOGE", "", big.NewInt(10), nil); !errors.Is(err, ErrInvalidAsset) {
		t.Fatalf("unregistered asset: want ErrInvalidAsset, got %v", err)
	}
	if _, err := eng.Initialize(initializer, 1, counterparty, "USDX", "", big.NewInt(2_000_000), nil); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("overdraft: want ErrInsufficientFunds, got %v", err)
	}
}

func TestConfirmPaymentAuthorizationAndReplay(t *testing.T) {
	initializer := newTestAddress(0x01)
	counterparty := newTestAddress(0x02)
	eng, _, collector := fundedEngine(t, initializer, counterparty)

	esc, err := eng.Initialize(initializer, 42, counterparty, "USDX", "", big.NewInt(100_000), nil)
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}

	if err := eng.ConfirmPayment(esc.Address, initializer); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("initializer confirm: want ErrUnauthorized, got %v", err)
	}
	if err := eng.ConfirmPayment(esc.Address, newTestAddress(0x99)); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("stranger confirm: want ErrUnauthorized, got %v", err)
	}
	if err := eng.ConfirmPayment(esc.Address, counterparty); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if err := eng.ConfirmPayment(esc.Address, counterparty); !errors.Is(err, ErrAlreadyConfirmed) {
		t.Fatalf("second confirm: want ErrAlreadyConfirmed, got %v", err)
	}

	stored, err := eng.Fetch(esc.Address)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if !stored.PaymentConfirmed {
		t.Fatalf("record not confirmed")
	}
	evts := collector.Events()
	if len(evts) != 2 || evts[1].EventType() != EventTypePaymentConfirmed {
		t.Fatalf("unexpected events: %+v", evts)
	}
}

func exchangeAccountsFor(esc *Escrow) ExchangeAccounts {
	return ExchangeAccounts{
		Initializer:    esc.Initializer,
		Counterparty:   esc.Counterparty,
		AssetPrimary:   esc.AssetPrimary,
		AssetSecondary: esc.AssetSecondary,
		Vault:          esc.Vault(),
	}
}

func TestExchangeSplitsFeeExactly(t *testing.T) {
	initializer := newTestAddress(0x01)
	counterparty := newTestAddress(0x02)
	eng, state, collector := fundedEngine(t, initializer, counterparty)
	platform := newTestAddress(0xEE)

	esc, err := eng.Initialize(initializer, 42, counterparty, "USDX", "", big.NewInt(100_000), nil)
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if err := eng.ConfirmPayment(esc.Address, counterparty); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	supplyBefore := state.totalSupply("USDX")

	if err := eng.Exchange(esc.Address, initializer, exchangeAccountsFor(esc)); err != nil {
		t.Fatalf("exchange: %v", err)
	}

	platformBal, _ := state.Balance(platform, "USDX")
	if platformBal.Cmp(big.NewInt(6_000)) != 0 {
		t.Fatalf("platform fee %s, want 6000", platformBal)
	}
	counterBal, _ := state.Balance(counterparty, "USDX")
	if counterBal.Cmp(big.NewInt(94_000)) != 0 {
		t.Fatalf("counterparty payout %s, want 94000", counterBal)
	}
	if state.HasAccount(esc.Vault(), "USDX") {
		t.Fatalf("vault account must be destroyed")
	}
	if _, err := eng.Fetch(esc.Address); !errors.Is(err, ErrEscrowNotFound) {
		t.Fatalf("fetch after release: want ErrEscrowNotFound, got %v", err)
	}
	if supplyAfter := state.totalSupply("USDX"); supplyAfter.Cmp(supplyBefore) != 0 {
		t.Fatalf("supply changed: %s -> %s", supplyBefore, supplyAfter)
	}
	evts := collector.Events()
	if len(evts) != 3 || evts[2].EventType() != EventTypeReleased {
		t.Fatalf("unexpected events: %+v", evts)
	}
}

func TestExchangePreconditions(t *testing.T) {
	initializer := newTestAddress(0x01)
	counterparty := newTestAddress(0x02)
	eng, state, _ := fundedEngine(t, initializer, counterparty)

	esc, err := eng.Initialize(initializer, 42, counterparty, "USDX", "", big.NewInt(100_000), nil)
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	accounts := exchangeAccountsFor(esc)

	if err := eng.Exchange(esc.Address, initializer, accounts); !errors.Is(err, ErrPaymentNotConfirmed) {
		t.Fatalf("unconfirmed release: want ErrPaymentNotConfirmed, got %v", err)
	}
	if err := eng.ConfirmPayment(esc.Address, counterparty); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if err := eng.Exchange(esc.Address, counterparty, accounts); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("counterparty release: want ErrUnauthorized, got %v", err)
	}

	bad := accounts
	bad.Counterparty = newTestAddress(0x99)
	if err := eng.Exchange(esc.Address, initializer, bad); !errors.Is(err, ErrAccountMismatch) {
		t.Fatalf("wrong counterparty: want ErrAccountMismatch, got %v", err)
	}
	bad = accounts
	bad.Vault = newTestAddress(0x98)
	if err := eng.Exchange(esc.Address, initializer, bad); !errors.Is(err, ErrAccountMismatch) {
		t.Fatalf("wrong vault: want ErrAccountMismatch, got %v", err)
	}
	bad = accounts
	bad.AssetPrimary = "EURX"
	if err := eng.Exchange(esc.Address, initializer, bad); !errors.Is(err, ErrAccountMismatch) {
		t.Fatalf("wrong asset: want ErrAccountMismatch, got %v", err)
	}

	// Destination account removed after confirmation.
	if err := state.DeleteAccount(counterparty, "USDX"); err != nil {
		t.Fatalf("delete account: %v", err)
	}
	if err := eng.Exchange(esc.Address, initializer, accounts); !errors.Is(err, ErrDestinationAccountMissing) {
		t.Fatalf("missing destination: want ErrDestinationAccountMissing, got %v", err)
	}

	if _, err := eng.Fetch(esc.Address); err != nil {
		t.Fatalf("escrow must survive rejected release: %v", err)
	}
	vaultBal, _ := state.Balance(esc.Vault(), "USDX")
	if vaultBal.Cmp(big.NewInt(100_000)) != 0 {
		t.Fatalf("vault drained by rejected release: %s", vaultBal)
	}
}

func TestExchangeRequiresPlatformAccount(t *testing.T) {
	initializer := newTestAddress(0x01)
	counterparty := newTestAddress(0x02)
	eng, _, _ := fundedEngine(t, initializer, counterparty)
	eng.SetPlatformAccount([20]byte{})

	esc, err := eng.Initialize(initializer, 42, counterparty, "USDX", "", big.NewInt(100_000), nil)
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if err := eng.ConfirmPayment(esc.Address, counterparty); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if err := eng.Exchange(esc.Address, initializer, exchangeAccountsFor(esc)); err == nil {
		t.Fatalf("release without platform account must fail")
	}
}

func TestExchangeZeroFeeLeavesPlatformUntouched(t *testing.T) {
	initializer := newTestAddress(0x01)
	counterparty := newTestAddress(0x02)
	eng, state, _ := fundedEngine(t, initializer, counterparty)
	platform := newTestAddress(0xEE)
	if err := eng.SetFeeBps(0); err != nil {
		t.Fatalf("set fee: %v", err)
	}

	esc, err := eng.Initialize(initializer, 42, counterparty, "USDX", "", big.NewInt(100_000), nil)
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if err := eng.ConfirmPayment(esc.Address, counterparty); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if err := eng.Exchange(esc.Address, initializer, exchangeAccountsFor(esc)); err != nil {
		t.Fatalf("exchange: %v", err)
	}
	if state.HasAccount(platform, "USDX") {
		t.Fatalf("platform account must not be created for a zero fee")
	}
	counterBal, _ := state.Balance(counterparty, "USDX")
	if counterBal.Cmp(big.NewInt(100_000)) != 0 {
		t.Fatalf("counterparty payout %s, want 100000", counterBal)
	}
}

func TestCancelRefundsWithoutFee(t *testing.T) {
	initializer := newTestAddress(0x01)
	counterparty := newTestAddress(0x02)
	eng, state, collector := fundedEngine(t, initializer, counterparty)
	platform := newTestAddress(0xEE)

	esc, err := eng.Initialize(initializer, 7, counterparty, "USDX", "", big.NewInt(250_000), nil)
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if err := eng.Cancel(esc.Address, counterparty); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("counterparty cancel: want ErrUnauthorized, got %v", err)
	}
	if err := eng.Cancel(esc.Address, initializer); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	initBal, _ := state.Balance(initializer, "USDX")
	if initBal.Cmp(big.NewInt(1_000_000)) != 0 {
		t.Fatalf("initializer refund %s, want 1000000", initBal)
	}
	if state.HasAccount(platform, "USDX") {
		t.Fatalf("cancel must not pay a fee")
	}
	if state.HasAccount(esc.Vault(), "USDX") {
		t.Fatalf("vault account must be destroyed")
	}
	if _, err := eng.Fetch(esc.Address); !errors.Is(err, ErrEscrowNotFound) {
		t.Fatalf("fetch after cancel: want ErrEscrowNotFound, got %v", err)
	}
	evts := collector.Events()
	if len(evts) != 2 || evts[1].EventType() != EventTypeCancelled {
		t.Fatalf("unexpected events: %+v", evts)
	}
}

func TestCancelDisallowedAfterConfirmation(t *testing.T) {
	initializer := newTestAddress(0x01)
	counterparty := newTestAddress(0x02)
	eng, state, _ := fundedEngine(t, initializer, counterparty)

	esc, err := eng.Initialize(initializer, 7, counterparty, "USDX", "", big.NewInt(250_000), nil)
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if err := eng.ConfirmPayment(esc.Address, counterparty); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if err := eng.Cancel(esc.Address, initializer); !errors.Is(err, ErrPaymentAlreadyConfirmed) {
		t.Fatalf("confirmed cancel: want ErrPaymentAlreadyConfirmed, got %v", err)
	}
	vaultBal, _ := state.Balance(esc.Vault(), "USDX")
	if vaultBal.Cmp(big.NewInt(250_000)) != 0 {
		t.Fatalf("vault drained by rejected cancel: %s", vaultBal)
	}
}

func TestTerminalOpsOnMissingEscrow(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	missing := newTestAddress(0x55)
	caller := newTestAddress(0x01)

	if err := eng.ConfirmPayment(missing, caller); !errors.Is(err, ErrEscrowNotFound) {
		t.Fatalf("confirm: want ErrEscrowNotFound, got %v", err)
	}
	if err := eng.Exchange(missing, caller, ExchangeAccounts{}); !errors.Is(err, ErrEscrowNotFound) {
		t.Fatalf("exchange: want ErrEscrowNotFound, got %v", err)
	}
	if err := eng.Cancel(missing, caller); !errors.Is(err, ErrEscrowNotFound) {
		t.Fatalf("cancel: want ErrEscrowNotFound, got %v", err)
	}
	if _, err := eng.Fetch(missing); !errors.Is(err, ErrEscrowNotFound) {
		t.Fatalf("fetch: want ErrEscrowNotFound, got %v", err)
	}
}

func TestFetchReturnsDetachedCopy(t *testing.T) {
	initializer := newTestAddress(0x01)
	counterparty := newTestAddress(0x02)
	eng, _, _ := fundedEngine(t, initializer, counterparty)

	esc, err := eng.Initialize(initializer, 9, counterparty, "USDX", "", big.NewInt(500), nil)
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	fetched, err := eng.Fetch(esc.Address)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	fetched.PaymentConfirmed = true
	fetched.AmountDeposited.SetInt64(1)

	again, err := eng.Fetch(esc.Address)
	if err != nil {
		t.Fatalf("second fetch: %v", err)
	}
	if again.PaymentConfirmed {
		t.Fatalf("stored record mutated through fetched copy")
	}
	if again.AmountDeposited.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("stored amount mutated through fetched copy: %s", again.AmountDeposited)
	}
}
