package state

import (
	"fmt"
	"math/big"
	"sort"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"escrowd/native/escrow"
	"escrowd/storage/trie"
)

// Manager reads and writes ledger state on a trie. It carries no caches:
// every accessor goes straight to the underlying trie, so a Manager over a
// trie copy observes exactly that copy.
type Manager struct {
	trie *trie.Trie
}

// NewManager creates a state manager operating on the provided trie.
func NewManager(tr *trie.Trie) *Manager {
	return &Manager{trie: tr}
}

// AssetMetadata describes a registered fungible asset.
type AssetMetadata struct {
	Symbol   string
	Name     string
	Decimals uint8
}

var (
	assetPrefix   = []byte("asset:")
	assetListKey  = ethcrypto.Keccak256([]byte("asset-list"))
	balancePrefix = []byte("balance:")
	escrowPrefix  = []byte("escrow:")
)

func assetKey(symbol string) []byte {
	buf := make([]byte, len(assetPrefix)+len(symbol))
	copy(buf, assetPrefix)
	copy(buf[len(assetPrefix):], symbol)
	return ethcrypto.Keccak256(buf)
}

func balanceKey(addr [20]byte, symbol string) []byte {
	buf := make([]byte, len(balancePrefix)+len(symbol)+1+len(addr))
	copy(buf, balancePrefix)
	copy(buf[len(balancePrefix):], symbol)
	buf[len(balancePrefix)+len(symbol)] = ':'
	copy(buf[len(balancePrefix)+len(symbol)+1:], addr[:])
	return ethcrypto.Keccak256(buf)
}

func escrowKey(addr [20]byte) []byte {
	buf := make([]byte, len(escrowPrefix)+len(addr))
	copy(buf, escrowPrefix)
	copy(buf[len(escrowPrefix):], addr[:])
	return ethcrypto.Keccak256(buf)
}

func (m *Manager) loadAssetList() ([]string, error) {
	data, err := m.trie.Get(assetListKey)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return []string{}, nil
	}
	var list []string
	if err := rlp.DecodeBytes(data, &list); err != nil {
		return nil, err
	}
	return list, nil
}

func (m *Manager) loadAsset(symbol string) (*AssetMetadata, error) {
	data, err := m.trie.Get(assetKey(symbol))
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}
	meta := new(AssetMetadata)
	if err := rlp.DecodeBytes(data, meta); err != nil {
		return nil, err
	}
	return meta, nil
}

// RegisterAsset stores the metadata for a fungible asset and records it in
// the asset index. Symbols are canonicalised to uppercase.
func (m *Manager) RegisterAsset(symbol, name string, decimals uint8) error {
	normalized, err := escrow.NormalizeAsset(symbol)
	if err != nil {
		return err
	}
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("asset %s: name must not be empty", normalized)
	}
	if existing, err := m.loadAsset(normalized); err != nil {
		return err
	} else if existing != nil {
		return fmt.Errorf("asset %s already registered", normalized)
	}
	list, err := m.loadAssetList()
	if err != nil {
		return err
	}
	list = append(list, normalized)
	sort.Strings(list)
	encoded, err := rlp.EncodeToBytes(list)
	if err != nil {
		return err
	}
	if err := m.trie.Update(assetListKey, encoded); err != nil {
		return err
	}
	meta := &AssetMetadata{Symbol: normalized, Name: name, Decimals: decimals}
	encoded, err = rlp.EncodeToBytes(meta)
	if err != nil {
		return err
	}
	return m.trie.Update(assetKey(normalized), encoded)
}

// Asset retrieves metadata for a registered asset, or nil when unknown.
func (m *Manager) Asset(symbol string) (*AssetMetadata, error) {
	normalized, err := escrow.NormalizeAsset(symbol)
	if err != nil {
		return nil, err
	}
	return m.loadAsset(normalized)
}

// AssetList returns all registered asset symbols in sorted order.
func (m *Manager) AssetList() ([]string, error) {
	return m.loadAssetList()
}

// AssetExists reports whether the provided asset symbol is registered.
func (m *Manager) AssetExists(symbol string) bool {
	normalized, err := escrow.NormalizeAsset(symbol)
	if err != nil {
		return false
	}
	meta, err := m.loadAsset(normalized)
	return err == nil && meta != nil
}

// SetBalance stores an account balance record for the provided asset. A
// zero amount still creates the record; account existence is defined as
// "has a balance record for the asset".
func (m *Manager) SetBalance(addr [20]byte, symbol string, amount *big.Int) error {
	if amount == nil {
		amount = big.NewInt(0)
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("negative balance not allowed")
	}
	normalized, err := escrow.NormalizeAsset(symbol)
	if err != nil {
		return err
	}
	if meta, err := m.loadAsset(normalized); err != nil {
		return err
	} else if meta == nil {
		return fmt.Errorf("%w: %s not registered", escrow.ErrInvalidAsset, normalized)
	}
	encoded, err := rlp.EncodeToBytes(amount)
	if err != nil {
		return err
	}
	return m.trie.Update(balanceKey(addr, normalized), encoded)
}

// Balance retrieves an account balance. Missing records read as zero; use
// HasAccount when record existence matters.
func (m *Manager) Balance(addr [20]byte, symbol string) (*big.Int, error) {
	normalized, err := escrow.NormalizeAsset(symbol)
	if err != nil {
		return nil, err
	}
	data, err := m.trie.Get(balanceKey(addr, normalized))
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return big.NewInt(0), nil
	}
	amount := new(big.Int)
	if err := rlp.DecodeBytes(data, amount); err != nil {
		return nil, err
	}
	return amount, nil
}

// HasAccount reports whether the address holds a balance record for the
// asset, even a zero one. Errors read as absent, matching the best-effort
// semantics required by the callers.
func (m *Manager) HasAccount(addr [20]byte, symbol string) bool {
	normalized, err := escrow.NormalizeAsset(symbol)
	if err != nil {
		return false
	}
	data, err := m.trie.Get(balanceKey(addr, normalized))
	return err == nil && len(data) > 0
}

// DeleteAccount removes the balance record for (addr, asset). Callers must
// have drained the balance first.
func (m *Manager) DeleteAccount(addr [20]byte, symbol string) error {
	normalized, err := escrow.NormalizeAsset(symbol)
	if err != nil {
		return err
	}
	balance, err := m.Balance(addr, normalized)
	if err != nil {
		return err
	}
	if balance.Sign() != 0 {
		return fmt.Errorf("cannot close account holding %s %s", balance, normalized)
	}
	return m.trie.Delete(balanceKey(addr, normalized))
}

// storedEscrow is the RLP shape of an escrow record. RLP has no signed
// integers, so the creation timestamp is persisted unsigned.
type storedEscrow struct {
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
	CreatedAt        uint64
}

// EscrowPut validates, normalises and persists an escrow record under its
// derived address.
func (m *Manager) EscrowPut(e *escrow.Escrow) error {
	sanitized, err := escrow.Sanitize(e)
	if err != nil {
		return err
	}
	stored := &storedEscrow{
		Address:          sanitized.Address,
		Seed:             sanitized.Seed,
		Nonce:            sanitized.Nonce,
		Initializer:      sanitized.Initializer,
		Counterparty:     sanitized.Counterparty,
		AssetPrimary:     sanitized.AssetPrimary,
		AssetSecondary:   sanitized.AssetSecondary,
		AmountDeposited:  sanitized.AmountDeposited,
		AmountRequested:  sanitized.AmountRequested,
		PaymentConfirmed: sanitized.PaymentConfirmed,
		CreatedAt:        uint64(sanitized.CreatedAt),
	}
	encoded, err := rlp.EncodeToBytes(stored)
	if err != nil {
		return err
	}
	return m.trie.Update(escrowKey(sanitized.Address), encoded)
}

// EscrowGet loads the escrow record stored under the provided address. The
// returned record is a private copy; mutating it does not touch state.
func (m *Manager) EscrowGet(addr [20]byte) (*escrow.Escrow, bool) {
	data, err := m.trie.Get(escrowKey(addr))
	if err != nil || len(data) == 0 {
		return nil, false
	}
	stored := new(storedEscrow)
	if err := rlp.DecodeBytes(data, stored); err != nil {
		return nil, false
	}
	esc := &escrow.Escrow{
		Address:          stored.Address,
		Seed:             stored.Seed,
		Nonce:            stored.Nonce,
		Initializer:      stored.Initializer,
		Counterparty:     stored.Counterparty,
		AssetPrimary:     stored.AssetPrimary,
		AssetSecondary:   stored.AssetSecondary,
		AmountDeposited:  stored.AmountDeposited,
		AmountRequested:  stored.AmountRequested,
		PaymentConfirmed: stored.PaymentConfirmed,
		CreatedAt:        int64(stored.CreatedAt),
	}
	return esc.Clone(), true
}

// EscrowDelete removes the escrow record stored under the provided address.
func (m *Manager) EscrowDelete(addr [20]byte) error {
	return m.trie.Delete(escrowKey(addr))
}
