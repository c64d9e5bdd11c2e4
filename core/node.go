package core

import (
	"fmt"
	"log/slog"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"

	"escrowd/core/events"
	"escrowd/core/state"
	"escrowd/native/escrow"
	"escrowd/storage"
	"escrowd/storage/trie"
)

var stateRootKey = []byte("escrowd:state-root")

// AssetDefinition registers a fungible asset at genesis.
type AssetDefinition struct {
	Symbol   string
	Name     string
	Decimals uint8
}

// BalanceAllocation funds an account at genesis.
type BalanceAllocation struct {
	Address [20]byte
	Asset   string
	Amount  *big.Int
}

// Node owns the committed ledger state and serializes every operation
// against it. Each mutating operation runs on a copy of the committed trie;
// only a fully successful operation is committed and becomes the new
// persisted root, so a returned error always means the ledger is untouched.
type Node struct {
	mu sync.Mutex

	db      storage.Database
	trie    *trie.Trie
	root    common.Hash
	version uint64

	platform [20]byte
	feeBps   uint32
	nowFn    func() int64

	emitter events.Emitter
	log     *slog.Logger
}

// NewNode opens (or initialises) a node over the provided database. The
// platform account receives release fees at the configured rate.
func NewNode(db storage.Database, platform [20]byte, feeBps uint32, logger *slog.Logger) (*Node, error) {
	if feeBps > escrow.MaxFeeBps {
		return nil, fmt.Errorf("node: fee bps out of range: %d", feeBps)
	}
	if platform == ([20]byte{}) {
		return nil, fmt.Errorf("node: platform account not configured")
	}
	if logger == nil {
		logger = slog.Default()
	}
	var root []byte
	if ok, err := db.Has(stateRootKey); err != nil {
		return nil, err
	} else if ok {
		stored, err := db.Get(stateRootKey)
		if err != nil {
			return nil, err
		}
		root = stored
	}
	tr, err := trie.NewTrie(db, root)
	if err != nil {
		return nil, err
	}
	return &Node{
		db:       db,
		trie:     tr,
		root:     tr.Root(),
		platform: platform,
		feeBps:   feeBps,
		emitter:  events.NewRing(0),
		log:      logger.With("component", "node"),
	}, nil
}

// SetEmitter replaces the downstream event emitter. Passing nil resets it
// to the internal ring buffer.
func (n *Node) SetEmitter(emitter events.Emitter) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if emitter == nil {
		emitter = events.NewRing(0)
	}
	n.emitter = emitter
}

// SetNowFunc overrides the time source used for record timestamps.
// Primarily intended for tests.
func (n *Node) SetNowFunc(now func() int64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.nowFn = now
}

// Events returns recently applied events when the default ring emitter is
// in use.
func (n *Node) Events() []events.Event {
	n.mu.Lock()
	emitter := n.emitter
	n.mu.Unlock()
	ring, ok := emitter.(*events.Ring)
	if !ok {
		return nil
	}
	return ring.Events()
}

func (n *Node) engineFor(mgr *state.Manager, collector events.Emitter) *escrow.Engine {
	eng := escrow.NewEngine()
	eng.SetState(mgr)
	eng.SetPlatformAccount(n.platform)
	_ = eng.SetFeeBps(n.feeBps)
	eng.SetEmitter(collector)
	if n.nowFn != nil {
		eng.SetNowFunc(n.nowFn)
	}
	return eng
}

// writeState runs fn against a working copy of the committed state and
// commits the copy only when fn succeeds. Events emitted by fn are
// forwarded downstream after the commit, never for a rejected operation.
func (n *Node) writeState(op string, fn func(*escrow.Engine, *state.Manager) error) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	work, err := n.trie.Copy()
	if err != nil {
		return err
	}
	collector := &events.Collector{}
	mgr := state.NewManager(work)
	eng := n.engineFor(mgr, collector)
	if err := fn(eng, mgr); err != nil {
		n.log.Info("operation rejected", "op", op, "reason", err.Error())
		return err
	}
	root, err := work.Commit(n.root, n.version+1)
	if err != nil {
		return err
	}
	if err := n.db.Put(stateRootKey, root.Bytes()); err != nil {
		return err
	}
	n.trie = work
	n.root = root
	n.version++
	for _, evt := range collector.Events() {
		n.emitter.Emit(evt)
		n.log.Info("event", "type", evt.EventType(), "op", op)
	}
	return nil
}

// readState runs fn against the committed state without committing
// anything. The node mutex still serializes access because the underlying
// trie is not safe for concurrent use.
func (n *Node) readState(fn func(*escrow.Engine, *state.Manager) error) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	mgr := state.NewManager(n.trie)
	return fn(n.engineFor(mgr, events.NoopEmitter{}), mgr)
}

// InitGenesis registers assets and funds accounts on a fresh database. A
// node with previously committed state ignores the call, so restarts are
// safe.
func (n *Node) InitGenesis(assets []AssetDefinition, alloc []BalanceAllocation) error {
	n.mu.Lock()
	initialized := n.root != (common.Hash{}) && n.root != gethtypes.EmptyRootHash
	n.mu.Unlock()
	if initialized {
		return nil
	}
	return n.writeState("genesis", func(_ *escrow.Engine, mgr *state.Manager) error {
		for _, asset := range assets {
			if err := mgr.RegisterAsset(asset.Symbol, asset.Name, asset.Decimals); err != nil {
				return err
			}
		}
		for _, entry := range alloc {
			balance, err := mgr.Balance(entry.Address, entry.Asset)
			if err != nil {
				return err
			}
			if err := mgr.SetBalance(entry.Address, entry.Asset, new(big.Int).Add(balance, entry.Amount)); err != nil {
				return err
			}
		}
		return nil
	})
}

// RegisterAsset adds a fungible asset to the registry after genesis.
func (n *Node) RegisterAsset(symbol, name string, decimals uint8) error {
	return n.writeState("asset_register", func(_ *escrow.Engine, mgr *state.Manager) error {
		return mgr.RegisterAsset(symbol, name, decimals)
	})
}

// Mint credits freshly issued units of a registered asset to an account.
// Used by genesis allocation and operational funding; not reachable from
// the escrow instruction surface.
func (n *Node) Mint(addr [20]byte, asset string, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("node: mint amount must be positive")
	}
	return n.writeState("mint", func(_ *escrow.Engine, mgr *state.Manager) error {
		balance, err := mgr.Balance(addr, asset)
		if err != nil {
			return err
		}
		return mgr.SetBalance(addr, asset, new(big.Int).Add(balance, amount))
	})
}

// CreateAccount materialises a balance record for (addr, asset) so the
// address can receive that asset. Creating an existing account is a no-op.
func (n *Node) CreateAccount(addr [20]byte, asset string) error {
	return n.writeState("account_create", func(_ *escrow.Engine, mgr *state.Manager) error {
		if mgr.HasAccount(addr, asset) {
			return nil
		}
		return mgr.SetBalance(addr, asset, big.NewInt(0))
	})
}

// Balance returns the committed balance for (addr, asset).
func (n *Node) Balance(addr [20]byte, asset string) (*big.Int, error) {
	var balance *big.Int
	err := n.readState(func(_ *escrow.Engine, mgr *state.Manager) error {
		var err error
		balance, err = mgr.Balance(addr, asset)
		return err
	})
	return balance, err
}

// HasAccount reports whether (addr, asset) holds a balance record.
func (n *Node) HasAccount(addr [20]byte, asset string) bool {
	exists := false
	_ = n.readState(func(_ *escrow.Engine, mgr *state.Manager) error {
		exists = mgr.HasAccount(addr, asset)
		return nil
	})
	return exists
}

// AssetList returns the registered asset symbols.
func (n *Node) AssetList() ([]string, error) {
	var list []string
	err := n.readState(func(_ *escrow.Engine, mgr *state.Manager) error {
		var err error
		list, err = mgr.AssetList()
		return err
	})
	return list, err
}

// EscrowInitialize creates and funds a new escrow on behalf of caller.
func (n *Node) EscrowInitialize(caller [20]byte, seed uint64, counterparty [20]byte, assetPrimary, assetSecondary string, amountDeposited, amountRequested *big.Int) (*escrow.Escrow, error) {
	var created *escrow.Escrow
	err := n.writeState("escrow_initialize", func(eng *escrow.Engine, _ *state.Manager) error {
		var err error
		created, err = eng.Initialize(caller, seed, counterparty, assetPrimary, assetSecondary, amountDeposited, amountRequested)
		return err
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// EscrowConfirmPayment records the counterparty's payment confirmation.
func (n *Node) EscrowConfirmPayment(addr [20]byte, caller [20]byte) error {
	return n.writeState("escrow_confirm_payment", func(eng *escrow.Engine, _ *state.Manager) error {
		return eng.ConfirmPayment(addr, caller)
	})
}

// EscrowExchange releases a confirmed escrow to its counterparty.
func (n *Node) EscrowExchange(addr [20]byte, caller [20]byte, accounts escrow.ExchangeAccounts) error {
	return n.writeState("escrow_exchange", func(eng *escrow.Engine, _ *state.Manager) error {
		return eng.Exchange(addr, caller, accounts)
	})
}

// EscrowCancel refunds an unconfirmed escrow to its initializer.
func (n *Node) EscrowCancel(addr [20]byte, caller [20]byte) error {
	return n.writeState("escrow_cancel", func(eng *escrow.Engine, _ *state.Manager) error {
		return eng.Cancel(addr, caller)
	})
}

// EscrowGet returns a snapshot of the escrow record with no side effects.
func (n *Node) EscrowGet(addr [20]byte) (*escrow.Escrow, error) {
	var esc *escrow.Escrow
	err := n.readState(func(eng *escrow.Engine, _ *state.Manager) error {
		var err error
		esc, err = eng.Fetch(addr)
		return err
	})
	if err != nil {
		return nil, err
	}
	return esc, nil
}

// StateRoot returns the committed state root.
func (n *Node) StateRoot() common.Hash {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.root
}
