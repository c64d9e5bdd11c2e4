package storage

import (
	"github.com/ethereum/go-ethereum/core/rawdb"
	"github.com/ethereum/go-ethereum/ethdb"
	"github.com/ethereum/go-ethereum/ethdb/leveldb"
	"github.com/ethereum/go-ethereum/triedb"
)

// Database is the key-value store used for ledger metadata (such as the
// committed state root) together with the trie node database backing the
// state trie. Both views share the same underlying store so a single handle
// covers all persistence for the node.
type Database interface {
	Put(key []byte, value []byte) error
	Get(key []byte) ([]byte, error)
	Has(key []byte) (bool, error)
	Close()
	TrieDB() *triedb.Database
}

type kvDatabase struct {
	disk   ethdb.Database
	trieDB *triedb.Database
}

func newKVDatabase(disk ethdb.Database) *kvDatabase {
	return &kvDatabase{
		disk:   disk,
		trieDB: triedb.NewDatabase(disk, nil),
	}
}

func (db *kvDatabase) Put(key []byte, value []byte) error {
	return db.disk.Put(key, value)
}

func (db *kvDatabase) Get(key []byte) ([]byte, error) {
	return db.disk.Get(key)
}

func (db *kvDatabase) Has(key []byte) (bool, error) {
	return db.disk.Has(key)
}

func (db *kvDatabase) Close() {
	_ = db.disk.Close()
}

func (db *kvDatabase) TrieDB() *triedb.Database {
	return db.trieDB
}

// MemDB is an in-memory database used by tests and throwaway nodes.
type MemDB struct {
	*kvDatabase
}

// NewMemDB creates an empty in-memory database.
func NewMemDB() *MemDB {
	return &MemDB{kvDatabase: newKVDatabase(rawdb.NewMemoryDatabase())}
}

// LevelDB is a persistent database stored on disk.
type LevelDB struct {
	*kvDatabase
}

// NewLevelDB creates or opens a LevelDB database at the specified path.
func NewLevelDB(path string) (*LevelDB, error) {
	ldb, err := leveldb.New(path, 128, 128, "escrowd", false)
	if err != nil {
		return nil, err
	}
	return &LevelDB{kvDatabase: newKVDatabase(rawdb.NewDatabase(ldb))}, nil
}
