// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package policycache

import (
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcpolicy/compiler"
	"github.com/btcsuite/btcpolicy/miniscript"
	"github.com/decred/dcrd/lru"
)

// treeKeyPrefix is the prefix of the keys the trees are stored under, so
// the database can hold other data as well.
var treeKeyPrefix = []byte("policy-")

// defaultAbsentCacheSize is the number of keys known to be missing from the
// database that are remembered.
const defaultAbsentCacheSize = 1000

// treeKey returns the database key of a cache key.
func treeKey(key chainhash.Hash) []byte {
	k := make([]byte, 0, len(treeKeyPrefix)+chainhash.HashSize)
	k = append(k, treeKeyPrefix...)
	return append(k, key[:]...)
}

// backend is a key/value database a DBCache stores its trees in.
type backend interface {
	// get returns the value of key, or nil if key is not set.
	get(key []byte) ([]byte, error)

	// has returns whether key is set.
	has(key []byte) (bool, error)

	// put sets key and syncs the write to disk.
	put(key, value []byte) error

	close() error
}

// DBCache is a compiler.Cache persisting trees in an on-disk database. Trees
// are stored as descriptors and parsed again when read.
type DBCache struct {
	// mtx makes the lookup and insert of PutIfAbsent atomic.
	mtx sync.Mutex
	db  backend

	// absent holds keys recently looked up and not found, which saves the
	// database read of repeated misses. Keys leave it when stored.
	absent lru.Cache
}

// A compile-time constraint to ensure DBCache implements compiler.Cache.
var _ compiler.Cache = (*DBCache)(nil)

func newDBCache(db backend) *DBCache {
	return &DBCache{
		db:     db,
		absent: lru.NewCache(defaultAbsentCacheSize),
	}
}

// Close closes the database.
func (c *DBCache) Close() error {
	return c.db.close()
}

// get reads and parses the tree stored under key.
func (c *DBCache) get(key chainhash.Hash) (*miniscript.Tree, error) {
	if c.absent.Contains(key) {
		return nil, nil
	}

	desc, err := c.db.get(treeKey(key))
	switch {
	case err != nil:
		return nil, fmt.Errorf("read cached tree %v: %w", key, err)

	case desc == nil:
		log.Tracef("Database cache miss for %v", key)
		c.absent.Add(key)
		return nil, nil
	}

	tree, err := miniscript.ParseDescriptor(string(desc))
	if err != nil {
		return nil, fmt.Errorf("cached tree %v is corrupt: %w", key, err)
	}
	log.Tracef("Database cache hit for %v", key)
	return tree, nil
}

// Get returns the tree stored under key, or nil if there is none.
func (c *DBCache) Get(key chainhash.Hash) (*miniscript.Tree, error) {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	return c.get(key)
}

// PutIfAbsent stores tree under key unless a tree is stored there already,
// and returns the stored tree. The write is synced to disk.
func (c *DBCache) PutIfAbsent(key chainhash.Hash,
	tree *miniscript.Tree) (*miniscript.Tree, error) {

	c.mtx.Lock()
	defer c.mtx.Unlock()

	if !c.absent.Contains(key) {
		has, err := c.db.has(treeKey(key))
		if err != nil {
			return nil, fmt.Errorf("look up cached tree %v: %w",
				key, err)
		}
		if has {
			return c.get(key)
		}
	}

	err := c.db.put(treeKey(key), []byte(tree.String()))
	if err != nil {
		return nil, fmt.Errorf("store tree %v: %w", key, err)
	}
	c.absent.Delete(key)
	log.Debugf("Stored %v under %v", tree, key)
	return tree, nil
}
