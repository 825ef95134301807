// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package policycache

import (
	"errors"
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcpolicy/compiler"
	"github.com/btcsuite/btcpolicy/miniscript"
	"github.com/lightninglabs/neutrino/cache"
	"github.com/lightninglabs/neutrino/cache/lru"
)

// DefaultMemCacheSize is the number of trees a MemCache created with a zero
// capacity holds.
const DefaultMemCacheSize = 1000

// cachedTree is a tree stored in the LRU cache. Every tree counts as one
// entry regardless of its size.
type cachedTree struct {
	tree *miniscript.Tree
}

// Size returns the "size" of an entry.
func (c *cachedTree) Size() (uint64, error) {
	return 1, nil
}

// MemCache is an in-memory compiler.Cache holding a bounded number of trees.
// When it is full the least recently used tree is evicted.
type MemCache struct {
	// mtx makes the lookup and insert of PutIfAbsent atomic.
	mtx   sync.Mutex
	trees *lru.Cache[chainhash.Hash, *cachedTree]
}

// A compile-time constraint to ensure MemCache implements compiler.Cache.
var _ compiler.Cache = (*MemCache)(nil)

// NewMemCache returns a MemCache holding up to capacity trees.
func NewMemCache(capacity uint64) *MemCache {
	if capacity == 0 {
		capacity = DefaultMemCacheSize
	}
	return &MemCache{
		trees: lru.NewCache[chainhash.Hash, *cachedTree](capacity),
	}
}

// Get returns the tree stored under key, or nil if there is none.
func (c *MemCache) Get(key chainhash.Hash) (*miniscript.Tree, error) {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	entry, err := c.trees.Get(key)
	switch {
	case errors.Is(err, cache.ErrElementNotFound):
		log.Tracef("Memory cache miss for %v", key)
		return nil, nil

	case err != nil:
		return nil, err
	}

	log.Tracef("Memory cache hit for %v", key)
	return entry.tree, nil
}

// PutIfAbsent stores tree under key unless a tree is stored there already,
// and returns the stored tree.
func (c *MemCache) PutIfAbsent(key chainhash.Hash,
	tree *miniscript.Tree) (*miniscript.Tree, error) {

	c.mtx.Lock()
	defer c.mtx.Unlock()

	entry, err := c.trees.Get(key)
	switch {
	case err == nil:
		return entry.tree, nil

	case !errors.Is(err, cache.ErrElementNotFound):
		return nil, err
	}

	if _, err := c.trees.Put(key, &cachedTree{tree: tree}); err != nil {
		return nil, err
	}
	log.Debugf("Cached %v under %v", tree, key)
	return tree, nil
}

// Len returns the number of cached trees.
func (c *MemCache) Len() int {
	return c.trees.Len()
}
