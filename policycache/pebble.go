// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package policycache

import (
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/bloom"
)

// pebbleCacheSize is the block cache size of a pebble database in bytes.
const pebbleCacheSize = 8 << 20

type pebbleBackend struct {
	db *pebble.DB
}

func (b pebbleBackend) get(key []byte) ([]byte, error) {
	value, closer, err := b.db.Get(key)
	switch {
	case errors.Is(err, pebble.ErrNotFound):
		return nil, nil

	case err != nil:
		return nil, err
	}
	defer closer.Close()

	// The value is only valid until closer is closed.
	return append([]byte(nil), value...), nil
}

func (b pebbleBackend) has(key []byte) (bool, error) {
	_, closer, err := b.db.Get(key)
	switch {
	case errors.Is(err, pebble.ErrNotFound):
		return false, nil

	case err != nil:
		return false, err
	}
	return true, closer.Close()
}

func (b pebbleBackend) put(key, value []byte) error {
	return b.db.Set(key, value, pebble.Sync)
}

func (b pebbleBackend) close() error {
	if err := b.db.Flush(); err != nil {
		return fmt.Errorf("flush policy cache: %w", err)
	}
	return b.db.Close()
}

// OpenPebbleCache opens the pebble database at path, creating it if needed.
// opts may be nil for the default options.
func OpenPebbleCache(path string, opts *pebble.Options) (*DBCache, error) {
	if opts == nil {
		// The database holds its own reference to the block cache.
		cache := pebble.NewCache(pebbleCacheSize)
		defer cache.Unref()

		opts = &pebble.Options{
			Cache:        cache,
			MaxOpenFiles: 64,
			Levels: []pebble.LevelOptions{
				{FilterPolicy: bloom.FilterPolicy(10)},
			},
		}
	}
	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("open policy cache %q: %w", path, err)
	}
	log.Infof("Opened pebble policy cache at %s", path)
	return newDBCache(pebbleBackend{db: db}), nil
}
