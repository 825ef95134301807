// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package policycache

import (
	"errors"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/filter"
	"github.com/syndtr/goleveldb/leveldb/opt"
)

type levelBackend struct {
	db *leveldb.DB
}

func (b levelBackend) get(key []byte) ([]byte, error) {
	value, err := b.db.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, nil
	}
	return value, err
}

func (b levelBackend) has(key []byte) (bool, error) {
	return b.db.Has(key, nil)
}

func (b levelBackend) put(key, value []byte) error {
	return b.db.Put(key, value, &opt.WriteOptions{Sync: true})
}

func (b levelBackend) close() error {
	return b.db.Close()
}

// OpenDBCache opens the LevelDB database at path, creating it if needed.
func OpenDBCache(path string) (*DBCache, error) {
	opts := opt.Options{
		Strict:      opt.DefaultStrict,
		Compression: opt.NoCompression,
		Filter:      filter.NewBloomFilter(10),
	}
	db, err := leveldb.OpenFile(path, &opts)
	if err != nil {
		return nil, fmt.Errorf("open policy cache %q: %w", path, err)
	}
	log.Infof("Opened policy cache at %s", path)
	return NewDBCache(db), nil
}

// NewDBCache returns a DBCache backed by an open LevelDB database.
func NewDBCache(db *leveldb.DB) *DBCache {
	return newDBCache(levelBackend{db: db})
}
