// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

/*
Package policycache provides caches of compiled spending policies for use as
compiler.Cache.

MemCache keeps a bounded number of trees in memory and evicts the least
recently used.  DBCache persists trees in a LevelDB or pebble database as
their descriptors, which are parsed back when read, so compilations survive
restarts.  Both store a tree only if none is stored under the same key yet, so
concurrent compilations of one policy all end up with the same tree.
*/
package policycache
