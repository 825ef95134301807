// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package compiler

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcpolicy/miniscript"
	"github.com/btcsuite/btcpolicy/policy"
)

// Cache stores compiled trees by a hash of the policy and the compile
// parameters. Implementations must be safe for concurrent use.
type Cache interface {
	// Get returns the tree stored under key, or nil if there is none.
	Get(key chainhash.Hash) (*miniscript.Tree, error)

	// PutIfAbsent stores tree under key unless a tree is already stored
	// there, and returns the stored tree.
	PutIfAbsent(key chainhash.Hash, tree *miniscript.Tree) (
		*miniscript.Tree, error)
}

// Config houses the parameters of a compilation.
type Config struct {
	// Context is the script context the policy is compiled for. It bounds
	// the script size.
	Context miniscript.Context

	// ScriptFlags are the script verification flags the output will be
	// spent under. Timelocks need the CHECKLOCKTIMEVERIFY and
	// CHECKSEQUENCEVERIFY flags.
	ScriptFlags txscript.ScriptFlags

	// MaxDepth limits the nesting of the policy. A non-positive value
	// disables the limit.
	MaxDepth int

	// KeyProvider resolves the key identifiers of the policy. When it is
	// nil, keys named by hex public keys are resolved and all other keys
	// are left unresolved in the returned tree.
	KeyProvider policy.KeyProvider

	// Cache, when set, is consulted before compiling and filled after.
	Cache Cache
}

// DefaultConfig returns a config compiling P2WSH scripts under the standard
// verification flags without key resolution or cache.
func DefaultConfig() *Config {
	return &Config{
		Context:     miniscript.ContextP2WSH,
		ScriptFlags: txscript.StandardVerifyFlags,
		MaxDepth:    policy.DefaultMaxDepth,
	}
}
