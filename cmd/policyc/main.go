// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcpolicy/compiler"
	"github.com/btcsuite/btcpolicy/internal/log"
	"github.com/btcsuite/btcpolicy/miniscript"
	"github.com/btcsuite/btcpolicy/policycache"
)

var mainLog = log.MainLog

// scriptFlags returns the verification flags selected by cfg.
func scriptFlags(cfg *config) txscript.ScriptFlags {
	flags := txscript.StandardVerifyFlags
	if cfg.NoCSV {
		flags &^= txscript.ScriptVerifyCheckSequenceVerify
	}
	if cfg.NoCLTV {
		flags &^= txscript.ScriptVerifyCheckLockTimeVerify
	}
	return flags
}

// openCache opens the persistent compile cache of cfg, or returns nil when
// it is disabled.
func openCache(cfg *config) (*policycache.DBCache, error) {
	if cfg.NoCache {
		return nil, nil
	}
	if err := os.MkdirAll(cfg.CacheDir, 0700); err != nil {
		return nil, err
	}
	dbPath := filepath.Join(cfg.CacheDir,
		defaultCacheDBName+"_"+cfg.DbType)
	mainLog.Debugf("Opening compile cache at '%s'", dbPath)
	if cfg.DbType == "pebble" {
		return policycache.OpenPebbleCache(dbPath, nil)
	}
	return policycache.OpenDBCache(dbPath)
}

// compilePolicy compiles the policy of cfg.
func compilePolicy(cfg *config) (*miniscript.Tree, error) {
	ccfg := &compiler.Config{
		Context:     cfg.ctx,
		ScriptFlags: scriptFlags(cfg),
		MaxDepth:    cfg.MaxDepth,
	}
	if len(cfg.keys) > 0 {
		ccfg.KeyProvider = cfg.keys
	}

	db, err := openCache(cfg)
	if err != nil {
		return nil, err
	}
	if db != nil {
		defer db.Close()
		ccfg.Cache = db
	}

	return compiler.CompileString(cfg.Policy, ccfg)
}

// decodeDescriptor parses the descriptor of cfg and resolves its keys with
// the keys of cfg.
func decodeDescriptor(cfg *config) (*miniscript.Tree, error) {
	tree, err := miniscript.ParseDescriptor(cfg.Descriptor)
	if err != nil {
		return nil, err
	}
	if len(cfg.keys) == 0 {
		return tree, nil
	}
	return tree.ApplyKeys(func(id string) ([]byte, error) {
		if pub, ok := cfg.keys[id]; ok {
			return pub.SerializeCompressed(), nil
		}
		return nil, nil
	})
}

// printTree writes the descriptor of tree and, when its keys are resolved,
// its scripts and address.
func printTree(w io.Writer, cfg *config, tree *miniscript.Tree) error {
	fmt.Fprintf(w, "Descriptor:     %v\n", tree)
	fmt.Fprintf(w, "Type:           %v\n", tree.Root.Type())
	if size, ok := tree.Root.SatSize(); ok {
		fmt.Fprintf(w, "Max witness:    %d bytes\n", size)
	}
	fmt.Fprintf(w, "Ops:            %d\n", tree.Root.MaxOpCount())
	fmt.Fprintf(w, "Script by name: %s\n", tree.Root.ScriptString())

	tmpl, err := tree.Serialize(scriptFlags(cfg))
	switch {
	case miniscript.IsErrorCode(err, miniscript.ErrUnresolvedKey):
		fmt.Fprintln(w, "Keys are unresolved, pass them with --key "+
			"to build the script")

	case err != nil:
		return err

	default:
		disasm, err := txscript.DisasmString(tmpl.Script)
		if err != nil {
			return err
		}
		addr, err := tree.Address(activeNetParams)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "Script:         %x\n", tmpl.Script)
		fmt.Fprintf(w, "Script asm:     %s\n", disasm)
		fmt.Fprintf(w, "Output script:  %s\n",
			hex.EncodeToString(tmpl.PkScript))
		fmt.Fprintf(w, "Address:        %s (%s)\n", addr.EncodeAddress(),
			activeNetParams.Name)
	}

	if cfg.ShowTree {
		fmt.Fprintf(w, "\n%s", tree.Root.DrawTree())
	}
	return nil
}

// realMain is the real main function for the utility.  It is necessary to
// work around the fact that deferred functions do not run when os.Exit() is
// called.
func realMain() error {
	// Load configuration and parse command line.
	cfg, err := loadConfig(os.Args[1:])
	if err != nil {
		return err
	}
	defer func() {
		if log.LogRotator != nil {
			log.LogRotator.Close()
		}
	}()

	var tree *miniscript.Tree
	if cfg.Policy != "" {
		mainLog.Infof("Compiling %s for %s", cfg.Policy, cfg.ctx)
		tree, err = compilePolicy(cfg)
	} else {
		tree, err = decodeDescriptor(cfg)
	}
	if err != nil {
		mainLog.Errorf("%v", err)
		return err
	}

	return printTree(os.Stdout, cfg, tree)
}

func main() {
	if err := realMain(); err != nil {
		os.Exit(1)
	}
}
