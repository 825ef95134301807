// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"encoding/hex"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcpolicy/miniscript"
	"github.com/stretchr/testify/require"
)

func testPubKeyHex(name string) string {
	seed := chainhash.HashB([]byte(name))
	priv, _ := btcec.PrivKeyFromBytes(seed)
	return hex.EncodeToString(priv.PubKey().SerializeCompressed())
}

func TestLoadConfig(t *testing.T) {
	defer func() { activeNetParams = &chaincfg.MainNetParams }()

	keyA := "A=" + testPubKeyHex("A")
	tests := []struct {
		name    string
		args    []string
		wantErr bool
		ctx     miniscript.Context
		net     *chaincfg.Params
	}{{
		name: "policy defaults",
		args: []string{"-p", "pk(A)"},
		ctx:  miniscript.ContextP2WSH,
		net:  &chaincfg.MainNetParams,
	}, {
		name: "sh on testnet",
		args: []string{"-p", "pk(A)", "-c", "sh", "--testnet",
			"-k", keyA},
		ctx: miniscript.ContextP2SH,
		net: &chaincfg.TestNet3Params,
	}, {
		name:    "two networks",
		args:    []string{"-p", "pk(A)", "--testnet", "--regtest"},
		wantErr: true,
	}, {
		name:    "policy and descriptor",
		args:    []string{"-p", "pk(A)", "-D", "wsh(pk(A))"},
		wantErr: true,
	}, {
		name:    "neither policy nor descriptor",
		args:    []string{"--nocache"},
		wantErr: true,
	}, {
		name:    "unknown context",
		args:    []string{"-p", "pk(A)", "-c", "tr"},
		wantErr: true,
	}, {
		name:    "unknown database",
		args:    []string{"-p", "pk(A)", "--dbtype", "bolt"},
		wantErr: true,
	}, {
		name:    "malformed key",
		args:    []string{"-p", "pk(A)", "-k", "A"},
		wantErr: true,
	}, {
		name:    "bad debug level",
		args:    []string{"-p", "pk(A)", "-d", "loud"},
		wantErr: true,
	}}

	for _, test := range tests {
		activeNetParams = &chaincfg.MainNetParams
		cfg, err := loadConfig(test.args)
		if test.wantErr {
			require.Error(t, err, test.name)
			continue
		}
		require.NoError(t, err, test.name)
		require.Equal(t, test.ctx, cfg.ctx, test.name)
		require.Equal(t, test.net.Name, activeNetParams.Name, test.name)
	}
}

func TestParseKeys(t *testing.T) {
	keys, err := parseKeys([]string{"A=" + testPubKeyHex("A"),
		"B=" + testPubKeyHex("B")})
	require.NoError(t, err)
	require.Len(t, keys, 2)
	require.Equal(t, testPubKeyHex("B"),
		hex.EncodeToString(keys["B"].SerializeCompressed()))

	for _, bad := range []string{"A", "A=zz", "A=0202"} {
		_, err := parseKeys([]string{bad})
		require.Error(t, err, bad)
	}
}

func TestParseAndSetDebugLevels(t *testing.T) {
	tests := []struct {
		in      string
		wantErr bool
	}{
		{"debug", false},
		{"COMP=trace,MSCR=info", false},
		{"COMP=trace,", true},
		{"NOPE=info", true},
		{"COMP=loud", true},
		{"verbose", true},
	}
	for _, test := range tests {
		err := parseAndSetDebugLevels(test.in)
		require.Equal(t, test.wantErr, err != nil, "%q: %v", test.in, err)
	}
	require.NoError(t, parseAndSetDebugLevels("info"))
}

func TestPrintTree(t *testing.T) {
	cfg, err := loadConfig([]string{
		"-p", "or(pk(A),and(pk(B),older(144)))", "--nocache", "--tree",
		"-k", "A=" + testPubKeyHex("A"),
		"-k", "B=" + testPubKeyHex("B"),
	})
	require.NoError(t, err)
	require.Equal(t, txscript.StandardVerifyFlags, scriptFlags(cfg))

	tree, err := compilePolicy(cfg)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, printTree(&buf, cfg, tree))
	out := buf.String()
	require.Contains(t, out, "Descriptor:     wsh(")
	require.Contains(t, out, "Address:        bc1q")
	require.Contains(t, out, "OP_CHECKSEQUENCEVERIFY")

	// The printed descriptor decodes back to the same script.
	cfg.Policy, cfg.Descriptor = "", tree.String()
	decoded, err := decodeDescriptor(cfg)
	require.NoError(t, err)
	require.Equal(t, tree.String(), decoded.String())

	// Without keys only the descriptor is printed.
	cfg.keys = nil
	cfg.Descriptor = "wsh(pk(A))"
	decoded, err = decodeDescriptor(cfg)
	require.NoError(t, err)
	buf.Reset()
	require.NoError(t, printTree(&buf, cfg, decoded))
	require.Contains(t, buf.String(), "Keys are unresolved")
	require.NotContains(t, buf.String(), "Address:")

	cfg.NoCSV = true
	require.Zero(t, scriptFlags(cfg)&txscript.ScriptVerifyCheckSequenceVerify)
}

// TestCompileCached compiles twice through the on-disk cache of each
// backend.
func TestCompileCached(t *testing.T) {
	for _, dbType := range []string{"leveldb", "pebble"} {
		cfg, err := loadConfig([]string{
			"-p", "thresh(2,pk(A),pk(B),pk(C))",
			"--cachedir", t.TempDir(), "--dbtype", dbType,
		})
		require.NoError(t, err, dbType)

		first, err := compilePolicy(cfg)
		require.NoError(t, err, dbType)
		second, err := compilePolicy(cfg)
		require.NoError(t, err, dbType)
		require.Equal(t, first.String(), second.String(), dbType)
	}
}
