// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package miniscript

import (
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// Context is the output type a script is committed to.
type Context uint8

const (
	// ContextP2WSH commits to the script through a version 0 witness
	// script hash.
	ContextP2WSH Context = iota

	// ContextP2SH commits to the script through a legacy script hash.
	ContextP2SH
)

const (
	// maxStandardP2WSHScriptSize is the maximum size in bytes of a
	// standard witnessScript.
	maxStandardP2WSHScriptSize = 3600

	// maxP2SHScriptSize is the maximum size of a redeem script, which is
	// bounded by the maximum script element size.
	maxP2SHScriptSize = txscript.MaxScriptElementSize
)

// String returns the descriptor function of the context.
func (c Context) String() string {
	switch c {
	case ContextP2WSH:
		return "wsh"
	case ContextP2SH:
		return "sh"
	}
	return fmt.Sprintf("Unknown Context (%d)", uint8(c))
}

// MaxScriptSize returns the largest script the context allows.
func (c Context) MaxScriptSize() int {
	if c == ContextP2SH {
		return maxP2SHScriptSize
	}
	return maxStandardP2WSHScriptSize
}

// MaxOpsPerScript is the consensus limit of non-push operations executed by
// a script.
const MaxOpsPerScript = maxOpsPerScript

// Tree is a miniscript bound to the context it is spent in. Trees are
// immutable and may be shared between goroutines.
type Tree struct {
	Context Context
	Root    *Node
}

// NewTree checks that root is a valid top level script for ctx: it must be
// of type B, must not mix height and time based timelocks in one spending
// path and must stay within the script size and op count limits.
func NewTree(ctx Context, root *Node) (*Tree, error) {
	if ctx != ContextP2WSH && ctx != ContextP2SH {
		str := fmt.Sprintf("unsupported script context %d", ctx)
		return nil, scriptError(ErrUnsupportedEncoding, str)
	}
	if root.basicType != TypeB {
		return nil, typeError("top level expression `%s` must be "+
			"of type B, but is type %s", root.Fragment,
			root.basicType)
	}
	if root.locks.mixed {
		return nil, scriptError(ErrMixedTimelocks, "the script has "+
			"a spending path mixing height and time based "+
			"timelocks")
	}
	if err := CheckLimits(ctx, root); err != nil {
		return nil, err
	}
	return &Tree{Context: ctx, Root: root}, nil
}

// CheckLimits returns an ErrResourceLimit error if the script of node does
// not fit in ctx.
func CheckLimits(ctx Context, node *Node) error {
	if node.scriptLen > ctx.MaxScriptSize() {
		str := fmt.Sprintf("the script size is %v, which is larger "+
			"than the maximum %s script size of %v",
			node.scriptLen, ctx, ctx.MaxScriptSize())
		return scriptError(ErrResourceLimit, str)
	}
	if node.MaxOpCount() > maxOpsPerScript {
		str := fmt.Sprintf("the script requires a maximum number of "+
			"%d ops, which is larger than the consensus limit of "+
			"%d", node.MaxOpCount(), maxOpsPerScript)
		return scriptError(ErrResourceLimit, str)
	}
	return nil
}

// Template is the serialized form of a Tree.
type Template struct {
	// Script is the witness script (P2WSH) or redeem script (P2SH).
	Script []byte

	// Descriptor is the checksummed output descriptor.
	Descriptor string

	// PkScript is the output script paying to Script.
	PkScript []byte
}

// Serialize builds the script, descriptor and output script of the tree.
// Timelock fragments need the matching soft fork in flags, otherwise an
// ErrUnsupportedEncoding error is returned.
func (t *Tree) Serialize(flags txscript.ScriptFlags) (*Template, error) {
	var err error
	t.Root.walk(func(n *Node) {
		switch {
		case err != nil:

		case n.Fragment == FragAfter &&
			flags&txscript.ScriptVerifyCheckLockTimeVerify == 0:

			err = scriptError(ErrUnsupportedEncoding, "after "+
				"requires OP_CHECKLOCKTIMEVERIFY")

		case n.Fragment == FragOlder &&
			flags&txscript.ScriptVerifyCheckSequenceVerify == 0:

			err = scriptError(ErrUnsupportedEncoding, "older "+
				"requires OP_CHECKSEQUENCEVERIFY")
		}
	})
	if err != nil {
		return nil, err
	}

	script, err := t.Root.Script()
	if err != nil {
		return nil, err
	}
	pkScript, err := t.pkScript(script)
	if err != nil {
		return nil, err
	}

	log.Debugf("Serialized %s script of %d bytes", t.Context, len(script))

	return &Template{
		Script:     script,
		Descriptor: t.String(),
		PkScript:   pkScript,
	}, nil
}

func (t *Tree) pkScript(script []byte) ([]byte, error) {
	b := txscript.NewScriptBuilder()
	if t.Context == ContextP2SH {
		b.AddOp(txscript.OP_HASH160)
		b.AddData(btcutil.Hash160(script))
		b.AddOp(txscript.OP_EQUAL)
	} else {
		b.AddOp(txscript.OP_0)
		b.AddData(chainhash.HashB(script))
	}
	return b.Script()
}

// Address returns the address of the output paying to the tree.
func (t *Tree) Address(params *chaincfg.Params) (btcutil.Address, error) {
	script, err := t.Root.Script()
	if err != nil {
		return nil, err
	}
	if t.Context == ContextP2SH {
		return btcutil.NewAddressScriptHash(script, params)
	}
	return btcutil.NewAddressWitnessScriptHash(
		chainhash.HashB(script), params,
	)
}

// Finalize turns the witness stack returned by Satisfy into the signature
// script and transaction witness of the spending input. For P2WSH the script
// is appended to the witness; for P2SH every element is pushed in the
// signature script followed by the redeem script.
func (t *Tree) Finalize(stack wire.TxWitness) ([]byte, wire.TxWitness,
	error) {

	script, err := t.Root.Script()
	if err != nil {
		return nil, nil, err
	}

	if t.Context == ContextP2WSH {
		witness := make(wire.TxWitness, 0, len(stack)+1)
		witness = append(witness, stack...)
		return nil, append(witness, script), nil
	}

	b := txscript.NewScriptBuilder()
	for _, elem := range stack {
		b.AddData(elem)
	}
	b.AddData(script)
	sigScript, err := b.Script()
	if err != nil {
		return nil, nil, err
	}
	return sigScript, nil, nil
}

func numPushLen(n int64) int {
	numPush, _ := txscript.NewScriptBuilder().AddInt64(n).Script()
	return len(numPush)
}

// computeScriptLen computes the length of the resulting script.
func computeScriptLen(node *Node) error {
	argsSummed := 0
	for _, sub := range node.Subs {
		argsSummed += sub.scriptLen
	}

	switch node.Fragment {
	case FragFalse, FragTrue:
		node.scriptLen = 1

	case FragPkK:
		node.scriptLen = pubKeyDataPushLen

	case FragPkH:
		node.scriptLen = 24

	case FragOlder, FragAfter:
		node.scriptLen = 1 + numPushLen(int64(node.K))

	case FragSha256, FragHash256:
		node.scriptLen = 39

	case FragRipemd160, FragHash160:
		node.scriptLen = 27

	case FragAndOr, FragOrI, FragOrD, FragWrapD:
		node.scriptLen = argsSummed + 3

	case FragAndV:
		node.scriptLen = argsSummed

	case FragAndB, FragOrB, FragWrapS, FragWrapC, FragWrapN:
		node.scriptLen = argsSummed + 1

	case FragOrC, FragWrapA:
		node.scriptLen = argsSummed + 2

	case FragThresh:
		// n-1 OP_ADDs, the push of k and OP_EQUAL.
		node.scriptLen = argsSummed + len(node.Subs) - 1 +
			numPushLen(int64(node.K)) + 1

	case FragMulti:
		numKeys := len(node.Keys)
		node.scriptLen = numPushLen(int64(node.K)) +
			numKeys*pubKeyDataPushLen +
			numPushLen(int64(numKeys)) + 1

	case FragWrapV:
		if node.Subs[0].props.canCollapseVerify {
			// OP_VERIFY not needed, collapsed into OP_EQUALVERIFY,
			// OP_CHECKSIGVERIFY or OP_CHECKMULTISIGVERIFY.
			node.scriptLen = argsSummed
		} else {
			node.scriptLen = argsSummed + 1
		}

	case FragWrapJ:
		node.scriptLen = argsSummed + 4

	default:
		return typeError("unknown identifier: %s", node.Fragment)
	}
	return nil
}

// Script creates the script of the node. All keys must be resolved.
func (n *Node) Script() ([]byte, error) {
	b := txscript.NewScriptBuilder()
	if err := buildScript(n, b, false); err != nil {
		return nil, err
	}
	return b.Script()
}

func hashOpcode(frag Fragment) byte {
	switch frag {
	case FragSha256:
		return txscript.OP_SHA256
	case FragHash256:
		return txscript.OP_HASH256
	case FragRipemd160:
		return txscript.OP_RIPEMD160
	default:
		return txscript.OP_HASH160
	}
}

func unresolved(node *Node, key Key) error {
	str := fmt.Sprintf("no public key for %s in %s", key.Name,
		node.Fragment)
	return scriptError(ErrUnresolvedKey, str)
}

// buildScript builds the script from the tree. verify is true if the node is
// the rightmost part of the child of a `v` wrapper and its last opcode can be
// collapsed, e.g. OP_CHECKSIG OP_VERIFY into OP_CHECKSIGVERIFY.
func buildScript(node *Node, b *txscript.ScriptBuilder, verify bool) error {
	build := func(sub *Node, verify bool) error {
		return buildScript(sub, b, verify)
	}
	lastOp := func(op, verifyOp byte) {
		if verify {
			b.AddOp(verifyOp)
		} else {
			b.AddOp(op)
		}
	}

	switch node.Fragment {
	case FragFalse:
		b.AddOp(txscript.OP_FALSE)

	case FragTrue:
		b.AddOp(txscript.OP_TRUE)

	case FragPkK:
		key := node.Keys[0]
		if key.PubKey == nil {
			return unresolved(node, key)
		}
		b.AddData(key.PubKey)

	case FragPkH:
		key := node.Keys[0]
		if key.PubKey == nil {
			return unresolved(node, key)
		}
		b.AddOp(txscript.OP_DUP)
		b.AddOp(txscript.OP_HASH160)
		b.AddData(btcutil.Hash160(key.PubKey))
		b.AddOp(txscript.OP_EQUALVERIFY)

	case FragOlder:
		b.AddInt64(int64(node.K))
		b.AddOp(txscript.OP_CHECKSEQUENCEVERIFY)

	case FragAfter:
		b.AddInt64(int64(node.K))
		b.AddOp(txscript.OP_CHECKLOCKTIMEVERIFY)

	case FragSha256, FragHash256, FragRipemd160, FragHash160:
		b.AddOp(txscript.OP_SIZE)
		b.AddInt64(32)
		b.AddOp(txscript.OP_EQUALVERIFY)
		b.AddOp(hashOpcode(node.Fragment))
		b.AddData(node.Hash)
		lastOp(txscript.OP_EQUAL, txscript.OP_EQUALVERIFY)

	case FragAndOr:
		if err := build(node.Subs[0], false); err != nil {
			return err
		}
		b.AddOp(txscript.OP_NOTIF)
		if err := build(node.Subs[2], false); err != nil {
			return err
		}
		b.AddOp(txscript.OP_ELSE)
		if err := build(node.Subs[1], false); err != nil {
			return err
		}
		b.AddOp(txscript.OP_ENDIF)

	case FragAndV:
		if err := build(node.Subs[0], false); err != nil {
			return err
		}
		if err := build(node.Subs[1], verify); err != nil {
			return err
		}

	case FragAndB, FragOrB:
		if err := build(node.Subs[0], false); err != nil {
			return err
		}
		if err := build(node.Subs[1], false); err != nil {
			return err
		}
		if node.Fragment == FragAndB {
			b.AddOp(txscript.OP_BOOLAND)
		} else {
			b.AddOp(txscript.OP_BOOLOR)
		}

	case FragOrC:
		if err := build(node.Subs[0], false); err != nil {
			return err
		}
		b.AddOp(txscript.OP_NOTIF)
		if err := build(node.Subs[1], false); err != nil {
			return err
		}
		b.AddOp(txscript.OP_ENDIF)

	case FragOrD:
		if err := build(node.Subs[0], false); err != nil {
			return err
		}
		b.AddOp(txscript.OP_IFDUP)
		b.AddOp(txscript.OP_NOTIF)
		if err := build(node.Subs[1], false); err != nil {
			return err
		}
		b.AddOp(txscript.OP_ENDIF)

	case FragOrI:
		b.AddOp(txscript.OP_IF)
		if err := build(node.Subs[0], false); err != nil {
			return err
		}
		b.AddOp(txscript.OP_ELSE)
		if err := build(node.Subs[1], false); err != nil {
			return err
		}
		b.AddOp(txscript.OP_ENDIF)

	case FragThresh:
		for i, sub := range node.Subs {
			if err := build(sub, false); err != nil {
				return err
			}
			if i > 0 {
				b.AddOp(txscript.OP_ADD)
			}
		}
		b.AddInt64(int64(node.K))
		lastOp(txscript.OP_EQUAL, txscript.OP_EQUALVERIFY)

	case FragMulti:
		b.AddInt64(int64(node.K))
		for _, key := range node.Keys {
			if key.PubKey == nil {
				return unresolved(node, key)
			}
			b.AddData(key.PubKey)
		}
		b.AddInt64(int64(len(node.Keys)))
		lastOp(txscript.OP_CHECKMULTISIG, txscript.OP_CHECKMULTISIGVERIFY)

	case FragWrapA:
		b.AddOp(txscript.OP_TOALTSTACK)
		if err := build(node.Subs[0], false); err != nil {
			return err
		}
		b.AddOp(txscript.OP_FROMALTSTACK)

	case FragWrapS:
		b.AddOp(txscript.OP_SWAP)
		if err := build(node.Subs[0], verify); err != nil {
			return err
		}

	case FragWrapC:
		if err := build(node.Subs[0], false); err != nil {
			return err
		}
		lastOp(txscript.OP_CHECKSIG, txscript.OP_CHECKSIGVERIFY)

	case FragWrapD:
		b.AddOp(txscript.OP_DUP)
		b.AddOp(txscript.OP_IF)
		if err := build(node.Subs[0], false); err != nil {
			return err
		}
		b.AddOp(txscript.OP_ENDIF)

	case FragWrapV:
		x := node.Subs[0]
		if err := build(x, x.props.canCollapseVerify); err != nil {
			return err
		}
		if !x.props.canCollapseVerify {
			b.AddOp(txscript.OP_VERIFY)
		}

	case FragWrapJ:
		b.AddOp(txscript.OP_SIZE)
		b.AddOp(txscript.OP_0NOTEQUAL)
		b.AddOp(txscript.OP_IF)
		if err := build(node.Subs[0], false); err != nil {
			return err
		}
		b.AddOp(txscript.OP_ENDIF)

	case FragWrapN:
		if err := build(node.Subs[0], false); err != nil {
			return err
		}
		b.AddOp(txscript.OP_0NOTEQUAL)

	default:
		return typeError("unknown identifier: %s", node.Fragment)
	}
	return nil
}

// ScriptString returns a human-readable version of the script, with keys
// shown by name.
func (n *Node) ScriptString() string {
	return scriptStr(n, false)
}

// scriptStr mirrors buildScript; verify has the same meaning.
func scriptStr(node *Node, verify bool) string {
	str := func(i int, verify bool) string {
		return scriptStr(node.Subs[i], verify)
	}
	lastOp := func(op, verifyOp string) string {
		if verify {
			return verifyOp
		}
		return op
	}

	switch node.Fragment {
	case FragFalse, FragTrue:
		return string(node.Fragment)

	case FragPkK:
		return fmt.Sprintf("<%s>", node.Keys[0].Name)

	case FragPkH:
		return fmt.Sprintf("DUP HASH160 <HASH160(%s)> EQUALVERIFY",
			node.Keys[0].Name)

	case FragOlder:
		return fmt.Sprintf("<%d> CHECKSEQUENCEVERIFY", node.K)

	case FragAfter:
		return fmt.Sprintf("<%d> CHECKLOCKTIMEVERIFY", node.K)

	case FragSha256, FragHash256, FragRipemd160, FragHash160:
		return fmt.Sprintf("SIZE <32> EQUALVERIFY %s <%x> %s",
			strings.ToUpper(string(node.Fragment)), node.Hash,
			lastOp("EQUAL", "EQUALVERIFY"))

	case FragAndOr:
		return fmt.Sprintf("%s NOTIF %s ELSE %s ENDIF",
			str(0, false), str(2, false), str(1, false))

	case FragAndV:
		return fmt.Sprintf("%s %s", str(0, false), str(1, verify))

	case FragAndB:
		return fmt.Sprintf("%s %s BOOLAND", str(0, false),
			str(1, false))

	case FragOrB:
		return fmt.Sprintf("%s %s BOOLOR", str(0, false),
			str(1, false))

	case FragOrC:
		return fmt.Sprintf("%s NOTIF %s ENDIF", str(0, false),
			str(1, false))

	case FragOrD:
		return fmt.Sprintf("%s IFDUP NOTIF %s ENDIF", str(0, false),
			str(1, false))

	case FragOrI:
		return fmt.Sprintf("IF %s ELSE %s ENDIF", str(0, false),
			str(1, false))

	case FragThresh:
		var s []string
		for i := range node.Subs {
			s = append(s, str(i, false))
			if i > 0 {
				s = append(s, "ADD")
			}
		}
		s = append(s, fmt.Sprint(node.K))
		s = append(s, lastOp("EQUAL", "EQUALVERIFY"))
		return strings.Join(s, " ")

	case FragMulti:
		s := []string{fmt.Sprint(node.K)}
		for _, key := range node.Keys {
			s = append(s, fmt.Sprintf("<%s>", key.Name))
		}
		s = append(s, fmt.Sprint(len(node.Keys)))
		s = append(s, lastOp("CHECKMULTISIG", "CHECKMULTISIGVERIFY"))
		return strings.Join(s, " ")

	case FragWrapA:
		return fmt.Sprintf("TOALTSTACK %s FROMALTSTACK", str(0, false))

	case FragWrapS:
		return fmt.Sprintf("SWAP %s", str(0, verify))

	case FragWrapC:
		return fmt.Sprintf("%s %s", str(0, false),
			lastOp("CHECKSIG", "CHECKSIGVERIFY"))

	case FragWrapD:
		return fmt.Sprintf("DUP IF %s ENDIF", str(0, false))

	case FragWrapV:
		collapse := node.Subs[0].props.canCollapseVerify
		s := str(0, collapse)
		if !collapse {
			s += " VERIFY"
		}
		return s

	case FragWrapJ:
		return fmt.Sprintf("SIZE 0NOTEQUAL IF %s ENDIF", str(0, false))

	case FragWrapN:
		return fmt.Sprintf("%s 0NOTEQUAL", str(0, false))
	}
	return "<unknown>"
}
