// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package miniscript

import (
	"encoding/hex"
	"fmt"
	"io"
	"strings"
)

const (
	// pubKeyLen is the length of a public key inside P2WSH and P2SH, which
	// are 33 byte compressed public keys.
	pubKeyLen = 33

	// pubKeyDataPushLen is the length of a public key data push, which is
	// 1+33 (1 byte for the push opcode of 33 bytes).
	pubKeyDataPushLen = 34

	// maxOpsPerScript is the maximum number of non-push operations per
	// script.
	maxOpsPerScript = 201

	// MultisigMaxKeys is the maximum number of keys in a multisig.
	MultisigMaxKeys = 20

	// maxLockTime is the exclusive upper bound of older/after values.
	maxLockTime = 1 << 31
)

// Fragment identifies the script encoding of a Node.
type Fragment string

// All fragment identifiers. Sugared forms such as pk(key) and t:X only exist
// in the textual descriptor and are expanded on parsing.
const (
	FragFalse     Fragment = "0"         // 0
	FragTrue      Fragment = "1"         // 1
	FragPkK       Fragment = "pk_k"      // pk_k(key)
	FragPkH       Fragment = "pk_h"      // pk_h(key)
	FragSha256    Fragment = "sha256"    // sha256(h)
	FragRipemd160 Fragment = "ripemd160" // ripemd160(h)
	FragHash256   Fragment = "hash256"   // hash256(h)
	FragHash160   Fragment = "hash160"   // hash160(h)
	FragOlder     Fragment = "older"     // older(n)
	FragAfter     Fragment = "after"     // after(n)
	FragAndOr     Fragment = "andor"     // andor(X,Y,Z)
	FragAndV      Fragment = "and_v"     // and_v(X,Y)
	FragAndB      Fragment = "and_b"     // and_b(X,Y)
	FragOrB       Fragment = "or_b"      // or_b(X,Z)
	FragOrC       Fragment = "or_c"      // or_c(X,Z)
	FragOrD       Fragment = "or_d"      // or_d(X,Z)
	FragOrI       Fragment = "or_i"      // or_i(X,Z)
	FragThresh    Fragment = "thresh"    // thresh(k,X1,...,Xn)
	FragMulti     Fragment = "multi"     // multi(k,key1,...,keyn)
	FragWrapA     Fragment = "a"         // a:X
	FragWrapS     Fragment = "s"         // s:X
	FragWrapC     Fragment = "c"         // c:X
	FragWrapD     Fragment = "d"         // d:X
	FragWrapV     Fragment = "v"         // v:X
	FragWrapJ     Fragment = "j"         // j:X
	FragWrapN     Fragment = "n"         // n:X
)

// isWrapper reports whether f is one of the single letter wrappers.
func (f Fragment) isWrapper() bool {
	return len(f) == 1 && strings.Contains("ascdvjn", string(f))
}

// isHash reports whether f is one of the hash lock fragments.
func (f Fragment) isHash() bool {
	switch f {
	case FragSha256, FragRipemd160, FragHash256, FragHash160:
		return true
	}
	return false
}

// BasicType is the miniscript basic type of a node.
type BasicType string

// The four basic types.
const (
	TypeB BasicType = "B"
	TypeV BasicType = "V"
	TypeK BasicType = "K"
	TypeW BasicType = "W"
)

type properties struct {
	// Basic type properties.
	z, o, n, d, u bool

	// Malleability properties.
	// If `m`, a non-malleable satisfaction is guaranteed to exist.
	// The purpose of s/f/e is only to compute `m` and can be disregarded
	// afterward.
	m, s, f, e bool

	// canCollapseVerify is set if the rightmost script byte produced by
	// the node is OP_EQUAL, OP_CHECKSIG or OP_CHECKMULTISIG, which a `v`
	// ancestor turns into its VERIFY version instead of appending
	// OP_VERIFY.
	canCollapseVerify bool
}

func (p properties) String() string {
	s := strings.Builder{}
	for _, prop := range []struct {
		set bool
		r   rune
	}{
		{p.z, 'z'}, {p.o, 'o'}, {p.n, 'n'}, {p.d, 'd'}, {p.u, 'u'},
		{p.m, 'm'}, {p.s, 's'}, {p.f, 'f'}, {p.e, 'e'},
	} {
		if prop.set {
			s.WriteRune(prop.r)
		}
	}
	return s.String()
}

// Key is a public key referenced by a script. Name is the identifier the key
// has in the policy; PubKey is the 33 byte compressed key, or nil while the
// key is unresolved.
type Key struct {
	Name   string
	PubKey []byte
}

// String returns the key expression used in descriptors: the hex key when it
// is its own name, [NAME]HEX when both are known and NAME otherwise.
func (k Key) String() string {
	if k.PubKey == nil {
		return k.Name
	}
	h := hex.EncodeToString(k.PubKey)
	if k.Name == "" || k.Name == h {
		return h
	}
	return fmt.Sprintf("[%s]%s", k.Name, h)
}

// Node is one fragment of a miniscript together with its type, script size,
// op count and witness size bounds. Nodes are created with the New*
// constructors, which type check them, and are never modified afterwards.
type Node struct {
	Fragment Fragment

	// K is the threshold of thresh and multi and the lock value of older
	// and after.
	K uint32

	// Keys holds the key of pk_k and pk_h and the keys of multi.
	Keys []Key

	// Hash is the digest of the hash lock fragments.
	Hash []byte

	// Subs are the sub-expressions of combinators and wrappers.
	Subs []*Node

	basicType BasicType
	props     properties
	scriptLen int
	opCount   ops
	witSize   witSize
	locks     timelocks
}

// newNode runs the checks and computations every node goes through. The
// children have already been through it.
func newNode(node *Node) (*Node, error) {
	steps := []func(*Node) error{
		argCheck,
		typeCheck,
		canCollapseVerify,
		malleabilityCheck,
		computeScriptLen,
		computeOpCount,
		computeWitSize,
		computeTimelocks,
	}
	for _, step := range steps {
		if err := step(node); err != nil {
			return nil, err
		}
	}
	return node, nil
}

// NewConst returns the fragment 1 for true and 0 for false.
func NewConst(v bool) *Node {
	frag := FragFalse
	if v {
		frag = FragTrue
	}

	// Constants cannot fail any check.
	node, _ := newNode(&Node{Fragment: frag})
	return node
}

// NewKey returns a pk_k or pk_h node for the key.
func NewKey(frag Fragment, key Key) (*Node, error) {
	if frag != FragPkK && frag != FragPkH {
		return nil, typeError("%s is not a key fragment", frag)
	}
	return newNode(&Node{Fragment: frag, Keys: []Key{key}})
}

// NewTimelock returns an older or after node.
func NewTimelock(frag Fragment, value uint32) (*Node, error) {
	if frag != FragOlder && frag != FragAfter {
		return nil, typeError("%s is not a timelock fragment", frag)
	}
	return newNode(&Node{Fragment: frag, K: value})
}

// NewHashLock returns a sha256, hash256, ripemd160 or hash160 node.
func NewHashLock(frag Fragment, digest []byte) (*Node, error) {
	if !frag.isHash() {
		return nil, typeError("%s is not a hash fragment", frag)
	}
	return newNode(&Node{Fragment: frag, Hash: digest})
}

// NewMulti returns a k-of-n CHECKMULTISIG node.
func NewMulti(k uint32, keys []Key) (*Node, error) {
	return newNode(&Node{Fragment: FragMulti, K: k, Keys: keys})
}

// NewThresh returns a thresh node requiring k of subs.
func NewThresh(k uint32, subs []*Node) (*Node, error) {
	return newNode(&Node{Fragment: FragThresh, K: k, Subs: subs})
}

// NewCombinator returns an and_*, or_* or andor node over subs.
func NewCombinator(frag Fragment, subs ...*Node) (*Node, error) {
	switch frag {
	case FragAndOr, FragAndV, FragAndB, FragOrB, FragOrC, FragOrD,
		FragOrI:

	default:
		return nil, typeError("%s is not a combinator", frag)
	}
	return newNode(&Node{Fragment: frag, Subs: subs})
}

// NewWrapper applies the single letter wrapper frag to x.
func NewWrapper(frag Fragment, x *Node) (*Node, error) {
	if !frag.isWrapper() {
		return nil, typeError("unknown wrapper: %s", frag)
	}
	return newNode(&Node{Fragment: frag, Subs: []*Node{x}})
}

// Type returns the basic type followed by all type properties, e.g. "Bondu".
func (n *Node) Type() string {
	return fmt.Sprintf("%s%s", n.basicType, n.props)
}

// BasicType returns the basic type of the node.
func (n *Node) BasicType() BasicType {
	return n.basicType
}

// Is reports whether the node has the basic type and all properties named in
// typ, e.g. n.Is("Bdu"). The basic type letter may be omitted.
func (n *Node) Is(typ string) bool {
	have := n.Type()
	for i, r := range typ {
		if i == 0 && strings.ContainsRune("BVKW", r) {
			if BasicType(r) != n.basicType {
				return false
			}
			continue
		}
		if !strings.ContainsRune(have[1:], r) {
			return false
		}
	}
	return true
}

// NonMalleable reports whether a non-malleable satisfaction is guaranteed to
// exist.
func (n *Node) NonMalleable() bool {
	return n.props.m
}

// CanDissatisfy reports whether the node has a canonical dissatisfaction.
func (n *Node) CanDissatisfy() bool {
	return n.props.d
}

// CanCollapseVerify reports whether a `v` wrapper around the node merges into
// the last opcode.
func (n *Node) CanCollapseVerify() bool {
	return n.props.canCollapseVerify
}

// ScriptLen returns the length of the script of the node in bytes.
func (n *Node) ScriptLen() int {
	return n.scriptLen
}

// MaxOpCount returns the maximum number of ops needed to satisfy the node in
// a non-malleable way, counting the keys of executed CHECKMULTISIGs.
func (n *Node) MaxOpCount() int {
	return n.opCount.count + n.opCount.sat.value
}

// SatSize returns the maximum size of a satisfying witness in bytes, with
// every stack element counted with its length prefix.
func (n *Node) SatSize() (int, bool) {
	return n.witSize.sat.value, n.witSize.sat.valid
}

// DsatSize returns the maximum size of the canonical dissatisfaction in bytes.
// The second return value is false if there is none.
func (n *Node) DsatSize() (int, bool) {
	return n.witSize.dsat.value, n.witSize.dsat.valid
}

// walk calls f for n and all of its descendants, parents first.
func (n *Node) walk(f func(*Node)) {
	f(n)
	for _, sub := range n.Subs {
		sub.walk(f)
	}
}

func (n *Node) drawTree(w io.Writer, indent string) {
	label := n.label()
	_, _ = fmt.Fprint(w, label)
	typ := n.Type()
	if n.props.canCollapseVerify {
		typ += "v"
	}
	_, _ = fmt.Fprintf(w, " [%s]", typ)
	_, _ = fmt.Fprintln(w)
	for i, sub := range n.Subs {
		mark := ""
		delim := ""
		if i == len(n.Subs)-1 {
			mark = "└──"
		} else {
			mark = "├──"
			delim = "|"
		}
		_, _ = fmt.Fprintf(w, "%s%s", indent, mark)
		padLen := len([]rune(sub.label())) + len([]rune(mark)) -
			1 - len(delim)
		if padLen < 0 {
			padLen = 0
		}
		padding := strings.Repeat(" ", padLen)
		sub.drawTree(w, indent+delim+padding)
	}
}

// label is the fragment with its non-node arguments, used by DrawTree.
func (n *Node) label() string {
	switch {
	case n.Fragment == FragPkK, n.Fragment == FragPkH:
		return fmt.Sprintf("%s(%s)", n.Fragment, n.Keys[0].Name)

	case n.Fragment == FragOlder, n.Fragment == FragAfter:
		return fmt.Sprintf("%s(%d)", n.Fragment, n.K)

	case n.Fragment.isHash():
		return fmt.Sprintf("%s(%x)", n.Fragment, n.Hash)

	case n.Fragment == FragMulti:
		names := make([]string, len(n.Keys))
		for i, k := range n.Keys {
			names[i] = k.Name
		}
		return fmt.Sprintf("multi(%d,%s)", n.K,
			strings.Join(names, ","))

	case n.Fragment == FragThresh:
		return fmt.Sprintf("thresh(%d)", n.K)
	}
	return string(n.Fragment)
}

// DrawTree returns a multi-line rendering of the node and its type
// annotations for debugging.
func (n *Node) DrawTree() string {
	var b strings.Builder
	n.drawTree(&b, "")
	return b.String()
}

// argCheck checks that each node has the right number of sub-expressions,
// keys and numeric arguments for its fragment.
func argCheck(node *Node) error {
	expectSubs := func(num int) error {
		if len(node.Subs) != num {
			return typeError("%s expects %d arguments, got %d",
				node.Fragment, num, len(node.Subs))
		}
		for _, sub := range node.Subs {
			if sub == nil {
				return typeError("%s with a missing argument",
					node.Fragment)
			}
		}
		return nil
	}
	checkKey := func(key Key) error {
		if key.Name == "" && key.PubKey == nil {
			return typeError("%s with an empty key", node.Fragment)
		}
		if key.PubKey != nil && len(key.PubKey) != pubKeyLen {
			return typeError("pubkey argument of %s expected to "+
				"be of size %d, but got %d", node.Fragment,
				pubKeyLen, len(key.PubKey))
		}
		return nil
	}

	switch node.Fragment {
	case FragFalse, FragTrue:
		return expectSubs(0)

	case FragPkK, FragPkH:
		if len(node.Keys) != 1 {
			return typeError("%s expects 1 key, got %d",
				node.Fragment, len(node.Keys))
		}
		if err := checkKey(node.Keys[0]); err != nil {
			return err
		}
		return expectSubs(0)

	case FragOlder, FragAfter:
		if node.K < 1 || node.K >= maxLockTime {
			return typeError("%s(n) -> n must 1 ≤ n < 2^31, but "+
				"got: %d", node.Fragment, node.K)
		}
		return expectSubs(0)

	case FragSha256, FragHash256, FragRipemd160, FragHash160:
		hashLen := 32
		if node.Fragment == FragRipemd160 ||
			node.Fragment == FragHash160 {

			hashLen = 20
		}
		if len(node.Hash) != hashLen {
			return typeError("%s len must be %d, got %d",
				node.Fragment, hashLen, len(node.Hash))
		}
		return expectSubs(0)

	case FragAndOr:
		return expectSubs(3)

	case FragAndV, FragAndB, FragOrB, FragOrC, FragOrD, FragOrI:
		return expectSubs(2)

	case FragThresh:
		if len(node.Subs) == 0 {
			return typeError("thresh must have at least one " +
				"sub-expression")
		}
		if node.K < 1 || int(node.K) > len(node.Subs) {
			return typeError("thresh(k) -> k must 1 ≤ k ≤ n, but "+
				"got: %d", node.K)
		}
		return expectSubs(len(node.Subs))

	case FragMulti:
		if len(node.Keys) == 0 {
			return typeError("multi must have at least one key")
		}
		if len(node.Keys) > MultisigMaxKeys {
			return typeError("number of multisig keys cannot "+
				"exceed %d", MultisigMaxKeys)
		}
		if node.K < 1 || int(node.K) > len(node.Keys) {
			return typeError("multi(k) -> k must 1 ≤ k ≤ n, but "+
				"got: %d", node.K)
		}
		for _, key := range node.Keys {
			if err := checkKey(key); err != nil {
				return err
			}
		}
		return expectSubs(0)

	case FragWrapA, FragWrapS, FragWrapC, FragWrapD, FragWrapV,
		FragWrapJ, FragWrapN:

		return expectSubs(1)
	}

	return typeError("unrecognized identifier: %s", node.Fragment)
}

// expectBasicType is a helper function to check that a sub-expression has a
// specific type.
func expectBasicType(parent, sub *Node, typ BasicType) error {
	if sub.basicType != typ {
		return typeError("argument `%s` of `%s` expected to have "+
			"type %s, but is type %s", sub.Fragment,
			parent.Fragment, typ, sub.basicType)
	}
	return nil
}

func wrongProps(parent, sub *Node) error {
	return typeError("wrong properties on `%s` [%s], the argument of "+
		"`%s`", sub.Fragment, sub.Type(), parent.Fragment)
}

func typeCheck(node *Node) error {
	switch node.Fragment {
	case FragFalse:
		node.basicType = TypeB
		node.props.z = true
		node.props.u = true
		node.props.d = true

	case FragTrue:
		node.basicType = TypeB
		node.props.z = true
		node.props.u = true

	case FragPkK:
		node.basicType = TypeK
		node.props.o = true
		node.props.n = true
		node.props.d = true
		node.props.u = true

	case FragPkH:
		node.basicType = TypeK
		node.props.n = true
		node.props.d = true
		node.props.u = true

	case FragOlder, FragAfter:
		node.basicType = TypeB
		node.props.z = true

	case FragSha256, FragRipemd160, FragHash256, FragHash160:
		node.basicType = TypeB
		node.props.o = true
		node.props.n = true
		node.props.d = true
		node.props.u = true

	case FragAndOr:
		x, y, z := node.Subs[0], node.Subs[1], node.Subs[2]
		if err := expectBasicType(node, x, TypeB); err != nil {
			return err
		}
		if !x.props.d || !x.props.u {
			return wrongProps(node, x)
		}
		if y.basicType != TypeB && y.basicType != TypeK &&
			y.basicType != TypeV {

			return typeError("in `%s`, the second argument type "+
				"is not B, K or V, but: %s", node.Fragment,
				y.basicType)
		}
		if err := expectBasicType(node, z, y.basicType); err != nil {
			return err
		}
		node.basicType = y.basicType
		node.props.z = x.props.z && y.props.z && z.props.z
		node.props.o = (x.props.z && y.props.o && z.props.o) ||
			(x.props.o && y.props.z && z.props.z)
		node.props.u = y.props.u && z.props.u
		node.props.d = z.props.d

	case FragAndV:
		x, y := node.Subs[0], node.Subs[1]
		if err := expectBasicType(node, x, TypeV); err != nil {
			return err
		}
		if y.basicType != TypeB && y.basicType != TypeK &&
			y.basicType != TypeV {

			return typeError("in `%s`, the second argument type "+
				"is not B, K or V, but: %s", node.Fragment,
				y.basicType)
		}
		node.basicType = y.basicType
		node.props.z = x.props.z && y.props.z
		node.props.o = (x.props.z && y.props.o) ||
			(y.props.z && x.props.o)
		node.props.n = x.props.n || (x.props.z && y.props.n)
		node.props.u = y.props.u

	case FragAndB:
		x, y := node.Subs[0], node.Subs[1]
		if err := expectBasicType(node, x, TypeB); err != nil {
			return err
		}
		if err := expectBasicType(node, y, TypeW); err != nil {
			return err
		}
		node.basicType = TypeB
		node.props.z = x.props.z && y.props.z
		node.props.o = (x.props.z && y.props.o) ||
			(y.props.z && x.props.o)
		node.props.n = x.props.n || (x.props.z && y.props.n)
		node.props.d = x.props.d && y.props.d
		node.props.u = true

	case FragOrB:
		x, z := node.Subs[0], node.Subs[1]
		if err := expectBasicType(node, x, TypeB); err != nil {
			return err
		}
		if !x.props.d {
			return wrongProps(node, x)
		}
		if err := expectBasicType(node, z, TypeW); err != nil {
			return err
		}
		if !z.props.d {
			return wrongProps(node, z)
		}
		node.basicType = TypeB
		node.props.z = x.props.z && z.props.z
		node.props.o = (x.props.z && z.props.o) ||
			(z.props.z && x.props.o)
		node.props.d = true
		node.props.u = true

	case FragOrC:
		x, z := node.Subs[0], node.Subs[1]
		if err := expectBasicType(node, x, TypeB); err != nil {
			return err
		}
		if !x.props.d || !x.props.u {
			return wrongProps(node, x)
		}
		if err := expectBasicType(node, z, TypeV); err != nil {
			return err
		}
		node.basicType = TypeV
		node.props.z = x.props.z && z.props.z
		node.props.o = x.props.o && z.props.z

	case FragOrD:
		x, z := node.Subs[0], node.Subs[1]
		if err := expectBasicType(node, x, TypeB); err != nil {
			return err
		}
		if !x.props.d || !x.props.u {
			return wrongProps(node, x)
		}
		if err := expectBasicType(node, z, TypeB); err != nil {
			return err
		}
		node.basicType = TypeB
		node.props.z = x.props.z && z.props.z
		node.props.o = x.props.o && z.props.z
		node.props.d = z.props.d
		node.props.u = z.props.u

	case FragOrI:
		x, z := node.Subs[0], node.Subs[1]
		if x.basicType != TypeB && x.basicType != TypeK &&
			x.basicType != TypeV {

			return typeError("or_i: wrong type of first " +
				"argument")
		}
		if z.basicType != x.basicType {
			return typeError("or_i: wrong type of second " +
				"argument")
		}
		node.basicType = x.basicType
		node.props.o = x.props.z && z.props.z
		node.props.u = x.props.u && z.props.u
		node.props.d = x.props.d || z.props.d

	case FragThresh:
		// X1 is Bdu; others are Wdu.
		for i, sub := range node.Subs {
			typ := TypeW
			if i == 0 {
				typ = TypeB
			}
			if err := expectBasicType(node, sub, typ); err != nil {
				return err
			}
			if !sub.props.d || !sub.props.u {
				return wrongProps(node, sub)
			}
		}

		// z if all are z, o if all are z except one which is o.
		numZ, numO := 0, 0
		for _, sub := range node.Subs {
			switch {
			case sub.props.z:
				numZ++
			case sub.props.o:
				numO++
			}
		}
		node.basicType = TypeB
		node.props.z = numZ == len(node.Subs)
		node.props.o = numO == 1 && numZ == len(node.Subs)-1
		node.props.d = true
		node.props.u = true

	case FragMulti:
		node.basicType = TypeB
		node.props.n = true
		node.props.d = true
		node.props.u = true

	case FragWrapA:
		x := node.Subs[0]
		if err := expectBasicType(node, x, TypeB); err != nil {
			return err
		}
		node.basicType = TypeW
		node.props.d = x.props.d
		node.props.u = x.props.u

	case FragWrapS:
		x := node.Subs[0]
		if err := expectBasicType(node, x, TypeB); err != nil {
			return err
		}
		if !x.props.o {
			return wrongProps(node, x)
		}
		node.basicType = TypeW
		node.props.d = x.props.d
		node.props.u = x.props.u

	case FragWrapC:
		x := node.Subs[0]
		if err := expectBasicType(node, x, TypeK); err != nil {
			return err
		}
		node.basicType = TypeB
		node.props.o = x.props.o
		node.props.n = x.props.n
		node.props.d = x.props.d
		node.props.u = true

	case FragWrapD:
		x := node.Subs[0]
		if err := expectBasicType(node, x, TypeV); err != nil {
			return err
		}
		if !x.props.z {
			return wrongProps(node, x)
		}
		node.basicType = TypeB
		node.props.o = true
		node.props.n = true
		node.props.d = true

	case FragWrapV:
		x := node.Subs[0]
		if err := expectBasicType(node, x, TypeB); err != nil {
			return err
		}
		node.basicType = TypeV
		node.props.z = x.props.z
		node.props.o = x.props.o
		node.props.n = x.props.n

	case FragWrapJ:
		x := node.Subs[0]
		if err := expectBasicType(node, x, TypeB); err != nil {
			return err
		}
		if !x.props.n {
			return wrongProps(node, x)
		}
		node.basicType = TypeB
		node.props.o = x.props.o
		node.props.n = true
		node.props.d = true
		node.props.u = x.props.u

	case FragWrapN:
		x := node.Subs[0]
		if err := expectBasicType(node, x, TypeB); err != nil {
			return err
		}
		node.basicType = TypeB
		node.props.z = x.props.z
		node.props.o = x.props.o
		node.props.n = x.props.n
		node.props.d = x.props.d
		node.props.u = true

	default:
		return typeError("unknown identifier: %s", node.Fragment)
	}
	return nil
}

func canCollapseVerify(node *Node) error {
	switch node.Fragment {
	case FragSha256, FragRipemd160, FragHash256, FragHash160, FragThresh,
		FragMulti, FragWrapC:

		node.props.canCollapseVerify = true

	case FragAndV:
		node.props.canCollapseVerify = node.Subs[1].props.canCollapseVerify

	case FragWrapS:
		node.props.canCollapseVerify = node.Subs[0].props.canCollapseVerify
	}
	return nil
}

func malleabilityCheck(node *Node) error {
	switch node.Fragment {
	case FragFalse:
		node.props.m = true
		node.props.s = true
		node.props.e = true

	case FragTrue:
		node.props.m = true
		node.props.f = true

	case FragPkK, FragPkH:
		node.props.m = true
		node.props.s = true
		node.props.e = true

	case FragOlder, FragAfter:
		node.props.m = true
		node.props.f = true

	case FragSha256, FragRipemd160, FragHash256, FragHash160:
		node.props.m = true

	case FragAndOr:
		x, y := node.Subs[0].props, node.Subs[1].props
		z := node.Subs[2].props
		node.props.m = x.m && y.m && z.m &&
			(x.e && (x.s || y.s || z.s))
		node.props.s = z.s && (x.s || y.s)
		node.props.f = z.f && (x.s || y.f)
		node.props.e = z.e && (x.s || y.f)

	case FragAndV:
		x, y := node.Subs[0].props, node.Subs[1].props
		node.props.m = x.m && y.m
		node.props.s = x.s || y.s
		node.props.f = x.s || y.f

	case FragAndB:
		x, y := node.Subs[0].props, node.Subs[1].props
		node.props.m = x.m && y.m
		node.props.s = x.s || y.s
		node.props.f = x.f && y.f || x.s && x.f || y.s && y.f
		node.props.e = x.e && y.e && x.s && y.s

	case FragOrB:
		x, z := node.Subs[0].props, node.Subs[1].props
		node.props.m = x.m && z.m && (x.e && z.e && (x.s || z.s))
		node.props.s = x.s && z.s
		node.props.e = true

	case FragOrC:
		x, z := node.Subs[0].props, node.Subs[1].props
		node.props.m = x.m && z.m && (x.e && (x.s || z.s))
		node.props.s = x.s && z.s
		node.props.f = true

	case FragOrD:
		x, z := node.Subs[0].props, node.Subs[1].props
		node.props.m = x.m && z.m && (x.e && (x.s || z.s))
		node.props.s = x.s && z.s
		node.props.f = z.f
		node.props.e = z.e

	case FragOrI:
		x, z := node.Subs[0].props, node.Subs[1].props
		node.props.m = x.m && z.m && (x.s || z.s)
		node.props.s = x.s && z.s
		node.props.f = x.f && z.f
		node.props.e = x.e && z.f || z.e && x.f

	case FragThresh:
		k := int(node.K)
		notSCount := 0
		node.props.m = true
		node.props.e = true
		for _, sub := range node.Subs {
			node.props.m = node.props.m && sub.props.m &&
				sub.props.e
			node.props.e = node.props.e && sub.props.e &&
				sub.props.s
			if !sub.props.s {
				notSCount++
			}
		}
		node.props.m = node.props.m && notSCount <= k
		node.props.s = notSCount <= k-1

	case FragMulti:
		node.props.m = true
		node.props.s = true
		node.props.e = true

	case FragWrapA, FragWrapS, FragWrapN:
		x := node.Subs[0].props
		node.props.m = x.m
		node.props.s = x.s
		node.props.f = x.f
		node.props.e = x.e

	case FragWrapC:
		x := node.Subs[0].props
		node.props.m = x.m
		node.props.s = true
		node.props.f = x.f
		node.props.e = x.e

	case FragWrapD:
		x := node.Subs[0].props
		node.props.m = x.m
		node.props.s = x.s
		node.props.e = true

	case FragWrapV:
		x := node.Subs[0].props
		node.props.m = x.m
		node.props.s = x.s
		node.props.f = true

	case FragWrapJ:
		x := node.Subs[0].props
		node.props.m = x.m
		node.props.s = x.s
		node.props.e = x.f

	default:
		return typeError("unknown identifier: %s", node.Fragment)
	}
	return nil
}

// ApplyKeys returns a copy of the node with the public keys of all unresolved
// key arguments set by lookup. lookup returns nil for names it does not know,
// in which case the name itself must be a hex encoded public key. The same
// public key may not be used twice.
func (n *Node) ApplyKeys(lookup func(name string) ([]byte, error)) (*Node,
	error) {

	return n.applyKeys(lookup, make(map[string]struct{}))
}

func (n *Node) applyKeys(lookup func(string) ([]byte, error),
	seen map[string]struct{}) (*Node, error) {

	c := &Node{Fragment: n.Fragment, K: n.K, Hash: n.Hash}
	if n.Subs != nil {
		c.Subs = make([]*Node, len(n.Subs))
		for i, sub := range n.Subs {
			s, err := sub.applyKeys(lookup, seen)
			if err != nil {
				return nil, err
			}
			c.Subs[i] = s
		}
	}
	if n.Keys != nil {
		c.Keys = make([]Key, len(n.Keys))
		for i, key := range n.Keys {
			var err error
			pub := key.PubKey
			if pub == nil && lookup != nil {
				pub, err = lookup(key.Name)
				if err != nil {
					return nil, err
				}
			}
			if pub == nil {
				// If the key was not a variable, assume it's the
				// key value directly encoded as hex.
				pub, err = hex.DecodeString(key.Name)
				if err != nil || len(pub) != pubKeyLen {
					return nil, unresolved(n, key)
				}
			}

			pubKeyHex := hex.EncodeToString(pub)
			if _, ok := seen[pubKeyHex]; ok {
				return nil, typeError("duplicate key found "+
					"at %s (key=%s, name=%s)", n.Fragment,
					pubKeyHex, key.Name)
			}
			seen[pubKeyHex] = struct{}{}
			c.Keys[i] = Key{Name: key.Name, PubKey: pub}
		}
	}
	return newNode(c)
}

// ApplyKeys returns a copy of the tree with its keys resolved by lookup. See
// Node.ApplyKeys.
func (t *Tree) ApplyKeys(lookup func(name string) ([]byte, error)) (*Tree,
	error) {

	root, err := t.Root.ApplyKeys(lookup)
	if err != nil {
		return nil, err
	}
	return NewTree(t.Context, root)
}
