// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package miniscript

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcpolicy/internal/expr"
)

// Sugared forms only used in descriptors.
const (
	sugarPk   = "pk"    // pk(key) = c:pk_k(key)
	sugarPkh  = "pkh"   // pkh(key) = c:pk_h(key)
	sugarAndN = "and_n" // and_n(X,Y) = andor(X,Y,0)
	sugarT    = 't'     // t:X = and_v(X,1)
	sugarL    = 'l'     // l:X = or_i(0,X)
	sugarU    = 'u'     // u:X = or_i(X,0)
)

// maxDescriptorDepth bounds the nesting of descriptors accepted by
// ParseDescriptor.
const maxDescriptorDepth = 512

// String returns the canonical miniscript text of the node, using the
// sugared forms wherever they apply.
func (n *Node) String() string {
	var wrappers strings.Builder
	node := n
loop:
	for {
		switch {
		case node.Fragment == FragWrapC &&
			(node.Subs[0].Fragment == FragPkK ||
				node.Subs[0].Fragment == FragPkH):

			break loop

		case node.Fragment.isWrapper():
			wrappers.WriteString(string(node.Fragment))
			node = node.Subs[0]

		case node.Fragment == FragAndV &&
			node.Subs[1].Fragment == FragTrue:

			wrappers.WriteRune(sugarT)
			node = node.Subs[0]

		case node.Fragment == FragOrI &&
			node.Subs[0].Fragment == FragFalse:

			wrappers.WriteRune(sugarL)
			node = node.Subs[1]

		case node.Fragment == FragOrI &&
			node.Subs[1].Fragment == FragFalse:

			wrappers.WriteRune(sugarU)
			node = node.Subs[0]

		default:
			break loop
		}
	}

	body := node.body()
	if wrappers.Len() == 0 {
		return body
	}
	return wrappers.String() + ":" + body
}

// body returns the text of the node without leading wrappers.
func (n *Node) body() string {
	args := func(subs ...*Node) string {
		parts := make([]string, len(subs))
		for i, sub := range subs {
			parts[i] = sub.String()
		}
		return strings.Join(parts, ",")
	}

	switch {
	case n.Fragment == FragWrapC && n.Subs[0].Fragment == FragPkK:
		return fmt.Sprintf("%s(%s)", sugarPk, n.Subs[0].Keys[0])

	case n.Fragment == FragWrapC && n.Subs[0].Fragment == FragPkH:
		return fmt.Sprintf("%s(%s)", sugarPkh, n.Subs[0].Keys[0])

	case n.Fragment == FragFalse, n.Fragment == FragTrue:
		return string(n.Fragment)

	case n.Fragment == FragPkK, n.Fragment == FragPkH:
		return fmt.Sprintf("%s(%s)", n.Fragment, n.Keys[0])

	case n.Fragment == FragOlder, n.Fragment == FragAfter:
		return fmt.Sprintf("%s(%d)", n.Fragment, n.K)

	case n.Fragment.isHash():
		return fmt.Sprintf("%s(%x)", n.Fragment, n.Hash)

	case n.Fragment == FragMulti:
		keys := make([]string, len(n.Keys))
		for i, k := range n.Keys {
			keys[i] = k.String()
		}
		return fmt.Sprintf("multi(%d,%s)", n.K, strings.Join(keys, ","))

	case n.Fragment == FragThresh:
		return fmt.Sprintf("thresh(%d,%s)", n.K, args(n.Subs...))

	case n.Fragment == FragAndOr && n.Subs[2].Fragment == FragFalse:
		return fmt.Sprintf("%s(%s)", sugarAndN, args(n.Subs[:2]...))
	}

	return fmt.Sprintf("%s(%s)", n.Fragment, args(n.Subs...))
}

// String returns the checksummed descriptor of the tree, e.g.
// wsh(pk(A))#checksum.
func (t *Tree) String() string {
	desc := fmt.Sprintf("%s(%s)", t.Context, t.Root)

	// Descriptors of valid trees only use the checksum character set.
	sum, _ := DescriptorChecksum(desc)
	return desc + "#" + sum
}

func descError(format string, args ...interface{}) error {
	return scriptError(ErrDescriptorParse, fmt.Sprintf(format, args...))
}

// ParseDescriptor parses a wsh(...) or sh(...) descriptor. The checksum is
// verified if present. Keys are written as NAME, as a hex encoded compressed
// public key or as [NAME]HEX. Nodes go through the same checks as when they
// are created by the New* constructors, so a descriptor produced by
// Tree.String parses back into an identical tree.
func ParseDescriptor(desc string) (*Tree, error) {
	if i := strings.LastIndexByte(desc, '#'); i >= 0 {
		body, sum := desc[:i], desc[i+1:]
		want, err := DescriptorChecksum(body)
		if err != nil {
			return nil, err
		}
		if sum != want {
			return nil, descError("invalid descriptor checksum "+
				"%q, expected %q", sum, want)
		}
		desc = body
	}

	tree, err := expr.Parse(desc, maxDescriptorDepth)
	if err != nil {
		return nil, descError("%v", err)
	}

	var ctx Context
	switch tree.Name {
	case "wsh":
		ctx = ContextP2WSH
	case "sh":
		ctx = ContextP2SH
	default:
		return nil, descError("unsupported descriptor %q, expected "+
			"wsh or sh", tree.Name)
	}
	if len(tree.Args) != 1 {
		return nil, descError("%s expects 1 argument, got %d",
			tree.Name, len(tree.Args))
	}

	root, err := fromTree(tree.Args[0])
	if err != nil {
		return nil, invalidDescriptor(err)
	}
	parsed, err := NewTree(ctx, root)
	if err != nil {
		return nil, invalidDescriptor(err)
	}
	return parsed, nil
}

// invalidDescriptor reports err as ErrDescriptorParse, keeping the code of
// the underlying check in the description.
func invalidDescriptor(err error) error {
	var e Error
	if !errors.As(err, &e) || e.ErrorCode == ErrDescriptorParse {
		return err
	}
	return descError("invalid miniscript (%v): %s", e.ErrorCode,
		e.Description)
}

// ParseMiniscript parses a bare miniscript expression such as
// and_v(v:pk(A),older(144)) into a node.
func ParseMiniscript(text string) (*Node, error) {
	tree, err := expr.Parse(text, maxDescriptorDepth)
	if err != nil {
		return nil, descError("%v", err)
	}
	return fromTree(tree)
}

// fromTree builds a node from a parsed expression. Wrappers before the colon
// are applied right to left, e.g. `dv:older(144)` is d(v(older(144))).
func fromTree(t *expr.Tree) (*Node, error) {
	var wrappers, identifier string
	parts := strings.Split(t.Name, ":")
	switch len(parts) {
	case 1:
		identifier = parts[0]

	case 2:
		wrappers, identifier = parts[0], parts[1]
		if wrappers == "" {
			return nil, descError("no wrappers found before "+
				"colon before identifier: %s", identifier)
		}
		if identifier == "" {
			return nil, descError("no identifier found after "+
				"colon after wrappers: %s", wrappers)
		}

	default:
		return nil, descError("invalid number of colons in token: %s",
			t.Name)
	}

	node, err := fromIdentifier(identifier, t.Args)
	if err != nil {
		return nil, err
	}

	w := []rune(wrappers)
	for i := len(w) - 1; i >= 0; i-- {
		switch w[i] {
		case sugarT:
			node, err = NewCombinator(FragAndV, node, NewConst(true))
		case sugarL:
			node, err = NewCombinator(
				FragOrI, NewConst(false), node,
			)
		case sugarU:
			node, err = NewCombinator(
				FragOrI, node, NewConst(false),
			)
		default:
			node, err = NewWrapper(Fragment(w[i]), node)
		}
		if err != nil {
			return nil, err
		}
	}
	return node, nil
}

// leafArgs checks that all arguments of a key, hash or number taking
// fragment are plain tokens.
func leafArgs(name string, args []*expr.Tree) ([]string, error) {
	strs := make([]string, len(args))
	for i, arg := range args {
		if !arg.IsLeaf() {
			return nil, descError("argument of %s must not "+
				"contain subexpressions", name)
		}
		strs[i] = arg.Name
	}
	return strs, nil
}

func fromIdentifier(name string, args []*expr.Tree) (*Node, error) {
	expectArgs := func(num int) error {
		if len(args) != num {
			return descError("%s expects %d arguments, got %d",
				name, num, len(args))
		}
		return nil
	}
	subs := func() ([]*Node, error) {
		nodes := make([]*Node, len(args))
		for i, arg := range args {
			node, err := fromTree(arg)
			if err != nil {
				return nil, err
			}
			nodes[i] = node
		}
		return nodes, nil
	}

	switch Fragment(name) {
	case FragFalse, FragTrue:
		if err := expectArgs(0); err != nil {
			return nil, err
		}
		return NewConst(name == string(FragTrue)), nil

	case FragPkK, FragPkH:
		key, err := keyArg(name, args)
		if err != nil {
			return nil, err
		}
		return NewKey(Fragment(name), key)

	case FragOlder, FragAfter:
		if err := expectArgs(1); err != nil {
			return nil, err
		}
		strs, err := leafArgs(name, args)
		if err != nil {
			return nil, err
		}
		n, err := strconv.ParseUint(strs[0], 10, 32)
		if err != nil {
			return nil, descError("%s(k) => k must be an unsigned "+
				"integer, but got: %s", name, strs[0])
		}
		return NewTimelock(Fragment(name), uint32(n))

	case FragSha256, FragHash256, FragRipemd160, FragHash160:
		if err := expectArgs(1); err != nil {
			return nil, err
		}
		strs, err := leafArgs(name, args)
		if err != nil {
			return nil, err
		}
		digest, err := hex.DecodeString(strs[0])
		if err != nil {
			return nil, descError("%s digest is not hex: %v", name,
				err)
		}
		return NewHashLock(Fragment(name), digest)

	case FragMulti:
		if len(args) < 2 {
			return nil, descError("multi must have at least two " +
				"arguments")
		}
		k, err := numArg(name, args[0])
		if err != nil {
			return nil, err
		}
		keys := make([]Key, len(args)-1)
		for i, arg := range args[1:] {
			keys[i], err = keyArg(name, []*expr.Tree{arg})
			if err != nil {
				return nil, err
			}
		}
		return NewMulti(k, keys)

	case FragThresh:
		if len(args) < 2 {
			return nil, descError("thresh must have at least two " +
				"arguments")
		}
		k, err := numArg(name, args[0])
		if err != nil {
			return nil, err
		}
		args = args[1:]
		nodes, err := subs()
		if err != nil {
			return nil, err
		}
		return NewThresh(k, nodes)

	case FragAndOr, FragAndV, FragAndB, FragOrB, FragOrC, FragOrD,
		FragOrI:

		nodes, err := subs()
		if err != nil {
			return nil, err
		}
		return NewCombinator(Fragment(name), nodes...)
	}

	switch name {
	case sugarPk, sugarPkh:
		frag := FragPkK
		if name == sugarPkh {
			frag = FragPkH
		}
		key, err := keyArg(name, args)
		if err != nil {
			return nil, err
		}
		inner, err := NewKey(frag, key)
		if err != nil {
			return nil, err
		}
		return NewWrapper(FragWrapC, inner)

	case sugarAndN:
		if err := expectArgs(2); err != nil {
			return nil, err
		}
		nodes, err := subs()
		if err != nil {
			return nil, err
		}
		return NewCombinator(
			FragAndOr, nodes[0], nodes[1], NewConst(false),
		)
	}

	return nil, descError("unrecognized identifier: %s", name)
}

func numArg(name string, arg *expr.Tree) (uint32, error) {
	if !arg.IsLeaf() {
		return 0, descError("argument of %s must not contain "+
			"subexpressions", name)
	}
	k, err := strconv.ParseUint(arg.Name, 10, 32)
	if err != nil {
		return 0, descError("%s(k, ...) => k must be an integer, but "+
			"got: %s", name, arg.Name)
	}
	return uint32(k), nil
}

// keyArg parses the single key argument of name.
func keyArg(name string, args []*expr.Tree) (Key, error) {
	if len(args) != 1 {
		return Key{}, descError("%s expects 1 argument, got %d", name,
			len(args))
	}
	strs, err := leafArgs(name, args)
	if err != nil {
		return Key{}, err
	}
	return ParseKey(strs[0])
}

// ParseKey parses a key expression: NAME, HEX or [NAME]HEX. HEX must be a
// valid compressed public key. A bare HEX key is named after itself.
func ParseKey(s string) (Key, error) {
	name, keyHex := s, ""
	switch {
	case strings.HasPrefix(s, "["):
		end := strings.IndexByte(s, ']')
		if end < 0 {
			return Key{}, descError("unterminated key origin in "+
				"%q", s)
		}
		name, keyHex = s[1:end], s[end+1:]
		if name == "" || keyHex == "" {
			return Key{}, descError("invalid key expression %q",
				s)
		}

	case len(s) == 2*pubKeyLen:
		if _, err := hex.DecodeString(s); err == nil {
			keyHex = s
		}
	}

	if keyHex == "" {
		if !validKeyName(name) {
			return Key{}, descError("invalid key name %q", name)
		}
		return Key{Name: name}, nil
	}

	raw, err := hex.DecodeString(keyHex)
	if err != nil || len(raw) != pubKeyLen {
		return Key{}, descError("invalid public key %q", keyHex)
	}
	if _, err := btcec.ParsePubKey(raw); err != nil {
		return Key{}, descError("invalid public key %q: %v", keyHex,
			err)
	}
	return Key{Name: name, PubKey: raw}, nil
}

func validKeyName(name string) bool {
	if name == "" {
		return false
	}
	for _, c := range name {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z',
			c >= '0' && c <= '9', c == '_':

		default:
			return false
		}
	}
	return true
}

const (
	// checksumInputCharset is the character set of descriptors. The
	// position of a character encodes its checksum symbol.
	checksumInputCharset = "0123456789()[],'/*abcdefgh@:$%{}" +
		"IJKLMNOPQRSTUVWXYZ&+-.;<=>?!^_|~" +
		"ijklmnopqrstuvwxyzABCDEFGH`#\"\\ "

	// checksumCharset is the bech32 alphabet the checksum is written in.
	checksumCharset = "qpzry9x8gf2tvdw0s3jn54khce6mua7l"

	// checksumLen is the number of checksum characters.
	checksumLen = 8
)

// errChecksumCharset is returned for descriptors with characters outside of
// the descriptor character set.
var errChecksumCharset = errors.New("invalid character in descriptor")

func polyMod(c uint64, val int) uint64 {
	c0 := c >> 35
	c = ((c & 0x7ffffffff) << 5) ^ uint64(val)
	if c0&1 != 0 {
		c ^= 0xf5dee51989
	}
	if c0&2 != 0 {
		c ^= 0xa9fdca3312
	}
	if c0&4 != 0 {
		c ^= 0x1bab10e32d
	}
	if c0&8 != 0 {
		c ^= 0x3706b1677a
	}
	if c0&16 != 0 {
		c ^= 0x644d626ffd
	}
	return c
}

// DescriptorChecksum computes the 8 character checksum of a descriptor
// without its #checksum suffix.
func DescriptorChecksum(desc string) (string, error) {
	c := uint64(1)
	cls, clsCount := 0, 0
	for _, ch := range desc {
		pos := strings.IndexRune(checksumInputCharset, ch)
		if pos < 0 {
			return "", descError("%v: %q", errChecksumCharset, ch)
		}

		// Emit a symbol for the position inside the group, for every
		// character.
		c = polyMod(c, pos&31)

		// Accumulate the group numbers.
		cls = cls*3 + (pos >> 5)
		clsCount++
		if clsCount == 3 {
			// Emit an extra symbol representing the group numbers,
			// for every 3 characters.
			c = polyMod(c, cls)
			cls, clsCount = 0, 0
		}
	}
	if clsCount > 0 {
		c = polyMod(c, cls)
	}
	for j := 0; j < checksumLen; j++ {
		c = polyMod(c, 0)
	}
	c ^= 1

	sum := make([]byte, checksumLen)
	for j := 0; j < checksumLen; j++ {
		sum[j] = checksumCharset[(c>>(5*(7-j)))&31]
	}
	return string(sum), nil
}
