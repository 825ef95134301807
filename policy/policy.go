// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package policy

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

const (
	// DefaultMaxDepth is the default limit on how deep policy nodes may
	// nest. A single leaf such as pk(A) has depth 1.
	DefaultMaxDepth = 32

	// maxLockTime is the exclusive upper bound for after/older values.
	// Bit 31 of a sequence is the disable flag and CLTV/CSV operands are
	// limited to 4 bytes of script number.
	maxLockTime = 1 << 31
)

// Node is a spending policy expression. The concrete types are *Key, *After,
// *Older, *Hash, *Thresh, *And and *Or. Nodes are immutable after parsing.
type Node interface {
	// String returns the canonical policy text of the node.
	String() string

	node()
}

// Key requires a signature by the public key identified by ID.
type Key struct {
	ID string
}

// After is an absolute timelock: the spending transaction's lock time,
// either a block height or a unix time (see txscript.LockTimeThreshold), must
// have reached LockTime.
type After struct {
	LockTime uint32
}

// Older is a relative timelock on the age of the spent output, encoded as a
// BIP68 sequence value.
type Older struct {
	Sequence uint32
}

// HashFunc names the hash function of a Hash node.
type HashFunc uint8

const (
	// HashSha256 is a single SHA-256.
	HashSha256 HashFunc = iota

	// HashHash256 is a double SHA-256.
	HashHash256

	// HashRipemd160 is a single RIPEMD-160.
	HashRipemd160

	// HashHash160 is RIPEMD-160 of SHA-256.
	HashHash160
)

var hashFuncNames = map[HashFunc]string{
	HashSha256:    "sha256",
	HashHash256:   "hash256",
	HashRipemd160: "ripemd160",
	HashHash160:   "hash160",
}

// String returns the grammar name of the hash function.
func (h HashFunc) String() string {
	if s, ok := hashFuncNames[h]; ok {
		return s
	}
	return fmt.Sprintf("Unknown HashFunc (%d)", uint8(h))
}

// Size returns the digest length of the hash function in bytes.
func (h HashFunc) Size() int {
	switch h {
	case HashRipemd160, HashHash160:
		return 20
	default:
		return 32
	}
}

// Hash requires the preimage of Digest under Func.
type Hash struct {
	Func   HashFunc
	Digest []byte
}

// Thresh requires any K of Subs to be satisfied.
type Thresh struct {
	K    int
	Subs []Node
}

// And requires both X and Y. It is equivalent to Thresh{2, [X, Y]}.
type And struct {
	X, Y Node
}

// Branch is one alternative of an Or, with its relative likelihood.
type Branch struct {
	Weight float64
	Node   Node
}

// Or requires exactly one of its branches. The weights only guide the
// compiler towards encodings that are cheap for the likely branches.
type Or struct {
	Branches []Branch
}

func (*Key) node()    {}
func (*After) node()  {}
func (*Older) node()  {}
func (*Hash) node()   {}
func (*Thresh) node() {}
func (*And) node()    {}
func (*Or) node()     {}

// String returns the policy text of the node.
func (k *Key) String() string {
	return fmt.Sprintf("pk(%s)", k.ID)
}

// String returns the policy text of the node.
func (a *After) String() string {
	return fmt.Sprintf("after(%d)", a.LockTime)
}

// String returns the policy text of the node.
func (o *Older) String() string {
	return fmt.Sprintf("older(%d)", o.Sequence)
}

// String returns the policy text of the node.
func (h *Hash) String() string {
	return fmt.Sprintf("%s(%x)", h.Func, h.Digest)
}

// String returns the policy text of the node.
func (t *Thresh) String() string {
	parts := make([]string, 0, len(t.Subs)+1)
	parts = append(parts, strconv.Itoa(t.K))
	for _, sub := range t.Subs {
		parts = append(parts, sub.String())
	}
	return fmt.Sprintf("thresh(%s)", strings.Join(parts, ","))
}

// String returns the policy text of the node.
func (a *And) String() string {
	return fmt.Sprintf("and(%s,%s)", a.X, a.Y)
}

// String returns the policy text of the node. Weights are only printed when
// they differ.
func (o *Or) String() string {
	equal := true
	for i := 1; i < len(o.Branches); i++ {
		equal = equal && o.Branches[i].Weight == o.Branches[0].Weight
	}

	parts := make([]string, len(o.Branches))
	for i, b := range o.Branches {
		if equal {
			parts[i] = b.Node.String()
			continue
		}
		parts[i] = strconv.FormatFloat(b.Weight, 'g', -1, 64) + "@" +
			b.Node.String()
	}
	return fmt.Sprintf("or(%s)", strings.Join(parts, ","))
}

// Children returns the direct sub-policies of n.
func Children(n Node) []Node {
	switch n := n.(type) {
	case *Thresh:
		return n.Subs

	case *And:
		return []Node{n.X, n.Y}

	case *Or:
		subs := make([]Node, len(n.Branches))
		for i, b := range n.Branches {
			subs[i] = b.Node
		}
		return subs
	}
	return nil
}

// Depth returns the nesting depth of n. Leaves have depth 1.
func Depth(n Node) int {
	depth := 0
	for _, sub := range Children(n) {
		if d := Depth(sub); d > depth {
			depth = d
		}
	}
	return depth + 1
}

// Keys returns the key identifiers of n in the order they appear.
func Keys(n Node) []string {
	if k, ok := n.(*Key); ok {
		return []string{k.ID}
	}
	var ids []string
	for _, sub := range Children(n) {
		ids = append(ids, Keys(sub)...)
	}
	return ids
}

// validKeyID reports whether id may be used as a key identifier.
func validKeyID(id string) bool {
	if id == "" {
		return false
	}
	for _, c := range id {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z',
			c >= '0' && c <= '9', c == '_':

		default:
			return false
		}
	}
	return true
}

// Validate checks the structural rules of a policy tree: thresholds within
// [1, n], no empty child lists, positive finite OR weights, timelock and
// digest ranges, unique key identifiers and a nesting depth of at most
// maxDepth. A non-positive maxDepth disables the depth check.
func Validate(n Node, maxDepth int) error {
	if maxDepth > 0 {
		if depth := Depth(n); depth > maxDepth {
			str := fmt.Sprintf("policy depth %d exceeds the "+
				"limit of %d", depth, maxDepth)
			return policyError(ErrDepthExceeded, str)
		}
	}

	seen := make(map[string]struct{})
	return validate(n, seen)
}

func validate(n Node, seen map[string]struct{}) error {
	switch n := n.(type) {
	case *Key:
		if !validKeyID(n.ID) {
			str := fmt.Sprintf("invalid key identifier %q", n.ID)
			return policyError(ErrMalformed, str)
		}
		if _, ok := seen[n.ID]; ok {
			str := fmt.Sprintf("key %s is used more than once",
				n.ID)
			return policyError(ErrDuplicateKey, str)
		}
		seen[n.ID] = struct{}{}
		return nil

	case *After:
		return checkLockTime("after", n.LockTime)

	case *Older:
		return checkLockTime("older", n.Sequence)

	case *Hash:
		if _, ok := hashFuncNames[n.Func]; !ok {
			str := fmt.Sprintf("unknown hash function %d", n.Func)
			return policyError(ErrInvalidHash, str)
		}
		if len(n.Digest) != n.Func.Size() {
			str := fmt.Sprintf("%s digest must be %d bytes, got "+
				"%d", n.Func, n.Func.Size(), len(n.Digest))
			return policyError(ErrInvalidHash, str)
		}
		return nil

	case *Thresh:
		if len(n.Subs) == 0 {
			return policyError(ErrEmptyBranch, "thresh without "+
				"sub-policies")
		}
		if n.K < 1 || n.K > len(n.Subs) {
			str := fmt.Sprintf("thresh(k) -> k must be 1 ≤ k ≤ %d, "+
				"but got: %d", len(n.Subs), n.K)
			return policyError(ErrInvalidThreshold, str)
		}

	case *And:
		if n.X == nil || n.Y == nil {
			return policyError(ErrEmptyBranch, "and requires two "+
				"sub-policies")
		}

	case *Or:
		if len(n.Branches) < 2 {
			return policyError(ErrEmptyBranch, "or requires at "+
				"least two branches")
		}
		for _, b := range n.Branches {
			if b.Node == nil {
				return policyError(ErrEmptyBranch, "or with "+
					"an empty branch")
			}
			if math.IsNaN(b.Weight) || math.IsInf(b.Weight, 0) ||
				b.Weight <= 0 {

				str := fmt.Sprintf("or branch weight must be "+
					"positive, got %v", b.Weight)
				return policyError(ErrInvalidWeight, str)
			}
		}

	case nil:
		return policyError(ErrEmptyBranch, "missing sub-policy")

	default:
		str := fmt.Sprintf("unknown policy node %T", n)
		return policyError(ErrMalformed, str)
	}

	for _, sub := range Children(n) {
		if err := validate(sub, seen); err != nil {
			return err
		}
	}
	return nil
}

func checkLockTime(name string, value uint32) error {
	if value < 1 || value >= maxLockTime {
		str := fmt.Sprintf("%s(n) -> n must be 1 ≤ n < 2^31, but "+
			"got: %d", name, value)
		return policyError(ErrInvalidLockTime, str)
	}
	return nil
}

