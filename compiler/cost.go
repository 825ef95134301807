// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package compiler

import (
	"github.com/btcsuite/btcpolicy/miniscript"
)

// probs are the probabilities that a node is satisfied and dissatisfied when
// the script is spent. They need not add up to one: a node under an
// and_v-like parent is neither in some spends.
type probs struct {
	sat  float64
	dsat float64
}

// candidate is a miniscript encoding of a policy node together with its
// expected witness sizes. Unlike the maximum sizes a Node carries, the
// expected sizes weigh the branches of ORs and thresholds by how likely they
// are taken.
type candidate struct {
	node *miniscript.Node

	// sat is the expected size of a satisfying witness.
	sat float64

	// dsat is the expected size of the dissatisfying witness. It is only
	// meaningful if hasDsat is set.
	dsat    float64
	hasDsat bool
}

// cost returns the expected number of bytes the candidate adds to a spend:
// its script plus its witness, weighted by p.
func (c *candidate) cost(p probs) float64 {
	cost := float64(c.node.ScriptLen()) + p.sat*c.sat
	if c.hasDsat {
		cost += p.dsat * c.dsat
	}
	return cost
}

// combined builds the node frag(subs) and attaches the given costs to it.
// It returns nil if the node does not type check.
func combined(frag miniscript.Fragment, sat, dsat float64, hasDsat bool,
	subs ...*miniscript.Node) *candidate {

	node, err := miniscript.NewCombinator(frag, subs...)
	if err != nil {
		return nil
	}
	return &candidate{node: node, sat: sat, dsat: dsat, hasDsat: hasDsat}
}

func pkCandidate(frag miniscript.Fragment, key miniscript.Key) (*candidate,
	error) {

	node, err := miniscript.NewKey(frag, key)
	if err != nil {
		return nil, err
	}
	c := &candidate{
		node:    node,
		sat:     miniscript.WitnessSigLen,
		dsat:    miniscript.WitnessEmptyLen,
		hasDsat: true,
	}
	if frag == miniscript.FragPkH {
		c.sat += miniscript.WitnessPubKeyLen
		c.dsat += miniscript.WitnessPubKeyLen
	}
	return c, nil
}

// Timelocks cost nothing in the witness and cannot be dissatisfied.
func timelockCandidate(frag miniscript.Fragment, value uint32) (*candidate,
	error) {

	node, err := miniscript.NewTimelock(frag, value)
	if err != nil {
		return nil, err
	}
	return &candidate{node: node}, nil
}

func hashCandidate(frag miniscript.Fragment, digest []byte) (*candidate,
	error) {

	node, err := miniscript.NewHashLock(frag, digest)
	if err != nil {
		return nil, err
	}
	return &candidate{
		node:    node,
		sat:     miniscript.WitnessPreimageLen,
		dsat:    miniscript.WitnessPreimageLen,
		hasDsat: true,
	}, nil
}

// multiCandidate returns multi(k,keys). It is satisfied by the dummy element
// and k signatures and dissatisfied by k+1 empty elements.
func multiCandidate(k int, keys []miniscript.Key) (*candidate, error) {
	node, err := miniscript.NewMulti(uint32(k), keys)
	if err != nil {
		return nil, err
	}
	return &candidate{
		node: node,
		sat: miniscript.WitnessEmptyLen +
			float64(k)*miniscript.WitnessSigLen,
		dsat:    float64(k+1) * miniscript.WitnessEmptyLen,
		hasDsat: true,
	}, nil
}

// wrapped applies a single letter wrapper. The witness of a:, s:, c: and n:
// is that of the child, v: removes the dissatisfaction and j: dissatisfies
// with an empty element.
func wrapped(frag miniscript.Fragment, x *candidate) *candidate {
	node, err := miniscript.NewWrapper(frag, x.node)
	if err != nil {
		return nil
	}
	c := &candidate{node: node, sat: x.sat, dsat: x.dsat,
		hasDsat: x.hasDsat}
	switch frag {
	case miniscript.FragWrapV:
		c.dsat, c.hasDsat = 0, false

	case miniscript.FragWrapJ:
		c.dsat, c.hasDsat = miniscript.WitnessEmptyLen, true
	}
	return c
}

// andTrue returns and_v(X,1), printed as t:X.
func andTrue(x *candidate) *candidate {
	return combined(miniscript.FragAndV, x.sat, 0, false, x.node,
		miniscript.NewConst(true))
}

func andV(x, y *candidate) *candidate {
	return combined(miniscript.FragAndV, x.sat+y.sat, 0, false, x.node,
		y.node)
}

func andB(x, y *candidate) *candidate {
	return combined(miniscript.FragAndB, x.sat+y.sat, x.dsat+y.dsat,
		x.hasDsat && y.hasDsat, x.node, y.node)
}

// andN returns andor(X,Y,0), printed as and_n(X,Y). The 0 is dissatisfied
// by the empty witness.
func andN(x, y *candidate) *candidate {
	if !x.hasDsat {
		return nil
	}
	return combined(miniscript.FragAndOr, x.sat+y.sat, x.dsat, true,
		x.node, y.node, miniscript.NewConst(false))
}

// andOr returns andor(X,Y,Z) for a branch X and Y taken with weight wxy and
// Z taken otherwise.
func andOr(x, y, z *candidate, wxy float64) *candidate {
	if !x.hasDsat {
		return nil
	}
	sat := wxy*(x.sat+y.sat) + (1-wxy)*(x.dsat+z.sat)
	return combined(miniscript.FragAndOr, sat, x.dsat+z.dsat, z.hasDsat,
		x.node, y.node, z.node)
}

func orB(x, z *candidate, wx float64) *candidate {
	if !x.hasDsat || !z.hasDsat {
		return nil
	}
	sat := wx*(x.sat+z.dsat) + (1-wx)*(z.sat+x.dsat)
	return combined(miniscript.FragOrB, sat, x.dsat+z.dsat, true, x.node,
		z.node)
}

func orD(x, z *candidate, wx float64) *candidate {
	if !x.hasDsat {
		return nil
	}
	sat := wx*x.sat + (1-wx)*(z.sat+x.dsat)
	return combined(miniscript.FragOrD, sat, x.dsat+z.dsat, z.hasDsat,
		x.node, z.node)
}

func orC(x, z *candidate, wx float64) *candidate {
	if !x.hasDsat {
		return nil
	}
	sat := wx*x.sat + (1-wx)*(z.sat+x.dsat)
	return combined(miniscript.FragOrC, sat, 0, false, x.node, z.node)
}

// orI selects the branch with a 1 or an empty element on top of its witness.
// It dissatisfies through the cheaper branch that can.
func orI(x, z *candidate, wx float64) *candidate {
	sat := wx*(x.sat+miniscript.WitnessOneLen) +
		(1-wx)*(z.sat+miniscript.WitnessEmptyLen)

	var dsat float64
	switch {
	case x.hasDsat && z.hasDsat:
		dsat = x.dsat + miniscript.WitnessOneLen
		if d := z.dsat + miniscript.WitnessEmptyLen; d < dsat {
			dsat = d
		}

	case x.hasDsat:
		dsat = x.dsat + miniscript.WitnessOneLen

	case z.hasDsat:
		dsat = z.dsat + miniscript.WitnessEmptyLen
	}
	return combined(miniscript.FragOrI, sat, dsat,
		x.hasDsat || z.hasDsat, x.node, z.node)
}

// threshCandidate returns thresh(k,subs). Each child is satisfied in k out
// of n spends on average and dissatisfied otherwise.
func threshCandidate(k int, subs []*candidate) *candidate {
	q := float64(k) / float64(len(subs))
	nodes := make([]*miniscript.Node, len(subs))
	var sat, dsat float64
	for i, sub := range subs {
		if !sub.hasDsat {
			return nil
		}
		nodes[i] = sub.node
		sat += q*sub.sat + (1-q)*sub.dsat
		dsat += sub.dsat
	}

	node, err := miniscript.NewThresh(uint32(k), nodes)
	if err != nil {
		return nil
	}
	return &candidate{node: node, sat: sat, dsat: dsat, hasDsat: true}
}
