// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package miniscript

// maxInt is an upper bound which may not exist, e.g. the op count of the
// dissatisfaction of a fragment that cannot be dissatisfied.
type maxInt struct {
	valid bool
	value int
}

var (
	zeroMax    = maxInt{valid: true}
	invalidMax = maxInt{}
)

func validMax(v int) maxInt {
	return maxInt{valid: true, value: v}
}

func (m maxInt) and(b maxInt) maxInt {
	if !m.valid || !b.valid {
		return invalidMax
	}
	return validMax(m.value + b.value)
}

func (m maxInt) or(b maxInt) maxInt {
	if !m.valid {
		return b
	}
	if !b.valid {
		return m
	}
	if m.value >= b.value {
		return m
	}
	return b
}

// threshMax returns the bound for exactly k of subs being satisfied and the
// rest dissatisfied. dp[j] holds the bound for j satisfied children among
// those processed so far.
func threshMax(subs []*Node, k int, sat, dsat func(*Node) maxInt) maxInt {
	dp := []maxInt{zeroMax}
	for _, sub := range subs {
		next := make([]maxInt, len(dp)+1)
		for j := range next {
			cur := invalidMax
			if j < len(dp) {
				cur = dp[j].and(dsat(sub))
			}
			if j > 0 {
				cur = cur.or(dp[j-1].and(sat(sub)))
			}
			next[j] = cur
		}
		dp = next
	}
	return dp[k]
}

type ops struct {
	// count is the number of non-push opcodes.
	count int

	// dsat is the number of keys in possibly executed
	// OP_CHECKMULTISIG(VERIFY)s to dissatisfy.
	dsat maxInt

	// sat is the number of keys in possibly executed
	// OP_CHECKMULTISIG(VERIFY)s to satisfy.
	sat maxInt
}

func computeOpCount(node *Node) error {
	sub := func(i int) ops {
		return node.Subs[i].opCount
	}

	switch node.Fragment {
	case FragFalse:
		node.opCount = ops{0, zeroMax, invalidMax}

	case FragTrue:
		node.opCount = ops{0, invalidMax, zeroMax}

	case FragPkK:
		node.opCount = ops{0, zeroMax, zeroMax}

	case FragPkH:
		node.opCount = ops{3, zeroMax, zeroMax}

	case FragOlder, FragAfter:
		node.opCount = ops{1, invalidMax, zeroMax}

	case FragSha256, FragHash256, FragRipemd160, FragHash160:
		node.opCount = ops{4, zeroMax, zeroMax}

	case FragAndOr:
		x, y, z := sub(0), sub(1), sub(2)
		node.opCount = ops{
			3 + x.count + y.count + z.count,
			z.dsat.and(x.dsat),
			y.sat.and(x.sat).or(z.sat.and(x.dsat)),
		}

	case FragAndV:
		x, y := sub(0), sub(1)
		node.opCount = ops{
			x.count + y.count,
			invalidMax,
			y.sat.and(x.sat),
		}

	case FragAndB:
		x, y := sub(0), sub(1)
		node.opCount = ops{
			1 + x.count + y.count,
			y.dsat.and(x.dsat),
			y.sat.and(x.sat),
		}

	case FragOrB:
		x, z := sub(0), sub(1)
		node.opCount = ops{
			1 + x.count + z.count,
			z.dsat.and(x.dsat),
			z.dsat.and(x.sat).or(z.sat.and(x.dsat)),
		}

	case FragOrC:
		x, z := sub(0), sub(1)
		node.opCount = ops{
			2 + x.count + z.count,
			invalidMax,
			x.sat.or(z.sat.and(x.dsat)),
		}

	case FragOrD:
		x, z := sub(0), sub(1)
		node.opCount = ops{
			3 + x.count + z.count,
			z.dsat.and(x.dsat),
			x.sat.or(z.sat.and(x.dsat)),
		}

	case FragOrI:
		x, z := sub(0), sub(1)
		node.opCount = ops{
			3 + x.count + z.count,
			x.dsat.or(z.dsat),
			x.sat.or(z.sat),
		}

	case FragThresh:
		// One OP_ADD per sub-expression but the first, plus OP_EQUAL.
		count := 0
		dsat := zeroMax
		for _, arg := range node.Subs {
			count += arg.opCount.count + 1
			dsat = dsat.and(arg.opCount.dsat)
		}
		sat := threshMax(
			node.Subs, int(node.K),
			func(n *Node) maxInt { return n.opCount.sat },
			func(n *Node) maxInt { return n.opCount.dsat },
		)
		node.opCount = ops{count, dsat, sat}

	case FragMulti:
		n := len(node.Keys)
		node.opCount = ops{1, validMax(n), validMax(n)}

	case FragWrapA:
		x := sub(0)
		node.opCount = ops{2 + x.count, x.dsat, x.sat}

	case FragWrapS, FragWrapC, FragWrapN:
		x := sub(0)
		node.opCount = ops{1 + x.count, x.dsat, x.sat}

	case FragWrapD:
		x := sub(0)
		node.opCount = ops{3 + x.count, zeroMax, x.sat}

	case FragWrapV:
		x := sub(0)
		opVerify := 0
		if !node.Subs[0].props.canCollapseVerify {
			opVerify = 1
		}
		node.opCount = ops{opVerify + x.count, invalidMax, x.sat}

	case FragWrapJ:
		x := sub(0)
		node.opCount = ops{4 + x.count, zeroMax, x.sat}

	default:
		return typeError("unknown identifier: %s", node.Fragment)
	}
	return nil
}
