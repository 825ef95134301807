// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package miniscript

// Sizes of witness stack elements including their length prefix.
const (
	// WitnessSigLen is a DER signature of at most 72 bytes plus the
	// sighash byte.
	WitnessSigLen = 73

	// WitnessPubKeyLen is a compressed public key.
	WitnessPubKeyLen = pubKeyDataPushLen

	// WitnessEmptyLen is the empty element used for false and dummies.
	WitnessEmptyLen = 1

	// WitnessOneLen is the single byte 0x01 selecting a branch.
	WitnessOneLen = 2

	// WitnessPreimageLen is a 32 byte hash preimage.
	WitnessPreimageLen = 33
)

// witSize holds the maximum witness size of the canonical satisfaction and
// dissatisfaction of a node.
type witSize struct {
	sat, dsat maxInt
}

func computeWitSize(node *Node) error {
	sub := func(i int) witSize {
		return node.Subs[i].witSize
	}

	switch node.Fragment {
	case FragFalse:
		node.witSize = witSize{invalidMax, zeroMax}

	case FragTrue:
		node.witSize = witSize{zeroMax, invalidMax}

	case FragPkK:
		node.witSize = witSize{
			validMax(WitnessSigLen),
			validMax(WitnessEmptyLen),
		}

	case FragPkH:
		node.witSize = witSize{
			validMax(WitnessSigLen + WitnessPubKeyLen),
			validMax(WitnessEmptyLen + WitnessPubKeyLen),
		}

	case FragOlder, FragAfter:
		node.witSize = witSize{zeroMax, invalidMax}

	case FragSha256, FragHash256, FragRipemd160, FragHash160:
		node.witSize = witSize{
			validMax(WitnessPreimageLen),
			validMax(WitnessPreimageLen),
		}

	case FragAndOr:
		x, y, z := sub(0), sub(1), sub(2)
		node.witSize = witSize{
			y.sat.and(x.sat).or(z.sat.and(x.dsat)),
			z.dsat.and(x.dsat),
		}

	case FragAndV:
		x, y := sub(0), sub(1)
		node.witSize = witSize{y.sat.and(x.sat), invalidMax}

	case FragAndB:
		x, y := sub(0), sub(1)
		node.witSize = witSize{
			y.sat.and(x.sat),
			y.dsat.and(x.dsat),
		}

	case FragOrB:
		x, z := sub(0), sub(1)
		node.witSize = witSize{
			z.dsat.and(x.sat).or(z.sat.and(x.dsat)),
			z.dsat.and(x.dsat),
		}

	case FragOrC:
		x, z := sub(0), sub(1)
		node.witSize = witSize{
			x.sat.or(z.sat.and(x.dsat)),
			invalidMax,
		}

	case FragOrD:
		x, z := sub(0), sub(1)
		node.witSize = witSize{
			x.sat.or(z.sat.and(x.dsat)),
			z.dsat.and(x.dsat),
		}

	case FragOrI:
		x, z := sub(0), sub(1)
		one, zero := validMax(WitnessOneLen), validMax(WitnessEmptyLen)
		node.witSize = witSize{
			x.sat.and(one).or(z.sat.and(zero)),
			x.dsat.and(one).or(z.dsat.and(zero)),
		}

	case FragThresh:
		dsat := zeroMax
		for _, arg := range node.Subs {
			dsat = dsat.and(arg.witSize.dsat)
		}
		sat := threshMax(
			node.Subs, int(node.K),
			func(n *Node) maxInt { return n.witSize.sat },
			func(n *Node) maxInt { return n.witSize.dsat },
		)
		node.witSize = witSize{sat, dsat}

	case FragMulti:
		k := int(node.K)
		node.witSize = witSize{
			validMax(WitnessEmptyLen + k*WitnessSigLen),
			validMax(WitnessEmptyLen + k*WitnessEmptyLen),
		}

	case FragWrapA, FragWrapS, FragWrapC, FragWrapN:
		node.witSize = sub(0)

	case FragWrapD:
		x := sub(0)
		node.witSize = witSize{
			x.sat.and(validMax(WitnessOneLen)),
			validMax(WitnessEmptyLen),
		}

	case FragWrapV:
		node.witSize = witSize{sub(0).sat, invalidMax}

	case FragWrapJ:
		node.witSize = witSize{sub(0).sat, validMax(WitnessEmptyLen)}

	default:
		return typeError("unknown identifier: %s", node.Fragment)
	}
	return nil
}
