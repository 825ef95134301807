// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package miniscript

import (
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// timelocks records which kinds of timelocks a node may require. A
// transaction has one lock time and each input one sequence, so a spending
// path needing a height and a time lock of the same kind can never be taken.
type timelocks struct {
	cltvHeight, cltvTime bool
	csvHeight, csvTime   bool

	// mixed is set if some spending path needs both a height and a time
	// lock of the same kind.
	mixed bool
}

// or merges the timelocks of alternative spending paths.
func (t timelocks) or(b timelocks) timelocks {
	return timelocks{
		cltvHeight: t.cltvHeight || b.cltvHeight,
		cltvTime:   t.cltvTime || b.cltvTime,
		csvHeight:  t.csvHeight || b.csvHeight,
		csvTime:    t.csvTime || b.csvTime,
		mixed:      t.mixed || b.mixed,
	}
}

// and merges the timelocks of paths that may both be needed in one spend.
func (t timelocks) and(b timelocks) timelocks {
	r := t.or(b)
	r.mixed = r.mixed ||
		(t.cltvHeight && b.cltvTime) || (t.cltvTime && b.cltvHeight) ||
		(t.csvHeight && b.csvTime) || (t.csvTime && b.csvHeight)
	return r
}

func computeTimelocks(node *Node) error {
	subs := make([]timelocks, len(node.Subs))
	for i, sub := range node.Subs {
		subs[i] = sub.locks
	}

	var t timelocks
	switch node.Fragment {
	case FragAfter:
		if node.K < txscript.LockTimeThreshold {
			t.cltvHeight = true
		} else {
			t.cltvTime = true
		}

	case FragOlder:
		if node.K&wire.SequenceLockTimeIsSeconds != 0 {
			t.csvTime = true
		} else {
			t.csvHeight = true
		}

	case FragAndV, FragAndB:
		t = subs[0].and(subs[1])

	case FragAndOr:
		t = subs[0].and(subs[1]).or(subs[2])

	case FragOrB, FragOrC, FragOrD, FragOrI:
		t = subs[0].or(subs[1])

	case FragThresh:
		// With k > 1 any two children may be satisfied together.
		for _, sub := range subs {
			if node.K > 1 {
				t = t.and(sub)
			} else {
				t = t.or(sub)
			}
		}

	default:
		if len(subs) == 1 {
			t = subs[0]
		}
	}
	node.locks = t
	return nil
}

// NoTimelockMix reports whether no spending path of the node needs both a
// height and a time lock of the same kind. This is the `k` property of
// miniscript.
func (n *Node) NoTimelockMix() bool {
	return !n.locks.mixed
}
