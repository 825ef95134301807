// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package policy

// Assets describes what a spender has at hand. It is consulted by Evaluate.
type Assets interface {
	// HasSignature reports whether a signature for the key is available.
	HasSignature(keyID string) bool

	// HasPreimage reports whether a preimage of digest under the named
	// hash function is available.
	HasPreimage(fn HashFunc, digest []byte) bool

	// AfterSatisfied reports whether the absolute timelock has passed.
	AfterSatisfied(lockTime uint32) bool

	// OlderSatisfied reports whether the relative timelock has passed.
	OlderSatisfied(sequence uint32) bool
}

// Evaluate reports whether the policy is satisfied by the given assets,
// treating the policy as a plain boolean formula. It ignores script
// encodings entirely and serves as the reference for what a satisfier must
// be able to spend.
func Evaluate(n Node, assets Assets) bool {
	switch n := n.(type) {
	case *Key:
		return assets.HasSignature(n.ID)

	case *After:
		return assets.AfterSatisfied(n.LockTime)

	case *Older:
		return assets.OlderSatisfied(n.Sequence)

	case *Hash:
		return assets.HasPreimage(n.Func, n.Digest)

	case *And:
		return Evaluate(n.X, assets) && Evaluate(n.Y, assets)

	case *Or:
		for _, b := range n.Branches {
			if Evaluate(b.Node, assets) {
				return true
			}
		}
		return false

	case *Thresh:
		count := 0
		for _, sub := range n.Subs {
			if Evaluate(sub, assets) {
				count++
			}
		}
		return count >= n.K
	}
	return false
}
