// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package miniscript

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcpolicy/policy"
	"golang.org/x/crypto/ripemd160"
)

// preimageLen is the only preimage size hash fragments accept.
const preimageLen = 32

// SigningContext holds what a spender has at hand when satisfying a script.
// It is only read.
type SigningContext struct {
	// Signatures maps key names to signatures, including the sighash
	// byte.
	Signatures map[string][]byte

	// Preimages maps hex encoded digests to their preimages.
	Preimages map[string][]byte

	// Height is the height the spending transaction may lock to.
	Height uint32

	// MedianTime is the median time past the spending transaction may
	// lock to.
	MedianTime uint32

	// InputAge is the number of blocks since the spent output confirmed.
	InputAge uint32

	// InputAgeSeconds is the time in seconds since the spent output
	// confirmed, measured in median time past.
	InputAgeSeconds uint32
}

// ChainContextProvider supplies the chain state a SigningContext needs.
type ChainContextProvider interface {
	// BestHeight returns the height of the current chain tip.
	BestHeight() (uint32, error)

	// MedianTimePast returns the median time past of the chain tip.
	MedianTimePast() (uint32, error)

	// InputAge returns the confirmation age of an output in blocks and
	// in seconds.
	InputAge(op wire.OutPoint) (blocks, seconds uint32, err error)
}

// NewSigningContext builds a SigningContext for spending prevOut from the
// current chain state.
func NewSigningContext(chain ChainContextProvider, prevOut wire.OutPoint,
	sigs, preimages map[string][]byte) (*SigningContext, error) {

	height, err := chain.BestHeight()
	if err != nil {
		return nil, err
	}
	mtp, err := chain.MedianTimePast()
	if err != nil {
		return nil, err
	}
	blocks, seconds, err := chain.InputAge(prevOut)
	if err != nil {
		return nil, err
	}

	return &SigningContext{
		Signatures:      sigs,
		Preimages:       preimages,
		Height:          height,
		MedianTime:      mtp,
		InputAge:        blocks,
		InputAgeSeconds: seconds,
	}, nil
}

// AfterSatisfied reports whether after(lockTime) is satisfied. Values below
// txscript.LockTimeThreshold are heights, others are unix times.
func (c *SigningContext) AfterSatisfied(lockTime uint32) bool {
	if lockTime < txscript.LockTimeThreshold {
		return c.Height >= lockTime
	}
	return c.MedianTime >= lockTime
}

// OlderSatisfied reports whether older(sequence) is satisfied following the
// BIP68 encoding: the type flag selects units of 512 seconds instead of
// blocks.
func (c *SigningContext) OlderSatisfied(sequence uint32) bool {
	if sequence&wire.SequenceLockTimeDisabled != 0 {
		return false
	}
	value := sequence & wire.SequenceLockTimeMask
	if sequence&wire.SequenceLockTimeIsSeconds != 0 {
		seconds := uint64(value) << wire.SequenceLockTimeGranularity
		return seconds <= uint64(c.InputAgeSeconds)
	}
	return value <= c.InputAge
}

// HasSignature reports whether a signature for the key is available.
func (c *SigningContext) HasSignature(keyID string) bool {
	return len(c.Signatures[keyID]) > 0
}

// HasPreimage reports whether a verified preimage of the digest is available.
func (c *SigningContext) HasPreimage(fn policy.HashFunc, digest []byte) bool {
	frag := map[policy.HashFunc]Fragment{
		policy.HashSha256:    FragSha256,
		policy.HashHash256:   FragHash256,
		policy.HashRipemd160: FragRipemd160,
		policy.HashHash160:   FragHash160,
	}[fn]
	_, ok := c.preimage(frag, digest)
	return ok
}

// preimage returns the preimage of digest under frag if the context has one
// that actually hashes to it.
func (c *SigningContext) preimage(frag Fragment, digest []byte) ([]byte,
	bool) {

	p, ok := c.Preimages[hex.EncodeToString(digest)]
	if !ok || len(p) != preimageLen {
		return nil, false
	}
	return p, bytes.Equal(HashPreimage(frag, p), digest)
}

// HashPreimage hashes p with the hash function of a hash fragment.
func HashPreimage(frag Fragment, p []byte) []byte {
	switch frag {
	case FragSha256:
		return chainhash.HashB(p)

	case FragHash256:
		return chainhash.DoubleHashB(p)

	case FragRipemd160:
		h := ripemd160.New()
		_, _ = h.Write(p)
		return h.Sum(nil)

	case FragHash160:
		return btcutil.Hash160(p)
	}
	return nil
}

// satisfaction is a candidate witness, bottom element first.
type satisfaction struct {
	witness wire.TxWitness

	// available, if false, indicates there is no valid satisfaction (i.e.
	// signature or hash preimage not available, time lock not yet valid,
	// generally not satisfiable, etc.).
	available bool

	// malleable, if true, indicates the satisfaction is malleable by a
	// third party.
	malleable bool

	// hasSig indicates this satisfaction requires a signature, which means
	// a third party cannot malleate this satisfaction even if `malleable`
	// is true.
	hasSig bool
}

var unavailable = satisfaction{}

func items(elems ...[]byte) satisfaction {
	return satisfaction{
		witness:   append(wire.TxWitness{}, elems...),
		available: true,
	}
}

// zero is the empty element, which script treats as false.
func zero() satisfaction {
	return items([]byte{})
}

func one() satisfaction {
	return items([]byte{1})
}

func empty() satisfaction {
	return items()
}

func (s satisfaction) withSig() satisfaction {
	s.hasSig = true
	return s
}

func (s satisfaction) setMalleable(malleable bool) satisfaction {
	s.malleable = malleable
	return s
}

// and concatenates s and b, with b pushed last and thus on top.
func (s satisfaction) and(b satisfaction) satisfaction {
	if !s.available || !b.available {
		return satisfaction{hasSig: s.hasSig || b.hasSig}
	}
	witness := make(wire.TxWitness, 0, len(s.witness)+len(b.witness))
	witness = append(witness, s.witness...)
	return satisfaction{
		witness:   append(witness, b.witness...),
		available: true,
		malleable: s.malleable || b.malleable,
		hasSig:    s.hasSig || b.hasSig,
	}
}

// or picks one of two alternatives: an available one, then one a third party
// cannot malleate, then the smaller one. Ties go to s.
func (s satisfaction) or(b satisfaction) satisfaction {
	// If only one (or neither) is valid, pick the other one.
	if !s.available {
		return b
	}
	if !b.available {
		return s
	}

	// If only one of the solutions has a signature, we must pick the other
	// one.
	if !s.hasSig && b.hasSig {
		return s
	}
	if s.hasSig && !b.hasSig {
		return b
	}
	if !s.hasSig && !b.hasSig {
		// If neither solution requires a signature, the result is
		// inevitably malleable.
		s.malleable = true
		b.malleable = true
	} else {
		// If both options require a signature, prefer the non-malleable
		// one.
		if b.malleable && !s.malleable {
			return s
		}
		if s.malleable && !b.malleable {
			return b
		}
	}

	if s.witness.SerializeSize() <= b.witness.SerializeSize() {
		return s
	}
	return b
}

type satisfactions struct {
	dsat, sat satisfaction
}

// satisfier produces the satisfactions of every node and records which
// leaves the context could not provide.
type satisfier struct {
	ctx *SigningContext

	// ignoreTimelocks treats every timelock as expired.
	ignoreTimelocks bool

	missingSigs      []string
	missingPreimages []string
	unmetTimelocks   []string
}

// record appends item to list unless it is already there.
func (s *satisfier) record(list *[]string, item string) {
	for _, have := range *list {
		if have == item {
			return
		}
	}
	*list = append(*list, item)
}

func (s *satisfier) sig(key Key) ([]byte, bool) {
	sig := s.ctx.Signatures[key.Name]
	if len(sig) == 0 {
		s.record(&s.missingSigs, key.Name)
		return nil, false
	}
	return sig, true
}

func (s *satisfier) timelock(node *Node) satisfactions {
	var ok bool
	if node.Fragment == FragAfter {
		ok = s.ctx.AfterSatisfied(node.K)
	} else {
		ok = s.ctx.OlderSatisfied(node.K)
	}
	if !ok && !s.ignoreTimelocks {
		s.record(&s.unmetTimelocks, fmt.Sprintf("%s(%d)",
			node.Fragment, node.K))
		return satisfactions{dsat: unavailable, sat: unavailable}
	}
	return satisfactions{dsat: unavailable, sat: empty()}
}

// Satisfy returns the smallest witness stack, bottom element first, that
// satisfies the tree given the signing context. The result does not include
// the script itself; see Finalize. If no witness exists, a *SatisfyError
// lists the signatures, preimages and timelocks that were missing.
func (t *Tree) Satisfy(ctx *SigningContext) (wire.TxWitness, error) {
	s := &satisfier{ctx: ctx}
	res, err := s.satisfy(t.Root)
	if err != nil {
		return nil, err
	}
	if res.sat.available {
		if res.sat.malleable {
			log.Debugf("Satisfaction of %v is malleable", t)
		}
		return res.sat.witness, nil
	}

	satErr := &SatisfyError{
		ErrorCode:         ErrUnsatisfiable,
		MissingSignatures: s.missingSigs,
		MissingPreimages:  s.missingPreimages,
		UnmetTimelocks:    s.unmetTimelocks,
	}
	if len(s.unmetTimelocks) > 0 {
		relaxed := &satisfier{ctx: ctx, ignoreTimelocks: true}
		res, err := relaxed.satisfy(t.Root)
		if err == nil && res.sat.available {
			satErr.ErrorCode = ErrTimelockNotMet
		}
	}

	log.Debugf("Unable to satisfy %v: %v", t, satErr)
	return nil, satErr
}

func (s *satisfier) satisfyAll(subs []*Node) ([]satisfactions, error) {
	res := make([]satisfactions, len(subs))
	for i, sub := range subs {
		r, err := s.satisfy(sub)
		if err != nil {
			return nil, err
		}
		res[i] = r
	}
	return res, nil
}

// satisfy computes the satisfaction and dissatisfaction of a node from those
// of its children.
func (s *satisfier) satisfy(node *Node) (satisfactions, error) {
	switch node.Fragment {
	case FragFalse:
		return satisfactions{dsat: empty(), sat: unavailable}, nil

	case FragTrue:
		return satisfactions{dsat: unavailable, sat: empty()}, nil

	case FragPkK:
		sat := unavailable
		if sig, ok := s.sig(node.Keys[0]); ok {
			sat = items(sig)
		}
		return satisfactions{
			dsat: zero(),
			sat:  sat.withSig(),
		}, nil

	case FragPkH:
		key := node.Keys[0]
		if key.PubKey == nil {
			return satisfactions{}, unresolved(node, key)
		}
		sat := unavailable
		if sig, ok := s.sig(key); ok {
			sat = items(sig)
		}
		return satisfactions{
			dsat: zero().and(items(key.PubKey)),
			sat:  sat.withSig().and(items(key.PubKey)),
		}, nil

	case FragOlder, FragAfter:
		return s.timelock(node), nil

	case FragSha256, FragRipemd160, FragHash256, FragHash160:
		sat := unavailable
		if p, ok := s.ctx.preimage(node.Fragment, node.Hash); ok {
			sat = items(p)
		} else {
			s.record(&s.missingPreimages,
				hex.EncodeToString(node.Hash))
		}

		// A preimage of all zeroes is assumed not to exist.
		return satisfactions{
			dsat: items(make([]byte, preimageLen)),
			sat:  sat,
		}, nil

	case FragAndOr:
		subs, err := s.satisfyAll(node.Subs)
		if err != nil {
			return satisfactions{}, err
		}
		x, y, z := subs[0], subs[1], subs[2]
		return satisfactions{
			dsat: z.dsat.and(x.dsat).or(y.dsat.and(x.sat)),
			sat:  y.sat.and(x.sat).or(z.sat.and(x.dsat)),
		}, nil

	case FragAndV:
		subs, err := s.satisfyAll(node.Subs)
		if err != nil {
			return satisfactions{}, err
		}
		x, y := subs[0], subs[1]
		return satisfactions{
			dsat: y.dsat.and(x.sat),
			sat:  y.sat.and(x.sat),
		}, nil

	case FragAndB:
		subs, err := s.satisfyAll(node.Subs)
		if err != nil {
			return satisfactions{}, err
		}
		x, y := subs[0], subs[1]
		return satisfactions{
			dsat: y.dsat.and(x.dsat).or(
				y.sat.and(x.dsat).setMalleable(true),
			).or(
				y.dsat.and(x.sat).setMalleable(true),
			),
			sat: y.sat.and(x.sat),
		}, nil

	case FragOrB:
		subs, err := s.satisfyAll(node.Subs)
		if err != nil {
			return satisfactions{}, err
		}
		x, z := subs[0], subs[1]
		return satisfactions{
			dsat: z.dsat.and(x.dsat),
			sat: z.dsat.and(x.sat).or(
				z.sat.and(x.dsat),
			).or(
				z.sat.and(x.sat).setMalleable(true),
			),
		}, nil

	case FragOrC:
		subs, err := s.satisfyAll(node.Subs)
		if err != nil {
			return satisfactions{}, err
		}
		x, z := subs[0], subs[1]
		return satisfactions{
			dsat: unavailable,
			sat:  x.sat.or(z.sat.and(x.dsat)),
		}, nil

	case FragOrD:
		subs, err := s.satisfyAll(node.Subs)
		if err != nil {
			return satisfactions{}, err
		}
		x, z := subs[0], subs[1]
		return satisfactions{
			dsat: z.dsat.and(x.dsat),
			sat:  x.sat.or(z.sat.and(x.dsat)),
		}, nil

	case FragOrI:
		subs, err := s.satisfyAll(node.Subs)
		if err != nil {
			return satisfactions{}, err
		}
		x, z := subs[0], subs[1]
		return satisfactions{
			dsat: x.dsat.and(one()).or(z.dsat.and(zero())),
			sat:  x.sat.and(one()).or(z.sat.and(zero())),
		}, nil

	case FragThresh:
		subs, err := s.satisfyAll(node.Subs)
		if err != nil {
			return satisfactions{}, err
		}
		return threshSatisfactions(subs, int(node.K)), nil

	case FragMulti:
		return s.multi(node), nil

	case FragWrapA, FragWrapS, FragWrapC, FragWrapN:
		return s.satisfy(node.Subs[0])

	case FragWrapD:
		x, err := s.satisfy(node.Subs[0])
		if err != nil {
			return satisfactions{}, err
		}
		return satisfactions{
			dsat: zero(),
			sat:  x.sat.and(one()),
		}, nil

	case FragWrapV:
		x, err := s.satisfy(node.Subs[0])
		if err != nil {
			return satisfactions{}, err
		}
		return satisfactions{dsat: unavailable, sat: x.sat}, nil

	case FragWrapJ:
		x, err := s.satisfy(node.Subs[0])
		if err != nil {
			return satisfactions{}, err
		}
		return satisfactions{
			dsat: zero().setMalleable(
				x.dsat.available && !x.dsat.hasSig,
			),
			sat: x.sat,
		}, nil
	}

	return satisfactions{}, typeError("unrecognized identifier: %s",
		node.Fragment)
}

// threshSatisfactions combines the children of a thresh. sats[j] is the best
// witness with exactly j of the children seen so far satisfied. Children are
// visited last to first, so the first child ends up on top of the stack where
// the script evaluates it first. Counts above k are never needed.
func threshSatisfactions(subs []satisfactions, k int) satisfactions {
	sats := []satisfaction{empty()}
	for i := len(subs) - 1; i >= 0; i-- {
		res := subs[i]
		size := len(sats) + 1
		if size > k+1 {
			size = k + 1
		}
		next := make([]satisfaction, size)
		for j := range next {
			cand := unavailable
			if j < len(sats) {
				cand = sats[j].and(res.dsat)
			}
			if j > 0 {
				cand = cand.or(sats[j-1].and(res.sat))
			}
			next[j] = cand
		}
		sats = next
	}

	// Dissatisfying every child is the canonical dissatisfaction, any
	// other count below k can be malleated into it.
	dsat := sats[0]
	for j := 1; j < k && j < len(sats); j++ {
		dsat = dsat.or(sats[j].setMalleable(true))
	}
	return satisfactions{dsat: dsat, sat: sats[k]}
}

// multi uses the k smallest available signatures, ties broken by key order,
// and places them in key order after the dummy element CHECKMULTISIG pops.
func (s *satisfier) multi(node *Node) satisfactions {
	k := int(node.K)

	dsat := zero()
	for i := 0; i < k; i++ {
		dsat = dsat.and(zero())
	}

	type keySig struct {
		idx int
		sig []byte
	}
	var sigs []keySig
	for i, key := range node.Keys {
		if sig, ok := s.sig(key); ok {
			sigs = append(sigs, keySig{idx: i, sig: sig})
		}
	}
	if len(sigs) < k {
		return satisfactions{
			dsat: dsat,
			sat:  unavailable.withSig(),
		}
	}

	sort.SliceStable(sigs, func(i, j int) bool {
		return len(sigs[i].sig) < len(sigs[j].sig)
	})
	sigs = sigs[:k]
	sort.Slice(sigs, func(i, j int) bool {
		return sigs[i].idx < sigs[j].idx
	})

	sat := zero()
	for _, ks := range sigs {
		sat = sat.and(items(ks.sig))
	}
	return satisfactions{dsat: dsat, sat: sat.withSig()}
}
