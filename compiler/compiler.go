// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package compiler

import (
	"fmt"
	"sort"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcpolicy/miniscript"
	"github.com/btcsuite/btcpolicy/policy"
	"github.com/davecgh/go-spew/spew"
)

// maxCastRounds bounds the rounds of wrapping a table is closed under. Every
// accepted wrapper makes a class strictly cheaper, so the closure settles
// long before.
const maxCastRounds = 16

// castWrappers are the wrappers tried on every candidate, in order. d:, l:
// and u: are never used: they would give timelocks a dissatisfaction that
// is not backed by the policy.
var castWrappers = []miniscript.Fragment{
	miniscript.FragWrapA,
	miniscript.FragWrapS,
	miniscript.FragWrapC,
	miniscript.FragWrapV,
	miniscript.FragWrapJ,
	miniscript.FragWrapN,
}

// table holds the cheapest non-malleable candidate per type class of one
// policy node compiled under p.
type table struct {
	p       probs
	entries map[string]*candidate

	// operands are the tables of X and Y when the policy node is an And.
	// ORs use them to build andor.
	operands []*table
}

func newTable(p probs) *table {
	return &table{p: p, entries: make(map[string]*candidate)}
}

// class returns the table slot of a node: its type, and whether a v: around
// it collapses into its last opcode, which changes the cost of wrapping it.
func class(node *miniscript.Node) string {
	if node.CanCollapseVerify() {
		return node.Type() + "v"
	}
	return node.Type()
}

// insert adds c if it is non-malleable and strictly cheaper than the entry
// of its class. It reports whether the table changed.
func (t *table) insert(c *candidate) bool {
	if c == nil || !c.node.NonMalleable() {
		return false
	}
	key := class(c.node)
	if old, ok := t.entries[key]; ok && c.cost(t.p) >= old.cost(t.p) {
		return false
	}
	t.entries[key] = c
	return true
}

// sorted returns the entries in class order.
func (t *table) sorted() []*candidate {
	keys := make([]string, 0, len(t.entries))
	for key := range t.entries {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	cands := make([]*candidate, len(keys))
	for i, key := range keys {
		cands[i] = t.entries[key]
	}
	return cands
}

// best returns the cheapest entry of the given type, or nil. Ties go to the
// first class in order.
func (t *table) best(typ string) *candidate {
	var best *candidate
	for _, c := range t.sorted() {
		if !c.node.Is(typ) {
			continue
		}
		if best == nil || c.cost(t.p) < best.cost(t.p) {
			best = c
		}
	}
	return best
}

// closeCasts adds every wrapper of every entry until no class gets cheaper.
func (t *table) closeCasts() {
	for round := 0; round < maxCastRounds; round++ {
		changed := false
		for _, c := range t.sorted() {
			for _, frag := range castWrappers {
				if t.insert(wrapped(frag, c)) {
					changed = true
				}
			}
			if t.insert(andTrue(c)) {
				changed = true
			}
		}
		if !changed {
			return
		}
	}
}

// String returns the entries with their costs for trace logging.
func (t *table) String() string {
	summary := make(map[string]string, len(t.entries))
	for key, c := range t.entries {
		summary[key] = fmt.Sprintf("%s (%.2f)", c.node, c.cost(t.p))
	}
	return spew.Sdump(summary)
}

// Compile compiles a policy into the miniscript tree with the lowest expected
// spending cost in the context of cfg. A nil cfg means DefaultConfig.
func Compile(node policy.Node, cfg *Config) (*miniscript.Tree, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Context != miniscript.ContextP2WSH &&
		cfg.Context != miniscript.ContextP2SH {

		str := fmt.Sprintf("unsupported script context %d", cfg.Context)
		return nil, compileError(ErrUnsupportedEncoding, str)
	}
	if err := policy.Validate(node, cfg.MaxDepth); err != nil {
		return nil, err
	}
	if err := checkFlags(node, cfg.ScriptFlags); err != nil {
		return nil, err
	}

	var keys map[string]*btcec.PublicKey
	if cfg.KeyProvider != nil {
		var err error
		keys, err = policy.ResolveKeys(node, cfg.KeyProvider)
		if err != nil {
			return nil, err
		}
	}

	var cacheKey chainhash.Hash
	if cfg.Cache != nil {
		cacheKey = compileKey(node, cfg, keys)
		tree, err := cfg.Cache.Get(cacheKey)
		if err != nil {
			return nil, err
		}
		if tree != nil {
			log.Debugf("Using cached compilation of %v", node)
			return tree, nil
		}
	}

	c := &compiler{}
	t, err := c.compile(node, probs{sat: 1})
	if err != nil {
		return nil, err
	}
	root, err := selectRoot(t, cfg.Context)
	if err != nil {
		return nil, err
	}

	if keys != nil {
		root.node, err = root.node.ApplyKeys(func(id string) ([]byte,
			error) {

			if pub, ok := keys[id]; ok {
				return pub.SerializeCompressed(), nil
			}
			return nil, nil
		})
		if err != nil {
			return nil, err
		}
	}
	tree, err := miniscript.NewTree(cfg.Context, root.node)
	if err != nil {
		return nil, err
	}

	log.Debugf("Compiled %v to %v (expected cost %.2f bytes, %d "+
		"candidate nodes)", node, root.node, root.cost(t.p), c.nodes)

	if cfg.Cache != nil {
		return cfg.Cache.PutIfAbsent(cacheKey, tree)
	}
	return tree, nil
}

// CompileString parses the policy text and compiles it with cfg. The policy
// is parsed with the depth limit of cfg.
func CompileString(text string, cfg *Config) (*miniscript.Tree, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	node, err := policy.Parse(text, policy.WithMaxDepth(cfg.MaxDepth))
	if err != nil {
		return nil, err
	}
	return Compile(node, cfg)
}

// checkFlags returns an error if the policy uses a timelock whose opcode the
// flags do not enable.
func checkFlags(node policy.Node, flags txscript.ScriptFlags) error {
	switch n := node.(type) {
	case *policy.After:
		if flags&txscript.ScriptVerifyCheckLockTimeVerify == 0 {
			str := fmt.Sprintf("%v requires OP_CHECKLOCKTIMEVERIFY", n)
			return compileError(ErrUnsupportedEncoding, str)
		}

	case *policy.Older:
		if flags&txscript.ScriptVerifyCheckSequenceVerify == 0 {
			str := fmt.Sprintf("%v requires OP_CHECKSEQUENCEVERIFY", n)
			return compileError(ErrUnsupportedEncoding, str)
		}
	}
	for _, sub := range policy.Children(node) {
		if err := checkFlags(sub, flags); err != nil {
			return err
		}
	}
	return nil
}

// compileKey returns the cache key of a compilation: the hash of the
// canonical policy text, the parameters that change the result and the
// resolved keys.
func compileKey(node policy.Node, cfg *Config,
	keys map[string]*btcec.PublicKey) chainhash.Hash {

	ids := make([]string, 0, len(keys))
	for id := range keys {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var b strings.Builder
	fmt.Fprintf(&b, "%s|%s|%d|%d", node, cfg.Context, cfg.ScriptFlags,
		cfg.MaxDepth)
	for _, id := range ids {
		fmt.Fprintf(&b, "|%s=%x", id, keys[id].SerializeCompressed())
	}
	return chainhash.HashH([]byte(b.String()))
}

// selectRoot returns the cheapest B candidate within the resource limits of
// ctx. Candidates mixing height and time based timelocks are never chosen.
func selectRoot(t *table, ctx miniscript.Context) (*candidate, error) {
	var (
		roots []*candidate
		mixed bool
	)
	for _, c := range t.sorted() {
		if c.node.BasicType() != miniscript.TypeB {
			continue
		}
		if !c.node.NoTimelockMix() {
			mixed = true
			continue
		}
		roots = append(roots, c)
	}
	switch {
	case len(roots) == 0 && mixed:
		return nil, compileError(ErrMixedTimelocks, "the policy has "+
			"a spending path mixing height and time based timelocks")

	case len(roots) == 0:
		return nil, compileError(ErrMalleable, "the policy has no "+
			"non-malleable encoding")
	}

	// Stable, so equal costs keep class order.
	sort.SliceStable(roots, func(i, j int) bool {
		return roots[i].cost(t.p) < roots[j].cost(t.p)
	})

	var limitErr error
	for _, c := range roots {
		err := miniscript.CheckLimits(ctx, c.node)
		if err == nil {
			return c, nil
		}
		log.Debugf("Rejected root %v: %v", c.node, err)
		if limitErr == nil {
			limitErr = err
		}
	}
	str := fmt.Sprintf("no encoding of the policy fits the %s limits: %v",
		ctx, limitErr)
	return nil, compileError(ErrResourceLimit, str)
}

// compiler holds the state of one compilation.
type compiler struct {
	// nodes counts the policy nodes compiled.
	nodes int
}

// compile returns the candidate table of node under p. Every policy node is
// compiled exactly once, under the probabilities its parent hands down.
func (c *compiler) compile(node policy.Node, p probs) (*table, error) {
	c.nodes++

	var (
		t   *table
		err error
	)
	switch n := node.(type) {
	case *policy.Key:
		t, err = c.compileKey(n, p)

	case *policy.After:
		t, err = c.compileLeaf(p, func() (*candidate, error) {
			return timelockCandidate(miniscript.FragAfter, n.LockTime)
		})

	case *policy.Older:
		t, err = c.compileLeaf(p, func() (*candidate, error) {
			return timelockCandidate(miniscript.FragOlder, n.Sequence)
		})

	case *policy.Hash:
		t, err = c.compileLeaf(p, func() (*candidate, error) {
			return hashCandidate(hashFragment(n.Func), n.Digest)
		})

	case *policy.And:
		t, err = c.compileAnd(n, p)

	case *policy.Or:
		t, err = c.compileOr(n.Branches, p)

	case *policy.Thresh:
		t, err = c.compileThresh(n, p)

	default:
		return nil, fmt.Errorf("unknown policy node %T", node)
	}
	if err != nil {
		return nil, err
	}

	log.Tracef("Candidates for %v: %v", node, newLogClosure(t.String))
	return t, nil
}

func hashFragment(fn policy.HashFunc) miniscript.Fragment {
	switch fn {
	case policy.HashHash256:
		return miniscript.FragHash256
	case policy.HashRipemd160:
		return miniscript.FragRipemd160
	case policy.HashHash160:
		return miniscript.FragHash160
	}
	return miniscript.FragSha256
}

func (c *compiler) compileLeaf(p probs,
	leaf func() (*candidate, error)) (*table, error) {

	cand, err := leaf()
	if err != nil {
		return nil, err
	}
	t := newTable(p)
	t.insert(cand)
	t.closeCasts()
	return t, nil
}

func (c *compiler) compileKey(n *policy.Key, p probs) (*table, error) {
	key, err := miniscript.ParseKey(n.ID)
	if err != nil {
		return nil, err
	}

	t := newTable(p)
	for _, frag := range []miniscript.Fragment{
		miniscript.FragPkK, miniscript.FragPkH,
	} {
		cand, err := pkCandidate(frag, key)
		if err != nil {
			return nil, err
		}
		t.insert(cand)
	}
	t.closeCasts()
	return t, nil
}

func (c *compiler) compileAnd(n *policy.And, p probs) (*table, error) {
	x, err := c.compile(n.X, p)
	if err != nil {
		return nil, err
	}
	y, err := c.compile(n.Y, p)
	if err != nil {
		return nil, err
	}

	t := newTable(p)
	t.operands = []*table{x, y}
	for _, pair := range [][2]*table{{x, y}, {y, x}} {
		for _, l := range pair[0].sorted() {
			for _, r := range pair[1].sorted() {
				t.insert(andV(l, r))
				t.insert(andB(l, r))
				t.insert(andN(l, r))
			}
		}
	}
	t.closeCasts()
	return t, nil
}

// compileOr compiles the first branch against the OR of the others. The
// weight of the rest is the sum of their weights.
func (c *compiler) compileOr(branches []policy.Branch, p probs) (*table,
	error) {

	var lw, rw float64
	lw = branches[0].Weight
	for _, b := range branches[1:] {
		rw += b.Weight
	}
	wl, wr := lw/(lw+rw), rw/(lw+rw)

	left, err := c.compile(branches[0].Node, probs{
		sat:  p.sat * wl,
		dsat: p.dsat + p.sat*wr,
	})
	if err != nil {
		return nil, err
	}

	rp := probs{sat: p.sat * wr, dsat: p.dsat + p.sat*wl}
	var right *table
	if len(branches) == 2 {
		right, err = c.compile(branches[1].Node, rp)
	} else {
		c.nodes++
		right, err = c.compileOr(branches[1:], rp)
	}
	if err != nil {
		return nil, err
	}

	t := newTable(p)
	orCandidates(t, left, right, wl)
	orCandidates(t, right, left, wr)
	t.closeCasts()
	return t, nil
}

// orCandidates adds the OR encodings with x on the left, taken with weight
// wx, and z on the right.
func orCandidates(t, x, z *table, wx float64) {
	for _, l := range x.sorted() {
		for _, r := range z.sorted() {
			t.insert(orB(l, r, wx))
			t.insert(orD(l, r, wx))
			t.insert(orC(l, r, wx))
			t.insert(orI(l, r, wx))
		}
	}

	// An AND branch can be the condition and consequence of andor.
	if x.operands == nil {
		return
	}
	ops := x.operands
	for _, pair := range [][2]*table{{ops[0], ops[1]}, {ops[1], ops[0]}} {
		for _, cond := range pair[0].sorted() {
			for _, then := range pair[1].sorted() {
				for _, r := range z.sorted() {
					t.insert(andOr(cond, then, r, wx))
				}
			}
		}
	}
}

func (c *compiler) compileThresh(n *policy.Thresh, p probs) (*table,
	error) {

	t := newTable(p)
	if keys, ok := multiKeys(n); ok {
		c.nodes += len(n.Subs)
		keyList := make([]miniscript.Key, len(keys))
		for i, id := range keys {
			key, err := miniscript.ParseKey(id)
			if err != nil {
				return nil, err
			}
			keyList[i] = key
		}
		cand, err := multiCandidate(n.K, keyList)
		if err != nil {
			return nil, err
		}
		t.insert(cand)
		t.closeCasts()
		return t, nil
	}

	// Every child is satisfied in k of n spends.
	q := float64(n.K) / float64(len(n.Subs))
	cp := probs{sat: p.sat * q, dsat: p.dsat + p.sat*(1-q)}

	subs := make([]*table, len(n.Subs))
	chosen := make([]*candidate, len(n.Subs))
	for i, sub := range n.Subs {
		st, err := c.compile(sub, cp)
		if err != nil {
			return nil, err
		}
		subs[i] = st

		typ := "Wdu"
		if i == 0 {
			typ = "Bdu"
		}
		if st.best(typ) == nil {
			str := fmt.Sprintf("thresh child %v has no "+
				"dissatisfiable %s encoding", sub, typ[:1])
			return nil, compileError(
				ErrUnsatisfiableDissatisfaction, str,
			)
		}
		chosen[i] = st.best(typ + "e")
	}
	for _, cand := range chosen {
		if cand == nil {
			log.Debugf("No non-malleable thresh for %v", n)
			t.closeCasts()
			return t, nil
		}
	}

	// At most k children may lack the s property, or a third party
	// could choose which ones to satisfy.
	for notS := countNotS(chosen); notS > n.K; notS-- {
		swap, bestDelta := -1, 0.0
		var swapCand *candidate
		for i, cand := range chosen {
			if cand.node.Is("s") {
				continue
			}
			typ := "Wdues"
			if i == 0 {
				typ = "Bdues"
			}
			s := subs[i].best(typ)
			if s == nil {
				continue
			}
			delta := s.cost(cp) - cand.cost(cp)
			if swap < 0 || delta < bestDelta {
				swap, bestDelta, swapCand = i, delta, s
			}
		}
		if swap < 0 {
			log.Debugf("Too few signature children for a "+
				"non-malleable thresh in %v", n)
			t.closeCasts()
			return t, nil
		}
		chosen[swap] = swapCand
	}

	t.insert(threshCandidate(n.K, chosen))
	t.closeCasts()
	return t, nil
}

// multiKeys returns the key ids of a threshold of keys that fits in a
// CHECKMULTISIG.
func multiKeys(n *policy.Thresh) ([]string, bool) {
	if len(n.Subs) > miniscript.MultisigMaxKeys {
		return nil, false
	}
	ids := make([]string, len(n.Subs))
	for i, sub := range n.Subs {
		key, ok := sub.(*policy.Key)
		if !ok {
			return nil, false
		}
		ids[i] = key.ID
	}
	return ids, true
}

func countNotS(cands []*candidate) int {
	count := 0
	for _, cand := range cands {
		if !cand.node.Is("s") {
			count++
		}
	}
	return count
}
