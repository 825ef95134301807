// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package policy

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcpolicy/internal/expr"
)

// ParseOption is a function type for configuring the policy parser.
type ParseOption func(*parseConfig)

// parseConfig holds the configuration of the policy parser.
type parseConfig struct {
	maxDepth int
}

// WithMaxDepth overrides DefaultMaxDepth. A non-positive depth disables the
// limit.
func WithMaxDepth(depth int) ParseOption {
	return func(cfg *parseConfig) {
		cfg.maxDepth = depth
	}
}

// Parse parses a policy of the grammar
//
//	pk(ID) | after(N) | older(N) | sha256(H) | hash256(H) | ripemd160(H) |
//	hash160(H) | thresh(K,E1,...,En) | and(E1,E2) | or(E1,E2) |
//	or(W1@E1,W2@E2)
//
// and validates it. Whitespace is ignored. Weights of `or` default to 1.
func Parse(text string, opts ...ParseOption) (Node, error) {
	cfg := &parseConfig{maxDepth: DefaultMaxDepth}
	for _, opt := range opts {
		opt(cfg)
	}

	// Every policy leaf has one argument level below it in the
	// expression tree, e.g. pk -> A.
	exprDepth := cfg.maxDepth
	if exprDepth > 0 {
		exprDepth++
	}
	tree, err := expr.Parse(text, exprDepth)
	switch {
	case errors.Is(err, expr.ErrDepthExceeded):
		str := fmt.Sprintf("policy nests deeper than %d levels",
			cfg.maxDepth)
		return nil, policyError(ErrDepthExceeded, str)

	case err != nil:
		return nil, policyError(ErrMalformed, err.Error())
	}

	node, err := fromTree(tree)
	if err != nil {
		return nil, err
	}
	if err := Validate(node, cfg.maxDepth); err != nil {
		return nil, err
	}
	return node, nil
}

// MustParse is like Parse but panics on error. It is meant for tests and
// package level policies known to be valid.
func MustParse(text string) Node {
	node, err := Parse(text)
	if err != nil {
		panic(err)
	}
	return node
}

func malformed(format string, args ...interface{}) error {
	return policyError(ErrMalformed, fmt.Sprintf(format, args...))
}

// leafArg returns the single argument of t, which must not have arguments
// itself.
func leafArg(t *expr.Tree) (string, error) {
	if len(t.Args) != 1 {
		return "", malformed("%s expects 1 argument, got %d", t.Name,
			len(t.Args))
	}
	if !t.Args[0].IsLeaf() {
		return "", malformed("argument of %s must not contain "+
			"subexpressions", t.Name)
	}
	return t.Args[0].Name, nil
}

func parseLockTime(t *expr.Tree) (uint32, error) {
	arg, err := leafArg(t)
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseUint(arg, 10, 32)
	if err != nil {
		return 0, malformed("%s(n) => n must be an unsigned integer, "+
			"but got: %s", t.Name, arg)
	}
	return uint32(n), nil
}

func fromTree(t *expr.Tree) (Node, error) {
	if strings.Contains(t.Name, "@") {
		return nil, malformed("weight prefix outside of or: %s",
			t.Name)
	}

	switch t.Name {
	case "pk":
		id, err := leafArg(t)
		if err != nil {
			return nil, err
		}
		return &Key{ID: id}, nil

	case "after":
		n, err := parseLockTime(t)
		if err != nil {
			return nil, err
		}
		return &After{LockTime: n}, nil

	case "older":
		n, err := parseLockTime(t)
		if err != nil {
			return nil, err
		}
		return &Older{Sequence: n}, nil

	case "sha256", "hash256", "ripemd160", "hash160":
		arg, err := leafArg(t)
		if err != nil {
			return nil, err
		}
		digest, err := hex.DecodeString(arg)
		if err != nil {
			str := fmt.Sprintf("%s digest is not hex: %v", t.Name,
				err)
			return nil, policyError(ErrInvalidHash, str)
		}
		var fn HashFunc
		for f, name := range hashFuncNames {
			if name == t.Name {
				fn = f
			}
		}
		return &Hash{Func: fn, Digest: digest}, nil

	case "thresh":
		if len(t.Args) == 0 || !t.Args[0].IsLeaf() {
			return nil, malformed("thresh(k, ...) requires a " +
				"numeric first argument")
		}
		k, err := strconv.Atoi(t.Args[0].Name)
		if err != nil {
			return nil, malformed("thresh(k, ...) => k must be an "+
				"integer, but got: %s", t.Args[0].Name)
		}
		subs, err := fromTrees(t.Args[1:])
		if err != nil {
			return nil, err
		}
		return &Thresh{K: k, Subs: subs}, nil

	case "and":
		if len(t.Args) != 2 {
			return nil, malformed("and expects 2 arguments, got %d",
				len(t.Args))
		}
		subs, err := fromTrees(t.Args)
		if err != nil {
			return nil, err
		}
		return &And{X: subs[0], Y: subs[1]}, nil

	case "or":
		if len(t.Args) != 2 {
			return nil, malformed("or expects 2 arguments, got %d",
				len(t.Args))
		}
		branches := make([]Branch, len(t.Args))
		for i, arg := range t.Args {
			b, err := fromBranch(arg)
			if err != nil {
				return nil, err
			}
			branches[i] = b
		}
		return &Or{Branches: branches}, nil

	default:
		return nil, malformed("unrecognized identifier: %s", t.Name)
	}
}

func fromTrees(trees []*expr.Tree) ([]Node, error) {
	nodes := make([]Node, len(trees))
	for i, t := range trees {
		node, err := fromTree(t)
		if err != nil {
			return nil, err
		}
		nodes[i] = node
	}
	return nodes, nil
}

// fromBranch parses an OR branch with an optional `W@` weight prefix.
func fromBranch(t *expr.Tree) (Branch, error) {
	weight := 1.0
	name := t.Name
	if at := strings.IndexByte(name, '@'); at >= 0 {
		w, err := strconv.ParseFloat(name[:at], 64)
		if err != nil {
			return Branch{}, malformed("invalid or weight %q",
				name[:at])
		}
		weight, name = w, name[at+1:]
	}

	node, err := fromTree(&expr.Tree{Name: name, Args: t.Args})
	if err != nil {
		return Branch{}, err
	}
	return Branch{Weight: weight, Node: node}, nil
}
