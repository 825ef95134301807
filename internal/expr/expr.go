// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package expr parses the nested function-call notation shared by spending
// policies and miniscript descriptors, e.g. `or(pk(A),and(pk(B),older(144)))`,
// into a generic tree. It knows nothing about the meaning of identifiers.
package expr

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

var (
	// ErrSyntax is wrapped by every error caused by malformed input.
	ErrSyntax = errors.New("syntax error")

	// ErrDepthExceeded is returned when the expression nests deeper than
	// the limit passed to Parse.
	ErrDepthExceeded = errors.New("maximum nesting depth exceeded")
)

// Tree is a single expression `Name(Args...)`. Leaves such as key
// identifiers and numbers have no arguments.
type Tree struct {
	Name string
	Args []*Tree
}

// IsLeaf returns true if the expression has no arguments.
func (t *Tree) IsLeaf() bool {
	return len(t.Args) == 0
}

// String reassembles the expression without whitespace.
func (t *Tree) String() string {
	if t.IsLeaf() {
		return t.Name
	}
	args := make([]string, len(t.Args))
	for i, arg := range t.Args {
		args[i] = arg.String()
	}
	return fmt.Sprintf("%s(%s)", t.Name, strings.Join(args, ","))
}

type stack struct {
	elements []*Tree
}

func (s *stack) push(element *Tree) {
	s.elements = append(s.elements, element)
}

func (s *stack) pop() *Tree {
	if len(s.elements) == 0 {
		return nil
	}
	top := s.elements[len(s.elements)-1]
	s.elements = s.elements[:len(s.elements)-1]
	return top
}

func (s *stack) top() *Tree {
	if len(s.elements) == 0 {
		return nil
	}
	return s.elements[len(s.elements)-1]
}

func (s *stack) size() int {
	return len(s.elements)
}

func isSeparator(c rune) bool {
	return c == '(' || c == ')' || c == ','
}

// splitString splits s at every separator, keeping the separators as
// individual elements and dropping empty elements.
func splitString(s string) []string {
	tokens := make([]string, 0)
	i := 0
	for i < len(s) {
		j := strings.IndexFunc(s[i:], isSeparator)
		if j == -1 {
			return append(tokens, s[i:])
		}
		j += i
		if j > i {
			tokens = append(tokens, s[i:j])
		}
		tokens = append(tokens, s[j:j+1])
		i = j + 1
	}
	return tokens
}

func syntaxError(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrSyntax, fmt.Sprintf(format, args...))
}

// Parse builds the expression tree for s. Whitespace is ignored. If maxDepth
// is positive, expressions nested deeper than maxDepth levels are rejected
// with ErrDepthExceeded.
func Parse(s string, maxDepth int) (*Tree, error) {
	s = strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)

	tokens := splitString(s)
	if len(tokens) == 0 {
		return nil, syntaxError("empty expression")
	}
	first, last := tokens[0], tokens[len(tokens)-1]
	if isSeparator(rune(first[0])) || last == "(" || last == "," {
		return nil, syntaxError("invalid first or last character")
	}

	var st stack
	for i, token := range tokens {
		var prev string
		if i > 0 {
			prev = tokens[i-1]
		}

		switch token {
		case "(":
			// "((", ")(", ",(" and a leading "(" never appear in a
			// well formed expression.
			if i == 0 || prev == "(" || prev == ")" || prev == "," {
				return nil, syntaxError("the sequence %s%s is "+
					"invalid", prev, token)
			}

		case ",", ")":
			// "(,", "()", ",,", ",)" are invalid.
			if prev == "(" || prev == "," {
				return nil, syntaxError("the sequence %s%s is "+
					"invalid", prev, token)
			}

			arg := st.pop()
			parent := st.top()
			if arg == nil || parent == nil {
				return nil, syntaxError("unbalanced parentheses")
			}
			parent.Args = append(parent.Args, arg)

		default:
			if prev == ")" {
				return nil, syntaxError("the sequence %s%s is "+
					"invalid", prev, token)
			}
			st.push(&Tree{Name: token})
			if maxDepth > 0 && st.size() > maxDepth {
				return nil, fmt.Errorf("%w: limit is %d",
					ErrDepthExceeded, maxDepth)
			}
		}
	}

	if st.size() != 1 {
		return nil, syntaxError("unbalanced parentheses")
	}
	return st.top(), nil
}
