// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package policy

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const testDigest = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"

// TestParse checks that valid policies parse into the expected trees and
// print back canonically.
func TestParse(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name      string
		text      string
		canonical string
		check     func(t *testing.T, n Node)
	}{
		{
			name:      "single key",
			text:      "pk(A)",
			canonical: "pk(A)",
			check: func(t *testing.T, n Node) {
				require.Equal(t, &Key{ID: "A"}, n)
			},
		},
		{
			name:      "whitespace",
			text:      " and( pk(A) ,\n\tolder(144) ) ",
			canonical: "and(pk(A),older(144))",
			check: func(t *testing.T, n Node) {
				require.Equal(t, &And{
					X: &Key{ID: "A"},
					Y: &Older{Sequence: 144},
				}, n)
			},
		},
		{
			name:      "weighted or",
			text:      "or(99@pk(A),1@after(500000))",
			canonical: "or(99@pk(A),1@after(500000))",
			check: func(t *testing.T, n Node) {
				or := n.(*Or)
				require.Equal(t, 99.0, or.Branches[0].Weight)
				require.Equal(t, 1.0, or.Branches[1].Weight)
			},
		},
		{
			name:      "default weights",
			text:      "or(pk(A),pk(B))",
			canonical: "or(pk(A),pk(B))",
			check: func(t *testing.T, n Node) {
				or := n.(*Or)
				require.Equal(t, 1.0, or.Branches[0].Weight)
				require.Equal(t, 1.0, or.Branches[1].Weight)
			},
		},
		{
			name:      "fractional weight",
			text:      "or(0.5@pk(A),pk(B))",
			canonical: "or(0.5@pk(A),1@pk(B))",
		},
		{
			name:      "threshold",
			text:      "thresh(2,pk(A),pk(B),pk(C))",
			canonical: "thresh(2,pk(A),pk(B),pk(C))",
			check: func(t *testing.T, n Node) {
				th := n.(*Thresh)
				require.Equal(t, 2, th.K)
				require.Len(t, th.Subs, 3)
			},
		},
		{
			name:      "hash lock",
			text:      "and(pk(A),sha256(" + testDigest + "))",
			canonical: "and(pk(A),sha256(" + testDigest + "))",
			check: func(t *testing.T, n Node) {
				h := n.(*And).Y.(*Hash)
				require.Equal(t, HashSha256, h.Func)
				require.Len(t, h.Digest, 32)
			},
		},
		{
			name:      "hash160",
			text:      "hash160(" + testDigest[:40] + ")",
			canonical: "hash160(" + testDigest[:40] + ")",
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			n, err := Parse(tc.text)
			require.NoError(t, err)
			require.Equal(t, tc.canonical, n.String())
			if tc.check != nil {
				tc.check(t, n)
			}

			// The canonical text parses back to the same text.
			again, err := Parse(n.String())
			require.NoError(t, err)
			require.Equal(t, n.String(), again.String())
		})
	}
}

// TestParseErrors checks the error codes reported for invalid policies.
func TestParseErrors(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		text string
		code ErrorCode
	}{
		{"", ErrMalformed},
		{"pk(A", ErrMalformed},
		{"pk()", ErrMalformed},
		{"pk(A,B)", ErrMalformed},
		{"pk(f(A))", ErrMalformed},
		{"foo(A)", ErrMalformed},
		{"and(pk(A))", ErrMalformed},
		{"and(pk(A),pk(B),pk(C))", ErrMalformed},
		{"or(pk(A))", ErrMalformed},
		{"2@pk(A)", ErrMalformed},
		{"and(2@pk(A),pk(B))", ErrMalformed},
		{"or(x@pk(A),pk(B))", ErrMalformed},
		{"after(-1)", ErrMalformed},
		{"after(abc)", ErrMalformed},
		{"thresh(k,pk(A))", ErrMalformed},
		{"thresh(0,pk(A),pk(B))", ErrInvalidThreshold},
		{"thresh(3,pk(A),pk(B))", ErrInvalidThreshold},
		{"thresh(-1,pk(A))", ErrInvalidThreshold},
		{"thresh(1)", ErrEmptyBranch},
		{"or(0@pk(A),pk(B))", ErrInvalidWeight},
		{"or(-1@pk(A),pk(B))", ErrInvalidWeight},
		{"or(Inf@pk(A),pk(B))", ErrInvalidWeight},
		{"after(0)", ErrInvalidLockTime},
		{"older(2147483648)", ErrInvalidLockTime},
		{"sha256(00)", ErrInvalidHash},
		{"sha256(zz)", ErrInvalidHash},
		{"hash160(" + testDigest + ")", ErrInvalidHash},
		{"and(pk(A),pk(A))", ErrDuplicateKey},
		{"pk(A-B)", ErrMalformed},
	}

	for _, tc := range testCases {
		_, err := Parse(tc.text)
		require.Errorf(t, err, "policy %q", tc.text)
		require.Truef(t, IsErrorCode(err, tc.code), "policy %q: got "+
			"%v, want %v", tc.text, err, tc.code)
	}
}

// TestParseDepth checks the nesting limit and its option.
func TestParseDepth(t *testing.T) {
	t.Parallel()

	// Builds and(pk(K0),and(pk(K1),...)) with the given policy depth.
	nested := func(depth int) string {
		var b strings.Builder
		for i := 0; i < depth-1; i++ {
			b.WriteString("and(pk(K")
			b.WriteString(strings.Repeat("x", i))
			b.WriteString("),")
		}
		b.WriteString("pk(L)")
		b.WriteString(strings.Repeat(")", depth-1))
		return b.String()
	}

	n, err := Parse(nested(DefaultMaxDepth))
	require.NoError(t, err)
	require.Equal(t, DefaultMaxDepth, Depth(n))

	_, err = Parse(nested(DefaultMaxDepth + 1))
	require.True(t, IsErrorCode(err, ErrDepthExceeded), "got %v", err)

	_, err = Parse(nested(4), WithMaxDepth(3))
	require.True(t, IsErrorCode(err, ErrDepthExceeded), "got %v", err)

	_, err = Parse(nested(4), WithMaxDepth(4))
	require.NoError(t, err)

	_, err = Parse(nested(DefaultMaxDepth+10), WithMaxDepth(0))
	require.NoError(t, err)
}

// TestKeys checks that keys are listed in order of appearance.
func TestKeys(t *testing.T) {
	t.Parallel()

	n := MustParse("or(thresh(2,pk(B),pk(A),pk(C)),and(pk(D),older(9)))")
	require.Equal(t, []string{"B", "A", "C", "D"}, Keys(n))
	require.Equal(t, 3, Depth(n))
}

// TestValidateConstructed checks validation of trees built in code.
func TestValidateConstructed(t *testing.T) {
	t.Parallel()

	err := Validate(&And{X: &Key{ID: "A"}}, DefaultMaxDepth)
	require.True(t, IsErrorCode(err, ErrEmptyBranch))

	err = Validate(&Thresh{K: 1, Subs: []Node{nil}}, DefaultMaxDepth)
	require.True(t, IsErrorCode(err, ErrEmptyBranch))

	err = Validate(&Or{Branches: []Branch{
		{Weight: 1, Node: &Key{ID: "A"}},
	}}, DefaultMaxDepth)
	require.True(t, IsErrorCode(err, ErrEmptyBranch))

	err = Validate(&Hash{Func: 9, Digest: make([]byte, 32)}, 0)
	require.True(t, IsErrorCode(err, ErrInvalidHash))

	require.NoError(t, Validate(&Or{Branches: []Branch{
		{Weight: 1, Node: &Key{ID: "A"}},
		{Weight: 2, Node: &Key{ID: "B"}},
		{Weight: 3, Node: &After{LockTime: 10}},
	}}, DefaultMaxDepth))
}
