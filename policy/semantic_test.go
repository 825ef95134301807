// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package policy

import (
	"bytes"
	"encoding/hex"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/stretchr/testify/require"
)

type testAssets struct {
	sigs      map[string]bool
	preimages [][]byte
	height    uint32
	age       uint32
}

func (a *testAssets) HasSignature(id string) bool { return a.sigs[id] }

func (a *testAssets) HasPreimage(fn HashFunc, digest []byte) bool {
	for _, d := range a.preimages {
		if bytes.Equal(d, digest) {
			return true
		}
	}
	return false
}

func (a *testAssets) AfterSatisfied(n uint32) bool { return a.height >= n }

func (a *testAssets) OlderSatisfied(n uint32) bool { return a.age >= n }

// TestEvaluate checks the boolean semantics of each combinator.
func TestEvaluate(t *testing.T) {
	t.Parallel()

	digest, _ := hex.DecodeString(testDigest)

	testCases := []struct {
		policy string
		assets testAssets
		want   bool
	}{
		{"pk(A)", testAssets{sigs: map[string]bool{"A": true}}, true},
		{"pk(A)", testAssets{}, false},
		{"after(100)", testAssets{height: 100}, true},
		{"after(100)", testAssets{height: 99}, false},
		{"older(10)", testAssets{age: 11}, true},
		{"sha256(" + testDigest + ")", testAssets{
			preimages: [][]byte{digest},
		}, true},
		{"and(pk(A),older(10))", testAssets{
			sigs: map[string]bool{"A": true}, age: 5,
		}, false},
		{"or(pk(A),older(10))", testAssets{age: 10}, true},
		{"or(pk(A),older(10))", testAssets{age: 9}, false},
		{"thresh(2,pk(A),pk(B),pk(C))", testAssets{
			sigs: map[string]bool{"A": true, "C": true},
		}, true},
		{"thresh(2,pk(A),pk(B),pk(C))", testAssets{
			sigs: map[string]bool{"B": true},
		}, false},
		{"thresh(2,pk(A),older(5),after(7))", testAssets{
			age: 5, height: 7,
		}, true},
	}

	for _, tc := range testCases {
		tc := tc
		n := MustParse(tc.policy)
		require.Equalf(t, tc.want, Evaluate(n, &tc.assets), "policy %s",
			tc.policy)
	}
}

// TestStaticKeyProvider checks key resolution by name and by hex.
func TestStaticKeyProvider(t *testing.T) {
	t.Parallel()

	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	pub := priv.PubKey()
	hexKey := hex.EncodeToString(pub.SerializeCompressed())

	kp := StaticKeyProvider{"alice": pub}

	got, err := kp.ResolveKey("alice")
	require.NoError(t, err)
	require.True(t, got.IsEqual(pub))

	got, err = kp.ResolveKey(hexKey)
	require.NoError(t, err)
	require.True(t, got.IsEqual(pub))

	_, err = kp.ResolveKey("bob")
	require.True(t, IsErrorCode(err, ErrUnknownKey))

	keys, err := ResolveKeys(MustParse("or(pk(alice),pk("+hexKey+"))"), kp)
	require.NoError(t, err)
	require.Len(t, keys, 2)

	_, err = ResolveKeys(MustParse("pk(bob)"), kp)
	require.True(t, IsErrorCode(err, ErrUnknownKey))

	_, err = ResolveKeys(MustParse("pk(alice)"), nil)
	require.True(t, IsErrorCode(err, ErrUnknownKey))
}
