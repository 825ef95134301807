// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package miniscript

import (
	"bytes"
	"encoding/hex"
	"errors"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcpolicy/policy"
	"github.com/stretchr/testify/require"
)

const testAmount = 100000

// testSpend is a transaction spending the output of a tree.
type testSpend struct {
	tree      *Tree
	tpl       *Template
	tx        *wire.MsgTx
	fetcher   txscript.PrevOutputFetcher
	sigHashes *txscript.TxSigHashes
}

// newTestSpend resolves the keys of desc and builds a transaction spending
// its output with the given lock time and input sequence.
func newTestSpend(t *testing.T, desc string, lockTime,
	sequence uint32) *testSpend {

	t.Helper()

	tree, err := ParseDescriptor(desc)
	require.NoError(t, err, desc)
	tree, err = tree.ApplyKeys(testLookup)
	require.NoError(t, err, desc)

	tpl, err := tree.Serialize(txscript.StandardVerifyFlags)
	require.NoError(t, err, desc)

	tx := wire.NewMsgTx(2)
	tx.AddTxIn(&wire.TxIn{
		PreviousOutPoint: wire.OutPoint{
			Hash:  chainhash.HashH([]byte(desc)),
			Index: 0,
		},
		Sequence: sequence,
	})
	tx.AddTxOut(&wire.TxOut{
		Value:    testAmount - 1000,
		PkScript: []byte{txscript.OP_TRUE},
	})
	tx.LockTime = lockTime

	fetcher := txscript.NewCannedPrevOutputFetcher(
		tpl.PkScript, testAmount,
	)
	return &testSpend{
		tree:      tree,
		tpl:       tpl,
		tx:        tx,
		fetcher:   fetcher,
		sigHashes: txscript.NewTxSigHashes(tx, fetcher),
	}
}

// sign returns the signatures of the named keys over the spending
// transaction.
func (s *testSpend) sign(t *testing.T, names ...string) map[string][]byte {
	t.Helper()

	sigs := make(map[string][]byte)
	for _, name := range names {
		var (
			sig []byte
			err error
		)
		if s.tree.Context == ContextP2WSH {
			sig, err = txscript.RawTxInWitnessSignature(
				s.tx, s.sigHashes, 0, testAmount, s.tpl.Script,
				txscript.SigHashAll, testPrivKey(name),
			)
		} else {
			sig, err = txscript.RawTxInSignature(
				s.tx, 0, s.tpl.Script, txscript.SigHashAll,
				testPrivKey(name),
			)
		}
		require.NoError(t, err)
		sigs[name] = sig
	}
	return sigs
}

// execute finalizes the witness into the transaction and runs the script
// engine on it.
func (s *testSpend) execute(t *testing.T, stack wire.TxWitness) error {
	t.Helper()

	sigScript, witness, err := s.tree.Finalize(stack)
	require.NoError(t, err)
	s.tx.TxIn[0].SignatureScript = sigScript
	s.tx.TxIn[0].Witness = witness

	vm, err := txscript.NewEngine(
		s.tpl.PkScript, s.tx, 0, txscript.StandardVerifyFlags, nil,
		s.sigHashes, testAmount, s.fetcher,
	)
	if err != nil {
		return err
	}
	return vm.Execute()
}

// TestSatisfyExecute satisfies scripts and checks that the script engine
// accepts the witness.
func TestSatisfyExecute(t *testing.T) {
	t.Parallel()

	preimage := bytes.Repeat([]byte{0x42}, 32)
	sha := hex.EncodeToString(HashPreimage(FragSha256, preimage))
	h256 := hex.EncodeToString(HashPreimage(FragHash256, preimage))
	rmd := hex.EncodeToString(HashPreimage(FragRipemd160, preimage))
	h160 := hex.EncodeToString(HashPreimage(FragHash160, preimage))
	preimages := map[string][]byte{
		sha: preimage, h256: preimage, rmd: preimage, h160: preimage,
	}

	testCases := []struct {
		name     string
		desc     string
		signers  []string
		hashes   bool
		lockTime uint32
		sequence uint32
		height   uint32
		age      uint32

		// stackLen is the expected number of witness elements, not
		// counting the script.
		stackLen int
	}{
		{
			name:     "single key",
			desc:     "wsh(pk(A))",
			signers:  []string{"A"},
			sequence: wire.MaxTxInSequenceNum,
			stackLen: 1,
		},
		{
			name:     "key hash p2sh",
			desc:     "sh(pkh(A))",
			signers:  []string{"A"},
			sequence: wire.MaxTxInSequenceNum,
			stackLen: 2,
		},
		{
			name:     "or_d first branch",
			desc:     "wsh(or_d(pk(A),and_v(v:pk(B),older(10))))",
			signers:  []string{"A", "B"},
			sequence: 10,
			age:      10,
			stackLen: 1,
		},
		{
			name:     "or_d timelocked branch",
			desc:     "wsh(or_d(pk(A),and_v(v:pk(B),older(10))))",
			signers:  []string{"B"},
			sequence: 10,
			age:      12,
			stackLen: 2,
		},
		{
			name:     "multisig",
			desc:     "wsh(multi(2,A,B,C))",
			signers:  []string{"A", "C"},
			sequence: wire.MaxTxInSequenceNum,
			stackLen: 3,
		},
		{
			name:     "thresh p2sh",
			desc:     "sh(thresh(2,pk(A),s:pk(B),s:pk(C)))",
			signers:  []string{"B", "C"},
			sequence: wire.MaxTxInSequenceNum,
			stackLen: 3,
		},
		{
			name: "thresh with timelock",
			desc: "wsh(thresh(2,pk(A),s:pk(B)," +
				"sln:after(500)))",
			signers:  []string{"B"},
			lockTime: 500,
			sequence: 0,
			height:   500,
			stackLen: 3,
		},
		{
			name: "andor hash branch",
			desc: "wsh(andor(pk(A),sha256(" + sha + "),and_v(" +
				"v:pk(B),after(100))))",
			signers:  []string{"A"},
			hashes:   true,
			sequence: wire.MaxTxInSequenceNum,
			stackLen: 2,
		},
		{
			name: "andor else branch",
			desc: "wsh(andor(pk(A),sha256(" + sha + "),and_v(" +
				"v:pk(B),after(100))))",
			signers:  []string{"B"},
			lockTime: 150,
			sequence: 0,
			height:   150,
			stackLen: 2,
		},
		{
			name: "or_i hash160",
			desc: "wsh(or_i(and_v(v:pkh(A),hash160(" + h160 +
				")),older(1000)))",
			signers:  []string{"A"},
			hashes:   true,
			sequence: wire.MaxTxInSequenceNum,
			stackLen: 4,
		},
		{
			name:     "or_b",
			desc:     "sh(or_b(pk(A),s:pk(B)))",
			signers:  []string{"B"},
			sequence: wire.MaxTxInSequenceNum,
			stackLen: 2,
		},
		{
			name: "or_c ripemd160",
			desc: "wsh(t:or_c(pk(A),v:ripemd160(" + rmd +
				")))",
			hashes:   true,
			sequence: wire.MaxTxInSequenceNum,
			stackLen: 2,
		},
		{
			name:     "j hash256",
			desc:     "wsh(j:and_v(v:hash256(" + h256 + "),pk(A)))",
			signers:  []string{"A"},
			hashes:   true,
			sequence: wire.MaxTxInSequenceNum,
			stackLen: 2,
		},
		{
			name:     "and_n",
			desc:     "wsh(and_n(pk(A),pk(B)))",
			signers:  []string{"A", "B"},
			sequence: wire.MaxTxInSequenceNum,
			stackLen: 2,
		},
		{
			name:     "d wrapper",
			desc:     "wsh(and_b(pk(A),sdv:older(5)))",
			signers:  []string{"A"},
			sequence: 5,
			age:      5,
			stackLen: 2,
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			spend := newTestSpend(
				t, tc.desc, tc.lockTime, tc.sequence,
			)
			ctx := &SigningContext{
				Signatures: spend.sign(t, tc.signers...),
				Height:     tc.height,
				InputAge:   tc.age,
			}
			if tc.hashes {
				ctx.Preimages = preimages
			}

			stack, err := spend.tree.Satisfy(ctx)
			require.NoError(t, err)
			require.Len(t, stack, tc.stackLen)

			size, ok := spend.tree.Root.SatSize()
			require.True(t, ok)
			require.LessOrEqual(t, stack.SerializeSize()-1, size)

			require.NoError(t, spend.execute(t, stack))
		})
	}
}

// TestSatisfyErrors checks the error codes and the leaves reported when no
// witness exists.
func TestSatisfyErrors(t *testing.T) {
	t.Parallel()

	desc := "wsh(or_d(pk(A),and_v(v:pk(B),older(10))))"
	spend := newTestSpend(t, desc, 0, 5)

	// B signed but the output is too young.
	_, err := spend.tree.Satisfy(&SigningContext{
		Signatures: spend.sign(t, "B"),
		InputAge:   5,
	})
	var satErr *SatisfyError
	require.True(t, errors.As(err, &satErr), "got %v", err)
	require.Equal(t, ErrTimelockNotMet, satErr.ErrorCode)
	require.Equal(t, []string{"A"}, satErr.MissingSignatures)
	require.Equal(t, []string{"older(10)"}, satErr.UnmetTimelocks)

	// Nobody signed.
	_, err = spend.tree.Satisfy(&SigningContext{InputAge: 5})
	require.True(t, errors.As(err, &satErr), "got %v", err)
	require.Equal(t, ErrUnsatisfiable, satErr.ErrorCode)
	require.Equal(t, []string{"A", "B"}, satErr.MissingSignatures)

	// A wrong preimage is not used.
	digest := HashPreimage(FragSha256, bytes.Repeat([]byte{1}, 32))
	hashSpend := newTestSpend(t, "wsh(sha256("+hex.EncodeToString(digest)+
		"))", 0, wire.MaxTxInSequenceNum)
	_, err = hashSpend.tree.Satisfy(&SigningContext{
		Preimages: map[string][]byte{
			hex.EncodeToString(digest): bytes.Repeat([]byte{2}, 32),
		},
	})
	require.True(t, IsErrorCode(err, ErrUnsatisfiable), "got %v", err)
	require.True(t, errors.As(err, &satErr))
	require.Equal(t, []string{hex.EncodeToString(digest)},
		satErr.MissingPreimages)
}

// TestMultiSignatureChoice checks that multi uses the smallest signatures in
// key order.
func TestMultiSignatureChoice(t *testing.T) {
	t.Parallel()

	tree, err := ParseDescriptor("wsh(multi(2,A,B,C))")
	require.NoError(t, err)
	tree, err = tree.ApplyKeys(testLookup)
	require.NoError(t, err)

	sigA := bytes.Repeat([]byte{0xa}, 72)
	sigB := bytes.Repeat([]byte{0xb}, 71)
	sigC := bytes.Repeat([]byte{0xc}, 70)

	stack, err := tree.Satisfy(&SigningContext{
		Signatures: map[string][]byte{"A": sigA, "B": sigB, "C": sigC},
	})
	require.NoError(t, err)
	require.Equal(t, wire.TxWitness{{}, sigB, sigC}, stack)

	// Ties go to the first key.
	stack, err = tree.Satisfy(&SigningContext{
		Signatures: map[string][]byte{"A": sigC, "B": sigC, "C": sigC},
	})
	require.NoError(t, err)
	require.Equal(t, wire.TxWitness{{}, sigC, sigC}, stack)

	_, err = tree.Satisfy(&SigningContext{
		Signatures: map[string][]byte{"C": sigC},
	})
	require.True(t, IsErrorCode(err, ErrUnsatisfiable), "got %v", err)
}

// TestSatisfySmallest checks that the smaller of two available branches is
// chosen.
func TestSatisfySmallest(t *testing.T) {
	t.Parallel()

	tree, err := ParseDescriptor("wsh(or_i(pk(A),pkh(B)))")
	require.NoError(t, err)
	tree, err = tree.ApplyKeys(testLookup)
	require.NoError(t, err)

	sig := bytes.Repeat([]byte{1}, 71)
	stack, err := tree.Satisfy(&SigningContext{
		Signatures: map[string][]byte{"A": sig, "B": sig},
	})
	require.NoError(t, err)
	require.Equal(t, wire.TxWitness{sig, {1}}, stack)

	stack, err = tree.Satisfy(&SigningContext{
		Signatures: map[string][]byte{"B": sig},
	})
	require.NoError(t, err)
	require.Len(t, stack, 3)
	require.Equal(t, []byte{}, []byte(stack[2]))
}

type testChain struct {
	height, mtp, blocks, seconds uint32
	err                          error
}

func (c *testChain) BestHeight() (uint32, error) {
	return c.height, c.err
}

func (c *testChain) MedianTimePast() (uint32, error) {
	return c.mtp, c.err
}

func (c *testChain) InputAge(wire.OutPoint) (uint32, uint32, error) {
	return c.blocks, c.seconds, c.err
}

// TestSigningContext checks timelock evaluation and the Assets view of a
// signing context.
func TestSigningContext(t *testing.T) {
	t.Parallel()

	chain := &testChain{
		height: 800000, mtp: 1700000000, blocks: 20, seconds: 5120,
	}
	ctx, err := NewSigningContext(chain, wire.OutPoint{}, nil, nil)
	require.NoError(t, err)

	require.True(t, ctx.AfterSatisfied(800000))
	require.False(t, ctx.AfterSatisfied(800001))
	require.True(t, ctx.AfterSatisfied(1700000000))
	require.False(t, ctx.AfterSatisfied(1700000001))

	require.True(t, ctx.OlderSatisfied(20))
	require.False(t, ctx.OlderSatisfied(21))

	// 10 units of 512 seconds.
	secs := uint32(wire.SequenceLockTimeIsSeconds | 10)
	require.True(t, ctx.OlderSatisfied(secs))
	require.False(t, ctx.OlderSatisfied(secs+1))
	require.False(t, ctx.OlderSatisfied(wire.SequenceLockTimeDisabled|1))

	chain.err = errors.New("no chain")
	_, err = NewSigningContext(chain, wire.OutPoint{}, nil, nil)
	require.Error(t, err)

	preimage := bytes.Repeat([]byte{7}, 32)
	digest := HashPreimage(FragHash160, preimage)
	ctx.Preimages = map[string][]byte{hex.EncodeToString(digest): preimage}
	ctx.Signatures = map[string][]byte{"A": {1}}

	pol, err := policy.Parse("and(pk(A),hash160(" +
		hex.EncodeToString(digest) + "))")
	require.NoError(t, err)
	require.True(t, policy.Evaluate(pol, ctx))
	require.False(t, ctx.HasPreimage(policy.HashSha256, digest))
}
