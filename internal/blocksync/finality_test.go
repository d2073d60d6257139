// Copyright 2024 The blocksync Authors
// This file is part of the blocksync library.
//
// The blocksync library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The blocksync library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the blocksync library. If not, see <http://www.gnu.org/licenses/>.

package blocksync

import (
	"crypto/ed25519"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

type signer struct {
	pub  PublicKey
	priv ed25519.PrivateKey
}

func newSigner(t *testing.T) signer {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	pk, err := NewEd25519PublicKey(pub)
	require.NoError(t, err)
	return signer{pub: pk, priv: priv}
}

func (s signer) sign(blockHash BlockHash, era EraId) FinalitySignature {
	msg := FinalitySignatureMessage(blockHash, era)
	return FinalitySignature{
		BlockHash: blockHash,
		EraID:     era,
		PublicKey: s.pub,
		Signature: Signature{Tag: KeyTagEd25519, Raw: ed25519.Sign(s.priv, msg)},
	}
}

func TestFinalitySignatureSetAcceptsValidSignature(t *testing.T) {
	var blockHash BlockHash
	blockHash[0] = 7
	const era = EraId(1)

	a := newSigner(t)
	b := newSigner(t)
	ev := &EraValidators{
		Weights: map[PublicKey]*Weight{a.pub: uint256.NewInt(100), b.pub: uint256.NewInt(200)},
		Total:   uint256.NewInt(300),
	}

	set := NewFinalitySignatureSet(blockHash, era)
	accepted, err := set.Insert(a.sign(blockHash, era), ev)
	require.NoError(t, err)
	require.True(t, accepted)
	require.Equal(t, uint256.NewInt(100), set.Weight())
	require.Equal(t, FinalityWeak, set.Level(ev)) // weak threshold is 100
}

func TestFinalitySignatureSetRejectsNonValidator(t *testing.T) {
	var blockHash BlockHash
	const era = EraId(1)
	ev := &EraValidators{Weights: map[PublicKey]*Weight{}, Total: uint256.NewInt(0)}

	stranger := newSigner(t)
	set := NewFinalitySignatureSet(blockHash, era)
	_, err := set.Insert(stranger.sign(blockHash, era), ev)
	require.ErrorIs(t, err, ErrSignatureInvalid)
}

func TestFinalitySignatureSetRejectsBadCryptoSignature(t *testing.T) {
	var blockHash BlockHash
	const era = EraId(1)
	a := newSigner(t)
	ev := &EraValidators{Weights: map[PublicKey]*Weight{a.pub: uint256.NewInt(100)}, Total: uint256.NewInt(100)}

	sig := a.sign(blockHash, era)
	sig.Signature.Raw[0] ^= 0xff // corrupt
	set := NewFinalitySignatureSet(blockHash, era)
	_, err := set.Insert(sig, ev)
	require.ErrorIs(t, err, ErrSignatureInvalid)
}

func TestFinalitySignatureSetIdempotentInsert(t *testing.T) {
	var blockHash BlockHash
	const era = EraId(1)
	a := newSigner(t)
	ev := &EraValidators{Weights: map[PublicKey]*Weight{a.pub: uint256.NewInt(100)}, Total: uint256.NewInt(100)}

	set := NewFinalitySignatureSet(blockHash, era)
	sig := a.sign(blockHash, era)
	accepted, err := set.Insert(sig, ev)
	require.NoError(t, err)
	require.True(t, accepted)

	accepted, err = set.Insert(sig, ev)
	require.NoError(t, err)
	require.False(t, accepted) // duplicate, not an error
	require.Equal(t, 1, set.Count())
}

func TestFinalitySignatureSetStrictFinality(t *testing.T) {
	var blockHash BlockHash
	const era = EraId(1)
	signers := []signer{newSigner(t), newSigner(t), newSigner(t)}
	weights := map[PublicKey]*Weight{}
	for _, s := range signers {
		weights[s.pub] = uint256.NewInt(100)
	}
	ev := &EraValidators{Weights: weights, Total: uint256.NewInt(300)} // strict threshold 201

	set := NewFinalitySignatureSet(blockHash, era)
	for i, s := range signers {
		_, err := set.Insert(s.sign(blockHash, era), ev)
		require.NoError(t, err)
		if i == 0 {
			require.Equal(t, FinalityWeak, set.Level(ev))
		}
	}
	require.Equal(t, FinalityStrict, set.Level(ev))
}

func TestFinalitySignatureSetUnreachable(t *testing.T) {
	var blockHash BlockHash
	const era = EraId(1)
	a, b, c := newSigner(t), newSigner(t), newSigner(t)
	weights := map[PublicKey]*Weight{a.pub: uint256.NewInt(100), b.pub: uint256.NewInt(100), c.pub: uint256.NewInt(100)}
	ev := &EraValidators{Weights: weights, Total: uint256.NewInt(300)} // strict threshold 201

	set := NewFinalitySignatureSet(blockHash, era)
	require.False(t, set.Unreachable(ev))

	_, err := set.Insert(a.sign(blockHash, era), ev)
	require.NoError(t, err)
	// a signed (100), b+c remain (200) -> 300 reachable still.
	require.False(t, set.Unreachable(ev))
}

func TestFinalitySignatureSetUnsignedValidators(t *testing.T) {
	var blockHash BlockHash
	const era = EraId(1)
	a, b := newSigner(t), newSigner(t)
	weights := map[PublicKey]*Weight{a.pub: uint256.NewInt(100), b.pub: uint256.NewInt(100)}
	ev := &EraValidators{Weights: weights, Total: uint256.NewInt(200)}

	set := NewFinalitySignatureSet(blockHash, era)
	require.ElementsMatch(t, []PublicKey{a.pub, b.pub}, set.UnsignedValidators(ev))

	_, err := set.Insert(a.sign(blockHash, era), ev)
	require.NoError(t, err)
	require.Equal(t, []PublicKey{b.pub}, set.UnsignedValidators(ev))
}
