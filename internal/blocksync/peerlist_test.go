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
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestPeerListPromoteDemote(t *testing.T) {
	pl := NewPeerList(rand.New(rand.NewSource(1)))
	peer := PeerID("peer-1")

	require.False(t, pl.Contains(peer))
	pl.RegisterPeers([]PeerID{peer})
	require.True(t, pl.Contains(peer))
	require.False(t, pl.IsReliable(peer))
	require.False(t, pl.IsUnreliable(peer))

	pl.Promote(peer)
	require.True(t, pl.IsReliable(peer))
	require.Equal(t, 1, pl.ReliableCount())

	pl.Demote(peer)
	require.True(t, pl.IsUnreliable(peer))
	require.Equal(t, 0, pl.ReliableCount())
	require.Equal(t, 1, pl.UnreliableCount())
}

func TestPeerListRegisterDoesNotDowngradeTag(t *testing.T) {
	pl := NewPeerList(rand.New(rand.NewSource(1)))
	peer := PeerID("peer-1")
	pl.RegisterPeers([]PeerID{peer})
	pl.Promote(peer)

	// Re-registering an already-tagged peer must not reset it to Unknown.
	pl.RegisterPeers([]PeerID{peer})
	require.True(t, pl.IsReliable(peer))
}

func TestPeerListSamplePrefersKnownOverUnreliable(t *testing.T) {
	pl := NewPeerList(rand.New(rand.NewSource(1)))
	unreliable := PeerID("bad")
	good := PeerID("good")
	pl.RegisterPeers([]PeerID{unreliable, good})
	pl.Demote(unreliable)

	sample := pl.Sample(1)
	require.Equal(t, []PeerID{good}, sample)
}

func TestPeerListSampleFallsBackToUnreliableWhenPoolEmpty(t *testing.T) {
	pl := NewPeerList(rand.New(rand.NewSource(1)))
	peer := PeerID("only-peer")
	pl.RegisterPeers([]PeerID{peer})
	pl.Demote(peer)

	sample := pl.Sample(1)
	require.Equal(t, []PeerID{peer}, sample)
}

func TestPeerListSampleEmpty(t *testing.T) {
	pl := NewPeerList(rand.New(rand.NewSource(1)))
	require.Nil(t, pl.Sample(5))
}

// TestPeerListSampleNeverExceedsRequested is a property test: for any
// registered peer set and any requested sample size, Sample never returns
// more peers than exist or more than requested, and never repeats a peer.
func TestPeerListSampleNeverExceedsRequested(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(0, 20).Draw(t, "n")
		k := rapid.IntRange(0, 25).Draw(t, "k")

		pl := NewPeerList(rand.New(rand.NewSource(42)))
		peers := make([]PeerID, n)
		for i := range peers {
			peers[i] = PeerID(rapid.StringN(1, 8, -1).Draw(t, "peer") + string(rune('a'+i)))
		}
		pl.RegisterPeers(peers)

		sample := pl.Sample(k)
		if k <= 0 || n == 0 {
			require.Empty(t, sample)
			return
		}
		require.LessOrEqual(t, len(sample), k)
		require.LessOrEqual(t, len(sample), n)

		seen := make(map[PeerID]bool)
		for _, p := range sample {
			require.False(t, seen[p], "sample must not repeat a peer")
			seen[p] = true
		}
	})
}
