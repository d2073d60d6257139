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

	mapset "github.com/deckarep/golang-set/v2"
)

// PeerTag classifies a peer's observed reliability for a given Builder.
type PeerTag uint8

const (
	PeerUnknown PeerTag = iota
	PeerReliable
	PeerUnreliable
)

// PeerList tracks the set of candidate peers for a single Builder,
// partitioned by reliability tier, and samples from it without mutating
// reliability. It is Builder-local: C1 of the design, never shared
// across lanes.
type PeerList struct {
	unknown    mapset.Set[PeerID]
	reliable   mapset.Set[PeerID]
	unreliable mapset.Set[PeerID]
	rng        *rand.Rand

	// decay, if > 0, evicts a peer from the list entirely once it has
	// accrued that many consecutive Demote calls without an intervening
	// Promote (PeerReliabilityDecay, §4.8). 0 keeps the default policy:
	// unreliable peers are deprioritized but never evicted.
	decay         int
	invalidStreak map[PeerID]int
}

// NewPeerList constructs an empty PeerList. rng may be nil, in which case
// a new source with the fixed seed 1 is used; tests inject a seeded
// *rand.Rand for deterministic sampling.
func NewPeerList(rng *rand.Rand) *PeerList {
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	return &PeerList{
		unknown:       mapset.NewThreadUnsafeSet[PeerID](),
		reliable:      mapset.NewThreadUnsafeSet[PeerID](),
		unreliable:    mapset.NewThreadUnsafeSet[PeerID](),
		rng:           rng,
		invalidStreak: make(map[PeerID]int),
	}
}

// SetReliabilityDecay configures the consecutive-Demote eviction
// threshold; n <= 0 disables eviction (the default).
func (pl *PeerList) SetReliabilityDecay(n int) { pl.decay = n }

// RegisterPeers merges peers into the list, tagged Unknown unless already
// present under another tag.
func (pl *PeerList) RegisterPeers(peers []PeerID) {
	for _, p := range peers {
		if pl.contains(p) {
			continue
		}
		pl.unknown.Add(p)
	}
}

// Contains reports whether peer is tracked under any tier.
func (pl *PeerList) Contains(peer PeerID) bool { return pl.contains(peer) }

func (pl *PeerList) contains(peer PeerID) bool {
	return pl.unknown.Contains(peer) || pl.reliable.Contains(peer) || pl.unreliable.Contains(peer)
}

// IsReliable reports whether peer is currently tagged Reliable.
func (pl *PeerList) IsReliable(peer PeerID) bool { return pl.reliable.Contains(peer) }

// IsUnreliable reports whether peer is currently tagged Unreliable.
func (pl *PeerList) IsUnreliable(peer PeerID) bool { return pl.unreliable.Contains(peer) }

// Promote tags peer Reliable, used when it has supplied a valid item.
// Promoting an unknown peer registers it first.
func (pl *PeerList) Promote(peer PeerID) {
	delete(pl.invalidStreak, peer)
	pl.unknown.Remove(peer)
	pl.unreliable.Remove(peer)
	pl.reliable.Add(peer)
}

// Demote tags peer Unreliable, used when it returned absent/invalid data
// or the global-state subsystem reported it as such. Once decay > 0 and
// peer has been demoted that many consecutive times, it is evicted from
// the list entirely rather than merely deprioritized.
func (pl *PeerList) Demote(peer PeerID) {
	pl.unknown.Remove(peer)
	pl.reliable.Remove(peer)
	if pl.decay > 0 {
		pl.invalidStreak[peer]++
		if pl.invalidStreak[peer] >= pl.decay {
			pl.unreliable.Remove(peer)
			delete(pl.invalidStreak, peer)
			return
		}
	}
	pl.unreliable.Add(peer)
}

// Sample draws up to n distinct peers: uniformly from Unknown ∪ Reliable,
// falling back to Unreliable only if that pool is empty. Does not mutate
// reliability. Sampling with fewer peers than n returns all of them;
// sampling an empty list returns nil.
func (pl *PeerList) Sample(n int) []PeerID {
	if n <= 0 {
		return nil
	}
	pool := pl.unknown.Union(pl.reliable)
	if pool.Cardinality() == 0 {
		pool = pl.unreliable
	}
	if pool.Cardinality() == 0 {
		return nil
	}
	candidates := pool.ToSlice()
	pl.rng.Shuffle(len(candidates), func(i, j int) {
		candidates[i], candidates[j] = candidates[j], candidates[i]
	})
	if n > len(candidates) {
		n = len(candidates)
	}
	return candidates[:n]
}

// Len returns the total number of tracked peers across all tiers.
func (pl *PeerList) Len() int {
	return pl.unknown.Cardinality() + pl.reliable.Cardinality() + pl.unreliable.Cardinality()
}

// ReliableCount and UnreliableCount back the blocksync_peers_{reliable,unreliable} gauges.
func (pl *PeerList) ReliableCount() int   { return pl.reliable.Cardinality() }
func (pl *PeerList) UnreliableCount() int { return pl.unreliable.Cardinality() }
