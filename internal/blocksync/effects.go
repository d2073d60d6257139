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

// Effect is the closed set of externally observable actions NeedNext can
// return — per §9's design note, Go's answer to the reactor's effect enum
// is a small interface implemented by per-kind structs, dispatched via a
// type switch rather than a shared base class. The Builder never performs
// these itself; they are values handed back to the Synchronizer/reactor.
type Effect interface {
	effect()
}

// NeedPeersEffect requests more candidate peers, either from the block
// accumulator alone (forward) or the accumulator plus fully-connected
// peers (historical).
type NeedPeersEffect struct {
	BlockHash    BlockHash
	IsHistorical bool
}

func (NeedPeersEffect) effect() {}

// FetchHeaderEffect requests a block header from each of Peers.
type FetchHeaderEffect struct {
	BlockHash BlockHash
	Peers     []PeerID
}

func (FetchHeaderEffect) effect() {}

// FetchSyncLeapEffect requests a sync-leap response, carrying the era's
// validator weights, from each of Peers.
type FetchSyncLeapEffect struct {
	BlockHash BlockHash
	Peers     []PeerID
}

func (FetchSyncLeapEffect) effect() {}

// SignatureRequest pairs one peer with the validator key to ask it about.
type SignatureRequest struct {
	Peer      PeerID
	Validator PublicKey
}

// FetchSignaturesEffect requests finality signatures, rotating across
// validator keys not yet signed.
type FetchSignaturesEffect struct {
	BlockHash BlockHash
	EraID     EraId
	Requests  []SignatureRequest
}

func (FetchSignaturesEffect) effect() {}

// FetchBlockEffect requests the full block (header+body) from each of Peers.
type FetchBlockEffect struct {
	BlockHash BlockHash
	Peers     []PeerID
}

func (FetchBlockEffect) effect() {}

// FetchApprovalsHashesEffect requests the approvals-hashes vector.
type FetchApprovalsHashesEffect struct {
	BlockHash BlockHash
	Peers     []PeerID
}

func (FetchApprovalsHashesEffect) effect() {}

// DeployRequest pairs one peer with the deploy id to ask it for.
type DeployRequest struct {
	Peer PeerID
	ID   DeployID
}

// FetchDeploysEffect requests the remaining deploys in parallel over
// distinct (peer, DeployID) pairs.
type FetchDeploysEffect struct {
	BlockHash BlockHash
	Requests  []DeployRequest
}

func (FetchDeploysEffect) effect() {}

// MakeBlockExecutableEffect asks the execution collaborator to turn the
// strictly-finalized block into a FinalizedBlock (forward lane only).
type MakeBlockExecutableEffect struct {
	BlockHash BlockHash
}

func (MakeBlockExecutableEffect) effect() {}

// SyncGlobalStateEffect asks the trie-accumulator to sync the block's
// global state trie (historical lane only).
type SyncGlobalStateEffect struct {
	BlockHash BlockHash
	StateRoot Digest
	Peers     []PeerID
}

func (SyncGlobalStateEffect) effect() {}

// EnqueueForExecutionEffect hands a finalized block to the execution engine.
type EnqueueForExecutionEffect struct {
	FinalizedBlock *FinalizedBlock
}

func (EnqueueForExecutionEffect) effect() {}

// FetchExecutionResultsEffect requests a block's execution results
// (historical lane only).
type FetchExecutionResultsEffect struct {
	BlockHash BlockHash
	Peers     []PeerID
}

func (FetchExecutionResultsEffect) effect() {}
