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

import "context"

// This file declares the external collaborators §1 and §6 name as
// interfaces only: wire transport/gossiping, the consensus protocol,
// the execution engine, persistent storage and the trie-accumulator are
// all out of scope for this engine and are supplied by the caller.
//
// Per §9's design note, Go has no associated-type polymorphism over a
// fetcher's error type, so each item kind gets its own narrow
// capability interface rather than one generic Fetcher[T, E].

// FetchErrorKind classifies why a fetch failed.
type FetchErrorKind uint8

const (
	FetchAbsent FetchErrorKind = iota
	FetchTimedOut
	FetchInvalid
)

func (k FetchErrorKind) String() string {
	switch k {
	case FetchAbsent:
		return "absent"
	case FetchTimedOut:
		return "timed_out"
	case FetchInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// FetchError is returned by collaborator Fetch methods on failure.
type FetchError struct {
	Kind FetchErrorKind
	ID   string
	Peer PeerID
}

func (e *FetchError) Error() string {
	return "blocksync: fetch " + e.Kind.String() + " id=" + e.ID + " peer=" + string(e.Peer)
}

// HeaderFetcher fetches a block header by hash from a given peer.
type HeaderFetcher interface {
	Fetch(ctx context.Context, hash BlockHash, peer PeerID) (*BlockHeader, error)
	StorageHit(hash BlockHash) (*BlockHeader, bool)
}

// BlockFetcher fetches a block body (returned joined with its header) by hash.
type BlockFetcher interface {
	Fetch(ctx context.Context, hash BlockHash, peer PeerID) (*Block, error)
	StorageHit(hash BlockHash) (*Block, bool)
}

// SignatureFetcher fetches one validator's finality signature for a block.
type SignatureFetcher interface {
	Fetch(ctx context.Context, blockHash BlockHash, validator PublicKey, peer PeerID) (*FinalitySignature, error)
}

// ApprovalsHashesFetcher fetches a block's approvals-hashes vector and proof.
type ApprovalsHashesFetcher interface {
	Fetch(ctx context.Context, hash BlockHash, peer PeerID) (*ApprovalsHashes, error)
	StorageHit(hash BlockHash) (*ApprovalsHashes, bool)
}

// DeployFetcher fetches a single deploy by its (hash, approvals_hash) id.
type DeployFetcher interface {
	Fetch(ctx context.Context, id DeployID, peer PeerID) (*Deploy, error)
	StorageHit(id DeployID) (*Deploy, bool)
}

// SyncLeap is the fragment of chain state (headers plus era validator
// weights) a sync-leap response carries, enough for a Builder to learn
// the validator set for a header's era without downloading the whole
// intervening chain.
type SyncLeap struct {
	Era     EraId
	Weights map[PublicKey]*Weight
}

// SyncLeapFetcher fetches a sync-leap response anchored at a block hash.
type SyncLeapFetcher interface {
	Fetch(ctx context.Context, hash BlockHash, peer PeerID) (*SyncLeap, error)
}

// ExecutionResults is the (possibly chunked) output of executing a block's
// deploys, opaque to this engine beyond its block hash.
type ExecutionResults struct {
	BlockHash BlockHash
	Data      []byte
}

// ExecutionResultsFetcher fetches a block's execution results (chunks allowed).
type ExecutionResultsFetcher interface {
	Fetch(ctx context.Context, hash BlockHash, peer PeerID) (*ExecutionResults, error)
	StorageHit(hash BlockHash) (*ExecutionResults, bool)
}

// GlobalStateSyncResult is the outcome of asking the trie-accumulator to
// sync a block's global state trie.
type GlobalStateSyncResult struct {
	StateRoot       Digest
	UnreliablePeers []PeerID
	RootNotFound    bool
}

// GlobalStateSyncer drives the trie-accumulator / global-state fetcher
// collaborator (out of scope per §1; this engine only issues the request
// and records the result).
type GlobalStateSyncer interface {
	Sync(ctx context.Context, blockHash BlockHash, stateRoot Digest, peers []PeerID) (*GlobalStateSyncResult, error)
}

// ExecutableMaker turns a fully-acquired, strictly-finalized block into a
// FinalizedBlock ready for execution (forward lane only). ok=false
// corresponds to MadeFinalizedBlock{result: None} — the header could not
// be made executable and the Builder must fail (§7).
type ExecutableMaker interface {
	MakeExecutable(ctx context.Context, hash BlockHash) (fb *FinalizedBlock, sigs []FinalitySignature, ok bool, err error)
}

// ExecutionEnqueuer hands a FinalizedBlock to the execution engine.
type ExecutionEnqueuer interface {
	EnqueueForExecution(ctx context.Context, fb *FinalizedBlock) error
}

// NetworkInfo answers NetworkInfoRequest::FullyConnectedPeers.
type NetworkInfo interface {
	FullyConnectedPeers(ctx context.Context, count int) ([]PeerID, error)
}

// BlockAccumulator answers BlockAccumulatorRequest::GetPeersForBlock.
type BlockAccumulator interface {
	PeersForBlock(ctx context.Context, hash BlockHash) ([]PeerID, error)
}

// PeerBehaviorAnnouncer issues PeerBehaviorAnnouncement::DisconnectFromPeer
// for peers caught sending cryptographically invalid payloads.
type PeerBehaviorAnnouncer interface {
	DisconnectFromPeer(peer PeerID)
}

// Collaborators groups every external dependency the Synchronizer needs,
// all of them out of scope per §1 and supplied by the caller (cmd/blocksyncd
// wires in the testutil in-memory reference implementations by default).
type Collaborators struct {
	Headers           HeaderFetcher
	Blocks            BlockFetcher
	Signatures        SignatureFetcher
	ApprovalsHashes   ApprovalsHashesFetcher
	Deploys           DeployFetcher
	SyncLeaps         SyncLeapFetcher
	ExecutionResults  ExecutionResultsFetcher
	GlobalState       GlobalStateSyncer
	Executable        ExecutableMaker
	Enqueuer          ExecutionEnqueuer
	Network           NetworkInfo
	Accumulator       BlockAccumulator
	PeerBehavior      PeerBehaviorAnnouncer
}
