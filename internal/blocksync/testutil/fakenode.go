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

package testutil

import (
	"context"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"

	bs "github.com/casper-ecosystem/blocksync/internal/blocksync"
)

// Behavior configures how a peer answers fetches in tests, mirroring the
// teacher's downloadTester peer "drop"/"fake" dial knobs.
type Behavior int

const (
	BehaviorOK Behavior = iota
	BehaviorAbsent
	BehaviorInvalid
	BehaviorTimeout
)

// inventory is what one simulated peer claims to have.
type inventory struct {
	headers   map[bs.BlockHash]*bs.BlockHeader
	blocks    map[bs.BlockHash]*bs.Block
	approvals map[bs.BlockHash]*bs.ApprovalsHashes
	deploys   map[bs.DeployID]*bs.Deploy
	syncLeaps map[bs.BlockHash]*bs.SyncLeap
	sigs      map[bs.BlockHash]map[string]*bs.FinalitySignature
	results   map[bs.BlockHash]*bs.ExecutionResults
}

func newInventory() *inventory {
	return &inventory{
		headers:   map[bs.BlockHash]*bs.BlockHeader{},
		blocks:    map[bs.BlockHash]*bs.Block{},
		approvals: map[bs.BlockHash]*bs.ApprovalsHashes{},
		deploys:   map[bs.DeployID]*bs.Deploy{},
		syncLeaps: map[bs.BlockHash]*bs.SyncLeap{},
		sigs:      map[bs.BlockHash]map[string]*bs.FinalitySignature{},
		results:   map[bs.BlockHash]*bs.ExecutionResults{},
	}
}

// FakeNode is a unified, in-memory stand-in for every collaborator the
// engine needs: peer transport, storage, execution and the
// trie-accumulator. Tests seed it with per-peer inventories and behaviors,
// then hand out narrow adapters (see adapters.go) into a
// blocksync.Collaborators.
type FakeNode struct {
	mu sync.Mutex

	Storage *Storage

	peers        map[bs.PeerID]*inventory
	behavior     map[bs.PeerID]Behavior
	disconnected mapset.Set[bs.PeerID]
	knownPeers   []bs.PeerID
	peersForHash map[bs.BlockHash][]bs.PeerID

	executable     map[bs.BlockHash]*executableResult
	globalState    map[bs.BlockHash]*bs.GlobalStateSyncResult
	enqueuedBlocks mapset.Set[bs.BlockHash]
	executedBlocks mapset.Set[bs.BlockHash]
}

type executableResult struct {
	fb   *bs.FinalizedBlock
	sigs []bs.FinalitySignature
	ok   bool
}

// NewFakeNode constructs an empty fixture.
func NewFakeNode() *FakeNode {
	return &FakeNode{
		Storage:        NewStorage(),
		peers:          map[bs.PeerID]*inventory{},
		behavior:       map[bs.PeerID]Behavior{},
		disconnected:   mapset.NewThreadUnsafeSet[bs.PeerID](),
		peersForHash:   map[bs.BlockHash][]bs.PeerID{},
		executable:     map[bs.BlockHash]*executableResult{},
		globalState:    map[bs.BlockHash]*bs.GlobalStateSyncResult{},
		enqueuedBlocks: mapset.NewThreadUnsafeSet[bs.BlockHash](),
		executedBlocks: mapset.NewThreadUnsafeSet[bs.BlockHash](),
	}
}

// AddPeer registers peer as known, with BehaviorOK by default.
func (n *FakeNode) AddPeer(peer bs.PeerID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.peers[peer]; ok {
		return
	}
	n.peers[peer] = newInventory()
	n.behavior[peer] = BehaviorOK
	n.knownPeers = append(n.knownPeers, peer)
}

// SetBehavior configures how peer answers every subsequent fetch.
func (n *FakeNode) SetBehavior(peer bs.PeerID, b Behavior) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.behavior[peer] = b
}

// IsDisconnected reports whether the engine asked to disconnect peer.
func (n *FakeNode) IsDisconnected(peer bs.PeerID) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.disconnected.Contains(peer)
}

// SeedPeersForBlock configures the fixed peer list PeersForBlock returns.
func (n *FakeNode) SeedPeersForBlock(hash bs.BlockHash, peers []bs.PeerID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.peersForHash[hash] = peers
}

func (n *FakeNode) SeedHeader(peer bs.PeerID, h *bs.BlockHeader) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.peers[peer].headers[h.Hash()] = h
}

func (n *FakeNode) SeedBlock(peer bs.PeerID, b *bs.Block) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.peers[peer].blocks[b.Hash()] = b
}

func (n *FakeNode) SeedApprovalsHashes(peer bs.PeerID, ah *bs.ApprovalsHashes) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.peers[peer].approvals[ah.BlockHash] = ah
}

func (n *FakeNode) SeedDeploy(peer bs.PeerID, id bs.DeployID, d *bs.Deploy) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.peers[peer].deploys[id] = d
}

func (n *FakeNode) SeedSyncLeap(peer bs.PeerID, hash bs.BlockHash, leap *bs.SyncLeap) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.peers[peer].syncLeaps[hash] = leap
}

func (n *FakeNode) SeedSignature(peer bs.PeerID, sig bs.FinalitySignature) {
	n.mu.Lock()
	defer n.mu.Unlock()
	byValidator, ok := n.peers[peer].sigs[sig.BlockHash]
	if !ok {
		byValidator = map[string]*bs.FinalitySignature{}
		n.peers[peer].sigs[sig.BlockHash] = byValidator
	}
	s := sig
	byValidator[sig.PublicKey.String()] = &s
}

func (n *FakeNode) SeedExecutionResults(peer bs.PeerID, res *bs.ExecutionResults) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.peers[peer].results[res.BlockHash] = res
}

// SeedExecutable configures what MakeExecutable returns for hash.
func (n *FakeNode) SeedExecutable(hash bs.BlockHash, fb *bs.FinalizedBlock, sigs []bs.FinalitySignature, ok bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.executable[hash] = &executableResult{fb: fb, sigs: sigs, ok: ok}
}

// SeedGlobalStateResult configures what Sync returns for hash.
func (n *FakeNode) SeedGlobalStateResult(hash bs.BlockHash, result *bs.GlobalStateSyncResult) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.globalState[hash] = result
}

// EnqueuedCount lets tests assert execution progress.
func (n *FakeNode) EnqueuedCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.enqueuedBlocks.Cardinality()
}

func (n *FakeNode) behaviorOf(peer bs.PeerID) Behavior {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.behavior[peer]
}

func (n *FakeNode) inventoryOf(peer bs.PeerID) *inventory {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.peers[peer]
}

func fetchErr(kind bs.FetchErrorKind, id string, peer bs.PeerID) error {
	return &bs.FetchError{Kind: kind, ID: id, Peer: peer}
}

func (n *FakeNode) fetchHeader(ctx context.Context, hash bs.BlockHash, peer bs.PeerID) (*bs.BlockHeader, error) {
	switch n.behaviorOf(peer) {
	case BehaviorTimeout:
		<-ctx.Done()
		return nil, fetchErr(bs.FetchTimedOut, hash.String(), peer)
	case BehaviorAbsent:
		return nil, fetchErr(bs.FetchAbsent, hash.String(), peer)
	}
	h, ok := n.inventoryOf(peer).headers[hash]
	if !ok {
		return nil, fetchErr(bs.FetchAbsent, hash.String(), peer)
	}
	if n.behaviorOf(peer) == BehaviorInvalid {
		corrupt := *h
		corrupt.Height++
		return &corrupt, nil
	}
	return h, nil
}

func (n *FakeNode) fetchBlock(ctx context.Context, hash bs.BlockHash, peer bs.PeerID) (*bs.Block, error) {
	switch n.behaviorOf(peer) {
	case BehaviorTimeout:
		<-ctx.Done()
		return nil, fetchErr(bs.FetchTimedOut, hash.String(), peer)
	case BehaviorAbsent:
		return nil, fetchErr(bs.FetchAbsent, hash.String(), peer)
	}
	b, ok := n.inventoryOf(peer).blocks[hash]
	if !ok {
		return nil, fetchErr(bs.FetchAbsent, hash.String(), peer)
	}
	if n.behaviorOf(peer) == BehaviorInvalid {
		corrupt := *b.Body
		corrupt.DeployHashes = append(corrupt.DeployHashes, bs.DeployHash{0xff})
		return &bs.Block{Header: b.Header, Body: &corrupt}, nil
	}
	return b, nil
}

func (n *FakeNode) fetchApprovalsHashes(ctx context.Context, hash bs.BlockHash, peer bs.PeerID) (*bs.ApprovalsHashes, error) {
	switch n.behaviorOf(peer) {
	case BehaviorTimeout:
		<-ctx.Done()
		return nil, fetchErr(bs.FetchTimedOut, hash.String(), peer)
	case BehaviorAbsent:
		return nil, fetchErr(bs.FetchAbsent, hash.String(), peer)
	}
	ah, ok := n.inventoryOf(peer).approvals[hash]
	if !ok {
		return nil, fetchErr(bs.FetchAbsent, hash.String(), peer)
	}
	if n.behaviorOf(peer) == BehaviorInvalid {
		corrupt := *ah
		corrupt.Proof.LeafIdx++
		return &corrupt, nil
	}
	return ah, nil
}

func (n *FakeNode) fetchDeploy(ctx context.Context, id bs.DeployID, peer bs.PeerID) (*bs.Deploy, error) {
	switch n.behaviorOf(peer) {
	case BehaviorTimeout:
		<-ctx.Done()
		return nil, fetchErr(bs.FetchTimedOut, id.String(), peer)
	case BehaviorAbsent:
		return nil, fetchErr(bs.FetchAbsent, id.String(), peer)
	}
	d, ok := n.inventoryOf(peer).deploys[id]
	if !ok {
		return nil, fetchErr(bs.FetchAbsent, id.String(), peer)
	}
	return d, nil
}

func (n *FakeNode) fetchSyncLeap(ctx context.Context, hash bs.BlockHash, peer bs.PeerID) (*bs.SyncLeap, error) {
	switch n.behaviorOf(peer) {
	case BehaviorTimeout:
		<-ctx.Done()
		return nil, fetchErr(bs.FetchTimedOut, hash.String(), peer)
	case BehaviorAbsent:
		return nil, fetchErr(bs.FetchAbsent, hash.String(), peer)
	}
	leap, ok := n.inventoryOf(peer).syncLeaps[hash]
	if !ok {
		return nil, fetchErr(bs.FetchAbsent, hash.String(), peer)
	}
	return leap, nil
}

func (n *FakeNode) fetchSignature(ctx context.Context, blockHash bs.BlockHash, validator bs.PublicKey, peer bs.PeerID) (*bs.FinalitySignature, error) {
	switch n.behaviorOf(peer) {
	case BehaviorTimeout:
		<-ctx.Done()
		return nil, fetchErr(bs.FetchTimedOut, blockHash.String(), peer)
	case BehaviorAbsent:
		return nil, fetchErr(bs.FetchAbsent, blockHash.String(), peer)
	}
	byValidator, ok := n.inventoryOf(peer).sigs[blockHash]
	if !ok {
		return nil, fetchErr(bs.FetchAbsent, blockHash.String(), peer)
	}
	sig, ok := byValidator[validator.String()]
	if !ok {
		return nil, fetchErr(bs.FetchAbsent, blockHash.String(), peer)
	}
	return sig, nil
}

func (n *FakeNode) fetchExecutionResults(ctx context.Context, hash bs.BlockHash, peer bs.PeerID) (*bs.ExecutionResults, error) {
	switch n.behaviorOf(peer) {
	case BehaviorTimeout:
		<-ctx.Done()
		return nil, fetchErr(bs.FetchTimedOut, hash.String(), peer)
	case BehaviorAbsent:
		return nil, fetchErr(bs.FetchAbsent, hash.String(), peer)
	}
	res, ok := n.inventoryOf(peer).results[hash]
	if !ok {
		return nil, fetchErr(bs.FetchAbsent, hash.String(), peer)
	}
	return res, nil
}

// FullyConnectedPeers implements blocksync.NetworkInfo.
func (n *FakeNode) FullyConnectedPeers(ctx context.Context, count int) ([]bs.PeerID, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if count > len(n.knownPeers) {
		count = len(n.knownPeers)
	}
	out := make([]bs.PeerID, count)
	copy(out, n.knownPeers[:count])
	return out, nil
}

// PeersForBlock implements blocksync.BlockAccumulator.
func (n *FakeNode) PeersForBlock(ctx context.Context, hash bs.BlockHash) ([]bs.PeerID, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if peers, ok := n.peersForHash[hash]; ok {
		return peers, nil
	}
	return n.knownPeers, nil
}

// DisconnectFromPeer implements blocksync.PeerBehaviorAnnouncer.
func (n *FakeNode) DisconnectFromPeer(peer bs.PeerID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.disconnected.Add(peer)
}

// MakeExecutable implements blocksync.ExecutableMaker.
func (n *FakeNode) MakeExecutable(ctx context.Context, hash bs.BlockHash) (*bs.FinalizedBlock, []bs.FinalitySignature, bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	r, ok := n.executable[hash]
	if !ok {
		return nil, nil, false, nil
	}
	return r.fb, r.sigs, r.ok, nil
}

// EnqueueForExecution implements blocksync.ExecutionEnqueuer.
func (n *FakeNode) EnqueueForExecution(ctx context.Context, fb *bs.FinalizedBlock) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.enqueuedBlocks.Add(fb.Block.Hash())
	return nil
}

// Sync implements blocksync.GlobalStateSyncer.
func (n *FakeNode) Sync(ctx context.Context, hash bs.BlockHash, stateRoot bs.Digest, peers []bs.PeerID) (*bs.GlobalStateSyncResult, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if r, ok := n.globalState[hash]; ok {
		return r, nil
	}
	return &bs.GlobalStateSyncResult{StateRoot: stateRoot}, nil
}

// MarkExecuted lets a test simulate the execution engine's asynchronous
// MarkBlockExecuted callback by recording hash locally; callers still need
// to invoke blocksync.Synchronizer.MarkBlockExecuted themselves to feed it
// into the engine, since that transition belongs to the Builder, not this fixture.
func (n *FakeNode) MarkExecuted(hash bs.BlockHash) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.executedBlocks.Add(hash)
}
