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

package blocksync_test

import (
	"context"
	"crypto/ed25519"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/blake2b"

	bs "github.com/casper-ecosystem/blocksync/internal/blocksync"
	"github.com/casper-ecosystem/blocksync/internal/blocksync/testutil"
)

func blake2b256(data []byte) bs.Digest {
	h, err := blake2b.New256(nil)
	if err != nil {
		panic(err)
	}
	h.Write(data)
	var out bs.Digest
	copy(out[:], h.Sum(nil))
	return out
}

// scenario wires one forward-syncable block end to end: two validators,
// a single deploy, a single peer holding every item — enough
// to drive Tick through every acquisition state without a test-only
// shortcut into Builder internals (this file lives outside the package).
type scenario struct {
	blockHash bs.BlockHash
	header    *bs.BlockHeader
	body      *bs.BlockBody
	deployID  bs.DeployID
	pubA      bs.PublicKey
	pubB      bs.PublicKey
	node      *testutil.FakeNode
	peer      bs.PeerID
}

// newScenario seeds two validators, weighted 40/60 of a 100 total: either
// one alone crosses the weak threshold (34) but neither crosses strict
// (67) alone, so the Builder must genuinely collect a second signature
// after HaveAllDeploys rather than both thresholds falling out of a single
// insert — exercising the weak/strict transition as two distinct events.
func newScenario(t *testing.T) *scenario {
	t.Helper()
	pubA, privA, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	pkA, err := bs.NewEd25519PublicKey(pubA)
	require.NoError(t, err)
	pubB, privB, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	pkB, err := bs.NewEd25519PublicKey(pubB)
	require.NoError(t, err)

	var deployHash bs.DeployHash
	deployHash[0] = 0x11
	approvalsHash := bs.ApprovalsHash{0x22}
	sibling := []byte{0xAB}
	leaf := blake2b256(approvalsHash[:])
	root := blake2b256(append(append([]byte{}, leaf[:]...), sibling...))

	body := &bs.BlockBody{DeployHashes: []bs.DeployHash{deployHash}}
	header := &bs.BlockHeader{
		Height:          1,
		EraID:           1,
		StateRoot:       root,
		BodyHash:        body.Hash(),
		Timestamp:       time.Now(),
		ProtocolVersion: "1.0.0",
	}
	blockHash := header.Hash()

	deployID := bs.DeployID{Hash: deployHash, ApprovalsHash: approvalsHash}

	const peer = bs.PeerID("peer-1")
	node := testutil.NewFakeNode()
	node.AddPeer(peer)
	node.SeedHeader(peer, header)
	node.SeedBlock(peer, &bs.Block{Header: header, Body: body})
	node.SeedApprovalsHashes(peer, &bs.ApprovalsHashes{
		BlockHash: blockHash,
		Hashes:    []bs.ApprovalsHash{approvalsHash},
		Proof:     bs.MerkleProof{Siblings: [][]byte{sibling}, LeafIdx: 0},
	})
	node.SeedDeploy(peer, deployID, &bs.Deploy{Hash: deployHash})
	node.SeedExecutable(blockHash, &bs.FinalizedBlock{Block: &bs.Block{Header: header, Body: body}}, nil, true)
	node.SeedPeersForBlock(blockHash, []bs.PeerID{peer})

	node.SeedSignature(peer, sign(privA, pkA, blockHash, 1))
	node.SeedSignature(peer, sign(privB, pkB, blockHash, 1))

	return &scenario{
		blockHash: blockHash,
		header:    header,
		body:      body,
		deployID:  deployID,
		pubA:      pkA,
		pubB:      pkB,
		node:      node,
		peer:      peer,
	}
}

func sign(priv ed25519.PrivateKey, pub bs.PublicKey, blockHash bs.BlockHash, era bs.EraId) bs.FinalitySignature {
	msg := bs.FinalitySignatureMessage(blockHash, era)
	return bs.FinalitySignature{
		BlockHash: blockHash,
		EraID:     era,
		PublicKey: pub,
		Signature: bs.Signature{Tag: bs.KeyTagEd25519, Raw: ed25519.Sign(priv, msg)},
	}
}

func (s *scenario) weights() map[bs.PublicKey]*bs.Weight {
	return map[bs.PublicKey]*bs.Weight{s.pubA: uint256.NewInt(40), s.pubB: uint256.NewInt(60)}
}

func TestSynchronizerDrivesForwardBlockToSynced(t *testing.T) {
	s := newScenario(t)
	matrix := bs.NewValidatorMatrix()
	require.NoError(t, matrix.RegisterEraWeights(1, s.weights()))

	cfg := bs.DefaultConfig()
	cfg.LatchTTL = time.Millisecond
	dispatcher := bs.NewDispatcher(cfg, nil)
	sync := bs.NewSynchronizer(cfg, matrix, s.node.Collaborators(), dispatcher, nil)

	require.True(t, sync.RegisterBlockByHash(s.blockHash, false))

	ctx := context.Background()
	now := time.Now()
	reachedExecuting := false
	for i := 0; i < 40; i++ {
		now = now.Add(time.Second)
		sync.Tick(ctx, now)
		progress := sync.Progress()
		if progress.Forward.Kind == bs.ProgressExecuting {
			reachedExecuting = true
			break
		}
		require.NotEqual(t, bs.ProgressFailed, progress.Forward.Kind, "builder failed: %v", progress.Forward.Reason)
	}
	require.True(t, reachedExecuting, "synchronizer did not reach Executing within the iteration budget")
	require.Equal(t, 1, s.node.EnqueuedCount())

	sync.MarkBlockExecuted(s.blockHash)
	require.Equal(t, bs.ProgressSynced, sync.Progress().Forward.Kind)
}

func TestSynchronizerRegisterBlockByHashDuplicateRejected(t *testing.T) {
	matrix := bs.NewValidatorMatrix()
	cfg := bs.DefaultConfig()
	node := testutil.NewFakeNode()
	sync := bs.NewSynchronizer(cfg, matrix, node.Collaborators(), bs.NewDispatcher(cfg, nil), nil)

	var hash bs.BlockHash
	hash[0] = 1
	require.True(t, sync.RegisterBlockByHash(hash, false))
	require.False(t, sync.RegisterBlockByHash(hash, false)) // same hash, same lane
}

func TestSynchronizerRegisterBlockByHashReplacesDifferentHash(t *testing.T) {
	matrix := bs.NewValidatorMatrix()
	cfg := bs.DefaultConfig()
	node := testutil.NewFakeNode()
	sync := bs.NewSynchronizer(cfg, matrix, node.Collaborators(), bs.NewDispatcher(cfg, nil), nil)

	var a, b bs.BlockHash
	a[0], b[0] = 1, 2
	require.True(t, sync.RegisterBlockByHash(a, false))
	require.True(t, sync.RegisterBlockByHash(b, false))
	require.Equal(t, b, sync.Progress().Forward.BlockHash)
}

func TestSynchronizerForwardAndHistoricalAreIndependentLanes(t *testing.T) {
	matrix := bs.NewValidatorMatrix()
	cfg := bs.DefaultConfig()
	node := testutil.NewFakeNode()
	sync := bs.NewSynchronizer(cfg, matrix, node.Collaborators(), bs.NewDispatcher(cfg, nil), nil)

	var fwd, hist bs.BlockHash
	fwd[0], hist[0] = 1, 2
	require.True(t, sync.RegisterBlockByHash(fwd, false))
	require.True(t, sync.RegisterBlockByHash(hist, true))

	progress := sync.Progress()
	require.Equal(t, fwd, progress.Forward.BlockHash)
	require.Equal(t, hist, progress.Historical.BlockHash)
}

func TestSynchronizerPurge(t *testing.T) {
	matrix := bs.NewValidatorMatrix()
	cfg := bs.DefaultConfig()
	node := testutil.NewFakeNode()
	sync := bs.NewSynchronizer(cfg, matrix, node.Collaborators(), bs.NewDispatcher(cfg, nil), nil)

	var hash bs.BlockHash
	hash[0] = 1
	sync.RegisterBlockByHash(hash, false)
	sync.Purge()
	require.Equal(t, bs.ProgressIdle, sync.Progress().Forward.Kind)
}

func TestSynchronizerIdleProgressWithNoBuilders(t *testing.T) {
	matrix := bs.NewValidatorMatrix()
	cfg := bs.DefaultConfig()
	node := testutil.NewFakeNode()
	sync := bs.NewSynchronizer(cfg, matrix, node.Collaborators(), bs.NewDispatcher(cfg, nil), nil)

	progress := sync.Progress()
	require.Equal(t, bs.ProgressIdle, progress.Forward.Kind)
	require.Equal(t, bs.ProgressIdle, progress.Historical.Kind)
}
