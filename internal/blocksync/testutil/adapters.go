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

	bs "github.com/casper-ecosystem/blocksync/internal/blocksync"
)

// Go requires one method name per signature per type, so FakeNode's
// several same-named "Fetch" collaborator methods (different signatures
// each) are exposed instead through these thin per-kind adapters — each
// one turns FakeNode's internal, distinctly-named fetch method into the
// exact interface blocksync.Collaborators expects.

type headerFetcher struct{ *FakeNode }

func (a headerFetcher) Fetch(ctx context.Context, hash bs.BlockHash, peer bs.PeerID) (*bs.BlockHeader, error) {
	return a.fetchHeader(ctx, hash, peer)
}
func (a headerFetcher) StorageHit(hash bs.BlockHash) (*bs.BlockHeader, bool) {
	return a.Storage.Header(hash)
}

type blockFetcher struct{ *FakeNode }

func (a blockFetcher) Fetch(ctx context.Context, hash bs.BlockHash, peer bs.PeerID) (*bs.Block, error) {
	return a.fetchBlock(ctx, hash, peer)
}
func (a blockFetcher) StorageHit(hash bs.BlockHash) (*bs.Block, bool) {
	return a.Storage.Block(hash)
}

type approvalsHashesFetcher struct{ *FakeNode }

func (a approvalsHashesFetcher) Fetch(ctx context.Context, hash bs.BlockHash, peer bs.PeerID) (*bs.ApprovalsHashes, error) {
	return a.fetchApprovalsHashes(ctx, hash, peer)
}
func (a approvalsHashesFetcher) StorageHit(hash bs.BlockHash) (*bs.ApprovalsHashes, bool) {
	return a.Storage.ApprovalsHashes(hash)
}

type deployFetcher struct{ *FakeNode }

func (a deployFetcher) Fetch(ctx context.Context, id bs.DeployID, peer bs.PeerID) (*bs.Deploy, error) {
	return a.fetchDeploy(ctx, id, peer)
}
func (a deployFetcher) StorageHit(id bs.DeployID) (*bs.Deploy, bool) {
	return a.Storage.Deploy(id)
}

type syncLeapFetcher struct{ *FakeNode }

func (a syncLeapFetcher) Fetch(ctx context.Context, hash bs.BlockHash, peer bs.PeerID) (*bs.SyncLeap, error) {
	return a.fetchSyncLeap(ctx, hash, peer)
}

type signatureFetcher struct{ *FakeNode }

func (a signatureFetcher) Fetch(ctx context.Context, blockHash bs.BlockHash, validator bs.PublicKey, peer bs.PeerID) (*bs.FinalitySignature, error) {
	return a.fetchSignature(ctx, blockHash, validator, peer)
}

type executionResultsFetcher struct{ *FakeNode }

func (a executionResultsFetcher) Fetch(ctx context.Context, hash bs.BlockHash, peer bs.PeerID) (*bs.ExecutionResults, error) {
	return a.fetchExecutionResults(ctx, hash, peer)
}
func (a executionResultsFetcher) StorageHit(hash bs.BlockHash) (*bs.ExecutionResults, bool) {
	return a.Storage.ExecutionResults(hash)
}

// Collaborators assembles a blocksync.Collaborators backed entirely by n.
func (n *FakeNode) Collaborators() bs.Collaborators {
	return bs.Collaborators{
		Headers:          headerFetcher{n},
		Blocks:           blockFetcher{n},
		Signatures:       signatureFetcher{n},
		ApprovalsHashes:  approvalsHashesFetcher{n},
		Deploys:          deployFetcher{n},
		SyncLeaps:        syncLeapFetcher{n},
		ExecutionResults: executionResultsFetcher{n},
		GlobalState:      n,
		Executable:       n,
		Enqueuer:         n,
		Network:          n,
		Accumulator:      n,
		PeerBehavior:     n,
	}
}
