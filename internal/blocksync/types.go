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

// Package blocksync implements the block synchronization engine of a
// proof-of-stake chain client: peer selection, multi-stage fetching, the
// per-block acquisition state machine and finality-weight accounting that
// together drive a block from "known by hash" to "locally applied with
// strict finality".
package blocksync

import (
	"encoding/hex"
	"fmt"
	"time"
)

// Digest is a 32-byte blake2b-256 hash.
type Digest [32]byte

func (d Digest) String() string { return hex.EncodeToString(d[:]) }

// IsZero reports whether d is the zero digest.
func (d Digest) IsZero() bool { return d == Digest{} }

// BlockHash identifies a block by the hash of its header.
type BlockHash Digest

func (h BlockHash) String() string { return Digest(h).String() }

// EraId is a monotonic, non-negative era number.
type EraId uint64

// Height is a monotonic, non-negative block height.
type Height uint64

// DeployHash identifies a deploy by its content hash.
type DeployHash Digest

func (h DeployHash) String() string { return Digest(h).String() }

// ApprovalsHash commits to the approval set carried alongside a deploy.
type ApprovalsHash Digest

// DeployID pairs a deploy's hash with the approvals-set commitment the
// block body expects for it. Two blocks can reference the same deploy
// hash with different approvals, so the pair — not the hash alone — is
// the unit of acquisition.
type DeployID struct {
	Hash          DeployHash
	ApprovalsHash ApprovalsHash
}

func (id DeployID) String() string {
	return fmt.Sprintf("%s/%s", id.Hash, Digest(id.ApprovalsHash))
}

// PeerID identifies a network peer. Peer identity/transport is an external
// collaborator (see Collaborators in collaborators.go); this engine only
// ever treats it as an opaque comparable key.
type PeerID string

// BlockHeader is the block's canonical, hashable envelope.
type BlockHeader struct {
	Parent          BlockHash
	Height          Height
	EraID           EraId
	StateRoot       Digest
	BodyHash        Digest
	Timestamp       time.Time
	IsSwitchBlock   bool
	ProtocolVersion string
	AccumulatedSeed Digest
}

// Hash computes the block hash this header claims under BlockHash(h).
func (h *BlockHeader) Hash() BlockHash {
	return BlockHash(hashHeader(h))
}

// BlockBody is the ordered payload a header's BodyHash commits to.
type BlockBody struct {
	DeployHashes   []DeployHash
	TransferHashes []DeployHash
}

// IsEmpty reports whether the body carries no deploys and no transfers.
func (b *BlockBody) IsEmpty() bool {
	return len(b.DeployHashes) == 0 && len(b.TransferHashes) == 0
}

// Hash computes the digest a header's BodyHash field must equal.
func (b *BlockBody) Hash() Digest {
	return hashBody(b)
}

// Block is a header paired with its body.
type Block struct {
	Header *BlockHeader
	Body   *BlockBody
}

func (b *Block) Hash() BlockHash { return b.Header.Hash() }

// ApprovalsHashes is the per-deploy vector of approval-set commitments,
// aligned index-for-index with the block body's DeployHashes followed by
// its TransferHashes, plus the
// merkle proof tying that vector to the header's state root.
type ApprovalsHashes struct {
	BlockHash BlockHash
	Hashes    []ApprovalsHash
	Proof     MerkleProof
}

// MerkleProof is an opaque proof blob; its verification is a pure function
// of (leaf, root, proof) and does not depend on any external collaborator.
type MerkleProof struct {
	Siblings [][]byte
	LeafIdx  int
}

// DeployHeader carries a deploy's scheduling and identity metadata.
type DeployHeader struct {
	Timestamp    time.Time
	TTL          time.Duration
	Dependencies []DeployHash
	GasPrice     uint64
	ChainName    string
}

// Expired reports whether the deploy header is expired at instant now.
func (h *DeployHeader) Expired(now time.Time) bool {
	return h.Timestamp.Add(h.TTL).Before(now)
}

// Deploy is a user-submitted, approved unit of execution.
type Deploy struct {
	Hash      DeployHash
	Header    DeployHeader
	Payload   []byte
	Approvals []Signature
}

// FinalitySignature is a single validator's vote finalizing a block.
type FinalitySignature struct {
	BlockHash BlockHash
	EraID     EraId
	PublicKey PublicKey
	Signature Signature
}

// EraReport records the switch-block bookkeeping (equivocators and
// inactive validators) that the consensus protocol surfaces alongside a
// finalized switch block. Carried through Builder.FinalizedBlock opaquely.
type EraReport struct {
	Equivocators      []PublicKey
	InactiveValidators []PublicKey
}

// FinalizedBlock is the result of asking the execution collaborator to
// turn a fully-acquired block into something it can enqueue for
// execution. Constructed externally; the Builder only ever records it.
type FinalizedBlock struct {
	Block       *Block
	EraReport   *EraReport
	Proposer    PublicKey
	Signatures  []FinalitySignature
}
