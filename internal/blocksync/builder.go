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
	"fmt"
	"math/big"
	"math/rand"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	log "github.com/inconshreveable/log15"
)

// Builder owns the acquisition state machine for a single block plus
// everything scoped to it: its peer list, finality signature set, known
// header/body/approvals/deploys, and latch (C5). It is mutated only by
// the Synchronizer, inside the reactor's single goroutine — see §5.
type Builder struct {
	blockHash    BlockHash
	isHistorical bool
	state        AcquisitionState
	failReason   error

	peers      *PeerList
	signatures *FinalitySignatureSet
	matrix     *ValidatorMatrix

	header             *BlockHeader
	headerRegisteredAt time.Time
	block              *Block
	approvalsHashes    *ApprovalsHashes
	expectedDeploys    mapset.Set[DeployID]
	haveDeploys        mapset.Set[DeployID]
	deploys            map[DeployID]*Deploy
	finalizedBlock     *FinalizedBlock

	latch Latch
	cfg   Config
	log   log.Logger
}

// NewBuilder constructs a Builder at HaveBlockHash for blockHash. rng, if
// non-nil, seeds the Builder's PeerList sampling deterministically (tests
// pass a seeded source; production passes nil).
func NewBuilder(blockHash BlockHash, isHistorical bool, matrix *ValidatorMatrix, cfg Config, rng *rand.Rand) *Builder {
	peers := NewPeerList(rng)
	peers.SetReliabilityDecay(cfg.PeerReliabilityDecay)
	return &Builder{
		blockHash:       blockHash,
		isHistorical:    isHistorical,
		state:           HaveBlockHash,
		peers:           peers,
		matrix:          matrix,
		expectedDeploys: mapset.NewThreadUnsafeSet[DeployID](),
		haveDeploys:     mapset.NewThreadUnsafeSet[DeployID](),
		deploys:         make(map[DeployID]*Deploy),
		cfg:             cfg,
		log:             log.New("block_hash", blockHash, "historical", isHistorical),
	}
}

// BlockHash returns the block hash this Builder is synchronizing.
func (b *Builder) BlockHash() BlockHash { return b.blockHash }

// IsHistorical reports whether this Builder is on the historical lane.
func (b *Builder) IsHistorical() bool { return b.isHistorical }

// State returns the current acquisition state.
func (b *Builder) State() AcquisitionState { return b.state }

// FailReason returns the error that moved the Builder to Failed, or nil.
func (b *Builder) FailReason() error { return b.failReason }

// Peers exposes the Builder's peer list so the Synchronizer can register
// newly-discovered peers and demote misbehaving ones on fetch errors.
func (b *Builder) Peers() *PeerList { return b.peers }

// Block returns the acquired block, if any.
func (b *Builder) Block() *Block { return b.block }

// FinalizedBlock returns the finalized block, if any.
func (b *Builder) FinalizedBlock() *FinalizedBlock { return b.finalizedBlock }

// FinalityRatio returns the accumulated finality signature weight divided
// by the header's era total weight, or 0 before a header/era is known.
func (b *Builder) FinalityRatio() float64 {
	if b.header == nil || b.signatures == nil {
		return 0
	}
	ev, ok := b.matrix.EraValidators(b.header.EraID)
	if !ok || ev.Total.IsZero() {
		return 0
	}
	weight := new(big.Float).SetInt(b.signatures.Weight().ToBig())
	total := new(big.Float).SetInt(ev.Total.ToBig())
	ratio, _ := new(big.Float).Quo(weight, total).Float64()
	return ratio
}

func (b *Builder) fail(reason error) {
	b.state = Failed
	b.failReason = reason
	b.latch.Clear()
	b.log.Warn("builder failed", "reason", reason, "state", b.state)
}

func (b *Builder) illegal(op string) error {
	err := fmt.Errorf("%w: %s in state %s", ErrIllegalTransition, op, b.state)
	b.log.Warn("rejected register call", "op", op, "state", b.state)
	return err
}

// RegisterBlockHeader verifies header hashes to the Builder's block hash
// and advances HaveBlockHash -> HaveBlockHeader. Re-registering an
// identical header already in hand is a no-op (idempotent).
func (b *Builder) RegisterBlockHeader(header *BlockHeader, sender *PeerID) error {
	if header.Hash() != b.blockHash {
		if sender != nil {
			b.peers.Demote(*sender)
		}
		return ErrHeaderHashMismatch
	}
	switch b.state {
	case HaveBlockHash:
		b.header = header
		b.headerRegisteredAt = time.Now()
		b.signatures = NewFinalitySignatureSet(b.blockHash, header.EraID)
		b.state = HaveBlockHeader
		b.latch.Clear()
		if sender != nil {
			b.peers.Promote(*sender)
		}
		return nil
	default:
		if b.header != nil && b.header.Hash() == header.Hash() {
			return nil // idempotent re-registration
		}
		return b.illegal("register_block_header")
	}
}

// RegisterEraValidatorWeights installs era weights learned from a sync-leap
// response. It may unlatch the Builder so the next NeedNext can progress
// past signature gathering, but does not itself change acquisition state.
func (b *Builder) RegisterEraValidatorWeights(leap *SyncLeap) error {
	if b.header == nil {
		return b.illegal("register_era_validator_weights")
	}
	if err := b.matrix.RegisterEraWeights(leap.Era, leap.Weights); err != nil {
		return err
	}
	b.latch.Clear()
	return nil
}

// RegisterFinalitySignature verifies and accumulates sig, promoting
// FinalityWeak/FinalityStrict transitions as the threshold is crossed.
func (b *Builder) RegisterFinalitySignature(sig FinalitySignature, sender *PeerID) error {
	if b.header == nil || b.signatures == nil {
		return b.illegal("register_finality_signature")
	}
	ev, ok := b.matrix.EraValidators(b.header.EraID)
	if !ok {
		return ErrUnknownEra
	}
	accepted, err := b.signatures.Insert(sig, ev)
	if err != nil {
		if sender != nil {
			b.peers.Demote(*sender)
		}
		return err
	}
	if !accepted {
		return nil // already known, idempotent
	}
	if sender != nil {
		b.peers.Promote(*sender)
	}
	b.latch.Clear()

	level := b.signatures.Level(ev)
	switch {
	case b.state == HaveBlockHeader && level >= FinalityWeak:
		b.state = HaveWeakFinalitySignatures
	case b.state == HaveAllDeploys && level >= FinalityStrict:
		b.state = HaveStrictFinalitySignatures
	case (b.state == HaveBlockHeader || b.state == HaveAllDeploys) && b.signatures.Unreachable(ev):
		b.fail(fmt.Errorf("%w: era %d", ErrFinalityUnreachable, b.header.EraID))
	}
	return nil
}

// enterHaveAllDeploys transitions into HaveAllDeploys, immediately
// promoting to HaveStrictFinalitySignatures if enough signatures already
// accumulated while the body/deploys were still in flight.
// RegisterFinalitySignature only re-evaluates the finality level on a
// newly-accepted signature, so without this check a block whose strict
// finality completed before its body would arrive with
// UnsignedValidators already empty and never re-trigger the transition,
// deadlocking at HaveAllDeploys — out-of-order signature delivery must
// not depend on the order relative to body/deploy delivery (§8).
func (b *Builder) enterHaveAllDeploys() {
	b.state = HaveAllDeploys
	if ev, ok := b.matrix.EraValidators(b.header.EraID); ok && b.signatures.Level(ev) >= FinalityStrict {
		b.state = HaveStrictFinalitySignatures
	}
}

// RegisterBlock verifies block's body hashes to the known header's
// BodyHash and advances HaveWeakFinalitySignatures -> HaveBlock, skipping
// straight to HaveAllDeploys if the body carries no deploys or transfers.
func (b *Builder) RegisterBlock(block *Block, sender *PeerID) error {
	if b.header == nil {
		return b.illegal("register_block")
	}
	if block.Header.Hash() != b.blockHash {
		if sender != nil {
			b.peers.Demote(*sender)
		}
		return ErrHeaderHashMismatch
	}
	if block.Body.Hash() != b.header.BodyHash {
		if sender != nil {
			b.peers.Demote(*sender)
		}
		return ErrBodyHashMismatch
	}
	switch b.state {
	case HaveWeakFinalitySignatures:
		b.block = block
		if sender != nil {
			b.peers.Promote(*sender)
		}
		b.latch.Clear()
		if block.Body.IsEmpty() {
			b.enterHaveAllDeploys()
		} else {
			b.state = HaveBlock
		}
		return nil
	default:
		if b.block != nil {
			return nil // idempotent
		}
		return b.illegal("register_block")
	}
}

// RegisterApprovalsHashes verifies ah's merkle proof against the header's
// state root and advances HaveBlock -> HaveApprovalsHashes, recording the
// set of DeployIDs the block body now expects.
func (b *Builder) RegisterApprovalsHashes(ah *ApprovalsHashes, sender *PeerID) error {
	if b.header == nil || b.block == nil {
		return b.illegal("register_approvals_hashes")
	}
	if b.state != HaveBlock {
		if b.approvalsHashes != nil {
			return nil // idempotent
		}
		return b.illegal("register_approvals_hashes")
	}
	all := append(append([]DeployHash{}, b.block.Body.DeployHashes...), b.block.Body.TransferHashes...)
	if len(ah.Hashes) != len(all) {
		if sender != nil {
			b.peers.Demote(*sender)
		}
		return ErrApprovalsProofInvalid
	}
	leaf := approvalsLeaf(ah.Hashes)
	if !VerifyMerkleProof(leaf, ah.Proof, b.header.StateRoot) {
		if sender != nil {
			b.peers.Demote(*sender)
		}
		return ErrApprovalsProofInvalid
	}
	b.approvalsHashes = ah
	for i, dh := range all {
		b.expectedDeploys.Add(DeployID{Hash: dh, ApprovalsHash: ah.Hashes[i]})
	}
	if sender != nil {
		b.peers.Promote(*sender)
	}
	b.latch.Clear()
	b.state = HaveApprovalsHashes
	return nil
}

func approvalsLeaf(hashes []ApprovalsHash) Digest {
	var buf []byte
	for _, h := range hashes {
		buf = append(buf, h[:]...)
	}
	return blake2bSum(buf)
}

// RegisterDeploy accepts deploy under id only if id is present in the
// block's approvals hashes, deduping by id and advancing to
// HaveAllDeploys once every expected id has been supplied.
func (b *Builder) RegisterDeploy(id DeployID, deploy *Deploy, sender *PeerID) error {
	if b.state != HaveApprovalsHashes {
		if b.haveDeploys.Contains(id) {
			return nil // idempotent
		}
		return b.illegal("register_deploy")
	}
	if !b.expectedDeploys.Contains(id) {
		if sender != nil {
			b.peers.Demote(*sender)
		}
		return ErrUnknownDeploy
	}
	if b.haveDeploys.Contains(id) {
		return nil // idempotent
	}
	b.deploys[id] = deploy
	b.haveDeploys.Add(id)
	if sender != nil {
		b.peers.Promote(*sender)
	}
	b.latch.Clear()
	if b.haveDeploys.Cardinality() == b.expectedDeploys.Cardinality() {
		b.enterHaveAllDeploys()
	}
	return nil
}

// RegisterMadeFinalizedBlock records the result of asking the execution
// collaborator to make the strictly-finalized block executable (forward
// lane only). ok=false is MadeFinalizedBlock{result: None} and is
// terminal (§7): the reactor is expected to retry via the historical path.
func (b *Builder) RegisterMadeFinalizedBlock(fb *FinalizedBlock, extraSigs []FinalitySignature, ok bool) error {
	if b.isHistorical {
		return b.illegal("register_made_finalized_block")
	}
	if !ok {
		b.fail(ErrCannotMakeExecutable)
		return nil
	}
	if b.state != HaveStrictFinalitySignatures {
		if b.finalizedBlock != nil {
			return nil // idempotent
		}
		return b.illegal("register_made_finalized_block")
	}
	if ev, found := b.matrix.EraValidators(b.header.EraID); found {
		for _, s := range extraSigs {
			_, _ = b.signatures.Insert(s, ev)
		}
	}
	b.finalizedBlock = fb
	b.latch.Clear()
	b.state = HaveFinalizedBlock
	return nil
}

// RegisterBlockExecutionEnqueued advances HaveFinalizedBlock -> Executing.
func (b *Builder) RegisterBlockExecutionEnqueued() error {
	switch b.state {
	case HaveFinalizedBlock:
		b.state = Executing
		b.latch.Clear()
		return nil
	case Executing, Synced:
		return nil // idempotent
	default:
		return b.illegal("register_block_execution_enqueued")
	}
}

// RegisterBlockExecuted advances Executing -> Synced.
func (b *Builder) RegisterBlockExecuted() error {
	switch b.state {
	case Executing:
		b.state = Synced
		b.latch.Clear()
		return nil
	case Synced:
		return nil // idempotent
	default:
		return b.illegal("register_block_executed")
	}
}

// RegisterGlobalStateSynced records the trie-accumulator's response
// (historical lane only). On success, advances HaveStrictFinalitySignatures
// -> HaveGlobalState after demoting any peers it reports unreliable. On
// root-not-found, demotes the reported peers and leaves the Builder in
// HaveStrictFinalitySignatures to retry once the latch expires (§7).
func (b *Builder) RegisterGlobalStateSynced(result *GlobalStateSyncResult) error {
	if !b.isHistorical {
		return b.illegal("register_global_state_synced")
	}
	for _, p := range result.UnreliablePeers {
		b.peers.Demote(p)
	}
	if result.RootNotFound {
		return nil // stays latched until TTL; NeedNext will re-issue
	}
	switch b.state {
	case HaveStrictFinalitySignatures:
		b.state = HaveGlobalState
		b.latch.Clear()
		return nil
	case HaveGlobalState, HaveExecutionResults, Synced:
		return nil // idempotent
	default:
		return b.illegal("register_global_state_synced")
	}
}

// RegisterExecutionResults records the fetched execution results
// (historical lane only), advancing HaveGlobalState -> Synced.
func (b *Builder) RegisterExecutionResults(res *ExecutionResults, sender *PeerID) error {
	if !b.isHistorical {
		return b.illegal("register_execution_results")
	}
	if res.BlockHash != b.blockHash {
		if sender != nil {
			b.peers.Demote(*sender)
		}
		return ErrHeaderHashMismatch
	}
	switch b.state {
	case HaveGlobalState:
		if sender != nil {
			b.peers.Promote(*sender)
		}
		b.latch.Clear()
		b.state = Synced
		return nil
	case Synced:
		return nil // idempotent
	default:
		return b.illegal("register_execution_results")
	}
}

// NeedNext computes the next externally observable action(s) per §4.3's
// table, or nil if the Builder is terminal or latched. Emitting any
// non-nil effect re-latches the Builder for cfg.LatchTTL.
func (b *Builder) NeedNext(now time.Time) []Effect {
	if b.state.Terminal() {
		return nil
	}
	if b.latch.Active(now) {
		return nil
	}

	effects := b.computeNeedNext(now)
	if len(effects) > 0 {
		b.latch.Set(now, b.cfg.LatchTTL)
	}
	return effects
}

func (b *Builder) computeNeedNext(now time.Time) []Effect {
	k := b.cfg.MaxSimultaneousPeers
	peers := b.peers.Sample(k)
	if len(peers) == 0 {
		return []Effect{NeedPeersEffect{BlockHash: b.blockHash, IsHistorical: b.isHistorical}}
	}

	switch b.state {
	case HaveBlockHash:
		return []Effect{FetchHeaderEffect{BlockHash: b.blockHash, Peers: peers}}

	case HaveBlockHeader:
		ev, ok := b.matrix.EraValidators(b.header.EraID)
		if !ok {
			if b.cfg.EraValidatorsTimeout > 0 && now.Sub(b.headerRegisteredAt) > b.cfg.EraValidatorsTimeout {
				b.fail(fmt.Errorf("%w: era %d validators not available in time", ErrUnknownEra, b.header.EraID))
				return nil
			}
			return []Effect{FetchSyncLeapEffect{BlockHash: b.blockHash, Peers: peers}}
		}
		return b.fetchSignatures(ev, peers)

	case HaveWeakFinalitySignatures:
		return []Effect{FetchBlockEffect{BlockHash: b.blockHash, Peers: peers}}

	case HaveBlock:
		if b.block != nil && !b.block.Body.IsEmpty() {
			return []Effect{FetchApprovalsHashesEffect{BlockHash: b.blockHash, Peers: peers}}
		}
		return nil

	case HaveApprovalsHashes:
		remaining := b.expectedDeploys.Difference(b.haveDeploys).ToSlice()
		if len(remaining) > k {
			remaining = remaining[:k]
		}
		reqs := make([]DeployRequest, 0, len(remaining))
		for i, id := range remaining {
			reqs = append(reqs, DeployRequest{Peer: peers[i%len(peers)], ID: id})
		}
		return []Effect{FetchDeploysEffect{BlockHash: b.blockHash, Requests: reqs}}

	case HaveAllDeploys:
		ev, ok := b.matrix.EraValidators(b.header.EraID)
		if !ok {
			return []Effect{FetchSyncLeapEffect{BlockHash: b.blockHash, Peers: peers}}
		}
		return b.fetchSignatures(ev, peers)

	case HaveStrictFinalitySignatures:
		if !b.isHistorical {
			return []Effect{MakeBlockExecutableEffect{BlockHash: b.blockHash}}
		}
		return []Effect{SyncGlobalStateEffect{BlockHash: b.blockHash, StateRoot: b.header.StateRoot, Peers: peers}}

	case HaveFinalizedBlock:
		return []Effect{EnqueueForExecutionEffect{FinalizedBlock: b.finalizedBlock}}

	case HaveGlobalState:
		return []Effect{FetchExecutionResultsEffect{BlockHash: b.blockHash, Peers: peers}}

	case HaveExecutionResults, Executing:
		return nil

	default:
		return nil
	}
}

// fetchSignatures targets peers at validator keys not yet signed, one
// distinct key per peer, so a round issues as many requests as the shorter
// of the sampled-peer and unsigned-validator lists. Used both while
// climbing to weak finality (HaveBlockHeader) and to strict finality
// (HaveAllDeploys) — signature-fetching is identical in both phases, only
// the target threshold differs, which Register* checks, not NeedNext.
func (b *Builder) fetchSignatures(ev *EraValidators, peers []PeerID) []Effect {
	unsigned := b.signatures.UnsignedValidators(ev)
	if len(unsigned) == 0 {
		return nil
	}
	n := len(peers)
	if len(unsigned) < n {
		n = len(unsigned)
	}
	reqs := make([]SignatureRequest, 0, n)
	for i := 0; i < n; i++ {
		reqs = append(reqs, SignatureRequest{Peer: peers[i], Validator: unsigned[i]})
	}
	return []Effect{FetchSignaturesEffect{BlockHash: b.blockHash, EraID: b.header.EraID, Requests: reqs}}
}
