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
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	log "github.com/inconshreveable/log15"
	"golang.org/x/sync/errgroup"
)

// ProgressKind classifies a lane's overall status, reported by Progress/StatusFeed.
type ProgressKind uint8

const (
	ProgressIdle ProgressKind = iota
	ProgressSyncing
	ProgressExecuting
	ProgressSynced
	ProgressFailed
)

func (k ProgressKind) String() string {
	switch k {
	case ProgressSyncing:
		return "syncing"
	case ProgressExecuting:
		return "executing"
	case ProgressSynced:
		return "synced"
	case ProgressFailed:
		return "failed"
	default:
		return "idle"
	}
}

// LaneProgress is the observable status of one lane (forward or historical).
type LaneProgress struct {
	Kind      ProgressKind
	BlockHash BlockHash
	State     AcquisitionState
	Reason    error
}

// StatusFeed is the read model the reactor (and cmd/blocksyncd's HTTP
// handler) polls to decide next leap actions (§10, supplemental).
type StatusFeed struct {
	Forward        LaneProgress
	Historical     LaneProgress
	LastProgressAt time.Time
}

// Synchronizer hosts at most one forward and one historical Builder,
// routes fetch results to whichever one owns the affected block hash, and
// computes need_next across both lanes (C6). Per §5, a single
// Synchronizer instance is exclusively owned by one reactor goroutine;
// Tick must not be called concurrently with itself.
type Synchronizer struct {
	mu sync.Mutex // guards forward/historical swap from concurrent Purge/RegisterBlockByHash calls made off the reactor goroutine (e.g. an RPC handler), not from Tick's internal mutation.

	cfg        Config
	matrix     *ValidatorMatrix
	collab     Collaborators
	dispatcher *Dispatcher
	metrics    *Metrics
	log        log.Logger
	rngSeed    func() *rand.Rand

	forward        *Builder
	historical     *Builder
	lastProgressAt time.Time
}

// NewSynchronizer constructs a Synchronizer. metrics may be nil to disable
// Prometheus reporting (tests typically pass nil or a throwaway registry).
func NewSynchronizer(cfg Config, matrix *ValidatorMatrix, collab Collaborators, dispatcher *Dispatcher, metrics *Metrics) *Synchronizer {
	return &Synchronizer{
		cfg:        cfg,
		matrix:     matrix,
		collab:     collab,
		dispatcher: dispatcher,
		metrics:    metrics,
		log:        log.New("component", "block_synchronizer"),
		rngSeed:    func() *rand.Rand { return nil },
	}
}

// RegisterBlockByHash installs a Builder for hash on the requested lane.
// Returns false, per §4.5 and S6, if the lane already holds an active
// Builder for the *same* hash. If the lane holds a Builder for a
// *different* hash (active or terminal-non-Failed), it is replaced.
func (s *Synchronizer) RegisterBlockByHash(hash BlockHash, isHistorical bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	slot := &s.forward
	if isHistorical {
		slot = &s.historical
	}
	cur := *slot
	if cur != nil && cur.BlockHash() == hash && cur.State() != Failed {
		return false
	}
	*slot = NewBuilder(hash, isHistorical, s.matrix, s.cfg, s.rngSeed())
	return true
}

// PurgeForward drops the forward Builder, if any.
func (s *Synchronizer) PurgeForward() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forward = nil
}

// PurgeHistorical drops the historical Builder, if any.
func (s *Synchronizer) PurgeHistorical() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.historical = nil
}

// Purge drops both Builders.
func (s *Synchronizer) Purge() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forward = nil
	s.historical = nil
}

// Progress reports the current StatusFeed.
func (s *Synchronizer) Progress() StatusFeed {
	s.mu.Lock()
	defer s.mu.Unlock()
	return StatusFeed{
		Forward:        laneProgress(s.forward),
		Historical:     laneProgress(s.historical),
		LastProgressAt: s.lastProgressAt,
	}
}

func laneProgress(b *Builder) LaneProgress {
	if b == nil {
		return LaneProgress{Kind: ProgressIdle}
	}
	lp := LaneProgress{BlockHash: b.BlockHash(), State: b.State()}
	switch b.State() {
	case Synced:
		lp.Kind = ProgressSynced
	case Failed:
		lp.Kind = ProgressFailed
		lp.Reason = b.FailReason()
	case Executing:
		lp.Kind = ProgressExecuting
	default:
		lp.Kind = ProgressSyncing
	}
	return lp
}

// lanes returns the non-nil Builders currently hosted, for callers that
// want to iterate both without caring which is which.
func (s *Synchronizer) lanes() []*Builder {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Builder
	if s.forward != nil {
		out = append(out, s.forward)
	}
	if s.historical != nil {
		out = append(out, s.historical)
	}
	return out
}

func (s *Synchronizer) laneFor(hash BlockHash) *Builder {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.forward != nil && s.forward.BlockHash() == hash {
		return s.forward
	}
	if s.historical != nil && s.historical.BlockHash() == hash {
		return s.historical
	}
	return nil
}

// Tick drives one round: it asks every hosted Builder for its next
// effects and executes them. Fetches within a round run concurrently
// (bounded per-effect by the Dispatcher's MaxSimultaneousPeers); the
// resulting register_* calls are folded back in before Tick returns, so
// from the caller's point of view Builder mutation is still serialized —
// Tick itself is the reactor's single mutator, simply written to await
// its own round's effects rather than push them onto an external event
// channel, which keeps this package usable as a plain library.
func (s *Synchronizer) Tick(ctx context.Context, now time.Time) {
	for _, b := range s.lanes() {
		effects := b.NeedNext(now)
		if len(effects) == 0 {
			continue
		}
		s.executeEffects(ctx, b, effects)
		s.updateMetrics(b)
	}
}

func (s *Synchronizer) updateMetrics(b *Builder) {
	if s.metrics == nil {
		return
	}
	lane := "forward"
	if b.IsHistorical() {
		lane = "historical"
	}
	s.metrics.BuilderState.WithLabelValues(lane).Set(float64(b.State()))
	active := 0.0
	if b.latch.Active(time.Now()) {
		active = 1.0
	}
	s.metrics.LatchActive.WithLabelValues(lane).Set(active)
	s.metrics.PeersReliable.WithLabelValues(lane).Set(float64(b.Peers().ReliableCount()))
	s.metrics.PeersUnreliable.WithLabelValues(lane).Set(float64(b.Peers().UnreliableCount()))
	s.metrics.FinalityRatio.WithLabelValues(lane).Set(b.FinalityRatio())
}

func (s *Synchronizer) noteProgress() {
	s.mu.Lock()
	s.lastProgressAt = time.Now()
	s.mu.Unlock()
}

func (s *Synchronizer) executeEffects(ctx context.Context, b *Builder, effects []Effect) {
	for _, eff := range effects {
		s.executeEffect(ctx, b, eff)
	}
}

func (s *Synchronizer) executeEffect(ctx context.Context, b *Builder, eff Effect) {
	switch e := eff.(type) {
	case NeedPeersEffect:
		s.fetchPeers(ctx, b, e)
	case FetchHeaderEffect:
		s.fetchHeaders(ctx, b, e)
	case FetchSyncLeapEffect:
		s.fetchSyncLeaps(ctx, b, e)
	case FetchSignaturesEffect:
		s.fetchSignatures(ctx, b, e)
	case FetchBlockEffect:
		s.fetchBlocks(ctx, b, e)
	case FetchApprovalsHashesEffect:
		s.fetchApprovalsHashes(ctx, b, e)
	case FetchDeploysEffect:
		s.fetchDeploys(ctx, b, e)
	case MakeBlockExecutableEffect:
		s.makeExecutable(ctx, b, e)
	case SyncGlobalStateEffect:
		s.syncGlobalState(ctx, b, e)
	case EnqueueForExecutionEffect:
		s.enqueueForExecution(ctx, b, e)
	case FetchExecutionResultsEffect:
		s.fetchExecutionResults(ctx, b, e)
	default:
		s.log.Warn("unhandled effect", "type", eff)
	}
}

func (s *Synchronizer) demoteOnErr(b *Builder, err error) {
	var fe *FetchError
	if !errors.As(err, &fe) {
		return
	}
	b.Peers().Demote(fe.Peer)
	if fe.Kind == FetchInvalid && s.collab.PeerBehavior != nil {
		s.collab.PeerBehavior.DisconnectFromPeer(fe.Peer)
	}
}

func (s *Synchronizer) fetchPeers(ctx context.Context, b *Builder, e NeedPeersEffect) {
	var peers []PeerID
	if s.collab.Accumulator != nil {
		if got, err := s.collab.Accumulator.PeersForBlock(ctx, e.BlockHash); err == nil {
			peers = append(peers, got...)
		}
	}
	if e.IsHistorical && s.collab.Network != nil {
		if got, err := s.collab.Network.FullyConnectedPeers(ctx, s.cfg.MaxSimultaneousPeers); err == nil {
			peers = append(peers, got...)
		}
	}
	if len(peers) > 0 {
		b.Peers().RegisterPeers(peers)
	}
}

func (s *Synchronizer) fetchHeaders(ctx context.Context, b *Builder, e FetchHeaderEffect) {
	if s.collab.Headers == nil {
		return
	}
	results := fetchMany(ctx, s.dispatcher, "BlockHeader", e.BlockHash.String(), e.Peers,
		func() (*BlockHeader, bool) { return s.collab.Headers.StorageHit(e.BlockHash) },
		func(c context.Context, p PeerID) (*BlockHeader, error) { return s.collab.Headers.Fetch(c, e.BlockHash, p) })
	for _, r := range results {
		if r.err != nil {
			s.demoteOnErr(b, r.err)
			continue
		}
		var peer *PeerID
		if !r.outcome.FromStorage {
			peer = &r.outcome.Peer
		}
		if err := b.RegisterBlockHeader(r.outcome.Item, peer); err == nil {
			s.noteProgress()
		}
	}
}

func (s *Synchronizer) fetchSyncLeaps(ctx context.Context, b *Builder, e FetchSyncLeapEffect) {
	if s.collab.SyncLeaps == nil {
		return
	}
	results := fetchMany(ctx, s.dispatcher, "SyncLeap", e.BlockHash.String(), e.Peers,
		nil,
		func(c context.Context, p PeerID) (*SyncLeap, error) { return s.collab.SyncLeaps.Fetch(c, e.BlockHash, p) })
	for _, r := range results {
		if r.err != nil {
			s.demoteOnErr(b, r.err)
			continue
		}
		if err := b.RegisterEraValidatorWeights(r.outcome.Item); err == nil {
			s.noteProgress()
		}
	}
}

func (s *Synchronizer) fetchSignatures(ctx context.Context, b *Builder, e FetchSignaturesEffect) {
	if s.collab.Signatures == nil {
		return
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.MaxSimultaneousPeers)
	type outcome struct {
		sig *FinalitySignature
		err error
	}
	outcomes := make([]outcome, len(e.Requests))
	for i, req := range e.Requests {
		i, req := i, req
		g.Go(func() error {
			o, err := fetchOne(gctx, s.dispatcher, "FinalitySignature", e.BlockHash.String()+"/"+req.Validator.String(), req.Peer,
				nil,
				func(c context.Context) (*FinalitySignature, error) {
					return s.collab.Signatures.Fetch(c, e.BlockHash, req.Validator, req.Peer)
				})
			if err != nil {
				outcomes[i] = outcome{err: err}
				return nil
			}
			outcomes[i] = outcome{sig: o.Item}
			return nil
		})
	}
	_ = g.Wait()
	for i, o := range outcomes {
		if o.err != nil {
			s.demoteOnErr(b, o.err)
			continue
		}
		peer := e.Requests[i].Peer
		if err := b.RegisterFinalitySignature(*o.sig, &peer); err == nil {
			s.noteProgress()
		}
	}
}

func (s *Synchronizer) fetchBlocks(ctx context.Context, b *Builder, e FetchBlockEffect) {
	if s.collab.Blocks == nil {
		return
	}
	results := fetchMany(ctx, s.dispatcher, "Block", e.BlockHash.String(), e.Peers,
		func() (*Block, bool) { return s.collab.Blocks.StorageHit(e.BlockHash) },
		func(c context.Context, p PeerID) (*Block, error) { return s.collab.Blocks.Fetch(c, e.BlockHash, p) })
	for _, r := range results {
		if r.err != nil {
			s.demoteOnErr(b, r.err)
			continue
		}
		var peer *PeerID
		if !r.outcome.FromStorage {
			peer = &r.outcome.Peer
		}
		if err := b.RegisterBlock(r.outcome.Item, peer); err == nil {
			s.noteProgress()
		}
	}
}

func (s *Synchronizer) fetchApprovalsHashes(ctx context.Context, b *Builder, e FetchApprovalsHashesEffect) {
	if s.collab.ApprovalsHashes == nil {
		return
	}
	results := fetchMany(ctx, s.dispatcher, "ApprovalsHashes", e.BlockHash.String(), e.Peers,
		func() (*ApprovalsHashes, bool) { return s.collab.ApprovalsHashes.StorageHit(e.BlockHash) },
		func(c context.Context, p PeerID) (*ApprovalsHashes, error) { return s.collab.ApprovalsHashes.Fetch(c, e.BlockHash, p) })
	for _, r := range results {
		if r.err != nil {
			s.demoteOnErr(b, r.err)
			continue
		}
		var peer *PeerID
		if !r.outcome.FromStorage {
			peer = &r.outcome.Peer
		}
		if err := b.RegisterApprovalsHashes(r.outcome.Item, peer); err == nil {
			s.noteProgress()
		}
	}
}

func (s *Synchronizer) fetchDeploys(ctx context.Context, b *Builder, e FetchDeploysEffect) {
	if s.collab.Deploys == nil {
		return
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.MaxSimultaneousPeers)
	type outcome struct {
		deploy *Deploy
		err    error
	}
	outcomes := make([]outcome, len(e.Requests))
	for i, req := range e.Requests {
		i, req := i, req
		g.Go(func() error {
			o, err := fetchOne(gctx, s.dispatcher, "Deploy", req.ID.String(), req.Peer,
				func() (*Deploy, bool) { return s.collab.Deploys.StorageHit(req.ID) },
				func(c context.Context) (*Deploy, error) { return s.collab.Deploys.Fetch(c, req.ID, req.Peer) })
			if err != nil {
				outcomes[i] = outcome{err: err}
				return nil
			}
			outcomes[i] = outcome{deploy: o.Item}
			return nil
		})
	}
	_ = g.Wait()
	for i, o := range outcomes {
		if o.err != nil {
			s.demoteOnErr(b, o.err)
			continue
		}
		peer := e.Requests[i].Peer
		if err := b.RegisterDeploy(e.Requests[i].ID, o.deploy, &peer); err == nil {
			s.noteProgress()
		}
	}
}

func (s *Synchronizer) makeExecutable(ctx context.Context, b *Builder, e MakeBlockExecutableEffect) {
	if s.collab.Executable == nil {
		return
	}
	fb, sigs, ok, err := s.collab.Executable.MakeExecutable(ctx, e.BlockHash)
	if err != nil {
		s.log.Warn("make_executable failed", "block_hash", e.BlockHash, "err", err)
		return
	}
	if err := b.RegisterMadeFinalizedBlock(fb, sigs, ok); err == nil {
		s.noteProgress()
	}
}

func (s *Synchronizer) syncGlobalState(ctx context.Context, b *Builder, e SyncGlobalStateEffect) {
	if s.collab.GlobalState == nil {
		return
	}
	result, err := s.collab.GlobalState.Sync(ctx, e.BlockHash, e.StateRoot, e.Peers)
	if err != nil {
		s.log.Warn("sync_global_state failed", "block_hash", e.BlockHash, "err", err)
		return
	}
	if err := b.RegisterGlobalStateSynced(result); err == nil && !result.RootNotFound {
		s.noteProgress()
	}
}

func (s *Synchronizer) enqueueForExecution(ctx context.Context, b *Builder, e EnqueueForExecutionEffect) {
	if s.collab.Enqueuer == nil {
		return
	}
	if err := s.collab.Enqueuer.EnqueueForExecution(ctx, e.FinalizedBlock); err != nil {
		s.log.Warn("enqueue_for_execution failed", "err", err)
		return
	}
	if err := b.RegisterBlockExecutionEnqueued(); err == nil {
		s.noteProgress()
	}
}

func (s *Synchronizer) fetchExecutionResults(ctx context.Context, b *Builder, e FetchExecutionResultsEffect) {
	if s.collab.ExecutionResults == nil {
		return
	}
	results := fetchMany(ctx, s.dispatcher, "BlockExecutionResultsOrChunk", e.BlockHash.String(), e.Peers,
		func() (*ExecutionResults, bool) { return s.collab.ExecutionResults.StorageHit(e.BlockHash) },
		func(c context.Context, p PeerID) (*ExecutionResults, error) {
			return s.collab.ExecutionResults.Fetch(c, e.BlockHash, p)
		})
	for _, r := range results {
		if r.err != nil {
			s.demoteOnErr(b, r.err)
			continue
		}
		var peer *PeerID
		if !r.outcome.FromStorage {
			peer = &r.outcome.Peer
		}
		if err := b.RegisterExecutionResults(r.outcome.Item, peer); err == nil {
			s.noteProgress()
		}
	}
}

// MarkBlockExecuted applies the external MarkBlockExecuted(block_hash)
// event from the execution engine collaborator.
func (s *Synchronizer) MarkBlockExecuted(hash BlockHash) {
	if b := s.laneFor(hash); b != nil {
		if err := b.RegisterBlockExecuted(); err == nil {
			s.noteProgress()
		}
	}
}

// Run starts the NeedNext tick loop on cfg.NeedNextInterval until ctx is
// cancelled. Intended for cmd/blocksyncd; tests generally call Tick directly.
func (s *Synchronizer) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.NeedNextInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.Tick(ctx, now)
		}
	}
}
