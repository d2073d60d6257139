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
	"fmt"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

// Dispatcher wraps the external fetcher collaborators and bounds fan-out
// concurrency to MaxSimultaneousPeers (C7), plus the aggregate outbound
// fetch rate via a token-bucket limiter (cfg.FetchRatePerSecond). It also
// de-duplicates concurrent requests for the same (kind, id, peer) triple
// via singleflight, so a slow peer that the Builder re-requests on
// consecutive NeedNext ticks before the first call returns shares one
// in-flight call rather than piling up duplicates.
type Dispatcher struct {
	cfg     Config
	group   singleflight.Group
	limiter *rate.Limiter
	metrics *Metrics
}

// NewDispatcher constructs a Dispatcher bound by cfg.MaxSimultaneousPeers,
// cfg.FetchTimeout and cfg.FetchRatePerSecond/cfg.FetchRateBurst. metrics
// may be nil in tests that don't care about observability.
func NewDispatcher(cfg Config, metrics *Metrics) *Dispatcher {
	var limiter *rate.Limiter
	if cfg.FetchRatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.FetchRatePerSecond), cfg.FetchRateBurst)
	}
	return &Dispatcher{cfg: cfg, limiter: limiter, metrics: metrics}
}

// FetchOutcome is the uniform result shape for a single item fetch:
// FetchedData = FromStorage(item) | FromPeer(item, peer) in §4.6's terms.
type FetchOutcome[T any] struct {
	Item        T
	Peer        PeerID
	FromStorage bool
}

func (d *Dispatcher) observe(kind, outcome string) {
	if d.metrics == nil {
		return
	}
	d.metrics.FetchTotal.WithLabelValues(kind, outcome).Inc()
}

// fetchOne performs a single (kind, id, peer) fetch: storage hit first,
// then the peer fetch under a per-peer timeout and singleflight
// deduplication.
func fetchOne[T any](
	ctx context.Context,
	d *Dispatcher,
	kind, id string,
	peer PeerID,
	storageHit func() (T, bool),
	fetch func(context.Context) (T, error),
) (FetchOutcome[T], error) {
	if storageHit != nil {
		if item, ok := storageHit(); ok {
			d.observe(kind, "storage_hit")
			return FetchOutcome[T]{Item: item, FromStorage: true}, nil
		}
	}

	key := fmt.Sprintf("%s/%s/%s", kind, id, peer)
	v, err, _ := d.group.Do(key, func() (interface{}, error) {
		if d.limiter != nil {
			if err := d.limiter.Wait(ctx); err != nil {
				var zero T
				return zero, err
			}
		}
		fctx, cancel := context.WithTimeout(ctx, d.cfg.FetchTimeout)
		defer cancel()
		return fetch(fctx)
	})
	if err != nil {
		d.observe(kind, outcomeOf(err))
		var zero T
		return FetchOutcome[T]{}, wrapFetchErr(err, zero, kind, id, peer)
	}
	d.observe(kind, "peer")
	return FetchOutcome[T]{Item: v.(T), Peer: peer, FromStorage: false}, nil
}

func outcomeOf(err error) string {
	var fe *FetchError
	if asFetchError(err, &fe) {
		return fe.Kind.String()
	}
	return "error"
}

func asFetchError(err error, target **FetchError) bool {
	fe, ok := err.(*FetchError)
	if ok {
		*target = fe
	}
	return ok
}

func wrapFetchErr[T any](err error, _ T, kind, id string, peer PeerID) error {
	if fe, ok := err.(*FetchError); ok {
		return fe
	}
	return &FetchError{Kind: FetchTimedOut, ID: kind + ":" + id, Peer: peer}
}

// fetchMany fans a fetch out across peers, bounded at
// MaxSimultaneousPeers concurrent requests, and returns every outcome
// (success or error) in peer order — callers that need "first success
// wins" semantics inspect the returned slice themselves, since different
// item kinds want different partial-failure handling.
func fetchMany[T any](
	ctx context.Context,
	d *Dispatcher,
	kind, id string,
	peers []PeerID,
	storageHit func() (T, bool),
	fetch func(context.Context, PeerID) (T, error),
) []result[T] {
	if len(peers) > d.cfg.MaxSimultaneousPeers {
		peers = peers[:d.cfg.MaxSimultaneousPeers]
	}
	results := make([]result[T], len(peers))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.MaxSimultaneousPeers)
	for i, peer := range peers {
		i, peer := i, peer
		// Only the first peer in the fan-out consults local storage; the
		// rest go straight to the network so N-1 goroutines don't race
		// each other (harmlessly but wastefully) on the same storage read.
		hit := storageHit
		if i != 0 {
			hit = nil
		}
		g.Go(func() error {
			outcome, err := fetchOne(gctx, d, kind, id, peer, hit, func(c context.Context) (T, error) {
				return fetch(c, peer)
			})
			results[i] = result[T]{outcome: outcome, err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

type result[T any] struct {
	outcome FetchOutcome[T]
	err     error
}
