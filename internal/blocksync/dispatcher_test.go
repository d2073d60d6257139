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
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testDispatcher(maxPeers int, timeout time.Duration) *Dispatcher {
	cfg := DefaultConfig()
	cfg.MaxSimultaneousPeers = maxPeers
	cfg.FetchTimeout = timeout
	return NewDispatcher(cfg, nil)
}

func TestFetchOneStorageHitSkipsNetwork(t *testing.T) {
	d := testDispatcher(5, time.Second)
	var networkCalls int32
	outcome, err := fetchOne[int](context.Background(), d, "kind", "id", PeerID("p1"),
		func() (int, bool) { return 42, true },
		func(context.Context) (int, error) { atomic.AddInt32(&networkCalls, 1); return 0, nil })
	require.NoError(t, err)
	require.True(t, outcome.FromStorage)
	require.Equal(t, 42, outcome.Item)
	require.Zero(t, atomic.LoadInt32(&networkCalls))
}

func TestFetchOneNetworkFallback(t *testing.T) {
	d := testDispatcher(5, time.Second)
	outcome, err := fetchOne[int](context.Background(), d, "kind", "id", PeerID("p1"),
		func() (int, bool) { return 0, false },
		func(context.Context) (int, error) { return 7, nil })
	require.NoError(t, err)
	require.False(t, outcome.FromStorage)
	require.Equal(t, 7, outcome.Item)
	require.Equal(t, PeerID("p1"), outcome.Peer)
}

func TestFetchOneTimeout(t *testing.T) {
	d := testDispatcher(5, 10*time.Millisecond)
	_, err := fetchOne[int](context.Background(), d, "kind", "id", PeerID("p1"), nil,
		func(ctx context.Context) (int, error) {
			<-ctx.Done()
			return 0, ctx.Err()
		})
	require.Error(t, err)
	fe, ok := err.(*FetchError)
	require.True(t, ok)
	require.Equal(t, FetchTimedOut, fe.Kind)
}

func TestFetchOnePropagatesFetchError(t *testing.T) {
	d := testDispatcher(5, time.Second)
	want := &FetchError{Kind: FetchInvalid, ID: "id", Peer: PeerID("p1")}
	_, err := fetchOne[int](context.Background(), d, "kind", "id", PeerID("p1"), nil,
		func(context.Context) (int, error) { return 0, want })
	require.Same(t, want, err)
}

func TestFetchManyBoundsConcurrency(t *testing.T) {
	const maxPeers = 3
	d := testDispatcher(maxPeers, time.Second)

	peers := make([]PeerID, 10)
	for i := range peers {
		peers[i] = PeerID(fmt.Sprintf("peer-%d", i))
	}

	var inFlight, maxSeen int32
	release := make(chan struct{})
	go func() {
		time.Sleep(20 * time.Millisecond)
		close(release)
	}()
	results := fetchMany[int](context.Background(), d, "kind", "id", peers, nil,
		func(ctx context.Context, p PeerID) (int, error) {
			cur := atomic.AddInt32(&inFlight, 1)
			for {
				seen := atomic.LoadInt32(&maxSeen)
				if cur <= seen || atomic.CompareAndSwapInt32(&maxSeen, seen, cur) {
					break
				}
			}
			<-release
			atomic.AddInt32(&inFlight, -1)
			return 1, nil
		})
	require.Len(t, results, maxPeers)
	require.LessOrEqual(t, atomic.LoadInt32(&maxSeen), int32(maxPeers))
}

func TestFetchManyOnlyFirstPeerConsultsStorage(t *testing.T) {
	d := testDispatcher(5, time.Second)
	peers := []PeerID{"p1", "p2", "p3"}
	var storageCalls int32
	results := fetchMany[int](context.Background(), d, "kind", "id", peers,
		func() (int, bool) { atomic.AddInt32(&storageCalls, 1); return 0, false },
		func(ctx context.Context, p PeerID) (int, error) { return 1, nil })
	require.Len(t, results, 3)
	require.Equal(t, int32(1), atomic.LoadInt32(&storageCalls))
}

func TestFetchManyTruncatesToMaxSimultaneousPeers(t *testing.T) {
	d := testDispatcher(2, time.Second)
	peers := []PeerID{"p1", "p2", "p3", "p4"}
	results := fetchMany[int](context.Background(), d, "kind", "id", peers, nil,
		func(ctx context.Context, p PeerID) (int, error) { return 1, nil })
	require.Len(t, results, 2)
}
