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

// Command blocksyncd runs the block synchronization engine standalone,
// against the in-memory testutil.FakeNode collaborators (transport,
// storage and execution are all out of scope for this engine — see
// internal/blocksync/collaborators.go — so the daemon has nothing else to
// wire in without a sibling node project supplying them).
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/google/uuid"
	log "github.com/inconshreveable/log15"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"
	"go.uber.org/automaxprocs/maxprocs"

	bs "github.com/casper-ecosystem/blocksync/internal/blocksync"
	"github.com/casper-ecosystem/blocksync/internal/blocksync/testutil"
)

func main() {
	app := &cli.App{
		Name:  "blocksyncd",
		Usage: "run the block synchronization engine",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Usage: "path to a TOML config file"},
			&cli.StringFlag{Name: "block-hash", Usage: "hex block hash to synchronize forward from", Required: true},
			&cli.IntFlag{Name: "max-simultaneous-peers", Usage: "override engine.max_simultaneous_peers"},
			&cli.DurationFlag{Name: "latch-ttl", Usage: "override engine.latch_ttl"},
			&cli.DurationFlag{Name: "fetch-timeout", Usage: "override engine.fetch_timeout"},
			&cli.DurationFlag{Name: "need-next-interval", Usage: "override engine.need_next_interval"},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	if _, err := maxprocs.Set(); err != nil {
		return fmt.Errorf("setting GOMAXPROCS: %w", err)
	}

	fcfg, err := loadConfig(c.String("config"))
	if err != nil {
		return err
	}
	applyFlagOverrides(c, &fcfg.Engine)

	runID := uuid.New()
	logger := log.New("run_id", runID.String())
	logger.SetHandler(log.LvlFilterHandler(parseLevel(fcfg.Node.LogLevel), log.StreamHandler(os.Stderr, log.TerminalFormat())))
	logger.Info("starting blocksyncd", "status_addr", fcfg.Node.StatusAddr)

	// recentlyDisconnected bounds how much peer-reputation history the
	// daemon retains between reconnect attempts; an unbounded map would
	// grow with every peer ever seen over the node's lifetime.
	recentlyDisconnected, err := lru.New[bs.PeerID, time.Time](4096)
	if err != nil {
		return fmt.Errorf("allocating disconnect cache: %w", err)
	}

	registry := prometheus.NewRegistry()
	metrics := bs.NewMetrics(registry)
	matrix := bs.NewValidatorMatrix()
	dispatcher := bs.NewDispatcher(fcfg.Engine, metrics)

	node := testutil.NewFakeNode()
	collaborators := node.Collaborators()
	collaborators.PeerBehavior = trackingDisconnector{inner: collaborators.PeerBehavior, cache: recentlyDisconnected, ttl: fcfg.Node.DisconnectTTL, log: logger}

	sync := bs.NewSynchronizer(fcfg.Engine, matrix, collaborators, dispatcher, metrics)

	var hash bs.BlockHash
	if err := parseBlockHash(c.String("block-hash"), &hash); err != nil {
		return err
	}
	sync.RegisterBlockByHash(hash, false)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	mux := http.NewServeMux()
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(sync.Progress())
	})
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	server := &http.Server{Addr: fcfg.Node.StatusAddr, Handler: mux}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("status server failed", "err", err)
		}
	}()

	sync.Run(ctx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = server.Shutdown(shutdownCtx)
	logger.Info("blocksyncd stopped")
	return nil
}

// applyFlagOverrides layers CLI flags on top of the TOML-loaded engine
// config; a flag only takes effect when the caller actually passed it, so
// an unset flag never clobbers a value the config file set.
func applyFlagOverrides(c *cli.Context, cfg *bs.Config) {
	if c.IsSet("max-simultaneous-peers") {
		cfg.MaxSimultaneousPeers = c.Int("max-simultaneous-peers")
	}
	if c.IsSet("latch-ttl") {
		cfg.LatchTTL = c.Duration("latch-ttl")
	}
	if c.IsSet("fetch-timeout") {
		cfg.FetchTimeout = c.Duration("fetch-timeout")
	}
	if c.IsSet("need-next-interval") {
		cfg.NeedNextInterval = c.Duration("need-next-interval")
	}
}

func parseLevel(s string) log.Lvl {
	lvl, err := log.LvlFromString(s)
	if err != nil {
		return log.LvlInfo
	}
	return lvl
}

func parseBlockHash(s string, out *bs.BlockHash) error {
	if len(s) != len(*out)*2 {
		return fmt.Errorf("block hash must be %d hex chars, got %d", len(*out)*2, len(s))
	}
	for i := range out {
		var b byte
		if _, err := fmt.Sscanf(s[i*2:i*2+2], "%02x", &b); err != nil {
			return fmt.Errorf("invalid hex in block hash: %w", err)
		}
		out[i] = b
	}
	return nil
}

// trackingDisconnector wraps a PeerBehaviorAnnouncer to additionally
// record disconnect timestamps in an LRU cache, demonstrating the daemon's
// own peer-reputation bookkeeping layered on top of the engine's.
type trackingDisconnector struct {
	inner bs.PeerBehaviorAnnouncer
	cache *lru.Cache[bs.PeerID, time.Time]
	ttl   time.Duration
	log   log.Logger
}

func (d trackingDisconnector) DisconnectFromPeer(peer bs.PeerID) {
	if until, ok := d.cache.Get(peer); ok && time.Now().Before(until) {
		return // already disconnected recently, avoid log spam
	}
	d.cache.Add(peer, time.Now().Add(d.ttl))
	d.log.Warn("disconnecting misbehaving peer", "peer", peer)
	if d.inner != nil {
		d.inner.DisconnectFromPeer(peer)
	}
}
