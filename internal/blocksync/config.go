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

import "time"

// Config carries the engine's tunable parameters (§6). Field names match
// the TOML keys cmd/blocksyncd loads them from (see cmd/blocksyncd/config.go).
type Config struct {
	MaxSimultaneousPeers int           `toml:"max_simultaneous_peers"`
	LatchTTL             time.Duration `toml:"latch_ttl"`
	FetchTimeout         time.Duration `toml:"fetch_timeout"`
	NeedNextInterval     time.Duration `toml:"need_next_interval"`

	// EraValidatorsTimeout bounds how long a Builder waits, after
	// registering a header, for the header's era to appear in the
	// ValidatorMatrix before failing outright (§4.3: "validator weights
	// for the header's era cannot be obtained after header.era_id's
	// known-by time"). Zero disables the timeout.
	EraValidatorsTimeout time.Duration `toml:"era_validators_timeout"`

	// PeerReliabilityDecay is how many consecutive invalid/absent
	// responses a peer may accrue before a Builder evicts it from its
	// peer list entirely, rather than merely deprioritizing it into the
	// Unreliable tier. 0 disables eviction (peers are kept forever,
	// matching §4.1's sampling policy).
	PeerReliabilityDecay int `toml:"peer_reliability_decay"`

	// FetchRatePerSecond and FetchRateBurst bound the Dispatcher's total
	// outbound peer-fetch rate (C7), independent of MaxSimultaneousPeers'
	// concurrency cap: a burst of short-lived fetches could otherwise
	// still hammer the network well beyond what any single peer
	// connection should see. Zero disables rate limiting.
	FetchRatePerSecond float64 `toml:"fetch_rate_per_second"`
	FetchRateBurst     int     `toml:"fetch_rate_burst"`
}

// DefaultConfig returns the documented defaults from §6.
func DefaultConfig() Config {
	return Config{
		MaxSimultaneousPeers: 5,
		LatchTTL:             5 * time.Second,
		FetchTimeout:         2 * time.Second,
		NeedNextInterval:     250 * time.Millisecond,
		EraValidatorsTimeout: 30 * time.Second,
		FetchRatePerSecond:   50,
		FetchRateBurst:       10,
	}
}
