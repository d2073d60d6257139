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

import "github.com/prometheus/client_golang/prometheus"

// Metrics groups the gauges and counters the synchronizer reports (§4.8).
// Registered once at construction. The gauges are set only from
// Synchronizer.Tick; FetchTotal is incremented from the Dispatcher's
// concurrent fetch goroutines, which the Prometheus vectors are safe for.
type Metrics struct {
	BuilderState     *prometheus.GaugeVec
	LatchActive      *prometheus.GaugeVec
	PeersReliable    *prometheus.GaugeVec
	PeersUnreliable  *prometheus.GaugeVec
	FetchTotal       *prometheus.CounterVec
	FinalityRatio    *prometheus.GaugeVec
}

// NewMetrics constructs and registers the synchronizer's metrics against reg.
// Passing a fresh prometheus.NewRegistry() is recommended for tests so
// repeated construction within a test binary does not collide on the
// global default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		BuilderState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "blocksync_builder_state",
			Help: "Current acquisition state of a Builder, as its numeric AcquisitionState enum value.",
		}, []string{"lane"}),
		LatchActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "blocksync_latch_active",
			Help: "Whether a Builder's latch is currently suppressing NeedNext emissions (0/1).",
		}, []string{"lane"}),
		PeersReliable: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "blocksync_peers_reliable",
			Help: "Number of peers tagged Reliable in a Builder's peer list.",
		}, []string{"lane"}),
		PeersUnreliable: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "blocksync_peers_unreliable",
			Help: "Number of peers tagged Unreliable in a Builder's peer list.",
		}, []string{"lane"}),
		FetchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "blocksync_fetch_total",
			Help: "Fetches issued by the dispatcher, by item kind and outcome.",
		}, []string{"kind", "outcome"}),
		FinalityRatio: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "blocksync_finality_weight_ratio",
			Help: "Accumulated finality signature weight divided by era total weight.",
		}, []string{"lane"}),
	}
	reg.MustRegister(m.BuilderState, m.LatchActive, m.PeersReliable, m.PeersUnreliable, m.FetchTotal, m.FinalityRatio)
	return m
}
