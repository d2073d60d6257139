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
	"sync"

	"github.com/holiman/uint256"
)

// Weight is a validator's staked weight, represented as a uint256 so
// accumulation never silently overflows at the scale real validator sets
// stake at.
type Weight = uint256.Int

// EraValidators is the immutable per-era validator weight map, plus the
// precomputed total weight; the finality thresholds are derived from Total
// on each call.
type EraValidators struct {
	Weights map[PublicKey]*Weight
	Total   *Weight
}

// weakThreshold returns ⌈total/3⌉.
func (ev *EraValidators) weakThreshold() *Weight {
	three := uint256.NewInt(3)
	q, r := new(uint256.Int), new(uint256.Int)
	q.DivMod(ev.Total, three, r)
	if !r.IsZero() {
		q.AddUint64(q, 1)
	}
	return q
}

// strictThreshold returns the smallest weight strictly greater than 2*total/3,
// i.e. floor(2*total/3) + 1.
func (ev *EraValidators) strictThreshold() *Weight {
	two := uint256.NewInt(2)
	three := uint256.NewInt(3)
	num := new(uint256.Int).Mul(ev.Total, two)
	q := new(uint256.Int).Div(num, three)
	return q.AddUint64(q, 1)
}

func sameWeights(a, b map[PublicKey]*Weight) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		ov, ok := b[k]
		if !ok || v.Cmp(ov) != 0 {
			return false
		}
	}
	return true
}

// ValidatorMatrix is the shared, read-mostly mapping from era to validator
// weights (C2). It is the one piece of state shared between the forward
// and historical Builders; mutation is a monotonic addition of new eras,
// guarded by a RWMutex per §5's resource policy.
type ValidatorMatrix struct {
	mu    sync.RWMutex
	byEra map[EraId]*EraValidators
}

// NewValidatorMatrix constructs an empty matrix.
func NewValidatorMatrix() *ValidatorMatrix {
	return &ValidatorMatrix{byEra: make(map[EraId]*EraValidators)}
}

// RegisterEraWeights installs weights for era. Idempotent if the weights
// match an existing registration; a conflicting re-registration for the
// same era is rejected as a programming error (ErrConflictingValidatorWeights)
// and does not mutate the matrix.
func (m *ValidatorMatrix) RegisterEraWeights(era EraId, weights map[PublicKey]*Weight) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.byEra[era]; ok {
		if sameWeights(existing.Weights, weights) {
			return nil
		}
		return fmt.Errorf("%w: era %d", ErrConflictingValidatorWeights, era)
	}
	total := new(uint256.Int)
	copied := make(map[PublicKey]*Weight, len(weights))
	for k, v := range weights {
		copied[k] = new(uint256.Int).Set(v)
		total.Add(total, v)
	}
	m.byEra[era] = &EraValidators{Weights: copied, Total: total}
	return nil
}

// EraValidators returns the validator set for era, or nil, ok=false if the
// era is not yet known.
func (m *ValidatorMatrix) EraValidators(era EraId) (*EraValidators, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ev, ok := m.byEra[era]
	return ev, ok
}

// HasEra reports whether weights for era have been registered.
func (m *ValidatorMatrix) HasEra(era EraId) bool {
	_, ok := m.EraValidators(era)
	return ok
}
