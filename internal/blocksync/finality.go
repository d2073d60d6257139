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

	"github.com/holiman/uint256"
)

// FinalityLevel classifies the accumulated signature weight behind a block.
type FinalityLevel uint8

const (
	FinalityNone FinalityLevel = iota
	FinalityWeak
	FinalityStrict
)

func (l FinalityLevel) String() string {
	switch l {
	case FinalityWeak:
		return "weak"
	case FinalityStrict:
		return "strict"
	default:
		return "none"
	}
}

// FinalitySignatureSet accumulates verified finality signatures for one
// block (C3). Weight is tallied incrementally; insertion is idempotent
// per (block_hash, public_key).
type FinalitySignatureSet struct {
	blockHash BlockHash
	era       EraId
	signers   map[PublicKey]FinalitySignature
	weight    *uint256.Int
}

// NewFinalitySignatureSet constructs an empty set scoped to blockHash/era.
func NewFinalitySignatureSet(blockHash BlockHash, era EraId) *FinalitySignatureSet {
	return &FinalitySignatureSet{
		blockHash: blockHash,
		era:       era,
		signers:   make(map[PublicKey]FinalitySignature),
		weight:    new(uint256.Int),
	}
}

// Insert verifies and accumulates sig against ev. It accepts only if: the
// signature's era matches the set's era, the public key is among era
// validators, the signature cryptographically verifies, and it is not
// already present (re-insertion of a known signer is a no-op, not an
// error — idempotence per §5's ordering guarantees).
//
// Returns (accepted, err). err is non-nil only for ErrSignatureInvalid;
// a duplicate-but-valid signature returns (false, nil).
func (s *FinalitySignatureSet) Insert(sig FinalitySignature, ev *EraValidators) (bool, error) {
	if sig.BlockHash != s.blockHash || sig.EraID != s.era {
		return false, fmt.Errorf("%w: block/era mismatch", ErrSignatureInvalid)
	}
	if _, already := s.signers[sig.PublicKey]; already {
		return false, nil
	}
	weight, isValidator := ev.Weights[sig.PublicKey]
	if !isValidator {
		return false, fmt.Errorf("%w: public key is not a validator for era %d", ErrSignatureInvalid, s.era)
	}
	if !sig.Signature.Verify(sig.PublicKey, FinalitySignatureMessage(sig.BlockHash, sig.EraID)) {
		return false, fmt.Errorf("%w: cryptographic verification failed", ErrSignatureInvalid)
	}
	s.signers[sig.PublicKey] = sig
	s.weight.Add(s.weight, weight)
	return true, nil
}

// Has reports whether pk has already signed.
func (s *FinalitySignatureSet) Has(pk PublicKey) bool {
	_, ok := s.signers[pk]
	return ok
}

// Count returns the number of distinct signers accumulated.
func (s *FinalitySignatureSet) Count() int { return len(s.signers) }

// Weight returns the accumulated signature weight.
func (s *FinalitySignatureSet) Weight() *uint256.Int { return new(uint256.Int).Set(s.weight) }

// Level reports the finality level reached against ev's thresholds.
func (s *FinalitySignatureSet) Level(ev *EraValidators) FinalityLevel {
	if s.weight.Cmp(ev.strictThreshold()) >= 0 {
		return FinalityStrict
	}
	if s.weight.Cmp(ev.weakThreshold()) >= 0 {
		return FinalityWeak
	}
	return FinalityNone
}

// Unreachable reports whether strict finality can no longer be reached:
// the accumulated weight plus the weight of every validator who has not
// yet signed falls short of the strict threshold.
func (s *FinalitySignatureSet) Unreachable(ev *EraValidators) bool {
	remaining := new(uint256.Int).Set(s.weight)
	for pk, w := range ev.Weights {
		if _, signed := s.signers[pk]; !signed {
			remaining.Add(remaining, w)
		}
	}
	return remaining.Cmp(ev.strictThreshold()) < 0
}

// UnsignedValidators returns the public keys of validators who have not
// yet contributed a signature, used by need_next to target signature
// fetches at specific keys.
func (s *FinalitySignatureSet) UnsignedValidators(ev *EraValidators) []PublicKey {
	out := make([]PublicKey, 0, len(ev.Weights)-len(s.signers))
	for pk := range ev.Weights {
		if _, signed := s.signers[pk]; !signed {
			out = append(out, pk)
		}
	}
	return out
}
