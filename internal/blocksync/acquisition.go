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

// AcquisitionState enumerates a Builder's progression through the fetch
// phases described in §4.3. The zero value is HaveBlockHash, the state
// every Builder starts at.
type AcquisitionState uint8

const (
	HaveBlockHash AcquisitionState = iota
	HaveBlockHeader
	HaveWeakFinalitySignatures
	HaveBlock
	HaveApprovalsHashes
	HaveAllDeploys
	HaveStrictFinalitySignatures
	HaveFinalizedBlock
	Executing
	HaveGlobalState
	HaveExecutionResults
	Synced
	Failed
)

func (s AcquisitionState) String() string {
	switch s {
	case HaveBlockHash:
		return "HaveBlockHash"
	case HaveBlockHeader:
		return "HaveBlockHeader"
	case HaveWeakFinalitySignatures:
		return "HaveWeakFinalitySignatures"
	case HaveBlock:
		return "HaveBlock"
	case HaveApprovalsHashes:
		return "HaveApprovalsHashes"
	case HaveAllDeploys:
		return "HaveAllDeploys"
	case HaveStrictFinalitySignatures:
		return "HaveStrictFinalitySignatures"
	case HaveFinalizedBlock:
		return "HaveFinalizedBlock"
	case Executing:
		return "Executing"
	case HaveGlobalState:
		return "HaveGlobalState"
	case HaveExecutionResults:
		return "HaveExecutionResults"
	case Synced:
		return "Synced"
	case Failed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Terminal reports whether s is one of the two states from which a
// Builder never progresses further on its own.
func (s AcquisitionState) Terminal() bool {
	return s == Synced || s == Failed
}
