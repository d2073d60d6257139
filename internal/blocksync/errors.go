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

import "errors"

// Sentinel errors. Callers are expected to use errors.Is, never string
// matching, to distinguish recoverable conditions from programming errors.
var (
	// ErrInvalidKey is returned when constructing a PublicKey from malformed bytes.
	ErrInvalidKey = errors.New("blocksync: invalid public key")

	// ErrIllegalTransition is returned when a register_* call is made in a
	// Builder state that does not accept it. Treated as a programming
	// error per §7: the call is rejected and the Builder is left
	// unchanged — it is not a panic, because a stray late response for a
	// purged or replaced Builder is expected traffic.
	ErrIllegalTransition = errors.New("blocksync: illegal acquisition state transition")

	// ErrConflictingValidatorWeights is returned by ValidatorMatrix.RegisterEraWeights
	// when an era is re-registered with a different weight map.
	ErrConflictingValidatorWeights = errors.New("blocksync: conflicting validator weights for era")

	// ErrUnknownEra is returned when a finality signature or header names
	// an era the ValidatorMatrix has no weights for yet.
	ErrUnknownEra = errors.New("blocksync: unknown era")

	// ErrHeaderHashMismatch is returned by RegisterBlockHeader when the
	// supplied header does not hash to the Builder's block hash.
	ErrHeaderHashMismatch = errors.New("blocksync: header hash mismatch")

	// ErrBodyHashMismatch is returned by RegisterBlock when the supplied
	// body does not hash to the header's recorded body hash.
	ErrBodyHashMismatch = errors.New("blocksync: body hash mismatch")

	// ErrApprovalsProofInvalid is returned by RegisterApprovalsHashes when
	// the merkle proof does not verify against the header's state root.
	ErrApprovalsProofInvalid = errors.New("blocksync: approvals hashes proof invalid")

	// ErrSignatureInvalid is returned when a finality signature fails
	// cryptographic verification or names a non-validator public key.
	ErrSignatureInvalid = errors.New("blocksync: finality signature invalid")

	// ErrUnknownDeploy is returned by RegisterDeploy when the supplied
	// deploy id is not present in the block's approvals hashes.
	ErrUnknownDeploy = errors.New("blocksync: deploy id not part of block")

	// ErrFinalityUnreachable marks a Builder Failed because the remaining
	// un-asked validator weight can no longer reach strict finality.
	ErrFinalityUnreachable = errors.New("blocksync: strict finality unreachable")

	// ErrCannotMakeExecutable marks a forward Builder Failed when the
	// execution collaborator could not turn the block into a
	// FinalizedBlock (MadeFinalizedBlock{result: None}).
	ErrCannotMakeExecutable = errors.New("blocksync: block cannot be made executable")

	// ErrDuplicateRegistration names the condition in which
	// Synchronizer.RegisterBlockByHash declines a registration: the targeted
	// lane already holds an active Builder for the same hash.
	// RegisterBlockByHash reports it by returning false; it does not return
	// this error.
	ErrDuplicateRegistration = errors.New("blocksync: block already being synchronized")
)
