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

// Package testutil provides in-memory reference implementations of every
// blocksync.Collaborators interface, grounded on the teacher's
// eth/downloader downloadTester fixture: one fixture struct seeded with
// per-peer inventories, configurable per-peer misbehavior, and adapters
// narrowing it down to each narrow per-kind collaborator interface.
package testutil

import (
	"bytes"
	"encoding/gob"

	"github.com/VictoriaMetrics/fastcache"

	bs "github.com/casper-ecosystem/blocksync/internal/blocksync"
)

// Storage is a fastcache-backed stand-in for the node's persistent block
// store, used to exercise HeaderFetcher.StorageHit and friends the same
// way a real storage-hit short-circuits a network fetch.
type Storage struct {
	headers   *fastcache.Cache
	blocks    *fastcache.Cache
	approvals *fastcache.Cache
	deploys   *fastcache.Cache
	results   *fastcache.Cache
}

// NewStorage constructs an empty Storage with a modest fastcache budget
// per item kind — ample for test fixtures, not tuned for production sizing.
func NewStorage() *Storage {
	const size = 1 << 20
	return &Storage{
		headers:   fastcache.New(size),
		blocks:    fastcache.New(size),
		approvals: fastcache.New(size),
		deploys:   fastcache.New(size),
		results:   fastcache.New(size),
	}
}

func gobEncode(v interface{}) []byte {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

func gobDecode(data []byte, v interface{}) bool {
	if len(data) == 0 {
		return false
	}
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v) == nil
}

func (s *Storage) PutHeader(h *bs.BlockHeader) {
	s.headers.Set([]byte(h.Hash().String()), gobEncode(h))
}

func (s *Storage) Header(hash bs.BlockHash) (*bs.BlockHeader, bool) {
	data := s.headers.Get(nil, []byte(hash.String()))
	var h bs.BlockHeader
	if !gobDecode(data, &h) {
		return nil, false
	}
	return &h, true
}

func (s *Storage) PutBlock(b *bs.Block) {
	s.blocks.Set([]byte(b.Hash().String()), gobEncode(b))
}

func (s *Storage) Block(hash bs.BlockHash) (*bs.Block, bool) {
	data := s.blocks.Get(nil, []byte(hash.String()))
	var b bs.Block
	if !gobDecode(data, &b) {
		return nil, false
	}
	return &b, true
}

func (s *Storage) PutApprovalsHashes(ah *bs.ApprovalsHashes) {
	s.approvals.Set([]byte(ah.BlockHash.String()), gobEncode(ah))
}

func (s *Storage) ApprovalsHashes(hash bs.BlockHash) (*bs.ApprovalsHashes, bool) {
	data := s.approvals.Get(nil, []byte(hash.String()))
	var ah bs.ApprovalsHashes
	if !gobDecode(data, &ah) {
		return nil, false
	}
	return &ah, true
}

func (s *Storage) PutDeploy(id bs.DeployID, d *bs.Deploy) {
	s.deploys.Set([]byte(id.String()), gobEncode(d))
}

func (s *Storage) Deploy(id bs.DeployID) (*bs.Deploy, bool) {
	data := s.deploys.Get(nil, []byte(id.String()))
	var d bs.Deploy
	if !gobDecode(data, &d) {
		return nil, false
	}
	return &d, true
}

func (s *Storage) PutExecutionResults(r *bs.ExecutionResults) {
	s.results.Set([]byte(r.BlockHash.String()), gobEncode(r))
}

func (s *Storage) ExecutionResults(hash bs.BlockHash) (*bs.ExecutionResults, bool) {
	data := s.results.Get(nil, []byte(hash.String()))
	var r bs.ExecutionResults
	if !gobDecode(data, &r) {
		return nil, false
	}
	return &r, true
}
