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
	"bytes"
	"crypto/ed25519"
	"encoding/binary"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	ecdsa "github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"golang.org/x/crypto/blake2b"
)

// KeyTag distinguishes the signature scheme carried by a PublicKey or
// Signature. The original node supports both curves side by side; this
// spec's distilled "opaque cryptographic pair" is expanded into the tagged
// union the node actually ships.
type KeyTag uint8

const (
	KeyTagEd25519 KeyTag = iota + 1
	KeyTagSecp256k1
)

func (t KeyTag) String() string {
	switch t {
	case KeyTagEd25519:
		return "ed25519"
	case KeyTagSecp256k1:
		return "secp256k1"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// PublicKey is a tagged, comparable public key. Comparable so it can be
// used directly as a map key in ValidatorMatrix and a set element in
// FinalitySignatureSet's seen-signers tracking.
type PublicKey struct {
	Tag KeyTag
	Raw string // raw key bytes, stored as string for comparability/hashability
}

func NewEd25519PublicKey(raw []byte) (PublicKey, error) {
	if len(raw) != ed25519.PublicKeySize {
		return PublicKey{}, fmt.Errorf("%w: ed25519 public key must be %d bytes, got %d", ErrInvalidKey, ed25519.PublicKeySize, len(raw))
	}
	return PublicKey{Tag: KeyTagEd25519, Raw: string(raw)}, nil
}

func NewSecp256k1PublicKey(raw []byte) (PublicKey, error) {
	if _, err := btcec.ParsePubKey(raw); err != nil {
		return PublicKey{}, fmt.Errorf("%w: secp256k1 public key: %v", ErrInvalidKey, err)
	}
	return PublicKey{Tag: KeyTagSecp256k1, Raw: string(raw)}, nil
}

func (k PublicKey) String() string {
	return fmt.Sprintf("%s:%x", k.Tag, []byte(k.Raw))
}

// Signature is a tagged signature matching one of the PublicKey schemes.
type Signature struct {
	Tag KeyTag
	Raw []byte
}

// Verify checks sig against msg under the given public key. A tag mismatch
// between signature and key is treated as a verification failure, not a
// programming error — a hostile peer can freely send mismatched tags.
func (sig Signature) Verify(pk PublicKey, msg []byte) bool {
	if sig.Tag != pk.Tag {
		return false
	}
	switch sig.Tag {
	case KeyTagEd25519:
		if len(sig.Raw) != ed25519.SignatureSize {
			return false
		}
		return ed25519.Verify(ed25519.PublicKey(pk.Raw), msg, sig.Raw)
	case KeyTagSecp256k1:
		parsed, err := btcec.ParsePubKey([]byte(pk.Raw))
		if err != nil {
			return false
		}
		s, err := ecdsa.ParseDERSignature(sig.Raw)
		if err != nil {
			return false
		}
		digest := blake2bSum(msg)
		return s.Verify(digest[:], parsed)
	default:
		return false
	}
}

// FinalitySignatureMessage is the canonical byte sequence a finality
// signature is computed over: (block_hash, era_id).
func FinalitySignatureMessage(blockHash BlockHash, era EraId) []byte {
	var buf bytes.Buffer
	buf.Write(blockHash[:])
	var eraBuf [8]byte
	binary.BigEndian.PutUint64(eraBuf[:], uint64(era))
	buf.Write(eraBuf[:])
	return buf.Bytes()
}

func blake2bSum(data []byte) Digest {
	h, err := blake2b.New256(nil)
	if err != nil {
		// blake2b.New256 only errors on a bad key length, and we pass nil.
		panic(fmt.Sprintf("blake2b.New256: %v", err))
	}
	h.Write(data)
	var out Digest
	copy(out[:], h.Sum(nil))
	return out
}

func hashHeader(h *BlockHeader) Digest {
	var buf bytes.Buffer
	buf.Write(h.Parent[:])
	writeUint64(&buf, uint64(h.Height))
	writeUint64(&buf, uint64(h.EraID))
	buf.Write(h.StateRoot[:])
	buf.Write(h.BodyHash[:])
	writeUint64(&buf, uint64(h.Timestamp.UnixNano()))
	if h.IsSwitchBlock {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
	buf.WriteString(h.ProtocolVersion)
	buf.Write(h.AccumulatedSeed[:])
	return blake2bSum(buf.Bytes())
}

func hashBody(b *BlockBody) Digest {
	var buf bytes.Buffer
	writeUint64(&buf, uint64(len(b.DeployHashes)))
	for _, dh := range b.DeployHashes {
		buf.Write(dh[:])
	}
	writeUint64(&buf, uint64(len(b.TransferHashes)))
	for _, th := range b.TransferHashes {
		buf.Write(th[:])
	}
	return blake2bSum(buf.Bytes())
}

func writeUint64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

// VerifyMerkleProof checks that leaf, combined with proof, reduces to root.
// A minimal binary merkle path: at each step the leaf digest is combined
// with the next sibling in (left, right) order determined by the bit at
// that depth of the leaf index.
func VerifyMerkleProof(leaf Digest, proof MerkleProof, root Digest) bool {
	cur := leaf
	idx := proof.LeafIdx
	for _, sib := range proof.Siblings {
		var combined []byte
		if idx&1 == 0 {
			combined = append(append([]byte{}, cur[:]...), sib...)
		} else {
			combined = append(append([]byte{}, sib...), cur[:]...)
		}
		cur = blake2bSum(combined)
		idx >>= 1
	}
	return cur == root
}
