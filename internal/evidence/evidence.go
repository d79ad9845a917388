// Package evidence implements the tamper-evident chain of custody ledger.
//
// Every captured incident becomes a Block: an immutable, hash-linked entry
// whose content hash is computed over the canonical serialization of its
// payload. Each block records the content hash of its predecessor, so any
// retroactive edit to a stored payload breaks the chain from that point
// forward and is detectable by re-hashing.
//
// The package owns three cooperating pieces:
//
//   - ContentStore: content-addressed payload files on disk, keyed by hash
//   - Index: the durable chain-of-custody row store (SQLite)
//   - Chain: the single-writer append path that links blocks together
package evidence

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// GenesisHash is the previous_hash sentinel carried by the first block in
// the chain. There is no block zero to point at, so the literal string
// stands in.
const GenesisHash = "GENESIS"

// Block is one entry in the chain of custody. All fields except Verified
// are immutable after the append that created the block. Verified starts
// true and is flipped false by the verification service when the stored
// payload no longer hashes to ContentHash.
type Block struct {
	ID           string `json:"id"`
	Sequence     uint64 `json:"seq"`
	Timestamp    string `json:"ts"`
	Type         string `json:"type"`
	ContentHash  string `json:"content_hash"`
	PreviousHash string `json:"previous_hash"`
	Verified     bool   `json:"verified"`
}

// NewIncidentID builds a block identifier of the form
// INC-20260214-093041-a1b2c3d4. The timestamp prefix keeps ids readable and
// roughly sortable for operators; the UUID suffix guarantees uniqueness when
// concurrent captures land in the same second.
func NewIncidentID(t time.Time) string {
	suffix := uuid.New().String()[:8]
	return fmt.Sprintf("INC-%s-%s", t.UTC().Format("20060102-150405"), suffix)
}

// HashPayload canonicalizes the payload and returns its SHA-256 hash as
// lowercase hex, together with the canonical bytes that were hashed. The
// same bytes are what ContentStore persists, so re-hashing the stored file
// must reproduce the hash exactly.
func HashPayload(payload map[string]any) (string, []byte, error) {
	data, err := CanonicalJSON(payload)
	if err != nil {
		return "", nil, fmt.Errorf("canonicalizing payload: %w", err)
	}
	return hashBytes(data), data, nil
}

// hashBytes returns the lowercase hex SHA-256 of data.
func hashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// VerifyLink reports whether child correctly extends parent. A nil parent
// means child must be the genesis block.
func VerifyLink(parent, child *Block) bool {
	if parent == nil {
		return child.Sequence == 0 && child.PreviousHash == GenesisHash
	}
	return child.Sequence == parent.Sequence+1 && child.PreviousHash == parent.ContentHash
}
