package evidence

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ContentStore persists payloads as files named by their content hash:
//
//	<dir>/
//	├── 3a7bd3e2360a...c1b2.json   # canonical payload bytes
//	└── 3a7bd3e2360a...c1b2.meta   # sidecar: timestamp, type, size
//
// Content addressing gives deduplication for free (same payload, same
// file) and makes integrity verification a re-hash of the file bytes.
// The store knows nothing about the chain — linkage lives in the Index.
type ContentStore struct {
	dir string
}

// Meta is the sidecar record written next to each payload file. It exists
// so listings and stats don't need to parse full payloads.
type Meta struct {
	Hash      string `json:"hash"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Size      int64  `json:"size"`
}

// NewContentStore opens (or creates) a content-addressed store rooted at dir.
func NewContentStore(dir string) (*ContentStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating evidence directory %s: %w", dir, err)
	}
	return &ContentStore{dir: dir}, nil
}

// Save canonicalizes payload, hashes it, and writes the bytes under the
// hash. Saving content that already exists is a no-op — concurrent saves
// of the same payload race benignly because every writer produces the
// identical bytes. Returns the content hash and the payload size.
func (s *ContentStore) Save(payloadType string, payload map[string]any) (string, int64, error) {
	hash, data, err := HashPayload(payload)
	if err != nil {
		return "", 0, err
	}

	path := s.payloadPath(hash)
	if _, statErr := os.Stat(path); statErr == nil {
		// Already stored — content addressing makes this the same bytes.
		return hash, int64(len(data)), nil
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", 0, fmt.Errorf("%w: writing payload %s: %v", ErrStorageFailure, hash, err)
	}

	meta := Meta{
		Hash:      hash,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Type:      payloadType,
		Size:      int64(len(data)),
	}
	metaData, err := json.Marshal(meta)
	if err != nil {
		return "", 0, fmt.Errorf("marshaling sidecar for %s: %w", hash, err)
	}
	if err := os.WriteFile(s.metaPath(hash), metaData, 0o644); err != nil {
		return "", 0, fmt.Errorf("%w: writing sidecar %s: %v", ErrStorageFailure, hash, err)
	}

	return hash, int64(len(data)), nil
}

// Load reads and parses the payload stored under hash.
func (s *ContentStore) Load(hash string) (map[string]any, error) {
	data, err := s.LoadRaw(hash)
	if err != nil {
		return nil, err
	}
	return DecodePayload(data)
}

// LoadRaw returns the exact stored bytes for hash without parsing them.
// Verification paths use this so a corrupted file that is no longer valid
// JSON can still be detected rather than erroring out earlier.
func (s *ContentStore) LoadRaw(hash string) ([]byte, error) {
	if !validHash(hash) {
		return nil, fmt.Errorf("%w: malformed hash %q", ErrNotFound, hash)
	}
	data, err := os.ReadFile(s.payloadPath(hash))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: payload %s", ErrNotFound, hash)
		}
		return nil, fmt.Errorf("%w: reading payload %s: %v", ErrStorageFailure, hash, err)
	}
	return data, nil
}

// LoadMeta reads the sidecar record for hash.
func (s *ContentStore) LoadMeta(hash string) (Meta, error) {
	if !validHash(hash) {
		return Meta{}, fmt.Errorf("%w: malformed hash %q", ErrNotFound, hash)
	}
	data, err := os.ReadFile(s.metaPath(hash))
	if err != nil {
		if os.IsNotExist(err) {
			return Meta{}, fmt.Errorf("%w: sidecar %s", ErrNotFound, hash)
		}
		return Meta{}, fmt.Errorf("%w: reading sidecar %s: %v", ErrStorageFailure, hash, err)
	}
	var meta Meta
	if err := json.Unmarshal(data, &meta); err != nil {
		return Meta{}, fmt.Errorf("parsing sidecar %s: %w", hash, err)
	}
	return meta, nil
}

// Verify reports whether the bytes currently stored under hash still hash
// to it. Missing files and mismatches both return false — the store never
// "fixes" content.
func (s *ContentStore) Verify(hash string) bool {
	data, err := s.LoadRaw(hash)
	if err != nil {
		return false
	}
	return hashBytes(data) == hash
}

// Stats returns the payload file count and total payload bytes. Sidecar
// files are excluded from the size.
func (s *ContentStore) Stats() (count int, size int64, err error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, 0, fmt.Errorf("listing evidence directory: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		info, infoErr := e.Info()
		if infoErr != nil {
			continue
		}
		count++
		size += info.Size()
	}
	return count, size, nil
}

func (s *ContentStore) payloadPath(hash string) string {
	return filepath.Join(s.dir, hash+".json")
}

func (s *ContentStore) metaPath(hash string) string {
	return filepath.Join(s.dir, hash+".meta")
}

// validHash accepts only lowercase 64-char hex, keeping arbitrary strings
// out of filesystem paths.
func validHash(hash string) bool {
	if len(hash) != 64 {
		return false
	}
	for _, c := range []byte(hash) {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
