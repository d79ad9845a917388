package evidence

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *ContentStore {
	t.Helper()
	store, err := NewContentStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewContentStore: %v", err)
	}
	return store
}

func TestContentStore_SaveLoadRoundTrip(t *testing.T) {
	store := newTestStore(t)

	payload := map[string]any{
		"incident": "INC-test",
		"cpu":      87.5,
		"tags":     []any{"sox", "fda"},
	}

	hash, size, err := store.Save("incident_capture", payload)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if size == 0 {
		t.Error("size should be non-zero")
	}

	loaded, err := store.Load(hash)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	// Canonical equality: both serialize to the same bytes.
	want, _ := CanonicalJSON(payload)
	got, _ := CanonicalJSON(loaded)
	if string(want) != string(got) {
		t.Errorf("round trip mismatch:\n got %s\nwant %s", got, want)
	}
}

func TestContentStore_SaveIdempotent(t *testing.T) {
	store := newTestStore(t)
	payload := map[string]any{"v": 1}

	h1, _, err := store.Save("test", payload)
	if err != nil {
		t.Fatal(err)
	}
	h2, _, err := store.Save("test", payload)
	if err != nil {
		t.Fatal(err)
	}
	if h1 != h2 {
		t.Errorf("same payload produced different hashes: %s vs %s", h1, h2)
	}

	count, _, err := store.Stats()
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("duplicate save should not create a second file, got %d", count)
	}
}

func TestContentStore_Sidecar(t *testing.T) {
	store := newTestStore(t)

	hash, size, err := store.Save("sample_transition", map[string]any{"sample": "S-100"})
	if err != nil {
		t.Fatal(err)
	}

	meta, err := store.LoadMeta(hash)
	if err != nil {
		t.Fatalf("LoadMeta: %v", err)
	}
	if meta.Hash != hash {
		t.Errorf("sidecar hash: got %s, want %s", meta.Hash, hash)
	}
	if meta.Type != "sample_transition" {
		t.Errorf("sidecar type: got %q", meta.Type)
	}
	if meta.Size != size {
		t.Errorf("sidecar size: got %d, want %d", meta.Size, size)
	}
	if meta.Timestamp == "" {
		t.Error("sidecar timestamp should be set")
	}
}

func TestContentStore_Verify(t *testing.T) {
	dir := t.TempDir()
	store, err := NewContentStore(dir)
	if err != nil {
		t.Fatal(err)
	}

	hash, _, err := store.Save("test", map[string]any{"v": 1})
	if err != nil {
		t.Fatal(err)
	}

	if !store.Verify(hash) {
		t.Error("freshly saved payload should verify")
	}

	// Corrupt the stored bytes on disk.
	path := filepath.Join(dir, hash+".json")
	if err := os.WriteFile(path, []byte(`{"v":999}`), 0o644); err != nil {
		t.Fatal(err)
	}

	if store.Verify(hash) {
		t.Error("corrupted payload should not verify")
	}
}

func TestContentStore_VerifyMissing(t *testing.T) {
	store := newTestStore(t)
	missing := "0000000000000000000000000000000000000000000000000000000000000000"
	if store.Verify(missing) {
		t.Error("Verify on missing hash should return false")
	}
}

func TestContentStore_LoadNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Load("0000000000000000000000000000000000000000000000000000000000000000")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	// Malformed hashes never touch the filesystem.
	_, err = store.Load("../../../etc/passwd")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("malformed hash: expected ErrNotFound, got %v", err)
	}
}

func TestContentStore_Stats(t *testing.T) {
	store := newTestStore(t)

	for i := 0; i < 3; i++ {
		if _, _, err := store.Save("test", map[string]any{"n": i}); err != nil {
			t.Fatal(err)
		}
	}

	count, size, err := store.Stats()
	if err != nil {
		t.Fatal(err)
	}
	if count != 3 {
		t.Errorf("count: got %d, want 3", count)
	}
	if size == 0 {
		t.Error("size should be non-zero")
	}
}
