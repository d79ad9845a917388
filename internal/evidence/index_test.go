package evidence

import (
	"errors"
	"fmt"
	"path/filepath"
	"testing"
)

func newTestIndex(t *testing.T) *Index {
	t.Helper()
	ix, err := OpenIndex(filepath.Join(t.TempDir(), "custody.db"))
	if err != nil {
		t.Fatalf("OpenIndex: %v", err)
	}
	t.Cleanup(func() { ix.Close() })
	return ix
}

func testBlock(seq uint64) *Block {
	return &Block{
		ID:           fmt.Sprintf("INC-%03d", seq),
		Sequence:     seq,
		Timestamp:    fmt.Sprintf("2026-02-14T09:00:%02dZ", seq),
		Type:         "incident_capture",
		ContentHash:  fmt.Sprintf("%064d", seq),
		PreviousHash: GenesisHash,
		Verified:     true,
	}
}

func TestIndex_InsertAndFind(t *testing.T) {
	ix := newTestIndex(t)
	b := testBlock(0)
	if err := ix.Insert(b); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	byID, err := ix.FindByID(b.ID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if byID.ContentHash != b.ContentHash || !byID.Verified {
		t.Errorf("FindByID returned %+v", byID)
	}

	byHash, err := ix.FindByHash(b.ContentHash)
	if err != nil {
		t.Fatalf("FindByHash: %v", err)
	}
	if byHash.ID != b.ID {
		t.Errorf("FindByHash id: got %s, want %s", byHash.ID, b.ID)
	}

	bySeq, err := ix.FindBySequence(0)
	if err != nil {
		t.Fatalf("FindBySequence: %v", err)
	}
	if bySeq.ID != b.ID {
		t.Errorf("FindBySequence id: got %s, want %s", bySeq.ID, b.ID)
	}
}

func TestIndex_DuplicateID(t *testing.T) {
	ix := newTestIndex(t)
	if err := ix.Insert(testBlock(0)); err != nil {
		t.Fatal(err)
	}

	dup := testBlock(1)
	dup.ID = "INC-000" // same id, different seq
	if err := ix.Insert(dup); !errors.Is(err, ErrDuplicate) {
		t.Errorf("duplicate id: expected ErrDuplicate, got %v", err)
	}
}

func TestIndex_DuplicateSequence(t *testing.T) {
	ix := newTestIndex(t)
	if err := ix.Insert(testBlock(0)); err != nil {
		t.Fatal(err)
	}

	dup := testBlock(0)
	dup.ID = "INC-other"
	if err := ix.Insert(dup); !errors.Is(err, ErrDuplicate) {
		t.Errorf("duplicate seq: expected ErrDuplicate, got %v", err)
	}
}

func TestIndex_FindNotFound(t *testing.T) {
	ix := newTestIndex(t)
	if _, err := ix.FindByID("INC-missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestIndex_Head(t *testing.T) {
	ix := newTestIndex(t)

	head, err := ix.Head()
	if err != nil {
		t.Fatal(err)
	}
	if head != nil {
		t.Errorf("empty index head should be nil, got %+v", head)
	}

	for seq := uint64(0); seq < 5; seq++ {
		if err := ix.Insert(testBlock(seq)); err != nil {
			t.Fatal(err)
		}
	}

	head, err = ix.Head()
	if err != nil {
		t.Fatal(err)
	}
	if head == nil || head.Sequence != 4 {
		t.Errorf("head: got %+v, want seq 4", head)
	}
}

func TestIndex_ListRecent(t *testing.T) {
	ix := newTestIndex(t)
	for seq := uint64(0); seq < 10; seq++ {
		if err := ix.Insert(testBlock(seq)); err != nil {
			t.Fatal(err)
		}
	}

	recent, err := ix.ListRecent(3)
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 3 {
		t.Fatalf("got %d blocks, want 3", len(recent))
	}
	// Newest first.
	if recent[0].Sequence != 9 || recent[1].Sequence != 8 || recent[2].Sequence != 7 {
		t.Errorf("order: got %d, %d, %d", recent[0].Sequence, recent[1].Sequence, recent[2].Sequence)
	}
}

func TestIndex_ListByDateRange(t *testing.T) {
	ix := newTestIndex(t)
	for seq := uint64(0); seq < 10; seq++ {
		if err := ix.Insert(testBlock(seq)); err != nil {
			t.Fatal(err)
		}
	}

	blocks, err := ix.ListByDateRange("2026-02-14T09:00:03Z", "2026-02-14T09:00:06Z", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(blocks) != 4 {
		t.Fatalf("got %d blocks, want 4", len(blocks))
	}
	if blocks[0].Sequence != 3 || blocks[3].Sequence != 6 {
		t.Errorf("range bounds: got %d..%d", blocks[0].Sequence, blocks[3].Sequence)
	}
}

func TestIndex_SetVerifiedAndCount(t *testing.T) {
	ix := newTestIndex(t)
	for seq := uint64(0); seq < 4; seq++ {
		if err := ix.Insert(testBlock(seq)); err != nil {
			t.Fatal(err)
		}
	}

	if err := ix.SetVerified("INC-002", false); err != nil {
		t.Fatalf("SetVerified: %v", err)
	}

	b, err := ix.FindByID("INC-002")
	if err != nil {
		t.Fatal(err)
	}
	if b.Verified {
		t.Error("block should be unverified after SetVerified(false)")
	}

	verified, total, err := ix.CountVerified()
	if err != nil {
		t.Fatal(err)
	}
	if total != 4 || verified != 3 {
		t.Errorf("counts: got %d/%d, want 3/4", verified, total)
	}

	if err := ix.SetVerified("INC-missing", false); !errors.Is(err, ErrNotFound) {
		t.Errorf("SetVerified unknown id: expected ErrNotFound, got %v", err)
	}
}

func TestIndex_ListAscending(t *testing.T) {
	ix := newTestIndex(t)
	for seq := uint64(0); seq < 10; seq++ {
		if err := ix.Insert(testBlock(seq)); err != nil {
			t.Fatal(err)
		}
	}

	blocks, err := ix.ListAscending(4, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(blocks) != 3 {
		t.Fatalf("got %d blocks, want 3", len(blocks))
	}
	if blocks[0].Sequence != 4 || blocks[2].Sequence != 6 {
		t.Errorf("ascending page: got %d..%d", blocks[0].Sequence, blocks[2].Sequence)
	}
}
