package evidence

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"
)

func newTestChain(t *testing.T) (*Chain, *ContentStore, *Index) {
	t.Helper()
	dir := t.TempDir()
	store, err := NewContentStore(filepath.Join(dir, "evidence"))
	if err != nil {
		t.Fatal(err)
	}
	ix, err := OpenIndex(filepath.Join(dir, "custody.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ix.Close() })

	chain, err := NewChain(store, ix)
	if err != nil {
		t.Fatal(err)
	}
	return chain, store, ix
}

func TestChain_AppendLinks(t *testing.T) {
	chain, _, _ := newTestChain(t)

	b0, err := chain.Append("", "incident_capture", map[string]any{"v": 1})
	if err != nil {
		t.Fatalf("append 0: %v", err)
	}
	b1, err := chain.Append("", "incident_capture", map[string]any{"v": 2})
	if err != nil {
		t.Fatalf("append 1: %v", err)
	}
	b2, err := chain.Append("", "incident_capture", map[string]any{"v": 3})
	if err != nil {
		t.Fatalf("append 2: %v", err)
	}

	if b0.Sequence != 0 || b1.Sequence != 1 || b2.Sequence != 2 {
		t.Errorf("sequences: %d, %d, %d", b0.Sequence, b1.Sequence, b2.Sequence)
	}
	if b0.PreviousHash != GenesisHash {
		t.Errorf("genesis previous_hash: got %q", b0.PreviousHash)
	}
	if b1.PreviousHash != b0.ContentHash {
		t.Error("b1 should link to b0")
	}
	if b2.PreviousHash != b1.ContentHash {
		t.Error("b2 should link to b1")
	}
	if chain.Length() != 3 {
		t.Errorf("length: got %d, want 3", chain.Length())
	}
}

func TestChain_AppendAssignsID(t *testing.T) {
	chain, _, _ := newTestChain(t)

	b, err := chain.Append("", "test", map[string]any{"v": 1})
	if err != nil {
		t.Fatal(err)
	}
	if b.ID == "" {
		t.Error("append should assign an id")
	}

	custom, err := chain.Append("INC-custom", "test", map[string]any{"v": 2})
	if err != nil {
		t.Fatal(err)
	}
	if custom.ID != "INC-custom" {
		t.Errorf("explicit id: got %q", custom.ID)
	}
}

func TestChain_Lookups(t *testing.T) {
	chain, _, _ := newTestChain(t)

	b, err := chain.Append("INC-lookup", "test", map[string]any{"v": 1})
	if err != nil {
		t.Fatal(err)
	}

	byID, err := chain.ByID("INC-lookup")
	if err != nil || byID.Sequence != b.Sequence {
		t.Errorf("ByID: %+v, %v", byID, err)
	}
	byHash, err := chain.ByHash(b.ContentHash)
	if err != nil || byHash.ID != b.ID {
		t.Errorf("ByHash: %+v, %v", byHash, err)
	}
	bySeq, err := chain.BySequence(0)
	if err != nil || bySeq.ID != b.ID {
		t.Errorf("BySequence: %+v, %v", bySeq, err)
	}

	payload, err := chain.Payload(b)
	if err != nil {
		t.Fatalf("Payload: %v", err)
	}
	if fmt.Sprint(payload["v"]) != "1" {
		t.Errorf("payload: got %v", payload)
	}
}

func TestChain_RecoverAfterRestart(t *testing.T) {
	dir := t.TempDir()
	store, err := NewContentStore(filepath.Join(dir, "evidence"))
	if err != nil {
		t.Fatal(err)
	}
	ix, err := OpenIndex(filepath.Join(dir, "custody.db"))
	if err != nil {
		t.Fatal(err)
	}

	chain, err := NewChain(store, ix)
	if err != nil {
		t.Fatal(err)
	}
	var lastHash string
	for i := 0; i < 5; i++ {
		b, err := chain.Append("", "test", map[string]any{"n": i})
		if err != nil {
			t.Fatal(err)
		}
		lastHash = b.ContentHash
	}
	ix.Close()

	// Reopen over the same files — the head must be recovered.
	ix2, err := OpenIndex(filepath.Join(dir, "custody.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer ix2.Close()
	chain2, err := NewChain(store, ix2)
	if err != nil {
		t.Fatal(err)
	}

	if chain2.Length() != 5 {
		t.Errorf("recovered length: got %d, want 5", chain2.Length())
	}
	head := chain2.Head()
	if head == nil || head.ContentHash != lastHash {
		t.Errorf("recovered head: got %+v", head)
	}

	// The chain continues from where it left off.
	b, err := chain2.Append("", "test", map[string]any{"n": 5})
	if err != nil {
		t.Fatal(err)
	}
	if b.Sequence != 5 || b.PreviousHash != lastHash {
		t.Errorf("continued block: seq=%d prev=%s", b.Sequence, b.PreviousHash)
	}
}

func TestChain_ConcurrentAppends(t *testing.T) {
	chain, _, ix := newTestChain(t)

	const n = 100
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := chain.Append("", "concurrent", map[string]any{"caller": i}); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("append failed: %v", err)
	}

	if chain.Length() != n {
		t.Fatalf("length: got %d, want %d", chain.Length(), n)
	}

	// Every sequence number 0..n-1 must exist exactly once and link to
	// its predecessor.
	var prev *Block
	for seq := uint64(0); seq < n; seq++ {
		b, err := ix.FindBySequence(seq)
		if err != nil {
			t.Fatalf("seq %d missing: %v", seq, err)
		}
		if !VerifyLink(prev, b) {
			t.Fatalf("broken link at seq %d", seq)
		}
		prev = b
	}
}

func TestChain_Walk(t *testing.T) {
	chain, _, _ := newTestChain(t)

	// More than one walk batch to exercise paging.
	total := walkBatch + 10
	for i := 0; i < total; i++ {
		if _, err := chain.Append("", "test", map[string]any{"n": i}); err != nil {
			t.Fatal(err)
		}
	}

	var seqs []uint64
	err := chain.Walk(func(b Block) error {
		seqs = append(seqs, b.Sequence)
		return nil
	})
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}

	if len(seqs) != total {
		t.Fatalf("walked %d blocks, want %d", len(seqs), total)
	}
	for i, seq := range seqs {
		if seq != uint64(i) {
			t.Fatalf("walk order broken at position %d: seq %d", i, seq)
		}
	}

	// Restartable: a second walk yields the same prefix.
	var again []uint64
	if err := chain.Walk(func(b Block) error {
		again = append(again, b.Sequence)
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	if len(again) != len(seqs) {
		t.Errorf("second walk: %d blocks, want %d", len(again), len(seqs))
	}
}

func TestChain_WalkStopsOnError(t *testing.T) {
	chain, _, _ := newTestChain(t)
	for i := 0; i < 5; i++ {
		if _, err := chain.Append("", "test", map[string]any{"n": i}); err != nil {
			t.Fatal(err)
		}
	}

	stop := fmt.Errorf("stop here")
	visited := 0
	err := chain.Walk(func(b Block) error {
		visited++
		if b.Sequence == 2 {
			return stop
		}
		return nil
	})
	if err != stop {
		t.Errorf("expected walk to propagate stop error, got %v", err)
	}
	if visited != 3 {
		t.Errorf("visited %d blocks, want 3", visited)
	}
}
