package evidence

import (
	"strings"
	"testing"
	"time"
)

func TestCanonicalJSON_SortsKeys(t *testing.T) {
	payload := map[string]any{
		"zebra": 1,
		"alpha": 2,
		"mid":   map[string]any{"y": true, "x": nil},
	}

	data, err := CanonicalJSON(payload)
	if err != nil {
		t.Fatalf("CanonicalJSON: %v", err)
	}

	want := `{"alpha":2,"mid":{"x":null,"y":true},"zebra":1}`
	if string(data) != want {
		t.Errorf("canonical form:\n got %s\nwant %s", data, want)
	}
}

func TestCanonicalJSON_Deterministic(t *testing.T) {
	payload := map[string]any{
		"list":   []any{1, "two", false, nil},
		"nested": map[string]any{"b": 2.5, "a": "x"},
	}

	first, err := CanonicalJSON(payload)
	if err != nil {
		t.Fatalf("CanonicalJSON: %v", err)
	}
	for i := 0; i < 10; i++ {
		again, err := CanonicalJSON(payload)
		if err != nil {
			t.Fatalf("CanonicalJSON iteration %d: %v", i, err)
		}
		if string(again) != string(first) {
			t.Fatalf("non-deterministic canonical form:\n%s\n%s", first, again)
		}
	}
}

func TestCanonicalJSON_RoundTripStable(t *testing.T) {
	// Decode with UseNumber then re-canonicalize: bytes must be identical.
	payload := map[string]any{
		"count": 42,
		"ratio": 0.125,
		"big":   9007199254740993, // beyond float64 integer precision
		"tag":   "temp_excursion",
	}

	first, err := CanonicalJSON(payload)
	if err != nil {
		t.Fatalf("CanonicalJSON: %v", err)
	}
	decoded, err := DecodePayload(first)
	if err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	second, err := CanonicalJSON(decoded)
	if err != nil {
		t.Fatalf("re-canonicalize: %v", err)
	}
	if string(first) != string(second) {
		t.Errorf("round trip changed bytes:\n%s\n%s", first, second)
	}
}

func TestHashPayload_Reproducible(t *testing.T) {
	payload := map[string]any{"v": 1}

	h1, _, err := HashPayload(payload)
	if err != nil {
		t.Fatalf("HashPayload: %v", err)
	}
	h2, _, err := HashPayload(map[string]any{"v": 1})
	if err != nil {
		t.Fatalf("HashPayload: %v", err)
	}

	if h1 != h2 {
		t.Error("equal payloads should hash identically")
	}
	if len(h1) != 64 || strings.ToLower(h1) != h1 {
		t.Errorf("hash should be lowercase 64-char hex, got %q", h1)
	}
}

func TestHashPayload_SensitiveToContent(t *testing.T) {
	base, _, err := HashPayload(map[string]any{"v": 1, "type": "a"})
	if err != nil {
		t.Fatal(err)
	}

	variants := []map[string]any{
		{"v": 2, "type": "a"},
		{"v": 1, "type": "b"},
		{"v": 1},
		{"v": "1", "type": "a"},
	}
	for _, p := range variants {
		h, _, err := HashPayload(p)
		if err != nil {
			t.Fatal(err)
		}
		if h == base {
			t.Errorf("payload %v should hash differently", p)
		}
	}
}

func TestNewIncidentID_Format(t *testing.T) {
	at := time.Date(2026, 2, 14, 9, 30, 41, 0, time.UTC)
	id := NewIncidentID(at)

	if !strings.HasPrefix(id, "INC-20260214-093041-") {
		t.Errorf("id prefix: got %q", id)
	}
	if len(id) != len("INC-20260214-093041-")+8 {
		t.Errorf("id suffix should be 8 chars: got %q", id)
	}
}

func TestNewIncidentID_UniqueWithinSecond(t *testing.T) {
	at := time.Now()
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := NewIncidentID(at)
		if seen[id] {
			t.Fatalf("duplicate id generated: %s", id)
		}
		seen[id] = true
	}
}

func TestVerifyLink(t *testing.T) {
	genesis := &Block{Sequence: 0, PreviousHash: GenesisHash, ContentHash: "aaaa"}
	second := &Block{Sequence: 1, PreviousHash: "aaaa", ContentHash: "bbbb"}

	if !VerifyLink(nil, genesis) {
		t.Error("genesis block should verify against nil parent")
	}
	if !VerifyLink(genesis, second) {
		t.Error("correctly linked block should verify")
	}
	if VerifyLink(nil, second) {
		t.Error("non-genesis block should not verify against nil parent")
	}
	if VerifyLink(genesis, &Block{Sequence: 1, PreviousHash: "cccc"}) {
		t.Error("wrong previous_hash should not verify")
	}
	if VerifyLink(genesis, &Block{Sequence: 2, PreviousHash: "aaaa"}) {
		t.Error("sequence gap should not verify")
	}
}

func TestKind_Taxonomy(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{ErrNotFound, "not_found"},
		{ErrDuplicate, "duplicate"},
		{ErrTamperDetected, "tamper_detected"},
		{ErrUpstreamUnavailable, "upstream_unavailable"},
		{ErrStorageFailure, "storage_failure"},
	}
	for _, tt := range tests {
		if got := Kind(tt.err); got != tt.want {
			t.Errorf("Kind(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
