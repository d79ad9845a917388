package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/forensicd/forensicd/internal/audit"
	"github.com/forensicd/forensicd/internal/collector"
	"github.com/forensicd/forensicd/internal/compliance"
	"github.com/forensicd/forensicd/internal/evidence"
	"github.com/forensicd/forensicd/internal/verify"
)

type stubProvider struct {
	name  string
	state map[string]any
}

func (p *stubProvider) Name() string { return p.name }

func (p *stubProvider) Snapshot(ctx context.Context) (map[string]any, error) {
	return p.state, nil
}

type testServer struct {
	srv         *httptest.Server
	chain       *evidence.Chain
	evidenceDir string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	dir := t.TempDir()
	evidenceDir := filepath.Join(dir, "evidence")

	store, err := evidence.NewContentStore(evidenceDir)
	if err != nil {
		t.Fatalf("NewContentStore: %v", err)
	}
	index, err := evidence.OpenIndex(filepath.Join(dir, "custody.db"))
	if err != nil {
		t.Fatalf("OpenIndex: %v", err)
	}
	t.Cleanup(func() { index.Close() })

	chain, err := evidence.NewChain(store, index)
	if err != nil {
		t.Fatalf("NewChain: %v", err)
	}
	auditLog, err := audit.Open(filepath.Join(dir, "audit.db"))
	if err != nil {
		t.Fatalf("audit.Open: %v", err)
	}
	t.Cleanup(func() { auditLog.Close() })

	rules, err := compliance.New(filepath.Join(dir, "rules.yaml"))
	if err != nil {
		t.Fatalf("compliance.New: %v", err)
	}
	registry, err := collector.NewRegistry(filepath.Join(dir, "providers.yaml"))
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	registry.Register(&stubProvider{name: "system", state: map[string]any{"hostname": "test-host"}})

	coll, err := collector.New(chain, auditLog, rules, registry, filepath.Join(dir, "reports"), time.Second)
	if err != nil {
		t.Fatalf("collector.New: %v", err)
	}
	verifier := verify.NewService(chain, store, index, auditLog)

	handler := New(Options{
		Collector: coll,
		Chain:     chain,
		Store:     store,
		Index:     index,
		Verifier:  verifier,
		AuditLog:  auditLog,
		Version:   "test",
	})
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return &testServer{srv: srv, chain: chain, evidenceDir: evidenceDir}
}

func (ts *testServer) postJSON(t *testing.T, path string, body any) (*http.Response, map[string]any) {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := http.Post(ts.srv.URL+path, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	return resp, decodeBody(t, resp)
}

func (ts *testServer) get(t *testing.T, path string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Get(ts.srv.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	return resp, decodeBody(t, resp)
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	return body
}

func TestCaptureIncident(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.postJSON(t, "/incident", map[string]any{
		"type":        "unauthorized_access",
		"description": "ssh brute force from 10.0.0.4",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}

	block, ok := body["block"].(map[string]any)
	if !ok {
		t.Fatalf("response missing block: %v", body)
	}
	id, _ := block["id"].(string)
	if !strings.HasPrefix(id, "INC-") {
		t.Errorf("block id = %q, want INC- prefix", id)
	}
	class, _ := body["classification"].(map[string]any)
	if class["severity"] != "critical" {
		t.Errorf("severity = %v, want critical", class["severity"])
	}
	if ts.chain.Length() != 1 {
		t.Errorf("chain length = %d, want 1", ts.chain.Length())
	}
}

func TestCaptureIncident_MissingType(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.postJSON(t, "/incident", map[string]any{"description": "no type"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	if body["error"] == "" {
		t.Error("expected error message in body")
	}
	if body["kind"] != "invalid_request" {
		t.Errorf("kind = %v, want invalid_request", body["kind"])
	}
}

func TestCaptureIncident_InvalidJSON(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Post(ts.srv.URL+"/incident", "application/json", strings.NewReader("{not json"))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestCaptureAlertmanagerWebhook(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.postJSON(t, "/incident", map[string]any{
		"alerts": []map[string]any{
			{
				"status":      "firing",
				"labels":      map[string]string{"alertname": "HighErrorRate", "severity": "critical", "app": "payments"},
				"annotations": map[string]string{"description": "5xx rate above 10%"},
			},
			{
				"status": "firing",
				"labels": map[string]string{"alertname": "DiskFilling"},
			},
		},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}
	if body["captured"] != float64(2) {
		t.Fatalf("captured = %v, want 2", body["captured"])
	}

	results, _ := body["results"].([]any)
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}
	first := results[0].(map[string]any)
	block := first["block"].(map[string]any)
	if block["type"] != "alert_critical" {
		t.Errorf("first incident type = %v, want alert_critical", block["type"])
	}
	second := results[1].(map[string]any)
	if second["block"].(map[string]any)["type"] != "alert_warning" {
		t.Errorf("second incident type = %v, want alert_warning (severity default)",
			second["block"].(map[string]any)["type"])
	}
	if ts.chain.Length() != 2 {
		t.Errorf("chain length = %d, want 2", ts.chain.Length())
	}
}

func TestChainInfo(t *testing.T) {
	ts := newTestServer(t)
	for i := 0; i < 3; i++ {
		ts.postJSON(t, "/incident", map[string]any{
			"type":        "service_outage",
			"description": fmt.Sprintf("incident %d", i),
		})
	}

	resp, body := ts.get(t, "/chain?limit=2")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if body["chain_length"] != float64(3) {
		t.Errorf("chain_length = %v, want 3", body["chain_length"])
	}
	if body["valid"] != true {
		t.Errorf("valid = %v, want true", body["valid"])
	}
	blocks, _ := body["blocks"].([]any)
	if len(blocks) != 2 {
		t.Errorf("blocks = %d, want 2 (limit)", len(blocks))
	}
	if _, ok := body["head"]; !ok {
		t.Error("response missing head")
	}
	storage, _ := body["storage"].(map[string]any)
	if storage["payloads"] != float64(3) {
		t.Errorf("storage payloads = %v, want 3", storage["payloads"])
	}
}

func TestGetEvidence(t *testing.T) {
	ts := newTestServer(t)
	_, captureBody := ts.postJSON(t, "/incident", map[string]any{
		"type":        "data_exposure_suspected",
		"description": "possible data leak in export job",
	})
	block := captureBody["block"].(map[string]any)
	id := block["id"].(string)
	hash := block["content_hash"].(string)

	for _, ref := range []string{id, hash} {
		resp, body := ts.get(t, "/evidence/"+ref)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("GET /evidence/%s status = %d, want 200", ref, resp.StatusCode)
		}
		payload, _ := body["payload"].(map[string]any)
		incident, _ := payload["incident"].(map[string]any)
		if incident["type"] != "data_exposure_suspected" {
			t.Errorf("payload incident type = %v", incident["type"])
		}
		report, _ := body["report"].(string)
		if !strings.Contains(report, "FORENSIC INCIDENT REPORT") {
			t.Errorf("report missing banner for ref %s", ref)
		}
	}
}

func TestGetEvidence_NotFound(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.get(t, "/evidence/INC-20260101-000000-deadbeef")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
	if body["kind"] != "not_found" {
		t.Errorf("kind = %v, want not_found", body["kind"])
	}
}

func TestVerifyChainEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ts.postJSON(t, "/incident", map[string]any{"type": "test_event"})
	ts.postJSON(t, "/incident", map[string]any{"type": "test_event"})

	resp, body := ts.get(t, "/verify")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if body["valid"] != true {
		t.Fatalf("valid = %v, want true", body["valid"])
	}
}

func TestVerifyChainEndpoint_Tampered(t *testing.T) {
	ts := newTestServer(t)
	_, captureBody := ts.postJSON(t, "/incident", map[string]any{"type": "test_event"})
	hash := captureBody["block"].(map[string]any)["content_hash"].(string)

	path := filepath.Join(ts.evidenceDir, hash+".json")
	if err := os.WriteFile(path, []byte(`{"n":"altered"}`), 0o644); err != nil {
		t.Fatalf("tampering payload: %v", err)
	}

	resp, body := ts.get(t, "/verify")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200 (tampering is a finding, not an error)", resp.StatusCode)
	}
	if body["valid"] != false {
		t.Fatalf("valid = %v, want false", body["valid"])
	}
	if body["broken_at"] != float64(0) {
		t.Errorf("broken_at = %v, want 0", body["broken_at"])
	}

	// The chain summary carries the finding too, and the broken block's
	// verified flag is cleared durably.
	_, chainBody := ts.get(t, "/chain")
	if chainBody["valid"] != false {
		t.Errorf("chain valid = %v, want false", chainBody["valid"])
	}
	if chainBody["verified"] != float64(0) {
		t.Errorf("verified = %v, want 0", chainBody["verified"])
	}
}

func TestVerifyBlockEndpoint(t *testing.T) {
	ts := newTestServer(t)
	_, captureBody := ts.postJSON(t, "/incident", map[string]any{"type": "test_event"})
	id := captureBody["block"].(map[string]any)["id"].(string)

	resp, body := ts.get(t, "/verify/"+id)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if body["valid"] != true {
		t.Errorf("valid = %v, want true", body["valid"])
	}
}

func TestAuditQuery(t *testing.T) {
	ts := newTestServer(t)
	ts.postJSON(t, "/incident", map[string]any{"type": "unauthorized_access"})
	ts.get(t, "/verify")

	resp, body := ts.get(t, "/audit?type=forensic_capture")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	events, _ := body["events"].([]any)
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	ev := events[0].(map[string]any)
	if ev["event_type"] != "forensic_capture" {
		t.Errorf("event_type = %v", ev["event_type"])
	}

	resp, body = ts.get(t, "/audit?limit=bogus")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad limit status = %d, want 400", resp.StatusCode)
	}
	_ = body
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.get(t, "/health")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if body["status"] != "ok" || body["version"] != "test" {
		t.Errorf("body = %v", body)
	}
}
