package collector

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/forensicd/forensicd/internal/audit"
	"github.com/forensicd/forensicd/internal/compliance"
	"github.com/forensicd/forensicd/internal/evidence"
	"github.com/forensicd/forensicd/internal/metrics"
)

// Collector captures incidents end to end: snapshot, classify, seal into
// the evidence chain, audit, report.
type Collector struct {
	chain      *evidence.Chain
	auditLog   *audit.Log
	rules      *compliance.Engine
	registry   *Registry
	reportsDir string
	timeout    time.Duration

	// OnCapture, when set, is called after each successful capture.
	// The dashboard feed hooks in here.
	OnCapture func(evidence.Block)
}

// Request describes an incident to capture.
type Request struct {
	Type        string         `json:"type"`
	Description string         `json:"description"`
	Context     map[string]any `json:"context,omitempty"`
}

// Result is the outcome of a capture.
type Result struct {
	Block          evidence.Block            `json:"block"`
	Degraded       bool                      `json:"degraded"`
	Classification compliance.Classification `json:"classification"`
	ReportPath     string                    `json:"report_path,omitempty"`
}

// New creates a collector. reportsDir is created if missing; timeout
// bounds how long snapshot providers may run per capture.
func New(chain *evidence.Chain, auditLog *audit.Log, rules *compliance.Engine, registry *Registry, reportsDir string, timeout time.Duration) (*Collector, error) {
	if err := os.MkdirAll(reportsDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating reports dir %s: %w", reportsDir, err)
	}
	return &Collector{
		chain:      chain,
		auditLog:   auditLog,
		rules:      rules,
		registry:   registry,
		reportsDir: reportsDir,
		timeout:    timeout,
	}, nil
}

// Capture records an incident as a new evidence block.
//
// The system snapshot is best-effort: a provider that fails or exceeds
// the snapshot timeout leaves an explicit error marker in its section of
// the payload and marks the capture degraded, but never prevents the
// incident from being sealed into the chain.
func (c *Collector) Capture(ctx context.Context, req Request) (*Result, error) {
	if req.Type == "" {
		return nil, fmt.Errorf("incident type is required")
	}
	start := time.Now()

	state, degraded := c.snapshot(ctx)
	class := c.rules.Classify(req.Type, req.Description, req.Context)

	payload := map[string]any{
		"incident": map[string]any{
			"type":        req.Type,
			"description": req.Description,
			"captured_at": start.UTC().Format(time.RFC3339),
		},
		"system_state": state,
		"classification": map[string]any{
			"severity":   class.Severity,
			"rule":       class.Rule,
			"frameworks": toAnySlice(class.Frameworks),
			"message":    class.Message,
		},
	}
	if req.Context != nil {
		payload["context"] = req.Context
	}
	if degraded {
		payload["degraded"] = true
	}

	block, err := c.chain.Append("", req.Type, payload)
	if err != nil {
		return nil, err
	}

	if _, err := c.auditLog.Record(audit.Event{
		Type:         "forensic_capture",
		Severity:     class.Severity,
		Source:       "collector",
		Action:       "capture",
		Resource:     block.ID,
		Outcome:      captureOutcome(degraded),
		Details:      map[string]any{"incident_type": req.Type, "rule": class.Rule},
		EvidenceHash: block.ContentHash,
	}); err != nil {
		slog.Error("failed to audit capture", "id", block.ID, "error", err)
	}

	reportPath, err := c.writeReport(block, payload, class)
	if err != nil {
		slog.Error("failed to write incident report", "id", block.ID, "error", err)
		reportPath = ""
	}

	metrics.IncidentsCaptured.WithLabelValues(req.Type).Inc()
	if degraded {
		metrics.CapturesDegraded.Inc()
	}
	metrics.ChainLength.Set(float64(c.chain.Length()))
	if _, size, statErr := c.chain.Store().Stats(); statErr == nil {
		metrics.EvidenceSizeBytes.Set(float64(size))
	}
	metrics.CaptureDuration.Observe(time.Since(start).Seconds())

	if c.OnCapture != nil {
		c.OnCapture(*block)
	}

	slog.Info("incident captured",
		"id", block.ID, "type", req.Type, "severity", class.Severity, "degraded", degraded)

	return &Result{
		Block:          *block,
		Degraded:       degraded,
		Classification: class,
		ReportPath:     reportPath,
	}, nil
}

// snapshot runs every registered provider under the capture timeout.
// Each provider's output lands under its own key; a failed provider
// leaves an error marker instead and flips the degraded flag.
func (c *Collector) snapshot(ctx context.Context) (map[string]any, bool) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	state := make(map[string]any)
	degraded := false
	for _, p := range c.registry.Providers() {
		section, err := p.Snapshot(ctx)
		c.registry.RecordSnapshot(p.Name(), err != nil)
		if err != nil {
			slog.Warn("snapshot provider failed", "provider", p.Name(), "error", err)
			state[p.Name()] = map[string]any{"error": fmt.Sprintf("snapshot failed: %v", err)}
			degraded = true
			continue
		}
		state[p.Name()] = section
	}
	if len(state) == 0 {
		state["error"] = "no snapshot providers registered"
		degraded = true
	}
	return state, degraded
}

func (c *Collector) writeReport(block *evidence.Block, payload map[string]any, class compliance.Classification) (string, error) {
	report := BuildReport(block, payload, class)
	path := filepath.Join(c.reportsDir, block.ID+".txt")
	if err := os.WriteFile(path, []byte(report), 0o644); err != nil {
		return "", fmt.Errorf("writing report %s: %w", path, err)
	}
	return path, nil
}

// ReportPath returns where the report for an incident lives, if it exists.
func (c *Collector) ReportPath(id string) (string, bool) {
	path := filepath.Join(c.reportsDir, id+".txt")
	if _, err := os.Stat(path); err != nil {
		return "", false
	}
	return path, true
}

func captureOutcome(degraded bool) string {
	if degraded {
		return "recorded_degraded"
	}
	return "recorded"
}

// toAnySlice converts a string slice for inclusion in a canonical payload.
func toAnySlice(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
