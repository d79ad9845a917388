// Package server exposes the forensic evidence API over HTTP: incident
// capture (native and Alertmanager webhook), chain inspection, evidence
// retrieval, verification, audit queries and Prometheus metrics.
package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/forensicd/forensicd/internal/audit"
	"github.com/forensicd/forensicd/internal/collector"
	"github.com/forensicd/forensicd/internal/evidence"
	"github.com/forensicd/forensicd/internal/verify"
)

// Handler holds all HTTP handler dependencies.
type Handler struct {
	collector *collector.Collector
	chain     *evidence.Chain
	store     *evidence.ContentStore
	index     *evidence.Index
	verifier  *verify.Service
	auditLog  *audit.Log
	version   string
	mux       *http.ServeMux
}

// Options wires the handler's dependencies.
type Options struct {
	Collector *collector.Collector
	Chain     *evidence.Chain
	Store     *evidence.ContentStore
	Index     *evidence.Index
	Verifier  *verify.Service
	AuditLog  *audit.Log
	Version   string
}

// New creates the API handler and registers all routes.
func New(opts Options) http.Handler {
	h := &Handler{
		collector: opts.Collector,
		chain:     opts.Chain,
		store:     opts.Store,
		index:     opts.Index,
		verifier:  opts.Verifier,
		auditLog:  opts.AuditLog,
		version:   opts.Version,
		mux:       http.NewServeMux(),
	}

	h.mux.HandleFunc("POST /incident", h.captureIncident)
	h.mux.HandleFunc("GET /chain", h.chainInfo)
	h.mux.HandleFunc("GET /evidence/{ref}", h.getEvidence)
	h.mux.HandleFunc("GET /verify", h.verifyChain)
	h.mux.HandleFunc("GET /verify/{id}", h.verifyBlock)
	h.mux.HandleFunc("GET /audit", h.queryAudit)
	h.mux.HandleFunc("GET /health", h.health)
	h.mux.Handle("GET /metrics", promhttp.Handler())

	return loggingMiddleware(h.mux)
}

// incidentRequest is the native capture body. An Alertmanager webhook
// envelope carries Alerts instead; one incident is captured per alert.
type incidentRequest struct {
	Type        string         `json:"type"`
	Description string         `json:"description"`
	Context     map[string]any `json:"context,omitempty"`

	Alerts []alertmanagerAlert `json:"alerts,omitempty"`
}

// alertmanagerAlert is the subset of the Alertmanager webhook alert
// schema the capture path consumes.
type alertmanagerAlert struct {
	Status      string            `json:"status"`
	Labels      map[string]string `json:"labels"`
	Annotations map[string]string `json:"annotations"`
}

// POST /incident — capture one incident, or one per Alertmanager alert.
func (h *Handler) captureIncident(w http.ResponseWriter, r *http.Request) {
	var req incidentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %s", err), "invalid_request")
		return
	}

	if len(req.Alerts) > 0 {
		h.captureAlerts(w, r, req.Alerts)
		return
	}

	if req.Type == "" {
		writeError(w, http.StatusBadRequest, "incident type is required", "invalid_request")
		return
	}

	res, err := h.collector.Capture(r.Context(), collector.Request{
		Type:        req.Type,
		Description: req.Description,
		Context:     req.Context,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// captureAlerts seals one incident per webhook alert. The incident type
// derives from the alert severity label; the alert name and description
// form the incident description.
func (h *Handler) captureAlerts(w http.ResponseWriter, r *http.Request, alerts []alertmanagerAlert) {
	results := make([]*collector.Result, 0, len(alerts))
	for _, a := range alerts {
		severity := a.Labels["severity"]
		if severity == "" {
			severity = "warning"
		}
		name := a.Labels["alertname"]
		if name == "" {
			name = "unknown"
		}
		desc := a.Annotations["description"]
		if desc == "" {
			desc = "no description"
		}

		ctx := map[string]any{"alert_status": a.Status}
		for k, v := range a.Labels {
			ctx["label_"+k] = v
		}
		for k, v := range a.Annotations {
			ctx["annotation_"+k] = v
		}

		res, err := h.collector.Capture(r.Context(), collector.Request{
			Type:        "alert_" + strings.ToLower(severity),
			Description: fmt.Sprintf("%s: %s", name, desc),
			Context:     ctx,
		})
		if err != nil {
			writeDomainError(w, err)
			return
		}
		results = append(results, res)
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"captured": len(results),
		"results":  results,
	})
}

// GET /chain — chain summary plus recent blocks (?limit=, default 50).
func (h *Handler) chainInfo(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer", "invalid_request")
			return
		}
		limit = n
	}

	// The headline integrity signal is a full chain verification, so a
	// tampered chain is visible from the summary alone.
	chainRes, err := h.verifier.VerifyChain()
	if err != nil {
		writeDomainError(w, err)
		return
	}

	blocks, err := h.index.ListRecent(limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	verified, total, err := h.index.CountVerified()
	if err != nil {
		writeDomainError(w, err)
		return
	}
	count, size, err := h.store.Stats()
	if err != nil {
		writeDomainError(w, err)
		return
	}

	resp := map[string]any{
		"chain_length": h.chain.Length(),
		"valid":        chainRes.Valid,
		"verified":     verified,
		"total":        total,
		"storage": map[string]any{
			"payloads":   count,
			"size_bytes": size,
		},
		"blocks": blocks,
	}
	if head := h.chain.Head(); head != nil {
		resp["head"] = head
	}
	writeJSON(w, http.StatusOK, resp)
}

// GET /evidence/{ref} — full evidence for a block, addressed by incident
// id or content hash. Includes the stored payload and, when present, the
// plain-text investigation report.
func (h *Handler) getEvidence(w http.ResponseWriter, r *http.Request) {
	ref := r.PathValue("ref")

	block, err := h.resolveBlock(ref)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	payload, err := h.chain.Payload(block)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	resp := map[string]any{
		"block":   block,
		"payload": payload,
	}
	if meta, err := h.store.LoadMeta(block.ContentHash); err == nil {
		resp["meta"] = meta
	}
	if path, ok := h.collector.ReportPath(block.ID); ok {
		if report, err := os.ReadFile(path); err == nil {
			resp["report"] = string(report)
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// resolveBlock looks a block up by content hash (64 hex chars) or
// incident id.
func (h *Handler) resolveBlock(ref string) (*evidence.Block, error) {
	if len(ref) == 64 && !strings.HasPrefix(ref, "INC-") {
		return h.chain.ByHash(ref)
	}
	return h.chain.ByID(ref)
}

// GET /verify — verify the full chain. Tampering is a finding, not an
// error: the response is 200 with valid=false and the break position.
func (h *Handler) verifyChain(w http.ResponseWriter, r *http.Request) {
	res, err := h.verifier.VerifyChain()
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// GET /verify/{id} — verify a single block by incident id.
func (h *Handler) verifyBlock(w http.ResponseWriter, r *http.Request) {
	res, err := h.verifier.VerifyBlock(r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// GET /audit — query audit events (?type=, ?start=, ?end=, ?limit=).
func (h *Handler) queryAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 50
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer", "invalid_request")
			return
		}
		limit = n
	}

	events, err := h.auditLog.Query(audit.QueryParams{
		Type:  q.Get("type"),
		Start: q.Get("start"),
		End:   q.Get("end"),
		Limit: limit,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":  len(events),
		"events": events,
	})
}

// GET /health — liveness probe, used by `forensicd status`.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"version":      h.version,
		"chain_length": h.chain.Length(),
	})
}
