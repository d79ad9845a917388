// Package audit implements the structured audit event log.
//
// Audit events are lightweight bookkeeping records — captures, verification
// attempts, tamper detections, imports — kept separately from the evidence
// chain itself. They are not hash-linked: their evidentiary weight comes
// from referencing an evidence block's content hash, not from being part of
// the ledger. The log is append-only by construction: no update or delete
// operation exists on the type.
//
// Storage is a single indexed SQLite table, queryable by event type and
// time range without scanning evidence payloads.
package audit

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/glebarez/go-sqlite"
)

// Severity levels used across the service. Tamper detections are always
// recorded at SeverityCritical.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Event is a single audit record. ID is assigned by Record; all other
// fields are set by the caller and never mutated afterwards.
type Event struct {
	ID           int64          `json:"id"`
	Timestamp    string         `json:"ts"`
	Type         string         `json:"event_type"`
	Severity     string         `json:"severity"`
	Source       string         `json:"source"`
	Actor        string         `json:"actor,omitempty"`
	Action       string         `json:"action,omitempty"`
	Resource     string         `json:"resource,omitempty"`
	Outcome      string         `json:"outcome,omitempty"`
	Details      map[string]any `json:"details,omitempty"`
	EvidenceHash string         `json:"evidence_hash,omitempty"`
}

// QueryParams filters audit queries. Zero values mean "no filter".
type QueryParams struct {
	Type  string // exact event_type match
	Start string // inclusive lower timestamp bound (RFC3339)
	End   string // inclusive upper timestamp bound (RFC3339)
	Limit int
}

// Log is the SQLite-backed audit event store. Safe for concurrent use —
// database/sql serializes access and the schema uses WAL mode so readers
// don't block the writer.
type Log struct {
	db *sql.DB
}

// Open opens (or creates) the audit log database at path.
func Open(path string) (*Log, error) {
	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening audit log %s: %w", path, err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS audit_events (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			ts            TEXT NOT NULL,
			event_type    TEXT NOT NULL,
			severity      TEXT NOT NULL DEFAULT 'info',
			source        TEXT NOT NULL DEFAULT '',
			actor         TEXT NOT NULL DEFAULT '',
			action        TEXT NOT NULL DEFAULT '',
			resource      TEXT NOT NULL DEFAULT '',
			outcome       TEXT NOT NULL DEFAULT '',
			details       TEXT NOT NULL DEFAULT '',
			evidence_hash TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS idx_audit_ts ON audit_events(ts);
		CREATE INDEX IF NOT EXISTS idx_audit_type ON audit_events(event_type);
		CREATE INDEX IF NOT EXISTS idx_audit_evidence ON audit_events(evidence_hash);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating audit schema: %w", err)
	}

	return &Log{db: db}, nil
}

// Close closes the underlying database.
func (l *Log) Close() error {
	return l.db.Close()
}

// Record appends an event and returns its assigned id. Timestamp and
// severity are defaulted if empty.
func (l *Log) Record(e Event) (int64, error) {
	if e.Timestamp == "" {
		e.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	if e.Severity == "" {
		e.Severity = SeverityInfo
	}

	var details string
	if e.Details != nil {
		data, err := json.Marshal(e.Details)
		if err != nil {
			return 0, fmt.Errorf("marshaling audit details: %w", err)
		}
		details = string(data)
	}

	res, err := l.db.Exec(
		`INSERT INTO audit_events (ts, event_type, severity, source, actor, action, resource, outcome, details, evidence_hash)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Timestamp, e.Type, e.Severity, e.Source, e.Actor, e.Action,
		e.Resource, e.Outcome, details, e.EvidenceHash,
	)
	if err != nil {
		return 0, fmt.Errorf("recording audit event: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading audit event id: %w", err)
	}
	return id, nil
}

// Query returns events matching params, most recent first.
func (l *Log) Query(params QueryParams) ([]Event, error) {
	query := `SELECT ` + eventColumns + ` FROM audit_events WHERE 1=1`
	var args []any

	if params.Type != "" {
		query += ` AND event_type = ?`
		args = append(args, params.Type)
	}
	if params.Start != "" {
		query += ` AND ts >= ?`
		args = append(args, params.Start)
	}
	if params.End != "" {
		query += ` AND ts <= ?`
		args = append(args, params.End)
	}

	query += ` ORDER BY id DESC`
	if params.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, params.Limit)
	}

	rows, err := l.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying audit log: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// Tail returns the limit most recent events.
func (l *Log) Tail(limit int) ([]Event, error) {
	return l.Query(QueryParams{Limit: limit})
}

// ByEvidenceHash returns all events referencing the given content hash,
// oldest first — the bookkeeping trail for one block.
func (l *Log) ByEvidenceHash(hash string) ([]Event, error) {
	rows, err := l.db.Query(
		`SELECT `+eventColumns+` FROM audit_events WHERE evidence_hash = ? ORDER BY id ASC`, hash)
	if err != nil {
		return nil, fmt.Errorf("querying audit log: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

const eventColumns = `id, ts, event_type, severity, source, actor, action, resource, outcome, details, evidence_hash`

func scanEvent(rows *sql.Rows) (Event, error) {
	var e Event
	var details string
	err := rows.Scan(&e.ID, &e.Timestamp, &e.Type, &e.Severity, &e.Source,
		&e.Actor, &e.Action, &e.Resource, &e.Outcome, &details, &e.EvidenceHash)
	if err != nil {
		return Event{}, fmt.Errorf("scanning audit row: %w", err)
	}
	if details != "" && details != "null" {
		var parsed map[string]any
		if jsonErr := json.Unmarshal([]byte(details), &parsed); jsonErr == nil {
			e.Details = parsed
		}
	}
	return e, nil
}
