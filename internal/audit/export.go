package audit

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
)

// Export writes all audit events to w in the given format, oldest first.
// Supported formats: "jsonl" (default), "json", "csv".
func (l *Log) Export(w io.Writer, format string) error {
	rows, err := l.db.Query(`SELECT ` + eventColumns + ` FROM audit_events ORDER BY id ASC`)
	if err != nil {
		return fmt.Errorf("reading events for export: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return err
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(events)

	case "csv":
		cw := csv.NewWriter(w)
		defer cw.Flush()
		if err := cw.Write([]string{"id", "ts", "event_type", "severity", "source", "actor", "action", "resource", "outcome", "evidence_hash"}); err != nil {
			return err
		}
		for _, e := range events {
			if err := cw.Write([]string{
				fmt.Sprintf("%d", e.ID),
				e.Timestamp,
				e.Type,
				e.Severity,
				e.Source,
				e.Actor,
				e.Action,
				e.Resource,
				e.Outcome,
				e.EvidenceHash,
			}); err != nil {
				return err
			}
		}
		return nil

	case "jsonl", "":
		enc := json.NewEncoder(w)
		for _, e := range events {
			if err := enc.Encode(e); err != nil {
				return err
			}
		}
		return nil

	default:
		return fmt.Errorf("unsupported export format: %s (use json, jsonl, or csv)", format)
	}
}
