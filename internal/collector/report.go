package collector

import (
	"fmt"
	"sort"
	"strings"

	"github.com/forensicd/forensicd/internal/compliance"
	"github.com/forensicd/forensicd/internal/evidence"
)

const reportRule = "================================================================================"

// BuildReport renders the plain-text investigation report for a captured
// incident. The report is a human-readable companion to the sealed
// evidence payload; the payload itself remains the authoritative record.
func BuildReport(block *evidence.Block, payload map[string]any, class compliance.Classification) string {
	var b strings.Builder

	b.WriteString(reportRule + "\n")
	b.WriteString("                        FORENSIC INCIDENT REPORT\n")
	b.WriteString(reportRule + "\n\n")

	b.WriteString("INCIDENT IDENTIFICATION\n")
	b.WriteString("-----------------------\n")
	fmt.Fprintf(&b, "Incident ID: %s\n", block.ID)
	fmt.Fprintf(&b, "Timestamp:   %s\n", block.Timestamp)
	fmt.Fprintf(&b, "Type:        %s\n", block.Type)
	if desc := incidentField(payload, "description"); desc != "" {
		fmt.Fprintf(&b, "Description: %s\n", desc)
	}
	b.WriteString("\n")

	b.WriteString("SYSTEM STATE AT INCIDENT\n")
	b.WriteString("------------------------\n")
	writeSystemState(&b, payload)
	b.WriteString("\n")

	b.WriteString("COMPLIANCE STATUS\n")
	b.WriteString("-----------------\n")
	fmt.Fprintf(&b, "Severity: %s\n", class.Severity)
	if class.Rule != "" {
		fmt.Fprintf(&b, "Matched rule: %s\n", class.Rule)
	}
	if class.Message != "" {
		fmt.Fprintf(&b, "Assessment: %s\n", class.Message)
	}
	if len(class.Frameworks) > 0 {
		fmt.Fprintf(&b, "Relevant frameworks: %s\n", strings.Join(class.Frameworks, ", "))
	} else {
		b.WriteString("Relevant frameworks: none\n")
	}
	b.WriteString("\n")

	b.WriteString("FORENSIC CHAIN OF CUSTODY\n")
	b.WriteString("-------------------------\n")
	fmt.Fprintf(&b, "Sequence:      %d\n", block.Sequence)
	fmt.Fprintf(&b, "Evidence hash: %s\n", block.ContentHash)
	fmt.Fprintf(&b, "Previous hash: %s\n", block.PreviousHash)
	b.WriteString("Evidence has been preserved with cryptographic integrity protection.\n")
	b.WriteString("All captured system state is available for post-incident analysis.\n\n")

	b.WriteString(reportRule + "\n")
	b.WriteString("                            END OF REPORT\n")
	b.WriteString(reportRule + "\n")

	return b.String()
}

// writeSystemState summarizes each provider section of the snapshot.
// Degraded sections show their error marker so the gap is visible in
// the report, not hidden.
func writeSystemState(b *strings.Builder, payload map[string]any) {
	state, ok := payload["system_state"].(map[string]any)
	if !ok || len(state) == 0 {
		b.WriteString("No system state captured.\n")
		return
	}

	names := make([]string, 0, len(state))
	for name := range state {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		section, ok := state[name].(map[string]any)
		if !ok {
			fmt.Fprintf(b, "%s: %v\n", name, state[name])
			continue
		}
		if errMsg, ok := section["error"].(string); ok {
			fmt.Fprintf(b, "%s: DEGRADED (%s)\n", name, errMsg)
			continue
		}

		keys := make([]string, 0, len(section))
		for k := range section {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		fmt.Fprintf(b, "%s:\n", name)
		for _, k := range keys {
			fmt.Fprintf(b, "  %s: %v\n", k, section[k])
		}
	}
}

func incidentField(payload map[string]any, key string) string {
	incident, ok := payload["incident"].(map[string]any)
	if !ok {
		return ""
	}
	s, _ := incident[key].(string)
	return s
}
