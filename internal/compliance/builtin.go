package compliance

// builtinRules returns all built-in classification rules.
// These are always loaded and can be individually toggled on/off
// via the "builtin" section in rules.yaml.
//
// Built-in rules cover the common incident families:
//   - Chain integrity violations raised by the background sweeper
//   - Unauthorized access and intrusion attempts
//   - Data exposure (breach, exfiltration, leak)
//   - Privilege escalation
//   - Service availability incidents
func builtinRules() []Rule {
	return []Rule{
		{
			Name:       "chain_integrity_violation",
			Match:      RuleMatch{Type: stringOrList{"chain_integrity_violation"}},
			Severity:   "critical",
			Frameworks: []string{"SOC2", "ISO27001"},
			Message:    "Evidence chain integrity violation",
			Builtin:    true,
		},
		{
			Name:       "unauthorized_access",
			Match:      RuleMatch{Type: stringOrList{"unauthorized_*", "intrusion*"}},
			Severity:   "critical",
			Frameworks: []string{"SOC2", "ISO27001", "PCI-DSS"},
			Message:    "Unauthorized access attempt",
			Builtin:    true,
		},
		{
			Name:       "data_exposure",
			Match:      RuleMatch{DescContains: stringOrList{"exfiltrat", "data breach", "data leak"}},
			Severity:   "critical",
			Frameworks: []string{"GDPR", "HIPAA", "SOC2"},
			Message:    "Potential data exposure",
			Builtin:    true,
		},
		{
			Name:       "privilege_escalation",
			Match:      RuleMatch{Type: stringOrList{"privilege_escalation"}},
			Severity:   "critical",
			Frameworks: []string{"SOC2", "ISO27001"},
			Message:    "Privilege escalation detected",
			Builtin:    true,
		},
		{
			Name:       "malware_detection",
			Match:      RuleMatch{DescContains: stringOrList{"malware", "ransomware", "trojan"}},
			Severity:   "critical",
			Frameworks: []string{"SOC2", "ISO27001"},
			Message:    "Malware activity reported",
			Builtin:    true,
		},
		{
			Name:       "service_degradation",
			Match:      RuleMatch{Type: stringOrList{"service_*", "availability*"}},
			Severity:   "warning",
			Frameworks: []string{"SOC2"},
			Message:    "Service availability incident",
			Builtin:    true,
		},
		{
			Name:       "policy_violation",
			Match:      RuleMatch{Type: stringOrList{"policy_violation"}},
			Severity:   "warning",
			Frameworks: []string{"ISO27001"},
			Message:    "Internal policy violation",
			Builtin:    true,
		},
	}
}

// defaultBuiltinToggles returns the default enabled state for each
// built-in rule. All built-ins are on by default.
func defaultBuiltinToggles() map[string]bool {
	toggles := make(map[string]bool)
	for _, r := range builtinRules() {
		toggles[r.Name] = true
	}
	return toggles
}
