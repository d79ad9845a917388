// Package compliance implements the incident classification rule engine.
//
// Rules are loaded from rules.yaml (custom) and merged with built-in
// forensic rules. Each captured incident is classified against the rule
// set in order — first match wins. A classification carries a severity
// and the compliance frameworks the incident is relevant to.
//
// Rule matching supports:
//   - Incident type glob patterns (string or list, OR logic)
//   - Description substrings (string or list, case-insensitive, OR logic)
//   - Payload field globs (field name -> glob on the string value, AND logic)
package compliance

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Rule defines a single classification rule. Each rule has a match
// condition and the severity/framework tags applied when it fires.
type Rule struct {
	Name       string    `yaml:"name"`
	Match      RuleMatch `yaml:"match"`
	Severity   string    `yaml:"severity"`   // "info", "warning" or "critical"
	Frameworks []string  `yaml:"frameworks"` // e.g. SOC2, ISO27001, GDPR
	Message    string    `yaml:"message"`    // Human-readable explanation.
	Builtin    bool      `yaml:"-"`          // True for built-in rules (not serialized).

	// compiled holds pre-compiled glob matchers.
	// Set by compileMatcher() after loading.
	compiled *compiledMatcher
}

// RuleMatch defines the conditions under which a rule fires.
// All non-empty fields must match for the rule to trigger (AND logic).
// Within list fields, any value matching is sufficient (OR logic).
type RuleMatch struct {
	Type         stringOrList      `yaml:"type"`
	DescContains stringOrList      `yaml:"desc_contains"`
	Fields       map[string]string `yaml:"fields"`
}

// stringOrList handles YAML fields that can be either a single string
// or a list of strings. In rules.yaml, users can write either:
//
//	type: unauthorized_access               # single string
//	type: [unauthorized_access, intrusion]  # list of strings
type stringOrList []string

// UnmarshalYAML handles both forms.
func (s *stringOrList) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		*s = []string{value.Value}
		return nil
	case yaml.SequenceNode:
		var list []string
		if err := value.Decode(&list); err != nil {
			return err
		}
		*s = list
		return nil
	default:
		return fmt.Errorf("expected string or list, got %v", value.Kind)
	}
}

// Classification is the outcome of evaluating an incident against the
// rule set.
type Classification struct {
	Severity   string   `json:"severity"`
	Rule       string   `json:"rule,omitempty"` // Name of the matched rule (empty if default).
	Frameworks []string `json:"frameworks,omitempty"`
	Message    string   `json:"message,omitempty"`
}

// RuleInfo is a summary of a rule for display.
type RuleInfo struct {
	Name       string
	Builtin    bool
	Severity   string
	Frameworks []string
}

// rulesFile is the YAML envelope for rules.yaml.
type rulesFile struct {
	Rules   []Rule          `yaml:"rules"`
	Builtin map[string]bool `yaml:"builtin"`
}

// loadRulesFromFile reads and parses custom rules from the given YAML path.
// Returns an empty slice if the file doesn't exist (not an error).
func loadRulesFromFile(path string) ([]Rule, map[string]bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("reading rules %s: %w", path, err)
	}

	if len(data) == 0 {
		return nil, nil, nil
	}

	var file rulesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, nil, fmt.Errorf("parsing rules %s: %w", path, err)
	}

	return file.Rules, file.Builtin, nil
}

// saveRulesToFile writes custom rules to the given YAML path.
// Only saves custom rules (not built-in) and the builtin toggle map.
func saveRulesToFile(path string, customRules []Rule, builtinToggles map[string]bool) error {
	file := rulesFile{
		Rules:   customRules,
		Builtin: builtinToggles,
	}

	data, err := yaml.Marshal(&file)
	if err != nil {
		return fmt.Errorf("marshaling rules: %w", err)
	}

	header := "# Forensicd incident classification rules\n\n"
	return os.WriteFile(path, []byte(header+string(data)), 0o644)
}

// WriteDefaultRules writes a default rules.yaml with all built-in rules
// enabled. Used by the first-run setup.
func WriteDefaultRules(path string) error {
	builtinToggles := defaultBuiltinToggles()
	return saveRulesToFile(path, nil, builtinToggles)
}
