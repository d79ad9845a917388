package compliance

import (
	"fmt"
	"strings"

	"github.com/gobwas/glob"
)

// compiledMatcher holds pre-compiled glob patterns for a rule.
// Compiling globs once at load time keeps per-capture classification cheap.
type compiledMatcher struct {
	typeGlobs  []glob.Glob
	fieldGlobs map[string]glob.Glob
}

// compileMatcher pre-compiles all pattern matchers for a rule.
// Returns an error if any glob pattern is invalid.
func compileMatcher(r *Rule) error {
	r.compiled = &compiledMatcher{}

	for _, p := range r.Match.Type {
		g, err := glob.Compile(strings.ToLower(p))
		if err != nil {
			return fmt.Errorf("rule %q: invalid type glob %q: %w", r.Name, p, err)
		}
		r.compiled.typeGlobs = append(r.compiled.typeGlobs, g)
	}

	for field, p := range r.Match.Fields {
		g, err := glob.Compile(p)
		if err != nil {
			return fmt.Errorf("rule %q: invalid field glob %q for %q: %w", r.Name, p, field, err)
		}
		if r.compiled.fieldGlobs == nil {
			r.compiled.fieldGlobs = make(map[string]glob.Glob)
		}
		r.compiled.fieldGlobs[field] = g
	}

	return nil
}

// matchesRule checks whether an incident matches a rule's conditions.
// All non-empty match fields must be satisfied (AND logic).
//
//   - type:          glob match on the incident type, case-insensitive
//     (OR across list)
//   - desc_contains: case-insensitive substring in the description
//     (OR across list)
//   - fields:        glob match on string payload fields (AND across map)
func matchesRule(r *Rule, incidentType, description string, payload map[string]any) bool {
	if r.compiled == nil {
		return false
	}

	if len(r.compiled.typeGlobs) > 0 {
		typeLower := strings.ToLower(incidentType)
		matched := false
		for _, g := range r.compiled.typeGlobs {
			if g.Match(typeLower) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	if len(r.Match.DescContains) > 0 {
		descLower := strings.ToLower(description)
		matched := false
		for _, s := range r.Match.DescContains {
			if strings.Contains(descLower, strings.ToLower(s)) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	for field, g := range r.compiled.fieldGlobs {
		val := getStringField(payload, field)
		if val == "" || !g.Match(val) {
			return false
		}
	}

	return true
}

// getStringField safely extracts a string value from an incident payload.
// Returns "" if the key doesn't exist or the value isn't a string.
func getStringField(payload map[string]any, key string) string {
	if payload == nil {
		return ""
	}
	val, ok := payload[key]
	if !ok {
		return ""
	}
	s, ok := val.(string)
	if !ok {
		return ""
	}
	return s
}
