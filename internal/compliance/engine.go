package compliance

import (
	"log/slog"
	"sync"
)

// Engine is the incident classification engine. It holds the combined
// set of built-in and custom rules and classifies captured incidents
// against them.
//
// Thread-safe — Classify() is called concurrently from capture handler
// goroutines, while Reload() modifies the rule set on config changes.
// Uses RWMutex so classifications don't block each other.
type Engine struct {
	mu             sync.RWMutex
	rules          []Rule // Combined built-in + custom rules, in evaluation order.
	customRules    []Rule
	builtinToggles map[string]bool
	builtinCount   int
	customCount    int
}

// New creates a classification engine, loading custom rules from the
// given YAML path and merging them with built-in rules.
//
// Returns an error if the rules file is malformed or contains invalid
// glob patterns. Missing file is not an error (empty custom rules).
func New(rulesPath string) (*Engine, error) {
	e := &Engine{}
	if err := e.load(rulesPath); err != nil {
		return nil, err
	}
	return e, nil
}

// Classify evaluates an incident against all rules in order.
// First matching rule wins. If no rule matches, the incident is
// classified as severity "info" with no framework tags.
func (e *Engine) Classify(incidentType, description string, payload map[string]any) Classification {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, rule := range e.rules {
		if matchesRule(&rule, incidentType, description, payload) {
			return Classification{
				Severity:   rule.Severity,
				Rule:       rule.Name,
				Frameworks: rule.Frameworks,
				Message:    rule.Message,
			}
		}
	}

	return Classification{Severity: "info"}
}

// TotalRules returns the total number of active rules (builtin + custom).
func (e *Engine) TotalRules() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.rules)
}

// BuiltinCount returns the number of enabled built-in rules.
func (e *Engine) BuiltinCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.builtinCount
}

// CustomCount returns the number of loaded custom rules.
func (e *Engine) CustomCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.customCount
}

// ListRules returns summary info for all active rules.
func (e *Engine) ListRules() []RuleInfo {
	e.mu.RLock()
	defer e.mu.RUnlock()

	infos := make([]RuleInfo, 0, len(e.rules))
	for _, r := range e.rules {
		infos = append(infos, RuleInfo{
			Name:       r.Name,
			Builtin:    r.Builtin,
			Severity:   r.Severity,
			Frameworks: r.Frameworks,
		})
	}
	return infos
}

// Reload reloads rules from the given YAML path.
// Called by the file watcher when rules.yaml changes.
func (e *Engine) Reload(path string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.loadUnlocked(path); err != nil {
		return err
	}

	slog.Info("classification rules reloaded", "total", len(e.rules), "builtin", e.builtinCount, "custom", e.customCount)
	return nil
}

func (e *Engine) load(rulesPath string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loadUnlocked(rulesPath)
}

// loadUnlocked does the actual loading. Caller must hold the mutex.
func (e *Engine) loadUnlocked(rulesPath string) error {
	customRules, builtinToggles, err := loadRulesFromFile(rulesPath)
	if err != nil {
		return err
	}

	// Merge file toggles with defaults. If the file specifies a toggle,
	// use it. Otherwise fall back to the default.
	defaults := defaultBuiltinToggles()
	if builtinToggles == nil {
		builtinToggles = defaults
	} else {
		for name, defaultVal := range defaults {
			if _, exists := builtinToggles[name]; !exists {
				builtinToggles[name] = defaultVal
			}
		}
	}

	for i := range customRules {
		if customRules[i].Severity == "" {
			customRules[i].Severity = "warning"
		}
		if err := compileMatcher(&customRules[i]); err != nil {
			return err
		}
	}

	e.customRules = customRules
	e.builtinToggles = builtinToggles
	e.rebuild()
	return nil
}

// rebuild merges built-in and custom rules into the combined evaluation
// list. Custom rules come first so operators can override the built-ins.
// Caller must hold the mutex.
func (e *Engine) rebuild() {
	combined := append([]Rule{}, e.customRules...)

	for _, r := range builtinRules() {
		enabled, exists := e.builtinToggles[r.Name]
		if !exists {
			enabled = true
		}
		if !enabled {
			continue
		}

		if err := compileMatcher(&r); err != nil {
			slog.Error("failed to compile built-in rule", "rule", r.Name, "error", err)
			continue
		}
		combined = append(combined, r)
	}

	e.rules = combined
	e.customCount = len(e.customRules)
	e.builtinCount = len(combined) - e.customCount
}
