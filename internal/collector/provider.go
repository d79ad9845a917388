// Package collector implements incident capture: it gathers a system
// snapshot, classifies the incident, seals the evidence into the chain
// and emits an audit trail plus a plain-text investigation report.
//
// Snapshot providers are pluggable. Each provider contributes a named
// section of the system state payload, and the registry tracks per-provider
// stats (snapshot counts, failures, last used). Stats persist to
// providers.yaml so capture reliability survives restarts.
package collector

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// SnapshotProvider captures one section of system state at incident time.
// Snapshot must honor ctx cancellation; a slow provider degrades the
// capture rather than blocking it.
type SnapshotProvider interface {
	Name() string
	Snapshot(ctx context.Context) (map[string]any, error)
}

// ProviderInfo describes a registered provider and its cumulative stats.
type ProviderInfo struct {
	Name      string        `yaml:"-" json:"name"`
	FirstUsed time.Time     `yaml:"first_used" json:"first_used"`
	LastUsed  time.Time     `yaml:"last_used" json:"last_used"`
	Stats     ProviderStats `yaml:"stats" json:"stats"`
}

// ProviderStats holds cumulative counters for a provider's activity.
type ProviderStats struct {
	Snapshots uint64 `yaml:"snapshots" json:"snapshots"`
	Failures  uint64 `yaml:"failures" json:"failures"`
}

// Registry manages the set of snapshot providers and their stats.
// Thread-safe — captures run concurrently from HTTP handler goroutines.
type Registry struct {
	mu        sync.RWMutex
	providers []SnapshotProvider
	info      map[string]*ProviderInfo
	path      string // Path to providers.yaml for persistence.
}

// registryFile is the YAML envelope for providers.yaml.
type registryFile struct {
	Providers map[string]*ProviderInfo `yaml:"providers"`
}

// NewRegistry loads provider stats from the given YAML file path.
// If the file doesn't exist, returns an empty registry (not an error).
func NewRegistry(path string) (*Registry, error) {
	r := &Registry{
		info: make(map[string]*ProviderInfo),
		path: path,
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return r, nil
		}
		return nil, fmt.Errorf("reading provider registry %s: %w", path, err)
	}

	if len(data) == 0 {
		return r, nil
	}

	var file registryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing provider registry %s: %w", path, err)
	}

	for name, info := range file.Providers {
		if info == nil {
			continue
		}
		info.Name = name
		r.info[name] = info
	}

	slog.Info("provider registry loaded", "providers", len(r.info), "path", path)
	return r, nil
}

// Register adds a snapshot provider. Providers run in registration order.
func (r *Registry) Register(p SnapshotProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.providers = append(r.providers, p)
	if _, ok := r.info[p.Name()]; !ok {
		r.info[p.Name()] = &ProviderInfo{
			Name:      p.Name(),
			FirstUsed: time.Time{},
		}
	}
}

// Providers returns the registered providers in registration order.
func (r *Registry) Providers() []SnapshotProvider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]SnapshotProvider{}, r.providers...)
}

// List returns info for all known providers, sorted by name.
func (r *Registry) List() []ProviderInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]ProviderInfo, 0, len(r.info))
	for _, i := range r.info {
		infos = append(infos, *i)
	}
	sort.Slice(infos, func(a, b int) bool {
		return infos[a].Name < infos[b].Name
	})
	return infos
}

// RecordSnapshot updates a provider's counters after a snapshot attempt.
func (r *Registry) RecordSnapshot(name string, failed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	info, ok := r.info[name]
	if !ok {
		return
	}
	now := time.Now().UTC()
	if info.FirstUsed.IsZero() {
		info.FirstUsed = now
	}
	info.LastUsed = now
	info.Stats.Snapshots++
	if failed {
		info.Stats.Failures++
	}
}

// Save persists current provider stats to providers.yaml.
// Called on graceful shutdown to avoid losing in-memory counters.
func (r *Registry) Save() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	file := registryFile{Providers: r.info}
	data, err := yaml.Marshal(&file)
	if err != nil {
		return fmt.Errorf("marshaling provider registry: %w", err)
	}

	if err := os.WriteFile(r.path, data, 0o644); err != nil {
		return fmt.Errorf("writing provider registry %s: %w", r.path, err)
	}

	return nil
}
