package collector

import (
	"context"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// SystemProvider captures host-level state from the /proc filesystem:
// load average, memory, uptime, kernel version and process count.
// Fields that cannot be read are omitted rather than failing the whole
// snapshot; the provider errors only when nothing could be collected.
type SystemProvider struct {
	procRoot string
}

// NewSystemProvider returns a provider reading from /proc.
func NewSystemProvider() *SystemProvider {
	return &SystemProvider{procRoot: "/proc"}
}

func (p *SystemProvider) Name() string { return "system" }

func (p *SystemProvider) Snapshot(ctx context.Context) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	state := map[string]any{
		"captured_at": time.Now().UTC().Format(time.RFC3339),
		"os":          runtime.GOOS,
		"arch":        runtime.GOARCH,
		"num_cpu":     runtime.NumCPU(),
	}

	if host, err := os.Hostname(); err == nil {
		state["hostname"] = host
	}
	if load := p.readLoadAvg(); load != nil {
		state["load_average"] = load
	}
	if mem := p.readMemInfo(); len(mem) > 0 {
		state["memory"] = mem
	}
	if up, ok := p.readUptime(); ok {
		state["uptime_seconds"] = up
	}
	if kernel := p.readFirstLine("version"); kernel != "" {
		state["kernel"] = kernel
	}
	if n := p.countProcesses(); n > 0 {
		state["process_count"] = n
	}

	return state, nil
}

// readLoadAvg parses the three load figures from /proc/loadavg.
func (p *SystemProvider) readLoadAvg() []float64 {
	line := p.readFirstLine("loadavg")
	fields := strings.Fields(line)
	if len(fields) < 3 {
		return nil
	}
	load := make([]float64, 0, 3)
	for _, f := range fields[:3] {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil
		}
		load = append(load, v)
	}
	return load
}

// readMemInfo extracts the headline figures from /proc/meminfo (values in kB).
func (p *SystemProvider) readMemInfo() map[string]int64 {
	data, err := os.ReadFile(p.procRoot + "/meminfo")
	if err != nil {
		return nil
	}

	wanted := map[string]string{
		"MemTotal":     "total_kb",
		"MemFree":      "free_kb",
		"MemAvailable": "available_kb",
		"SwapTotal":    "swap_total_kb",
		"SwapFree":     "swap_free_kb",
	}

	mem := make(map[string]int64)
	for _, line := range strings.Split(string(data), "\n") {
		key, rest, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		out, ok := wanted[key]
		if !ok {
			continue
		}
		fields := strings.Fields(rest)
		if len(fields) == 0 {
			continue
		}
		if v, err := strconv.ParseInt(fields[0], 10, 64); err == nil {
			mem[out] = v
		}
	}
	return mem
}

func (p *SystemProvider) readUptime() (float64, bool) {
	fields := strings.Fields(p.readFirstLine("uptime"))
	if len(fields) == 0 {
		return 0, false
	}
	v, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// countProcesses counts numeric entries under /proc.
func (p *SystemProvider) countProcesses() int {
	entries, err := os.ReadDir(p.procRoot)
	if err != nil {
		return 0
	}
	n := 0
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := strconv.Atoi(e.Name()); err == nil {
			n++
		}
	}
	return n
}

func (p *SystemProvider) readFirstLine(name string) string {
	data, err := os.ReadFile(p.procRoot + "/" + name)
	if err != nil {
		return ""
	}
	line, _, _ := strings.Cut(string(data), "\n")
	return strings.TrimSpace(line)
}

// RuntimeProvider captures Go runtime state of the daemon itself.
// Useful when the incident concerns the forensic service's own behavior.
type RuntimeProvider struct{}

func (RuntimeProvider) Name() string { return "runtime" }

func (RuntimeProvider) Snapshot(ctx context.Context) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	return map[string]any{
		"goroutines":   runtime.NumGoroutine(),
		"heap_alloc":   ms.HeapAlloc,
		"heap_objects": ms.HeapObjects,
		"gc_cycles":    ms.NumGC,
		"go_version":   runtime.Version(),
		"pid":          os.Getpid(),
	}, nil
}
