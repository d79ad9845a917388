// Package main is the CLI entry point for forensicd — a tamper-evident
// incident evidence daemon.
//
// When an incident is reported (via CLI, HTTP, or an Alertmanager
// webhook), forensicd snapshots system state, classifies the incident
// against compliance rules, and seals the evidence into a hash-linked
// chain of custody. Every block's hash covers its payload and every
// link covers the previous block's hash, so any after-the-fact edit of
// stored evidence is detectable.
//
// Architecture overview:
//
//	incident report --> collector --> snapshot providers (system, runtime)
//	                      |-- compliance classification (rules.yaml)
//	                      |-- seal into evidence chain (content store + SQLite custody index)
//	                      |-- audit log entry
//	                      +-- plain-text investigation report
//
//	verifier  --> re-derives hashes, walks chain links, flags tampering
//	sweeper   --> periodic full-chain verification, captures violations
//
// CLI commands (cobra):
//
//	forensicd              - Interactive first-run setup
//	forensicd start [-d]   - Start the daemon (foreground or background)
//	forensicd stop         - Stop the daemon
//	forensicd status       - Show daemon status + chain summary
//	forensicd capture      - Capture an incident
//	forensicd incidents    - List recent evidence blocks
//	forensicd verify       - Verify the chain or a single block
//	forensicd import       - Import external files as evidence
//	forensicd rules        - List classification rules
//	forensicd audit        - Query/export the audit log
//	forensicd config       - View/edit configuration
package main

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/forensicd/forensicd/internal/audit"
	"github.com/forensicd/forensicd/internal/collector"
	"github.com/forensicd/forensicd/internal/compliance"
	"github.com/forensicd/forensicd/internal/config"
	"github.com/forensicd/forensicd/internal/dashboard"
	"github.com/forensicd/forensicd/internal/evidence"
	"github.com/forensicd/forensicd/internal/server"
	"github.com/forensicd/forensicd/internal/verify"
)

// Build-time variables injected via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123 -X main.buildDate=2026-08-01"
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

// defaultConfigDir returns the path to ~/.forensicd/ where all runtime
// state lives: config.yaml, rules.yaml, providers.yaml, the evidence
// store, both SQLite databases, and the reports directory.
func defaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		// Fall back to current directory if home dir can't be determined.
		return ".forensicd"
	}
	return filepath.Join(home, ".forensicd")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// ============================================================================
// Root command
// ============================================================================

// configDir is the global flag for the forensicd config/state directory.
var configDir string

// rootCmd is the top-level cobra command. When run with no subcommand,
// it performs interactive first-run setup.
var rootCmd = &cobra.Command{
	Use:   "forensicd",
	Short: "forensicd — Tamper-evident incident evidence daemon",
	Long: `forensicd captures forensic evidence when incidents occur: system state
snapshots, compliance classification, and a hash-linked chain of custody
that makes any later tampering with stored evidence detectable.

Run 'forensicd start' to start the daemon, or run 'forensicd' with no
arguments for interactive first-run setup.`,
	Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runFirstTimeSetup(cmd, args)
	},
}

func init() {
	// --config-dir: Override the default ~/.forensicd/ directory.
	// Persistent so all subcommands inherit it.
	rootCmd.PersistentFlags().StringVar(
		&configDir,
		"config-dir",
		defaultConfigDir(),
		"Path to forensicd config and state directory",
	)

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(captureCmd)
	rootCmd.AddCommand(incidentsCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(rulesCmd)
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(configCmd)
}

// ============================================================================
// Local stack wiring
// ============================================================================

// stack holds the fully wired evidence subsystem. Used by the daemon and
// by CLI commands that operate on the evidence store directly when no
// daemon is running.
type stack struct {
	cfg       *config.Config
	store     *evidence.ContentStore
	index     *evidence.Index
	chain     *evidence.Chain
	auditLog  *audit.Log
	rules     *compliance.Engine
	registry  *collector.Registry
	collector *collector.Collector
	verifier  *verify.Service
}

// openStack wires every subsystem from the config directory. Both SQLite
// databases use WAL mode with a busy timeout, so a short-lived CLI
// invocation can coexist with a running daemon.
func openStack() (*stack, error) {
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create config directory %s: %w", configDir, err)
	}

	cfg, err := config.Load(filepath.Join(configDir, "config.yaml"))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	store, err := evidence.NewContentStore(cfg.Storage.EvidenceDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open evidence store: %w", err)
	}

	index, err := evidence.OpenIndex(cfg.Storage.CustodyDB)
	if err != nil {
		return nil, fmt.Errorf("failed to open custody index: %w", err)
	}

	chain, err := evidence.NewChain(store, index)
	if err != nil {
		index.Close()
		return nil, fmt.Errorf("failed to open evidence chain: %w", err)
	}

	auditLog, err := audit.Open(cfg.Storage.AuditDB)
	if err != nil {
		index.Close()
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}

	rules, err := compliance.New(filepath.Join(configDir, "rules.yaml"))
	if err != nil {
		index.Close()
		auditLog.Close()
		return nil, fmt.Errorf("failed to load classification rules: %w", err)
	}

	registry, err := collector.NewRegistry(filepath.Join(configDir, "providers.yaml"))
	if err != nil {
		index.Close()
		auditLog.Close()
		return nil, fmt.Errorf("failed to load provider registry: %w", err)
	}
	registry.Register(collector.NewSystemProvider())
	registry.Register(collector.RuntimeProvider{})

	coll, err := collector.New(chain, auditLog, rules, registry, cfg.Storage.ReportsDir, cfg.SnapshotTimeout())
	if err != nil {
		index.Close()
		auditLog.Close()
		return nil, fmt.Errorf("failed to create collector: %w", err)
	}

	return &stack{
		cfg:       cfg,
		store:     store,
		index:     index,
		chain:     chain,
		auditLog:  auditLog,
		rules:     rules,
		registry:  registry,
		collector: coll,
		verifier:  verify.NewService(chain, store, index, auditLog),
	}, nil
}

func (s *stack) close() {
	if err := s.registry.Save(); err != nil {
		fmt.Fprintf(os.Stderr, "[forensicd] Warning: failed to save provider registry: %v\n", err)
	}
	s.auditLog.Close()
	s.index.Close()
}

// ============================================================================
// forensicd start — Start the daemon
// ============================================================================

// daemonMode controls whether the daemon runs in the background (-d flag).
var daemonMode bool

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the forensicd daemon",
	Long: `Start the forensicd daemon. The daemon serves the evidence API, runs
snapshot providers on capture, and sweeps the chain for tampering in
the background.

By default runs in the foreground. Use -d for daemon/background mode.

The daemon binds to the address configured in ~/.forensicd/config.yaml
(default: 127.0.0.1:7411):
  - API:       http://127.0.0.1:7411/incident, /chain, /verify, /audit
  - Dashboard: http://127.0.0.1:7411/dashboard`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStart(cmd, args)
	},
}

func init() {
	startCmd.Flags().BoolVarP(&daemonMode, "daemon", "d", false, "Run daemon in background mode")
}

// runStart wires every subsystem and serves until shutdown:
//
//  1. Handle daemon mode (re-exec as background process if -d)
//  2. Open the evidence stack (store, index, chain, audit, rules)
//  3. Register snapshot providers and create the collector
//  4. Start the background integrity sweeper (if enabled)
//  5. Mount the API, dashboard, and shutdown endpoints
//  6. Write PID file, watch rules.yaml for hot reload
//  7. Block until SIGINT/SIGTERM or HTTP shutdown
func runStart(cmd *cobra.Command, args []string) error {
	// When -d is passed and we're NOT the re-exec'd child, spawn a
	// detached child and exit. FORENSICD_DAEMONIZED=1 distinguishes the
	// parent from the child — Go can't fork() safely because the runtime
	// is multi-threaded, so background mode re-executes the binary.
	if daemonMode && os.Getenv("FORENSICD_DAEMONIZED") != "1" {
		return spawnDaemon()
	}

	st, err := openStack()
	if err != nil {
		return err
	}
	defer st.close()

	fmt.Printf("[forensicd] Loaded %d rules (%d builtin + %d custom)\n",
		st.rules.TotalRules(), st.rules.BuiltinCount(), st.rules.CustomCount())
	fmt.Printf("[forensicd] Evidence chain length: %d\n", st.chain.Length())

	// Record daemon startup in the audit trail.
	st.auditLog.Record(audit.Event{
		Type:    "daemon_start",
		Source:  "daemon",
		Action:  "start",
		Outcome: "ok",
		Details: map[string]any{
			"version": version,
			"commit":  commit,
			"addr":    st.cfg.Addr(),
		},
	})

	// --- Dashboard (before the API handler, so the capture hook can be
	// wired to the live feed) ---
	var dash *dashboard.Dashboard
	if st.cfg.Dashboard.Enabled {
		dash = dashboard.New()
		st.collector.OnCapture = dash.BroadcastBlock
	}

	apiHandler := server.New(server.Options{
		Collector: st.collector,
		Chain:     st.chain,
		Store:     st.store,
		Index:     st.index,
		Verifier:  st.verifier,
		AuditLog:  st.auditLog,
		Version:   version,
	})

	// The API and dashboard share one port. The outer mux routes:
	//   /dashboard*  -> embedded viewer + WebSocket feed
	//   /shutdown    -> graceful shutdown trigger (used by `forensicd stop`)
	//   everything else -> API handler
	// The WebSocket endpoint must bypass the API handler's logging
	// wrapper, which does not support connection hijacking.
	mux := http.NewServeMux()
	mux.Handle("/", apiHandler)
	if dash != nil {
		mux.Handle("/dashboard", dash)
		mux.Handle("/dashboard/", dash)
		mux.Handle("/dashboard/ws", dash.WebSocketHandler())
	}

	// Shutdown endpoint — the cross-platform way to stop the daemon
	// (works on Windows where SIGTERM is unavailable). POST-only and
	// restricted to loopback addresses.
	shutdownCh := make(chan struct{}, 1)
	mux.HandleFunc("/shutdown", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST only", http.StatusMethodNotAllowed)
			return
		}
		if !isLoopback(r.RemoteAddr) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, `{"status":"shutting_down"}`)
		select {
		case shutdownCh <- struct{}{}:
		default:
			// Already shutting down.
		}
	})

	httpServer := &http.Server{
		Addr:              st.cfg.Addr(),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// PID file lets `forensicd stop` find the process when HTTP fails.
	pidFile := filepath.Join(configDir, "forensicd.pid")
	if err := writePIDFile(pidFile); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}
	defer os.Remove(pidFile)

	// Watch rules.yaml so classification changes apply without restart.
	rulesPath := filepath.Join(configDir, "rules.yaml")
	watcher, err := config.NewWatcher(configDir, config.WatchTargets{
		OnRulesChange: func() {
			if reloadErr := st.rules.Reload(rulesPath); reloadErr != nil {
				fmt.Fprintf(os.Stderr, "[forensicd] Warning: failed to reload rules: %v\n", reloadErr)
			} else {
				fmt.Println("[forensicd] Classification rules reloaded")
			}
		},
	})
	if err != nil {
		return fmt.Errorf("failed to start config watcher: %w", err)
	}
	defer watcher.Close()

	// Three ways the daemon can shut down: SIGINT, SIGTERM (from
	// `forensicd stop` via PID file), or POST /shutdown. All drain
	// in-flight requests, save provider stats, and close the databases.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Background integrity sweeper. On tamper detection it seals a
	// chain_integrity_violation incident, so the break is itself evidence.
	if st.cfg.Sweep.Enabled {
		sweeper := verify.NewSweeper(st.verifier, st.collector, st.cfg.SweepInterval())
		go sweeper.Run(ctx)
		fmt.Printf("[forensicd] Integrity sweep every %s\n", st.cfg.SweepInterval())
	}

	errCh := make(chan error, 1)
	go func() {
		fmt.Printf("[forensicd] Listening on http://%s\n", st.cfg.Addr())
		if dash != nil {
			fmt.Printf("[forensicd] Dashboard at http://%s/dashboard\n", st.cfg.Addr())
		}
		if !daemonMode {
			fmt.Println("[forensicd] Press Ctrl+C to stop")
		}
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		fmt.Println("\n[forensicd] Shutting down (signal received)...")
	case <-shutdownCh:
		fmt.Println("[forensicd] Shutting down (stop command received)...")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
	}

	// Give in-flight captures 10 seconds to seal their evidence.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if shutdownErr := httpServer.Shutdown(shutdownCtx); shutdownErr != nil {
		fmt.Fprintf(os.Stderr, "[forensicd] Shutdown error: %v\n", shutdownErr)
	}

	st.auditLog.Record(audit.Event{
		Type:    "daemon_stop",
		Source:  "daemon",
		Action:  "stop",
		Outcome: "ok",
	})

	fmt.Println("[forensicd] Stopped")
	return nil
}

// spawnDaemon re-executes the forensicd binary as a detached background
// process. The parent prints the child PID and exits; the child detects
// FORENSICD_DAEMONIZED=1 and runs the daemon normally.
func spawnDaemon() error {
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	exePath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to find executable path: %w", err)
	}

	logPath := filepath.Join(configDir, "forensicd.log")
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open log file %s: %w", logPath, err)
	}

	daemonArgs := []string{"start"}
	if configDir != defaultConfigDir() {
		daemonArgs = append(daemonArgs, "--config-dir", configDir)
	}

	child := exec.Command(exePath, daemonArgs...)
	child.Stdout = logFile
	child.Stderr = logFile
	child.Env = append(os.Environ(), "FORENSICD_DAEMONIZED=1")

	if err := child.Start(); err != nil {
		logFile.Close()
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	fmt.Printf("[forensicd] Daemon started in background (PID %d)\n", child.Process.Pid)
	fmt.Printf("[forensicd] Log file: %s\n", logPath)
	fmt.Println("[forensicd] Use 'forensicd stop' to stop the daemon")

	// Release so the child survives parent exit.
	if err := child.Process.Release(); err != nil {
		fmt.Fprintf(os.Stderr, "[forensicd] Warning: failed to release child process: %v\n", err)
	}

	logFile.Close()
	return nil
}

func writePIDFile(path string) error {
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

// isLoopback checks if a remote address is a loopback address.
// Restricts the /shutdown endpoint to local-only access.
func isLoopback(remoteAddr string) bool {
	host := remoteAddr
	if idx := strings.LastIndex(remoteAddr, ":"); idx != -1 {
		host = remoteAddr[:idx]
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")

	return host == "127.0.0.1" || host == "::1" || strings.HasPrefix(host, "127.")
}

// ============================================================================
// forensicd stop — Stop the daemon
// ============================================================================

// stopCmd stops a running daemon. Tries HTTP POST /shutdown first
// (cross-platform), then falls back to PID file + SIGTERM on Unix.
var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running forensicd daemon",
	Long: `Stop a running forensicd daemon. Tries HTTP shutdown first
(cross-platform), then falls back to PID file + SIGTERM on Unix systems.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStop(cmd, args)
	},
}

func runStop(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(filepath.Join(configDir, "config.yaml"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	addr := "http://" + cfg.Addr()

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Post(addr+"/shutdown", "application/json", nil)
	if err == nil {
		defer resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			fmt.Println("[forensicd] Stop signal sent to daemon")
			os.Remove(filepath.Join(configDir, "forensicd.pid"))
			return nil
		}
	}

	// HTTP failed — fall back to SIGTERM via the PID file (Unix only).
	if runtime.GOOS == "windows" {
		return fmt.Errorf("daemon is not responding at %s — cannot stop", addr)
	}

	pidFile := filepath.Join(configDir, "forensicd.pid")
	pidBytes, err := os.ReadFile(pidFile)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("daemon is not running (no PID file and HTTP unreachable)")
		}
		return fmt.Errorf("failed to read PID file: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(pidBytes)))
	if err != nil {
		return fmt.Errorf("invalid PID in %s: %w", pidFile, err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("failed to find process %d: %w", pid, err)
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		os.Remove(pidFile)
		return fmt.Errorf("failed to stop daemon (PID %d): %w", pid, err)
	}

	os.Remove(pidFile)
	fmt.Printf("[forensicd] Sent stop signal to daemon (PID %d)\n", pid)
	return nil
}

// ============================================================================
// forensicd status — Show daemon status
// ============================================================================

// statusCmd queries the running daemon via HTTP (/health and /chain)
// for live state rather than reading files from disk.
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status and chain summary",
	Long: `Display whether the forensicd daemon is running, its listen address, and
a summary of the evidence chain (length, verified blocks, storage size).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStatus(cmd, args)
	},
}

// statusChainJSON is the subset of GET /chain we display.
type statusChainJSON struct {
	Length   uint64 `json:"chain_length"`
	Valid    bool   `json:"valid"`
	Verified int64  `json:"verified"`
	Total    int64  `json:"total"`
	Storage  struct {
		Payloads  int   `json:"payloads"`
		SizeBytes int64 `json:"size_bytes"`
	} `json:"storage"`
	Head *evidence.Block `json:"head"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(filepath.Join(configDir, "config.yaml"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	addr := "http://" + cfg.Addr()
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(addr + "/health")
	if err != nil {
		fmt.Println("[forensicd] Status: NOT RUNNING")
		fmt.Printf("[forensicd] Expected at: %s\n", addr)
		return nil
	}
	resp.Body.Close()

	fmt.Println("[forensicd] Status: RUNNING")
	fmt.Printf("[forensicd] Listening on: %s\n", addr)

	chainResp, err := client.Get(addr + "/chain?limit=1")
	if err != nil {
		fmt.Println("[forensicd] Could not query chain data")
		return nil
	}
	defer chainResp.Body.Close()

	body, err := io.ReadAll(chainResp.Body)
	if err != nil {
		fmt.Println("[forensicd] Could not read chain data")
		return nil
	}

	var chain statusChainJSON
	if err := json.Unmarshal(body, &chain); err != nil {
		fmt.Println("[forensicd] Could not parse chain data")
		return nil
	}

	integrity := "VALID"
	if !chain.Valid {
		integrity = "BROKEN"
	}
	fmt.Printf("[forensicd] Chain length:    %d\n", chain.Length)
	fmt.Printf("[forensicd] Chain integrity: %s\n", integrity)
	fmt.Printf("[forensicd] Verified blocks: %d / %d\n", chain.Verified, chain.Total)
	fmt.Printf("[forensicd] Evidence stored: %d payloads (%.1f KiB)\n",
		chain.Storage.Payloads, float64(chain.Storage.SizeBytes)/1024)
	if chain.Head != nil {
		fmt.Printf("[forensicd] Head:            %s (seq %d, %s)\n",
			chain.Head.ID, chain.Head.Sequence, chain.Head.ContentHash[:12])
	}
	return nil
}

// ============================================================================
// forensicd capture — Capture an incident
// ============================================================================

var (
	captureType        string
	captureDescription string
	captureContext     []string
)

// captureCmd seals an incident into the evidence chain. Prefers the
// running daemon (its snapshot providers see the live daemon state and
// the dashboard feed updates); falls back to a local capture when no
// daemon is reachable.
var captureCmd = &cobra.Command{
	Use:   "capture",
	Short: "Capture an incident and seal it into the evidence chain",
	Long: `Capture a forensic snapshot for an incident: system state, compliance
classification, and a sealed evidence block in the chain of custody.

Sends the incident to the running daemon when one is reachable;
otherwise captures locally against the same evidence store.

Examples:
  forensicd capture --type unauthorized_access --description "ssh brute force from 10.0.0.4"
  forensicd capture --type service_outage --description "API down" --context region=eu-west-1`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCapture(cmd, args)
	},
}

func init() {
	captureCmd.Flags().StringVar(&captureType, "type", "", "Incident type (required)")
	captureCmd.Flags().StringVar(&captureDescription, "description", "", "Human-readable incident description")
	captureCmd.Flags().StringArrayVar(&captureContext, "context", nil, "Additional context as key=value (repeatable)")
	captureCmd.MarkFlagRequired("type")
}

func parseContextFlags(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	ctx := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, found := strings.Cut(pair, "=")
		if !found || key == "" {
			return nil, fmt.Errorf("invalid context %q (want key=value)", pair)
		}
		ctx[key] = value
	}
	return ctx, nil
}

func runCapture(cmd *cobra.Command, args []string) error {
	captureCtx, err := parseContextFlags(captureContext)
	if err != nil {
		return err
	}

	// Try the running daemon first.
	cfg, err := config.Load(filepath.Join(configDir, "config.yaml"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	reqBody, _ := json.Marshal(map[string]any{
		"type":        captureType,
		"description": captureDescription,
		"context":     captureCtx,
	})
	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Post("http://"+cfg.Addr()+"/incident", "application/json", strings.NewReader(string(reqBody)))
	if err == nil {
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		if resp.StatusCode != http.StatusCreated {
			return fmt.Errorf("daemon rejected capture: %s", strings.TrimSpace(string(body)))
		}
		var res collector.Result
		if err := json.Unmarshal(body, &res); err != nil {
			return fmt.Errorf("failed to parse capture response: %w", err)
		}
		printCaptureResult(&res)
		return nil
	}

	// No daemon — capture locally against the same evidence store.
	st, err := openStack()
	if err != nil {
		return err
	}
	defer st.close()

	res, err := st.collector.Capture(context.Background(), collector.Request{
		Type:        captureType,
		Description: captureDescription,
		Context:     captureCtx,
	})
	if err != nil {
		return fmt.Errorf("capture failed: %w", err)
	}
	printCaptureResult(res)
	return nil
}

func printCaptureResult(res *collector.Result) {
	fmt.Printf("[forensicd] Sealed %s (seq %d)\n", res.Block.ID, res.Block.Sequence)
	fmt.Printf("  Evidence hash: %s\n", res.Block.ContentHash)
	fmt.Printf("  Severity:      %s", res.Classification.Severity)
	if res.Classification.Rule != "" {
		fmt.Printf(" (rule: %s)", res.Classification.Rule)
	}
	fmt.Println()
	if len(res.Classification.Frameworks) > 0 {
		fmt.Printf("  Frameworks:    %s\n", strings.Join(res.Classification.Frameworks, ", "))
	}
	if res.Degraded {
		fmt.Println("  WARNING: capture degraded — one or more snapshot providers failed")
	}
	if res.ReportPath != "" {
		fmt.Printf("  Report:        %s\n", res.ReportPath)
	}
}

// ============================================================================
// forensicd incidents — List recent evidence blocks
// ============================================================================

var incidentsLimit int

var incidentsCmd = &cobra.Command{
	Use:   "incidents",
	Short: "List recent evidence blocks",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStack()
		if err != nil {
			return err
		}
		defer st.close()

		blocks, err := st.index.ListRecent(incidentsLimit)
		if err != nil {
			return fmt.Errorf("failed to list evidence: %w", err)
		}
		if len(blocks) == 0 {
			fmt.Println("No evidence captured yet.")
			return nil
		}

		fmt.Printf("%-5s %-30s %-28s %-24s %-10s %s\n",
			"SEQ", "INCIDENT", "TYPE", "CAPTURED", "VERIFIED", "HASH")
		for _, b := range blocks {
			verified := "-"
			if b.Verified {
				verified = "yes"
			}
			fmt.Printf("%-5d %-30s %-28s %-24s %-10s %s\n",
				b.Sequence, b.ID, b.Type, b.Timestamp, verified, b.ContentHash[:16])
		}
		return nil
	},
}

func init() {
	incidentsCmd.Flags().IntVarP(&incidentsLimit, "limit", "n", 20, "Number of recent blocks to show")
}

// ============================================================================
// forensicd verify — Verify chain integrity
// ============================================================================

// verifyCmd re-derives evidence hashes and walks the chain links. With
// no argument the whole chain is verified; with an incident ID only that
// block is checked.
var verifyCmd = &cobra.Command{
	Use:   "verify [incident-id]",
	Short: "Verify evidence integrity",
	Long: `Verify the integrity of the evidence chain. Every block's payload is
re-hashed and compared against the recorded content hash, and every
link is checked against its predecessor. Any mismatch means the stored
evidence was modified after sealing.

With an incident ID, verifies only that block.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStack()
		if err != nil {
			return err
		}
		defer st.close()

		if len(args) == 1 {
			res, err := st.verifier.VerifyBlock(args[0])
			if err != nil {
				return fmt.Errorf("verification failed: %w", err)
			}
			if res.Valid {
				fmt.Printf("[forensicd] %s VALID (hash %s)\n", res.Block.ID, res.Block.ContentHash[:16])
				return nil
			}
			fmt.Printf("[forensicd] %s TAMPERED: %s\n", res.Block.ID, res.Message)
			if res.ComputedHash != "" {
				fmt.Printf("  Recorded hash: %s\n", res.Block.ContentHash)
				fmt.Printf("  Computed hash: %s\n", res.ComputedHash)
			}
			return fmt.Errorf("evidence integrity violation detected")
		}

		res, err := st.verifier.VerifyChain()
		if err != nil {
			return fmt.Errorf("verification failed: %w", err)
		}
		if res.Valid {
			fmt.Printf("[forensicd] Evidence chain VALID (%d blocks verified)\n", res.Checked)
			return nil
		}
		fmt.Printf("[forensicd] Evidence chain BROKEN at seq %d: %s\n", *res.BrokenAt, res.Reason)
		return fmt.Errorf("evidence integrity violation detected")
	},
}

// ============================================================================
// forensicd import — Import external files as evidence
// ============================================================================

// importCmd seals external artifacts (log extracts, memory dumps,
// packet captures) into the chain of custody. The file content is
// hashed; the hash, name, and size become the incident context so the
// original artifact can later be matched against its sealed fingerprint.
var importCmd = &cobra.Command{
	Use:   "import <file-or-dir>",
	Short: "Import external files as evidence",
	Long: `Import external artifacts into the chain of custody. Each file is
fingerprinted (SHA-256) and sealed as an evidence_import incident, so
the artifact can later be checked against its recorded hash.

Example:
  forensicd import /var/log/auth.log
  forensicd import ./incident-42-artifacts/`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStack()
		if err != nil {
			return err
		}
		defer st.close()

		var paths []string
		info, err := os.Stat(args[0])
		if err != nil {
			return fmt.Errorf("cannot access %s: %w", args[0], err)
		}
		if info.IsDir() {
			entries, err := os.ReadDir(args[0])
			if err != nil {
				return fmt.Errorf("cannot read directory %s: %w", args[0], err)
			}
			for _, entry := range entries {
				if !entry.IsDir() {
					paths = append(paths, filepath.Join(args[0], entry.Name()))
				}
			}
			if len(paths) == 0 {
				return fmt.Errorf("no files to import in %s", args[0])
			}
		} else {
			paths = []string{args[0]}
		}

		for _, path := range paths {
			data, err := os.ReadFile(path)
			if err != nil {
				fmt.Fprintf(os.Stderr, "[forensicd] Warning: skipping %s: %v\n", path, err)
				continue
			}
			sum := sha256.Sum256(data)

			res, err := st.collector.Capture(context.Background(), collector.Request{
				Type:        "evidence_import",
				Description: fmt.Sprintf("imported external artifact %s", filepath.Base(path)),
				Context: map[string]any{
					"source_path": path,
					"file_name":   filepath.Base(path),
					"size_bytes":  len(data),
					"sha256":      fmt.Sprintf("%x", sum),
				},
			})
			if err != nil {
				return fmt.Errorf("failed to import %s: %w", path, err)
			}
			fmt.Printf("[forensicd] Imported %s as %s (sha256 %x...)\n",
				filepath.Base(path), res.Block.ID, sum[:8])
		}
		return nil
	},
}

// ============================================================================
// forensicd rules — List classification rules
// ============================================================================

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "List classification rules",
	Long: `List the active incident classification rules. Built-in rules cover
common incident categories (unauthorized access, data exposure,
privilege escalation, service degradation); custom rules from
rules.yaml are evaluated first and can override them.

Edit rules.yaml to add custom rules or disable built-ins — a running
daemon reloads the rules automatically.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		rules, err := compliance.New(filepath.Join(configDir, "rules.yaml"))
		if err != nil {
			return fmt.Errorf("failed to load rules: %w", err)
		}

		infos := rules.ListRules()
		if len(infos) == 0 {
			fmt.Println("No rules configured.")
			return nil
		}

		fmt.Printf("%-28s %-10s %-10s %s\n", "NAME", "TYPE", "SEVERITY", "FRAMEWORKS")
		fmt.Printf("%-28s %-10s %-10s %s\n", "----", "----", "--------", "----------")
		for _, r := range infos {
			ruleType := "custom"
			if r.Builtin {
				ruleType = "builtin"
			}
			fmt.Printf("%-28s %-10s %-10s %s\n", r.Name, ruleType, r.Severity, strings.Join(r.Frameworks, ", "))
		}
		return nil
	},
}

// ============================================================================
// forensicd audit — Query and export the audit log
// ============================================================================

// auditCmd is the parent command for audit log operations. The audit
// log records every capture, verification, and tamper finding with a
// reference to the evidence block involved.
var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Query and export the audit log",
	Long: `The audit log records every forensic operation: captures (including
degraded ones), verifications, tamper findings, and daemon lifecycle
events. Each entry references the evidence block it concerns.`,
}

var auditTailLimit int

func init() {
	auditCmd.AddCommand(auditTailCmd)
	auditCmd.AddCommand(auditQueryCmd)
	auditCmd.AddCommand(auditTrailCmd)
	auditCmd.AddCommand(auditExportCmd)
}

var auditTailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Show recent audit events",
	RunE: func(cmd *cobra.Command, args []string) error {
		auditLog, err := openAuditLog()
		if err != nil {
			return err
		}
		defer auditLog.Close()

		events, err := auditLog.Tail(auditTailLimit)
		if err != nil {
			return fmt.Errorf("failed to read audit log: %w", err)
		}
		for _, e := range events {
			printAuditEvent(e)
		}
		return nil
	},
}

func init() {
	auditTailCmd.Flags().IntVarP(&auditTailLimit, "limit", "n", 20, "Number of recent events to show")
}

// Audit query filter flags.
var (
	auditQueryType  string
	auditQueryStart string
	auditQueryEnd   string
	auditQueryLimit int
)

var auditQueryCmd = &cobra.Command{
	Use:   "query",
	Short: "Query audit events with filters",
	Long: `Query the audit log with filters. Supports filtering by event type and
an RFC3339 time range.

Examples:
  forensicd audit query --type tamper_detected
  forensicd audit query --type forensic_capture --start 2026-08-01T00:00:00Z --limit 100`,
	RunE: func(cmd *cobra.Command, args []string) error {
		auditLog, err := openAuditLog()
		if err != nil {
			return err
		}
		defer auditLog.Close()

		events, err := auditLog.Query(audit.QueryParams{
			Type:  auditQueryType,
			Start: auditQueryStart,
			End:   auditQueryEnd,
			Limit: auditQueryLimit,
		})
		if err != nil {
			return fmt.Errorf("audit query failed: %w", err)
		}

		if len(events) == 0 {
			fmt.Println("No matching audit events found.")
			return nil
		}
		for _, e := range events {
			printAuditEvent(e)
		}
		fmt.Printf("\n%d events found.\n", len(events))
		return nil
	},
}

func init() {
	auditQueryCmd.Flags().StringVar(&auditQueryType, "type", "", "Filter by event type")
	auditQueryCmd.Flags().StringVar(&auditQueryStart, "start", "", "Inclusive lower timestamp bound (RFC3339)")
	auditQueryCmd.Flags().StringVar(&auditQueryEnd, "end", "", "Inclusive upper timestamp bound (RFC3339)")
	auditQueryCmd.Flags().IntVar(&auditQueryLimit, "limit", 50, "Maximum number of events to return")
}

// auditTrailCmd shows the full bookkeeping trail for one evidence block.
var auditTrailCmd = &cobra.Command{
	Use:   "trail <content-hash>",
	Short: "Show all audit events for an evidence block",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		auditLog, err := openAuditLog()
		if err != nil {
			return err
		}
		defer auditLog.Close()

		events, err := auditLog.ByEvidenceHash(args[0])
		if err != nil {
			return fmt.Errorf("audit query failed: %w", err)
		}
		if len(events) == 0 {
			fmt.Println("No audit events reference that evidence hash.")
			return nil
		}
		for _, e := range events {
			printAuditEvent(e)
		}
		return nil
	},
}

var auditExportFormat string

var auditExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the audit log",
	Long: `Export the full audit log to stdout in the specified format.
Supported formats: csv, json, jsonl.

Example:
  forensicd audit export --format csv > audit_export.csv`,
	RunE: func(cmd *cobra.Command, args []string) error {
		auditLog, err := openAuditLog()
		if err != nil {
			return err
		}
		defer auditLog.Close()

		return auditLog.Export(os.Stdout, auditExportFormat)
	},
}

func init() {
	auditExportCmd.Flags().StringVar(&auditExportFormat, "format", "jsonl", "Export format: csv, json, jsonl")
}

// openAuditLog opens just the audit database, without the rest of the
// evidence stack.
func openAuditLog() (*audit.Log, error) {
	cfg, err := config.Load(filepath.Join(configDir, "config.yaml"))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	auditLog, err := audit.Open(cfg.Storage.AuditDB)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}
	return auditLog, nil
}

// printAuditEvent formats a single audit event for the terminal.
func printAuditEvent(e audit.Event) {
	severity := e.Severity
	// Uppercase critical events for terminal visibility.
	if severity == audit.SeverityCritical {
		severity = "CRITICAL"
	}
	line := fmt.Sprintf("[%s] %-20s severity=%-8s", e.Timestamp, e.Type, severity)
	if e.Resource != "" {
		line += " resource=" + e.Resource
	}
	if e.Outcome != "" {
		line += " outcome=" + e.Outcome
	}
	if e.EvidenceHash != "" {
		line += " evidence=" + e.EvidenceHash[:12]
	}
	fmt.Println(line)
}

// ============================================================================
// forensicd config — Configuration management
// ============================================================================

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View and edit daemon configuration",
	Long: `Manage the forensicd configuration. The config file lives at
~/.forensicd/config.yaml and defines the listen address, storage
locations, snapshot timeout, sweep interval, and dashboard toggle.`,
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configEditCmd)
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath := filepath.Join(configDir, "config.yaml")
		data, err := os.ReadFile(configPath)
		if err != nil {
			if os.IsNotExist(err) {
				fmt.Printf("No config file found at %s\n", configPath)
				fmt.Println("Run 'forensicd' for first-run setup.")
				return nil
			}
			return fmt.Errorf("failed to read config: %w", err)
		}
		fmt.Println(string(data))
		return nil
	},
}

// configEditCmd opens the config file in the user's preferred editor.
var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Open config in editor",
	Long:  `Open the forensicd config file in your default editor ($EDITOR or $VISUAL).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath := filepath.Join(configDir, "config.yaml")

		editor := os.Getenv("EDITOR")
		if editor == "" {
			editor = os.Getenv("VISUAL")
		}
		if editor == "" {
			if runtime.GOOS == "windows" {
				editor = "notepad"
			} else {
				editor = "vi"
			}
		}

		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			if err := config.WriteDefault(configPath); err != nil {
				return fmt.Errorf("failed to create default config: %w", err)
			}
		}

		// exec.Command resolves the editor via PATH; os.StartProcess
		// needs an absolute path and doesn't search.
		fmt.Printf("[forensicd] Opening %s in %s...\n", configPath, editor)
		editorCmd := exec.Command(editor, configPath)
		editorCmd.Stdin = os.Stdin
		editorCmd.Stdout = os.Stdout
		editorCmd.Stderr = os.Stderr
		return editorCmd.Run()
	},
}

// ============================================================================
// First-run interactive setup
// ============================================================================

// runFirstTimeSetup runs when 'forensicd' is invoked with no subcommand:
//  1. Creates the ~/.forensicd/ directory
//  2. Writes a default config.yaml
//  3. Writes a default rules.yaml with built-in rules enabled
func runFirstTimeSetup(cmd *cobra.Command, args []string) error {
	fmt.Println("=== forensicd — First-Time Setup ===")
	fmt.Println()

	configPath := filepath.Join(configDir, "config.yaml")
	if _, err := os.Stat(configPath); err == nil {
		fmt.Printf("Config already exists at %s\n", configPath)
		fmt.Println("Use 'forensicd start' to start the daemon.")
		fmt.Println("Use 'forensicd config edit' to modify the configuration.")
		return nil
	}

	fmt.Printf("Creating config directory: %s\n", configDir)
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	fmt.Println("Writing default config.yaml...")
	if err := config.WriteDefault(configPath); err != nil {
		return fmt.Errorf("failed to write default config: %w", err)
	}

	rulesPath := filepath.Join(configDir, "rules.yaml")
	fmt.Println("Writing default rules.yaml (built-in classification rules enabled)...")
	if err := compliance.WriteDefaultRules(rulesPath); err != nil {
		return fmt.Errorf("failed to write default rules: %w", err)
	}

	fmt.Println()
	fmt.Println("Setup complete! Next steps:")
	fmt.Println()
	fmt.Println("  1. Start the daemon:")
	fmt.Println("     forensicd start")
	fmt.Println()
	fmt.Println("  2. Capture your first incident:")
	fmt.Println("     forensicd capture --type test_incident --description \"smoke test\"")
	fmt.Println()
	fmt.Println("  3. View the evidence chain:")
	fmt.Println("     http://127.0.0.1:7411/dashboard")
	fmt.Println()
	return nil
}
