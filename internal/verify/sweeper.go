package verify

import (
	"context"
	"log/slog"
	"time"

	"github.com/forensicd/forensicd/internal/collector"
)

// Sweeper periodically verifies the full chain in the background. When a
// sweep finds tampering, the finding itself is captured as a new
// incident so the detection is sealed into the evidence record.
type Sweeper struct {
	service   *Service
	collector *collector.Collector
	interval  time.Duration

	// alerted suppresses repeat incidents for the same break; it resets
	// once a sweep passes again.
	alerted bool
}

// NewSweeper builds a sweeper running a full chain verification every
// interval.
func NewSweeper(service *Service, c *collector.Collector, interval time.Duration) *Sweeper {
	return &Sweeper{service: service, collector: c, interval: interval}
}

// Run sweeps until ctx is cancelled. An immediate sweep runs on start so
// a daemon restart re-checks the chain right away.
func (s *Sweeper) Run(ctx context.Context) {
	slog.Info("integrity sweeper started", "interval", s.interval)
	s.sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("integrity sweeper stopped")
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	res, err := s.service.VerifyChain()
	if err != nil {
		slog.Error("integrity sweep failed", "error", err)
		return
	}

	if res.Valid {
		s.alerted = false
		slog.Debug("integrity sweep passed", "checked", res.Checked)
		return
	}

	if s.alerted {
		return
	}
	s.alerted = true

	if _, err := s.collector.Capture(ctx, collector.Request{
		Type:        "chain_integrity_violation",
		Description: "background integrity sweep detected evidence tampering",
		Context: map[string]any{
			"broken_at": *res.BrokenAt,
			"reason":    res.Reason,
			"checked":   res.Checked,
		},
	}); err != nil {
		slog.Error("failed to capture integrity violation incident", "error", err)
		s.alerted = false
	}
}
