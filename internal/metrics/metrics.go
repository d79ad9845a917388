package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	IncidentsCaptured = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "forensic_incidents_total",
		Help: "Total number of incidents captured, labelled by incident type.",
	}, []string{"type"})

	CapturesDegraded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "forensic_captures_degraded_total",
		Help: "Total number of captures recorded with a degraded system snapshot.",
	})

	ChainLength = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "forensic_chain_length",
		Help: "Current number of blocks in the evidence chain.",
	})

	EvidenceSizeBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "forensic_evidence_size_bytes",
		Help: "Total size of stored evidence payloads in bytes.",
	})

	CaptureDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "forensic_capture_duration_seconds",
		Help:    "Time taken to snapshot, hash and record an incident.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	})

	Verifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "forensic_verifications_total",
		Help: "Total number of verification runs, labelled by outcome.",
	}, []string{"outcome"})

	TamperDetected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "forensic_tamper_detected_total",
		Help: "Total number of tamper detections across blocks and chain sweeps.",
	})

	ChainIntegrity = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "forensic_chain_integrity",
		Help: "1 when the last full chain verification passed, 0 otherwise.",
	})
)
