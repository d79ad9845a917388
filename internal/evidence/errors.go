package evidence

import "errors"

// Sentinel errors forming the failure taxonomy of the ledger. Callers match
// with errors.Is; the HTTP layer maps them to a "kind" field via Kind.
var (
	// ErrNotFound — unknown block id, hash, or sequence number.
	ErrNotFound = errors.New("evidence not found")

	// ErrDuplicate — insert collided on block id or sequence number.
	// The append lock makes this unreachable in normal operation, so
	// seeing it indicates an integrity bug, not a retryable condition.
	ErrDuplicate = errors.New("duplicate block identity")

	// ErrTamperDetected — a stored payload no longer hashes to its
	// recorded content hash. Recoverable for the service, permanent for
	// the evidence: the block is marked unverified, never repaired.
	ErrTamperDetected = errors.New("evidence tampered")

	// ErrUpstreamUnavailable — an external snapshot or query source timed
	// out or errored. Captures proceed degraded rather than failing.
	ErrUpstreamUnavailable = errors.New("upstream source unavailable")

	// ErrStorageFailure — a disk or database write failed. The enclosing
	// append is rolled back; the chain head never advances past it.
	ErrStorageFailure = errors.New("storage failure")
)

// Kind maps an error to its taxonomy name for structured API error bodies.
// Unrecognized errors map to "internal".
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrDuplicate):
		return "duplicate"
	case errors.Is(err, ErrTamperDetected):
		return "tamper_detected"
	case errors.Is(err, ErrUpstreamUnavailable):
		return "upstream_unavailable"
	case errors.Is(err, ErrStorageFailure):
		return "storage_failure"
	default:
		return "internal"
	}
}
