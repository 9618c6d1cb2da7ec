package metrics

import (
	"time"
)

// MeasureStoreOp wraps a settlement-store operation with timing
// instrumentation. Usage:
//
//	defer metrics.MeasureStoreOp(m, "get_by_settlement_id", "postgres")()
func MeasureStoreOp(m *Metrics, operation, backend string) func() {
	if m == nil {
		return func() {}
	}
	start := time.Now()
	return func() {
		m.ObserveStoreOperation(operation, backend, time.Since(start))
	}
}

// RecordStoreOp records a settlement-store operation duration directly, when
// timing was already captured by the caller.
func RecordStoreOp(m *Metrics, operation, backend string, duration time.Duration) {
	if m == nil {
		return
	}
	m.ObserveStoreOperation(operation, backend, duration)
}
