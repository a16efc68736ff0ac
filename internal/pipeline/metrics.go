package pipeline

import "sync/atomic"

// Metrics counts pipeline outcomes. LedgerFailures in particular is the
// audit-gap signal: a non-zero value means authorization replies were
// returned for transactions that never reached durable storage.
type Metrics struct {
	Processed          atomic.Int64
	Approved           atomic.Int64
	Declined           atomic.Int64
	DecodeErrors       atomic.Int64
	ValidationErrors   atomic.Int64
	SettlementFailures atomic.Int64
	LedgerFailures     atomic.Int64
}

// MetricsSnapshot is a point-in-time copy, served by the metrics endpoint.
type MetricsSnapshot struct {
	Processed          int64 `json:"processed"`
	Approved           int64 `json:"approved"`
	Declined           int64 `json:"declined"`
	DecodeErrors       int64 `json:"decode_errors"`
	ValidationErrors   int64 `json:"validation_errors"`
	SettlementFailures int64 `json:"settlement_failures"`
	LedgerFailures     int64 `json:"ledger_failures"`
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		Processed:          m.Processed.Load(),
		Approved:           m.Approved.Load(),
		Declined:           m.Declined.Load(),
		DecodeErrors:       m.DecodeErrors.Load(),
		ValidationErrors:   m.ValidationErrors.Load(),
		SettlementFailures: m.SettlementFailures.Load(),
		LedgerFailures:     m.LedgerFailures.Load(),
	}
}
