package audit

import (
	"context"

	"trustpipe/internal/logger"
	"trustpipe/internal/verification"
)

// LogSink is the fallback audit sink for deployments without PostgreSQL.
// Verdicts still land in the structured log stream, where retention is the
// log platform's problem.
type LogSink struct {
	logger logger.Logger
}

func NewLogSink(log logger.Logger) *LogSink {
	return &LogSink{logger: log}
}

func (s *LogSink) Record(ctx context.Context, entry verification.AuditEntry) error {
	s.logger.InfowCtx(ctx, "Verification audit entry",
		"chain_id", entry.ChainID,
		"event_id", entry.EventID,
		"lease_id", entry.LeaseID,
		"claimed_hash", entry.ClaimedHash,
		"authorized", entry.Authorized,
		"alert", entry.Alert,
		"anomaly_flags", entry.AnomalyFlags,
	)
	return nil
}
