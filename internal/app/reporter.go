package app

import (
	"time"

	"go.uber.org/zap"
)

// TickReporter receives progress from the scheduler. The service logs through zap;
// the operator CLI renders the same callbacks to the console.
type TickReporter interface {
	TickStarted(at time.Time, pending int)
	TransactionChecked(result CheckResult)
	TickFinished(summary TickSummary)
}

// LogReporter is the structured-logging TickReporter used by the service.
type LogReporter struct {
	logger *zap.Logger
}

func NewLogReporter(logger *zap.Logger) *LogReporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogReporter{logger: logger.With(zap.String("component", "reconcile_reporter"))}
}

func (r *LogReporter) TickStarted(at time.Time, pending int) {
	r.logger.Debug("reconciliation tick started", zap.Time("at", at), zap.Int("pending", pending))
}

func (r *LogReporter) TransactionChecked(result CheckResult) {
	fields := []zap.Field{
		zap.String("transaction_id", result.TransactionID.String()),
		zap.String("currency", string(result.Currency)),
		zap.String("outcome", string(result.Outcome)),
	}
	if result.Rule != 0 {
		fields = append(fields, zap.String("rule", result.Rule.String()))
	}
	if result.Confirmations != nil {
		fields = append(fields, zap.Int64("confirmations", *result.Confirmations))
	}
	if result.Err != nil {
		fields = append(fields, zap.Error(result.Err))
	}

	switch result.Outcome {
	case OutcomeTransitioned:
		r.logger.Info("transaction finalized", append(fields, zap.String("status", string(result.NewStatus)))...)
	case OutcomeProbeFailed, OutcomeUpdateFailed:
		r.logger.Warn("transaction check failed", fields...)
	default:
		r.logger.Debug("transaction checked", fields...)
	}
}

func (r *LogReporter) TickFinished(summary TickSummary) {
	r.logger.Info("reconciliation tick finished",
		zap.Int("pending", summary.Pending),
		zap.Int("skipped", summary.Skipped),
		zap.Int("unchanged", summary.Unchanged),
		zap.Int("transitioned", summary.Transitioned),
		zap.Int("probe_failures", summary.ProbeFailures),
		zap.Int("errors", summary.Errors),
		zap.Duration("duration", summary.Duration),
	)
}

type nopReporter struct{}

func (nopReporter) TickStarted(time.Time, int)     {}
func (nopReporter) TransactionChecked(CheckResult) {}
func (nopReporter) TickFinished(TickSummary)       {}
