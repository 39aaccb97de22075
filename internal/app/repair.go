package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/transfa/crypto-ledger-service/internal/domain"
	"github.com/transfa/crypto-ledger-service/internal/store"
)

const DefaultStuckTransactionAge = 6 * time.Hour

// RepairOptions controls a stuck-transaction repair run.
type RepairOptions struct {
	OlderThan time.Duration
	// FailStuck marks transactions that still cannot be resolved as failed.
	FailStuck bool
	DryRun    bool
}

// RepairAction is what a repair run did with one transaction.
type RepairAction string

const (
	RepairResolved     RepairAction = "resolved"
	RepairWouldResolve RepairAction = "would_resolve"
	RepairStuck        RepairAction = "stuck"
	RepairForcedFailed RepairAction = "forced_failed"
	RepairError        RepairAction = "error"
)

// RepairItem is one line of a RepairReport.
type RepairItem struct {
	TransactionID uuid.UUID
	Currency      domain.Currency
	Reference     string
	Age           time.Duration
	Action        RepairAction
	Status        domain.Status
	Rule          Rule
	Err           error
}

// RepairReport summarizes a repair run.
type RepairReport struct {
	Examined     int
	Resolved     int
	Stuck        int
	ForcedFailed int
	Errors       int
	Items        []RepairItem
}

// Repairer re-resolves long-pending transactions outside the scheduler's backoff.
// It is the operator's tool for rows the scheduler left pending after exhausting retries.
type Repairer struct {
	repo   store.Repository
	ledger LedgerProber
	events EventBus
	logger *zap.Logger
	clock  Clock
}

func NewRepairer(repo store.Repository, ledger LedgerProber, events EventBus, logger *zap.Logger) *Repairer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Repairer{
		repo:   repo,
		ledger: ledger,
		events: events,
		logger: logger.With(zap.String("component", "stuck_repair")),
		clock:  SystemClock{},
	}
}

func (r *Repairer) SetClock(clock Clock) {
	if clock != nil {
		r.clock = clock
	}
}

// Repair examines every pending transaction older than opts.OlderThan.
func (r *Repairer) Repair(ctx context.Context, opts RepairOptions) (*RepairReport, error) {
	if opts.OlderThan <= 0 {
		opts.OlderThan = DefaultStuckTransactionAge
	}
	now := r.clock.Now()

	candidates, err := r.repo.ListPendingTransactionsOlderThan(ctx, now.Add(-opts.OlderThan))
	if err != nil {
		return nil, fmt.Errorf("list stuck transactions: %w", err)
	}

	report := &RepairReport{Examined: len(candidates)}
	for _, tx := range candidates {
		item := r.repairOne(ctx, tx, now, opts)
		switch item.Action {
		case RepairResolved, RepairWouldResolve:
			report.Resolved++
		case RepairStuck:
			report.Stuck++
		case RepairForcedFailed:
			report.ForcedFailed++
		case RepairError:
			report.Errors++
		}
		report.Items = append(report.Items, item)
	}

	r.logger.Info("stuck transaction repair finished",
		zap.Bool("dry_run", opts.DryRun),
		zap.Int("examined", report.Examined),
		zap.Int("resolved", report.Resolved),
		zap.Int("stuck", report.Stuck),
		zap.Int("forced_failed", report.ForcedFailed),
		zap.Int("errors", report.Errors),
	)
	return report, nil
}

func (r *Repairer) repairOne(ctx context.Context, tx domain.Transaction, now time.Time, opts RepairOptions) RepairItem {
	item := RepairItem{
		TransactionID: tx.ID,
		Currency:      tx.Currency,
		Reference:     tx.Reference.String(),
		Age:           tx.Age(now),
		Status:        tx.Status,
	}

	input := ResolveInputFor(tx)
	resolution := Resolve(input, now)
	if resolution.NeedsProbe {
		probe, err := r.ledger.Status(ctx, string(tx.Currency), tx.Reference.Value)
		if err != nil {
			item.Err = err
		} else {
			confirmations := probe.Confirmations
			input.Confirmations = &confirmations
			resolution = Resolve(input, now)
		}
	}
	item.Rule = resolution.Rule

	if resolution.Status.IsTerminal() {
		item.Status = resolution.Status
		if opts.DryRun {
			item.Action = RepairWouldResolve
			return item
		}
		if err := r.repo.UpdateTransactionStatus(ctx, tx.ID, resolution.Status); err != nil {
			return r.failedItem(item, err)
		}
		item.Action = RepairResolved
		r.publish(ctx, tx, resolution.Status, now)
		return item
	}

	if !opts.FailStuck || opts.DryRun {
		item.Action = RepairStuck
		return item
	}

	reason := fmt.Sprintf("stuck pending for %s without ledger finality; failed by operator repair", item.Age.Round(time.Minute))
	if err := r.repo.FailTransaction(ctx, tx.ID, reason); err != nil {
		return r.failedItem(item, err)
	}
	item.Action = RepairForcedFailed
	item.Status = domain.StatusFailed
	r.logger.Warn("stuck transaction forced to failed",
		zap.String("transaction_id", tx.ID.String()),
		zap.String("reference", item.Reference),
		zap.Duration("age", item.Age),
	)
	r.publish(ctx, tx, domain.StatusFailed, now)
	return item
}

func (r *Repairer) failedItem(item RepairItem, err error) RepairItem {
	if errors.Is(err, store.ErrStatusConflict) {
		item.Action = RepairResolved
		item.Err = nil
		return item
	}
	item.Action = RepairError
	item.Err = err
	r.logger.Error("repair update failed", zap.String("transaction_id", item.TransactionID.String()), zap.Error(err))
	return item
}

func (r *Repairer) publish(ctx context.Context, tx domain.Transaction, status domain.Status, now time.Time) {
	event := domain.TransitionEvent{
		TransactionID:  tx.ID,
		PreviousStatus: tx.Status,
		NewStatus:      status,
		Currency:       tx.Currency,
		Reference:      tx.Reference.String(),
		Timestamp:      now,
	}
	if err := r.events.PublishTransition(ctx, event); err != nil {
		r.logger.Error("failed to publish transition event", zap.String("transaction_id", tx.ID.String()), zap.Error(err))
	}
}
