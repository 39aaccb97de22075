/**
 * @description
 * The reconciliation scheduler. On a fixed interval it loads every pending transaction,
 * applies per-transaction backoff, resolves each one (asking the ledger only for real
 * references), persists status changes and publishes transition events.
 *
 * @notes
 * - Exactly one scheduler runs per process. Start and Stop own the cron lifecycle and
 *   ticks never overlap.
 * - Transactions inside a tick are processed sequentially to respect ledger rate limits.
 * - Probe failures resolve fail-open to pending. The retry budget only stops backoff
 *   skipping; nothing here ever forces a transaction terminal.
 *
 * @dependencies
 * - github.com/robfig/cron/v3: interval scheduling with panic recovery.
 * - go.uber.org/zap: structured logging.
 */
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/transfa/crypto-ledger-service/internal/domain"
	"github.com/transfa/crypto-ledger-service/internal/store"
	"github.com/transfa/crypto-ledger-service/pkg/ledgerclient"
)

var ErrSchedulerRunning = errors.New("reconciliation scheduler already running")

const (
	DefaultTickInterval = 2 * time.Minute
	DefaultMaxRetries   = 5
)

// LedgerProber looks up confirmations for a real ledger reference.
type LedgerProber interface {
	Status(ctx context.Context, currency, reference string) (*ledgerclient.StatusResult, error)
}

// EventBus receives terminal transitions and operator alerts.
type EventBus interface {
	PublishTransition(ctx context.Context, event domain.TransitionEvent) error
	PublishPartialTransfer(ctx context.Context, alert domain.PartialTransferAlert) error
}

// SchedulerConfig holds the reconciliation tunables.
type SchedulerConfig struct {
	TickInterval time.Duration
	MaxRetries   int
}

// Outcome classifies what a tick did with one pending transaction.
type Outcome string

const (
	OutcomeSkipped      Outcome = "skipped"
	OutcomeUnchanged    Outcome = "unchanged"
	OutcomeTransitioned Outcome = "transitioned"
	OutcomeProbeFailed  Outcome = "probe_failed"
	OutcomeUpdateFailed Outcome = "update_failed"
)

// CheckResult describes the handling of one transaction within a tick.
type CheckResult struct {
	TransactionID  uuid.UUID
	Currency       domain.Currency
	Outcome        Outcome
	Rule           Rule
	PreviousStatus domain.Status
	NewStatus      domain.Status
	Confirmations  *int64
	RetryCount     int
	Err            error
}

// TickSummary aggregates one reconciliation tick.
type TickSummary struct {
	StartedAt     time.Time
	Pending       int
	Skipped       int
	Unchanged     int
	Transitioned  int
	ProbeFailures int
	Errors        int
	Duration      time.Duration
}

// Scheduler manages the reconciliation loop.
type Scheduler struct {
	repo     store.Repository
	ledger   LedgerProber
	events   EventBus
	logger   *zap.Logger
	config   SchedulerConfig
	clock    Clock
	state    StateStore
	reporter TickReporter
	metrics  *Metrics

	lifecycleMu sync.Mutex
	cron        *cron.Cron

	tickMu sync.Mutex
}

// NewScheduler creates a new scheduler instance. Zero config values fall back to defaults.
func NewScheduler(repo store.Repository, ledger LedgerProber, events EventBus, logger *zap.Logger, cfg SchedulerConfig) *Scheduler {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "reconcile_scheduler"))

	return &Scheduler{
		repo:     repo,
		ledger:   ledger,
		events:   events,
		logger:   logger,
		config:   cfg,
		clock:    SystemClock{},
		state:    NewMemoryStateStore(),
		reporter: NewLogReporter(logger),
	}
}

// SetClock replaces the time source.
func (s *Scheduler) SetClock(clock Clock) {
	if clock != nil {
		s.clock = clock
	}
}

// SetStateStore replaces the in-memory backoff store, e.g. with RedisStateStore.
func (s *Scheduler) SetStateStore(state StateStore) {
	if state != nil {
		s.state = state
	}
}

// SetReporter replaces the tick presentation strategy.
func (s *Scheduler) SetReporter(reporter TickReporter) {
	if reporter == nil {
		reporter = nopReporter{}
	}
	s.reporter = reporter
}

func (s *Scheduler) SetMetrics(metrics *Metrics) {
	s.metrics = metrics
}

// Config returns the effective configuration.
func (s *Scheduler) Config() SchedulerConfig {
	return s.config
}

// Start begins periodic ticks. The first tick fires one interval after Start.
func (s *Scheduler) Start() error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if s.cron != nil {
		return ErrSchedulerRunning
	}

	cronLogger := cron.PrintfLogger(zap.NewStdLog(s.logger))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)))
	c.Schedule(cron.Every(s.config.TickInterval), cron.FuncJob(s.tick))
	c.Start()
	s.cron = c

	s.logger.Info("scheduled reconciliation job",
		zap.Duration("interval", s.config.TickInterval),
		zap.Int("max_retries", s.config.MaxRetries),
	)
	return nil
}

// Stop gracefully stops the scheduler. The returned context is done once a running
// tick has finished.
func (s *Scheduler) Stop() context.Context {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if s.cron == nil {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return ctx
	}
	ctx := s.cron.Stop()
	s.cron = nil
	return ctx
}

// Running reports whether Start has been called without a matching Stop.
func (s *Scheduler) Running() bool {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()
	return s.cron != nil
}

func (s *Scheduler) tick() {
	if _, err := s.RunOnce(context.Background()); err != nil {
		s.logger.Error("reconciliation tick failed", zap.Error(err))
	}
}

// RunOnce executes one reconciliation tick synchronously.
func (s *Scheduler) RunOnce(ctx context.Context) (TickSummary, error) {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	now := s.clock.Now()
	summary := TickSummary{StartedAt: now}

	pending, err := s.repo.ListPendingTransactions(ctx)
	if err != nil {
		return summary, fmt.Errorf("list pending transactions: %w", err)
	}
	summary.Pending = len(pending)
	s.reporter.TickStarted(now, len(pending))

	live := make(map[uuid.UUID]struct{}, len(pending))
	for _, tx := range pending {
		live[tx.ID] = struct{}{}

		result := s.check(ctx, tx, now)
		switch result.Outcome {
		case OutcomeSkipped:
			summary.Skipped++
		case OutcomeUnchanged:
			summary.Unchanged++
		case OutcomeTransitioned:
			summary.Transitioned++
		case OutcomeProbeFailed:
			summary.ProbeFailures++
		case OutcomeUpdateFailed:
			summary.Errors++
		}
		s.metrics.observeOutcome(result.Outcome)
		s.reporter.TransactionChecked(result)
	}

	if err := s.state.Retain(ctx, live); err != nil {
		s.logger.Warn("failed to prune reconciliation state", zap.Error(err))
	}

	summary.Duration = s.clock.Now().Sub(now)
	s.metrics.observeTick(summary.Duration)
	s.reporter.TickFinished(summary)
	return summary, nil
}

func (s *Scheduler) check(ctx context.Context, tx domain.Transaction, now time.Time) CheckResult {
	result := CheckResult{
		TransactionID:  tx.ID,
		Currency:       tx.Currency,
		PreviousStatus: tx.Status,
		NewStatus:      tx.Status,
	}

	state, seen, err := s.state.Get(ctx, tx.ID)
	if err != nil {
		s.logger.Warn("failed to read reconciliation state; treating as never checked",
			zap.String("transaction_id", tx.ID.String()),
			zap.Error(err),
		)
		state, seen = ReconciliationState{}, false
	}
	result.RetryCount = state.RetryCount

	if seen && now.Sub(state.LastCheckedAt) < s.config.TickInterval && state.RetryCount < s.config.MaxRetries {
		result.Outcome = OutcomeSkipped
		return result
	}

	input := ResolveInputFor(tx)
	resolution := Resolve(input, now)

	if resolution.NeedsProbe {
		probe, err := s.ledger.Status(ctx, string(tx.Currency), tx.Reference.Value)
		if err != nil {
			state.RetryCount++
			state.LastCheckedAt = now
			s.putState(ctx, tx.ID, state)
			s.metrics.observeProbeFailure(tx.Currency)

			if state.RetryCount == s.config.MaxRetries {
				s.logger.Error("ledger probe retry budget exhausted; transaction stays pending",
					zap.String("transaction_id", tx.ID.String()),
					zap.String("reference", tx.Reference.Value),
					zap.Int("retry_count", state.RetryCount),
					zap.Error(err),
				)
			}

			result.Outcome = OutcomeProbeFailed
			result.Rule = resolution.Rule
			result.RetryCount = state.RetryCount
			result.Err = err
			return result
		}

		// The retry budget counts consecutive failures only.
		state.RetryCount = 0
		result.RetryCount = 0

		confirmations := probe.Confirmations
		input.Confirmations = &confirmations
		resolution = Resolve(input, now)
	}

	result.Rule = resolution.Rule
	result.Confirmations = resolution.Confirmations

	if resolution.Status == tx.Status {
		state.LastCheckedAt = now
		s.putState(ctx, tx.ID, state)
		result.Outcome = OutcomeUnchanged
		return result
	}

	if err := s.repo.UpdateTransactionStatus(ctx, tx.ID, resolution.Status); err != nil {
		if errors.Is(err, store.ErrStatusConflict) || errors.Is(err, store.ErrTransactionNotFound) {
			// Finalized or removed outside the scheduler since the pending list was read.
			s.deleteState(ctx, tx.ID)
			result.Outcome = OutcomeUnchanged
			result.Err = err
			return result
		}
		result.Outcome = OutcomeUpdateFailed
		result.Err = err
		return result
	}

	s.deleteState(ctx, tx.ID)
	result.Outcome = OutcomeTransitioned
	result.NewStatus = resolution.Status
	s.metrics.observeTransition(tx.Currency, resolution.Status, resolution.Rule)

	event := domain.TransitionEvent{
		TransactionID:  tx.ID,
		PreviousStatus: tx.Status,
		NewStatus:      resolution.Status,
		Currency:       tx.Currency,
		Reference:      tx.Reference.String(),
		Timestamp:      now,
	}
	if err := s.events.PublishTransition(ctx, event); err != nil {
		s.logger.Error("failed to publish transition event",
			zap.String("transaction_id", tx.ID.String()),
			zap.String("new_status", string(resolution.Status)),
			zap.Error(err),
		)
	}
	return result
}

func (s *Scheduler) putState(ctx context.Context, id uuid.UUID, state ReconciliationState) {
	if err := s.state.Put(ctx, id, state); err != nil {
		s.logger.Warn("failed to store reconciliation state", zap.String("transaction_id", id.String()), zap.Error(err))
	}
}

func (s *Scheduler) deleteState(ctx context.Context, id uuid.UUID) {
	if err := s.state.Delete(ctx, id); err != nil {
		s.logger.Warn("failed to drop reconciliation state", zap.String("transaction_id", id.String()), zap.Error(err))
	}
}
