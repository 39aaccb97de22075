/**
 * @description
 * The transaction submitter. It validates a user-initiated transfer, broadcasts it to
 * the ledger and records exactly one transaction row whose reference carries the
 * provenance of the outcome: a real ledger reference, a synthetic success, or a
 * synthetic failure.
 *
 * @notes
 * - Ethereum always records a synthetic success, even when the broadcast failed, so the
 *   recipient side proceeds. Money may be reported as moving when the ledger call did
 *   not go through. This is product behavior pending review, not an accident.
 * - Bitcoin broadcast failures are recorded as failed immediately.
 * - Compound transfers are two independent submissions. A failed second leg does not
 *   reverse the first; the caller gets one PartialTransferError and operators are alerted.
 */
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/transfa/crypto-ledger-service/internal/domain"
	"github.com/transfa/crypto-ledger-service/internal/store"
	"github.com/transfa/crypto-ledger-service/pkg/ledgerclient"
)

var (
	ErrUnsupportedCurrency = errors.New("currency is not settled on the ledger")
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrBroadcastFailed     = errors.New("ledger broadcast failed")
)

// Broadcaster sends a transfer to the ledger.
type Broadcaster interface {
	Broadcast(ctx context.Context, currency, from, to string, amount decimal.Decimal) (*ledgerclient.BroadcastResult, error)
}

// AddressValidator checks both ends of a transfer before any network call.
type AddressValidator interface {
	ValidateTransfer(currency domain.Currency, from, to string) error
}

// PartialTransferError reports a compound transfer whose later leg failed after an
// earlier leg was committed. Committed legs are not reversed.
type PartialTransferError struct {
	GroupID             uuid.UUID
	Committed           []uuid.UUID
	FailedLeg           domain.TransferKind
	FailedTransactionID *uuid.UUID
	Cause               error
}

func (e *PartialTransferError) Error() string {
	return fmt.Sprintf("compound transfer %s partially failed: %s leg: %v (committed legs: %d, not reversed)",
		e.GroupID, e.FailedLeg, e.Cause, len(e.Committed))
}

func (e *PartialTransferError) Unwrap() error {
	return e.Cause
}

// Submitter orchestrates outbound transfers.
type Submitter struct {
	repo       store.Repository
	ledger     Broadcaster
	events     EventBus
	validator  AddressValidator
	logger     *zap.Logger
	clock      Clock
	simulation bool
	metrics    *Metrics
}

// NewSubmitter creates a new Submitter.
func NewSubmitter(repo store.Repository, ledger Broadcaster, events EventBus, validator AddressValidator, logger *zap.Logger) *Submitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Submitter{
		repo:      repo,
		ledger:    ledger,
		events:    events,
		validator: validator,
		logger:    logger.With(zap.String("component", "transaction_submitter")),
		clock:     SystemClock{},
	}
}

func (s *Submitter) SetClock(clock Clock) {
	if clock != nil {
		s.clock = clock
	}
}

// SetSimulationMode disables broadcasting. Every transfer records a synthetic success.
func (s *Submitter) SetSimulationMode(enabled bool) {
	s.simulation = enabled
}

func (s *Submitter) SetMetrics(metrics *Metrics) {
	s.metrics = metrics
}

// Submit validates, broadcasts and records one transfer.
// A Bitcoin broadcast failure is returned as a failed transaction with a nil error.
func (s *Submitter) Submit(ctx context.Context, req domain.TransferRequest) (*domain.Transaction, error) {
	if err := s.validate(req.Currency, req.FromAddress, req.ToAddress, req.Amount, req.ConvertedAmount); err != nil {
		return nil, err
	}
	req.Kind = domain.TransferKindSingle
	req.GroupID = nil
	return s.record(ctx, req)
}

// SubmitCompound records the principal leg and then the commission leg under one group id.
func (s *Submitter) SubmitCompound(ctx context.Context, req domain.CompoundTransferRequest) (*domain.CompoundTransferResult, error) {
	if err := s.validate(req.Currency, req.FromAddress, req.Principal.ToAddress, req.Principal.Amount, req.Principal.ConvertedAmount); err != nil {
		return nil, fmt.Errorf("principal leg: %w", err)
	}
	if err := s.validate(req.Currency, req.FromAddress, req.Commission.ToAddress, req.Commission.Amount, req.Commission.ConvertedAmount); err != nil {
		return nil, fmt.Errorf("commission leg: %w", err)
	}

	groupID := uuid.New()
	result := &domain.CompoundTransferResult{GroupID: groupID}

	principal, err := s.record(ctx, req.LegRequest(req.Principal, domain.TransferKindPrincipal, groupID))
	if err != nil {
		return result, fmt.Errorf("principal leg: %w", err)
	}
	result.Principal = principal
	if principal.Status == domain.StatusFailed {
		return result, fmt.Errorf("principal leg: %w: %s", ErrBroadcastFailed, failureReason(principal))
	}

	commission, err := s.record(ctx, req.LegRequest(req.Commission, domain.TransferKindCommission, groupID))
	if err == nil && commission.Status != domain.StatusFailed {
		result.Commission = commission
		return result, nil
	}

	partial := &PartialTransferError{
		GroupID:   groupID,
		Committed: []uuid.UUID{principal.ID},
		FailedLeg: domain.TransferKindCommission,
		Cause:     err,
	}
	if err == nil {
		result.Commission = commission
		id := commission.ID
		partial.FailedTransactionID = &id
		partial.Cause = fmt.Errorf("%w: %s", ErrBroadcastFailed, failureReason(commission))
	}
	s.flagPartialFailure(ctx, partial)
	return result, partial
}

// validate rejects anything the ledger or the store would refuse or round.
func (s *Submitter) validate(currency domain.Currency, from, to string, amount decimal.Decimal, converted *decimal.Decimal) error {
	if !currency.IsCrypto() {
		return fmt.Errorf("%w: %q", ErrUnsupportedCurrency, currency)
	}
	if !amount.IsPositive() {
		return fmt.Errorf("%w: %s must be greater than zero", ErrInvalidAmount, amount.String())
	}
	if !domain.FitsScale(amount, currency.Decimals()) {
		return fmt.Errorf("%w: %s has more than %d decimal places for %s", ErrInvalidAmount, amount.String(), currency.Decimals(), currency)
	}
	if converted != nil && !domain.FitsScale(*converted, domain.AmountScale) {
		return fmt.Errorf("%w: converted amount %s has more than %d decimal places", ErrInvalidAmount, converted.String(), domain.AmountScale)
	}
	return s.validator.ValidateTransfer(currency, from, to)
}

func (s *Submitter) record(ctx context.Context, req domain.TransferRequest) (*domain.Transaction, error) {
	now := s.clock.Now()
	kind := req.Kind
	if kind == "" {
		kind = domain.TransferKindSingle
	}

	tx := &domain.Transaction{
		ID:              uuid.New(),
		GroupID:         req.GroupID,
		Kind:            kind,
		FromAccount:     req.FromAccount,
		ToAccount:       req.ToAccount,
		FromAddress:     req.FromAddress,
		ToAddress:       req.ToAddress,
		Amount:          req.Amount,
		ConvertedAmount: req.ConvertedAmount,
		Currency:        req.Currency,
		Status:          domain.StatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if s.simulation {
		tx.Reference = domain.SimulatedSuccessReference(req.Currency, now)
	} else {
		s.applyBroadcast(ctx, tx)
	}

	if err := s.repo.CreateTransaction(ctx, tx); err != nil {
		s.logger.Error("failed to record transaction",
			zap.String("transaction_id", tx.ID.String()),
			zap.String("currency", string(tx.Currency)),
			zap.String("reference", tx.Reference.String()),
			zap.Error(err),
		)
		return nil, fmt.Errorf("record transaction: %w", err)
	}
	s.metrics.observeSubmission(tx)

	s.logger.Info("transaction recorded",
		zap.String("transaction_id", tx.ID.String()),
		zap.String("currency", string(tx.Currency)),
		zap.String("kind", string(tx.Kind)),
		zap.String("reference_kind", string(tx.Reference.Kind)),
		zap.String("status", string(tx.Status)),
	)

	if tx.Status.IsTerminal() {
		event := domain.TransitionEvent{
			TransactionID:  tx.ID,
			PreviousStatus: domain.StatusPending,
			NewStatus:      tx.Status,
			Currency:       tx.Currency,
			Reference:      tx.Reference.String(),
			Timestamp:      now,
		}
		if err := s.events.PublishTransition(ctx, event); err != nil {
			s.logger.Error("failed to publish transition event", zap.String("transaction_id", tx.ID.String()), zap.Error(err))
		}
	}
	return tx, nil
}

// applyBroadcast calls the ledger and sets the reference and status on tx.
func (s *Submitter) applyBroadcast(ctx context.Context, tx *domain.Transaction) {
	res, err := s.ledger.Broadcast(ctx, string(tx.Currency), tx.FromAddress, tx.ToAddress, tx.Amount)
	if err == nil && (res == nil || res.Reference == "") {
		err = fmt.Errorf("%w: ledger returned no reference", ErrBroadcastFailed)
	}

	switch tx.Currency {
	case domain.CurrencyETH:
		tx.Reference = domain.SimulatedSuccessReference(tx.Currency, tx.CreatedAt)
		if err != nil {
			s.logger.Warn("ethereum broadcast failed; recording synthetic success",
				zap.String("transaction_id", tx.ID.String()),
				zap.String("reference", tx.Reference.Value),
				zap.Error(err),
			)
			return
		}
		ledgerID := res.Reference
		tx.LedgerBroadcastID = &ledgerID

	default:
		if err != nil {
			reason := err.Error()
			tx.Reference = domain.SimulatedFailureReference(tx.Currency, tx.CreatedAt)
			tx.Status = domain.StatusFailed
			tx.FailureReason = &reason
			s.logger.Warn("broadcast failed; recording synthetic failure",
				zap.String("transaction_id", tx.ID.String()),
				zap.String("currency", string(tx.Currency)),
				zap.String("reference", tx.Reference.Value),
				zap.Error(err),
			)
			return
		}
		tx.Reference = domain.RealReference(res.Reference)
	}
}

func (s *Submitter) flagPartialFailure(ctx context.Context, partial *PartialTransferError) {
	s.metrics.observePartialFailure()
	s.logger.Error("compound transfer partially failed; committed legs were not reversed",
		zap.String("group_id", partial.GroupID.String()),
		zap.String("failed_leg", string(partial.FailedLeg)),
		zap.Int("committed_legs", len(partial.Committed)),
		zap.Error(partial.Cause),
	)

	alert := domain.PartialTransferAlert{
		GroupID:       partial.GroupID,
		CommittedLegs: partial.Committed,
		FailedLeg:     string(partial.FailedLeg),
		FailedLegTxID: partial.FailedTransactionID,
		Reason:        partial.Cause.Error(),
		Timestamp:     s.clock.Now(),
	}
	if err := s.events.PublishPartialTransfer(ctx, alert); err != nil {
		s.logger.Error("failed to publish partial transfer alert", zap.String("group_id", partial.GroupID.String()), zap.Error(err))
	}
}

func failureReason(tx *domain.Transaction) string {
	if tx.FailureReason == nil {
		return "unknown"
	}
	return *tx.FailureReason
}
