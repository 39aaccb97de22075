package app

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/transfa/crypto-ledger-service/internal/domain"
	"github.com/transfa/crypto-ledger-service/internal/store"
	"github.com/transfa/crypto-ledger-service/pkg/ledgerclient"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

type memoryRepoStub struct {
	mu        sync.Mutex
	rows      map[uuid.UUID]domain.Transaction
	order     []uuid.UUID
	createErr func(tx *domain.Transaction) error
	updateErr error
	creates   int
	updates   []statusUpdate
}

type statusUpdate struct {
	ID     uuid.UUID
	Status domain.Status
}

func newMemoryRepoStub() *memoryRepoStub {
	return &memoryRepoStub{rows: make(map[uuid.UUID]domain.Transaction)}
}

func (r *memoryRepoStub) seed(tx domain.Transaction) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows[tx.ID] = tx
	r.order = append(r.order, tx.ID)
}

func (r *memoryRepoStub) get(id uuid.UUID) domain.Transaction {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rows[id]
}

func (r *memoryRepoStub) all() []domain.Transaction {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Transaction, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.rows[id])
	}
	return out
}

func (r *memoryRepoStub) CreateTransaction(ctx context.Context, tx *domain.Transaction) error {
	if r.createErr != nil {
		if err := r.createErr(tx); err != nil {
			return err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.rows[tx.ID]; exists {
		return store.ErrDuplicateTransaction
	}
	r.creates++
	r.rows[tx.ID] = *tx
	r.order = append(r.order, tx.ID)
	return nil
}

func (r *memoryRepoStub) FindTransactionByID(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx, ok := r.rows[id]
	if !ok {
		return nil, store.ErrTransactionNotFound
	}
	return &tx, nil
}

func (r *memoryRepoStub) ListTransactionsByGroup(ctx context.Context, groupID uuid.UUID) ([]domain.Transaction, error) {
	var out []domain.Transaction
	for _, tx := range r.all() {
		if tx.GroupID != nil && *tx.GroupID == groupID {
			out = append(out, tx)
		}
	}
	return out, nil
}

func (r *memoryRepoStub) ListPendingTransactions(ctx context.Context) ([]domain.Transaction, error) {
	var out []domain.Transaction
	for _, tx := range r.all() {
		if tx.Status == domain.StatusPending {
			out = append(out, tx)
		}
	}
	return out, nil
}

func (r *memoryRepoStub) ListPendingTransactionsOlderThan(ctx context.Context, cutoff time.Time) ([]domain.Transaction, error) {
	var out []domain.Transaction
	for _, tx := range r.all() {
		if tx.Status == domain.StatusPending && tx.CreatedAt.Before(cutoff) {
			out = append(out, tx)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *memoryRepoStub) UpdateTransactionStatus(ctx context.Context, id uuid.UUID, status domain.Status) error {
	if r.updateErr != nil {
		return r.updateErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	tx, ok := r.rows[id]
	if !ok {
		return store.ErrTransactionNotFound
	}
	if !tx.Status.CanTransitionTo(status) {
		return store.ErrStatusConflict
	}
	r.updates = append(r.updates, statusUpdate{ID: id, Status: status})
	tx.Status = status
	r.rows[id] = tx
	return nil
}

func (r *memoryRepoStub) FailTransaction(ctx context.Context, id uuid.UUID, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx, ok := r.rows[id]
	if !ok {
		return store.ErrTransactionNotFound
	}
	if tx.Status != domain.StatusPending {
		return store.ErrStatusConflict
	}
	r.updates = append(r.updates, statusUpdate{ID: id, Status: domain.StatusFailed})
	tx.Status = domain.StatusFailed
	tx.FailureReason = &reason
	r.rows[id] = tx
	return nil
}

func (r *memoryRepoStub) updateCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.updates)
}

type ledgerStub struct {
	broadcastRef   string
	broadcastErr   error
	emptyResult    bool
	failFromCall   int
	broadcastCalls int

	confirmations map[string]int64
	statusErr     error
	statusCalls   int
}

func (l *ledgerStub) Broadcast(ctx context.Context, currency, from, to string, amount decimal.Decimal) (*ledgerclient.BroadcastResult, error) {
	l.broadcastCalls++
	if l.broadcastErr != nil && l.broadcastCalls >= l.failFromCall {
		return nil, l.broadcastErr
	}
	if l.emptyResult {
		return nil, nil
	}
	return &ledgerclient.BroadcastResult{Reference: l.broadcastRef, Pending: true}, nil
}

func (l *ledgerStub) Status(ctx context.Context, currency, reference string) (*ledgerclient.StatusResult, error) {
	l.statusCalls++
	if l.statusErr != nil {
		return nil, l.statusErr
	}
	return &ledgerclient.StatusResult{Confirmations: l.confirmations[reference], RawStatus: "confirming"}, nil
}

type eventBusStub struct {
	mu          sync.Mutex
	transitions []domain.TransitionEvent
	alerts      []domain.PartialTransferAlert
	err         error
}

func (e *eventBusStub) PublishTransition(ctx context.Context, event domain.TransitionEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.transitions = append(e.transitions, event)
	return e.err
}

func (e *eventBusStub) PublishPartialTransfer(ctx context.Context, alert domain.PartialTransferAlert) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.alerts = append(e.alerts, alert)
	return e.err
}

var errLedgerDown = errors.New("ledger unavailable")

var baseTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func pendingTx(currency domain.Currency, ref domain.Reference, createdAt time.Time) domain.Transaction {
	return domain.Transaction{
		ID:          uuid.New(),
		Kind:        domain.TransferKindSingle,
		FromAddress: "from",
		ToAddress:   "to",
		Amount:      decimal.RequireFromString("0.5"),
		Currency:    currency,
		Reference:   ref,
		Status:      domain.StatusPending,
		CreatedAt:   createdAt,
		UpdatedAt:   createdAt,
	}
}
