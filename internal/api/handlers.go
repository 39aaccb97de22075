/**
 * @description
 * HTTP handlers for the crypto-ledger-service. Handlers decode requests, call the
 * submitter, the store or the scheduler, and map domain errors to status codes.
 *
 * @dependencies
 * - github.com/go-chi/chi/v5: URL parameters.
 * - go.uber.org/zap: request-scoped error logging.
 */

package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/transfa/crypto-ledger-service/internal/address"
	"github.com/transfa/crypto-ledger-service/internal/app"
	"github.com/transfa/crypto-ledger-service/internal/domain"
	"github.com/transfa/crypto-ledger-service/internal/store"
	"github.com/transfa/crypto-ledger-service/pkg/ledgerclient"
)

// TransferService submits outbound transfers.
type TransferService interface {
	Submit(ctx context.Context, req domain.TransferRequest) (*domain.Transaction, error)
	SubmitCompound(ctx context.Context, req domain.CompoundTransferRequest) (*domain.CompoundTransferResult, error)
}

// TransactionReader is the read side of the transaction store.
type TransactionReader interface {
	FindTransactionByID(ctx context.Context, id uuid.UUID) (*domain.Transaction, error)
	ListPendingTransactions(ctx context.Context) ([]domain.Transaction, error)
}

// BalanceReader looks up on-ledger balances.
type BalanceReader interface {
	Balance(ctx context.Context, currency, address string) (decimal.Decimal, error)
}

// Reconciler runs one reconciliation tick on demand.
type Reconciler interface {
	RunOnce(ctx context.Context) (app.TickSummary, error)
}

// Handlers holds the dependencies used by the HTTP handlers.
type Handlers struct {
	transfers    TransferService
	transactions TransactionReader
	balances     BalanceReader
	reconciler   Reconciler
	logger       *zap.Logger
}

func NewHandlers(transfers TransferService, transactions TransactionReader, balances BalanceReader, reconciler Reconciler, logger *zap.Logger) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{
		transfers:    transfers,
		transactions: transactions,
		balances:     balances,
		reconciler:   reconciler,
		logger:       logger.With(zap.String("component", "api")),
	}
}

type compoundFailureResponse struct {
	Error  string                         `json:"error"`
	Result *domain.CompoundTransferResult `json:"result,omitempty"`
}

type balanceResponse struct {
	Currency domain.Currency `json:"currency"`
	Address  string          `json:"address"`
	Balance  decimal.Decimal `json:"balance"`
}

type reconcileResponse struct {
	Pending       int    `json:"pending"`
	Skipped       int    `json:"skipped"`
	Unchanged     int    `json:"unchanged"`
	Transitioned  int    `json:"transitioned"`
	ProbeFailures int    `json:"probe_failures"`
	Errors        int    `json:"errors"`
	Duration      string `json:"duration"`
}

// SubmitTransferHandler handles POST /transfers.
func (h *Handlers) SubmitTransferHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.TransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	currency, err := domain.ParseCurrency(string(req.Currency))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req.Currency = currency

	tx, err := h.transfers.Submit(r.Context(), req)
	if err != nil {
		h.writeDomainError(w, "submit_transfer", err)
		return
	}
	writeJSON(w, http.StatusCreated, tx)
}

// SubmitCompoundTransferHandler handles POST /transfers/compound.
func (h *Handlers) SubmitCompoundTransferHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.CompoundTransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	currency, err := domain.ParseCurrency(string(req.Currency))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req.Currency = currency

	result, err := h.transfers.SubmitCompound(r.Context(), req)
	if err != nil {
		var partial *app.PartialTransferError
		if errors.As(err, &partial) {
			writeJSON(w, http.StatusConflict, compoundFailureResponse{Error: err.Error(), Result: result})
			return
		}
		h.writeDomainError(w, "submit_compound_transfer", err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

// GetTransactionHandler handles GET /transactions/{id}.
func (h *Handlers) GetTransactionHandler(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid transaction ID format")
		return
	}

	tx, err := h.transactions.FindTransactionByID(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, "get_transaction", err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

// ListPendingHandler handles GET /transactions/pending.
func (h *Handlers) ListPendingHandler(w http.ResponseWriter, r *http.Request) {
	pending, err := h.transactions.ListPendingTransactions(r.Context())
	if err != nil {
		h.writeDomainError(w, "list_pending", err)
		return
	}
	if pending == nil {
		pending = []domain.Transaction{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":        len(pending),
		"transactions": pending,
	})
}

// GetBalanceHandler handles GET /balances/{currency}/{address}.
func (h *Handlers) GetBalanceHandler(w http.ResponseWriter, r *http.Request) {
	currency, err := domain.ParseCurrency(chi.URLParam(r, "currency"))
	if err != nil || !currency.IsCrypto() {
		writeError(w, http.StatusBadRequest, "Unsupported currency")
		return
	}
	addr := chi.URLParam(r, "address")

	balance, err := h.balances.Balance(r.Context(), string(currency), addr)
	if err != nil {
		h.writeDomainError(w, "get_balance", err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{Currency: currency, Address: addr, Balance: balance})
}

// ReconcileHandler handles POST /internal/reconcile by running one tick synchronously.
// The tick runs detached from the request context; a caller hanging up must not fail its probes.
func (h *Handlers) ReconcileHandler(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFromContext(r.Context())
	summary, err := h.reconciler.RunOnce(context.WithoutCancel(r.Context()))
	if err != nil {
		h.writeDomainError(w, "reconcile", err)
		return
	}
	h.logger.Info("manual reconciliation tick finished",
		zap.String("caller", caller),
		zap.Int("transitioned", summary.Transitioned),
	)
	writeJSON(w, http.StatusOK, reconcileResponse{
		Pending:       summary.Pending,
		Skipped:       summary.Skipped,
		Unchanged:     summary.Unchanged,
		Transitioned:  summary.Transitioned,
		ProbeFailures: summary.ProbeFailures,
		Errors:        summary.Errors,
		Duration:      summary.Duration.String(),
	})
}

func (h *Handlers) writeDomainError(w http.ResponseWriter, endpoint string, err error) {
	status, message := classifyError(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("endpoint", endpoint), zap.Int("status", status), zap.Error(err))
	} else {
		h.logger.Warn("request rejected", zap.String("endpoint", endpoint), zap.Int("status", status), zap.Error(err))
	}
	writeError(w, status, message)
}

func classifyError(err error) (int, string) {
	var apiErr *ledgerclient.APIError
	switch {
	case errors.Is(err, address.ErrInvalidAddress),
		errors.Is(err, address.ErrUnsupportedType),
		errors.Is(err, app.ErrUnsupportedCurrency),
		errors.Is(err, app.ErrInvalidAmount),
		errors.Is(err, domain.ErrUnknownCurrency):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, store.ErrTransactionNotFound):
		return http.StatusNotFound, "Transaction not found"
	case errors.Is(err, app.ErrBroadcastFailed),
		errors.Is(err, ledgerclient.ErrTimeout),
		errors.Is(err, ledgerclient.ErrMalformedResponse),
		errors.Is(err, ledgerclient.ErrNotConfigured),
		errors.As(err, &apiErr):
		return http.StatusBadGateway, err.Error()
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}

// writeJSON is a helper for writing JSON responses.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
