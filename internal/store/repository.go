/**
 * @description
 * This file defines the `Repository` interface, the contract for every data access
 * operation the crypto-ledger-service needs. The submitter inserts rows, the scheduler
 * reads the pending set and issues single-row status updates, and the API reads rows back.
 *
 * @dependencies
 * - github.com/google/uuid: transaction identifiers.
 * - internal/domain: the service's domain models.
 */

package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/transfa/crypto-ledger-service/internal/domain"
)

var (
	ErrTransactionNotFound  = errors.New("transaction not found")
	ErrDuplicateTransaction = errors.New("transaction already exists")

	// ErrStatusConflict is returned when an update would move a terminal row.
	ErrStatusConflict = errors.New("transaction status is already terminal")
)

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	CreateTransaction(ctx context.Context, tx *domain.Transaction) error
	FindTransactionByID(ctx context.Context, id uuid.UUID) (*domain.Transaction, error)
	ListTransactionsByGroup(ctx context.Context, groupID uuid.UUID) ([]domain.Transaction, error)

	// Reconciliation reads and writes.
	ListPendingTransactions(ctx context.Context) ([]domain.Transaction, error)
	ListPendingTransactionsOlderThan(ctx context.Context, cutoff time.Time) ([]domain.Transaction, error)
	UpdateTransactionStatus(ctx context.Context, id uuid.UUID, status domain.Status) error
	FailTransaction(ctx context.Context, id uuid.UUID, reason string) error
}
