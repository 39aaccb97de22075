/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` interface
 * over the `crypto_transactions` table.
 *
 * @notes
 * - Amounts travel as text (`$n::numeric` in, `amount::text` out) so no float ever
 *   touches a crypto amount.
 * - Status updates are guarded by `status IN ('pending', $new)`: re-applying the same
 *   status is a harmless no-op and a terminal row can never be moved.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - github.com/shopspring/decimal: exact decimal parsing of NUMERIC columns.
 */

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/transfa/crypto-ledger-service/internal/domain"
)

const transactionColumns = `
	id, group_id, kind, from_account, to_account, from_address, to_address,
	amount::text, converted_amount::text, currency, reference_kind, reference_value,
	ledger_broadcast_id, status, failure_reason, created_at, updated_at`

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// CreateTransaction inserts exactly one row.
func (r *PostgresRepository) CreateTransaction(ctx context.Context, tx *domain.Transaction) error {
	query := `
		INSERT INTO crypto_transactions (
			id, group_id, kind, from_account, to_account, from_address, to_address,
			amount, converted_amount, currency, reference_kind, reference_value,
			ledger_broadcast_id, status, failure_reason, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8::numeric, $9::numeric, $10, $11, $12,
			$13, $14, $15, $16, $17
		)
	`

	var converted *string
	if tx.ConvertedAmount != nil {
		s := tx.ConvertedAmount.String()
		converted = &s
	}
	kind, value := referenceColumns(tx.Reference)

	_, err := r.db.Exec(ctx, query,
		tx.ID, tx.GroupID, string(tx.Kind), tx.FromAccount, tx.ToAccount, tx.FromAddress, tx.ToAddress,
		tx.Amount.String(), converted, string(tx.Currency), kind, value,
		tx.LedgerBroadcastID, string(tx.Status), tx.FailureReason, tx.CreatedAt, tx.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateTransaction
		}
		return fmt.Errorf("insert crypto transaction: %w", err)
	}
	return nil
}

// FindTransactionByID retrieves a single transaction.
func (r *PostgresRepository) FindTransactionByID(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM crypto_transactions WHERE id = $1`

	tx, err := scanTransaction(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return tx, nil
}

// ListTransactionsByGroup returns the legs of one compound transfer in creation order.
func (r *PostgresRepository) ListTransactionsByGroup(ctx context.Context, groupID uuid.UUID) ([]domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM crypto_transactions WHERE group_id = $1 ORDER BY created_at ASC`
	return r.queryTransactions(ctx, query, groupID)
}

// ListPendingTransactions returns every row still awaiting a terminal status.
func (r *PostgresRepository) ListPendingTransactions(ctx context.Context) ([]domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM crypto_transactions WHERE status = 'pending' ORDER BY created_at ASC`
	return r.queryTransactions(ctx, query)
}

// ListPendingTransactionsOlderThan returns pending rows created before cutoff.
func (r *PostgresRepository) ListPendingTransactionsOlderThan(ctx context.Context, cutoff time.Time) ([]domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM crypto_transactions WHERE status = 'pending' AND created_at < $1 ORDER BY created_at ASC`
	return r.queryTransactions(ctx, query, cutoff)
}

// UpdateTransactionStatus is a single-row UPDATE by primary key. It does not re-derive
// the transition; the guard only keeps terminal rows terminal.
func (r *PostgresRepository) UpdateTransactionStatus(ctx context.Context, id uuid.UUID, status domain.Status) error {
	query := `
		UPDATE crypto_transactions
		SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status IN ('pending', $1)
	`
	result, err := r.db.Exec(ctx, query, string(status), id)
	if err != nil {
		return fmt.Errorf("update crypto transaction status: %w", err)
	}
	if result.RowsAffected() > 0 {
		return nil
	}
	return r.explainNoRows(ctx, id)
}

// FailTransaction forces a pending row to failed with an operator-supplied reason.
func (r *PostgresRepository) FailTransaction(ctx context.Context, id uuid.UUID, reason string) error {
	query := `
		UPDATE crypto_transactions
		SET status = 'failed', failure_reason = $1, updated_at = NOW()
		WHERE id = $2 AND status = 'pending'
	`
	result, err := r.db.Exec(ctx, query, reason, id)
	if err != nil {
		return fmt.Errorf("fail crypto transaction: %w", err)
	}
	if result.RowsAffected() > 0 {
		return nil
	}
	return r.explainNoRows(ctx, id)
}

func (r *PostgresRepository) explainNoRows(ctx context.Context, id uuid.UUID) error {
	var exists bool
	if err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM crypto_transactions WHERE id = $1)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ErrTransactionNotFound
	}
	return ErrStatusConflict
}

func (r *PostgresRepository) queryTransactions(ctx context.Context, query string, args ...any) ([]domain.Transaction, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transactions []domain.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, *tx)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return transactions, nil
}

func scanTransaction(row pgx.Row) (*domain.Transaction, error) {
	var (
		tx             domain.Transaction
		kind           string
		amount         string
		converted      *string
		currency       string
		referenceKind  *string
		referenceValue *string
		status         string
	)

	err := row.Scan(
		&tx.ID, &tx.GroupID, &kind, &tx.FromAccount, &tx.ToAccount, &tx.FromAddress, &tx.ToAddress,
		&amount, &converted, &currency, &referenceKind, &referenceValue,
		&tx.LedgerBroadcastID, &status, &tx.FailureReason, &tx.CreatedAt, &tx.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	tx.Kind = domain.TransferKind(kind)
	tx.Currency = domain.Currency(currency)
	tx.Status = domain.Status(status)

	if tx.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("parse amount %q: %w", amount, err)
	}
	if converted != nil {
		value, err := decimal.NewFromString(*converted)
		if err != nil {
			return nil, fmt.Errorf("parse converted amount %q: %w", *converted, err)
		}
		tx.ConvertedAmount = &value
	}

	if tx.Reference, err = referenceFromColumns(referenceKind, referenceValue); err != nil {
		return nil, err
	}
	return &tx, nil
}

// referenceColumns renders a reference into its (kind, value) columns.
func referenceColumns(ref domain.Reference) (string, *string) {
	if ref.IsZero() {
		return string(domain.ReferenceNone), nil
	}
	value := ref.Value
	return string(ref.Kind), &value
}

// referenceFromColumns rebuilds the tagged reference. Rows written before the
// reference_kind column existed carry only the legacy prefixed string.
func referenceFromColumns(kind, value *string) (domain.Reference, error) {
	raw := ""
	if value != nil {
		raw = *value
	}
	if kind == nil || *kind == "" {
		return domain.ParseReference(raw), nil
	}

	parsed, err := domain.ParseReferenceKind(*kind)
	if err != nil {
		return domain.Reference{}, err
	}
	if parsed == domain.ReferenceNone {
		return domain.NoReference(), nil
	}
	return domain.Reference{Kind: parsed, Value: raw}, nil
}
