/**
 * @description
 * This file defines the core domain models for the crypto-ledger-service.
 * These structs represent the transactions recorded by the submitter and reconciled
 * by the scheduler, along with the request DTOs accepted by the API layer.
 *
 * @notes
 * - Amounts are `decimal.Decimal` values. Crypto amounts carry up to 18 fractional
 *   digits and are never rounded on the way to or from the database.
 * - `Reference` is a tagged variant. The legacy string prefixes (`eth_tx_`, `btc_tx_`,
 *   `<currency>_err_`) are only a rendering of the tag, never the source of truth.
 */

package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Currency identifies the asset a transaction moves.
type Currency string

const (
	CurrencyFiat Currency = "fiat"
	CurrencyBTC  Currency = "btc"
	CurrencyETH  Currency = "eth"
)

var ErrUnknownCurrency = errors.New("unknown currency")

// ParseCurrency normalizes user input such as "BTC" or " eth ".
func ParseCurrency(raw string) (Currency, error) {
	switch Currency(strings.ToLower(strings.TrimSpace(raw))) {
	case CurrencyFiat:
		return CurrencyFiat, nil
	case CurrencyBTC:
		return CurrencyBTC, nil
	case CurrencyETH:
		return CurrencyETH, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownCurrency, raw)
}

// IsCrypto reports whether transactions in this currency are settled on the external ledger.
func (c Currency) IsCrypto() bool {
	return c == CurrencyBTC || c == CurrencyETH
}

// AmountScale is the number of decimal places stored for amounts and converted amounts.
const AmountScale int32 = 18

// Decimals is the number of decimal places in the currency's smallest unit.
func (c Currency) Decimals() int32 {
	switch c {
	case CurrencyBTC:
		return 8
	case CurrencyFiat:
		return 2
	default:
		return AmountScale
	}
}

// FitsScale reports whether amount can be held with places decimal places without rounding.
func FitsScale(amount decimal.Decimal, places int32) bool {
	return amount.Equal(amount.Truncate(places))
}

// Status is the lifecycle state of a transaction.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// IsTerminal reports whether the status can never change again.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransitionTo enforces the monotonic lifecycle: pending moves to a terminal
// status, and a status may always be re-applied to itself.
func (s Status) CanTransitionTo(next Status) bool {
	if s == next {
		return true
	}
	return s == StatusPending && next.IsTerminal()
}

// TransferKind records the role a transaction plays within a transfer.
type TransferKind string

const (
	TransferKindSingle     TransferKind = "transfer"
	TransferKindPrincipal  TransferKind = "principal"
	TransferKindCommission TransferKind = "commission"
)

// Transaction is the persisted record for one ledger movement.
// This struct maps directly to the `crypto_transactions` table.
type Transaction struct {
	ID                uuid.UUID        `json:"id"`
	GroupID           *uuid.UUID       `json:"group_id,omitempty"`
	Kind              TransferKind     `json:"kind"`
	FromAccount       *string          `json:"from_account,omitempty"`
	ToAccount         *string          `json:"to_account,omitempty"`
	FromAddress       string           `json:"from_address"`
	ToAddress         string           `json:"to_address"`
	Amount            decimal.Decimal  `json:"amount"`
	ConvertedAmount   *decimal.Decimal `json:"converted_amount,omitempty"`
	Currency          Currency         `json:"currency"`
	Reference         Reference        `json:"reference"`
	LedgerBroadcastID *string          `json:"ledger_broadcast_id,omitempty"`
	Status            Status           `json:"status"`
	FailureReason     *string          `json:"failure_reason,omitempty"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
}

// Age returns how long ago the transaction was created.
func (t Transaction) Age(now time.Time) time.Duration {
	return now.Sub(t.CreatedAt)
}

// TransferRequest is the input for a single outbound transfer.
type TransferRequest struct {
	Currency        Currency         `json:"currency"`
	FromAddress     string           `json:"from_address"`
	ToAddress       string           `json:"to_address"`
	FromAccount     *string          `json:"from_account,omitempty"`
	ToAccount       *string          `json:"to_account,omitempty"`
	Amount          decimal.Decimal  `json:"amount"`
	ConvertedAmount *decimal.Decimal `json:"converted_amount,omitempty"`

	// Set by the submitter for compound transfers; ignored when decoded from API input.
	Kind    TransferKind `json:"-"`
	GroupID *uuid.UUID   `json:"-"`
}

// TransferLeg describes one destination of a compound transfer.
type TransferLeg struct {
	ToAddress       string           `json:"to_address"`
	ToAccount       *string          `json:"to_account,omitempty"`
	Amount          decimal.Decimal  `json:"amount"`
	ConvertedAmount *decimal.Decimal `json:"converted_amount,omitempty"`
}

// CompoundTransferRequest pays a principal and a commission from the same source.
// The legs are submitted one after the other with no shared database transaction.
type CompoundTransferRequest struct {
	Currency    Currency    `json:"currency"`
	FromAddress string      `json:"from_address"`
	FromAccount *string     `json:"from_account,omitempty"`
	Principal   TransferLeg `json:"principal"`
	Commission  TransferLeg `json:"commission"`
}

// LegRequest builds the single-transfer request for one leg.
func (r CompoundTransferRequest) LegRequest(leg TransferLeg, kind TransferKind, groupID uuid.UUID) TransferRequest {
	return TransferRequest{
		Currency:        r.Currency,
		FromAddress:     r.FromAddress,
		ToAddress:       leg.ToAddress,
		FromAccount:     r.FromAccount,
		ToAccount:       leg.ToAccount,
		Amount:          leg.Amount,
		ConvertedAmount: leg.ConvertedAmount,
		Kind:            kind,
		GroupID:         &groupID,
	}
}

// CompoundTransferResult holds whatever legs were recorded, even on partial failure.
type CompoundTransferResult struct {
	GroupID    uuid.UUID    `json:"group_id"`
	Principal  *Transaction `json:"principal,omitempty"`
	Commission *Transaction `json:"commission,omitempty"`
}
