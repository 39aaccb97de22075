/**
 * @description
 * StatusResolver: a pure function deciding the status of a pending transaction from its
 * reference provenance, its age, its currency and, for real ledger references only, the
 * ledger's confirmation count. The rules are evaluated in a fixed order and the first
 * matching rule wins.
 */
package app

import (
	"time"

	"github.com/transfa/crypto-ledger-service/internal/domain"
)

const (
	BitcoinFinalityConfirmations  int64 = 3
	EthereumFinalityConfirmations int64 = 12

	// Reported for synthetic Ethereum successes; observability only.
	syntheticEthereumConfirmations int64 = 12

	SyntheticBitcoinSettleAge = 3 * time.Hour
	StaleTransactionAge       = 24 * time.Hour
)

// Rule identifies which resolution rule produced a Resolution.
type Rule int

const (
	RuleSyntheticFailure Rule = iota + 1
	RuleSyntheticEthereum
	RuleSyntheticBitcoin
	RuleStaleUnreferenced
	RuleLedgerConfirmations
)

func (r Rule) String() string {
	switch r {
	case RuleSyntheticFailure:
		return "synthetic_failure"
	case RuleSyntheticEthereum:
		return "synthetic_eth_success"
	case RuleSyntheticBitcoin:
		return "synthetic_btc_age"
	case RuleStaleUnreferenced:
		return "stale_unreferenced"
	case RuleLedgerConfirmations:
		return "ledger_confirmations"
	default:
		return "unknown"
	}
}

// ResolveInput is everything the resolver looks at.
// Confirmations is nil when the ledger has not been asked.
type ResolveInput struct {
	Reference     domain.Reference
	Currency      domain.Currency
	CreatedAt     time.Time
	Confirmations *int64
}

// ResolveInputFor builds the input for a stored transaction.
func ResolveInputFor(tx domain.Transaction) ResolveInput {
	return ResolveInput{
		Reference: tx.Reference,
		Currency:  tx.Currency,
		CreatedAt: tx.CreatedAt,
	}
}

// Resolution is the resolver's verdict.
// NeedsProbe is set when a real reference was resolved without confirmations.
type Resolution struct {
	Status        domain.Status
	Confirmations *int64
	Rule          Rule
	NeedsProbe    bool
}

// Resolve applies the resolution rules in order. It has no side effects.
func Resolve(in ResolveInput, now time.Time) Resolution {
	age := now.Sub(in.CreatedAt)

	switch in.Reference.Kind {
	case domain.ReferenceSimulatedFailure:
		return Resolution{Status: domain.StatusFailed, Rule: RuleSyntheticFailure}

	case domain.ReferenceSimulatedSuccess:
		if in.Currency == domain.CurrencyBTC {
			status := domain.StatusPending
			if age >= SyntheticBitcoinSettleAge {
				status = domain.StatusCompleted
			}
			return Resolution{Status: status, Rule: RuleSyntheticBitcoin}
		}
		confirmations := syntheticEthereumConfirmations
		return Resolution{Status: domain.StatusCompleted, Confirmations: &confirmations, Rule: RuleSyntheticEthereum}
	}

	if in.Reference.IsZero() || !in.Currency.IsCrypto() {
		status := domain.StatusPending
		if age >= StaleTransactionAge {
			status = domain.StatusCompleted
		}
		return Resolution{Status: status, Rule: RuleStaleUnreferenced}
	}

	if in.Confirmations == nil {
		return Resolution{Status: domain.StatusPending, Rule: RuleLedgerConfirmations, NeedsProbe: true}
	}

	confirmations := *in.Confirmations
	status := domain.StatusPending
	if confirmations >= FinalityConfirmations(in.Currency) {
		status = domain.StatusCompleted
	}
	return Resolution{Status: status, Confirmations: &confirmations, Rule: RuleLedgerConfirmations}
}

// FinalityConfirmations returns the confirmation threshold for a currency.
func FinalityConfirmations(currency domain.Currency) int64 {
	if currency == domain.CurrencyBTC {
		return BitcoinFinalityConfirmations
	}
	return EthereumFinalityConfirmations
}
