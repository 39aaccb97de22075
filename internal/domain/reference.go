package domain

import (
	"fmt"
	"strings"
	"time"
)

// ReferenceKind is the provenance tag of a transaction's external reference.
type ReferenceKind string

const (
	ReferenceNone             ReferenceKind = "none"
	ReferenceReal             ReferenceKind = "real"
	ReferenceSimulatedSuccess ReferenceKind = "simulated_success"
	ReferenceSimulatedFailure ReferenceKind = "simulated_failure"
)

// Reference ties a transaction to the external ledger. Value holds the ledger id for
// real references and the generated placeholder text for simulated ones.
type Reference struct {
	Kind  ReferenceKind `json:"kind"`
	Value string        `json:"value,omitempty"`
}

// NoReference is used for rows that never reached the ledger.
func NoReference() Reference {
	return Reference{Kind: ReferenceNone}
}

// RealReference wraps an id returned by the ledger.
func RealReference(ledgerID string) Reference {
	return Reference{Kind: ReferenceReal, Value: ledgerID}
}

// SimulatedSuccessReference generates a placeholder such as `eth_tx_1700000000000`.
func SimulatedSuccessReference(currency Currency, at time.Time) Reference {
	return Reference{
		Kind:  ReferenceSimulatedSuccess,
		Value: fmt.Sprintf("%s_tx_%d", currency, at.UnixMilli()),
	}
}

// SimulatedFailureReference generates a placeholder such as `btc_err_1700000000000`.
func SimulatedFailureReference(currency Currency, at time.Time) Reference {
	return Reference{
		Kind:  ReferenceSimulatedFailure,
		Value: fmt.Sprintf("%s_err_%d", currency, at.UnixMilli()),
	}
}

// IsZero reports whether the reference carries no ledger linkage at all.
func (r Reference) IsZero() bool {
	return r.Kind == "" || r.Kind == ReferenceNone
}

func (r Reference) String() string {
	if r.IsZero() {
		return ""
	}
	return r.Value
}

// ParseReference recovers the provenance tag from a legacy external_reference string
// written before the reference_kind column existed.
func ParseReference(raw string) Reference {
	value := strings.TrimSpace(raw)
	switch {
	case value == "":
		return NoReference()
	case hasFailurePrefix(value):
		return Reference{Kind: ReferenceSimulatedFailure, Value: value}
	case strings.HasPrefix(value, "eth_tx_"), strings.HasPrefix(value, "btc_tx_"):
		return Reference{Kind: ReferenceSimulatedSuccess, Value: value}
	default:
		return RealReference(value)
	}
}

func hasFailurePrefix(value string) bool {
	for _, c := range []Currency{CurrencyBTC, CurrencyETH, CurrencyFiat} {
		if strings.HasPrefix(value, string(c)+"_err_") {
			return true
		}
	}
	return false
}

// ParseReferenceKind validates a stored reference_kind value.
func ParseReferenceKind(raw string) (ReferenceKind, error) {
	switch ReferenceKind(raw) {
	case ReferenceNone, ReferenceReal, ReferenceSimulatedSuccess, ReferenceSimulatedFailure:
		return ReferenceKind(raw), nil
	}
	return "", fmt.Errorf("unknown reference kind %q", raw)
}
