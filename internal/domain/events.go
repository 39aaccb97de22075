package domain

import (
	"time"

	"github.com/google/uuid"
)

// TransitionEvent is published when a transaction reaches a terminal status so
// downstream consumers can credit balances.
type TransitionEvent struct {
	TransactionID  uuid.UUID `json:"transaction_id"`
	PreviousStatus Status    `json:"previous_status"`
	NewStatus      Status    `json:"new_status"`
	Currency       Currency  `json:"currency"`
	Reference      string    `json:"reference,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// PartialTransferAlert flags a compound transfer whose legs diverged. Nothing is
// compensated automatically; operators reconcile these by hand.
type PartialTransferAlert struct {
	GroupID       uuid.UUID   `json:"group_id"`
	CommittedLegs []uuid.UUID `json:"committed_legs"`
	FailedLeg     string      `json:"failed_leg"`
	FailedLegTxID *uuid.UUID  `json:"failed_leg_transaction_id,omitempty"`
	Reason        string      `json:"reason"`
	Timestamp     time.Time   `json:"timestamp"`
}
