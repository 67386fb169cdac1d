/*
request.go - Withdrawal request lifecycle

PURPOSE:
  A withdrawal request is a tagged-state record kept next to the append-only
  transaction log, so the log itself never needs an in-place edit.

STATE MACHINE:
  ┌─────────┐  fulfill   ┌───────────┐
  │ Pending │──────────▶ │ Fulfilled │──▶ outflow Transaction (ReferenceID = request)
  └─────────┘            └───────────┘
       │       reject    ┌──────────┐
       └───────────────▶ │ Rejected │
                         └──────────┘

  Fulfilled and Rejected are terminal. Transitions are persisted with a
  conditional update (WHERE status = 'pending'), so two concurrent fulfil
  calls cannot both succeed.
*/
package ledger

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type RequestStatus string

const (
	RequestPending   RequestStatus = "pending"
	RequestFulfilled RequestStatus = "fulfilled"
	RequestRejected  RequestStatus = "rejected"
)

type WithdrawalRequest struct {
	ID            RequestID
	AccountNumber AccountNumber
	Amount        decimal.Decimal
	Narration     string
	Status        RequestStatus
	BranchID      BranchID
	RequestedBy   string
	ResolvedBy    string
	Reason        string
	FulfillmentID TransactionID
	Version       int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// CanTransition reports whether from → to is a legal request transition.
func CanTransition(from, to RequestStatus) bool {
	return from == RequestPending && (to == RequestFulfilled || to == RequestRejected)
}

// RequestResolution carries the fields written on a status transition.
type RequestResolution struct {
	To            RequestStatus
	ResolvedBy    string
	Reason        string
	FulfillmentID TransactionID
	At            time.Time
}

// CheckTransition returns ErrInvalidState for an illegal transition.
func (r *WithdrawalRequest) CheckTransition(to RequestStatus) error {
	if !CanTransition(r.Status, to) {
		return fmt.Errorf("%w: withdrawal request %s is %s, cannot become %s", ErrInvalidState, r.ID, r.Status, to)
	}
	return nil
}
