/*
general.go - General-ledger entry recorder

PURPOSE:
  Every balance movement also writes a categorized LedgerEntry for
  downstream reporting. Entries are validated against closed enumerations
  BEFORE anything reaches the store, so a bad entry aborts the enclosing
  scope without a partial write.
*/
package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type EntryType string

const (
	EntryDeposit      EntryType = "deposit"
	EntryWithdrawal   EntryType = "withdrawal"
	EntryDailySavings EntryType = "daily_savings"
	EntrySBSavings    EntryType = "sb_savings"
	EntryCharge       EntryType = "charge"
	EntryMerge        EntryType = "merge"
)

func (t EntryType) Valid() bool {
	switch t {
	case EntryDeposit, EntryWithdrawal, EntryDailySavings, EntrySBSavings, EntryCharge, EntryMerge:
		return true
	}
	return false
}

// SavingsEntryType maps a package kind to its ledger category.
func SavingsEntryType(k PackageKind) EntryType {
	if k == PackageSB {
		return EntrySBSavings
	}
	return EntryDailySavings
}

type LedgerEntry struct {
	ID          EntryID
	Type        EntryType
	Direction   Direction
	Amount      decimal.Decimal
	Date        time.Time
	UserID      UserID
	BranchID    BranchID
	Narration   string
	ReferenceID string
}

// Validate checks the entry against the closed enumerations.
// Pending is not a general-ledger direction.
func (e LedgerEntry) Validate() error {
	if !e.Type.Valid() {
		return &EntryValidationError{Field: "type", Value: string(e.Type)}
	}
	if e.Direction != DirectionInflow && e.Direction != DirectionOutflow {
		return &EntryValidationError{Field: "direction", Value: string(e.Direction)}
	}
	if e.Amount.IsNegative() {
		return &EntryValidationError{Field: "amount", Value: e.Amount.String()}
	}
	return nil
}

// Journal records general-ledger entries inside a caller-owned scope.
type Journal interface {
	Record(ctx context.Context, s GeneralLedgerStore, e LedgerEntry) (*LedgerEntry, error)
}

// GeneralLedger is the default Journal.
type GeneralLedger struct {
	Now func() time.Time
}

func NewGeneralLedger() *GeneralLedger {
	return &GeneralLedger{Now: time.Now}
}

// Record validates e, fills ID and Date if unset, and appends it.
func (g *GeneralLedger) Record(ctx context.Context, s GeneralLedgerStore, e LedgerEntry) (*LedgerEntry, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	if e.ID == "" {
		e.ID = EntryID(uuid.NewString())
	}
	if e.Date.IsZero() {
		e.Date = g.Now().UTC()
	}
	if err := s.AppendLedgerEntry(ctx, e); err != nil {
		return nil, err
	}
	return &e, nil
}
