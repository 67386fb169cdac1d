package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// PACKAGE - Savings goal held inside an account
// =============================================================================

type PackageKind string

const (
	PackageDaily PackageKind = "daily" // daily savings, fixed amount per day
	PackageSB    PackageKind = "sb"    // saving toward a catalogue product
)

func (k PackageKind) Valid() bool { return k == PackageDaily || k == PackageSB }

type PackageStatus string

const (
	PackageOpen      PackageStatus = "open"
	PackageClosed    PackageStatus = "closed"
	PackagePaid      PackageStatus = "paid"
	PackageDelivered PackageStatus = "delivered"
)

// IsTerminal reports whether a package in this status can never accept
// contributions again.
func (s PackageStatus) IsTerminal() bool { return s != PackageOpen }

// Package tracks contributions toward one savings goal.
//
// TotalContribution only grows through contributions and merges, and only
// shrinks through withdrawals and cycle charges.
type Package struct {
	ID                PackageID
	Kind              PackageKind
	AccountNumber     AccountNumber
	UserID            UserID
	BranchID          BranchID
	Target            string
	CycleUnit         decimal.Decimal // amountPerDay
	TargetAmount      decimal.Decimal // SB only
	ProductID         *ProductID      // SB only
	TotalContribution decimal.Decimal
	TotalCount        int
	DeductionCount    int
	TotalCharge       decimal.Decimal
	HasBeenCharged    bool
	Status            PackageStatus
	MergedInto        *PackageID
	Version           int
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Contribution is one validated payment into a package.
type Contribution struct {
	ID            ContributionID
	PackageID     PackageID
	AccountNumber AccountNumber
	Amount        decimal.Decimal
	Units         int
	RunningCount  int
	CreatedBy     string
	BranchID      BranchID
	Date          time.Time
}

// Charge is the service fee taken when a package enters a new cycle.
type Charge struct {
	ID            ChargeID
	PackageID     PackageID
	AccountNumber AccountNumber
	BranchID      BranchID
	UserID        UserID
	Amount        decimal.Decimal
	TotalCount    int
	Date          time.Time
}
