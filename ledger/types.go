/*
Package ledger provides the core types of the savings ledger engine.

PURPOSE:
  This package holds the domain-agnostic records shared by the balance
  movement engine (account/) and the contribution cycle engine (savings/):
  accounts, ledger lines, withdrawal requests, savings packages,
  contributions, charges and general-ledger entries. Storage backends
  implement the interfaces in store.go.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: decimal.Decimal, at most two fractional digits
  - Account: available vs ledger balance, changed only by atomic increments
  - Transaction: an immutable ledger line (inflow, outflow, pending)
  - Identifiers: type-safe IDs so account numbers and package IDs never mix

DESIGN PRINCIPLES:
  1. Immutability: Transaction rows are never edited
  2. Precision: decimal.Decimal everywhere, never float64
  3. Type Safety: distinct ID types
  4. Auditability: every row carries actor, branch and narration

SEE ALSO:
  - package.go: savings packages, contributions, charges
  - request.go: withdrawal request state machine
  - general.go: general-ledger entry validation
  - store.go: persistence interfaces
*/
package ledger

import (
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY
// =============================================================================

// MoneyScale is the number of fractional digits money is stored with.
const MoneyScale = 2

// MaxAmount is the largest single movement accepted. Stored totals are int64
// minor units, so one row can absorb over 90,000 maximal movements before
// its total could overflow.
var MaxAmount = decimal.New(1, 12)

var (
	maxMinor = decimal.NewFromInt(math.MaxInt64)
	minMinor = decimal.NewFromInt(math.MinInt64)
)

// ParseAmount parses a decimal string and validates it as a movement amount.
func ParseAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q is not a decimal", ErrInvalidAmount, s)
	}
	if err := ValidateAmount(d); err != nil {
		return decimal.Zero, err
	}
	return d, nil
}

// ValidateAmount rejects amounts that are not positive, carry sub-minor digits
// or exceed MaxAmount.
func ValidateAmount(d decimal.Decimal) error {
	if !d.IsPositive() {
		return fmt.Errorf("%w: amount must be positive, got %s", ErrInvalidAmount, d)
	}
	if !d.Equal(d.Truncate(MoneyScale)) {
		return fmt.Errorf("%w: amount %s has more than %d decimal places", ErrInvalidAmount, d, MoneyScale)
	}
	if d.GreaterThan(MaxAmount) {
		return fmt.Errorf("%w: amount %s exceeds the maximum of %s", ErrInvalidAmount, d, MaxAmount)
	}
	return nil
}

// ToMinor converts money to integer minor units. It panics on a value with
// sub-minor digits or outside int64: those never pass ValidateAmount, so
// reaching the store with one is a bug, not bad input.
func ToMinor(d decimal.Decimal) int64 {
	minor := d.Shift(MoneyScale)
	if !minor.IsInteger() || minor.GreaterThan(maxMinor) || minor.LessThan(minMinor) {
		panic(fmt.Sprintf("ledger: %s cannot be stored as int64 minor units", d))
	}
	return minor.IntPart()
}

// FromMinor converts integer minor units to money.
func FromMinor(v int64) decimal.Decimal {
	return decimal.New(v, -MoneyScale)
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type AccountID string
type AccountNumber string
type UserID string
type BranchID string
type TransactionID string
type RequestID string
type PackageID string
type ContributionID string
type ChargeID string
type EntryID string
type ProductID string

// Actor is the staff member or system component performing an operation.
// Resolved by the auth layer; the engines only stamp it on rows.
type Actor struct {
	ID       string
	Name     string
	BranchID BranchID
}

// SystemActor is used for movements with no human initiator.
var SystemActor = Actor{ID: "system", Name: "system"}

// =============================================================================
// ACCOUNT
// =============================================================================

type AccountType string

const (
	AccountSavings AccountType = "savings"
	AccountCurrent AccountType = "current"
	AccountWallet  AccountType = "wallet"
)

func (t AccountType) Valid() bool {
	switch t {
	case AccountSavings, AccountCurrent, AccountWallet:
		return true
	}
	return false
}

type AccountStatus string

const (
	AccountActive   AccountStatus = "active"
	AccountInactive AccountStatus = "inactive"
)

func (s AccountStatus) Valid() bool {
	return s == AccountActive || s == AccountInactive
}

// Account holds a customer's balances.
//
// LedgerBalance >= AvailableBalance whenever funds are held. Both fields are
// only ever changed through AccountStore.AdjustBalances.
type Account struct {
	ID               AccountID
	Number           AccountNumber
	AvailableBalance decimal.Decimal
	LedgerBalance    decimal.Decimal
	Type             AccountType
	Status           AccountStatus
	UserID           UserID
	BranchID         BranchID
	ManagerID        *string
	Version          int
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// HeldAmount is the part of the ledger balance that is not spendable.
func (a Account) HeldAmount() decimal.Decimal {
	return a.LedgerBalance.Sub(a.AvailableBalance)
}

func (a Account) IsActive() bool { return a.Status == AccountActive }

// =============================================================================
// TRANSACTION - Immutable ledger line
// =============================================================================

type Direction string

const (
	DirectionInflow  Direction = "inflow"
	DirectionOutflow Direction = "outflow"
	DirectionPending Direction = "pending"
)

// Narrations classifying ledger lines.
const (
	NarrationDeposit            = "Deposit"
	NarrationWithdrawalRequest  = "Withdrawal request"
	NarrationFundWithdrawal     = "Fund withdrawal"
	NarrationHeldFundsSpent     = "Held funds spent"
	NarrationDailyContribution  = "Daily contribution"
	NarrationSBContribution     = "SB contribution"
	NarrationSavingsWithdrawal  = "Savings withdrawal"
	NarrationPackageMerge       = "Package merge"
	NarrationContributionCharge = "Contribution charge"
)

// Transaction is a single account movement. Amount is always a positive
// magnitude; Direction carries the sign.
type Transaction struct {
	ID            TransactionID
	AccountNumber AccountNumber
	Amount        decimal.Decimal
	Direction     Direction
	Narration     string
	Date          time.Time
	BranchID      BranchID
	CreatedBy     string
	Reasons       string
	ReferenceID   string
}

// Customer is the account owner contact card used for alerts.
type Customer struct {
	ID    UserID
	Name  string
	Phone string
	Email string
}

// Product is a catalogue item an SB package saves toward.
type Product struct {
	ID       ProductID
	Name     string
	Price    decimal.Decimal
	ImageURL string
}

// =============================================================================
// TIME
// =============================================================================

// Millis returns t as epoch milliseconds, the persisted date format.
func Millis(t time.Time) int64 { return t.UnixMilli() }

// FromMillis is the inverse of Millis.
func FromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }
