/*
store.go - Persistence interfaces

PURPOSE:
  Defines the interface between the engines and the database. Backends:
  store/sqlite (default, also used by tests) and store/postgres.

KEY INTERFACES:
  AccountStore:       accounts and atomic balance increments
  TransactionStore:   append-only ledger lines
  WithdrawalStore:    withdrawal request records + conditional transitions
  PackageStore:       packages, contributions, charges
  GeneralLedgerStore: categorized reporting entries
  DirectoryStore:     customer contacts and catalogue products (read side)
  Store:              all of the above
  TxStore:            Store + WithTx for atomic multi-record scopes

ATOMIC INCREMENTS:
  Balances and package totals are never written as whole values. Every
  mutation is an UPDATE ... SET col = col + ? (optionally guarded in the
  WHERE clause), so concurrent movements on the same row cannot lose writes.

ATOMIC SCOPES:
  WithTx(ctx, fn) runs fn against a transaction-bound Store. If fn returns
  an error the whole scope rolls back and the error is returned unchanged.

NOT FOUND:
  Single-record getters return an error wrapping ErrNotFound, never (nil, nil).

FILTERS:
  Each list query takes its own typed filter struct. Nil pointer fields
  mean "no constraint".
*/
package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// ACCOUNTS
// =============================================================================

type AccountStore interface {
	// CreateAccount fails with ErrDuplicateAccount if the number or the
	// (user, type) pair is taken.
	CreateAccount(ctx context.Context, a Account) error
	AccountNumberExists(ctx context.Context, number AccountNumber) (bool, error)
	GetAccount(ctx context.Context, number AccountNumber) (*Account, error)

	// GetAccountForUpdate reads the account and locks it for the remainder
	// of the enclosing scope where the backend supports row locks.
	GetAccountForUpdate(ctx context.Context, number AccountNumber) (*Account, error)

	// AdjustBalances applies deltas atomically and returns the new state.
	AdjustBalances(ctx context.Context, number AccountNumber, availableDelta, ledgerDelta decimal.Decimal) (*Account, error)
	SetAccountStatus(ctx context.Context, number AccountNumber, status AccountStatus) error
	ListAccountsByUser(ctx context.Context, userID UserID) ([]Account, error)
}

// =============================================================================
// TRANSACTIONS - Append-only. No Update, no Delete.
// =============================================================================

type TransactionFilter struct {
	AccountNumber *AccountNumber
	Direction     *Direction
	ReferenceID   *string
	From          *time.Time
	To            *time.Time
	Limit         int
	Offset        int
}

type TransactionStore interface {
	AppendTransaction(ctx context.Context, tx Transaction) error
	// ListTransactions returns newest first.
	ListTransactions(ctx context.Context, f TransactionFilter) ([]Transaction, error)
}

// =============================================================================
// WITHDRAWAL REQUESTS
// =============================================================================

type WithdrawalRequestFilter struct {
	Status      *RequestStatus
	BranchID    *BranchID
	RequestedBy *string
	From        *time.Time
	To          *time.Time
	Limit       int
	Offset      int
}

type WithdrawalStore interface {
	CreateWithdrawalRequest(ctx context.Context, r WithdrawalRequest) error
	GetWithdrawalRequest(ctx context.Context, id RequestID) (*WithdrawalRequest, error)

	// TransitionWithdrawalRequest moves a request out of `from`. It returns
	// ErrInvalidState if the stored status is no longer `from`.
	TransitionWithdrawalRequest(ctx context.Context, id RequestID, from RequestStatus, res RequestResolution) error

	// ListWithdrawalRequests returns newest first.
	ListWithdrawalRequests(ctx context.Context, f WithdrawalRequestFilter) ([]WithdrawalRequest, error)
}

// =============================================================================
// PACKAGES
// =============================================================================

type PackageStore interface {
	// CreatePackage fails with ErrDuplicateActivePackage if an open package
	// already exists for (AccountNumber, Target).
	CreatePackage(ctx context.Context, p Package) error
	GetPackage(ctx context.Context, id PackageID) (*Package, error)
	GetPackages(ctx context.Context, ids []PackageID) ([]Package, error)

	// GetPackagesForUpdate reads packages in id order and locks them for the
	// remainder of the enclosing scope where the backend supports row locks.
	// Missing ids are simply absent from the result.
	GetPackagesForUpdate(ctx context.Context, ids []PackageID) ([]Package, error)
	FindOpenPackage(ctx context.Context, number AccountNumber, target string) (*Package, error)
	ListPackagesByUser(ctx context.Context, userID UserID) ([]Package, error)

	// ApplyContribution adds amount to the total and units to the count of
	// an OPEN package. Returns ErrPackageClosed if it is no longer open.
	ApplyContribution(ctx context.Context, id PackageID, amount decimal.Decimal, units int) (*Package, error)

	// ApplyCharge debits charge from the total, adds it to TotalCharge and
	// adds deductions to DeductionCount.
	ApplyCharge(ctx context.Context, id PackageID, charge decimal.Decimal, deductions int) (*Package, error)

	// CreditPackage adds amount to the total of an OPEN package.
	CreditPackage(ctx context.Context, id PackageID, amount decimal.Decimal) (*Package, error)

	// DebitPackage subtracts amount from an OPEN package whose total covers it.
	// Returns an InsufficientBalanceError otherwise.
	DebitPackage(ctx context.Context, id PackageID, amount decimal.Decimal) (*Package, error)

	// TransitionPackage changes status if the stored status equals from.
	// Returns ErrInvalidState otherwise.
	TransitionPackage(ctx context.Context, id PackageID, from, to PackageStatus, mergedInto *PackageID) error

	AppendContribution(ctx context.Context, c Contribution) error
	ListContributions(ctx context.Context, id PackageID) ([]Contribution, error)
	ReassignContributions(ctx context.Context, from, to PackageID) (int64, error)

	AppendCharge(ctx context.Context, c Charge) error
	ListCharges(ctx context.Context, id PackageID) ([]Charge, error)
}

// =============================================================================
// GENERAL LEDGER
// =============================================================================

type LedgerEntryFilter struct {
	Type     *EntryType
	BranchID *BranchID
	UserID   *UserID
	From     *time.Time
	To       *time.Time
	Limit    int
	Offset   int
}

type GeneralLedgerStore interface {
	AppendLedgerEntry(ctx context.Context, e LedgerEntry) error
	ListLedgerEntries(ctx context.Context, f LedgerEntryFilter) ([]LedgerEntry, error)
}

// =============================================================================
// DIRECTORY - Collaborator data owned elsewhere, mirrored for lookups
// =============================================================================

type DirectoryStore interface {
	SaveCustomer(ctx context.Context, c Customer) error
	GetCustomer(ctx context.Context, id UserID) (*Customer, error)
	SaveProduct(ctx context.Context, p Product) error
	GetProduct(ctx context.Context, id ProductID) (*Product, error)
}

// =============================================================================
// COMPOSITE
// =============================================================================

type Store interface {
	AccountStore
	TransactionStore
	WithdrawalStore
	PackageStore
	GeneralLedgerStore
	DirectoryStore
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}
