/*
Package account implements the balance movement engine.

PURPOSE:
  Moves money between an account's available and ledger balances and
  records every movement as an immutable Transaction plus a general-ledger
  entry. Each operation is one atomic scope (TxStore.WithTx). Customer
  alerts go out only after the scope has committed.

BALANCES:
  available = spendable funds
  ledger    = funds the bank holds for the customer
  held      = ledger - available

  ┌──────────────┬────────────┬─────────┬──────────────────────────┐
  │ Operation    │ available  │ ledger  │ rows                     │
  ├──────────────┼────────────┼─────────┼──────────────────────────┤
  │ Deposit      │ +amount    │ +amount │ inflow, GL deposit       │
  │ PutOnHold    │ -amount    │         │                          │
  │ ReleaseHold  │ +amount    │         │                          │
  │ SpendHeld    │            │ -amount │ outflow, GL withdrawal   │
  │ Request      │            │         │ request, pending row     │
  │ Fulfill      │ -amount    │ -amount │ outflow, GL withdrawal   │
  │ Reject       │            │         │ request status only      │
  └──────────────┴────────────┴─────────┴──────────────────────────┘

FILES:
  engine.go:      Engine, account lifecycle, read side
  movements.go:   deposits and holds
  withdrawals.go: withdrawal request lifecycle
*/
package account

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/savings-ledger/ledger"
	"github.com/warp/savings-ledger/notify"
)

// maxNumberAttempts bounds the retry loop when generating account numbers.
const maxNumberAttempts = 10

// Engine is the balance movement engine.
type Engine struct {
	Store    ledger.TxStore
	Journal  ledger.Journal
	Notifier notify.Notifier
	Log      *zap.Logger

	Now     func() time.Time
	Numbers func() ledger.AccountNumber
}

func NewEngine(store ledger.TxStore, journal ledger.Journal, notifier notify.Notifier, log *zap.Logger) *Engine {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		Store:    store,
		Journal:  journal,
		Notifier: notifier,
		Log:      log.Named("account"),
		Now:      time.Now,
		Numbers:  RandomNumber,
	}
}

// Receipt is the result of a committed movement.
type Receipt struct {
	Account     ledger.Account
	Transaction ledger.Transaction
}

// RandomNumber returns a random 10-digit account number without a leading zero.
func RandomNumber() ledger.AccountNumber {
	return ledger.AccountNumber(fmt.Sprintf("%010d", 1_000_000_000+rand.Int63n(9_000_000_000)))
}

// =============================================================================
// ACCOUNT LIFECYCLE
// =============================================================================

type OpenAccountInput struct {
	UserID    ledger.UserID
	Type      ledger.AccountType
	BranchID  ledger.BranchID
	ManagerID *string
}

// OpenAccount creates a zero-balance account with a fresh unique number.
func (e *Engine) OpenAccount(ctx context.Context, in OpenAccountInput) (*ledger.Account, error) {
	if in.UserID == "" {
		return nil, fmt.Errorf("%w: user id is required", ledger.ErrValidation)
	}
	if !in.Type.Valid() {
		return nil, fmt.Errorf("%w: unknown account type %q", ledger.ErrValidation, in.Type)
	}

	number, err := e.uniqueNumber(ctx)
	if err != nil {
		return nil, err
	}

	acct := ledger.Account{
		ID:               ledger.AccountID(uuid.NewString()),
		Number:           number,
		AvailableBalance: decimal.Zero,
		LedgerBalance:    decimal.Zero,
		Type:             in.Type,
		Status:           ledger.AccountActive,
		UserID:           in.UserID,
		BranchID:         in.BranchID,
		ManagerID:        in.ManagerID,
	}
	if err := e.Store.CreateAccount(ctx, acct); err != nil {
		return nil, err
	}

	e.Log.Info("account opened",
		zap.String("account_number", string(number)),
		zap.String("user_id", string(in.UserID)),
		zap.String("type", string(in.Type)))
	return e.Store.GetAccount(ctx, number)
}

func (e *Engine) uniqueNumber(ctx context.Context) (ledger.AccountNumber, error) {
	for i := 0; i < maxNumberAttempts; i++ {
		n := e.Numbers()
		exists, err := e.Store.AccountNumberExists(ctx, n)
		if err != nil {
			return "", fmt.Errorf("check account number: %w", err)
		}
		if !exists {
			return n, nil
		}
	}
	return "", fmt.Errorf("no free account number after %d attempts", maxNumberAttempts)
}

// SetStatus activates or deactivates an account. Accounts are never deleted.
func (e *Engine) SetStatus(ctx context.Context, number ledger.AccountNumber, status ledger.AccountStatus) (*ledger.Account, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown account status %q", ledger.ErrValidation, status)
	}
	if err := e.Store.SetAccountStatus(ctx, number, status); err != nil {
		return nil, err
	}
	return e.Store.GetAccount(ctx, number)
}

// =============================================================================
// READ SIDE
// =============================================================================

func (e *Engine) GetAccount(ctx context.Context, number ledger.AccountNumber) (*ledger.Account, error) {
	return e.Store.GetAccount(ctx, number)
}

func (e *Engine) UserAccounts(ctx context.Context, userID ledger.UserID) ([]ledger.Account, error) {
	return e.Store.ListAccountsByUser(ctx, userID)
}

func (e *Engine) AvailableBalance(ctx context.Context, number ledger.AccountNumber) (decimal.Decimal, error) {
	acct, err := e.Store.GetAccount(ctx, number)
	if err != nil {
		return decimal.Zero, err
	}
	return acct.AvailableBalance, nil
}

func (e *Engine) LedgerBalance(ctx context.Context, number ledger.AccountNumber) (decimal.Decimal, error) {
	acct, err := e.Store.GetAccount(ctx, number)
	if err != nil {
		return decimal.Zero, err
	}
	return acct.LedgerBalance, nil
}

// Statement returns the account's transactions, newest first.
func (e *Engine) Statement(ctx context.Context, number ledger.AccountNumber, f ledger.TransactionFilter) ([]ledger.Transaction, error) {
	if _, err := e.Store.GetAccount(ctx, number); err != nil {
		return nil, err
	}
	f.AccountNumber = &number
	return e.Store.ListTransactions(ctx, f)
}

// =============================================================================
// HELPERS
// =============================================================================

func requireActive(a *ledger.Account) error {
	if !a.IsActive() {
		return fmt.Errorf("%w: account %s is %s", ledger.ErrInvalidState, a.Number, a.Status)
	}
	return nil
}

// branchFor stamps the actor's branch, falling back to the account's.
func branchFor(actor ledger.Actor, a *ledger.Account) ledger.BranchID {
	if actor.BranchID != "" {
		return actor.BranchID
	}
	return a.BranchID
}

func actorLabel(actor ledger.Actor) string {
	if actor.Name != "" {
		return actor.Name
	}
	return actor.ID
}

func (e *Engine) newTransaction(actor ledger.Actor, a *ledger.Account, amount decimal.Decimal, dir ledger.Direction, narration string) ledger.Transaction {
	return ledger.Transaction{
		ID:            ledger.TransactionID(uuid.NewString()),
		AccountNumber: a.Number,
		Amount:        amount,
		Direction:     dir,
		Narration:     narration,
		Date:          e.Now().UTC(),
		BranchID:      branchFor(actor, a),
		CreatedBy:     actor.ID,
	}
}

func movementVars(r *Receipt, actor ledger.Actor) map[string]string {
	return map[string]string{
		"account_number": string(r.Account.Number),
		"amount":         r.Transaction.Amount.StringFixed(ledger.MoneyScale),
		"balance":        r.Account.AvailableBalance.StringFixed(ledger.MoneyScale),
		"narration":      r.Transaction.Narration,
		"actor":          actorLabel(actor),
	}
}
