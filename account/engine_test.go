package account_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/savings-ledger/account"
	"github.com/warp/savings-ledger/ledger"
	"github.com/warp/savings-ledger/notify"
	"github.com/warp/savings-ledger/store/sqlite"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

type dispatched struct {
	UserID   ledger.UserID
	Template notify.Template
	Vars     map[string]string
}

type recordingNotifier struct {
	mu    sync.Mutex
	calls []dispatched
}

func (n *recordingNotifier) Dispatch(userID ledger.UserID, t notify.Template, vars map[string]string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, dispatched{userID, t, vars})
}

// failingJournal simulates the general-ledger writer failing after the
// balance and transaction writes have already been issued.
type failingJournal struct{}

func (failingJournal) Record(context.Context, ledger.GeneralLedgerStore, ledger.LedgerEntry) (*ledger.LedgerEntry, error) {
	return nil, errors.New("general ledger unavailable")
}

var cashier = ledger.Actor{ID: "staff-1", Name: "Cashier One", BranchID: "br-1"}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newEngine(t *testing.T) (*account.Engine, *sqlite.Store, *recordingNotifier) {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	n := &recordingNotifier{}
	return account.NewEngine(store, ledger.NewGeneralLedger(), n, nil), store, n
}

// openFunded opens a savings account and deposits balance into it.
func openFunded(t *testing.T, e *account.Engine, user ledger.UserID, balance string) *ledger.Account {
	t.Helper()
	ctx := context.Background()
	acct, err := e.OpenAccount(ctx, account.OpenAccountInput{UserID: user, Type: ledger.AccountSavings, BranchID: "br-1"})
	require.NoError(t, err)
	if balance != "0" {
		_, err = e.Deposit(ctx, account.DepositInput{AccountNumber: acct.Number, Amount: dec(balance), Actor: cashier})
		require.NoError(t, err)
	}
	acct, err = e.GetAccount(ctx, acct.Number)
	require.NoError(t, err)
	return acct
}

// =============================================================================
// ACCOUNT LIFECYCLE
// =============================================================================

func TestOpenAccount(t *testing.T) {
	e, _, _ := newEngine(t)
	ctx := context.Background()

	acct, err := e.OpenAccount(ctx, account.OpenAccountInput{UserID: "u1", Type: ledger.AccountSavings})
	require.NoError(t, err)
	assert.Len(t, string(acct.Number), 10)
	assert.True(t, acct.AvailableBalance.IsZero())
	assert.Equal(t, ledger.AccountActive, acct.Status)

	_, err = e.OpenAccount(ctx, account.OpenAccountInput{UserID: "u1", Type: ledger.AccountSavings})
	assert.ErrorIs(t, err, ledger.ErrDuplicateAccount)

	_, err = e.OpenAccount(ctx, account.OpenAccountInput{UserID: "u1", Type: "crypto"})
	assert.ErrorIs(t, err, ledger.ErrValidation)
}

func TestOpenAccount_RetriesTakenNumbers(t *testing.T) {
	e, _, _ := newEngine(t)
	ctx := context.Background()

	// GIVEN: A generator that first yields a number already in use
	first := openFunded(t, e, "u1", "0")
	candidates := []ledger.AccountNumber{first.Number, first.Number, "1234567890"}
	e.Numbers = func() ledger.AccountNumber {
		n := candidates[0]
		candidates = candidates[1:]
		return n
	}

	// WHEN: Another account is opened
	acct, err := e.OpenAccount(ctx, account.OpenAccountInput{UserID: "u2", Type: ledger.AccountSavings})

	// THEN: The free number is used
	require.NoError(t, err)
	assert.Equal(t, ledger.AccountNumber("1234567890"), acct.Number)
}

// =============================================================================
// DEPOSITS
// =============================================================================

func TestDeposit_CreditsBothBalances(t *testing.T) {
	e, _, n := newEngine(t)
	ctx := context.Background()

	// GIVEN: available = ledger = 1000
	acct := openFunded(t, e, "u1", "1000")

	// WHEN: 500 is deposited
	receipt, err := e.Deposit(ctx, account.DepositInput{AccountNumber: acct.Number, Amount: dec("500"), Actor: cashier})
	require.NoError(t, err)

	// THEN: Both balances are 1500 and exactly one inflow row of 500 exists
	assert.Equal(t, "1500.00", receipt.Account.AvailableBalance.StringFixed(2))
	assert.Equal(t, "1500.00", receipt.Account.LedgerBalance.StringFixed(2))

	inflow := ledger.DirectionInflow
	rows, err := e.Statement(ctx, acct.Number, ledger.TransactionFilter{Direction: &inflow})
	require.NoError(t, err)
	var of500 int
	for _, r := range rows {
		if r.Amount.Equal(dec("500")) {
			of500++
		}
	}
	assert.Equal(t, 1, of500)

	require.Len(t, n.calls, 2)
	last := n.calls[1]
	assert.Equal(t, notify.TemplateDepositAlert, last.Template)
	assert.Equal(t, "1500.00", last.Vars["balance"])
	assert.Equal(t, "Cashier One", last.Vars["actor"])
}

func TestDeposit_Rejections(t *testing.T) {
	e, _, n := newEngine(t)
	ctx := context.Background()
	acct := openFunded(t, e, "u1", "0")

	for _, amount := range []string{"0", "-10", "1.001"} {
		_, err := e.Deposit(ctx, account.DepositInput{AccountNumber: acct.Number, Amount: dec(amount)})
		assert.ErrorIs(t, err, ledger.ErrInvalidAmount, amount)
	}

	_, err := e.Deposit(ctx, account.DepositInput{AccountNumber: "0000000000", Amount: dec("10")})
	assert.ErrorIs(t, err, ledger.ErrNotFound)

	_, err = e.SetStatus(ctx, acct.Number, ledger.AccountInactive)
	require.NoError(t, err)
	_, err = e.Deposit(ctx, account.DepositInput{AccountNumber: acct.Number, Amount: dec("10")})
	assert.ErrorIs(t, err, ledger.ErrInvalidState)

	assert.Empty(t, n.calls, "failed movements never notify")
}

func TestDeposit_RejectsAmountBeyondMaximum(t *testing.T) {
	e, _, _ := newEngine(t)
	ctx := context.Background()

	// GIVEN: available = ledger = 1000
	acct := openFunded(t, e, "u1", "1000")

	// WHEN: A deposit far above the maximum is attempted
	_, err := e.Deposit(ctx, account.DepositInput{AccountNumber: acct.Number, Amount: dec("100000000000000000"), Actor: cashier})

	// THEN: It is rejected and both balances are unchanged
	assert.ErrorIs(t, err, ledger.ErrInvalidAmount)
	after, err := e.GetAccount(ctx, acct.Number)
	require.NoError(t, err)
	assert.Equal(t, "1000.00", after.AvailableBalance.StringFixed(2))
	assert.Equal(t, "1000.00", after.LedgerBalance.StringFixed(2))
}

func TestDeposit_AtomicWhenLedgerWriteFails(t *testing.T) {
	e, _, n := newEngine(t)
	ctx := context.Background()
	acct := openFunded(t, e, "u1", "1000")
	n.calls = nil

	// GIVEN: The general-ledger writer fails after the first writes
	e.Journal = failingJournal{}

	// WHEN: A deposit is attempted
	_, err := e.Deposit(ctx, account.DepositInput{AccountNumber: acct.Number, Amount: dec("500"), Actor: cashier})
	require.Error(t, err)

	// THEN: Balances and the transaction log are exactly as before
	after, err := e.GetAccount(ctx, acct.Number)
	require.NoError(t, err)
	assert.True(t, after.AvailableBalance.Equal(dec("1000")))
	assert.True(t, after.LedgerBalance.Equal(dec("1000")))

	rows, err := e.Statement(ctx, acct.Number, ledger.TransactionFilter{})
	require.NoError(t, err)
	assert.Len(t, rows, 1)
	assert.Empty(t, n.calls)
}

func TestDeposit_ConcurrentIncrementsAreNotLost(t *testing.T) {
	e, _, _ := newEngine(t)
	ctx := context.Background()
	acct := openFunded(t, e, "u1", "0")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.Deposit(ctx, account.DepositInput{AccountNumber: acct.Number, Amount: dec("10"), Actor: cashier})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	bal, err := e.LedgerBalance(ctx, acct.Number)
	require.NoError(t, err)
	assert.Equal(t, "200.00", bal.StringFixed(2))
}

// =============================================================================
// HOLDS
// =============================================================================

func TestHold_RoundTrip(t *testing.T) {
	e, _, _ := newEngine(t)
	ctx := context.Background()
	acct := openFunded(t, e, "u1", "1000")

	held, err := e.PutOnHold(ctx, acct.Number, dec("300"))
	require.NoError(t, err)
	assert.Equal(t, "700.00", held.AvailableBalance.StringFixed(2))
	assert.Equal(t, "1000.00", held.LedgerBalance.StringFixed(2))

	released, err := e.ReleaseHold(ctx, acct.Number, dec("300"))
	require.NoError(t, err)
	assert.True(t, released.AvailableBalance.Equal(acct.AvailableBalance))
	assert.True(t, released.LedgerBalance.Equal(acct.LedgerBalance))
}

func TestHold_Guards(t *testing.T) {
	e, _, _ := newEngine(t)
	ctx := context.Background()
	acct := openFunded(t, e, "u1", "100")

	_, err := e.PutOnHold(ctx, acct.Number, dec("150"))
	var ib *ledger.InsufficientBalanceError
	require.ErrorAs(t, err, &ib)
	assert.Equal(t, "50", ib.Shortfall().String())

	_, err = e.ReleaseHold(ctx, acct.Number, dec("1"))
	assert.ErrorIs(t, err, ledger.ErrInsufficientHeldFunds)

	_, err = e.PutOnHold(ctx, "0000000000", dec("1"))
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestSpendHeld(t *testing.T) {
	e, _, n := newEngine(t)
	ctx := context.Background()
	acct := openFunded(t, e, "u1", "1000")
	_, err := e.PutOnHold(ctx, acct.Number, dec("300"))
	require.NoError(t, err)

	receipt, err := e.SpendHeld(ctx, acct.Number, dec("200"), cashier)
	require.NoError(t, err)
	assert.Equal(t, "700.00", receipt.Account.AvailableBalance.StringFixed(2))
	assert.Equal(t, "800.00", receipt.Account.LedgerBalance.StringFixed(2))
	assert.Equal(t, ledger.DirectionOutflow, receipt.Transaction.Direction)

	// Only 100 is still held
	_, err = e.SpendHeld(ctx, acct.Number, dec("200"), cashier)
	assert.ErrorIs(t, err, ledger.ErrInsufficientHeldFunds)

	assert.Equal(t, notify.TemplateWithdrawalAlert, n.calls[len(n.calls)-1].Template)
}

// =============================================================================
// CONSERVATION
// =============================================================================

func TestBalanceConservation(t *testing.T) {
	e, store, _ := newEngine(t)
	ctx := context.Background()
	acct := openFunded(t, e, "u1", "1000")

	_, err := e.Deposit(ctx, account.DepositInput{AccountNumber: acct.Number, Amount: dec("250.50"), Actor: cashier})
	require.NoError(t, err)
	req, err := e.RequestWithdrawal(ctx, account.WithdrawalInput{AccountNumber: acct.Number, Amount: dec("400"), Actor: cashier})
	require.NoError(t, err)
	_, err = e.FulfillWithdrawal(ctx, req.ID, cashier)
	require.NoError(t, err)
	_, err = e.PutOnHold(ctx, acct.Number, dec("100"))
	require.NoError(t, err)
	_, err = e.SpendHeld(ctx, acct.Number, dec("60"), cashier)
	require.NoError(t, err)

	rows, err := e.Statement(ctx, acct.Number, ledger.TransactionFilter{})
	require.NoError(t, err)
	net := decimal.Zero
	for _, r := range rows {
		switch r.Direction {
		case ledger.DirectionInflow:
			net = net.Add(r.Amount)
		case ledger.DirectionOutflow:
			net = net.Sub(r.Amount)
		}
	}

	final, err := e.GetAccount(ctx, acct.Number)
	require.NoError(t, err)
	assert.True(t, final.LedgerBalance.Equal(net), "ledger %s != net %s", final.LedgerBalance, net)

	entries, err := store.ListLedgerEntries(ctx, ledger.LedgerEntryFilter{})
	require.NoError(t, err)
	assert.Len(t, entries, 4)
}
