package account_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/savings-ledger/account"
	"github.com/warp/savings-ledger/ledger"
)

func TestRequestWithdrawal_InsufficientBalance(t *testing.T) {
	e, _, _ := newEngine(t)
	ctx := context.Background()

	// GIVEN: availableBalance = 150
	acct := openFunded(t, e, "u1", "150")

	// WHEN: 200 is requested
	_, err := e.RequestWithdrawal(ctx, account.WithdrawalInput{AccountNumber: acct.Number, Amount: dec("200"), Actor: cashier})

	// THEN: InsufficientBalance and no new ledger line
	assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)
	rows, err := e.Statement(ctx, acct.Number, ledger.TransactionFilter{})
	require.NoError(t, err)
	assert.Len(t, rows, 1, "only the funding deposit")

	pending, err := e.ListWithdrawalRequests(ctx, ledger.WithdrawalRequestFilter{})
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestRequestWithdrawal_CreatesPendingLine(t *testing.T) {
	e, _, _ := newEngine(t)
	ctx := context.Background()
	acct := openFunded(t, e, "u1", "500")

	req, err := e.RequestWithdrawal(ctx, account.WithdrawalInput{
		AccountNumber: acct.Number, Amount: dec("200"), Actor: cashier, Narration: "school fees",
	})
	require.NoError(t, err)
	assert.Equal(t, ledger.RequestPending, req.Status)
	assert.Equal(t, "staff-1", req.RequestedBy)

	// No balance moves yet
	bal, err := e.AvailableBalance(ctx, acct.Number)
	require.NoError(t, err)
	assert.True(t, bal.Equal(dec("500")))

	ref := string(req.ID)
	lines, err := e.Statement(ctx, acct.Number, ledger.TransactionFilter{ReferenceID: &ref})
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, ledger.DirectionPending, lines[0].Direction)
	assert.Equal(t, "school fees", lines[0].Reasons)

	branch := ledger.BranchID("br-1")
	listed, err := e.ListWithdrawalRequests(ctx, ledger.WithdrawalRequestFilter{BranchID: &branch})
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, req.ID, listed[0].ID)
}

func TestFulfillWithdrawal_OnlyOnce(t *testing.T) {
	e, _, n := newEngine(t)
	ctx := context.Background()
	acct := openFunded(t, e, "u1", "500")
	req, err := e.RequestWithdrawal(ctx, account.WithdrawalInput{AccountNumber: acct.Number, Amount: dec("200"), Actor: cashier})
	require.NoError(t, err)

	// WHEN: The request is fulfilled
	receipt, err := e.FulfillWithdrawal(ctx, req.ID, cashier)
	require.NoError(t, err)

	// THEN: Both balances drop and an outflow row references the request
	assert.Equal(t, "300.00", receipt.Account.AvailableBalance.StringFixed(2))
	assert.Equal(t, "300.00", receipt.Account.LedgerBalance.StringFixed(2))
	assert.Equal(t, ledger.DirectionOutflow, receipt.Transaction.Direction)
	assert.Equal(t, string(req.ID), receipt.Transaction.ReferenceID)

	stored, err := e.GetWithdrawalRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.RequestFulfilled, stored.Status)
	assert.Equal(t, receipt.Transaction.ID, stored.FulfillmentID)

	// AND: A second fulfil fails without debiting again
	notified := len(n.calls)
	_, err = e.FulfillWithdrawal(ctx, req.ID, cashier)
	assert.ErrorIs(t, err, ledger.ErrInvalidState)

	bal, err := e.LedgerBalance(ctx, acct.Number)
	require.NoError(t, err)
	assert.True(t, bal.Equal(dec("300")))
	assert.Len(t, n.calls, notified)

	pending, err := e.ListWithdrawalRequests(ctx, ledger.WithdrawalRequestFilter{})
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestFulfillWithdrawal_RechecksBalance(t *testing.T) {
	e, _, _ := newEngine(t)
	ctx := context.Background()
	acct := openFunded(t, e, "u1", "150")
	req, err := e.RequestWithdrawal(ctx, account.WithdrawalInput{AccountNumber: acct.Number, Amount: dec("100"), Actor: cashier})
	require.NoError(t, err)

	// GIVEN: Funds were held after the request was made
	_, err = e.PutOnHold(ctx, acct.Number, dec("100"))
	require.NoError(t, err)

	// WHEN/THEN: Fulfilment is refused and the request stays pending
	_, err = e.FulfillWithdrawal(ctx, req.ID, cashier)
	assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)

	stored, err := e.GetWithdrawalRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.RequestPending, stored.Status)
}

func TestRejectWithdrawal(t *testing.T) {
	e, _, _ := newEngine(t)
	ctx := context.Background()
	acct := openFunded(t, e, "u1", "500")
	req, err := e.RequestWithdrawal(ctx, account.WithdrawalInput{AccountNumber: acct.Number, Amount: dec("200"), Actor: cashier})
	require.NoError(t, err)

	_, err = e.RejectWithdrawal(ctx, req.ID, "", cashier)
	assert.ErrorIs(t, err, ledger.ErrValidation)

	rejected, err := e.RejectWithdrawal(ctx, req.ID, "signature mismatch", cashier)
	require.NoError(t, err)
	assert.Equal(t, ledger.RequestRejected, rejected.Status)
	assert.Equal(t, "signature mismatch", rejected.Reason)

	_, err = e.FulfillWithdrawal(ctx, req.ID, cashier)
	assert.ErrorIs(t, err, ledger.ErrInvalidState)

	_, err = e.RejectWithdrawal(ctx, "missing", "x", cashier)
	assert.ErrorIs(t, err, ledger.ErrNotFound)

	bal, err := e.AvailableBalance(ctx, acct.Number)
	require.NoError(t, err)
	assert.True(t, bal.Equal(dec("500")))
}

func TestFulfillWithdrawal_AtomicWhenLedgerWriteFails(t *testing.T) {
	e, _, n := newEngine(t)
	ctx := context.Background()

	// GIVEN: available = ledger = 500 and a pending request for 200
	acct := openFunded(t, e, "u1", "500")
	req, err := e.RequestWithdrawal(ctx, account.WithdrawalInput{AccountNumber: acct.Number, Amount: dec("200"), Actor: cashier})
	require.NoError(t, err)
	n.calls = nil

	// WHEN: Fulfilment runs while the general-ledger writer fails
	journal := e.Journal
	e.Journal = failingJournal{}
	_, err = e.FulfillWithdrawal(ctx, req.ID, cashier)
	require.Error(t, err)

	// THEN: Balances, the request and the log are exactly as before
	after, err := e.GetAccount(ctx, acct.Number)
	require.NoError(t, err)
	assert.Equal(t, "500.00", after.AvailableBalance.StringFixed(2))
	assert.Equal(t, "500.00", after.LedgerBalance.StringFixed(2))

	stored, err := e.GetWithdrawalRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.RequestPending, stored.Status)
	assert.Empty(t, stored.FulfillmentID)

	ref := string(req.ID)
	outflow := ledger.DirectionOutflow
	rows, err := e.Statement(ctx, acct.Number, ledger.TransactionFilter{ReferenceID: &ref, Direction: &outflow})
	require.NoError(t, err)
	assert.Empty(t, rows)
	assert.Empty(t, n.calls)

	// AND: Once the writer recovers the request can still be fulfilled
	e.Journal = journal
	receipt, err := e.FulfillWithdrawal(ctx, req.ID, cashier)
	require.NoError(t, err)
	assert.Equal(t, "300.00", receipt.Account.AvailableBalance.StringFixed(2))
	assert.Equal(t, "300.00", receipt.Account.LedgerBalance.StringFixed(2))
}
