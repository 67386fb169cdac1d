package account

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/savings-ledger/ledger"
	"github.com/warp/savings-ledger/notify"
)

// =============================================================================
// WITHDRAWAL REQUESTS
// =============================================================================

type WithdrawalInput struct {
	AccountNumber ledger.AccountNumber
	Amount        decimal.Decimal
	Actor         ledger.Actor
	Narration     string
}

// RequestWithdrawal records a pending request and a pending-direction ledger
// line. No balance moves until the request is fulfilled.
func (e *Engine) RequestWithdrawal(ctx context.Context, in WithdrawalInput) (*ledger.WithdrawalRequest, error) {
	if err := ledger.ValidateAmount(in.Amount); err != nil {
		return nil, err
	}

	var req *ledger.WithdrawalRequest
	err := e.Store.WithTx(ctx, func(tx ledger.Store) error {
		acct, err := tx.GetAccountForUpdate(ctx, in.AccountNumber)
		if err != nil {
			return err
		}
		if err := requireActive(acct); err != nil {
			return err
		}
		if acct.AvailableBalance.LessThan(in.Amount) {
			return &ledger.InsufficientBalanceError{
				Subject:   string(acct.Number),
				Available: acct.AvailableBalance,
				Requested: in.Amount,
			}
		}

		narration := in.Narration
		if narration == "" {
			narration = ledger.NarrationWithdrawalRequest
		}
		r := ledger.WithdrawalRequest{
			ID:            ledger.RequestID(uuid.NewString()),
			AccountNumber: acct.Number,
			Amount:        in.Amount,
			Narration:     narration,
			Status:        ledger.RequestPending,
			BranchID:      branchFor(in.Actor, acct),
			RequestedBy:   in.Actor.ID,
		}
		if err := tx.CreateWithdrawalRequest(ctx, r); err != nil {
			return err
		}

		line := e.newTransaction(in.Actor, acct, in.Amount, ledger.DirectionPending, ledger.NarrationWithdrawalRequest)
		line.Reasons = in.Narration
		line.ReferenceID = string(r.ID)
		if err := tx.AppendTransaction(ctx, line); err != nil {
			return err
		}

		req, err = tx.GetWithdrawalRequest(ctx, r.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	e.Log.Info("withdrawal requested",
		zap.String("request_id", string(req.ID)),
		zap.String("account_number", string(req.AccountNumber)),
		zap.String("amount", req.Amount.String()))
	return req, nil
}

// ListWithdrawalRequests returns pending requests, newest first. Any Status
// set on the filter is ignored.
func (e *Engine) ListWithdrawalRequests(ctx context.Context, f ledger.WithdrawalRequestFilter) ([]ledger.WithdrawalRequest, error) {
	pending := ledger.RequestPending
	f.Status = &pending
	return e.Store.ListWithdrawalRequests(ctx, f)
}

func (e *Engine) GetWithdrawalRequest(ctx context.Context, id ledger.RequestID) (*ledger.WithdrawalRequest, error) {
	return e.Store.GetWithdrawalRequest(ctx, id)
}

// FulfillWithdrawal pays out a pending request. The request transition, the
// outflow line, both balance decrements and the general-ledger entry commit
// together or not at all. A second call fails with InvalidState.
func (e *Engine) FulfillWithdrawal(ctx context.Context, id ledger.RequestID, actor ledger.Actor) (*Receipt, error) {
	var receipt *Receipt
	err := e.Store.WithTx(ctx, func(tx ledger.Store) error {
		req, err := tx.GetWithdrawalRequest(ctx, id)
		if err != nil {
			return err
		}
		if err := req.CheckTransition(ledger.RequestFulfilled); err != nil {
			return err
		}

		acct, err := tx.GetAccountForUpdate(ctx, req.AccountNumber)
		if err != nil {
			return err
		}
		if err := requireActive(acct); err != nil {
			return err
		}
		// Balances may have moved since the request was made.
		if acct.LedgerBalance.LessThan(req.Amount) || acct.AvailableBalance.LessThan(req.Amount) {
			return &ledger.InsufficientBalanceError{
				Subject:   string(acct.Number),
				Available: decimal.Min(acct.LedgerBalance, acct.AvailableBalance),
				Requested: req.Amount,
			}
		}

		txn := e.newTransaction(actor, acct, req.Amount, ledger.DirectionOutflow, ledger.NarrationFundWithdrawal)
		txn.Reasons = req.Narration
		txn.ReferenceID = string(req.ID)

		if err := tx.TransitionWithdrawalRequest(ctx, id, ledger.RequestPending, ledger.RequestResolution{
			To:            ledger.RequestFulfilled,
			ResolvedBy:    actor.ID,
			FulfillmentID: txn.ID,
			At:            e.Now().UTC(),
		}); err != nil {
			return err
		}
		if err := tx.AppendTransaction(ctx, txn); err != nil {
			return err
		}
		updated, err := tx.AdjustBalances(ctx, acct.Number, req.Amount.Neg(), req.Amount.Neg())
		if err != nil {
			return err
		}
		if _, err := e.Journal.Record(ctx, tx, ledger.LedgerEntry{
			Type:        ledger.EntryWithdrawal,
			Direction:   ledger.DirectionOutflow,
			Amount:      req.Amount,
			UserID:      acct.UserID,
			BranchID:    txn.BranchID,
			Narration:   txn.Narration,
			ReferenceID: string(req.ID),
		}); err != nil {
			return err
		}

		receipt = &Receipt{Account: *updated, Transaction: txn}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.Log.Info("withdrawal fulfilled",
		zap.String("request_id", string(id)),
		zap.String("account_number", string(receipt.Account.Number)),
		zap.String("amount", receipt.Transaction.Amount.String()))
	e.Notifier.Dispatch(receipt.Account.UserID, notify.TemplateWithdrawalAlert, movementVars(receipt, actor))
	return receipt, nil
}

// RejectWithdrawal closes a pending request without moving funds.
func (e *Engine) RejectWithdrawal(ctx context.Context, id ledger.RequestID, reason string, actor ledger.Actor) (*ledger.WithdrawalRequest, error) {
	if reason == "" {
		return nil, fmt.Errorf("%w: a rejection reason is required", ledger.ErrValidation)
	}

	var req *ledger.WithdrawalRequest
	err := e.Store.WithTx(ctx, func(tx ledger.Store) error {
		current, err := tx.GetWithdrawalRequest(ctx, id)
		if err != nil {
			return err
		}
		if err := current.CheckTransition(ledger.RequestRejected); err != nil {
			return err
		}
		if err := tx.TransitionWithdrawalRequest(ctx, id, ledger.RequestPending, ledger.RequestResolution{
			To:         ledger.RequestRejected,
			ResolvedBy: actor.ID,
			Reason:     reason,
			At:         e.Now().UTC(),
		}); err != nil {
			return err
		}
		req, err = tx.GetWithdrawalRequest(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}

	e.Log.Info("withdrawal rejected", zap.String("request_id", string(id)), zap.String("reason", reason))
	return req, nil
}
