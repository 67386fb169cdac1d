package account

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/savings-ledger/ledger"
	"github.com/warp/savings-ledger/notify"
)

// =============================================================================
// DEPOSITS
// =============================================================================

type DepositInput struct {
	AccountNumber ledger.AccountNumber
	Amount        decimal.Decimal
	Actor         ledger.Actor
	Narration     string // defaults to NarrationDeposit
}

// Deposit credits both balances, appends an inflow row and a deposit
// general-ledger entry, then alerts the owner.
func (e *Engine) Deposit(ctx context.Context, in DepositInput) (*Receipt, error) {
	if err := ledger.ValidateAmount(in.Amount); err != nil {
		return nil, err
	}

	var receipt *Receipt
	err := e.Store.WithTx(ctx, func(tx ledger.Store) error {
		var err error
		receipt, err = e.DepositWithin(ctx, tx, in)
		return err
	})
	if err != nil {
		return nil, err
	}

	e.Log.Info("deposit committed",
		zap.String("account_number", string(in.AccountNumber)),
		zap.String("amount", in.Amount.String()),
		zap.String("transaction_id", string(receipt.Transaction.ID)))
	e.Notifier.Dispatch(receipt.Account.UserID, notify.TemplateDepositAlert, movementVars(receipt, in.Actor))
	return receipt, nil
}

// DepositWithin applies a deposit inside a scope owned by the caller. It
// sends no notification.
func (e *Engine) DepositWithin(ctx context.Context, s ledger.Store, in DepositInput) (*Receipt, error) {
	if err := ledger.ValidateAmount(in.Amount); err != nil {
		return nil, err
	}

	acct, err := s.GetAccountForUpdate(ctx, in.AccountNumber)
	if err != nil {
		return nil, err
	}
	if err := requireActive(acct); err != nil {
		return nil, err
	}

	narration := in.Narration
	if narration == "" {
		narration = ledger.NarrationDeposit
	}
	txn := e.newTransaction(in.Actor, acct, in.Amount, ledger.DirectionInflow, narration)
	if err := s.AppendTransaction(ctx, txn); err != nil {
		return nil, err
	}

	updated, err := s.AdjustBalances(ctx, acct.Number, in.Amount, in.Amount)
	if err != nil {
		return nil, err
	}

	if _, err := e.Journal.Record(ctx, s, ledger.LedgerEntry{
		Type:        ledger.EntryDeposit,
		Direction:   ledger.DirectionInflow,
		Amount:      in.Amount,
		UserID:      acct.UserID,
		BranchID:    txn.BranchID,
		Narration:   narration,
		ReferenceID: string(txn.ID),
	}); err != nil {
		return nil, err
	}

	return &Receipt{Account: *updated, Transaction: txn}, nil
}

// =============================================================================
// HOLDS
// =============================================================================

// PutOnHold moves amount out of the available balance. The ledger balance is
// untouched. Fails with InsufficientBalance rather than go below zero.
func (e *Engine) PutOnHold(ctx context.Context, number ledger.AccountNumber, amount decimal.Decimal) (*ledger.Account, error) {
	if err := ledger.ValidateAmount(amount); err != nil {
		return nil, err
	}

	var updated *ledger.Account
	err := e.Store.WithTx(ctx, func(tx ledger.Store) error {
		acct, err := tx.GetAccountForUpdate(ctx, number)
		if err != nil {
			return err
		}
		if err := requireActive(acct); err != nil {
			return err
		}
		if acct.AvailableBalance.LessThan(amount) {
			return &ledger.InsufficientBalanceError{
				Subject:   string(number),
				Available: acct.AvailableBalance,
				Requested: amount,
			}
		}
		updated, err = tx.AdjustBalances(ctx, number, amount.Neg(), decimal.Zero)
		return err
	})
	if err != nil {
		return nil, err
	}

	e.Log.Info("funds held", zap.String("account_number", string(number)), zap.String("amount", amount.String()))
	return updated, nil
}

// ReleaseHold returns held funds to the available balance.
func (e *Engine) ReleaseHold(ctx context.Context, number ledger.AccountNumber, amount decimal.Decimal) (*ledger.Account, error) {
	if err := ledger.ValidateAmount(amount); err != nil {
		return nil, err
	}

	var updated *ledger.Account
	err := e.Store.WithTx(ctx, func(tx ledger.Store) error {
		acct, err := tx.GetAccountForUpdate(ctx, number)
		if err != nil {
			return err
		}
		if err := requireHeld(acct, amount); err != nil {
			return err
		}
		updated, err = tx.AdjustBalances(ctx, number, amount, decimal.Zero)
		return err
	})
	if err != nil {
		return nil, err
	}

	e.Log.Info("hold released", zap.String("account_number", string(number)), zap.String("amount", amount.String()))
	return updated, nil
}

// SpendHeld pays amount out of held funds: the ledger balance drops, the
// available balance (already reduced by the hold) does not.
func (e *Engine) SpendHeld(ctx context.Context, number ledger.AccountNumber, amount decimal.Decimal, actor ledger.Actor) (*Receipt, error) {
	if err := ledger.ValidateAmount(amount); err != nil {
		return nil, err
	}

	var receipt *Receipt
	err := e.Store.WithTx(ctx, func(tx ledger.Store) error {
		acct, err := tx.GetAccountForUpdate(ctx, number)
		if err != nil {
			return err
		}
		if err := requireActive(acct); err != nil {
			return err
		}
		if err := requireHeld(acct, amount); err != nil {
			return err
		}

		txn := e.newTransaction(actor, acct, amount, ledger.DirectionOutflow, ledger.NarrationHeldFundsSpent)
		if err := tx.AppendTransaction(ctx, txn); err != nil {
			return err
		}
		updated, err := tx.AdjustBalances(ctx, number, decimal.Zero, amount.Neg())
		if err != nil {
			return err
		}
		if _, err := e.Journal.Record(ctx, tx, ledger.LedgerEntry{
			Type:        ledger.EntryWithdrawal,
			Direction:   ledger.DirectionOutflow,
			Amount:      amount,
			UserID:      acct.UserID,
			BranchID:    txn.BranchID,
			Narration:   txn.Narration,
			ReferenceID: string(txn.ID),
		}); err != nil {
			return err
		}
		receipt = &Receipt{Account: *updated, Transaction: txn}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.Log.Info("held funds spent", zap.String("account_number", string(number)), zap.String("amount", amount.String()))
	e.Notifier.Dispatch(receipt.Account.UserID, notify.TemplateWithdrawalAlert, movementVars(receipt, actor))
	return receipt, nil
}

func requireHeld(a *ledger.Account, amount decimal.Decimal) error {
	held := a.HeldAmount()
	if amount.GreaterThan(held) {
		return fmt.Errorf("%w: account %s holds %s, requested %s",
			ledger.ErrInsufficientHeldFunds, a.Number, held.StringFixed(ledger.MoneyScale), amount)
	}
	return nil
}
