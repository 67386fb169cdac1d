package savings

import (
	"context"
	"strconv"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/savings-ledger/account"
	"github.com/warp/savings-ledger/ledger"
	"github.com/warp/savings-ledger/notify"
)

// =============================================================================
// CONTRIBUTIONS
// =============================================================================

type ContributeInput struct {
	AccountNumber ledger.AccountNumber
	Target        string
	Amount        decimal.Decimal
	Actor         ledger.Actor
}

type ContributionReceipt struct {
	Package      ledger.Package
	Contribution ledger.Contribution
	Charge       *ledger.Charge // set when this contribution opened a new cycle
	Transaction  ledger.Transaction
}

// Contribute pays amount into the open package for (account, target).
//
// Order of effects, all in one scope:
//  1. locate the open package
//  2. validate amount against the cycle unit
//  3. add amount and units to the package
//  4. take one cycle unit as a charge if a new cycle started
//  5. record the gross amount in the general ledger
//  6. append an inflow audit row on the account
//
// The account balances are not touched: package money is tracked on the
// package until it is withdrawn.
func (e *Engine) Contribute(ctx context.Context, in ContributeInput) (*ContributionReceipt, error) {
	if err := ledger.ValidateAmount(in.Amount); err != nil {
		return nil, err
	}

	var receipt *ContributionReceipt
	err := e.Store.WithTx(ctx, func(tx ledger.Store) error {
		pkg, err := tx.FindOpenPackage(ctx, in.AccountNumber, in.Target)
		if err != nil {
			return err
		}
		units, err := e.Policy.Units(in.Amount, pkg.CycleUnit)
		if err != nil {
			return err
		}

		updated, err := tx.ApplyContribution(ctx, pkg.ID, in.Amount, units)
		if err != nil {
			return err
		}

		now := e.Now().UTC()
		branch := branchFor(in.Actor, updated)
		contribution := ledger.Contribution{
			ID:            ledger.ContributionID(uuid.NewString()),
			PackageID:     updated.ID,
			AccountNumber: updated.AccountNumber,
			Amount:        in.Amount,
			Units:         units,
			RunningCount:  updated.TotalCount,
			CreatedBy:     in.Actor.ID,
			BranchID:      branch,
			Date:          now,
		}
		if err := tx.AppendContribution(ctx, contribution); err != nil {
			return err
		}

		charge, err := e.chargeCycle(ctx, tx, updated, branch)
		if err != nil {
			return err
		}
		if charge != nil {
			if updated, err = tx.GetPackage(ctx, pkg.ID); err != nil {
				return err
			}
		}

		narration := contributionNarration(updated.Kind)
		if _, err := e.Journal.Record(ctx, tx, ledger.LedgerEntry{
			Type:        ledger.SavingsEntryType(updated.Kind),
			Direction:   ledger.DirectionInflow,
			Amount:      in.Amount,
			UserID:      updated.UserID,
			BranchID:    branch,
			Narration:   narration,
			ReferenceID: string(updated.ID),
		}); err != nil {
			return err
		}

		txn := ledger.Transaction{
			ID:            ledger.TransactionID(uuid.NewString()),
			AccountNumber: updated.AccountNumber,
			Amount:        in.Amount,
			Direction:     ledger.DirectionInflow,
			Narration:     narration,
			Date:          now,
			BranchID:      branch,
			CreatedBy:     in.Actor.ID,
			Reasons:       updated.Target,
			ReferenceID:   string(updated.ID),
		}
		if err := tx.AppendTransaction(ctx, txn); err != nil {
			return err
		}

		receipt = &ContributionReceipt{
			Package:      *updated,
			Contribution: contribution,
			Charge:       charge,
			Transaction:  txn,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	pkg := receipt.Package
	fields := []zap.Field{
		zap.String("package_id", string(pkg.ID)),
		zap.String("amount", in.Amount.String()),
		zap.Int("units", receipt.Contribution.Units),
		zap.Int("total_count", pkg.TotalCount),
	}
	if receipt.Charge != nil {
		fields = append(fields, zap.String("charge", receipt.Charge.Amount.String()))
	}
	e.Log.Info("contribution committed", fields...)
	e.Notifier.Dispatch(pkg.UserID, notify.TemplateContributionAlert, map[string]string{
		"target": pkg.Target,
		"amount": in.Amount.StringFixed(ledger.MoneyScale),
		"units":  strconv.Itoa(receipt.Contribution.Units),
		"total":  pkg.TotalContribution.StringFixed(ledger.MoneyScale),
		"actor":  actorLabel(in.Actor),
	})
	return receipt, nil
}

// chargeCycle takes one cycle unit when the package has started more cycles
// than it has paid for. Returns nil when nothing is owed.
func (e *Engine) chargeCycle(ctx context.Context, tx ledger.Store, pkg *ledger.Package, branch ledger.BranchID) (*ledger.Charge, error) {
	owed := e.Policy.ExpectedDeductions(pkg.TotalCount)
	if pkg.DeductionCount >= owed {
		return nil, nil
	}
	// One unit per charge event even if several cycles were crossed at once.
	if _, err := tx.ApplyCharge(ctx, pkg.ID, pkg.CycleUnit, owed-pkg.DeductionCount); err != nil {
		return nil, err
	}

	charge := ledger.Charge{
		ID:            ledger.ChargeID(uuid.NewString()),
		PackageID:     pkg.ID,
		AccountNumber: pkg.AccountNumber,
		BranchID:      branch,
		UserID:        pkg.UserID,
		Amount:        pkg.CycleUnit,
		TotalCount:    pkg.TotalCount,
		Date:          e.Now().UTC(),
	}
	if err := tx.AppendCharge(ctx, charge); err != nil {
		return nil, err
	}
	if _, err := e.Journal.Record(ctx, tx, ledger.LedgerEntry{
		Type:        ledger.EntryCharge,
		Direction:   ledger.DirectionOutflow,
		Amount:      charge.Amount,
		UserID:      pkg.UserID,
		BranchID:    branch,
		Narration:   ledger.NarrationContributionCharge,
		ReferenceID: string(pkg.ID),
	}); err != nil {
		return nil, err
	}
	return &charge, nil
}

// =============================================================================
// WITHDRAWALS
// =============================================================================

type WithdrawInput struct {
	AccountNumber ledger.AccountNumber
	Target        string
	Amount        decimal.Decimal
	Actor         ledger.Actor
}

type WithdrawReceipt struct {
	Package ledger.Package
	Deposit account.Receipt // credit on the owning account
}

// Withdraw moves amount from a package back to its account. A package
// emptied this way is closed.
func (e *Engine) Withdraw(ctx context.Context, in WithdrawInput) (*WithdrawReceipt, error) {
	if err := ledger.ValidateAmount(in.Amount); err != nil {
		return nil, err
	}

	var receipt *WithdrawReceipt
	err := e.Store.WithTx(ctx, func(tx ledger.Store) error {
		pkg, err := tx.FindOpenPackage(ctx, in.AccountNumber, in.Target)
		if err != nil {
			return err
		}
		if pkg.TotalContribution.LessThan(in.Amount) {
			return &ledger.InsufficientBalanceError{
				Subject:   string(pkg.ID),
				Available: pkg.TotalContribution,
				Requested: in.Amount,
			}
		}

		updated, err := tx.DebitPackage(ctx, pkg.ID, in.Amount)
		if err != nil {
			return err
		}

		deposit, err := e.Movements.DepositWithin(ctx, tx, account.DepositInput{
			AccountNumber: pkg.AccountNumber,
			Amount:        in.Amount,
			Actor:         in.Actor,
			Narration:     ledger.NarrationSavingsWithdrawal,
		})
		if err != nil {
			return err
		}

		if _, err := e.Journal.Record(ctx, tx, ledger.LedgerEntry{
			Type:        ledger.SavingsEntryType(pkg.Kind),
			Direction:   ledger.DirectionOutflow,
			Amount:      in.Amount,
			UserID:      pkg.UserID,
			BranchID:    branchFor(in.Actor, pkg),
			Narration:   ledger.NarrationSavingsWithdrawal,
			ReferenceID: string(pkg.ID),
		}); err != nil {
			return err
		}

		if updated.TotalContribution.IsZero() {
			if err := tx.TransitionPackage(ctx, pkg.ID, ledger.PackageOpen, ledger.PackageClosed, nil); err != nil {
				return err
			}
			if updated, err = tx.GetPackage(ctx, pkg.ID); err != nil {
				return err
			}
		}

		receipt = &WithdrawReceipt{Package: *updated, Deposit: *deposit}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.Log.Info("package withdrawal committed",
		zap.String("package_id", string(receipt.Package.ID)),
		zap.String("amount", in.Amount.String()),
		zap.String("status", string(receipt.Package.Status)))
	e.Notifier.Dispatch(receipt.Package.UserID, notify.TemplatePackageWithdrawal, map[string]string{
		"target":    receipt.Package.Target,
		"amount":    in.Amount.StringFixed(ledger.MoneyScale),
		"remaining": receipt.Package.TotalContribution.StringFixed(ledger.MoneyScale),
		"balance":   receipt.Deposit.Account.AvailableBalance.StringFixed(ledger.MoneyScale),
		"actor":     actorLabel(in.Actor),
	})
	return receipt, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func contributionNarration(k ledger.PackageKind) string {
	if k == ledger.PackageSB {
		return ledger.NarrationSBContribution
	}
	return ledger.NarrationDailyContribution
}

func branchFor(actor ledger.Actor, p *ledger.Package) ledger.BranchID {
	if actor.BranchID != "" {
		return actor.BranchID
	}
	return p.BranchID
}

func actorLabel(actor ledger.Actor) string {
	if actor.Name != "" {
		return actor.Name
	}
	return actor.ID
}
