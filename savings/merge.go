package savings

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/savings-ledger/ledger"
)

type MergeInput struct {
	TargetID  ledger.PackageID
	SourceIDs []ledger.PackageID
	Actor     ledger.Actor
}

type MergeReceipt struct {
	Target       ledger.Package
	Closed       []ledger.PackageID
	MovedRows    int64               // contribution rows reassigned to the target
	Transaction  *ledger.Transaction // nil when every source was empty
	MergedAmount decimal.Decimal
}

// MergePackages folds open sources into an open target on the same account.
// Sources are validated as a whole before anything is written; any failure
// rolls the entire merge back.
func (e *Engine) MergePackages(ctx context.Context, in MergeInput) (*MergeReceipt, error) {
	if err := checkSourceIDs(in.TargetID, in.SourceIDs); err != nil {
		return nil, err
	}

	var receipt *MergeReceipt
	err := e.Store.WithTx(ctx, func(tx ledger.Store) error {
		// Lock target and sources before reading totals, so no contribution
		// or withdrawal can land on a source between the read and its close.
		ids := append([]ledger.PackageID{in.TargetID}, in.SourceIDs...)
		locked, err := tx.GetPackagesForUpdate(ctx, ids)
		if err != nil {
			return err
		}

		var target *ledger.Package
		sources := make([]ledger.Package, 0, len(in.SourceIDs))
		for i := range locked {
			if locked[i].ID == in.TargetID {
				target = &locked[i]
				continue
			}
			sources = append(sources, locked[i])
		}
		if target == nil {
			return fmt.Errorf("%w: package %s does not exist", ledger.ErrInvalidTarget, in.TargetID)
		}
		if target.Status != ledger.PackageOpen {
			return fmt.Errorf("%w: package %s is %s", ledger.ErrInvalidTarget, target.ID, target.Status)
		}
		if len(sources) != len(in.SourceIDs) {
			return fmt.Errorf("%w: found %d of %d source packages", ledger.ErrInvalidSource, len(sources), len(in.SourceIDs))
		}
		sum := decimal.Zero
		for _, s := range sources {
			switch {
			case s.Status != ledger.PackageOpen:
				return fmt.Errorf("%w: package %s is %s", ledger.ErrInvalidSource, s.ID, s.Status)
			case s.AccountNumber != target.AccountNumber:
				return fmt.Errorf("%w: package %s belongs to another account", ledger.ErrInvalidSource, s.ID)
			case s.Kind != target.Kind:
				return fmt.Errorf("%w: package %s is a %s package", ledger.ErrInvalidSource, s.ID, s.Kind)
			}
			sum = sum.Add(s.TotalContribution)
		}

		var moved int64
		closed := make([]ledger.PackageID, 0, len(sources))
		for _, s := range sources {
			n, err := tx.ReassignContributions(ctx, s.ID, target.ID)
			if err != nil {
				return err
			}
			moved += n
			if err := tx.TransitionPackage(ctx, s.ID, ledger.PackageOpen, ledger.PackageClosed, &target.ID); err != nil {
				return err
			}
			closed = append(closed, s.ID)
		}

		updated, err := tx.CreditPackage(ctx, target.ID, sum)
		if err != nil {
			return err
		}

		branch := branchFor(in.Actor, updated)
		// The consolidated line carries the new running total of the target.
		consolidated := updated.TotalContribution
		var txn *ledger.Transaction
		if consolidated.IsPositive() {
			txn = &ledger.Transaction{
				ID:            ledger.TransactionID(uuid.NewString()),
				AccountNumber: updated.AccountNumber,
				Amount:        consolidated,
				Direction:     ledger.DirectionInflow,
				Narration:     ledger.NarrationPackageMerge,
				Date:          e.Now().UTC(),
				BranchID:      branch,
				CreatedBy:     in.Actor.ID,
				Reasons:       updated.Target,
				ReferenceID:   string(updated.ID),
			}
			if err := tx.AppendTransaction(ctx, *txn); err != nil {
				return err
			}
		}

		if _, err := e.Journal.Record(ctx, tx, ledger.LedgerEntry{
			Type:        ledger.EntryMerge,
			Direction:   ledger.DirectionInflow,
			Amount:      consolidated,
			UserID:      updated.UserID,
			BranchID:    branch,
			Narration:   ledger.NarrationPackageMerge,
			ReferenceID: string(updated.ID),
		}); err != nil {
			return err
		}

		receipt = &MergeReceipt{
			Target:       *updated,
			Closed:       closed,
			MovedRows:    moved,
			Transaction:  txn,
			MergedAmount: sum,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.Log.Info("packages merged",
		zap.String("target_id", string(in.TargetID)),
		zap.Int("sources", len(receipt.Closed)),
		zap.Int64("contributions_moved", receipt.MovedRows),
		zap.String("total", receipt.Target.TotalContribution.String()))
	return receipt, nil
}

func checkSourceIDs(target ledger.PackageID, ids []ledger.PackageID) error {
	if target == "" {
		return fmt.Errorf("%w: target package id is required", ledger.ErrInvalidTarget)
	}
	if len(ids) == 0 {
		return fmt.Errorf("%w: at least one source package is required", ledger.ErrInvalidSource)
	}
	seen := make(map[ledger.PackageID]struct{}, len(ids))
	for _, id := range ids {
		if id == target {
			return fmt.Errorf("%w: package %s cannot be merged into itself", ledger.ErrInvalidSource, id)
		}
		if _, ok := seen[id]; ok {
			return fmt.Errorf("%w: package %s listed twice", ledger.ErrInvalidSource, id)
		}
		seen[id] = struct{}{}
	}
	return nil
}
