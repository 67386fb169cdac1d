/*
Package savings implements the contribution cycle engine.

PURPOSE:
  Manages savings packages held inside an account: daily-savings packages
  and SB packages that save toward a catalogue product. Contributions are
  paid in whole multiples of the package's cycle unit; the first unit of
  every cycle of Policy.CycleSize units costs one cycle unit as a service
  charge.

STATE MACHINE:
  ┌──────┐ zero-balance withdraw / merged away ┌────────┐
  │ Open │────────────────────────────────────▶│ Closed │
  └──────┘                                     └────────┘
     │ MarkPaid (SB, target reached)  ┌──────┐  MarkDelivered  ┌───────────┐
     └───────────────────────────────▶│ Paid │────────────────▶│ Delivered │
                                      └──────┘                 └───────────┘

  Nothing leaves Closed. Only Open packages accept money.

DEPENDENCIES:
  Funds leaving a package are credited to the owning account through the
  Movements interface, inside the same scope. The account package never
  depends on this one.

FILES:
  engine.go:        Engine, package creation, lifecycle, read side
  contributions.go: Contribute, Withdraw
  merge.go:         MergePackages
  policy.go:        cycle arithmetic
*/
package savings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/savings-ledger/account"
	"github.com/warp/savings-ledger/ledger"
	"github.com/warp/savings-ledger/notify"
)

// Movements credits an account inside a caller-owned scope.
// *account.Engine implements it.
type Movements interface {
	DepositWithin(ctx context.Context, s ledger.Store, in account.DepositInput) (*account.Receipt, error)
}

type Engine struct {
	Store     ledger.TxStore
	Movements Movements
	Journal   ledger.Journal
	Notifier  notify.Notifier
	Policy    Policy
	Log       *zap.Logger
	Now       func() time.Time
}

func NewEngine(store ledger.TxStore, movements Movements, journal ledger.Journal, notifier notify.Notifier, policy Policy, log *zap.Logger) *Engine {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		Store:     store,
		Movements: movements,
		Journal:   journal,
		Notifier:  notifier,
		Policy:    policy,
		Log:       log.Named("savings"),
		Now:       time.Now,
	}
}

// PackageView is a package with its catalogue product joined in (SB only).
type PackageView struct {
	ledger.Package
	Product *ledger.Product
}

// =============================================================================
// CREATION
// =============================================================================

type CreatePackageInput struct {
	AccountNumber ledger.AccountNumber
	Kind          ledger.PackageKind
	CycleUnit     decimal.Decimal
	Target        string
	TargetAmount  decimal.Decimal  // SB; defaults to the product price
	ProductID     *ledger.ProductID // SB
	Actor         ledger.Actor
}

// CreatePackage opens an empty package. Only one open package may exist per
// (account, target).
func (e *Engine) CreatePackage(ctx context.Context, in CreatePackageInput) (*PackageView, error) {
	if !in.Kind.Valid() {
		return nil, fmt.Errorf("%w: unknown package kind %q", ledger.ErrValidation, in.Kind)
	}
	if err := ledger.ValidateAmount(in.CycleUnit); err != nil {
		return nil, err
	}
	if !in.TargetAmount.IsZero() {
		if err := ledger.ValidateAmount(in.TargetAmount); err != nil {
			return nil, err
		}
	}

	acct, err := e.Store.GetAccount(ctx, in.AccountNumber)
	if err != nil {
		return nil, err
	}

	pkg := ledger.Package{
		ID:                ledger.PackageID(uuid.NewString()),
		Kind:              in.Kind,
		AccountNumber:     acct.Number,
		UserID:            acct.UserID,
		BranchID:          acct.BranchID,
		Target:            in.Target,
		CycleUnit:         in.CycleUnit,
		TargetAmount:      decimal.Zero,
		TotalContribution: decimal.Zero,
		TotalCharge:       decimal.Zero,
		Status:            ledger.PackageOpen,
	}
	if in.Actor.BranchID != "" {
		pkg.BranchID = in.Actor.BranchID
	}

	var product *ledger.Product
	if in.Kind == ledger.PackageSB {
		if in.ProductID == nil || *in.ProductID == "" {
			return nil, fmt.Errorf("%w: an SB package needs a product", ledger.ErrValidation)
		}
		product, err = e.Store.GetProduct(ctx, *in.ProductID)
		if err != nil {
			return nil, err
		}
		pkg.ProductID = &product.ID
		pkg.TargetAmount = product.Price
		if in.TargetAmount.IsPositive() {
			pkg.TargetAmount = in.TargetAmount
		}
		if pkg.Target == "" {
			pkg.Target = string(product.ID)
		}
	}
	if pkg.Target == "" {
		return nil, fmt.Errorf("%w: target is required", ledger.ErrValidation)
	}

	if err := e.Store.CreatePackage(ctx, pkg); err != nil {
		return nil, err
	}
	created, err := e.Store.GetPackage(ctx, pkg.ID)
	if err != nil {
		return nil, err
	}

	e.Log.Info("package created",
		zap.String("package_id", string(pkg.ID)),
		zap.String("account_number", string(pkg.AccountNumber)),
		zap.String("kind", string(pkg.Kind)),
		zap.String("target", pkg.Target))
	e.Notifier.Dispatch(pkg.UserID, notify.TemplatePackageWelcome, map[string]string{
		"target":     pkg.Target,
		"kind":       string(pkg.Kind),
		"cycle_unit": pkg.CycleUnit.StringFixed(ledger.MoneyScale),
	})
	return &PackageView{Package: *created, Product: product}, nil
}

// =============================================================================
// SB LIFECYCLE
// =============================================================================

// MarkPaid moves a fully funded SB package to paid.
func (e *Engine) MarkPaid(ctx context.Context, id ledger.PackageID) (*ledger.Package, error) {
	var out *ledger.Package
	err := e.Store.WithTx(ctx, func(tx ledger.Store) error {
		pkg, err := tx.GetPackage(ctx, id)
		if err != nil {
			return err
		}
		if pkg.Kind != ledger.PackageSB {
			return fmt.Errorf("%w: package %s is not an SB package", ledger.ErrInvalidState, id)
		}
		if pkg.TotalContribution.LessThan(pkg.TargetAmount) {
			return fmt.Errorf("%w: package %s has %s of %s", ledger.ErrInvalidState, id,
				pkg.TotalContribution.StringFixed(ledger.MoneyScale), pkg.TargetAmount.StringFixed(ledger.MoneyScale))
		}
		if err := tx.TransitionPackage(ctx, id, ledger.PackageOpen, ledger.PackagePaid, nil); err != nil {
			return err
		}
		out, err = tx.GetPackage(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	e.Log.Info("package paid", zap.String("package_id", string(id)))
	return out, nil
}

// MarkDelivered records that the product of a paid SB package was handed over.
func (e *Engine) MarkDelivered(ctx context.Context, id ledger.PackageID) (*ledger.Package, error) {
	if err := e.Store.TransitionPackage(ctx, id, ledger.PackagePaid, ledger.PackageDelivered, nil); err != nil {
		return nil, err
	}
	e.Log.Info("package delivered", zap.String("package_id", string(id)))
	return e.Store.GetPackage(ctx, id)
}

// =============================================================================
// READ SIDE
// =============================================================================

func (e *Engine) GetPackage(ctx context.Context, id ledger.PackageID) (*PackageView, error) {
	pkg, err := e.Store.GetPackage(ctx, id)
	if err != nil {
		return nil, err
	}
	return e.view(ctx, *pkg)
}

// UserPackages returns every package of a user, newest first.
func (e *Engine) UserPackages(ctx context.Context, userID ledger.UserID) ([]PackageView, error) {
	pkgs, err := e.Store.ListPackagesByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	views := make([]PackageView, 0, len(pkgs))
	for _, p := range pkgs {
		v, err := e.view(ctx, p)
		if err != nil {
			return nil, err
		}
		views = append(views, *v)
	}
	return views, nil
}

func (e *Engine) Contributions(ctx context.Context, id ledger.PackageID) ([]ledger.Contribution, error) {
	if _, err := e.Store.GetPackage(ctx, id); err != nil {
		return nil, err
	}
	return e.Store.ListContributions(ctx, id)
}

func (e *Engine) Charges(ctx context.Context, id ledger.PackageID) ([]ledger.Charge, error) {
	if _, err := e.Store.GetPackage(ctx, id); err != nil {
		return nil, err
	}
	return e.Store.ListCharges(ctx, id)
}

// view joins the catalogue product. A product missing from the catalogue
// leaves Product nil.
func (e *Engine) view(ctx context.Context, p ledger.Package) (*PackageView, error) {
	v := &PackageView{Package: p}
	if p.Kind != ledger.PackageSB || p.ProductID == nil {
		return v, nil
	}
	product, err := e.Store.GetProduct(ctx, *p.ProductID)
	if errors.Is(err, ledger.ErrNotFound) {
		return v, nil
	}
	if err != nil {
		return nil, err
	}
	v.Product = product
	return v, nil
}
