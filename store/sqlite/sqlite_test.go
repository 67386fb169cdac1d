package sqlite_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/savings-ledger/ledger"
	"github.com/warp/savings-ledger/store/sqlite"
)

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func seedAccount(t *testing.T, s ledger.Store, number ledger.AccountNumber, user ledger.UserID) {
	t.Helper()
	err := s.CreateAccount(context.Background(), ledger.Account{
		ID:               ledger.AccountID("acc-" + string(number)),
		Number:           number,
		AvailableBalance: decimal.Zero,
		LedgerBalance:    decimal.Zero,
		Type:             ledger.AccountSavings,
		Status:           ledger.AccountActive,
		UserID:           user,
		BranchID:         "br-1",
	})
	require.NoError(t, err)
}

func TestNew_CreatesMissingDirectory(t *testing.T) {
	// GIVEN: A database path under directories that do not exist yet
	path := filepath.Join(t.TempDir(), "data", "nested", "ledger.db")

	// WHEN: The store is opened
	store, err := sqlite.New(path)
	require.NoError(t, err)
	defer store.Close()

	// THEN: The file is created and usable
	require.NoError(t, store.Ping(context.Background()))
	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestAccounts_AdjustBalancesIsIncremental(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	seedAccount(t, store, "0000000001", "u1")

	// WHEN: Two independent deltas are applied
	_, err := store.AdjustBalances(ctx, "0000000001", decimal.RequireFromString("100.25"), decimal.RequireFromString("100.25"))
	require.NoError(t, err)
	a, err := store.AdjustBalances(ctx, "0000000001", decimal.NewFromInt(-40), decimal.Zero)
	require.NoError(t, err)

	// THEN: Both are reflected, not just the last write
	assert.Equal(t, "60.25", a.AvailableBalance.StringFixed(2))
	assert.Equal(t, "100.25", a.LedgerBalance.StringFixed(2))
	assert.Equal(t, "40.00", a.HeldAmount().StringFixed(2))
	assert.Equal(t, 3, a.Version)
}

func TestAccounts_DuplicateAndMissing(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	seedAccount(t, store, "0000000001", "u1")

	// Same (user, type) with a different number
	err := store.CreateAccount(ctx, ledger.Account{
		ID: "acc-x", Number: "0000000002", Type: ledger.AccountSavings,
		Status: ledger.AccountActive, UserID: "u1",
	})
	assert.ErrorIs(t, err, ledger.ErrDuplicateAccount)

	exists, err := store.AccountNumberExists(ctx, "0000000001")
	require.NoError(t, err)
	assert.True(t, exists)

	_, err = store.GetAccount(ctx, "9999999999")
	assert.ErrorIs(t, err, ledger.ErrNotFound)
	_, err = store.AdjustBalances(ctx, "9999999999", decimal.NewFromInt(1), decimal.NewFromInt(1))
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestTransactions_FilterAndOrder(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	seedAccount(t, store, "0000000001", "u1")

	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	for i, dir := range []ledger.Direction{ledger.DirectionInflow, ledger.DirectionPending, ledger.DirectionOutflow} {
		require.NoError(t, store.AppendTransaction(ctx, ledger.Transaction{
			ID:            ledger.TransactionID("tx-" + string(dir)),
			AccountNumber: "0000000001",
			Amount:        decimal.NewFromInt(int64(10 * (i + 1))),
			Direction:     dir,
			Narration:     "test",
			Date:          base.Add(time.Duration(i) * time.Hour),
			ReferenceID:   "req-1",
		}))
	}

	number := ledger.AccountNumber("0000000001")
	all, err := store.ListTransactions(ctx, ledger.TransactionFilter{AccountNumber: &number})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, ledger.TransactionID("tx-outflow"), all[0].ID, "newest first")

	pending := ledger.DirectionPending
	onlyPending, err := store.ListTransactions(ctx, ledger.TransactionFilter{Direction: &pending})
	require.NoError(t, err)
	require.Len(t, onlyPending, 1)
	assert.Equal(t, "req-1", onlyPending[0].ReferenceID)

	from := base.Add(30 * time.Minute)
	ranged, err := store.ListTransactions(ctx, ledger.TransactionFilter{From: &from, Limit: 1})
	require.NoError(t, err)
	assert.Len(t, ranged, 1)
}

func TestWithdrawalRequest_ConditionalTransition(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	seedAccount(t, store, "0000000001", "u1")

	require.NoError(t, store.CreateWithdrawalRequest(ctx, ledger.WithdrawalRequest{
		ID: "req-1", AccountNumber: "0000000001", Amount: decimal.NewFromInt(50),
		Narration: "rent", Status: ledger.RequestPending, RequestedBy: "staff-1",
	}))

	res := ledger.RequestResolution{To: ledger.RequestFulfilled, ResolvedBy: "staff-2", FulfillmentID: "tx-9", At: time.Now()}
	require.NoError(t, store.TransitionWithdrawalRequest(ctx, "req-1", ledger.RequestPending, res))

	// THEN: A second transition from pending loses
	err := store.TransitionWithdrawalRequest(ctx, "req-1", ledger.RequestPending, res)
	assert.ErrorIs(t, err, ledger.ErrInvalidState)

	err = store.TransitionWithdrawalRequest(ctx, "req-missing", ledger.RequestPending, res)
	assert.ErrorIs(t, err, ledger.ErrNotFound)

	r, err := store.GetWithdrawalRequest(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, ledger.RequestFulfilled, r.Status)
	assert.Equal(t, ledger.TransactionID("tx-9"), r.FulfillmentID)
}

func TestPackages_OneOpenPerTarget(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	seedAccount(t, store, "0000000001", "u1")

	pkg := ledger.Package{
		ID: "pkg-1", Kind: ledger.PackageDaily, AccountNumber: "0000000001", UserID: "u1",
		Target: "Rent", CycleUnit: decimal.NewFromInt(100), Status: ledger.PackageOpen,
	}
	require.NoError(t, store.CreatePackage(ctx, pkg))

	dup := pkg
	dup.ID = "pkg-2"
	assert.ErrorIs(t, store.CreatePackage(ctx, dup), ledger.ErrDuplicateActivePackage)

	// After closing, the target is free again
	require.NoError(t, store.TransitionPackage(ctx, "pkg-1", ledger.PackageOpen, ledger.PackageClosed, nil))
	require.NoError(t, store.CreatePackage(ctx, dup))
}

func TestPackages_GetForUpdateOrdersByID(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	seedAccount(t, store, "0000000001", "u1")

	for _, id := range []ledger.PackageID{"pkg-c", "pkg-a", "pkg-b"} {
		require.NoError(t, store.CreatePackage(ctx, ledger.Package{
			ID: id, Kind: ledger.PackageDaily, AccountNumber: "0000000001", UserID: "u1",
			Target: string(id), CycleUnit: decimal.NewFromInt(100), Status: ledger.PackageOpen,
		}))
	}

	pkgs, err := store.GetPackagesForUpdate(ctx, []ledger.PackageID{"pkg-c", "nope", "pkg-a"})
	require.NoError(t, err)
	require.Len(t, pkgs, 2)
	assert.Equal(t, ledger.PackageID("pkg-a"), pkgs[0].ID)
	assert.Equal(t, ledger.PackageID("pkg-c"), pkgs[1].ID)

	none, err := store.GetPackagesForUpdate(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestPackages_GuardedUpdates(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	seedAccount(t, store, "0000000001", "u1")
	require.NoError(t, store.CreatePackage(ctx, ledger.Package{
		ID: "pkg-1", Kind: ledger.PackageDaily, AccountNumber: "0000000001", UserID: "u1",
		Target: "Rent", CycleUnit: decimal.NewFromInt(100), Status: ledger.PackageOpen,
	}))

	p, err := store.ApplyContribution(ctx, "pkg-1", decimal.NewFromInt(300), 3)
	require.NoError(t, err)
	assert.Equal(t, 3, p.TotalCount)

	p, err = store.ApplyCharge(ctx, "pkg-1", decimal.NewFromInt(100), 1)
	require.NoError(t, err)
	assert.True(t, p.TotalContribution.Equal(decimal.NewFromInt(200)))
	assert.True(t, p.TotalCharge.Equal(decimal.NewFromInt(100)))
	assert.True(t, p.HasBeenCharged)

	_, err = store.DebitPackage(ctx, "pkg-1", decimal.NewFromInt(250))
	var ib *ledger.InsufficientBalanceError
	require.ErrorAs(t, err, &ib)
	assert.True(t, ib.Shortfall().Equal(decimal.NewFromInt(50)))

	require.NoError(t, store.TransitionPackage(ctx, "pkg-1", ledger.PackageOpen, ledger.PackageClosed, nil))
	_, err = store.ApplyContribution(ctx, "pkg-1", decimal.NewFromInt(100), 1)
	assert.ErrorIs(t, err, ledger.ErrPackageClosed)
	_, err = store.DebitPackage(ctx, "pkg-1", decimal.NewFromInt(1))
	assert.ErrorIs(t, err, ledger.ErrPackageClosed)
	_, err = store.CreditPackage(ctx, "pkg-missing", decimal.NewFromInt(1))
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	seedAccount(t, store, "0000000001", "u1")

	boom := errors.New("boom")
	err := store.WithTx(ctx, func(tx ledger.Store) error {
		if _, err := tx.AdjustBalances(ctx, "0000000001", decimal.NewFromInt(500), decimal.NewFromInt(500)); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	a, err := store.GetAccount(ctx, "0000000001")
	require.NoError(t, err)
	assert.True(t, a.AvailableBalance.IsZero())
}

func TestWithTx_RollbackIssuedOnFailedStatement(t *testing.T) {
	// GIVEN: A driver that fails the balance update
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	store := sqlite.NewWithDB(db)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO account_transactions").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery("UPDATE accounts SET").WillReturnError(errors.New("disk I/O error"))
	mock.ExpectRollback()

	// WHEN: The scope runs
	err = store.WithTx(context.Background(), func(tx ledger.Store) error {
		if err := tx.AppendTransaction(context.Background(), ledger.Transaction{
			ID: "tx-1", AccountNumber: "0000000001", Amount: decimal.NewFromInt(5),
			Direction: ledger.DirectionInflow, Narration: ledger.NarrationDeposit, Date: time.Now(),
		}); err != nil {
			return err
		}
		_, err := tx.AdjustBalances(context.Background(), "0000000001", decimal.NewFromInt(5), decimal.NewFromInt(5))
		return err
	})

	// THEN: The error surfaces and nothing is committed
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDirectory_Upsert(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveCustomer(ctx, ledger.Customer{ID: "u1", Name: "Ada", Phone: "0800"}))
	require.NoError(t, store.SaveCustomer(ctx, ledger.Customer{ID: "u1", Name: "Ada", Phone: "0801"}))
	c, err := store.GetCustomer(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "0801", c.Phone)

	require.NoError(t, store.SaveProduct(ctx, ledger.Product{ID: "p1", Name: "Fridge", Price: decimal.RequireFromString("1500.50")}))
	p, err := store.GetProduct(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "1500.50", p.Price.StringFixed(2))

	_, err = store.GetProduct(ctx, "nope")
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}
