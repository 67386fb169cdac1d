package postgres_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/savings-ledger/ledger"
	"github.com/warp/savings-ledger/store/postgres"
)

// newStore connects to TEST_DATABASE_URL and empties every table.
func newStore(t *testing.T) *postgres.Store {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	store, err := postgres.New(ctx, url)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	require.NoError(t, store.Reset(ctx))
	return store
}

func TestPostgres_BalanceAndPackageFlow(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	// GIVEN: An account with a daily package
	require.NoError(t, store.CreateAccount(ctx, ledger.Account{
		ID: "acc-1", Number: "0000000001", Type: ledger.AccountSavings,
		Status: ledger.AccountActive, UserID: "u1",
	}))
	require.NoError(t, store.CreatePackage(ctx, ledger.Package{
		ID: "pkg-1", Kind: ledger.PackageDaily, AccountNumber: "0000000001", UserID: "u1",
		Target: "Rent", CycleUnit: decimal.NewFromInt(100), Status: ledger.PackageOpen,
	}))

	// WHEN: Balances and totals move inside one scope
	err := store.WithTx(ctx, func(tx ledger.Store) error {
		if _, err := tx.GetAccountForUpdate(ctx, "0000000001"); err != nil {
			return err
		}
		if _, err := tx.AdjustBalances(ctx, "0000000001", decimal.NewFromInt(300), decimal.NewFromInt(300)); err != nil {
			return err
		}
		_, err := tx.ApplyContribution(ctx, "pkg-1", decimal.NewFromInt(300), 3)
		return err
	})
	require.NoError(t, err)

	// THEN: Both rows reflect the change
	a, err := store.GetAccount(ctx, "0000000001")
	require.NoError(t, err)
	assert.True(t, a.LedgerBalance.Equal(decimal.NewFromInt(300)))

	p, err := store.GetPackage(ctx, "pkg-1")
	require.NoError(t, err)
	assert.Equal(t, 3, p.TotalCount)

	dup := *p
	dup.ID = "pkg-2"
	assert.ErrorIs(t, store.CreatePackage(ctx, dup), ledger.ErrDuplicateActivePackage)

	_, err = store.DebitPackage(ctx, "pkg-1", decimal.NewFromInt(301))
	assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)
}

func TestPostgres_LockedPackagesBlockConcurrentContribution(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	// GIVEN: A source holding 50 and an empty target on one account
	require.NoError(t, store.CreateAccount(ctx, ledger.Account{
		ID: "acc-1", Number: "0000000001", Type: ledger.AccountSavings,
		Status: ledger.AccountActive, UserID: "u1",
	}))
	for _, p := range []ledger.Package{
		{ID: "pkg-src", Target: "a"},
		{ID: "pkg-tgt", Target: "b"},
	} {
		p.Kind, p.AccountNumber, p.UserID = ledger.PackageDaily, "0000000001", "u1"
		p.CycleUnit, p.Status = decimal.NewFromInt(25), ledger.PackageOpen
		require.NoError(t, store.CreatePackage(ctx, p))
	}
	_, err := store.CreditPackage(ctx, "pkg-src", decimal.NewFromInt(50))
	require.NoError(t, err)

	// WHEN: One scope locks both packages and closes the source into the
	// target, while a contribution to the source arrives mid-scope
	locked := make(chan struct{})
	release := make(chan struct{})
	merged := make(chan error, 1)
	go func() {
		merged <- store.WithTx(ctx, func(tx ledger.Store) error {
			pkgs, err := tx.GetPackagesForUpdate(ctx, []ledger.PackageID{"pkg-tgt", "pkg-src"})
			if err != nil {
				return err
			}
			close(locked)
			<-release

			var sourceTotal decimal.Decimal
			for _, p := range pkgs {
				if p.ID == "pkg-src" {
					sourceTotal = p.TotalContribution
				}
			}
			target := ledger.PackageID("pkg-tgt")
			if err := tx.TransitionPackage(ctx, "pkg-src", ledger.PackageOpen, ledger.PackageClosed, &target); err != nil {
				return err
			}
			_, err = tx.CreditPackage(ctx, target, sourceTotal)
			return err
		})
	}()
	<-locked

	contributed := make(chan error, 1)
	go func() {
		_, err := store.ApplyContribution(ctx, "pkg-src", decimal.NewFromInt(100), 4)
		contributed <- err
	}()

	select {
	case err := <-contributed:
		t.Fatalf("contribution did not wait for the package lock: %v", err)
	case <-time.After(200 * time.Millisecond):
	}
	close(release)
	require.NoError(t, <-merged)

	// THEN: The contribution sees the closed package and no money moves
	assert.ErrorIs(t, <-contributed, ledger.ErrPackageClosed)
	src, err := store.GetPackage(ctx, "pkg-src")
	require.NoError(t, err)
	assert.Equal(t, "50.00", src.TotalContribution.StringFixed(2))
	tgt, err := store.GetPackage(ctx, "pkg-tgt")
	require.NoError(t, err)
	assert.Equal(t, "50.00", tgt.TotalContribution.StringFixed(2))
}
