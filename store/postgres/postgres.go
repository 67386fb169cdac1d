/*
Package postgres provides a PostgreSQL implementation of ledger.TxStore
on top of pgx/v5.

PURPOSE:
  Production backend. Same contract as store/sqlite; differences are
  limited to dialect ($n placeholders, BIGSERIAL ordering columns) and
  locking: GetAccountForUpdate issues SELECT ... FOR UPDATE so a guarded
  decision and the write that follows it see the same row.

MONEY:
  BIGINT minor units, same as the SQLite backend.

USAGE:
  store, err := postgres.New(ctx, cfg.DatabaseURL)
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()
*/
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/warp/savings-ledger/ledger"
)

// Store implements ledger.TxStore on a pgx pool.
type Store struct {
	*conn
	pool *pgxpool.Pool
}

// querier is satisfied by *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type conn struct {
	q   querier
	now func() time.Time
}

var _ ledger.TxStore = (*Store)(nil)

// New connects to databaseURL and ensures the schema exists.
func New(ctx context.Context, databaseURL string) (*Store, error) {
	poolConfig, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database URL: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	store := &Store{conn: &conn{q: pool, now: time.Now}, pool: pool}
	if err := store.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		number TEXT NOT NULL UNIQUE,
		available_balance BIGINT NOT NULL DEFAULT 0,
		ledger_balance BIGINT NOT NULL DEFAULT 0,
		account_type TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'active',
		user_id TEXT NOT NULL,
		branch_id TEXT NOT NULL DEFAULT '',
		manager_id TEXT,
		version INTEGER NOT NULL DEFAULT 1,
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL,
		UNIQUE(user_id, account_type)
	);

	CREATE TABLE IF NOT EXISTS account_transactions (
		seq BIGSERIAL,
		id TEXT PRIMARY KEY,
		account_number TEXT NOT NULL REFERENCES accounts(number),
		amount BIGINT NOT NULL,
		direction TEXT NOT NULL,
		narration TEXT NOT NULL,
		date BIGINT NOT NULL,
		branch_id TEXT NOT NULL DEFAULT '',
		created_by TEXT NOT NULL DEFAULT '',
		reasons TEXT,
		reference_id TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_transactions_account_date
		ON account_transactions(account_number, date DESC);

	CREATE TABLE IF NOT EXISTS withdrawal_requests (
		seq BIGSERIAL,
		id TEXT PRIMARY KEY,
		account_number TEXT NOT NULL REFERENCES accounts(number),
		amount BIGINT NOT NULL,
		narration TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		branch_id TEXT NOT NULL DEFAULT '',
		requested_by TEXT NOT NULL DEFAULT '',
		resolved_by TEXT,
		reason TEXT,
		fulfillment_id TEXT,
		version INTEGER NOT NULL DEFAULT 1,
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS packages (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		account_number TEXT NOT NULL REFERENCES accounts(number),
		user_id TEXT NOT NULL,
		branch_id TEXT NOT NULL DEFAULT '',
		target TEXT NOT NULL,
		cycle_unit BIGINT NOT NULL,
		target_amount BIGINT NOT NULL DEFAULT 0,
		product_id TEXT,
		total_contribution BIGINT NOT NULL DEFAULT 0,
		total_count INTEGER NOT NULL DEFAULT 0,
		deduction_count INTEGER NOT NULL DEFAULT 0,
		total_charge BIGINT NOT NULL DEFAULT 0,
		has_been_charged BOOLEAN NOT NULL DEFAULT FALSE,
		status TEXT NOT NULL DEFAULT 'open',
		merged_into TEXT,
		version INTEGER NOT NULL DEFAULT 1,
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_packages_open_target
		ON packages(account_number, target) WHERE status = 'open';

	CREATE TABLE IF NOT EXISTS contributions (
		seq BIGSERIAL,
		id TEXT PRIMARY KEY,
		package_id TEXT NOT NULL REFERENCES packages(id),
		account_number TEXT NOT NULL,
		amount BIGINT NOT NULL,
		units INTEGER NOT NULL,
		running_count INTEGER NOT NULL,
		created_by TEXT NOT NULL DEFAULT '',
		branch_id TEXT NOT NULL DEFAULT '',
		date BIGINT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS charges (
		seq BIGSERIAL,
		id TEXT PRIMARY KEY,
		package_id TEXT NOT NULL REFERENCES packages(id),
		account_number TEXT NOT NULL,
		branch_id TEXT NOT NULL DEFAULT '',
		user_id TEXT NOT NULL,
		amount BIGINT NOT NULL,
		total_count INTEGER NOT NULL,
		date BIGINT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS ledger_entries (
		seq BIGSERIAL,
		id TEXT PRIMARY KEY,
		entry_type TEXT NOT NULL,
		direction TEXT NOT NULL,
		amount BIGINT NOT NULL,
		date BIGINT NOT NULL,
		user_id TEXT NOT NULL DEFAULT '',
		branch_id TEXT NOT NULL DEFAULT '',
		narration TEXT NOT NULL DEFAULT '',
		reference_id TEXT
	);

	CREATE TABLE IF NOT EXISTS customers (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		phone TEXT NOT NULL DEFAULT '',
		email TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS products (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		price BIGINT NOT NULL DEFAULT 0,
		image_url TEXT NOT NULL DEFAULT ''
	);
	`
	_, err := s.pool.Exec(ctx, schema)
	return err
}

// Reset deletes all rows. Used by demo scenarios and tests.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `TRUNCATE ledger_entries, charges, contributions, packages,
		withdrawal_requests, account_transactions, accounts, customers, products`)
	return err
}

// WithTx runs fn inside a database transaction. Cancelling ctx aborts it.
func (s *Store) WithTx(ctx context.Context, fn func(store ledger.Store) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&conn{q: tx, now: s.now}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// =============================================================================
// ACCOUNTS
// =============================================================================

const accountCols = `id, number, available_balance, ledger_balance, account_type, status,
	user_id, branch_id, manager_id, version, created_at, updated_at`

func (c *conn) CreateAccount(ctx context.Context, a ledger.Account) error {
	now := ledger.Millis(c.now())
	_, err := c.q.Exec(ctx, `
		INSERT INTO accounts (`+accountCols+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 1, $10, $10)`,
		string(a.ID), string(a.Number),
		ledger.ToMinor(a.AvailableBalance), ledger.ToMinor(a.LedgerBalance),
		string(a.Type), string(a.Status), string(a.UserID), string(a.BranchID), a.ManagerID, now,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %v", ledger.ErrDuplicateAccount, err)
	}
	if err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}
	return nil
}

func (c *conn) AccountNumberExists(ctx context.Context, number ledger.AccountNumber) (bool, error) {
	var exists bool
	err := c.q.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM accounts WHERE number = $1)", string(number)).Scan(&exists)
	return exists, err
}

func (c *conn) GetAccount(ctx context.Context, number ledger.AccountNumber) (*ledger.Account, error) {
	return c.getAccount(ctx, "SELECT "+accountCols+" FROM accounts WHERE number = $1", number)
}

func (c *conn) GetAccountForUpdate(ctx context.Context, number ledger.AccountNumber) (*ledger.Account, error) {
	return c.getAccount(ctx, "SELECT "+accountCols+" FROM accounts WHERE number = $1 FOR UPDATE", number)
}

func (c *conn) getAccount(ctx context.Context, query string, number ledger.AccountNumber) (*ledger.Account, error) {
	a, err := scanAccount(c.q.QueryRow(ctx, query, string(number)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("account %s: %w", number, ledger.ErrNotFound)
	}
	return a, err
}

func (c *conn) AdjustBalances(ctx context.Context, number ledger.AccountNumber, availableDelta, ledgerDelta decimal.Decimal) (*ledger.Account, error) {
	a, err := scanAccount(c.q.QueryRow(ctx, `
		UPDATE accounts SET
			available_balance = available_balance + $1,
			ledger_balance = ledger_balance + $2,
			version = version + 1,
			updated_at = $3
		WHERE number = $4
		RETURNING `+accountCols,
		ledger.ToMinor(availableDelta), ledger.ToMinor(ledgerDelta), ledger.Millis(c.now()), string(number),
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("account %s: %w", number, ledger.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to adjust balances: %w", err)
	}
	return a, nil
}

func (c *conn) SetAccountStatus(ctx context.Context, number ledger.AccountNumber, status ledger.AccountStatus) error {
	tag, err := c.q.Exec(ctx,
		"UPDATE accounts SET status = $1, version = version + 1, updated_at = $2 WHERE number = $3",
		string(status), ledger.Millis(c.now()), string(number))
	if err != nil {
		return fmt.Errorf("failed to set account status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("account %s: %w", number, ledger.ErrNotFound)
	}
	return nil
}

func (c *conn) ListAccountsByUser(ctx context.Context, userID ledger.UserID) ([]ledger.Account, error) {
	rows, err := c.q.Query(ctx, "SELECT "+accountCols+" FROM accounts WHERE user_id = $1 ORDER BY created_at", string(userID))
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}
	defer rows.Close()

	var accounts []ledger.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, *a)
	}
	return accounts, rows.Err()
}

func scanAccount(row pgx.Row) (*ledger.Account, error) {
	var (
		a                                   ledger.Account
		id, number, typ, status, user, br   string
		available, ledgerB, created, update int64
		managerID                           *string
	)
	if err := row.Scan(&id, &number, &available, &ledgerB, &typ, &status,
		&user, &br, &managerID, &a.Version, &created, &update); err != nil {
		return nil, err
	}
	a.ID = ledger.AccountID(id)
	a.Number = ledger.AccountNumber(number)
	a.AvailableBalance = ledger.FromMinor(available)
	a.LedgerBalance = ledger.FromMinor(ledgerB)
	a.Type = ledger.AccountType(typ)
	a.Status = ledger.AccountStatus(status)
	a.UserID = ledger.UserID(user)
	a.BranchID = ledger.BranchID(br)
	a.ManagerID = managerID
	a.CreatedAt = ledger.FromMillis(created)
	a.UpdatedAt = ledger.FromMillis(update)
	return &a, nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

const transactionCols = `id, account_number, amount, direction, narration, date,
	branch_id, created_by, reasons, reference_id`

func (c *conn) AppendTransaction(ctx context.Context, tx ledger.Transaction) error {
	_, err := c.q.Exec(ctx, `
		INSERT INTO account_transactions (`+transactionCols+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		string(tx.ID), string(tx.AccountNumber), ledger.ToMinor(tx.Amount), string(tx.Direction), tx.Narration,
		ledger.Millis(tx.Date), string(tx.BranchID), tx.CreatedBy, nullable(tx.Reasons), nullable(tx.ReferenceID),
	)
	if err != nil {
		return fmt.Errorf("failed to append transaction: %w", err)
	}
	return nil
}

func (c *conn) ListTransactions(ctx context.Context, f ledger.TransactionFilter) ([]ledger.Transaction, error) {
	var w where
	if f.AccountNumber != nil {
		w.add("account_number = $%d", string(*f.AccountNumber))
	}
	if f.Direction != nil {
		w.add("direction = $%d", string(*f.Direction))
	}
	if f.ReferenceID != nil {
		w.add("reference_id = $%d", *f.ReferenceID)
	}
	if f.From != nil {
		w.add("date >= $%d", ledger.Millis(*f.From))
	}
	if f.To != nil {
		w.add("date <= $%d", ledger.Millis(*f.To))
	}

	rows, err := c.q.Query(ctx, "SELECT "+transactionCols+" FROM account_transactions"+w.sql()+
		" ORDER BY date DESC, seq DESC"+page(f.Limit, f.Offset), w.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var txs []ledger.Transaction
	for rows.Next() {
		var (
			id, number, dir, branch string
			amount, date            int64
			reasons, reference      *string
			tx                      ledger.Transaction
		)
		if err := rows.Scan(&id, &number, &amount, &dir, &tx.Narration, &date,
			&branch, &tx.CreatedBy, &reasons, &reference); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		tx.ID = ledger.TransactionID(id)
		tx.AccountNumber = ledger.AccountNumber(number)
		tx.Amount = ledger.FromMinor(amount)
		tx.Direction = ledger.Direction(dir)
		tx.Date = ledger.FromMillis(date)
		tx.BranchID = ledger.BranchID(branch)
		tx.Reasons = deref(reasons)
		tx.ReferenceID = deref(reference)
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

// =============================================================================
// WITHDRAWAL REQUESTS
// =============================================================================

const requestCols = `id, account_number, amount, narration, status, branch_id, requested_by,
	resolved_by, reason, fulfillment_id, version, created_at, updated_at`

func (c *conn) CreateWithdrawalRequest(ctx context.Context, r ledger.WithdrawalRequest) error {
	now := ledger.Millis(c.now())
	_, err := c.q.Exec(ctx, `
		INSERT INTO withdrawal_requests
		(id, account_number, amount, narration, status, branch_id, requested_by, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 1, $8, $8)`,
		string(r.ID), string(r.AccountNumber), ledger.ToMinor(r.Amount), r.Narration, string(r.Status),
		string(r.BranchID), r.RequestedBy, now,
	)
	if err != nil {
		return fmt.Errorf("failed to create withdrawal request: %w", err)
	}
	return nil
}

func (c *conn) GetWithdrawalRequest(ctx context.Context, id ledger.RequestID) (*ledger.WithdrawalRequest, error) {
	r, err := scanRequest(c.q.QueryRow(ctx, "SELECT "+requestCols+" FROM withdrawal_requests WHERE id = $1", string(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("withdrawal request %s: %w", id, ledger.ErrNotFound)
	}
	return r, err
}

func (c *conn) TransitionWithdrawalRequest(ctx context.Context, id ledger.RequestID, from ledger.RequestStatus, res ledger.RequestResolution) error {
	tag, err := c.q.Exec(ctx, `
		UPDATE withdrawal_requests SET
			status = $1, resolved_by = $2, reason = $3, fulfillment_id = $4,
			version = version + 1, updated_at = $5
		WHERE id = $6 AND status = $7`,
		string(res.To), nullable(res.ResolvedBy), nullable(res.Reason), nullable(string(res.FulfillmentID)),
		ledger.Millis(res.At), string(id), string(from),
	)
	if err != nil {
		return fmt.Errorf("failed to transition withdrawal request: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := c.GetWithdrawalRequest(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("%w: withdrawal request %s is no longer %s", ledger.ErrInvalidState, id, from)
	}
	return nil
}

func (c *conn) ListWithdrawalRequests(ctx context.Context, f ledger.WithdrawalRequestFilter) ([]ledger.WithdrawalRequest, error) {
	var w where
	if f.Status != nil {
		w.add("status = $%d", string(*f.Status))
	}
	if f.BranchID != nil {
		w.add("branch_id = $%d", string(*f.BranchID))
	}
	if f.RequestedBy != nil {
		w.add("requested_by = $%d", *f.RequestedBy)
	}
	if f.From != nil {
		w.add("created_at >= $%d", ledger.Millis(*f.From))
	}
	if f.To != nil {
		w.add("created_at <= $%d", ledger.Millis(*f.To))
	}

	rows, err := c.q.Query(ctx, "SELECT "+requestCols+" FROM withdrawal_requests"+w.sql()+
		" ORDER BY created_at DESC, seq DESC"+page(f.Limit, f.Offset), w.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query withdrawal requests: %w", err)
	}
	defer rows.Close()

	var out []ledger.WithdrawalRequest
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func scanRequest(row pgx.Row) (*ledger.WithdrawalRequest, error) {
	var (
		r                                ledger.WithdrawalRequest
		id, number, status, branch       string
		amount, created, updated         int64
		resolvedBy, reason, fulfillment  *string
	)
	if err := row.Scan(&id, &number, &amount, &r.Narration, &status, &branch, &r.RequestedBy,
		&resolvedBy, &reason, &fulfillment, &r.Version, &created, &updated); err != nil {
		return nil, err
	}
	r.ID = ledger.RequestID(id)
	r.AccountNumber = ledger.AccountNumber(number)
	r.Amount = ledger.FromMinor(amount)
	r.Status = ledger.RequestStatus(status)
	r.BranchID = ledger.BranchID(branch)
	r.ResolvedBy = deref(resolvedBy)
	r.Reason = deref(reason)
	r.FulfillmentID = ledger.TransactionID(deref(fulfillment))
	r.CreatedAt = ledger.FromMillis(created)
	r.UpdatedAt = ledger.FromMillis(updated)
	return &r, nil
}

// =============================================================================
// PACKAGES
// =============================================================================

const packageCols = `id, kind, account_number, user_id, branch_id, target, cycle_unit, target_amount,
	product_id, total_contribution, total_count, deduction_count, total_charge, has_been_charged,
	status, merged_into, version, created_at, updated_at`

func (c *conn) CreatePackage(ctx context.Context, p ledger.Package) error {
	now := ledger.Millis(c.now())
	var productID *string
	if p.ProductID != nil {
		s := string(*p.ProductID)
		productID = &s
	}
	_, err := c.q.Exec(ctx, `
		INSERT INTO packages (`+packageCols+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, NULL, 1, $16, $16)`,
		string(p.ID), string(p.Kind), string(p.AccountNumber), string(p.UserID), string(p.BranchID), p.Target,
		ledger.ToMinor(p.CycleUnit), ledger.ToMinor(p.TargetAmount), productID,
		ledger.ToMinor(p.TotalContribution), p.TotalCount, p.DeductionCount,
		ledger.ToMinor(p.TotalCharge), p.HasBeenCharged, string(p.Status), now,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: account %s target %q", ledger.ErrDuplicateActivePackage, p.AccountNumber, p.Target)
	}
	if err != nil {
		return fmt.Errorf("failed to create package: %w", err)
	}
	return nil
}

func (c *conn) GetPackage(ctx context.Context, id ledger.PackageID) (*ledger.Package, error) {
	p, err := scanPackage(c.q.QueryRow(ctx, "SELECT "+packageCols+" FROM packages WHERE id = $1", string(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("package %s: %w", id, ledger.ErrNotFound)
	}
	return p, err
}

func (c *conn) GetPackages(ctx context.Context, ids []ledger.PackageID) ([]ledger.Package, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	raw := make([]string, len(ids))
	for i, id := range ids {
		raw[i] = string(id)
	}
	return c.queryPackages(ctx, "SELECT "+packageCols+" FROM packages WHERE id = ANY($1)", raw)
}

// GetPackagesForUpdate locks rows in id order so two scopes locking
// overlapping sets cannot deadlock.
func (c *conn) GetPackagesForUpdate(ctx context.Context, ids []ledger.PackageID) ([]ledger.Package, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	raw := make([]string, len(ids))
	for i, id := range ids {
		raw[i] = string(id)
	}
	return c.queryPackages(ctx,
		"SELECT "+packageCols+" FROM packages WHERE id = ANY($1) ORDER BY id FOR UPDATE", raw)
}

func (c *conn) FindOpenPackage(ctx context.Context, number ledger.AccountNumber, target string) (*ledger.Package, error) {
	p, err := scanPackage(c.q.QueryRow(ctx,
		"SELECT "+packageCols+" FROM packages WHERE account_number = $1 AND target = $2 AND status = 'open'",
		string(number), target))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("open package for %s/%q: %w", number, target, ledger.ErrNotFound)
	}
	return p, err
}

func (c *conn) ListPackagesByUser(ctx context.Context, userID ledger.UserID) ([]ledger.Package, error) {
	return c.queryPackages(ctx,
		"SELECT "+packageCols+" FROM packages WHERE user_id = $1 ORDER BY created_at DESC", string(userID))
}

func (c *conn) queryPackages(ctx context.Context, query string, args ...any) ([]ledger.Package, error) {
	rows, err := c.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query packages: %w", err)
	}
	defer rows.Close()

	var out []ledger.Package
	for rows.Next() {
		p, err := scanPackage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (c *conn) ApplyContribution(ctx context.Context, id ledger.PackageID, amount decimal.Decimal, units int) (*ledger.Package, error) {
	return c.updatePackage(ctx, id, ledger.ErrPackageClosed, `
		UPDATE packages SET
			total_contribution = total_contribution + $1,
			total_count = total_count + $2,
			version = version + 1,
			updated_at = $3
		WHERE id = $4 AND status = 'open'
		RETURNING `+packageCols,
		ledger.ToMinor(amount), units, ledger.Millis(c.now()), string(id))
}

func (c *conn) ApplyCharge(ctx context.Context, id ledger.PackageID, charge decimal.Decimal, deductions int) (*ledger.Package, error) {
	return c.updatePackage(ctx, id, ledger.ErrInvalidState, `
		UPDATE packages SET
			total_contribution = total_contribution - $1,
			total_charge = total_charge + $1,
			deduction_count = deduction_count + $2,
			has_been_charged = TRUE,
			version = version + 1,
			updated_at = $3
		WHERE id = $4
		RETURNING `+packageCols,
		ledger.ToMinor(charge), deductions, ledger.Millis(c.now()), string(id))
}

func (c *conn) CreditPackage(ctx context.Context, id ledger.PackageID, amount decimal.Decimal) (*ledger.Package, error) {
	return c.updatePackage(ctx, id, ledger.ErrPackageClosed, `
		UPDATE packages SET
			total_contribution = total_contribution + $1,
			version = version + 1,
			updated_at = $2
		WHERE id = $3 AND status = 'open'
		RETURNING `+packageCols,
		ledger.ToMinor(amount), ledger.Millis(c.now()), string(id))
}

func (c *conn) DebitPackage(ctx context.Context, id ledger.PackageID, amount decimal.Decimal) (*ledger.Package, error) {
	p, err := scanPackage(c.q.QueryRow(ctx, `
		UPDATE packages SET
			total_contribution = total_contribution - $1,
			version = version + 1,
			updated_at = $2
		WHERE id = $3 AND status = 'open' AND total_contribution >= $1
		RETURNING `+packageCols,
		ledger.ToMinor(amount), ledger.Millis(c.now()), string(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		current, getErr := c.GetPackage(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		if current.Status != ledger.PackageOpen {
			return nil, fmt.Errorf("package %s: %w", id, ledger.ErrPackageClosed)
		}
		return nil, &ledger.InsufficientBalanceError{
			Subject:   string(id),
			Available: current.TotalContribution,
			Requested: amount,
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to debit package: %w", err)
	}
	return p, nil
}

func (c *conn) updatePackage(ctx context.Context, id ledger.PackageID, missErr error, query string, args ...any) (*ledger.Package, error) {
	p, err := scanPackage(c.q.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		if _, getErr := c.GetPackage(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, fmt.Errorf("package %s: %w", id, missErr)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update package: %w", err)
	}
	return p, nil
}

func (c *conn) TransitionPackage(ctx context.Context, id ledger.PackageID, from, to ledger.PackageStatus, mergedInto *ledger.PackageID) error {
	var merged *string
	if mergedInto != nil {
		s := string(*mergedInto)
		merged = &s
	}
	tag, err := c.q.Exec(ctx, `
		UPDATE packages SET
			status = $1,
			merged_into = COALESCE($2, merged_into),
			version = version + 1,
			updated_at = $3
		WHERE id = $4 AND status = $5`,
		string(to), merged, ledger.Millis(c.now()), string(id), string(from))
	if err != nil {
		return fmt.Errorf("failed to transition package: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := c.GetPackage(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("%w: package %s is not %s", ledger.ErrInvalidState, id, from)
	}
	return nil
}

func scanPackage(row pgx.Row) (*ledger.Package, error) {
	var (
		p                                           ledger.Package
		id, kind, number, user, branch, status      string
		unit, targetAmount, total, charged          int64
		created, updated                            int64
		productID, mergedInto                       *string
	)
	if err := row.Scan(&id, &kind, &number, &user, &branch, &p.Target, &unit, &targetAmount,
		&productID, &total, &p.TotalCount, &p.DeductionCount, &charged, &p.HasBeenCharged,
		&status, &mergedInto, &p.Version, &created, &updated); err != nil {
		return nil, err
	}
	p.ID = ledger.PackageID(id)
	p.Kind = ledger.PackageKind(kind)
	p.AccountNumber = ledger.AccountNumber(number)
	p.UserID = ledger.UserID(user)
	p.BranchID = ledger.BranchID(branch)
	p.CycleUnit = ledger.FromMinor(unit)
	p.TargetAmount = ledger.FromMinor(targetAmount)
	p.TotalContribution = ledger.FromMinor(total)
	p.TotalCharge = ledger.FromMinor(charged)
	p.Status = ledger.PackageStatus(status)
	if productID != nil {
		pid := ledger.ProductID(*productID)
		p.ProductID = &pid
	}
	if mergedInto != nil {
		mid := ledger.PackageID(*mergedInto)
		p.MergedInto = &mid
	}
	p.CreatedAt = ledger.FromMillis(created)
	p.UpdatedAt = ledger.FromMillis(updated)
	return &p, nil
}

// =============================================================================
// CONTRIBUTIONS & CHARGES
// =============================================================================

func (c *conn) AppendContribution(ctx context.Context, ct ledger.Contribution) error {
	_, err := c.q.Exec(ctx, `
		INSERT INTO contributions
		(id, package_id, account_number, amount, units, running_count, created_by, branch_id, date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		string(ct.ID), string(ct.PackageID), string(ct.AccountNumber), ledger.ToMinor(ct.Amount),
		ct.Units, ct.RunningCount, ct.CreatedBy, string(ct.BranchID), ledger.Millis(ct.Date),
	)
	if err != nil {
		return fmt.Errorf("failed to append contribution: %w", err)
	}
	return nil
}

func (c *conn) ListContributions(ctx context.Context, id ledger.PackageID) ([]ledger.Contribution, error) {
	rows, err := c.q.Query(ctx, `
		SELECT id, package_id, account_number, amount, units, running_count, created_by, branch_id, date
		FROM contributions WHERE package_id = $1 ORDER BY date ASC, seq ASC`, string(id))
	if err != nil {
		return nil, fmt.Errorf("failed to query contributions: %w", err)
	}
	defer rows.Close()

	var out []ledger.Contribution
	for rows.Next() {
		var (
			ct                         ledger.Contribution
			cid, pid, number, branch   string
			amount, date               int64
		)
		if err := rows.Scan(&cid, &pid, &number, &amount, &ct.Units, &ct.RunningCount,
			&ct.CreatedBy, &branch, &date); err != nil {
			return nil, err
		}
		ct.ID = ledger.ContributionID(cid)
		ct.PackageID = ledger.PackageID(pid)
		ct.AccountNumber = ledger.AccountNumber(number)
		ct.Amount = ledger.FromMinor(amount)
		ct.BranchID = ledger.BranchID(branch)
		ct.Date = ledger.FromMillis(date)
		out = append(out, ct)
	}
	return out, rows.Err()
}

func (c *conn) ReassignContributions(ctx context.Context, from, to ledger.PackageID) (int64, error) {
	tag, err := c.q.Exec(ctx, "UPDATE contributions SET package_id = $1 WHERE package_id = $2", string(to), string(from))
	if err != nil {
		return 0, fmt.Errorf("failed to reassign contributions: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (c *conn) AppendCharge(ctx context.Context, ch ledger.Charge) error {
	_, err := c.q.Exec(ctx, `
		INSERT INTO charges (id, package_id, account_number, branch_id, user_id, amount, total_count, date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		string(ch.ID), string(ch.PackageID), string(ch.AccountNumber), string(ch.BranchID), string(ch.UserID),
		ledger.ToMinor(ch.Amount), ch.TotalCount, ledger.Millis(ch.Date),
	)
	if err != nil {
		return fmt.Errorf("failed to append charge: %w", err)
	}
	return nil
}

func (c *conn) ListCharges(ctx context.Context, id ledger.PackageID) ([]ledger.Charge, error) {
	rows, err := c.q.Query(ctx, `
		SELECT id, package_id, account_number, branch_id, user_id, amount, total_count, date
		FROM charges WHERE package_id = $1 ORDER BY date ASC, seq ASC`, string(id))
	if err != nil {
		return nil, fmt.Errorf("failed to query charges: %w", err)
	}
	defer rows.Close()

	var out []ledger.Charge
	for rows.Next() {
		var (
			ch                               ledger.Charge
			cid, pid, number, branch, user   string
			amount, date                     int64
		)
		if err := rows.Scan(&cid, &pid, &number, &branch, &user, &amount, &ch.TotalCount, &date); err != nil {
			return nil, err
		}
		ch.ID = ledger.ChargeID(cid)
		ch.PackageID = ledger.PackageID(pid)
		ch.AccountNumber = ledger.AccountNumber(number)
		ch.BranchID = ledger.BranchID(branch)
		ch.UserID = ledger.UserID(user)
		ch.Amount = ledger.FromMinor(amount)
		ch.Date = ledger.FromMillis(date)
		out = append(out, ch)
	}
	return out, rows.Err()
}

// =============================================================================
// GENERAL LEDGER
// =============================================================================

func (c *conn) AppendLedgerEntry(ctx context.Context, e ledger.LedgerEntry) error {
	_, err := c.q.Exec(ctx, `
		INSERT INTO ledger_entries (id, entry_type, direction, amount, date, user_id, branch_id, narration, reference_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		string(e.ID), string(e.Type), string(e.Direction), ledger.ToMinor(e.Amount), ledger.Millis(e.Date),
		string(e.UserID), string(e.BranchID), e.Narration, nullable(e.ReferenceID),
	)
	if err != nil {
		return fmt.Errorf("failed to append ledger entry: %w", err)
	}
	return nil
}

func (c *conn) ListLedgerEntries(ctx context.Context, f ledger.LedgerEntryFilter) ([]ledger.LedgerEntry, error) {
	var w where
	if f.Type != nil {
		w.add("entry_type = $%d", string(*f.Type))
	}
	if f.BranchID != nil {
		w.add("branch_id = $%d", string(*f.BranchID))
	}
	if f.UserID != nil {
		w.add("user_id = $%d", string(*f.UserID))
	}
	if f.From != nil {
		w.add("date >= $%d", ledger.Millis(*f.From))
	}
	if f.To != nil {
		w.add("date <= $%d", ledger.Millis(*f.To))
	}

	rows, err := c.q.Query(ctx, `SELECT id, entry_type, direction, amount, date, user_id, branch_id, narration, reference_id
		FROM ledger_entries`+w.sql()+" ORDER BY date DESC, seq DESC"+page(f.Limit, f.Offset), w.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger entries: %w", err)
	}
	defer rows.Close()

	var out []ledger.LedgerEntry
	for rows.Next() {
		var (
			e                             ledger.LedgerEntry
			id, typ, dir, user, branch    string
			amount, date                  int64
			reference                     *string
		)
		if err := rows.Scan(&id, &typ, &dir, &amount, &date, &user, &branch, &e.Narration, &reference); err != nil {
			return nil, err
		}
		e.ID = ledger.EntryID(id)
		e.Type = ledger.EntryType(typ)
		e.Direction = ledger.Direction(dir)
		e.Amount = ledger.FromMinor(amount)
		e.Date = ledger.FromMillis(date)
		e.UserID = ledger.UserID(user)
		e.BranchID = ledger.BranchID(branch)
		e.ReferenceID = deref(reference)
		out = append(out, e)
	}
	return out, rows.Err()
}

// =============================================================================
// DIRECTORY
// =============================================================================

func (c *conn) SaveCustomer(ctx context.Context, cu ledger.Customer) error {
	_, err := c.q.Exec(ctx, `
		INSERT INTO customers (id, name, phone, email) VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, phone = EXCLUDED.phone, email = EXCLUDED.email`,
		string(cu.ID), cu.Name, cu.Phone, cu.Email)
	return err
}

func (c *conn) GetCustomer(ctx context.Context, id ledger.UserID) (*ledger.Customer, error) {
	var cu ledger.Customer
	var cid string
	err := c.q.QueryRow(ctx, "SELECT id, name, phone, email FROM customers WHERE id = $1", string(id)).
		Scan(&cid, &cu.Name, &cu.Phone, &cu.Email)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("customer %s: %w", id, ledger.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	cu.ID = ledger.UserID(cid)
	return &cu, nil
}

func (c *conn) SaveProduct(ctx context.Context, p ledger.Product) error {
	_, err := c.q.Exec(ctx, `
		INSERT INTO products (id, name, price, image_url) VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, price = EXCLUDED.price, image_url = EXCLUDED.image_url`,
		string(p.ID), p.Name, ledger.ToMinor(p.Price), p.ImageURL)
	return err
}

func (c *conn) GetProduct(ctx context.Context, id ledger.ProductID) (*ledger.Product, error) {
	var (
		p     ledger.Product
		pid   string
		price int64
	)
	err := c.q.QueryRow(ctx, "SELECT id, name, price, image_url FROM products WHERE id = $1", string(id)).
		Scan(&pid, &p.Name, &price, &p.ImageURL)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("product %s: %w", id, ledger.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	p.ID = ledger.ProductID(pid)
	p.Price = ledger.FromMinor(price)
	return &p, nil
}

// =============================================================================
// HELPERS
// =============================================================================

// where accumulates AND-ed conditions; each clause carries one $%d verb.
type where struct {
	clauses []string
	args    []any
}

func (w *where) add(clause string, arg any) {
	w.args = append(w.args, arg)
	w.clauses = append(w.clauses, fmt.Sprintf(clause, len(w.args)))
}

func (w *where) sql() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.clauses, " AND ")
}

func page(limit, offset int) string {
	if limit <= 0 {
		return ""
	}
	return fmt.Sprintf(" LIMIT %d OFFSET %d", limit, max(offset, 0))
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
