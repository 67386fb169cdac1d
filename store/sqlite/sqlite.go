/*
Package sqlite provides a SQLite-backed implementation of ledger.TxStore.

PURPOSE:
  Implements every persistence interface in ledger/store.go. It is the
  default backend for local runs and the backend all engine tests use
  (":memory:"). store/postgres implements the same contract on pgx.

KEY TABLES:
  accounts:             balances (INTEGER minor units), unique number
  account_transactions: immutable ledger lines (no UPDATE/DELETE issued)
  withdrawal_requests:  request state machine
  packages:             savings packages, one OPEN per (account, target)
  contributions:        package payments
  charges:              cycle service charges
  ledger_entries:       general ledger
  customers, products:  collaborator mirrors

MONEY:
  Stored as INTEGER minor units so balance mutations can be expressed as
  SQL increments (col = col + ?). decimal.Decimal never round-trips through
  REAL.

CONCURRENCY:
  The pool is limited to a single connection. SQLite allows one writer at
  a time anyway, and ":memory:" databases are per-connection. Every write
  that needs a floor check carries the guard in its WHERE clause.

USAGE:
  store, err := sqlite.New("./data/ledger.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - ledger/store.go: interface definitions
  - store/postgres: production backend
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/savings-ledger/ledger"
)

// Store implements ledger.TxStore using SQLite.
type Store struct {
	*conn
	db *sql.DB
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// conn implements ledger.Store over a querier.
type conn struct {
	q   querier
	now func() time.Time
}

var _ ledger.TxStore = (*Store)(nil)

// New creates a new SQLite store with the given database path, creating its
// directory if needed. Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	if dbPath != ":memory:" && !strings.HasPrefix(dbPath, "file:") {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := NewWithDB(db)
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// NewWithDB wraps an already-open database without migrating it.
func NewWithDB(db *sql.DB) *Store {
	return &Store{conn: &conn{q: db, now: time.Now}, db: db}
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		number TEXT NOT NULL UNIQUE,
		available_balance INTEGER NOT NULL DEFAULT 0,
		ledger_balance INTEGER NOT NULL DEFAULT 0,
		account_type TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'active',
		user_id TEXT NOT NULL,
		branch_id TEXT NOT NULL DEFAULT '',
		manager_id TEXT,
		version INTEGER NOT NULL DEFAULT 1,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		UNIQUE(user_id, account_type)
	);

	CREATE INDEX IF NOT EXISTS idx_accounts_user ON accounts(user_id);

	-- Append-only: this package never issues UPDATE or DELETE on it
	CREATE TABLE IF NOT EXISTS account_transactions (
		id TEXT PRIMARY KEY,
		account_number TEXT NOT NULL REFERENCES accounts(number),
		amount INTEGER NOT NULL,
		direction TEXT NOT NULL,
		narration TEXT NOT NULL,
		date INTEGER NOT NULL,
		branch_id TEXT NOT NULL DEFAULT '',
		created_by TEXT NOT NULL DEFAULT '',
		reasons TEXT,
		reference_id TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_account_date
		ON account_transactions(account_number, date DESC);
	CREATE INDEX IF NOT EXISTS idx_transactions_reference
		ON account_transactions(reference_id) WHERE reference_id IS NOT NULL;

	CREATE TABLE IF NOT EXISTS withdrawal_requests (
		id TEXT PRIMARY KEY,
		account_number TEXT NOT NULL REFERENCES accounts(number),
		amount INTEGER NOT NULL,
		narration TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		branch_id TEXT NOT NULL DEFAULT '',
		requested_by TEXT NOT NULL DEFAULT '',
		resolved_by TEXT,
		reason TEXT,
		fulfillment_id TEXT,
		version INTEGER NOT NULL DEFAULT 1,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_withdrawal_requests_status
		ON withdrawal_requests(status, created_at DESC);

	CREATE TABLE IF NOT EXISTS packages (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		account_number TEXT NOT NULL REFERENCES accounts(number),
		user_id TEXT NOT NULL,
		branch_id TEXT NOT NULL DEFAULT '',
		target TEXT NOT NULL,
		cycle_unit INTEGER NOT NULL,
		target_amount INTEGER NOT NULL DEFAULT 0,
		product_id TEXT,
		total_contribution INTEGER NOT NULL DEFAULT 0,
		total_count INTEGER NOT NULL DEFAULT 0,
		deduction_count INTEGER NOT NULL DEFAULT 0,
		total_charge INTEGER NOT NULL DEFAULT 0,
		has_been_charged INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'open',
		merged_into TEXT,
		version INTEGER NOT NULL DEFAULT 1,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	-- One open package per (account, target)
	CREATE UNIQUE INDEX IF NOT EXISTS idx_packages_open_target
		ON packages(account_number, target) WHERE status = 'open';
	CREATE INDEX IF NOT EXISTS idx_packages_user ON packages(user_id);

	CREATE TABLE IF NOT EXISTS contributions (
		id TEXT PRIMARY KEY,
		package_id TEXT NOT NULL REFERENCES packages(id),
		account_number TEXT NOT NULL,
		amount INTEGER NOT NULL,
		units INTEGER NOT NULL,
		running_count INTEGER NOT NULL,
		created_by TEXT NOT NULL DEFAULT '',
		branch_id TEXT NOT NULL DEFAULT '',
		date INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_contributions_package ON contributions(package_id, date);

	CREATE TABLE IF NOT EXISTS charges (
		id TEXT PRIMARY KEY,
		package_id TEXT NOT NULL REFERENCES packages(id),
		account_number TEXT NOT NULL,
		branch_id TEXT NOT NULL DEFAULT '',
		user_id TEXT NOT NULL,
		amount INTEGER NOT NULL,
		total_count INTEGER NOT NULL,
		date INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_charges_package ON charges(package_id, date);

	CREATE TABLE IF NOT EXISTS ledger_entries (
		id TEXT PRIMARY KEY,
		entry_type TEXT NOT NULL,
		direction TEXT NOT NULL,
		amount INTEGER NOT NULL,
		date INTEGER NOT NULL,
		user_id TEXT NOT NULL DEFAULT '',
		branch_id TEXT NOT NULL DEFAULT '',
		narration TEXT NOT NULL DEFAULT '',
		reference_id TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_ledger_entries_type_date ON ledger_entries(entry_type, date DESC);

	CREATE TABLE IF NOT EXISTS customers (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		phone TEXT NOT NULL DEFAULT '',
		email TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS products (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		price INTEGER NOT NULL DEFAULT 0,
		image_url TEXT NOT NULL DEFAULT ''
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Reset deletes all rows, children first. Used by demo scenarios and tests.
func (s *Store) Reset(ctx context.Context) error {
	for _, table := range []string{
		"ledger_entries", "charges", "contributions", "packages",
		"withdrawal_requests", "account_transactions", "accounts", "customers", "products",
	} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to reset %s: %w", table, err)
		}
	}
	return nil
}

// =============================================================================
// TRANSACTIONAL STORE (ledger.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store ledger.Store) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&conn{q: sqlTx, now: s.now}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// =============================================================================
// ACCOUNT STORE
// =============================================================================

const accountCols = `id, number, available_balance, ledger_balance, account_type, status,
	user_id, branch_id, manager_id, version, created_at, updated_at`

func (c *conn) CreateAccount(ctx context.Context, a ledger.Account) error {
	query := `
		INSERT INTO accounts
		(id, number, available_balance, ledger_balance, account_type, status,
		 user_id, branch_id, manager_id, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)
	`
	now := ledger.Millis(c.now())
	_, err := c.q.ExecContext(ctx, query,
		a.ID, a.Number,
		ledger.ToMinor(a.AvailableBalance), ledger.ToMinor(a.LedgerBalance),
		a.Type, a.Status, a.UserID, a.BranchID, a.ManagerID,
		now, now,
	)
	if isUniqueConstraintError(err) {
		return fmt.Errorf("%w: %v", ledger.ErrDuplicateAccount, err)
	}
	if err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}
	return nil
}

func (c *conn) AccountNumberExists(ctx context.Context, number ledger.AccountNumber) (bool, error) {
	var count int
	err := c.q.QueryRowContext(ctx, "SELECT COUNT(*) FROM accounts WHERE number = ?", number).Scan(&count)
	return count > 0, err
}

func (c *conn) GetAccount(ctx context.Context, number ledger.AccountNumber) (*ledger.Account, error) {
	row := c.q.QueryRowContext(ctx, "SELECT "+accountCols+" FROM accounts WHERE number = ?", number)
	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("account %s: %w", number, ledger.ErrNotFound)
	}
	return a, err
}

// GetAccountForUpdate is GetAccount: SQLite has no row locks, and the single
// connection already serializes scopes.
func (c *conn) GetAccountForUpdate(ctx context.Context, number ledger.AccountNumber) (*ledger.Account, error) {
	return c.GetAccount(ctx, number)
}

func (c *conn) AdjustBalances(ctx context.Context, number ledger.AccountNumber, availableDelta, ledgerDelta decimal.Decimal) (*ledger.Account, error) {
	query := `
		UPDATE accounts SET
			available_balance = available_balance + ?,
			ledger_balance = ledger_balance + ?,
			version = version + 1,
			updated_at = ?
		WHERE number = ?
		RETURNING ` + accountCols

	row := c.q.QueryRowContext(ctx, query,
		ledger.ToMinor(availableDelta), ledger.ToMinor(ledgerDelta),
		ledger.Millis(c.now()), number,
	)
	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("account %s: %w", number, ledger.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to adjust balances: %w", err)
	}
	return a, nil
}

func (c *conn) SetAccountStatus(ctx context.Context, number ledger.AccountNumber, status ledger.AccountStatus) error {
	res, err := c.q.ExecContext(ctx,
		"UPDATE accounts SET status = ?, version = version + 1, updated_at = ? WHERE number = ?",
		status, ledger.Millis(c.now()), number,
	)
	if err != nil {
		return fmt.Errorf("failed to set account status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("account %s: %w", number, ledger.ErrNotFound)
	}
	return nil
}

func (c *conn) ListAccountsByUser(ctx context.Context, userID ledger.UserID) ([]ledger.Account, error) {
	rows, err := c.q.QueryContext(ctx,
		"SELECT "+accountCols+" FROM accounts WHERE user_id = ? ORDER BY created_at", userID)
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

func scanAccount(s scanner) (*ledger.Account, error) {
	var (
		a                  ledger.Account
		available, ledgerB int64
		managerID          sql.NullString
		createdAt, updated int64
	)
	err := s.Scan(&a.ID, &a.Number, &available, &ledgerB, &a.Type, &a.Status,
		&a.UserID, &a.BranchID, &managerID, &a.Version, &createdAt, &updated)
	if err != nil {
		return nil, err
	}
	a.AvailableBalance = ledger.FromMinor(available)
	a.LedgerBalance = ledger.FromMinor(ledgerB)
	if managerID.Valid {
		a.ManagerID = &managerID.String
	}
	a.CreatedAt = ledger.FromMillis(createdAt)
	a.UpdatedAt = ledger.FromMillis(updated)
	return &a, nil
}

// =============================================================================
// TRANSACTION STORE (append-only)
// =============================================================================

const transactionCols = `id, account_number, amount, direction, narration, date,
	branch_id, created_by, reasons, reference_id`

func (c *conn) AppendTransaction(ctx context.Context, tx ledger.Transaction) error {
	query := `
		INSERT INTO account_transactions (` + transactionCols + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := c.q.ExecContext(ctx, query,
		tx.ID, tx.AccountNumber, ledger.ToMinor(tx.Amount), tx.Direction, tx.Narration,
		ledger.Millis(tx.Date), tx.BranchID, tx.CreatedBy,
		nullString(tx.Reasons), nullString(tx.ReferenceID),
	)
	if err != nil {
		return fmt.Errorf("failed to append transaction: %w", err)
	}
	return nil
}

func (c *conn) ListTransactions(ctx context.Context, f ledger.TransactionFilter) ([]ledger.Transaction, error) {
	var w where
	if f.AccountNumber != nil {
		w.add("account_number = ?", *f.AccountNumber)
	}
	if f.Direction != nil {
		w.add("direction = ?", *f.Direction)
	}
	if f.ReferenceID != nil {
		w.add("reference_id = ?", *f.ReferenceID)
	}
	if f.From != nil {
		w.add("date >= ?", ledger.Millis(*f.From))
	}
	if f.To != nil {
		w.add("date <= ?", ledger.Millis(*f.To))
	}

	query := "SELECT " + transactionCols + " FROM account_transactions" + w.sql() +
		" ORDER BY date DESC, rowid DESC" + page(f.Limit, f.Offset)

	rows, err := c.q.QueryContext(ctx, query, w.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var txs []ledger.Transaction
	for rows.Next() {
		var (
			tx                 ledger.Transaction
			amount, date       int64
			reasons, reference sql.NullString
		)
		if err := rows.Scan(&tx.ID, &tx.AccountNumber, &amount, &tx.Direction, &tx.Narration, &date,
			&tx.BranchID, &tx.CreatedBy, &reasons, &reference); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		tx.Amount = ledger.FromMinor(amount)
		tx.Date = ledger.FromMillis(date)
		tx.Reasons = reasons.String
		tx.ReferenceID = reference.String
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

// =============================================================================
// WITHDRAWAL STORE
// =============================================================================

const requestCols = `id, account_number, amount, narration, status, branch_id, requested_by,
	resolved_by, reason, fulfillment_id, version, created_at, updated_at`

func (c *conn) CreateWithdrawalRequest(ctx context.Context, r ledger.WithdrawalRequest) error {
	query := `
		INSERT INTO withdrawal_requests
		(id, account_number, amount, narration, status, branch_id, requested_by, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 1, ?, ?)
	`
	now := ledger.Millis(c.now())
	_, err := c.q.ExecContext(ctx, query,
		r.ID, r.AccountNumber, ledger.ToMinor(r.Amount), r.Narration, r.Status,
		r.BranchID, r.RequestedBy, now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to create withdrawal request: %w", err)
	}
	return nil
}

func (c *conn) GetWithdrawalRequest(ctx context.Context, id ledger.RequestID) (*ledger.WithdrawalRequest, error) {
	row := c.q.QueryRowContext(ctx, "SELECT "+requestCols+" FROM withdrawal_requests WHERE id = ?", id)
	r, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("withdrawal request %s: %w", id, ledger.ErrNotFound)
	}
	return r, err
}

func (c *conn) TransitionWithdrawalRequest(ctx context.Context, id ledger.RequestID, from ledger.RequestStatus, res ledger.RequestResolution) error {
	query := `
		UPDATE withdrawal_requests SET
			status = ?, resolved_by = ?, reason = ?, fulfillment_id = ?,
			version = version + 1, updated_at = ?
		WHERE id = ? AND status = ?
	`
	result, err := c.q.ExecContext(ctx, query,
		res.To, nullString(res.ResolvedBy), nullString(res.Reason), nullString(string(res.FulfillmentID)),
		ledger.Millis(res.At), id, from,
	)
	if err != nil {
		return fmt.Errorf("failed to transition withdrawal request: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
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
		w.add("status = ?", *f.Status)
	}
	if f.BranchID != nil {
		w.add("branch_id = ?", *f.BranchID)
	}
	if f.RequestedBy != nil {
		w.add("requested_by = ?", *f.RequestedBy)
	}
	if f.From != nil {
		w.add("created_at >= ?", ledger.Millis(*f.From))
	}
	if f.To != nil {
		w.add("created_at <= ?", ledger.Millis(*f.To))
	}

	query := "SELECT " + requestCols + " FROM withdrawal_requests" + w.sql() +
		" ORDER BY created_at DESC, rowid DESC" + page(f.Limit, f.Offset)

	rows, err := c.q.QueryContext(ctx, query, w.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query withdrawal requests: %w", err)
	}
	defer rows.Close()

	var requests []ledger.WithdrawalRequest
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, *r)
	}
	return requests, rows.Err()
}

func scanRequest(s scanner) (*ledger.WithdrawalRequest, error) {
	var (
		r                         ledger.WithdrawalRequest
		amount, created, updated  int64
		resolvedBy, reason, fulID sql.NullString
	)
	err := s.Scan(&r.ID, &r.AccountNumber, &amount, &r.Narration, &r.Status, &r.BranchID, &r.RequestedBy,
		&resolvedBy, &reason, &fulID, &r.Version, &created, &updated)
	if err != nil {
		return nil, err
	}
	r.Amount = ledger.FromMinor(amount)
	r.ResolvedBy = resolvedBy.String
	r.Reason = reason.String
	r.FulfillmentID = ledger.TransactionID(fulID.String)
	r.CreatedAt = ledger.FromMillis(created)
	r.UpdatedAt = ledger.FromMillis(updated)
	return &r, nil
}

// =============================================================================
// PACKAGE STORE
// =============================================================================

const packageCols = `id, kind, account_number, user_id, branch_id, target, cycle_unit, target_amount,
	product_id, total_contribution, total_count, deduction_count, total_charge, has_been_charged,
	status, merged_into, version, created_at, updated_at`

func (c *conn) CreatePackage(ctx context.Context, p ledger.Package) error {
	query := `
		INSERT INTO packages (` + packageCols + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)
	`
	now := ledger.Millis(c.now())
	_, err := c.q.ExecContext(ctx, query,
		p.ID, p.Kind, p.AccountNumber, p.UserID, p.BranchID, p.Target,
		ledger.ToMinor(p.CycleUnit), ledger.ToMinor(p.TargetAmount), p.ProductID,
		ledger.ToMinor(p.TotalContribution), p.TotalCount, p.DeductionCount,
		ledger.ToMinor(p.TotalCharge), p.HasBeenCharged,
		p.Status, p.MergedInto, now, now,
	)
	if isUniqueConstraintError(err) {
		return fmt.Errorf("%w: account %s target %q", ledger.ErrDuplicateActivePackage, p.AccountNumber, p.Target)
	}
	if err != nil {
		return fmt.Errorf("failed to create package: %w", err)
	}
	return nil
}

func (c *conn) GetPackage(ctx context.Context, id ledger.PackageID) (*ledger.Package, error) {
	row := c.q.QueryRowContext(ctx, "SELECT "+packageCols+" FROM packages WHERE id = ?", id)
	p, err := scanPackage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("package %s: %w", id, ledger.ErrNotFound)
	}
	return p, err
}

func (c *conn) GetPackages(ctx context.Context, ids []ledger.PackageID) ([]ledger.Package, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return c.queryPackages(ctx, "SELECT "+packageCols+" FROM packages WHERE id IN ("+placeholders+")", args...)
}

// GetPackagesForUpdate orders by id only: the single connection already
// serializes scopes.
func (c *conn) GetPackagesForUpdate(ctx context.Context, ids []ledger.PackageID) ([]ledger.Package, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return c.queryPackages(ctx,
		"SELECT "+packageCols+" FROM packages WHERE id IN ("+placeholders+") ORDER BY id", args...)
}

func (c *conn) FindOpenPackage(ctx context.Context, number ledger.AccountNumber, target string) (*ledger.Package, error) {
	row := c.q.QueryRowContext(ctx,
		"SELECT "+packageCols+" FROM packages WHERE account_number = ? AND target = ? AND status = 'open'",
		number, target)
	p, err := scanPackage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("open package for %s/%q: %w", number, target, ledger.ErrNotFound)
	}
	return p, err
}

func (c *conn) ListPackagesByUser(ctx context.Context, userID ledger.UserID) ([]ledger.Package, error) {
	return c.queryPackages(ctx,
		"SELECT "+packageCols+" FROM packages WHERE user_id = ? ORDER BY created_at DESC", userID)
}

func (c *conn) queryPackages(ctx context.Context, query string, args ...any) ([]ledger.Package, error) {
	rows, err := c.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query packages: %w", err)
	}
	defer rows.Close()

	var packages []ledger.Package
	for rows.Next() {
		p, err := scanPackage(rows)
		if err != nil {
			return nil, err
		}
		packages = append(packages, *p)
	}
	return packages, rows.Err()
}

func (c *conn) ApplyContribution(ctx context.Context, id ledger.PackageID, amount decimal.Decimal, units int) (*ledger.Package, error) {
	query := `
		UPDATE packages SET
			total_contribution = total_contribution + ?,
			total_count = total_count + ?,
			version = version + 1,
			updated_at = ?
		WHERE id = ? AND status = 'open'
		RETURNING ` + packageCols
	return c.updatePackage(ctx, id, ledger.ErrPackageClosed, query,
		ledger.ToMinor(amount), units, ledger.Millis(c.now()), id)
}

func (c *conn) ApplyCharge(ctx context.Context, id ledger.PackageID, charge decimal.Decimal, deductions int) (*ledger.Package, error) {
	query := `
		UPDATE packages SET
			total_contribution = total_contribution - ?,
			total_charge = total_charge + ?,
			deduction_count = deduction_count + ?,
			has_been_charged = 1,
			version = version + 1,
			updated_at = ?
		WHERE id = ?
		RETURNING ` + packageCols
	minor := ledger.ToMinor(charge)
	return c.updatePackage(ctx, id, ledger.ErrInvalidState, query,
		minor, minor, deductions, ledger.Millis(c.now()), id)
}

func (c *conn) CreditPackage(ctx context.Context, id ledger.PackageID, amount decimal.Decimal) (*ledger.Package, error) {
	query := `
		UPDATE packages SET
			total_contribution = total_contribution + ?,
			version = version + 1,
			updated_at = ?
		WHERE id = ? AND status = 'open'
		RETURNING ` + packageCols
	return c.updatePackage(ctx, id, ledger.ErrPackageClosed, query,
		ledger.ToMinor(amount), ledger.Millis(c.now()), id)
}

func (c *conn) DebitPackage(ctx context.Context, id ledger.PackageID, amount decimal.Decimal) (*ledger.Package, error) {
	query := `
		UPDATE packages SET
			total_contribution = total_contribution - ?,
			version = version + 1,
			updated_at = ?
		WHERE id = ? AND status = 'open' AND total_contribution >= ?
		RETURNING ` + packageCols
	minor := ledger.ToMinor(amount)
	p, err := scanPackage(c.q.QueryRowContext(ctx, query, minor, ledger.Millis(c.now()), id, minor))
	if errors.Is(err, sql.ErrNoRows) {
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

// updatePackage runs an UPDATE ... RETURNING. When no row matches it reports
// ErrNotFound for a missing package and missErr otherwise.
func (c *conn) updatePackage(ctx context.Context, id ledger.PackageID, missErr error, query string, args ...any) (*ledger.Package, error) {
	p, err := scanPackage(c.q.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
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
	query := `
		UPDATE packages SET
			status = ?,
			merged_into = COALESCE(?, merged_into),
			version = version + 1,
			updated_at = ?
		WHERE id = ? AND status = ?
	`
	res, err := c.q.ExecContext(ctx, query, to, mergedInto, ledger.Millis(c.now()), id, from)
	if err != nil {
		return fmt.Errorf("failed to transition package: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := c.GetPackage(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("%w: package %s is not %s", ledger.ErrInvalidState, id, from)
	}
	return nil
}

func scanPackage(s scanner) (*ledger.Package, error) {
	var (
		p                                  ledger.Package
		unit, targetAmount, total, charged int64
		productID, mergedInto              sql.NullString
		created, updated                   int64
	)
	err := s.Scan(&p.ID, &p.Kind, &p.AccountNumber, &p.UserID, &p.BranchID, &p.Target, &unit, &targetAmount,
		&productID, &total, &p.TotalCount, &p.DeductionCount, &charged, &p.HasBeenCharged,
		&p.Status, &mergedInto, &p.Version, &created, &updated)
	if err != nil {
		return nil, err
	}
	p.CycleUnit = ledger.FromMinor(unit)
	p.TargetAmount = ledger.FromMinor(targetAmount)
	p.TotalContribution = ledger.FromMinor(total)
	p.TotalCharge = ledger.FromMinor(charged)
	if productID.Valid {
		pid := ledger.ProductID(productID.String)
		p.ProductID = &pid
	}
	if mergedInto.Valid {
		mid := ledger.PackageID(mergedInto.String)
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
	query := `
		INSERT INTO contributions
		(id, package_id, account_number, amount, units, running_count, created_by, branch_id, date)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := c.q.ExecContext(ctx, query,
		ct.ID, ct.PackageID, ct.AccountNumber, ledger.ToMinor(ct.Amount), ct.Units, ct.RunningCount,
		ct.CreatedBy, ct.BranchID, ledger.Millis(ct.Date),
	)
	if err != nil {
		return fmt.Errorf("failed to append contribution: %w", err)
	}
	return nil
}

func (c *conn) ListContributions(ctx context.Context, id ledger.PackageID) ([]ledger.Contribution, error) {
	rows, err := c.q.QueryContext(ctx, `
		SELECT id, package_id, account_number, amount, units, running_count, created_by, branch_id, date
		FROM contributions WHERE package_id = ? ORDER BY date ASC, rowid ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query contributions: %w", err)
	}
	defer rows.Close()

	var out []ledger.Contribution
	for rows.Next() {
		var (
			ct           ledger.Contribution
			amount, date int64
		)
		if err := rows.Scan(&ct.ID, &ct.PackageID, &ct.AccountNumber, &amount, &ct.Units, &ct.RunningCount,
			&ct.CreatedBy, &ct.BranchID, &date); err != nil {
			return nil, err
		}
		ct.Amount = ledger.FromMinor(amount)
		ct.Date = ledger.FromMillis(date)
		out = append(out, ct)
	}
	return out, rows.Err()
}

func (c *conn) ReassignContributions(ctx context.Context, from, to ledger.PackageID) (int64, error) {
	res, err := c.q.ExecContext(ctx, "UPDATE contributions SET package_id = ? WHERE package_id = ?", to, from)
	if err != nil {
		return 0, fmt.Errorf("failed to reassign contributions: %w", err)
	}
	return res.RowsAffected()
}

func (c *conn) AppendCharge(ctx context.Context, ch ledger.Charge) error {
	query := `
		INSERT INTO charges (id, package_id, account_number, branch_id, user_id, amount, total_count, date)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := c.q.ExecContext(ctx, query,
		ch.ID, ch.PackageID, ch.AccountNumber, ch.BranchID, ch.UserID,
		ledger.ToMinor(ch.Amount), ch.TotalCount, ledger.Millis(ch.Date),
	)
	if err != nil {
		return fmt.Errorf("failed to append charge: %w", err)
	}
	return nil
}

func (c *conn) ListCharges(ctx context.Context, id ledger.PackageID) ([]ledger.Charge, error) {
	rows, err := c.q.QueryContext(ctx, `
		SELECT id, package_id, account_number, branch_id, user_id, amount, total_count, date
		FROM charges WHERE package_id = ? ORDER BY date ASC, rowid ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query charges: %w", err)
	}
	defer rows.Close()

	var out []ledger.Charge
	for rows.Next() {
		var (
			ch           ledger.Charge
			amount, date int64
		)
		if err := rows.Scan(&ch.ID, &ch.PackageID, &ch.AccountNumber, &ch.BranchID, &ch.UserID,
			&amount, &ch.TotalCount, &date); err != nil {
			return nil, err
		}
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
	query := `
		INSERT INTO ledger_entries (id, entry_type, direction, amount, date, user_id, branch_id, narration, reference_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := c.q.ExecContext(ctx, query,
		e.ID, e.Type, e.Direction, ledger.ToMinor(e.Amount), ledger.Millis(e.Date),
		e.UserID, e.BranchID, e.Narration, nullString(e.ReferenceID),
	)
	if err != nil {
		return fmt.Errorf("failed to append ledger entry: %w", err)
	}
	return nil
}

func (c *conn) ListLedgerEntries(ctx context.Context, f ledger.LedgerEntryFilter) ([]ledger.LedgerEntry, error) {
	var w where
	if f.Type != nil {
		w.add("entry_type = ?", *f.Type)
	}
	if f.BranchID != nil {
		w.add("branch_id = ?", *f.BranchID)
	}
	if f.UserID != nil {
		w.add("user_id = ?", *f.UserID)
	}
	if f.From != nil {
		w.add("date >= ?", ledger.Millis(*f.From))
	}
	if f.To != nil {
		w.add("date <= ?", ledger.Millis(*f.To))
	}

	query := `SELECT id, entry_type, direction, amount, date, user_id, branch_id, narration, reference_id
		FROM ledger_entries` + w.sql() + " ORDER BY date DESC, rowid DESC" + page(f.Limit, f.Offset)

	rows, err := c.q.QueryContext(ctx, query, w.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger entries: %w", err)
	}
	defer rows.Close()

	var out []ledger.LedgerEntry
	for rows.Next() {
		var (
			e            ledger.LedgerEntry
			amount, date int64
			reference    sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.Type, &e.Direction, &amount, &date, &e.UserID, &e.BranchID,
			&e.Narration, &reference); err != nil {
			return nil, err
		}
		e.Amount = ledger.FromMinor(amount)
		e.Date = ledger.FromMillis(date)
		e.ReferenceID = reference.String
		out = append(out, e)
	}
	return out, rows.Err()
}

// =============================================================================
// DIRECTORY
// =============================================================================

func (c *conn) SaveCustomer(ctx context.Context, cu ledger.Customer) error {
	query := `
		INSERT INTO customers (id, name, phone, email) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			phone = excluded.phone,
			email = excluded.email
	`
	_, err := c.q.ExecContext(ctx, query, cu.ID, cu.Name, cu.Phone, cu.Email)
	return err
}

func (c *conn) GetCustomer(ctx context.Context, id ledger.UserID) (*ledger.Customer, error) {
	var cu ledger.Customer
	err := c.q.QueryRowContext(ctx, "SELECT id, name, phone, email FROM customers WHERE id = ?", id).
		Scan(&cu.ID, &cu.Name, &cu.Phone, &cu.Email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("customer %s: %w", id, ledger.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &cu, nil
}

func (c *conn) SaveProduct(ctx context.Context, p ledger.Product) error {
	query := `
		INSERT INTO products (id, name, price, image_url) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			price = excluded.price,
			image_url = excluded.image_url
	`
	_, err := c.q.ExecContext(ctx, query, p.ID, p.Name, ledger.ToMinor(p.Price), p.ImageURL)
	return err
}

func (c *conn) GetProduct(ctx context.Context, id ledger.ProductID) (*ledger.Product, error) {
	var (
		p     ledger.Product
		price int64
	)
	err := c.q.QueryRowContext(ctx, "SELECT id, name, price, image_url FROM products WHERE id = ?", id).
		Scan(&p.ID, &p.Name, &price, &p.ImageURL)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("product %s: %w", id, ledger.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	p.Price = ledger.FromMinor(price)
	return &p, nil
}

// =============================================================================
// HELPERS
// =============================================================================

type scanner interface {
	Scan(dest ...any) error
}

// where accumulates AND-ed conditions for the typed list filters.
type where struct {
	clauses []string
	args    []any
}

func (w *where) add(clause string, arg any) {
	w.clauses = append(w.clauses, clause)
	w.args = append(w.args, arg)
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

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
