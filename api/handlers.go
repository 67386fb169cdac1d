/*
handlers.go - HTTP API handlers for the savings ledger

PURPOSE:
  Exposes the balance movement and contribution cycle engines via REST API.
  Handles HTTP request/response, JSON serialization, and delegates to the
  engines. Handlers hold no business rules.

ENDPOINTS:
  Accounts:
    POST   /api/accounts                          Open account
    GET    /api/accounts/{number}                 Account details
    PUT    /api/accounts/{number}/status          Activate / deactivate
    GET    /api/accounts/{number}/balance         Available, ledger, held
    GET    /api/accounts/{number}/transactions    Statement (filterable)
    POST   /api/accounts/{number}/deposits        Deposit
    POST   /api/accounts/{number}/holds           Put funds on hold
    POST   /api/accounts/{number}/holds/release   Release held funds
    POST   /api/accounts/{number}/holds/spend     Spend held funds
    POST   /api/accounts/{number}/withdrawals     Request a withdrawal

  Withdrawal requests:
    GET    /api/withdrawals                       Pending requests
    GET    /api/withdrawals/{id}                  One request
    POST   /api/withdrawals/{id}/fulfill          Pay out
    POST   /api/withdrawals/{id}/reject           Reject with reason

  Packages:
    POST   /api/packages                          Create package
    POST   /api/packages/contributions            Contribute
    POST   /api/packages/withdrawals              Withdraw to account
    POST   /api/packages/merge                    Merge packages
    GET    /api/packages/{id}                     Package (+ product)
    GET    /api/packages/{id}/contributions       Contribution history
    GET    /api/packages/{id}/charges             Charge history
    POST   /api/packages/{id}/paid                SB: mark paid
    POST   /api/packages/{id}/delivered           SB: mark delivered

  Users, directory, general ledger:
    GET    /api/users/{id}/accounts
    GET    /api/users/{id}/packages
    PUT    /api/customers
    PUT    /api/products
    GET    /api/products/{id}
    GET    /api/ledger-entries

ACTOR:
  The upstream gateway authenticates staff and forwards X-Actor-ID,
  X-Actor-Name and X-Branch-ID. Requests without them run as the system
  actor.

ERROR HANDLING:
  Errors are returned as {"error", "kind", "details"} with:
  - 400: InvalidAmount, ValidationError
  - 404: NotFound
  - 409: DuplicateAccount, DuplicateActivePackage, PackageClosed, InvalidState
  - 422: InsufficientBalance, InsufficientHeldFunds, InvalidTarget, InvalidSource
  - 500: anything else (logged, details withheld)

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/warp/savings-ledger/account"
	"github.com/warp/savings-ledger/ledger"
	"github.com/warp/savings-ledger/savings"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Store is the persistence the handlers need beyond the engines.
type Store interface {
	ledger.Store
	Ping(ctx context.Context) error
	Reset(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Accounts *account.Engine
	Savings  *savings.Engine
	Store    Store
	Log      *zap.Logger

	mu              sync.Mutex
	currentScenario string
}

func NewHandler(accounts *account.Engine, sv *savings.Engine, store Store, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{Accounts: accounts, Savings: sv, Store: store, Log: log.Named("api")}
}

// Health reports whether the database answers.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := h.Store.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// ACCOUNT HANDLERS
// =============================================================================

func (h *Handler) OpenAccount(w http.ResponseWriter, r *http.Request) {
	var req OpenAccountRequest
	if !h.decode(w, r, &req) {
		return
	}
	acct, err := h.Accounts.OpenAccount(r.Context(), account.OpenAccountInput{
		UserID:    ledger.UserID(req.UserID),
		Type:      ledger.AccountType(req.Type),
		BranchID:  ledger.BranchID(req.BranchID),
		ManagerID: req.ManagerID,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAccountDTO(*acct))
}

func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	acct, err := h.Accounts.GetAccount(r.Context(), accountNumber(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountDTO(*acct))
}

func (h *Handler) SetAccountStatus(w http.ResponseWriter, r *http.Request) {
	var req SetStatusRequest
	if !h.decode(w, r, &req) {
		return
	}
	acct, err := h.Accounts.SetStatus(r.Context(), accountNumber(r), ledger.AccountStatus(req.Status))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountDTO(*acct))
}

func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	acct, err := h.Accounts.GetAccount(r.Context(), accountNumber(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceDTO{
		AccountNumber:    string(acct.Number),
		AvailableBalance: money(acct.AvailableBalance),
		LedgerBalance:    money(acct.LedgerBalance),
		HeldAmount:       money(acct.HeldAmount()),
	})
}

// GetTransactions returns the account statement, newest first.
// Query: direction, reference_id, from, to, limit, offset.
func (h *Handler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var f ledger.TransactionFilter
	if v := q.Get("direction"); v != "" {
		d := ledger.Direction(v)
		f.Direction = &d
	}
	if v := q.Get("reference_id"); v != "" {
		f.ReferenceID = &v
	}
	var err error
	if f.From, f.To, f.Limit, f.Offset, err = window(r); err != nil {
		h.fail(w, r, err)
		return
	}

	txs, err := h.Accounts.Statement(r.Context(), accountNumber(r), f)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	dtos := make([]TransactionDTO, len(txs))
	for i, t := range txs {
		dtos[i] = toTransactionDTO(t)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) ListUserAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.Accounts.UserAccounts(r.Context(), ledger.UserID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	dtos := make([]AccountDTO, len(accounts))
	for i, a := range accounts {
		dtos[i] = toAccountDTO(a)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// MOVEMENT HANDLERS
// =============================================================================

func (h *Handler) Deposit(w http.ResponseWriter, r *http.Request) {
	var req AmountRequest
	if !h.decode(w, r, &req) {
		return
	}
	receipt, err := h.Accounts.Deposit(r.Context(), account.DepositInput{
		AccountNumber: accountNumber(r),
		Amount:        req.Amount,
		Actor:         actorFrom(r),
		Narration:     req.Narration,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toReceiptDTO(*receipt))
}

func (h *Handler) PutOnHold(w http.ResponseWriter, r *http.Request) {
	var req AmountRequest
	if !h.decode(w, r, &req) {
		return
	}
	acct, err := h.Accounts.PutOnHold(r.Context(), accountNumber(r), req.Amount)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountDTO(*acct))
}

func (h *Handler) ReleaseHold(w http.ResponseWriter, r *http.Request) {
	var req AmountRequest
	if !h.decode(w, r, &req) {
		return
	}
	acct, err := h.Accounts.ReleaseHold(r.Context(), accountNumber(r), req.Amount)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountDTO(*acct))
}

func (h *Handler) SpendHeld(w http.ResponseWriter, r *http.Request) {
	var req AmountRequest
	if !h.decode(w, r, &req) {
		return
	}
	receipt, err := h.Accounts.SpendHeld(r.Context(), accountNumber(r), req.Amount, actorFrom(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toReceiptDTO(*receipt))
}

// =============================================================================
// WITHDRAWAL REQUEST HANDLERS
// =============================================================================

func (h *Handler) RequestWithdrawal(w http.ResponseWriter, r *http.Request) {
	var req AmountRequest
	if !h.decode(w, r, &req) {
		return
	}
	wr, err := h.Accounts.RequestWithdrawal(r.Context(), account.WithdrawalInput{
		AccountNumber: accountNumber(r),
		Amount:        req.Amount,
		Actor:         actorFrom(r),
		Narration:     req.Narration,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toWithdrawalRequestDTO(*wr))
}

// ListWithdrawalRequests returns pending requests.
// Query: branch_id, requested_by, from, to, limit, offset.
func (h *Handler) ListWithdrawalRequests(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var f ledger.WithdrawalRequestFilter
	if v := q.Get("branch_id"); v != "" {
		b := ledger.BranchID(v)
		f.BranchID = &b
	}
	if v := q.Get("requested_by"); v != "" {
		f.RequestedBy = &v
	}
	var err error
	if f.From, f.To, f.Limit, f.Offset, err = window(r); err != nil {
		h.fail(w, r, err)
		return
	}

	requests, err := h.Accounts.ListWithdrawalRequests(r.Context(), f)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	dtos := make([]WithdrawalRequestDTO, len(requests))
	for i, wr := range requests {
		dtos[i] = toWithdrawalRequestDTO(wr)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) GetWithdrawalRequest(w http.ResponseWriter, r *http.Request) {
	wr, err := h.Accounts.GetWithdrawalRequest(r.Context(), requestID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toWithdrawalRequestDTO(*wr))
}

func (h *Handler) FulfillWithdrawal(w http.ResponseWriter, r *http.Request) {
	receipt, err := h.Accounts.FulfillWithdrawal(r.Context(), requestID(r), actorFrom(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toReceiptDTO(*receipt))
}

func (h *Handler) RejectWithdrawal(w http.ResponseWriter, r *http.Request) {
	var req RejectRequest
	if !h.decode(w, r, &req) {
		return
	}
	wr, err := h.Accounts.RejectWithdrawal(r.Context(), requestID(r), req.Reason, actorFrom(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toWithdrawalRequestDTO(*wr))
}

// =============================================================================
// PACKAGE HANDLERS
// =============================================================================

func (h *Handler) CreatePackage(w http.ResponseWriter, r *http.Request) {
	var req CreatePackageRequest
	if !h.decode(w, r, &req) {
		return
	}
	in := savings.CreatePackageInput{
		AccountNumber: ledger.AccountNumber(req.AccountNumber),
		Kind:          ledger.PackageKind(req.Kind),
		CycleUnit:     req.CycleUnit,
		Target:        req.Target,
		TargetAmount:  req.TargetAmount,
		Actor:         actorFrom(r),
	}
	if req.ProductID != nil {
		id := ledger.ProductID(*req.ProductID)
		in.ProductID = &id
	}
	view, err := h.Savings.CreatePackage(r.Context(), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPackageViewDTO(*view))
}

func (h *Handler) GetPackage(w http.ResponseWriter, r *http.Request) {
	view, err := h.Savings.GetPackage(r.Context(), packageID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPackageViewDTO(*view))
}

func (h *Handler) ListUserPackages(w http.ResponseWriter, r *http.Request) {
	views, err := h.Savings.UserPackages(r.Context(), ledger.UserID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	dtos := make([]PackageDTO, len(views))
	for i, v := range views {
		dtos[i] = toPackageViewDTO(v)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) Contribute(w http.ResponseWriter, r *http.Request) {
	var req PackageMovementRequest
	if !h.decode(w, r, &req) {
		return
	}
	receipt, err := h.Savings.Contribute(r.Context(), savings.ContributeInput{
		AccountNumber: ledger.AccountNumber(req.AccountNumber),
		Target:        req.Target,
		Amount:        req.Amount,
		Actor:         actorFrom(r),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	dto := ContributionReceiptDTO{
		Package:      toPackageDTO(receipt.Package, nil),
		Contribution: toContributionDTO(receipt.Contribution),
		Transaction:  toTransactionDTO(receipt.Transaction),
	}
	if receipt.Charge != nil {
		c := toChargeDTO(*receipt.Charge)
		dto.Charge = &c
	}
	writeJSON(w, http.StatusCreated, dto)
}

func (h *Handler) WithdrawFromPackage(w http.ResponseWriter, r *http.Request) {
	var req PackageMovementRequest
	if !h.decode(w, r, &req) {
		return
	}
	receipt, err := h.Savings.Withdraw(r.Context(), savings.WithdrawInput{
		AccountNumber: ledger.AccountNumber(req.AccountNumber),
		Target:        req.Target,
		Amount:        req.Amount,
		Actor:         actorFrom(r),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, PackageWithdrawalDTO{
		Package: toPackageDTO(receipt.Package, nil),
		Deposit: toReceiptDTO(receipt.Deposit),
	})
}

func (h *Handler) MergePackages(w http.ResponseWriter, r *http.Request) {
	var req MergeRequest
	if !h.decode(w, r, &req) {
		return
	}
	sources := make([]ledger.PackageID, len(req.SourceIDs))
	for i, id := range req.SourceIDs {
		sources[i] = ledger.PackageID(id)
	}
	receipt, err := h.Savings.MergePackages(r.Context(), savings.MergeInput{
		TargetID:  ledger.PackageID(req.TargetID),
		SourceIDs: sources,
		Actor:     actorFrom(r),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	dto := MergeDTO{
		Target:       toPackageDTO(receipt.Target, nil),
		Closed:       make([]string, len(receipt.Closed)),
		MergedAmount: money(receipt.MergedAmount),
		MovedRows:    receipt.MovedRows,
	}
	for i, id := range receipt.Closed {
		dto.Closed[i] = string(id)
	}
	if receipt.Transaction != nil {
		t := toTransactionDTO(*receipt.Transaction)
		dto.Transaction = &t
	}
	writeJSON(w, http.StatusOK, dto)
}

func (h *Handler) ListContributions(w http.ResponseWriter, r *http.Request) {
	rows, err := h.Savings.Contributions(r.Context(), packageID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	dtos := make([]ContributionDTO, len(rows))
	for i, c := range rows {
		dtos[i] = toContributionDTO(c)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) ListCharges(w http.ResponseWriter, r *http.Request) {
	rows, err := h.Savings.Charges(r.Context(), packageID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	dtos := make([]ChargeDTO, len(rows))
	for i, c := range rows {
		dtos[i] = toChargeDTO(c)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) MarkPaid(w http.ResponseWriter, r *http.Request) {
	pkg, err := h.Savings.MarkPaid(r.Context(), packageID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPackageDTO(*pkg, nil))
}

func (h *Handler) MarkDelivered(w http.ResponseWriter, r *http.Request) {
	pkg, err := h.Savings.MarkDelivered(r.Context(), packageID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPackageDTO(*pkg, nil))
}

// =============================================================================
// DIRECTORY AND GENERAL LEDGER HANDLERS
// =============================================================================

func (h *Handler) SaveCustomer(w http.ResponseWriter, r *http.Request) {
	var req CustomerRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.ID == "" {
		h.fail(w, r, fmt.Errorf("%w: customer id is required", ledger.ErrValidation))
		return
	}
	c := ledger.Customer{ID: ledger.UserID(req.ID), Name: req.Name, Phone: req.Phone, Email: req.Email}
	if err := h.Store.SaveCustomer(r.Context(), c); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (h *Handler) SaveProduct(w http.ResponseWriter, r *http.Request) {
	var req ProductRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.ID == "" {
		h.fail(w, r, fmt.Errorf("%w: product id is required", ledger.ErrValidation))
		return
	}
	if err := ledger.ValidateAmount(req.Price); err != nil {
		h.fail(w, r, err)
		return
	}
	p := ledger.Product{ID: ledger.ProductID(req.ID), Name: req.Name, Price: req.Price, ImageURL: req.ImageURL}
	if err := h.Store.SaveProduct(r.Context(), p); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProductDTO(p))
}

func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.Store.GetProduct(r.Context(), ledger.ProductID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProductDTO(*p))
}

// ListLedgerEntries returns general-ledger entries, newest first.
// Query: type, branch_id, user_id, from, to, limit, offset.
func (h *Handler) ListLedgerEntries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var f ledger.LedgerEntryFilter
	if v := q.Get("type"); v != "" {
		t := ledger.EntryType(v)
		if !t.Valid() {
			h.fail(w, r, fmt.Errorf("%w: unknown entry type %q", ledger.ErrValidation, v))
			return
		}
		f.Type = &t
	}
	if v := q.Get("branch_id"); v != "" {
		b := ledger.BranchID(v)
		f.BranchID = &b
	}
	if v := q.Get("user_id"); v != "" {
		u := ledger.UserID(v)
		f.UserID = &u
	}
	var err error
	if f.From, f.To, f.Limit, f.Offset, err = window(r); err != nil {
		h.fail(w, r, err)
		return
	}

	entries, err := h.Store.ListLedgerEntries(r.Context(), f)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	dtos := make([]LedgerEntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toLedgerEntryDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// HELPERS
// =============================================================================

func accountNumber(r *http.Request) ledger.AccountNumber {
	return ledger.AccountNumber(chi.URLParam(r, "number"))
}

func requestID(r *http.Request) ledger.RequestID {
	return ledger.RequestID(chi.URLParam(r, "id"))
}

func packageID(r *http.Request) ledger.PackageID {
	return ledger.PackageID(chi.URLParam(r, "id"))
}

// actorFrom reads the staff identity forwarded by the gateway.
func actorFrom(r *http.Request) ledger.Actor {
	id := r.Header.Get("X-Actor-ID")
	if id == "" {
		return ledger.SystemActor
	}
	return ledger.Actor{
		ID:       id,
		Name:     r.Header.Get("X-Actor-Name"),
		BranchID: ledger.BranchID(r.Header.Get("X-Branch-ID")),
	}
}

// window parses the shared from/to/limit/offset query parameters.
func window(r *http.Request) (from, to *time.Time, limit, offset int, err error) {
	q := r.URL.Query()
	if from, err = timeParam(q.Get("from")); err != nil {
		return
	}
	if to, err = timeParam(q.Get("to")); err != nil {
		return
	}
	if limit, err = intParam("limit", q.Get("limit")); err != nil {
		return
	}
	offset, err = intParam("offset", q.Get("offset"))
	return
}

// timeParam accepts RFC 3339 or a bare date.
func timeParam(v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, v); err == nil {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("%w: invalid time %q (use RFC 3339 or YYYY-MM-DD)", ledger.ErrValidation, v)
}

func intParam(name, v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", ledger.ErrValidation, name)
	}
	return n, nil
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, ledger.KindValidation, "Invalid request body", err)
		return false
	}
	return true
}

func statusFor(kind ledger.Kind) int {
	switch kind {
	case ledger.KindNotFound:
		return http.StatusNotFound
	case ledger.KindInvalidAmount, ledger.KindValidation:
		return http.StatusBadRequest
	case ledger.KindDuplicateAccount, ledger.KindDuplicateActivePackage,
		ledger.KindPackageClosed, ledger.KindInvalidState:
		return http.StatusConflict
	case ledger.KindInsufficientBalance, ledger.KindInsufficientHeldFunds,
		ledger.KindInvalidTarget, ledger.KindInvalidSource:
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

// fail maps an engine error to its HTTP status. Internal errors are logged
// and their details withheld.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	kind := ledger.KindOf(err)
	status := statusFor(kind)
	if status == http.StatusInternalServerError {
		h.Log.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		writeError(w, status, kind, "Internal error", nil)
		return
	}
	writeError(w, status, kind, err.Error(), nil)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, kind ledger.Kind, message string, err error) {
	resp := ErrorResponse{Error: message, Kind: string(kind)}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
