/*
handlers_test.go - HTTP tests for the API handlers

Tests drive the full router against an in-memory SQLite store:
- error kind to status mapping
- account movements and withdrawal request lifecycle
- package contributions and merges
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/savings-ledger/account"
	"github.com/warp/savings-ledger/ledger"
	"github.com/warp/savings-ledger/notify"
	"github.com/warp/savings-ledger/savings"
	"github.com/warp/savings-ledger/store/sqlite"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

type testServer struct {
	router *chi.Mux
	store  *sqlite.Store
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	gl := ledger.NewGeneralLedger()
	accounts := account.NewEngine(store, gl, notify.Nop{}, nil)
	sv := savings.NewEngine(store, accounts, gl, notify.Nop{}, savings.DefaultPolicy(), nil)
	h := NewHandler(accounts, sv, store, nil)
	return &testServer{router: NewRouter(h, []string{"*"}), store: store}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Actor-ID", "staff-7")
	req.Header.Set("X-Actor-Name", "Teller Seven")
	req.Header.Set("X-Branch-ID", "br-2")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (s *testServer) openAccount(t *testing.T, user string) AccountDTO {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/accounts", OpenAccountRequest{UserID: user, Type: "savings", BranchID: "br-1"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeBody[AccountDTO](t, rec)
}

// =============================================================================
// TESTS
// =============================================================================

func TestStatusFor(t *testing.T) {
	tests := []struct {
		kind ledger.Kind
		want int
	}{
		{ledger.KindNotFound, http.StatusNotFound},
		{ledger.KindInvalidAmount, http.StatusBadRequest},
		{ledger.KindValidation, http.StatusBadRequest},
		{ledger.KindDuplicateAccount, http.StatusConflict},
		{ledger.KindDuplicateActivePackage, http.StatusConflict},
		{ledger.KindPackageClosed, http.StatusConflict},
		{ledger.KindInvalidState, http.StatusConflict},
		{ledger.KindInsufficientBalance, http.StatusUnprocessableEntity},
		{ledger.KindInsufficientHeldFunds, http.StatusUnprocessableEntity},
		{ledger.KindInvalidTarget, http.StatusUnprocessableEntity},
		{ledger.KindInvalidSource, http.StatusUnprocessableEntity},
		{ledger.KindInternal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.kind), string(tt.kind))
	}
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestDeposit_Endpoint(t *testing.T) {
	s := newTestServer(t)
	acct := s.openAccount(t, "u1")

	// WHEN: 1000 then 500 are deposited
	rec := s.do(t, http.MethodPost, "/api/accounts/"+acct.Number+"/deposits", map[string]any{"amount": "1000"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rec = s.do(t, http.MethodPost, "/api/accounts/"+acct.Number+"/deposits", map[string]any{"amount": 500})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	// THEN: The receipt carries both balances and the actor from the headers
	receipt := decodeBody[ReceiptDTO](t, rec)
	assert.Equal(t, "1500.00", receipt.Account.AvailableBalance)
	assert.Equal(t, "1500.00", receipt.Account.LedgerBalance)
	assert.Equal(t, "inflow", receipt.Transaction.Direction)
	assert.Equal(t, "staff-7", receipt.Transaction.CreatedBy)
	assert.Equal(t, "br-2", receipt.Transaction.BranchID)

	rec = s.do(t, http.MethodGet, "/api/accounts/"+acct.Number+"/transactions?direction=inflow", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]TransactionDTO](t, rec), 2)
}

func TestDeposit_ErrorMapping(t *testing.T) {
	s := newTestServer(t)
	acct := s.openAccount(t, "u1")

	rec := s.do(t, http.MethodPost, "/api/accounts/"+acct.Number+"/deposits", map[string]any{"amount": "-5"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "InvalidAmount", decodeBody[ErrorResponse](t, rec).Kind)

	rec = s.do(t, http.MethodPost, "/api/accounts/0000000000/deposits", map[string]any{"amount": "5"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NotFound", decodeBody[ErrorResponse](t, rec).Kind)

	req := httptest.NewRequest(http.MethodPost, "/api/accounts/"+acct.Number+"/deposits", bytes.NewBufferString("{"))
	res := httptest.NewRecorder()
	s.router.ServeHTTP(res, req)
	assert.Equal(t, http.StatusBadRequest, res.Code)
	assert.Equal(t, "ValidationError", decodeBody[ErrorResponse](t, res).Kind)

	rec = s.do(t, http.MethodPost, "/api/accounts", OpenAccountRequest{UserID: "u1", Type: "savings"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestWithdrawalLifecycle_Endpoints(t *testing.T) {
	s := newTestServer(t)
	acct := s.openAccount(t, "u1")
	s.do(t, http.MethodPost, "/api/accounts/"+acct.Number+"/deposits", map[string]any{"amount": "150"})

	// GIVEN: A request for more than is available
	rec := s.do(t, http.MethodPost, "/api/accounts/"+acct.Number+"/withdrawals", map[string]any{"amount": "200"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "InsufficientBalance", decodeBody[ErrorResponse](t, rec).Kind)

	// WHEN: A valid request is made and fulfilled
	rec = s.do(t, http.MethodPost, "/api/accounts/"+acct.Number+"/withdrawals", map[string]any{"amount": "100", "narration": "rent"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	wr := decodeBody[WithdrawalRequestDTO](t, rec)
	assert.Equal(t, "pending", wr.Status)

	rec = s.do(t, http.MethodGet, "/api/withdrawals?branch_id=br-2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]WithdrawalRequestDTO](t, rec), 1)

	rec = s.do(t, http.MethodPost, "/api/withdrawals/"+wr.ID+"/fulfill", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "50.00", decodeBody[ReceiptDTO](t, rec).Account.AvailableBalance)

	// THEN: A second fulfil conflicts
	rec = s.do(t, http.MethodPost, "/api/withdrawals/"+wr.ID+"/fulfill", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "InvalidState", decodeBody[ErrorResponse](t, rec).Kind)

	rec = s.do(t, http.MethodGet, "/api/withdrawals", nil)
	assert.Empty(t, decodeBody[[]WithdrawalRequestDTO](t, rec))
}

func TestHolds_Endpoints(t *testing.T) {
	s := newTestServer(t)
	acct := s.openAccount(t, "u1")
	base := "/api/accounts/" + acct.Number
	s.do(t, http.MethodPost, base+"/deposits", map[string]any{"amount": "300"})

	rec := s.do(t, http.MethodPost, base+"/holds", map[string]any{"amount": "120"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "120.00", decodeBody[AccountDTO](t, rec).HeldAmount)

	rec = s.do(t, http.MethodPost, base+"/holds/release", map[string]any{"amount": "200"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "InsufficientHeldFunds", decodeBody[ErrorResponse](t, rec).Kind)

	rec = s.do(t, http.MethodPost, base+"/holds/spend", map[string]any{"amount": "120"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodGet, base+"/balance", nil)
	balance := decodeBody[BalanceDTO](t, rec)
	assert.Equal(t, "180.00", balance.AvailableBalance)
	assert.Equal(t, "180.00", balance.LedgerBalance)
	assert.Equal(t, "0.00", balance.HeldAmount)
}

func TestPackages_Endpoints(t *testing.T) {
	s := newTestServer(t)
	acct := s.openAccount(t, "u1")

	create := func(target, unit string) PackageDTO {
		rec := s.do(t, http.MethodPost, "/api/packages", map[string]any{
			"account_number": acct.Number, "kind": "daily", "cycle_unit": unit, "target": target,
		})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		return decodeBody[PackageDTO](t, rec)
	}
	contribute := func(target, amount string) *httptest.ResponseRecorder {
		return s.do(t, http.MethodPost, "/api/packages/contributions", map[string]any{
			"account_number": acct.Number, "target": target, "amount": amount,
		})
	}

	primary := create("main", "50")
	side := create("side", "25")

	// Scenario E over HTTP
	rec := contribute("main", "75")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "InvalidAmount", decodeBody[ErrorResponse](t, rec).Kind)

	rec = contribute("main", "150")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	receipt := decodeBody[ContributionReceiptDTO](t, rec)
	require.NotNil(t, receipt.Charge)
	assert.Equal(t, "100.00", receipt.Package.TotalContribution)

	rec = contribute("side", "75")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodPost, "/api/packages", map[string]any{
		"account_number": acct.Number, "kind": "daily", "cycle_unit": "10", "target": "main",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Merge side (50) into primary (100)
	rec = s.do(t, http.MethodPost, "/api/packages/merge", MergeRequest{TargetID: "missing", SourceIDs: []string{side.ID}})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "InvalidTarget", decodeBody[ErrorResponse](t, rec).Kind)

	rec = s.do(t, http.MethodPost, "/api/packages/merge", MergeRequest{TargetID: primary.ID, SourceIDs: []string{side.ID}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	merged := decodeBody[MergeDTO](t, rec)
	assert.Equal(t, "150.00", merged.Target.TotalContribution)
	assert.Equal(t, []string{side.ID}, merged.Closed)
	require.NotNil(t, merged.Transaction)
	assert.Equal(t, "150.00", merged.Transaction.Amount)

	rec = s.do(t, http.MethodGet, "/api/packages/"+primary.ID+"/contributions", nil)
	assert.Len(t, decodeBody[[]ContributionDTO](t, rec), 2)

	rec = s.do(t, http.MethodGet, "/api/users/u1/packages", nil)
	assert.Len(t, decodeBody[[]PackageDTO](t, rec), 2)

	// Withdraw everything to the account
	rec = s.do(t, http.MethodPost, "/api/packages/withdrawals", map[string]any{
		"account_number": acct.Number, "target": "main", "amount": "150",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	out := decodeBody[PackageWithdrawalDTO](t, rec)
	assert.Equal(t, "closed", out.Package.Status)
	assert.Equal(t, "150.00", out.Deposit.Account.AvailableBalance)

	rec = s.do(t, http.MethodGet, "/api/ledger-entries?type=merge", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]LedgerEntryDTO](t, rec), 1)

	rec = s.do(t, http.MethodGet, "/api/ledger-entries?type=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProducts_Endpoints(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPut, "/api/products", ProductRequest{ID: "tv", Name: "Television"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPut, "/api/products", map[string]any{"id": "tv", "name": "Television", "price": "800"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodGet, "/api/products/tv", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "800.00", decodeBody[ProductDTO](t, rec).Price)

	rec = s.do(t, http.MethodPut, "/api/customers", CustomerRequest{ID: "u1", Name: "Ada", Phone: "+234"})
	require.Equal(t, http.StatusOK, rec.Code)
	c, err := s.store.GetCustomer(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "+234", c.Phone)
}

func TestWindow_RejectsBadQuery(t *testing.T) {
	s := newTestServer(t)
	acct := s.openAccount(t, "u1")

	rec := s.do(t, http.MethodGet, "/api/accounts/"+acct.Number+"/transactions?from=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/accounts/"+acct.Number+"/transactions?limit=-1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/accounts/"+acct.Number+"/transactions?from=2026-01-01&limit=5", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
