/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with realistic
	data for testing and demos. Every scenario goes through the engines, so
	the resulting balances, charges and ledger entries are exactly what live
	traffic would produce.

AVAILABLE SCENARIOS:

	branch-deposits:    Account funded with 1000, then a 500 deposit
	daily-cycle:        Daily package with 31 contributions of 100
	pending-withdrawal: Account with 150 and a pending withdrawal request
	package-merge:      Three open packages holding 100, 50 and 75
	sb-product:         SB package saving toward a catalogue product

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Register the customer in the notification directory
 3. Open the account
 4. Drive movements through the account and savings engines

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "daily-cycle"}

NOTE:

	Scenarios reset the database. Only use in development/demo environments.
*/
package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/warp/savings-ledger/account"
	"github.com/warp/savings-ledger/ledger"
	"github.com/warp/savings-ledger/savings"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "branch-deposits",
		Name:        "Branch Deposits",
		Description: "Savings account funded with 1000, then a 500 deposit at the counter",
	},
	{
		ID:          "daily-cycle",
		Name:        "Daily Savings Cycle",
		Description: "Daily package of 100 per day, one full 31-day cycle with its charge",
	},
	{
		ID:          "pending-withdrawal",
		Name:        "Pending Withdrawal",
		Description: "Account holding 150 with a withdrawal request awaiting approval",
	},
	{
		ID:          "package-merge",
		Name:        "Package Merge",
		Description: "Three open daily packages holding 100, 50 and 75, ready to merge",
	},
	{
		ID:          "sb-product",
		Name:        "Saving for a Product",
		Description: "SB package saving toward a 5000 refrigerator, one unit short of target",
	},
}

var scenarioActor = ledger.Actor{ID: "demo-cashier", Name: "Demo Cashier", BranchID: "br-lagos-01"}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	if current == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, ScenarioDTO{ID: current, Name: current})
}

// ResetDatabase clears every table.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Reset(r.Context()); err != nil {
		h.fail(w, r, err)
		return
	}
	h.mu.Lock()
	h.currentScenario = ""
	h.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// LoadScenario resets the database and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !h.decode(w, r, &req) {
		return
	}

	loaders := map[string]func(context.Context) error{
		"branch-deposits":    h.loadBranchDepositsScenario,
		"daily-cycle":        h.loadDailyCycleScenario,
		"pending-withdrawal": h.loadPendingWithdrawalScenario,
		"package-merge":      h.loadPackageMergeScenario,
		"sb-product":         h.loadSBProductScenario,
	}
	load, ok := loaders[req.ScenarioID]
	if !ok {
		h.fail(w, r, fmt.Errorf("%w: unknown scenario %q", ledger.ErrNotFound, req.ScenarioID))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	ctx := r.Context()
	if err := h.Store.Reset(ctx); err != nil {
		h.fail(w, r, err)
		return
	}
	h.currentScenario = ""

	if err := load(ctx); err != nil {
		h.fail(w, r, fmt.Errorf("failed to load scenario %s: %w", req.ScenarioID, err))
		return
	}
	h.currentScenario = req.ScenarioID

	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadBranchDepositsScenario(ctx context.Context) error {
	acct, err := h.openCustomer(ctx, "cust-001", "Adaeze Okafor", "+2348030000001")
	if err != nil {
		return err
	}
	return h.deposit(ctx, acct.Number, "1000", "500")
}

func (h *Handler) loadDailyCycleScenario(ctx context.Context) error {
	acct, err := h.openCustomer(ctx, "cust-002", "Tunde Bello", "+2348030000002")
	if err != nil {
		return err
	}
	if err := h.dailyPackage(ctx, acct.Number, "market-stall", "100"); err != nil {
		return err
	}
	amounts := make([]string, 31)
	for i := range amounts {
		amounts[i] = "100"
	}
	return h.contribute(ctx, acct.Number, "market-stall", amounts...)
}

func (h *Handler) loadPendingWithdrawalScenario(ctx context.Context) error {
	acct, err := h.openCustomer(ctx, "cust-003", "Ngozi Eze", "+2348030000003")
	if err != nil {
		return err
	}
	if err := h.deposit(ctx, acct.Number, "150"); err != nil {
		return err
	}
	_, err = h.Accounts.RequestWithdrawal(ctx, account.WithdrawalInput{
		AccountNumber: acct.Number,
		Amount:        decimal.RequireFromString("100"),
		Actor:         scenarioActor,
		Narration:     "school fees",
	})
	return err
}

// loadPackageMergeScenario lands each package on its round total after the
// first-cycle charge has been taken.
func (h *Handler) loadPackageMergeScenario(ctx context.Context) error {
	acct, err := h.openCustomer(ctx, "cust-004", "Emeka Nwosu", "+2348030000004")
	if err != nil {
		return err
	}
	packages := []struct {
		target, unit, amount string
	}{
		{"school-fees", "50", "150"}, // 150 - 50 = 100
		{"rent", "25", "75"},         // 75 - 25 = 50
		{"festive", "25", "100"},     // 100 - 25 = 75
	}
	for _, p := range packages {
		if err := h.dailyPackage(ctx, acct.Number, p.target, p.unit); err != nil {
			return err
		}
		if err := h.contribute(ctx, acct.Number, p.target, p.amount); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) loadSBProductScenario(ctx context.Context) error {
	acct, err := h.openCustomer(ctx, "cust-005", "Bisi Adeyemi", "+2348030000005")
	if err != nil {
		return err
	}
	fridge := ledger.Product{ID: "prod-fridge", Name: "Refrigerator", Price: decimal.RequireFromString("5000")}
	if err := h.Store.SaveProduct(ctx, fridge); err != nil {
		return err
	}
	_, err = h.Savings.CreatePackage(ctx, savings.CreatePackageInput{
		AccountNumber: acct.Number,
		Kind:          ledger.PackageSB,
		CycleUnit:     decimal.RequireFromString("500"),
		ProductID:     &fridge.ID,
		Actor:         scenarioActor,
	})
	if err != nil {
		return err
	}
	// 10 units paid, one taken as the cycle charge: 4500 of 5000.
	return h.contribute(ctx, acct.Number, string(fridge.ID), "2500", "2500")
}

// =============================================================================
// LOADER HELPERS
// =============================================================================

func (h *Handler) openCustomer(ctx context.Context, id ledger.UserID, name, phone string) (*ledger.Account, error) {
	if err := h.Store.SaveCustomer(ctx, ledger.Customer{ID: id, Name: name, Phone: phone}); err != nil {
		return nil, err
	}
	return h.Accounts.OpenAccount(ctx, account.OpenAccountInput{
		UserID:   id,
		Type:     ledger.AccountSavings,
		BranchID: scenarioActor.BranchID,
	})
}

func (h *Handler) deposit(ctx context.Context, number ledger.AccountNumber, amounts ...string) error {
	for _, a := range amounts {
		_, err := h.Accounts.Deposit(ctx, account.DepositInput{
			AccountNumber: number,
			Amount:        decimal.RequireFromString(a),
			Actor:         scenarioActor,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) dailyPackage(ctx context.Context, number ledger.AccountNumber, target, unit string) error {
	_, err := h.Savings.CreatePackage(ctx, savings.CreatePackageInput{
		AccountNumber: number,
		Kind:          ledger.PackageDaily,
		CycleUnit:     decimal.RequireFromString(unit),
		Target:        target,
		Actor:         scenarioActor,
	})
	return err
}

func (h *Handler) contribute(ctx context.Context, number ledger.AccountNumber, target string, amounts ...string) error {
	for _, a := range amounts {
		_, err := h.Savings.Contribute(ctx, savings.ContributeInput{
			AccountNumber: number,
			Target:        target,
			Amount:        decimal.RequireFromString(a),
			Actor:         scenarioActor,
		})
		if err != nil {
			return err
		}
	}
	return nil
}
