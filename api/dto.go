/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the ledger records from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

MONEY:
  Request amounts are decoded straight into decimal.Decimal, which accepts
  both "150.00" and 150. Response amounts are always strings with two
  decimal places.

VALIDATION:
  Validation is done by the engines, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/savings-ledger/account"
	"github.com/warp/savings-ledger/ledger"
	"github.com/warp/savings-ledger/savings"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

type OpenAccountRequest struct {
	UserID    string  `json:"user_id"`
	Type      string  `json:"account_type"`
	BranchID  string  `json:"branch_id"`
	ManagerID *string `json:"manager_id,omitempty"`
}

type SetStatusRequest struct {
	Status string `json:"status"`
}

// AmountRequest is the body of deposits, holds and withdrawal requests.
type AmountRequest struct {
	Amount    decimal.Decimal `json:"amount"`
	Narration string          `json:"narration,omitempty"`
}

type RejectRequest struct {
	Reason string `json:"reason"`
}

type CreatePackageRequest struct {
	AccountNumber string          `json:"account_number"`
	Kind          string          `json:"kind"`
	CycleUnit     decimal.Decimal `json:"cycle_unit"`
	Target        string          `json:"target"`
	TargetAmount  decimal.Decimal `json:"target_amount"`
	ProductID     *string         `json:"product_id,omitempty"`
}

// PackageMovementRequest is the body of contributions and package withdrawals.
type PackageMovementRequest struct {
	AccountNumber string          `json:"account_number"`
	Target        string          `json:"target"`
	Amount        decimal.Decimal `json:"amount"`
}

type MergeRequest struct {
	TargetID  string   `json:"target_id"`
	SourceIDs []string `json:"source_ids"`
}

type CustomerRequest struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Phone string `json:"phone"`
	Email string `json:"email"`
}

type ProductRequest struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	ImageURL string          `json:"image_url"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

type AccountDTO struct {
	ID               string  `json:"id"`
	Number           string  `json:"account_number"`
	AvailableBalance string  `json:"available_balance"`
	LedgerBalance    string  `json:"ledger_balance"`
	HeldAmount       string  `json:"held_amount"`
	Type             string  `json:"account_type"`
	Status           string  `json:"status"`
	UserID           string  `json:"user_id"`
	BranchID         string  `json:"branch_id"`
	ManagerID        *string `json:"manager_id,omitempty"`
	Version          int     `json:"version"`
	CreatedAt        string  `json:"created_at"`
	UpdatedAt        string  `json:"updated_at"`
}

type BalanceDTO struct {
	AccountNumber    string `json:"account_number"`
	AvailableBalance string `json:"available_balance"`
	LedgerBalance    string `json:"ledger_balance"`
	HeldAmount       string `json:"held_amount"`
}

type TransactionDTO struct {
	ID            string `json:"id"`
	AccountNumber string `json:"account_number"`
	Amount        string `json:"amount"`
	Direction     string `json:"direction"`
	Narration     string `json:"narration"`
	Reasons       string `json:"reasons,omitempty"`
	ReferenceID   string `json:"reference_id,omitempty"`
	BranchID      string `json:"branch_id"`
	CreatedBy     string `json:"created_by"`
	Date          string `json:"date"`
}

// ReceiptDTO is returned by every balance movement.
type ReceiptDTO struct {
	Account     AccountDTO     `json:"account"`
	Transaction TransactionDTO `json:"transaction"`
}

type WithdrawalRequestDTO struct {
	ID            string `json:"id"`
	AccountNumber string `json:"account_number"`
	Amount        string `json:"amount"`
	Narration     string `json:"narration"`
	Status        string `json:"status"`
	BranchID      string `json:"branch_id"`
	RequestedBy   string `json:"requested_by"`
	ResolvedBy    string `json:"resolved_by,omitempty"`
	Reason        string `json:"reason,omitempty"`
	FulfillmentID string `json:"fulfillment_id,omitempty"`
	CreatedAt     string `json:"created_at"`
	UpdatedAt     string `json:"updated_at"`
}

type ProductDTO struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Price    string `json:"price"`
	ImageURL string `json:"image_url,omitempty"`
}

type PackageDTO struct {
	ID                string      `json:"id"`
	Kind              string      `json:"kind"`
	AccountNumber     string      `json:"account_number"`
	UserID            string      `json:"user_id"`
	BranchID          string      `json:"branch_id"`
	Target            string      `json:"target"`
	CycleUnit         string      `json:"cycle_unit"`
	TargetAmount      string      `json:"target_amount,omitempty"`
	TotalContribution string      `json:"total_contribution"`
	TotalCount        int         `json:"total_count"`
	DeductionCount    int         `json:"deduction_count"`
	TotalCharge       string      `json:"total_charge"`
	HasBeenCharged    bool        `json:"has_been_charged"`
	Status            string      `json:"status"`
	MergedInto        *string     `json:"merged_into,omitempty"`
	Product           *ProductDTO `json:"product,omitempty"`
	Version           int         `json:"version"`
	CreatedAt         string      `json:"created_at"`
	UpdatedAt         string      `json:"updated_at"`
}

type ContributionDTO struct {
	ID           string `json:"id"`
	PackageID    string `json:"package_id"`
	Amount       string `json:"amount"`
	Units        int    `json:"units"`
	RunningCount int    `json:"running_count"`
	CreatedBy    string `json:"created_by"`
	BranchID     string `json:"branch_id"`
	Date         string `json:"date"`
}

type ChargeDTO struct {
	ID         string `json:"id"`
	PackageID  string `json:"package_id"`
	Amount     string `json:"amount"`
	TotalCount int    `json:"total_count"`
	Date       string `json:"date"`
}

type ContributionReceiptDTO struct {
	Package      PackageDTO      `json:"package"`
	Contribution ContributionDTO `json:"contribution"`
	Charge       *ChargeDTO      `json:"charge,omitempty"`
	Transaction  TransactionDTO  `json:"transaction"`
}

type PackageWithdrawalDTO struct {
	Package PackageDTO `json:"package"`
	Deposit ReceiptDTO `json:"deposit"`
}

type MergeDTO struct {
	Target       PackageDTO      `json:"target"`
	Closed       []string        `json:"closed"`
	MergedAmount string          `json:"merged_amount"`
	MovedRows    int64           `json:"contributions_moved"`
	Transaction  *TransactionDTO `json:"transaction,omitempty"`
}

type LedgerEntryDTO struct {
	ID          string `json:"id"`
	Type        string `json:"entry_type"`
	Direction   string `json:"direction"`
	Amount      string `json:"amount"`
	UserID      string `json:"user_id"`
	BranchID    string `json:"branch_id"`
	Narration   string `json:"narration"`
	ReferenceID string `json:"reference_id,omitempty"`
	Date        string `json:"date"`
}

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Kind    string `json:"kind"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERTERS
// =============================================================================

func money(d decimal.Decimal) string { return d.StringFixed(ledger.MoneyScale) }

func timestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func toAccountDTO(a ledger.Account) AccountDTO {
	return AccountDTO{
		ID:               string(a.ID),
		Number:           string(a.Number),
		AvailableBalance: money(a.AvailableBalance),
		LedgerBalance:    money(a.LedgerBalance),
		HeldAmount:       money(a.HeldAmount()),
		Type:             string(a.Type),
		Status:           string(a.Status),
		UserID:           string(a.UserID),
		BranchID:         string(a.BranchID),
		ManagerID:        a.ManagerID,
		Version:          a.Version,
		CreatedAt:        timestamp(a.CreatedAt),
		UpdatedAt:        timestamp(a.UpdatedAt),
	}
}

func toTransactionDTO(t ledger.Transaction) TransactionDTO {
	return TransactionDTO{
		ID:            string(t.ID),
		AccountNumber: string(t.AccountNumber),
		Amount:        money(t.Amount),
		Direction:     string(t.Direction),
		Narration:     t.Narration,
		Reasons:       t.Reasons,
		ReferenceID:   t.ReferenceID,
		BranchID:      string(t.BranchID),
		CreatedBy:     t.CreatedBy,
		Date:          timestamp(t.Date),
	}
}

func toReceiptDTO(r account.Receipt) ReceiptDTO {
	return ReceiptDTO{Account: toAccountDTO(r.Account), Transaction: toTransactionDTO(r.Transaction)}
}

func toWithdrawalRequestDTO(r ledger.WithdrawalRequest) WithdrawalRequestDTO {
	return WithdrawalRequestDTO{
		ID:            string(r.ID),
		AccountNumber: string(r.AccountNumber),
		Amount:        money(r.Amount),
		Narration:     r.Narration,
		Status:        string(r.Status),
		BranchID:      string(r.BranchID),
		RequestedBy:   r.RequestedBy,
		ResolvedBy:    r.ResolvedBy,
		Reason:        r.Reason,
		FulfillmentID: string(r.FulfillmentID),
		CreatedAt:     timestamp(r.CreatedAt),
		UpdatedAt:     timestamp(r.UpdatedAt),
	}
}

func toProductDTO(p ledger.Product) ProductDTO {
	return ProductDTO{ID: string(p.ID), Name: p.Name, Price: money(p.Price), ImageURL: p.ImageURL}
}

func toPackageDTO(p ledger.Package, product *ledger.Product) PackageDTO {
	dto := PackageDTO{
		ID:                string(p.ID),
		Kind:              string(p.Kind),
		AccountNumber:     string(p.AccountNumber),
		UserID:            string(p.UserID),
		BranchID:          string(p.BranchID),
		Target:            p.Target,
		CycleUnit:         money(p.CycleUnit),
		TotalContribution: money(p.TotalContribution),
		TotalCount:        p.TotalCount,
		DeductionCount:    p.DeductionCount,
		TotalCharge:       money(p.TotalCharge),
		HasBeenCharged:    p.HasBeenCharged,
		Status:            string(p.Status),
		Version:           p.Version,
		CreatedAt:         timestamp(p.CreatedAt),
		UpdatedAt:         timestamp(p.UpdatedAt),
	}
	if p.Kind == ledger.PackageSB {
		dto.TargetAmount = money(p.TargetAmount)
	}
	if p.MergedInto != nil {
		s := string(*p.MergedInto)
		dto.MergedInto = &s
	}
	if product != nil {
		pd := toProductDTO(*product)
		dto.Product = &pd
	}
	return dto
}

func toPackageViewDTO(v savings.PackageView) PackageDTO {
	return toPackageDTO(v.Package, v.Product)
}

func toContributionDTO(c ledger.Contribution) ContributionDTO {
	return ContributionDTO{
		ID:           string(c.ID),
		PackageID:    string(c.PackageID),
		Amount:       money(c.Amount),
		Units:        c.Units,
		RunningCount: c.RunningCount,
		CreatedBy:    c.CreatedBy,
		BranchID:     string(c.BranchID),
		Date:         timestamp(c.Date),
	}
}

func toChargeDTO(c ledger.Charge) ChargeDTO {
	return ChargeDTO{
		ID:         string(c.ID),
		PackageID:  string(c.PackageID),
		Amount:     money(c.Amount),
		TotalCount: c.TotalCount,
		Date:       timestamp(c.Date),
	}
}

func toLedgerEntryDTO(e ledger.LedgerEntry) LedgerEntryDTO {
	return LedgerEntryDTO{
		ID:          string(e.ID),
		Type:        string(e.Type),
		Direction:   string(e.Direction),
		Amount:      money(e.Amount),
		UserID:      string(e.UserID),
		BranchID:    string(e.BranchID),
		Narration:   e.Narration,
		ReferenceID: e.ReferenceID,
		Date:        timestamp(e.Date),
	}
}
