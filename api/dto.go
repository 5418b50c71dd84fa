/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  JSON shapes of the HTTP contract, kept apart from the ledger types so
  the wire format can evolve without touching storage.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Operation results that are not a single entity

WIRE FORMAT:
  - Amounts are integer cents
  - Calendar dates are YYYY-MM-DD, timestamps RFC 3339
  - Percentages (APR, utilization) are decimal strings, e.g. "24.99"
  - Field names are camelCase

VALIDATION:
  Handlers only parse. Range and presence checks belong to the ledger and
  planner so every caller gets the same errors.
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/debt-planner/id"
	"github.com/warp/debt-planner/ledger"
	"github.com/warp/debt-planner/planner"
)

// =============================================================================
// LIABILITIES
// =============================================================================

// LiabilityDTO represents a liability in API responses.
type LiabilityDTO struct {
	ID                       id.ID               `json:"id"`
	Kind                     ledger.Kind         `json:"kind"`
	Name                     string              `json:"name"`
	Institution              string              `json:"institution,omitempty"`
	BalanceCents             int64               `json:"balanceCents"`
	OpeningBalanceCents      int64               `json:"openingBalanceCents"`
	CreditLimitCents         *int64              `json:"creditLimitCents,omitempty"`
	UtilizationPercent       decimal.NullDecimal `json:"utilizationPercent"`
	StatementDay             *int                `json:"statementDay,omitempty"`
	DueDay                   *int                `json:"dueDay,omitempty"`
	InterestRateAPR          decimal.NullDecimal `json:"interestRateApr"`
	MinPaymentCents          *int64              `json:"minPaymentCents,omitempty"`
	TargetUtilizationPercent decimal.NullDecimal `json:"targetUtilizationPercent"`
	NextDueDate              *string             `json:"nextDueDate,omitempty"`
	LastPaymentDate          *string             `json:"lastPaymentDate,omitempty"`
	Status                   ledger.Status       `json:"status"`
	CreatedAt                string              `json:"createdAt"`
	UpdatedAt                string              `json:"updatedAt"`
}

// LiabilityDetailsRequest carries the replaceable fields of a liability.
type LiabilityDetailsRequest struct {
	Name                     string              `json:"name"`
	Institution              string              `json:"institution"`
	CreditLimitCents         *int64              `json:"creditLimitCents"`
	StatementDay             *int                `json:"statementDay"`
	DueDay                   *int                `json:"dueDay"`
	InterestRateAPR          decimal.NullDecimal `json:"interestRateApr"`
	MinPaymentCents          *int64              `json:"minPaymentCents"`
	TargetUtilizationPercent decimal.NullDecimal `json:"targetUtilizationPercent"`
	NextDueDate              *string             `json:"nextDueDate"`
}

// CreateLiabilityRequest opens a liability.
type CreateLiabilityRequest struct {
	Kind         ledger.Kind `json:"kind"`
	BalanceCents int64       `json:"balanceCents"`
	LiabilityDetailsRequest
}

// CorrectBalanceRequest is the corrective balance update.
type CorrectBalanceRequest struct {
	BalanceCents *int64 `json:"balanceCents"`
}

// ReconciliationDTO reports replayed against stored balance.
type ReconciliationDTO struct {
	LiabilityID          id.ID `json:"liabilityId"`
	OpeningBalanceCents  int64 `json:"openingBalanceCents"`
	StoredBalanceCents   int64 `json:"storedBalanceCents"`
	ReplayedBalanceCents int64 `json:"replayedBalanceCents"`
	DriftCents           int64 `json:"driftCents"`
	Charges              int   `json:"charges"`
	Payments             int   `json:"payments"`
	InBalance            bool  `json:"inBalance"`
	Repaired             bool  `json:"repaired"`
}

// =============================================================================
// ENTRIES
// =============================================================================

// EntryDTO represents a charge or payment.
type EntryDTO struct {
	ID          id.ID            `json:"id"`
	LiabilityID id.ID            `json:"liabilityId"`
	Type        ledger.EntryType `json:"type"`
	AmountCents int64            `json:"amountCents"`
	Date        string           `json:"date"`
	Notes       string           `json:"notes,omitempty"`
	CreatedAt   string           `json:"createdAt"`
	UpdatedAt   string           `json:"updatedAt"`
}

// EntryRequest records a charge or payment.
type EntryRequest struct {
	AmountCents int64  `json:"amountCents"`
	Date        string `json:"date"`
	Notes       string `json:"notes"`
}

// EntryPatchRequest changes an entry. Absent fields are left as they are.
type EntryPatchRequest struct {
	AmountCents *int64  `json:"amountCents"`
	Date        *string `json:"date"`
	Notes       *string `json:"notes"`
}

// BatchPayItem is one line of a batch payment.
type BatchPayItem struct {
	LiabilityID id.ID `json:"liabilityId"`
	AmountCents int64 `json:"amountCents"`
}

// BatchPayRequest pays several liabilities at once.
type BatchPayRequest struct {
	Date  string         `json:"date"`
	Notes string         `json:"notes"`
	Items []BatchPayItem `json:"items"`
}

// BatchPayResponse lists the created payment ids in item order.
type BatchPayResponse struct {
	OK         bool    `json:"ok"`
	CreatedIDs []id.ID `json:"createdIds"`
}

// =============================================================================
// PLANS
// =============================================================================

// GeneratePlanRequest holds the planner inputs. An empty strategy uses the
// server default.
type GeneratePlanRequest struct {
	PaycheckAmountCents      int64               `json:"paycheckAmountCents"`
	PayDate                  string              `json:"payDate"`
	ReserveCents             int64               `json:"reserveCents"`
	Strategy                 ledger.Strategy     `json:"strategy"`
	TargetUtilizationPercent decimal.NullDecimal `json:"targetUtilizationPercent"`
}

// AllocationDTO is one allocation. LiabilityName is set on generation only.
type AllocationDTO struct {
	LiabilityID   id.ID                 `json:"liabilityId"`
	LiabilityName string                `json:"liabilityName,omitempty"`
	AmountCents   int64                 `json:"amountCents"`
	DueDate       *string               `json:"dueDate,omitempty"`
	Kind          ledger.AllocationKind `json:"kind"`
}

// GeneratePlanResponse is the freshly stored draft.
type GeneratePlanResponse struct {
	PlanID              id.ID             `json:"planId"`
	Strategy            ledger.Strategy   `json:"strategy"`
	Status              ledger.PlanStatus `json:"status"`
	PayDate             string            `json:"payDate"`
	Allocations         []AllocationDTO   `json:"allocations"`
	TotalAllocatedCents int64             `json:"totalAllocatedCents"`
	RemainingCents      int64             `json:"remainingCents"`
}

// PlanDTO represents a stored plan.
type PlanDTO struct {
	ID                       id.ID               `json:"id"`
	Strategy                 ledger.Strategy     `json:"strategy"`
	Status                   ledger.PlanStatus   `json:"status"`
	PaycheckAmountCents      int64               `json:"paycheckAmountCents"`
	PayDate                  string              `json:"payDate"`
	ReserveCents             int64               `json:"reserveCents"`
	TargetUtilizationPercent decimal.NullDecimal `json:"targetUtilizationPercent"`
	Allocations              []AllocationDTO     `json:"allocations"`
	TotalAllocatedCents      int64               `json:"totalAllocatedCents"`
	RemainingCents           int64               `json:"remainingCents"`
	PaymentIDs               []id.ID             `json:"paymentIds"`
	AppliedAt                *string             `json:"appliedAt,omitempty"`
	CreatedAt                string              `json:"createdAt"`
}

// ApplyPlanResponse lists the payments the plan created.
type ApplyPlanResponse struct {
	OK                bool    `json:"ok"`
	CreatedPaymentIDs []id.ID `json:"createdPaymentIds"`
}

// =============================================================================
// SCENARIOS & ERRORS
// =============================================================================

// ScenarioDTO describes a demo data set.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoadScenarioRequest selects a demo data set.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenarioId"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error     string `json:"error"`
	Details   string `json:"details,omitempty"`
	Field     string `json:"field,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toLiabilityDTO(l *ledger.Liability) LiabilityDTO {
	dto := LiabilityDTO{
		ID:                       l.ID,
		Kind:                     l.Kind,
		Name:                     l.Name,
		Institution:              l.Institution,
		BalanceCents:             l.BalanceCents,
		OpeningBalanceCents:      l.OpeningBalanceCents,
		CreditLimitCents:         l.CreditLimitCents,
		StatementDay:             l.StatementDay,
		DueDay:                   l.DueDay,
		InterestRateAPR:          l.InterestRateAPR,
		MinPaymentCents:          l.MinPaymentCents,
		TargetUtilizationPercent: l.TargetUtilizationPercent,
		NextDueDate:              formatDatePtr(l.NextDueDate),
		LastPaymentDate:          formatDatePtr(l.LastPaymentDate),
		Status:                   l.Status,
		CreatedAt:                l.CreatedAt.Format(time.RFC3339),
		UpdatedAt:                l.UpdatedAt.Format(time.RFC3339),
	}
	if l.CreditLimitCents != nil && *l.CreditLimitCents > 0 {
		util := decimal.NewFromInt(l.BalanceCents).
			Mul(decimal.NewFromInt(100)).
			Div(decimal.NewFromInt(*l.CreditLimitCents)).
			Round(2)
		dto.UtilizationPercent = decimal.NewNullDecimal(util)
	}
	return dto
}

func toLiabilityDTOs(ls []*ledger.Liability) []LiabilityDTO {
	dtos := make([]LiabilityDTO, len(ls))
	for i, l := range ls {
		dtos[i] = toLiabilityDTO(l)
	}
	return dtos
}

func toEntryDTO(e *ledger.Entry) EntryDTO {
	return EntryDTO{
		ID:          e.ID,
		LiabilityID: e.LiabilityID,
		Type:        e.Type,
		AmountCents: e.AmountCents,
		Date:        e.Date.Format(ledger.DateLayout),
		Notes:       e.Notes,
		CreatedAt:   e.CreatedAt.Format(time.RFC3339),
		UpdatedAt:   e.UpdatedAt.Format(time.RFC3339),
	}
}

func toReconciliationDTO(r *ledger.Reconciliation) ReconciliationDTO {
	return ReconciliationDTO{
		LiabilityID:          r.LiabilityID,
		OpeningBalanceCents:  r.OpeningBalanceCents,
		StoredBalanceCents:   r.StoredBalanceCents,
		ReplayedBalanceCents: r.ReplayedBalanceCents,
		DriftCents:           r.DriftCents,
		Charges:              r.Charges,
		Payments:             r.Payments,
		InBalance:            r.InBalance(),
		Repaired:             r.Repaired,
	}
}

func toAllocationDTO(a ledger.Allocation, name string) AllocationDTO {
	return AllocationDTO{
		LiabilityID:   a.LiabilityID,
		LiabilityName: name,
		AmountCents:   a.AmountCents,
		DueDate:       formatDatePtr(a.DueDate),
		Kind:          a.Kind,
	}
}

func toGeneratePlanResponse(g *planner.Generated) GeneratePlanResponse {
	allocations := make([]AllocationDTO, len(g.Allocations))
	for i, a := range g.Allocations {
		allocations[i] = toAllocationDTO(a.Allocation, a.LiabilityName)
	}
	return GeneratePlanResponse{
		PlanID:              g.Plan.ID,
		Strategy:            g.Plan.Strategy,
		Status:              g.Plan.Status,
		PayDate:             g.Plan.PayDate.Format(ledger.DateLayout),
		Allocations:         allocations,
		TotalAllocatedCents: g.Plan.TotalAllocatedCents,
		RemainingCents:      g.Plan.RemainingCents,
	}
}

func toPlanDTO(p *ledger.Plan) PlanDTO {
	allocations := make([]AllocationDTO, len(p.Allocations))
	for i, a := range p.Allocations {
		allocations[i] = toAllocationDTO(a, "")
	}
	paymentIDs := p.PaymentIDs
	if paymentIDs == nil {
		paymentIDs = []id.ID{}
	}
	dto := PlanDTO{
		ID:                       p.ID,
		Strategy:                 p.Strategy,
		Status:                   p.Status,
		PaycheckAmountCents:      p.PaycheckAmountCents,
		PayDate:                  p.PayDate.Format(ledger.DateLayout),
		ReserveCents:             p.ReserveCents,
		TargetUtilizationPercent: p.TargetUtilizationPercent,
		Allocations:              allocations,
		TotalAllocatedCents:      p.TotalAllocatedCents,
		RemainingCents:           p.RemainingCents,
		PaymentIDs:               paymentIDs,
		CreatedAt:                p.CreatedAt.Format(time.RFC3339),
	}
	if p.AppliedAt != nil {
		s := p.AppliedAt.Format(time.RFC3339)
		dto.AppliedAt = &s
	}
	return dto
}

func formatDatePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(ledger.DateLayout)
	return &s
}
