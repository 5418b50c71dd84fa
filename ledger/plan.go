package ledger

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/debt-planner/id"
)

// Strategy is the payoff ordering used by the planner.
type Strategy string

const (
	// StrategyAvalanche pays the highest interest rate first.
	StrategyAvalanche Strategy = "avalanche"
	// StrategySnowball pays the smallest balance first.
	StrategySnowball Strategy = "snowball"
)

func (s Strategy) Valid() bool { return s == StrategyAvalanche || s == StrategySnowball }

// PlanStatus is the state of a payment plan: draft --apply--> applied.
type PlanStatus string

const (
	PlanDraft   PlanStatus = "draft"
	PlanApplied PlanStatus = "applied"
)

// AllocationKind tells which planner pass produced an allocation.
type AllocationKind string

const (
	AllocationMinimum AllocationKind = "minimum" // pass 1, urgent minimums
	AllocationExtra   AllocationKind = "extra"   // pass 2, strategy-ordered paydown
)

// Allocation is the share of a paycheck routed to one liability.
// A liability may appear twice in a plan: once per pass. The JSON form is
// what relational stores persist in a single column.
type Allocation struct {
	LiabilityID id.ID          `json:"liabilityId"`
	AmountCents int64          `json:"amountCents"`
	DueDate     *time.Time     `json:"dueDate,omitempty"`
	Kind        AllocationKind `json:"kind"`
}

// Plan is a proposed, then optionally executed, allocation of one paycheck.
type Plan struct {
	ID                       id.ID
	UserID                   UserID
	Strategy                 Strategy
	PaycheckAmountCents      int64
	PayDate                  time.Time
	ReserveCents             int64
	TargetUtilizationPercent decimal.NullDecimal
	Allocations              []Allocation
	TotalAllocatedCents      int64
	RemainingCents           int64
	Status                   PlanStatus

	// Set when the plan is applied.
	PaymentIDs []id.ID
	AppliedAt  *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// CheckApplicable reports why a plan cannot be applied, or nil.
func (p *Plan) CheckApplicable() error {
	if p.Status == PlanApplied {
		return &StateError{Resource: ResourcePlan, ID: p.ID.String(), State: string(p.Status), Reason: "plan already applied"}
	}
	if len(p.Allocations) == 0 {
		return &StateError{Resource: ResourcePlan, ID: p.ID.String(), State: string(p.Status), Reason: "plan has no allocations"}
	}
	return nil
}

func (p *Plan) Clone() *Plan {
	c := *p
	c.Allocations = make([]Allocation, len(p.Allocations))
	for i, a := range p.Allocations {
		a.DueDate = clonePtr(a.DueDate)
		c.Allocations[i] = a
	}
	c.PaymentIDs = append([]id.ID(nil), p.PaymentIDs...)
	c.AppliedAt = clonePtr(p.AppliedAt)
	return &c
}
