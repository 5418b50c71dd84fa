/*
engine.go - Paycheck allocation across open liabilities

PURPOSE:
  Decides how one paycheck is split across a user's open credit cards and
  loans. Allocate is a pure function: it reads a snapshot handed in by the
  caller and never touches storage. Recorder.Apply re-validates the snapshot
  before any money moves.

ALGORITHM:
  cash = max(0, paycheck - reserve)

  1. Effective due date per liability
       card with dueDay  next occurrence of dueDay on or after payDate
       otherwise         nextDueDate, if set
  2. Order by strategy (stable)
       avalanche         APR desc, then balance desc
       snowball          balance asc, then APR desc
  3. Pass 1: urgent minimums
       urgent = loan, or due within UrgentWindowDays of payDate
       allocate min(minPayment, balance, cash)
  4. Pass 2: extra paydown, same order
       target = remaining balance
       card with a limit: target = max(0, remaining - goal)
         goal = floor(limit * goalPercent / 100)
         goalPercent = liability target, else plan target, else default
       allocate min(target, cash)

  Pass-1 allocations come first; a liability can appear once per pass.

INVARIANTS:
  - TotalAllocatedCents + RemainingCents == CashCents
  - per liability, pass 1 + pass 2 <= its balance
  - zero-balance and closed liabilities receive nothing
*/
package planner

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/debt-planner/ledger"
)

// Options holds the engine constants.
type Options struct {
	// UrgentWindowDays is how close a due date must be to the pay date for
	// its minimum payment to be paid in pass 1.
	UrgentWindowDays int
	// DefaultTargetUtilization is the utilization goal, in percent, for
	// cards when neither the liability nor the plan sets one.
	DefaultTargetUtilization decimal.Decimal
}

func DefaultOptions() Options {
	return Options{
		UrgentWindowDays:         21,
		DefaultTargetUtilization: decimal.NewFromInt(30),
	}
}

// Input are the planner parameters for one paycheck.
type Input struct {
	PaycheckAmountCents      int64
	PayDate                  time.Time
	ReserveCents             int64
	Strategy                 ledger.Strategy
	TargetUtilizationPercent decimal.NullDecimal
}

// Validate rejects input the engine must never see.
func (in Input) Validate() error {
	switch {
	case in.PaycheckAmountCents <= 0:
		return &ledger.ValidationError{Field: "paycheckAmountCents", Message: "must be > 0"}
	case in.ReserveCents < 0:
		return &ledger.ValidationError{Field: "reserveCents", Message: "must be >= 0"}
	case in.PayDate.IsZero():
		return &ledger.ValidationError{Field: "payDate", Message: "is required"}
	case !in.Strategy.Valid():
		return &ledger.ValidationError{Field: "strategy", Message: "must be avalanche or snowball"}
	}
	return ledger.ValidatePercent("targetUtilizationPercent", in.TargetUtilizationPercent)
}

// Result is the engine output.
type Result struct {
	CashCents           int64
	Allocations         []ledger.Allocation
	TotalAllocatedCents int64
	RemainingCents      int64
}

type candidate struct {
	liab      *ledger.Liability
	due       *time.Time
	urgent    bool
	remaining int64
}

var hundred = decimal.NewFromInt(100)

// Allocate splits the paycheck across the liabilities. It does not
// validate in; callers run Input.Validate first.
func Allocate(in Input, liabilities []*ledger.Liability, opts Options) Result {
	cash := max(0, in.PaycheckAmountCents-in.ReserveCents)
	res := Result{CashCents: cash}

	payDate := ledger.DateOf(in.PayDate)
	window := time.Duration(opts.UrgentWindowDays) * 24 * time.Hour

	cands := make([]*candidate, 0, len(liabilities))
	for _, l := range liabilities {
		if !l.IsOpen() || l.BalanceCents <= 0 {
			continue
		}
		due := DueDate(l, payDate)
		cands = append(cands, &candidate{
			liab:      l,
			due:       due,
			urgent:    l.IsLoan() || (due != nil && due.Sub(payDate) <= window),
			remaining: l.BalanceCents,
		})
	}
	sortCandidates(cands, in.Strategy)

	var extra []ledger.Allocation

	// Pass 1: urgent minimums.
	for _, c := range cands {
		if cash == 0 {
			break
		}
		if !c.urgent || c.liab.MinPayment() <= 0 {
			continue
		}
		amount := min(c.liab.MinPayment(), c.remaining, cash)
		c.remaining -= amount
		cash -= amount
		res.Allocations = append(res.Allocations, allocation(c, amount, ledger.AllocationMinimum))
	}

	// Pass 2: extra paydown.
	for _, c := range cands {
		if cash == 0 {
			break
		}
		if c.remaining <= 0 {
			continue
		}
		target := c.remaining
		if goal, ok := goalBalance(c.liab, in.TargetUtilizationPercent, opts); ok {
			target = max(0, c.remaining-goal)
		}
		amount := min(target, cash)
		if amount <= 0 {
			continue
		}
		c.remaining -= amount
		cash -= amount
		extra = append(extra, allocation(c, amount, ledger.AllocationExtra))
	}

	res.Allocations = append(res.Allocations, extra...)
	for _, a := range res.Allocations {
		res.TotalAllocatedCents += a.AmountCents
	}
	res.RemainingCents = cash
	return res
}

func allocation(c *candidate, amount int64, kind ledger.AllocationKind) ledger.Allocation {
	a := ledger.Allocation{LiabilityID: c.liab.ID, AmountCents: amount, Kind: kind}
	if c.due != nil {
		d := *c.due
		a.DueDate = &d
	}
	return a
}

// DueDate returns the effective due date of a liability relative to a pay
// date, or nil when it has none.
func DueDate(l *ledger.Liability, payDate time.Time) *time.Time {
	pay := ledger.DateOf(payDate)
	if l.IsCreditCard() && l.DueDay != nil {
		// dueDay is 1-28, so the date exists in every month
		due := ledger.Date(pay.Year(), pay.Month(), *l.DueDay)
		if due.Before(pay) {
			due = due.AddDate(0, 1, 0)
		}
		return &due
	}
	if l.NextDueDate != nil {
		due := ledger.DateOf(*l.NextDueDate)
		return &due
	}
	return nil
}

// goalBalance is the balance at which a card meets its utilization goal.
// Only cards with a credit limit have one.
func goalBalance(l *ledger.Liability, planTarget decimal.NullDecimal, opts Options) (int64, bool) {
	if !l.IsCreditCard() || l.CreditLimitCents == nil {
		return 0, false
	}
	pct := opts.DefaultTargetUtilization
	switch {
	case l.TargetUtilizationPercent.Valid:
		pct = l.TargetUtilizationPercent.Decimal
	case planTarget.Valid:
		pct = planTarget.Decimal
	}
	goal := decimal.NewFromInt(*l.CreditLimitCents).Mul(pct).Div(hundred).Floor()
	return goal.IntPart(), true
}

func sortCandidates(cands []*candidate, strategy ledger.Strategy) {
	byAPRDesc := func(a, b *candidate) int { return b.liab.APR().Cmp(a.liab.APR()) }

	sort.SliceStable(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		if strategy == ledger.StrategySnowball {
			if a.liab.BalanceCents != b.liab.BalanceCents {
				return a.liab.BalanceCents < b.liab.BalanceCents
			}
			return byAPRDesc(a, b) < 0
		}
		if c := byAPRDesc(a, b); c != 0 {
			return c < 0
		}
		return a.liab.BalanceCents > b.liab.BalanceCents
	})
}
