/*
Package ledger is the liability balance ledger of the debt planner.

PURPOSE:
  Tracks what a user owes on each credit card and loan. A liability carries
  a running balance that changes only through ledger entries: charges raise
  it, payments lower it. Every balance-affecting operation runs inside one
  unit of work so an entry and the balance it moved are committed together
  or not at all.

KEY CONCEPTS IN THIS FILE (types.go):
  - Liability: a debt owed by one user (credit card or loan)
  - Entry: a charge or payment recorded against a liability
  - UserID: the owner every read and write is scoped to

INVARIANTS:
  1. BalanceCents >= 0 at all times
  2. BalanceCents equals OpeningBalanceCents replayed with every recorded
     entry (payments floor at zero)
  3. Amounts are integer minor units (cents). No floating point.

SEE ALSO:
  - ledger.go: Ledger service and liability lifecycle
  - mutator.go: charge/payment operations with compensating adjustments
  - store.go: persistence contract and unit of work
  - plan.go: payment plan types persisted next to the ledger
*/
package ledger

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/debt-planner/id"
)

// UserID identifies the owner of liabilities, entries and plans.
type UserID string

// =============================================================================
// LIABILITY
// =============================================================================

// Kind is the type of debt obligation.
type Kind string

const (
	KindCreditCard Kind = "credit-card"
	KindLoan       Kind = "loan"
)

func (k Kind) Valid() bool { return k == KindCreditCard || k == KindLoan }

// Status is the lifecycle state of a liability.
type Status string

const (
	StatusOpen   Status = "open"
	StatusClosed Status = "closed"
)

func (s Status) Valid() bool { return s == StatusOpen || s == StatusClosed }

// Liability is a debt owned by exactly one user.
//
// BalanceCents is never edited directly; it moves through ledger entries
// (or CorrectBalance, which shifts OpeningBalanceCents by the same delta).
type Liability struct {
	ID          id.ID
	UserID      UserID
	Kind        Kind
	Name        string
	Institution string

	BalanceCents        int64
	OpeningBalanceCents int64

	// Credit cards only.
	CreditLimitCents *int64
	StatementDay     *int
	DueDay           *int

	InterestRateAPR          decimal.NullDecimal // percent, e.g. 24.99
	MinPaymentCents          *int64
	TargetUtilizationPercent decimal.NullDecimal // 0-100
	NextDueDate              *time.Time
	LastPaymentDate          *time.Time

	Status    Status
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (l *Liability) IsOpen() bool       { return l.Status == StatusOpen }
func (l *Liability) IsCreditCard() bool { return l.Kind == KindCreditCard }
func (l *Liability) IsLoan() bool       { return l.Kind == KindLoan }

// APR returns the interest rate, treating a missing rate as zero.
func (l *Liability) APR() decimal.Decimal {
	if !l.InterestRateAPR.Valid {
		return decimal.Zero
	}
	return l.InterestRateAPR.Decimal
}

// MinPayment returns the minimum payment, zero when unset.
func (l *Liability) MinPayment() int64 {
	if l.MinPaymentCents == nil {
		return 0
	}
	return *l.MinPaymentCents
}

// Clone returns a deep copy so stores can hand out values callers may mutate.
func (l *Liability) Clone() *Liability {
	c := *l
	c.CreditLimitCents = clonePtr(l.CreditLimitCents)
	c.StatementDay = clonePtr(l.StatementDay)
	c.DueDay = clonePtr(l.DueDay)
	c.MinPaymentCents = clonePtr(l.MinPaymentCents)
	c.NextDueDate = clonePtr(l.NextDueDate)
	c.LastPaymentDate = clonePtr(l.LastPaymentDate)
	return &c
}

// =============================================================================
// ENTRY - charge or payment
// =============================================================================

// EntryType distinguishes charges from payments.
type EntryType string

const (
	EntryCharge  EntryType = "charge"
	EntryPayment EntryType = "payment"
)

func (t EntryType) Valid() bool { return t == EntryCharge || t == EntryPayment }

// resource names the entry type in NotFound errors.
func (t EntryType) resource() string {
	if t == EntryPayment {
		return ResourcePayment
	}
	return ResourceCharge
}

// Entry is one charge or payment recorded against a liability.
type Entry struct {
	ID          id.ID
	UserID      UserID
	LiabilityID id.ID
	Type        EntryType
	AmountCents int64 // always > 0; Type decides the sign
	Date        time.Time
	Notes       string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (e *Entry) Clone() *Entry {
	c := *e
	return &c
}

// applyEntry returns the balance after an entry of the given type and amount.
// Payments floor at zero.
func applyEntry(balance int64, t EntryType, amount int64) int64 {
	if t == EntryPayment {
		return max(0, balance-amount)
	}
	return max(0, balance+amount)
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
