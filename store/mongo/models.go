package mongo

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/debt-planner/id"
	"github.com/warp/debt-planner/ledger"
)

// bson ignores encoding.TextMarshaler, so ids and decimals are mapped to
// strings here rather than stored through the domain types directly.

type liabilityModel struct {
	ID                       string     `bson:"_id"`
	UserID                   string     `bson:"user_id"`
	Kind                     string     `bson:"kind"`
	Name                     string     `bson:"name"`
	Institution              string     `bson:"institution"`
	BalanceCents             int64      `bson:"balance_cents"`
	OpeningBalanceCents      int64      `bson:"opening_balance_cents"`
	CreditLimitCents         *int64     `bson:"credit_limit_cents,omitempty"`
	StatementDay             *int       `bson:"statement_day,omitempty"`
	DueDay                   *int       `bson:"due_day,omitempty"`
	InterestRateAPR          *string    `bson:"interest_rate_apr,omitempty"`
	MinPaymentCents          *int64     `bson:"min_payment_cents,omitempty"`
	TargetUtilizationPercent *string    `bson:"target_utilization_percent,omitempty"`
	NextDueDate              *time.Time `bson:"next_due_date,omitempty"`
	LastPaymentDate          *time.Time `bson:"last_payment_date,omitempty"`
	Status                   string     `bson:"status"`
	CreatedAt                time.Time  `bson:"created_at"`
	UpdatedAt                time.Time  `bson:"updated_at"`
}

type entryModel struct {
	ID          string    `bson:"_id"`
	UserID      string    `bson:"user_id"`
	LiabilityID string    `bson:"liability_id"`
	Type        string    `bson:"entry_type"`
	AmountCents int64     `bson:"amount_cents"`
	Date        time.Time `bson:"entry_date"`
	Notes       string    `bson:"notes"`
	CreatedAt   time.Time `bson:"created_at"`
	UpdatedAt   time.Time `bson:"updated_at"`
}

type allocationModel struct {
	LiabilityID string     `bson:"liability_id"`
	AmountCents int64      `bson:"amount_cents"`
	DueDate     *time.Time `bson:"due_date,omitempty"`
	Kind        string     `bson:"kind"`
}

type planModel struct {
	ID                       string            `bson:"_id"`
	UserID                   string            `bson:"user_id"`
	Strategy                 string            `bson:"strategy"`
	PaycheckAmountCents      int64             `bson:"paycheck_amount_cents"`
	PayDate                  time.Time         `bson:"pay_date"`
	ReserveCents             int64             `bson:"reserve_cents"`
	TargetUtilizationPercent *string           `bson:"target_utilization_percent,omitempty"`
	Allocations              []allocationModel `bson:"allocations"`
	TotalAllocatedCents      int64             `bson:"total_allocated_cents"`
	RemainingCents           int64             `bson:"remaining_cents"`
	Status                   string            `bson:"status"`
	PaymentIDs               []string          `bson:"payment_ids"`
	AppliedAt                *time.Time        `bson:"applied_at,omitempty"`
	CreatedAt                time.Time         `bson:"created_at"`
	UpdatedAt                time.Time         `bson:"updated_at"`
}

// =============================================================================
// LIABILITY
// =============================================================================

func toLiabilityModel(l *ledger.Liability) *liabilityModel {
	return &liabilityModel{
		ID:                       l.ID.String(),
		UserID:                   string(l.UserID),
		Kind:                     string(l.Kind),
		Name:                     l.Name,
		Institution:              l.Institution,
		BalanceCents:             l.BalanceCents,
		OpeningBalanceCents:      l.OpeningBalanceCents,
		CreditLimitCents:         l.CreditLimitCents,
		StatementDay:             l.StatementDay,
		DueDay:                   l.DueDay,
		InterestRateAPR:          decimalString(l.InterestRateAPR),
		MinPaymentCents:          l.MinPaymentCents,
		TargetUtilizationPercent: decimalString(l.TargetUtilizationPercent),
		NextDueDate:              l.NextDueDate,
		LastPaymentDate:          l.LastPaymentDate,
		Status:                   string(l.Status),
		CreatedAt:                l.CreatedAt,
		UpdatedAt:                l.UpdatedAt,
	}
}

func fromLiabilityModel(m *liabilityModel) (*ledger.Liability, error) {
	liabID, err := id.Parse(m.ID)
	if err != nil {
		return nil, err
	}
	apr, err := parseDecimal(m.InterestRateAPR)
	if err != nil {
		return nil, err
	}
	target, err := parseDecimal(m.TargetUtilizationPercent)
	if err != nil {
		return nil, err
	}
	return &ledger.Liability{
		ID:                       liabID,
		UserID:                   ledger.UserID(m.UserID),
		Kind:                     ledger.Kind(m.Kind),
		Name:                     m.Name,
		Institution:              m.Institution,
		BalanceCents:             m.BalanceCents,
		OpeningBalanceCents:      m.OpeningBalanceCents,
		CreditLimitCents:         m.CreditLimitCents,
		StatementDay:             m.StatementDay,
		DueDay:                   m.DueDay,
		InterestRateAPR:          apr,
		MinPaymentCents:          m.MinPaymentCents,
		TargetUtilizationPercent: target,
		NextDueDate:              utcPtr(m.NextDueDate),
		LastPaymentDate:          utcPtr(m.LastPaymentDate),
		Status:                   ledger.Status(m.Status),
		CreatedAt:                m.CreatedAt.UTC(),
		UpdatedAt:                m.UpdatedAt.UTC(),
	}, nil
}

// =============================================================================
// ENTRY
// =============================================================================

func toEntryModel(e *ledger.Entry) *entryModel {
	return &entryModel{
		ID:          e.ID.String(),
		UserID:      string(e.UserID),
		LiabilityID: e.LiabilityID.String(),
		Type:        string(e.Type),
		AmountCents: e.AmountCents,
		Date:        e.Date,
		Notes:       e.Notes,
		CreatedAt:   e.CreatedAt,
		UpdatedAt:   e.UpdatedAt,
	}
}

func fromEntryModel(m *entryModel) (*ledger.Entry, error) {
	entryID, err := id.Parse(m.ID)
	if err != nil {
		return nil, err
	}
	liabID, err := id.Parse(m.LiabilityID)
	if err != nil {
		return nil, err
	}
	return &ledger.Entry{
		ID:          entryID,
		UserID:      ledger.UserID(m.UserID),
		LiabilityID: liabID,
		Type:        ledger.EntryType(m.Type),
		AmountCents: m.AmountCents,
		Date:        m.Date.UTC(),
		Notes:       m.Notes,
		CreatedAt:   m.CreatedAt.UTC(),
		UpdatedAt:   m.UpdatedAt.UTC(),
	}, nil
}

// =============================================================================
// PLAN
// =============================================================================

func toPlanModel(p *ledger.Plan) *planModel {
	allocations := make([]allocationModel, len(p.Allocations))
	for i, a := range p.Allocations {
		allocations[i] = allocationModel{
			LiabilityID: a.LiabilityID.String(),
			AmountCents: a.AmountCents,
			DueDate:     a.DueDate,
			Kind:        string(a.Kind),
		}
	}
	paymentIDs := make([]string, len(p.PaymentIDs))
	for i, pid := range p.PaymentIDs {
		paymentIDs[i] = pid.String()
	}

	return &planModel{
		ID:                       p.ID.String(),
		UserID:                   string(p.UserID),
		Strategy:                 string(p.Strategy),
		PaycheckAmountCents:      p.PaycheckAmountCents,
		PayDate:                  p.PayDate,
		ReserveCents:             p.ReserveCents,
		TargetUtilizationPercent: decimalString(p.TargetUtilizationPercent),
		Allocations:              allocations,
		TotalAllocatedCents:      p.TotalAllocatedCents,
		RemainingCents:           p.RemainingCents,
		Status:                   string(p.Status),
		PaymentIDs:               paymentIDs,
		AppliedAt:                p.AppliedAt,
		CreatedAt:                p.CreatedAt,
		UpdatedAt:                p.UpdatedAt,
	}
}

func fromPlanModel(m *planModel) (*ledger.Plan, error) {
	planID, err := id.Parse(m.ID)
	if err != nil {
		return nil, err
	}
	target, err := parseDecimal(m.TargetUtilizationPercent)
	if err != nil {
		return nil, err
	}

	allocations := make([]ledger.Allocation, len(m.Allocations))
	for i, a := range m.Allocations {
		liabID, err := id.Parse(a.LiabilityID)
		if err != nil {
			return nil, fmt.Errorf("failed to parse allocation liability %q: %w", a.LiabilityID, err)
		}
		allocations[i] = ledger.Allocation{
			LiabilityID: liabID,
			AmountCents: a.AmountCents,
			DueDate:     utcPtr(a.DueDate),
			Kind:        ledger.AllocationKind(a.Kind),
		}
	}

	paymentIDs := make([]id.ID, len(m.PaymentIDs))
	for i, raw := range m.PaymentIDs {
		if paymentIDs[i], err = id.Parse(raw); err != nil {
			return nil, err
		}
	}

	return &ledger.Plan{
		ID:                       planID,
		UserID:                   ledger.UserID(m.UserID),
		Strategy:                 ledger.Strategy(m.Strategy),
		PaycheckAmountCents:      m.PaycheckAmountCents,
		PayDate:                  m.PayDate.UTC(),
		ReserveCents:             m.ReserveCents,
		TargetUtilizationPercent: target,
		Allocations:              allocations,
		TotalAllocatedCents:      m.TotalAllocatedCents,
		RemainingCents:           m.RemainingCents,
		Status:                   ledger.PlanStatus(m.Status),
		PaymentIDs:               paymentIDs,
		AppliedAt:                utcPtr(m.AppliedAt),
		CreatedAt:                m.CreatedAt.UTC(),
		UpdatedAt:                m.UpdatedAt.UTC(),
	}, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func decimalString(d decimal.NullDecimal) *string {
	if !d.Valid {
		return nil
	}
	s := d.Decimal.String()
	return &s
}

func parseDecimal(s *string) (decimal.NullDecimal, error) {
	if s == nil {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(*s)
	if err != nil {
		return decimal.NullDecimal{}, fmt.Errorf("failed to parse decimal %q: %w", *s, err)
	}
	return decimal.NewNullDecimal(d), nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
