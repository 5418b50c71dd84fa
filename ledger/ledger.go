package ledger

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/debt-planner/id"
)

// =============================================================================
// LEDGER - service over a TxStore
// =============================================================================

// Ledger owns every operation that touches a liability balance.
type Ledger struct {
	store  TxStore
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) { l.logger = logger }
}

// WithClock overrides the clock used for CreatedAt/UpdatedAt stamps.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// New creates a Ledger over the given store.
func New(store TxStore, opts ...Option) *Ledger {
	l := &Ledger{
		store:  store,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Store exposes the underlying store for collaborators that run their own
// unit of work (the plan recorder).
func (l *Ledger) Store() TxStore { return l.store }

// Within returns a copy of l whose operations join tx instead of opening
// their own unit of work. Nothing commits until the caller's WithTx does.
func (l *Ledger) Within(tx Store) *Ledger {
	c := *l
	c.store = joinedTx{tx}
	return &c
}

type joinedTx struct{ Store }

func (j joinedTx) WithTx(_ context.Context, fn func(Store) error) error { return fn(j.Store) }

func (l *Ledger) timestamp() time.Time { return l.now().UTC() }

// =============================================================================
// LIABILITY LIFECYCLE
// =============================================================================

// LiabilityDetails are the descriptive fields of a liability. They can be
// replaced freely; they never move the balance.
type LiabilityDetails struct {
	Name                     string
	Institution              string
	CreditLimitCents         *int64
	StatementDay             *int
	DueDay                   *int
	InterestRateAPR          decimal.NullDecimal
	MinPaymentCents          *int64
	TargetUtilizationPercent decimal.NullDecimal
	NextDueDate              *time.Time
}

// LiabilityInput opens a new liability.
type LiabilityInput struct {
	Kind         Kind
	BalanceCents int64
	LiabilityDetails
}

func (in LiabilityInput) validate() error {
	if !in.Kind.Valid() {
		return invalid("kind", "must be %q or %q", KindCreditCard, KindLoan)
	}
	if in.BalanceCents < 0 {
		return invalid("balanceCents", "must be >= 0")
	}
	return in.LiabilityDetails.validate(in.Kind)
}

func (d LiabilityDetails) validate(kind Kind) error {
	if strings.TrimSpace(d.Name) == "" {
		return invalid("name", "is required")
	}
	if kind != KindCreditCard {
		switch {
		case d.CreditLimitCents != nil:
			return invalid("creditLimitCents", "only applies to credit cards")
		case d.StatementDay != nil:
			return invalid("statementDay", "only applies to credit cards")
		case d.DueDay != nil:
			return invalid("dueDay", "only applies to credit cards")
		}
	}
	if d.CreditLimitCents != nil && *d.CreditLimitCents < 0 {
		return invalid("creditLimitCents", "must be >= 0")
	}
	if err := validateDay("statementDay", d.StatementDay); err != nil {
		return err
	}
	if err := validateDay("dueDay", d.DueDay); err != nil {
		return err
	}
	if d.InterestRateAPR.Valid && d.InterestRateAPR.Decimal.IsNegative() {
		return invalid("interestRateAPR", "must be >= 0")
	}
	if d.MinPaymentCents != nil && *d.MinPaymentCents < 0 {
		return invalid("minPaymentCents", "must be >= 0")
	}
	return ValidatePercent("targetUtilizationPercent", d.TargetUtilizationPercent)
}

func validateDay(field string, day *int) error {
	if day != nil && (*day < 1 || *day > 28) {
		return invalid(field, "day of month must be 1-28, got %d", *day)
	}
	return nil
}

var hundred = decimal.NewFromInt(100)

// ValidatePercent rejects a set percentage outside 0-100.
func ValidatePercent(field string, p decimal.NullDecimal) error {
	if p.Valid && (p.Decimal.IsNegative() || p.Decimal.GreaterThan(hundred)) {
		return invalid(field, "must be between 0 and 100, got %s", p.Decimal)
	}
	return nil
}

func (d LiabilityDetails) applyTo(l *Liability) {
	l.Name = strings.TrimSpace(d.Name)
	l.Institution = strings.TrimSpace(d.Institution)
	l.CreditLimitCents = clonePtr(d.CreditLimitCents)
	l.StatementDay = clonePtr(d.StatementDay)
	l.DueDay = clonePtr(d.DueDay)
	l.InterestRateAPR = d.InterestRateAPR
	l.MinPaymentCents = clonePtr(d.MinPaymentCents)
	l.TargetUtilizationPercent = d.TargetUtilizationPercent
	l.NextDueDate = dateOfPtr(d.NextDueDate)
}

// OpenLiability creates an open liability. The starting balance is kept as
// the opening balance that reconciliation replays from.
func (l *Ledger) OpenLiability(ctx context.Context, userID UserID, in LiabilityInput) (*Liability, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}
	if err := in.validate(); err != nil {
		return nil, err
	}

	now := l.timestamp()
	liab := &Liability{
		ID:                  id.NewLiabilityID(),
		UserID:              userID,
		Kind:                in.Kind,
		BalanceCents:        in.BalanceCents,
		OpeningBalanceCents: in.BalanceCents,
		Status:              StatusOpen,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	in.LiabilityDetails.applyTo(liab)

	if err := l.store.CreateLiability(ctx, liab); err != nil {
		return nil, err
	}
	l.logger.Info("liability opened",
		"user_id", userID,
		"liability_id", liab.ID.String(),
		"kind", liab.Kind,
		"balance_cents", liab.BalanceCents,
	)
	return liab, nil
}

// GetLiability returns one of the user's liabilities.
func (l *Ledger) GetLiability(ctx context.Context, userID UserID, liabilityID id.ID) (*Liability, error) {
	return l.store.GetLiability(ctx, userID, liabilityID)
}

// ListLiabilities returns the user's liabilities; empty status means all.
func (l *Ledger) ListLiabilities(ctx context.Context, userID UserID, status Status) ([]*Liability, error) {
	if status != "" && !status.Valid() {
		return nil, invalid("status", "unknown status %q", status)
	}
	return l.store.ListLiabilities(ctx, userID, status)
}

// ListOpenLiabilities is the planner's snapshot source.
func (l *Ledger) ListOpenLiabilities(ctx context.Context, userID UserID) ([]*Liability, error) {
	return l.store.ListLiabilities(ctx, userID, StatusOpen)
}

// UpdateLiabilityDetails replaces the descriptive fields of a liability.
// Kind and balance are not touched.
func (l *Ledger) UpdateLiabilityDetails(ctx context.Context, userID UserID, liabilityID id.ID, d LiabilityDetails) (*Liability, error) {
	var updated *Liability
	err := l.store.WithTx(ctx, func(tx Store) error {
		liab, err := tx.GetLiability(ctx, userID, liabilityID)
		if err != nil {
			return err
		}
		if err := d.validate(liab.Kind); err != nil {
			return err
		}
		d.applyTo(liab)
		liab.UpdatedAt = l.timestamp()
		if err := tx.UpdateLiability(ctx, liab); err != nil {
			return err
		}
		updated = liab
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// CloseLiability moves an open liability to closed. Closing twice is an
// InvalidState error.
func (l *Ledger) CloseLiability(ctx context.Context, userID UserID, liabilityID id.ID) (*Liability, error) {
	var closed *Liability
	err := l.store.WithTx(ctx, func(tx Store) error {
		liab, err := tx.GetLiability(ctx, userID, liabilityID)
		if err != nil {
			return err
		}
		if !liab.IsOpen() {
			return &StateError{Resource: ResourceLiability, ID: liabilityID.String(), State: string(liab.Status), Reason: "already closed"}
		}
		liab.Status = StatusClosed
		liab.UpdatedAt = l.timestamp()
		if err := tx.UpdateLiability(ctx, liab); err != nil {
			return err
		}
		closed = liab
		return nil
	})
	if err != nil {
		return nil, err
	}
	l.logger.Info("liability closed", "user_id", userID, "liability_id", liabilityID.String())
	return closed, nil
}

// DeleteLiability removes a liability and its whole entry history in one
// unit of work. No balance reversal is needed: the balance goes with it.
func (l *Ledger) DeleteLiability(ctx context.Context, userID UserID, liabilityID id.ID) error {
	var removed int
	err := l.store.WithTx(ctx, func(tx Store) error {
		if _, err := tx.GetLiability(ctx, userID, liabilityID); err != nil {
			return err
		}
		n, err := tx.DeleteEntries(ctx, userID, liabilityID)
		if err != nil {
			return err
		}
		removed = n
		return tx.DeleteLiability(ctx, userID, liabilityID)
	})
	if err != nil {
		return err
	}
	l.logger.Info("liability deleted",
		"user_id", userID,
		"liability_id", liabilityID.String(),
		"entries_removed", removed,
	)
	return nil
}

// ListEntries returns the charge/payment history of a liability.
func (l *Ledger) ListEntries(ctx context.Context, userID UserID, liabilityID id.ID) ([]*Entry, error) {
	if _, err := l.store.GetLiability(ctx, userID, liabilityID); err != nil {
		return nil, err
	}
	return l.store.ListEntries(ctx, userID, liabilityID)
}

func requireUser(userID UserID) error {
	if strings.TrimSpace(string(userID)) == "" {
		return invalid("userId", "is required")
	}
	return nil
}
