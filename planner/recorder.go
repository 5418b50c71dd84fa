package planner

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/warp/debt-planner/id"
	"github.com/warp/debt-planner/ledger"
)

// =============================================================================
// RECORDER - draft plans and their application
// =============================================================================

// Recorder persists engine output as draft plans and applies them as ledger
// payments.
type Recorder struct {
	ledger          *ledger.Ledger
	store           ledger.TxStore
	opts            Options
	defaultStrategy ledger.Strategy
	logger          *slog.Logger
	now             func() time.Time
}

type RecorderOption func(*Recorder)

func WithOptions(opts Options) RecorderOption {
	return func(r *Recorder) { r.opts = opts }
}

// WithDefaultStrategy is used when an Input leaves Strategy empty.
func WithDefaultStrategy(s ledger.Strategy) RecorderOption {
	return func(r *Recorder) { r.defaultStrategy = s }
}

func WithLogger(logger *slog.Logger) RecorderOption {
	return func(r *Recorder) { r.logger = logger }
}

func WithClock(now func() time.Time) RecorderOption {
	return func(r *Recorder) { r.now = now }
}

func NewRecorder(l *ledger.Ledger, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		ledger:          l,
		store:           l.Store(),
		opts:            DefaultOptions(),
		defaultStrategy: ledger.StrategyAvalanche,
		logger:          slog.Default(),
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// PlannedAllocation is an allocation with the liability's display name.
type PlannedAllocation struct {
	ledger.Allocation
	LiabilityName string
}

// Generated is a freshly stored draft plan.
type Generated struct {
	Plan        *ledger.Plan
	Allocations []PlannedAllocation
}

// Generate runs the engine over the user's open liabilities and stores the
// result as a draft plan.
func (r *Recorder) Generate(ctx context.Context, userID ledger.UserID, in Input) (*Generated, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}
	if in.Strategy == "" {
		in.Strategy = r.defaultStrategy
	}
	if err := in.Validate(); err != nil {
		return nil, err
	}

	open, err := r.ledger.ListOpenLiabilities(ctx, userID)
	if err != nil {
		return nil, err
	}
	res := Allocate(in, open, r.opts)

	now := r.now().UTC()
	plan := &ledger.Plan{
		ID:                       id.NewPlanID(),
		UserID:                   userID,
		Strategy:                 in.Strategy,
		PaycheckAmountCents:      in.PaycheckAmountCents,
		PayDate:                  ledger.DateOf(in.PayDate),
		ReserveCents:             in.ReserveCents,
		TargetUtilizationPercent: in.TargetUtilizationPercent,
		Allocations:              res.Allocations,
		TotalAllocatedCents:      res.TotalAllocatedCents,
		RemainingCents:           res.RemainingCents,
		Status:                   ledger.PlanDraft,
		CreatedAt:                now,
		UpdatedAt:                now,
	}
	if err := r.store.CreatePlan(ctx, plan); err != nil {
		return nil, err
	}

	names := make(map[string]string, len(open))
	for _, l := range open {
		names[l.ID.String()] = l.Name
	}
	planned := make([]PlannedAllocation, len(plan.Allocations))
	for i, a := range plan.Allocations {
		planned[i] = PlannedAllocation{Allocation: a, LiabilityName: names[a.LiabilityID.String()]}
	}

	r.logger.Info("plan generated",
		"user_id", userID,
		"plan_id", plan.ID.String(),
		"strategy", plan.Strategy,
		"allocations", len(plan.Allocations),
		"allocated_cents", plan.TotalAllocatedCents,
		"remaining_cents", plan.RemainingCents,
	)
	return &Generated{Plan: plan, Allocations: planned}, nil
}

// Applied is the outcome of a successful Apply.
type Applied struct {
	Plan       *ledger.Plan
	PaymentIDs []id.ID
}

// Apply turns a draft plan into ledger payments dated at its pay date and
// marks it applied, all in one unit of work. Liabilities closed since the
// plan was generated make the whole apply fail with InvalidState.
func (r *Recorder) Apply(ctx context.Context, userID ledger.UserID, planID id.ID) (*Applied, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}

	var out *Applied
	err := r.store.WithTx(ctx, func(tx ledger.Store) error {
		plan, err := tx.GetPlan(ctx, userID, planID)
		if err != nil {
			return err
		}
		if err := plan.CheckApplicable(); err != nil {
			return err
		}

		batch := ledger.BatchPayment{
			Date:  plan.PayDate,
			Notes: fmt.Sprintf("Paycheck plan (%s)", plan.Strategy),
			Items: make([]ledger.BatchItem, len(plan.Allocations)),
		}
		checked := make(map[string]bool)
		for i, a := range plan.Allocations {
			batch.Items[i] = ledger.BatchItem{LiabilityID: a.LiabilityID, AmountCents: a.AmountCents}
			if checked[a.LiabilityID.String()] {
				continue
			}
			liab, err := tx.GetLiability(ctx, userID, a.LiabilityID)
			if err != nil {
				return err
			}
			if !liab.IsOpen() {
				return &ledger.StateError{
					Resource: ledger.ResourceLiability,
					ID:       liab.ID.String(),
					State:    string(liab.Status),
					Reason:   "closed after plan " + planID.String() + " was generated",
				}
			}
			checked[a.LiabilityID.String()] = true
		}
		if err := batch.Validate(); err != nil {
			return err
		}

		payments, err := r.ledger.BatchPayIn(ctx, tx, userID, batch)
		if err != nil {
			return err
		}

		now := r.now().UTC()
		plan.Status = ledger.PlanApplied
		plan.PaymentIDs = make([]id.ID, len(payments))
		for i, p := range payments {
			plan.PaymentIDs[i] = p.ID
		}
		plan.AppliedAt = &now
		plan.UpdatedAt = now
		if err := tx.UpdatePlan(ctx, plan); err != nil {
			return err
		}

		out = &Applied{Plan: plan, PaymentIDs: plan.PaymentIDs}
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.logger.Info("plan applied",
		"user_id", userID,
		"plan_id", planID.String(),
		"payments", len(out.PaymentIDs),
	)
	return out, nil
}

func (r *Recorder) GetPlan(ctx context.Context, userID ledger.UserID, planID id.ID) (*ledger.Plan, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}
	return r.store.GetPlan(ctx, userID, planID)
}

// ListPlans returns the user's plans, newest first.
func (r *Recorder) ListPlans(ctx context.Context, userID ledger.UserID) ([]*ledger.Plan, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}
	return r.store.ListPlans(ctx, userID)
}

func requireUser(userID ledger.UserID) error {
	if strings.TrimSpace(string(userID)) == "" {
		return &ledger.ValidationError{Field: "userId", Message: "is required"}
	}
	return nil
}
