package planner_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/debt-planner/id"
	"github.com/warp/debt-planner/ledger"
	"github.com/warp/debt-planner/ledger/store"
	"github.com/warp/debt-planner/planner"
)

// =============================================================================
// TEST SETUP
// =============================================================================

const user ledger.UserID = "user-1"

type fixture struct {
	mem      *store.Memory
	ledger   *ledger.Ledger
	recorder *planner.Recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := time.Date(2025, time.March, 1, 8, 0, 0, 0, time.UTC)
	tick := func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}

	mem := store.NewMemory()
	l := ledger.New(mem, ledger.WithLogger(logger), ledger.WithClock(tick))
	return &fixture{
		mem:      mem,
		ledger:   l,
		recorder: planner.NewRecorder(l, planner.WithLogger(logger), planner.WithClock(tick)),
	}
}

func (f *fixture) openCard(t *testing.T, name string, balance int64) *ledger.Liability {
	t.Helper()
	liab, err := f.ledger.OpenLiability(context.Background(), user, ledger.LiabilityInput{
		Kind:         ledger.KindCreditCard,
		BalanceCents: balance,
		LiabilityDetails: ledger.LiabilityDetails{
			Name:             name,
			CreditLimitCents: ptr(int64(500000)),
			DueDay:           ptr(15),
			InterestRateAPR:  pct("24.99"),
			MinPaymentCents:  ptr(int64(3000)),
		},
	})
	require.NoError(t, err)
	return liab
}

func (f *fixture) balance(t *testing.T, liabID id.ID) int64 {
	t.Helper()
	l, err := f.ledger.GetLiability(context.Background(), user, liabID)
	require.NoError(t, err)
	return l.BalanceCents
}

func goalInput() planner.Input {
	in := input(250000, 20000, "")
	in.TargetUtilizationPercent = pct("10")
	return in
}

// =============================================================================
// GENERATE
// =============================================================================

func TestGenerate_StoresDraft(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	visa := f.openCard(t, "Visa", 100000)

	gen, err := f.recorder.Generate(ctx, user, goalInput())
	require.NoError(t, err)

	assert.Equal(t, ledger.PlanDraft, gen.Plan.Status)
	assert.Equal(t, ledger.StrategyAvalanche, gen.Plan.Strategy, "empty strategy uses the default")
	assert.Equal(t, int64(50000), gen.Plan.TotalAllocatedCents)
	assert.Equal(t, int64(180000), gen.Plan.RemainingCents)
	require.Len(t, gen.Allocations, 2)
	for _, a := range gen.Allocations {
		assert.Equal(t, "Visa", a.LiabilityName)
		assert.Equal(t, visa.ID.String(), a.LiabilityID.String())
	}

	stored, err := f.recorder.GetPlan(ctx, user, gen.Plan.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Allocations, 2)

	// generating moves no money
	assert.Equal(t, int64(100000), f.balance(t, visa.ID))
}

func TestGenerate_InvalidInputStoresNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.recorder.Generate(ctx, user, input(-5, 0, ledger.StrategyAvalanche))
	require.ErrorIs(t, err, ledger.ErrInvalidArgument)

	_, err = f.recorder.Generate(ctx, "", input(5, 0, ledger.StrategyAvalanche))
	require.ErrorIs(t, err, ledger.ErrInvalidArgument)

	plans, err := f.recorder.ListPlans(ctx, user)
	require.NoError(t, err)
	assert.Empty(t, plans)
}

func TestListPlans_NewestFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.openCard(t, "Visa", 100000)

	first, err := f.recorder.Generate(ctx, user, goalInput())
	require.NoError(t, err)
	second, err := f.recorder.Generate(ctx, user, input(10000, 0, ledger.StrategySnowball))
	require.NoError(t, err)

	plans, err := f.recorder.ListPlans(ctx, user)
	require.NoError(t, err)
	require.Len(t, plans, 2)
	assert.Equal(t, second.Plan.ID.String(), plans[0].ID.String())
	assert.Equal(t, first.Plan.ID.String(), plans[1].ID.String())

	others, err := f.recorder.ListPlans(ctx, "user-2")
	require.NoError(t, err)
	assert.Empty(t, others)
}

// =============================================================================
// APPLY
// =============================================================================

func TestApply_CreatesPaymentsAndMarksApplied(t *testing.T) {
	// GIVEN: A draft plan allocating 3000 + 47000 to one card
	// WHEN: The plan is applied
	// THEN: Two payments dated at the pay date exist and the balance drops by 50000

	f := newFixture(t)
	ctx := context.Background()
	visa := f.openCard(t, "Visa", 100000)

	gen, err := f.recorder.Generate(ctx, user, goalInput())
	require.NoError(t, err)

	applied, err := f.recorder.Apply(ctx, user, gen.Plan.ID)
	require.NoError(t, err)
	require.Len(t, applied.PaymentIDs, 2)
	assert.Equal(t, ledger.PlanApplied, applied.Plan.Status)
	require.NotNil(t, applied.Plan.AppliedAt)

	assert.Equal(t, int64(50000), f.balance(t, visa.ID))

	entries, err := f.ledger.ListEntries(ctx, user, visa.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	for _, e := range entries {
		assert.Equal(t, ledger.EntryPayment, e.Type)
		assert.True(t, e.Date.Equal(payDate))
		assert.Equal(t, "Paycheck plan (avalanche)", e.Notes)
	}

	stored, err := f.recorder.GetPlan(ctx, user, gen.Plan.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.PlanApplied, stored.Status)
	assert.Len(t, stored.PaymentIDs, 2)
}

func TestApply_Twice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	visa := f.openCard(t, "Visa", 100000)

	gen, err := f.recorder.Generate(ctx, user, goalInput())
	require.NoError(t, err)
	_, err = f.recorder.Apply(ctx, user, gen.Plan.ID)
	require.NoError(t, err)

	_, err = f.recorder.Apply(ctx, user, gen.Plan.ID)
	require.ErrorIs(t, err, ledger.ErrInvalidState)

	entries, err := f.ledger.ListEntries(ctx, user, visa.ID)
	require.NoError(t, err)
	assert.Len(t, entries, 2, "no duplicate payments")
	assert.Equal(t, int64(50000), f.balance(t, visa.ID))
}

func TestApply_EmptyPlan(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	gen, err := f.recorder.Generate(ctx, user, input(10000, 0, ledger.StrategyAvalanche))
	require.NoError(t, err)
	assert.Empty(t, gen.Allocations)

	_, err = f.recorder.Apply(ctx, user, gen.Plan.ID)
	require.ErrorIs(t, err, ledger.ErrInvalidState)
}

func TestApply_NotOwned(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.openCard(t, "Visa", 100000)

	gen, err := f.recorder.Generate(ctx, user, goalInput())
	require.NoError(t, err)

	_, err = f.recorder.Apply(ctx, "user-2", gen.Plan.ID)
	require.ErrorIs(t, err, ledger.ErrNotFound)

	_, err = f.recorder.Apply(ctx, user, id.NewPlanID())
	require.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestApply_ClosedSinceGeneration(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	visa := f.openCard(t, "Visa", 100000)
	car, err := f.ledger.OpenLiability(ctx, user, ledger.LiabilityInput{
		Kind:             ledger.KindLoan,
		BalanceCents:     400000,
		LiabilityDetails: ledger.LiabilityDetails{Name: "Car", MinPaymentCents: ptr(int64(12000))},
	})
	require.NoError(t, err)

	gen, err := f.recorder.Generate(ctx, user, goalInput())
	require.NoError(t, err)
	_, err = f.ledger.CloseLiability(ctx, user, car.ID)
	require.NoError(t, err)

	_, err = f.recorder.Apply(ctx, user, gen.Plan.ID)
	require.ErrorIs(t, err, ledger.ErrInvalidState)

	assert.Equal(t, int64(100000), f.balance(t, visa.ID))
	stored, err := f.recorder.GetPlan(ctx, user, gen.Plan.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.PlanDraft, stored.Status)
}

func TestApply_StorageFailureLeavesDraft(t *testing.T) {
	// GIVEN: The plan update fails after payments were written in the unit of work
	// WHEN: Applying the plan
	// THEN: No payment survives, balances are untouched and the plan stays draft

	f := newFixture(t)
	ctx := context.Background()
	visa := f.openCard(t, "Visa", 100000)

	gen, err := f.recorder.Generate(ctx, user, goalInput())
	require.NoError(t, err)

	f.mem.InjectFault("UpdatePlan", errors.New("write conflict"))
	_, err = f.recorder.Apply(ctx, user, gen.Plan.ID)
	require.Error(t, err)
	f.mem.ClearFaults()

	assert.Equal(t, int64(100000), f.balance(t, visa.ID))
	entries, err := f.ledger.ListEntries(ctx, user, visa.ID)
	require.NoError(t, err)
	assert.Empty(t, entries)

	stored, err := f.recorder.GetPlan(ctx, user, gen.Plan.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.PlanDraft, stored.Status)

	// retry succeeds
	_, err = f.recorder.Apply(ctx, user, gen.Plan.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(50000), f.balance(t, visa.ID))
}
