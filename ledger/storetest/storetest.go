/*
storetest.go - Conformance suite for ledger.TxStore implementations

PURPOSE:
  Every backend (memory, sqlite, postgres, mongo) runs the same suite so the
  ledger and planner can rely on identical semantics regardless of storage.

USAGE:
  func TestConformance(t *testing.T) {
      storetest.Run(t, func(t *testing.T) ledger.TxStore {
          return newEmptyStore(t)
      })
  }

  The factory must return an empty store; cleanup belongs to the factory
  (t.Cleanup).
*/
package storetest

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/debt-planner/id"
	"github.com/warp/debt-planner/ledger"
)

// Factory returns a fresh, empty store.
type Factory func(t *testing.T) ledger.TxStore

// Run executes the full conformance suite.
func Run(t *testing.T, newStore Factory) {
	t.Run("Liability_RoundTrip", func(t *testing.T) { testLiabilityRoundTrip(t, newStore(t)) })
	t.Run("Liability_Ownership", func(t *testing.T) { testLiabilityOwnership(t, newStore(t)) })
	t.Run("Liability_ListFilter", func(t *testing.T) { testLiabilityList(t, newStore(t)) })
	t.Run("Liability_UpdateDelete", func(t *testing.T) { testLiabilityUpdateDelete(t, newStore(t)) })
	t.Run("Entry_Lifecycle", func(t *testing.T) { testEntryLifecycle(t, newStore(t)) })
	t.Run("Entry_DeleteEntries", func(t *testing.T) { testDeleteEntries(t, newStore(t)) })
	t.Run("Plan_Lifecycle", func(t *testing.T) { testPlanLifecycle(t, newStore(t)) })
	t.Run("Tx_Commit", func(t *testing.T) { testTxCommit(t, newStore(t)) })
	t.Run("Tx_Rollback", func(t *testing.T) { testTxRollback(t, newStore(t)) })
	t.Run("Ping", func(t *testing.T) { require.NoError(t, newStore(t).Ping(context.Background())) })
}

// =============================================================================
// FIXTURES
// =============================================================================

const (
	alice ledger.UserID = "user-alice"
	bob   ledger.UserID = "user-bob"
)

var base = time.Date(2025, time.March, 1, 9, 30, 0, 0, time.UTC)

func at(i int) time.Time { return base.Add(time.Duration(i) * time.Second) }

func ptr[T any](v T) *T { return &v }

// Card returns a fully populated credit card.
func Card(user ledger.UserID, name string, balance int64, seq int) *ledger.Liability {
	due := ledger.Date(2025, time.March, 15)
	return &ledger.Liability{
		ID:                       id.NewLiabilityID(),
		UserID:                   user,
		Kind:                     ledger.KindCreditCard,
		Name:                     name,
		Institution:              "First Bank",
		BalanceCents:             balance,
		OpeningBalanceCents:      balance,
		CreditLimitCents:         ptr(int64(500000)),
		StatementDay:             ptr(20),
		DueDay:                   ptr(15),
		InterestRateAPR:          decimal.NewNullDecimal(decimal.RequireFromString("24.99")),
		MinPaymentCents:          ptr(int64(3000)),
		TargetUtilizationPercent: decimal.NewNullDecimal(decimal.NewFromInt(30)),
		NextDueDate:              &due,
		Status:                   ledger.StatusOpen,
		CreatedAt:                at(seq),
		UpdatedAt:                at(seq),
	}
}

// Loan returns a liability with every optional field unset.
func Loan(user ledger.UserID, name string, balance int64, seq int) *ledger.Liability {
	return &ledger.Liability{
		ID:                  id.NewLiabilityID(),
		UserID:              user,
		Kind:                ledger.KindLoan,
		Name:                name,
		BalanceCents:        balance,
		OpeningBalanceCents: balance,
		Status:              ledger.StatusOpen,
		CreatedAt:           at(seq),
		UpdatedAt:           at(seq),
	}
}

func entry(l *ledger.Liability, typ ledger.EntryType, amount int64, seq int) *ledger.Entry {
	eid := id.NewChargeID()
	if typ == ledger.EntryPayment {
		eid = id.NewPaymentID()
	}
	return &ledger.Entry{
		ID:          eid,
		UserID:      l.UserID,
		LiabilityID: l.ID,
		Type:        typ,
		AmountCents: amount,
		Date:        ledger.Date(2025, time.March, 2),
		Notes:       fmt.Sprintf("%s #%d", typ, seq),
		CreatedAt:   at(seq),
		UpdatedAt:   at(seq),
	}
}

func plan(user ledger.UserID, liab *ledger.Liability, seq int) *ledger.Plan {
	due := ledger.Date(2025, time.March, 15)
	return &ledger.Plan{
		ID:                       id.NewPlanID(),
		UserID:                   user,
		Strategy:                 ledger.StrategyAvalanche,
		PaycheckAmountCents:      250000,
		PayDate:                  ledger.Date(2025, time.March, 10),
		ReserveCents:             20000,
		TargetUtilizationPercent: decimal.NewNullDecimal(decimal.NewFromInt(10)),
		Allocations: []ledger.Allocation{
			{LiabilityID: liab.ID, AmountCents: 3000, DueDate: &due, Kind: ledger.AllocationMinimum},
			{LiabilityID: liab.ID, AmountCents: 47000, Kind: ledger.AllocationExtra},
		},
		TotalAllocatedCents: 50000,
		RemainingCents:      180000,
		Status:              ledger.PlanDraft,
		CreatedAt:           at(seq),
		UpdatedAt:           at(seq),
	}
}

// =============================================================================
// LIABILITIES
// =============================================================================

func testLiabilityRoundTrip(t *testing.T, s ledger.TxStore) {
	ctx := context.Background()
	card := Card(alice, "Visa", 100000, 1)
	loan := Loan(alice, "Car", 800000, 2)
	require.NoError(t, s.CreateLiability(ctx, card))
	require.NoError(t, s.CreateLiability(ctx, loan))

	got, err := s.GetLiability(ctx, alice, card.ID)
	require.NoError(t, err)
	AssertLiability(t, card, got)

	got, err = s.GetLiability(ctx, alice, loan.ID)
	require.NoError(t, err)
	AssertLiability(t, loan, got)
	assert.Nil(t, got.CreditLimitCents)
	assert.False(t, got.InterestRateAPR.Valid)
	assert.Nil(t, got.NextDueDate)
}

func testLiabilityOwnership(t *testing.T, s ledger.TxStore) {
	ctx := context.Background()
	card := Card(alice, "Visa", 100000, 1)
	require.NoError(t, s.CreateLiability(ctx, card))

	_, err := s.GetLiability(ctx, bob, card.ID)
	require.Error(t, err)
	assert.True(t, ledger.IsNotFound(err), "other user's liability must look missing: %v", err)

	var nf *ledger.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, ledger.ResourceLiability, nf.Resource)

	hijack := card.Clone()
	hijack.UserID = bob
	hijack.BalanceCents = 0
	assert.True(t, ledger.IsNotFound(s.UpdateLiability(ctx, hijack)))
	assert.True(t, ledger.IsNotFound(s.DeleteLiability(ctx, bob, card.ID)))

	got, err := s.GetLiability(ctx, alice, card.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(100000), got.BalanceCents)
}

func testLiabilityList(t *testing.T, s ledger.TxStore) {
	ctx := context.Background()
	a := Card(alice, "A", 100, 1)
	b := Loan(alice, "B", 200, 2)
	c := Card(alice, "C", 300, 3)
	c.Status = ledger.StatusClosed
	other := Card(bob, "Bob's", 400, 4)
	for _, l := range []*ledger.Liability{a, b, c, other} {
		require.NoError(t, s.CreateLiability(ctx, l))
	}

	all, err := s.ListLiabilities(ctx, alice, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "C"}, names(all))

	open, err := s.ListLiabilities(ctx, alice, ledger.StatusOpen)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, names(open))

	closed, err := s.ListLiabilities(ctx, alice, ledger.StatusClosed)
	require.NoError(t, err)
	assert.Equal(t, []string{"C"}, names(closed))

	none, err := s.ListLiabilities(ctx, "user-nobody", "")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func testLiabilityUpdateDelete(t *testing.T, s ledger.TxStore) {
	ctx := context.Background()
	card := Card(alice, "Visa", 100000, 1)
	require.NoError(t, s.CreateLiability(ctx, card))

	card.BalanceCents = 42000
	card.Name = "Visa Platinum"
	card.LastPaymentDate = ptr(ledger.Date(2025, time.March, 3))
	card.InterestRateAPR = decimal.NullDecimal{}
	card.UpdatedAt = at(10)
	require.NoError(t, s.UpdateLiability(ctx, card))

	got, err := s.GetLiability(ctx, alice, card.ID)
	require.NoError(t, err)
	AssertLiability(t, card, got)

	require.NoError(t, s.DeleteLiability(ctx, alice, card.ID))
	_, err = s.GetLiability(ctx, alice, card.ID)
	assert.True(t, ledger.IsNotFound(err))
	assert.True(t, ledger.IsNotFound(s.DeleteLiability(ctx, alice, card.ID)))
}

// =============================================================================
// ENTRIES
// =============================================================================

func testEntryLifecycle(t *testing.T, s ledger.TxStore) {
	ctx := context.Background()
	card := Card(alice, "Visa", 100000, 1)
	require.NoError(t, s.CreateLiability(ctx, card))

	e1 := entry(card, ledger.EntryCharge, 2000, 2)
	e2 := entry(card, ledger.EntryPayment, 10000, 3)
	e3 := entry(card, ledger.EntryCharge, 500, 4)
	for _, e := range []*ledger.Entry{e1, e2, e3} {
		require.NoError(t, s.CreateEntry(ctx, e))
	}

	got, err := s.GetEntry(ctx, alice, e2.ID)
	require.NoError(t, err)
	AssertEntry(t, e2, got)

	_, err = s.GetEntry(ctx, bob, e2.ID)
	assert.True(t, ledger.IsNotFound(err))

	list, err := s.ListEntries(ctx, alice, card.ID)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, e1.ID.String(), list[0].ID.String())
	assert.Equal(t, e2.ID.String(), list[1].ID.String())
	assert.Equal(t, e3.ID.String(), list[2].ID.String())

	e2.AmountCents = 12000
	e2.Notes = "corrected"
	e2.UpdatedAt = at(9)
	require.NoError(t, s.UpdateEntry(ctx, e2))
	got, err = s.GetEntry(ctx, alice, e2.ID)
	require.NoError(t, err)
	AssertEntry(t, e2, got)

	require.NoError(t, s.DeleteEntry(ctx, alice, e1.ID))
	_, err = s.GetEntry(ctx, alice, e1.ID)
	assert.True(t, ledger.IsNotFound(err))
	assert.True(t, ledger.IsNotFound(s.DeleteEntry(ctx, alice, e1.ID)))
}

func testDeleteEntries(t *testing.T, s ledger.TxStore) {
	ctx := context.Background()
	a := Card(alice, "A", 1000, 1)
	b := Card(alice, "B", 1000, 2)
	require.NoError(t, s.CreateLiability(ctx, a))
	require.NoError(t, s.CreateLiability(ctx, b))
	require.NoError(t, s.CreateEntry(ctx, entry(a, ledger.EntryCharge, 10, 3)))
	require.NoError(t, s.CreateEntry(ctx, entry(a, ledger.EntryPayment, 20, 4)))
	require.NoError(t, s.CreateEntry(ctx, entry(b, ledger.EntryCharge, 30, 5)))

	n, err := s.DeleteEntries(ctx, alice, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	left, err := s.ListEntries(ctx, alice, a.ID)
	require.NoError(t, err)
	assert.Empty(t, left)

	kept, err := s.ListEntries(ctx, alice, b.ID)
	require.NoError(t, err)
	assert.Len(t, kept, 1)
}

// =============================================================================
// PLANS
// =============================================================================

func testPlanLifecycle(t *testing.T, s ledger.TxStore) {
	ctx := context.Background()
	card := Card(alice, "Visa", 100000, 1)
	require.NoError(t, s.CreateLiability(ctx, card))

	p1 := plan(alice, card, 2)
	p2 := plan(alice, card, 3)
	p2.Strategy = ledger.StrategySnowball
	p2.TargetUtilizationPercent = decimal.NullDecimal{}
	require.NoError(t, s.CreatePlan(ctx, p1))
	require.NoError(t, s.CreatePlan(ctx, p2))

	got, err := s.GetPlan(ctx, alice, p1.ID)
	require.NoError(t, err)
	AssertPlan(t, p1, got)

	_, err = s.GetPlan(ctx, bob, p1.ID)
	assert.True(t, ledger.IsNotFound(err))

	list, err := s.ListPlans(ctx, alice)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, p2.ID.String(), list[0].ID.String(), "newest first")
	assert.Equal(t, p1.ID.String(), list[1].ID.String())

	applied := at(20)
	p1.Status = ledger.PlanApplied
	p1.PaymentIDs = []id.ID{id.NewPaymentID(), id.NewPaymentID()}
	p1.AppliedAt = &applied
	p1.UpdatedAt = applied
	require.NoError(t, s.UpdatePlan(ctx, p1))

	got, err = s.GetPlan(ctx, alice, p1.ID)
	require.NoError(t, err)
	AssertPlan(t, p1, got)

	stranger := p2.Clone()
	stranger.UserID = bob
	assert.True(t, ledger.IsNotFound(s.UpdatePlan(ctx, stranger)))
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func testTxCommit(t *testing.T, s ledger.TxStore) {
	ctx := context.Background()
	card := Card(alice, "Visa", 100000, 1)
	require.NoError(t, s.CreateLiability(ctx, card))

	charge := entry(card, ledger.EntryCharge, 2000, 2)
	err := s.WithTx(ctx, func(tx ledger.Store) error {
		if err := tx.CreateEntry(ctx, charge); err != nil {
			return err
		}
		l, err := tx.GetLiability(ctx, alice, card.ID)
		if err != nil {
			return err
		}
		l.BalanceCents += charge.AmountCents
		if err := tx.UpdateLiability(ctx, l); err != nil {
			return err
		}
		// reads inside the unit of work see its own writes
		again, err := tx.GetLiability(ctx, alice, card.ID)
		if err != nil {
			return err
		}
		if again.BalanceCents != 102000 {
			return fmt.Errorf("tx read balance %d, want 102000", again.BalanceCents)
		}
		return nil
	})
	require.NoError(t, err)

	got, err := s.GetLiability(ctx, alice, card.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(102000), got.BalanceCents)

	entries, err := s.ListEntries(ctx, alice, card.ID)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

var errBoom = errors.New("boom")

func testTxRollback(t *testing.T, s ledger.TxStore) {
	ctx := context.Background()
	card := Card(alice, "Visa", 100000, 1)
	require.NoError(t, s.CreateLiability(ctx, card))

	err := s.WithTx(ctx, func(tx ledger.Store) error {
		if err := tx.CreateEntry(ctx, entry(card, ledger.EntryPayment, 10000, 2)); err != nil {
			return err
		}
		l, err := tx.GetLiability(ctx, alice, card.ID)
		if err != nil {
			return err
		}
		l.BalanceCents = 90000
		if err := tx.UpdateLiability(ctx, l); err != nil {
			return err
		}
		if err := tx.CreateLiability(ctx, Loan(alice, "Ghost", 1, 3)); err != nil {
			return err
		}
		return errBoom
	})
	require.ErrorIs(t, err, errBoom, "callback error must pass through unchanged")

	got, err := s.GetLiability(ctx, alice, card.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(100000), got.BalanceCents)

	entries, err := s.ListEntries(ctx, alice, card.ID)
	require.NoError(t, err)
	assert.Empty(t, entries)

	all, err := s.ListLiabilities(ctx, alice, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"Visa"}, names(all))
}

// =============================================================================
// ASSERTIONS
// =============================================================================

func names(ls []*ledger.Liability) []string {
	out := make([]string, len(ls))
	for i, l := range ls {
		out[i] = l.Name
	}
	return out
}

func assertTime(t *testing.T, want, got time.Time, field string) {
	t.Helper()
	assert.True(t, want.Equal(got), "%s: want %s, got %s", field, want, got)
}

func assertTimePtr(t *testing.T, want, got *time.Time, field string) {
	t.Helper()
	if want == nil {
		assert.Nil(t, got, field)
		return
	}
	if assert.NotNil(t, got, field) {
		assertTime(t, *want, *got, field)
	}
}

func assertDecimal(t *testing.T, want, got decimal.NullDecimal, field string) {
	t.Helper()
	assert.Equal(t, want.Valid, got.Valid, field)
	if want.Valid && got.Valid {
		assert.True(t, want.Decimal.Equal(got.Decimal), "%s: want %s, got %s", field, want.Decimal, got.Decimal)
	}
}

// AssertLiability compares every persisted field of a liability.
func AssertLiability(t *testing.T, want, got *ledger.Liability) {
	t.Helper()
	assert.Equal(t, want.ID.String(), got.ID.String())
	assert.Equal(t, want.UserID, got.UserID)
	assert.Equal(t, want.Kind, got.Kind)
	assert.Equal(t, want.Name, got.Name)
	assert.Equal(t, want.Institution, got.Institution)
	assert.Equal(t, want.BalanceCents, got.BalanceCents)
	assert.Equal(t, want.OpeningBalanceCents, got.OpeningBalanceCents)
	assert.Equal(t, want.CreditLimitCents, got.CreditLimitCents)
	assert.Equal(t, want.StatementDay, got.StatementDay)
	assert.Equal(t, want.DueDay, got.DueDay)
	assertDecimal(t, want.InterestRateAPR, got.InterestRateAPR, "InterestRateAPR")
	assert.Equal(t, want.MinPaymentCents, got.MinPaymentCents)
	assertDecimal(t, want.TargetUtilizationPercent, got.TargetUtilizationPercent, "TargetUtilizationPercent")
	assertTimePtr(t, want.NextDueDate, got.NextDueDate, "NextDueDate")
	assertTimePtr(t, want.LastPaymentDate, got.LastPaymentDate, "LastPaymentDate")
	assert.Equal(t, want.Status, got.Status)
	assertTime(t, want.CreatedAt, got.CreatedAt, "CreatedAt")
	assertTime(t, want.UpdatedAt, got.UpdatedAt, "UpdatedAt")
}

// AssertEntry compares every persisted field of an entry.
func AssertEntry(t *testing.T, want, got *ledger.Entry) {
	t.Helper()
	assert.Equal(t, want.ID.String(), got.ID.String())
	assert.Equal(t, want.UserID, got.UserID)
	assert.Equal(t, want.LiabilityID.String(), got.LiabilityID.String())
	assert.Equal(t, want.Type, got.Type)
	assert.Equal(t, want.AmountCents, got.AmountCents)
	assertTime(t, want.Date, got.Date, "Date")
	assert.Equal(t, want.Notes, got.Notes)
	assertTime(t, want.CreatedAt, got.CreatedAt, "CreatedAt")
	assertTime(t, want.UpdatedAt, got.UpdatedAt, "UpdatedAt")
}

// AssertPlan compares every persisted field of a plan.
func AssertPlan(t *testing.T, want, got *ledger.Plan) {
	t.Helper()
	assert.Equal(t, want.ID.String(), got.ID.String())
	assert.Equal(t, want.UserID, got.UserID)
	assert.Equal(t, want.Strategy, got.Strategy)
	assert.Equal(t, want.PaycheckAmountCents, got.PaycheckAmountCents)
	assertTime(t, want.PayDate, got.PayDate, "PayDate")
	assert.Equal(t, want.ReserveCents, got.ReserveCents)
	assertDecimal(t, want.TargetUtilizationPercent, got.TargetUtilizationPercent, "TargetUtilizationPercent")
	assert.Equal(t, want.TotalAllocatedCents, got.TotalAllocatedCents)
	assert.Equal(t, want.RemainingCents, got.RemainingCents)
	assert.Equal(t, want.Status, got.Status)
	assertTimePtr(t, want.AppliedAt, got.AppliedAt, "AppliedAt")
	assertTime(t, want.CreatedAt, got.CreatedAt, "CreatedAt")
	assertTime(t, want.UpdatedAt, got.UpdatedAt, "UpdatedAt")

	require.Len(t, got.Allocations, len(want.Allocations))
	for i := range want.Allocations {
		w, g := want.Allocations[i], got.Allocations[i]
		assert.Equal(t, w.LiabilityID.String(), g.LiabilityID.String())
		assert.Equal(t, w.AmountCents, g.AmountCents)
		assert.Equal(t, w.Kind, g.Kind)
		assertTimePtr(t, w.DueDate, g.DueDate, "Allocation.DueDate")
	}

	require.Len(t, got.PaymentIDs, len(want.PaymentIDs))
	for i := range want.PaymentIDs {
		assert.Equal(t, want.PaymentIDs[i].String(), got.PaymentIDs[i].String())
	}
}
