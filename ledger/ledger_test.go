package ledger_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/debt-planner/id"
	"github.com/warp/debt-planner/ledger"
	"github.com/warp/debt-planner/ledger/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

const user ledger.UserID = "user-1"

// tickingClock advances one second per call so CreatedAt stamps are ordered.
func tickingClock() func() time.Time {
	t := time.Date(2025, time.March, 1, 8, 0, 0, 0, time.UTC)
	return func() time.Time {
		t = t.Add(time.Second)
		return t
	}
}

func newTestLedger(t *testing.T) (*ledger.Ledger, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	l := ledger.New(mem,
		ledger.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		ledger.WithClock(tickingClock()),
	)
	return l, mem
}

func ptr[T any](v T) *T { return &v }

func pct(s string) decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.RequireFromString(s))
}

func openCard(t *testing.T, l *ledger.Ledger, name string, balance int64) *ledger.Liability {
	t.Helper()
	liab, err := l.OpenLiability(context.Background(), user, ledger.LiabilityInput{
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

func balanceOf(t *testing.T, l *ledger.Ledger, liabID id.ID) int64 {
	t.Helper()
	liab, err := l.GetLiability(context.Background(), user, liabID)
	require.NoError(t, err)
	return liab.BalanceCents
}

// =============================================================================
// LIABILITY LIFECYCLE
// =============================================================================

func TestOpenLiability_SetsOpeningBalance(t *testing.T) {
	l, _ := newTestLedger(t)
	card := openCard(t, l, "  Visa  ", 50000)

	assert.Equal(t, "Visa", card.Name)
	assert.Equal(t, int64(50000), card.BalanceCents)
	assert.Equal(t, int64(50000), card.OpeningBalanceCents)
	assert.Equal(t, ledger.StatusOpen, card.Status)
	assert.Equal(t, id.PrefixLiability, card.ID.Prefix())
}

func TestOpenLiability_Validation(t *testing.T) {
	tests := []struct {
		name  string
		in    ledger.LiabilityInput
		field string
	}{
		{"unknown kind", ledger.LiabilityInput{Kind: "mortgage", LiabilityDetails: ledger.LiabilityDetails{Name: "x"}}, "kind"},
		{"negative balance", ledger.LiabilityInput{Kind: ledger.KindLoan, BalanceCents: -1, LiabilityDetails: ledger.LiabilityDetails{Name: "x"}}, "balanceCents"},
		{"missing name", ledger.LiabilityInput{Kind: ledger.KindLoan}, "name"},
		{"limit on loan", ledger.LiabilityInput{Kind: ledger.KindLoan, LiabilityDetails: ledger.LiabilityDetails{Name: "x", CreditLimitCents: ptr(int64(1))}}, "creditLimitCents"},
		{"due day out of range", ledger.LiabilityInput{Kind: ledger.KindCreditCard, LiabilityDetails: ledger.LiabilityDetails{Name: "x", DueDay: ptr(31)}}, "dueDay"},
		{"negative apr", ledger.LiabilityInput{Kind: ledger.KindLoan, LiabilityDetails: ledger.LiabilityDetails{Name: "x", InterestRateAPR: pct("-1")}}, "interestRateAPR"},
		{"target over 100", ledger.LiabilityInput{Kind: ledger.KindCreditCard, LiabilityDetails: ledger.LiabilityDetails{Name: "x", TargetUtilizationPercent: pct("100.5")}}, "targetUtilizationPercent"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, mem := newTestLedger(t)
			_, err := l.OpenLiability(context.Background(), user, tt.in)
			require.ErrorIs(t, err, ledger.ErrInvalidArgument)

			var ve *ledger.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)

			all, err := mem.ListLiabilities(context.Background(), user, "")
			require.NoError(t, err)
			assert.Empty(t, all)
		})
	}
}

func TestOpenLiability_RequiresUser(t *testing.T) {
	l, _ := newTestLedger(t)
	_, err := l.OpenLiability(context.Background(), " ", ledger.LiabilityInput{
		Kind:             ledger.KindLoan,
		LiabilityDetails: ledger.LiabilityDetails{Name: "Car"},
	})
	assert.ErrorIs(t, err, ledger.ErrInvalidArgument)
}

func TestUpdateLiabilityDetails_KeepsBalance(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	card := openCard(t, l, "Visa", 50000)

	updated, err := l.UpdateLiabilityDetails(ctx, user, card.ID, ledger.LiabilityDetails{
		Name:                     "Visa Gold",
		TargetUtilizationPercent: pct("10"),
	})
	require.NoError(t, err)
	assert.Equal(t, "Visa Gold", updated.Name)
	assert.Equal(t, int64(50000), updated.BalanceCents)
	assert.Nil(t, updated.CreditLimitCents)
	assert.True(t, updated.TargetUtilizationPercent.Decimal.Equal(decimal.NewFromInt(10)))
}

func TestUpdateLiabilityDetails_OtherUserNotFound(t *testing.T) {
	l, _ := newTestLedger(t)
	card := openCard(t, l, "Visa", 50000)

	_, err := l.UpdateLiabilityDetails(context.Background(), "user-2", card.ID, ledger.LiabilityDetails{Name: "Mine"})
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestCloseLiability_Twice(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	card := openCard(t, l, "Visa", 0)

	closed, err := l.CloseLiability(ctx, user, card.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusClosed, closed.Status)

	_, err = l.CloseLiability(ctx, user, card.ID)
	require.ErrorIs(t, err, ledger.ErrInvalidState)

	open, err := l.ListOpenLiabilities(ctx, user)
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestListLiabilities_UnknownStatus(t *testing.T) {
	l, _ := newTestLedger(t)
	_, err := l.ListLiabilities(context.Background(), user, "frozen")
	assert.ErrorIs(t, err, ledger.ErrInvalidArgument)
}

func TestDeleteLiability_RemovesHistory(t *testing.T) {
	l, mem := newTestLedger(t)
	ctx := context.Background()
	card := openCard(t, l, "Visa", 50000)
	_, err := l.RecordCharge(ctx, user, card.ID, ledger.EntryInput{AmountCents: 100, Date: ledger.Date(2025, 3, 2)})
	require.NoError(t, err)

	require.NoError(t, l.DeleteLiability(ctx, user, card.ID))

	_, err = l.GetLiability(ctx, user, card.ID)
	assert.True(t, ledger.IsNotFound(err))
	entries, err := mem.ListEntries(ctx, user, card.ID)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestWithin_JoinsCallerUnitOfWork(t *testing.T) {
	// GIVEN: A card at 50000
	// WHEN: A payment and a new loan are written through Within and the
	//       outer unit of work then fails
	// THEN: Neither write survives

	l, mem := newTestLedger(t)
	ctx := context.Background()
	card := openCard(t, l, "Visa", 50000)
	boom := errors.New("boom")

	err := mem.WithTx(ctx, func(tx ledger.Store) error {
		inner := l.Within(tx)
		if _, err := inner.RecordPayment(ctx, user, card.ID, ledger.EntryInput{AmountCents: 1000, Date: ledger.Date(2025, 3, 2)}); err != nil {
			return err
		}
		if _, err := inner.OpenLiability(ctx, user, ledger.LiabilityInput{
			Kind:             ledger.KindLoan,
			BalanceCents:     900000,
			LiabilityDetails: ledger.LiabilityDetails{Name: "Car"},
		}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	assert.Equal(t, int64(50000), balanceOf(t, l, card.ID))
	liabs, err := l.ListLiabilities(ctx, user, "")
	require.NoError(t, err)
	assert.Len(t, liabs, 1)
}

// =============================================================================
// RECONCILIATION
// =============================================================================

func TestReconcile_InBalanceAfterMutations(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	card := openCard(t, l, "Visa", 50000)
	day := ledger.Date(2025, 3, 2)

	_, err := l.RecordCharge(ctx, user, card.ID, ledger.EntryInput{AmountCents: 2000, Date: day})
	require.NoError(t, err)
	pay, err := l.RecordPayment(ctx, user, card.ID, ledger.EntryInput{AmountCents: 10000, Date: day})
	require.NoError(t, err)
	_, err = l.UpdatePayment(ctx, user, pay.ID, ledger.EntryUpdate{AmountCents: ptr(int64(12000))})
	require.NoError(t, err)

	rec, err := l.Reconcile(ctx, user, card.ID, false)
	require.NoError(t, err)
	assert.True(t, rec.InBalance())
	assert.Equal(t, int64(40000), rec.StoredBalanceCents)
	assert.Equal(t, 1, rec.Charges)
	assert.Equal(t, 1, rec.Payments)
}

func TestReconcile_RepairsDrift(t *testing.T) {
	l, mem := newTestLedger(t)
	ctx := context.Background()
	card := openCard(t, l, "Visa", 50000)
	_, err := l.RecordCharge(ctx, user, card.ID, ledger.EntryInput{AmountCents: 2000, Date: ledger.Date(2025, 3, 2)})
	require.NoError(t, err)

	// Simulate an out-of-band write.
	raw, err := mem.GetLiability(ctx, user, card.ID)
	require.NoError(t, err)
	raw.BalanceCents = 99
	require.NoError(t, mem.UpdateLiability(ctx, raw))

	rec, err := l.Reconcile(ctx, user, card.ID, false)
	require.NoError(t, err)
	assert.False(t, rec.InBalance())
	assert.Equal(t, int64(99-52000), rec.DriftCents)
	assert.False(t, rec.Repaired)
	assert.Equal(t, int64(99), balanceOf(t, l, card.ID))

	rec, err = l.Reconcile(ctx, user, card.ID, true)
	require.NoError(t, err)
	assert.True(t, rec.Repaired)
	assert.Equal(t, int64(52000), balanceOf(t, l, card.ID))
}

func TestCorrectBalance_KeepsReplayConsistent(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	card := openCard(t, l, "Visa", 50000)
	_, err := l.RecordCharge(ctx, user, card.ID, ledger.EntryInput{AmountCents: 2000, Date: ledger.Date(2025, 3, 2)})
	require.NoError(t, err)

	corrected, err := l.CorrectBalance(ctx, user, card.ID, 60000)
	require.NoError(t, err)
	assert.Equal(t, int64(60000), corrected.BalanceCents)
	assert.Equal(t, int64(58000), corrected.OpeningBalanceCents)

	rec, err := l.Reconcile(ctx, user, card.ID, false)
	require.NoError(t, err)
	assert.True(t, rec.InBalance())

	_, err = l.CorrectBalance(ctx, user, card.ID, -5)
	assert.ErrorIs(t, err, ledger.ErrInvalidArgument)
}

func TestCorrectBalance_AfterOverpayment(t *testing.T) {
	// GIVEN: Opening 5000, payment 8000 (floored to 0), then charge 1000
	// WHEN: The balance is corrected to 3000, then the charge is deleted
	// THEN: The correction holds through replay, and deleting the charge
	//       takes exactly its 1000 off

	l, _ := newTestLedger(t)
	ctx := context.Background()
	card := openCard(t, l, "Visa", 5000)
	_, err := l.RecordPayment(ctx, user, card.ID, ledger.EntryInput{AmountCents: 8000, Date: ledger.Date(2025, 3, 2)})
	require.NoError(t, err)
	charge, err := l.RecordCharge(ctx, user, card.ID, ledger.EntryInput{AmountCents: 1000, Date: ledger.Date(2025, 3, 3)})
	require.NoError(t, err)
	require.Equal(t, int64(1000), balanceOf(t, l, card.ID))

	corrected, err := l.CorrectBalance(ctx, user, card.ID, 3000)
	require.NoError(t, err)
	assert.Equal(t, int64(3000), corrected.BalanceCents)
	assert.Equal(t, int64(10000), corrected.OpeningBalanceCents)

	rec, err := l.Reconcile(ctx, user, card.ID, false)
	require.NoError(t, err)
	assert.True(t, rec.InBalance())

	require.NoError(t, l.DeleteCharge(ctx, user, charge.ID))
	assert.Equal(t, int64(2000), balanceOf(t, l, card.ID))
}

func TestCorrectBalance_BelowHistoryFloorRejected(t *testing.T) {
	// GIVEN: Opening 5000, payment 8000, charge 1000 (balance 1000)
	// WHEN: The balance is corrected to 500
	// THEN: InvalidArgument: the charge alone leaves at least 1000, and
	//       nothing changes

	l, _ := newTestLedger(t)
	ctx := context.Background()
	card := openCard(t, l, "Visa", 5000)
	_, err := l.RecordPayment(ctx, user, card.ID, ledger.EntryInput{AmountCents: 8000, Date: ledger.Date(2025, 3, 2)})
	require.NoError(t, err)
	_, err = l.RecordCharge(ctx, user, card.ID, ledger.EntryInput{AmountCents: 1000, Date: ledger.Date(2025, 3, 3)})
	require.NoError(t, err)

	_, err = l.CorrectBalance(ctx, user, card.ID, 500)
	var ve *ledger.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "balanceCents", ve.Field)
	assert.Equal(t, int64(1000), balanceOf(t, l, card.ID))
}

func TestReplay_FloorsPaymentsAtZero(t *testing.T) {
	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	entries := []*ledger.Entry{
		{Type: ledger.EntryCharge, AmountCents: 500, CreatedAt: base.Add(2 * time.Second)},
		{Type: ledger.EntryPayment, AmountCents: 1500, CreatedAt: base.Add(time.Second)},
	}
	// payment first: 1000 -> 0, then charge -> 500
	assert.Equal(t, int64(500), ledger.Replay(1000, entries))
}
