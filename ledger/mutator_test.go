package ledger_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/debt-planner/id"
	"github.com/warp/debt-planner/ledger"
)

var march2 = ledger.Date(2025, 3, 2)

// =============================================================================
// RECORD / UPDATE / DELETE
// =============================================================================

func TestMutator_ChargePaymentDeleteRoundTrip(t *testing.T) {
	// GIVEN: A liability with balance 50000
	// WHEN: Charge 2000, pay 10000, then delete the payment
	// THEN: Balance goes 52000 -> 42000 -> 52000

	l, _ := newTestLedger(t)
	ctx := context.Background()
	card := openCard(t, l, "Visa", 50000)

	_, err := l.RecordCharge(ctx, user, card.ID, ledger.EntryInput{AmountCents: 2000, Date: march2})
	require.NoError(t, err)
	assert.Equal(t, int64(52000), balanceOf(t, l, card.ID))

	pay, err := l.RecordPayment(ctx, user, card.ID, ledger.EntryInput{AmountCents: 10000, Date: march2, Notes: "rent day"})
	require.NoError(t, err)
	assert.Equal(t, int64(42000), balanceOf(t, l, card.ID))
	assert.Equal(t, id.PrefixPayment, pay.ID.Prefix())

	liab, err := l.GetLiability(ctx, user, card.ID)
	require.NoError(t, err)
	require.NotNil(t, liab.LastPaymentDate)
	assert.True(t, liab.LastPaymentDate.Equal(march2))

	require.NoError(t, l.DeletePayment(ctx, user, pay.ID))
	assert.Equal(t, int64(52000), balanceOf(t, l, card.ID))
}

func TestMutator_PaymentFloorsAtZero(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	card := openCard(t, l, "Visa", 5000)

	_, err := l.RecordPayment(ctx, user, card.ID, ledger.EntryInput{AmountCents: 8000, Date: march2})
	require.NoError(t, err)
	assert.Equal(t, int64(0), balanceOf(t, l, card.ID))
}

func TestMutator_UpdateChargeMovesByDifference(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	card := openCard(t, l, "Visa", 50000)

	charge, err := l.RecordCharge(ctx, user, card.ID, ledger.EntryInput{AmountCents: 2000, Date: march2})
	require.NoError(t, err)

	_, err = l.UpdateCharge(ctx, user, charge.ID, ledger.EntryUpdate{AmountCents: ptr(int64(3500))})
	require.NoError(t, err)
	assert.Equal(t, int64(53500), balanceOf(t, l, card.ID))

	_, err = l.UpdateCharge(ctx, user, charge.ID, ledger.EntryUpdate{AmountCents: ptr(int64(500))})
	require.NoError(t, err)
	assert.Equal(t, int64(50500), balanceOf(t, l, card.ID))

	notes := "groceries"
	updated, err := l.UpdateCharge(ctx, user, charge.ID, ledger.EntryUpdate{Notes: &notes})
	require.NoError(t, err)
	assert.Equal(t, "groceries", updated.Notes)
	assert.Equal(t, int64(50500), balanceOf(t, l, card.ID))
}

func TestMutator_UpdatePaymentMovesOpposite(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	card := openCard(t, l, "Visa", 50000)

	pay, err := l.RecordPayment(ctx, user, card.ID, ledger.EntryInput{AmountCents: 10000, Date: march2})
	require.NoError(t, err)

	_, err = l.UpdatePayment(ctx, user, pay.ID, ledger.EntryUpdate{AmountCents: ptr(int64(4000))})
	require.NoError(t, err)
	assert.Equal(t, int64(46000), balanceOf(t, l, card.ID))
}

func TestMutator_DeleteOverpaymentRestoresPriorBalance(t *testing.T) {
	// GIVEN: A card at 5000 overpaid by 8000, floored at 0
	// WHEN: The payment is deleted
	// THEN: The balance is back at 5000 and the history replays to it

	l, _ := newTestLedger(t)
	ctx := context.Background()
	card := openCard(t, l, "Visa", 5000)

	pay, err := l.RecordPayment(ctx, user, card.ID, ledger.EntryInput{AmountCents: 8000, Date: march2})
	require.NoError(t, err)
	require.Equal(t, int64(0), balanceOf(t, l, card.ID))

	require.NoError(t, l.DeletePayment(ctx, user, pay.ID))
	assert.Equal(t, int64(5000), balanceOf(t, l, card.ID))

	rec, err := l.Reconcile(ctx, user, card.ID, false)
	require.NoError(t, err)
	assert.Zero(t, rec.DriftCents)
}

func TestMutator_EditOverpaymentReplaysHistory(t *testing.T) {
	// GIVEN: A card at 5000 overpaid by 8000, floored at 0
	// WHEN: The payment is edited to 6000, then to 3000
	// THEN: The balance stays 0, then becomes 2000, with no drift either time

	l, _ := newTestLedger(t)
	ctx := context.Background()
	card := openCard(t, l, "Visa", 5000)

	pay, err := l.RecordPayment(ctx, user, card.ID, ledger.EntryInput{AmountCents: 8000, Date: march2})
	require.NoError(t, err)

	_, err = l.UpdatePayment(ctx, user, pay.ID, ledger.EntryUpdate{AmountCents: ptr(int64(6000))})
	require.NoError(t, err)
	assert.Equal(t, int64(0), balanceOf(t, l, card.ID))
	rec, err := l.Reconcile(ctx, user, card.ID, false)
	require.NoError(t, err)
	assert.Zero(t, rec.DriftCents)

	_, err = l.UpdatePayment(ctx, user, pay.ID, ledger.EntryUpdate{AmountCents: ptr(int64(3000))})
	require.NoError(t, err)
	assert.Equal(t, int64(2000), balanceOf(t, l, card.ID))
	rec, err = l.Reconcile(ctx, user, card.ID, false)
	require.NoError(t, err)
	assert.Zero(t, rec.DriftCents)
}

func TestMutator_DeleteChargeAfterOverpayment(t *testing.T) {
	// GIVEN: Opening 5000, payment 8000 (floored to 0), then charge 2000
	// WHEN: The charge is deleted
	// THEN: The balance returns to 0, the value before the charge

	l, _ := newTestLedger(t)
	ctx := context.Background()
	card := openCard(t, l, "Visa", 5000)

	_, err := l.RecordPayment(ctx, user, card.ID, ledger.EntryInput{AmountCents: 8000, Date: march2})
	require.NoError(t, err)
	charge, err := l.RecordCharge(ctx, user, card.ID, ledger.EntryInput{AmountCents: 2000, Date: march2})
	require.NoError(t, err)
	require.Equal(t, int64(2000), balanceOf(t, l, card.ID))

	require.NoError(t, l.DeleteCharge(ctx, user, charge.ID))
	assert.Equal(t, int64(0), balanceOf(t, l, card.ID))
}

func TestMutator_UpdateAndDeleteRequireUser(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	card := openCard(t, l, "Visa", 5000)
	pay, err := l.RecordPayment(ctx, user, card.ID, ledger.EntryInput{AmountCents: 1000, Date: march2})
	require.NoError(t, err)

	_, err = l.UpdatePayment(ctx, " ", pay.ID, ledger.EntryUpdate{AmountCents: ptr(int64(2000))})
	assert.ErrorIs(t, err, ledger.ErrInvalidArgument)
	_, err = l.UpdateCharge(ctx, "", id.NewChargeID(), ledger.EntryUpdate{})
	assert.ErrorIs(t, err, ledger.ErrInvalidArgument)
	assert.ErrorIs(t, l.DeletePayment(ctx, "", pay.ID), ledger.ErrInvalidArgument)
	assert.ErrorIs(t, l.DeleteCharge(ctx, "", id.NewChargeID()), ledger.ErrInvalidArgument)

	assert.Equal(t, int64(4000), balanceOf(t, l, card.ID))
}

func TestMutator_WrongEntryTypeIsNotFound(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	card := openCard(t, l, "Visa", 50000)

	pay, err := l.RecordPayment(ctx, user, card.ID, ledger.EntryInput{AmountCents: 1000, Date: march2})
	require.NoError(t, err)

	_, err = l.UpdateCharge(ctx, user, pay.ID, ledger.EntryUpdate{AmountCents: ptr(int64(1))})
	var nf *ledger.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, ledger.ResourceCharge, nf.Resource)

	// DeleteCharge on a payment id is a no-op.
	require.NoError(t, l.DeleteCharge(ctx, user, pay.ID))
	assert.Equal(t, int64(49000), balanceOf(t, l, card.ID))
}

func TestMutator_DeleteIsIdempotent(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	card := openCard(t, l, "Visa", 50000)

	charge, err := l.RecordCharge(ctx, user, card.ID, ledger.EntryInput{AmountCents: 2000, Date: march2})
	require.NoError(t, err)

	require.NoError(t, l.DeleteCharge(ctx, user, charge.ID))
	require.NoError(t, l.DeleteCharge(ctx, user, charge.ID))
	require.NoError(t, l.DeleteCharge(ctx, user, id.NewChargeID()))
	assert.Equal(t, int64(50000), balanceOf(t, l, card.ID))
}

func TestMutator_Validation(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	card := openCard(t, l, "Visa", 50000)

	_, err := l.RecordCharge(ctx, user, card.ID, ledger.EntryInput{AmountCents: 0, Date: march2})
	assert.ErrorIs(t, err, ledger.ErrInvalidArgument)

	_, err = l.RecordPayment(ctx, user, card.ID, ledger.EntryInput{AmountCents: 100})
	assert.ErrorIs(t, err, ledger.ErrInvalidArgument)

	_, err = l.UpdateCharge(ctx, user, id.NewChargeID(), ledger.EntryUpdate{AmountCents: ptr(int64(-5))})
	assert.ErrorIs(t, err, ledger.ErrInvalidArgument)

	_, err = l.RecordCharge(ctx, "user-2", card.ID, ledger.EntryInput{AmountCents: 100, Date: march2})
	assert.ErrorIs(t, err, ledger.ErrNotFound)

	assert.Equal(t, int64(50000), balanceOf(t, l, card.ID))
}

// =============================================================================
// ATOMICITY
// =============================================================================

func TestMutator_FailedBalanceWriteRollsBackEntry(t *testing.T) {
	// GIVEN: The store fails on the balance update
	// WHEN: Recording a payment
	// THEN: Neither the entry nor the balance change is persisted

	l, mem := newTestLedger(t)
	ctx := context.Background()
	card := openCard(t, l, "Visa", 50000)

	disk := errors.New("disk full")
	mem.InjectFault("UpdateLiability", disk)
	_, err := l.RecordPayment(ctx, user, card.ID, ledger.EntryInput{AmountCents: 10000, Date: march2})
	require.ErrorIs(t, err, disk)
	mem.ClearFaults()

	entries, err := l.ListEntries(ctx, user, card.ID)
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Equal(t, int64(50000), balanceOf(t, l, card.ID))
}

func TestMutator_FailedDeleteKeepsBalance(t *testing.T) {
	l, mem := newTestLedger(t)
	ctx := context.Background()
	card := openCard(t, l, "Visa", 50000)
	pay, err := l.RecordPayment(ctx, user, card.ID, ledger.EntryInput{AmountCents: 10000, Date: march2})
	require.NoError(t, err)

	mem.InjectFault("DeleteEntry", errors.New("io"))
	require.Error(t, l.DeletePayment(ctx, user, pay.ID))
	mem.ClearFaults()

	assert.Equal(t, int64(40000), balanceOf(t, l, card.ID))
	entries, err := l.ListEntries(ctx, user, card.ID)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

// =============================================================================
// BATCH PAY
// =============================================================================

func TestBatchPay_OneBalanceWritePerLiability(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	a := openCard(t, l, "A", 50000)
	b := openCard(t, l, "B", 20000)

	created, err := l.BatchPay(ctx, user, ledger.BatchPayment{
		Date:  march2,
		Notes: "payday",
		Items: []ledger.BatchItem{
			{LiabilityID: a.ID, AmountCents: 3000},
			{LiabilityID: b.ID, AmountCents: 25000},
			{LiabilityID: a.ID, AmountCents: 7000},
		},
	})
	require.NoError(t, err)
	require.Len(t, created, 3)
	for _, e := range created {
		assert.Equal(t, ledger.EntryPayment, e.Type)
		assert.Equal(t, "payday", e.Notes)
	}

	assert.Equal(t, int64(40000), balanceOf(t, l, a.ID))
	assert.Equal(t, int64(0), balanceOf(t, l, b.ID))
}

func TestBatchPay_UnknownLiabilityWritesNothing(t *testing.T) {
	// GIVEN: Five valid liabilities and one owned by another user
	// WHEN: Paying all six in one batch
	// THEN: NotFound, and no payment or balance change is persisted

	l, _ := newTestLedger(t)
	ctx := context.Background()

	var items []ledger.BatchItem
	var ids []id.ID
	for i := range 5 {
		liab := openCard(t, l, "card", int64(10000*(i+1)))
		ids = append(ids, liab.ID)
		items = append(items, ledger.BatchItem{LiabilityID: liab.ID, AmountCents: 1000})
	}
	other, err := l.OpenLiability(ctx, "user-2", ledger.LiabilityInput{
		Kind:             ledger.KindLoan,
		BalanceCents:     10000,
		LiabilityDetails: ledger.LiabilityDetails{Name: "not yours"},
	})
	require.NoError(t, err)
	items = append(items, ledger.BatchItem{LiabilityID: other.ID, AmountCents: 1000})

	_, err = l.BatchPay(ctx, user, ledger.BatchPayment{Date: march2, Items: items})
	require.ErrorIs(t, err, ledger.ErrNotFound)

	for i, liabID := range ids {
		assert.Equal(t, int64(10000*(i+1)), balanceOf(t, l, liabID))
		entries, err := l.ListEntries(ctx, user, liabID)
		require.NoError(t, err)
		assert.Empty(t, entries)
	}
}

func TestBatchPay_Validation(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	card := openCard(t, l, "Visa", 100)

	_, err := l.BatchPay(ctx, user, ledger.BatchPayment{Date: march2})
	assert.ErrorIs(t, err, ledger.ErrInvalidArgument)

	_, err = l.BatchPay(ctx, user, ledger.BatchPayment{Items: []ledger.BatchItem{{LiabilityID: card.ID, AmountCents: 1}}})
	assert.ErrorIs(t, err, ledger.ErrInvalidArgument)

	_, err = l.BatchPay(ctx, user, ledger.BatchPayment{Date: march2, Items: []ledger.BatchItem{{LiabilityID: card.ID, AmountCents: 0}}})
	assert.ErrorIs(t, err, ledger.ErrInvalidArgument)
}
