package sqlite_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/debt-planner/ledger"
	"github.com/warp/debt-planner/ledger/storetest"
	"github.com/warp/debt-planner/store/sqlite"
)

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLite_Conformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) ledger.TxStore {
		return newTestStore(t)
	})
}

func TestSQLite_MigrateIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Migrate(context.Background()))
	require.NoError(t, store.Migrate(context.Background()))
}

func TestSQLite_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "planner.db")
	ctx := context.Background()

	store, err := sqlite.New(path)
	require.NoError(t, err)
	card := storetest.Card("user-1", "Visa", 100000, 1)
	require.NoError(t, store.CreateLiability(ctx, card))
	require.NoError(t, store.Close())

	reopened, err := sqlite.New(path)
	require.NoError(t, err)
	t.Cleanup(func() { reopened.Close() })

	got, err := reopened.GetLiability(ctx, "user-1", card.ID)
	require.NoError(t, err)
	storetest.AssertLiability(t, card, got)
}

func TestSQLite_ConcurrentPaymentsDoNotLoseUpdates(t *testing.T) {
	// GIVEN: A card with balance 100000 in a file-backed database
	// WHEN: 20 goroutines each record a 1000 payment
	// THEN: The balance is exactly 80000 and 20 entries exist

	path := filepath.Join(t.TempDir(), "planner.db")
	store, err := sqlite.New(path)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	l := ledger.New(store)
	card, err := l.OpenLiability(ctx, "user-1", ledger.LiabilityInput{
		Kind:             ledger.KindCreditCard,
		BalanceCents:     100000,
		LiabilityDetails: ledger.LiabilityDetails{Name: "Visa"},
	})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.RecordPayment(ctx, "user-1", card.ID, ledger.EntryInput{
				AmountCents: 1000,
				Date:        time.Date(2025, time.March, 2, 0, 0, 0, 0, time.UTC),
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := l.GetLiability(ctx, "user-1", card.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(80000), got.BalanceCents)

	entries, err := l.ListEntries(ctx, "user-1", card.ID)
	require.NoError(t, err)
	assert.Len(t, entries, 20)
}

func TestSQLite_CancelledContextRollsBack(t *testing.T) {
	store := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := store.WithTx(ctx, func(tx ledger.Store) error {
		return tx.CreateLiability(context.Background(), storetest.Loan("user-1", "Car", 1, 1))
	})
	require.Error(t, err)
	assert.True(t, ledger.IsRetryable(err))

	all, err := store.ListLiabilities(context.Background(), "user-1", "")
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestSQLite_ConcurrentChargeEditsStayConsistent(t *testing.T) {
	// GIVEN: A card at 100000 with one 10000 charge
	// WHEN: 10 goroutines each edit that charge to a different amount
	// THEN: The balance is the opening balance plus whichever amount won,
	//       and the history replays to it

	path := filepath.Join(t.TempDir(), "planner.db")
	store, err := sqlite.New(path)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	l := ledger.New(store)

	card, err := l.OpenLiability(ctx, "user-1", ledger.LiabilityInput{
		Kind:             ledger.KindCreditCard,
		BalanceCents:     100000,
		LiabilityDetails: ledger.LiabilityDetails{Name: "Visa"},
	})
	require.NoError(t, err)
	charge, err := l.RecordCharge(ctx, "user-1", card.ID, ledger.EntryInput{
		AmountCents: 10000,
		Date:        time.Date(2025, time.March, 2, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := range 10 {
		wg.Add(1)
		go func(amount int64) {
			defer wg.Done()
			_, err := l.UpdateCharge(ctx, "user-1", charge.ID, ledger.EntryUpdate{AmountCents: &amount})
			assert.NoError(t, err)
		}(int64(11000 + 1000*i))
	}
	wg.Wait()

	entries, err := l.ListEntries(ctx, "user-1", card.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	got, err := l.GetLiability(ctx, "user-1", card.ID)
	require.NoError(t, err)
	assert.Equal(t, 100000+entries[0].AmountCents, got.BalanceCents)

	rec, err := l.Reconcile(ctx, "user-1", card.ID, false)
	require.NoError(t, err)
	assert.True(t, rec.InBalance())
}
