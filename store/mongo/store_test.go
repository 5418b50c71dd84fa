package mongo_test

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/debt-planner/ledger"
	"github.com/warp/debt-planner/ledger/storetest"
	"github.com/warp/debt-planner/store/mongo"
)

// These tests need a replica set (transactions are not available on a
// standalone server):
//
//	PLANNER_TEST_MONGO_URI='mongodb://localhost:27017/?replicaSet=rs0' go test ./store/mongo/
func newTestStore(t *testing.T) *mongo.Store {
	t.Helper()
	uri := os.Getenv("PLANNER_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("PLANNER_TEST_MONGO_URI not set")
	}

	ctx := context.Background()
	store, err := mongo.New(ctx, uri, "planner_test")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	require.NoError(t, store.Migrate(ctx))
	require.NoError(t, store.Reset(ctx))
	return store
}

func TestMongo_Conformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) ledger.TxStore {
		return newTestStore(t)
	})
}

func TestMongo_MigrateIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Migrate(context.Background()))
}

func TestMongo_DeleteLiabilityRemovesEntries(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	l := ledger.New(store)

	card, err := l.OpenLiability(ctx, "user-1", ledger.LiabilityInput{
		Kind:             ledger.KindCreditCard,
		BalanceCents:     1000,
		LiabilityDetails: ledger.LiabilityDetails{Name: "Visa"},
	})
	require.NoError(t, err)
	_, err = l.RecordCharge(ctx, "user-1", card.ID, ledger.EntryInput{
		AmountCents: 500,
		Date:        time.Date(2025, time.March, 2, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	require.NoError(t, l.DeleteLiability(ctx, "user-1", card.ID))

	entries, err := store.ListEntries(ctx, "user-1", card.ID)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestMongo_ConcurrentPaymentsDoNotLoseUpdates(t *testing.T) {
	// GIVEN: A card with balance 100000
	// WHEN: 20 goroutines each record a 1000 payment
	// THEN: Write conflicts are retried and the balance is exactly 80000

	store := newTestStore(t)
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
}
