package sqlite_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/warehouse-engine/engine"
	"github.com/warp/warehouse-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func seedProduct(t *testing.T, store *sqlite.Store, id engine.ProductID, qty int64) {
	t.Helper()
	require.NoError(t, store.SaveProduct(context.Background(), &engine.Product{
		ID:        id,
		Name:      "Producto " + string(id),
		Quantity:  qty,
		UnitPrice: decimal.NewFromFloat(9.99),
		Status:    engine.StatusNormal,
	}))
}

func testMovement(id engine.MovementID, folio string) *engine.Movement {
	return &engine.Movement{
		ID:          id,
		Direction:   engine.DirectionOutbound,
		Kind:        engine.KindNormal,
		Fulfillment: engine.Fulfilled,
		Status:      engine.MovementCreated,
		Reason:      "consumo",
		Folio:       folio,
		CreatedAt:   time.Now().UTC(),
		Lines: []engine.Line{{
			ID:        string(id) + "-l0",
			ProductID: "prod-a",
			Quantity:  2,
			UnitPrice: decimal.NewFromFloat(9.99),
		}},
	}
}

// =============================================================================
// PRODUCTS AND ATOMIC DECREMENTS
// =============================================================================

func TestProduct_Roundtrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	exp := time.Date(2027, 3, 15, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.SaveProduct(ctx, &engine.Product{
		ID:         "prod-a",
		Name:       "Gasa esteril",
		Quantity:   40,
		UnitPrice:  decimal.NewFromFloat(12.50),
		Expiration: &exp,
		Status:     engine.StatusNormal,
	}))

	p, err := store.GetProduct(ctx, "prod-a")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "Gasa esteril", p.Name)
	assert.Equal(t, int64(40), p.Quantity)
	assert.True(t, p.UnitPrice.Equal(decimal.NewFromFloat(12.50)))
	require.NotNil(t, p.Expiration)
	assert.True(t, p.Expiration.Equal(exp))
}

func TestGetProduct_UnknownIsNilNotError(t *testing.T) {
	store := newTestStore(t)
	p, err := store.GetProduct(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestAdjustStock_RefusesGoingNegative(t *testing.T) {
	// GIVEN: 5 on hand
	// WHEN: Decrementing by 6
	// THEN: Refused atomically; the balance is untouched

	store := newTestStore(t)
	ctx := context.Background()
	seedProduct(t, store, "prod-a", 5)

	err := store.AdjustStock(ctx, "prod-a", -6)
	assert.ErrorIs(t, err, engine.ErrInsufficientStock)

	p, err := store.GetProduct(ctx, "prod-a")
	require.NoError(t, err)
	assert.Equal(t, int64(5), p.Quantity)

	require.NoError(t, store.AdjustStock(ctx, "prod-a", -5))
	p, err = store.GetProduct(ctx, "prod-a")
	require.NoError(t, err)
	assert.Equal(t, int64(0), p.Quantity)
}

func TestAdjustStock_UnknownProduct(t *testing.T) {
	store := newTestStore(t)
	err := store.AdjustStock(context.Background(), "nope", -1)
	assert.ErrorIs(t, err, engine.ErrProductNotFound)
}

func TestAdjustFund_RefusesGoingNegative(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveFund(ctx, &engine.FixedFund{
		RequesterID: "dept-1", ProductID: "prod-a", Available: 3, Active: true,
	}))

	err := store.AdjustFund(ctx, "dept-1", "prod-a", -4)
	assert.ErrorIs(t, err, engine.ErrInsufficientFund)

	require.NoError(t, store.AdjustFund(ctx, "dept-1", "prod-a", -3))
	f, err := store.GetFund(ctx, "dept-1", "prod-a")
	require.NoError(t, err)
	assert.Equal(t, int64(0), f.Available)
}

// =============================================================================
// MOVEMENTS
// =============================================================================

func TestMovement_RoundtripWithLines(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedProduct(t, store, "prod-a", 10)

	exp := time.Date(2026, 12, 1, 0, 0, 0, 0, time.UTC)
	m := &engine.Movement{
		ID:          "mov-1",
		Direction:   engine.DirectionInbound,
		Kind:        engine.KindNormal,
		Fulfillment: engine.Fulfilled,
		Status:      engine.MovementCreated,
		Reason:      "compra",
		Notes:       "factura 778",
		Total:       decimal.NewFromFloat(19.98),
		RequesterID: "almacen",
		Folio:       "1",
		SourceType:  "compra",
		SupplierRef: "prov-77",
		CreatedAt:   time.Now().UTC(),
		Lines: []engine.Line{
			{
				ID: "l-0", ProductID: "prod-a", Quantity: 2,
				UnitPrice: decimal.NewFromFloat(9.99),
				Lot:       "L-9", Expiration: &exp, Remaining: 2,
			},
		},
	}
	require.NoError(t, store.InsertMovement(ctx, m))

	got, err := store.GetMovement(ctx, "mov-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "compra", got.Reason)
	assert.Equal(t, "prov-77", got.SupplierRef)
	assert.True(t, got.Total.Equal(decimal.NewFromFloat(19.98)))

	require.Len(t, got.Lines, 1)
	l := got.Lines[0]
	assert.Equal(t, "Producto prod-a", l.ProductName)
	assert.Equal(t, "L-9", l.Lot)
	assert.Equal(t, int64(2), l.Remaining)
	require.NotNil(t, l.Expiration)
	assert.True(t, l.Expiration.Equal(exp))
}

func TestInsertMovement_RejectsEmptyLines(t *testing.T) {
	store := newTestStore(t)
	m := testMovement("mov-1", "1")
	m.Lines = nil
	err := store.InsertMovement(context.Background(), m)
	assert.ErrorIs(t, err, engine.ErrEmptyLines)
}

func TestInsertMovement_DuplicateFolioConflict(t *testing.T) {
	// The UNIQUE(direction, series, folio) index is the last line of
	// defense under concurrency; it must surface as the conflict error.

	store := newTestStore(t)
	ctx := context.Background()
	seedProduct(t, store, "prod-a", 10)

	require.NoError(t, store.InsertMovement(ctx, testMovement("mov-1", "7")))

	err := store.InsertMovement(ctx, testMovement("mov-2", "7"))
	require.Error(t, err)
	assert.ErrorIs(t, err, engine.ErrDuplicateFolio)
	assert.True(t, engine.IsConflict(err))
}

func TestDeleteMovement_CascadesToLines(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedProduct(t, store, "prod-a", 10)

	require.NoError(t, store.InsertMovement(ctx, testMovement("mov-1", "1")))
	require.NoError(t, store.DeleteMovement(ctx, "mov-1"))

	got, err := store.GetMovement(ctx, "mov-1")
	require.NoError(t, err)
	assert.Nil(t, got)

	// Reusing the folio after deletion must not trip the unique index;
	// the old lines are gone with their header.
	require.NoError(t, store.InsertMovement(ctx, testMovement("mov-2", "1")))
}

func TestDeleteMovement_NotFound(t *testing.T) {
	store := newTestStore(t)
	err := store.DeleteMovement(context.Background(), "nope")
	assert.ErrorIs(t, err, engine.ErrMovementNotFound)
}

func TestListByOrigin_OrderedByCreation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedProduct(t, store, "prod-a", 10)

	base := time.Now().UTC()
	for i, id := range []engine.MovementID{"mov-1", "mov-2", "mov-3"} {
		m := testMovement(id, string(rune('1'+i)))
		m.OriginID = "origin-x"
		m.CreatedAt = base.Add(time.Duration(i) * time.Millisecond)
		require.NoError(t, store.InsertMovement(ctx, m))
	}

	group, err := store.ListByOrigin(ctx, "origin-x")
	require.NoError(t, err)
	require.Len(t, group, 3)
	assert.Equal(t, engine.MovementID("mov-1"), group[0].ID)
	assert.Equal(t, engine.MovementID("mov-3"), group[2].ID)
	assert.Len(t, group[0].Lines, 1)
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func TestWithTx_RollsBackEverythingOnError(t *testing.T) {
	// GIVEN: A transaction that inserts a movement and moves stock
	// WHEN: The function returns an error
	// THEN: Neither write survives

	store := newTestStore(t)
	ctx := context.Background()
	seedProduct(t, store, "prod-a", 10)

	err := store.WithTx(ctx, func(s engine.Store) error {
		if err := s.InsertMovement(ctx, testMovement("mov-1", "1")); err != nil {
			return err
		}
		if err := s.AdjustStock(ctx, "prod-a", -2); err != nil {
			return err
		}
		return assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)

	got, err := store.GetMovement(ctx, "mov-1")
	require.NoError(t, err)
	assert.Nil(t, got)

	p, err := store.GetProduct(ctx, "prod-a")
	require.NoError(t, err)
	assert.Equal(t, int64(10), p.Quantity)
}

func TestWithTx_ReadsSeeUncommittedWrites(t *testing.T) {
	// Folio issuance checks FolioExists right after inserting the sibling
	// sub-order in the same transaction, so in-tx reads must see in-tx
	// writes.

	store := newTestStore(t)
	ctx := context.Background()
	seedProduct(t, store, "prod-a", 10)

	err := store.WithTx(ctx, func(s engine.Store) error {
		if err := s.InsertMovement(ctx, testMovement("mov-1", "1")); err != nil {
			return err
		}
		exists, err := s.FolioExists(ctx, engine.DirectionOutbound, "", "1")
		if err != nil {
			return err
		}
		assert.True(t, exists)
		return nil
	})
	require.NoError(t, err)
}

// =============================================================================
// FOLIO SEQUENCES
// =============================================================================

func TestGetSequence_MaterializesDefault(t *testing.T) {
	store := newTestStore(t)
	seq, err := store.GetSequence(context.Background(), engine.DirectionOutbound)
	require.NoError(t, err)
	assert.Equal(t, engine.DirectionOutbound, seq.Direction)
	assert.Equal(t, "", seq.Series)
	assert.Equal(t, int64(1), seq.Next)
}

func TestSaveSequence_Roundtrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveSequence(ctx, &engine.FolioSequence{
		Direction: engine.DirectionInbound, Series: "B", Next: 42,
	}))

	seq, err := store.GetSequence(ctx, engine.DirectionInbound)
	require.NoError(t, err)
	assert.Equal(t, "B", seq.Series)
	assert.Equal(t, int64(42), seq.Next)
}

func TestMaxNumericFolio_IgnoresNonNumeric(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedProduct(t, store, "prod-a", 10)

	require.NoError(t, store.InsertMovement(ctx, testMovement("mov-1", "3")))
	require.NoError(t, store.InsertMovement(ctx, testMovement("mov-2", "12")))
	require.NoError(t, store.InsertMovement(ctx, testMovement("mov-3", "A-99")))

	max, ok, err := store.MaxNumericFolio(ctx, engine.DirectionOutbound, "")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(12), max)
}

func TestMaxNumericFolio_EmptyTable(t *testing.T) {
	store := newTestStore(t)
	_, ok, err := store.MaxNumericFolio(context.Background(), engine.DirectionOutbound, "")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestWithTx_ConcurrentIssuanceNeverDuplicatesFolios(t *testing.T) {
	// GIVEN: Many goroutines each issuing a folio and inserting a movement
	//        in their own transaction
	// WHEN: They all race
	// THEN: Every persisted folio is unique

	store := newTestStore(t)
	ctx := context.Background()
	seedProduct(t, store, "prod-a", 1000)

	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	seq := engine.NewSequencer(log)

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- store.WithTx(ctx, func(s engine.Store) error {
				series, folio, err := seq.Issue(ctx, s, engine.DirectionOutbound)
				if err != nil {
					return err
				}
				m := testMovement(engine.MovementID(fmt.Sprintf("mov-%d", i)), folio)
				m.Series = series
				return s.InsertMovement(ctx, m)
			})
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	movements, err := store.ListMovements(ctx, engine.DirectionOutbound)
	require.NoError(t, err)
	require.Len(t, movements, n)

	seen := make(map[string]bool, n)
	for _, m := range movements {
		assert.False(t, seen[m.Folio], "folio %s issued twice", m.Folio)
		seen[m.Folio] = true
	}

	s, err := store.GetSequence(ctx, engine.DirectionOutbound)
	require.NoError(t, err)
	assert.Equal(t, int64(n+1), s.Next)
}

// =============================================================================
// SETTINGS
// =============================================================================

func TestSettings_DefaultsUntilSaved(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	set, err := store.GetSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, engine.DefaultSettings(), set)

	set.AllowRequestsBeyondStock = true
	set.LowStockThreshold = 10
	require.NoError(t, store.SaveSettings(ctx, set))

	got, err := store.GetSettings(ctx)
	require.NoError(t, err)
	assert.True(t, got.AllowRequestsBeyondStock)
	assert.Equal(t, int64(10), got.LowStockThreshold)
}

// =============================================================================
// ENGINE OVER SQLITE
// =============================================================================

func TestEngine_FullAllocationOverSQLite(t *testing.T) {
	// The same three-way split exercised end to end against the real
	// store: fund 6, stock 8, request 10.

	store := newTestStore(t)
	ctx := context.Background()
	seedProduct(t, store, "prod-a", 8)
	require.NoError(t, store.SaveFund(ctx, &engine.FixedFund{
		RequesterID: "dept-1", ProductID: "prod-a", Available: 6, Active: true,
	}))

	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	eng := engine.New(store, log)

	result, err := eng.Allocate(ctx, engine.AllocationRequest{
		RequesterID: "dept-1",
		Reason:      "consumo interno",
		Lines:       []engine.RequestLine{{ProductID: "prod-a", Quantity: 10}},
	})
	require.NoError(t, err)
	require.NotNil(t, result.Normal)
	require.NotNil(t, result.Voucher)
	require.NotNil(t, result.Pending)
	assert.Equal(t, "1", result.Normal.Folio)
	assert.Equal(t, "2", result.Voucher.Folio)
	assert.Equal(t, "3", result.Pending.Folio)

	p, err := store.GetProduct(ctx, "prod-a")
	require.NoError(t, err)
	assert.Equal(t, int64(0), p.Quantity)
	assert.Equal(t, engine.StatusOutOfStock, p.Status)

	f, err := store.GetFund(ctx, "dept-1", "prod-a")
	require.NoError(t, err)
	assert.Equal(t, int64(0), f.Available)

	// Delete the pending sub-order (top of the sequence) and watch the
	// folio come back.
	require.NoError(t, eng.DeleteMovement(ctx, result.Pending.ID))

	seq, err := store.GetSequence(ctx, engine.DirectionOutbound)
	require.NoError(t, err)
	assert.Equal(t, int64(3), seq.Next)
}
