package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/warehouse-engine/engine"
	memstore "github.com/warp/warehouse-engine/engine/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newSequencer(t *testing.T) (*engine.Sequencer, *memstore.Memory) {
	t.Helper()
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return engine.NewSequencer(log), memstore.NewMemory()
}

// insertWithFolio persists a minimal movement carrying a given folio so
// uniqueness and reclaim can see it.
func insertWithFolio(t *testing.T, mem *memstore.Memory, direction engine.Direction, series, folio string) engine.MovementID {
	t.Helper()
	id := engine.MovementID("mov-" + string(direction) + "-" + series + "-" + folio)
	require.NoError(t, mem.InsertMovement(context.Background(), &engine.Movement{
		ID:        id,
		Direction: direction,
		Kind:      engine.KindNormal,
		Status:    engine.MovementCreated,
		Series:    series,
		Folio:     folio,
		CreatedAt: time.Now().UTC(),
		Lines: []engine.Line{{
			ID:        "line-" + string(id),
			ProductID: "prod",
			Quantity:  1,
			UnitPrice: decimal.NewFromInt(1),
		}},
	}))
	return id
}

// =============================================================================
// ISSUANCE
// =============================================================================

func TestIssue_MonotonicWithinDirection(t *testing.T) {
	seq, mem := newSequencer(t)
	ctx := context.Background()

	for i, want := range []string{"1", "2", "3"} {
		series, folio, err := seq.Issue(ctx, mem, engine.DirectionOutbound)
		require.NoError(t, err, "issue %d", i)
		assert.Equal(t, "", series)
		assert.Equal(t, want, folio)
		insertWithFolio(t, mem, engine.DirectionOutbound, series, folio)
	}
}

func TestIssue_DirectionsNumberIndependently(t *testing.T) {
	seq, mem := newSequencer(t)
	ctx := context.Background()

	_, out, err := seq.Issue(ctx, mem, engine.DirectionOutbound)
	require.NoError(t, err)
	_, in, err := seq.Issue(ctx, mem, engine.DirectionInbound)
	require.NoError(t, err)

	assert.Equal(t, "1", out)
	assert.Equal(t, "1", in)
}

func TestIssue_RefusesDuplicateFolio(t *testing.T) {
	// GIVEN: A persisted movement already carrying the folio the sequence
	//        is about to hand out
	// WHEN: Issuing
	// THEN: Conflict, never silent renumbering; the sequence is unchanged

	seq, mem := newSequencer(t)
	ctx := context.Background()

	insertWithFolio(t, mem, engine.DirectionOutbound, "", "1")

	_, _, err := seq.Issue(ctx, mem, engine.DirectionOutbound)
	require.Error(t, err)
	assert.ErrorIs(t, err, engine.ErrDuplicateFolio)
	assert.True(t, engine.IsConflict(err))

	var dup *engine.DuplicateFolioError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "1", dup.Folio)

	s, err := mem.GetSequence(ctx, engine.DirectionOutbound)
	require.NoError(t, err)
	assert.Equal(t, int64(1), s.Next)
}

func TestIssue_UsesCurrentSeriesLabel(t *testing.T) {
	seq, mem := newSequencer(t)
	ctx := context.Background()

	require.NoError(t, mem.SaveSequence(ctx, &engine.FolioSequence{
		Direction: engine.DirectionOutbound,
		Series:    "B",
		Next:      7,
	}))

	series, folio, err := seq.Issue(ctx, mem, engine.DirectionOutbound)
	require.NoError(t, err)
	assert.Equal(t, "B", series)
	assert.Equal(t, "7", folio)
}

// =============================================================================
// RECLAIM
// =============================================================================

func TestReclaim_TopDeletionReleasesTheNumber(t *testing.T) {
	// GIVEN: Folios 1..3 issued, 3 deleted
	// WHEN: Reclaiming
	// THEN: The next issuance hands out 3 again

	seq, mem := newSequencer(t)
	ctx := context.Background()

	var last engine.MovementID
	for i := 0; i < 3; i++ {
		_, folio, err := seq.Issue(ctx, mem, engine.DirectionOutbound)
		require.NoError(t, err)
		last = insertWithFolio(t, mem, engine.DirectionOutbound, "", folio)
	}

	require.NoError(t, mem.DeleteMovement(ctx, last))
	seq.Reclaim(ctx, mem, engine.DirectionOutbound, "")

	_, folio, err := seq.Issue(ctx, mem, engine.DirectionOutbound)
	require.NoError(t, err)
	assert.Equal(t, "3", folio)
}

func TestReclaim_InteriorDeletionLeavesAGap(t *testing.T) {
	// GIVEN: Folios 1..3 issued, 2 deleted
	// WHEN: Reclaiming
	// THEN: The sequence stays at 4; folio 2 is a permanent gap

	seq, mem := newSequencer(t)
	ctx := context.Background()

	ids := make([]engine.MovementID, 0, 3)
	for i := 0; i < 3; i++ {
		_, folio, err := seq.Issue(ctx, mem, engine.DirectionOutbound)
		require.NoError(t, err)
		ids = append(ids, insertWithFolio(t, mem, engine.DirectionOutbound, "", folio))
	}

	require.NoError(t, mem.DeleteMovement(ctx, ids[1]))
	seq.Reclaim(ctx, mem, engine.DirectionOutbound, "")

	_, folio, err := seq.Issue(ctx, mem, engine.DirectionOutbound)
	require.NoError(t, err)
	assert.Equal(t, "4", folio)
}

func TestReclaim_ResetsToOneWhenNothingRemains(t *testing.T) {
	seq, mem := newSequencer(t)
	ctx := context.Background()

	_, folio, err := seq.Issue(ctx, mem, engine.DirectionOutbound)
	require.NoError(t, err)
	id := insertWithFolio(t, mem, engine.DirectionOutbound, "", folio)

	require.NoError(t, mem.DeleteMovement(ctx, id))
	seq.Reclaim(ctx, mem, engine.DirectionOutbound, "")

	s, err := mem.GetSequence(ctx, engine.DirectionOutbound)
	require.NoError(t, err)
	assert.Equal(t, int64(1), s.Next)
}

func TestReclaim_IgnoresNonNumericFolios(t *testing.T) {
	// Legacy movements can carry hand-written folios like "A-100"; the
	// reclaim must never parse them into the numeric sequence.

	seq, mem := newSequencer(t)
	ctx := context.Background()

	insertWithFolio(t, mem, engine.DirectionOutbound, "", "A-100")
	_, folio, err := seq.Issue(ctx, mem, engine.DirectionOutbound)
	require.NoError(t, err)
	insertWithFolio(t, mem, engine.DirectionOutbound, "", folio)

	seq.Reclaim(ctx, mem, engine.DirectionOutbound, "")

	s, err := mem.GetSequence(ctx, engine.DirectionOutbound)
	require.NoError(t, err)
	assert.Equal(t, int64(2), s.Next)
}

func TestReclaim_SkipsWhenSeriesChanged(t *testing.T) {
	// A deletion from a retired series must not clamp the live sequence.

	seq, mem := newSequencer(t)
	ctx := context.Background()

	require.NoError(t, mem.SaveSequence(ctx, &engine.FolioSequence{
		Direction: engine.DirectionOutbound,
		Series:    "B",
		Next:      5,
	}))

	seq.Reclaim(ctx, mem, engine.DirectionOutbound, "A")

	s, err := mem.GetSequence(ctx, engine.DirectionOutbound)
	require.NoError(t, err)
	assert.Equal(t, "B", s.Series)
	assert.Equal(t, int64(5), s.Next)
}

func TestReclaim_Idempotent(t *testing.T) {
	seq, mem := newSequencer(t)
	ctx := context.Background()

	_, folio, err := seq.Issue(ctx, mem, engine.DirectionOutbound)
	require.NoError(t, err)
	insertWithFolio(t, mem, engine.DirectionOutbound, "", folio)

	seq.Reclaim(ctx, mem, engine.DirectionOutbound, "")
	seq.Reclaim(ctx, mem, engine.DirectionOutbound, "")

	s, err := mem.GetSequence(ctx, engine.DirectionOutbound)
	require.NoError(t, err)
	assert.Equal(t, int64(2), s.Next)
}
