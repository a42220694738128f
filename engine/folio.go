/*
folio.go - Sequential document numbering (folios)

PURPOSE:
  Issues the next monotonic folio for a movement direction within the
  current numbering series, and reclaims the top of the sequence when the
  highest-numbered movement is deleted.

INVARIANTS:
  - No two persisted movements share a folio within (direction, series)
  - Next is always >= 1 + the maximum persisted folio for the series
  - A folio is never reused while a movement still carries it

RECLAIM IS BEST-EFFORT COMPACTION:
  Reclaim recomputes the maximum persisted numeric folio and clamps Next
  to max+1 (or 1 when nothing remains). It only recovers the top of the
  sequence: deleting a non-maximal folio leaves a permanent interior gap,
  which is accepted and documented rather than compacted. A reclaim
  failure never aborts the deletion that triggered it; the sequence is
  left conservatively ahead (gaps allowed, duplicates never).

SEE ALSO:
  - store.go:  Folio persistence primitives
  - engine.go: Calls Issue on creation, Reclaim on deletion
*/
package engine

import (
	"context"
	"fmt"
	"strconv"

	"github.com/sirupsen/logrus"
)

// =============================================================================
// SEQUENCER
// =============================================================================

// Sequencer issues and reclaims folios. Both operations run against the
// transactional store view of the surrounding movement creation/deletion,
// so issuance is serialized by the sequence row.
type Sequencer struct {
	Log logrus.FieldLogger
}

func NewSequencer(log logrus.FieldLogger) *Sequencer {
	return &Sequencer{Log: log}
}

// Issue returns the current series and the next folio for a direction,
// then advances the sequence by one.
//
// Refuses with DuplicateFolioError when a persisted movement already
// carries the number about to be handed out: that means the sequence row
// is out of sync with the data, which operators must reconcile manually.
// Silent renumbering would hide the corruption.
func (sq *Sequencer) Issue(ctx context.Context, s Store, direction Direction) (series, folio string, err error) {
	seq, err := s.GetSequence(ctx, direction)
	if err != nil {
		return "", "", fmt.Errorf("load folio sequence: %w", err)
	}

	folio = strconv.FormatInt(seq.Next, 10)
	exists, err := s.FolioExists(ctx, direction, seq.Series, folio)
	if err != nil {
		return "", "", fmt.Errorf("check folio uniqueness: %w", err)
	}
	if exists {
		return "", "", &DuplicateFolioError{Direction: direction, Series: seq.Series, Folio: folio}
	}

	seq.Next++
	if err := s.SaveSequence(ctx, seq); err != nil {
		return "", "", fmt.Errorf("advance folio sequence: %w", err)
	}

	return seq.Series, folio, nil
}

// Reclaim clamps the sequence for (direction, series) after a deletion:
// Next becomes max(persisted numeric folio)+1, or 1 when no movements
// remain. Idempotent; a no-op when the sequence already matches.
//
// Errors are logged and swallowed. The deletion that triggered the
// reclaim has already done its work and must not be rolled back over a
// bookkeeping optimization.
func (sq *Sequencer) Reclaim(ctx context.Context, s Store, direction Direction, series string) {
	maxFolio, ok, err := s.MaxNumericFolio(ctx, direction, series)
	if err != nil {
		sq.logf(direction, series).WithError(err).Warn("folio reclaim skipped: max lookup failed")
		return
	}

	target := int64(1)
	if ok {
		target = maxFolio + 1
	}

	seq, err := s.GetSequence(ctx, direction)
	if err != nil {
		sq.logf(direction, series).WithError(err).Warn("folio reclaim skipped: sequence load failed")
		return
	}
	if seq.Series != series || seq.Next == target {
		return
	}

	seq.Next = target
	if err := s.SaveSequence(ctx, seq); err != nil {
		sq.logf(direction, series).WithError(err).Warn("folio reclaim skipped: sequence save failed")
		return
	}

	sq.logf(direction, series).WithField("next_folio", target).Debug("folio sequence reclaimed")
}

func (sq *Sequencer) logf(direction Direction, series string) logrus.FieldLogger {
	log := sq.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	return log.WithFields(logrus.Fields{
		"direction": direction,
		"series":    series,
	})
}
