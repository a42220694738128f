/*
store.go - Persistence interfaces for the allocation core

PURPOSE:
  Defines the contract between the engine and the database. Every mutation
  the engine performs during an allocation or a deletion happens through
  one of these interfaces, inside a single WithTx boundary.

ATOMIC DECREMENT CONTRACT:
  AdjustStock and AdjustFund are the authoritative negative-balance
  guards. A negative delta must be applied as a conditional update (or an
  equivalent compare-and-set) that refuses the mutation when the balance
  would go below zero, returning ErrInsufficientStock/ErrInsufficientFund.
  The engine never relies on a separate read-then-check against possibly
  stale data.

FOLIO SERIALIZATION:
  GetSequence/SaveSequence operate on one row per direction. Implementations
  must serialize concurrent transactions touching the same row so two
  issuances never observe the same Next value.

IMPLEMENTATIONS:
  - store/sqlite:      Production SQLite (same SQL ports to PostgreSQL)
  - engine/store:      In-memory, for tests and dev

SEE ALSO:
  - engine.go: The orchestrator driving these interfaces
  - folio.go:  Sequencer built on the folio methods
*/
package engine

import "context"

// Store is the flat persistence surface the engine drives. Inside WithTx
// the engine receives a transactional view of the same interface.
type Store interface {
	// --- Products (catalog rows are owned externally; only quantity and
	// derived status are mutated here).

	// GetProduct returns nil (no error) when the id is unknown.
	GetProduct(ctx context.Context, id ProductID) (*Product, error)
	ListProducts(ctx context.Context) ([]Product, error)

	// AdjustStock applies delta to on-hand quantity. Negative deltas are
	// refused with ErrInsufficientStock when the result would be negative.
	AdjustStock(ctx context.Context, id ProductID, delta int64) error

	// SetProductStatus persists a recomputed derived status.
	SetProductStatus(ctx context.Context, id ProductID, status ProductStatus) error

	// --- Fixed funds.

	// GetFund returns nil (no error) when no fund row exists.
	GetFund(ctx context.Context, requester RequesterID, product ProductID) (*FixedFund, error)

	// AdjustFund applies delta to the fund balance. Negative deltas are
	// refused with ErrInsufficientFund when the result would be negative.
	AdjustFund(ctx context.Context, requester RequesterID, product ProductID, delta int64) error

	// --- Movements.

	// InsertMovement persists a header with its lines as one unit.
	// Rejects ErrEmptyLines when the movement has no lines.
	InsertMovement(ctx context.Context, m *Movement) error

	// GetMovement returns the movement with its lines, or nil when the id
	// is unknown.
	GetMovement(ctx context.Context, id MovementID) (*Movement, error)

	// DeleteMovement removes the header and cascades to its lines.
	DeleteMovement(ctx context.Context, id MovementID) error

	// ListByOrigin returns all movements sharing an origin id, ordered by
	// creation time, each with lines and product names.
	ListByOrigin(ctx context.Context, origin OriginID) ([]Movement, error)

	// ListMovements returns headers for one direction, newest first.
	ListMovements(ctx context.Context, direction Direction) ([]Movement, error)

	// --- Folio sequences.

	// GetSequence returns the sequence row for a direction, materializing
	// {Series: "", Next: 1} when none exists yet.
	GetSequence(ctx context.Context, direction Direction) (*FolioSequence, error)
	SaveSequence(ctx context.Context, seq *FolioSequence) error

	// FolioExists reports whether a persisted movement already carries
	// (direction, series, folio).
	FolioExists(ctx context.Context, direction Direction, series, folio string) (bool, error)

	// MaxNumericFolio returns the maximum purely-numeric folio persisted
	// for (direction, series). ok is false when no such movement remains.
	MaxNumericFolio(ctx context.Context, direction Direction, series string) (max int64, ok bool, err error)

	// --- Settings.

	GetSettings(ctx context.Context) (Settings, error)
	SaveSettings(ctx context.Context, s Settings) error
}

// TxStore wraps Store with transaction support. All of an allocation's
// writes, and all of a deletion's, run inside one WithTx call: if fn
// returns an error nothing is visible, otherwise everything is.
type TxStore interface {
	Store

	WithTx(ctx context.Context, fn func(Store) error) error
}

// CatalogStore is the seeding surface used by dev tooling and tests.
// Products and funds are owned by catalog management outside this core;
// the engine itself never creates or destroys them.
type CatalogStore interface {
	SaveProduct(ctx context.Context, p *Product) error
	SaveFund(ctx context.Context, f *FixedFund) error
}
