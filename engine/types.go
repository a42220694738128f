/*
Package engine provides the outbound-request allocation core.

PURPOSE:
  This package contains the domain types and algorithms for deciding how a
  withdrawal request is satisfied: how much comes out of the requester's
  pre-authorized fixed fund, how much out of general on-hand stock (as a
  voucher sub-order), and how much cannot be satisfied yet (as a pending
  sub-order). It also owns the sequential folio numbering that every
  inbound/outbound movement receives.

KEY CONCEPTS IN THIS FILE (types.go):
  - Product: catalog item with on-hand quantity and a derived status
  - FixedFund: per (requester, product) pre-authorized withdrawal quota
  - Movement/Line: persisted inbound/outbound document with its items
  - FolioSequence: per-direction numbering state (series + next folio)
  - Settings: global switches the allocation consults at run time

DESIGN PRINCIPLES:
  1. Quantities are integers: stock moves in whole units, never fractions
  2. Money uses decimal.Decimal to avoid floating-point errors
  3. Strong typing for IDs prevents mixing product/requester/movement IDs
  4. Movements created by one request share an origin id, a plain
     correlation key instead of any runtime object graph

SEE ALSO:
  - split.go:  The three-way split algorithm
  - engine.go: The allocation orchestrator
  - folio.go:  Folio issuance and reclaim
  - store.go:  Persistence interfaces
*/
package engine

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type ProductID string
type RequesterID string
type MovementID string
type OriginID string

// =============================================================================
// PRODUCT - Catalog item (owned externally, mutated here)
// =============================================================================

// ProductStatus is derived from quantity and expiration. It is recomputed
// after every stock mutation, never set directly by callers.
type ProductStatus string

const (
	StatusNormal     ProductStatus = "normal"
	StatusLow        ProductStatus = "low"
	StatusExpiring   ProductStatus = "expiring"
	StatusExpired    ProductStatus = "expired"
	StatusOutOfStock ProductStatus = "out_of_stock"
)

type Product struct {
	ID         ProductID
	Name       string
	Quantity   int64
	UnitPrice  decimal.Decimal
	Expiration *time.Time
	Status     ProductStatus
}

// ComputeStatus derives the product status from quantity and expiration.
// Expiration dominates stock level: an expired product is reported expired
// even when out of stock would also apply.
func (p *Product) ComputeStatus(now time.Time, lowThreshold int64, expiringWindow time.Duration) ProductStatus {
	if p.Expiration != nil {
		if !p.Expiration.After(now) {
			return StatusExpired
		}
		if p.Expiration.Sub(now) <= expiringWindow {
			return StatusExpiring
		}
	}
	if p.Quantity == 0 {
		return StatusOutOfStock
	}
	if p.Quantity <= lowThreshold {
		return StatusLow
	}
	return StatusNormal
}

// =============================================================================
// FIXED FUND - Standing withdrawal authorization
// =============================================================================

// FixedFund is a standing authorization for a requester to draw a product
// without further approval, up to Available units. Only the authorized
// portion of an allocation ever decrements it.
type FixedFund struct {
	RequesterID RequesterID
	ProductID   ProductID
	Available   int64
	Active      bool
}

// =============================================================================
// MOVEMENT - Inbound/outbound document header + lines
// =============================================================================

type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Kind distinguishes the three sub-orders an allocation can produce.
// Inbound movements are always KindNormal.
type Kind string

const (
	KindNormal  Kind = "normal"
	KindVoucher Kind = "voucher"
	KindPending Kind = "pending"
)

// Fulfillment records whether the movement already mutated stock.
// Pending sub-orders await fulfillment and never touched any ledger.
type Fulfillment string

const (
	Fulfilled           Fulfillment = "fulfilled"
	AwaitingFulfillment Fulfillment = "awaiting_fulfillment"
)

type MovementStatus string

const (
	MovementCreated   MovementStatus = "created"
	MovementCompleted MovementStatus = "completed"
)

// Movement is a persisted inbound or outbound document. Headers are written
// once at creation; the only later mutations are the external mark-fulfilled
// operation and deletion (which cascades to lines and reclaims the folio).
type Movement struct {
	ID          MovementID
	Direction   Direction
	Kind        Kind
	Fulfillment Fulfillment
	Status      MovementStatus
	Reason      string
	Notes       string
	Total       decimal.Decimal
	OriginID    OriginID // empty for movements not spawned by a split
	RequesterID RequesterID
	Series      string
	Folio       string // stringified integer for folios issued here

	// Inbound only.
	SourceType  string
	SupplierRef string

	CreatedAt time.Time
	Lines     []Line
}

// ComputeTotal sums quantity times unit price over all lines.
func (m *Movement) ComputeTotal() decimal.Decimal {
	total := decimal.Zero
	for _, l := range m.Lines {
		total = total.Add(l.UnitPrice.Mul(decimal.NewFromInt(l.Quantity)))
	}
	return total
}

// Line belongs to exactly one movement. Quantity is always > 0; the split
// never emits a zero-quantity line.
type Line struct {
	ID          string
	MovementID  MovementID
	ProductID   ProductID
	ProductName string // populated on reads, joined from the catalog
	Quantity    int64
	UnitPrice   decimal.Decimal
	Position    int

	// FundConsumed records how much of this line actually decremented the
	// requester's fixed fund at creation. Needed to reverse the exact
	// mutation on deletion: the decrement is bounded by the fund balance,
	// so the authorized quantity alone is not enough.
	FundConsumed int64

	// Inbound only: lot tracking. Remaining starts equal to Quantity and
	// is drawn down by FIFO consumers outside this core.
	Lot        string
	Expiration *time.Time
	Remaining  int64
}

// =============================================================================
// FOLIO SEQUENCE - Per-direction numbering state
// =============================================================================

// FolioSequence holds the numbering state for one movement direction.
// Next must always be at least 1 + the maximum folio persisted for
// (Direction, Series); issuance refuses to hand out a folio that already
// exists on a movement.
type FolioSequence struct {
	Direction Direction
	Series    string // current series label, possibly empty
	Next      int64  // >= 1
}

// =============================================================================
// SETTINGS - Global configuration the engine loads per allocation
// =============================================================================

type Settings struct {
	// AllowRequestsBeyondStock controls the no-fund branch: when false, a
	// requester without a fixed fund gets everything routed to pending.
	AllowRequestsBeyondStock bool

	// Thresholds feeding the derived product status.
	LowStockThreshold  int64
	ExpiringWindowDays int
}

func (s Settings) ExpiringWindow() time.Duration {
	return time.Duration(s.ExpiringWindowDays) * 24 * time.Hour
}

// DefaultSettings are used until an operator saves explicit values.
func DefaultSettings() Settings {
	return Settings{
		AllowRequestsBeyondStock: false,
		LowStockThreshold:        5,
		ExpiringWindowDays:       30,
	}
}
