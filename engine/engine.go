/*
engine.go - Allocation orchestrator

PURPOSE:
  Drives the whole lifecycle of a withdrawal request: validate, snapshot
  stock and fund balances, compute the per-product three-way split, group
  the results into up to three linked sub-orders (normal / voucher /
  pending), persist them with folios, and mutate the inventory and fund
  ledgers - all inside one store transaction.

TRANSACTION BOUNDARY:
  Everything from the snapshot reads to the last ledger decrement runs in
  a single WithTx call. On any failure no sub-order and no partial ledger
  mutation is ever visible; the caller decides whether to resubmit.

SUB-ORDER GROUPING:
  - normal:  the authorized amounts; fulfilled; decrements stock AND fund
  - voucher: amounts drawn from stock beyond the fund; fulfilled;
             decrements stock only
  - pending: the unsatisfiable remainder; awaiting fulfillment; touches
             no ledger at all
  All sub-orders from one call share a freshly generated origin id.

DELETION:
  Deleting a movement reverses the ledger mutations recorded at its
  creation (stock back for outbound, stock out for inbound, fund back for
  normal sub-orders), refuses when the reversal would drive stock
  negative, and reclaims the top of the folio sequence best-effort.

SEE ALSO:
  - split.go: The per-product split algorithm
  - folio.go: Folio issuance/reclaim
  - store.go: The persistence contract
*/
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// =============================================================================
// REQUESTS AND RESULTS
// =============================================================================

// RequestLine is one product/quantity pair of a withdrawal request.
// Repeated lines for the same product are summed before splitting.
type RequestLine struct {
	ProductID ProductID
	Quantity  int64
}

// AllocationRequest is a withdrawal request for one or more products.
type AllocationRequest struct {
	RequesterID RequesterID
	Reason      string
	Notes       string
	Lines       []RequestLine
}

// GeneratedMovement summarizes one persisted sub-order.
type GeneratedMovement struct {
	ID     MovementID
	Series string
	Folio  string
	Total  decimal.Decimal
}

// AllocationResult reports the disposition of one allocation call.
type AllocationResult struct {
	OriginID   OriginID
	Normal     *GeneratedMovement
	Voucher    *GeneratedMovement
	Pending    *GeneratedMovement
	Breakdowns []Breakdown
}

// InboundLine is one received item of a stock receipt.
type InboundLine struct {
	ProductID  ProductID
	Quantity   int64
	UnitPrice  decimal.Decimal // zero means "use the catalog price"
	Lot        string
	Expiration *time.Time
}

// InboundRequest is a stock receipt.
type InboundRequest struct {
	RequesterID RequesterID
	Reason      string
	Notes       string
	SourceType  string
	SupplierRef string
	Lines       []InboundLine
}

// =============================================================================
// ENGINE
// =============================================================================

// Engine orchestrates allocations and movement lifecycle over a TxStore.
type Engine struct {
	store TxStore
	seq   *Sequencer
	log   logrus.FieldLogger
}

func New(store TxStore, log logrus.FieldLogger) *Engine {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Engine{
		store: store,
		seq:   NewSequencer(log),
		log:   log,
	}
}

// =============================================================================
// ALLOCATE
// =============================================================================

// Allocate consumes a withdrawal request and produces up to three linked
// sub-orders plus the corresponding ledger mutations. Atomic: on error,
// nothing is persisted and no balance moved.
func (e *Engine) Allocate(ctx context.Context, req AllocationRequest) (*AllocationResult, error) {
	if req.RequesterID == "" {
		return nil, ErrMissingRequester
	}
	if len(req.Lines) == 0 {
		return nil, ErrEmptyLines
	}
	for _, l := range req.Lines {
		if l.Quantity <= 0 {
			return nil, &InvalidQuantityError{ProductID: l.ProductID, Quantity: l.Quantity}
		}
	}

	merged := mergeLines(req.Lines)
	result := &AllocationResult{OriginID: OriginID(uuid.NewString())}

	err := e.store.WithTx(ctx, func(s Store) error {
		settings, err := s.GetSettings(ctx)
		if err != nil {
			return fmt.Errorf("load settings: %w", err)
		}

		// Snapshot every product before mutating anything. Unknown
		// products reject the whole request.
		products := make(map[ProductID]*Product, len(merged))
		for _, l := range merged {
			p, err := s.GetProduct(ctx, l.ProductID)
			if err != nil {
				return fmt.Errorf("load product %s: %w", l.ProductID, err)
			}
			if p == nil {
				return &UnknownProductError{ProductID: l.ProductID}
			}
			products[l.ProductID] = p
		}

		funds := make(map[ProductID]int64, len(merged))
		for _, l := range merged {
			f, err := s.GetFund(ctx, req.RequesterID, l.ProductID)
			if err != nil {
				return fmt.Errorf("load fixed fund for %s: %w", l.ProductID, err)
			}
			if f != nil && f.Active {
				funds[l.ProductID] = f.Available
			}
		}

		for _, l := range merged {
			b := splitProduct(l.ProductID, l.Quantity,
				products[l.ProductID].Quantity, funds[l.ProductID],
				settings.AllowRequestsBeyondStock)
			result.Breakdowns = append(result.Breakdowns, b)
		}

		now := time.Now().UTC()
		groups := []struct {
			kind        Kind
			fulfillment Fulfillment
			pick        func(Breakdown) int64
			target      **GeneratedMovement
		}{
			{KindNormal, Fulfilled, func(b Breakdown) int64 { return b.Authorized }, &result.Normal},
			{KindVoucher, Fulfilled, func(b Breakdown) int64 { return b.Voucher }, &result.Voucher},
			{KindPending, AwaitingFulfillment, func(b Breakdown) int64 { return b.Pending }, &result.Pending},
		}

		for _, g := range groups {
			m := e.buildSubOrder(req, result.OriginID, g.kind, g.fulfillment,
				result.Breakdowns, products, funds, g.pick, now)
			if m == nil {
				continue
			}

			series, folio, err := e.seq.Issue(ctx, s, DirectionOutbound)
			if err != nil {
				return err
			}
			m.Series, m.Folio = series, folio

			if err := s.InsertMovement(ctx, m); err != nil {
				return fmt.Errorf("persist %s sub-order: %w", g.kind, err)
			}
			*g.target = &GeneratedMovement{ID: m.ID, Series: series, Folio: folio, Total: m.Total}

			if m.Fulfillment != Fulfilled {
				continue
			}
			for _, line := range m.Lines {
				if err := s.AdjustStock(ctx, line.ProductID, -line.Quantity); err != nil {
					return fmt.Errorf("decrement stock for %s: %w", line.ProductID, err)
				}
				if err := e.refreshStatus(ctx, s, line.ProductID, settings, now); err != nil {
					return err
				}
				if m.Kind == KindNormal && line.FundConsumed > 0 {
					if err := s.AdjustFund(ctx, req.RequesterID, line.ProductID, -line.FundConsumed); err != nil {
						return fmt.Errorf("decrement fund for %s: %w", line.ProductID, err)
					}
				}
			}
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	e.log.WithFields(logrus.Fields{
		"origin_id": result.OriginID,
		"requester": req.RequesterID,
		"products":  len(merged),
	}).Info("allocation committed")

	return result, nil
}

// buildSubOrder assembles one movement for the given bucket, or nil when
// every product's bucket quantity is zero.
func (e *Engine) buildSubOrder(req AllocationRequest, origin OriginID, kind Kind,
	fulfillment Fulfillment, breakdowns []Breakdown, products map[ProductID]*Product,
	funds map[ProductID]int64, pick func(Breakdown) int64, now time.Time) *Movement {

	m := &Movement{
		ID:          MovementID(uuid.NewString()),
		Direction:   DirectionOutbound,
		Kind:        kind,
		Fulfillment: fulfillment,
		Status:      MovementCreated,
		Reason:      req.Reason,
		Notes:       req.Notes,
		OriginID:    origin,
		RequesterID: req.RequesterID,
		CreatedAt:   now,
	}

	switch kind {
	case KindVoucher:
		m.Reason = req.Reason + " (vale)"
		m.Notes = fmt.Sprintf("Vale generado de la solicitud %s", origin)
	case KindPending:
		m.Reason = req.Reason + " (pendiente)"
		m.Notes = fmt.Sprintf("Pendiente de surtir de la solicitud %s", origin)
	}

	for _, b := range breakdowns {
		qty := pick(b)
		if qty == 0 {
			continue
		}
		p := products[b.ProductID]
		line := Line{
			ID:         uuid.NewString(),
			MovementID: m.ID,
			ProductID:  b.ProductID,
			Quantity:   qty,
			UnitPrice:  p.UnitPrice,
			Position:   len(m.Lines),
		}
		if kind == KindNormal {
			// The fund decrement is bounded by the balance; authorized
			// amounts from the no-fund branch never touch the fund.
			line.FundConsumed = min64(b.Authorized, funds[b.ProductID])
		}
		m.Lines = append(m.Lines, line)
	}

	if len(m.Lines) == 0 {
		return nil
	}
	m.Total = m.ComputeTotal()
	return m
}

// =============================================================================
// INBOUND CREATION
// =============================================================================

// CreateInbound persists a stock receipt: one inbound header with lines,
// a folio from the inbound sequence, and the stock increments. Atomic.
func (e *Engine) CreateInbound(ctx context.Context, req InboundRequest) (*GeneratedMovement, error) {
	if len(req.Lines) == 0 {
		return nil, ErrEmptyLines
	}
	for _, l := range req.Lines {
		if l.Quantity <= 0 {
			return nil, &InvalidQuantityError{ProductID: l.ProductID, Quantity: l.Quantity}
		}
	}

	var generated *GeneratedMovement
	err := e.store.WithTx(ctx, func(s Store) error {
		settings, err := s.GetSettings(ctx)
		if err != nil {
			return fmt.Errorf("load settings: %w", err)
		}

		now := time.Now().UTC()
		m := &Movement{
			ID:          MovementID(uuid.NewString()),
			Direction:   DirectionInbound,
			Kind:        KindNormal,
			Fulfillment: Fulfilled,
			Status:      MovementCreated,
			Reason:      req.Reason,
			Notes:       req.Notes,
			RequesterID: req.RequesterID,
			SourceType:  req.SourceType,
			SupplierRef: req.SupplierRef,
			CreatedAt:   now,
		}

		for _, l := range req.Lines {
			p, err := s.GetProduct(ctx, l.ProductID)
			if err != nil {
				return fmt.Errorf("load product %s: %w", l.ProductID, err)
			}
			if p == nil {
				return &UnknownProductError{ProductID: l.ProductID}
			}
			price := l.UnitPrice
			if price.IsZero() {
				price = p.UnitPrice
			}
			m.Lines = append(m.Lines, Line{
				ID:         uuid.NewString(),
				MovementID: m.ID,
				ProductID:  l.ProductID,
				Quantity:   l.Quantity,
				UnitPrice:  price,
				Position:   len(m.Lines),
				Lot:        l.Lot,
				Expiration: l.Expiration,
				Remaining:  l.Quantity,
			})
		}
		m.Total = m.ComputeTotal()

		series, folio, err := e.seq.Issue(ctx, s, DirectionInbound)
		if err != nil {
			return err
		}
		m.Series, m.Folio = series, folio

		if err := s.InsertMovement(ctx, m); err != nil {
			return fmt.Errorf("persist inbound movement: %w", err)
		}

		for _, line := range m.Lines {
			if err := s.AdjustStock(ctx, line.ProductID, line.Quantity); err != nil {
				return fmt.Errorf("increment stock for %s: %w", line.ProductID, err)
			}
			if err := e.refreshStatus(ctx, s, line.ProductID, settings, now); err != nil {
				return err
			}
		}

		generated = &GeneratedMovement{ID: m.ID, Series: series, Folio: folio, Total: m.Total}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return generated, nil
}

// =============================================================================
// DELETION
// =============================================================================

// DeleteMovement removes a movement, reverses the ledger mutations that
// accompanied its creation, and reclaims the top of the folio sequence.
//
// Refuses with StockReversalError when the reversal would drive any
// product's on-hand quantity negative (inbound deletions after the
// received stock was already drawn down). The reclaim is best-effort and
// never fails the deletion.
func (e *Engine) DeleteMovement(ctx context.Context, id MovementID) error {
	return e.store.WithTx(ctx, func(s Store) error {
		m, err := s.GetMovement(ctx, id)
		if err != nil {
			return fmt.Errorf("load movement: %w", err)
		}
		if m == nil {
			return ErrMovementNotFound
		}

		settings, err := s.GetSettings(ctx)
		if err != nil {
			return fmt.Errorf("load settings: %w", err)
		}
		now := time.Now().UTC()

		if m.Fulfillment == Fulfilled {
			if m.Direction == DirectionInbound {
				// Reversal takes stock back out; refuse rather than go
				// negative, listing every offending product.
				var shortfalls []Shortfall
				for _, line := range m.Lines {
					p, err := s.GetProduct(ctx, line.ProductID)
					if err != nil {
						return fmt.Errorf("load product %s: %w", line.ProductID, err)
					}
					if p == nil || p.Quantity < line.Quantity {
						sf := Shortfall{ProductID: line.ProductID, Needed: line.Quantity}
						if p != nil {
							sf.Name, sf.OnHand = p.Name, p.Quantity
						}
						shortfalls = append(shortfalls, sf)
					}
				}
				if len(shortfalls) > 0 {
					return &StockReversalError{MovementID: id, Shortfalls: shortfalls}
				}
			}

			for _, line := range m.Lines {
				delta := line.Quantity // outbound reversal restores stock
				if m.Direction == DirectionInbound {
					delta = -line.Quantity
				}
				if err := s.AdjustStock(ctx, line.ProductID, delta); err != nil {
					return fmt.Errorf("reverse stock for %s: %w", line.ProductID, err)
				}
				if err := e.refreshStatus(ctx, s, line.ProductID, settings, now); err != nil {
					return err
				}
				if m.Direction == DirectionOutbound && m.Kind == KindNormal && line.FundConsumed > 0 {
					if err := s.AdjustFund(ctx, m.RequesterID, line.ProductID, line.FundConsumed); err != nil {
						return fmt.Errorf("restore fund for %s: %w", line.ProductID, err)
					}
				}
			}
		}

		if err := s.DeleteMovement(ctx, id); err != nil {
			return fmt.Errorf("delete movement: %w", err)
		}

		e.seq.Reclaim(ctx, s, m.Direction, m.Series)
		return nil
	})
}

// =============================================================================
// READS
// =============================================================================

// OriginGroup reconstructs the full disposition of one original request:
// all sub-orders sharing the origin id, ordered by creation time.
func (e *Engine) OriginGroup(ctx context.Context, origin OriginID) ([]Movement, error) {
	return e.store.ListByOrigin(ctx, origin)
}

// Movement returns one movement with its lines, or ErrMovementNotFound.
func (e *Engine) Movement(ctx context.Context, id MovementID) (*Movement, error) {
	m, err := e.store.GetMovement(ctx, id)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, ErrMovementNotFound
	}
	return m, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func (e *Engine) refreshStatus(ctx context.Context, s Store, id ProductID, settings Settings, now time.Time) error {
	p, err := s.GetProduct(ctx, id)
	if err != nil {
		return fmt.Errorf("reload product %s: %w", id, err)
	}
	if p == nil {
		return &UnknownProductError{ProductID: id}
	}
	status := p.ComputeStatus(now, settings.LowStockThreshold, settings.ExpiringWindow())
	if status == p.Status {
		return nil
	}
	if err := s.SetProductStatus(ctx, id, status); err != nil {
		return fmt.Errorf("update status for %s: %w", id, err)
	}
	return nil
}

// mergeLines sums repeated products, preserving first-appearance order.
func mergeLines(lines []RequestLine) []RequestLine {
	index := make(map[ProductID]int, len(lines))
	var merged []RequestLine
	for _, l := range lines {
		if i, ok := index[l.ProductID]; ok {
			merged[i].Quantity += l.Quantity
			continue
		}
		index[l.ProductID] = len(merged)
		merged = append(merged, l)
	}
	return merged
}
