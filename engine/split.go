/*
split.go - Three-way split of a requested quantity

PURPOSE:
  Decides, for one product, how much of a requested quantity is satisfied
  from the requester's fixed fund (authorized), how much from general
  on-hand stock beyond the fund (voucher), and how much cannot be
  satisfied now (pending).

INVARIANTS:
  - Authorized + Voucher + Pending == Requested, all three >= 0
  - The fund is exhausted before stock is drawn for the voucher bucket
  - Pending is the last resort and never decrements any ledger
  - Authorized + Voucher never exceeds on-hand stock

THE NO-FUND BRANCH:
  A requester with no active fund (or a zero balance) is an explicit,
  first-class case governed by the AllowRequestsBeyondStock switch, not a
  degenerate run of the general formula. Its result tag stays distinct
  (sin_fondo) from the insufficient-fund pending tag (pendiente) so that
  downstream consumers can tell the two apart.

SEE ALSO:
  - engine.go: Groups per-product breakdowns into sub-orders
*/
package engine

// ResultTag classifies a per-product outcome on the wire.
type ResultTag string

const (
	// ResultComplete: fully covered by the fixed fund.
	ResultComplete ResultTag = "completo"
	// ResultPartial: covered, but part of it from stock as a voucher.
	ResultPartial ResultTag = "parcial"
	// ResultPending: fund existed but stock ran out; remainder is pending.
	ResultPending ResultTag = "pendiente"
	// ResultNoFund: requester has no fund for this product.
	ResultNoFund ResultTag = "sin_fondo"
)

// Breakdown is the per-product outcome of one allocation.
type Breakdown struct {
	ProductID  ProductID
	Requested  int64
	Authorized int64
	Voucher    int64
	Pending    int64
	Result     ResultTag
}

// splitProduct computes the three-way split for one product.
//
// requested must be > 0 (validated by the caller). fundAvailable is 0 when
// the requester has no active fund for the product.
func splitProduct(productID ProductID, requested, onHand, fundAvailable int64, allowBeyondStock bool) Breakdown {
	b := Breakdown{ProductID: productID, Requested: requested}

	switch {
	case fundAvailable == 0:
		// No fund: an explicit policy branch, not a fall-through.
		b.Result = ResultNoFund
		if allowBeyondStock {
			b.Authorized = min64(requested, onHand)
			b.Pending = requested - b.Authorized
		} else {
			b.Pending = requested
		}

	case requested <= fundAvailable:
		// Fully covered by the fund, but still bounded by stock: the
		// fund authorizes the withdrawal, it does not conjure units.
		b.Authorized = min64(requested, onHand)
		b.Pending = requested - b.Authorized
		b.Result = ResultComplete
		if b.Pending > 0 {
			b.Result = ResultPending
		}

	default:
		// requested > fundAvailable
		excess := requested - fundAvailable
		switch {
		case onHand >= requested:
			b.Authorized = fundAvailable
			b.Voucher = excess
			b.Result = ResultPartial
		case onHand >= fundAvailable:
			// Stock covers the fund; whatever is left over covers as much
			// of the excess as possible.
			b.Authorized = fundAvailable
			b.Voucher = min64(excess, onHand-fundAvailable)
			b.Pending = excess - b.Voucher
			b.Result = ResultPending
			if b.Pending == 0 {
				b.Result = ResultPartial
			}
		default:
			// Stock cannot even cover the fund.
			b.Authorized = min64(fundAvailable, onHand)
			b.Pending = requested - b.Authorized
			b.Result = ResultPending
		}
	}

	return b
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
