/*
errors.go - Centralized error types for the allocation core

PURPOSE:
  All error types in one place for consistency and discoverability.
  The taxonomy mirrors how callers must react:

  1. Validation errors - bad input or a refused business rule; report to
     the caller, never retried automatically
  2. Conflict errors   - folio sequence out of sync with persisted data;
     requires manual reconciliation, never silent renumbering
  3. System errors     - store failures; the whole operation rolls back

  Folio reclaim failures are deliberately NOT errors of the surrounding
  deletion: they are logged and skipped (see folio.go).

USAGE:
  if engine.IsClientError(err) { respond 400 } else
  if engine.IsConflict(err)    { respond 409 } ...

SEE ALSO:
  - engine.go: Wraps these with product/quantity context
  - api/handlers.go: Maps the taxonomy to HTTP status codes
*/
package engine

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrProductNotFound is returned when a requested product id does not
	// exist in the catalog. Checked before any mutation.
	ErrProductNotFound = errors.New("product not found")

	// ErrMovementNotFound is returned when a movement id does not exist.
	ErrMovementNotFound = errors.New("movement not found")

	// ErrInvalidQuantity is returned for non-positive requested quantities.
	ErrInvalidQuantity = errors.New("quantity must be positive")

	// ErrEmptyLines is returned when a movement would have no line items.
	ErrEmptyLines = errors.New("movement requires at least one line")

	// ErrInsufficientStock is returned by the atomic decrement primitive
	// when the mutation would drive on-hand quantity negative. The engine
	// routes shortfalls to pending before writing, so seeing this during
	// an allocation means concurrent state moved underneath us and the
	// transaction must abort.
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrInsufficientFund is returned by the fund decrement primitive when
	// the mutation would drive the fund balance negative.
	ErrInsufficientFund = errors.New("insufficient fixed fund")

	// ErrDuplicateFolio is returned when issuance would hand out a folio
	// that already exists on a persisted movement. The sequence state is
	// out of sync with the data and needs manual reconciliation.
	ErrDuplicateFolio = errors.New("duplicate folio: sequence out of sync")

	// ErrMissingRequester is returned when an allocation arrives without a
	// requester identity.
	ErrMissingRequester = errors.New("requester id is required")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// UnknownProductError names the offending product id.
type UnknownProductError struct {
	ProductID ProductID
}

func (e *UnknownProductError) Error() string {
	return fmt.Sprintf("unknown product: %s", e.ProductID)
}

func (e *UnknownProductError) Unwrap() error { return ErrProductNotFound }

// InvalidQuantityError names the offending line.
type InvalidQuantityError struct {
	ProductID ProductID
	Quantity  int64
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("invalid quantity %d for product %s", e.Quantity, e.ProductID)
}

func (e *InvalidQuantityError) Unwrap() error { return ErrInvalidQuantity }

// Shortfall reports one product whose reversal would go negative.
type Shortfall struct {
	ProductID ProductID `json:"product_id"`
	Name      string    `json:"name"`
	OnHand    int64     `json:"on_hand"`
	Needed    int64     `json:"needed"`
}

// StockReversalError refuses a movement deletion whose reversal would
// drive one or more products' on-hand quantity below zero. The movement
// is left untouched.
type StockReversalError struct {
	MovementID MovementID
	Shortfalls []Shortfall
}

func (e *StockReversalError) Error() string {
	return fmt.Sprintf("deleting movement %s would drive %d product(s) negative",
		e.MovementID, len(e.Shortfalls))
}

func (e *StockReversalError) Unwrap() error { return ErrInsufficientStock }

// DuplicateFolioError carries the colliding (direction, series, folio).
type DuplicateFolioError struct {
	Direction Direction
	Series    string
	Folio     string
}

func (e *DuplicateFolioError) Error() string {
	return fmt.Sprintf("folio %q already exists for %s series %q",
		e.Folio, e.Direction, e.Series)
}

func (e *DuplicateFolioError) Unwrap() error { return ErrDuplicateFolio }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid input or a
// refused business rule. These map to 4xx and are never retried.
func IsClientError(err error) bool {
	return errors.Is(err, ErrProductNotFound) ||
		errors.Is(err, ErrMovementNotFound) ||
		errors.Is(err, ErrInvalidQuantity) ||
		errors.Is(err, ErrEmptyLines) ||
		errors.Is(err, ErrInsufficientStock) ||
		errors.Is(err, ErrMissingRequester)
}

// IsConflict returns true for folio sequence desync. Surfaced separately
// because it requires reconciliation rather than a corrected request.
func IsConflict(err error) bool {
	return errors.Is(err, ErrDuplicateFolio)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrProductNotFound) ||
		errors.Is(err, ErrMovementNotFound)
}
