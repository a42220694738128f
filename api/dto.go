/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external wire contract.

WIRE VOCABULARY:
  The consuming front office speaks Spanish; the wire contract keeps its
  established field names (motivo, partidas, folio, vale, pendiente)
  while the domain model underneath stays English. Renaming wire fields
  would break every existing client.

VALIDATION:
  Inbound DTOs carry validator tags (go-playground/validator) checked in
  the handlers before anything reaches the engine.

SEE ALSO:
  - handlers.go: Uses these types
  - engine/engine.go: The domain types these map onto
*/
package api

import (
	"time"

	"github.com/warp/warehouse-engine/engine"
)

// =============================================================================
// ALLOCATION (solicitudes)
// =============================================================================

// PartidaRequest is one requested product line.
type PartidaRequest struct {
	IDProducto string `json:"id_producto" validate:"required"`
	Cantidad   int64  `json:"cantidad" validate:"required,gt=0"`
	// Precio is accepted for backward compatibility but ignored: prices
	// always come from the catalog.
	Precio *float64 `json:"precio,omitempty"`
}

// SolicitudRequest is the withdrawal request body.
type SolicitudRequest struct {
	Motivo        string           `json:"motivo" validate:"required"`
	Observaciones string           `json:"observaciones"`
	Partidas      []PartidaRequest `json:"partidas" validate:"required,min=1,dive"`
}

// MovementRefDTO references one generated sub-order.
type MovementRefDTO struct {
	ID    string `json:"id"`
	Serie string `json:"serie"`
	Folio string `json:"folio"`
	Total string `json:"total"`
}

// GeneratedDTO groups the up-to-three sub-orders of one allocation.
type GeneratedDTO struct {
	Original  *MovementRefDTO `json:"original,omitempty"`
	Vale      *MovementRefDTO `json:"vale,omitempty"`
	Pendiente *MovementRefDTO `json:"pendiente,omitempty"`
}

// ValidacionDTO is the per-product breakdown.
type ValidacionDTO struct {
	IDProducto string `json:"id_producto"`
	Solicitado int64  `json:"solicitado"`
	Autorizado int64  `json:"autorizado"`
	Vale       int64  `json:"vale"`
	Pendiente  int64  `json:"pendiente"`
	Resultado  string `json:"resultado"`
}

// SolicitudResponse is the allocation result.
type SolicitudResponse struct {
	Success      bool            `json:"success"`
	OriginID     string          `json:"origin_id"`
	Generadas    GeneratedDTO    `json:"solicitudes_generadas"`
	Validaciones []ValidacionDTO `json:"validaciones"`
}

// =============================================================================
// INBOUND (entradas)
// =============================================================================

// EntradaPartidaRequest is one received line of a stock receipt.
type EntradaPartidaRequest struct {
	IDProducto string  `json:"id_producto" validate:"required"`
	Cantidad   int64   `json:"cantidad" validate:"required,gt=0"`
	Precio     float64 `json:"precio"`
	Lote       string  `json:"lote"`
	Caducidad  string  `json:"caducidad"` // YYYY-MM-DD
}

// EntradaRequest is the stock receipt body.
type EntradaRequest struct {
	Motivo        string                  `json:"motivo" validate:"required"`
	Observaciones string                  `json:"observaciones"`
	TipoEntrada   string                  `json:"tipo_entrada"`
	Proveedor     string                  `json:"proveedor"`
	Partidas      []EntradaPartidaRequest `json:"partidas" validate:"required,min=1,dive"`
}

// EntradaResponse reports the created inbound movement.
type EntradaResponse struct {
	Success bool           `json:"success"`
	Entrada MovementRefDTO `json:"entrada"`
}

// =============================================================================
// MOVEMENT READS
// =============================================================================

// LineaDTO is one line item on a movement read.
type LineaDTO struct {
	IDProducto     string `json:"id_producto"`
	NombreProducto string `json:"nombre_producto,omitempty"`
	Cantidad       int64  `json:"cantidad"`
	PrecioUnitario string `json:"precio_unitario"`
	Posicion       int    `json:"posicion"`
	Lote           string `json:"lote,omitempty"`
	Caducidad      string `json:"caducidad,omitempty"`
	Restante       int64  `json:"restante,omitempty"`
}

// MovementDTO is a full movement representation.
type MovementDTO struct {
	ID            string     `json:"id"`
	Direction     string     `json:"direction"`
	Kind          string     `json:"kind"`
	Fulfillment   string     `json:"fulfillment"`
	Status        string     `json:"status"`
	Motivo        string     `json:"motivo"`
	Observaciones string     `json:"observaciones,omitempty"`
	Total         string     `json:"total"`
	OriginID      string     `json:"origin_id,omitempty"`
	RequesterID   string     `json:"requester_id,omitempty"`
	Serie         string     `json:"serie"`
	Folio         string     `json:"folio"`
	TipoEntrada   string     `json:"tipo_entrada,omitempty"`
	Proveedor     string     `json:"proveedor,omitempty"`
	CreatedAt     string     `json:"created_at"`
	Partidas      []LineaDTO `json:"partidas"`
}

func toMovementDTO(m *engine.Movement) MovementDTO {
	dto := MovementDTO{
		ID:            string(m.ID),
		Direction:     string(m.Direction),
		Kind:          string(m.Kind),
		Fulfillment:   string(m.Fulfillment),
		Status:        string(m.Status),
		Motivo:        m.Reason,
		Observaciones: m.Notes,
		Total:         m.Total.StringFixed(2),
		OriginID:      string(m.OriginID),
		RequesterID:   string(m.RequesterID),
		Serie:         m.Series,
		Folio:         m.Folio,
		TipoEntrada:   m.SourceType,
		Proveedor:     m.SupplierRef,
		CreatedAt:     m.CreatedAt.Format(time.RFC3339),
		Partidas:      make([]LineaDTO, 0, len(m.Lines)),
	}
	for _, l := range m.Lines {
		line := LineaDTO{
			IDProducto:     string(l.ProductID),
			NombreProducto: l.ProductName,
			Cantidad:       l.Quantity,
			PrecioUnitario: l.UnitPrice.StringFixed(2),
			Posicion:       l.Position,
			Lote:           l.Lot,
			Restante:       l.Remaining,
		}
		if l.Expiration != nil {
			line.Caducidad = l.Expiration.Format("2006-01-02")
		}
		dto.Partidas = append(dto.Partidas, line)
	}
	return dto
}

// =============================================================================
// PRODUCTS AND CONFIG
// =============================================================================

// ProductDTO is a catalog read.
type ProductDTO struct {
	ID             string `json:"id"`
	Nombre         string `json:"nombre"`
	Existencia     int64  `json:"existencia"`
	PrecioUnitario string `json:"precio_unitario"`
	Caducidad      string `json:"caducidad,omitempty"`
	Estado         string `json:"estado"`
}

func toProductDTO(p *engine.Product) ProductDTO {
	dto := ProductDTO{
		ID:             string(p.ID),
		Nombre:         p.Name,
		Existencia:     p.Quantity,
		PrecioUnitario: p.UnitPrice.StringFixed(2),
		Estado:         string(p.Status),
	}
	if p.Expiration != nil {
		dto.Caducidad = p.Expiration.Format("2006-01-02")
	}
	return dto
}

// SettingsDTO exposes the global configuration switches.
type SettingsDTO struct {
	AllowRequestsBeyondStock bool  `json:"allow_requests_beyond_stock"`
	LowStockThreshold        int64 `json:"low_stock_threshold"`
	ExpiringWindowDays       int   `json:"expiring_window_days"`
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error      string             `json:"error"`
	Details    string             `json:"details,omitempty"`
	Shortfalls []engine.Shortfall `json:"shortfalls,omitempty"`
}
