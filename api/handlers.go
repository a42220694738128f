/*
handlers.go - HTTP request handlers

PURPOSE:
  Translates HTTP requests into engine calls and engine results back into
  the JSON wire contract. Handlers hold no business logic: validation of
  shape happens here (validator tags), validation of meaning happens in
  the engine.

IDENTITY:
  The requester identity arrives in the X-Requester-ID header, set by the
  authenticating gateway in front of this service. A missing header on
  endpoints that need one is a 400.

ERROR MAPPING:
  engine.IsNotFound  -> 404
  engine.IsConflict  -> 409 (folio sequence desync)
  engine.IsClientError -> 400 (with shortfall detail for refused deletions)
  everything else    -> 500 with a generic body; detail goes to the log

SEE ALSO:
  - dto.go: The wire types
  - server.go: Route registration
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/warp/warehouse-engine/engine"
)

const requesterHeader = "X-Requester-ID"

// Handler serves the warehouse API.
type Handler struct {
	engine   *engine.Engine
	store    engine.TxStore
	validate *validator.Validate
	log      logrus.FieldLogger
}

func NewHandler(eng *engine.Engine, store engine.TxStore, log logrus.FieldLogger) *Handler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Handler{
		engine:   eng,
		store:    store,
		validate: validator.New(),
		log:      log,
	}
}

// =============================================================================
// ALLOCATION
// =============================================================================

// CreateSolicitud handles POST /api/solicitudes.
func (h *Handler) CreateSolicitud(w http.ResponseWriter, r *http.Request) {
	requester := r.Header.Get(requesterHeader)
	if requester == "" {
		h.writeError(w, r, engine.ErrMissingRequester)
		return
	}

	var req SolicitudRequest
	if !h.decode(w, r, &req) {
		return
	}

	lines := make([]engine.RequestLine, 0, len(req.Partidas))
	for _, p := range req.Partidas {
		lines = append(lines, engine.RequestLine{
			ProductID: engine.ProductID(p.IDProducto),
			Quantity:  p.Cantidad,
		})
	}

	result, err := h.engine.Allocate(r.Context(), engine.AllocationRequest{
		RequesterID: engine.RequesterID(requester),
		Reason:      req.Motivo,
		Notes:       req.Observaciones,
		Lines:       lines,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	resp := SolicitudResponse{
		Success:  true,
		OriginID: string(result.OriginID),
		Generadas: GeneratedDTO{
			Original:  toMovementRef(result.Normal),
			Vale:      toMovementRef(result.Voucher),
			Pendiente: toMovementRef(result.Pending),
		},
	}
	for _, b := range result.Breakdowns {
		resp.Validaciones = append(resp.Validaciones, ValidacionDTO{
			IDProducto: string(b.ProductID),
			Solicitado: b.Requested,
			Autorizado: b.Authorized,
			Vale:       b.Voucher,
			Pendiente:  b.Pending,
			Resultado:  string(b.Result),
		})
	}
	h.writeJSON(w, http.StatusCreated, resp)
}

// GetGrupo handles GET /api/solicitudes/grupo/{originID}.
func (h *Handler) GetGrupo(w http.ResponseWriter, r *http.Request) {
	origin := engine.OriginID(chi.URLParam(r, "originID"))
	movements, err := h.engine.OriginGroup(r.Context(), origin)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if len(movements) == 0 {
		h.writeError(w, r, engine.ErrMovementNotFound)
		return
	}
	dtos := make([]MovementDTO, 0, len(movements))
	for i := range movements {
		dtos = append(dtos, toMovementDTO(&movements[i]))
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"origin_id":   string(origin),
		"solicitudes": dtos,
	})
}

// =============================================================================
// INBOUND
// =============================================================================

// CreateEntrada handles POST /api/entradas.
func (h *Handler) CreateEntrada(w http.ResponseWriter, r *http.Request) {
	requester := r.Header.Get(requesterHeader)

	var req EntradaRequest
	if !h.decode(w, r, &req) {
		return
	}

	lines := make([]engine.InboundLine, 0, len(req.Partidas))
	for _, p := range req.Partidas {
		line := engine.InboundLine{
			ProductID: engine.ProductID(p.IDProducto),
			Quantity:  p.Cantidad,
			Lot:       p.Lote,
		}
		if p.Precio > 0 {
			line.UnitPrice = decimal.NewFromFloat(p.Precio)
		}
		if p.Caducidad != "" {
			exp, err := time.Parse("2006-01-02", p.Caducidad)
			if err != nil {
				h.writeJSON(w, http.StatusBadRequest, ErrorResponse{
					Error:   "invalid request",
					Details: "caducidad must be YYYY-MM-DD",
				})
				return
			}
			line.Expiration = &exp
		}
		lines = append(lines, line)
	}

	generated, err := h.engine.CreateInbound(r.Context(), engine.InboundRequest{
		RequesterID: engine.RequesterID(requester),
		Reason:      req.Motivo,
		Notes:       req.Observaciones,
		SourceType:  req.TipoEntrada,
		SupplierRef: req.Proveedor,
		Lines:       lines,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, EntradaResponse{
		Success: true,
		Entrada: *toMovementRef(generated),
	})
}

// =============================================================================
// MOVEMENTS
// =============================================================================

// GetMovimiento handles GET /api/movimientos/{id}.
func (h *Handler) GetMovimiento(w http.ResponseWriter, r *http.Request) {
	id := engine.MovementID(chi.URLParam(r, "id"))
	m, err := h.engine.Movement(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toMovementDTO(m))
}

// DeleteMovimiento handles DELETE /api/movimientos/{id}.
func (h *Handler) DeleteMovimiento(w http.ResponseWriter, r *http.Request) {
	id := engine.MovementID(chi.URLParam(r, "id"))
	if err := h.engine.DeleteMovement(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// ListMovimientos handles GET /api/movimientos?direction=outbound.
func (h *Handler) ListMovimientos(w http.ResponseWriter, r *http.Request) {
	direction := engine.Direction(r.URL.Query().Get("direction"))
	if direction == "" {
		direction = engine.DirectionOutbound
	}
	if direction != engine.DirectionInbound && direction != engine.DirectionOutbound {
		h.writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   "invalid request",
			Details: "direction must be inbound or outbound",
		})
		return
	}
	movements, err := h.store.ListMovements(r.Context(), direction)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	dtos := make([]MovementDTO, 0, len(movements))
	for i := range movements {
		dtos = append(dtos, toMovementDTO(&movements[i]))
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"movimientos": dtos})
}

// =============================================================================
// PRODUCTS
// =============================================================================

// ListProductos handles GET /api/productos.
func (h *Handler) ListProductos(w http.ResponseWriter, r *http.Request) {
	products, err := h.store.ListProducts(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	dtos := make([]ProductDTO, 0, len(products))
	for i := range products {
		dtos = append(dtos, toProductDTO(&products[i]))
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"productos": dtos})
}

// GetProducto handles GET /api/productos/{id}.
func (h *Handler) GetProducto(w http.ResponseWriter, r *http.Request) {
	id := engine.ProductID(chi.URLParam(r, "id"))
	p, err := h.store.GetProduct(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if p == nil {
		h.writeError(w, r, engine.ErrProductNotFound)
		return
	}
	h.writeJSON(w, http.StatusOK, toProductDTO(p))
}

// =============================================================================
// SETTINGS
// =============================================================================

// GetConfig handles GET /api/config.
func (h *Handler) GetConfig(w http.ResponseWriter, r *http.Request) {
	settings, err := h.store.GetSettings(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, SettingsDTO{
		AllowRequestsBeyondStock: settings.AllowRequestsBeyondStock,
		LowStockThreshold:        settings.LowStockThreshold,
		ExpiringWindowDays:       settings.ExpiringWindowDays,
	})
}

// PutConfig handles PUT /api/config.
func (h *Handler) PutConfig(w http.ResponseWriter, r *http.Request) {
	var dto SettingsDTO
	if !h.decode(w, r, &dto) {
		return
	}
	if dto.LowStockThreshold < 0 || dto.ExpiringWindowDays < 0 {
		h.writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   "invalid request",
			Details: "thresholds must be non-negative",
		})
		return
	}
	settings := engine.Settings{
		AllowRequestsBeyondStock: dto.AllowRequestsBeyondStock,
		LowStockThreshold:        dto.LowStockThreshold,
		ExpiringWindowDays:       dto.ExpiringWindowDays,
	}
	if err := h.store.SaveSettings(r.Context(), settings); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, dto)
}

// =============================================================================
// HELPERS
// =============================================================================

func toMovementRef(g *engine.GeneratedMovement) *MovementRefDTO {
	if g == nil {
		return nil
	}
	return &MovementRefDTO{
		ID:    string(g.ID),
		Serie: g.Series,
		Folio: g.Folio,
		Total: g.Total.StringFixed(2),
	}
}

// decode unmarshals and validates the request body, writing the 400
// itself on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   "invalid request",
			Details: "malformed JSON body",
		})
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		h.writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   "invalid request",
			Details: err.Error(),
		})
		return false
	}
	return true
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.WithError(err).Error("encode response")
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var reversal *engine.StockReversalError
	if errors.As(err, &reversal) {
		h.writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:      "deletion refused",
			Details:    reversal.Error(),
			Shortfalls: reversal.Shortfalls,
		})
		return
	}

	switch {
	case engine.IsNotFound(err):
		h.writeJSON(w, http.StatusNotFound, ErrorResponse{Error: err.Error()})
	case engine.IsConflict(err):
		h.writeJSON(w, http.StatusConflict, ErrorResponse{Error: err.Error()})
	case engine.IsClientError(err):
		h.writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
	default:
		h.log.WithError(err).WithField("path", r.URL.Path).Error("request failed")
		h.writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
	}
}
