/*
server.go - HTTP router setup

PURPOSE:
  Wires the handlers into a chi router with the standard middleware stack
  and CORS for the front office.

ROUTES:
  POST   /api/solicitudes                - allocate a withdrawal request
  GET    /api/solicitudes/grupo/{id}     - all sub-orders of one request
  POST   /api/entradas                   - register a stock receipt
  GET    /api/movimientos                - list by direction
  GET    /api/movimientos/{id}           - one movement with lines
  DELETE /api/movimientos/{id}           - delete and reverse a movement
  GET    /api/productos                  - catalog with derived statuses
  GET    /api/productos/{id}             - one product
  GET    /api/config                     - global switches
  PUT    /api/config                     - update global switches

SEE ALSO:
  - handlers.go: The handler implementations
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter builds the full route tree. allowedOrigins feeds CORS; an
// empty slice means same-origin only.
func NewRouter(h *Handler, allowedOrigins []string) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	if len(allowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   allowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Content-Type", requesterHeader},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	r.Route("/api", func(r chi.Router) {
		r.Post("/solicitudes", h.CreateSolicitud)
		r.Get("/solicitudes/grupo/{originID}", h.GetGrupo)

		r.Post("/entradas", h.CreateEntrada)

		r.Get("/movimientos", h.ListMovimientos)
		r.Get("/movimientos/{id}", h.GetMovimiento)
		r.Delete("/movimientos/{id}", h.DeleteMovimiento)

		r.Get("/productos", h.ListProductos)
		r.Get("/productos/{id}", h.GetProducto)

		r.Get("/config", h.GetConfig)
		r.Put("/config", h.PutConfig)
	})

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	return r
}
