// Package health exposes the liveness probe. It reports service identity and
// never touches the decision path or its dependencies.
package health

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"accord/pkg/platform/httputil"
)

// Handler serves the liveness endpoint.
type Handler struct {
	service string
	version string
}

func New(service, version string) *Handler {
	return &Handler{service: service, version: version}
}

// Register mounts the probe on the router.
func (h *Handler) Register(r chi.Router) {
	r.Get("/healthz", h.HandleHealthz)
}

// HandleHealthz handles GET /healthz.
func (h *Handler) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{
		"service": h.service,
		"version": h.version,
		"status":  "ok",
	})
}
