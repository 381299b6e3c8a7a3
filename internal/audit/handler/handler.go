// Package handler exposes the audit query surface consumed by external
// violation monitoring. Read-only; writes happen through the audit service.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"accord/internal/audit"
	dErrors "accord/pkg/domain-errors"
	"accord/pkg/platform/httputil"
	"accord/pkg/requestcontext"
)

// Service defines the audit operations the handler needs.
type Service interface {
	Query(ctx context.Context, filter audit.Filter) ([]audit.Event, error)
}

// Handler wires the audit query endpoint.
type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts audit endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Get("/v1/audit/events", h.HandleQuery)
}

// HandleQuery handles GET /v1/audit/events with optional subject, resource,
// outcome, event_type, from, to (RFC 3339) and limit query parameters.
func (h *Handler) HandleQuery(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	filter := audit.Filter{
		SubjectID:  r.URL.Query().Get("subject"),
		ResourceID: r.URL.Query().Get("resource"),
		Decision:   r.URL.Query().Get("outcome"),
		EventType:  audit.EventType(r.URL.Query().Get("event_type")),
	}

	if raw := r.URL.Query().Get("from"); raw != "" {
		from, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "from must be RFC 3339"))
			return
		}
		filter.From = from
	}
	if raw := r.URL.Query().Get("to"); raw != "" {
		to, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "to must be RFC 3339"))
			return
		}
		filter.To = to
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "limit must be a positive integer"))
			return
		}
		filter.Limit = limit
	}

	events, err := h.service.Query(ctx, filter)
	if err != nil {
		h.logger.ErrorContext(ctx, "audit query failed",
			"request_id", requestcontext.RequestID(ctx),
			"error", err.Error(),
		)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"events": events,
		"count":  len(events),
	})
}
