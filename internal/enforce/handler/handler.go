// Package handler exposes the resource authorization endpoint.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"accord/internal/decision"
	"accord/internal/enforce"
	dErrors "accord/pkg/domain-errors"
	"accord/pkg/platform/httputil"
	"accord/pkg/requestcontext"
)

// Service defines the enforcement operations the handler needs.
type Service interface {
	Authorize(ctx context.Context, token, resourceID, action string) (*enforce.Result, error)
}

// Handler wires the enforcement endpoint.
type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts enforcement endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/v1/resources/authorize", h.HandleAuthorize)
}

// AuthorizeRequest is the body of POST /v1/resources/authorize.
type AuthorizeRequest struct {
	ResourceID string `json:"resource_id"`
	Action     string `json:"action"`
}

func (req *AuthorizeRequest) Validate() error {
	req.ResourceID = strings.TrimSpace(req.ResourceID)
	req.Action = strings.TrimSpace(req.Action)
	if req.ResourceID == "" {
		return dErrors.New(dErrors.CodeValidation, "resource_id is required")
	}
	if req.Action == "" {
		return dErrors.New(dErrors.CodeValidation, "action is required")
	}
	return nil
}

// AuthorizeResponse wraps the decision with its audit record identity so
// callers can correlate with the trail.
type AuthorizeResponse struct {
	Decision     *decision.Decision `json:"decision"`
	AuditEventID string             `json:"audit_event_id"`
}

// HandleAuthorize handles POST /v1/resources/authorize.
//
// An allow returns 200 and a policy denial 403, both carrying the full
// decision. 401 means the token itself was rejected and 503 a dependency
// outage; the body is still a deny decision so callers always see the same
// shape.
func (h *Handler) HandleAuthorize(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	token, ok := bearerToken(r)
	if !ok {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "missing bearer token"))
		return
	}

	req, ok := httputil.DecodeAndPrepare[AuthorizeRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}

	result, err := h.service.Authorize(ctx, token, req.ResourceID, req.Action)
	if err != nil {
		h.logger.WarnContext(ctx, "authorization failed",
			"request_id", requestcontext.RequestID(ctx),
			"resource_id", req.ResourceID,
			"error", err.Error(),
		)
		if result == nil || result.Decision == nil {
			httputil.WriteError(w, err)
			return
		}
		httputil.WriteJSON(w, httputil.StatusFor(err), AuthorizeResponse{
			Decision:     result.Decision,
			AuditEventID: result.AuditEventID.String(),
		})
		return
	}

	status := http.StatusOK
	if !result.Decision.Allow {
		status = http.StatusForbidden
	}
	httputil.WriteJSON(w, status, AuthorizeResponse{
		Decision:     result.Decision,
		AuditEventID: result.AuditEventID.String(),
	})
}

func bearerToken(r *http.Request) (string, bool) {
	raw := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(raw) <= len(prefix) || !strings.EqualFold(raw[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(raw[len(prefix):]), true
}
