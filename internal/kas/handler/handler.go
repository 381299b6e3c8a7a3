// Package handler exposes the key release endpoint.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"accord/internal/kas"
	dErrors "accord/pkg/domain-errors"
	"accord/pkg/platform/httputil"
	"accord/pkg/requestcontext"
)

// Service defines the broker operations the handler needs.
type Service interface {
	RequestKey(ctx context.Context, req kas.Request) (*kas.Response, error)
}

// Handler wires the key release endpoint.
type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts broker endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/v1/kas/rewrap", h.HandleRewrap)
}

// RewrapRequest is the body of POST /v1/kas/rewrap. WrappedKey is base64 on
// the wire per encoding/json []byte handling.
type RewrapRequest struct {
	ResourceID string `json:"resource_id"`
	KAOID      string `json:"kao_id"`
	WrappedKey []byte `json:"wrapped_key"`
}

func (req *RewrapRequest) Validate() error {
	req.ResourceID = strings.TrimSpace(req.ResourceID)
	req.KAOID = strings.TrimSpace(req.KAOID)
	if req.ResourceID == "" {
		return dErrors.New(dErrors.CodeValidation, "resource_id is required")
	}
	if req.KAOID == "" {
		return dErrors.New(dErrors.CodeValidation, "kao_id is required")
	}
	if len(req.WrappedKey) == 0 {
		return dErrors.New(dErrors.CodeValidation, "wrapped_key is required")
	}
	return nil
}

// HandleRewrap handles POST /v1/kas/rewrap.
//
// Allow returns 200 with the unwrapped key; a policy denial returns 403 with
// the full decision and no key material. 401 means the token was rejected,
// 503 a dependency outage, 400 malformed input or rejected key material.
func (h *Handler) HandleRewrap(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	token, ok := bearerToken(r)
	if !ok {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "missing bearer token"))
		return
	}

	req, ok := httputil.DecodeAndPrepare[RewrapRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}

	resp, err := h.service.RequestKey(ctx, kas.Request{
		Token:      token,
		ResourceID: req.ResourceID,
		KAOID:      req.KAOID,
		WrappedKey: req.WrappedKey,
	})
	if err != nil {
		h.logger.WarnContext(ctx, "key release failed",
			"request_id", requestcontext.RequestID(ctx),
			"resource_id", req.ResourceID,
			"kao_id", req.KAOID,
			"error", err.Error(),
		)
		if resp == nil {
			httputil.WriteError(w, err)
			return
		}
		httputil.WriteJSON(w, httputil.StatusFor(err), resp)
		return
	}

	status := http.StatusOK
	if !resp.Success {
		status = http.StatusForbidden
	}
	httputil.WriteJSON(w, status, resp)
}

func bearerToken(r *http.Request) (string, bool) {
	raw := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(raw) <= len(prefix) || !strings.EqualFold(raw[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(raw[len(prefix):]), true
}
