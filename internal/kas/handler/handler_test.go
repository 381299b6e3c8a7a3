package handler

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"accord/internal/decision"
	"accord/internal/kas"
	dErrors "accord/pkg/domain-errors"
)

type stubService struct {
	resp *kas.Response
	err  error
	got  kas.Request
}

func (s *stubService) RequestKey(_ context.Context, req kas.Request) (*kas.Response, error) {
	s.got = req
	return s.resp, s.err
}

func newRouter(svc *stubService) http.Handler {
	r := chi.NewRouter()
	h := New(svc, slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))
	h.Register(r)
	return r
}

func rewrapRequest(body, token string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/v1/kas/rewrap", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func validBody() string {
	wrapped := base64.StdEncoding.EncodeToString([]byte("wrapped key material bytes here"))
	return fmt.Sprintf(`{"resource_id":"doc-1","kao_id":"kao-1","wrapped_key":%q}`, wrapped)
}

func TestHandleRewrap_ReleasesKey(t *testing.T) {
	eventID := uuid.New()
	svc := &stubService{resp: &kas.Response{
		Success:      true,
		UnwrappedKey: []byte("the content key"),
		Decision: decision.Allowed(decision.Evaluation{
			Clearance:     decision.CheckPass,
			Releasability: decision.CheckPass,
			COI:           decision.CheckPass,
			AuthStrength:  decision.CheckPass,
		}),
		AuditEventID:    eventID,
		ExecutionTimeMs: 7,
	}}
	router := newRouter(svc)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, rewrapRequest(validBody(), "tok-abc"))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "tok-abc", svc.got.Token)
	assert.Equal(t, "doc-1", svc.got.ResourceID)
	assert.Equal(t, "kao-1", svc.got.KAOID)
	assert.Equal(t, []byte("wrapped key material bytes here"), svc.got.WrappedKey)

	var resp kas.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, []byte("the content key"), resp.UnwrappedKey)
	assert.Equal(t, eventID, resp.AuditEventID)
}

func TestHandleRewrap_DenialIsForbidden(t *testing.T) {
	svc := &stubService{resp: &kas.Response{
		Success:      false,
		DenialReason: decision.ReasonNotReleasable,
		Decision: decision.Deny(decision.ReasonNotReleasable, decision.Evaluation{
			Clearance:     decision.CheckPass,
			Releasability: decision.CheckFail,
			COI:           decision.CheckSkipped,
			AuthStrength:  decision.CheckSkipped,
		}),
	}}
	router := newRouter(svc)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, rewrapRequest(validBody(), "tok"))

	require.Equal(t, http.StatusForbidden, rec.Code)
	var resp kas.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	assert.Empty(t, resp.UnwrappedKey)
	assert.Equal(t, decision.ReasonNotReleasable, resp.DenialReason)
}

func TestHandleRewrap_MissingBearerToken(t *testing.T) {
	svc := &stubService{}
	router := newRouter(svc)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, rewrapRequest(validBody(), ""))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, svc.got.ResourceID, "service must not be consulted without a token")
}

func TestHandleRewrap_ValidationFailures(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing resource_id", `{"kao_id":"kao-1","wrapped_key":"AAAA"}`},
		{"missing kao_id", `{"resource_id":"doc-1","wrapped_key":"AAAA"}`},
		{"missing wrapped_key", `{"resource_id":"doc-1","kao_id":"kao-1"}`},
		{"invalid base64", `{"resource_id":"doc-1","kao_id":"kao-1","wrapped_key":"!!!"}`},
		{"malformed json", `{`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			router := newRouter(&stubService{})
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, rewrapRequest(tc.body, "tok"))
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestHandleRewrap_ServiceErrorsMapToStatus(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{
			"token rejected",
			dErrors.New(dErrors.CodeUnauthorized, "invalid token"),
			http.StatusUnauthorized,
		},
		{
			"dependency outage",
			dErrors.New(dErrors.CodeUnavailable, "policy evaluation unavailable"),
			http.StatusServiceUnavailable,
		},
		{
			"rejected key material",
			dErrors.New(dErrors.CodeBadRequest, "wrapped key failed authentication"),
			http.StatusBadRequest,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			svc := &stubService{
				resp: &kas.Response{Success: false, DenialReason: decision.ReasonUnauthenticated},
				err:  tc.err,
			}
			router := newRouter(svc)
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, rewrapRequest(validBody(), "tok"))
			assert.Equal(t, tc.status, rec.Code)

			var resp kas.Response
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.False(t, resp.Success)
			assert.Empty(t, resp.UnwrappedKey)
		})
	}
}
